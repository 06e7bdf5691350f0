package cli

import (
	"io"

	"github.com/spf13/cobra"

	"github.com/airheartdev/docsync"
	"github.com/airheartdev/docsync/history"
)

// ReplicateOptions holds flags for the replicate command.
type ReplicateOptions struct {
	*RootOptions
	NoBulk    bool
	BatchSize int
	History   string
	Name      string
}

// NewReplicateCommand creates the replicate command.
func NewReplicateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplicateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replicate [source] [target]",
		Short: "Push missing revisions from source to target",
		Long: `Run one replication pass. Locators given as arguments override the
configured source and target. A locator is an http(s) database URL,
mem:<name>, or the path of a bolt file.`,
		Args:          cobra.MaximumNArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplicate(cmd, opts, args)
		},
	}

	cmd.Flags().BoolVar(&opts.NoBulk, "no-bulk", false, "write documents one at a time")
	cmd.Flags().IntVar(&opts.BatchSize, "batch-size", 0, "documents per bulk write (default from config)")
	cmd.Flags().StringVar(&opts.History, "history", "", "record the pass in this SQLite file")

	return cmd
}

func runReplicate(cmd *cobra.Command, opts *ReplicateOptions, args []string) error {
	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}
	if len(args) > 0 {
		cfg.Source.URL = args[0]
	}
	if len(args) > 1 {
		cfg.Target.URL = args[1]
	}
	if opts.NoBulk {
		cfg.Replication.Bulk = false
	}
	if opts.BatchSize > 0 {
		cfg.Replication.BatchSize = opts.BatchSize
	}
	if opts.History != "" {
		cfg.History = opts.History
	}

	logger := newLogger(opts.RootOptions, cmd.ErrOrStderr())
	pool := docsync.NewPool(cfg.Replication.Concurrency)

	endpoints := newStores(cfg, pool, logger)
	defer endpoints.Close()

	source, err := endpoints.open(cfg.Source)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid source", err)
	}
	target, err := endpoints.open(cfg.Target)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid target", err)
	}

	replOpts := []docsync.Option{
		docsync.WithLogger(logger),
		docsync.WithExecutor(pool),
		docsync.WithBatchSize(cfg.Replication.BatchSize),
	}
	if !cfg.Replication.Bulk {
		replOpts = append(replOpts, docsync.WithoutBulk())
	}

	report, passErr := docsync.Replicate(source, target, replOpts...).Wait(cmd.Context())
	if report.Source == "" {
		report.Source, report.Target = source.ID(), target.ID()
	}

	if cfg.History != "" {
		log, err := history.Open(cfg.History)
		if err != nil {
			return WrapExitError(ExitFailure, "open history", err)
		}
		defer log.Close()
		if _, err := log.Record(cmd.Context(), report, passErr); err != nil {
			logger.Warn("pass not recorded", "history", cfg.History, "error", err)
		}
	}

	if passErr != nil {
		return WrapExitError(ExitFailure, "replication failed", passErr)
	}

	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	return formatter.Print(report, func(w io.Writer) { WriteReport(w, report) })
}
