package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/airheartdev/docsync/history"
)

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions
	Path  string
	Limit int
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:           "history",
		Short:         "List recorded replication passes, newest first",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Path, "history", "", "SQLite file holding the passes (default from config)")
	cmd.Flags().IntVarP(&opts.Limit, "limit", "n", 20, "maximum passes to list, 0 for all")

	return cmd
}

func runHistory(cmd *cobra.Command, opts *HistoryOptions) error {
	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}
	path := cfg.History
	if opts.Path != "" {
		path = opts.Path
	}
	if path == "" {
		return &ExitError{Code: ExitCommandError, Message: "no history file configured"}
	}

	log, err := history.Open(path)
	if err != nil {
		return WrapExitError(ExitFailure, "open history", err)
	}
	defer log.Close()

	entries, err := log.List(cmd.Context(), opts.Limit)
	if err != nil {
		return WrapExitError(ExitFailure, "list history", err)
	}

	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	return formatter.Print(entries, func(w io.Writer) { WriteHistory(w, entries) })
}

// WriteHistory renders one line per pass.
func WriteHistory(w io.Writer, entries []history.Entry) {
	for _, e := range entries {
		status := "ok"
		if e.Error != "" {
			status = "failed: " + e.Error
		}
		fmt.Fprintf(w, "%s  %s -> %s  read=%d missing=%d written=%d  %s\n",
			e.StartedAt.UTC().Format("2006-01-02T15:04:05Z"), e.Source, e.Target,
			e.DocsRead, e.MissingRevs, e.DocsWritten, status)
	}
}
