package cli

import (
	"io"

	"github.com/spf13/cobra"

	"github.com/airheartdev/docsync"
	"github.com/airheartdev/docsync/internal/config"
)

// InfoOptions holds flags for the info command.
type InfoOptions struct {
	*RootOptions
	Name  string
	Token string
}

// NewInfoCommand creates the info command.
func NewInfoCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InfoOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:           "info <locator>",
		Short:         "Print the metadata of a database",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInfo(cmd, opts, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.Name, "name", "", "database name inside a bolt file")
	cmd.Flags().StringVar(&opts.Token, "token", "", "bearer token for a remote database")

	return cmd
}

func runInfo(cmd *cobra.Command, opts *InfoOptions, locator string) error {
	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}
	logger := newLogger(opts.RootOptions, cmd.ErrOrStderr())

	endpoints := newStores(cfg, docsync.GoExecutor{}, logger)
	defer endpoints.Close()

	ep, err := endpoints.open(config.Endpoint{URL: locator, Name: opts.Name, Token: opts.Token})
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid locator", err)
	}

	info, err := ep.Info().Wait(cmd.Context())
	if err != nil {
		return WrapExitError(ExitFailure, "info failed", err)
	}

	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	return formatter.Print(info, func(w io.Writer) { WriteInfo(w, info) })
}
