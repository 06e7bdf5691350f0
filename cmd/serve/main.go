// Command serve runs the replication server alone, configured from a YAML
// file and a few flags.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/airheartdev/docsync/internal/cli"
	"github.com/airheartdev/docsync/internal/config"
)

func main() {
	var (
		configPath = flag.String("config", "docsync.yaml", "configuration file")
		addr       = flag.String("addr", "", "listen address")
		data       = flag.String("data", "", "bolt file holding the databases")
	)
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(cli.ExitCommandError)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if *data != "" {
		cfg.Server.Data = *data
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cli.RunServer(ctx, cfg, logger); err != nil {
		logger.Error("server stopped", "error", err)
		stop()
		os.Exit(cli.GetExitCode(err))
	}
}
