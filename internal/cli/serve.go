package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/r3labs/sse/v2"
	"github.com/spf13/cobra"

	"github.com/airheartdev/docsync"
	"github.com/airheartdev/docsync/bolt"
	"github.com/airheartdev/docsync/internal/config"
	"github.com/airheartdev/docsync/memory"
	"github.com/airheartdev/docsync/server"
)

const (
	// UpdatesStream is the SSE stream announcing writes, one event per write
	// carrying the database name.
	UpdatesStream = "db_updates"
	UpdatesPath   = "/_db_updates"

	shutdownTimeout = 10 * time.Second
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Addr string
	Data string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve databases over the replication protocol",
		Long: `Serve every database of a store so remote clients can replicate with it.
Databases live in memory unless a bolt file is configured.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts.RootOptions)
			if err != nil {
				return err
			}
			if opts.Addr != "" {
				cfg.Server.Addr = opts.Addr
			}
			if opts.Data != "" {
				cfg.Server.Data = opts.Data
			}
			return RunServer(cmd.Context(), cfg, newLogger(opts.RootOptions, cmd.ErrOrStderr()))
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (default from config)")
	cmd.Flags().StringVar(&opts.Data, "data", "", "bolt file holding the databases")

	return cmd
}

// RunServer serves cfg.Server until ctx is done, then shuts down gracefully.
func RunServer(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	catalog, closeCatalog, err := openCatalog(cfg.Server, cfg.Replication.Timeout)
	if err != nil {
		return WrapExitError(ExitCommandError, "open data", err)
	}
	defer closeCatalog()

	handler, events := NewHandler(cfg.Server, catalog, logger)
	defer events.Close()

	srv := &http.Server{Addr: cfg.Server.Addr, Handler: handler}
	errc := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.Server.Addr, "data", cfg.Server.Data)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return WrapExitError(ExitFailure, "serve", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	logger.Info("shutting down", "addr", cfg.Server.Addr)
	return srv.Shutdown(shutdownCtx)
}

// NewHandler mounts the replication server and the update stream on one router.
func NewHandler(cfg config.Server, catalog docsync.Catalog, logger *slog.Logger) (http.Handler, *sse.Server) {
	events := sse.New()
	events.AutoReplay = false
	events.CreateStream(UpdatesStream)

	opts := []server.Option{
		server.WithLogger(logger),
		server.WithNotifier(func(db string) {
			events.Publish(UpdatesStream, &sse.Event{Data: []byte(db)})
		}),
	}
	var auth server.AuthFn
	if cfg.JWTSecret != "" {
		auth = server.JWTAuth([]byte(cfg.JWTSecret))
		opts = append(opts, server.WithAuth(auth))
	}
	if len(cfg.CORSOrigins) > 0 {
		opts = append(opts, server.WithCORS(cfg.CORSOrigins...))
	}

	router := chi.NewRouter()
	router.Use(middleware.Logger)
	updates := router.With()
	if auth != nil {
		updates = router.With(server.RequireAuth(auth))
	}
	updates.Get(UpdatesPath, func(w http.ResponseWriter, r *http.Request) {
		if len(cfg.CORSOrigins) > 0 {
			w.Header().Add("Access-Control-Allow-Origin", cfg.CORSOrigins[0])
		}
		q := r.URL.Query()
		q.Set("stream", UpdatesStream)
		r.URL.RawQuery = q.Encode()
		events.ServeHTTP(w, r)
	})
	router.Mount("/", server.New(catalog, opts...))

	return router, events
}

func openCatalog(cfg config.Server, timeout time.Duration) (docsync.Catalog, func() error, error) {
	if cfg.Data == "" {
		return memory.NewCatalog(), func() error { return nil }, nil
	}
	store, err := bolt.Open(cfg.Data, bolt.Options{Timeout: timeout})
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", cfg.Data, err)
	}
	return store, store.Close, nil
}
