// Package server exposes the databases of a catalog over the replication
// wire protocol, so that a couch.Client elsewhere can replicate with them.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/airheartdev/docsync"
	"github.com/airheartdev/docsync/couch"
)

const (
	applicationJSON     = "application/json"
	authorizationHeader = "Authorization"
)

type (
	Server struct {
		catalog docsync.Catalog
		options *Options
		router  chi.Router
	}

	Options struct {
		authFn      AuthFn
		logger      *slog.Logger
		notify      func(db string)
		corsOrigins []string
	}

	// AuthFn decides whether a bearer token may use the server.
	AuthFn func(ctx context.Context, token string) bool

	Option func(o *Options)
)

// WithAuth requires every request to carry a token accepted by fn.
func WithAuth(fn AuthFn) Option {
	return func(o *Options) {
		o.authFn = fn
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *Options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithNotifier calls fn with the database name after every accepted write.
func WithNotifier(fn func(db string)) Option {
	return func(o *Options) {
		o.notify = fn
	}
}

// WithCORS allows browsers from origins to call the server.
func WithCORS(origins ...string) Option {
	return func(o *Options) {
		o.corsOrigins = origins
	}
}

func New(catalog docsync.Catalog, options ...Option) *Server {
	opts := &Options{
		logger: slog.Default(),
		notify: func(string) {},
	}
	for _, option := range options {
		option(opts)
	}

	s := &Server{catalog: catalog, options: opts}
	s.router = s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() chi.Router {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	if len(s.options.corsOrigins) > 0 {
		router.Use(cors.Handler(cors.Options{
			AllowedOrigins:   s.options.corsOrigins,
			AllowedMethods:   []string{"GET", "HEAD", "PUT", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", couch.RequestIDHeader},
			ExposedHeaders:   []string{"Link"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}
	router.Use(s.validateRequest)

	router.Get("/_all_dbs", s.handleAllDbs)
	router.Route("/{db}", func(r chi.Router) {
		r.Head("/", s.handleExists)
		r.Get("/", s.handleInfo)
		r.Put("/", s.handleCreate)
		r.Post("/", s.handlePost)
		r.Post("/_ensure_full_commit", s.handleEnsureFullCommit)
		r.Get("/_all_docs", s.handleAllDocs)
		r.Post("/_bulk_docs", s.handleBulkDocs)
		r.Post("/_revs_diff", s.handleRevsDiff)
		r.Get("/{id}", s.handleGet)
		r.Put("/{id}", s.handlePut)
	})
	return router
}

func (s *Server) validateRequest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost || (r.Method == http.MethodPut && r.ContentLength > 0) {
			if ct := r.Header.Get("Content-Type"); !strings.HasPrefix(ct, applicationJSON) {
				writeError(w, docsync.ProtocolError(http.StatusBadRequest, "content type must be application/json"))
				return
			}
		}

		if s.options.authFn != nil {
			RequireAuth(s.options.authFn)(next).ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAuth rejects requests whose bearer token fn does not accept. It
// guards routes mounted beside the server with the same credentials.
func RequireAuth(fn AuthFn) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := strings.TrimPrefix(r.Header.Get(authorizationHeader), "Bearer ")
			if !fn(r.Context(), token) {
				writeError(w, docsync.ProtocolError(http.StatusUnauthorized, "invalid credentials"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// endpoint runs store operations on the request goroutine.
func (s *Server) endpoint(r *http.Request) *docsync.Local[docsync.Raw] {
	db := s.catalog.Database(chi.URLParam(r, "db"))
	return docsync.NewLocal(db, docsync.DecodeRaw,
		docsync.WithExecutor(docsync.InlineExecutor{}),
		docsync.WithLogger(s.options.logger),
	)
}
