// Package server is the HTTP trigger layer: job submission with the
// duplicate-submission guard, status lookup, and the callback entry point.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/catalogd/tabload/internal/catalog"
	"github.com/catalogd/tabload/internal/jobstore"
	"github.com/catalogd/tabload/internal/pipeline"
)

// Store is the slice of the job store the trigger layer needs.
type Store interface {
	CreatePending(ctx context.Context, jobID, jobType, apiKey, sentData, resultURL string, metadata []jobstore.Metadata) error
	Get(ctx context.Context, jobID string) (*jobstore.Job, error)
	List(ctx context.Context, limit int) ([]jobstore.Job, error)
	LatestForResource(ctx context.Context, resourceID string) (*jobstore.Job, error)
	AppendLog(ctx context.Context, jobID string, entry jobstore.LogEntry) error
}

// Catalog is consulted to verify a resource exists before accepting a job.
type Catalog interface {
	ResourceShow(ctx context.Context, id string) (*catalog.Resource, error)
	Credential() string
}

// Options tunes the trigger layer.
type Options struct {
	// StillbornThreshold is the age after which a pending job absent from
	// the queue is considered abandoned.
	StillbornThreshold time.Duration
	// StaleThreshold is the age after which any pending job is considered
	// abandoned, queued or not.
	StaleThreshold time.Duration
	// CallbackURL is handed to workers for state delivery.
	CallbackURL string
	ListLimit   int
}

// Server routes trigger-layer requests.
type Server struct {
	mux     *http.ServeMux
	store   Store
	catalog Catalog
	queue   *pipeline.Queue
	opts    Options
	log     *slog.Logger
}

func New(store Store, cat Catalog, queue *pipeline.Queue, opts Options, log *slog.Logger) *Server {
	if opts.StillbornThreshold <= 0 {
		opts.StillbornThreshold = 5 * time.Minute
	}
	if opts.StaleThreshold <= 0 {
		opts.StaleThreshold = 2 * time.Hour
	}
	if opts.ListLimit <= 0 {
		opts.ListLimit = 50
	}
	s := &Server{
		mux:     http.NewServeMux(),
		store:   store,
		catalog: cat,
		queue:   queue,
		opts:    opts,
		log:     log,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("POST /job", s.handleSubmit)
	s.mux.HandleFunc("GET /job", s.handleList)
	s.mux.HandleFunc("GET /job/{id}", s.handleJob)
	s.mux.HandleFunc("GET /resource/{id}", s.handleResourceStatus)
	s.mux.HandleFunc("POST /hook", s.handleHook)
	s.mux.HandleFunc("GET /health", s.handleHealth)
}

// Handler returns the full middleware-wrapped handler.
func (s *Server) Handler() http.Handler {
	return s.recoveryMiddleware(s.loggingMiddleware(s.mux))
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, port string) error {
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", port),
		Handler: s.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("trigger server listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.log.Info("shutting down trigger server")
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Info("request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}

func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.log.Error("panic recovered", "panic", rec, "path", r.URL.Path)
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
