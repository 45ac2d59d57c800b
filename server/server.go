// Package server exposes the caries detector over HTTP.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	"github.com/nvr-ai/dentalogic/config"
	"github.com/nvr-ai/dentalogic/history"
	"github.com/nvr-ai/dentalogic/inference/detectors"
	"github.com/nvr-ai/dentalogic/profiler"
)

// ServiceName is reported by GET /.
const ServiceName = "Dentalogic8 API Server"

// ModelSource hands out the predictor, loading it on first use.
type ModelSource interface {
	Get(ctx context.Context) (detectors.Predictor, error)
	Loaded() bool
}

// Options configures a Server.
type Options struct {
	Server     config.ServerConfig
	Annotation config.AnnotationConfig
	// ModelPath is reported by /health when the file exists.
	ModelPath string
}

// Server is the HTTP API.
type Server struct {
	opts     Options
	models   ModelSource
	history  *history.Store
	profiler *profiler.Profiler
	logger   *slog.Logger
	router   *mux.Router
}

// New wires the routes of the API.
//
// Arguments:
//   - opts: Listener, upload and annotation settings.
//   - models: Source of the predictor.
//   - store: Scan history; nil creates a default one.
//   - prof: Request timings for /metrics, may be nil.
//   - logger: Request and error log, may be nil.
//
// Returns:
//   - *Server: The server. Handler exposes it for tests; ListenAndServe runs it.
func New(opts Options, models ModelSource, store *history.Store, prof *profiler.Profiler, logger *slog.Logger) *Server {
	if store == nil {
		store = history.NewStore(0)
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if opts.Server.MaxUploadBytes <= 0 {
		opts.Server.MaxUploadBytes = config.Default().Server.MaxUploadBytes
	}
	if opts.Server.MaxImagePixels <= 0 {
		opts.Server.MaxImagePixels = config.Default().Server.MaxImagePixels
	}

	s := &Server{
		opts:     opts,
		models:   models,
		history:  store,
		profiler: prof,
		logger:   logger,
		router:   mux.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router
	r.HandleFunc("/", s.handleRoot).Methods(http.MethodGet)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/predict", s.handlePredict).Methods(http.MethodPost)
	r.HandleFunc("/history", s.handleHistoryList).Methods(http.MethodGet)
	r.HandleFunc("/history/{id}", s.handleHistoryGet).Methods(http.MethodGet)
	r.HandleFunc("/history/{id}", s.handleHistoryDelete).Methods(http.MethodDelete)
	r.HandleFunc("/metrics", s.handleMetrics).Methods(http.MethodGet)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "Not Found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "Method Not Allowed")
	})
}

// Handler returns the router wrapped in CORS, logging and recovery.
// CORS sits outside the router so preflight requests never hit method
// matching.
func (s *Server) Handler() http.Handler {
	return s.cors(s.logRequests(s.recoverPanics(s.router)))
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.opts.Server.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  s.opts.Server.ReadTimeout,
		WriteTimeout: s.opts.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrap(err, "http server")
	case <-ctx.Done():
	}

	timeout := s.opts.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	s.logger.Info("shutting down", "timeout", timeout)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "shutdown")
	}
	return nil
}
