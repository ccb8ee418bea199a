package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"algo-status-ingest/internal/config"
	"algo-status-ingest/internal/storage"
)

// Store is the slice of the storage layer the read API depends on.
// The API never writes.
type Store interface {
	ListRecords(ctx context.Context, owner string, start, end time.Time, instrument *string) ([]storage.StatusRecord, error)
	RecordHistory(ctx context.Context, batchID string) ([]storage.StatusRecord, error)
	LastSuccessfulIngest(ctx context.Context) (*storage.LedgerEntry, error)
	Ping(ctx context.Context) error
}

// Server serves the read API over the ingested history.
type Server struct {
	store  Store
	cfg    config.APIConfig
	logger zerolog.Logger
	router chi.Router
}

// NewServer constructs the API server and its routes.
func NewServer(store Store, cfg config.APIConfig, logger zerolog.Logger) *Server {
	s := &Server{
		store:  store,
		cfg:    cfg,
		logger: logger.With().Str("component", "api").Logger(),
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/health", s.handleHealth)
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/records", s.handleListRecords)
		r.Get("/records/{batchID}", s.handleRecordDetail)
	})

	s.router = r
	return s
}

// Handler exposes the routed handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:         s.cfg.Listen,
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("listen", s.cfg.Listen).Msg("read API listening")
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	s.logger.Info().Msg("shutting down read API")
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("elapsed", time.Since(started)).
			Msg("request served")
	})
}
