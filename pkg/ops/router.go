// Package ops serves the operational HTTP surface of every binary: probes,
// Prometheus metrics and, where wired, dead-letter administration.
package ops

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/boardfeed-backend/pkg/logger"
)

const shutdownTimeout = 10 * time.Second

type RouterParams struct {
	Env          string
	Logger       *logger.Logger
	Dependencies map[string]Pinger
	Gatherer     prometheus.Gatherer
	DeadLetters  DeadLetterAdmin
}

func NewRouter(p RouterParams) (http.Handler, error) {
	if p.Logger == nil {
		return nil, errors.New("logger is required")
	}
	gatherer := p.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	r := chi.NewRouter()
	r.Use(
		recoverer(p.Logger),
		requestID(p.Logger),
		logging(p.Logger),
	)
	r.Get("/healthz", healthLive(p.Env))
	r.Get("/readyz", healthReady(p.Env, p.Logger, p.Dependencies))
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	if p.DeadLetters != nil {
		r.Route("/admin/dlq", func(r chi.Router) {
			r.Get("/", listDeadLetters(p.DeadLetters, p.Logger))
			r.Post("/{id}/reprocess", reprocessDeadLetter(p.DeadLetters, p.Logger))
		})
	}
	return r, nil
}

// Server runs the ops router until its context ends.
type Server struct {
	srv  *http.Server
	logg *logger.Logger
}

func NewServer(addr string, handler http.Handler, logg *logger.Logger) *Server {
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logg: logg,
	}
}

func (s *Server) String() string { return "ops-server" }

// Serve listens until ctx is canceled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logg.Info(s.logg.WithField(ctx, "addr", s.srv.Addr), "ops server listening")
		errCh <- s.srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("ops server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("ops server shutdown: %w", err)
		}
		return ctx.Err()
	}
}
