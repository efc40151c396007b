// Package health serves the liveness and readiness endpoints every
// worker process exposes to its process manager.
package health

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/reporun/reporun/internal/eventlog"
)

// Check is one readiness dependency probe.
type Check struct {
	Name  string
	Probe func(ctx context.Context) error
}

// Server exposes /healthz (liveness) and /readyz (readiness).
type Server struct {
	addr   string
	checks []Check
	logger *slog.Logger
}

// New creates a health server with the given readiness checks.
func New(addr string, logger *slog.Logger, checks ...Check) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{addr: addr, checks: checks, logger: logger.With("component", "health")}
}

// Run serves until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})

	r.Get("/readyz", func(w http.ResponseWriter, req *http.Request) {
		cctx, cancel := context.WithTimeout(req.Context(), 5*time.Second)
		defer cancel()
		for _, c := range s.checks {
			if err := c.Probe(cctx); err != nil {
				s.logger.Warn("readiness check failed", "check", c.Name, "error", err)
				w.WriteHeader(http.StatusServiceUnavailable)
				fmt.Fprintf(w, "%s: %v\n", c.Name, err)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ready")
	})

	srv := &http.Server{Addr: s.addr, Handler: r}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	case err := <-errCh:
		return err
	}
}

// LagCheck builds a readiness check over the stream lag of the given
// groups. Lag at or past warn is logged; at or past unhealthy the check
// fails and the worker reports not ready.
func LagCheck(log eventlog.Log, groups []string, warn, unhealthy int64, logger *slog.Logger) Check {
	if logger == nil {
		logger = slog.Default()
	}
	return Check{
		Name: "stream-lag",
		Probe: func(ctx context.Context) error {
			for _, group := range groups {
				lag, err := log.Lag(ctx, group)
				if err != nil {
					return fmt.Errorf("lag for %s: %w", group, err)
				}
				if lag >= unhealthy {
					return fmt.Errorf("group %s lag %d over threshold %d", group, lag, unhealthy)
				}
				if lag >= warn {
					logger.Warn("stream lag elevated", "group", group, "lag", lag)
				}
			}
			return nil
		},
	}
}
