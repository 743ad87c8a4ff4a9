// Package adminserver exposes the operational HTTP surface every
// *loop command binds alongside its worker: /healthz (liveness plus a
// named check per dependency) and /metrics (Prometheus). Generalized
// from the teacher's pkg/api.HealthServer, rebuilt on go-chi/chi so the
// mux composes with go-chi/cors the way the rest of the pack's HTTP
// servers do.
package adminserver

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/iati-pipeline/core/pkg/metrics"
)

// Check is one named dependency ping, run with a bounded timeout on
// every /healthz request.
type Check struct {
	Name string
	Run  func(ctx context.Context) error
}

type Server struct {
	mux    *chi.Mux
	checks []Check
}

func New(checks []Check) *Server {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedMethods: []string{http.MethodGet},
	}))

	s := &Server{mux: r, checks: checks}
	r.Get("/healthz", s.healthz)
	r.Handle("/metrics", metrics.Handler())
	return s
}

// Start blocks serving addr until the context is canceled or the
// server fails, mirroring the teacher's HealthServer.Start shape.
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]string, len(s.checks))
	healthy := true
	for _, c := range s.checks {
		if err := c.Run(ctx); err != nil {
			checks[c.Name] = err.Error()
			healthy = false
			continue
		}
		checks[c.Name] = "ok"
	}

	status := http.StatusOK
	resp := healthResponse{Status: "healthy", Checks: checks}
	if !healthy {
		status = http.StatusServiceUnavailable
		resp.Status = "unhealthy"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
