package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"whispers/pkg/domain"
)

const shutdownTimeout = 15 * time.Second

func serveCmd(flags *globalFlags) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve health, metrics and read-only event endpoints",
		Args:  cobra.NoArgs,
		RunE: withApp(flags, func(cmd *cobra.Command, a *app, _ []string) error {
			if addr == "" {
				addr = a.cfg.MetricsAddr
			}
			srv := &http.Server{
				Addr:              addr,
				Handler:           newRouter(a),
				ReadHeaderTimeout: 5 * time.Second,
			}
			return serve(cmd.Context(), srv, a.log)
		}),
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to metrics_addr)")
	return cmd
}

func serve(ctx context.Context, srv *http.Server, log zerolog.Logger) error {
	errc := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("server starting")
		errc <- srv.ListenAndServe()
	}()
	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		log.Info().Msg("shutdown started")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			_ = srv.Close()
			return err
		}
		return nil
	}
}

func newRouter(a *app) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(30 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		respond(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", func(w http.ResponseWriter, req *http.Request) {
		if _, err := a.service.ListEvents(req.Context()); err != nil {
			respond(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
		respond(w, http.StatusOK, map[string]string{"status": "ready"})
	})
	r.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))

	r.Route("/events", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, req *http.Request) {
			events, err := a.service.ListEvents(req.Context())
			if err != nil {
				respondError(w, err)
				return
			}
			respond(w, http.StatusOK, events)
		})
		r.Get("/{id}", func(w http.ResponseWriter, req *http.Request) {
			id, err := parseID(chi.URLParam(req, "id"))
			if err != nil {
				respond(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
				return
			}
			graph, err := a.service.GetEvent(req.Context(), id)
			if err != nil {
				respondError(w, err)
				return
			}
			respond(w, http.StatusOK, graph)
		})
	})
	r.Get("/invariants", func(w http.ResponseWriter, req *http.Request) {
		violations, err := a.service.CheckInvariants(req.Context())
		if err != nil {
			respondError(w, err)
			return
		}
		respond(w, http.StatusOK, violations)
	})
	return r
}

func respond(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func respondError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var cfgErr domain.ConfigurationError
	switch {
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.As(err, &cfgErr):
		status = http.StatusServiceUnavailable
	}
	respond(w, status, map[string]string{"error": err.Error()})
}
