package main

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/jetdream/webhook-nats-gateway/config"
	"github.com/jetdream/webhook-nats-gateway/health"
	"github.com/jetdream/webhook-nats-gateway/metric"
)

// mounter is satisfied by the webhook router.
type mounter interface {
	Mount(r chi.Router)
}

// newHandler routes health, status and metrics ahead of the webhook prefix.
func newHandler(cfg *config.Config, webhooks mounter, monitor *health.Monitor, registry *metric.MetricsRegistry) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get(cfg.HTTP.HealthPath, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("Ok"))
	})
	r.Handle(cfg.HTTP.HealthPath+"/status", monitor.Handler(appName))

	if cfg.HTTP.MetricsPath != "" {
		r.Handle(cfg.HTTP.MetricsPath, metric.Handler(registry))
	}

	webhooks.Mount(r)
	return r
}

// newHTTPServer leaves WriteTimeout unset: request endpoints hold the
// response open for their own reply timeout.
func newHTTPServer(cfg *config.Config, webhooks mounter, monitor *health.Monitor, registry *metric.MetricsRegistry) *http.Server {
	return &http.Server{
		Addr:              cfg.ListenAddr(),
		Handler:           newHandler(cfg, webhooks, monitor, registry),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}

func shutdownHTTPServer(server *http.Server, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		slog.Warn("Webhook server shutdown incomplete", "error", err)
	}
}
