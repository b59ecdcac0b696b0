package main

import (
	"bufio"
	"errors"
	"log"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"signalhook/internal/api"
	"signalhook/internal/config"
	"signalhook/internal/metrics"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	srvDeps, err := api.NewServer(cfg)
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}
	metrics.RegisterDefault()

	mux := http.NewServeMux()

	// Registration (unauthenticated)
	mux.HandleFunc("/v1/users", srvDeps.UsersHandler)

	// Quotes
	mux.HandleFunc("/v1/quotes", srvDeps.QuotesHandler)

	// Alerts
	mux.HandleFunc("/v1/alerts", srvDeps.AlertsHandler)
	mux.HandleFunc("/v1/alerts/triggered", srvDeps.TriggeredAlertsHandler)
	mux.HandleFunc("/v1/alerts/stream", srvDeps.StreamHandler)
	mux.HandleFunc("/v1/alerts/", srvDeps.AlertByIDHandler)

	// Webhook config and delivery history
	mux.HandleFunc("/v1/webhook", srvDeps.WebhookHandler)
	mux.HandleFunc("/v1/webhook/deliveries", srvDeps.DeliveriesHandler)

	// Health
	mux.HandleFunc("/healthz", srvDeps.HealthHandler)
	mux.HandleFunc("/readyz", srvDeps.ReadyHandler)

	// Debug and metrics
	mux.HandleFunc("/v1/debug", srvDeps.DebugJSON)
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	addr := ":" + cfg.Port

	srv := &http.Server{
		Addr:              addr,
		Handler:           logMiddleware(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	log.Printf("API listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server error: %v", err)
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Hijack passes through so the websocket stream endpoint can upgrade.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return h.Hijack()
}

func logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(sw, r)
		dur := time.Since(start)
		status := strconv.Itoa(sw.status)
		metrics.HTTPRequests.WithLabelValues(r.Method, r.URL.Path, status).Inc()
		metrics.HTTPDuration.WithLabelValues(r.Method, r.URL.Path, status).Observe(dur.Seconds())
		log.Printf("%s %s %s %d %v", r.RemoteAddr, r.Method, r.URL.Path, sw.status, dur)
	})
}
