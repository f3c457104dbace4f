package server

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/klauspost/compress/gzhttp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const (
	routeMetrics = "metrics"
	routeHealth  = "healthz"
	routePages   = "pages"
)

type RouterParams struct {
	// Pages renders every request no other route claims.
	Pages    http.Handler
	Gatherer prometheus.Gatherer
	Metrics  *httpMetrics
	Logger   zerolog.Logger
	// Static files are only served in production.
	Production bool
	Base       string
	ClientDir  string
}

// NewRouter assembles the HTTP surface: metrics, health, static assets and
// the page renderer, behind logging, security headers, metrics and gzip.
// gzhttp flushes through, so streamed pages stay streamed.
func NewRouter(p RouterParams) http.Handler {
	r := mux.NewRouter()
	r.Use(requestLogger(p.Logger), securityHeaders, p.Metrics.instrument)

	r.Handle("/metrics", promhttp.HandlerFor(p.Gatherer, promhttp.HandlerOpts{})).
		Methods(http.MethodGet).
		Name(routeMetrics)
	r.HandleFunc("/healthz", healthz).
		Methods(http.MethodGet, http.MethodHead).
		Name(routeHealth)

	pages := p.Pages
	if p.Production {
		pages = staticFiles(p.ClientDir, p.Base, pages)
	}
	r.PathPrefix("/").Handler(pages).Name(routePages)

	return gzhttp.GzipHandler(r)
}

func healthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
