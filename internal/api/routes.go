package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RegisterRoutes регистрирует служебные маршруты.
// /metrics регистрируется без middleware.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	chain := Chain(Recovery(h.logger), Logging(h.logger))

	mux.Handle("GET /healthz", chain(http.HandlerFunc(h.Healthz)))
	mux.Handle("GET /readyz", chain(http.HandlerFunc(h.Readyz)))
	mux.Handle("GET /status", chain(http.HandlerFunc(h.Status)))
	mux.Handle("GET /metrics", promhttp.Handler())
}
