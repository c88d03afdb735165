package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewServeMux registers the status endpoints and the prometheus metrics endpoint.
func NewServeMux(h *Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", h.GetHealth)
	mux.HandleFunc("GET /v1/status", h.GetStatus)
	mux.HandleFunc("GET /v1/transactions", h.GetTransactions)
	mux.Handle("GET /metrics", promhttp.Handler())
	return mux
}
