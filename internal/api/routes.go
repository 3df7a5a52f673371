package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter mounts the sender API, health and metrics endpoints.
func NewRouter(h *Handler) *mux.Router {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/health", h.HealthCheckHandler).Methods(http.MethodGet)

	apiV1 := r.PathPrefix("/api/v1").Subrouter()
	apiV1.HandleFunc("/payments", h.CreatePaymentHandler).Methods(http.MethodPost)
	apiV1.HandleFunc("/payments/{id}", h.GetPaymentHandler).Methods(http.MethodGet)
	apiV1.HandleFunc("/quotes", h.CreateQuoteHandler).Methods(http.MethodPost)
	return r
}
