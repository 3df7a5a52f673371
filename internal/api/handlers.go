package api

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/punchamoorthee/ledgersend/internal/domain"
	"github.com/punchamoorthee/ledgersend/internal/log"
	"github.com/punchamoorthee/ledgersend/internal/models"
	"github.com/punchamoorthee/ledgersend/internal/service"
)

const maxBodyBytes = 1 << 20

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledgersend_http_requests_total",
		Help: "Total HTTP requests processed, labeled by status code",
	}, []string{"method", "endpoint", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ledgersend_http_request_duration_seconds",
		Help:    "Latency distribution of HTTP requests",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"method", "endpoint"})
)

// Payments is the sender service behind the API.
type Payments interface {
	ProcessPayment(ctx context.Context, req domain.PaymentRequest, idempotencyKey, reqHash string) (*service.Result, *models.IdempotencyRecord, error)
	GetPayment(ctx context.Context, id string) (*models.PaymentRecord, error)
	Quote(ctx context.Context, req domain.PaymentRequest) (*models.Quote, error)
}

// Pinger reports whether the journal database is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Handler struct {
	payments Payments
	db       Pinger
}

func NewHandler(p Payments, db Pinger) *Handler {
	return &Handler{payments: p, db: db}
}

func (h *Handler) HealthCheckHandler(w http.ResponseWriter, r *http.Request) {
	if h.db != nil {
		if err := h.db.Ping(r.Context()); err != nil {
			log.API.Warn().Err(err).Msg("health check failed")
			h.respondError(w, http.StatusServiceUnavailable, "Database unavailable", "GET", "/health")
			return
		}
	}
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"}, "GET", "/health")
}

func (h *Handler) CreatePaymentHandler(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("POST", "/payments"))
	defer timer.ObserveDuration()

	// 1. Validate Header
	idempotencyKey := r.Header.Get("Idempotency-Key")
	if idempotencyKey == "" {
		h.respondError(w, http.StatusBadRequest, "Missing Idempotency-Key header", "POST", "/payments")
		return
	}

	// 2. Read and Hash Body
	bodyBytes, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "Stream read error", "POST", "/payments")
		return
	}
	r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))

	hash := sha256.Sum256(bodyBytes)
	reqHash := hex.EncodeToString(hash[:])

	var req domain.PaymentRequest
	if err := json.Unmarshal(bodyBytes, &req); err != nil {
		h.respondError(w, http.StatusBadRequest, "Malformed JSON body", "POST", "/payments")
		return
	}

	// 3. Call Service
	res, existing, err := h.payments.ProcessPayment(r.Context(), req, idempotencyKey, reqHash)
	if err != nil {
		status := domain.HTTPStatus(err)
		log.API.Warn().Err(err).Str("key", idempotencyKey).Int("status", status).Msg("payment failed")
		body := map[string]string{"error": err.Error()}
		if res != nil {
			body["payment_id"] = res.PaymentID
		}
		h.respondJSON(w, status, body, "POST", "/payments")
		return
	}

	// Handle Idempotent Replay
	if existing != nil {
		httpRequestsTotal.WithLabelValues("POST", "/payments", strconv.Itoa(existing.ResponseStatus)).Inc()
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Idempotent-Replayed", "true")
		w.WriteHeader(existing.ResponseStatus)
		w.Write(existing.ResponseBody)
		return
	}

	// Handle New Success
	w.Header().Set("Location", "/api/v1/payments/"+res.PaymentID)
	h.respondJSON(w, http.StatusCreated, res, "POST", "/payments")
}

func (h *Handler) GetPaymentHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	payment, err := h.payments.GetPayment(r.Context(), id)
	if errors.Is(err, domain.ErrPaymentNotFound) {
		h.respondError(w, http.StatusNotFound, "Payment not found", "GET", "/payments/{id}")
		return
	}
	if err != nil {
		log.API.Error().Err(err).Str("payment", id).Msg("payment lookup failed")
		h.respondError(w, http.StatusInternalServerError, "Internal Server Error", "GET", "/payments/{id}")
		return
	}
	h.respondJSON(w, http.StatusOK, payment, "GET", "/payments/{id}")
}

func (h *Handler) CreateQuoteHandler(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("POST", "/quotes"))
	defer timer.ObserveDuration()

	var req domain.PaymentRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "Malformed JSON body", "POST", "/quotes")
		return
	}

	quote, err := h.payments.Quote(r.Context(), req)
	if err != nil {
		h.respondError(w, domain.HTTPStatus(err), err.Error(), "POST", "/quotes")
		return
	}
	h.respondJSON(w, http.StatusOK, quote, "POST", "/quotes")
}

func (h *Handler) respondJSON(w http.ResponseWriter, code int, payload any, method, endpoint string) {
	httpRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(code)).Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}

func (h *Handler) respondError(w http.ResponseWriter, code int, message, method, endpoint string) {
	h.respondJSON(w, code, map[string]string{"error": message}, method, endpoint)
}
