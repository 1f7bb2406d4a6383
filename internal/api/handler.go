package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/punchamoorthee/tradeguard/internal/domain"
	"github.com/punchamoorthee/tradeguard/internal/service"
)

const maxBodyBytes = 1 << 20

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradeguard_http_requests_total",
		Help: "Total HTTP requests processed, labeled by status code",
	}, []string{"method", "endpoint", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tradeguard_http_request_duration_seconds",
		Help:    "Latency distribution of HTTP requests",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"method", "endpoint"})
)

// Pinger reports store readiness.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Handler struct {
	svc      *service.Service
	db       Pinger
	auth     *Authenticator
	validate *validator.Validate
	logger   zerolog.Logger
}

func NewHandler(svc *service.Service, db Pinger, auth *Authenticator, logger zerolog.Logger) *Handler {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return &Handler{
		svc:      svc,
		db:       db,
		auth:     auth,
		validate: v,
		logger:   logger.With().Str("component", "api").Logger(),
	}
}

// Router wires every route. API routes require an actor; ops routes do not.
func (h *Handler) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(h.instrument)
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/health", h.HealthCheckHandler).Methods(http.MethodGet)
	r.HandleFunc("/ready", h.ReadyHandler).Methods(http.MethodGet)

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.Use(h.authenticate)

	v1.HandleFunc("/wallets", h.OpenWalletHandler).Methods(http.MethodPost)
	v1.HandleFunc("/wallets/{userId}/balance", h.GetBalanceHandler).Methods(http.MethodGet)
	v1.HandleFunc("/wallets/{userId}/transactions", h.ListTransactionsHandler).Methods(http.MethodGet)
	v1.HandleFunc("/wallets/{userId}/deposits", h.DepositHandler).Methods(http.MethodPost)
	v1.HandleFunc("/wallets/{userId}/transfers", h.TransferHandler).Methods(http.MethodPost)
	v1.HandleFunc("/wallets/{userId}/status", h.SetWalletStatusHandler).Methods(http.MethodPost)

	v1.HandleFunc("/reserves", h.HoldReserveHandler).Methods(http.MethodPost)
	v1.HandleFunc("/boosts", h.HoldBoostHandler).Methods(http.MethodPost)
	v1.HandleFunc("/reserves/{id}", h.GetReserveHandler).Methods(http.MethodGet)
	v1.HandleFunc("/reserves/{id}/splits", h.CreateSplitsHandler).Methods(http.MethodPost)
	v1.HandleFunc("/reserves/{id}/refund", h.RefundReserveHandler).Methods(http.MethodPost)
	v1.HandleFunc("/reserves/{id}/dispute", h.RaiseDisputeHandler).Methods(http.MethodPost)
	v1.HandleFunc("/reserves/{id}/resolve", h.ResolveDisputeHandler).Methods(http.MethodPost)

	v1.HandleFunc("/splits/{id}/release", h.ReleaseSplitHandler).Methods(http.MethodPost)
	v1.HandleFunc("/splits/{id}/dispute", h.RaiseSplitDisputeHandler).Methods(http.MethodPost)

	v1.HandleFunc("/withdrawals", h.RequestWithdrawalHandler).Methods(http.MethodPost)
	v1.HandleFunc("/withdrawals/{id}", h.GetWithdrawalHandler).Methods(http.MethodGet)
	v1.HandleFunc("/withdrawals/{id}/settlement", h.ConfirmSettlementHandler).Methods(http.MethodPost)
	v1.HandleFunc("/payees/{userId}/payouts", h.ListPayoutsHandler).Methods(http.MethodGet)

	return r
}

func (h *Handler) HealthCheckHandler(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := h.db.Ping(ctx); err != nil {
		h.logger.Error().Err(err).Msg("readiness check failed")
		w.Header().Set("Retry-After", "1")
		respondWithError(w, http.StatusServiceUnavailable, string(domain.CodeUnavailable), "database unavailable", nil)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// instrument records the request counter and latency per route template.
func (h *Handler) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		endpoint := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tpl, err := route.GetPathTemplate(); err == nil {
				endpoint = tpl
			}
		}
		timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues(r.Method, endpoint))
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		timer.ObserveDuration()
		httpRequestsTotal.WithLabelValues(r.Method, endpoint, strconv.Itoa(rec.status)).Inc()
	})
}

// decode reads a JSON body into dst. The body is optional when allowEmpty
// is set; path parameters are filled in by the caller before validation.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any, allowEmpty bool) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		if allowEmpty && errors.Is(err, io.EOF) {
			return true
		}
		respondWithError(w, http.StatusBadRequest, string(domain.CodeInvalidArgument), "Malformed JSON body", nil)
		return false
	}
	return true
}

// check validates req against its struct tags.
func (h *Handler) check(w http.ResponseWriter, req any) bool {
	err := h.validate.Struct(req)
	if err == nil {
		return true
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		respondWithError(w, http.StatusBadRequest, string(domain.CodeInvalidArgument), err.Error(), nil)
		return false
	}
	meta := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		field := fe.Namespace()
		if _, rest, ok := strings.Cut(field, "."); ok {
			field = rest
		}
		meta[field] = fe.Tag()
	}
	respondWithError(w, http.StatusBadRequest, string(domain.CodeInvalidArgument), "request validation failed", meta)
	return false
}

func pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)[name])
	if err != nil {
		respondWithError(w, http.StatusBadRequest, string(domain.CodeInvalidArgument), "invalid "+name, nil)
		return uuid.Nil, false
	}
	return id, true
}

func idempotencyKey(w http.ResponseWriter, r *http.Request) (string, bool) {
	key := r.Header.Get("Idempotency-Key")
	if key == "" {
		respondWithError(w, http.StatusBadRequest, string(domain.CodeInvalidArgument), "Missing Idempotency-Key header", nil)
		return "", false
	}
	if len(key) > 128 {
		respondWithError(w, http.StatusBadRequest, string(domain.CodeInvalidArgument), "Idempotency-Key too long", nil)
		return "", false
	}
	return key, true
}

// statusFor maps ledger error codes to HTTP statuses.
func statusFor(code domain.Code) int {
	switch code {
	case domain.CodeNotFound:
		return http.StatusNotFound
	case domain.CodeInvalidArgument:
		return http.StatusBadRequest
	case domain.CodeForbidden, domain.CodeWalletSuspended:
		return http.StatusForbidden
	case domain.CodeDuplicateReserve, domain.CodeInvalidStateTransition:
		return http.StatusConflict
	case domain.CodeUnavailable:
		return http.StatusServiceUnavailable
	case domain.CodeInternal, "":
		return http.StatusInternalServerError
	default:
		return http.StatusUnprocessableEntity
	}
}

type errorBody struct {
	Code     string            `json:"code"`
	Message  string            `json:"message"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// fail writes err as the standard error envelope.
func (h *Handler) fail(w http.ResponseWriter, err error) {
	var de *domain.Error
	if !errors.As(err, &de) {
		h.logger.Error().Err(err).Msg("unmapped error")
		respondWithError(w, http.StatusInternalServerError, string(domain.CodeInternal), "Internal Server Error", nil)
		return
	}
	status := statusFor(de.Code)
	if de.Retryable() {
		w.Header().Set("Retry-After", "1")
	}
	respondWithError(w, status, string(de.Code), de.Message, de.Metadata)
}

func respondWithError(w http.ResponseWriter, code int, errCode, message string, metadata map[string]string) {
	respondWithJSON(w, code, map[string]errorBody{
		"error": {Code: errCode, Message: message, Metadata: metadata},
	})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}
