// Package api exposes a limiter over JSON HTTP so services in other
// processes or languages can ask for admission decisions.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/KanavDutta/tollgate/middleware"
	"github.com/KanavDutta/tollgate/pkg/tollgate"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const maxBodyBytes = 64 << 10

// Handler handles admission and class management requests
type Handler struct {
	limiter *tollgate.Limiter
	logger  *slog.Logger
	tracer  trace.Tracer
}

// NewHandler creates a new API handler
func NewHandler(limiter *tollgate.Limiter, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Handler{
		limiter: limiter,
		logger:  logger,
		tracer:  otel.Tracer("github.com/KanavDutta/tollgate/api"),
	}
}

// Register adds the handler's routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/allow", h.Allow)
	mux.HandleFunc("GET /v1/classes", h.ListClasses)
	mux.HandleFunc("PUT /v1/classes/{class}", h.ConfigureClass)
	mux.HandleFunc("DELETE /v1/buckets/{key}", h.ResetBucket)
	mux.HandleFunc("GET /health", h.Health)
}

// AllowRequest represents an admission request
type AllowRequest struct {
	Key  string `json:"key"`            // Required: user ID, API key, IP, optionally "class:" prefixed
	Cost *int64 `json:"cost,omitempty"` // Tokens to consume, default 1 when absent
}

// AllowResponse represents an admission decision
type AllowResponse struct {
	Allowed      bool    `json:"allowed"`
	Remaining    float64 `json:"remaining"`
	Limit        int64   `json:"limit"`
	RetryAfterMs int64   `json:"retry_after_ms,omitempty"`
	Class        string  `json:"class"`
	Degraded     bool    `json:"degraded,omitempty"`
}

// ClassConfig is the body of PUT /v1/classes/{class} and an element of GET /v1/classes
type ClassConfig struct {
	Class            string  `json:"class,omitempty"`
	Capacity         int64   `json:"capacity"`
	RefillRatePerSec float64 `json:"refill_rate_per_sec"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Allow handles POST /v1/allow. Rejections answer 429 with Retry-After.
func (h *Handler) Allow(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "tollgate.allow")
	defer span.End()

	var req AllowRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		h.sendError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}
	cost := int64(1)
	if req.Cost != nil {
		cost = *req.Cost
	}

	decision, err := h.limiter.AllowN(ctx, req.Key, cost)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		switch {
		case errors.Is(err, tollgate.ErrInvalidKey):
			h.sendError(w, http.StatusBadRequest, "invalid_key", err.Error())
		case errors.Is(err, tollgate.ErrInvalidCost):
			h.sendError(w, http.StatusBadRequest, "invalid_cost", err.Error())
		default:
			h.logger.ErrorContext(ctx, "admission check failed", slog.String("request_id", RequestID(ctx)), slog.Any("error", err))
			h.sendError(w, http.StatusInternalServerError, "internal_error", "admission check failed")
		}
		return
	}

	span.SetAttributes(
		attribute.String("tollgate.class", decision.Class),
		attribute.Bool("tollgate.allowed", decision.Allowed),
		attribute.Bool("tollgate.degraded", decision.Degraded),
	)

	middleware.SetHeaders(w.Header(), decision, time.Now())

	status := http.StatusOK
	if !decision.Allowed {
		status = http.StatusTooManyRequests
	}
	h.sendJSON(w, status, AllowResponse{
		Allowed:      decision.Allowed,
		Remaining:    decision.Remaining,
		Limit:        decision.Limit,
		RetryAfterMs: decision.RetryAfterMs(),
		Class:        decision.Class,
		Degraded:     decision.Degraded,
	})
}

// ListClasses handles GET /v1/classes
func (h *Handler) ListClasses(w http.ResponseWriter, r *http.Request) {
	classes := h.limiter.Classes()
	out := make([]ClassConfig, 0, len(classes))
	for name, p := range classes {
		out = append(out, ClassConfig{Class: name, Capacity: p.Capacity, RefillRatePerSec: p.RefillRate})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Class < out[j].Class })

	h.sendJSON(w, http.StatusOK, out)
}

// ConfigureClass handles PUT /v1/classes/{class}
func (h *Handler) ConfigureClass(w http.ResponseWriter, r *http.Request) {
	class := r.PathValue("class")

	var req ClassConfig
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		h.sendError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}

	if err := h.limiter.Configure(class, req.Capacity, req.RefillRatePerSec); err != nil {
		h.sendError(w, http.StatusBadRequest, "invalid_class", err.Error())
		return
	}

	h.logger.InfoContext(r.Context(), "class updated via api",
		slog.String("request_id", RequestID(r.Context())),
		slog.String("class", class),
	)
	h.sendJSON(w, http.StatusOK, ClassConfig{Class: class, Capacity: req.Capacity, RefillRatePerSec: req.RefillRatePerSec})
}

// ResetBucket handles DELETE /v1/buckets/{key}
func (h *Handler) ResetBucket(w http.ResponseWriter, r *http.Request) {
	err := h.limiter.Reset(r.Context(), r.PathValue("key"))
	switch {
	case errors.Is(err, tollgate.ErrInvalidKey):
		h.sendError(w, http.StatusBadRequest, "invalid_key", err.Error())
	case errors.Is(err, tollgate.ErrStoreUnavailable):
		h.sendError(w, http.StatusServiceUnavailable, "store_unavailable", err.Error())
	case err != nil:
		h.sendError(w, http.StatusInternalServerError, "internal_error", err.Error())
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

// Health handles GET /health. It answers 503 when the store is unreachable.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), time.Second)
	defer cancel()

	if err := h.limiter.Ping(ctx); err != nil {
		h.sendJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unavailable",
			"error":  err.Error(),
		})
		return
	}

	body := map[string]any{
		"status":         "ok",
		"failure_policy": h.limiter.FailurePolicy().String(),
	}
	if buckets, err := h.limiter.Len(ctx); err != nil {
		h.logger.WarnContext(ctx, "bucket count failed", slog.Any("error", err))
		body["buckets_error"] = err.Error()
	} else {
		body["buckets"] = buckets
	}
	h.sendJSON(w, http.StatusOK, body)
}

func (h *Handler) sendJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(v)
}

func (h *Handler) sendError(w http.ResponseWriter, statusCode int, errorCode, message string) {
	h.sendJSON(w, statusCode, ErrorResponse{
		Error:   errorCode,
		Message: message,
	})
}
