// Package handler exposes the finished audit trail over HTTP. The admin UI
// reads it; nothing here mutates records.
package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	audit "worktrail/internal/audit"
	"worktrail/internal/audit/metrics"
	dErrors "worktrail/pkg/domain-errors"
	"worktrail/pkg/platform/httputil"
	"worktrail/pkg/platform/middleware/metadata"
	"worktrail/pkg/platform/sentinel"
	"worktrail/pkg/requestcontext"
)

// Service defines the audit record lookups the handler needs. audit.Store
// satisfies it.
type Service interface {
	FindByEventID(ctx context.Context, eventID string) (audit.Record, error)
	List(ctx context.Context, filter audit.Filter) ([]audit.Record, error)
}

// Handler wires audit query endpoints to the record store.
type Handler struct {
	service Service
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// New constructs an audit query handler with its dependencies.
func New(service Service, logger *slog.Logger, metrics *metrics.Metrics) *Handler {
	return &Handler{
		service: service,
		logger:  logger,
		metrics: metrics,
	}
}

// Register mounts audit query endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Get("/audit/records", h.HandleListRecords)
	r.Get("/audit/records/{eventId}", h.HandleGetRecord)
}

// HandleListRecords handles GET /audit/records requests. Filters: entityType,
// entityId, eventType, from, to (RFC3339), limit. Newest first.
func (h *Handler) HandleListRecords(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	start := time.Now()

	filter, err := parseFilter(r.URL.Query())
	if err != nil {
		h.metrics.IncQuery("list", "client_error")
		httputil.WriteError(w, err)
		return
	}

	records, err := h.service.List(ctx, filter)
	if err != nil {
		h.metrics.IncQuery("list", "error")
		h.logger.ErrorContext(ctx, "audit record list failed",
			"request_id", requestID,
			"error", err,
		)
		httputil.WriteError(w, dErrors.Wrap(dErrors.CodeInternal, "list audit records", err))
		return
	}

	h.metrics.IncQuery("list", "ok")
	h.logger.DebugContext(ctx, "audit records listed",
		"request_id", requestID,
		"client_ip", metadata.ClientIP(ctx),
		"user_agent", metadata.UserAgent(ctx),
		"count", len(records),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	httputil.WriteJSON(w, http.StatusOK, FromRecords(records))
}

// HandleGetRecord handles GET /audit/records/{eventId} requests.
func (h *Handler) HandleGetRecord(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	eventID := chi.URLParam(r, "eventId")

	record, err := h.service.FindByEventID(ctx, eventID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			h.metrics.IncQuery("get", "client_error")
			httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, "no audit record for event id "+eventID))
			return
		}
		h.metrics.IncQuery("get", "error")
		h.logger.ErrorContext(ctx, "audit record lookup failed",
			"request_id", requestID,
			"client_ip", metadata.ClientIP(ctx),
			"event_id", eventID,
			"error", err,
		)
		httputil.WriteError(w, dErrors.Wrap(dErrors.CodeInternal, "find audit record", err))
		return
	}

	h.metrics.IncQuery("get", "ok")
	httputil.WriteJSON(w, http.StatusOK, FromRecord(record))
}
