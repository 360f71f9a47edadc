package handler

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"evolution-relay/internal/core/services"
)

// Outbox trigger limits
const (
	DefaultTriggerLimit = 10
	MaxTriggerLimit     = 100
)

// HeaderOutboxToken authenticates the manual outbox trigger
const HeaderOutboxToken = "X-Outbox-Token"

// BatchProcessor runs one outbox delivery pass
type BatchProcessor interface {
	ProcessBatch(ctx context.Context, limit int) (services.BatchResult, error)
}

// OutboxHandler exposes the delivery worker to an external scheduler
type OutboxHandler struct {
	worker BatchProcessor
	token  string
}

// NewOutboxHandler creates a new trigger handler. An empty token rejects every call.
func NewOutboxHandler(worker BatchProcessor, token string) *OutboxHandler {
	return &OutboxHandler{worker: worker, token: token}
}

// Process runs one batch
// POST /api/internal/outbox/process?limit=N
func (h *OutboxHandler) Process(w http.ResponseWriter, r *http.Request) {
	// ========================================================================
	// Step 1: Authenticate
	// ========================================================================
	got := r.Header.Get(HeaderOutboxToken)
	if h.token == "" || subtle.ConstantTimeCompare([]byte(got), []byte(h.token)) != 1 {
		writeResponse(w, UnauthorizedResponse("unauthorized"))
		return
	}

	// ========================================================================
	// Step 2: Resolve the limit (query wins over body)
	// ========================================================================
	limit := DefaultTriggerLimit
	var body struct {
		Limit int `json:"limit"`
	}
	if raw, err := io.ReadAll(io.LimitReader(r.Body, 4096)); err == nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, &body); err == nil && body.Limit > 0 {
			limit = body.Limit
		}
	}
	if q := r.URL.Query().Get("limit"); q != "" {
		if n, err := strconv.Atoi(q); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > MaxTriggerLimit {
		limit = MaxTriggerLimit
	}

	// ========================================================================
	// Step 3: Process
	// ========================================================================
	result, err := h.worker.ProcessBatch(r.Context(), limit)
	if err != nil {
		slog.Error("Manual outbox batch failed", "limit", limit, "error", err)
		writeResponse(w, InternalErrorResponse("outbox batch failed"))
		return
	}

	slog.Info("Manual outbox batch processed",
		"limit", limit,
		"processed", result.Processed,
		"sent", result.Sent,
		"retried", result.Retried,
		"failed", result.Failed,
	)
	writeResponse(w, NewSuccessResponse(result))
}
