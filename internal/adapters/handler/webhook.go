package handler

import (
	"context"
	"crypto/subtle"
	"io"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"evolution-relay/internal/core/services"
)

// maxWebhookBody caps a single provider delivery
const maxWebhookBody = 10 << 20

// WebhookIngestor runs one provider delivery through the core
type WebhookIngestor interface {
	Ingest(ctx context.Context, raw []byte) (services.IngestResult, error)
}

// WebhookHandler handles Evolution API webhook deliveries
type WebhookHandler struct {
	ingestor WebhookIngestor
	secret   string
}

// NewWebhookHandler creates a new webhook handler.
// secret is the token expected in the URL path.
func NewWebhookHandler(ingestor WebhookIngestor, secret string) *WebhookHandler {
	return &WebhookHandler{
		ingestor: ingestor,
		secret:   secret,
	}
}

// HandleVerify answers reachability probes
// GET /api/webhooks/whatsapp/{token}
func (h *WebhookHandler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleEvent authenticates and processes one delivery synchronously.
// Anything the relay accepted, even a failed event, answers 2xx so the
// provider does not redeliver forever.
// POST /api/webhooks/whatsapp/{token}
func (h *WebhookHandler) HandleEvent(w http.ResponseWriter, r *http.Request) {
	// ========================================================================
	// Step 1: Validate the path token
	// ========================================================================
	token := mux.Vars(r)["token"]
	if token == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing token"})
		return
	}
	if !h.validToken(token) {
		slog.Warn("Webhook token validation failed", "remote_addr", r.RemoteAddr)
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "invalid token"})
		return
	}

	// ========================================================================
	// Step 2: Read request body
	// ========================================================================
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		slog.Error("Failed to read webhook body", "error", err)
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unreadable body"})
		return
	}
	defer r.Body.Close()

	// ========================================================================
	// Step 3: Ingest and map the outcome
	// ========================================================================
	// A dropped connection must not strand the event mid-pipeline
	result, err := h.ingestor.Ingest(context.WithoutCancel(r.Context()), body)
	if err != nil {
		slog.Error("Webhook ingestion failed", "error", err, "content_length", len(body))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}

	switch result.Outcome {
	case services.OutcomeOK:
		resp := map[string]interface{}{"ok": true}
		if result.Duplicate {
			resp["duplicate"] = true
		}
		writeJSON(w, http.StatusOK, resp)
	case services.OutcomeAccepted:
		writeJSON(w, http.StatusAccepted, map[string]interface{}{"ok": true, "eventId": result.EventID})
	case services.OutcomeForbidden:
		writeJSON(w, http.StatusForbidden, map[string]string{"error": result.Reason})
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": result.Reason})
	}
}

// validToken compares in constant time
func (h *WebhookHandler) validToken(token string) bool {
	if h.secret == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(h.secret)) == 1
}
