package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"evolution-relay/internal/core/domain"
	"evolution-relay/internal/core/ports"
	"evolution-relay/internal/core/services"
)

// Identity headers set by the authenticating gateway in front of the relay
const (
	HeaderWorkspaceID = "X-Workspace-ID"
	HeaderUserID      = "X-User-ID"
)

// MessageSender queues outbound messages
type MessageSender interface {
	Send(ctx context.Context, in services.SendMessageInput) (*domain.Message, error)
}

// ChatReader serves conversation and message reads
type ChatReader interface {
	ListConversations(ctx context.Context, workspaceID string) ([]domain.Conversation, error)
	ListMessages(ctx context.Context, workspaceID, conversationID string, since *time.Time, limit int) ([]domain.Message, error)
	MessageContext(ctx context.Context, workspaceID, messageID, userID string) (*services.MessageContext, error)
}

// MediaOpener streams provider-hosted attachments
type MediaOpener interface {
	Open(ctx context.Context, workspaceID, providerMessageID, attachmentID, rangeHeader string) (*ports.MediaStream, error)
}

// ChatHandler handles the chat API
type ChatHandler struct {
	sender          MessageSender
	reader          ChatReader
	media           MediaOpener
	defaultInstance string
}

// NewChatHandler creates a new chat handler. defaultInstance tags new
// conversations with the provider line they are sent from.
func NewChatHandler(sender MessageSender, reader ChatReader, media MediaOpener, defaultInstance string) *ChatHandler {
	return &ChatHandler{
		sender:          sender,
		reader:          reader,
		media:           media,
		defaultInstance: defaultInstance,
	}
}

// SendMessageRequest is the POST /api/chat/messages body
type SendMessageRequest struct {
	ConversationID   string              `json:"conversationId"`
	WhatsAppNumberID string              `json:"whatsappNumberId"`
	Type             string              `json:"type"`
	Content          string              `json:"content"`
	ReplyToMessageID string              `json:"replyToMessageId"`
	Attachments      []domain.Attachment `json:"attachments"`
}

// ListConversations returns the workspace conversations
// GET /api/chat/conversations
func (h *ChatHandler) ListConversations(w http.ResponseWriter, r *http.Request) {
	workspaceID, ok := requireWorkspace(w, r)
	if !ok {
		return
	}

	convs, err := h.reader.ListConversations(r.Context(), workspaceID)
	if err != nil {
		slog.Error("Failed to list conversations", "workspace_id", workspaceID, "error", err)
		writeResponse(w, InternalErrorResponse("failed to list conversations"))
		return
	}
	if convs == nil {
		convs = []domain.Conversation{}
	}
	writeResponse(w, NewSuccessResponse(convs))
}

// ListMessages returns the messages of one conversation
// GET /api/chat/messages?conversationId=&since=&limit=
func (h *ChatHandler) ListMessages(w http.ResponseWriter, r *http.Request) {
	workspaceID, ok := requireWorkspace(w, r)
	if !ok {
		return
	}

	query := r.URL.Query()
	var since *time.Time
	if raw := query.Get("since"); raw != "" {
		t, err := parseSince(raw)
		if err != nil {
			writeResponse(w, BadRequestResponse("invalid since"))
			return
		}
		since = &t
	}
	limit := 0
	if raw := query.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeResponse(w, BadRequestResponse("invalid limit"))
			return
		}
		limit = n
	}

	msgs, err := h.reader.ListMessages(r.Context(), workspaceID, query.Get("conversationId"), since, limit)
	if err != nil {
		h.writeError(w, "list messages", err)
		return
	}
	if msgs == nil {
		msgs = []domain.Message{}
	}
	writeResponse(w, NewSuccessResponse(msgs))
}

// SendMessage queues an outbound message
// POST /api/chat/messages
func (h *ChatHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	workspaceID, ok := requireWorkspace(w, r)
	if !ok {
		return
	}

	var req SendMessageRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeResponse(w, BadRequestResponse("invalid JSON body"))
		return
	}
	numberID := req.WhatsAppNumberID
	if numberID == "" {
		numberID = h.defaultInstance
	}

	msg, err := h.sender.Send(r.Context(), services.SendMessageInput{
		WorkspaceID:      workspaceID,
		UserID:           r.Header.Get(HeaderUserID),
		ConversationID:   req.ConversationID,
		WhatsAppNumberID: numberID,
		Type:             domain.MessageType(req.Type),
		Content:          req.Content,
		ReplyToMessageID: req.ReplyToMessageID,
		Attachments:      req.Attachments,
	})
	if err != nil {
		h.writeError(w, "send message", err)
		return
	}
	writeResponse(w, NewCreatedResponse(msg))
}

// MessageContext describes one message for downstream consumers
// GET /api/chat/messages/{id}/context
func (h *ChatHandler) MessageContext(w http.ResponseWriter, r *http.Request) {
	workspaceID, ok := requireWorkspace(w, r)
	if !ok {
		return
	}

	mc, err := h.reader.MessageContext(r.Context(), workspaceID, mux.Vars(r)["id"], r.Header.Get(HeaderUserID))
	if err != nil {
		h.writeError(w, "message context", err)
		return
	}
	writeResponse(w, NewSuccessResponse(mc))
}

// Media streams an attachment through from the provider
// GET /api/chat/media?providerMessageId=&attachmentId=
func (h *ChatHandler) Media(w http.ResponseWriter, r *http.Request) {
	workspaceID, ok := requireWorkspace(w, r)
	if !ok {
		return
	}

	providerMessageID := r.URL.Query().Get("providerMessageId")
	attachmentID := r.URL.Query().Get("attachmentId")
	if providerMessageID == "" || attachmentID == "" {
		writeResponse(w, BadRequestResponse("providerMessageId and attachmentId are required"))
		return
	}

	stream, err := h.media.Open(r.Context(), workspaceID, providerMessageID, attachmentID, r.Header.Get("Range"))
	if err != nil {
		if isNotFound(err) || errors.Is(err, domain.ErrMediaUnavailable) {
			writeResponse(w, NotFoundResponse(err.Error()))
			return
		}
		slog.Error("Failed to fetch media",
			"provider_message_id", providerMessageID,
			"attachment_id", attachmentID,
			"error", err,
		)
		writeResponse(w, NewErrorResponse(http.StatusBadGateway, "failed to fetch media"))
		return
	}
	defer stream.Body.Close()

	header := w.Header()
	header.Set("Content-Type", stream.ContentType)
	if stream.ContentRange != "" {
		header.Set("Content-Range", stream.ContentRange)
	}
	if stream.AcceptRanges != "" {
		header.Set("Accept-Ranges", stream.AcceptRanges)
	}
	if stream.ContentLength != "" {
		header.Set("Content-Length", stream.ContentLength)
	}
	header.Set("Cache-Control", "private, max-age=3600")

	status := stream.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	if _, err := io.Copy(w, stream.Body); err != nil {
		slog.Warn("Media stream interrupted", "provider_message_id", providerMessageID, "error", err)
	}
}

// writeError maps core errors onto the envelope
func (h *ChatHandler) writeError(w http.ResponseWriter, op string, err error) {
	var invalid *domain.InvalidRequestError
	switch {
	case errors.As(err, &invalid):
		writeResponse(w, BadRequestResponse(invalid.Reason))
	case isNotFound(err):
		writeResponse(w, NotFoundResponse(err.Error()))
	default:
		slog.Error("Chat request failed", "operation", op, "error", err)
		writeResponse(w, InternalErrorResponse("internal error"))
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, domain.ErrMessageNotFound) ||
		errors.Is(err, domain.ErrConversationNotFound) ||
		errors.Is(err, domain.ErrAttachmentNotFound)
}

// requireWorkspace reads the tenant set by the gateway; 401 when absent
func requireWorkspace(w http.ResponseWriter, r *http.Request) (string, bool) {
	workspaceID := r.Header.Get(HeaderWorkspaceID)
	if workspaceID == "" {
		writeResponse(w, UnauthorizedResponse("missing "+HeaderWorkspaceID+" header"))
		return "", false
	}
	return workspaceID, true
}

// parseSince accepts RFC 3339 or unix milliseconds
func parseSince(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t, nil
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms), nil
}
