package services

import (
	"context"
	"fmt"
	"sort"
	"time"

	"evolution-relay/internal/core/domain"
	"evolution-relay/internal/core/ports"
)

// Message listing limits
const (
	DefaultMessageLimit = 50
	MaxMessageLimit     = 200
)

// MessageContext is a compact view of a message for downstream consumers
type MessageContext struct {
	MessageID      string               `json:"message_id"`
	ConversationID string               `json:"conversation_id"`
	WorkspaceID    string               `json:"workspace_id"`
	Direction      string               `json:"direction"`
	Provider       string               `json:"provider"`
	Type           string               `json:"type"`
	Status         domain.MessageStatus `json:"status"`
	HasAttachments bool                 `json:"has_attachments"`
	IsReply        bool                 `json:"is_reply"`
	CreatedAt      time.Time            `json:"created_at"`
}

// ChatQueries serves the read side of the chat API
type ChatQueries struct {
	messages      ports.MessageRepository
	conversations ports.ConversationRepository
}

// NewChatQueries creates the read-side service
func NewChatQueries(messages ports.MessageRepository, conversations ports.ConversationRepository) *ChatQueries {
	return &ChatQueries{messages: messages, conversations: conversations}
}

// ListConversations returns the workspace conversations, most recent first
func (q *ChatQueries) ListConversations(ctx context.Context, workspaceID string) ([]domain.Conversation, error) {
	convs, err := q.conversations.FindAll(ctx, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	sort.SliceStable(convs, func(i, j int) bool {
		return convs[i].UpdatedAt.After(convs[j].UpdatedAt)
	})
	return convs, nil
}

// ListMessages returns messages of a conversation after since.
// limit <= 0 means the default; larger values are clamped.
func (q *ChatQueries) ListMessages(ctx context.Context, workspaceID, conversationID string, since *time.Time, limit int) ([]domain.Message, error) {
	if conversationID == "" {
		return nil, &domain.InvalidRequestError{Reason: "conversationId is required"}
	}
	key, _, err := ResolveConversation(conversationID)
	if err != nil {
		return nil, &domain.InvalidRequestError{Reason: "invalid conversationId"}
	}

	switch {
	case limit <= 0:
		limit = DefaultMessageLimit
	case limit > MaxMessageLimit:
		limit = MaxMessageLimit
	}

	msgs, err := q.messages.FindByConversation(ctx, workspaceID, key, since, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return msgs, nil
}

// MessageContext describes one message relative to the requesting user
func (q *ChatQueries) MessageContext(ctx context.Context, workspaceID, messageID, userID string) (*MessageContext, error) {
	if messageID == "" {
		return nil, &domain.MessageNotFoundError{ID: messageID}
	}
	msg, err := q.messages.FindByID(ctx, workspaceID, messageID)
	if err != nil {
		return nil, fmt.Errorf("find message: %w", err)
	}
	if msg == nil {
		return nil, &domain.MessageNotFoundError{ID: messageID}
	}

	provider := "unknown"
	if msg.ExternalID() != "" {
		provider = domain.ProviderEvolution
	}

	return &MessageContext{
		MessageID:      msg.ID,
		ConversationID: msg.ConversationID,
		WorkspaceID:    msg.WorkspaceID,
		Direction:      direction(msg.SenderID, userID),
		Provider:       provider,
		Type:           contextType(msg.Type),
		Status:         msg.Status,
		HasAttachments: len(msg.Attachments) > 0,
		IsReply:        msg.ReplyToMessageID != "",
		CreatedAt:      msg.CreatedAt,
	}, nil
}

func direction(senderID, userID string) string {
	switch {
	case senderID == "":
		return "inbound"
	case senderID == "me" || senderID == domain.SystemSenderID:
		return "outbound"
	case userID != "" && senderID == userID:
		return "outbound"
	}
	return "inbound"
}

func contextType(t domain.MessageType) string {
	switch t {
	case domain.MessageTypeFile:
		return "document"
	case domain.MessageTypeImage, domain.MessageTypeAudio:
		return string(t)
	}
	return "text"
}
