package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"evolution-relay/internal/core/domain"
	"evolution-relay/internal/core/ports"
)

// SendMessageInput is an outbound message request from the chat API
type SendMessageInput struct {
	WorkspaceID      string
	UserID           string
	ConversationID   string
	WhatsAppNumberID string
	Type             domain.MessageType
	Content          string
	ReplyToMessageID string
	Attachments      []domain.Attachment
}

// SenderDeps groups the sender collaborators
type SenderDeps struct {
	Messages      ports.MessageRepository
	Conversations ports.ConversationRepository
	UnitOfWork    ports.UnitOfWork
	Media         ports.MediaStorage // optional
	Publisher     ports.EventPublisher
	Nudge         func() // optional, wakes an in-process worker
}

// Sender stores outbound messages and queues them for delivery
type Sender struct {
	deps         SenderDeps
	signedURLTTL time.Duration
	now          func() time.Time
	newID        func() string
}

// NewSender creates a new sender
func NewSender(deps SenderDeps, signedURLTTL time.Duration) *Sender {
	if deps.Publisher == nil {
		deps.Publisher = NoopPublisher{}
	}
	if signedURLTTL <= 0 {
		signedURLTTL = DefaultSignedURLTTL
	}
	return &Sender{
		deps:         deps,
		signedURLTTL: signedURLTTL,
		now:          time.Now,
		newID:        uuid.NewString,
	}
}

// Send validates the request, saves the message as pending, enqueues the
// delivery and touches the conversation. Message, outbox entry and
// conversation are written in one transaction.
func (s *Sender) Send(ctx context.Context, in SendMessageInput) (*domain.Message, error) {
	// ========================================================================
	// Step 1: Validate
	// ========================================================================
	if in.ConversationID == "" || in.Type == "" {
		return nil, &domain.InvalidRequestError{Reason: "conversationId and type are required"}
	}
	if !in.Type.Valid() {
		return nil, &domain.InvalidRequestError{Reason: "unsupported message type " + string(in.Type)}
	}
	if in.Type == domain.MessageTypeText && in.Content == "" {
		return nil, &domain.InvalidRequestError{Reason: "content is required for text messages"}
	}
	if in.Type.IsMedia() && len(in.Attachments) == 0 {
		return nil, &domain.InvalidRequestError{Reason: "attachments are required for media messages"}
	}

	conversationKey, _, err := ResolveConversation(in.ConversationID)
	if err != nil {
		return nil, &domain.InvalidRequestError{Reason: "invalid conversationId"}
	}
	to, err := NormalizeAddress(in.ConversationID)
	if err != nil {
		return nil, &domain.InvalidRequestError{Reason: "invalid conversationId"}
	}

	// ========================================================================
	// Step 2: Resolve the quoted message
	// ========================================================================
	replyProviderID := ""
	if in.ReplyToMessageID != "" {
		reply, err := s.deps.Messages.FindByID(ctx, in.WorkspaceID, in.ReplyToMessageID)
		if err != nil {
			return nil, fmt.Errorf("find reply target: %w", err)
		}
		if reply == nil || reply.ConversationID != conversationKey {
			return nil, &domain.InvalidRequestError{Reason: "invalid replyToMessageId"}
		}
		replyProviderID = reply.ExternalID()
	}

	// ========================================================================
	// Step 3: Build message and outbox payload
	// ========================================================================
	senderID := in.UserID
	if senderID == "" {
		senderID = domain.SystemSenderID
	}
	now := s.now()
	msg := &domain.Message{
		ID:               "msg-" + s.newID(),
		WorkspaceID:      in.WorkspaceID,
		ConversationID:   conversationKey,
		SenderID:         senderID,
		Type:             in.Type,
		Content:          in.Content,
		ReplyToMessageID: in.ReplyToMessageID,
		Status:           domain.MessageStatusPending,
		CreatedAt:        now,
	}
	for _, att := range in.Attachments {
		att.MessageID = msg.ID
		msg.Attachments = append(msg.Attachments, att)
	}

	payload := domain.OutboxPayload{
		Type:           in.Type,
		To:             to,
		ReplyMessageID: replyProviderID,
	}
	if in.Type == domain.MessageTypeText {
		payload.Text = in.Content
	} else {
		payload.Caption = in.Content
		if err := s.resolveMedia(ctx, &payload, msg.Attachments[0]); err != nil {
			return nil, err
		}
	}

	entry := &domain.OutboxEntry{
		ID:          s.newID(),
		WorkspaceID: in.WorkspaceID,
		MessageID:   msg.ID,
		Provider:    domain.ProviderEvolution,
		Payload:     payload,
	}

	seed := domain.Conversation{
		ID:               conversationKey,
		WorkspaceID:      in.WorkspaceID,
		ContactID:        conversationKey,
		WhatsAppNumberID: in.WhatsAppNumberID,
		Channel:          domain.ChannelWhatsApp,
		Participants: []domain.Participant{
			{ID: senderID, Name: domain.SystemParticipantName},
		},
	}

	// ========================================================================
	// Step 4: Persist as one unit
	// ========================================================================
	err = s.deps.UnitOfWork.WithinTx(ctx, func(ctx context.Context, repos ports.TxRepositories) error {
		if err := repos.Messages.Save(ctx, msg); err != nil {
			return err
		}
		if err := repos.Outbox.Enqueue(ctx, entry); err != nil {
			return err
		}
		_, err := touchConversation(ctx, repos.Conversations, seed, lastMessageOf(msg), now)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("persist outbound message: %w", err)
	}

	slog.Info("Outbound message queued",
		"message_id", msg.ID,
		"outbox_id", entry.ID,
		"conversation_id", conversationKey,
		"type", msg.Type,
	)

	publish(ctx, s.deps.Publisher, ports.EventOutboxEnqueued, map[string]any{
		"outboxId":    entry.ID,
		"workspaceId": in.WorkspaceID,
		"messageId":   msg.ID,
	})
	if s.deps.Nudge != nil {
		s.deps.Nudge()
	}
	return msg, nil
}

// resolveMedia fills mediaUrl/mediaPath from the first attachment
func (s *Sender) resolveMedia(ctx context.Context, payload *domain.OutboxPayload, att domain.Attachment) error {
	payload.MediaPath = att.Metadata.StoragePath
	payload.MediaURL = att.URL

	if payload.MediaURL == "" && payload.MediaPath != "" && s.deps.Media != nil {
		signed, err := s.deps.Media.SignedURL(ctx, payload.MediaPath, s.signedURLTTL)
		if err != nil {
			return fmt.Errorf("sign media url: %w", err)
		}
		payload.MediaURL = signed
	}
	if payload.MediaURL == "" && payload.MediaPath == "" {
		return &domain.InvalidRequestError{Reason: "attachment has no url or storagePath"}
	}
	return nil
}
