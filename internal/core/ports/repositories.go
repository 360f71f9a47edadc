// Package ports defines interfaces for dependency inversion
// Following Hexagonal Architecture: Core defines contracts, Adapters implement them
package ports

import (
	"context"
	"time"

	"evolution-relay/internal/core/domain"
)

// MessageRepository handles persistence of chat messages
type MessageRepository interface {
	// FindByConversation lists messages of a conversation, oldest first.
	// since is exclusive; limit <= 0 means no limit
	FindByConversation(ctx context.Context, workspaceID, conversationID string, since *time.Time, limit int) ([]domain.Message, error)

	// FindByID returns nil, nil when the message does not exist
	FindByID(ctx context.Context, workspaceID, id string) (*domain.Message, error)

	// FindByExternalID looks a message up by its provider-assigned id
	FindByExternalID(ctx context.Context, workspaceID, externalID string) (*domain.Message, error)

	// Save inserts a new message.
	// Fails with domain.ErrDuplicateMessage on a unique-constraint violation
	Save(ctx context.Context, msg *domain.Message) error

	// UpdateStatus fails with domain.ErrMessageNotFound when no row matched
	UpdateStatus(ctx context.Context, workspaceID, id string, status domain.MessageStatus) error

	// Update applies a partial update (status and/or metadata enrichment)
	Update(ctx context.Context, workspaceID, id string, patch domain.MessagePatch) error
}

// ConversationRepository handles conversation/thread management
type ConversationRepository interface {
	FindByID(ctx context.Context, workspaceID, id string) (*domain.Conversation, error)

	// FindAll lists every conversation of a workspace, most recently updated first
	FindAll(ctx context.Context, workspaceID string) ([]domain.Conversation, error)

	Save(ctx context.Context, conv *domain.Conversation) error

	// Update patches lastMessage/updatedAt. patch.WorkspaceID is required
	Update(ctx context.Context, id string, patch domain.ConversationPatch) error
}

// MessageStatusRepository is the Reconciler's write-ahead buffer
type MessageStatusRepository interface {
	// UpsertPending overwrites any earlier pending value for the same key
	UpsertPending(ctx context.Context, pending domain.PendingStatus) error

	// GetPending returns nil, nil when nothing is buffered
	GetPending(ctx context.Context, workspaceID, provider, externalMessageID string) (*domain.PendingStatus, error)

	DeletePending(ctx context.Context, workspaceID, provider, externalMessageID string) error
}

// OutboxRepository is the durable outbound delivery queue
type OutboxRepository interface {
	// Enqueue inserts a pending entry with zero attempts and nextRetryAt = now
	Enqueue(ctx context.Context, entry *domain.OutboxEntry) error

	// ClaimBatch moves up to limit due entries from pending to processing.
	// Each transition is a single conditional update; entries lost to another
	// worker are skipped
	ClaimBatch(ctx context.Context, limit int, now time.Time) ([]domain.OutboxEntry, error)

	MarkSent(ctx context.Context, id string) error

	// MarkFailed records a retryable failure and puts the entry back to pending
	MarkFailed(ctx context.Context, id string, attempts int, nextRetryAt time.Time, reason string) error

	// MarkPermanentFailure moves the entry to the terminal failed state
	MarkPermanentFailure(ctx context.Context, id string, attempts int, reason string) error

	// ReclaimStale returns processing entries last touched before olderThan to pending
	ReclaimStale(ctx context.Context, olderThan time.Time) (int64, error)
}

// WebhookEventRepository persists the inbound event audit trail
type WebhookEventRepository interface {
	// Save fails with domain.ErrDuplicateWebhookEvent when the id is taken
	Save(ctx context.Context, event *domain.WebhookEvent) error

	// UpdateStatus reports false when the event id is unknown
	UpdateStatus(ctx context.Context, id string, status domain.WebhookEventStatus, reason string) (bool, error)

	FindByID(ctx context.Context, id string) (*domain.WebhookEvent, error)
}

// IdempotencyIndex maps an idempotency key to its primary event id
type IdempotencyIndex interface {
	// Claim registers eventID as primary for key unless another event got there first.
	// Returns the primary event id and whether this call claimed it
	Claim(ctx context.Context, key, eventID string) (primaryID string, claimed bool, err error)
}

// WhatsAppNumberRepository resolves provider lines
type WhatsAppNumberRepository interface {
	FindByInstance(ctx context.Context, instanceName string) (*domain.WhatsAppNumber, error)
	FindByID(ctx context.Context, id string) (*domain.WhatsAppNumber, error)
}

// TxRepositories are repositories bound to a single transaction
type TxRepositories struct {
	Messages      MessageRepository
	Conversations ConversationRepository
	Statuses      MessageStatusRepository
	Outbox        OutboxRepository
}

// UnitOfWork runs fn atomically: every write through repos commits or none does
type UnitOfWork interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, repos TxRepositories) error) error
}
