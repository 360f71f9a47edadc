package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"evolution-relay/internal/core/domain"
	"evolution-relay/internal/core/ports"
)

// Outbox defaults
const (
	DefaultOutboxMaxAttempts = 5
	DefaultOutboxBackoffBase = 5 * time.Second
	DefaultOutboxBackoffCap  = 300 * time.Second
	DefaultOutboxBatchSize   = 10
	DefaultSignedURLTTL      = time.Hour
)

var errInvalidOutboxPayload = errors.New("invalid outbox payload")

// OutboxConfig controls the retry policy
type OutboxConfig struct {
	MaxAttempts  int
	BackoffBase  time.Duration
	BackoffCap   time.Duration
	SignedURLTTL time.Duration
}

func (c OutboxConfig) withDefaults() OutboxConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultOutboxMaxAttempts
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = DefaultOutboxBackoffBase
	}
	if c.BackoffCap <= 0 {
		c.BackoffCap = DefaultOutboxBackoffCap
	}
	if c.SignedURLTTL <= 0 {
		c.SignedURLTTL = DefaultSignedURLTTL
	}
	return c
}

// Backoff returns min(base * 2^(attempts-1), ceiling) without overflowing
func Backoff(attempts int, base, ceiling time.Duration) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	delay := base
	for i := 1; i < attempts; i++ {
		if delay >= ceiling/2 {
			return ceiling
		}
		delay *= 2
	}
	if delay > ceiling {
		return ceiling
	}
	return delay
}

// BatchResult summarizes one worker pass
type BatchResult struct {
	Processed int `json:"processed"`
	Sent      int `json:"sent"`
	Retried   int `json:"retried"`
	Failed    int `json:"failed"` // permanently failed
}

// OutboxDeps groups the worker collaborators
type OutboxDeps struct {
	Outbox        ports.OutboxRepository
	Messages      ports.MessageRepository
	Conversations ports.ConversationRepository
	Numbers       ports.WhatsAppNumberRepository
	UnitOfWork    ports.UnitOfWork
	Reconciler    *Reconciler
	Provider      ports.MessageProvider
	Media         ports.MediaStorage // optional
	Publisher     ports.EventPublisher
	Pause         *PauseSwitch // optional
}

// OutboxWorker claims outbox entries and delivers them through the provider
type OutboxWorker struct {
	deps  OutboxDeps
	cfg   OutboxConfig
	nudge chan struct{}
	now   func() time.Time
}

// NewOutboxWorker creates a new worker
func NewOutboxWorker(deps OutboxDeps, cfg OutboxConfig) *OutboxWorker {
	if deps.Publisher == nil {
		deps.Publisher = NoopPublisher{}
	}
	return &OutboxWorker{
		deps:  deps,
		cfg:   cfg.withDefaults(),
		nudge: make(chan struct{}, 1),
		now:   time.Now,
	}
}

// Nudge wakes the polling loop without waiting for the next tick
func (w *OutboxWorker) Nudge() {
	select {
	case w.nudge <- struct{}{}:
	default:
	}
}

// Run polls the outbox until ctx is cancelled
func (w *OutboxWorker) Run(ctx context.Context, interval time.Duration, limit int) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	slog.Info("Outbox worker started",
		"interval", interval,
		"batch_size", limit,
		"max_attempts", w.cfg.MaxAttempts,
	)

	for {
		select {
		case <-ctx.Done():
			slog.Info("Outbox worker stopped")
			return
		case <-ticker.C:
		case <-w.nudge:
		}

		if w.deps.Pause != nil && w.deps.Pause.IsActive() {
			slog.Warn("Outbox worker paused, skipping tick")
			continue
		}

		result, err := w.ProcessBatch(ctx, limit)
		if err != nil {
			slog.Error("Outbox batch failed", "error", err)
			continue
		}
		if result.Processed > 0 {
			slog.Info("Outbox batch completed",
				"processed", result.Processed,
				"sent", result.Sent,
				"retried", result.Retried,
				"failed", result.Failed,
			)
		}
	}
}

// ProcessBatch claims up to limit due entries and delivers each one.
// A claimed entry always ends sent, pending (retry) or failed.
func (w *OutboxWorker) ProcessBatch(ctx context.Context, limit int) (BatchResult, error) {
	var result BatchResult
	if limit <= 0 {
		limit = DefaultOutboxBatchSize
	}

	entries, err := w.deps.Outbox.ClaimBatch(ctx, limit, w.now())
	if err != nil {
		return result, fmt.Errorf("claim outbox batch: %w", err)
	}

	// Claimed entries run to completion even if the caller goes away
	dctx := context.WithoutCancel(ctx)

	for i := range entries {
		entry := &entries[i]
		result.Processed++

		providerID, err := w.deliver(dctx, entry)
		if err == nil {
			result.Sent++
			slog.Info("Outbox entry sent",
				"outbox_id", entry.ID,
				"message_id", entry.MessageID,
				"provider_message_id", providerID,
			)
			continue
		}

		if w.handleFailure(dctx, entry, err) {
			result.Failed++
		} else {
			result.Retried++
		}
	}

	return result, nil
}

// deliver sends one entry and records the outcome on the message
func (w *OutboxWorker) deliver(ctx context.Context, entry *domain.OutboxEntry) (string, error) {
	payload := entry.Payload
	if payload.To == "" || !payload.Type.Valid() {
		return "", errInvalidOutboxPayload
	}

	msg, err := w.deps.Messages.FindByID(ctx, entry.WorkspaceID, entry.MessageID)
	if err != nil {
		return "", fmt.Errorf("find message: %w", err)
	}
	if msg == nil {
		return "", &domain.MessageNotFoundError{ID: entry.MessageID}
	}

	opts, err := w.sendOptions(ctx, entry.WorkspaceID, msg.ConversationID)
	if err != nil {
		return "", err
	}
	opts.ReplyMessageID = payload.ReplyMessageID

	var sent ports.SendResult
	if payload.Type == domain.MessageTypeText {
		sent, err = w.deps.Provider.SendText(ctx, payload.To, payload.Text, opts)
	} else {
		mediaURL, uerr := w.mediaURL(ctx, payload)
		if uerr != nil {
			return "", uerr
		}
		sent, err = w.deps.Provider.SendMedia(ctx, payload.To, mediaURL, payload.Type, payload.Caption, opts)
	}
	if err != nil {
		return "", fmt.Errorf("provider send: %w", err)
	}

	// ========================================================================
	// Record the provider id, then apply any status that raced ahead of it
	// ========================================================================
	status := domain.MessageStatusSent
	patch := domain.MessagePatch{Status: &status}
	if sent.ProviderMessageID != "" {
		patch.Metadata = &domain.MessageMetadata{ProviderMessageID: sent.ProviderMessageID}
	}
	err = w.deps.UnitOfWork.WithinTx(ctx, func(ctx context.Context, repos ports.TxRepositories) error {
		if err := repos.Messages.Update(ctx, entry.WorkspaceID, entry.MessageID, patch); err != nil {
			return err
		}
		msg.Status = status
		msg.Metadata = patch.Metadata
		if w.deps.Reconciler != nil {
			return w.deps.Reconciler.ResolvePending(ctx, repos, msg)
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("update sent message: %w", err)
	}
	if w.deps.Reconciler != nil {
		if err := w.deps.Reconciler.Settle(ctx, msg); err != nil {
			slog.Error("Failed to settle pending status after commit",
				"error", err,
				"message_id", msg.ID,
			)
		}
	}

	if err := w.deps.Outbox.MarkSent(ctx, entry.ID); err != nil {
		// The message is out; a stale reclaim may resend it (at-least-once)
		slog.Error("Failed to mark outbox entry sent",
			"error", err,
			"outbox_id", entry.ID,
		)
	}

	publish(ctx, w.deps.Publisher, ports.EventOutboxSent, map[string]any{
		"outboxId":          entry.ID,
		"workspaceId":       entry.WorkspaceID,
		"messageId":         entry.MessageID,
		"providerMessageId": sent.ProviderMessageID,
	})
	return sent.ProviderMessageID, nil
}

// sendOptions resolves the line credentials when the conversation names one
func (w *OutboxWorker) sendOptions(ctx context.Context, workspaceID, conversationID string) (ports.SendOptions, error) {
	var opts ports.SendOptions

	conv, err := w.deps.Conversations.FindByID(ctx, workspaceID, conversationID)
	if err != nil {
		return opts, fmt.Errorf("find conversation: %w", err)
	}
	if conv == nil || conv.WhatsAppNumberID == "" {
		return opts, nil
	}

	number, err := w.deps.Numbers.FindByID(ctx, conv.WhatsAppNumberID)
	if err != nil {
		return opts, fmt.Errorf("find whatsapp number: %w", err)
	}
	if number != nil {
		opts.Instance = number.InstanceName
		opts.APIKey = number.APIKey
	}
	return opts, nil
}

// mediaURL re-signs stored media so the provider never sees an expired link
func (w *OutboxWorker) mediaURL(ctx context.Context, payload domain.OutboxPayload) (string, error) {
	if payload.MediaPath != "" && w.deps.Media != nil {
		signed, err := w.deps.Media.SignedURL(ctx, payload.MediaPath, w.cfg.SignedURLTTL)
		if err != nil {
			return "", fmt.Errorf("sign media url: %w", err)
		}
		return signed, nil
	}
	if payload.MediaURL == "" {
		return "", errInvalidOutboxPayload
	}
	return payload.MediaURL, nil
}

// handleFailure applies the retry policy. Reports whether the entry is now permanently failed.
func (w *OutboxWorker) handleFailure(ctx context.Context, entry *domain.OutboxEntry, cause error) bool {
	attempts := entry.Attempts + 1
	reason := cause.Error()

	if attempts >= w.cfg.MaxAttempts {
		if err := w.deps.Outbox.MarkPermanentFailure(ctx, entry.ID, attempts, reason); err != nil {
			slog.Error("Failed to mark outbox entry failed",
				"error", err,
				"outbox_id", entry.ID,
			)
		}
		if err := w.deps.Messages.UpdateStatus(ctx, entry.WorkspaceID, entry.MessageID, domain.MessageStatusFailed); err != nil {
			slog.Error("Failed to mark message failed",
				"error", err,
				"message_id", entry.MessageID,
			)
		}
		slog.Warn("Outbox entry permanently failed",
			"outbox_id", entry.ID,
			"message_id", entry.MessageID,
			"attempts", attempts,
			"reason", reason,
		)
		publish(ctx, w.deps.Publisher, ports.EventOutboxFailed, map[string]any{
			"outboxId":    entry.ID,
			"workspaceId": entry.WorkspaceID,
			"messageId":   entry.MessageID,
			"attempts":    attempts,
			"reason":      reason,
		})
		return true
	}

	nextRetryAt := w.now().Add(Backoff(attempts, w.cfg.BackoffBase, w.cfg.BackoffCap))
	if err := w.deps.Outbox.MarkFailed(ctx, entry.ID, attempts, nextRetryAt, reason); err != nil {
		slog.Error("Failed to reschedule outbox entry",
			"error", err,
			"outbox_id", entry.ID,
		)
	}
	slog.Warn("Outbox delivery failed, will retry",
		"outbox_id", entry.ID,
		"attempts", attempts,
		"next_retry_at", nextRetryAt,
		"reason", reason,
	)
	return false
}
