package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"evolution-relay/internal/core/domain"
	"evolution-relay/internal/core/ports"
)

// EventStore records inbound webhook events and suppresses duplicates
type EventStore struct {
	events ports.WebhookEventRepository
	index  ports.IdempotencyIndex
}

// NewEventStore creates a new event store
func NewEventStore(events ports.WebhookEventRepository, index ports.IdempotencyIndex) *EventStore {
	return &EventStore{
		events: events,
		index:  index,
	}
}

// HashPayload returns the hex sha256 of the raw request body
func HashPayload(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// EventIDFromHash derives the event id from the payload hash
func EventIDFromHash(provider, payloadHash string) string {
	return provider + ":" + payloadHash
}

// BuildIdempotencyKey identifies "the same logical event" across redeliveries.
// The external message id is preferred; the payload hash is the fallback.
func BuildIdempotencyKey(workspaceID, eventType, externalMessageID, payloadHash string) string {
	if externalMessageID != "" {
		return fmt.Sprintf("%s:%s:%s", workspaceID, eventType, externalMessageID)
	}
	return fmt.Sprintf("%s:%s:%s", workspaceID, eventType, payloadHash)
}

// Record stores the event and claims its idempotency key. If another event
// already owns the key the record is reclassified as duplicate and isDuplicate is true.
func (s *EventStore) Record(ctx context.Context, event *domain.WebhookEvent) (*domain.WebhookEvent, bool, error) {
	stored := *event
	stored.Status = domain.WebhookEventReceived

	err := s.events.Save(ctx, &stored)
	if errors.Is(err, domain.ErrDuplicateWebhookEvent) {
		// Same body delivered again: every attempt keeps its own audit row
		stored.ID = fmt.Sprintf("%s:%s", event.ID, uuid.NewString())
		err = s.events.Save(ctx, &stored)
	}
	if err != nil {
		return nil, false, fmt.Errorf("save webhook event: %w", err)
	}

	primaryID, claimed, err := s.index.Claim(ctx, stored.IdempotencyKey, stored.ID)
	if err != nil {
		return nil, false, fmt.Errorf("claim idempotency key: %w", err)
	}
	if claimed {
		return &stored, false, nil
	}

	stored.Status = domain.WebhookEventDuplicate
	if _, err := s.events.UpdateStatus(ctx, stored.ID, domain.WebhookEventDuplicate, ""); err != nil {
		return nil, false, fmt.Errorf("mark webhook event duplicate: %w", err)
	}

	slog.Info("Duplicate webhook event",
		"event_id", stored.ID,
		"primary_event_id", primaryID,
		"idempotency_key", stored.IdempotencyKey,
	)
	return &stored, true, nil
}

// UpdateStatus sets the terminal status of an event. Unknown ids are ignored.
func (s *EventStore) UpdateStatus(ctx context.Context, eventID string, status domain.WebhookEventStatus, reason string) error {
	found, err := s.events.UpdateStatus(ctx, eventID, status, reason)
	if err != nil {
		return fmt.Errorf("update webhook event status: %w", err)
	}
	if !found {
		slog.Debug("Status update for unknown webhook event ignored",
			"event_id", eventID,
			"status", status,
		)
	}
	return nil
}
