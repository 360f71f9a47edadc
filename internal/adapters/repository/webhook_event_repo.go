package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"evolution-relay/internal/core/domain"
)

type webhookEventRow struct {
	ID             string         `db:"id"`
	Provider       string         `db:"provider"`
	WorkspaceID    string         `db:"workspace_id"`
	EventType      string         `db:"event_type"`
	Payload        string         `db:"payload"`
	PayloadHash    string         `db:"payload_hash"`
	IdempotencyKey string         `db:"idempotency_key"`
	ReceivedAt     int64          `db:"received_at"`
	Status         string         `db:"status"`
	Error          sql.NullString `db:"error"`
}

// SQLWebhookEventRepository persists the inbound audit trail
type SQLWebhookEventRepository struct {
	conn
}

// Save fails with ErrDuplicateWebhookEvent when the id is taken
func (r *SQLWebhookEventRepository) Save(ctx context.Context, event *domain.WebhookEvent) error {
	_, err := r.exec(ctx,
		`INSERT INTO webhook_events (id, provider, workspace_id, event_type, payload, payload_hash,
			idempotency_key, received_at, status, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ID,
		event.Provider,
		event.WorkspaceID,
		event.EventType,
		string(event.Payload),
		event.PayloadHash,
		event.IdempotencyKey,
		toMillis(event.ReceivedAt),
		string(event.Status),
		nullString(event.Error),
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("save webhook event %s: %w", event.ID, domain.ErrDuplicateWebhookEvent)
	}
	if err != nil {
		slog.Error("Failed to save webhook event",
			"error", err,
			"event_id", event.ID,
		)
		return fmt.Errorf("save webhook event: %w", err)
	}
	return nil
}

// UpdateStatus reports false when the event id is unknown
func (r *SQLWebhookEventRepository) UpdateStatus(ctx context.Context, id string, status domain.WebhookEventStatus, reason string) (bool, error) {
	result, err := r.exec(ctx,
		`UPDATE webhook_events SET status = ?, error = ? WHERE id = ?`,
		string(status), nullString(reason), id,
	)
	if err != nil {
		slog.Error("Failed to update webhook event status",
			"error", err,
			"event_id", id,
			"status", status,
		)
		return false, fmt.Errorf("update webhook event status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update webhook event rows: %w", err)
	}
	return rows > 0, nil
}

// FindByID returns nil, nil when the event does not exist
func (r *SQLWebhookEventRepository) FindByID(ctx context.Context, id string) (*domain.WebhookEvent, error) {
	var row webhookEventRow
	err := r.get(ctx, &row,
		`SELECT id, provider, workspace_id, event_type, payload, payload_hash,
			idempotency_key, received_at, status, error
		FROM webhook_events WHERE id = ?`,
		id,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get webhook event: %w", err)
	}

	return &domain.WebhookEvent{
		ID:             row.ID,
		Provider:       row.Provider,
		WorkspaceID:    row.WorkspaceID,
		EventType:      row.EventType,
		Payload:        []byte(row.Payload),
		PayloadHash:    row.PayloadHash,
		IdempotencyKey: row.IdempotencyKey,
		ReceivedAt:     fromMillis(row.ReceivedAt),
		Status:         domain.WebhookEventStatus(row.Status),
		Error:          row.Error.String,
	}, nil
}

// SQLIdempotencyIndex keeps the idempotency key to primary event mapping in
// the webhook_idempotency table
type SQLIdempotencyIndex struct {
	conn
}

// Claim registers eventID as primary for key unless another event got there first
func (r *SQLIdempotencyIndex) Claim(ctx context.Context, key, eventID string) (string, bool, error) {
	result, err := r.exec(ctx,
		insertIgnore(r.driver, "webhook_idempotency", "idempotency_key, event_id, created_at", "?, ?, ?"),
		key, eventID, toMillis(time.Now()),
	)
	if err != nil {
		return "", false, fmt.Errorf("claim idempotency key: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return "", false, fmt.Errorf("claim idempotency key rows: %w", err)
	}
	if rows == 1 {
		return eventID, true, nil
	}

	var primaryID string
	if err := r.get(ctx, &primaryID,
		`SELECT event_id FROM webhook_idempotency WHERE idempotency_key = ?`, key,
	); err != nil {
		return "", false, fmt.Errorf("get primary event: %w", err)
	}
	return primaryID, primaryID == eventID, nil
}
