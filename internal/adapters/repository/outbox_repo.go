package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"evolution-relay/internal/core/domain"
)

const outboxColumns = `id, workspace_id, message_id, provider, payload, status, attempts,
	next_retry_at, last_error, created_at, updated_at`

type outboxRow struct {
	ID          string         `db:"id"`
	WorkspaceID string         `db:"workspace_id"`
	MessageID   string         `db:"message_id"`
	Provider    string         `db:"provider"`
	Payload     string         `db:"payload"`
	Status      string         `db:"status"`
	Attempts    int            `db:"attempts"`
	NextRetryAt int64          `db:"next_retry_at"`
	LastError   sql.NullString `db:"last_error"`
	CreatedAt   int64          `db:"created_at"`
	UpdatedAt   int64          `db:"updated_at"`
}

func (r outboxRow) toDomain() domain.OutboxEntry {
	entry := domain.OutboxEntry{
		ID:          r.ID,
		WorkspaceID: r.WorkspaceID,
		MessageID:   r.MessageID,
		Provider:    r.Provider,
		Status:      domain.OutboxStatus(r.Status),
		Attempts:    r.Attempts,
		NextRetryAt: fromMillis(r.NextRetryAt),
		LastError:   r.LastError.String,
		CreatedAt:   fromMillis(r.CreatedAt),
		UpdatedAt:   fromMillis(r.UpdatedAt),
	}
	// An undecodable payload stays zero-valued; the worker rejects it as invalid
	if err := json.Unmarshal([]byte(r.Payload), &entry.Payload); err != nil {
		slog.Warn("Outbox payload is not valid JSON",
			"error", err,
			"outbox_id", r.ID,
		)
	}
	return entry
}

// SQLOutboxRepository is the durable outbound delivery queue
type SQLOutboxRepository struct {
	conn
}

// Enqueue inserts a pending entry due immediately
func (r *SQLOutboxRepository) Enqueue(ctx context.Context, entry *domain.OutboxEntry) error {
	now := time.Now().UTC()
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Provider == "" {
		entry.Provider = domain.ProviderEvolution
	}
	entry.Status = domain.OutboxStatusPending
	entry.Attempts = 0
	entry.NextRetryAt = now
	entry.CreatedAt = now
	entry.UpdatedAt = now

	payload, err := json.Marshal(entry.Payload)
	if err != nil {
		return fmt.Errorf("encode outbox payload: %w", err)
	}

	_, err = r.exec(ctx,
		`INSERT INTO message_outbox (`+outboxColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID,
		entry.WorkspaceID,
		entry.MessageID,
		entry.Provider,
		string(payload),
		string(entry.Status),
		entry.Attempts,
		toMillis(entry.NextRetryAt),
		nullString(entry.LastError),
		toMillis(entry.CreatedAt),
		toMillis(entry.UpdatedAt),
	)
	if err != nil {
		slog.Error("Failed to enqueue outbox entry",
			"error", err,
			"message_id", entry.MessageID,
		)
		return fmt.Errorf("enqueue outbox entry: %w", err)
	}
	return nil
}

// ClaimBatch moves due entries to processing, oldest first. Each row is
// claimed by a conditional update so concurrent workers never share an entry.
func (r *SQLOutboxRepository) ClaimBatch(ctx context.Context, limit int, now time.Time) ([]domain.OutboxEntry, error) {
	if limit <= 0 {
		return nil, nil
	}

	var rows []outboxRow
	err := r.selectAll(ctx, &rows,
		`SELECT `+outboxColumns+` FROM message_outbox
		WHERE status = ? AND next_retry_at <= ?
		ORDER BY created_at ASC, id ASC
		LIMIT `+fmt.Sprint(limit),
		string(domain.OutboxStatusPending), toMillis(now),
	)
	if err != nil {
		return nil, fmt.Errorf("select due outbox entries: %w", err)
	}

	claimed := make([]domain.OutboxEntry, 0, len(rows))
	for _, row := range rows {
		result, err := r.exec(ctx,
			`UPDATE message_outbox SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
			string(domain.OutboxStatusProcessing), toMillis(now), row.ID, string(domain.OutboxStatusPending),
		)
		if err != nil {
			return claimed, fmt.Errorf("claim outbox entry %s: %w", row.ID, err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return claimed, fmt.Errorf("claim outbox entry %s rows: %w", row.ID, err)
		}
		if n == 0 {
			// Another worker won the race
			continue
		}

		entry := row.toDomain()
		entry.Status = domain.OutboxStatusProcessing
		entry.UpdatedAt = fromMillis(toMillis(now))
		claimed = append(claimed, entry)
	}
	return claimed, nil
}

func (r *SQLOutboxRepository) MarkSent(ctx context.Context, id string) error {
	_, err := r.exec(ctx,
		`UPDATE message_outbox SET status = ?, last_error = NULL, updated_at = ? WHERE id = ?`,
		string(domain.OutboxStatusSent), toMillis(time.Now()), id,
	)
	if err != nil {
		return fmt.Errorf("mark outbox sent: %w", err)
	}
	return nil
}

// MarkFailed puts the entry back to pending for a later attempt
func (r *SQLOutboxRepository) MarkFailed(ctx context.Context, id string, attempts int, nextRetryAt time.Time, reason string) error {
	_, err := r.exec(ctx,
		`UPDATE message_outbox
		SET status = ?, attempts = ?, next_retry_at = ?, last_error = ?, updated_at = ?
		WHERE id = ?`,
		string(domain.OutboxStatusPending), attempts, toMillis(nextRetryAt), nullString(reason), toMillis(time.Now()), id,
	)
	if err != nil {
		return fmt.Errorf("mark outbox failed: %w", err)
	}
	return nil
}

// MarkPermanentFailure moves the entry to the terminal failed state
func (r *SQLOutboxRepository) MarkPermanentFailure(ctx context.Context, id string, attempts int, reason string) error {
	_, err := r.exec(ctx,
		`UPDATE message_outbox
		SET status = ?, attempts = ?, last_error = ?, updated_at = ?
		WHERE id = ?`,
		string(domain.OutboxStatusFailed), attempts, nullString(reason), toMillis(time.Now()), id,
	)
	if err != nil {
		return fmt.Errorf("mark outbox permanent failure: %w", err)
	}
	return nil
}

// ReclaimStale returns abandoned processing entries to pending. Attempts are kept.
func (r *SQLOutboxRepository) ReclaimStale(ctx context.Context, olderThan time.Time) (int64, error) {
	result, err := r.exec(ctx,
		`UPDATE message_outbox SET status = ?, updated_at = ? WHERE status = ? AND updated_at < ?`,
		string(domain.OutboxStatusPending), toMillis(time.Now()), string(domain.OutboxStatusProcessing), toMillis(olderThan),
	)
	if err != nil {
		return 0, fmt.Errorf("reclaim stale outbox entries: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reclaim stale rows: %w", err)
	}
	return n, nil
}

// FindByID returns nil, nil when the entry does not exist
func (r *SQLOutboxRepository) FindByID(ctx context.Context, id string) (*domain.OutboxEntry, error) {
	var rows []outboxRow
	if err := r.selectAll(ctx, &rows, `SELECT `+outboxColumns+` FROM message_outbox WHERE id = ?`, id); err != nil {
		return nil, fmt.Errorf("get outbox entry: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	entry := rows[0].toDomain()
	return &entry, nil
}

// CountByStatus reports queue depth per status
func (r *SQLOutboxRepository) CountByStatus(ctx context.Context) (map[domain.OutboxStatus]int, error) {
	var rows []struct {
		Status string `db:"status"`
		Count  int    `db:"n"`
	}
	if err := r.selectAll(ctx, &rows, `SELECT status, COUNT(*) AS n FROM message_outbox GROUP BY status`); err != nil {
		return nil, fmt.Errorf("count outbox entries: %w", err)
	}
	counts := make(map[domain.OutboxStatus]int, len(rows))
	for _, row := range rows {
		counts[domain.OutboxStatus(row.Status)] = row.Count
	}
	return counts, nil
}
