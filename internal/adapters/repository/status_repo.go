package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"evolution-relay/internal/core/domain"
)

type pendingStatusRow struct {
	WorkspaceID       string `db:"workspace_id"`
	Provider          string `db:"provider"`
	ExternalMessageID string `db:"external_message_id"`
	Status            string `db:"status"`
	UpdatedAt         int64  `db:"updated_at"`
}

// SQLStatusRepository buffers status updates that arrived before their message
type SQLStatusRepository struct {
	conn
}

// UpsertPending overwrites any earlier value for the same key
func (r *SQLStatusRepository) UpsertPending(ctx context.Context, pending domain.PendingStatus) error {
	query := `INSERT INTO message_status_pending (workspace_id, provider, external_message_id, status, updated_at)
		VALUES (?, ?, ?, ?, ?)` +
		upsertClause(r.driver,
			[]string{"workspace_id", "provider", "external_message_id"},
			[]string{"status", "updated_at"},
		)

	_, err := r.exec(ctx, query,
		pending.WorkspaceID,
		pending.Provider,
		pending.ExternalMessageID,
		string(pending.Status),
		toMillis(pending.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert pending status: %w", err)
	}
	return nil
}

// GetPending returns nil, nil when nothing is buffered
func (r *SQLStatusRepository) GetPending(ctx context.Context, workspaceID, provider, externalMessageID string) (*domain.PendingStatus, error) {
	var row pendingStatusRow
	err := r.get(ctx, &row,
		`SELECT workspace_id, provider, external_message_id, status, updated_at
		FROM message_status_pending
		WHERE workspace_id = ? AND provider = ? AND external_message_id = ?`,
		workspaceID, provider, externalMessageID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get pending status: %w", err)
	}

	return &domain.PendingStatus{
		WorkspaceID:       row.WorkspaceID,
		Provider:          row.Provider,
		ExternalMessageID: row.ExternalMessageID,
		Status:            domain.MessageStatus(row.Status),
		UpdatedAt:         fromMillis(row.UpdatedAt),
	}, nil
}

func (r *SQLStatusRepository) DeletePending(ctx context.Context, workspaceID, provider, externalMessageID string) error {
	_, err := r.exec(ctx,
		`DELETE FROM message_status_pending WHERE workspace_id = ? AND provider = ? AND external_message_id = ?`,
		workspaceID, provider, externalMessageID,
	)
	if err != nil {
		return fmt.Errorf("delete pending status: %w", err)
	}
	return nil
}
