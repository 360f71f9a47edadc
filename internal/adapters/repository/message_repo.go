package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"evolution-relay/internal/core/domain"
)

const messageColumns = `id, workspace_id, conversation_id, sender_id, type, content,
	reply_to_message_id, status, attachments, provider, external_id, created_at, updated_at`

type messageRow struct {
	ID               string         `db:"id"`
	WorkspaceID      string         `db:"workspace_id"`
	ConversationID   string         `db:"conversation_id"`
	SenderID         string         `db:"sender_id"`
	Type             string         `db:"type"`
	Content          string         `db:"content"`
	ReplyToMessageID sql.NullString `db:"reply_to_message_id"`
	Status           string         `db:"status"`
	Attachments      string         `db:"attachments"`
	Provider         sql.NullString `db:"provider"`
	ExternalID       sql.NullString `db:"external_id"`
	CreatedAt        int64          `db:"created_at"`
	UpdatedAt        sql.NullInt64  `db:"updated_at"`
}

func (r messageRow) toDomain() (*domain.Message, error) {
	msg := &domain.Message{
		ID:               r.ID,
		WorkspaceID:      r.WorkspaceID,
		ConversationID:   r.ConversationID,
		SenderID:         r.SenderID,
		Type:             domain.MessageType(r.Type),
		Content:          r.Content,
		ReplyToMessageID: r.ReplyToMessageID.String,
		Status:           domain.MessageStatus(r.Status),
		CreatedAt:        fromMillis(r.CreatedAt),
	}
	if r.Attachments != "" {
		if err := json.Unmarshal([]byte(r.Attachments), &msg.Attachments); err != nil {
			return nil, fmt.Errorf("decode attachments of %s: %w", r.ID, err)
		}
	}
	if r.ExternalID.Valid {
		msg.Metadata = &domain.MessageMetadata{ProviderMessageID: r.ExternalID.String}
	}
	if r.UpdatedAt.Valid {
		t := fromMillis(r.UpdatedAt.Int64)
		msg.UpdatedAt = &t
	}
	return msg, nil
}

// SQLMessageRepository stores chat messages
type SQLMessageRepository struct {
	conn
}

// ============================================================================
// Reads
// ============================================================================

// FindByConversation lists messages oldest first
func (r *SQLMessageRepository) FindByConversation(ctx context.Context, workspaceID, conversationID string, since *time.Time, limit int) ([]domain.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE workspace_id = ? AND conversation_id = ?`
	args := []interface{}{workspaceID, conversationID}
	if since != nil {
		query += ` AND created_at > ?`
		args = append(args, toMillis(*since))
	}
	query += ` ORDER BY created_at ASC, id ASC`
	if limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, limit)
	}

	var rows []messageRow
	if err := r.selectAll(ctx, &rows, query, args...); err != nil {
		slog.Error("Failed to list messages",
			"error", err,
			"workspace_id", workspaceID,
			"conversation_id", conversationID,
		)
		return nil, fmt.Errorf("list messages: %w", err)
	}

	messages := make([]domain.Message, 0, len(rows))
	for _, row := range rows {
		msg, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		messages = append(messages, *msg)
	}
	return messages, nil
}

// FindByID returns nil, nil when the message does not exist
func (r *SQLMessageRepository) FindByID(ctx context.Context, workspaceID, id string) (*domain.Message, error) {
	return r.findOne(ctx, `SELECT `+messageColumns+` FROM messages WHERE workspace_id = ? AND id = ?`, workspaceID, id)
}

// FindByExternalID looks a message up by its provider-assigned id
func (r *SQLMessageRepository) FindByExternalID(ctx context.Context, workspaceID, externalID string) (*domain.Message, error) {
	return r.findOne(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE workspace_id = ? AND provider = ? AND external_id = ?`,
		workspaceID, domain.ProviderEvolution, externalID,
	)
}

func (r *SQLMessageRepository) findOne(ctx context.Context, query string, args ...interface{}) (*domain.Message, error) {
	var row messageRow
	err := r.get(ctx, &row, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil // Not found
	}
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}
	return row.toDomain()
}

// ============================================================================
// Writes
// ============================================================================

// Save inserts a new message
func (r *SQLMessageRepository) Save(ctx context.Context, msg *domain.Message) error {
	attachments, err := json.Marshal(msg.Attachments)
	if err != nil {
		return fmt.Errorf("encode attachments: %w", err)
	}
	if msg.Attachments == nil {
		attachments = []byte("[]")
	}

	var provider, externalID sql.NullString
	if ext := msg.ExternalID(); ext != "" {
		provider = nullString(domain.ProviderEvolution)
		externalID = nullString(ext)
	}

	var updatedAt sql.NullInt64
	if msg.UpdatedAt != nil {
		updatedAt = sql.NullInt64{Int64: toMillis(*msg.UpdatedAt), Valid: true}
	}

	_, err = r.exec(ctx,
		`INSERT INTO messages (`+messageColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID,
		msg.WorkspaceID,
		msg.ConversationID,
		msg.SenderID,
		string(msg.Type),
		msg.Content,
		nullString(msg.ReplyToMessageID),
		string(msg.Status),
		string(attachments),
		provider,
		externalID,
		toMillis(msg.CreatedAt),
		updatedAt,
	)
	// Ids of provider messages derive from the external id, so inside one
	// workspace either constraint firing means the same provider message
	if isUniqueViolation(err) && msg.ExternalID() != "" {
		return &domain.DuplicateMessageError{ExternalID: msg.ExternalID()}
	}
	if err != nil {
		slog.Error("Failed to save message",
			"error", err,
			"message_id", msg.ID,
			"conversation_id", msg.ConversationID,
		)
		return fmt.Errorf("save message: %w", err)
	}

	slog.Debug("Message saved",
		"message_id", msg.ID,
		"conversation_id", msg.ConversationID,
	)
	return nil
}

// UpdateStatus fails with MessageNotFoundError when no row matched
func (r *SQLMessageRepository) UpdateStatus(ctx context.Context, workspaceID, id string, status domain.MessageStatus) error {
	return r.Update(ctx, workspaceID, id, domain.MessagePatch{Status: &status})
}

// Update applies a partial update. updated_at is always refreshed.
func (r *SQLMessageRepository) Update(ctx context.Context, workspaceID, id string, patch domain.MessagePatch) error {
	var sets []string
	var args []interface{}

	if patch.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*patch.Status))
	}
	if patch.Metadata != nil && patch.Metadata.ProviderMessageID != "" {
		sets = append(sets, "provider = ?", "external_id = ?")
		args = append(args, domain.ProviderEvolution, patch.Metadata.ProviderMessageID)
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, toMillis(time.Now()), workspaceID, id)

	result, err := r.exec(ctx,
		`UPDATE messages SET `+strings.Join(sets, ", ")+` WHERE workspace_id = ? AND id = ?`,
		args...,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("update message %s: %w", id, domain.ErrDuplicateMessage)
	}
	if err != nil {
		slog.Error("Failed to update message",
			"error", err,
			"message_id", id,
		)
		return fmt.Errorf("update message: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update message rows: %w", err)
	}
	if rows == 0 {
		return &domain.MessageNotFoundError{ID: id}
	}
	return nil
}
