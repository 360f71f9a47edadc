package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"evolution-relay/internal/core/domain"
)

const conversationColumns = `workspace_id, id, contact_id, whatsapp_number_id, channel, participants, last_message, updated_at`

type conversationRow struct {
	WorkspaceID      string         `db:"workspace_id"`
	ID               string         `db:"id"`
	ContactID        string         `db:"contact_id"`
	WhatsAppNumberID string         `db:"whatsapp_number_id"`
	Channel          string         `db:"channel"`
	Participants     string         `db:"participants"`
	LastMessage      sql.NullString `db:"last_message"`
	UpdatedAt        int64          `db:"updated_at"`
}

func (r conversationRow) toDomain() (*domain.Conversation, error) {
	conv := &domain.Conversation{
		ID:               r.ID,
		WorkspaceID:      r.WorkspaceID,
		ContactID:        r.ContactID,
		WhatsAppNumberID: r.WhatsAppNumberID,
		Channel:          r.Channel,
		UpdatedAt:        fromMillis(r.UpdatedAt),
	}
	if err := json.Unmarshal([]byte(r.Participants), &conv.Participants); err != nil {
		return nil, fmt.Errorf("decode participants of %s: %w", r.ID, err)
	}
	if r.LastMessage.Valid && r.LastMessage.String != "" {
		var last domain.LastMessage
		if err := json.Unmarshal([]byte(r.LastMessage.String), &last); err != nil {
			return nil, fmt.Errorf("decode last message of %s: %w", r.ID, err)
		}
		conv.LastMessage = &last
	}
	return conv, nil
}

func encodeLastMessage(last *domain.LastMessage) (sql.NullString, error) {
	if last == nil {
		return sql.NullString{}, nil
	}
	raw, err := json.Marshal(last)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("encode last message: %w", err)
	}
	return nullString(string(raw)), nil
}

// SQLConversationRepository stores conversation threads
type SQLConversationRepository struct {
	conn
}

// FindByID returns nil, nil when the conversation does not exist
func (r *SQLConversationRepository) FindByID(ctx context.Context, workspaceID, id string) (*domain.Conversation, error) {
	var row conversationRow
	err := r.get(ctx, &row,
		`SELECT `+conversationColumns+` FROM conversations WHERE workspace_id = ? AND id = ?`,
		workspaceID, id,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	return row.toDomain()
}

// FindAll lists conversations, most recently updated first
func (r *SQLConversationRepository) FindAll(ctx context.Context, workspaceID string) ([]domain.Conversation, error) {
	var rows []conversationRow
	err := r.selectAll(ctx, &rows,
		`SELECT `+conversationColumns+` FROM conversations WHERE workspace_id = ? ORDER BY updated_at DESC`,
		workspaceID,
	)
	if err != nil {
		slog.Error("Failed to list conversations",
			"error", err,
			"workspace_id", workspaceID,
		)
		return nil, fmt.Errorf("list conversations: %w", err)
	}

	convs := make([]domain.Conversation, 0, len(rows))
	for _, row := range rows {
		conv, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		convs = append(convs, *conv)
	}
	return convs, nil
}

// Save creates the conversation, or refreshes an existing one
func (r *SQLConversationRepository) Save(ctx context.Context, conv *domain.Conversation) error {
	participants := conv.Participants
	if participants == nil {
		participants = []domain.Participant{}
	}
	rawParticipants, err := json.Marshal(participants)
	if err != nil {
		return fmt.Errorf("encode participants: %w", err)
	}
	last, err := encodeLastMessage(conv.LastMessage)
	if err != nil {
		return err
	}

	query := `INSERT INTO conversations (` + conversationColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?)` +
		upsertClause(r.driver,
			[]string{"workspace_id", "id"},
			[]string{"whatsapp_number_id", "participants", "last_message", "updated_at"},
		)

	_, err = r.exec(ctx, query,
		conv.WorkspaceID,
		conv.ID,
		conv.ContactID,
		conv.WhatsAppNumberID,
		conv.Channel,
		string(rawParticipants),
		last,
		toMillis(conv.UpdatedAt),
	)
	if err != nil {
		slog.Error("Failed to save conversation",
			"error", err,
			"conversation_id", conv.ID,
		)
		return fmt.Errorf("save conversation: %w", err)
	}
	return nil
}

// Update patches the list summary
func (r *SQLConversationRepository) Update(ctx context.Context, id string, patch domain.ConversationPatch) error {
	if patch.WorkspaceID == "" {
		return fmt.Errorf("update conversation %s: workspace id is required", id)
	}
	last, err := encodeLastMessage(patch.LastMessage)
	if err != nil {
		return err
	}

	query := `UPDATE conversations SET updated_at = ?`
	args := []interface{}{toMillis(patch.UpdatedAt)}
	if last.Valid {
		query += `, last_message = ?`
		args = append(args, last)
	}
	query += ` WHERE workspace_id = ? AND id = ?`
	args = append(args, patch.WorkspaceID, id)

	result, err := r.exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update conversation: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update conversation rows: %w", err)
	}
	if rows == 0 {
		return &domain.ConversationNotFoundError{ID: id}
	}
	return nil
}
