package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"evolution-relay/internal/core/domain"
)

type numberRow struct {
	ID           string `db:"id"`
	WorkspaceID  string `db:"workspace_id"`
	InstanceName string `db:"instance_name"`
	APIKey       string `db:"api_key"`
}

func (r numberRow) toDomain() *domain.WhatsAppNumber {
	return &domain.WhatsAppNumber{
		ID:           r.ID,
		WorkspaceID:  r.WorkspaceID,
		InstanceName: r.InstanceName,
		APIKey:       r.APIKey,
	}
}

// SQLNumberRepository resolves provider lines
type SQLNumberRepository struct {
	conn
}

// FindByInstance returns nil, nil for an unknown instance
func (r *SQLNumberRepository) FindByInstance(ctx context.Context, instanceName string) (*domain.WhatsAppNumber, error) {
	return r.findOne(ctx, `SELECT id, workspace_id, instance_name, api_key FROM whatsapp_numbers WHERE instance_name = ?`, instanceName)
}

// FindByID returns nil, nil for an unknown line
func (r *SQLNumberRepository) FindByID(ctx context.Context, id string) (*domain.WhatsAppNumber, error) {
	return r.findOne(ctx, `SELECT id, workspace_id, instance_name, api_key FROM whatsapp_numbers WHERE id = ?`, id)
}

func (r *SQLNumberRepository) findOne(ctx context.Context, query string, arg string) (*domain.WhatsAppNumber, error) {
	var row numberRow
	err := r.get(ctx, &row, query, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get whatsapp number: %w", err)
	}
	return row.toDomain(), nil
}

// FindAll lists the lines of every workspace
func (r *SQLNumberRepository) FindAll(ctx context.Context) ([]domain.WhatsAppNumber, error) {
	var rows []numberRow
	if err := r.selectAll(ctx, &rows,
		`SELECT id, workspace_id, instance_name, api_key FROM whatsapp_numbers ORDER BY instance_name`,
	); err != nil {
		return nil, fmt.Errorf("list whatsapp numbers: %w", err)
	}
	numbers := make([]domain.WhatsAppNumber, 0, len(rows))
	for _, row := range rows {
		numbers = append(numbers, *row.toDomain())
	}
	return numbers, nil
}

// Save registers a line, replacing workspace and key of an existing instance
func (r *SQLNumberRepository) Save(ctx context.Context, number *domain.WhatsAppNumber) error {
	if number.ID == "" {
		number.ID = uuid.NewString()
	}

	query := `INSERT INTO whatsapp_numbers (id, workspace_id, instance_name, api_key) VALUES (?, ?, ?, ?)` +
		upsertClause(r.driver, []string{"instance_name"}, []string{"workspace_id", "api_key"})

	if _, err := r.exec(ctx, query, number.ID, number.WorkspaceID, number.InstanceName, number.APIKey); err != nil {
		return fmt.Errorf("save whatsapp number: %w", err)
	}

	slog.Info("WhatsApp number registered",
		"instance", number.InstanceName,
		"workspace_id", number.WorkspaceID,
	)
	return nil
}
