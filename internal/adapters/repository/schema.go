package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
)

// Portable DDL: times are BIGINT unix millis, JSON documents are text.
// {{LARGE}} expands to LONGTEXT on mysql and TEXT elsewhere.
var schemaTables = []string{
	`CREATE TABLE IF NOT EXISTS whatsapp_numbers (
		id            VARCHAR(191) NOT NULL PRIMARY KEY,
		workspace_id  VARCHAR(191) NOT NULL,
		instance_name VARCHAR(191) NOT NULL UNIQUE,
		api_key       VARCHAR(255) NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS messages (
		id                  VARCHAR(191) NOT NULL,
		workspace_id        VARCHAR(191) NOT NULL,
		conversation_id     VARCHAR(191) NOT NULL,
		sender_id           VARCHAR(191) NOT NULL,
		type                VARCHAR(32)  NOT NULL,
		content             TEXT         NOT NULL,
		reply_to_message_id VARCHAR(191) NULL,
		status              VARCHAR(32)  NOT NULL,
		attachments         {{LARGE}}    NOT NULL,
		provider            VARCHAR(64)  NULL,
		external_id         VARCHAR(191) NULL,
		created_at          BIGINT       NOT NULL,
		updated_at          BIGINT       NULL,
		PRIMARY KEY (workspace_id, id),
		UNIQUE (workspace_id, provider, external_id)
	)`,
	`CREATE TABLE IF NOT EXISTS conversations (
		workspace_id       VARCHAR(191) NOT NULL,
		id                 VARCHAR(191) NOT NULL,
		contact_id         VARCHAR(191) NOT NULL DEFAULT '',
		whatsapp_number_id VARCHAR(191) NOT NULL DEFAULT '',
		channel            VARCHAR(32)  NOT NULL,
		participants       TEXT         NOT NULL,
		last_message       TEXT         NULL,
		updated_at         BIGINT       NOT NULL,
		PRIMARY KEY (workspace_id, id)
	)`,
	`CREATE TABLE IF NOT EXISTS webhook_events (
		id              VARCHAR(191) NOT NULL PRIMARY KEY,
		provider        VARCHAR(64)  NOT NULL,
		workspace_id    VARCHAR(191) NOT NULL,
		event_type      VARCHAR(128) NOT NULL,
		payload         {{LARGE}}    NOT NULL,
		payload_hash    VARCHAR(64)  NOT NULL,
		idempotency_key VARCHAR(255) NOT NULL,
		received_at     BIGINT       NOT NULL,
		status          VARCHAR(32)  NOT NULL,
		error           TEXT         NULL
	)`,
	`CREATE TABLE IF NOT EXISTS webhook_idempotency (
		idempotency_key VARCHAR(255) NOT NULL PRIMARY KEY,
		event_id        VARCHAR(191) NOT NULL,
		created_at      BIGINT       NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS message_status_pending (
		workspace_id        VARCHAR(191) NOT NULL,
		provider            VARCHAR(64)  NOT NULL,
		external_message_id VARCHAR(191) NOT NULL,
		status              VARCHAR(32)  NOT NULL,
		updated_at          BIGINT       NOT NULL,
		PRIMARY KEY (workspace_id, provider, external_message_id)
	)`,
	`CREATE TABLE IF NOT EXISTS message_outbox (
		id            VARCHAR(191) NOT NULL PRIMARY KEY,
		workspace_id  VARCHAR(191) NOT NULL,
		message_id    VARCHAR(191) NOT NULL,
		provider      VARCHAR(64)  NOT NULL,
		payload       TEXT         NOT NULL,
		status        VARCHAR(32)  NOT NULL,
		attempts      INT          NOT NULL DEFAULT 0,
		next_retry_at BIGINT       NOT NULL,
		last_error    TEXT         NULL,
		created_at    BIGINT       NOT NULL,
		updated_at    BIGINT       NOT NULL
	)`,
}

var schemaIndexes = []string{
	`CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages (workspace_id, conversation_id, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_webhook_events_key ON webhook_events (idempotency_key)`,
	`CREATE INDEX IF NOT EXISTS idx_outbox_due ON message_outbox (status, next_retry_at)`,
	`CREATE INDEX IF NOT EXISTS idx_outbox_fifo ON message_outbox (status, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_conversations_updated ON conversations (workspace_id, updated_at)`,
}

// Migrate creates every table and index. Safe to run repeatedly.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	driver := db.DriverName()

	large := "TEXT"
	if driver == DriverMySQL {
		large = "LONGTEXT"
	}

	for _, stmt := range schemaTables {
		stmt = strings.ReplaceAll(stmt, "{{LARGE}}", large)
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}

	for _, stmt := range schemaIndexes {
		if driver == DriverMySQL {
			// MySQL has no IF NOT EXISTS for indexes
			stmt = strings.Replace(stmt, "IF NOT EXISTS ", "", 1)
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil && !isDuplicateIndex(err) {
			return fmt.Errorf("create index: %w", err)
		}
	}

	slog.Info("Database schema is up to date", "driver", driver)
	return nil
}

func isDuplicateIndex(err error) bool {
	var myErr *mysql.MySQLError
	return errors.As(err, &myErr) && myErr.Number == 1061
}
