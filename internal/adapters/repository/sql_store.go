// Package repository implements data persistence adapters
// Following Hexagonal Architecture: Adapters implement ports defined in core
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"evolution-relay/internal/core/ports"
)

// Supported driver names
const (
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Ensure the SQL adapters implement the required interfaces
var (
	_ ports.UnitOfWork               = (*SQLStore)(nil)
	_ ports.MessageRepository        = (*SQLMessageRepository)(nil)
	_ ports.ConversationRepository   = (*SQLConversationRepository)(nil)
	_ ports.MessageStatusRepository  = (*SQLStatusRepository)(nil)
	_ ports.OutboxRepository         = (*SQLOutboxRepository)(nil)
	_ ports.WebhookEventRepository   = (*SQLWebhookEventRepository)(nil)
	_ ports.IdempotencyIndex         = (*SQLIdempotencyIndex)(nil)
	_ ports.WhatsAppNumberRepository = (*SQLNumberRepository)(nil)
)

func init() {
	sqlx.BindDriver(DriverSQLite, sqlx.QUESTION)
}

// conn is the query surface shared by *sqlx.DB and *sqlx.Tx
type conn struct {
	db     sqlx.ExtContext
	driver string
}

func (c conn) exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return c.db.ExecContext(ctx, c.db.Rebind(query), args...)
}

func (c conn) get(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	return sqlx.GetContext(ctx, c.db, dest, c.db.Rebind(query), args...)
}

func (c conn) selectAll(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	return sqlx.SelectContext(ctx, c.db, dest, c.db.Rebind(query), args...)
}

// SQLStore owns the database handle and hands out repositories bound to it
type SQLStore struct {
	db     *sqlx.DB
	driver string
}

// Open connects to the database and verifies the connection
func Open(ctx context.Context, driver, dsn string) (*sqlx.DB, error) {
	switch driver {
	case DriverMySQL, DriverPostgres, DriverSQLite:
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := sqlx.ConnectContext(ctx, driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", driver, err)
	}
	if driver == DriverSQLite {
		// Writers serialize on one connection
		db.SetMaxOpenConns(1)
	}
	return db, nil
}

// NewSQLStore creates a new store on an open handle
func NewSQLStore(db *sqlx.DB) *SQLStore {
	return &SQLStore{
		db:     db,
		driver: db.DriverName(),
	}
}

// DB returns the underlying handle
func (s *SQLStore) DB() *sqlx.DB {
	return s.db
}

func (s *SQLStore) conn() conn {
	return conn{db: s.db, driver: s.driver}
}

// Messages returns the message repository
func (s *SQLStore) Messages() *SQLMessageRepository {
	return &SQLMessageRepository{conn: s.conn()}
}

// Conversations returns the conversation repository
func (s *SQLStore) Conversations() *SQLConversationRepository {
	return &SQLConversationRepository{conn: s.conn()}
}

// Statuses returns the pending status repository
func (s *SQLStore) Statuses() *SQLStatusRepository {
	return &SQLStatusRepository{conn: s.conn()}
}

// Outbox returns the outbox repository
func (s *SQLStore) Outbox() *SQLOutboxRepository {
	return &SQLOutboxRepository{conn: s.conn()}
}

// WebhookEvents returns the webhook event repository
func (s *SQLStore) WebhookEvents() *SQLWebhookEventRepository {
	return &SQLWebhookEventRepository{conn: s.conn()}
}

// IdempotencyIndex returns the SQL-backed idempotency index
func (s *SQLStore) IdempotencyIndex() *SQLIdempotencyIndex {
	return &SQLIdempotencyIndex{conn: s.conn()}
}

// Numbers returns the WhatsApp number repository
func (s *SQLStore) Numbers() *SQLNumberRepository {
	return &SQLNumberRepository{conn: s.conn()}
}

// WithinTx runs fn in one transaction. Any error or panic rolls back.
func (s *SQLStore) WithinTx(ctx context.Context, fn func(ctx context.Context, repos ports.TxRepositories) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	c := conn{db: tx, driver: s.driver}
	repos := ports.TxRepositories{
		Messages:      &SQLMessageRepository{conn: c},
		Conversations: &SQLConversationRepository{conn: c},
		Statuses:      &SQLStatusRepository{conn: c},
		Outbox:        &SQLOutboxRepository{conn: c},
	}

	if err := fn(ctx, repos); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// isUniqueViolation reports a primary key or unique constraint failure on any supported driver
func isUniqueViolation(err error) bool {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1062
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		code := liteErr.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE ||
			code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY ||
			strings.Contains(liteErr.Error(), "UNIQUE constraint failed")
	}
	return false
}

// upsertClause returns the dialect clause that turns an INSERT into an upsert
// on conflictCols, overwriting updateCols
func upsertClause(driver string, conflictCols, updateCols []string) string {
	sets := make([]string, len(updateCols))
	if driver == DriverMySQL {
		for i, col := range updateCols {
			sets[i] = col + " = VALUES(" + col + ")"
		}
		return " ON DUPLICATE KEY UPDATE " + strings.Join(sets, ", ")
	}
	for i, col := range updateCols {
		sets[i] = col + " = excluded." + col
	}
	return " ON CONFLICT (" + strings.Join(conflictCols, ", ") + ") DO UPDATE SET " + strings.Join(sets, ", ")
}

// insertIgnore returns an INSERT that silently skips conflicting rows
func insertIgnore(driver, table, columns, placeholders string) string {
	if driver == DriverMySQL {
		return "INSERT IGNORE INTO " + table + " (" + columns + ") VALUES (" + placeholders + ")"
	}
	return "INSERT INTO " + table + " (" + columns + ") VALUES (" + placeholders + ") ON CONFLICT DO NOTHING"
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
