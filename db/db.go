// Package db provides the Postgres connection, schema migration, the chat log
// writer and the encrypted OAuth token store.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx postgres driver registered as 'pgx'
)

// ErrDisabled is returned by Connect when no DSN is configured.
var ErrDisabled = errors.New("db: disabled (DB_DSN empty)")

// Connect opens and pings a Postgres connection pool for dsn.
func Connect(ctx context.Context, dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, ErrDisabled
	}
	dbx, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	dbx.SetMaxOpenConns(5)
	dbx.SetMaxIdleConns(2)
	dbx.SetConnMaxLifetime(30 * time.Minute)

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := dbx.PingContext(pctx); err != nil {
		_ = dbx.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return dbx, nil
}

// Migrate applies idempotent schema statements. It is the fallback when the
// versioned migrations cannot run (e.g. a role without CREATE on the
// schema_migrations table).
func Migrate(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS chat_logs (
			id BIGSERIAL PRIMARY KEY,
			logged_at TIMESTAMPTZ NOT NULL,
			channel TEXT NOT NULL,
			username TEXT NOT NULL,
			message TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_chat_logs_channel_time ON chat_logs(channel, logged_at)`,
		`CREATE TABLE IF NOT EXISTS oauth_tokens (
			provider TEXT PRIMARY KEY,
			access_token TEXT,
			refresh_token TEXT,
			expires_at TIMESTAMPTZ,
			scope TEXT,
			updated_at TIMESTAMPTZ DEFAULT NOW(),
			encryption_version INTEGER DEFAULT 0,
			encryption_key_id TEXT
		)`,
	}
	for i, s := range stmts {
		if _, err := db.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("postgres migrate step %d failed: %w", i, err)
		}
	}
	return nil
}

// ChatLogEntry is one received chat message.
type ChatLogEntry struct {
	Time     time.Time
	Channel  string
	Username string
	Message  string
}

// InsertChatLog appends e to the chat log.
func InsertChatLog(ctx context.Context, db *sql.DB, e ChatLogEntry) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO chat_logs (logged_at, channel, username, message) VALUES ($1, $2, $3, $4)`,
		e.Time, e.Channel, e.Username, e.Message)
	if err != nil {
		return fmt.Errorf("insert chat log: %w", err)
	}
	return nil
}

// ChatLogInserter binds InsertChatLog to db.
func ChatLogInserter(db *sql.DB) func(context.Context, ChatLogEntry) error {
	return func(ctx context.Context, e ChatLogEntry) error { return InsertChatLog(ctx, db, e) }
}
