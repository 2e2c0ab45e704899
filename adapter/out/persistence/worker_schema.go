package persistence

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS email_messages (
		id                 TEXT PRIMARY KEY,
		thread_id          TEXT NOT NULL DEFAULT '',
		session_id         TEXT NOT NULL DEFAULT '',
		subject            TEXT NOT NULL DEFAULT '',
		sender_email       TEXT NOT NULL DEFAULT '',
		sender_name        TEXT NOT NULL DEFAULT '',
		recipients         TEXT[] NOT NULL DEFAULT '{}',
		sent_at            TIMESTAMPTZ NOT NULL,
		body_text          TEXT NOT NULL DEFAULT '',
		body_html          TEXT NOT NULL DEFAULT '',
		is_referral        BOOLEAN NOT NULL DEFAULT FALSE,
		referral_type      TEXT NOT NULL DEFAULT '',
		urgency_level      TEXT NOT NULL DEFAULT '',
		urgency_confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
		document_type      TEXT NOT NULL DEFAULT '',
		specialty          TEXT NOT NULL DEFAULT '',
		score              DOUBLE PRECISION NOT NULL DEFAULT 0,
		patient_info       TEXT,
		ai_analysis        TEXT,
		extraction_method  TEXT NOT NULL DEFAULT 'none',
		processed_at       TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_email_messages_referral ON email_messages (is_referral, urgency_level)`,
	`CREATE TABLE IF NOT EXISTS email_attachments (
		message_id        TEXT NOT NULL REFERENCES email_messages(id) ON DELETE CASCADE,
		position          INTEGER NOT NULL,
		filename          TEXT NOT NULL DEFAULT '',
		mime_type         TEXT NOT NULL DEFAULT '',
		size_bytes        BIGINT NOT NULL DEFAULT 0,
		extracted_text    TEXT NOT NULL DEFAULT '',
		extraction_method TEXT NOT NULL DEFAULT 'none',
		PRIMARY KEY (message_id, position)
	)`,
}

// SQLite keeps recipients as the same '{a,b}' array literal in a TEXT column.
var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS email_messages (
		id                 TEXT PRIMARY KEY,
		thread_id          TEXT NOT NULL DEFAULT '',
		session_id         TEXT NOT NULL DEFAULT '',
		subject            TEXT NOT NULL DEFAULT '',
		sender_email       TEXT NOT NULL DEFAULT '',
		sender_name        TEXT NOT NULL DEFAULT '',
		recipients         TEXT NOT NULL DEFAULT '{}',
		sent_at            TIMESTAMP NOT NULL,
		body_text          TEXT NOT NULL DEFAULT '',
		body_html          TEXT NOT NULL DEFAULT '',
		is_referral        BOOLEAN NOT NULL DEFAULT 0,
		referral_type      TEXT NOT NULL DEFAULT '',
		urgency_level      TEXT NOT NULL DEFAULT '',
		urgency_confidence REAL NOT NULL DEFAULT 0,
		document_type      TEXT NOT NULL DEFAULT '',
		specialty          TEXT NOT NULL DEFAULT '',
		score              REAL NOT NULL DEFAULT 0,
		patient_info       TEXT,
		ai_analysis        TEXT,
		extraction_method  TEXT NOT NULL DEFAULT 'none',
		processed_at       TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_email_messages_referral ON email_messages (is_referral, urgency_level)`,
	`CREATE TABLE IF NOT EXISTS email_attachments (
		message_id        TEXT NOT NULL REFERENCES email_messages(id) ON DELETE CASCADE,
		position          INTEGER NOT NULL,
		filename          TEXT NOT NULL DEFAULT '',
		mime_type         TEXT NOT NULL DEFAULT '',
		size_bytes        INTEGER NOT NULL DEFAULT 0,
		extracted_text    TEXT NOT NULL DEFAULT '',
		extraction_method TEXT NOT NULL DEFAULT 'none',
		PRIMARY KEY (message_id, position)
	)`,
}

// Migrate creates the tables for the connected driver ("pgx" or "sqlite").
func Migrate(ctx context.Context, db *sqlx.DB) error {
	var stmts []string
	switch db.DriverName() {
	case "pgx", "postgres":
		stmts = postgresSchema
	case "sqlite":
		stmts = sqliteSchema
	default:
		return fmt.Errorf("migrate: unsupported driver %q", db.DriverName())
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
