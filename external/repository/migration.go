package repository

import (
	"context"
	"database/sql"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

var postgresMigrationStatements = []string{
	`CREATE TABLE IF NOT EXISTS talks (
		id BIGSERIAL PRIMARY KEY,
		message_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		user_nickname TEXT,
		user_tag TEXT NOT NULL,
		user_roles TEXT,
		message_datetime TIMESTAMPTZ NOT NULL,
		user_time_on_stage BIGINT,
		summary TEXT,
		user_banned BOOLEAN NOT NULL DEFAULT FALSE,
		last_summary_mod_id TEXT,
		last_void_mod_id TEXT,
		last_talk_mod_id TEXT,
		last_timeout_mod_id TEXT,
		last_ban_mod_id TEXT,
		UNIQUE (message_id, user_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_talks_user ON talks (user_id, message_datetime)`,
	`CREATE TABLE IF NOT EXISTS activity (
		user_id TEXT PRIMARY KEY,
		last_stage_datetime TIMESTAMPTZ NOT NULL
	)`,
}

var sqliteMigrationStatements = []string{
	`PRAGMA journal_mode = WAL`,
	`CREATE TABLE IF NOT EXISTS talks (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		message_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		user_nickname TEXT,
		user_tag TEXT NOT NULL,
		user_roles TEXT,
		message_datetime DATETIME NOT NULL,
		user_time_on_stage INTEGER,
		summary TEXT,
		user_banned BOOLEAN NOT NULL DEFAULT 0,
		last_summary_mod_id TEXT,
		last_void_mod_id TEXT,
		last_talk_mod_id TEXT,
		last_timeout_mod_id TEXT,
		last_ban_mod_id TEXT,
		UNIQUE (message_id, user_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_talks_user ON talks (user_id, message_datetime)`,
	`CREATE TABLE IF NOT EXISTS activity (
		user_id TEXT PRIMARY KEY,
		last_stage_datetime DATETIME NOT NULL
	)`,
}

func RunMigration(ctx context.Context, pool *pgxpool.Pool) error {
	for _, s := range postgresMigrationStatements {
		stmt := strings.TrimSpace(s)
		if stmt == "" {
			continue
		}
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func RunSQLiteMigration(ctx context.Context, db *sql.DB) error {
	for _, s := range sqliteMigrationStatements {
		stmt := strings.TrimSpace(s)
		if stmt == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
