package repository

import (
	"context"
	"fmt"
	"log/slog"

	"entgo.io/ent/dialect"
)

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id UUID PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		plan TEXT NOT NULL DEFAULT 'free',
		plan_expires_at TIMESTAMPTZ NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS projects (
		id UUID PRIMARY KEY,
		user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		title TEXT NOT NULL,
		description TEXT NULL,
		status TEXT NOT NULL,
		page_count INTEGER NOT NULL DEFAULT 1,
		image_key TEXT NULL,
		tex_key TEXT NULL,
		pdf_key TEXT NULL,
		docx_key TEXT NULL,
		preview_key TEXT NULL,
		last_error TEXT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS projects_user_id_idx ON projects (user_id)`,
	`CREATE TABLE IF NOT EXISTS monthly_usage (
		user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		month_key TEXT NOT NULL,
		pages_used INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (user_id, month_key)
	)`,
	`CREATE TABLE IF NOT EXISTS project_ratings (
		id UUID PRIMARY KEY,
		user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		project_id UUID NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
		value INTEGER NOT NULL CHECK (value BETWEEN 1 AND 5),
		comment TEXT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		UNIQUE (user_id, project_id)
	)`,
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		plan TEXT NOT NULL DEFAULT 'free',
		plan_expires_at DATETIME NULL,
		created_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS projects (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		title TEXT NOT NULL,
		description TEXT NULL,
		status TEXT NOT NULL,
		page_count INTEGER NOT NULL DEFAULT 1,
		image_key TEXT NULL,
		tex_key TEXT NULL,
		pdf_key TEXT NULL,
		docx_key TEXT NULL,
		preview_key TEXT NULL,
		last_error TEXT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS projects_user_id_idx ON projects (user_id)`,
	`CREATE TABLE IF NOT EXISTS monthly_usage (
		user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		month_key TEXT NOT NULL,
		pages_used INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (user_id, month_key)
	)`,
	`CREATE TABLE IF NOT EXISTS project_ratings (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
		value INTEGER NOT NULL CHECK (value BETWEEN 1 AND 5),
		comment TEXT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		UNIQUE (user_id, project_id)
	)`,
}

// Migrate creates missing tables for the connected dialect.
func Migrate(ctx context.Context, db *DB, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	stmts := postgresSchema
	if db.Dialect() == dialect.SQLite {
		stmts = sqliteSchema
	}
	for i, stmt := range stmts {
		if _, err := db.SQL().ExecContext(ctx, stmt); err != nil {
			logger.Error("migration failed", "step", i, "error", err)
			return fmt.Errorf("migrate step %d: %w", i, err)
		}
	}
	logger.Info("database schema up to date", "dialect", db.Dialect(), "steps", len(stmts))
	return nil
}
