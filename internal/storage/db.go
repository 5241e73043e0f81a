// Package storage implements the durable backing store (guild settings,
// per-user voice/nickname preferences, and member-seen bookkeeping) on
// top of SQLite, grounded on original_source/utils/db.py's connection
// setup, schema, and UPSERT-based CRUD shape.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// Store wraps the SQLite connection used for every durable table the
// bot owns. Guild settings and user preferences each layer a
// write-through cache (internal/settings, internal/userprefs) on top
// of this.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// Open connects to the SQLite database at path, enables WAL mode and a
// busy timeout (mirrors original_source/utils/db.py's connect()), and
// runs schema creation plus additive migrations.
func Open(ctx context.Context, path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	db, err := sql.Open("sqlite3", path+sep+"_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // sqlite3 driver is not safe for concurrent writers across connections

	s := &Store{db: db, logger: logger}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS discord_users (
			user_id TEXT PRIMARY KEY,
			voice_id TEXT,
			nickname TEXT,
			display_name TEXT,
			auto_join INTEGER NOT NULL DEFAULT 0,
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS guild_settings (
			guild_id TEXT PRIMARY KEY,
			settings_json TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS member_seen (
			guild_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			last_seen_at TEXT NOT NULL,
			PRIMARY KEY (guild_id, user_id)
		)`,
	}
	for _, stmt := range ddl {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("storage: migrate: %w", err)
		}
	}

	if err := s.ensureUserColumns(ctx); err != nil {
		return err
	}
	return s.migrateLegacyUserVoices(ctx)
}

// ensureUserColumns adds columns that earlier schema versions lacked,
// the way original_source/utils/db.py's _ensure_user_columns() does
// for a hand-rolled migration without an external migration tool.
func (s *Store) ensureUserColumns(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, `PRAGMA table_info(discord_users)`)
	if err != nil {
		return fmt.Errorf("storage: inspect discord_users: %w", err)
	}
	existing := map[string]bool{}
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			rows.Close()
			return fmt.Errorf("storage: scan table_info: %w", err)
		}
		existing[name] = true
	}
	rows.Close()

	wanted := map[string]string{
		"voice_id":     "ALTER TABLE discord_users ADD COLUMN voice_id TEXT",
		"nickname":     "ALTER TABLE discord_users ADD COLUMN nickname TEXT",
		"display_name": "ALTER TABLE discord_users ADD COLUMN display_name TEXT",
		"auto_join":    "ALTER TABLE discord_users ADD COLUMN auto_join INTEGER NOT NULL DEFAULT 0",
		"updated_at":   "ALTER TABLE discord_users ADD COLUMN updated_at TEXT NOT NULL DEFAULT ''",
	}
	for col, stmt := range wanted {
		if !existing[col] {
			if _, err := s.db.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("storage: add column %s: %w", col, err)
			}
		}
	}
	return nil
}

// migrateLegacyUserVoices folds an older standalone user_voices table
// into discord_users, if one exists, matching
// original_source/utils/db.py's _migrate_from_user_voices().
func (s *Store) migrateLegacyUserVoices(ctx context.Context) error {
	var name string
	err := s.db.QueryRowContext(ctx,
		`SELECT name FROM sqlite_master WHERE type='table' AND name='user_voices'`).Scan(&name)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return fmt.Errorf("storage: check legacy table: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT user_id, voice_id FROM user_voices`)
	if err != nil {
		return fmt.Errorf("storage: read legacy user_voices: %w", err)
	}
	defer rows.Close()

	now := time.Now().UTC().Format(time.RFC3339)
	for rows.Next() {
		var userID, voiceID string
		if err := rows.Scan(&userID, &voiceID); err != nil {
			return fmt.Errorf("storage: scan legacy row: %w", err)
		}
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO discord_users (user_id, voice_id, updated_at)
			VALUES (?, ?, ?)
			ON CONFLICT(user_id) DO UPDATE SET
				voice_id = excluded.voice_id,
				updated_at = excluded.updated_at
			WHERE discord_users.voice_id IS NULL
		`, userID, voiceID, now)
		if err != nil {
			return fmt.Errorf("storage: migrate legacy row %s: %w", userID, err)
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	s.logger.Info("migrated legacy user_voices table into discord_users, leaving it in place")
	return nil
}
