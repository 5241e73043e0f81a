package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// LoadGuildSettingsJSON returns the raw settings JSON blob for
// guildID, or "" if the guild has no row yet. internal/settings owns
// the schema; storage just persists whatever it serializes.
func (s *Store) LoadGuildSettingsJSON(ctx context.Context, guildID string) (string, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT settings_json FROM guild_settings WHERE guild_id = ?`, guildID).Scan(&raw)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("storage: load guild settings %s: %w", guildID, err)
	}
	return raw, nil
}

// SaveGuildSettingsJSON persists guildID's full settings JSON blob,
// overwriting any previous value, matching
// original_source/utils/settings_store.py's atomic whole-document
// rewrite (the sqlite transaction plays the role its .tmp+os.replace()
// dance does for the original's flat file).
func (s *Store) SaveGuildSettingsJSON(ctx context.Context, guildID, raw string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO guild_settings (guild_id, settings_json, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(guild_id) DO UPDATE SET
			settings_json = excluded.settings_json,
			updated_at = excluded.updated_at
	`, guildID, raw, now)
	if err != nil {
		return fmt.Errorf("storage: save guild settings %s: %w", guildID, err)
	}
	return nil
}

// AllGuildSettingsJSON returns every stored guild's raw JSON blob,
// keyed by guild ID, for control-plane listing endpoints.
func (s *Store) AllGuildSettingsJSON(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT guild_id, settings_json FROM guild_settings`)
	if err != nil {
		return nil, fmt.Errorf("storage: list guild settings: %w", err)
	}
	defer rows.Close()

	out := map[string]string{}
	for rows.Next() {
		var guildID, raw string
		if err := rows.Scan(&guildID, &raw); err != nil {
			return nil, fmt.Errorf("storage: scan guild settings row: %w", err)
		}
		out[guildID] = raw
	}
	return out, rows.Err()
}
