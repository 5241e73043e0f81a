package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// UserRecord is a row of discord_users: a per-user voice/nickname
// preference plus the auto-join flag consumed by the router's
// auto-follow when the user joins a voice channel.
type UserRecord struct {
	UserID      string
	VoiceID     string
	Nickname    string
	DisplayName string
	AutoJoin    bool
	UpdatedAt   time.Time
}

func scanUserRecord(row interface{ Scan(...any) error }) (*UserRecord, error) {
	var r UserRecord
	var voiceID, nickname, displayName, updatedAt sql.NullString
	var autoJoin int
	if err := row.Scan(&r.UserID, &voiceID, &nickname, &displayName, &autoJoin, &updatedAt); err != nil {
		return nil, err
	}
	r.VoiceID = voiceID.String
	r.Nickname = nickname.String
	r.DisplayName = displayName.String
	r.AutoJoin = autoJoin != 0
	if updatedAt.Valid {
		r.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt.String)
	}
	return &r, nil
}

// GetUser returns the stored record for userID, or nil if none exists.
func (s *Store) GetUser(ctx context.Context, userID string) (*UserRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT user_id, voice_id, nickname, display_name, auto_join, updated_at FROM discord_users WHERE user_id = ?`,
		userID)
	rec, err := scanUserRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: get user %s: %w", userID, err)
	}
	return rec, nil
}

func (s *Store) upsertUserColumn(ctx context.Context, userID, column string, value any) error {
	now := time.Now().UTC().Format(time.RFC3339)
	query := fmt.Sprintf(`
		INSERT INTO discord_users (user_id, %s, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			%s = excluded.%s,
			updated_at = excluded.updated_at
	`, column, column, column)
	if _, err := s.db.ExecContext(ctx, query, userID, value, now); err != nil {
		return fmt.Errorf("storage: set %s for user %s: %w", column, userID, err)
	}
	return nil
}

// SetUserVoice sets userID's preferred voice, creating the row if
// needed, per spec.md §4.4's independent get/set semantics.
func (s *Store) SetUserVoice(ctx context.Context, userID, voiceID string) error {
	return s.upsertUserColumn(ctx, userID, "voice_id", voiceID)
}

// SetUserNickname sets userID's spoken nickname.
func (s *Store) SetUserNickname(ctx context.Context, userID, nickname string) error {
	return s.upsertUserColumn(ctx, userID, "nickname", nickname)
}

// SetUserDisplayName upserts the platform display name last observed
// for userID, independent of their voice/nickname preferences.
func (s *Store) SetUserDisplayName(ctx context.Context, userID, displayName string) error {
	return s.upsertUserColumn(ctx, userID, "display_name", displayName)
}

// SetUserAutoJoin toggles whether userID joining a voice channel
// triggers an auto-follow join.
func (s *Store) SetUserAutoJoin(ctx context.Context, userID string, autoJoin bool) error {
	v := 0
	if autoJoin {
		v = 1
	}
	return s.upsertUserColumn(ctx, userID, "auto_join", v)
}

// DeleteUserVoice clears userID's voice preference, reverting them to
// the server fallback voice.
func (s *Store) DeleteUserVoice(ctx context.Context, userID string) error {
	return s.upsertUserColumn(ctx, userID, "voice_id", nil)
}

// DeleteUserNickname clears userID's spoken nickname.
func (s *Store) DeleteUserNickname(ctx context.Context, userID string) error {
	return s.upsertUserColumn(ctx, userID, "nickname", nil)
}

// RewriteVoiceForAll changes every user row currently set to oldVoice
// over to newVoice, for C4's default-voice migration (spec.md §4.4):
// when a tenant's default_voice_id changes, holders of the stale
// default are moved to a designated user-default voice.
func (s *Store) RewriteVoiceForAll(ctx context.Context, oldVoice, newVoice string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT user_id FROM discord_users WHERE voice_id = ?`, oldVoice)
	if err != nil {
		return nil, fmt.Errorf("storage: list users with voice %s: %w", oldVoice, err)
	}
	var userIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("storage: scan user id: %w", err)
		}
		userIDs = append(userIDs, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	now := time.Now().UTC().Format(time.RFC3339)
	for _, id := range userIDs {
		if _, err := s.db.ExecContext(ctx,
			`UPDATE discord_users SET voice_id = ?, updated_at = ? WHERE user_id = ?`,
			newVoice, now, id); err != nil {
			return nil, fmt.Errorf("storage: rewrite voice for user %s: %w", id, err)
		}
	}
	return userIDs, nil
}

// TouchMemberSeen records that userID was observed speaking or present
// in guildID at ts, for the "first seen" bookkeeping spec.md §3
// attaches to MemberSeen.
func (s *Store) TouchMemberSeen(ctx context.Context, guildID, userID string, ts time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO member_seen (guild_id, user_id, last_seen_at)
		VALUES (?, ?, ?)
		ON CONFLICT(guild_id, user_id) DO UPDATE SET last_seen_at = excluded.last_seen_at
	`, guildID, userID, ts.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("storage: touch member_seen %s/%s: %w", guildID, userID, err)
	}
	return nil
}

// LastSeen returns when userID was last seen in guildID, or the zero
// time if never recorded.
func (s *Store) LastSeen(ctx context.Context, guildID, userID string) (time.Time, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT last_seen_at FROM member_seen WHERE guild_id = ? AND user_id = ?`,
		guildID, userID).Scan(&raw)
	if err == sql.ErrNoRows {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("storage: last_seen %s/%s: %w", guildID, userID, err)
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("storage: parse last_seen_at: %w", err)
	}
	return t, nil
}
