// Package userprefs implements the per-user preference store (C4):
// voice_id, nickname, and auto_join, each independently gettable,
// settable, and clearable, cached in memory and backed by
// internal/storage. Grounded on original_source/utils/db.py's
// upsert_user/get_user_voice/set_user_nickname family of methods.
package userprefs

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JamesABrownlee/tts-bot/internal/storage"
)

// Preference is a user's cached, nullable-field preference record.
type Preference struct {
	UserID      string
	DisplayName string
	Nickname    string
	VoiceID     string // "" means "use server fallback"
	AutoJoin    bool
}

// Store caches per-user preferences over internal/storage, with a
// single mutex guarding the cache map (mirrors C3's global-lock
// choice; contention across users is independent rows so this is not
// a bottleneck in practice).
type Store struct {
	db     *storage.Store
	logger *zap.Logger

	mu    sync.Mutex
	cache map[string]Preference
}

func New(db *storage.Store, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{db: db, logger: logger, cache: make(map[string]Preference)}
}

// Get returns userID's cached preference, loading from durable
// storage on a cache miss. A user with no row yet gets a zero-value
// preference (no error).
func (s *Store) Get(ctx context.Context, userID string) (Preference, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getLocked(ctx, userID)
}

func (s *Store) getLocked(ctx context.Context, userID string) (Preference, error) {
	if cached, ok := s.cache[userID]; ok {
		return cached, nil
	}

	rec, err := s.db.GetUser(ctx, userID)
	if err != nil {
		return Preference{}, fmt.Errorf("userprefs: load %s: %w", userID, err)
	}

	pref := Preference{UserID: userID}
	if rec != nil {
		pref.DisplayName = rec.DisplayName
		pref.Nickname = rec.Nickname
		pref.VoiceID = rec.VoiceID
		pref.AutoJoin = rec.AutoJoin
	}
	s.cache[userID] = pref
	return pref, nil
}

// SetVoice upserts userID's preferred voice and display name.
func (s *Store) SetVoice(ctx context.Context, userID, displayName, voiceID string) (Preference, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.db.SetUserVoice(ctx, userID, voiceID); err != nil {
		return Preference{}, fmt.Errorf("userprefs: set voice for %s: %w", userID, err)
	}
	if err := s.db.SetUserDisplayName(ctx, userID, displayName); err != nil {
		return Preference{}, fmt.Errorf("userprefs: set display name for %s: %w", userID, err)
	}

	pref, _ := s.getLocked(ctx, userID)
	pref.VoiceID = voiceID
	pref.DisplayName = displayName
	s.cache[userID] = pref
	return pref, nil
}

// SetNickname upserts userID's spoken nickname and display name.
func (s *Store) SetNickname(ctx context.Context, userID, displayName, nickname string) (Preference, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.db.SetUserNickname(ctx, userID, nickname); err != nil {
		return Preference{}, fmt.Errorf("userprefs: set nickname for %s: %w", userID, err)
	}
	if err := s.db.SetUserDisplayName(ctx, userID, displayName); err != nil {
		return Preference{}, fmt.Errorf("userprefs: set display name for %s: %w", userID, err)
	}

	pref, _ := s.getLocked(ctx, userID)
	pref.Nickname = nickname
	pref.DisplayName = displayName
	s.cache[userID] = pref
	return pref, nil
}

// SetAutoJoin toggles whether userID's voice triggers auto-follow.
func (s *Store) SetAutoJoin(ctx context.Context, userID string, autoJoin bool) (Preference, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.db.SetUserAutoJoin(ctx, userID, autoJoin); err != nil {
		return Preference{}, fmt.Errorf("userprefs: set auto_join for %s: %w", userID, err)
	}
	pref, _ := s.getLocked(ctx, userID)
	pref.AutoJoin = autoJoin
	s.cache[userID] = pref
	return pref, nil
}

// ClearVoice reverts userID to the server fallback voice.
func (s *Store) ClearVoice(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.db.DeleteUserVoice(ctx, userID); err != nil {
		return fmt.Errorf("userprefs: clear voice for %s: %w", userID, err)
	}
	pref, _ := s.getLocked(ctx, userID)
	pref.VoiceID = ""
	s.cache[userID] = pref
	return nil
}

// ClearNickname removes userID's spoken nickname.
func (s *Store) ClearNickname(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.db.DeleteUserNickname(ctx, userID); err != nil {
		return fmt.Errorf("userprefs: clear nickname for %s: %w", userID, err)
	}
	pref, _ := s.getLocked(ctx, userID)
	pref.Nickname = ""
	s.cache[userID] = pref
	return nil
}

// MigrateDefaultVoice implements spec.md §4.4's default-voice
// migration: every user pinned to oldDefault is rewritten to
// userDefault (computed by the caller as fallbackVoice if distinct
// from newDefault, else the first non-newDefault catalog voice), and
// the in-memory cache is updated for any affected user already cached.
func (s *Store) MigrateDefaultVoice(ctx context.Context, oldDefault, userDefault string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	migrated, err := s.db.RewriteVoiceForAll(ctx, oldDefault, userDefault)
	if err != nil {
		return fmt.Errorf("userprefs: migrate default voice %s -> %s: %w", oldDefault, userDefault, err)
	}

	for _, userID := range migrated {
		if pref, ok := s.cache[userID]; ok {
			pref.VoiceID = userDefault
			s.cache[userID] = pref
		}
	}
	s.logger.Info("migrated default voice holders",
		zap.String("from", oldDefault), zap.String("to", userDefault), zap.Int("count", len(migrated)))
	return nil
}
