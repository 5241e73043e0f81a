package settings

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JamesABrownlee/tts-bot/internal/storage"
	"github.com/JamesABrownlee/tts-bot/internal/userprefs"
)

// Store is the cache + DB-backed settings table, one record per
// guild. It serializes every read and write behind a single global
// mutex (spec.md §9's open-question resolution: simplicity over
// per-tenant locking, since write contention across tenants is low).
type Store struct {
	db        *storage.Store
	defaults  Settings
	userPrefs *userprefs.Store
	catalog   []string
	logger    *zap.Logger

	mu    sync.Mutex
	cache map[string]Settings
}

// New builds a Store. defaults seeds first-read records for guilds
// with no persisted settings yet. userPrefs and catalog drive the
// default-voice migration Update triggers when default_voice_id
// changes; userPrefs may be nil to disable migration (e.g. in tests
// that don't need it).
func New(db *storage.Store, defaults Settings, userPrefs *userprefs.Store, catalog []string, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		db:        db,
		defaults:  defaults,
		userPrefs: userPrefs,
		catalog:   catalog,
		logger:    logger,
		cache:     make(map[string]Settings),
	}
}

// Get returns guildID's settings, creating and persisting the default
// record on first read. The returned value's slice fields are
// independent copies of the cached record, so a caller mutating them
// cannot corrupt the shared cache.
func (s *Store) Get(ctx context.Context, guildID string) (Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	result, err := s.getLocked(ctx, guildID)
	if err != nil {
		return Settings{}, err
	}
	return result.clone(), nil
}

func (s *Store) getLocked(ctx context.Context, guildID string) (Settings, error) {
	if cached, ok := s.cache[guildID]; ok {
		return cached, nil
	}

	raw, err := s.db.LoadGuildSettingsJSON(ctx, guildID)
	if err != nil {
		return Settings{}, fmt.Errorf("settings: load %s: %w", guildID, err)
	}

	var result Settings
	if raw == "" {
		result, err = Validate(s.defaults, nil)
		if err != nil {
			return Settings{}, err
		}
		if err := s.persistLocked(ctx, guildID, result); err != nil {
			return Settings{}, err
		}
	} else {
		var decoded map[string]any
		if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
			return Settings{}, fmt.Errorf("settings: corrupt record for %s: %w", guildID, err)
		}
		result, err = Validate(s.defaults, decoded)
		if err != nil {
			return Settings{}, err
		}
	}

	s.cache[guildID] = result
	return result, nil
}

// Update merges patch over guildID's current settings, validates,
// persists, and caches the result. An unknown key in patch fails
// without mutating any state.
func (s *Store) Update(ctx context.Context, guildID string, patch map[string]any) (Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.getLocked(ctx, guildID)
	if err != nil {
		return Settings{}, err
	}

	updated, err := Validate(current, patch)
	if err != nil {
		return Settings{}, err
	}

	if err := s.persistLocked(ctx, guildID, updated); err != nil {
		return Settings{}, err
	}
	s.cache[guildID] = updated

	if s.userPrefs != nil && updated.DefaultVoiceID != current.DefaultVoiceID {
		userDefault := userDefaultVoiceFor(updated.FallbackVoice, updated.DefaultVoiceID, s.catalog)
		if err := s.userPrefs.MigrateDefaultVoice(ctx, current.DefaultVoiceID, userDefault); err != nil {
			s.logger.Warn("settings: default-voice migration failed",
				zap.String("guild_id", guildID), zap.Error(err))
		}
	}
	return updated, nil
}

// userDefaultVoiceFor computes the voice a user implicitly holding the
// server default should be migrated to once that default changes: the
// fallback voice if it differs from the new default, else the first
// catalog voice other than the new default. Mirrors
// internal/router's EffectiveVoice resolver (kept local to avoid a
// settings->router import cycle).
func userDefaultVoiceFor(fallback, newDefault string, catalog []string) string {
	if fallback != newDefault {
		return fallback
	}
	for _, v := range catalog {
		if v != newDefault {
			return v
		}
	}
	return fallback
}

func (s *Store) persistLocked(ctx context.Context, guildID string, rec Settings) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("settings: marshal %s: %w", guildID, err)
	}
	if err := s.db.SaveGuildSettingsJSON(ctx, guildID, string(raw)); err != nil {
		return fmt.Errorf("settings: persist %s: %w", guildID, err)
	}
	return nil
}

// Invalidate drops guildID from the cache, forcing the next Get to
// reload from durable storage.
func (s *Store) Invalidate(guildID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cache, guildID)
}

// Preload warms the cache for a known set of guild IDs, mirroring
// original_source/utils/guild_settings_store.py's preload() used at
// startup for guilds the session already knows about.
func (s *Store) Preload(ctx context.Context, guildIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, gid := range guildIDs {
		if _, err := s.getLocked(ctx, gid); err != nil {
			return err
		}
	}
	return nil
}

// All returns every cached guild's settings, for control-plane
// listing endpoints. It does not force-load guilds absent from cache.
func (s *Store) All() map[string]Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Settings, len(s.cache))
	for k, v := range s.cache {
		out[k] = v.clone()
	}
	return out
}
