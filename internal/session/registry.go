package session

import (
	"sync"

	"go.uber.org/zap"

	"github.com/JamesABrownlee/tts-bot/internal/queue"
)

// Registry owns every tenant's Session, created lazily on first use.
// Mirrors internal/tools/music/bot.go's MusicManager (teacher): a
// map guarded by an RWMutex with GetOrCreate/Remove.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	queueSize int
	policy    queue.Policy
	playback  func(guildID string) queue.PlaybackFunc
	logger    *zap.Logger
}

// NewRegistry builds a Registry. playbackFor returns the PlaybackFunc
// to bind a new session's worker to (closures over that guild's
// settings/ttspipeline/audiosink wiring).
func NewRegistry(queueSize int, policy queue.Policy, playbackFor func(guildID string) queue.PlaybackFunc, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		sessions:  make(map[string]*Session),
		queueSize: queueSize,
		policy:    policy,
		playback:  playbackFor,
		logger:    logger,
	}
}

// Get returns guildID's session if it exists, without creating one.
func (r *Registry) Get(guildID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[guildID]
	return s, ok
}

// GetOrCreate returns guildID's session, creating a fresh Detached one
// if none exists yet.
func (r *Registry) GetOrCreate(guildID string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[guildID]; ok {
		return s
	}
	s := New(guildID, r.queueSize, r.policy, r.playback(guildID), r.logger)
	r.sessions[guildID] = s
	return s
}

// All returns a snapshot slice of every known session.
func (r *Registry) All() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// Remove disconnects and forgets guildID's session.
func (r *Registry) Remove(guildID string) {
	r.mu.Lock()
	s, ok := r.sessions[guildID]
	delete(r.sessions, guildID)
	r.mu.Unlock()

	if ok {
		_ = s.Disconnect("removed")
	}
}
