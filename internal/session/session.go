// Package session implements the per-tenant guild session state
// machine (C5): voice attachment, the connect lock, health-loop
// reattachment, and auto-leave/auto-follow policy. The registry shape
// (one struct per guild behind a map+mutex) is grounded on
// internal/tools/music/bot.go's MusicBot/MusicManager pair (teacher);
// the state machine itself follows spec.md §4.5.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/JamesABrownlee/tts-bot/pkg/errors"

	"github.com/JamesABrownlee/tts-bot/internal/queue"
)

// State is one of the four attachment states spec.md §4.5 names.
type State int

const (
	Detached State = iota
	Connecting
	Attached
	Disconnecting
)

func (s State) String() string {
	switch s {
	case Detached:
		return "detached"
	case Connecting:
		return "connecting"
	case Attached:
		return "attached"
	case Disconnecting:
		return "disconnecting"
	default:
		return "unknown"
	}
}

// ReconnectCooldown is the minimum interval between connect attempts
// for a single tenant (spec.md §4.5).
const ReconnectCooldown = 5 * time.Second

// VoiceClient is the opaque platform handle a Session holds while
// attached. Concrete RTP/Opus transport is out of scope; this is the
// minimal surface the state machine needs.
type VoiceClient interface {
	ChannelID() string
	Disconnect() error
}

// Connector opens and moves platform voice connections. Implemented by
// a discordgo-backed adapter outside this package.
type Connector interface {
	Connect(ctx context.Context, guildID, channelID string, selfDeaf bool) (VoiceClient, error)
	Move(ctx context.Context, vc VoiceClient, channelID string) (VoiceClient, error)
	LiveVoiceClient(guildID string) (VoiceClient, bool)
	NonBotMemberCount(guildID, channelID string) (int, error)
}

// Session is one tenant's live attachment + playback state.
type Session struct {
	GuildID string

	mu                 sync.Mutex // the spec's connect_lock
	state              State
	voiceClient        VoiceClient
	lockedChannelID    string
	lastChannelID      string
	lastConnectAttempt time.Time
	lastSpeakerID      string

	Queue  *queue.Queue
	worker *queue.Worker

	playback queue.PlaybackFunc
	logger   *zap.Logger
	clock    func() time.Time
}

// New builds a Detached Session for guildID. playback is invoked by
// the worker for each dequeued item once attached.
func New(guildID string, queueSize int, policy queue.Policy, playback queue.PlaybackFunc, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{
		GuildID:  guildID,
		state:    Detached,
		Queue:    queue.New(queueSize, policy),
		playback: playback,
		logger:   logger,
		clock:    time.Now,
	}
}

// State returns the session's current attachment state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LockedChannelID returns the channel this tenant is currently locked
// to, or "" if none.
func (s *Session) LockedChannelID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lockedChannelID
}

// LastSpeakerID returns the last user attributed in chat auto-read.
func (s *Session) LastSpeakerID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSpeakerID
}

// SetLastSpeakerID updates the speaker-attribution marker (C7 owns
// when this changes).
func (s *Session) SetLastSpeakerID(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSpeakerID = userID
}

// EnsureConnected implements spec.md §4.5's ensure_connected: attach
// to targetChannelID, adopting a live platform connection if one
// already exists, respecting the reconnect cooldown, and starting the
// worker on a fresh attach.
func (s *Session) EnsureConnected(ctx context.Context, conn Connector, targetChannelID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == Attached {
		if s.lockedChannelID == targetChannelID {
			return nil
		}
		return apperrors.NewErrLocked(s.lockedChannelID)
	}

	if live, ok := conn.LiveVoiceClient(s.GuildID); ok && live != nil {
		s.adoptLocked(live)
		if live.ChannelID() == targetChannelID {
			return nil
		}
		return apperrors.NewErrLocked(live.ChannelID())
	}

	if !s.lastConnectAttempt.IsZero() && s.clock().Sub(s.lastConnectAttempt) < ReconnectCooldown {
		return apperrors.ErrCooldown
	}

	s.state = Connecting
	s.lockedChannelID = targetChannelID
	s.lastConnectAttempt = s.clock()

	vc, err := conn.Connect(ctx, s.GuildID, targetChannelID, true)
	if err != nil {
		s.state = Detached
		s.lockedChannelID = ""
		return apperrors.NewErrConnectFailed(targetChannelID, err)
	}

	s.voiceClient = vc
	s.lastChannelID = targetChannelID
	s.state = Attached
	s.startWorkerLocked()
	return nil
}

func (s *Session) adoptLocked(vc VoiceClient) {
	s.voiceClient = vc
	s.lockedChannelID = vc.ChannelID()
	s.lastChannelID = vc.ChannelID()
	s.state = Attached
	s.startWorkerLocked()
}

// startWorkerLocked starts the session's worker if one is not already
// running. Idempotent so every attach path (fresh connect, adopt, or a
// health-loop reattach) can call it unconditionally without risking a
// second worker draining the same Queue.
func (s *Session) startWorkerLocked() {
	if s.worker != nil {
		return
	}
	s.worker = queue.NewWorker(s.Queue, s.playback, s.logger)
	go s.worker.Run(context.Background())
}

// Disconnect implements spec.md §4.5's disconnect(reason): clears
// attachment state and stops the worker. For reasons "slash_leave" and
// "alone", last_channel_id is also cleared so the health loop does not
// try to restore it.
func (s *Session) Disconnect(reason string) error {
	s.mu.Lock()
	worker := s.worker
	vc := s.voiceClient
	wasAttached := s.state == Attached
	s.mu.Unlock()

	if !wasAttached {
		return nil
	}

	if worker != nil {
		worker.Stop()
	}

	var disconnectErr error
	if vc != nil {
		disconnectErr = vc.Disconnect()
	}

	s.mu.Lock()
	s.state = Detached
	s.voiceClient = nil
	s.lockedChannelID = ""
	s.lastSpeakerID = ""
	s.worker = nil
	if reason == "slash_leave" || reason == "alone" {
		s.lastChannelID = ""
	}
	s.mu.Unlock()

	if disconnectErr != nil {
		return fmt.Errorf("session: disconnect %s: %w", s.GuildID, disconnectErr)
	}
	return nil
}

// ResetDropped clears attachment state after the platform has dropped
// the connection out from under the session's belief, stopping the
// existing worker first so EnsureConnected's subsequent redial never
// starts a second worker alongside one still draining the Queue.
func (s *Session) ResetDropped() {
	s.mu.Lock()
	worker := s.worker
	s.worker = nil
	s.state = Detached
	s.voiceClient = nil
	s.mu.Unlock()

	if worker != nil {
		worker.Stop()
	}
}

// MoveTo relocates an already-attached session to a new channel in the
// same guild via Connector.Move, leaving the worker and queue running
// instead of the disconnect/reconnect cycle EnsureConnected performs
// for a cold attach.
func (s *Session) MoveTo(ctx context.Context, conn Connector, targetChannelID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Attached || s.voiceClient == nil {
		return fmt.Errorf("session: moveto called while not attached")
	}
	vc, err := conn.Move(ctx, s.voiceClient, targetChannelID)
	if err != nil {
		return apperrors.NewErrConnectFailed(targetChannelID, err)
	}
	s.voiceClient = vc
	s.lockedChannelID = targetChannelID
	s.lastChannelID = targetChannelID
	return nil
}

// ReattachTarget returns the channel the health loop should try to
// restore attachment to: the locked channel if known, else the last
// known channel.
func (s *Session) ReattachTarget() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lockedChannelID != "" {
		return s.lockedChannelID
	}
	return s.lastChannelID
}

// IsAttachedTo reports whether the session is attached to channelID.
func (s *Session) IsAttachedTo(channelID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == Attached && s.lockedChannelID == channelID
}
