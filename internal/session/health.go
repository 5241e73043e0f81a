package session

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// HealthLoopInterval is the tick period for reattachment sweeps,
// spec.md §4.5's "one task per process, 20s tick".
const HealthLoopInterval = 20 * time.Second

// HealthLoop periodically reconciles each session's believed
// attachment state against platform reality, reattaching when the
// platform reports a drop and non-bot members remain in the target
// channel.
type HealthLoop struct {
	registry *Registry
	conn     Connector
	logger   *zap.Logger
	interval time.Duration
}

func NewHealthLoop(registry *Registry, conn Connector, logger *zap.Logger) *HealthLoop {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HealthLoop{registry: registry, conn: conn, logger: logger, interval: HealthLoopInterval}
}

// Run ticks until ctx is cancelled.
func (h *HealthLoop) Run(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.sweep(ctx)
		}
	}
}

// sweep reconciles every tenant concurrently: one guild's platform
// check/reconnect never waits behind another's.
func (h *HealthLoop) sweep(ctx context.Context) {
	var g errgroup.Group
	for _, s := range h.registry.All() {
		s := s
		g.Go(func() error {
			h.reconcile(ctx, s)
			return nil
		})
	}
	_ = g.Wait()
}

func (h *HealthLoop) reconcile(ctx context.Context, s *Session) {
	s.mu.Lock()
	believesAttached := s.state == Attached
	s.mu.Unlock()

	_, platformAttached := h.conn.LiveVoiceClient(s.GuildID)
	if !believesAttached || platformAttached {
		return
	}

	target := s.ReattachTarget()
	if target == "" {
		return
	}

	count, err := h.conn.NonBotMemberCount(s.GuildID, target)
	if err != nil {
		h.logger.Warn("health loop: member count failed", zap.String("guild_id", s.GuildID), zap.Error(err))
		return
	}
	if count == 0 {
		return
	}

	s.ResetDropped()

	if err := s.EnsureConnected(ctx, h.conn, target); err != nil {
		h.logger.Warn("health loop: reattach failed", zap.String("guild_id", s.GuildID), zap.Error(err))
	}
}

// MaybeLeaveWhenAlone implements spec.md §4.5's auto-leave: if the
// session is attached and its channel has zero non-bot members, it
// disconnects with reason "alone".
func (s *Session) MaybeLeaveWhenAlone(conn Connector) error {
	s.mu.Lock()
	channelID := s.lockedChannelID
	attached := s.state == Attached
	s.mu.Unlock()

	if !attached {
		return nil
	}
	count, err := conn.NonBotMemberCount(s.GuildID, channelID)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	return s.Disconnect("alone")
}
