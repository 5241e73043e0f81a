package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/JamesABrownlee/tts-bot/pkg/errors"

	"github.com/JamesABrownlee/tts-bot/internal/queue"
)

type fakeVoiceClient struct {
	channelID    string
	disconnected bool
}

func (f *fakeVoiceClient) ChannelID() string { return f.channelID }
func (f *fakeVoiceClient) Disconnect() error {
	f.disconnected = true
	return nil
}

type fakeConnector struct {
	mu          sync.Mutex
	live        map[string]VoiceClient
	connectErr  error
	memberCount int
	connectCalls int
}

func newFakeConnector() *fakeConnector {
	return &fakeConnector{live: map[string]VoiceClient{}}
}

func (f *fakeConnector) Connect(ctx context.Context, guildID, channelID string, selfDeaf bool) (VoiceClient, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connectCalls++
	if f.connectErr != nil {
		return nil, f.connectErr
	}
	vc := &fakeVoiceClient{channelID: channelID}
	f.live[guildID] = vc
	return vc, nil
}

func (f *fakeConnector) Move(ctx context.Context, vc VoiceClient, channelID string) (VoiceClient, error) {
	return &fakeVoiceClient{channelID: channelID}, nil
}

func (f *fakeConnector) LiveVoiceClient(guildID string) (VoiceClient, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	vc, ok := f.live[guildID]
	return vc, ok
}

func (f *fakeConnector) NonBotMemberCount(guildID, channelID string) (int, error) {
	return f.memberCount, nil
}

func noopPlayback(ctx context.Context, item queue.Item) error { return nil }

func TestEnsureConnectedFreshAttach(t *testing.T) {
	s := New("g1", 10, queue.DropOldest, noopPlayback, nil)
	conn := newFakeConnector()

	err := s.EnsureConnected(context.Background(), conn, "c1")
	require.NoError(t, err)
	assert.Equal(t, Attached, s.State())
	assert.Equal(t, "c1", s.LockedChannelID())
}

func TestEnsureConnectedSameChannelIsNoop(t *testing.T) {
	s := New("g1", 10, queue.DropOldest, noopPlayback, nil)
	conn := newFakeConnector()
	require.NoError(t, s.EnsureConnected(context.Background(), conn, "c1"))

	err := s.EnsureConnected(context.Background(), conn, "c1")
	assert.NoError(t, err)
}

func TestEnsureConnectedDifferentChannelFailsLocked(t *testing.T) {
	s := New("g1", 10, queue.DropOldest, noopPlayback, nil)
	conn := newFakeConnector()
	require.NoError(t, s.EnsureConnected(context.Background(), conn, "c1"))

	err := s.EnsureConnected(context.Background(), conn, "c2")
	var locked *apperrors.ErrLocked
	require.ErrorAs(t, err, &locked)
	assert.Equal(t, "c1", locked.ChannelID)
}

func TestEnsureConnectedRespectsCooldown(t *testing.T) {
	s := New("g1", 10, queue.DropOldest, noopPlayback, nil)
	conn := newFakeConnector()
	conn.connectErr = assertErr{"boom"}

	err := s.EnsureConnected(context.Background(), conn, "c1")
	require.Error(t, err)
	assert.Equal(t, Detached, s.State())

	err = s.EnsureConnected(context.Background(), conn, "c1")
	require.ErrorIs(t, err, apperrors.ErrCooldown)
}

func TestDisconnectClearsLastChannelOnlyForNamedReasons(t *testing.T) {
	s := New("g1", 10, queue.DropOldest, noopPlayback, nil)
	conn := newFakeConnector()
	require.NoError(t, s.EnsureConnected(context.Background(), conn, "c1"))

	require.NoError(t, s.Disconnect("alone"))
	assert.Equal(t, Detached, s.State())
	assert.Empty(t, s.ReattachTarget())
}

func TestDisconnectKeepsLastChannelForOtherReasons(t *testing.T) {
	s := New("g1", 10, queue.DropOldest, noopPlayback, nil)
	conn := newFakeConnector()
	require.NoError(t, s.EnsureConnected(context.Background(), conn, "c1"))

	require.NoError(t, s.Disconnect("voice_state_drop"))
	assert.Equal(t, "c1", s.ReattachTarget())
}

func TestHealthLoopReattachesWhenMembersPresent(t *testing.T) {
	s := New("g1", 10, queue.DropOldest, noopPlayback, nil)
	conn := newFakeConnector()
	require.NoError(t, s.EnsureConnected(context.Background(), conn, "c1"))

	// Simulate the platform dropping the connection behind our back.
	conn.mu.Lock()
	delete(conn.live, "g1")
	conn.mu.Unlock()
	conn.memberCount = 2

	registry := NewRegistry(10, queue.DropOldest, func(string) queue.PlaybackFunc { return noopPlayback }, nil)
	registry.sessions["g1"] = s

	// Step past the reconnect cooldown that the first attach started.
	s.clock = func() time.Time { return time.Now().Add(ReconnectCooldown) }

	loop := NewHealthLoop(registry, conn, nil)
	loop.reconcile(context.Background(), s)

	assert.Equal(t, Attached, s.State())
	assert.GreaterOrEqual(t, conn.connectCalls, 2)
}

func TestHealthLoopReconcileStopsPriorWorkerBeforeReattaching(t *testing.T) {
	s := New("g1", 10, queue.DropOldest, noopPlayback, nil)
	conn := newFakeConnector()
	require.NoError(t, s.EnsureConnected(context.Background(), conn, "c1"))

	oldWorker := s.worker
	require.NotNil(t, oldWorker)

	conn.mu.Lock()
	delete(conn.live, "g1")
	conn.mu.Unlock()
	conn.memberCount = 2

	registry := NewRegistry(10, queue.DropOldest, func(string) queue.PlaybackFunc { return noopPlayback }, nil)
	registry.sessions["g1"] = s

	loop := NewHealthLoop(registry, conn, nil)
	loop.reconcile(context.Background(), s)

	select {
	case <-oldWorker.Done():
	default:
		t.Fatal("reconcile must stop the pre-drop worker before EnsureConnected starts a new one")
	}
	assert.NotSame(t, oldWorker, s.worker, "reconcile must not leave two workers draining the same queue")
}

func TestMaybeLeaveWhenAloneDisconnects(t *testing.T) {
	s := New("g1", 10, queue.DropOldest, noopPlayback, nil)
	conn := newFakeConnector()
	require.NoError(t, s.EnsureConnected(context.Background(), conn, "c1"))
	conn.memberCount = 0

	require.NoError(t, s.MaybeLeaveWhenAlone(conn))
	assert.Equal(t, Detached, s.State())
}

type assertErr struct{ msg string }

func (e assertErr) Error() string { return e.msg }
