package breaker

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/JamesABrownlee/tts-bot/pkg/errors"
)

func TestBreakerOpensAndHeals(t *testing.T) {
	now := time.Unix(0, 0)
	clock := func() time.Time { return now }
	b := New("primary", 3, 60*time.Second).WithClock(clock)

	failing := errors.New("boom")
	for i := 0; i < 3; i++ {
		err := b.Execute(func() error { return failing })
		require.ErrorIs(t, err, failing)
	}

	err := b.Execute(func() error { t.Fatal("op must not run while open"); return nil })
	var openErr *apperrors.ErrBreakerOpen
	require.ErrorAs(t, err, &openErr)

	now = now.Add(61 * time.Second)
	ran := false
	err = b.Execute(func() error { ran = true; return nil })
	require.NoError(t, err)
	assert.True(t, ran)
}

func TestBreakerResetsFailuresOnSuccess(t *testing.T) {
	b := New("fallback", 2, 30*time.Second)
	_ = b.Execute(func() error { return errors.New("x") })
	require.NoError(t, b.Execute(func() error { return nil }))

	// A single further failure shouldn't trip the breaker since the
	// success above reset the counter.
	_ = b.Execute(func() error { return errors.New("x") })
	assert.False(t, b.IsOpen())
}

func TestVoiceHealthCooldownAndRecovery(t *testing.T) {
	now := time.Unix(0, 0)
	clock := func() time.Time { return now }
	h := NewVoiceHealth().WithClock(clock)

	assert.True(t, h.IsAvailable("v1"))
	h.MarkFailed("v1")
	h.MarkFailed("v1")
	assert.True(t, h.IsAvailable("v1"))
	h.MarkFailed("v1")
	assert.False(t, h.IsAvailable("v1"))

	now = now.Add(301 * time.Second)
	assert.True(t, h.IsAvailable("v1"))
}

func TestVoiceHealthSuccessDecrementsWithFloor(t *testing.T) {
	h := NewVoiceHealth()
	h.MarkFailed("v1")
	h.MarkFailed("v1")
	h.MarkSuccess("v1")
	h.MarkSuccess("v1")
	h.MarkSuccess("v1")
	assert.True(t, h.IsAvailable("v1"))
}
