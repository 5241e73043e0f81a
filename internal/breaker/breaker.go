// Package breaker implements the per-provider circuit breakers and
// per-voice failure cooldowns that guard the TTS pipeline (C1).
package breaker

import (
	"sync"
	"time"

	apperrors "github.com/JamesABrownlee/tts-bot/pkg/errors"
)

// Clock is the time source breakers use; overridable in tests.
type Clock func() time.Time

// CircuitBreaker guards a single upstream provider. Execute runs op
// only while the breaker is closed; failures accumulate and trip the
// breaker open for ResetTimeout once FailureThreshold is reached.
type CircuitBreaker struct {
	Name             string
	FailureThreshold int
	ResetTimeout     time.Duration

	clock Clock

	mu        sync.Mutex
	failures  int
	openUntil time.Time
}

// New creates a CircuitBreaker with the given name and parameters.
func New(name string, failureThreshold int, resetTimeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		Name:             name,
		FailureThreshold: failureThreshold,
		ResetTimeout:     resetTimeout,
		clock:            time.Now,
	}
}

// WithClock overrides the breaker's time source (test hook).
func (b *CircuitBreaker) WithClock(c Clock) *CircuitBreaker {
	b.clock = c
	return b
}

// Execute runs op if the breaker is closed, failing fast with
// ErrBreakerOpen otherwise. A successful op resets the failure count;
// a failing op increments it and may trip the breaker open.
func (b *CircuitBreaker) Execute(op func() error) error {
	now := b.clock()

	b.mu.Lock()
	if !b.openUntil.IsZero() && now.Before(b.openUntil) {
		b.mu.Unlock()
		return apperrors.NewErrBreakerOpen(b.Name)
	}
	b.mu.Unlock()

	err := op()

	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		b.failures = 0
		b.openUntil = time.Time{}
		return nil
	}
	b.failures++
	if b.failures >= b.FailureThreshold {
		b.openUntil = now.Add(b.ResetTimeout)
	}
	return err
}

// IsOpen reports whether the breaker is currently failing fast.
func (b *CircuitBreaker) IsOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.openUntil.IsZero() && b.clock().Before(b.openUntil)
}

const (
	// VoiceFailureThreshold is the number of consecutive failures that
	// puts a voice id into cooldown.
	VoiceFailureThreshold = 3
	// VoiceCooldownDuration is how long a voice stays unavailable once
	// it crosses VoiceFailureThreshold.
	VoiceCooldownDuration = 300 * time.Second
)

type voiceStatus struct {
	failures      int
	cooldownUntil time.Time
}

// VoiceHealth tracks per-voice-id consecutive failures independently
// of the provider circuit breakers.
type VoiceHealth struct {
	clock Clock

	mu     sync.Mutex
	voices map[string]*voiceStatus
}

// NewVoiceHealth creates an empty VoiceHealth tracker.
func NewVoiceHealth() *VoiceHealth {
	return &VoiceHealth{clock: time.Now, voices: make(map[string]*voiceStatus)}
}

// WithClock overrides the tracker's time source (test hook).
func (h *VoiceHealth) WithClock(c Clock) *VoiceHealth {
	h.clock = c
	return h
}

func (h *VoiceHealth) status(voiceID string) *voiceStatus {
	s, ok := h.voices[voiceID]
	if !ok {
		s = &voiceStatus{}
		h.voices[voiceID] = s
	}
	return s
}

// MarkFailed records a failure for voiceID, putting it into cooldown
// once it has failed VoiceFailureThreshold times in a row.
func (h *VoiceHealth) MarkFailed(voiceID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s := h.status(voiceID)
	s.failures++
	if s.failures >= VoiceFailureThreshold {
		s.cooldownUntil = h.clock().Add(VoiceCooldownDuration)
	}
}

// MarkSuccess decrements voiceID's failure count with a floor of zero,
// clearing its cooldown once the count reaches zero.
func (h *VoiceHealth) MarkSuccess(voiceID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.voices[voiceID]
	if !ok {
		return
	}
	if s.failures > 0 {
		s.failures--
	}
	if s.failures == 0 {
		s.cooldownUntil = time.Time{}
	}
}

// IsAvailable reports whether voiceID may currently be used. A voice
// whose cooldown has elapsed is reset to healthy as a side effect.
func (h *VoiceHealth) IsAvailable(voiceID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.voices[voiceID]
	if !ok {
		return true
	}
	now := h.clock()
	if !s.cooldownUntil.IsZero() && !now.Before(s.cooldownUntil) {
		s.failures = 0
		s.cooldownUntil = time.Time{}
		return true
	}
	return s.failures < VoiceFailureThreshold
}
