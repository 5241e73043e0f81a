package ttspipeline

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JamesABrownlee/tts-bot/internal/voicecatalog"
)

func newTestPipeline(primaryURL, fallbackURL string) *Pipeline {
	p := New(nil)
	p.PrimaryURL = primaryURL
	p.FallbackURL = fallbackURL
	p.BaseRetryDelay = time.Millisecond
	p.HTTPClient.Timeout = 2 * time.Second
	return p
}

func TestGetStream_PrimarySuccess(t *testing.T) {
	audio := []byte("mp3-bytes")
	encoded := base64.StdEncoding.EncodeToString(audio)
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"data":"%s"}`, encoded)
	}))
	defer primary.Close()

	p := newTestPipeline(primary.URL, "http://unused.invalid")
	result, err := p.GetStream(context.Background(), "hello", "en_us_001", voicecatalog.FallbackVoice)
	require.NoError(t, err)

	got, err := io.ReadAll(result.Reader)
	require.NoError(t, err)
	assert.Equal(t, audio, got)
	require.NoError(t, <-result.Done)
}

func TestGetStream_S3ProviderFailoverAfterThreeFailures(t *testing.T) {
	var primaryHits int32
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&primaryHits, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer primary.Close()

	fallback := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "audio/mpeg")
		w.Write([]byte("fallback-audio"))
	}))
	defer fallback.Close()

	p := newTestPipeline(primary.URL, fallback.URL)
	p.MaxRetries = 0 // isolate breaker-trip counting from per-call retries

	voice := "en_us_002"
	for i := 0; i < 3; i++ {
		_, err := p.GetStream(context.Background(), "hi", voice, voicecatalog.FallbackVoice)
		// Each call fails primary and falls back successfully, but the
		// primary breaker still counts the primary failure.
		require.NoError(t, err)
	}

	// After 3 consecutive primary failures the voice should be marked
	// failed enough times that cooldown kicks in.
	assert.False(t, p.VoiceHealth.IsAvailable(voice))

	result, err := p.GetStream(context.Background(), "hi", voice, voicecatalog.FallbackVoice)
	require.NoError(t, err)
	got, _ := io.ReadAll(result.Reader)
	assert.Equal(t, "fallback-audio", string(got))
	assert.GreaterOrEqual(t, atomic.LoadInt32(&primaryHits), int32(3))
}
