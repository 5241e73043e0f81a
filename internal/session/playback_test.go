package session

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JamesABrownlee/tts-bot/internal/queue"
	"github.com/JamesABrownlee/tts-bot/internal/settings"
	"github.com/JamesABrownlee/tts-bot/internal/storage"
	"github.com/JamesABrownlee/tts-bot/internal/ttspipeline"
)

type fakeSink struct {
	playedVolume float64
	gotText      string
}

func (f *fakeSink) Play(ctx context.Context, guildID string, r io.Reader, volume float64) (<-chan error, error) {
	f.playedVolume = volume
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	f.gotText = string(b)
	done := make(chan error, 1)
	done <- nil
	return done, nil
}

func TestPlaybackFuncFetchesStreamAndPlaysIt(t *testing.T) {
	db, err := storage.Open(context.Background(), "file:"+t.Name()+"?mode=memory&cache=shared", nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	st := settings.New(db, settings.Defaults("voice-d", 350), nil, nil, nil)

	audio := []byte("mp3-bytes")
	encoded := base64.StdEncoding.EncodeToString(audio)
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"data":"%s"}`, encoded)
	}))
	t.Cleanup(primary.Close)

	pipeline := ttspipeline.New(nil)
	pipeline.PrimaryURL = primary.URL
	pipeline.BaseRetryDelay = time.Millisecond

	sink := &fakeSink{}
	playback := NewPlaybackFunc("g1", st, pipeline, sink, nil)

	err = playback(context.Background(), queue.Item{Text: "hello", VoiceID: "voice-d", Volume: 0.8})
	require.NoError(t, err)
	assert.Equal(t, "mp3-bytes", sink.gotText)
	assert.Equal(t, 0.8, sink.playedVolume)
}

func TestPlaybackFuncNoOpOnEmptyText(t *testing.T) {
	db, err := storage.Open(context.Background(), "file:"+t.Name()+"?mode=memory&cache=shared", nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	st := settings.New(db, settings.Defaults("voice-d", 350), nil, nil, nil)

	sink := &fakeSink{}
	playback := NewPlaybackFunc("g1", st, nil, sink, nil)

	err = playback(context.Background(), queue.Item{Text: "   "})
	require.NoError(t, err)
	assert.Empty(t, sink.gotText)
}
