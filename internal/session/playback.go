package session

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/JamesABrownlee/tts-bot/internal/audiosink"
	"github.com/JamesABrownlee/tts-bot/internal/queue"
	"github.com/JamesABrownlee/tts-bot/internal/settings"
	"github.com/JamesABrownlee/tts-bot/internal/ttspipeline"
)

// NewPlaybackFunc wires C2 and the audio sink into the queue.PlaybackFunc
// a session's worker invokes per item, implementing spec.md §4.6's
// playback steps 2-4 (the voice/text resolution of step 1 has already
// happened by the time an item reaches the queue). fallbackVoice is
// read fresh from the settings store on every call since a tenant can
// change it between utterances.
func NewPlaybackFunc(guildID string, st *settings.Store, pipeline *ttspipeline.Pipeline, sink audiosink.Sink, logger *zap.Logger) queue.PlaybackFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(ctx context.Context, item queue.Item) error {
		text := strings.TrimSpace(item.Text)
		if text == "" {
			return nil
		}

		fallbackVoice := item.VoiceID
		if cfg, err := st.Get(ctx, guildID); err == nil {
			fallbackVoice = cfg.FallbackVoice
		}

		result, err := pipeline.GetStream(ctx, text, item.VoiceID, fallbackVoice)
		if err != nil {
			return fmt.Errorf("session: fetch tts stream: %w", err)
		}
		defer result.Reader.Close()

		done, err := sink.Play(ctx, guildID, result.Reader, item.Volume)
		if err != nil {
			return fmt.Errorf("session: start playback: %w", err)
		}

		var playErr error
		select {
		case playErr = <-done:
		case <-ctx.Done():
			playErr = ctx.Err()
		}

		producerErr := <-result.Done
		if playErr != nil {
			return fmt.Errorf("session: playback: %w", playErr)
		}
		if producerErr != nil {
			return fmt.Errorf("session: tts producer: %w", producerErr)
		}
		return nil
	}
}
