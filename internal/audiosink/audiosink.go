// Package audiosink defines the opaque playback boundary spec.md §1
// calls out as out of scope for concrete RTP/Opus transport: the
// queue worker (C6) hands a byte stream to a Sink and waits for a
// completion signal, never touching platform audio framing itself.
package audiosink

import (
	"context"
	"io"
)

// Sink accepts a decoded/opaque audio byte stream for one tenant and
// plays it to whatever voice transport that tenant is currently
// attached to. Play returns once playback has started; the returned
// channel receives exactly one value (nil on a clean finish, an error
// otherwise) when playback ends.
type Sink interface {
	Play(ctx context.Context, guildID string, r io.Reader, volume float64) (<-chan error, error)
}

// ClampVolume enforces spec.md §4.6's [0, 2] volume range.
func ClampVolume(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 2 {
		return 2
	}
	return v
}
