package audiosink

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

// FfmpegExecutable is the binary used to transcode MP3 to OGG/Opus.
// Overridable for tests that fake the sink entirely.
var FfmpegExecutable = "ffmpeg"

// VoiceConnections resolves the live platform voice connection for a
// guild, so the sink can be constructed once and still reach whatever
// connection C5 currently holds.
type VoiceConnections interface {
	VoiceConnection(guildID string) (*discordgo.VoiceConnection, bool)
}

// DiscordSink transcodes incoming MP3 streams to OGG/Opus via ffmpeg
// and forwards Opus frames to the guild's live voice connection,
// grounded on internal/tools/music/player.go's ffmpeg-pipe and
// OGG-page demux pattern (teacher).
type DiscordSink struct {
	conns  VoiceConnections
	logger *zap.Logger
}

func NewDiscordSink(conns VoiceConnections, logger *zap.Logger) *DiscordSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DiscordSink{conns: conns, logger: logger}
}

func (s *DiscordSink) Play(ctx context.Context, guildID string, r io.Reader, volume float64) (<-chan error, error) {
	vc, ok := s.conns.VoiceConnection(guildID)
	if !ok || vc == nil {
		return nil, fmt.Errorf("audiosink: no voice connection for guild %s", guildID)
	}
	volume = ClampVolume(volume)

	cmd := exec.CommandContext(ctx, FfmpegExecutable,
		"-hide_banner",
		"-loglevel", "warning",
		"-i", "pipe:0",
		"-vn",
		"-af", fmt.Sprintf("volume=%.3f", volume),
		"-c:a", "libopus",
		"-b:a", "128k",
		"-ar", "48000",
		"-ac", "2",
		"-application", "audio",
		"-frame_duration", "20",
		"-f", "ogg",
		"pipe:1",
	)
	cmd.Stdin = r
	out, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("audiosink: ffmpeg stdout pipe: %w", err)
	}
	cmd.Stderr = io.Discard

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("audiosink: start ffmpeg: %w", err)
	}

	done := make(chan error, 1)
	go func() {
		defer cmd.Wait()
		vc.Speaking(true)
		defer vc.Speaking(false)
		err := demuxOggOpus(bufio.NewReaderSize(out, 64*1024), vc.OpusSend, ctx.Done())
		done <- err
	}()

	return done, nil
}

// demuxOggOpus reads OGG pages from r and forwards each page's Opus
// packets to opusSend, stopping cleanly at EOF or cancellation. Ported
// from internal/tools/music/player.go's inline OGG-page loop (teacher).
func demuxOggOpus(r *bufio.Reader, opusSend chan<- []byte, cancel <-chan struct{}) error {
	header := make([]byte, 27)
	for {
		if _, err := io.ReadFull(r, header); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return nil
			}
			return fmt.Errorf("audiosink: read ogg page header: %w", err)
		}
		if string(header[0:4]) != "OggS" {
			return fmt.Errorf("audiosink: invalid ogg page header")
		}

		segCount := int(header[26])
		if segCount == 0 {
			continue
		}
		segTable := make([]byte, segCount)
		if _, err := io.ReadFull(r, segTable); err != nil {
			return fmt.Errorf("audiosink: read segment table: %w", err)
		}

		packet := make([]byte, 0, 4000)
		for i := 0; i < segCount; i++ {
			segLen := int(segTable[i])
			if segLen > 0 {
				seg := make([]byte, segLen)
				if _, err := io.ReadFull(r, seg); err != nil {
					return fmt.Errorf("audiosink: read segment: %w", err)
				}
				packet = append(packet, seg...)
			}
			if segLen < 255 && len(packet) > 0 {
				frame := make([]byte, len(packet))
				copy(frame, packet)
				select {
				case opusSend <- frame:
				case <-cancel:
					return nil
				}
				packet = packet[:0]
			}
		}
	}
}
