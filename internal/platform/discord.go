// Package platform adapts a live discordgo session to the narrow
// interfaces C5 (session.Connector), the audio sink
// (audiosink.VoiceConnections), and C8 (controlplane.Platform) each
// need, so none of those packages import discordgo directly. Grounded
// on internal/tools/music_handlers.go's ChannelVoiceJoin/VoiceConn
// lifecycle (teacher) and internal/tools/music/bot.go's guild-state
// lookups.
package platform

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"github.com/JamesABrownlee/tts-bot/internal/controlplane"
	"github.com/JamesABrownlee/tts-bot/internal/session"
)

// connectTimeout bounds how long Connect waits for the voice
// connection handshake to report ready, per spec.md §5's "platform
// connect: 20s timeout, mapped to ConnectFailed".
const connectTimeout = 20 * time.Second

// Discord wraps a live *discordgo.Session and implements every
// platform-facing seam the core packages need.
type Discord struct {
	Session *discordgo.Session
	logger  *zap.Logger
}

// New builds a Discord adapter around an already-constructed session.
func New(s *discordgo.Session, logger *zap.Logger) *Discord {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Discord{Session: s, logger: logger}
}

// voiceClient adapts *discordgo.VoiceConnection to session.VoiceClient.
type voiceClient struct{ vc *discordgo.VoiceConnection }

func (v *voiceClient) ChannelID() string { return v.vc.ChannelID }
func (v *voiceClient) Disconnect() error { return v.vc.Disconnect() }

// Connect implements session.Connector: joins channelID self-deafened
// and waits for the handshake to complete or connectTimeout to pass.
func (d *Discord) Connect(ctx context.Context, guildID, channelID string, selfDeaf bool) (session.VoiceClient, error) {
	vc, err := d.Session.ChannelVoiceJoin(guildID, channelID, false, selfDeaf)
	if err != nil {
		return nil, fmt.Errorf("platform: join voice channel %s: %w", channelID, err)
	}

	deadline := time.Now().Add(connectTimeout)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for !vc.Ready {
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("platform: voice connection to %s never became ready", channelID)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
	return &voiceClient{vc: vc}, nil
}

// Move relocates an existing connection to a new channel in the same
// guild via discordgo's ChannelVoiceJoin (rejoining with the same
// guild id moves rather than duplicating the connection).
func (d *Discord) Move(ctx context.Context, vcIface session.VoiceClient, channelID string) (session.VoiceClient, error) {
	cur, ok := vcIface.(*voiceClient)
	if !ok || cur == nil {
		return nil, fmt.Errorf("platform: move called without an existing voice client")
	}
	// spec.md §6: every platform connection is self-deafened.
	return d.Connect(ctx, cur.vc.GuildID, channelID, true)
}

// LiveVoiceClient reports a platform-side connection discordgo already
// holds for guildID, letting C5 adopt a connection that survived a
// session reconnect without C5 re-dialing.
func (d *Discord) LiveVoiceClient(guildID string) (session.VoiceClient, bool) {
	vc, ok := d.VoiceConnection(guildID)
	if !ok || vc == nil {
		return nil, false
	}
	return &voiceClient{vc: vc}, true
}

// VoiceConnection implements audiosink.VoiceConnections.
func (d *Discord) VoiceConnection(guildID string) (*discordgo.VoiceConnection, bool) {
	vc, ok := d.Session.VoiceConnections[guildID]
	return vc, ok
}

// NonBotMemberCount counts members present in channelID who are not
// bot accounts, used by the auto-leave/auto-follow policy.
func (d *Discord) NonBotMemberCount(guildID, channelID string) (int, error) {
	g, err := d.Session.State.Guild(guildID)
	if err != nil {
		return 0, fmt.Errorf("platform: guild state for %s: %w", guildID, err)
	}

	count := 0
	for _, vs := range g.VoiceStates {
		if vs.ChannelID != channelID {
			continue
		}
		member, err := d.Session.State.Member(guildID, vs.UserID)
		if err != nil || member.User == nil || !member.User.Bot {
			count++
		}
	}
	return count, nil
}

// Guilds implements controlplane.Platform.
func (d *Discord) Guilds(ctx context.Context) ([]controlplane.GuildInfo, error) {
	guilds := d.Session.State.Guilds
	out := make([]controlplane.GuildInfo, 0, len(guilds))
	for _, g := range guilds {
		out = append(out, controlplane.GuildInfo{ID: g.ID, Name: g.Name})
	}
	return out, nil
}

// BotUsername implements controlplane.Platform.
func (d *Discord) BotUsername(ctx context.Context) (string, error) {
	if d.Session.State.User == nil {
		return "", fmt.Errorf("platform: bot identity not yet known")
	}
	return d.Session.State.User.Username, nil
}

// FirstOccupiedVoiceChannel returns the first voice channel in guildID
// with at least one non-bot member present, for POST /api/tts's
// implicit-target fallback.
func (d *Discord) FirstOccupiedVoiceChannel(ctx context.Context, guildID string) (string, error) {
	g, err := d.Session.State.Guild(guildID)
	if err != nil {
		return "", fmt.Errorf("platform: guild state for %s: %w", guildID, err)
	}

	seen := map[string]bool{}
	for _, vs := range g.VoiceStates {
		if vs.ChannelID == "" || seen[vs.ChannelID] {
			continue
		}
		seen[vs.ChannelID] = true
		count, err := d.NonBotMemberCount(guildID, vs.ChannelID)
		if err == nil && count > 0 {
			return vs.ChannelID, nil
		}
	}
	return "", nil
}

// IsVoiceChatTextChannel reports whether ch is a "voice chat text
// channel" in the sense spec.md §4.7 references: true when ch is itself
// a voice-type channel (Discord's built-in text chat of a voice
// channel) or when its name ends in "-chat". It does not compare the
// channel against any particular voice channel.
func IsVoiceChatTextChannel(ch *discordgo.Channel) bool {
	if ch == nil {
		return false
	}
	return ch.Type == discordgo.ChannelTypeGuildVoice || strings.HasSuffix(ch.Name, "-chat")
}
