package router

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/JamesABrownlee/tts-bot/internal/queue"
	"github.com/JamesABrownlee/tts-bot/internal/session"
	"github.com/JamesABrownlee/tts-bot/internal/settings"
	"github.com/JamesABrownlee/tts-bot/internal/storage"
	"github.com/JamesABrownlee/tts-bot/internal/userprefs"
)

// MessageEvent is the platform-agnostic shape of an incoming chat
// message the router needs, decoupled from discordgo so the routing
// logic stays independently testable.
type MessageEvent struct {
	GuildID              string
	ChannelID            string
	AuthorID             string
	AuthorDisplayName    string
	AuthorBot            bool
	Content              string
	AuthorVoiceChannelID string // "" if the author is not in any voice channel
	IsVoiceChatChannel   bool
	Attachments          []Attachment
	MentionReplacements  map[string]string
}

// Router binds C3/C4/C5's stores together to translate platform events
// into core operations, per spec.md §4.7.
type Router struct {
	Settings  *settings.Store
	UserPrefs *userprefs.Store
	Sessions  *session.Registry
	Connector session.Connector
	Storage   *storage.Store
	Catalog   []string
	Logger    *zap.Logger

	// MaxMessageChars truncates a raw chat message before it is
	// normalized and spoken, distinct from a guild's max_tts_chars
	// (which bounds the final attributed utterance). Zero disables
	// this truncation.
	MaxMessageChars int
}

func New(st *settings.Store, up *userprefs.Store, sessions *session.Registry, conn session.Connector, db *storage.Store, catalog []string, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{Settings: st, UserPrefs: up, Sessions: sessions, Connector: conn, Storage: db, Catalog: catalog, Logger: logger}
}

// HandleMessage implements spec.md §4.7's chat auto-read path.
func (r *Router) HandleMessage(ctx context.Context, evt MessageEvent) error {
	if evt.AuthorBot || strings.TrimSpace(evt.Content) == "" {
		return nil
	}

	cfg, err := r.Settings.Get(ctx, evt.GuildID)
	if err != nil {
		return fmt.Errorf("router: load settings for %s: %w", evt.GuildID, err)
	}
	if !cfg.AutoReadMessages {
		return nil
	}
	if !evt.IsVoiceChatChannel || evt.AuthorVoiceChannelID == "" || evt.AuthorVoiceChannelID != evt.ChannelID {
		return nil
	}

	sess := r.Sessions.GetOrCreate(evt.GuildID)
	if err := sess.EnsureConnected(ctx, r.Connector, evt.AuthorVoiceChannelID); err != nil {
		r.Logger.Debug("router: could not attach for auto-read", zap.String("guild_id", evt.GuildID), zap.Error(err))
		return nil
	}

	pref, err := r.UserPrefs.Get(ctx, evt.AuthorID)
	if err != nil {
		return fmt.Errorf("router: load user prefs for %s: %w", evt.AuthorID, err)
	}

	rawContent := evt.Content
	if r.MaxMessageChars > 0 {
		rawContent = TruncateRunes(rawContent, r.MaxMessageChars)
	}

	voiceID := EffectiveVoice(cfg, pref.VoiceID, false, r.Catalog)
	text := NormalizeMentions(rawContent, evt.MentionReplacements)
	speakName := SpeakName(pref.Nickname, evt.AuthorDisplayName)

	if status, ok := ClassifyStatus(speakName, text, evt.Attachments); ok {
		text = status
	} else {
		text = AttributedUtterance(speakName, text, sess.LastSpeakerID(), evt.AuthorID)
		sess.SetLastSpeakerID(evt.AuthorID)
	}

	if cfg.MaxTTSChars > 0 {
		text = TruncateRunes(text, cfg.MaxTTSChars)
	}
	if strings.TrimSpace(text) == "" {
		return nil
	}

	sess.Queue.Enqueue(queue.Item{Text: text, VoiceID: voiceID, Volume: 1.0})
	return nil
}
