package router

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/JamesABrownlee/tts-bot/internal/queue"
	"github.com/JamesABrownlee/tts-bot/internal/session"
)

// GreetDelay is how long the greeting path waits before enqueueing,
// per spec.md §4.5, to give the voice-state event time to settle and
// to recheck attachment hasn't dropped in the interim.
const GreetDelay = 2 * time.Second

var firstOfDayGreetings = []string{
	"Good to see you today, %s!",
	"Welcome back, %s, first time today!",
	"Rise and shine, %s has joined for the day.",
}

var repeatGreetings = []string{
	"%s has joined.",
	"Hey, %s is here.",
	"%s just walked in.",
}

var farewells = []string{
	"%s has left.",
	"See you later, %s.",
	"%s is gone.",
}

func pickPhrase(list []string, name string) string {
	return fmt.Sprintf(list[rand.Intn(len(list))], name)
}

// VoiceStateEvent is the platform-agnostic shape of a voice-channel
// membership change: a user moved from BeforeChannelID to
// AfterChannelID (either may be empty, meaning "not in any channel").
type VoiceStateEvent struct {
	GuildID          string
	UserID           string
	UserDisplayName  string
	Bot              bool
	BeforeChannelID  string
	AfterChannelID   string
}

// HandleVoiceStateUpdate implements spec.md §4.5's auto-follow,
// auto-leave, and greet/farewell behavior triggered by a member's
// voice-channel membership change.
func (r *Router) HandleVoiceStateUpdate(ctx context.Context, evt VoiceStateEvent) error {
	if evt.Bot {
		return nil
	}

	sess := r.Sessions.GetOrCreate(evt.GuildID)
	cfg, err := r.Settings.Get(ctx, evt.GuildID)
	if err != nil {
		return fmt.Errorf("router: load settings for %s: %w", evt.GuildID, err)
	}

	joined := evt.AfterChannelID != "" && evt.AfterChannelID != evt.BeforeChannelID
	left := evt.BeforeChannelID != "" && evt.BeforeChannelID != evt.AfterChannelID

	if joined {
		r.maybeAutoFollow(ctx, sess, evt)
	}

	if cfg.LeaveWhenAlone {
		if err := sess.MaybeLeaveWhenAlone(r.Connector); err != nil {
			r.Logger.Warn("router: auto-leave check failed", zap.String("guild_id", evt.GuildID), zap.Error(err))
		}
	}

	lockedChannel := sess.LockedChannelID()

	if cfg.GreetOnJoin && joined && lockedChannel != "" && evt.AfterChannelID == lockedChannel {
		go r.greetAfterDelay(sess, evt, cfg.DefaultVoiceID)
	}
	if cfg.FarewellOnLeave && left && lockedChannel != "" && evt.BeforeChannelID == lockedChannel {
		r.enqueueFarewell(sess, evt, cfg.DefaultVoiceID)
	}

	return nil
}

// maybeAutoFollow implements "on a user joining any channel, if that
// user has auto_join=true and the bot is either not attached or
// attached to a channel with no non-bot members, follow". It never
// disconnects from a channel that still has non-bot members.
func (r *Router) maybeAutoFollow(ctx context.Context, sess *session.Session, evt VoiceStateEvent) {
	pref, err := r.UserPrefs.Get(ctx, evt.UserID)
	if err != nil {
		r.Logger.Warn("router: auto-follow preference lookup failed", zap.String("user_id", evt.UserID), zap.Error(err))
		return
	}
	if !pref.AutoJoin {
		return
	}

	attached := sess.State() == session.Attached
	locked := sess.LockedChannelID()
	if attached && locked == evt.AfterChannelID {
		return
	}

	needsFollow := !attached
	if attached {
		count, err := r.Connector.NonBotMemberCount(evt.GuildID, locked)
		if err != nil {
			r.Logger.Warn("router: auto-follow member count failed", zap.String("guild_id", evt.GuildID), zap.Error(err))
			return
		}
		needsFollow = count == 0
	}
	if !needsFollow {
		return
	}

	if attached {
		// Already attached elsewhere in this guild: relocate the live
		// connection instead of tearing the worker down and restarting
		// it, per spec.md §4.5's move_to path.
		if err := sess.MoveTo(ctx, r.Connector, evt.AfterChannelID); err != nil {
			r.Logger.Debug("router: auto-follow move failed", zap.String("guild_id", evt.GuildID), zap.Error(err))
		}
		return
	}
	if err := sess.EnsureConnected(ctx, r.Connector, evt.AfterChannelID); err != nil {
		r.Logger.Debug("router: auto-follow attach failed", zap.String("guild_id", evt.GuildID), zap.Error(err))
	}
}

func (r *Router) greetAfterDelay(sess *session.Session, evt VoiceStateEvent, defaultVoice string) {
	time.Sleep(GreetDelay)

	if !sess.IsAttachedTo(evt.AfterChannelID) {
		return
	}

	ctx := context.Background()
	name := SpeakName("", evt.UserDisplayName)

	firstToday := true
	if r.Storage != nil {
		var err error
		firstToday, err = r.isFirstSeenToday(ctx, evt.GuildID, evt.UserID)
		if err != nil {
			r.Logger.Warn("router: member-seen lookup failed", zap.String("guild_id", evt.GuildID), zap.Error(err))
		}
	}

	var text string
	if firstToday {
		text = pickPhrase(firstOfDayGreetings, name)
	} else {
		text = pickPhrase(repeatGreetings, name)
	}

	sess.Queue.Enqueue(queue.Item{Text: text, VoiceID: defaultVoice, Volume: 0.8})
}

func (r *Router) enqueueFarewell(sess *session.Session, evt VoiceStateEvent, defaultVoice string) {
	name := SpeakName("", evt.UserDisplayName)
	text := pickPhrase(farewells, name)
	sess.Queue.Enqueue(queue.Item{Text: text, VoiceID: defaultVoice, Volume: 0.8})
}

// isFirstSeenToday reports whether this is the first time userID has
// been observed in guildID today (UTC date key), recording the
// observation as a side effect.
func (r *Router) isFirstSeenToday(ctx context.Context, guildID, userID string) (bool, error) {
	last, err := r.Storage.LastSeen(ctx, guildID, userID)
	if err != nil {
		return false, err
	}
	now := time.Now()
	first := last.IsZero() || dateKey(last) != dateKey(now)
	if err := r.Storage.TouchMemberSeen(ctx, guildID, userID, now); err != nil {
		return first, err
	}
	return first, nil
}

func dateKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
