package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"github.com/JamesABrownlee/tts-bot/internal/audiosink"
	"github.com/JamesABrownlee/tts-bot/internal/controlplane"
	"github.com/JamesABrownlee/tts-bot/internal/djgen"
	"github.com/JamesABrownlee/tts-bot/internal/logbuffer"
	"github.com/JamesABrownlee/tts-bot/internal/platform"
	"github.com/JamesABrownlee/tts-bot/internal/queue"
	"github.com/JamesABrownlee/tts-bot/internal/router"
	"github.com/JamesABrownlee/tts-bot/internal/session"
	"github.com/JamesABrownlee/tts-bot/internal/settings"
	"github.com/JamesABrownlee/tts-bot/internal/storage"
	"github.com/JamesABrownlee/tts-bot/internal/ttspipeline"
	"github.com/JamesABrownlee/tts-bot/internal/userprefs"
	"github.com/JamesABrownlee/tts-bot/internal/voicecatalog"
	"github.com/JamesABrownlee/tts-bot/pkg/config"
	"github.com/JamesABrownlee/tts-bot/pkg/logger"
)

// AppContext is the explicit dependency bundle the bot's event
// handlers close over, replacing the teacher's dynamic
// orchestrator-attribute wiring (see DESIGN.md's cmd/bot entry) with
// one struct assembled once at startup.
type AppContext struct {
	Config    *config.Config
	Logger    *zap.Logger
	DB        *storage.Store
	Settings  *settings.Store
	UserPrefs *userprefs.Store
	Pipeline  *ttspipeline.Pipeline
	Catalog   []string
	Sessions  *session.Registry
	Router    *router.Router
	Health    *session.HealthLoop
	Discord   *platform.Discord
	Logs      *logbuffer.Buffer
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}

	buf := logbuffer.New(cfg.WebLogMaxLines)
	if err := logger.Init(cfg.Env, buf); err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer logger.Sync()
	log := logger.Get()
	log.Info("starting tts bot")

	if cfg.DiscordBotToken == "" {
		log.Fatal("DISCORD_TOKEN is required")
	}

	app, err := buildAppContext(cfg, log, buf)
	if err != nil {
		log.Fatal("failed to build app context", zap.Error(err))
	}
	defer app.DB.Close()

	dg, err := discordgo.New("Bot " + cfg.DiscordBotToken)
	if err != nil {
		log.Fatal("failed to create discord session", zap.Error(err))
	}
	dg.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages | discordgo.IntentsGuildVoiceStates

	app.Discord = platform.New(dg, log)

	dg.AddHandler(func(s *discordgo.Session, r *discordgo.Ready) {
		log.Info("discord session ready", zap.String("username", r.User.Username))
	})
	dg.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		handleMessageCreate(context.Background(), app, s, m)
	})
	dg.AddHandler(func(s *discordgo.Session, v *discordgo.VoiceStateUpdate) {
		handleVoiceStateUpdate(context.Background(), app, v)
	})

	if err := dg.Open(); err != nil {
		log.Fatal("failed to open discord connection", zap.Error(err))
	}
	defer dg.Close()

	healthCtx, cancelHealth := context.WithCancel(context.Background())
	go app.Health.Run(healthCtx)
	defer cancelHealth()

	var srv *http.Server
	if cfg.WebUIEnabled {
		srv = startControlPlane(app, cfg, log)
	}

	log.Info("tts bot is running, press ctrl-c to exit")
	sc := make(chan os.Signal, 1)
	signal.Notify(sc, syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	<-sc

	log.Info("shutting down")
	cancelHealth()
	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("control plane forced to shutdown", zap.Error(err))
		}
	}
	for _, s := range app.Sessions.All() {
		_ = s.Disconnect("shutdown")
	}
	log.Info("tts bot exited")
}

func buildAppContext(cfg *config.Config, log *zap.Logger, buf *logbuffer.Buffer) (*AppContext, error) {
	ctx := context.Background()

	db, err := storage.Open(ctx, cfg.DBPath, log)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	// max_tts_chars (the per-guild settings field, §4.7/§4.6) is seeded
	// from MAX_UTTERANCE_CHARS; MAX_MESSAGE_CHARS bounds the raw chat
	// message earlier, before it is attributed and queued (see
	// router.Router.MaxMessageChars below).
	defaults := settings.Defaults(voicecatalog.FallbackVoice, cfg.MaxUtteranceChars)
	up := userprefs.New(db, log)
	catalog := voicecatalog.IDs()
	st := settings.New(db, defaults, up, catalog, log)

	pipeline := ttspipeline.New(log)
	pipeline.MaxRetries = cfg.MaxRetries
	pipeline.HTTPClient.Timeout = cfg.TTSHTTPTimeout

	dropPolicy := queue.Policy(cfg.DropPolicy)

	app := &AppContext{
		Config:    cfg,
		Logger:    log,
		DB:        db,
		Settings:  st,
		UserPrefs: up,
		Pipeline:  pipeline,
		Catalog:   catalog,
		Logs:      buf,
	}

	playbackFor := func(guildID string) queue.PlaybackFunc {
		sink := audiosink.NewDiscordSink(app.Discord, log)
		return session.NewPlaybackFunc(guildID, st, pipeline, sink, log)
	}
	registry := session.NewRegistry(cfg.QueueMaxSize, dropPolicy, playbackFor, log)
	app.Sessions = registry

	app.Health = session.NewHealthLoop(registry, connectorAdapter{app}, log)
	r := router.New(st, up, registry, connectorAdapter{app}, db, catalog, log)
	r.MaxMessageChars = cfg.MaxMessageChars
	app.Router = r

	return app, nil
}

// connectorAdapter defers resolving app.Discord (set after discordgo's
// session is constructed) until each call, since session.Connector is
// needed by components built before the discordgo session exists.
type connectorAdapter struct{ app *AppContext }

func (c connectorAdapter) Connect(ctx context.Context, guildID, channelID string, selfDeaf bool) (session.VoiceClient, error) {
	return c.app.Discord.Connect(ctx, guildID, channelID, selfDeaf)
}
func (c connectorAdapter) Move(ctx context.Context, vc session.VoiceClient, channelID string) (session.VoiceClient, error) {
	return c.app.Discord.Move(ctx, vc, channelID)
}
func (c connectorAdapter) LiveVoiceClient(guildID string) (session.VoiceClient, bool) {
	return c.app.Discord.LiveVoiceClient(guildID)
}
func (c connectorAdapter) NonBotMemberCount(guildID, channelID string) (int, error) {
	return c.app.Discord.NonBotMemberCount(guildID, channelID)
}

func handleMessageCreate(ctx context.Context, app *AppContext, s *discordgo.Session, m *discordgo.MessageCreate) {
	if s.State.User != nil && m.Author.ID == s.State.User.ID {
		return
	}
	if m.GuildID == "" {
		return
	}

	authorVoiceChannel := ""
	if vs, err := s.State.VoiceState(m.GuildID, m.Author.ID); err == nil && vs != nil {
		authorVoiceChannel = vs.ChannelID
	}

	isVoiceChat := false
	if ch, err := s.State.Channel(m.ChannelID); err == nil {
		isVoiceChat = platform.IsVoiceChatTextChannel(ch)
	}

	attachments := make([]router.Attachment, 0, len(m.Attachments))
	for _, a := range m.Attachments {
		attachments = append(attachments, router.Attachment{ContentType: a.ContentType})
	}

	displayName := m.Author.Username
	if m.Member != nil && m.Member.Nick != "" {
		displayName = m.Member.Nick
	}

	evt := router.MessageEvent{
		GuildID:              m.GuildID,
		ChannelID:            m.ChannelID,
		AuthorID:             m.Author.ID,
		AuthorDisplayName:    displayName,
		AuthorBot:            m.Author.Bot,
		Content:              m.Content,
		AuthorVoiceChannelID: authorVoiceChannel,
		IsVoiceChatChannel:   isVoiceChat,
		Attachments:          attachments,
	}
	if err := app.Router.HandleMessage(ctx, evt); err != nil {
		app.Logger.Warn("router: handle message failed", zap.Error(err))
	}
}

func handleVoiceStateUpdate(ctx context.Context, app *AppContext, v *discordgo.VoiceStateUpdate) {
	if v.Member == nil || v.Member.User == nil || v.Member.User.Bot {
		return
	}

	before := ""
	if v.BeforeUpdate != nil {
		before = v.BeforeUpdate.ChannelID
	}

	displayName := v.Member.User.Username
	if v.Member.Nick != "" {
		displayName = v.Member.Nick
	}

	evt := router.VoiceStateEvent{
		GuildID:         v.GuildID,
		UserID:          v.UserID,
		UserDisplayName: displayName,
		Bot:             v.Member.User.Bot,
		BeforeChannelID: before,
		AfterChannelID:  v.ChannelID,
	}
	if err := app.Router.HandleVoiceStateUpdate(ctx, evt); err != nil {
		app.Logger.Warn("router: handle voice state update failed", zap.Error(err))
	}
}

// startControlPlane builds the gin engine and starts serving it in the
// background, mirroring cmd/server/main.go's ListenAndServe+Shutdown
// shape so the discord bot and the HTTP control plane share one
// process and one graceful-shutdown path.
func startControlPlane(app *AppContext, cfg *config.Config, log *zap.Logger) *http.Server {
	deps := controlplane.Deps{
		Settings:  app.Settings,
		UserPrefs: app.UserPrefs,
		Sessions:  app.Sessions,
		Connector: connectorAdapter{app},
		Pipeline:  app.Pipeline,
		DJGen:     djgen.New(cfg.OpenAIAPIKey, "", log),
		Logs:      app.Logs,
		Platform:  app.Discord,
		Catalog:   app.Catalog,
		Token:     cfg.WebUIToken,
		StartedAt: time.Now(),
		Logger:    log,
	}

	engine := controlplane.NewRouter(deps, cfg.IsProduction())
	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.WebHost, cfg.WebPort),
		Handler: engine,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("control plane server failed", zap.Error(err))
		}
	}()
	log.Info("control plane listening", zap.String("addr", srv.Addr))
	return srv
}
