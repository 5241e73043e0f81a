// Package controlplane implements the HTTP control-plane adapter (C8):
// status/guilds/voices listing, settings CRUD, a log tail/SSE feed, and
// the TTS/DJ endpoints that let an operator drive the bot outside of
// chat. Grounded on cmd/server/main.go's gin wiring (teacher) —
// router.Use(ginLogger)+CORS+route groups+graceful shutdown — with
// handler bodies adapted from original_source/cogs/webui.py's
// api_status/api_logs/api_logs_stream/api_settings_* pair.
package controlplane

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/JamesABrownlee/tts-bot/internal/djgen"
	"github.com/JamesABrownlee/tts-bot/internal/logbuffer"
	"github.com/JamesABrownlee/tts-bot/internal/queue"
	"github.com/JamesABrownlee/tts-bot/internal/router"
	"github.com/JamesABrownlee/tts-bot/internal/session"
	"github.com/JamesABrownlee/tts-bot/internal/settings"
	"github.com/JamesABrownlee/tts-bot/internal/ttspipeline"
	"github.com/JamesABrownlee/tts-bot/internal/userprefs"
	"github.com/JamesABrownlee/tts-bot/internal/voicecatalog"
	apperrors "github.com/JamesABrownlee/tts-bot/pkg/errors"
)

// GuildInfo is the id+name shape GET /api/guilds returns.
type GuildInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Platform is the thin slice of the chat platform the control plane
// needs: guild enumeration, bot identity, and the "first voice channel
// with non-bot members" lookup POST /api/tts falls back to when no
// channel is specified or currently attached.
type Platform interface {
	Guilds(ctx context.Context) ([]GuildInfo, error)
	BotUsername(ctx context.Context) (string, error)
	FirstOccupiedVoiceChannel(ctx context.Context, guildID string) (string, error)
}

// Deps bundles every collaborator the control plane's routes close
// over.
type Deps struct {
	Settings  *settings.Store
	UserPrefs *userprefs.Store
	Sessions  *session.Registry
	Connector session.Connector
	Pipeline  *ttspipeline.Pipeline
	DJGen     *djgen.Generator
	Logs      *logbuffer.Buffer
	Platform  Platform
	Catalog   []string
	Token     string
	StartedAt time.Time
	Logger    *zap.Logger
}

// unauthenticatedAllowlist lists the route keys spec.md §4.8 exempts
// from the bearer-token check even when a token is configured:
// preview, logs, settings, status/guilds/voices, and TTS. Only
// radio-presenter, song-suggestions, and the /ws/tts upgrade require
// the token.
var unauthenticatedAllowlist = map[string]bool{
	"GET /api/status":         true,
	"GET /api/guilds":         true,
	"GET /api/voices":         true,
	"GET /api/voices/preview": true,
	"GET /api/settings":       true,
	"POST /api/settings":      true,
	"GET /api/logs":           true,
	"GET /api/logs/stream":    true,
	"POST /api/tts":           true,
}

// NewRouter builds the gin engine serving every route spec.md §4.8
// names, production mode and CORS matching the teacher's shape.
func NewRouter(deps Deps, production bool) *gin.Engine {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if production {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(ginLogger(deps.Logger))
	r.Use(gin.Recovery())
	r.Use(corsMiddleware())
	r.Use(authMiddleware(deps.Token))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	h := &handlers{deps: deps}

	api := r.Group("/api")
	{
		api.GET("/status", h.status)
		api.GET("/guilds", h.guilds)
		api.GET("/voices", h.voices)
		api.GET("/voices/preview", h.previewVoice)
		api.GET("/settings", h.getSettings)
		api.POST("/settings", h.postSettings)
		api.GET("/logs", h.logsTail)
		api.GET("/logs/stream", h.logsStream)
		api.POST("/tts", h.postTTS)
		api.POST("/radio-presenter", h.radioPresenter)
		api.POST("/song-suggestions", h.songSuggestions)
	}

	r.GET("/ws/tts", h.wsTTS)

	return r
}

// ginLogger mirrors the teacher's custom gin logging middleware.
func ginLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()
		if raw != "" {
			path = path + "?" + raw
		}
		log.Info("http request",
			zap.Int("status", status),
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Duration("latency", latency),
			zap.String("ip", c.ClientIP()),
		)
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// authMiddleware implements spec.md §4.8's allowlist-scoped bearer
// check: with no token configured, every route is open; with a token
// configured, only routes in unauthenticatedAllowlist skip the check.
func authMiddleware(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" || c.Request.URL.Path == "/health" {
			c.Next()
			return
		}

		key := c.Request.Method + " " + routeKey(c.Request.URL.Path)
		if unauthenticatedAllowlist[key] {
			c.Next()
			return
		}

		if !bearerMatches(c, token) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

// routeKey collapses a concrete request path back to the route's
// allowlist key (trimming trailing slashes; WS upgrades are matched by
// their own path and never appear in the allowlist).
func routeKey(path string) string {
	return strings.TrimSuffix(path, "/")
}

func bearerMatches(c *gin.Context, token string) bool {
	auth := c.GetHeader("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ") == token
	}
	return c.Query("token") == token
}

type handlers struct {
	deps Deps
}

func (h *handlers) status(c *gin.Context) {
	username := ""
	if h.deps.Platform != nil {
		var err error
		username, err = h.deps.Platform.BotUsername(c.Request.Context())
		if err != nil {
			h.deps.Logger.Warn("controlplane: bot username lookup failed", zap.Error(err))
		}
	}

	guildCount := 0
	if h.deps.Platform != nil {
		gs, err := h.deps.Platform.Guilds(c.Request.Context())
		if err != nil {
			h.deps.Logger.Warn("controlplane: guild list failed", zap.Error(err))
		} else {
			guildCount = len(gs)
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"user":           username,
		"guild_count":    guildCount,
		"uptime_seconds": time.Since(h.deps.StartedAt).Seconds(),
	})
}

func (h *handlers) guilds(c *gin.Context) {
	if h.deps.Platform == nil {
		c.JSON(http.StatusOK, []GuildInfo{})
		return
	}
	gs, err := h.deps.Platform.Guilds(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gs)
}

func (h *handlers) voices(c *gin.Context) {
	c.JSON(http.StatusOK, voicecatalog.All)
}

func (h *handlers) previewVoice(c *gin.Context) {
	text := strings.TrimSpace(c.Query("text"))
	voiceID := strings.TrimSpace(c.Query("voice_id"))
	if text == "" || voiceID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "voice_id and text are required"})
		return
	}

	result, err := h.deps.Pipeline.GetStream(c.Request.Context(), text, voiceID, voicecatalog.FallbackVoice)
	if err != nil {
		writeError(c, err)
		return
	}
	defer result.Reader.Close()

	c.Header("Content-Type", "audio/mpeg")
	c.Status(http.StatusOK)
	if _, err := io.Copy(c.Writer, result.Reader); err != nil {
		h.deps.Logger.Debug("controlplane: preview stream aborted", zap.Error(err))
		return
	}
	if err := <-result.Done; err != nil {
		h.deps.Logger.Warn("controlplane: preview producer failed", zap.Error(err))
	}
}

func (h *handlers) getSettings(c *gin.Context) {
	guildID := strings.TrimSpace(c.Query("guild_id"))
	if guildID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "guild_id is required"})
		return
	}
	cfg, err := h.deps.Settings.Get(c.Request.Context(), guildID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, cfg)
}

func (h *handlers) postSettings(c *gin.Context) {
	guildID := strings.TrimSpace(c.Query("guild_id"))
	if guildID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "guild_id is required"})
		return
	}
	var patch map[string]any
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	cfg, err := h.deps.Settings.Update(c.Request.Context(), guildID, patch)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, cfg)
}

func (h *handlers) logsTail(c *gin.Context) {
	n := 200
	if raw := c.Query("tail"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			n = parsed
		}
	}
	c.JSON(http.StatusOK, gin.H{"lines": h.deps.Logs.Tail(n)})
}

// logsStream streams the log buffer as Server-Sent-Events: one
// `data:` line per log line and a blank separator, per spec.md §6.
// Slow consumers drop frames (logbuffer.Buffer never blocks on a
// subscriber) rather than backpressuring ingestion.
func (h *handlers) logsStream(c *gin.Context) {
	sub := h.deps.Logs.Subscribe(200, 50)
	defer h.deps.Logs.Unsubscribe(sub.ID)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	flusher, _ := c.Writer.(http.Flusher)
	writeLine := func(line string) bool {
		if _, err := fmt.Fprintf(c.Writer, "data: %s\n\n", line); err != nil {
			return false
		}
		if flusher != nil {
			flusher.Flush()
		}
		return true
	}

	for _, line := range sub.Initial {
		if !writeLine(line) {
			return
		}
	}

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-sub.Lines:
			if !ok {
				return
			}
			if !writeLine(line) {
				return
			}
		}
	}
}

type ttsRequest struct {
	GuildID   string `json:"guild_id"`
	Text      string `json:"text"`
	VoiceID   string `json:"voice_id"`
	ChannelID string `json:"channel_id"`
}

// postTTS implements spec.md §4.8's POST /api/tts: resolve the target
// channel (explicit, else currently attached, else the first voice
// channel with non-bot members), ensure attachment, resolve the voice
// via §4.7's allow-default path, and enqueue.
func (h *handlers) postTTS(c *gin.Context) {
	var req ttsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	req.GuildID = strings.TrimSpace(req.GuildID)
	req.Text = strings.TrimSpace(req.Text)
	if req.GuildID == "" || req.Text == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "guild_id and text are required"})
		return
	}

	ctx := c.Request.Context()
	sess := h.deps.Sessions.GetOrCreate(req.GuildID)

	targetChannel := strings.TrimSpace(req.ChannelID)
	if targetChannel == "" {
		targetChannel = sess.LockedChannelID()
	}
	if targetChannel == "" && h.deps.Platform != nil {
		var err error
		targetChannel, err = h.deps.Platform.FirstOccupiedVoiceChannel(ctx, req.GuildID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
	}
	if targetChannel == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no voice channel available to speak in"})
		return
	}

	if err := sess.EnsureConnected(ctx, h.deps.Connector, targetChannel); err != nil {
		writeError(c, err)
		return
	}

	cfg, err := h.deps.Settings.Get(ctx, req.GuildID)
	if err != nil {
		writeError(c, err)
		return
	}
	voiceID := router.EffectiveVoice(cfg, req.VoiceID, true, h.deps.Catalog)

	text := req.Text
	if cfg.MaxTTSChars > 0 {
		text = router.TruncateRunes(text, cfg.MaxTTSChars)
	}

	sess.Queue.Enqueue(queue.Item{Text: text, VoiceID: voiceID, Volume: 1.0})
	c.JSON(http.StatusOK, gin.H{"status": "queued", "channel_id": targetChannel, "voice_id": voiceID})
}

type radioPresenterRequest struct {
	GuildID     string `json:"guild_id"`
	Title       string `json:"title"`
	Artist      string `json:"artist"`
	RequestedBy string `json:"requested_by"`
	ForUser     string `json:"for_user"`
	VoiceID     string `json:"voice_id"`
}

// radioPresenter implements POST /api/radio-presenter: generate a DJ
// intro (retry-and-fallback handled inside djgen.Generator) and
// enqueue it at the reduced "presenter" volume.
func (h *handlers) radioPresenter(c *gin.Context) {
	var req radioPresenterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	req.GuildID = strings.TrimSpace(req.GuildID)
	req.Title = strings.TrimSpace(req.Title)
	req.Artist = strings.TrimSpace(req.Artist)
	if req.GuildID == "" || req.Title == "" || req.Artist == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "guild_id, title, and artist are required"})
		return
	}

	ctx := c.Request.Context()
	sess, ok := h.deps.Sessions.Get(req.GuildID)
	if !ok || sess.State() != session.Attached {
		c.JSON(http.StatusConflict, gin.H{"error": "bot is not attached to a voice channel in this guild"})
		return
	}

	cfg, err := h.deps.Settings.Get(ctx, req.GuildID)
	if err != nil {
		writeError(c, err)
		return
	}
	voiceID := router.EffectiveVoice(cfg, req.VoiceID, true, h.deps.Catalog)

	intro := h.deps.DJGen.DJIntro(ctx, req.Title, req.Artist, req.RequestedBy, req.ForUser)
	sess.Queue.Enqueue(queue.Item{Text: intro, VoiceID: voiceID, Volume: 0.5})
	c.JSON(http.StatusOK, gin.H{"status": "queued", "intro": intro})
}

type songSuggestionsRequest struct {
	Title  string `json:"title"`
	Artist string `json:"artist"`
}

func (h *handlers) songSuggestions(c *gin.Context) {
	var req songSuggestionsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	req.Title = strings.TrimSpace(req.Title)
	req.Artist = strings.TrimSpace(req.Artist)
	if req.Title == "" || req.Artist == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "title and artist are required"})
		return
	}

	suggestions := h.deps.DJGen.SongSuggestions(c.Request.Context(), req.Title, req.Artist)
	c.JSON(http.StatusOK, gin.H{"suggestions": suggestions})
}

// writeError maps the typed errors of pkg/errors onto spec.md §7's
// propagation policy: validation -> 400, attachment-locked -> 409,
// provider/breaker failures -> 502, everything else -> 500.
func writeError(c *gin.Context, err error) {
	switch {
	case apperrors.IsErrorType(err, apperrors.ErrorTypeSettings):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case apperrors.IsErrorType(err, apperrors.ErrorTypeVoice):
		if _, ok := err.(*apperrors.ErrLocked); ok {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case apperrors.IsErrorType(err, apperrors.ErrorTypeTTS):
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
