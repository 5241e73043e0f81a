package controlplane

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JamesABrownlee/tts-bot/internal/djgen"
	"github.com/JamesABrownlee/tts-bot/internal/logbuffer"
	"github.com/JamesABrownlee/tts-bot/internal/queue"
	"github.com/JamesABrownlee/tts-bot/internal/session"
	"github.com/JamesABrownlee/tts-bot/internal/settings"
	"github.com/JamesABrownlee/tts-bot/internal/storage"
	"github.com/JamesABrownlee/tts-bot/internal/ttspipeline"
	"github.com/JamesABrownlee/tts-bot/internal/userprefs"
	apperrors "github.com/JamesABrownlee/tts-bot/pkg/errors"
)

type fakePlatform struct {
	username string
	guilds   []GuildInfo
	occupied string
}

func (f *fakePlatform) Guilds(ctx context.Context) ([]GuildInfo, error) { return f.guilds, nil }
func (f *fakePlatform) BotUsername(ctx context.Context) (string, error) { return f.username, nil }
func (f *fakePlatform) FirstOccupiedVoiceChannel(ctx context.Context, guildID string) (string, error) {
	return f.occupied, nil
}

type fakeConnector struct{}

type fakeVoiceClient struct{ channelID string }

func (f *fakeVoiceClient) ChannelID() string { return f.channelID }
func (f *fakeVoiceClient) Disconnect() error { return nil }

func (fakeConnector) Connect(ctx context.Context, guildID, channelID string, selfDeaf bool) (session.VoiceClient, error) {
	return &fakeVoiceClient{channelID: channelID}, nil
}
func (fakeConnector) Move(ctx context.Context, vc session.VoiceClient, channelID string) (session.VoiceClient, error) {
	return &fakeVoiceClient{channelID: channelID}, nil
}
func (fakeConnector) LiveVoiceClient(guildID string) (session.VoiceClient, bool) { return nil, false }
func (fakeConnector) NonBotMemberCount(guildID, channelID string) (int, error)   { return 1, nil }

func newTestDeps(t *testing.T, token string) Deps {
	t.Helper()
	db, err := storage.Open(context.Background(), "file:"+t.Name()+"?mode=memory&cache=shared", nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	up := userprefs.New(db, nil)
	catalog := []string{"voice-d", "voice-a"}
	st := settings.New(db, settings.Defaults("voice-d", 350), up, catalog, nil)
	registry := session.NewRegistry(10, queue.DropOldest, func(string) queue.PlaybackFunc {
		return func(ctx context.Context, item queue.Item) error { return nil }
	}, nil)

	audio := []byte("mp3-bytes")
	encoded := base64.StdEncoding.EncodeToString(audio)
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"data":"%s"}`, encoded)
	}))
	t.Cleanup(primary.Close)

	pipeline := ttspipeline.New(nil)
	pipeline.PrimaryURL = primary.URL
	pipeline.BaseRetryDelay = time.Millisecond

	return Deps{
		Settings:  st,
		UserPrefs: up,
		Sessions:  registry,
		Connector: fakeConnector{},
		Pipeline:  pipeline,
		DJGen:     djgen.New("", "", nil),
		Logs:      logbuffer.New(100),
		Platform:  &fakePlatform{username: "vexo", guilds: []GuildInfo{{ID: "g1", Name: "Test Guild"}}, occupied: "vc1"},
		Catalog:   catalog,
		Token:     token,
		StartedAt: time.Now(),
	}
}

func newTestRouter(t *testing.T, token string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	return NewRouter(newTestDeps(t, token), false)
}

func TestStatusAndVoicesAreUnauthenticatedByDefault(t *testing.T) {
	r := newTestRouter(t, "")
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAuthAllowlistAllowsUnprotectedRoutesWithoutToken(t *testing.T) {
	r := newTestRouter(t, "secret")

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/voices", nil)
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAuthRejectsProtectedRouteWithoutToken(t *testing.T) {
	r := newTestRouter(t, "secret")

	body := strings.NewReader(`{"title":"Song","artist":"Artist"}`)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/song-suggestions", body)
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthAcceptsProtectedRouteWithBearerToken(t *testing.T) {
	r := newTestRouter(t, "secret")

	body := strings.NewReader(`{"title":"Song","artist":"Artist"}`)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/song-suggestions", body)
	req.Header.Set("Authorization", "Bearer secret")
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAuthAcceptsProtectedRouteWithQueryToken(t *testing.T) {
	r := newTestRouter(t, "secret")

	body := strings.NewReader(`{"title":"Song","artist":"Artist"}`)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/song-suggestions?token=secret", body)
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestWriteErrorMapsTypedErrorsToStatusCodes(t *testing.T) {
	gin.SetMode(gin.TestMode)

	cases := []struct {
		name string
		err  error
		code int
	}{
		{"locked", apperrors.NewErrLocked("c1"), http.StatusConflict},
		{"validation", apperrors.NewErrValidationError("max_tts_chars", "must be positive"), http.StatusBadRequest},
		{"unknown setting", apperrors.NewErrUnknownSetting("bogus"), http.StatusBadRequest},
		{"breaker open", apperrors.NewErrBreakerOpen("primary"), http.StatusBadGateway},
		{"provider status", apperrors.NewErrProviderStatus("v1", 500), http.StatusBadGateway},
		{"unclassified", fmt.Errorf("boom"), http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			writeError(c, tc.err)
			assert.Equal(t, tc.code, w.Code)
		})
	}
}

func TestSettingsGetThenPostRoundTrips(t *testing.T) {
	r := newTestRouter(t, "")

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/settings?guild_id=g1", nil)
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	body := strings.NewReader(`{"greet_on_join": true}`)
	req = httptest.NewRequest(http.MethodPost, "/api/settings?guild_id=g1", body)
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var cfg settings.Settings
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &cfg))
	assert.True(t, cfg.GreetOnJoin)
}

func TestSettingsPostWithUnknownKeyFails(t *testing.T) {
	r := newTestRouter(t, "")

	w := httptest.NewRecorder()
	body := strings.NewReader(`{"not_a_real_setting": true}`)
	req := httptest.NewRequest(http.MethodPost, "/api/settings?guild_id=g1", body)
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLogsTailReturnsRecentLines(t *testing.T) {
	deps := newTestDeps(t, "")
	deps.Logs.Append("first")
	deps.Logs.Append("second")
	gin.SetMode(gin.TestMode)
	r := NewRouter(deps, false)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/logs?tail=1", nil)
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "second")
	assert.NotContains(t, w.Body.String(), "first")
}

func TestLogsStreamEmitsSSEFrames(t *testing.T) {
	deps := newTestDeps(t, "")
	deps.Logs.Append("warm line")
	gin.SetMode(gin.TestMode)
	r := NewRouter(deps, false)

	srv := httptest.NewServer(r)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/logs/stream")
	require.NoError(t, err)
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	require.True(t, scanner.Scan())
	assert.Equal(t, "data: warm line", scanner.Text())
}

func TestPostTTSResolvesOccupiedChannelAndEnqueues(t *testing.T) {
	deps := newTestDeps(t, "")
	// Record playback: the attached session's worker drains the queue.
	played := make(chan queue.Item, 10)
	deps.Sessions = session.NewRegistry(10, queue.DropOldest, func(string) queue.PlaybackFunc {
		return func(ctx context.Context, item queue.Item) error { played <- item; return nil }
	}, nil)
	gin.SetMode(gin.TestMode)
	r := NewRouter(deps, false)

	w := httptest.NewRecorder()
	body := strings.NewReader(`{"guild_id":"g1","text":"hello there"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/tts", body)
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	sess, ok := deps.Sessions.Get("g1")
	require.True(t, ok)
	assert.Eventually(t, func() bool {
		return len(played) == 1
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, "vc1", sess.LockedChannelID())
}

func TestVoicePreviewStreamsProviderAudio(t *testing.T) {
	r := newTestRouter(t, "")

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/voices/preview?voice_id=voice-d&text=hi", nil)
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "mp3-bytes", w.Body.String())
}

func TestWSTTSStreamsStartChunkEndFrames(t *testing.T) {
	deps := newTestDeps(t, "")
	gin.SetMode(gin.TestMode)
	r := NewRouter(deps, false)

	srv := httptest.NewServer(r)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/tts"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]string{"text": "hello", "voice_id": "voice-d"}))

	var sawStart, sawEnd bool
	var sawBinary bool
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if msgType == websocket.BinaryMessage {
			sawBinary = true
			continue
		}
		var frame wsFrame
		if json.Unmarshal(data, &frame) == nil {
			if frame.Type == "start" {
				sawStart = true
			}
			if frame.Type == "end" {
				sawEnd = true
				break
			}
		}
	}

	assert.True(t, sawStart, "expected a start frame")
	assert.True(t, sawBinary, "expected at least one binary audio frame")
	assert.True(t, sawEnd, "expected an end frame")
}
