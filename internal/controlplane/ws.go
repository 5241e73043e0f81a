package controlplane

import (
	"context"
	"io"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/JamesABrownlee/tts-bot/internal/voicecatalog"
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type wsJobRequest struct {
	Text    string `json:"text"`
	VoiceID string `json:"voice_id"`
}

type wsFrame struct {
	Type  string `json:"type"`
	Error string `json:"error,omitempty"`
}

// wsSession tracks the single in-flight streaming job for one
// connection, so a new inbound frame can cancel whatever is currently
// playing out (spec.md §4.8/§5: "starting a new job cancels the prior
// job").
type wsSession struct {
	mu     sync.Mutex
	cancel context.CancelFunc
	gen    uint64
}

func (s *wsSession) start() (context.Context, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
	s.gen++
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	return ctx, s.gen
}

func (s *wsSession) isCurrent(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen == gen
}

// wsTTS implements WS /ws/tts: each inbound {text, voice_id?} frame
// starts a fresh streaming job, sends a start frame, binary MP3
// chunks, and an end frame, and is cancelled without an end frame if a
// newer request arrives first.
func (h *handlers) wsTTS(c *gin.Context) {
	conn, err := wsUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.deps.Logger.Debug("controlplane: ws upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	var writeMu sync.Mutex
	sess := &wsSession{}

	for {
		var req wsJobRequest
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		if req.Text == "" {
			continue
		}
		if req.VoiceID == "" {
			req.VoiceID = voicecatalog.FallbackVoice
		}

		ctx, gen := sess.start()
		go h.runWSJob(conn, &writeMu, sess, ctx, gen, req)
	}
}

func (h *handlers) runWSJob(conn *websocket.Conn, writeMu *sync.Mutex, sess *wsSession, ctx context.Context, gen uint64, req wsJobRequest) {
	send := func(v any) bool {
		if !sess.isCurrent(gen) {
			return false
		}
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteJSON(v) == nil
	}
	sendBinary := func(b []byte) bool {
		if !sess.isCurrent(gen) {
			return false
		}
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteMessage(websocket.BinaryMessage, b) == nil
	}

	result, err := h.deps.Pipeline.GetStream(ctx, req.Text, req.VoiceID, voicecatalog.FallbackVoice)
	if err != nil {
		if sess.isCurrent(gen) {
			send(wsFrame{Type: "error", Error: err.Error()})
		}
		return
	}
	defer result.Reader.Close()

	if !send(wsFrame{Type: "start"}) {
		return
	}

	buf := make([]byte, 32*1024)
	for {
		if ctx.Err() != nil {
			return
		}
		n, readErr := result.Reader.Read(buf)
		if n > 0 {
			if !sendBinary(buf[:n]) {
				return
			}
		}
		if readErr != nil {
			if readErr == io.EOF {
				break
			}
			if sess.isCurrent(gen) {
				send(wsFrame{Type: "error", Error: readErr.Error()})
			}
			return
		}
	}

	if producerErr := <-result.Done; producerErr != nil {
		if sess.isCurrent(gen) {
			send(wsFrame{Type: "error", Error: producerErr.Error()})
		}
		return
	}

	if ctx.Err() != nil {
		return
	}
	send(wsFrame{Type: "end"})
}
