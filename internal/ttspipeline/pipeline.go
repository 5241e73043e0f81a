// Package ttspipeline implements the streaming TTS fetcher (C2): it
// opens a request against one of two upstream providers, stream-decodes
// the response into MP3 bytes, and exposes a read handle plus a
// producer-completion signal, guarded by the C1 breakers.
package ttspipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/JamesABrownlee/tts-bot/internal/breaker"
	"github.com/JamesABrownlee/tts-bot/internal/voicecatalog"
	apperrors "github.com/JamesABrownlee/tts-bot/pkg/errors"
)

const (
	defaultPrimaryURL  = "https://tiktok-tts.weilnet.workers.dev/api/generation"
	defaultFallbackURL = "https://translate.google.com/translate_tts"
	defaultUserAgent   = "Mozilla/5.0"

	defaultMaxRedirects   = 6
	defaultMaxRetries     = 2
	defaultBaseRetryDelay = 500 * time.Millisecond
	defaultRequestTimeout = 15 * time.Second
)

// Pipeline fetches and decodes TTS audio from the primary and fallback
// providers.
type Pipeline struct {
	PrimaryURL  string
	FallbackURL string
	UserAgent   string

	MaxRedirects   int
	MaxRetries     int
	BaseRetryDelay time.Duration

	HTTPClient *http.Client

	PrimaryBreaker  *breaker.CircuitBreaker
	FallbackBreaker *breaker.CircuitBreaker
	VoiceHealth     *breaker.VoiceHealth

	Logger *zap.Logger
}

// New builds a Pipeline with the provider URLs, breakers, and retry
// parameters specified in spec.md §4.1/§4.2/§6.
func New(logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := defaultRequestTimeout
	return &Pipeline{
		PrimaryURL:      defaultPrimaryURL,
		FallbackURL:     defaultFallbackURL,
		UserAgent:       defaultUserAgent,
		MaxRedirects:    defaultMaxRedirects,
		MaxRetries:      defaultMaxRetries,
		BaseRetryDelay:  defaultBaseRetryDelay,
		PrimaryBreaker:  breaker.New("primary", 3, 60*time.Second),
		FallbackBreaker: breaker.New("fallback", 5, 30*time.Second),
		VoiceHealth:     breaker.NewVoiceHealth(),
		Logger:          logger,
		HTTPClient: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// Result is the output of GetStream: Reader yields MP3-framed bytes
// until the producer closes it; Done receives the producer's terminal
// error (nil on success) exactly once.
type Result struct {
	Reader *io.PipeReader
	Done   <-chan error
}

// GetStream implements the six-step fallback algorithm of spec.md
// §4.2: cooldown substitution, provider selection by voice id, breaker
// + retry-with-backoff on the primary path, fallback-provider retry
// with the translator voice, a final primary retry with the tenant
// fallback voice, and first-error surfacing if every path fails.
func (p *Pipeline) GetStream(ctx context.Context, text, requestedVoiceID, fallbackVoiceID string) (*Result, error) {
	requested := requestedVoiceID
	if requested == "" {
		requested = fallbackVoiceID
	}
	if !p.VoiceHealth.IsAvailable(requested) {
		requested = fallbackVoiceID
	}

	requestedIsFallbackProvider := voicecatalog.IsFallbackProviderVoice(requested)
	primaryPathBreaker := p.PrimaryBreaker
	if requestedIsFallbackProvider {
		primaryPathBreaker = p.FallbackBreaker
	}

	var stream *Result
	primaryErr := primaryPathBreaker.Execute(func() error {
		return p.retryWithBackoff(ctx, func(int) error {
			var err error
			if requestedIsFallbackProvider {
				stream, err = p.openFallbackStream(ctx, text, requested)
			} else {
				stream, err = p.openPrimaryStream(ctx, text, requested)
			}
			return err
		})
	})
	if primaryErr == nil {
		return stream, nil
	}

	if !requestedIsFallbackProvider {
		fbErr := p.FallbackBreaker.Execute(func() error {
			var err error
			stream, err = p.openFallbackStream(ctx, text, voicecatalog.GoogleVoiceID)
			return err
		})
		if fbErr == nil {
			return stream, nil
		}
	}

	if !requestedIsFallbackProvider && requested != fallbackVoiceID {
		p.VoiceHealth.MarkFailed(requested)
		err := p.retryWithBackoff(ctx, func(int) error {
			var err error
			stream, err = p.openPrimaryStream(ctx, text, fallbackVoiceID)
			return err
		})
		if err == nil {
			return stream, nil
		}
	}

	return nil, primaryErr
}

func (p *Pipeline) retryWithBackoff(ctx context.Context, fn func(attempt int) error) error {
	var err error
	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		err = fn(attempt)
		if err == nil {
			return nil
		}
		if attempt >= p.MaxRetries {
			return err
		}
		delay := p.BaseRetryDelay * (1 << uint(attempt))
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
	return err
}

func (p *Pipeline) openPrimaryStream(ctx context.Context, text, voiceID string) (*Result, error) {
	target := p.PrimaryURL
	var resp *http.Response

	for i := 0; i <= p.MaxRedirects; i++ {
		payload, err := json.Marshal(map[string]string{"text": text, "voice": voiceID})
		if err != nil {
			return nil, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", p.UserAgent)

		resp, err = p.HTTPClient.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 300 && resp.StatusCode < 400 {
			loc := resp.Header.Get("Location")
			resp.Body.Close()
			if loc == "" {
				return nil, apperrors.NewErrProviderStatus(voiceID, resp.StatusCode)
			}
			target = loc
			resp = nil
			continue
		}
		break
	}

	if resp == nil {
		return nil, fmt.Errorf("tts: no response from primary provider")
	}

	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode >= 500 {
			p.VoiceHealth.MarkFailed(voiceID)
		}
		resp.Body.Close()
		return nil, apperrors.NewErrProviderStatus(voiceID, resp.StatusCode)
	}

	pr, pw := io.Pipe()
	done := make(chan error, 1)
	go func() {
		defer resp.Body.Close()
		err := decodePrimaryBody(resp.Body, voiceID, pw)
		if err != nil {
			p.VoiceHealth.MarkFailed(voiceID)
			pw.CloseWithError(err)
			done <- err
			return
		}
		p.VoiceHealth.MarkSuccess(voiceID)
		pw.Close()
		done <- nil
	}()

	return &Result{Reader: pr, Done: done}, nil
}

func (p *Pipeline) openFallbackStream(ctx context.Context, text, voiceID string) (*Result, error) {
	u, err := url.Parse(p.FallbackURL)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("ie", "UTF-8")
	q.Set("q", text)
	q.Set("tl", "en")
	q.Set("client", "tw-ob")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", p.UserAgent)

	resp, err := p.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, apperrors.NewErrProviderStatus(voiceID, resp.StatusCode)
	}

	pr, pw := io.Pipe()
	done := make(chan error, 1)
	go func() {
		defer resp.Body.Close()
		_, copyErr := io.Copy(pw, resp.Body)
		if copyErr != nil {
			pw.CloseWithError(copyErr)
			done <- copyErr
			return
		}
		pw.Close()
		done <- nil
	}()

	return &Result{Reader: pr, Done: done}, nil
}
