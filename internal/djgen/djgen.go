// Package djgen wraps the two opaque external text generators spec.md
// §1/§4.8 treats as "opaque string producers with a fallback branch":
// a DJ-style song introduction and a list of similar-song suggestions.
// Grounded on original_source/utils/open_ai.py, ported from the
// Responses-API/Structured-Outputs shape onto go-openai's chat
// completions with JSON-object mode.
package djgen

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

const (
	defaultModel      = "gpt-4o-mini"
	introSystemPrompt = "You are Vexo FM, a charismatic radio host introducing songs. " +
		"Rules: intro is 1-2 sentences, max 35 words. It MUST include the exact song title and artist provided. " +
		"If for_user is provided, dedicate it to them; else if requested_by is provided, dedicate it to them. " +
		"No lyrics, no profanity. Respond with ONLY a JSON object: {\"intro\": \"...\"}."
	suggestionsSystemPrompt = "You are a music recommendation engine. Return 5 songs similar to the seed track. " +
		"Rules: respond with ONLY a JSON object {\"suggestions\": [{\"title\":...,\"artist\":...}, ...]} containing " +
		"exactly 5 entries; never include the seed track; never duplicate an entry."
)

// Suggestion is one recommended track.
type Suggestion struct {
	Title  string `json:"title"`
	Artist string `json:"artist"`
}

// Generator wraps an OpenAI client, degrading to canned fallback
// strings when no API key is configured or the model's output doesn't
// validate, matching original_source's "retry once, then fallback"
// contract.
type Generator struct {
	client *openai.Client
	model  string
	logger *zap.Logger
}

// New builds a Generator. apiKey == "" yields a Generator that always
// uses the fallback path, matching the original's "no key -> fallback
// immediately" behavior.
func New(apiKey, model string, logger *zap.Logger) *Generator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if model == "" {
		model = defaultModel
	}
	g := &Generator{model: model, logger: logger}
	if apiKey != "" {
		g.client = openai.NewClient(apiKey)
	}
	return g
}

// DJIntroFallback is the canned intro used when generation is
// unavailable or fails validation.
func DJIntroFallback(title, artist, requestedBy, forUser string) string {
	who := strings.TrimSpace(forUser)
	if who == "" {
		who = strings.TrimSpace(requestedBy)
	}
	if who != "" {
		return fmt.Sprintf("Alright %s, this one's for you — \"%s\" by %s, right here on Vexo FM.", who, title, artist)
	}
	return fmt.Sprintf("Up next on Vexo FM: \"%s\" by %s.", title, artist)
}

type introResponse struct {
	Intro string `json:"intro"`
}

// DJIntro generates a short radio-host introduction for a track,
// retrying once before falling back to a canned line (spec.md §4.8's
// "POST /api/radio-presenter ... retry-and-fallback").
func (g *Generator) DJIntro(ctx context.Context, title, artist, requestedBy, forUser string) string {
	fallback := DJIntroFallback(title, artist, requestedBy, forUser)
	if g.client == nil {
		return fallback
	}

	payload, _ := json.Marshal(map[string]string{
		"title": title, "artist": artist, "requested_by": requestedBy, "for_user": forUser,
	})
	userContent := "Generate the DJ intro JSON for this payload.\nPayload:\n" + string(payload)

	for attempt := 0; attempt < 2; attempt++ {
		resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model: g.model,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: introSystemPrompt},
				{Role: openai.ChatMessageRoleUser, Content: userContent},
			},
			Temperature:    0.7,
			MaxTokens:      180,
			ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
		})
		if err != nil {
			g.logger.Warn("djgen: dj intro request failed", zap.Int("attempt", attempt), zap.Error(err))
			continue
		}
		if len(resp.Choices) == 0 {
			continue
		}

		var parsed introResponse
		if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &parsed); err != nil {
			continue
		}
		intro := strings.TrimSpace(parsed.Intro)
		if intro == "" || !mentionsBoth(intro, title, artist) {
			continue
		}
		return intro
	}
	return fallback
}

type suggestionsResponse struct {
	Suggestions []Suggestion `json:"suggestions"`
}

// SongSuggestions returns exactly 5 similar tracks, or nil if generation
// is unavailable or never validates (spec.md §4.8's
// "POST /api/song-suggestions ... returns structured JSON").
func (g *Generator) SongSuggestions(ctx context.Context, title, artist string) []Suggestion {
	if g.client == nil {
		return nil
	}

	payload, _ := json.Marshal(map[string]string{"title": title, "artist": artist})
	userContent := "Generate similar song suggestions for this seed track.\nPayload:\n" + string(payload)
	seedKey := suggestionKey(title, artist)

	for attempt := 0; attempt < 2; attempt++ {
		resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model: g.model,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: suggestionsSystemPrompt},
				{Role: openai.ChatMessageRoleUser, Content: userContent},
			},
			Temperature:    0.6,
			MaxTokens:      220,
			ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
		})
		if err != nil {
			g.logger.Warn("djgen: song suggestions request failed", zap.Int("attempt", attempt), zap.Error(err))
			continue
		}
		if len(resp.Choices) == 0 {
			continue
		}

		var parsed suggestionsResponse
		if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &parsed); err != nil {
			continue
		}
		cleaned := dedupeSuggestions(parsed.Suggestions, seedKey)
		if len(cleaned) == 5 {
			return cleaned
		}
	}
	return nil
}

func mentionsBoth(text, title, artist string) bool {
	t, a, x := strings.ToLower(title), strings.ToLower(artist), strings.ToLower(text)
	return t != "" && a != "" && strings.Contains(x, t) && strings.Contains(x, a)
}

func suggestionKey(title, artist string) string {
	return strings.ToLower(strings.TrimSpace(title)) + "::" + strings.ToLower(strings.TrimSpace(artist))
}

func dedupeSuggestions(in []Suggestion, seedKey string) []Suggestion {
	seen := make(map[string]bool, len(in))
	out := make([]Suggestion, 0, len(in))
	for _, s := range in {
		title, artist := strings.TrimSpace(s.Title), strings.TrimSpace(s.Artist)
		if title == "" || artist == "" {
			return nil
		}
		key := suggestionKey(title, artist)
		if key == seedKey || seen[key] {
			return nil
		}
		seen[key] = true
		out = append(out, Suggestion{Title: title, Artist: artist})
	}
	return out
}
