package router

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/JamesABrownlee/tts-bot/internal/settings"
)

func baseSettings() settings.Settings {
	return settings.Settings{
		DefaultVoiceID:   "voice-d",
		FallbackVoice:    "voice-d",
		RestrictVoices:   false,
		AllowedVoiceIDs:  nil,
		AutoReadMessages: true,
	}
}

var catalog = []string{"voice-d", "voice-a", "voice-b"}

func TestEffectiveVoiceEmptyRequestedAllowDefault(t *testing.T) {
	s := baseSettings()
	got := EffectiveVoice(s, "", true, catalog)
	assert.Equal(t, "voice-d", got)
}

func TestEffectiveVoiceEmptyRequestedNoAllowDefaultFallsBackToCatalog(t *testing.T) {
	s := baseSettings()
	// fallback == default, so user default must come from the catalog.
	got := EffectiveVoice(s, "", false, catalog)
	assert.Equal(t, "voice-a", got)
}

func TestEffectiveVoiceRequestedEqualsDefaultWithoutAllowDefaultSubstitutes(t *testing.T) {
	s := baseSettings()
	got := EffectiveVoice(s, "voice-d", false, catalog)
	assert.Equal(t, "voice-a", got)
}

func TestEffectiveVoiceUnrestrictedPassesThroughRequested(t *testing.T) {
	s := baseSettings()
	got := EffectiveVoice(s, "voice-z", true, catalog)
	assert.Equal(t, "voice-z", got)
}

func TestEffectiveVoiceRestrictedAllowedMembershipWins(t *testing.T) {
	s := baseSettings()
	s.RestrictVoices = true
	s.AllowedVoiceIDs = []string{"voice-b"}
	got := EffectiveVoice(s, "voice-b", true, catalog)
	assert.Equal(t, "voice-b", got)
}

func TestEffectiveVoiceRestrictedAllowDefaultPathPrefersDefaultThenFallback(t *testing.T) {
	s := baseSettings()
	s.RestrictVoices = true
	s.AllowedVoiceIDs = []string{"voice-d"}
	got := EffectiveVoice(s, "voice-z", true, catalog)
	assert.Equal(t, "voice-d", got)
}

func TestEffectiveVoiceRestrictedAllowDefaultPathFallsBackWhenDefaultNotAllowed(t *testing.T) {
	s := baseSettings()
	s.DefaultVoiceID = "voice-d"
	s.FallbackVoice = "voice-f"
	s.RestrictVoices = true
	s.AllowedVoiceIDs = []string{"voice-f"}
	got := EffectiveVoice(s, "voice-z", true, catalog)
	assert.Equal(t, "voice-f", got)
}

func TestEffectiveVoiceRestrictedAllowDefaultPathReturnsRequestedWhenNothingAllowed(t *testing.T) {
	s := baseSettings()
	s.RestrictVoices = true
	s.AllowedVoiceIDs = []string{"voice-q"}
	got := EffectiveVoice(s, "voice-z", true, catalog)
	assert.Equal(t, "voice-z", got)
}

func TestEffectiveVoiceRestrictedUserPathPrefersUserDefaultThenOtherAllowedThenDefault(t *testing.T) {
	s := baseSettings()
	s.DefaultVoiceID = "voice-d"
	s.FallbackVoice = "voice-f"
	s.RestrictVoices = true
	s.AllowedVoiceIDs = []string{"voice-f"}
	got := EffectiveVoice(s, "voice-z", false, catalog)
	assert.Equal(t, "voice-f", got)
}

func TestEffectiveVoiceRestrictedUserPathFallsBackToAnyAllowedOtherThanDefault(t *testing.T) {
	s := baseSettings()
	s.DefaultVoiceID = "voice-d"
	s.FallbackVoice = "voice-d" // no distinct user default
	s.RestrictVoices = true
	s.AllowedVoiceIDs = []string{"voice-d", "voice-b"}
	got := EffectiveVoice(s, "voice-z", false, catalog)
	assert.Equal(t, "voice-b", got)
}

func TestEffectiveVoiceRestrictedUserPathFallsBackToDefaultWhenOnlyDefaultAllowed(t *testing.T) {
	s := baseSettings()
	s.DefaultVoiceID = "voice-d"
	s.FallbackVoice = "voice-d"
	s.RestrictVoices = true
	s.AllowedVoiceIDs = []string{"voice-d"}
	got := EffectiveVoice(s, "voice-z", false, catalog)
	assert.Equal(t, "voice-d", got)
}

func TestNormalizeMentionsReplacesKnownAndStripsLeftovers(t *testing.T) {
	content := "hey <@123> and <@!456>, check <#789> and <@&999>"
	replacements := map[string]string{"<@123>": "@Alice"}

	got := NormalizeMentions(content, replacements)
	assert.Equal(t, "hey @Alice and , check and", got)
}

func TestNormalizeMentionsCollapsesWhitespace(t *testing.T) {
	got := NormalizeMentions("hello   \n\t  world", nil)
	assert.Equal(t, "hello world", got)
}

func TestClassifyStatusImageBeatsVideoAndLink(t *testing.T) {
	attachments := []Attachment{{ContentType: "video/mp4"}, {ContentType: "image/png"}}
	got, ok := ClassifyStatus("Alice", "check this out https://example.com", attachments)
	assert.True(t, ok)
	assert.Equal(t, "Alice posted an image", got)
}

func TestClassifyStatusVideoBeatsLink(t *testing.T) {
	attachments := []Attachment{{ContentType: "video/mp4"}}
	got, ok := ClassifyStatus("Alice", "https://example.com", attachments)
	assert.True(t, ok)
	assert.Equal(t, "Alice posted a video", got)
}

func TestClassifyStatusBareLink(t *testing.T) {
	got, ok := ClassifyStatus("Alice", "check out https://example.com/foo", nil)
	assert.True(t, ok)
	assert.Equal(t, "Alice posted a link", got)
}

func TestClassifyStatusOrdinaryTextIsNotClassified(t *testing.T) {
	got, ok := ClassifyStatus("Alice", "just saying hi", nil)
	assert.False(t, ok)
	assert.Empty(t, got)
}

func TestSpeakNamePrefersNickname(t *testing.T) {
	assert.Equal(t, "Nick", SpeakName("Nick", "Display"))
	assert.Equal(t, "Display", SpeakName("", "Display"))
}

func TestAttributedUtteranceAddsSaidPrefixOnSpeakerChange(t *testing.T) {
	got := AttributedUtterance("Alice", "hello there", "user-2", "user-1")
	assert.Equal(t, `Alice said. "hello there"`, got)
}

func TestAttributedUtteranceOmitsPrefixWhenSameSpeakerContinues(t *testing.T) {
	got := AttributedUtterance("Alice", "hello there", "user-1", "user-1")
	assert.Equal(t, "hello there", got)
}
