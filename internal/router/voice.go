// Package router implements the event router (C7): effective-voice
// resolution, chat auto-read classification, and mention
// normalization. Grounded on original_source/cogs/tts.py's
// _effective_voice_id/on_message for the overall shape, refined to
// spec.md §4.7's exact (newer) resolver algorithm, and
// original_source/utils/tts_text.py's normalize_mentions.
package router

import (
	"strings"

	"github.com/JamesABrownlee/tts-bot/internal/settings"
)

// EffectiveVoice implements spec.md §4.7's resolver. catalog lists
// every known voice id in a stable order, used to compute "the first
// catalog voice other than D" when no better user default exists.
func EffectiveVoice(s settings.Settings, requested string, allowDefault bool, catalog []string) string {
	d := s.DefaultVoiceID
	f := s.FallbackVoice
	userDefault := userDefaultVoice(f, d, catalog)

	requested = strings.TrimSpace(requested)
	if requested == "" {
		if allowDefault {
			requested = d
		} else {
			requested = userDefault
		}
	} else if !allowDefault && requested == d {
		requested = userDefault
	}

	if !s.RestrictVoices {
		return requested
	}
	allowed := s.AllowedVoiceIDs

	if containsVoice(allowed, requested) {
		return requested
	}

	if allowDefault {
		if containsVoice(allowed, d) {
			return d
		}
		if containsVoice(allowed, f) {
			return f
		}
		return requested
	}

	if containsVoice(allowed, userDefault) {
		return userDefault
	}
	for _, v := range allowed {
		if v != d {
			return v
		}
	}
	if containsVoice(allowed, d) {
		return d
	}
	return requested
}

func userDefaultVoice(fallback, defaultVoice string, catalog []string) string {
	if fallback != defaultVoice {
		return fallback
	}
	for _, v := range catalog {
		if v != defaultVoice {
			return v
		}
	}
	return fallback
}

// TruncateRunes trims s to at most max runes so multibyte content is
// never cut mid-rune, unlike a byte-index slice.
func TruncateRunes(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}

func containsVoice(list []string, target string) bool {
	for _, v := range list {
		if v == target {
			return true
		}
	}
	return false
}
