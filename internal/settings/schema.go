// Package settings implements the per-tenant validated settings store
// (C3): schema validation/coercion mirrors
// original_source/utils/settings_schema.py, and the cache + write-through
// persistence shape mirrors original_source/utils/guild_settings_store.py,
// adapted to a single global serialization point per spec.md §4.3.
package settings

import (
	"encoding/json"
	"strconv"
	"strings"

	apperrors "github.com/JamesABrownlee/tts-bot/pkg/errors"
)

const (
	minTTSChars = 1
	maxTTSChars = 2000

	maxAllowedVoices  = 500
	maxAllowlistChans = 200
)

// Settings is a validated, per-tenant record. Every field mirrors
// spec.md §3's GuildSettings.
type Settings struct {
	MaxTTSChars             int      `json:"max_tts_chars"`
	FallbackVoice            string   `json:"fallback_voice"`
	DefaultVoiceID           string   `json:"default_voice_id"`
	AutoReadMessages         bool     `json:"auto_read_messages"`
	LeaveWhenAlone           bool     `json:"leave_when_alone"`
	GreetOnJoin              bool     `json:"greet_on_join"`
	FarewellOnLeave          bool     `json:"farewell_on_leave"`
	RestrictVoices           bool     `json:"restrict_voices"`
	AllowedVoiceIDs          []string `json:"allowed_voice_ids"`
	AllowlistTextChannelIDs  []int64  `json:"allowlist_text_channel_ids"`
}

// clone returns a copy of s whose slice fields share no backing array
// with s, so a caller that mutates the result cannot corrupt a cached
// copy.
func (s Settings) clone() Settings {
	out := s
	out.AllowedVoiceIDs = append([]string(nil), s.AllowedVoiceIDs...)
	out.AllowlistTextChannelIDs = append([]int64(nil), s.AllowlistTextChannelIDs...)
	return out
}

// Defaults are used to seed a tenant's first record and to fill any
// field missing from a patch.
func Defaults(fallbackVoice string, maxTTSChars int) Settings {
	return Settings{
		MaxTTSChars:             maxTTSChars,
		FallbackVoice:           fallbackVoice,
		DefaultVoiceID:          fallbackVoice,
		AutoReadMessages:        true,
		LeaveWhenAlone:          true,
		GreetOnJoin:             false,
		FarewellOnLeave:         false,
		RestrictVoices:          false,
		AllowedVoiceIDs:         []string{},
		AllowlistTextChannelIDs: []int64{},
	}
}

// rawPatch is what callers and the JSON store pass in: a sparse,
// untyped map so unknown-key detection (spec.md §4.3's UnknownSetting)
// can happen before any typed merge.
type rawPatch map[string]any

var knownKeys = map[string]bool{
	"max_tts_chars":              true,
	"fallback_voice":             true,
	"default_voice_id":           true,
	"auto_read_messages":         true,
	"leave_when_alone":           true,
	"greet_on_join":              true,
	"farewell_on_leave":          true,
	"restrict_voices":            true,
	"allowed_voice_ids":          true,
	"allowlist_text_channel_ids": true,
}

// Validate merges patch over current and returns a fully validated,
// deterministic record, or an error naming the offending field. An
// unknown key in patch fails with ErrUnknownSetting before anything
// else is checked.
func Validate(current Settings, patch map[string]any) (Settings, error) {
	for k := range patch {
		if !knownKeys[k] {
			return Settings{}, apperrors.NewErrUnknownSetting(k)
		}
	}

	merged := toRaw(current)
	for k, v := range patch {
		merged[k] = v
	}
	return validateRaw(merged)
}

func toRaw(s Settings) rawPatch {
	return rawPatch{
		"max_tts_chars":              s.MaxTTSChars,
		"fallback_voice":             s.FallbackVoice,
		"default_voice_id":           s.DefaultVoiceID,
		"auto_read_messages":         s.AutoReadMessages,
		"leave_when_alone":           s.LeaveWhenAlone,
		"greet_on_join":              s.GreetOnJoin,
		"farewell_on_leave":          s.FarewellOnLeave,
		"restrict_voices":            s.RestrictVoices,
		"allowed_voice_ids":          s.AllowedVoiceIDs,
		"allowlist_text_channel_ids": s.AllowlistTextChannelIDs,
	}
}

func validateRaw(merged rawPatch) (Settings, error) {
	var out Settings

	maxChars, err := coerceInt(merged["max_tts_chars"])
	if err != nil {
		return Settings{}, apperrors.NewErrValidationError("max_tts_chars", "must be an integer")
	}
	if maxChars < minTTSChars || maxChars > maxTTSChars {
		return Settings{}, apperrors.NewErrValidationError("max_tts_chars", "must be between 1 and 2000")
	}
	out.MaxTTSChars = maxChars

	fallbackVoice := strings.TrimSpace(toString(merged["fallback_voice"]))
	if fallbackVoice == "" {
		return Settings{}, apperrors.NewErrValidationError("fallback_voice", "must be a non-empty string")
	}
	out.FallbackVoice = fallbackVoice

	defaultVoiceRaw := merged["default_voice_id"]
	defaultVoiceID := strings.TrimSpace(toString(defaultVoiceRaw))
	if defaultVoiceID == "" {
		defaultVoiceID = fallbackVoice
	}
	out.DefaultVoiceID = defaultVoiceID

	out.AutoReadMessages = coerceBool(merged["auto_read_messages"], true)
	out.LeaveWhenAlone = coerceBool(merged["leave_when_alone"], true)
	out.GreetOnJoin = coerceBool(merged["greet_on_join"], false)
	out.FarewellOnLeave = coerceBool(merged["farewell_on_leave"], false)
	out.RestrictVoices = coerceBool(merged["restrict_voices"], false)

	allowed, err := coerceVoiceList(merged["allowed_voice_ids"])
	if err != nil {
		return Settings{}, err
	}
	out.AllowedVoiceIDs = allowed

	chans, err := coerceChannelList(merged["allowlist_text_channel_ids"])
	if err != nil {
		return Settings{}, err
	}
	out.AllowlistTextChannelIDs = chans

	if out.RestrictVoices {
		if len(out.AllowedVoiceIDs) == 0 {
			return Settings{}, apperrors.NewErrValidationError("allowed_voice_ids", "pick at least one allowed voice")
		}
		if !containsString(out.AllowedVoiceIDs, out.FallbackVoice) {
			return Settings{}, apperrors.NewErrValidationError("fallback_voice", "must be included in allowed_voice_ids when restrict_voices is enabled")
		}
		if !containsString(out.AllowedVoiceIDs, out.DefaultVoiceID) {
			return Settings{}, apperrors.NewErrValidationError("default_voice_id", "must be included in allowed_voice_ids when restrict_voices is enabled")
		}
	}

	return out, nil
}

func coerceInt(v any) (int, error) {
	switch t := v.(type) {
	case int:
		return t, nil
	case int64:
		return int(t), nil
	case float64:
		return int(t), nil
	case string:
		return strconv.Atoi(strings.TrimSpace(t))
	default:
		return 0, apperrors.NewErrValidationError("max_tts_chars", "must be an integer")
	}
}

func toString(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

var truthyStrings = map[string]bool{
	"1": true, "true": true, "yes": true, "y": true, "on": true,
}

// coerceBool applies spec.md §4.3's string-coercion policy: known
// truthy strings (case-insensitive) map to true, any other string to
// false, and non-string/non-bool values fall back to def.
func coerceBool(v any, def bool) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return truthyStrings[strings.ToLower(strings.TrimSpace(t))]
	case nil:
		return def
	default:
		return def
	}
}

func coerceVoiceList(v any) ([]string, error) {
	items, err := coerceStringList(v, "allowed_voice_ids")
	if err != nil {
		return nil, err
	}

	seen := map[string]bool{}
	out := make([]string, 0, len(items))
	for _, raw := range items {
		voice := strings.TrimSpace(raw)
		if voice == "" || seen[voice] {
			continue
		}
		seen[voice] = true
		out = append(out, voice)
		if len(out) > maxAllowedVoices {
			return nil, apperrors.NewErrValidationError("allowed_voice_ids", "too large (max 500)")
		}
	}
	return out, nil
}

func coerceStringList(v any, field string) ([]any, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case []string:
		out := make([]any, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out, nil
	case []any:
		return t, nil
	case string:
		if strings.TrimSpace(t) == "" {
			return nil, nil
		}
		var parsed []any
		if err := json.Unmarshal([]byte(t), &parsed); err != nil {
			return nil, apperrors.NewErrValidationError(field, "must be a JSON list")
		}
		return parsed, nil
	default:
		return nil, apperrors.NewErrValidationError(field, "must be a list")
	}
}

func coerceChannelList(v any) ([]int64, error) {
	items, err := coerceStringList(v, "allowlist_text_channel_ids")
	if err != nil {
		return nil, err
	}

	seen := map[int64]bool{}
	out := make([]int64, 0, len(items))
	for _, raw := range items {
		id, ok := toInt64(raw)
		if !ok || id <= 0 || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
		if len(out) > maxAllowlistChans {
			return nil, apperrors.NewErrValidationError("allowlist_text_channel_ids", "too large (max 200)")
		}
	}
	return out, nil
}

func toInt64(v any) (int64, bool) {
	switch t := v.(type) {
	case int64:
		return t, true
	case int:
		return int64(t), true
	case float64:
		return int64(t), true
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}

func containsString(list []string, target string) bool {
	for _, v := range list {
		if v == target {
			return true
		}
	}
	return false
}
