package settings

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/JamesABrownlee/tts-bot/pkg/errors"
)

func TestValidateDefaults(t *testing.T) {
	def := Defaults("en_us_001", 300)
	out, err := Validate(def, nil)
	require.NoError(t, err)
	assert.Equal(t, 300, out.MaxTTSChars)
	assert.Equal(t, "en_us_001", out.FallbackVoice)
	assert.Equal(t, "en_us_001", out.DefaultVoiceID)
	assert.True(t, out.AutoReadMessages)
	assert.True(t, out.LeaveWhenAlone)
	assert.False(t, out.RestrictVoices)
}

func TestValidateUnknownKeyRejected(t *testing.T) {
	def := Defaults("en_us_001", 300)
	_, err := Validate(def, map[string]any{"not_a_real_field": 1})
	var unknown *apperrors.ErrUnknownSetting
	require.ErrorAs(t, err, &unknown)
}

func TestValidateMaxTTSCharsRange(t *testing.T) {
	def := Defaults("en_us_001", 300)
	_, err := Validate(def, map[string]any{"max_tts_chars": 0})
	require.Error(t, err)
	_, err = Validate(def, map[string]any{"max_tts_chars": 2001})
	require.Error(t, err)
	out, err := Validate(def, map[string]any{"max_tts_chars": "150"})
	require.NoError(t, err)
	assert.Equal(t, 150, out.MaxTTSChars)
}

func TestValidateBooleanStringCoercion(t *testing.T) {
	def := Defaults("en_us_001", 300)
	out, err := Validate(def, map[string]any{"greet_on_join": "Yes"})
	require.NoError(t, err)
	assert.True(t, out.GreetOnJoin)

	out, err = Validate(def, map[string]any{"greet_on_join": "nope"})
	require.NoError(t, err)
	assert.False(t, out.GreetOnJoin)
}

func TestValidateAllowedVoiceIDsFromJSONString(t *testing.T) {
	def := Defaults("en_us_001", 300)
	out, err := Validate(def, map[string]any{"allowed_voice_ids": `["en_us_001", "en_us_002", "en_us_001"]`})
	require.NoError(t, err)
	assert.Equal(t, []string{"en_us_001", "en_us_002"}, out.AllowedVoiceIDs)
}

// TestValidateRestrictVoicesInvariant covers testable property 7: when
// restrict_voices is enabled, both fallback_voice and default_voice_id
// must already be present in allowed_voice_ids.
func TestValidateRestrictVoicesInvariant(t *testing.T) {
	def := Defaults("en_us_001", 300)

	_, err := Validate(def, map[string]any{
		"restrict_voices": true,
	})
	require.Error(t, err)

	_, err = Validate(def, map[string]any{
		"restrict_voices":   true,
		"allowed_voice_ids": []string{"en_us_002"},
	})
	require.Error(t, err, "fallback_voice must be included")

	out, err := Validate(def, map[string]any{
		"restrict_voices":   true,
		"allowed_voice_ids": []string{"en_us_001", "en_us_002"},
		"default_voice_id":  "en_us_002",
	})
	require.NoError(t, err)
	assert.True(t, out.RestrictVoices)
}

func TestValidateAllowlistTextChannelIDs(t *testing.T) {
	def := Defaults("en_us_001", 300)
	out, err := Validate(def, map[string]any{
		"allowlist_text_channel_ids": []any{float64(123), float64(456), float64(123), float64(-1)},
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{123, 456}, out.AllowlistTextChannelIDs)
}
