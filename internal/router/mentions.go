package router

import (
	"regexp"
	"strings"
)

var (
	leftoverUserMention    = regexp.MustCompile(`<@!?\d+>`)
	leftoverRoleMention    = regexp.MustCompile(`<@&\d+>`)
	leftoverChannelMention = regexp.MustCompile(`<#\d+>`)
)

// NormalizeMentions replaces known mention tokens (already resolved by
// the caller into a token->replacement map, e.g. "<@123>" -> "@Alice")
// and strips any mention markup that couldn't be resolved, then
// collapses whitespace. Ported from
// original_source/utils/tts_text.py's normalize_mentions.
func NormalizeMentions(content string, replacements map[string]string) string {
	text := content
	for token, repl := range replacements {
		text = strings.ReplaceAll(text, token, repl)
	}

	text = leftoverUserMention.ReplaceAllString(text, "")
	text = leftoverRoleMention.ReplaceAllString(text, "")
	text = leftoverChannelMention.ReplaceAllString(text, "")

	return safeSpace(text)
}

func safeSpace(text string) string {
	return strings.Join(strings.Fields(text), " ")
}
