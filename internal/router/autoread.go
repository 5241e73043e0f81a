package router

import (
	"regexp"
	"strings"
)

var urlPattern = regexp.MustCompile(`https?://\S+`)

// Attachment mirrors the subset of a platform message attachment this
// package needs to classify.
type Attachment struct {
	ContentType string
}

func (a Attachment) isImage() bool { return strings.HasPrefix(a.ContentType, "image/") }
func (a Attachment) isVideo() bool { return strings.HasPrefix(a.ContentType, "video/") }

// ClassifyStatus implements spec.md §4.7's chat auto-read attachment
// classification: image/video attachments and bare links become
// "status" utterances instead of spoken message content. It returns
// ("", false) when the message is ordinary text.
func ClassifyStatus(speakName, content string, attachments []Attachment) (string, bool) {
	for _, a := range attachments {
		if a.isImage() {
			return speakName + " posted an image", true
		}
	}
	for _, a := range attachments {
		if a.isVideo() {
			return speakName + " posted a video", true
		}
	}
	if urlPattern.MatchString(content) {
		return speakName + " posted a link", true
	}
	return "", false
}

// SpeakName resolves the spoken attribution name: the user's saved
// nickname, or their platform display name if no nickname is set.
func SpeakName(nickname, displayName string) string {
	if nickname != "" {
		return nickname
	}
	return displayName
}

// AttributedUtterance implements the "said" prefix rule: the message
// is only prefixed with '<speak_name> said. "<content>"' when the
// speaker changed since the last utterance in this session.
func AttributedUtterance(speakName, content string, lastSpeakerID, authorID string) string {
	if lastSpeakerID == authorID {
		return content
	}
	return speakName + ` said. "` + content + `"`
}
