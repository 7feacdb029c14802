package models

import (
	"strings"
	"time"
)

const (
	sessionNameMaxLen = 30
	ellipsis          = "..."
)

// GreetingText seeds every new session.
const GreetingText = "Hi! I'm MediChat. I'm here to help you with your medical questions. How can I assist you today?"

// DeriveSessionName builds a session name from the first user-authored text:
// the trimmed text cut to 30 characters, with an ellipsis when it was longer.
// Blank text falls back to a time based name.
func DeriveSessionName(text string, now time.Time) string {
	name := strings.TrimSpace(text)
	if name == "" {
		return FallbackSessionName("Chat", now)
	}
	runes := []rune(name)
	if len(runes) <= sessionNameMaxLen {
		return name
	}
	return string(runes[:sessionNameMaxLen]) + ellipsis
}

// FallbackSessionName renders "<prefix> HH:MM" in the local time of now.
func FallbackSessionName(prefix string, now time.Time) string {
	return prefix + " " + now.Format("15:04")
}
