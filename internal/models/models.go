package models

import "time"

// Sender identifies who authored a message
type Sender string

const (
	SenderUser Sender = "user"
	SenderBot  Sender = "bot"
)

func (s Sender) Valid() bool {
	return s == SenderUser || s == SenderBot
}

// QuickReplyContext selects which answer behavior a turn invokes.
// It is part of the request only and never persisted.
type QuickReplyContext string

const (
	ContextSymptoms    QuickReplyContext = "symptoms"
	ContextGeneralInfo QuickReplyContext = "general_info"
)

func (c QuickReplyContext) Valid() bool {
	return c == ContextSymptoms || c == ContextGeneralInfo
}

// TimeLayout is the fixed-width ISO-8601 form used for stored timestamps.
// All values are UTC so lexical order equals chronological order.
const TimeLayout = "2006-01-02T15:04:05.000000000Z"

// FormatTime renders t in TimeLayout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime parses a stored timestamp. RFC 3339 values written by other
// tools are accepted as well.
func ParseTime(s string) (time.Time, error) {
	if t, err := time.Parse(TimeLayout, s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}

// User represents an account owning chat sessions
type User struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Caller is the verified identity attached to a request.
type Caller struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Message is one entry of a session timeline. Messages are append-only.
type Message struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Text      string    `json:"text"`
	Sender    Sender    `json:"sender"`
	Timestamp time.Time `json:"timestamp"`
	Avatar    bool      `json:"avatar"`
}

// ChatSession is a conversation thread owned by a single user
type ChatSession struct {
	ID           string     `json:"id"`
	UserID       string     `json:"user_id"`
	Name         string     `json:"name"`
	StartTime    time.Time  `json:"start_time"`
	LastActivity time.Time  `json:"last_activity"`
	Messages     []*Message `json:"messages"`
}

// HasUserMessage reports whether any message in the session was written by the user.
func (s *ChatSession) HasUserMessage() bool {
	for _, m := range s.Messages {
		if m.Sender == SenderUser {
			return true
		}
	}
	return false
}

// Clone returns a deep copy, so callers can hand sessions out without sharing message slices.
func (s *ChatSession) Clone() *ChatSession {
	c := *s
	c.Messages = make([]*Message, len(s.Messages))
	for i, m := range s.Messages {
		mc := *m
		c.Messages[i] = &mc
	}
	return &c
}
