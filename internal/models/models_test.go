package models

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveSessionName(t *testing.T) {
	now := time.Date(2024, 5, 1, 9, 7, 0, 0, time.UTC)

	tests := []struct {
		name string
		text string
		want string
	}{
		{name: "short text kept", text: "Hi", want: "Hi"},
		{name: "trimmed", text: "   Hi  ", want: "Hi"},
		{name: "exactly thirty", text: "123456789012345678901234567890", want: "123456789012345678901234567890"},
		{
			name: "long text truncated",
			text: "What are symptoms of diabetes today please tell me",
			want: "What are symptoms of diabetes ...",
		},
		{name: "multibyte runes counted once", text: "ééééééééééééééééééééééééééééééé", want: "éééééééééééééééééééééééééééééé..."},
		{name: "blank falls back", text: "   ", want: "Chat 09:07"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DeriveSessionName(tt.text, now))
		})
	}
}

func TestTimeRoundTripIsLexicallyOrdered(t *testing.T) {
	a := time.Date(2024, 1, 1, 0, 0, 5, 100_000_000, time.UTC)
	b := time.Date(2024, 1, 1, 0, 0, 5, 120_000_000, time.UTC)

	sa, sb := FormatTime(a), FormatTime(b)
	assert.Less(t, sa, sb)

	parsed, err := ParseTime(sa)
	require.NoError(t, err)
	assert.True(t, parsed.Equal(a))

	legacy, err := ParseTime("2024-01-01T00:00:05.1Z")
	require.NoError(t, err)
	assert.True(t, legacy.Equal(a))
}

func TestErrorKinds(t *testing.T) {
	cause := errors.New("timeout")
	err := fmt.Errorf("wrapped: %w", ExternalServiceError("answer.Generate", "", cause))

	assert.ErrorIs(t, err, ErrExternalService)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrAuthorization)
	assert.Equal(t, "timeout", DisplayMessage(err))

	authz := AuthorizationError("repository.AppendMessage", "session belongs to another user")
	assert.ErrorIs(t, authz, ErrAuthorization)
	assert.Equal(t, "session belongs to another user", DisplayMessage(authz))
	assert.Equal(t, "plain", DisplayMessage(errors.New("plain")))
}

func TestSessionClone(t *testing.T) {
	s := &ChatSession{ID: "s1", Messages: []*Message{{ID: "m1", Sender: SenderBot}}}
	c := s.Clone()
	c.Messages[0].Text = "changed"
	c.Messages = append(c.Messages, &Message{ID: "m2", Sender: SenderUser})

	assert.Empty(t, s.Messages[0].Text)
	assert.Len(t, s.Messages, 1)
	assert.False(t, s.HasUserMessage())
	assert.True(t, c.HasUserMessage())
}
