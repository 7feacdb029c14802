package client

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xaenox/medichat/internal/models"
)

var t0 = time.Date(2025, 2, 1, 8, 0, 0, 0, time.UTC)

// fakeBackend records sends and answers each with a fixed bot reply.
type fakeBackend struct {
	mu       sync.Mutex
	sessions map[string]*models.ChatSession
	clock    time.Time
	// gate, when set, blocks SendMessage until it is closed
	gate    chan struct{}
	entered chan struct{}
	sendErr error
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{sessions: make(map[string]*models.ChatSession), clock: t0}
}

func (b *fakeBackend) tick() time.Time {
	b.clock = b.clock.Add(time.Minute)
	return b.clock
}

func (b *fakeBackend) ListSessions(ctx context.Context) ([]*models.ChatSession, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := []*models.ChatSession{}
	for _, s := range b.sessions {
		out = append(out, s.Clone())
	}
	return out, nil
}

func (b *fakeBackend) CreateSession(ctx context.Context, sessionID string) (*models.ChatSession, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.tick()
	s := &models.ChatSession{
		ID: sessionID, UserID: "alice", Name: models.FallbackSessionName("New Chat", now),
		StartTime: now, LastActivity: now,
		Messages: []*models.Message{{ID: sessionID + "-g", SessionID: sessionID, Text: models.GreetingText, Sender: models.SenderBot, Timestamp: now, Avatar: true}},
	}
	b.sessions[sessionID] = s
	return s.Clone(), nil
}

func (b *fakeBackend) GetSession(ctx context.Context, sessionID string) (*models.ChatSession, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.sessions[sessionID]
	if !ok {
		return nil, models.NotFoundError("fake.GetSession", "session not found")
	}
	return s.Clone(), nil
}

func (b *fakeBackend) SendMessage(ctx context.Context, sessionID, text string, qc models.QuickReplyContext) error {
	if b.entered != nil {
		b.entered <- struct{}{}
	}
	if b.gate != nil {
		<-b.gate
	}
	if b.sendErr != nil {
		return b.sendErr
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.sessions[sessionID]
	if !s.HasUserMessage() {
		s.Name = models.DeriveSessionName(text, b.clock)
	}
	userAt := b.tick()
	botAt := b.tick()
	s.Messages = append(s.Messages,
		&models.Message{ID: "u-" + userAt.Format("1504"), SessionID: sessionID, Text: text, Sender: models.SenderUser, Timestamp: userAt},
		&models.Message{ID: "b-" + botAt.Format("1504"), SessionID: sessionID, Text: "reply to " + text, Sender: models.SenderBot, Timestamp: botAt, Avatar: true},
	)
	s.LastActivity = botAt
	return nil
}

func (b *fakeBackend) RenameSession(ctx context.Context, sessionID, name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.sessions[sessionID]
	if !ok {
		return models.NotFoundError("fake.RenameSession", "session not found")
	}
	s.Name = name
	return nil
}

func newCache(t *testing.T, backend Backend) *SessionCache {
	c := NewSessionCache(backend, zaptest.NewLogger(t))
	c.now = func() time.Time { return t0.Add(time.Hour) }
	return c
}

func TestSendReconcilesWithBackend(t *testing.T) {
	backend := newFakeBackend()
	cache := newCache(t, backend)
	ctx := context.Background()

	session, err := cache.Create(ctx)
	require.NoError(t, err)

	require.NoError(t, cache.Send(ctx, session.ID, "Is coffee bad for blood pressure?", models.ContextGeneralInfo))

	got, ok := cache.Get(session.ID)
	require.True(t, ok)
	require.Len(t, got.Messages, 3)
	assert.Equal(t, "reply to Is coffee bad for blood pressure?", got.Messages[2].Text)
	assert.Equal(t, "Is coffee bad for blood pressu...", got.Name)
	for _, m := range got.Messages {
		assert.False(t, cache.IsPending(session.ID, m.ID))
	}
	assert.False(t, cache.Busy(session.ID))
}

func TestSendIsOptimisticAndSingleFlight(t *testing.T) {
	backend := newFakeBackend()
	backend.gate = make(chan struct{})
	backend.entered = make(chan struct{}, 1)
	cache := newCache(t, backend)
	ctx := context.Background()

	session, err := cache.Create(ctx)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		done <- cache.Send(ctx, session.ID, "my knee hurts when I climb stairs", models.ContextSymptoms)
	}()
	<-backend.entered

	local, ok := cache.Get(session.ID)
	require.True(t, ok)
	require.Len(t, local.Messages, 2)
	pendingMsg := local.Messages[1]
	assert.Equal(t, models.SenderUser, pendingMsg.Sender)
	assert.True(t, cache.IsPending(session.ID, pendingMsg.ID))
	assert.Equal(t, "my knee hurts when I climb sta...", local.Name)
	assert.Equal(t, t0.Add(time.Hour), local.LastActivity)
	assert.True(t, cache.Busy(session.ID))

	err = cache.Send(ctx, session.ID, "second", models.ContextSymptoms)
	assert.ErrorIs(t, err, ErrSessionBusy)

	close(backend.gate)
	require.NoError(t, <-done)

	confirmed, ok := cache.Get(session.ID)
	require.True(t, ok)
	assert.Len(t, confirmed.Messages, 3)
	assert.False(t, cache.IsPending(session.ID, pendingMsg.ID))
}

func TestSendFailureDropsPendingMessage(t *testing.T) {
	backend := newFakeBackend()
	cache := newCache(t, backend)
	ctx := context.Background()
	session, err := cache.Create(ctx)
	require.NoError(t, err)

	backend.sendErr = errors.New("connection reset")
	err = cache.Send(ctx, session.ID, "hello", models.ContextGeneralInfo)
	assert.ErrorContains(t, err, "connection reset")

	got, ok := cache.Get(session.ID)
	require.True(t, ok)
	assert.Len(t, got.Messages, 1)
	assert.False(t, cache.Busy(session.ID))
}

func TestSessionsSortedByActivity(t *testing.T) {
	backend := newFakeBackend()
	cache := newCache(t, backend)
	ctx := context.Background()

	first, err := cache.Create(ctx)
	require.NoError(t, err)
	second, err := cache.Create(ctx)
	require.NoError(t, err)

	sessions := cache.Sessions()
	require.Len(t, sessions, 2)
	assert.Equal(t, second.ID, sessions[0].ID)

	require.NoError(t, cache.Send(ctx, first.ID, "bump", models.ContextGeneralInfo))
	sessions = cache.Sessions()
	assert.Equal(t, first.ID, sessions[0].ID)
	assert.Equal(t, second.ID, sessions[1].ID)
}

func TestLoadAndErrors(t *testing.T) {
	backend := newFakeBackend()
	ctx := context.Background()
	_, err := backend.CreateSession(ctx, "existing")
	require.NoError(t, err)

	cache := newCache(t, backend)
	require.NoError(t, cache.Load(ctx))
	_, ok := cache.Get("existing")
	assert.True(t, ok)

	assert.ErrorIs(t, cache.Send(ctx, "missing", "hi", models.ContextGeneralInfo), ErrUnknownSession)
	assert.ErrorIs(t, cache.Send(ctx, "existing", "  ", models.ContextGeneralInfo), models.ErrValidation)

	require.NoError(t, cache.Rename(ctx, "existing", "Allergies"))
	got, _ := cache.Get("existing")
	assert.Equal(t, "Allergies", got.Name)

	backend.mu.Lock()
	delete(backend.sessions, "existing")
	backend.mu.Unlock()
	assert.ErrorIs(t, cache.Refresh(ctx, "existing"), models.ErrNotFound)
	_, ok = cache.Get("existing")
	assert.False(t, ok)
}
