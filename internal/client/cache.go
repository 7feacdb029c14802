package client

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/xaenox/medichat/internal/models"
	"github.com/xaenox/medichat/internal/storage"
)

var (
	// ErrSessionBusy is returned when a send is already in flight for the session.
	ErrSessionBusy    = errors.New("session has a message in flight")
	ErrUnknownSession = errors.New("session is not cached")
)

// Backend is the server side the cache mirrors.
type Backend interface {
	ListSessions(ctx context.Context) ([]*models.ChatSession, error)
	CreateSession(ctx context.Context, sessionID string) (*models.ChatSession, error)
	GetSession(ctx context.Context, sessionID string) (*models.ChatSession, error)
	SendMessage(ctx context.Context, sessionID, text string, qc models.QuickReplyContext) error
	RenameSession(ctx context.Context, sessionID, name string) error
}

type entry struct {
	session *models.ChatSession
	// pending holds ids of messages not yet confirmed by the backend
	pending map[string]struct{}
}

// SessionCache is a local mirror of the caller's sessions. Sends are
// applied optimistically and replaced by the backend state once the
// round trip finishes.
type SessionCache struct {
	backend Backend
	entries *gocache.Cache
	logger  *zap.Logger
	now     func() time.Time

	mu   sync.Mutex
	busy map[string]bool
}

func NewSessionCache(backend Backend, logger *zap.Logger) *SessionCache {
	return &SessionCache{
		backend: backend,
		entries: gocache.New(gocache.NoExpiration, 0),
		logger:  logger,
		now:     time.Now,
		busy:    make(map[string]bool),
	}
}

// Load replaces the mirror with the backend's session list.
func (c *SessionCache) Load(ctx context.Context) error {
	sessions, err := c.backend.ListSessions(ctx)
	if err != nil {
		return fmt.Errorf("error loading sessions: %w", err)
	}
	c.entries.Flush()
	for _, s := range sessions {
		c.put(s, nil)
	}
	c.logger.Debug("Session cache loaded", zap.Int("sessions", len(sessions)))
	return nil
}

func (c *SessionCache) Create(ctx context.Context) (*models.ChatSession, error) {
	session, err := c.backend.CreateSession(ctx, uuid.NewString())
	if err != nil {
		return nil, err
	}
	c.put(session, nil)
	return session.Clone(), nil
}

// Sessions returns the cached sessions, most recent activity first.
func (c *SessionCache) Sessions() []*models.ChatSession {
	items := c.entries.Items()
	sessions := make([]*models.ChatSession, 0, len(items))
	for _, item := range items {
		sessions = append(sessions, item.Object.(*entry).session.Clone())
	}
	storage.SortByActivity(sessions)
	return sessions
}

func (c *SessionCache) Get(sessionID string) (*models.ChatSession, bool) {
	e, ok := c.get(sessionID)
	if !ok {
		return nil, false
	}
	return e.session.Clone(), true
}

// IsPending reports whether the message has been applied locally but not
// yet confirmed.
func (c *SessionCache) IsPending(sessionID, messageID string) bool {
	e, ok := c.get(sessionID)
	if !ok {
		return false
	}
	_, pending := e.pending[messageID]
	return pending
}

func (c *SessionCache) Busy(sessionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.busy[sessionID]
}

// Send applies the user message locally, sends it and then reconciles the
// session with the backend. Only one send per session may be in flight.
func (c *SessionCache) Send(ctx context.Context, sessionID, text string, qc models.QuickReplyContext) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return models.ValidationError("client.Send", "message text must not be empty")
	}
	e, ok := c.get(sessionID)
	if !ok {
		return ErrUnknownSession
	}
	if !c.acquire(sessionID) {
		return ErrSessionBusy
	}
	defer c.release(sessionID)

	now := c.now().UTC()
	optimistic := e.session.Clone()
	if !optimistic.HasUserMessage() {
		optimistic.Name = models.DeriveSessionName(text, now)
	}
	msg := &models.Message{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Text:      text,
		Sender:    models.SenderUser,
		Timestamp: now,
	}
	optimistic.Messages = append(optimistic.Messages, msg)
	if now.After(optimistic.LastActivity) {
		optimistic.LastActivity = now
	}
	pending := make(map[string]struct{}, len(e.pending)+1)
	for id := range e.pending {
		pending[id] = struct{}{}
	}
	pending[msg.ID] = struct{}{}
	c.put(optimistic, pending)

	sendErr := c.backend.SendMessage(ctx, sessionID, text, qc)
	if sendErr != nil {
		c.logger.Warn("Send failed, reconciling", zap.String("session_id", sessionID), zap.Error(sendErr))
	}

	if err := c.Refresh(ctx, sessionID); err != nil {
		return errors.Join(sendErr, err)
	}
	return sendErr
}

func (c *SessionCache) Rename(ctx context.Context, sessionID, name string) error {
	if err := c.backend.RenameSession(ctx, sessionID, name); err != nil {
		return err
	}
	return c.Refresh(ctx, sessionID)
}

// Refresh replaces the cached session with the backend's confirmed state.
func (c *SessionCache) Refresh(ctx context.Context, sessionID string) error {
	confirmed, err := c.backend.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) || errors.Is(err, models.ErrAuthorization) {
			c.entries.Delete(sessionID)
		}
		return fmt.Errorf("error refreshing session %s: %w", sessionID, err)
	}
	c.put(confirmed, nil)
	return nil
}

func (c *SessionCache) acquire(sessionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.busy[sessionID] {
		return false
	}
	c.busy[sessionID] = true
	return true
}

func (c *SessionCache) release(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.busy, sessionID)
}

func (c *SessionCache) get(sessionID string) (*entry, bool) {
	v, ok := c.entries.Get(sessionID)
	if !ok {
		return nil, false
	}
	return v.(*entry), true
}

func (c *SessionCache) put(session *models.ChatSession, pending map[string]struct{}) {
	if pending == nil {
		pending = map[string]struct{}{}
	}
	c.entries.Set(session.ID, &entry{session: session.Clone(), pending: pending}, gocache.NoExpiration)
}
