package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/xaenox/medichat/internal/models"
)

type memoryUser struct {
	user         models.User
	passwordHash string
}

// MemoryStorage keeps everything in maps. It mirrors the constraints of the
// SQL schema: unique email, foreign keys and cascading deletes.
type MemoryStorage struct {
	mu       sync.RWMutex
	users    map[string]*memoryUser
	emails   map[string]string
	sessions map[string]*models.ChatSession
	// message id -> session id, ids are unique across sessions
	messages map[string]string
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		users:    make(map[string]*memoryUser),
		emails:   make(map[string]string),
		sessions: make(map[string]*models.ChatSession),
		messages: make(map[string]string),
	}
}

// User methods
func (s *MemoryStorage) CreateUser(ctx context.Context, user *models.User, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[user.ID]; exists {
		return models.ConstraintError("storage.CreateUser", "user already exists", nil)
	}
	if _, exists := s.emails[user.Email]; exists {
		return models.ConstraintError("storage.CreateUser", "email already registered", nil)
	}

	s.users[user.ID] = &memoryUser{user: *user, passwordHash: passwordHash}
	s.emails[user.Email] = user.ID
	return nil
}

func (s *MemoryStorage) GetUser(ctx context.Context, id string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if u, exists := s.users[id]; exists {
		user := u.user
		return &user, nil
	}
	return nil, models.NotFoundError("storage.GetUser", "user not found")
}

func (s *MemoryStorage) GetCredentials(ctx context.Context, email string) (*models.User, string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, exists := s.emails[email]
	if !exists {
		return nil, "", models.NotFoundError("storage.GetCredentials", "user not found")
	}
	u := s.users[id]
	user := u.user
	return &user, u.passwordHash, nil
}

func (s *MemoryStorage) UpdateUserName(ctx context.Context, id, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, exists := s.users[id]
	if !exists {
		return models.NotFoundError("storage.UpdateUserName", "user not found")
	}
	u.user.Name = name
	return nil
}

func (s *MemoryStorage) DeleteUser(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, exists := s.users[id]
	if !exists {
		return models.NotFoundError("storage.DeleteUser", "user not found")
	}
	delete(s.emails, u.user.Email)
	delete(s.users, id)
	for sid, sess := range s.sessions {
		if sess.UserID == id {
			for _, m := range sess.Messages {
				delete(s.messages, m.ID)
			}
			delete(s.sessions, sid)
		}
	}
	return nil
}

// Session methods
func (s *MemoryStorage) InsertSession(ctx context.Context, session *models.ChatSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[session.UserID]; !exists {
		return models.ConstraintError("storage.InsertSession", "owner does not exist", nil)
	}
	if _, exists := s.sessions[session.ID]; exists {
		return models.ConstraintError("storage.InsertSession", "session already exists", nil)
	}

	seen := make(map[string]bool, len(session.Messages))
	for _, m := range session.Messages {
		if _, exists := s.messages[m.ID]; exists || seen[m.ID] {
			return models.ConstraintError("storage.InsertSession", "message already exists", nil)
		}
		seen[m.ID] = true
	}

	var latest time.Time
	for _, m := range session.Messages {
		m.SessionID = session.ID
		m.Timestamp = nextTimestamp(latest, m.Timestamp)
		latest = m.Timestamp
		s.messages[m.ID] = session.ID
	}
	s.sessions[session.ID] = session.Clone()
	return nil
}

func (s *MemoryStorage) GetSessionOwner(ctx context.Context, sessionID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, exists := s.sessions[sessionID]
	if !exists {
		return "", models.NotFoundError("storage.GetSessionOwner", "session not found")
	}
	return sess.UserID, nil
}

func (s *MemoryStorage) GetSession(ctx context.Context, sessionID string) (*models.ChatSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, exists := s.sessions[sessionID]
	if !exists {
		return nil, models.NotFoundError("storage.GetSession", "session not found")
	}
	return sess.Clone(), nil
}

func (s *MemoryStorage) ListSessions(ctx context.Context, userID string) ([]*models.ChatSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := []*models.ChatSession{}
	for _, sess := range s.sessions {
		if sess.UserID == userID {
			result = append(result, sess.Clone())
		}
	}
	SortByActivity(result)
	return result, nil
}

func (s *MemoryStorage) InsertMessage(ctx context.Context, msg *models.Message, activity time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, exists := s.sessions[msg.SessionID]
	if !exists {
		return models.ConstraintError("storage.InsertMessage", "session does not exist", nil)
	}
	if _, exists := s.messages[msg.ID]; exists {
		return models.ConstraintError("storage.InsertMessage", "message already exists", nil)
	}

	var latest time.Time
	if n := len(sess.Messages); n > 0 {
		latest = sess.Messages[n-1].Timestamp
	}
	msg.Timestamp = nextTimestamp(latest, msg.Timestamp)

	stored := *msg
	sess.Messages = append(sess.Messages, &stored)
	s.messages[msg.ID] = msg.SessionID
	if activity.After(sess.LastActivity) {
		sess.LastActivity = activity
	}
	return nil
}

func (s *MemoryStorage) UpdateSessionName(ctx context.Context, sessionID, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, exists := s.sessions[sessionID]
	if !exists {
		return models.NotFoundError("storage.UpdateSessionName", "session not found")
	}
	sess.Name = name
	return nil
}

func (s *MemoryStorage) Close() error {
	// Nothing to close for in-memory storage
	return nil
}

// nextTimestamp keeps a session's message timestamps strictly increasing
// in insertion order: ts is moved to just after latest when it is not
// already later.
func nextTimestamp(latest, ts time.Time) time.Time {
	if latest.IsZero() || ts.After(latest) {
		return ts
	}
	return latest.Add(time.Nanosecond)
}

// SortByActivity orders sessions by last activity, most recent first.
// Ties go to the later start time, then to the smaller id.
func SortByActivity(sessions []*models.ChatSession) {
	sort.Slice(sessions, func(i, j int) bool {
		a, b := sessions[i], sessions[j]
		if !a.LastActivity.Equal(b.LastActivity) {
			return a.LastActivity.After(b.LastActivity)
		}
		if !a.StartTime.Equal(b.StartTime) {
			return a.StartTime.After(b.StartTime)
		}
		return a.ID < b.ID
	})
}
