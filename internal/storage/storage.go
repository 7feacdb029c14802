package storage

import (
	"context"
	"time"

	"github.com/xaenox/medichat/internal/models"
)

// Storage is the durable store for users, chat sessions and messages.
// It knows nothing about ownership; that is enforced one layer up.
type Storage interface {
	UserStorage
	SessionStorage
	Close() error
}

type UserStorage interface {
	// CreateUser inserts a user. An empty passwordHash stores no credentials.
	CreateUser(ctx context.Context, user *models.User, passwordHash string) error
	GetUser(ctx context.Context, id string) (*models.User, error)
	// GetCredentials looks a user up by email and returns the stored password hash.
	GetCredentials(ctx context.Context, email string) (*models.User, string, error)
	UpdateUserName(ctx context.Context, id, name string) error
	// DeleteUser removes a user together with its sessions and messages.
	DeleteUser(ctx context.Context, id string) error
}

type SessionStorage interface {
	// InsertSession stores the session row and its seed messages in one transaction.
	// Seed timestamps are adjusted the same way InsertMessage adjusts them.
	InsertSession(ctx context.Context, session *models.ChatSession) error
	GetSessionOwner(ctx context.Context, sessionID string) (string, error)
	GetSession(ctx context.Context, sessionID string) (*models.ChatSession, error)
	// ListSessions returns the user's sessions, most recent activity first
	// (ties: later start time, then id), each with messages in insertion order.
	ListSessions(ctx context.Context, userID string) ([]*models.ChatSession, error)
	// InsertMessage stores msg and raises the session's last activity to
	// activity (never lowers it), atomically. Message ids are unique across
	// sessions. A timestamp not after the session's latest message is moved
	// to 1ns past it, and msg.Timestamp is updated to the stored value.
	InsertMessage(ctx context.Context, msg *models.Message, activity time.Time) error
	UpdateSessionName(ctx context.Context, sessionID, name string) error
}
