package repository

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/xaenox/medichat/internal/models"
	"github.com/xaenox/medichat/internal/storage"
)

// SessionRepository scopes every read and write to the session owner.
type SessionRepository struct {
	store  storage.Storage
	logger *zap.Logger
}

func New(store storage.Storage, logger *zap.Logger) *SessionRepository {
	return &SessionRepository{
		store:  store,
		logger: logger,
	}
}

// ListSessions returns the owner's sessions, most recently active first.
// An empty owner id yields an empty list.
func (r *SessionRepository) ListSessions(ctx context.Context, ownerID string) ([]*models.ChatSession, error) {
	if ownerID == "" {
		return []*models.ChatSession{}, nil
	}
	sessions, err := r.store.ListSessions(ctx, ownerID)
	if err != nil {
		r.logger.Error("Failed to list sessions", zap.String("owner_id", ownerID), zap.Error(err))
		return nil, err
	}
	return sessions, nil
}

// CreateSession persists a new session together with its seed messages.
func (r *SessionRepository) CreateSession(ctx context.Context, ownerID string, session *models.ChatSession) error {
	const op = "repository.CreateSession"
	if ownerID == "" {
		return models.AuthorizationError(op, "caller is not authenticated")
	}
	if session == nil || session.ID == "" {
		return models.ValidationError(op, "session id is required")
	}
	if len(session.Messages) == 0 {
		return models.ValidationError(op, "session needs at least one seed message")
	}
	for _, msg := range session.Messages {
		if err := validateMessage(op, msg); err != nil {
			return err
		}
		if msg.SessionID != session.ID {
			return models.ValidationError(op, "seed message belongs to another session")
		}
	}

	session.UserID = ownerID
	if err := r.store.InsertSession(ctx, session); err != nil {
		r.logger.Warn("Failed to create session",
			zap.String("owner_id", ownerID),
			zap.String("session_id", session.ID),
			zap.Error(err))
		return err
	}

	r.logger.Info("Session created",
		zap.String("owner_id", ownerID),
		zap.String("session_id", session.ID))
	return nil
}

// AppendMessage stores msg in the session and raises the session's last
// activity to the message timestamp.
func (r *SessionRepository) AppendMessage(ctx context.Context, ownerID, sessionID string, msg *models.Message) error {
	const op = "repository.AppendMessage"
	if err := validateMessage(op, msg); err != nil {
		return err
	}
	if err := r.authorize(ctx, op, ownerID, sessionID); err != nil {
		return err
	}

	msg.SessionID = sessionID
	if err := r.store.InsertMessage(ctx, msg, msg.Timestamp); err != nil {
		r.logger.Error("Failed to append message",
			zap.String("session_id", sessionID),
			zap.String("message_id", msg.ID),
			zap.Error(err))
		return err
	}

	r.logger.Debug("Message appended",
		zap.String("session_id", sessionID),
		zap.String("sender", string(msg.Sender)))
	return nil
}

func (r *SessionRepository) RenameSession(ctx context.Context, ownerID, sessionID, name string) error {
	const op = "repository.RenameSession"
	name = strings.TrimSpace(name)
	if name == "" {
		return models.ValidationError(op, "session name must not be empty")
	}
	if err := r.authorize(ctx, op, ownerID, sessionID); err != nil {
		return err
	}
	return r.store.UpdateSessionName(ctx, sessionID, name)
}

func (r *SessionRepository) GetSession(ctx context.Context, ownerID, sessionID string) (*models.ChatSession, error) {
	if err := r.authorize(ctx, "repository.GetSession", ownerID, sessionID); err != nil {
		return nil, err
	}
	return r.store.GetSession(ctx, sessionID)
}

// GetProfile returns nil without error when the owner has no user row.
func (r *SessionRepository) GetProfile(ctx context.Context, ownerID string) (*models.User, error) {
	if ownerID == "" {
		return nil, nil
	}
	user, err := r.store.GetUser(ctx, ownerID)
	if errors.Is(err, models.ErrNotFound) {
		return nil, nil
	}
	return user, err
}

func (r *SessionRepository) UpdateProfileName(ctx context.Context, ownerID, name string) error {
	const op = "repository.UpdateProfileName"
	if ownerID == "" {
		return models.AuthorizationError(op, "caller is not authenticated")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return models.ValidationError(op, "name must not be empty")
	}
	return r.store.UpdateUserName(ctx, ownerID, name)
}

// authorize compares the stored owner of the session with the caller.
func (r *SessionRepository) authorize(ctx context.Context, op, ownerID, sessionID string) error {
	if ownerID == "" {
		return models.AuthorizationError(op, "caller is not authenticated")
	}
	if sessionID == "" {
		return models.ValidationError(op, "session id is required")
	}
	owner, err := r.store.GetSessionOwner(ctx, sessionID)
	if err != nil {
		return err
	}
	if owner != ownerID {
		r.logger.Warn("Session ownership mismatch",
			zap.String("op", op),
			zap.String("caller_id", ownerID),
			zap.String("session_id", sessionID))
		return models.AuthorizationError(op, "session belongs to another user")
	}
	return nil
}

func validateMessage(op string, msg *models.Message) error {
	switch {
	case msg == nil:
		return models.ValidationError(op, "message is required")
	case msg.ID == "":
		return models.ValidationError(op, "message id is required")
	case !msg.Sender.Valid():
		return models.ValidationError(op, "unknown message sender")
	case msg.Timestamp.IsZero():
		return models.ValidationError(op, "message timestamp is required")
	}
	return nil
}
