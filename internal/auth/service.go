package auth

import (
	"context"
	"errors"
	"net/mail"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/xaenox/medichat/internal/models"
	"github.com/xaenox/medichat/internal/storage"
)

const minPasswordLength = 8

// Service is the local identity provider: it registers users and signs
// them in, returning a session token.
type Service struct {
	users  storage.UserStorage
	tokens *TokenManager
	logger *zap.Logger
	cost   int
}

func NewService(users storage.UserStorage, tokens *TokenManager, logger *zap.Logger) *Service {
	return &Service{
		users:  users,
		tokens: tokens,
		logger: logger,
		cost:   bcrypt.DefaultCost,
	}
}

func (s *Service) SignUp(ctx context.Context, name, email, password string) (string, *models.User, error) {
	const op = "auth.SignUp"

	addr, err := mail.ParseAddress(strings.TrimSpace(email))
	if err != nil {
		return "", nil, models.ValidationError(op, "invalid email address")
	}
	// "Ann <ann@example.com>" is stored as the bare address
	email = strings.ToLower(addr.Address)
	if len(password) < minPasswordLength {
		return "", nil, models.ValidationError(op, "password must be at least 8 characters")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return "", nil, err
	}

	user := &models.User{
		ID:    uuid.NewString(),
		Name:  strings.TrimSpace(name),
		Email: email,
	}
	if err := s.users.CreateUser(ctx, user, string(hash)); err != nil {
		if errors.Is(err, models.ErrConstraint) {
			return "", nil, models.ConstraintError(op, "email already registered", err)
		}
		return "", nil, err
	}

	token, err := s.tokens.Issue(user)
	if err != nil {
		return "", nil, err
	}

	s.logger.Info("User signed up", zap.String("user_id", user.ID))
	return token, user, nil
}

func (s *Service) SignIn(ctx context.Context, email, password string) (string, *models.User, error) {
	const op = "auth.SignIn"

	email = strings.ToLower(strings.TrimSpace(email))
	user, hash, err := s.users.GetCredentials(ctx, email)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return "", nil, models.AuthorizationError(op, "invalid email or password")
		}
		return "", nil, err
	}
	if hash == "" || bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		s.logger.Warn("Failed sign-in attempt", zap.String("user_id", user.ID))
		return "", nil, models.AuthorizationError(op, "invalid email or password")
	}

	token, err := s.tokens.Issue(user)
	if err != nil {
		return "", nil, err
	}
	return token, user, nil
}

// Verify resolves a token to the caller it was issued for.
func (s *Service) Verify(token string) (*models.Caller, error) {
	return s.tokens.Verify(token)
}
