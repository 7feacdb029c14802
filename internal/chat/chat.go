package chat

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xaenox/medichat/internal/answer"
	"github.com/xaenox/medichat/internal/events"
	"github.com/xaenox/medichat/internal/models"
)

// Repository is the owner-scoped persistence the orchestrator runs on.
type Repository interface {
	CreateSession(ctx context.Context, ownerID string, session *models.ChatSession) error
	AppendMessage(ctx context.Context, ownerID, sessionID string, msg *models.Message) error
	RenameSession(ctx context.Context, ownerID, sessionID, name string) error
	GetSession(ctx context.Context, ownerID, sessionID string) (*models.ChatSession, error)
}

type Publisher interface {
	Publish(ctx context.Context, event events.Event) error
}

// TurnState is the position of a turn in its workflow.
type TurnState string

const (
	StateIdle                TurnState = "idle"
	StateUserMessageRecorded TurnState = "user_message_recorded"
	StateAnswerRequested     TurnState = "answer_requested"
	StateAnswerFailed        TurnState = "answer_failed"
	StateBotMessageRecorded  TurnState = "bot_message_recorded"
)

// TurnResult is what a completed turn produced.
type TurnResult struct {
	UserMessage *models.Message `json:"user_message"`
	BotMessage  *models.Message `json:"bot_message"`
	// SessionName is set when the turn named the session.
	SessionName string `json:"session_name,omitempty"`
	Failed      bool   `json:"failed"`
}

type Service struct {
	repo      Repository
	answerer  answer.Answerer
	publisher Publisher
	logger    *zap.Logger
	now       func() time.Time
	newID     func() string
}

type Option func(*Service)

// WithPublisher sends session events to p after every change.
func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithIDGenerator(newID func() string) Option {
	return func(s *Service) { s.newID = newID }
}

func NewService(repo Repository, answerer answer.Answerer, logger *zap.Logger, opts ...Option) *Service {
	s := &Service{
		repo:     repo,
		answerer: answerer,
		logger:   logger,
		now:      time.Now,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// StartSession creates a session seeded with the greeting. An empty id
// gets a generated one.
func (s *Service) StartSession(ctx context.Context, ownerID, sessionID string) (*models.ChatSession, error) {
	if sessionID == "" {
		sessionID = s.newID()
	}
	now := s.now().UTC()

	session := &models.ChatSession{
		ID:           sessionID,
		UserID:       ownerID,
		Name:         models.FallbackSessionName("New Chat", now),
		StartTime:    now,
		LastActivity: now,
		Messages: []*models.Message{{
			ID:        s.newID(),
			SessionID: sessionID,
			Text:      models.GreetingText,
			Sender:    models.SenderBot,
			Timestamp: now,
			Avatar:    true,
		}},
	}
	if err := s.repo.CreateSession(ctx, ownerID, session); err != nil {
		return nil, err
	}

	s.publish(ctx, events.Event{Type: events.SessionCreated, OwnerID: ownerID, SessionID: sessionID, Name: session.Name, At: now})
	return session, nil
}

func (s *Service) RenameSession(ctx context.Context, ownerID, sessionID, name string) error {
	if err := s.repo.RenameSession(ctx, ownerID, sessionID, name); err != nil {
		return err
	}
	s.publish(ctx, events.Event{Type: events.SessionRenamed, OwnerID: ownerID, SessionID: sessionID, Name: strings.TrimSpace(name), At: s.now().UTC()})
	return nil
}

// SendMessage runs one turn: record the user message, ask for an answer
// and record the bot reply. A failed answer becomes an apology message
// and is not returned as an error.
func (s *Service) SendMessage(ctx context.Context, ownerID, sessionID, text string, qc models.QuickReplyContext) (*TurnResult, error) {
	const op = "chat.SendMessage"

	text = strings.TrimSpace(text)
	if text == "" {
		return nil, models.ValidationError(op, "message text must not be empty")
	}
	if !qc.Valid() {
		return nil, models.ValidationError(op, fmt.Sprintf("unknown context %q", qc))
	}

	log := s.logger.With(
		zap.String("owner_id", ownerID),
		zap.String("session_id", sessionID),
		zap.String("context", string(qc)))
	state := StateIdle
	log.Debug("Turn started", zap.String("state", string(state)))

	session, err := s.repo.GetSession(ctx, ownerID, sessionID)
	if err != nil {
		return nil, err
	}
	firstUserMessage := !session.HasUserMessage()

	userMsg := &models.Message{
		ID:        s.newID(),
		SessionID: sessionID,
		Text:      text,
		Sender:    models.SenderUser,
		Timestamp: s.now().UTC(),
	}
	if err := s.repo.AppendMessage(ctx, ownerID, sessionID, userMsg); err != nil {
		return nil, err
	}
	state = StateUserMessageRecorded
	log.Debug("Turn progressed", zap.String("state", string(state)))

	// Once the question is stored the turn must end with a reply, even if
	// the caller goes away. Only the answer call sees cancellation.
	persistCtx := context.WithoutCancel(ctx)
	s.publish(persistCtx, events.Event{Type: events.MessageAppended, OwnerID: ownerID, SessionID: sessionID, Message: userMsg, At: userMsg.Timestamp})

	result := &TurnResult{UserMessage: userMsg}
	if firstUserMessage {
		name := models.DeriveSessionName(text, userMsg.Timestamp)
		if err := s.repo.RenameSession(persistCtx, ownerID, sessionID, name); err != nil {
			log.Error("Failed to name session", zap.Error(err))
		} else {
			result.SessionName = name
			s.publish(persistCtx, events.Event{Type: events.SessionRenamed, OwnerID: ownerID, SessionID: sessionID, Name: name, At: userMsg.Timestamp})
		}
	}

	state = StateAnswerRequested
	log.Debug("Turn progressed", zap.String("state", string(state)))

	var reply string
	ans, err := s.answerer.GenerateAnswer(ctx, answer.TopicFor(qc), text)
	switch {
	case err != nil:
		state = StateAnswerFailed
		log.Warn("Answer generation failed", zap.String("state", string(state)), zap.Error(err))
		reply = ApologyText(err)
		result.Failed = true
	case ans == nil || strings.TrimSpace(ans.Text) == "":
		state = StateAnswerFailed
		log.Warn("Answer generation returned nothing", zap.String("state", string(state)))
		reply = ApologyText(models.ExternalServiceError(op, "empty answer", nil))
		result.Failed = true
	default:
		reply = ans.Text
	}

	botTime := s.now().UTC()
	if !botTime.After(userMsg.Timestamp) {
		// keep the reply strictly after the question
		botTime = userMsg.Timestamp.Add(time.Nanosecond)
	}
	botMsg := &models.Message{
		ID:        s.newID(),
		SessionID: sessionID,
		Text:      reply,
		Sender:    models.SenderBot,
		Timestamp: botTime,
		Avatar:    true,
	}
	if err := s.repo.AppendMessage(persistCtx, ownerID, sessionID, botMsg); err != nil {
		return nil, err
	}
	state = StateBotMessageRecorded
	log.Debug("Turn progressed", zap.String("state", string(state)))
	s.publish(persistCtx, events.Event{Type: events.MessageAppended, OwnerID: ownerID, SessionID: sessionID, Message: botMsg, At: botTime})

	result.BotMessage = botMsg
	log.Info("Turn completed", zap.Bool("failed", result.Failed))
	return result, nil
}

// ApologyText is the bot reply used when no answer could be generated.
func ApologyText(err error) string {
	return fmt.Sprintf("I'm sorry, I encountered an error processing your request: %s. Please try again.", models.DisplayMessage(err))
}

func (s *Service) publish(ctx context.Context, event events.Event) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Warn("Failed to publish event",
			zap.String("type", string(event.Type)),
			zap.String("session_id", event.SessionID),
			zap.Error(err))
	}
}
