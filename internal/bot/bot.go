package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/xaenox/medichat/internal/chat"
	"github.com/xaenox/medichat/internal/models"
	"github.com/xaenox/medichat/internal/storage"
)

const historyLimit = 5

const busyText = "I'm still answering your previous message. Please wait a moment."

// Sender is the part of the Telegram API the bot writes through.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

type Sessions interface {
	ListSessions(ctx context.Context, ownerID string) ([]*models.ChatSession, error)
}

type ChatService interface {
	StartSession(ctx context.Context, ownerID, sessionID string) (*models.ChatSession, error)
	RenameSession(ctx context.Context, ownerID, sessionID, name string) error
	SendMessage(ctx context.Context, ownerID, sessionID, text string, qc models.QuickReplyContext) (*chat.TurnResult, error)
}

// Bot is a Telegram front-end over the chat service. Each Telegram user
// is a MediChat user with one active session at a time.
type Bot struct {
	api      *tgbotapi.BotAPI
	sender   Sender
	users    storage.UserStorage
	sessions Sessions
	chat     ChatService
	// telegram user -> active session id
	active *gocache.Cache
	// telegram users with a turn in flight
	busy   *gocache.Cache
	logger *zap.Logger
}

func New(token string, users storage.UserStorage, sessions Sessions, chat ChatService, logger *zap.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	b := newBot(api, users, sessions, chat, logger)
	b.api = api
	return b, nil
}

func newBot(sender Sender, users storage.UserStorage, sessions Sessions, chat ChatService, logger *zap.Logger) *Bot {
	return &Bot{
		sender:   sender,
		users:    users,
		sessions: sessions,
		chat:     chat,
		active:   gocache.New(gocache.NoExpiration, 0),
		busy:     gocache.New(gocache.NoExpiration, 0),
		logger:   logger,
	}
}

// Start polls for updates until ctx is done.
func (b *Bot) Start(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)
	b.logger.Info("Telegram bot started", zap.String("username", b.api.Self.UserName))

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if update.Message == nil {
				continue
			}
			go b.handleMessage(ctx, update.Message)
		}
	}
}

func (b *Bot) handleMessage(ctx context.Context, message *tgbotapi.Message) {
	if message.From == nil {
		return
	}

	if message.IsCommand() {
		b.handleCommand(ctx, message)
		return
	}

	content := message.Text
	if message.Caption != "" {
		content = message.Caption
	}
	if strings.TrimSpace(content) == "" {
		b.sendMessage(message.Chat.ID, "Please send your question as text.")
		return
	}
	b.handleTurn(ctx, message, content, models.ContextGeneralInfo)
}

func (b *Bot) handleCommand(ctx context.Context, message *tgbotapi.Message) {
	switch message.Command() {
	case "start":
		b.handleStart(ctx, message)
	case "new":
		b.handleNew(ctx, message)
	case "help":
		b.handleHelp(message)
	case "history":
		b.handleHistory(ctx, message)
	case "rename":
		b.handleRename(ctx, message)
	case "symptoms":
		text := strings.TrimSpace(message.CommandArguments())
		if text == "" {
			b.sendMessage(message.Chat.ID, "Describe your symptoms after the command, e.g. /symptoms headache and fever since yesterday")
			return
		}
		b.handleTurn(ctx, message, text, models.ContextSymptoms)
	default:
		b.sendMessage(message.Chat.ID, "Unknown command. Use /help to see available commands.")
	}
}

func (b *Bot) handleStart(ctx context.Context, message *tgbotapi.Message) {
	ownerID, err := b.ensureUser(ctx, message.From)
	if err != nil {
		b.logger.Error("Failed to register telegram user",
			zap.Error(err),
			zap.Int64("telegram_id", message.From.ID))
		b.sendErrorMessage(message.Chat.ID, "Sorry, I couldn't set up your account. Please try again.")
		return
	}

	session, err := b.startSession(ctx, message.From.ID, ownerID)
	if err != nil {
		b.sendErrorMessage(message.Chat.ID, "Sorry, I couldn't start a conversation. Please try again.")
		return
	}
	b.sendMessage(message.Chat.ID, session.Messages[0].Text)
}

func (b *Bot) handleNew(ctx context.Context, message *tgbotapi.Message) {
	ownerID, err := b.ensureUser(ctx, message.From)
	if err != nil {
		b.sendErrorMessage(message.Chat.ID, "Sorry, I couldn't set up your account. Please try again.")
		return
	}
	session, err := b.startSession(ctx, message.From.ID, ownerID)
	if err != nil {
		b.sendErrorMessage(message.Chat.ID, "Sorry, I couldn't start a conversation. Please try again.")
		return
	}
	b.sendMessage(message.Chat.ID, fmt.Sprintf("Started %q. %s", session.Name, session.Messages[0].Text))
}

func (b *Bot) handleHelp(message *tgbotapi.Message) {
	help := `Available commands:
/start - Start the bot
/new - Start a new conversation
/history - Show your recent conversations
/rename <name> - Rename the current conversation
/symptoms <description> - Get a risk assessment for your symptoms
/help - Show this help message

Any other message is answered as a general medical question.
I provide general information only and no diagnosis.`

	b.sendMessage(message.Chat.ID, help)
}

func (b *Bot) handleHistory(ctx context.Context, message *tgbotapi.Message) {
	ownerID := OwnerID(message.From.ID)
	sessions, err := b.sessions.ListSessions(ctx, ownerID)
	if err != nil {
		b.logger.Error("Failed to list sessions",
			zap.Error(err),
			zap.String("owner_id", ownerID))
		b.sendErrorMessage(message.Chat.ID, "Sorry, I couldn't retrieve your conversations.")
		return
	}
	if len(sessions) == 0 {
		b.sendMessage(message.Chat.ID, "You don't have any conversations yet. Use /start to begin.")
		return
	}

	activeID, _ := b.activeSession(message.From.ID)
	msg := tgbotapi.NewMessage(message.Chat.ID, formatHistory(sessions, activeID, historyLimit))
	msg.ParseMode = "MarkdownV2"
	if _, err := b.sender.Send(msg); err != nil {
		b.logger.Error("Failed to send history message",
			zap.Error(err),
			zap.Int64("chat_id", message.Chat.ID))
	}
}

func (b *Bot) handleRename(ctx context.Context, message *tgbotapi.Message) {
	name := strings.TrimSpace(message.CommandArguments())
	if name == "" {
		b.sendMessage(message.Chat.ID, "Usage: /rename <new name>")
		return
	}
	sessionID, ok := b.activeSession(message.From.ID)
	if !ok {
		b.sendMessage(message.Chat.ID, "There is no active conversation. Use /new to start one.")
		return
	}

	if err := b.chat.RenameSession(ctx, OwnerID(message.From.ID), sessionID, name); err != nil {
		b.logger.Error("Failed to rename session",
			zap.Error(err),
			zap.String("session_id", sessionID))
		b.sendErrorMessage(message.Chat.ID, "Sorry, I couldn't rename the conversation.")
		return
	}
	b.sendMessage(message.Chat.ID, fmt.Sprintf("Conversation renamed to %q.", name))
}

// handleTurn sends text to the active session, opening one when needed.
func (b *Bot) handleTurn(ctx context.Context, message *tgbotapi.Message, text string, qc models.QuickReplyContext) {
	key := strconv.FormatInt(message.From.ID, 10)
	if err := b.busy.Add(key, struct{}{}, gocache.NoExpiration); err != nil {
		b.sendMessage(message.Chat.ID, busyText)
		return
	}
	defer b.busy.Delete(key)

	ownerID, err := b.ensureUser(ctx, message.From)
	if err != nil {
		b.sendErrorMessage(message.Chat.ID, "Sorry, I couldn't set up your account. Please try again.")
		return
	}

	sessionID, ok := b.activeSession(message.From.ID)
	if !ok {
		session, err := b.startSession(ctx, message.From.ID, ownerID)
		if err != nil {
			b.sendErrorMessage(message.Chat.ID, "Sorry, I couldn't start a conversation. Please try again.")
			return
		}
		sessionID = session.ID
	}

	result, err := b.chat.SendMessage(ctx, ownerID, sessionID, text, qc)
	if errors.Is(err, models.ErrNotFound) || errors.Is(err, models.ErrAuthorization) {
		b.active.Delete(strconv.FormatInt(message.From.ID, 10))
	}
	if err != nil {
		b.logger.Error("Failed to process message",
			zap.Error(err),
			zap.String("session_id", sessionID),
			zap.Int64("telegram_id", message.From.ID))
		b.sendErrorMessage(message.Chat.ID, "Sorry, I couldn't process your message. Please try again.")
		return
	}

	reply := tgbotapi.NewMessage(message.Chat.ID, result.BotMessage.Text)
	reply.ReplyToMessageID = message.MessageID
	if _, err := b.sender.Send(reply); err != nil {
		b.logger.Error("Failed to send answer",
			zap.Error(err),
			zap.Int64("chat_id", message.Chat.ID))
	}
}

// ensureUser creates the MediChat user for a Telegram account on first contact.
func (b *Bot) ensureUser(ctx context.Context, from *tgbotapi.User) (string, error) {
	ownerID := OwnerID(from.ID)
	_, err := b.users.GetUser(ctx, ownerID)
	if err == nil {
		return ownerID, nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return "", err
	}

	user := &models.User{
		ID:    ownerID,
		Name:  strings.TrimSpace(from.FirstName + " " + from.LastName),
		Email: fmt.Sprintf("%d@telegram.medichat", from.ID),
	}
	if err := b.users.CreateUser(ctx, user, ""); err != nil && !errors.Is(err, models.ErrConstraint) {
		return "", err
	}
	b.logger.Info("Telegram user registered", zap.String("owner_id", ownerID))
	return ownerID, nil
}

func (b *Bot) startSession(ctx context.Context, telegramID int64, ownerID string) (*models.ChatSession, error) {
	session, err := b.chat.StartSession(ctx, ownerID, "")
	if err != nil {
		b.logger.Error("Failed to start session",
			zap.Error(err),
			zap.String("owner_id", ownerID))
		return nil, err
	}
	b.active.Set(strconv.FormatInt(telegramID, 10), session.ID, gocache.NoExpiration)
	return session, nil
}

func (b *Bot) activeSession(telegramID int64) (string, bool) {
	v, ok := b.active.Get(strconv.FormatInt(telegramID, 10))
	if !ok {
		return "", false
	}
	return v.(string), true
}

// OwnerID is the MediChat user id of a Telegram account.
func OwnerID(telegramID int64) string {
	return "tg-" + strconv.FormatInt(telegramID, 10)
}

func formatHistory(sessions []*models.ChatSession, activeID string, limit int) string {
	if len(sessions) > limit {
		sessions = sessions[:limit]
	}
	var sb strings.Builder
	sb.WriteString("*Your recent conversations:*\n\n")
	for _, s := range sessions {
		marker := ""
		if s.ID == activeID {
			marker = " \\(current\\)"
		}
		sb.WriteString(fmt.Sprintf("*%s*%s\n", escapeMarkdown(s.Name), marker))
		sb.WriteString(fmt.Sprintf("_%s, %d messages_\n\n",
			escapeMarkdown(s.LastActivity.UTC().Format("2006-01-02 15:04")), len(s.Messages)))
	}
	return sb.String()
}

// escapeMarkdown escapes the characters reserved by MarkdownV2
func escapeMarkdown(text string) string {
	specialChars := []string{"\\", "_", "*", "[", "]", "(", ")", "~", "`", ">", "#", "+", "-", "=", "|", "{", "}", ".", "!"}
	escaped := text
	for _, char := range specialChars {
		escaped = strings.ReplaceAll(escaped, char, "\\"+char)
	}
	return escaped
}

func (b *Bot) sendMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := b.sender.Send(msg); err != nil {
		b.logger.Error("Failed to send message",
			zap.Error(err),
			zap.Int64("chat_id", chatID))
	}
}

func (b *Bot) sendErrorMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, "⚠️ "+text)
	if _, err := b.sender.Send(msg); err != nil {
		b.logger.Error("Failed to send error message",
			zap.Error(err),
			zap.Int64("chat_id", chatID))
	}
}
