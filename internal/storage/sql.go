package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/xaenox/medichat/internal/models"
)

//go:embed migrations.sql
var migrations embed.FS

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type DatabaseConfig struct {
	Driver   string
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	// Path is the database file for the sqlite driver.
	Path string
}

// DSN builds the driver specific connection string.
func (c DatabaseConfig) DSN() string {
	if c.Driver == DriverSQLite {
		return fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", c.Path)
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

// SQLStorage implements Storage over PostgreSQL or SQLite.
type SQLStorage struct {
	db     *sqlx.DB
	driver string
	logger *zap.Logger
}

type userRow struct {
	ID    string `db:"id"`
	Name  string `db:"name"`
	Email string `db:"email"`
}

type credentialsRow struct {
	userRow
	PasswordHash sql.NullString `db:"password_hash"`
}

type sessionRow struct {
	ID           string `db:"id"`
	UserID       string `db:"user_id"`
	Name         string `db:"name"`
	StartTime    string `db:"start_time"`
	LastActivity string `db:"last_activity"`
}

type messageRow struct {
	ID        string `db:"id"`
	SessionID string `db:"session_id"`
	Text      string `db:"text"`
	Sender    string `db:"sender"`
	Timestamp string `db:"timestamp"`
	Avatar    bool   `db:"avatar"`
}

type lastMessageRow struct {
	Position  int64  `db:"position"`
	Timestamp string `db:"timestamp"`
}

func NewSQLStorage(config DatabaseConfig, logger *zap.Logger) (*SQLStorage, error) {
	driver := config.Driver
	if driver == "" {
		driver = DriverPostgres
	}
	config.Driver = driver

	db, err := sqlx.Open(driver, config.DSN())
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}
	if driver == DriverSQLite {
		// a single connection serializes writers and keeps pragmas in effect
		db.SetMaxOpenConns(1)
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("error connecting to the database: %w", err)
	}

	storage := &SQLStorage{db: db, driver: driver, logger: logger}

	// Initialize database schema
	if err := storage.initializeSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("error initializing database schema: %w", err)
	}

	logger.Info("Database ready", zap.String("driver", driver))
	return storage, nil
}

func (s *SQLStorage) initializeSchema() error {
	migrationSQL, err := migrations.ReadFile("migrations.sql")
	if err != nil {
		return fmt.Errorf("error reading migrations file: %w", err)
	}

	for _, stmt := range strings.Split(string(migrationSQL), ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("error executing migration %q: %w", strings.TrimSpace(stmt), err)
		}
	}
	return nil
}

func (s *SQLStorage) q(query string) string {
	return s.db.Rebind(query)
}

func (s *SQLStorage) CreateUser(ctx context.Context, user *models.User, passwordHash string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("error starting transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, s.q(`INSERT INTO users (id, name, email) VALUES (?, ?, ?)`),
		user.ID, user.Name, user.Email)
	if err != nil {
		return mapError("storage.CreateUser", "error creating user", err)
	}

	if passwordHash != "" {
		_, err = tx.ExecContext(ctx, s.q(`INSERT INTO user_credentials (user_id, password_hash) VALUES (?, ?)`),
			user.ID, passwordHash)
		if err != nil {
			return mapError("storage.CreateUser", "error storing credentials", err)
		}
	}

	return tx.Commit()
}

func (s *SQLStorage) GetUser(ctx context.Context, id string) (*models.User, error) {
	var row userRow
	err := s.db.GetContext(ctx, &row, s.q(`SELECT id, name, email FROM users WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.NotFoundError("storage.GetUser", "user not found")
	}
	if err != nil {
		return nil, fmt.Errorf("error querying user: %w", err)
	}
	return row.toModel(), nil
}

func (s *SQLStorage) GetCredentials(ctx context.Context, email string) (*models.User, string, error) {
	var row credentialsRow
	err := s.db.GetContext(ctx, &row, s.q(`
		SELECT u.id, u.name, u.email, c.password_hash
		FROM users u
		LEFT JOIN user_credentials c ON c.user_id = u.id
		WHERE u.email = ?`), email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, "", models.NotFoundError("storage.GetCredentials", "user not found")
	}
	if err != nil {
		return nil, "", fmt.Errorf("error querying credentials: %w", err)
	}
	return row.userRow.toModel(), row.PasswordHash.String, nil
}

func (s *SQLStorage) UpdateUserName(ctx context.Context, id, name string) error {
	result, err := s.db.ExecContext(ctx, s.q(`UPDATE users SET name = ? WHERE id = ?`), name, id)
	if err != nil {
		return fmt.Errorf("error updating user name: %w", err)
	}
	return expectRow(result, "storage.UpdateUserName", "user not found")
}

func (s *SQLStorage) DeleteUser(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, s.q(`DELETE FROM users WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("error deleting user: %w", err)
	}
	return expectRow(result, "storage.DeleteUser", "user not found")
}

func (s *SQLStorage) InsertSession(ctx context.Context, session *models.ChatSession) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("error starting transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, s.q(`
		INSERT INTO chat_sessions (id, user_id, name, start_time, last_activity)
		VALUES (?, ?, ?, ?, ?)`),
		session.ID, session.UserID, session.Name,
		models.FormatTime(session.StartTime), models.FormatTime(session.LastActivity))
	if err != nil {
		return mapError("storage.InsertSession", "error creating session", err)
	}

	for _, msg := range session.Messages {
		msg.SessionID = session.ID
		if err := s.insertMessage(ctx, tx, msg); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("error committing session: %w", err)
	}

	s.logger.Debug("Session inserted",
		zap.String("session_id", session.ID),
		zap.Int("messages", len(session.Messages)))
	return nil
}

func (s *SQLStorage) GetSessionOwner(ctx context.Context, sessionID string) (string, error) {
	var owner string
	err := s.db.GetContext(ctx, &owner, s.q(`SELECT user_id FROM chat_sessions WHERE id = ?`), sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", models.NotFoundError("storage.GetSessionOwner", "session not found")
	}
	if err != nil {
		return "", fmt.Errorf("error querying session owner: %w", err)
	}
	return owner, nil
}

func (s *SQLStorage) GetSession(ctx context.Context, sessionID string) (*models.ChatSession, error) {
	var row sessionRow
	err := s.db.GetContext(ctx, &row, s.q(`
		SELECT id, user_id, name, start_time, last_activity
		FROM chat_sessions
		WHERE id = ?`), sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.NotFoundError("storage.GetSession", "session not found")
	}
	if err != nil {
		return nil, fmt.Errorf("error querying session: %w", err)
	}

	var msgRows []messageRow
	err = s.db.SelectContext(ctx, &msgRows, s.q(`
		SELECT id, session_id, text, sender, timestamp, avatar
		FROM messages
		WHERE session_id = ?
		ORDER BY position ASC`), sessionID)
	if err != nil {
		return nil, fmt.Errorf("error querying messages: %w", err)
	}

	session, err := row.toModel()
	if err != nil {
		return nil, err
	}
	for _, mr := range msgRows {
		msg, err := mr.toModel()
		if err != nil {
			return nil, err
		}
		session.Messages = append(session.Messages, msg)
	}
	return session, nil
}

func (s *SQLStorage) ListSessions(ctx context.Context, userID string) ([]*models.ChatSession, error) {
	var rows []sessionRow
	err := s.db.SelectContext(ctx, &rows, s.q(`
		SELECT id, user_id, name, start_time, last_activity
		FROM chat_sessions
		WHERE user_id = ?
		ORDER BY last_activity DESC, start_time DESC, id ASC`), userID)
	if err != nil {
		return nil, fmt.Errorf("error querying sessions: %w", err)
	}

	var msgRows []messageRow
	err = s.db.SelectContext(ctx, &msgRows, s.q(`
		SELECT m.id, m.session_id, m.text, m.sender, m.timestamp, m.avatar
		FROM messages m
		JOIN chat_sessions cs ON cs.id = m.session_id
		WHERE cs.user_id = ?
		ORDER BY m.session_id, m.position ASC`), userID)
	if err != nil {
		return nil, fmt.Errorf("error querying messages: %w", err)
	}

	sessions := make([]*models.ChatSession, 0, len(rows))
	byID := make(map[string]*models.ChatSession, len(rows))
	for _, row := range rows {
		session, err := row.toModel()
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
		byID[session.ID] = session
	}
	for _, mr := range msgRows {
		msg, err := mr.toModel()
		if err != nil {
			return nil, err
		}
		if session, ok := byID[msg.SessionID]; ok {
			session.Messages = append(session.Messages, msg)
		}
	}

	s.logger.Debug("Sessions listed",
		zap.String("user_id", userID),
		zap.Int("count", len(sessions)))
	return sessions, nil
}

func (s *SQLStorage) InsertMessage(ctx context.Context, msg *models.Message, activity time.Time) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("error starting transaction: %w", err)
	}
	defer tx.Rollback()

	if s.driver == DriverPostgres {
		// serializes appends to one session; sqlite already has a single writer
		_, err = tx.ExecContext(ctx, s.q(`SELECT id FROM chat_sessions WHERE id = ? FOR UPDATE`), msg.SessionID)
		if err != nil {
			return fmt.Errorf("error locking session: %w", err)
		}
	}

	if err := s.insertMessage(ctx, tx, msg); err != nil {
		return err
	}

	at := models.FormatTime(activity)
	_, err = tx.ExecContext(ctx, s.q(`
		UPDATE chat_sessions
		SET last_activity = ?
		WHERE id = ? AND last_activity < ?`),
		at, msg.SessionID, at)
	if err != nil {
		return fmt.Errorf("error updating last activity: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("error committing message: %w", err)
	}
	return nil
}

// insertMessage appends msg after the session's last message, moving its
// timestamp forward when needed so timestamp order stays insertion order.
func (s *SQLStorage) insertMessage(ctx context.Context, tx *sqlx.Tx, msg *models.Message) error {
	var last lastMessageRow
	err := tx.GetContext(ctx, &last, s.q(`
		SELECT position, timestamp
		FROM messages
		WHERE session_id = ?
		ORDER BY position DESC
		LIMIT 1`), msg.SessionID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("error querying last message: %w", err)
	}

	var latest time.Time
	if last.Timestamp != "" {
		if latest, err = models.ParseTime(last.Timestamp); err != nil {
			return fmt.Errorf("error parsing timestamp of last message: %w", err)
		}
	}
	msg.Timestamp = nextTimestamp(latest, msg.Timestamp)

	_, err = tx.ExecContext(ctx, s.q(`
		INSERT INTO messages (id, session_id, text, sender, timestamp, avatar, position)
		VALUES (?, ?, ?, ?, ?, ?, ?)`),
		msg.ID, msg.SessionID, msg.Text, string(msg.Sender), models.FormatTime(msg.Timestamp), msg.Avatar, last.Position+1)
	if err != nil {
		return mapError("storage.InsertMessage", "error creating message", err)
	}
	return nil
}

func (s *SQLStorage) UpdateSessionName(ctx context.Context, sessionID, name string) error {
	result, err := s.db.ExecContext(ctx, s.q(`UPDATE chat_sessions SET name = ? WHERE id = ?`), name, sessionID)
	if err != nil {
		return fmt.Errorf("error updating session name: %w", err)
	}
	return expectRow(result, "storage.UpdateSessionName", "session not found")
}

func (s *SQLStorage) Close() error {
	return s.db.Close()
}

func (r userRow) toModel() *models.User {
	return &models.User{ID: r.ID, Name: r.Name, Email: r.Email}
}

func (r sessionRow) toModel() (*models.ChatSession, error) {
	start, err := models.ParseTime(r.StartTime)
	if err != nil {
		return nil, fmt.Errorf("error parsing start time of session %s: %w", r.ID, err)
	}
	last, err := models.ParseTime(r.LastActivity)
	if err != nil {
		return nil, fmt.Errorf("error parsing last activity of session %s: %w", r.ID, err)
	}
	return &models.ChatSession{
		ID:           r.ID,
		UserID:       r.UserID,
		Name:         r.Name,
		StartTime:    start,
		LastActivity: last,
		Messages:     []*models.Message{},
	}, nil
}

func (r messageRow) toModel() (*models.Message, error) {
	ts, err := models.ParseTime(r.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("error parsing timestamp of message %s: %w", r.ID, err)
	}
	return &models.Message{
		ID:        r.ID,
		SessionID: r.SessionID,
		Text:      r.Text,
		Sender:    models.Sender(r.Sender),
		Timestamp: ts,
		Avatar:    r.Avatar,
	}, nil
}

func expectRow(result sql.Result, op, msg string) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("error getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return models.NotFoundError(op, msg)
	}
	return nil
}

// mapError turns unique and foreign key violations into constraint errors.
func mapError(op, msg string, err error) error {
	if isConstraintViolation(err) {
		return models.ConstraintError(op, msg, err)
	}
	return fmt.Errorf("%s: %w", msg, err)
}

func isConstraintViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code.Class() == "23"
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code()&0xff == sqlite3.SQLITE_CONSTRAINT
	}
	return false
}
