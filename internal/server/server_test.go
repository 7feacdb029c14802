package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xaenox/medichat/internal/answer"
	"github.com/xaenox/medichat/internal/auth"
	"github.com/xaenox/medichat/internal/chat"
	"github.com/xaenox/medichat/internal/client"
	"github.com/xaenox/medichat/internal/controller"
	"github.com/xaenox/medichat/internal/models"
	"github.com/xaenox/medichat/internal/repository"
	"github.com/xaenox/medichat/internal/storage"
	"github.com/xaenox/medichat/internal/websocket"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	logger := zaptest.NewLogger(t)
	store := storage.NewMemoryStorage()
	repo := repository.New(store, logger)

	tokens, err := auth.NewTokenManager("test-secret", "medichat", time.Hour)
	require.NoError(t, err)
	authService := auth.NewService(store, tokens, logger)
	chatService := chat.NewService(repo, answer.NewOfflineAnswerer(), logger)

	return New(Config{CorsAllowedOrigins: "*"}, Deps{
		Verifier: authService,
		Auth:     controller.NewAuthController(authService),
		Profile:  controller.NewProfileController(repo),
		Chat:     controller.NewChatController(repo, chatService, websocket.NewHub(logger)),
	}, logger)
}

type envelope struct {
	Success bool            `json:"success"`
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Kind    string          `json:"kind"`
	Data    json.RawMessage `json:"data"`
}

func call(t *testing.T, s *Server, method, path, token string, body any) (int, envelope) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := s.App().Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	var env envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return resp.StatusCode, env
}

func signUp(t *testing.T, s *Server, name, email string) string {
	t.Helper()
	status, env := call(t, s, http.MethodPost, "/api/auth/v1/signup", "", map[string]string{
		"name": name, "email": email, "password": "s3cret-pass",
	})
	require.Equal(t, http.StatusCreated, status, env.Message)
	var resp struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &resp))
	return resp.Token
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t)
	status, env := call(t, s, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.True(t, env.Success)
}

func TestChatFlow(t *testing.T) {
	s := newTestServer(t)
	token := signUp(t, s, "Ann", "ann@example.com")

	status, env := call(t, s, http.MethodPost, "/api/chat/v1/sessions", token, map[string]string{"id": "s1"})
	require.Equal(t, http.StatusCreated, status, env.Message)
	var created models.ChatSession
	require.NoError(t, json.Unmarshal(env.Data, &created))
	assert.Equal(t, "s1", created.ID)
	require.Len(t, created.Messages, 1)
	assert.Equal(t, models.GreetingText, created.Messages[0].Text)

	status, env = call(t, s, http.MethodPost, "/api/chat/v1/sessions/s1/messages", token, map[string]string{
		"text": "I have a fever and chills", "context": "symptoms",
	})
	require.Equal(t, http.StatusOK, status, env.Message)
	var turn chat.TurnResult
	require.NoError(t, json.Unmarshal(env.Data, &turn))
	assert.Equal(t, "I have a fever and chills", turn.SessionName)
	assert.Contains(t, turn.BotMessage.Text, "fever")

	status, env = call(t, s, http.MethodGet, "/api/chat/v1/sessions", token, nil)
	require.Equal(t, http.StatusOK, status)
	var sessions []*models.ChatSession
	require.NoError(t, json.Unmarshal(env.Data, &sessions))
	require.Len(t, sessions, 1)
	assert.Len(t, sessions[0].Messages, 3)

	status, _ = call(t, s, http.MethodPut, "/api/chat/v1/sessions/s1", token, map[string]string{"name": "Fever"})
	require.Equal(t, http.StatusOK, status)

	status, env = call(t, s, http.MethodGet, "/api/chat/v1/sessions/s1", token, nil)
	require.Equal(t, http.StatusOK, status)
	var got models.ChatSession
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.Equal(t, "Fever", got.Name)
}

func TestErrorStatuses(t *testing.T) {
	s := newTestServer(t)
	ann := signUp(t, s, "Ann", "ann@example.com")
	bob := signUp(t, s, "Bob", "bob@example.com")

	status, _ := call(t, s, http.MethodPost, "/api/chat/v1/sessions", ann, map[string]string{"id": "s1"})
	require.Equal(t, http.StatusCreated, status)

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		body   any
		status int
		kind   string
	}{
		{"no token", http.MethodGet, "/api/chat/v1/sessions", "", nil, http.StatusUnauthorized, ""},
		{"bad token", http.MethodGet, "/api/chat/v1/sessions", "nope", nil, http.StatusUnauthorized, ""},
		{"foreign session", http.MethodGet, "/api/chat/v1/sessions/s1", bob, nil, http.StatusForbidden, "authorization"},
		{"foreign send", http.MethodPost, "/api/chat/v1/sessions/s1/messages", bob, map[string]string{"text": "hi", "context": "general_info"}, http.StatusForbidden, "authorization"},
		{"missing session", http.MethodGet, "/api/chat/v1/sessions/none", ann, nil, http.StatusNotFound, "not_found"},
		{"duplicate session", http.MethodPost, "/api/chat/v1/sessions", ann, map[string]string{"id": "s1"}, http.StatusConflict, "constraint"},
		{"unknown context", http.MethodPost, "/api/chat/v1/sessions/s1/messages", ann, map[string]string{"text": "hi", "context": "billing"}, http.StatusBadRequest, "validation"},
		{"empty text", http.MethodPost, "/api/chat/v1/sessions/s1/messages", ann, map[string]string{"text": "", "context": "symptoms"}, http.StatusBadRequest, "validation"},
		{"duplicate email", http.MethodPost, "/api/auth/v1/signup", "", map[string]string{"name": "A", "email": "ann@example.com", "password": "s3cret-pass"}, http.StatusConflict, "constraint"},
		{"wrong password", http.MethodPost, "/api/auth/v1/signin", "", map[string]string{"email": "ann@example.com", "password": "wrong-pass"}, http.StatusForbidden, "authorization"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, env := call(t, s, tt.method, tt.path, tt.token, tt.body)
			assert.Equal(t, tt.status, status, env.Message)
			assert.False(t, env.Success)
			assert.Equal(t, tt.kind, env.Kind)
		})
	}
}

func TestProfile(t *testing.T) {
	s := newTestServer(t)
	token := signUp(t, s, "Ann", "ann@example.com")

	status, _ := call(t, s, http.MethodPut, "/api/profile/v1", token, map[string]string{"name": "Ann Smith"})
	require.Equal(t, http.StatusOK, status)

	status, env := call(t, s, http.MethodGet, "/api/profile/v1", token, nil)
	require.Equal(t, http.StatusOK, status)
	var user models.User
	require.NoError(t, json.Unmarshal(env.Data, &user))
	assert.Equal(t, "Ann Smith", user.Name)
	assert.Equal(t, "ann@example.com", user.Email)
}

func TestClientCacheAgainstServer(t *testing.T) {
	s := newTestServer(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go s.Serve(ln)
	t.Cleanup(func() { s.Shutdown(context.Background()) })

	ctx := context.Background()
	api := client.NewAPIClient("http://"+ln.Addr().String(), 5*time.Second)
	_, err = api.SignUp(ctx, "Ann", "ann@example.com", "s3cret-pass")
	require.NoError(t, err)

	cache := client.NewSessionCache(api, zaptest.NewLogger(t))
	require.NoError(t, cache.Load(ctx))
	assert.Empty(t, cache.Sessions())

	session, err := cache.Create(ctx)
	require.NoError(t, err)
	require.NoError(t, cache.Send(ctx, session.ID, "What is a normal blood sugar level?", models.ContextGeneralInfo))

	got, ok := cache.Get(session.ID)
	require.True(t, ok)
	require.Len(t, got.Messages, 3)
	assert.Equal(t, models.SenderUser, got.Messages[1].Sender)
	assert.Equal(t, models.SenderBot, got.Messages[2].Sender)
	assert.Equal(t, "What is a normal blood sugar l...", got.Name)

	_, err = api.GetSession(ctx, "missing")
	assert.ErrorIs(t, err, models.ErrNotFound)

	other := client.NewAPIClient("http://"+ln.Addr().String(), 5*time.Second)
	_, err = other.SignUp(ctx, "Bob", "bob@example.com", "s3cret-pass")
	require.NoError(t, err)
	err = other.SendMessage(ctx, session.ID, "hi", models.ContextGeneralInfo)
	assert.ErrorIs(t, err, models.ErrAuthorization)
}
