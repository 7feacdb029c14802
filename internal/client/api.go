package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/xaenox/medichat/internal/models"
)

// APIClient talks to the MediChat HTTP API. It implements Backend.
type APIClient struct {
	baseURL    string
	httpClient *http.Client
	token      string
}

func NewAPIClient(baseURL string, timeout time.Duration) *APIClient {
	return &APIClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// AuthResponse is returned by sign-up and sign-in.
type AuthResponse struct {
	Token string       `json:"token"`
	User  *models.User `json:"user"`
}

// envelope is the JSON shape of every API response.
type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// SetToken sets the bearer token sent with every request.
func (c *APIClient) SetToken(token string) {
	c.token = token
}

func (c *APIClient) SignUp(ctx context.Context, name, email, password string) (*AuthResponse, error) {
	var resp AuthResponse
	body := map[string]string{"name": name, "email": email, "password": password}
	if err := c.do(ctx, http.MethodPost, "/api/auth/v1/signup", body, &resp); err != nil {
		return nil, err
	}
	c.token = resp.Token
	return &resp, nil
}

func (c *APIClient) SignIn(ctx context.Context, email, password string) (*AuthResponse, error) {
	var resp AuthResponse
	body := map[string]string{"email": email, "password": password}
	if err := c.do(ctx, http.MethodPost, "/api/auth/v1/signin", body, &resp); err != nil {
		return nil, err
	}
	c.token = resp.Token
	return &resp, nil
}

func (c *APIClient) ListSessions(ctx context.Context) ([]*models.ChatSession, error) {
	var sessions []*models.ChatSession
	if err := c.do(ctx, http.MethodGet, "/api/chat/v1/sessions", nil, &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

func (c *APIClient) CreateSession(ctx context.Context, sessionID string) (*models.ChatSession, error) {
	var session models.ChatSession
	if err := c.do(ctx, http.MethodPost, "/api/chat/v1/sessions", map[string]string{"id": sessionID}, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

func (c *APIClient) GetSession(ctx context.Context, sessionID string) (*models.ChatSession, error) {
	var session models.ChatSession
	if err := c.do(ctx, http.MethodGet, "/api/chat/v1/sessions/"+url.PathEscape(sessionID), nil, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

func (c *APIClient) SendMessage(ctx context.Context, sessionID, text string, qc models.QuickReplyContext) error {
	body := map[string]string{"text": text, "context": string(qc)}
	return c.do(ctx, http.MethodPost, "/api/chat/v1/sessions/"+url.PathEscape(sessionID)+"/messages", body, nil)
}

func (c *APIClient) RenameSession(ctx context.Context, sessionID, name string) error {
	return c.do(ctx, http.MethodPut, "/api/chat/v1/sessions/"+url.PathEscape(sessionID), map[string]string{"name": name}, nil)
}

func (c *APIClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("error encoding request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("error calling %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	var env envelope
	decodeErr := json.NewDecoder(resp.Body).Decode(&env)
	if resp.StatusCode >= http.StatusBadRequest {
		return statusError(method+" "+path, resp.StatusCode, env.Message)
	}
	if decodeErr != nil {
		return fmt.Errorf("error decoding response: %w", decodeErr)
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("error decoding response data: %w", err)
	}
	return nil
}

// statusError turns an API error status back into a typed error.
func statusError(op string, status int, msg string) error {
	if msg == "" {
		msg = http.StatusText(status)
	}
	switch status {
	case http.StatusBadRequest:
		return models.ValidationError(op, msg)
	case http.StatusUnauthorized, http.StatusForbidden:
		return models.AuthorizationError(op, msg)
	case http.StatusNotFound:
		return models.NotFoundError(op, msg)
	case http.StatusConflict:
		return models.ConstraintError(op, msg, nil)
	case http.StatusBadGateway, http.StatusGatewayTimeout:
		return models.ExternalServiceError(op, msg, nil)
	default:
		return fmt.Errorf("%s: %d %s", op, status, msg)
	}
}
