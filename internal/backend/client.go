// Package backend is the REST client for the remote messaging backend.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/matheus3301/tlk/internal/chat"
	"go.uber.org/zap"
)

// DefaultTimeout applies when Config.Timeout is zero.
const DefaultTimeout = 15 * time.Second

// maxErrorBody caps how much of a failed response is kept in a StatusError.
const maxErrorBody = 4 << 10

// ErrNoBaseURL is returned by New when no backend URL is configured.
var ErrNoBaseURL = errors.New("backend: base url not configured")

// StatusError is returned for any non-2xx response.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("backend: %s %s: %d %s", e.Method, e.Path, e.Code, http.StatusText(e.Code))
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

// IsStatus reports whether err is a StatusError with the given code.
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == code
}

// Config configures the client.
type Config struct {
	URL     string
	Token   string
	Timeout time.Duration
}

// Client talks to the backend with a bearer token. It is safe for concurrent use.
type Client struct {
	base   string
	token  string
	http   *http.Client
	logger *zap.Logger
}

// New creates a client for cfg.URL.
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.URL == "" {
		return nil, ErrNoBaseURL
	}
	u, err := url.Parse(cfg.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("backend: invalid url %q", cfg.URL)
	}
	// A base that already ends in /api is accepted and trimmed.
	base := strings.TrimSuffix(strings.TrimRight(cfg.URL, "/"), "/api")
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		base:   base,
		token:  cfg.Token,
		http:   &http.Client{Timeout: timeout},
		logger: logger,
	}, nil
}

// Me returns the profile of the authenticated user.
func (c *Client) Me(ctx context.Context) (chat.Profile, error) {
	var p chat.Profile
	err := c.do(ctx, http.MethodGet, "/api/users/me", nil, &p)
	return p, err
}

// ListConversations returns the user's conversations.
func (c *Client) ListConversations(ctx context.Context) ([]chat.Conversation, error) {
	var convs []chat.Conversation
	if err := c.do(ctx, http.MethodGet, "/api/messages/conversations", nil, &convs); err != nil {
		return nil, err
	}
	return convs, nil
}

// StartConversation opens (or finds) the conversation with recipientID.
func (c *Client) StartConversation(ctx context.Context, recipientID string) (chat.Conversation, error) {
	body := struct {
		RecipientID string `json:"recipientId"`
	}{recipientID}
	// Some deployments wrap the conversation in a data envelope.
	var resp struct {
		chat.Conversation
		Data *chat.Conversation `json:"data"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/messages/start", body, &resp); err != nil {
		return chat.Conversation{}, err
	}
	if resp.ID == "" && resp.Data != nil {
		return *resp.Data, nil
	}
	return resp.Conversation, nil
}

// Messages returns the history of a conversation, oldest first.
func (c *Client) Messages(ctx context.Context, conversationID string) ([]chat.Message, error) {
	var msgs []chat.Message
	if err := c.do(ctx, http.MethodGet, "/api/messages/"+url.PathEscape(conversationID), nil, &msgs); err != nil {
		return nil, err
	}
	for i := range msgs {
		if msgs[i].ConversationID == "" {
			msgs[i].ConversationID = conversationID
		}
	}
	return msgs, nil
}

// SendMessage posts a draft and returns the stored message.
func (c *Client) SendMessage(ctx context.Context, d chat.Draft) (chat.Message, error) {
	kind := d.Kind
	if kind == "" {
		kind = chat.KindText
	}
	body := struct {
		ConversationID string    `json:"conversationId"`
		Content        string    `json:"content"`
		Kind           chat.Kind `json:"type"`
		MediaURL       string    `json:"mediaUrl,omitempty"`
	}{d.ConversationID, d.Content, kind, d.MediaURL}

	var m chat.Message
	if err := c.do(ctx, http.MethodPost, "/api/messages", body, &m); err != nil {
		return chat.Message{}, err
	}
	if m.ID.IsZero() {
		return chat.Message{}, fmt.Errorf("backend: send message: response has no id")
	}
	if m.ConversationID == "" {
		m.ConversationID = d.ConversationID
	}
	return m, nil
}

// MarkRead acknowledges that the conversation has been read.
func (c *Client) MarkRead(ctx context.Context, conversationID string) error {
	return c.do(ctx, http.MethodPost, "/api/messages/"+url.PathEscape(conversationID)+"/read", struct{}{}, nil)
}

// SendSignal relays a call signal to targetID.
func (c *Client) SendSignal(ctx context.Context, targetID, signalType string, payload any) error {
	body := struct {
		TargetID string `json:"targetId"`
		Type     string `json:"type"`
		Payload  any    `json:"payload"`
	}{targetID, signalType, payload}
	return c.do(ctx, http.MethodPost, "/api/calls/signal", body, nil)
}

// RealtimeToken fetches a token for the push service. The response is either
// a JSON object with a token field or a bare JSON string.
func (c *Client) RealtimeToken(ctx context.Context) (string, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/api/messages/auth/token", nil, &raw); err != nil {
		return "", err
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil && s != "" {
		return s, nil
	}
	var obj struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return "", fmt.Errorf("backend: decode realtime token: %w", err)
	}
	if obj.Token == "" {
		return "", fmt.Errorf("backend: realtime token response has no token")
	}
	return obj.Token, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("backend: encode %s %s: %w", method, path, err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return fmt.Errorf("backend: build %s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("backend: %s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	c.logger.Debug("backend request",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("took", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{Method: method, Path: path, Code: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("backend: decode %s %s: %w", method, path, err)
	}
	return nil
}
