// Package backend is the REST client for the CRM backend.
package backend

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

	"go.uber.org/zap"

	"github.com/matheus3301/wacrm/internal/wire"
)

// HTTPError is returned for any non-2xx response.
type HTTPError struct {
	Method string
	Path   string
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s %s: http %d", e.Method, e.Path, e.Status)
	}
	return fmt.Sprintf("%s %s: http %d: %s", e.Method, e.Path, e.Status, e.Body)
}

// SendRejectedError is returned when the backend answers a send with
// success=false.
type SendRejectedError struct {
	Reason string
}

func (e *SendRejectedError) Error() string {
	if e.Reason == "" {
		return "send rejected by backend"
	}
	return "send rejected by backend: " + e.Reason
}

// Operator identifies who is sending, for attribution on the backend.
type Operator struct {
	ID    string
	Name  string
	Email string
}

// Client talks to the CRM REST API.
type Client struct {
	base     *url.URL
	http     *http.Client
	operator Operator
	log      *zap.Logger
}

// New creates a client for the API rooted at baseURL.
func New(baseURL string, timeout time.Duration, op Operator, log *zap.Logger) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse api url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("api url %q: scheme must be http or https", baseURL)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		base:     u,
		http:     &http.Client{Timeout: timeout},
		operator: op,
		log:      log,
	}, nil
}

// ListChats fetches the conversation list.
func (c *Client) ListChats(ctx context.Context) ([]wire.Chat, error) {
	var chats []wire.Chat
	if err := c.do(ctx, http.MethodGet, "/api/chats", nil, &chats); err != nil {
		return nil, err
	}
	return chats, nil
}

// ListMessages fetches the message history of one conversation.
func (c *Client) ListMessages(ctx context.Context, phone string) ([]wire.Message, error) {
	var list wire.MessageList
	if err := c.do(ctx, http.MethodGet, "/api/messages/"+url.PathEscape(phone), nil, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// SendMessage submits an outbound message. tempID is echoed back by the
// backend so the caller can correlate the confirmation.
func (c *Client) SendMessage(ctx context.Context, phone, body, tempID string) (*wire.SendResponse, error) {
	req := wire.SendRequest{
		Phone:     phone,
		Message:   body,
		TempID:    tempID,
		UserID:    c.operator.ID,
		UserName:  c.operator.Name,
		UserEmail: c.operator.Email,
	}
	var resp wire.SendResponse
	if err := c.do(ctx, http.MethodPost, "/api/send-message", req, &resp); err != nil {
		return nil, err
	}
	if resp.Rejected() {
		return nil, &SendRejectedError{Reason: resp.Error}
	}
	return &resp, nil
}

// UpdateStatus changes the status tag of a conversation.
func (c *Client) UpdateStatus(ctx context.Context, phone, status string) error {
	return c.do(ctx, http.MethodPost, "/api/update-status", wire.UpdateStatusRequest{Phone: phone, Status: status}, nil)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s: %w", path, err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	c.log.Debug("api request",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("took", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &HTTPError{Method: method, Path: path, Status: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
