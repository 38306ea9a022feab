// Package telegram is a minimal Bot API client: long-polled getUpdates and sendMessage.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gravito-framework/pulsar-go/pkg/types"
)

// DefaultBaseURL is the public Bot API endpoint
const DefaultBaseURL = "https://api.telegram.org"

// requestGrace is added to the server-side wait to form the client timeout
const requestGrace = 5 * time.Second

// Client talks to the Bot API for one bot token
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option is a functional option for configuring the Client
type Option func(*Client)

// WithBaseURL points the client at another API host (tests, proxies)
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = baseURL
	}
}

// WithHTTPClient replaces the client used for sendMessage
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// NewClient creates a client for the given bot token
func NewClient(token string, opts ...Option) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.baseURL = fmt.Sprintf("%s/bot%s", c.baseURL, token)
	return c
}

type responseParameters struct {
	RetryAfter int `json:"retry_after,omitempty"`
}

type chat struct {
	ID int64 `json:"id"`
}

type message struct {
	MessageID int64  `json:"message_id"`
	Chat      *chat  `json:"chat"`
	Text      string `json:"text,omitempty"`
}

type update struct {
	UpdateID *int64   `json:"update_id"`
	Message  *message `json:"message,omitempty"`
}

// envelope is the common Bot API response wrapper
type envelope struct {
	OK          bool                `json:"ok"`
	Result      json.RawMessage     `json:"result,omitempty"`
	Description string              `json:"description,omitempty"`
	ErrorCode   int                 `json:"error_code,omitempty"`
	Parameters  *responseParameters `json:"parameters,omitempty"`
}

func (e *envelope) apiError(status int) *APIError {
	apiErr := &APIError{ErrorCode: e.ErrorCode, Description: e.Description}
	if apiErr.ErrorCode == 0 {
		apiErr.ErrorCode = status
	}
	if e.Parameters != nil {
		apiErr.RetryAfter = e.Parameters.RetryAfter
	}
	return apiErr
}

// GetUpdates long-polls for updates with id >= offset.
// The server holds the request for up to wait; the HTTP request itself is
// bounded by wait plus a grace period so a stalled connection cannot hang the poller.
func (c *Client) GetUpdates(ctx context.Context, offset int64, wait time.Duration) ([]types.InboundMessage, error) {
	body := map[string]any{
		"timeout":         int(wait / time.Second),
		"allowed_updates": []string{"message"},
	}
	if offset > 0 {
		body["offset"] = offset
	}

	client := &http.Client{
		Transport: c.httpClient.Transport,
		Timeout:   wait + requestGrace,
	}

	status, env, err := c.call(ctx, client, "getUpdates", body)
	if err != nil {
		return nil, err
	}
	if !env.OK {
		return nil, env.apiError(status)
	}

	var updates []update
	if err := json.Unmarshal(env.Result, &updates); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedUpdate, err)
	}

	msgs := make([]types.InboundMessage, 0, len(updates))
	for _, u := range updates {
		if u.UpdateID == nil {
			return nil, fmt.Errorf("%w: update without update_id", ErrMalformedUpdate)
		}
		m := types.InboundMessage{UpdateID: *u.UpdateID}
		// Non-message updates still carry an id the cursor must pass
		if u.Message != nil {
			m.Text = u.Message.Text
			if u.Message.Chat != nil {
				m.ChatID = u.Message.Chat.ID
			}
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

// SendMessage posts HTML text to a chat and returns the HTTP status code
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string) (int, error) {
	body := map[string]any{
		"chat_id":    chatID,
		"text":       text,
		"parse_mode": "HTML",
	}

	status, env, err := c.call(ctx, c.httpClient, "sendMessage", body)
	if err != nil {
		return status, err
	}
	if !env.OK {
		return status, env.apiError(status)
	}
	return status, nil
}

func (c *Client) call(ctx context.Context, client *http.Client, method string, body map[string]any) (int, *envelope, error) {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+method, bytes.NewReader(jsonBody))
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to send %s request: %w", method, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("failed to read %s response: %w", method, err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		if resp.StatusCode != http.StatusOK {
			return resp.StatusCode, nil, &APIError{ErrorCode: resp.StatusCode, Description: http.StatusText(resp.StatusCode)}
		}
		return resp.StatusCode, nil, fmt.Errorf("%w: %v", ErrMalformedUpdate, err)
	}
	return resp.StatusCode, &env, nil
}
