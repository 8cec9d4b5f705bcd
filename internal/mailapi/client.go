// Package mailapi is a client for the remote mail REST service.
//
// Reads never fail outright: folder reads degrade to an empty list and
// message reads to a nil message, with the cause kept on the result so
// callers can decide whether to show it. Writes return their errors.
package mailapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.io/infrasutra/cwmail/internal/metrics"
)

const maxErrorBody = 64 << 10

type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

func New(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		logger:     logger,
	}
}

func (c *Client) FetchFolder(ctx context.Context, token string, folder Folder) FolderResult {
	result := FolderResult{Folder: folder, Messages: []Message{}}
	if _, err := ParseFolder(string(folder)); err != nil {
		result.Err = err
		return result
	}

	var messages []Message
	if err := c.do(ctx, "fetch_folder", http.MethodGet, "/messages/"+string(folder), token, nil, &messages); err != nil {
		if !errors.Is(err, context.Canceled) {
			c.logger.Warn("fetch folder failed", "folder", folder, "error", err)
		}
		result.Err = err
		return result
	}
	if messages != nil {
		result.Messages = messages
	}
	return result
}

func (c *Client) FetchMessage(ctx context.Context, token, id string) MessageResult {
	id = strings.TrimSpace(id)
	if id == "" {
		return MessageResult{Err: &APIError{Operation: "fetch_message", StatusCode: http.StatusNotFound, Message: "empty id"}}
	}

	var raw json.RawMessage
	if err := c.do(ctx, "fetch_message", http.MethodGet, "/messages/"+url.PathEscape(id), token, nil, &raw); err != nil {
		if !errors.Is(err, context.Canceled) {
			c.logger.Warn("fetch message failed", "id", id, "error", err)
		}
		return MessageResult{Err: err}
	}

	var marker struct {
		Deleted bool `json:"deleted"`
	}
	if err := json.Unmarshal(raw, &marker); err == nil && marker.Deleted {
		var destroyed Destroyed
		_ = json.Unmarshal(raw, &destroyed)
		return MessageResult{Destroyed: &destroyed}
	}

	var message Message
	if err := json.Unmarshal(raw, &message); err != nil {
		c.logger.Warn("decode message failed", "id", id, "error", err)
		return MessageResult{Err: fmt.Errorf("decode message: %w", err)}
	}
	// A null body or a message without an id names nothing to show.
	if message.ID == "" {
		return MessageResult{Err: &APIError{Operation: "fetch_message", StatusCode: http.StatusNotFound, Message: "no message in response"}}
	}
	return MessageResult{Message: &message}
}

func (c *Client) SendMessage(ctx context.Context, token string, req SendRequest) (*Message, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	var message Message
	if err := c.do(ctx, "send_message", http.MethodPost, "/messages", token, req, &message); err != nil {
		return nil, err
	}
	return &message, nil
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenResponse struct {
	Token string `json:"token"`
}

func (c *Client) Login(ctx context.Context, email, password string) (string, error) {
	return c.exchange(ctx, "login", "/auth/login", email, password)
}

func (c *Client) Register(ctx context.Context, email, password string) (string, error) {
	return c.exchange(ctx, "register", "/auth/register", email, password)
}

func (c *Client) exchange(ctx context.Context, operation, path, email, password string) (string, error) {
	var resp tokenResponse
	if err := c.do(ctx, operation, http.MethodPost, path, "", credentials{Email: email, Password: password}, &resp); err != nil {
		return "", err
	}
	if strings.TrimSpace(resp.Token) == "" {
		return "", fmt.Errorf("%s: %w", operation, ErrEmptyToken)
	}
	return resp.Token, nil
}

// Me returns the account the token belongs to.
func (c *Client) Me(ctx context.Context, token string) (*User, error) {
	var user User
	if err := c.do(ctx, "me", http.MethodGet, "/auth/me", token, nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

func (c *Client) do(ctx context.Context, operation, method, path, token string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", operation, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("%s: create request: %w", operation, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		metrics.RecordUpstream(operation, "transport", elapsed)
		return fmt.Errorf("%s: %w", operation, err)
	}
	defer resp.Body.Close()

	c.logger.Debug("upstream request", "operation", operation, "method", method, "path", path, "status", resp.StatusCode, "duration", elapsed)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		metrics.RecordUpstream(operation, "status", elapsed)
		return newAPIError(operation, resp)
	}
	metrics.RecordUpstream(operation, "ok", elapsed)

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %w", operation, err)
	}
	return nil
}

func newAPIError(operation string, resp *http.Response) *APIError {
	apiErr := &APIError{Operation: operation, StatusCode: resp.StatusCode}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil || len(data) == 0 {
		return apiErr
	}
	var payload struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(data, &payload) == nil && payload.Error != "" {
		apiErr.Message = payload.Error
		return apiErr
	}
	apiErr.Message = strings.TrimSpace(string(data))
	return apiErr
}
