package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// ErrAuth marks an invalid or revoked chat token. The owning user's sync is
// suspended until they re-register; the error is never retried blindly.
var ErrAuth = errors.New("chat auth error")

// ErrTransient marks a network or server-side chat failure retried on the
// next poll tick.
var ErrTransient = errors.New("transient chat error")

// IsAuthError reports whether err means the chat token is no longer usable.
func IsAuthError(err error) bool {
	return errors.Is(err, ErrAuth)
}

// IsTransient reports whether err is a retryable chat failure.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

// Member is one entry of the workspace directory.
type Member struct {
	ChatUserID  string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
}

// Sink is the write-side chat collaborator the sync engine drives.
type Sink interface {
	SetStatus(ctx context.Context, token, text, emoji string) error
	ClearStatus(ctx context.Context, token string) error
}

// Directory lists workspace members so calendar identities can be bound to
// chat user IDs by email.
type Directory interface {
	ListDirectory(ctx context.Context, adminToken string) ([]Member, error)
}

// Client talks to the chat service's Web API. Methods take the token
// explicitly: status writes use the registered user's token, directory
// listing uses the configured admin token.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a chat client. httpClient may be nil.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{baseURL: baseURL, http: httpClient}
}

// apiResponse is the common Web API envelope.
type apiResponse struct {
	OK      bool     `json:"ok"`
	Error   string   `json:"error"`
	Members []Member `json:"members"`
}

// authErrors are API error codes that mean the token itself is bad.
var authErrors = map[string]bool{
	"invalid_auth":     true,
	"not_authed":       true,
	"token_revoked":    true,
	"account_inactive": true,
}

// SetStatus sets the user's status text and emoji (idempotent overwrite).
func (c *Client) SetStatus(ctx context.Context, token, text, emoji string) error {
	profile, _ := json.Marshal(map[string]string{
		"status_text":  text,
		"status_emoji": emoji,
	})
	_, err := c.call(ctx, token, "users.profile.set", url.Values{
		"profile": {string(profile)},
	})
	return err
}

// ClearStatus removes the user's status.
func (c *Client) ClearStatus(ctx context.Context, token string) error {
	return c.SetStatus(ctx, token, "", "")
}

// ListDirectory returns all workspace members using the service-level admin
// token.
func (c *Client) ListDirectory(ctx context.Context, adminToken string) ([]Member, error) {
	resp, err := c.call(ctx, adminToken, "users.list", url.Values{})
	if err != nil {
		return nil, err
	}
	return resp.Members, nil
}

func (c *Client) call(ctx context.Context, token, method string, form url.Values) (*apiResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/"+method, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+token)

	httpResp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	if httpResp.StatusCode >= 500 {
		return nil, fmt.Errorf("%w: chat returned %d", ErrTransient, httpResp.StatusCode)
	}

	var resp apiResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", method, err)
	}
	if !resp.OK {
		if authErrors[resp.Error] {
			return nil, fmt.Errorf("%w: %s", ErrAuth, resp.Error)
		}
		return nil, fmt.Errorf("chat %s failed: %s", method, resp.Error)
	}
	return &resp, nil
}
