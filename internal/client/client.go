// Package client is the Go API client for the auth service. It owns the
// access token for the process, carries the refresh cookie in a jar, and
// coordinates 401-triggered refreshes so that any number of concurrent
// requests sharing one expired token produce exactly one refresh call.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/authcore/backend/internal/model"
)

// ErrSessionExpired is returned when the refresh chain can no longer be
// extended. The caller must treat the session as fully logged out.
var ErrSessionExpired = errors.New("session expired")

// APIError is a non-2xx response from the service.
type APIError struct {
	StatusCode int
	Message    string
	Details    []model.FieldError
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Message)
}

const refreshPath = "/api/auth/refresh"

type Client struct {
	baseURL    string
	httpClient *http.Client
	onLogout   func()

	mu          sync.Mutex
	accessToken string

	refreshGroup singleflight.Group
}

// New builds a client for the given base URL. The supplied http.Client gets
// a cookie jar if it has none, so the refresh cookie survives rotations.
// onLogout fires once whenever the client force-logs-out; it may be nil.
func New(baseURL string, httpClient *http.Client, onLogout func()) (*Client, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, errors.New("base url is required")
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if httpClient.Jar == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("create cookie jar: %w", err)
		}
		httpClient.Jar = jar
	}
	return &Client{
		baseURL:    trimmed,
		httpClient: httpClient,
		onLogout:   onLogout,
	}, nil
}

// AccessToken returns the token currently attached to outgoing requests.
func (c *Client) AccessToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.accessToken
}

// SetAccessToken replaces the token attached to outgoing requests.
func (c *Client) SetAccessToken(token string) {
	c.mu.Lock()
	c.accessToken = token
	c.mu.Unlock()
}

// Cookies exposes the jar's cookies for the given URL.
func (c *Client) Cookies(u *url.URL) []*http.Cookie {
	return c.httpClient.Jar.Cookies(u)
}

func (c *Client) Signup(ctx context.Context, req model.SignupRequest) (*model.AuthData, error) {
	var data model.AuthData
	if err := c.doJSON(ctx, http.MethodPost, "/api/auth/signup", req, &data); err != nil {
		return nil, err
	}
	c.SetAccessToken(data.AccessToken)
	return &data, nil
}

func (c *Client) Login(ctx context.Context, email, password string) (*model.AuthData, error) {
	var data model.AuthData
	req := model.LoginRequest{Email: email, Password: password}
	if err := c.doJSON(ctx, http.MethodPost, "/api/auth/login", req, &data); err != nil {
		return nil, err
	}
	c.SetAccessToken(data.AccessToken)
	return &data, nil
}

// Refresh exchanges the refresh cookie for a new access token. Concurrent
// callers share a single in-flight exchange.
func (c *Client) Refresh(ctx context.Context) (string, error) {
	return c.refreshAccessToken(ctx)
}

// Logout revokes the session server-side, clears the local token, and
// forgets any shared refresh result so a later 401 starts from scratch.
// The server reports success even when the cookie was already gone.
func (c *Client) Logout(ctx context.Context) error {
	err := c.doJSON(ctx, http.MethodPost, "/api/auth/logout", nil, nil)
	c.SetAccessToken("")
	c.refreshGroup.Forget(refreshPath)
	return err
}

func (c *Client) Me(ctx context.Context) (*model.AuthUser, error) {
	var user model.AuthUser
	if err := c.doJSON(ctx, http.MethodGet, "/api/auth/me", nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// Do performs an authenticated request against the service. On a 401 it
// refreshes the access token (deduplicated across goroutines) and replays
// the request exactly once with the new token.
func (c *Client) Do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	resp, err := c.send(ctx, method, path, body, c.AccessToken())
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized || path == refreshPath {
		return resp, nil
	}
	resp.Body.Close()

	newToken, err := c.refreshAccessToken(ctx)
	if err != nil {
		return nil, err
	}

	// Single replay; another 401 here is surfaced as-is.
	return c.send(ctx, method, path, body, newToken)
}

// refreshAccessToken is the single-flight serialization point. The first
// caller performs the exchange; everyone arriving while it is in flight
// waits for the same result. An irrecoverable failure triggers the logout
// hook exactly once, inside the shared call.
func (c *Client) refreshAccessToken(ctx context.Context) (string, error) {
	v, err, _ := c.refreshGroup.Do(refreshPath, func() (any, error) {
		var data model.AuthData
		if err := c.doJSON(ctx, http.MethodPost, refreshPath, nil, &data); err != nil {
			c.SetAccessToken("")
			if c.onLogout != nil {
				c.onLogout()
			}
			var apiErr *APIError
			if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized {
				return nil, ErrSessionExpired
			}
			return nil, err
		}
		c.SetAccessToken(data.AccessToken)
		return data.AccessToken, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// doJSON marshals the payload, routes the request through Do so the
// 401-refresh-replay behavior lives in exactly one place, and decodes
// the enveloped response into out.
func (c *Client) doJSON(ctx context.Context, method, path string, payload, out any) error {
	var body []byte
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = encoded
	}

	resp, err := c.Do(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decodeResponse(resp, out)
}

func decodeResponse(resp *http.Response, out any) error {
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeAPIError(resp.StatusCode, payload)
	}
	if out == nil {
		return nil
	}

	var envelope struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return fmt.Errorf("decode response data: %w", err)
	}
	return nil
}

func (c *Client) send(ctx context.Context, method, path string, body []byte, bearer string) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	return resp, nil
}

func decodeAPIError(status int, payload []byte) error {
	apiErr := &APIError{StatusCode: status, Message: http.StatusText(status)}
	var parsed model.ErrorResponse
	if err := json.Unmarshal(payload, &parsed); err == nil && parsed.Error != "" {
		apiErr.Message = parsed.Error
		apiErr.Details = parsed.Details
	}
	return apiErr
}
