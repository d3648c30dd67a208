package accounts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

var ErrInvalidToken = errors.New("invalid token")

// Client talks to the account service's internal HTTP API. It is the only
// place the messaging service learns about user identity: token validation,
// user existence, and online-status writes.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient constructs a Client for the given base URL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// ValidateToken resolves a bearer token to a user id.
func (c *Client) ValidateToken(ctx context.Context, token string) (string, error) {
	var resp struct {
		UserID string `json:"user_id"`
	}
	err := c.post(ctx, "/internal/auth/validate", map[string]string{"token": token}, &resp)
	var status *statusError
	if errors.As(err, &status) && status.code == http.StatusUnauthorized {
		return "", ErrInvalidToken
	}
	if err != nil {
		return "", err
	}
	if resp.UserID == "" {
		return "", ErrInvalidToken
	}
	return resp.UserID, nil
}

// UsersExist reports whether every id resolves to a real account.
func (c *Client) UsersExist(ctx context.Context, userIDs []string) (bool, error) {
	if len(userIDs) == 0 {
		return true, nil
	}
	var resp struct {
		Missing []string `json:"missing"`
	}
	if err := c.post(ctx, "/internal/users/exist", map[string]any{"ids": userIDs}, &resp); err != nil {
		return false, err
	}
	return len(resp.Missing) == 0, nil
}

// SetOnline records that the user is connected.
func (c *Client) SetOnline(ctx context.Context, userID string) error {
	return c.post(ctx, "/internal/users/"+userID+"/status", map[string]any{
		"online_status": "online",
		"last_seen":     time.Now().UTC(),
	}, nil)
}

// SetOffline records the user's disconnect and last-seen timestamp.
func (c *Client) SetOffline(ctx context.Context, userID string, lastSeen time.Time) error {
	return c.post(ctx, "/internal/users/"+userID+"/status", map[string]any{
		"online_status": "offline",
		"last_seen":     lastSeen.UTC(),
	}, nil)
}

type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("account service returned status %d", e.code)
}

func (c *Client) post(ctx context.Context, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("account service request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &statusError{code: resp.StatusCode}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
