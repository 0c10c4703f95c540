package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/room4-2/aiticulate/apperr"
	"github.com/room4-2/aiticulate/messages"
)

// FieldErrors is the backend's validation answer to a registration,
// keyed by field name ("username", "email", "password", "error").
type FieldErrors map[string]string

func (fe FieldErrors) Error() string {
	keys := make([]string, 0, len(fe))
	for k := range fe {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+fe[k])
	}
	return "registration rejected: " + strings.Join(parts, "; ")
}

// Register creates an account and returns its token
func (c *Client) Register(ctx context.Context, r messages.RegisterRequest) (*messages.AuthResponse, error) {
	var out messages.AuthResponse
	err := c.do(ctx, http.MethodPost, "/auth/register/", r, &out)
	if err == nil {
		return &out, nil
	}

	var se *apperr.StatusError
	if errors.As(err, &se) && se.Status == http.StatusBadRequest {
		if fe := parseFieldErrors(se.Body); len(fe) > 0 {
			return nil, fe
		}
	}
	return nil, fmt.Errorf("register: %w", err)
}

// Login exchanges credentials for a token
func (c *Client) Login(ctx context.Context, username, password string) (string, error) {
	var out messages.AuthResponse
	if err := c.do(ctx, http.MethodPost, "/auth/token/", messages.LoginRequest{Username: username, Password: password}, &out); err != nil {
		return "", fmt.Errorf("login: %w", err)
	}
	if out.Token == "" {
		return "", fmt.Errorf("login: empty token in response")
	}
	return out.Token, nil
}

// CurrentUser returns the user owning the current token
func (c *Client) CurrentUser(ctx context.Context) (*messages.User, error) {
	if c.tokens == nil || c.tokens.Token() == "" {
		return nil, apperr.ErrUnauthorized
	}
	var out messages.User
	if err := c.do(ctx, http.MethodGet, "/auth/user/", nil, &out); err != nil {
		return nil, fmt.Errorf("fetch user: %w", err)
	}
	return &out, nil
}

// Logout invalidates the token on the backend
func (c *Client) Logout(ctx context.Context) error {
	if err := c.do(ctx, http.MethodPost, "/auth/logout/", nil, nil); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	return nil
}

// parseFieldErrors accepts both {"field": "msg"} and {"field": ["msg", ...]}
func parseFieldErrors(body string) FieldErrors {
	var raw map[string]any
	if err := json.UnmarshalFromString(body, &raw); err != nil {
		return nil
	}
	fe := FieldErrors{}
	for k, v := range raw {
		switch val := v.(type) {
		case string:
			fe[k] = val
		case []any:
			var msgs []string
			for _, m := range val {
				if s, ok := m.(string); ok {
					msgs = append(msgs, s)
				}
			}
			fe[k] = strings.Join(msgs, " ")
		}
	}
	return fe
}
