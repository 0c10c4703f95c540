// Package auth holds the client's authentication state: the backend token
// and the user it belongs to, persisted in durable storage.
package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/room4-2/aiticulate/apperr"
	"github.com/room4-2/aiticulate/messages"
	"github.com/room4-2/aiticulate/storage"
)

// UserFetcher verifies a token against the backend
type UserFetcher interface {
	CurrentUser(ctx context.Context) (*messages.User, error)
}

// Context is the explicitly constructed auth state of one client.
// The zero token means logged-out (demo) mode.
type Context struct {
	mu    sync.RWMutex
	store storage.Store
	token string
	user  *messages.User
}

func New(store storage.Store) *Context {
	return &Context{store: store}
}

// Hydrate loads the persisted token and verifies it. A token the backend
// rejects is discarded and the client continues logged out. Other failures
// keep the token unverified and are returned.
func (c *Context) Hydrate(ctx context.Context, users UserFetcher) error {
	token, err := c.store.Get(ctx, storage.KeyToken)
	if err != nil {
		return fmt.Errorf("failed to read token: %w", err)
	}
	if token == "" {
		return nil
	}

	c.mu.Lock()
	c.token = token
	c.mu.Unlock()

	user, err := users.CurrentUser(ctx)
	switch {
	case errors.Is(err, apperr.ErrUnauthorized):
		log.Info().Msg("stored token rejected, continuing logged out")
		c.clear(ctx)
		return nil
	case err != nil:
		return fmt.Errorf("failed to verify token: %w", err)
	}

	c.mu.Lock()
	c.user = user
	c.mu.Unlock()
	log.Info().Str("user", user.Username).Msg("session restored")
	return nil
}

// Login stores the token and the user it belongs to
func (c *Context) Login(ctx context.Context, token string, user *messages.User) error {
	if token == "" {
		return fmt.Errorf("login: empty token")
	}
	if err := c.store.Set(ctx, storage.KeyToken, token); err != nil {
		return fmt.Errorf("failed to persist token: %w", err)
	}
	c.mu.Lock()
	c.token = token
	c.user = user
	c.mu.Unlock()
	return nil
}

// Logout calls revoke best-effort and always clears local state
func (c *Context) Logout(ctx context.Context, revoke func(context.Context) error) {
	if revoke != nil && c.Authenticated() {
		if err := revoke(ctx); err != nil {
			log.Warn().Err(err).Msg("backend logout failed, clearing local state anyway")
		}
	}
	c.clear(ctx)
}

func (c *Context) clear(ctx context.Context) {
	c.mu.Lock()
	c.token = ""
	c.user = nil
	c.mu.Unlock()

	if err := c.store.Delete(ctx, storage.KeyToken); err != nil {
		log.Warn().Err(err).Msg("failed to delete stored token")
	}
}

// Token returns the current token, "" when logged out
func (c *Context) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

func (c *Context) Authenticated() bool {
	return c.Token() != ""
}

// User returns the verified user, nil when logged out or unverified
func (c *Context) User() *messages.User {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.user
}
