// Package appctx holds the signed-in state of a client session: user,
// profile and tokens, plus the premium check the UI branches on.
package appctx

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"lexwrite/api/internal/client"
	"lexwrite/api/internal/entitlement"
)

const (
	profileRetries    = 3
	profileRetryDelay = time.Second
)

// API is the part of the HTTP client the context needs.
type API interface {
	SetToken(token string)
	Session(ctx context.Context) (client.AppState, error)
	Profile(ctx context.Context) (client.Profile, bool, error)
	SignUp(ctx context.Context, email, password, fullName string) (client.Session, *client.Profile, error)
	SignIn(ctx context.Context, email, password string) (client.Session, error)
	Logout(ctx context.Context, refreshToken string) error
}

// Context is built once per process and shared by everything that needs to
// know who is signed in.
type Context struct {
	api    API
	logger *zap.Logger

	mu      sync.RWMutex
	user    *client.User
	profile *client.Profile
	session *client.Session
	loading bool

	now     func() time.Time
	backoff func() retry.Backoff
}

func New(api API, logger *zap.Logger) *Context {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Context{
		api:     api,
		logger:  logger,
		loading: true,
		now:     time.Now,
		backoff: profileBackoff,
	}
}

// Init restores a stored session. An empty access token leaves the context
// signed out.
func (c *Context) Init(ctx context.Context, stored client.Session) error {
	if stored.AccessToken == "" {
		c.finishLoading()
		return nil
	}
	c.api.SetToken(stored.AccessToken)
	state, err := c.api.Session(ctx)
	if err != nil {
		c.finishLoading()
		return err
	}
	if !state.Authenticated || state.User == nil {
		c.clear()
		c.api.SetToken("")
		return nil
	}

	session := stored
	session.User = *state.User
	c.mu.Lock()
	c.session = &session
	c.user = state.User
	c.mu.Unlock()

	if state.Profile != nil {
		c.setProfile(state.Profile)
		c.finishLoading()
		return nil
	}
	return c.loadProfile(ctx)
}

// SignUp creates the account and keeps the returned profile so the paywall
// can render without another round trip.
func (c *Context) SignUp(ctx context.Context, email, password, fullName string) error {
	session, profile, err := c.api.SignUp(ctx, email, password, fullName)
	if err != nil {
		return err
	}
	c.api.SetToken(session.AccessToken)
	c.setSession(session)
	if profile != nil {
		c.setProfile(profile)
		return nil
	}
	return c.loadProfile(ctx)
}

func (c *Context) SignIn(ctx context.Context, email, password string) error {
	session, err := c.api.SignIn(ctx, email, password)
	if err != nil {
		return err
	}
	c.api.SetToken(session.AccessToken)
	c.setSession(session)
	return c.loadProfile(ctx)
}

// SignOut forgets the local state first so callers see a signed-out context
// even when the remote call fails.
func (c *Context) SignOut(ctx context.Context) error {
	c.mu.Lock()
	refresh := ""
	if c.session != nil {
		refresh = c.session.RefreshToken
	}
	c.mu.Unlock()

	c.clear()
	err := c.api.Logout(ctx, refresh)
	c.api.SetToken("")
	return err
}

// loadProfile fetches the profile, retrying while it is not visible yet.
// A profile that never shows up leaves the context without one.
func (c *Context) loadProfile(ctx context.Context) error {
	defer c.finishLoading()
	err := retry.Do(ctx, c.backoff(), func(ctx context.Context) error {
		profile, _, err := c.api.Profile(ctx)
		if err == nil {
			c.setProfile(&profile)
			return nil
		}
		if errors.Is(err, client.ErrNotFound) {
			return retry.RetryableError(err)
		}
		return err
	})
	if err == nil || errors.Is(err, client.ErrNotFound) {
		return nil
	}
	c.logger.Warn("load profile failed", zap.Error(err))
	return err
}

func profileBackoff() retry.Backoff {
	return retry.WithMaxRetries(profileRetries, retry.NewConstant(profileRetryDelay))
}

func (c *Context) User() *client.User {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.user
}

func (c *Context) Profile() *client.Profile {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.profile
}

func (c *Context) Session() *client.Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session
}

func (c *Context) Loading() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loading
}

// HasPremium evaluates the gate against the cached profile.
func (c *Context) HasPremium() bool {
	c.mu.RLock()
	profile := c.profile
	c.mu.RUnlock()
	if profile == nil {
		return false
	}
	return entitlement.Evaluate(profile.Snapshot(), c.now())
}

func (c *Context) setSession(session client.Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	user := session.User
	c.session = &session
	c.user = &user
}

func (c *Context) setProfile(profile *client.Profile) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.profile = profile
}

func (c *Context) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.user = nil
	c.profile = nil
	c.session = nil
	c.loading = false
}

func (c *Context) finishLoading() {
	c.mu.Lock()
	c.loading = false
	c.mu.Unlock()
}
