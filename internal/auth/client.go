package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Options wires a Client's collaborators.
type Options struct {
	Tokens    *TokenManager
	Directory *Directory
	Store     TokenStore // defaults to an in-memory store
	Bus       Bus        // optional; nil disables cross-process revocation
	Logger    *zap.Logger
}

// Client is the auth collaborator consumed by the session provider, the
// console and the HTTP API.
type Client struct {
	tokens *TokenManager
	dir    *Directory
	store  TokenStore
	bus    Bus
	log    *zap.Logger

	mu        sync.Mutex
	current   *Session
	handlers  map[uint64]func(*Session)
	nextSub   uint64
	revokedAt map[string]time.Time
	stopBus   func()
}

// NewClient constructs a client and subscribes to the revocation bus.
func NewClient(ctx context.Context, opts Options) (*Client, error) {
	if opts.Tokens == nil || opts.Directory == nil {
		return nil, errors.New("auth: token manager and directory are required")
	}
	c := &Client{
		tokens:    opts.Tokens,
		dir:       opts.Directory,
		store:     opts.Store,
		bus:       opts.Bus,
		log:       opts.Logger,
		handlers:  make(map[uint64]func(*Session)),
		revokedAt: make(map[string]time.Time),
	}
	if c.store == nil {
		c.store = &MemoryTokenStore{}
	}
	if c.log == nil {
		c.log = zap.NewNop()
	}
	if c.bus != nil {
		stop, err := c.bus.Subscribe(ctx, c.handleRevoked)
		if err != nil {
			return nil, err
		}
		c.stopBus = stop
	}
	return c, nil
}

// GetUser resolves the identity behind the persisted token.
func (c *Client) GetUser(ctx context.Context) (Identity, error) {
	if err := ctx.Err(); err != nil {
		return Identity{}, err
	}
	token, err := c.store.Load()
	if err != nil {
		return Identity{}, fmt.Errorf("load token: %w", err)
	}
	if token == "" {
		return Identity{}, ErrUnauthenticated
	}
	sess, err := c.resolve(token)
	if err != nil {
		return Identity{}, err
	}
	c.mu.Lock()
	c.current = sess
	c.mu.Unlock()
	return sess.User, nil
}

// Authenticate resolves a bearer token without touching the persisted store.
func (c *Client) Authenticate(token string) (Identity, error) {
	sess, err := c.resolve(token)
	if err != nil {
		return Identity{}, err
	}
	return sess.User, nil
}

// SignIn verifies credentials, persists a fresh token and notifies subscribers.
func (c *Client) SignIn(ctx context.Context, email, password string) (*Session, error) {
	sess, err := c.IssueSession(ctx, email, password)
	if err != nil {
		return nil, err
	}
	if err := c.store.Save(sess.Token); err != nil {
		return nil, fmt.Errorf("save token: %w", err)
	}
	c.mu.Lock()
	c.current = sess
	c.mu.Unlock()
	c.log.Info("signed in", zap.String("user_id", sess.User.ID))
	c.emit(sess)
	return sess, nil
}

// IssueSession verifies credentials and returns a fresh token without
// persisting it or notifying subscribers. The HTTP API hands these to callers.
func (c *Client) IssueSession(ctx context.Context, email, password string) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	id, err := c.dir.Authenticate(email, password)
	if err != nil {
		c.log.Info("sign-in rejected", zap.String("email", email))
		return nil, err
	}
	token, expires, err := c.tokens.Issue(id)
	if err != nil {
		return nil, err
	}
	return &Session{Token: token, User: id, ExpiresAt: expires}, nil
}

// SignOut clears the persisted token and emits a nil session.
func (c *Client) SignOut(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.store.Clear(); err != nil {
		return fmt.Errorf("clear token: %w", err)
	}
	c.mu.Lock()
	c.current = nil
	c.mu.Unlock()
	c.emit(nil)
	return nil
}

// Revoke invalidates every session of userID that was issued before now.
func (c *Client) Revoke(ctx context.Context, userID string) error {
	if c.bus == nil {
		c.handleRevoked(userID)
		return nil
	}
	return c.bus.Publish(ctx, userID)
}

// OnSessionChange registers fn for every auth transition.
func (c *Client) OnSessionChange(fn func(*Session)) Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextSub
	c.nextSub++
	c.handlers[id] = fn
	return subscriptionFunc(func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.handlers, id)
	})
}

// Close stops the bus subscription.
func (c *Client) Close() {
	c.mu.Lock()
	stop := c.stopBus
	c.stopBus = nil
	c.mu.Unlock()
	if stop != nil {
		stop()
	}
}

func (c *Client) resolve(token string) (*Session, error) {
	claims, err := c.tokens.Validate(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	id, ok := c.dir.Lookup(claims.Subject)
	if !ok {
		return nil, fmt.Errorf("%w: unknown user %s", ErrUnauthenticated, claims.Subject)
	}
	c.mu.Lock()
	revoked, isRevoked := c.revokedAt[id.ID]
	c.mu.Unlock()
	if isRevoked && claims.IssuedAt != nil && !claims.IssuedAt.After(revoked) {
		return nil, fmt.Errorf("%w: session revoked", ErrUnauthenticated)
	}
	sess := &Session{Token: token, User: id}
	if claims.ExpiresAt != nil {
		sess.ExpiresAt = claims.ExpiresAt.Time
	}
	return sess, nil
}

func (c *Client) handleRevoked(userID string) {
	c.mu.Lock()
	c.revokedAt[userID] = revocationTime(time.Now())
	hit := c.current != nil && c.current.User.ID == userID
	if hit {
		c.current = nil
	}
	c.mu.Unlock()
	if !hit {
		return
	}
	if err := c.store.Clear(); err != nil {
		c.log.Warn("clear revoked token", zap.Error(err))
	}
	c.log.Info("session revoked", zap.String("user_id", userID))
	c.emit(nil)
}

func (c *Client) emit(sess *Session) {
	c.mu.Lock()
	handlers := make([]func(*Session), 0, len(c.handlers))
	for _, h := range c.handlers {
		handlers = append(handlers, h)
	}
	c.mu.Unlock()
	for _, h := range handlers {
		h(sess)
	}
}
