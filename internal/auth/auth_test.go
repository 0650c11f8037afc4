package auth

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"estatedesk/internal/config"
)

const testSecret = "0123456789abcdef0123"

func staff(t *testing.T) []config.StaffUser {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("hunter22"), bcrypt.MinCost)
	require.NoError(t, err)
	return []config.StaffUser{{ID: "u1", Email: "Admin@Example.com", Name: "Admin", Role: "admin", PasswordHash: string(hash)}}
}

func newClient(t *testing.T, store TokenStore, bus Bus) *Client {
	t.Helper()
	c, err := NewClient(context.Background(), Options{
		Tokens:    NewTokenManager(testSecret, "estatedesk", time.Hour),
		Directory: NewDirectory(staff(t)),
		Store:     store,
		Bus:       bus,
	})
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

type sessionLog struct {
	mu     sync.Mutex
	events []*Session
}

func (l *sessionLog) record(s *Session) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, s)
}

func (l *sessionLog) all() []*Session {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*Session(nil), l.events...)
}

func TestSignInPersistsTokenAndEmits(t *testing.T) {
	ctx := context.Background()
	store := &MemoryTokenStore{}
	c := newClient(t, store, nil)
	var log sessionLog
	sub := c.OnSessionChange(log.record)

	_, err := c.GetUser(ctx)
	assert.True(t, errors.Is(err, ErrUnauthenticated))

	sess, err := c.SignIn(ctx, " admin@example.com ", "hunter22")
	require.NoError(t, err)
	assert.Equal(t, "u1", sess.User.ID)
	token, _ := store.Load()
	assert.Equal(t, sess.Token, token)

	id, err := c.GetUser(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Admin", id.Name)

	require.NoError(t, c.SignOut(ctx))
	events := log.all()
	require.Len(t, events, 2)
	assert.Equal(t, "u1", events[0].User.ID)
	assert.Nil(t, events[1])

	sub.Unsubscribe()
	_, err = c.SignIn(ctx, "admin@example.com", "hunter22")
	require.NoError(t, err)
	assert.Len(t, log.all(), 2)
}

func TestSignInRejectsBadCredentials(t *testing.T) {
	c := newClient(t, nil, nil)
	_, err := c.SignIn(context.Background(), "admin@example.com", "wrong")
	assert.True(t, errors.Is(err, ErrInvalidCredentials))
	_, err = c.SignIn(context.Background(), "nobody@example.com", "hunter22")
	assert.True(t, errors.Is(err, ErrInvalidCredentials))
}

func TestRevokeClearsSessionAcrossClients(t *testing.T) {
	ctx := context.Background()
	bus := NewLocalBus()
	store := &MemoryTokenStore{}
	console := newClient(t, store, bus)
	api := newClient(t, nil, bus)
	var log sessionLog
	console.OnSessionChange(log.record)

	sess, err := console.SignIn(ctx, "admin@example.com", "hunter22")
	require.NoError(t, err)
	_, err = api.Authenticate(sess.Token)
	require.NoError(t, err)

	require.NoError(t, api.Revoke(ctx, "u1"))
	events := log.all()
	require.Len(t, events, 2)
	assert.Nil(t, events[1])
	token, _ := store.Load()
	assert.Empty(t, token)
	_, err = api.Authenticate(sess.Token)
	assert.True(t, errors.Is(err, ErrUnauthenticated))
}

func TestSignInAfterRevokeIsAccepted(t *testing.T) {
	ctx := context.Background()
	bus := NewLocalBus()
	console := newClient(t, &MemoryTokenStore{}, bus)
	api := newClient(t, nil, bus)

	old, err := console.SignIn(ctx, "admin@example.com", "hunter22")
	require.NoError(t, err)
	require.NoError(t, api.Revoke(ctx, "u1"))

	fresh, err := console.SignIn(ctx, "admin@example.com", "hunter22")
	require.NoError(t, err)
	id, err := api.Authenticate(fresh.Token)
	require.NoError(t, err)
	assert.Equal(t, "u1", id.ID)
	_, err = console.Authenticate(fresh.Token)
	require.NoError(t, err)

	_, err = api.Authenticate(old.Token)
	assert.True(t, errors.Is(err, ErrUnauthenticated))
	_, err = console.Authenticate(old.Token)
	assert.True(t, errors.Is(err, ErrUnauthenticated))
}

func TestTokenManagerRejectsForeignAndExpiredTokens(t *testing.T) {
	tm := NewTokenManager(testSecret, "estatedesk", time.Hour)
	id := Identity{ID: "u1", Email: "a@b"}

	other := NewTokenManager("another-secret-value", "estatedesk", time.Hour)
	foreign, _, err := other.Issue(id)
	require.NoError(t, err)
	_, err = tm.Validate(foreign)
	assert.Error(t, err)

	old := NewTokenManager(testSecret, "estatedesk", time.Minute)
	old.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expired, _, err := old.Issue(id)
	require.NoError(t, err)
	_, err = tm.Validate(expired)
	assert.Error(t, err)

	fresh, expires, err := tm.Issue(id)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expires, time.Minute)
	claims, err := tm.Validate(fresh)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.Subject)
}

func TestGetUserRejectsUnknownSubject(t *testing.T) {
	store := &MemoryTokenStore{}
	c := newClient(t, store, nil)
	tok, _, err := NewTokenManager(testSecret, "estatedesk", time.Hour).Issue(Identity{ID: "ghost"})
	require.NoError(t, err)
	require.NoError(t, store.Save(tok))
	_, err = c.GetUser(context.Background())
	assert.True(t, errors.Is(err, ErrUnauthenticated))
}

func TestFileTokenStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg", "storage.json")
	s := NewFileTokenStore(path)
	tok, err := s.Load()
	require.NoError(t, err)
	assert.Empty(t, tok)
	require.NoError(t, s.Save("abc"))

	again := NewFileTokenStore(path)
	tok, err = again.Load()
	require.NoError(t, err)
	assert.Equal(t, "abc", tok)
	kv, err := again.read()
	require.NoError(t, err)
	assert.Equal(t, "abc", kv[TokenKey])

	require.NoError(t, again.Clear())
	tok, _ = s.Load()
	assert.Empty(t, tok)
	require.NoError(t, again.Clear())
}

func TestHashPassword(t *testing.T) {
	hash, err := HashPassword("s3cret")
	require.NoError(t, err)
	d := NewDirectory([]config.StaffUser{{ID: "u2", Email: "e@x", PasswordHash: hash}})
	id, err := d.Authenticate("e@x", "s3cret")
	require.NoError(t, err)
	assert.Equal(t, "u2", id.ID)
	_, err = HashPassword("")
	assert.Error(t, err)
}

func TestOpenBus(t *testing.T) {
	b, err := OpenBus(config.Events{Driver: "local"})
	require.NoError(t, err)
	assert.IsType(t, &LocalBus{}, b)
	_, err = OpenBus(config.Events{Driver: "kafka"})
	assert.Error(t, err)
}

func TestRedisBusUnreachable(t *testing.T) {
	bus := NewRedisBus(config.Events{Driver: "redis", RedisAddr: "127.0.0.1:1"})
	defer func() { _ = bus.Close() }()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.Error(t, bus.Publish(ctx, "u1"))
	_, err := bus.Subscribe(ctx, func(string) {})
	assert.Error(t, err)
}
