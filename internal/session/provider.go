// Package session tracks the signed-in staff identity for the console. It
// resolves the persisted token once at start-up, then follows pushed session
// changes until it is closed.
package session

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"estatedesk/internal/auth"
)

// Authenticator is the part of auth.Client the provider depends on.
type Authenticator interface {
	GetUser(ctx context.Context) (auth.Identity, error)
	OnSessionChange(fn func(*auth.Session)) auth.Subscription
}

// State is the read-only view handed to consumers.
type State struct {
	// User is nil until Initialized is true, even if an identity was fetched.
	User        *auth.Identity
	Loading     bool
	Initialized bool
	Err         error
}

// Authenticated reports whether a user is visible.
func (s State) Authenticated() bool { return s.User != nil }

// Provider owns the session state.
type Provider struct {
	auth Authenticator
	log  *zap.Logger

	// notifyMu serializes mutate+notify so watchers see updates in order.
	notifyMu sync.Mutex

	mu          sync.Mutex
	identity    *auth.Identity
	loading     bool
	initialized bool
	err         error
	closed      bool
	started     bool
	watchers    map[uint64]func(State)
	nextWatch   uint64
	sub         auth.Subscription
	cancel      context.CancelFunc
	done        chan struct{}
}

// NewProvider creates a provider in the loading state.
func NewProvider(a Authenticator, log *zap.Logger) *Provider {
	if log == nil {
		log = zap.NewNop()
	}
	return &Provider{
		auth:     a,
		log:      log,
		loading:  true,
		watchers: make(map[uint64]func(State)),
	}
}

// Start subscribes to session changes and begins the initial fetch in the
// background. It is a no-op after the first call or after Close.
func (p *Provider) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started || p.closed {
		p.mu.Unlock()
		return
	}
	p.started = true
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.mu.Unlock()

	sub := p.auth.OnSessionChange(p.handleChange)
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		sub.Unsubscribe()
		cancel()
		close(p.done)
		return
	}
	p.sub = sub
	p.mu.Unlock()

	go func() {
		defer close(p.done)
		id, err := p.auth.GetUser(ctx)
		p.finishFetch(id, err)
	}()
}

// State returns the current view.
func (p *Provider) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshot()
}

// Watch registers fn for every state change and returns a func that stops delivery.
func (p *Provider) Watch(fn func(State)) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextWatch
	p.nextWatch++
	p.watchers[id] = fn
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.watchers, id)
	}
}

// Close unsubscribes, cancels the initial fetch and waits for it to return.
// It also waits for a delivery already in progress, so no watcher runs once
// Close has returned. Watchers must not call Close.
func (p *Provider) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.identity = nil
	sub, cancel, done := p.sub, p.cancel, p.done
	p.sub = nil
	p.watchers = make(map[uint64]func(State))
	p.mu.Unlock()

	p.notifyMu.Lock()
	//nolint:staticcheck // empty critical section waits out the current delivery
	p.notifyMu.Unlock()

	if sub != nil {
		sub.Unsubscribe()
	}
	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

func (p *Provider) finishFetch(id auth.Identity, err error) {
	p.update(func() {
		p.loading = false
		p.initialized = true
		if err != nil {
			p.identity = nil
			p.err = err
			if !errors.Is(err, auth.ErrUnauthenticated) {
				p.log.Warn("initial session fetch failed", zap.Error(err))
			}
			return
		}
		p.err = nil
		p.identity = &id
	})
}

func (p *Provider) handleChange(sess *auth.Session) {
	p.update(func() {
		p.initialized = true
		if sess == nil {
			p.identity = nil
			return
		}
		id := sess.User
		p.identity = &id
		p.err = nil
	})
}

// update applies mutate unless the provider is closed, then notifies watchers.
func (p *Provider) update(mutate func()) {
	p.notifyMu.Lock()
	defer p.notifyMu.Unlock()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	mutate()
	st := p.snapshot()
	watchers := make([]func(State), 0, len(p.watchers))
	for _, w := range p.watchers {
		watchers = append(watchers, w)
	}
	p.mu.Unlock()

	for _, w := range watchers {
		w(st)
	}
}

func (p *Provider) snapshot() State {
	st := State{Loading: p.loading, Initialized: p.initialized, Err: p.err}
	if p.initialized && p.identity != nil {
		id := *p.identity
		st.User = &id
	}
	return st
}
