package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"estatedesk/internal/config"
)

// Bus carries session revocations between processes.
type Bus interface {
	Publish(ctx context.Context, userID string) error
	// Subscribe delivers revoked user ids to fn until the returned stop func is called.
	Subscribe(ctx context.Context, fn func(userID string)) (func(), error)
	Close() error
}

// OpenBus builds the bus named by cfg.Driver.
func OpenBus(cfg config.Events) (Bus, error) {
	switch cfg.Driver {
	case "", "local":
		return NewLocalBus(), nil
	case "redis":
		return NewRedisBus(cfg), nil
	default:
		return nil, fmt.Errorf("unknown events driver %s", cfg.Driver)
	}
}

// LocalBus delivers revocations within one process.
type LocalBus struct {
	mu       sync.RWMutex
	handlers map[uint64]func(string)
	next     uint64
}

// NewLocalBus creates an empty in-process bus.
func NewLocalBus() *LocalBus {
	return &LocalBus{handlers: make(map[uint64]func(string))}
}

// Publish calls every subscriber synchronously.
func (b *LocalBus) Publish(_ context.Context, userID string) error {
	b.mu.RLock()
	handlers := make([]func(string), 0, len(b.handlers))
	for _, h := range b.handlers {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()
	for _, h := range handlers {
		h(userID)
	}
	return nil
}

// Subscribe registers fn.
func (b *LocalBus) Subscribe(_ context.Context, fn func(string)) (func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.next
	b.next++
	b.handlers[id] = fn
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.handlers, id)
	}, nil
}

// Close drops every subscriber.
func (b *LocalBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = make(map[uint64]func(string))
	return nil
}

// RedisBus fans revocations out over a Redis pub/sub channel.
type RedisBus struct {
	client  *redis.Client
	channel string
}

// NewRedisBus connects lazily to the configured Redis server.
func NewRedisBus(cfg config.Events) *RedisBus {
	channel := cfg.Channel
	if channel == "" {
		channel = "estatedesk:sessions:revoked"
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	return &RedisBus{client: client, channel: channel}
}

// Publish sends userID on the revocation channel.
func (b *RedisBus) Publish(ctx context.Context, userID string) error {
	if err := b.client.Publish(ctx, b.channel, userID).Err(); err != nil {
		return fmt.Errorf("publish revocation: %w", err)
	}
	return nil
}

// Subscribe confirms the subscription before returning, then delivers
// messages from a background goroutine.
func (b *RedisBus) Subscribe(ctx context.Context, fn func(string)) (func(), error) {
	ps := b.client.Subscribe(ctx, b.channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", b.channel, err)
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		for msg := range ps.Channel() {
			fn(msg.Payload)
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() {
			_ = ps.Close()
			<-done
		})
	}, nil
}

// Close closes the Redis client.
func (b *RedisBus) Close() error {
	if err := b.client.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
		return err
	}
	return nil
}
