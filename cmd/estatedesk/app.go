package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"estatedesk/internal/auth"
	"estatedesk/internal/blob"
	"estatedesk/internal/config"
	"estatedesk/internal/logging"
	"estatedesk/internal/media"
	"estatedesk/internal/metrics"
	"estatedesk/internal/persistence"
	"estatedesk/internal/records"
)

// app holds the collaborators shared by the console and the API.
type app struct {
	cfg      *config.Config
	log      *zap.Logger
	store    persistence.Store
	blobs    blob.Store
	records  *records.Service
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	bus      auth.Bus
	client   *auth.Client

	closers []func() error
}

// openApp wires every collaborator from cfg. tokens is the credential store
// the auth client persists sign-ins to.
func openApp(ctx context.Context, cfg *config.Config, tokens auth.TokenStore) (_ *app, err error) {
	log, closeLog, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, log: log}
	a.onClose(func() error { closeLog(); return nil })
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	a.store, err = persistence.Open(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Database.Driver, err)
	}
	a.onClose(a.store.Close)

	a.blobs, err = blob.Open(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("open %s blob store: %w", cfg.Storage.Driver, err)
	}
	if c, ok := a.blobs.(io.Closer); ok {
		a.onClose(c.Close)
	}

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = metrics.New(a.registry)

	mediaSvc := media.NewService(a.blobs, media.Options{
		PublicBaseURL:  cfg.Storage.PublicBaseURL,
		MaxUploadBytes: cfg.Storage.MaxUploadBytes,
		Logger:         log.Named("media"),
	})
	a.records = records.NewService(a.store, mediaSvc,
		records.WithLogger(log.Named("records")),
		records.WithMetrics(a.metrics))

	if err := a.openAuth(ctx, tokens); err != nil {
		return nil, err
	}
	log.Info("estatedesk ready",
		zap.String("database", cfg.Database.Driver),
		zap.String("storage", cfg.Storage.Driver),
		zap.String("events", cfg.Events.Driver))
	return a, nil
}

func (a *app) openAuth(ctx context.Context, tokens auth.TokenStore) error {
	bus, err := auth.OpenBus(a.cfg.Events)
	if err != nil {
		return err
	}
	a.bus = bus
	a.onClose(bus.Close)

	client, err := auth.NewClient(ctx, auth.Options{
		Tokens:    auth.NewTokenManager(a.cfg.Auth.JWTSecret, a.cfg.Auth.Issuer, a.cfg.Auth.TokenTTL),
		Directory: auth.NewDirectory(a.cfg.Auth.Staff),
		Store:     tokens,
		Bus:       bus,
		Logger:    a.log.Named("auth"),
	})
	if err != nil {
		return fmt.Errorf("start auth client: %w", err)
	}
	a.client = client
	a.onClose(func() error { client.Close(); return nil })
	return nil
}

func (a *app) onClose(fn func() error) { a.closers = append(a.closers, fn) }

// Close releases everything in reverse order of acquisition.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
