// Package records orchestrates listing CRUD together with the images each
// record owns. It is stateless; the manager and the HTTP API both drive it.
package records

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"estatedesk/internal/media"
	"estatedesk/pkg/listing"
)

// Operation names reported to the MetricsRecorder.
const (
	OpList         = "list"
	OpCreate       = "create"
	OpUpdate       = "update"
	OpAttachImages = "attach_images"
	OpDetachImage  = "detach_image"
	OpDelete       = "delete"
)

// MetricsRecorder receives one observation per service call.
type MetricsRecorder interface {
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
}

// Media is the image storage collaborator.
type Media interface {
	UploadAll(ctx context.Context, files []media.File, namespace, ownerKey string) ([]string, error)
	Remove(ctx context.Context, namespace, url string) error
}

type noopMetrics struct{}

func (noopMetrics) Observe(context.Context, string, bool, time.Duration) {}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m MetricsRecorder) Option {
	return func(s *Service) {
		if m != nil {
			s.metrics = m
		}
	}
}

// Service is the records orchestrator.
type Service struct {
	store   listing.TableStore
	media   Media
	log     *zap.Logger
	metrics MetricsRecorder
}

// NewService wires a store and media collaborator.
func NewService(store listing.TableStore, m Media, opts ...Option) *Service {
	s := &Service{store: store, media: m, log: zap.NewNop(), metrics: noopMetrics{}}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// List returns every record of the kind, newest first.
func (s *Service) List(ctx context.Context, schema listing.Schema) (out []listing.Record, err error) {
	defer s.observe(ctx, schema, OpList, time.Now(), &err)
	return s.store.Select(ctx, schema)
}

// Create inserts a validated record carrying images.
func (s *Service) Create(ctx context.Context, schema listing.Schema, values listing.Values, images []string) (rec listing.Record, err error) {
	defer s.observe(ctx, schema, OpCreate, time.Now(), &err)
	rec, err = s.store.Insert(ctx, schema, values.Record(images))
	if err == nil {
		s.log.Info("record created", zap.String("kind", string(schema.Kind)), zap.String("id", rec.ID))
	}
	return rec, err
}

// Update writes validated field values onto the record with id. Images are untouched.
func (s *Service) Update(ctx context.Context, schema listing.Schema, id string, values listing.Values) (err error) {
	defer s.observe(ctx, schema, OpUpdate, time.Now(), &err)
	return s.store.Update(ctx, schema, id, values.Replace(schema))
}

// AttachImages uploads files in parallel and appends their URLs to current.
// With a persisted id the merged list is written to the record straight away;
// without one the files go under the temporary owner key and nothing is persisted.
func (s *Service) AttachImages(ctx context.Context, schema listing.Schema, id string, current []string, files []media.File) (merged []string, err error) {
	defer s.observe(ctx, schema, OpAttachImages, time.Now(), &err)
	owner := id
	if owner == "" {
		owner = listing.NewRecordOwnerKey
	}
	urls, err := s.media.UploadAll(ctx, files, schema.Namespace, owner)
	if err != nil {
		return nil, err
	}
	merged = appendUnique(append([]string{}, current...), urls...)
	if id == "" {
		return merged, nil
	}
	if err := s.store.Update(ctx, schema, id, listing.ImagesPatch(merged)); err != nil {
		return nil, fmt.Errorf("persist images: %w", err)
	}
	return merged, nil
}

// DetachImage deletes the object behind url, then persists current without it.
// URLs that do not belong to the media store are only dropped from the list.
func (s *Service) DetachImage(ctx context.Context, schema listing.Schema, id string, current []string, url string) (remaining []string, err error) {
	defer s.observe(ctx, schema, OpDetachImage, time.Now(), &err)
	if err := s.media.Remove(ctx, schema.Namespace, url); err != nil {
		if !errors.Is(err, media.ErrForeignURL) {
			return nil, err
		}
		s.log.Warn("dropping foreign image reference", zap.String("url", url))
	}
	remaining = make([]string, 0, len(current))
	for _, u := range current {
		if u != url {
			remaining = append(remaining, u)
		}
	}
	if id == "" {
		return remaining, nil
	}
	if err := s.store.Update(ctx, schema, id, listing.ImagesPatch(remaining)); err != nil {
		return nil, fmt.Errorf("persist images: %w", err)
	}
	return remaining, nil
}

// Delete removes every image of rec in parallel, then the record itself.
// Image failures are logged and never stop the record delete.
func (s *Service) Delete(ctx context.Context, schema listing.Schema, rec listing.Record) (err error) {
	defer s.observe(ctx, schema, OpDelete, time.Now(), &err)
	var g errgroup.Group
	for _, url := range rec.Images {
		g.Go(func() error {
			if rmErr := s.media.Remove(ctx, schema.Namespace, url); rmErr != nil {
				s.log.Warn("image delete failed", zap.String("id", rec.ID), zap.String("url", url), zap.Error(rmErr))
			}
			return nil
		})
	}
	_ = g.Wait()
	if err := s.store.Delete(ctx, schema, rec.ID); err != nil {
		return err
	}
	s.log.Info("record deleted", zap.String("kind", string(schema.Kind)), zap.String("id", rec.ID), zap.Int("images", len(rec.Images)))
	return nil
}

func (s *Service) observe(ctx context.Context, schema listing.Schema, op string, start time.Time, errp *error) {
	err := *errp
	s.metrics.Observe(ctx, op, err == nil, time.Since(start))
	if err != nil {
		s.log.Warn("records operation failed",
			zap.String("operation", op),
			zap.String("kind", string(schema.Kind)),
			zap.Error(err))
	}
}

func appendUnique(dst []string, urls ...string) []string {
	seen := make(map[string]struct{}, len(dst)+len(urls))
	for _, u := range dst {
		seen[u] = struct{}{}
	}
	for _, u := range urls {
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		dst = append(dst, u)
	}
	return dst
}
