// Package media stores listing images in blob storage under
// {namespace}/{owner}/{uuid}{ext} and hands out public URLs for them.
package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"estatedesk/internal/blob"
)

var (
	// ErrForeignURL is returned when a URL does not point into the expected namespace.
	ErrForeignURL = errors.New("media: url is not managed by this store")
	// ErrTooLarge is returned for files above the configured upload limit.
	ErrTooLarge = errors.New("media: file exceeds upload limit")
)

const defaultMaxUploadBytes = 10 << 20

var (
	ownerPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
	extPattern   = regexp.MustCompile(`^\.[a-z0-9]{1,8}$`)
)

// File is one upload. Open is called once, from the uploading goroutine.
type File struct {
	Name        string
	ContentType string
	Open        func() (io.ReadCloser, error)
}

// FromPath returns a File reading from a local path.
func FromPath(path string) File {
	return File{Name: filepath.Base(path), Open: func() (io.ReadCloser, error) { return os.Open(path) }}
}

// FromBytes returns a File over an in-memory payload.
func FromBytes(name string, data []byte) File {
	return File{Name: name, Open: func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}}
}

// Options configures a Service.
type Options struct {
	PublicBaseURL  string
	MaxUploadBytes int64
	Logger         *zap.Logger
}

// Service uploads and removes listing images.
type Service struct {
	store    blob.Store
	baseURL  string
	maxBytes int64
	log      *zap.Logger
	newID    func() string
}

// NewService wraps store.
func NewService(store blob.Store, opts Options) *Service {
	s := &Service{
		store:    store,
		baseURL:  strings.TrimRight(opts.PublicBaseURL, "/"),
		maxBytes: opts.MaxUploadBytes,
		log:      opts.Logger,
		newID:    uuid.NewString,
	}
	if s.maxBytes <= 0 {
		s.maxBytes = defaultMaxUploadBytes
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	return s
}

// Store returns the underlying blob store.
func (s *Service) Store() blob.Store { return s.store }

// URL returns the public URL for key.
func (s *Service) URL(key string) string { return s.baseURL + "/" + key }

// Upload stores f under namespace/ownerKey and returns its public URL.
func (s *Service) Upload(ctx context.Context, f File, namespace, ownerKey string) (string, error) {
	if !ownerPattern.MatchString(ownerKey) {
		return "", fmt.Errorf("media: invalid owner key %q", ownerKey)
	}
	if f.Open == nil {
		return "", fmt.Errorf("media: %s has no content", f.Name)
	}
	rc, err := f.Open()
	if err != nil {
		return "", fmt.Errorf("open %s: %w", f.Name, err)
	}
	defer func() { _ = rc.Close() }()
	data, err := io.ReadAll(io.LimitReader(rc, s.maxBytes+1))
	if err != nil {
		return "", fmt.Errorf("read %s: %w", f.Name, err)
	}
	if int64(len(data)) > s.maxBytes {
		return "", fmt.Errorf("%s: %w (%d bytes)", f.Name, ErrTooLarge, s.maxBytes)
	}
	contentType := f.ContentType
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(data)
	}
	key := strings.Join([]string{strings.Trim(namespace, "/"), ownerKey, s.newID() + extension(f.Name)}, "/")
	opts := blob.PutOptions{ContentType: contentType}
	if f.Name != "" {
		opts.Metadata = map[string]string{"original-name": f.Name}
	}
	if _, err := s.store.Put(ctx, key, bytes.NewReader(data), opts); err != nil {
		return "", fmt.Errorf("upload %s: %w", f.Name, err)
	}
	s.log.Debug("image uploaded", zap.String("key", key), zap.Int("bytes", len(data)))
	return s.URL(key), nil
}

// UploadAll uploads every file in parallel and returns URLs in input order.
// If any upload fails the ones that succeeded are removed before returning.
func (s *Service) UploadAll(ctx context.Context, files []File, namespace, ownerKey string) ([]string, error) {
	urls := make([]string, len(files))
	g, gctx := errgroup.WithContext(ctx)
	for i, f := range files {
		g.Go(func() error {
			u, err := s.Upload(gctx, f, namespace, ownerKey)
			if err != nil {
				return err
			}
			urls[i] = u
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		cleanup := context.WithoutCancel(ctx)
		for _, u := range urls {
			if u == "" {
				continue
			}
			if rmErr := s.Remove(cleanup, namespace, u); rmErr != nil {
				s.log.Warn("orphan cleanup failed", zap.String("url", u), zap.Error(rmErr))
			}
		}
		return nil, err
	}
	return urls, nil
}

// Remove deletes the object behind url. A missing object is not an error.
func (s *Service) Remove(ctx context.Context, namespace, url string) error {
	key, err := s.KeyFromURL(namespace, url)
	if err != nil {
		return err
	}
	removed, err := s.store.Delete(ctx, key)
	if err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	if !removed {
		s.log.Debug("image already absent", zap.String("key", key))
	}
	return nil
}

// KeyFromURL recovers the object key from a public URL in namespace.
func (s *Service) KeyFromURL(namespace, url string) (string, error) {
	prefix := s.baseURL + "/"
	if !strings.HasPrefix(url, prefix) {
		return "", fmt.Errorf("%w: %s", ErrForeignURL, url)
	}
	key := strings.TrimPrefix(url, prefix)
	if i := strings.IndexAny(key, "?#"); i >= 0 {
		key = key[:i]
	}
	ns := strings.Trim(namespace, "/") + "/"
	if !strings.HasPrefix(key, ns) || strings.Contains(key, "..") || len(key) == len(ns) {
		return "", fmt.Errorf("%w: %s", ErrForeignURL, url)
	}
	return key, nil
}

func extension(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if !extPattern.MatchString(ext) {
		return ""
	}
	return ext
}
