// Package core defines the object-storage contract behind listing images.
// Keys follow the layout namespace/owner/file, for example
// "properties/resale/R12/3f9c.jpg".
package core

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"slices"
	"strings"
	"time"
)

// Driver names a storage backend.
type Driver string

const (
	DriverFilesystem Driver = "fs"
	DriverS3         Driver = "s3" // AWS S3 or a compatible service such as MinIO
	DriverMemory     Driver = "memory"
)

// PutOptions carries what is written alongside the bytes.
type PutOptions struct {
	ContentType string
	Metadata    map[string]string
}

// SignedURLOptions configures PresignURL. Only GET is supported; a zero
// Expiry means 15 minutes.
type SignedURLOptions struct {
	Method string
	Expiry time.Duration
}

// Info describes a stored object.
type Info struct {
	Key          string            `json:"key"`
	Size         int64             `json:"size_bytes"`
	ContentType  string            `json:"content_type,omitempty"`
	ETag         string            `json:"etag,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	LastModified time.Time         `json:"last_modified"`
}

// Store is the object store the media service writes images to.
//
// Put is create-only and wraps ErrExists when the key is taken. Get and Head
// wrap ErrNotFound. Delete of a missing key reports false with no error.
// List returns keys under prefix in ascending order.
type Store interface {
	Put(ctx context.Context, key string, r io.Reader, opts PutOptions) (Info, error)
	Get(ctx context.Context, key string) (Info, io.ReadCloser, error)
	Head(ctx context.Context, key string) (Info, error)
	Delete(ctx context.Context, key string) (bool, error)
	List(ctx context.Context, prefix string) ([]Info, error)
	PresignURL(ctx context.Context, key string, opts SignedURLOptions) (string, error)
	Driver() Driver
}

var (
	ErrUnsupported = errors.New("blob: unsupported operation")
	ErrNotFound    = errors.New("blob: object not found")
	ErrExists      = errors.New("blob: object already exists")
	ErrInvalidKey  = errors.New("blob: invalid key")
)

// CleanKey normalizes key and rejects keys that could escape a namespace.
func CleanKey(key string) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidKey)
	}
	if strings.HasPrefix(key, "/") || strings.ContainsRune(key, '\\') {
		return "", fmt.Errorf("%w: %q is not relative", ErrInvalidKey, key)
	}
	for _, seg := range strings.Split(key, "/") {
		if seg == ".." {
			return "", fmt.Errorf("%w: %q climbs out of its namespace", ErrInvalidKey, key)
		}
	}
	return path.Clean(key), nil
}

// SortByKey orders infos the way List promises.
func SortByKey(infos []Info) {
	slices.SortFunc(infos, func(a, b Info) int { return cmp.Compare(a.Key, b.Key) })
}

// NotFound wraps ErrNotFound with key.
func NotFound(key string) error { return fmt.Errorf("%s: %w", key, ErrNotFound) }

// Exists wraps ErrExists with key.
func Exists(key string) error { return fmt.Errorf("%s: %w", key, ErrExists) }
