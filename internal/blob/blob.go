// Package blob is how the rest of estatedesk reaches object storage. It
// re-exports the core contract and builds drivers; nothing outside this
// package imports internal/infra/blob directly.
package blob

import (
	"context"

	"estatedesk/internal/blob/core"
	"estatedesk/internal/infra/blob/fs"
	"estatedesk/internal/infra/blob/memory"
	"estatedesk/internal/infra/blob/s3"
)

type (
	Driver           = core.Driver
	PutOptions       = core.PutOptions
	SignedURLOptions = core.SignedURLOptions
	Info             = core.Info
	Store            = core.Store
	S3Config         = s3.Config
)

const (
	DriverFilesystem = core.DriverFilesystem
	DriverS3         = core.DriverS3
	DriverMemory     = core.DriverMemory
)

var (
	ErrUnsupported = core.ErrUnsupported
	ErrNotFound    = core.ErrNotFound
	ErrExists      = core.ErrExists
	ErrInvalidKey  = core.ErrInvalidKey
)

// NewFilesystem stores objects under root. The returned store holds a
// directory handle; close it through io.Closer when done.
func NewFilesystem(root string) (Store, error) { return fs.New(root) }

// NewS3 stores objects in the bucket named by cfg.
func NewS3(ctx context.Context, cfg S3Config) (Store, error) { return s3.New(ctx, cfg) }

// NewMemory keeps objects in process memory.
func NewMemory() Store { return memory.New() }

// NewMockS3ForTests is an S3 store backed by a fake bucket transport.
func NewMockS3ForTests() Store { return s3.NewMockForTests() }
