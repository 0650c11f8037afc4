// Package fs stores listing images under a local directory. Every object is a
// data file plus a JSON sidecar named <file>.meta that holds its content type,
// metadata and checksum. All access goes through an os.Root, so no key can
// reach outside the directory.
package fs

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	iofs "io/fs"
	"maps"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"estatedesk/internal/blob/core"
)

const (
	sidecarSuffix = ".meta"
	defaultRoot   = "./blobdata"
)

// Store is a core.Store rooted at a directory. Concurrent writers are only
// safe against each other for distinct keys.
type Store struct {
	root *os.Root
}

// New opens (creating if needed) the directory at dir.
func New(dir string) (*Store, error) {
	if dir == "" {
		dir = defaultRoot
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, err
	}
	root, err := os.OpenRoot(dir)
	if err != nil {
		return nil, err
	}
	return &Store{root: root}, nil
}

// Close releases the directory handle.
func (s *Store) Close() error { return s.root.Close() }

func (s *Store) Driver() core.Driver { return core.DriverFilesystem }

type sidecar struct {
	ContentType string            `json:"content_type,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	SHA256      string            `json:"sha256"`
	Size        int64             `json:"size"`
	StoredAt    time.Time         `json:"stored_at"`
}

func (m sidecar) info(key string) core.Info {
	return core.Info{
		Key:          key,
		Size:         m.Size,
		ContentType:  m.ContentType,
		ETag:         m.SHA256,
		Metadata:     maps.Clone(m.Metadata),
		LastModified: m.StoredAt,
	}
}

// objectPath maps a key to its data file relative to the root.
func objectPath(key string) (string, string, error) {
	clean, err := core.CleanKey(key)
	if err != nil {
		return "", "", err
	}
	if strings.HasSuffix(clean, sidecarSuffix) {
		return "", "", fmt.Errorf("%w: %q uses the reserved %s suffix", core.ErrInvalidKey, key, sidecarSuffix)
	}
	return clean, filepath.FromSlash(clean), nil
}

// Put writes to a hidden temp file, records the sidecar and then renames the
// data into place, so a half-written upload is never visible under its key.
func (s *Store) Put(_ context.Context, key string, r io.Reader, opts core.PutOptions) (core.Info, error) {
	key, rel, err := objectPath(key)
	if err != nil {
		return core.Info{}, err
	}
	if _, err := s.root.Stat(rel); err == nil {
		return core.Info{}, core.Exists(key)
	}
	dir := filepath.Dir(rel)
	if err := s.root.MkdirAll(dir, 0o750); err != nil {
		return core.Info{}, err
	}

	tmp := filepath.Join(dir, ".upload-"+uuid.NewString())
	f, err := s.root.OpenFile(tmp, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return core.Info{}, err
	}
	defer func() { _ = s.root.Remove(tmp) }()

	sum := sha256.New()
	size, err := io.Copy(io.MultiWriter(f, sum), r)
	if err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return core.Info{}, err
	}

	meta := sidecar{
		ContentType: opts.ContentType,
		Metadata:    maps.Clone(opts.Metadata),
		SHA256:      hex.EncodeToString(sum.Sum(nil)),
		Size:        size,
		StoredAt:    time.Now().UTC(),
	}
	if err := s.writeSidecar(rel, meta); err != nil {
		return core.Info{}, err
	}
	if err := s.root.Rename(tmp, rel); err != nil {
		_ = s.root.Remove(rel + sidecarSuffix)
		return core.Info{}, err
	}
	return meta.info(key), nil
}

func (s *Store) Get(_ context.Context, key string) (core.Info, io.ReadCloser, error) {
	key, rel, err := objectPath(key)
	if err != nil {
		return core.Info{}, nil, err
	}
	f, err := s.root.Open(rel)
	if errors.Is(err, iofs.ErrNotExist) {
		return core.Info{}, nil, core.NotFound(key)
	}
	if err != nil {
		return core.Info{}, nil, err
	}
	meta, err := s.readSidecar(rel)
	if err != nil {
		_ = f.Close()
		return core.Info{}, nil, err
	}
	return meta.info(key), f, nil
}

func (s *Store) Head(_ context.Context, key string) (core.Info, error) {
	key, rel, err := objectPath(key)
	if err != nil {
		return core.Info{}, err
	}
	if _, err := s.root.Stat(rel); errors.Is(err, iofs.ErrNotExist) {
		return core.Info{}, core.NotFound(key)
	} else if err != nil {
		return core.Info{}, err
	}
	meta, err := s.readSidecar(rel)
	if errors.Is(err, iofs.ErrNotExist) {
		return core.Info{}, core.NotFound(key)
	}
	if err != nil {
		return core.Info{}, err
	}
	return meta.info(key), nil
}

func (s *Store) Delete(_ context.Context, key string) (bool, error) {
	_, rel, err := objectPath(key)
	if err != nil {
		return false, err
	}
	switch err := s.root.Remove(rel); {
	case errors.Is(err, iofs.ErrNotExist):
		return false, nil
	case err != nil:
		return false, err
	}
	_ = s.root.Remove(rel + sidecarSuffix)
	return true, nil
}

// List walks the sidecars and reports keys whose data file is in place. A
// sidecar alone belongs to a Put that has not renamed its data yet.
func (s *Store) List(_ context.Context, prefix string) ([]core.Info, error) {
	var out []core.Info
	err := iofs.WalkDir(s.root.FS(), ".", func(p string, d iofs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(p, sidecarSuffix) {
			return nil
		}
		key := strings.TrimSuffix(p, sidecarSuffix)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}
		rel := filepath.FromSlash(key)
		if _, err := s.root.Stat(rel); errors.Is(err, iofs.ErrNotExist) {
			return nil
		} else if err != nil {
			return err
		}
		meta, err := s.readSidecar(rel)
		if err != nil {
			return err
		}
		out = append(out, meta.info(path.Clean(key)))
		return nil
	})
	if err != nil {
		return nil, err
	}
	core.SortByKey(out)
	return out, nil
}

// PresignURL is unsupported; the HTTP API streams local files itself.
func (s *Store) PresignURL(context.Context, string, core.SignedURLOptions) (string, error) {
	return "", core.ErrUnsupported
}

func (s *Store) writeSidecar(rel string, meta sidecar) error {
	b, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	return s.root.WriteFile(rel+sidecarSuffix, b, 0o600)
}

func (s *Store) readSidecar(rel string) (sidecar, error) {
	b, err := s.root.ReadFile(rel + sidecarSuffix)
	if err != nil {
		return sidecar{}, err
	}
	var meta sidecar
	if err := json.Unmarshal(b, &meta); err != nil {
		return sidecar{}, fmt.Errorf("decode sidecar of %s: %w", filepath.ToSlash(rel), err)
	}
	return meta, nil
}
