// Package sqlite stores listing tables in an embedded SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"estatedesk/internal/infra/persistence/sqltable"
)

const defaultPath = "estatedesk.db"

// Dialect stores created_at as unix nanoseconds and images as a JSON array.
var Dialect = sqltable.Dialect{
	Name:          "sqlite",
	TextType:      "TEXT",
	NumberType:    "REAL",
	CreatedAtType: "INTEGER",
	ImagesType:    "TEXT",
	Bind:          func(int) string { return "?" },
	TimeValue:     func(t time.Time) any { return t.UTC().UnixNano() },
	TimeDest: func() (any, func() (time.Time, error)) {
		var n int64
		return &n, func() (time.Time, error) { return time.Unix(0, n).UTC(), nil }
	},
	ImagesValue: func(images []string) (any, error) {
		b, err := json.Marshal(images)
		if err != nil {
			return nil, err
		}
		return string(b), nil
	},
	ImagesDest: func() (any, func() ([]string, error)) {
		var raw sql.NullString
		return &raw, func() ([]string, error) {
			if !raw.Valid || raw.String == "" {
				return []string{}, nil
			}
			var out []string
			if err := json.Unmarshal([]byte(raw.String), &out); err != nil {
				return nil, fmt.Errorf("decode images: %w", err)
			}
			return out, nil
		}
	},
}

// Open opens (creating if needed) the SQLite file at path and applies the
// listing table DDL.
func Open(ctx context.Context, path string) (*sqltable.Store, error) {
	if path == "" {
		path = defaultPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// a single writer keeps modernc from returning SQLITE_BUSY under parallel writes
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite pragma: %w", err)
	}
	store := sqltable.New(db, Dialect)
	if err := store.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}
