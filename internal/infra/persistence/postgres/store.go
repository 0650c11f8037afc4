// Package postgres stores listing tables in PostgreSQL through the pgx
// database/sql driver. The images column is a native text[] array.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
	"github.com/lib/pq"

	"estatedesk/internal/infra/persistence/sqltable"
)

const (
	defaultDriver = "pgx"
	defaultDSN    = "postgres://localhost/estatedesk?sslmode=disable"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// Dialect uses numbered placeholders, TIMESTAMPTZ and TEXT[].
var Dialect = sqltable.Dialect{
	Name:          "postgres",
	TextType:      "TEXT",
	NumberType:    "DOUBLE PRECISION",
	CreatedAtType: "TIMESTAMPTZ",
	ImagesType:    "TEXT[]",
	Bind:          func(n int) string { return "$" + strconv.Itoa(n) },
	TimeValue:     func(t time.Time) any { return t.UTC() },
	TimeDest: func() (any, func() (time.Time, error)) {
		var t time.Time
		return &t, func() (time.Time, error) { return t.UTC(), nil }
	},
	ImagesValue: func(images []string) (any, error) {
		return pq.StringArray(images), nil
	},
	ImagesDest: func() (any, func() ([]string, error)) {
		var arr pq.StringArray
		return &arr, func() ([]string, error) { return []string(arr), nil }
	},
}

// Open connects to dsn, verifies the connection and applies the listing DDL.
func Open(ctx context.Context, dsn string) (*sqltable.Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	store := sqltable.New(db, Dialect)
	if err := store.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// OverrideSQLOpen swaps the sql.Open hook used by Open and returns a restore func.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
