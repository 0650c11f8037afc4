// Package persistence selects the listing table-store backend from configuration.
package persistence

import (
	"context"
	"fmt"

	"estatedesk/internal/config"
	"estatedesk/internal/infra/persistence/memory"
	"estatedesk/internal/infra/persistence/postgres"
	"estatedesk/internal/infra/persistence/sqlite"
	"estatedesk/pkg/listing"
)

// Driver identifies a concrete table-store implementation.
type Driver string

const (
	DriverMemory   Driver = "memory"   // in-memory only (tests / ephemeral)
	DriverSQLite   Driver = "sqlite"   // embedded sqlite file
	DriverPostgres Driver = "postgres" // PostgreSQL server
)

// Store is a listing.TableStore that owns its connection.
type Store interface {
	listing.TableStore
	Migrate(ctx context.Context) error
	Close() error
}

// Open builds the store named by cfg.Driver. Defaults to sqlite when unset.
func Open(ctx context.Context, cfg config.Database) (Store, error) {
	switch Driver(cfg.Driver) {
	case DriverMemory:
		return memory.NewStore(), nil
	case DriverSQLite, "":
		return sqlite.Open(ctx, cfg.DSN)
	case DriverPostgres:
		return postgres.Open(ctx, cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown database driver %s", cfg.Driver)
	}
}
