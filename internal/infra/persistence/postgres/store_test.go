package postgres

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"estatedesk/internal/infra/persistence/sqltable"
	"estatedesk/pkg/listing"
)

func openMock(t *testing.T) (*sqltable.Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	restore := OverrideSQLOpen(func(driver, dsn string) (*sql.DB, error) {
		assert.Equal(t, "pgx", driver)
		assert.Equal(t, defaultDSN, dsn)
		return db, nil
	})
	t.Cleanup(restore)

	mock.ExpectPing()
	for _, schema := range listing.Schemas() {
		for _, stmt := range sqltable.MigrationSQL(Dialect, schema) {
			mock.ExpectExec(regexp.QuoteMeta(stmt)).WillReturnResult(sqlmock.NewResult(0, 0))
		}
	}
	store, err := Open(context.Background(), "")
	require.NoError(t, err)
	return store, mock
}

func TestOpenAppliesDDL(t *testing.T) {
	_, mock := openMock(t)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDDLUsesNativeTypes(t *testing.T) {
	stmts := sqltable.MigrationSQL(Dialect, listing.PlotSchema())
	assert.Contains(t, stmts[0], "created_at TIMESTAMPTZ NOT NULL")
	assert.Contains(t, stmts[0], "images TEXT[] NOT NULL")
	assert.Contains(t, stmts[0], "total_price DOUBLE PRECISION NOT NULL")
}

func TestOpenPingFailure(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	restore := OverrideSQLOpen(func(string, string) (*sql.DB, error) { return db, nil })
	defer restore()
	mock.ExpectPing().WillReturnError(errors.New("connection refused"))
	mock.ExpectClose()
	_, err = Open(context.Background(), "postgres://db/estatedesk")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ping postgres")
}

func TestInsertSelectUpdate(t *testing.T) {
	store, mock := openMock(t)
	ctx := context.Background()
	schema := listing.PropertySchema(listing.KindRental)

	mock.ExpectExec(regexp.QuoteMeta(sqltable.InsertSQL(Dialect, schema))).
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), "{}", "Acme", "Skyview", "Lakeview", 25000.0, nil).
		WillReturnResult(sqlmock.NewResult(0, 1))
	rec, err := store.Insert(ctx, schema, listing.Record{
		Text:    map[string]string{"builder_name": "Acme", "project": "Skyview", "location": "Lakeview"},
		Numbers: map[string]float64{"price": 25000},
	})
	require.NoError(t, err)
	require.NotEmpty(t, rec.ID)

	created := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"id", "created_at", "images", "builder_name", "project", "location", "price", "size"}).
		AddRow(rec.ID, created, "{https://cdn/a.jpg,https://cdn/b.jpg}", "Acme", "Skyview", "Lakeview", 25000.0, 950.0)
	mock.ExpectQuery(regexp.QuoteMeta(sqltable.SelectSQL(schema))).WillReturnRows(rows)
	got, err := store.Select(ctx, schema)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, []string{"https://cdn/a.jpg", "https://cdn/b.jpg"}, got[0].Images)
	assert.Equal(t, created, got[0].CreatedAt)
	assert.Equal(t, 950.0, got[0].Numbers["size"])

	mock.ExpectExec(regexp.QuoteMeta("UPDATE rental_properties SET images = $1 WHERE id = $2")).
		WithArgs(`{"https://cdn/a.jpg"}`, rec.ID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, store.Update(ctx, schema, rec.ID, listing.ImagesPatch([]string{"https://cdn/a.jpg"})))

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM rental_properties WHERE id = $1")).
		WithArgs(rec.ID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, store.Delete(ctx, schema, rec.ID))

	require.NoError(t, mock.ExpectationsWereMet())
}
