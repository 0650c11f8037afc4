package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"estatedesk/pkg/listing"
)

func openTemp(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "nested", "estatedesk.db")
}

func TestSQLiteStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	path := openTemp(t)
	store, err := Open(ctx, path)
	require.NoError(t, err)
	schema := listing.PlotSchema()

	first, err := store.Insert(ctx, schema, listing.Record{
		Text:    map[string]string{"builder_name": "Acme", "project": "Skyview", "location": "Lakeview"},
		Numbers: map[string]float64{"size": 1200, "price_per_sqft": 2500, "total_price": 3000000},
	})
	require.NoError(t, err)
	second, err := store.Insert(ctx, schema, listing.Record{
		Text:    map[string]string{"builder_name": "Beta", "project": "Hillside", "location": "North"},
		Numbers: map[string]float64{"size": 800, "price_per_sqft": 1500, "total_price": 1200000},
		Images:  []string{"https://cdn/plots/x.jpg"},
	})
	require.NoError(t, err)

	require.NoError(t, store.Update(ctx, schema, first.ID, listing.ImagesPatch([]string{"https://cdn/plots/a.jpg"})))
	require.NoError(t, store.Update(ctx, schema, second.ID, listing.Values{Text: map[string]string{"project": "Hilltop"}}.Patch()))

	rows, err := store.Select(ctx, schema)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, second.ID, rows[0].ID)
	assert.Equal(t, "Hilltop", rows[0].Text["project"])
	assert.Equal(t, []string{"https://cdn/plots/x.jpg"}, rows[0].Images)
	assert.Equal(t, []string{"https://cdn/plots/a.jpg"}, rows[1].Images)
	assert.Equal(t, 2500.0, rows[1].Numbers["price_per_sqft"])

	require.NoError(t, store.Delete(ctx, schema, first.ID))
	assert.True(t, errors.Is(store.Delete(ctx, schema, first.ID), listing.ErrNotFound))
	require.NoError(t, store.Close())

	reopened, err := Open(ctx, path)
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()
	rows, err = reopened.Select(ctx, schema)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, second.ID, rows[0].ID)
}

func TestSQLiteOptionalNumbersStayUnset(t *testing.T) {
	ctx := context.Background()
	store, err := Open(ctx, openTemp(t))
	require.NoError(t, err)
	defer func() { _ = store.Close() }()
	schema := listing.PropertySchema(listing.KindRental)
	_, err = store.Insert(ctx, schema, listing.Record{
		Text:    map[string]string{"builder_name": "Acme", "project": "P", "location": "L"},
		Numbers: map[string]float64{"price": 25000},
	})
	require.NoError(t, err)
	rows, err := store.Select(ctx, schema)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	_, ok := rows[0].Numbers["size"]
	assert.False(t, ok)
	assert.Equal(t, []string{}, rows[0].Images)
}
