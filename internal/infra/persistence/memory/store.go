// Package memory provides an in-memory listing.TableStore used for tests and
// ephemeral environments.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"estatedesk/pkg/listing"
)

var _ listing.TableStore = (*Store)(nil)

// Store keeps one slice of records per table.
type Store struct {
	mu     sync.RWMutex
	tables map[string][]listing.Record
	now    func() time.Time
	last   time.Time
}

// NewStore constructs an empty in-memory store.
func NewStore() *Store {
	return &Store{tables: make(map[string][]listing.Record), now: time.Now}
}

// Migrate is a no-op kept for parity with the SQL drivers.
func (s *Store) Migrate(context.Context) error { return nil }

// Close releases nothing.
func (s *Store) Close() error { return nil }

// Select returns every record of the schema's table, newest first.
func (s *Store) Select(ctx context.Context, schema listing.Schema) ([]listing.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows := s.tables[schema.Table]
	out := make([]listing.Record, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.Clone())
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// Insert assigns an id and creation time, then stores rec.
func (s *Store) Insert(ctx context.Context, schema listing.Schema, rec listing.Record) (listing.Record, error) {
	if err := ctx.Err(); err != nil {
		return listing.Record{}, err
	}
	if err := schema.CheckColumns(rec.Text, rec.Numbers); err != nil {
		return listing.Record{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := rec.Clone()
	stored.ID = uuid.NewString()
	stored.CreatedAt = s.nextTime()
	if stored.Images == nil {
		stored.Images = []string{}
	}
	s.tables[schema.Table] = append(s.tables[schema.Table], stored)
	return stored.Clone(), nil
}

// Update applies patch to the record with the given id.
func (s *Store) Update(ctx context.Context, schema listing.Schema, id string, patch listing.Patch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := schema.CheckPatch(patch); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := s.tables[schema.Table]
	for i := range rows {
		if rows[i].ID == id {
			patch.Apply(&rows[i])
			return nil
		}
	}
	return fmt.Errorf("%s %s: %w", schema.Table, id, listing.ErrNotFound)
}

// Delete removes the record with the given id.
func (s *Store) Delete(ctx context.Context, schema listing.Schema, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := s.tables[schema.Table]
	for i := range rows {
		if rows[i].ID == id {
			s.tables[schema.Table] = append(rows[:i:i], rows[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%s %s: %w", schema.Table, id, listing.ErrNotFound)
}

// nextTime keeps creation times strictly increasing so newest-first order is total.
func (s *Store) nextTime() time.Time {
	t := s.now().UTC()
	if !t.After(s.last) {
		t = s.last.Add(time.Nanosecond)
	}
	s.last = t
	return t
}
