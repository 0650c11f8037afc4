// Package sqltable implements listing.TableStore over database/sql. Each
// listing kind maps onto one table whose columns follow the kind's schema;
// drivers supply a Dialect describing placeholders and the encoding of the
// store-managed created_at and images columns.
package sqltable

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"estatedesk/pkg/listing"
)

var _ listing.TableStore = (*Store)(nil)

// Dialect captures the driver-specific parts of the table layout.
type Dialect struct {
	Name          string
	TextType      string
	NumberType    string
	CreatedAtType string
	ImagesType    string

	// Bind renders the n-th (1-based) placeholder.
	Bind func(n int) string
	// TimeValue encodes created_at for writes.
	TimeValue func(time.Time) any
	// TimeDest returns a scan destination and its decoder.
	TimeDest func() (any, func() (time.Time, error))
	// ImagesValue encodes the image list for writes.
	ImagesValue func([]string) (any, error)
	// ImagesDest returns a scan destination and its decoder.
	ImagesDest func() (any, func() ([]string, error))
}

// Store is a TableStore over a *sql.DB.
type Store struct {
	db    *sql.DB
	d     Dialect
	now   func() time.Time
	newID func() string

	mu   sync.Mutex
	last time.Time
}

// New wraps db using dialect d.
func New(db *sql.DB, d Dialect) *Store {
	return &Store{db: db, d: d, now: time.Now, newID: uuid.NewString}
}

// DB exposes the underlying handle.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the underlying handle.
func (s *Store) Close() error { return s.db.Close() }

// Migrate creates every listing table and its created_at index.
func (s *Store) Migrate(ctx context.Context) error {
	for _, schema := range listing.Schemas() {
		if err := schema.Validate(); err != nil {
			return err
		}
		for _, stmt := range MigrationSQL(s.d, schema) {
			if _, err := s.db.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("%s: migrate %s: %w", s.d.Name, schema.Table, err)
			}
		}
	}
	return nil
}

// Select returns all rows newest first.
func (s *Store) Select(ctx context.Context, schema listing.Schema) ([]listing.Record, error) {
	if err := schema.Validate(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, SelectSQL(schema))
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", schema.Table, err)
	}
	defer func() { _ = rows.Close() }()
	var out []listing.Record
	for rows.Next() {
		rec, err := s.scan(rows, schema)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", schema.Table, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("select %s: %w", schema.Table, err)
	}
	return out, nil
}

// Insert writes rec with a fresh id and creation time.
func (s *Store) Insert(ctx context.Context, schema listing.Schema, rec listing.Record) (listing.Record, error) {
	if err := schema.Validate(); err != nil {
		return listing.Record{}, err
	}
	if err := schema.CheckColumns(rec.Text, rec.Numbers); err != nil {
		return listing.Record{}, err
	}
	stored := rec.Clone()
	stored.ID = s.newID()
	stored.CreatedAt = s.stamp()
	if stored.Images == nil {
		stored.Images = []string{}
	}
	images, err := s.d.ImagesValue(stored.Images)
	if err != nil {
		return listing.Record{}, fmt.Errorf("encode images: %w", err)
	}
	args := []any{stored.ID, s.d.TimeValue(stored.CreatedAt), images}
	for _, f := range schema.Fields {
		args = append(args, fieldValue(f, stored))
	}
	if _, err := s.db.ExecContext(ctx, InsertSQL(s.d, schema), args...); err != nil {
		return listing.Record{}, fmt.Errorf("insert %s: %w", schema.Table, err)
	}
	return stored, nil
}

// Update applies patch to the row with id.
func (s *Store) Update(ctx context.Context, schema listing.Schema, id string, patch listing.Patch) error {
	if err := schema.Validate(); err != nil {
		return err
	}
	if err := schema.CheckPatch(patch); err != nil {
		return err
	}
	if patch.Empty() {
		return s.exists(ctx, schema, id)
	}
	query, cols := UpdateSQL(s.d, schema, patch)
	args := make([]any, 0, len(cols)+1)
	for _, col := range cols {
		switch {
		case col == listing.ColumnImages:
			v, err := s.d.ImagesValue(append([]string{}, patch.Images...))
			if err != nil {
				return fmt.Errorf("encode images: %w", err)
			}
			args = append(args, v)
		default:
			if v, ok := patch.Text[col]; ok {
				args = append(args, v)
			} else {
				args = append(args, patch.Numbers[col])
			}
		}
	}
	args = append(args, id)
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update %s: %w", schema.Table, err)
	}
	return affected(res, schema, id)
}

// Delete removes the row with id.
func (s *Store) Delete(ctx context.Context, schema listing.Schema, id string) error {
	if err := schema.Validate(); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, DeleteSQL(s.d, schema), id)
	if err != nil {
		return fmt.Errorf("delete %s: %w", schema.Table, err)
	}
	return affected(res, schema, id)
}

// stamp keeps creation times from this process strictly increasing.
func (s *Store) stamp() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.now().UTC()
	if !t.After(s.last) {
		t = s.last.Add(time.Microsecond)
	}
	s.last = t
	return t
}

func (s *Store) exists(ctx context.Context, schema listing.Schema, id string) error {
	var one int
	err := s.db.QueryRowContext(ctx, ExistsSQL(s.d, schema), id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", schema.Table, id, listing.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("lookup %s: %w", schema.Table, err)
	}
	return nil
}

func (s *Store) scan(rows *sql.Rows, schema listing.Schema) (listing.Record, error) {
	var rec listing.Record
	timeDest, decodeTime := s.d.TimeDest()
	imagesDest, decodeImages := s.d.ImagesDest()
	dests := []any{&rec.ID, timeDest, imagesDest}
	texts := make(map[string]*sql.NullString)
	numbers := make(map[string]*sql.NullFloat64)
	for _, f := range schema.Fields {
		if f.Type == listing.FieldNumber {
			n := new(sql.NullFloat64)
			numbers[f.Name] = n
			dests = append(dests, n)
			continue
		}
		t := new(sql.NullString)
		texts[f.Name] = t
		dests = append(dests, t)
	}
	if err := rows.Scan(dests...); err != nil {
		return listing.Record{}, err
	}
	var err error
	if rec.CreatedAt, err = decodeTime(); err != nil {
		return listing.Record{}, err
	}
	if rec.Images, err = decodeImages(); err != nil {
		return listing.Record{}, err
	}
	if rec.Images == nil {
		rec.Images = []string{}
	}
	for name, v := range texts {
		if v.Valid {
			if rec.Text == nil {
				rec.Text = make(map[string]string)
			}
			rec.Text[name] = v.String
		}
	}
	for name, v := range numbers {
		if v.Valid {
			if rec.Numbers == nil {
				rec.Numbers = make(map[string]float64)
			}
			rec.Numbers[name] = v.Float64
		}
	}
	return rec, nil
}

func affected(res sql.Result, schema listing.Schema, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", schema.Table, err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", schema.Table, id, listing.ErrNotFound)
	}
	return nil
}

func fieldValue(f listing.Field, rec listing.Record) any {
	if f.Type == listing.FieldNumber {
		if v, ok := rec.Numbers[f.Name]; ok {
			return v
		}
		return nil
	}
	if v, ok := rec.Text[f.Name]; ok {
		return v
	}
	return nil
}

// MigrationSQL returns the DDL for one table.
func MigrationSQL(d Dialect, schema listing.Schema) []string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (\n", schema.Table)
	fmt.Fprintf(&b, "\t%s TEXT PRIMARY KEY,\n", listing.ColumnID)
	fmt.Fprintf(&b, "\t%s %s NOT NULL,\n", listing.ColumnCreatedAt, d.CreatedAtType)
	fmt.Fprintf(&b, "\t%s %s NOT NULL", listing.ColumnImages, d.ImagesType)
	for _, f := range schema.Fields {
		typ := d.TextType
		if f.Type == listing.FieldNumber {
			typ = d.NumberType
		}
		null := ""
		if f.Required {
			null = " NOT NULL"
		}
		fmt.Fprintf(&b, ",\n\t%s %s%s", f.Name, typ, null)
	}
	b.WriteString("\n)")
	index := fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s_created_at_idx ON %s (%s DESC)", schema.Table, schema.Table, listing.ColumnCreatedAt)
	return []string{b.String(), index}
}

// SelectSQL lists every column, newest rows first.
func SelectSQL(schema listing.Schema) string {
	return fmt.Sprintf("SELECT %s FROM %s ORDER BY %s DESC, %s DESC",
		strings.Join(columns(schema), ", "), schema.Table, listing.ColumnCreatedAt, listing.ColumnID)
}

// InsertSQL writes every column.
func InsertSQL(d Dialect, schema listing.Schema) string {
	cols := columns(schema)
	binds := make([]string, len(cols))
	for i := range cols {
		binds[i] = d.Bind(i + 1)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", schema.Table, strings.Join(cols, ", "), strings.Join(binds, ", "))
}

// UpdateSQL sets the patched columns in a stable order and returns the bound
// ones in that order. Cleared columns are set to NULL without a placeholder.
// The id placeholder follows the set list.
func UpdateSQL(d Dialect, schema listing.Schema, patch listing.Patch) (string, []string) {
	cols := make([]string, 0, len(patch.Text)+len(patch.Numbers)+1)
	for k := range patch.Text {
		cols = append(cols, k)
	}
	for k := range patch.Numbers {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	if patch.ReplaceImages {
		cols = append(cols, listing.ColumnImages)
	}
	sets := make([]string, 0, len(cols)+len(patch.Clear))
	for i, col := range cols {
		sets = append(sets, col+" = "+d.Bind(i+1))
	}
	cleared := append([]string(nil), patch.Clear...)
	sort.Strings(cleared)
	for _, col := range cleared {
		sets = append(sets, col+" = NULL")
	}
	return fmt.Sprintf("UPDATE %s SET %s WHERE %s = %s", schema.Table, strings.Join(sets, ", "), listing.ColumnID, d.Bind(len(cols)+1)), cols
}

// DeleteSQL removes one row by id.
func DeleteSQL(d Dialect, schema listing.Schema) string {
	return fmt.Sprintf("DELETE FROM %s WHERE %s = %s", schema.Table, listing.ColumnID, d.Bind(1))
}

// ExistsSQL probes for one row by id.
func ExistsSQL(d Dialect, schema listing.Schema) string {
	return fmt.Sprintf("SELECT 1 FROM %s WHERE %s = %s", schema.Table, listing.ColumnID, d.Bind(1))
}

func columns(schema listing.Schema) []string {
	cols := []string{listing.ColumnID, listing.ColumnCreatedAt, listing.ColumnImages}
	for _, f := range schema.Fields {
		cols = append(cols, f.Name)
	}
	return cols
}
