// Package recordstest provides recording collaborators for tests of the
// records service and the layers built on it.
package recordstest

import (
	"context"
	"fmt"
	"sync"

	"estatedesk/internal/infra/persistence/memory"
	"estatedesk/internal/media"
	"estatedesk/pkg/listing"
)

// Call is one collaborator invocation.
type Call struct {
	Op        string // select|insert|update|delete|upload|remove
	Table     string
	ID        string
	Record    listing.Record
	Patch     listing.Patch
	Namespace string
	Owner     string
	URL       string
}

// Log is a shared, ordered call log.
type Log struct {
	mu    sync.Mutex
	calls []Call
}

func (l *Log) add(c Call) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, c)
}

// Calls returns a copy of every call so far.
func (l *Log) Calls() []Call {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Call(nil), l.calls...)
}

// Ops returns the op names in call order.
func (l *Log) Ops() []string {
	calls := l.Calls()
	out := make([]string, len(calls))
	for i, c := range calls {
		out[i] = c.Op
	}
	return out
}

// Count returns how many calls of op were made.
func (l *Log) Count(op string) int {
	n := 0
	for _, c := range l.Calls() {
		if c.Op == op {
			n++
		}
	}
	return n
}

// Reset forgets every call.
func (l *Log) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = nil
}

// Store is a memory table store that logs calls and can fail on demand.
type Store struct {
	*memory.Store
	Log *Log

	mu   sync.Mutex
	fail map[string]error
}

// NewStore returns a recording store writing to log.
func NewStore(log *Log) *Store {
	return &Store{Store: memory.NewStore(), Log: log, fail: map[string]error{}}
}

// FailOn makes every subsequent op call return err. A nil err clears it.
func (s *Store) FailOn(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.fail, op)
		return
	}
	s.fail[op] = err
}

func (s *Store) failure(op string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fail[op]
}

// Seed inserts rec without logging.
func (s *Store) Seed(ctx context.Context, schema listing.Schema, rec listing.Record) listing.Record {
	out, err := s.Store.Insert(ctx, schema, rec)
	if err != nil {
		panic(err)
	}
	return out
}

// Select logs and delegates.
func (s *Store) Select(ctx context.Context, schema listing.Schema) ([]listing.Record, error) {
	s.Log.add(Call{Op: "select", Table: schema.Table})
	if err := s.failure("select"); err != nil {
		return nil, err
	}
	return s.Store.Select(ctx, schema)
}

// Insert logs and delegates.
func (s *Store) Insert(ctx context.Context, schema listing.Schema, rec listing.Record) (listing.Record, error) {
	s.Log.add(Call{Op: "insert", Table: schema.Table, Record: rec.Clone()})
	if err := s.failure("insert"); err != nil {
		return listing.Record{}, err
	}
	return s.Store.Insert(ctx, schema, rec)
}

// Update logs and delegates.
func (s *Store) Update(ctx context.Context, schema listing.Schema, id string, patch listing.Patch) error {
	s.Log.add(Call{Op: "update", Table: schema.Table, ID: id, Patch: patch})
	if err := s.failure("update"); err != nil {
		return err
	}
	return s.Store.Update(ctx, schema, id, patch)
}

// Delete logs and delegates.
func (s *Store) Delete(ctx context.Context, schema listing.Schema, id string) error {
	s.Log.add(Call{Op: "delete", Table: schema.Table, ID: id})
	if err := s.failure("delete"); err != nil {
		return err
	}
	return s.Store.Delete(ctx, schema, id)
}

// Media fakes image storage with predictable URLs.
type Media struct {
	Log  *Log
	Base string

	mu        sync.Mutex
	seq       int
	objects   map[string]bool
	uploadErr error
	removeErr map[string]error
}

// NewMedia returns a fake media store writing to log.
func NewMedia(log *Log) *Media {
	return &Media{Log: log, Base: "https://cdn.test", objects: map[string]bool{}, removeErr: map[string]error{}}
}

// FailUploads makes UploadAll fail with err.
func (m *Media) FailUploads(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.uploadErr = err
}

// FailRemove makes Remove of url fail with err.
func (m *Media) FailRemove(url string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeErr[url] = err
}

// Has reports whether url is currently stored.
func (m *Media) Has(url string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.objects[url]
}

// Put registers url as stored without logging.
func (m *Media) Put(url string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[url] = true
}

// UploadAll logs one upload per file.
func (m *Media) UploadAll(ctx context.Context, files []media.File, namespace, ownerKey string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.uploadErr != nil {
		return nil, m.uploadErr
	}
	urls := make([]string, 0, len(files))
	for _, f := range files {
		m.seq++
		url := fmt.Sprintf("%s/%s/%s/%d-%s", m.Base, namespace, ownerKey, m.seq, f.Name)
		m.objects[url] = true
		m.Log.add(Call{Op: "upload", Namespace: namespace, Owner: ownerKey, URL: url})
		urls = append(urls, url)
	}
	return urls, nil
}

// Remove logs and forgets url. Missing objects are not an error.
func (m *Media) Remove(_ context.Context, namespace, url string) error {
	m.Log.add(Call{Op: "remove", Namespace: namespace, URL: url})
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.removeErr[url]; err != nil {
		return err
	}
	delete(m.objects, url)
	return nil
}
