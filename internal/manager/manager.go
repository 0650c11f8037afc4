// Package manager holds the per-kind record manager: the cached list, the
// open edit draft, the pending delete and the error banner. Every async step
// re-checks that the manager is still open before it commits state.
package manager

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"estatedesk/internal/media"
	"estatedesk/pkg/listing"
)

var (
	// ErrClosed is returned when a step completes after Close.
	ErrClosed = errors.New("manager: closed")
	// ErrBusy is returned when an action starts while another is in flight.
	ErrBusy = errors.New("manager: another action is in progress")
	// ErrNoDraft is returned by form actions when no form is open.
	ErrNoDraft = errors.New("manager: no open form")
)

// Mode is the manager's state.
type Mode int

const (
	// ModeList shows the table.
	ModeList Mode = iota
	// ModeCreating edits a blank draft.
	ModeCreating
	// ModeEditing edits a copy of a stored record.
	ModeEditing
	// ModeDeleting awaits delete confirmation.
	ModeDeleting
)

func (m Mode) String() string {
	switch m {
	case ModeList:
		return "list"
	case ModeCreating:
		return "creating"
	case ModeEditing:
		return "editing"
	case ModeDeleting:
		return "deleting"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Records is the orchestration surface the manager drives.
type Records interface {
	List(ctx context.Context, schema listing.Schema) ([]listing.Record, error)
	Create(ctx context.Context, schema listing.Schema, values listing.Values, images []string) (listing.Record, error)
	Update(ctx context.Context, schema listing.Schema, id string, values listing.Values) error
	AttachImages(ctx context.Context, schema listing.Schema, id string, current []string, files []media.File) ([]string, error)
	DetachImage(ctx context.Context, schema listing.Schema, id string, current []string, url string) ([]string, error)
	Delete(ctx context.Context, schema listing.Schema, rec listing.Record) error
}

// View is an immutable snapshot for rendering.
type View struct {
	Schema        listing.Schema
	Mode          Mode
	Records       []listing.Record
	Loaded        bool
	Draft         *listing.Draft
	FieldErrors   map[string]string
	PendingDelete *listing.Record
	Banner        string
	Busy          bool
}

// Manager is the record manager for one listing kind.
type Manager struct {
	schema listing.Schema
	svc    Records
	log    *zap.Logger

	mu        sync.Mutex
	mode      Mode
	records   []listing.Record
	loaded    bool
	draft     *listing.Draft
	fieldErrs map[string]string
	pending   *listing.Record
	banner    string
	busy      bool
	closed    bool
}

// New creates a manager in list mode. Call Refresh to load records.
func New(schema listing.Schema, svc Records, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{schema: schema, svc: svc, log: log.With(zap.String("kind", string(schema.Kind)))}
}

// Schema returns the kind configuration.
func (m *Manager) Schema() listing.Schema { return m.schema }

// View returns a snapshot of the current state.
func (m *Manager) View() View {
	m.mu.Lock()
	defer m.mu.Unlock()
	v := View{
		Schema:  m.schema,
		Mode:    m.mode,
		Loaded:  m.loaded,
		Banner:  m.banner,
		Busy:    m.busy,
		Records: make([]listing.Record, len(m.records)),
	}
	for i, r := range m.records {
		v.Records[i] = r.Clone()
	}
	if m.draft != nil {
		v.Draft = m.draft.Clone()
	}
	if len(m.fieldErrs) > 0 {
		v.FieldErrors = make(map[string]string, len(m.fieldErrs))
		for k, msg := range m.fieldErrs {
			v.FieldErrors[k] = msg
		}
	}
	if m.pending != nil {
		p := m.pending.Clone()
		v.PendingDelete = &p
	}
	return v
}

// Close marks the manager dead; later completions are dropped.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
}

// Refresh refetches the list.
func (m *Manager) Refresh(ctx context.Context) error {
	if err := m.begin(); err != nil {
		return err
	}
	return m.refetch(ctx, nil)
}

// StartCreate opens a blank form.
func (m *Manager) StartCreate() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.ready(); err != nil {
		return err
	}
	m.banner = ""
	m.fieldErrs = nil
	m.pending = nil
	m.draft = listing.NewDraft(m.schema)
	m.mode = ModeCreating
	return nil
}

// StartEdit opens a form over the cached record with id.
func (m *Manager) StartEdit(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.ready(); err != nil {
		return err
	}
	m.banner = ""
	rec, ok := m.find(id)
	if !ok {
		return fmt.Errorf("%s %s: %w", m.schema.Table, id, listing.ErrNotFound)
	}
	m.fieldErrs = nil
	m.pending = nil
	m.draft = listing.DraftFrom(m.schema, rec)
	m.mode = ModeEditing
	return nil
}

// SetField updates one raw input of the open draft.
func (m *Manager) SetField(name, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if m.draft == nil {
		return ErrNoDraft
	}
	if _, ok := m.schema.Field(name); !ok {
		return fmt.Errorf("%s: unknown field %q", m.schema.Kind, name)
	}
	m.draft.Set(name, value)
	delete(m.fieldErrs, name)
	return nil
}

// Cancel discards the draft or pending delete and returns to the list.
func (m *Manager) Cancel() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.busy {
		return
	}
	m.draft = nil
	m.pending = nil
	m.fieldErrs = nil
	m.banner = ""
	m.mode = ModeList
}

// Submit validates the draft and creates or updates the record. Validation
// and backend failures keep the form open; success refetches and closes it.
func (m *Manager) Submit(ctx context.Context) error {
	m.mu.Lock()
	if err := m.ready(); err != nil {
		m.mu.Unlock()
		return err
	}
	if m.draft == nil || (m.mode != ModeCreating && m.mode != ModeEditing) {
		m.mu.Unlock()
		return ErrNoDraft
	}
	m.banner = ""
	draft := m.draft.Clone()
	values, err := draft.Values(m.schema)
	if err != nil {
		var verr *listing.ValidationError
		if errors.As(err, &verr) {
			m.fieldErrs = make(map[string]string, len(verr.Fields))
			for _, fe := range verr.Fields {
				m.fieldErrs[fe.Field] = fe.Message
			}
		}
		m.banner = err.Error()
		m.mu.Unlock()
		return err
	}
	m.fieldErrs = nil
	m.busy = true
	m.mu.Unlock()

	if draft.IsNew() {
		_, err = m.svc.Create(ctx, m.schema, values, draft.Images)
	} else {
		err = m.svc.Update(ctx, m.schema, draft.ID, values)
	}
	if err != nil {
		return m.fail(err)
	}
	return m.refetch(ctx, func() {
		m.draft = nil
		m.mode = ModeList
	})
}

// AddImages uploads files and appends them to the draft. For a stored record
// the new image list is persisted immediately.
func (m *Manager) AddImages(ctx context.Context, files []media.File) error {
	if len(files) == 0 {
		return nil
	}
	draft, err := m.beginDraft()
	if err != nil {
		return err
	}
	merged, err := m.svc.AttachImages(ctx, m.schema, draft.ID, draft.Images, files)
	if err != nil {
		return m.fail(err)
	}
	return m.commitImages(draft.ID, merged)
}

// RemoveImage deletes url from storage, then from the draft, persisting the
// shortened list for a stored record.
func (m *Manager) RemoveImage(ctx context.Context, url string) error {
	draft, err := m.beginDraft()
	if err != nil {
		return err
	}
	remaining, err := m.svc.DetachImage(ctx, m.schema, draft.ID, draft.Images, url)
	if err != nil {
		return m.fail(err)
	}
	return m.commitImages(draft.ID, remaining)
}

// RequestDelete asks for confirmation before deleting the record with id.
func (m *Manager) RequestDelete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.ready(); err != nil {
		return err
	}
	m.banner = ""
	rec, ok := m.find(id)
	if !ok {
		return fmt.Errorf("%s %s: %w", m.schema.Table, id, listing.ErrNotFound)
	}
	m.draft = nil
	m.fieldErrs = nil
	m.pending = &rec
	m.mode = ModeDeleting
	return nil
}

// ConfirmDelete deletes the pending record and its images, then refetches.
// The list is refetched even when the delete fails.
func (m *Manager) ConfirmDelete(ctx context.Context) error {
	m.mu.Lock()
	if err := m.ready(); err != nil {
		m.mu.Unlock()
		return err
	}
	if m.mode != ModeDeleting || m.pending == nil {
		m.mu.Unlock()
		return errors.New("manager: nothing to delete")
	}
	rec := m.pending.Clone()
	m.banner = ""
	m.busy = true
	m.mu.Unlock()

	delErr := m.svc.Delete(ctx, m.schema, rec)
	err := m.refetch(ctx, func() {
		m.pending = nil
		m.mode = ModeList
		if delErr != nil {
			m.banner = delErr.Error()
		}
	})
	if delErr != nil {
		if errors.Is(err, ErrClosed) {
			return err
		}
		return delErr
	}
	return err
}

// ready reports whether a new action may start. Callers hold mu.
func (m *Manager) ready() error {
	if m.closed {
		return ErrClosed
	}
	if m.busy {
		return ErrBusy
	}
	return nil
}

func (m *Manager) begin() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.ready(); err != nil {
		return err
	}
	m.banner = ""
	m.busy = true
	return nil
}

func (m *Manager) beginDraft() (*listing.Draft, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.ready(); err != nil {
		return nil, err
	}
	if m.draft == nil {
		return nil, ErrNoDraft
	}
	m.banner = ""
	m.busy = true
	return m.draft.Clone(), nil
}

// commitImages stores images on the draft and mirrors them into the cached record.
func (m *Manager) commitImages(id string, images []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.busy = false
	if m.draft != nil && m.draft.ID == id {
		m.draft.Images = append([]string{}, images...)
	}
	if id != "" {
		for i := range m.records {
			if m.records[i].ID == id {
				m.records[i].Images = append([]string{}, images...)
			}
		}
	}
	return nil
}

// refetch reloads the list; onDone runs under the lock before the list is stored.
func (m *Manager) refetch(ctx context.Context, onDone func()) error {
	rows, err := m.svc.List(ctx, m.schema)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.busy = false
	if onDone != nil {
		onDone()
	}
	if err != nil {
		m.banner = err.Error()
		m.log.Warn("list refresh failed", zap.Error(err))
		return err
	}
	m.records = rows
	m.loaded = true
	return nil
}

func (m *Manager) fail(err error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.busy = false
	m.banner = err.Error()
	return err
}

func (m *Manager) find(id string) (listing.Record, bool) {
	for _, r := range m.records {
		if r.ID == id {
			return r.Clone(), true
		}
	}
	return listing.Record{}, false
}
