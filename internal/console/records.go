package console

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"estatedesk/internal/manager"
	"estatedesk/internal/media"
	"estatedesk/pkg/listing"
)

// opDoneMsg reports a finished async manager call. mgr identifies the screen
// that issued it so replies for a closed screen are dropped.
type opDoneMsg struct {
	mgr *manager.Manager
	err error
}

const tableHeight = 12

// recordsModel is the per-kind screen over one manager.
type recordsModel struct {
	mgr       *manager.Manager
	table     table.Model
	inputs    []textinput.Model
	imagePath textinput.Model
	focus     int
	imageSel  int
	formKey   string
	inFlight  bool
	notice    string
}

func newRecordsModel(mgr *manager.Manager) recordsModel {
	schema := mgr.Schema()
	cols := make([]table.Column, 0, len(schema.Fields)+2)
	for _, f := range schema.Fields {
		w := 16
		if f.Type == listing.FieldNumber {
			w = 12
		}
		cols = append(cols, table.Column{Title: f.Label, Width: w})
	}
	cols = append(cols,
		table.Column{Title: "Images", Width: 6},
		table.Column{Title: "Created", Width: 16},
	)
	t := table.New(
		table.WithColumns(cols),
		table.WithFocused(true),
		table.WithHeight(tableHeight),
	)

	path := textinput.New()
	path.Placeholder = "/path/to/photo.jpg, /path/to/other.png"
	path.Width = 48

	return recordsModel{mgr: mgr, table: t, imagePath: path}
}

// refresh loads the list for a freshly opened screen.
func (m recordsModel) refresh(ctx context.Context) (recordsModel, tea.Cmd) {
	return m.run(ctx, m.mgr.Refresh)
}

func (m recordsModel) run(ctx context.Context, fn func(context.Context) error) (recordsModel, tea.Cmd) {
	m.inFlight = true
	m.notice = ""
	mgr := m.mgr
	return m, func() tea.Msg { return opDoneMsg{mgr: mgr, err: fn(ctx)} }
}

// idle reports whether the screen shows the plain list, where leaving the
// screen is allowed even with a request in flight.
func (m recordsModel) idle() bool {
	return m.mgr.View().Mode == manager.ModeList
}

func (m recordsModel) Update(ctx context.Context, msg tea.Msg) (recordsModel, tea.Cmd) {
	switch msg := msg.(type) {
	case opDoneMsg:
		m.inFlight = false
		if msg.err != nil && errors.Is(msg.err, manager.ErrBusy) {
			m.notice = "another action is still running"
		}
		m.sync()
		return m, nil
	case tea.KeyMsg:
		if m.inFlight {
			return m, nil
		}
		v := m.mgr.View()
		switch v.Mode {
		case manager.ModeList:
			return m.updateList(ctx, msg, v)
		case manager.ModeCreating, manager.ModeEditing:
			return m.updateForm(ctx, msg, v)
		case manager.ModeDeleting:
			return m.updateConfirm(ctx, msg)
		}
	}
	return m, nil
}

func (m recordsModel) updateList(ctx context.Context, msg tea.KeyMsg, v manager.View) (recordsModel, tea.Cmd) {
	switch msg.String() {
	case "n":
		m.note(m.mgr.StartCreate())
		m.sync()
		return m, nil
	case "e", "enter":
		if rec, ok := m.selected(v); ok {
			m.note(m.mgr.StartEdit(rec.ID))
			m.sync()
		}
		return m, nil
	case "d", "delete":
		if rec, ok := m.selected(v); ok {
			m.note(m.mgr.RequestDelete(rec.ID))
			m.sync()
		}
		return m, nil
	case "r":
		return m.run(ctx, m.mgr.Refresh)
	}
	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m recordsModel) updateForm(ctx context.Context, msg tea.KeyMsg, v manager.View) (recordsModel, tea.Cmd) {
	fields := len(m.inputs)
	imagesFocus := fields + 1
	switch msg.String() {
	case "esc":
		m.mgr.Cancel()
		m.sync()
		return m, nil
	case "ctrl+s":
		return m.run(ctx, m.mgr.Submit)
	case "tab", "down":
		if !(msg.String() == "down" && m.focus == imagesFocus) {
			m.setFocus(m.focus+1, v)
			return m, nil
		}
	case "shift+tab", "up":
		if !(msg.String() == "up" && m.focus == imagesFocus) {
			m.setFocus(m.focus-1, v)
			return m, nil
		}
	case "enter":
		if m.focus == fields {
			files := splitPaths(m.imagePath.Value())
			if len(files) == 0 {
				return m, nil
			}
			m.imagePath.SetValue("")
			return m.run(ctx, func(ctx context.Context) error { return m.mgr.AddImages(ctx, files) })
		}
		if m.focus < fields {
			m.setFocus(m.focus+1, v)
		}
		return m, nil
	}

	if m.focus == imagesFocus && v.Draft != nil {
		switch msg.String() {
		case "up":
			if m.imageSel > 0 {
				m.imageSel--
			}
		case "down":
			if m.imageSel < len(v.Draft.Images)-1 {
				m.imageSel++
			}
		case "x", "delete", "backspace":
			if m.imageSel < len(v.Draft.Images) {
				url := v.Draft.Images[m.imageSel]
				return m.run(ctx, func(ctx context.Context) error { return m.mgr.RemoveImage(ctx, url) })
			}
		}
		return m, nil
	}

	var cmd tea.Cmd
	if m.focus == fields {
		m.imagePath, cmd = m.imagePath.Update(msg)
		return m, cmd
	}
	if m.focus < fields {
		m.inputs[m.focus], cmd = m.inputs[m.focus].Update(msg)
		name := m.mgr.Schema().Fields[m.focus].Name
		m.note(m.mgr.SetField(name, m.inputs[m.focus].Value()))
	}
	return m, cmd
}

func (m recordsModel) updateConfirm(ctx context.Context, msg tea.KeyMsg) (recordsModel, tea.Cmd) {
	switch msg.String() {
	case "y", "Y":
		return m.run(ctx, m.mgr.ConfirmDelete)
	case "n", "N", "esc":
		m.mgr.Cancel()
		m.sync()
	}
	return m, nil
}

// sync pulls the manager's view into the widgets.
func (m *recordsModel) sync() {
	v := m.mgr.View()
	rows := make([]table.Row, len(v.Records))
	for i, r := range v.Records {
		rows[i] = recordRow(v.Schema, r)
	}
	m.table.SetRows(rows)
	if c := m.table.Cursor(); c >= len(rows) && len(rows) > 0 {
		m.table.SetCursor(len(rows) - 1)
	}

	if v.Draft == nil {
		m.inputs = nil
		m.formKey = ""
		return
	}
	key := v.Mode.String() + ":" + v.Draft.ID
	if key != m.formKey {
		m.formKey = key
		m.inputs = make([]textinput.Model, len(v.Schema.Fields))
		for i, f := range v.Schema.Fields {
			in := textinput.New()
			in.Placeholder = f.Label
			in.Width = 40
			in.CharLimit = 200
			in.SetValue(v.Draft.Inputs[f.Name])
			m.inputs[i] = in
		}
		m.imagePath.SetValue("")
		m.imageSel = 0
		m.setFocus(0, v)
	}
	if m.imageSel >= len(v.Draft.Images) {
		m.imageSel = max(0, len(v.Draft.Images)-1)
	}
}

func (m *recordsModel) setFocus(i int, v manager.View) {
	last := len(m.inputs)
	if v.Draft != nil && len(v.Draft.Images) > 0 {
		last++
	}
	if i < 0 {
		i = last
	}
	if i > last {
		i = 0
	}
	m.focus = i
	for j := range m.inputs {
		if j == i {
			m.inputs[j].Focus()
		} else {
			m.inputs[j].Blur()
		}
	}
	if i == len(m.inputs) {
		m.imagePath.Focus()
	} else {
		m.imagePath.Blur()
	}
}

func (m *recordsModel) note(err error) {
	switch {
	case err == nil:
		m.notice = ""
	case errors.Is(err, manager.ErrClosed):
	default:
		m.notice = err.Error()
	}
}

func (m recordsModel) selected(v manager.View) (listing.Record, bool) {
	i := m.table.Cursor()
	if i < 0 || i >= len(v.Records) {
		return listing.Record{}, false
	}
	return v.Records[i], true
}

func (m recordsModel) View(spin string) string {
	v := m.mgr.View()
	var b strings.Builder
	title := fmt.Sprintf("%s · %d", v.Schema.Title, len(v.Records))
	b.WriteString(titleStyle.Render(title))
	if v.Busy || m.inFlight {
		b.WriteString(" " + spin + dimStyle.Render(" working…"))
	}
	b.WriteString("\n")
	if v.Banner != "" {
		b.WriteString(bannerStyle.Render(v.Banner) + "\n")
	}
	if m.notice != "" {
		b.WriteString(fieldErrorStyle.Render(m.notice) + "\n")
	}

	switch v.Mode {
	case manager.ModeCreating, manager.ModeEditing:
		b.WriteString(m.formView(v))
	case manager.ModeDeleting:
		b.WriteString(m.table.View() + "\n")
		b.WriteString(confirmView(v))
	default:
		if !v.Loaded {
			b.WriteString(dimStyle.Render("loading…") + "\n")
		} else if len(v.Records) == 0 {
			b.WriteString(dimStyle.Render("no records yet") + "\n")
		} else {
			b.WriteString(m.table.View() + "\n")
		}
		b.WriteString(footer("n", "new", "e", "edit", "d", "delete", "r", "refresh", "esc", "kinds", "q", "quit"))
	}
	return b.String()
}

func (m recordsModel) formView(v manager.View) string {
	var b strings.Builder
	heading := "New record"
	if v.Mode == manager.ModeEditing {
		heading = "Edit record"
	}
	b.WriteString(sectionStyle.Render(heading) + "\n")
	for i, f := range v.Schema.Fields {
		label := f.Label
		if f.Required {
			label += " *"
		}
		line := labelStyle.Render(label)
		if i < len(m.inputs) {
			line += m.inputs[i].View()
		}
		if msg, ok := v.FieldErrors[f.Name]; ok {
			line += " " + fieldErrorStyle.Render(msg)
		}
		b.WriteString(line + "\n")
	}

	b.WriteString(sectionStyle.Render("Images") + "\n")
	b.WriteString(labelStyle.Render("Add from path") + m.imagePath.View() + "\n")
	if v.Draft != nil {
		if len(v.Draft.Images) == 0 {
			b.WriteString(dimStyle.Render("no images") + "\n")
		}
		for i, u := range v.Draft.Images {
			marker := "  "
			style := dimStyle
			if m.focus == len(m.inputs)+1 && i == m.imageSel {
				marker = "> "
				style = selectedStyle
			}
			b.WriteString(style.Render(marker+u) + "\n")
		}
	}
	b.WriteString(footer("tab", "next field", "enter", "add images", "x", "remove image", "ctrl+s", "save", "esc", "cancel"))
	return b.String()
}

func confirmView(v manager.View) string {
	if v.PendingDelete == nil {
		return ""
	}
	rec := v.PendingDelete
	name := rec.Text["project"]
	if name == "" {
		name = rec.ID
	}
	body := fmt.Sprintf("Delete %q and its %d image(s)?\n\n", name, len(rec.Images)) +
		footer("y", "delete", "n", "keep")
	return dialogStyle.Render(body)
}

func recordRow(schema listing.Schema, r listing.Record) table.Row {
	row := make(table.Row, 0, len(schema.Fields)+2)
	for _, f := range schema.Fields {
		switch f.Type {
		case listing.FieldNumber:
			if n, ok := r.Numbers[f.Name]; ok {
				row = append(row, strconv.FormatFloat(n, 'f', -1, 64))
			} else {
				row = append(row, "")
			}
		default:
			row = append(row, r.Text[f.Name])
		}
	}
	created := ""
	if !r.CreatedAt.IsZero() {
		created = r.CreatedAt.Local().Format("2006-01-02 15:04")
	}
	return append(row, strconv.Itoa(len(r.Images)), created)
}

func splitPaths(raw string) []media.File {
	var files []media.File
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			files = append(files, media.FromPath(p))
		}
	}
	return files
}
