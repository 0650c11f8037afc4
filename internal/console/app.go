// Package console is the terminal admin UI. Every screen past sign-in is
// gated on the session provider's state; each listing kind gets its own
// record manager while its screen is open.
package console

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"

	"estatedesk/internal/auth"
	"estatedesk/internal/guard"
	"estatedesk/internal/manager"
	"estatedesk/internal/session"
	"estatedesk/pkg/listing"
)

// Auth signs staff in and out.
type Auth interface {
	SignIn(ctx context.Context, email, password string) (*auth.Session, error)
	SignOut(ctx context.Context) error
}

// Session is the read side of session.Provider.
type Session interface {
	Start(ctx context.Context)
	State() session.State
	Watch(fn func(session.State)) func()
}

// Deps wires the console to its collaborators.
type Deps struct {
	Session   Session
	Auth      Auth
	Records   manager.Records
	GuardMode guard.Mode
	Logger    *zap.Logger
}

type screen int

const (
	screenKinds screen = iota
	screenRecords
)

// sessionMsg carries a provider state change into the program.
type sessionMsg session.State

type signOutDoneMsg struct{ err error }

// Model is the root bubbletea model.
type Model struct {
	ctx  context.Context
	deps Deps
	log  *zap.Logger

	state   session.State
	spinner spinner.Model
	signIn  signInModel

	screen  screen
	kinds   []listing.Schema
	kindSel int
	records recordsModel
	hasMgr  bool

	width    int
	quitting bool
}

// New builds the root model from the provider's current state.
func New(ctx context.Context, deps Deps) Model {
	if deps.GuardMode == "" {
		deps.GuardMode = guard.ModeRedirect
	}
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("51"))
	return Model{
		ctx:     ctx,
		deps:    deps,
		log:     log,
		state:   deps.Session.State(),
		spinner: sp,
		signIn:  newSignInModel(),
		kinds:   listing.Schemas(),
	}
}

// Init starts the spinner.
func (m Model) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m.quit()
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case sessionMsg:
		return m.applySession(session.State(msg)), nil
	case signInDoneMsg:
		var cmd tea.Cmd
		m.signIn, cmd = m.signIn.Update(m.ctx, m.deps.Auth, msg)
		return m, cmd
	case signOutDoneMsg:
		if msg.err != nil {
			m.log.Warn("sign-out failed", zap.Error(msg.err))
		}
		return m, nil
	case opDoneMsg:
		if !m.hasMgr || msg.mgr != m.records.mgr {
			return m, nil
		}
		var cmd tea.Cmd
		m.records, cmd = m.records.Update(m.ctx, msg)
		return m, cmd
	}

	switch guard.Decide(m.state, m.deps.GuardMode) {
	case guard.Redirect:
		var cmd tea.Cmd
		m.signIn, cmd = m.signIn.Update(m.ctx, m.deps.Auth, msg)
		return m, cmd
	case guard.Render:
		if key, ok := msg.(tea.KeyMsg); ok {
			if m.screen == screenKinds {
				return m.updateKinds(key)
			}
			return m.updateRecords(key)
		}
	default:
		if key, ok := msg.(tea.KeyMsg); ok && key.String() == "q" {
			return m.quit()
		}
	}
	return m, nil
}

func (m Model) applySession(st session.State) Model {
	was := m.state.Authenticated()
	m.state = st
	if was && !st.Authenticated() {
		m.closeRecords()
		m.screen = screenKinds
		m.signIn = newSignInModel()
	}
	return m
}

func (m Model) updateKinds(key tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch key.String() {
	case "up", "k":
		if m.kindSel > 0 {
			m.kindSel--
		}
	case "down", "j":
		if m.kindSel < len(m.kinds)-1 {
			m.kindSel++
		}
	case "enter":
		return m.openKind(m.kinds[m.kindSel])
	case "o":
		ctx, a := m.ctx, m.deps.Auth
		return m, func() tea.Msg { return signOutDoneMsg{err: a.SignOut(ctx)} }
	case "q":
		return m.quit()
	}
	return m, nil
}

func (m Model) updateRecords(key tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.records.idle() {
		switch key.String() {
		case "esc":
			m.closeRecords()
			m.screen = screenKinds
			return m, nil
		case "q":
			return m.quit()
		}
	}
	var cmd tea.Cmd
	m.records, cmd = m.records.Update(m.ctx, key)
	return m, cmd
}

func (m Model) openKind(schema listing.Schema) (tea.Model, tea.Cmd) {
	m.closeRecords()
	mgr := manager.New(schema, m.deps.Records, m.log)
	m.records = newRecordsModel(mgr)
	m.hasMgr = true
	m.screen = screenRecords
	var cmd tea.Cmd
	m.records, cmd = m.records.refresh(m.ctx)
	return m, cmd
}

// closeRecords retires the open manager so its late replies are dropped.
func (m *Model) closeRecords() {
	if m.hasMgr {
		m.records.mgr.Close()
		m.hasMgr = false
	}
}

func (m Model) quit() (tea.Model, tea.Cmd) {
	m.closeRecords()
	m.quitting = true
	return m, tea.Quit
}

// Close releases the open manager, if any.
func (m Model) Close() {
	if m.hasMgr {
		m.records.mgr.Close()
	}
}

// View renders the model.
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	switch guard.Decide(m.state, m.deps.GuardMode) {
	case guard.Placeholder:
		return containerStyle.Render(m.spinner.View() + " Checking session…")
	case guard.Redirect:
		return m.signIn.View()
	case guard.Nothing:
		return ""
	}

	var b strings.Builder
	who := ""
	if m.state.User != nil {
		who = m.state.User.Email
	}
	b.WriteString(titleStyle.Render("estatedesk") + " " + dimStyle.Render(who) + "\n\n")
	if m.screen == screenRecords && m.hasMgr {
		b.WriteString(m.records.View(m.spinner.View()))
		return b.String()
	}
	b.WriteString(sectionStyle.Render("Listings") + "\n")
	for i, s := range m.kinds {
		line := fmt.Sprintf("  %s", s.Title)
		if i == m.kindSel {
			line = selectedStyle.Render("> " + s.Title)
		}
		b.WriteString(line + "\n")
	}
	b.WriteString(footer("↑/↓", "select", "enter", "open", "o", "sign out", "q", "quit"))
	return b.String()
}

// Run starts the provider and the program and blocks until the user quits or
// ctx is cancelled.
func Run(ctx context.Context, deps Deps, opts ...tea.ProgramOption) error {
	m := New(ctx, deps)
	p := tea.NewProgram(m, append([]tea.ProgramOption{tea.WithAltScreen(), tea.WithContext(ctx)}, opts...)...)

	stop := deps.Session.Watch(func(st session.State) { p.Send(sessionMsg(st)) })
	defer stop()
	deps.Session.Start(ctx)

	final, err := p.Run()
	if fm, ok := final.(Model); ok {
		fm.Close()
	}
	if err != nil && errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
