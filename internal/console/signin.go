package console

import (
	"context"
	"errors"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"estatedesk/internal/auth"
)

// signInDoneMsg reports the outcome of a sign-in attempt. A successful
// attempt also arrives as a session change through the provider.
type signInDoneMsg struct{ err error }

type signInModel struct {
	email    textinput.Model
	password textinput.Model
	focus    int
	pending  bool
	err      string
}

func newSignInModel() signInModel {
	email := textinput.New()
	email.Placeholder = "staff@example.com"
	email.CharLimit = 254
	email.Width = 40
	email.Focus()

	pw := textinput.New()
	pw.Placeholder = "password"
	pw.EchoMode = textinput.EchoPassword
	pw.EchoCharacter = '•'
	pw.CharLimit = 128
	pw.Width = 40

	return signInModel{email: email, password: pw}
}

func (m signInModel) Update(ctx context.Context, a Auth, msg tea.Msg) (signInModel, tea.Cmd) {
	switch msg := msg.(type) {
	case signInDoneMsg:
		m.pending = false
		if msg.err != nil {
			m.err = signInError(msg.err)
			m.password.SetValue("")
			return m, nil
		}
		m.err = ""
		m.password.SetValue("")
		return m, nil
	case tea.KeyMsg:
		if m.pending {
			return m, nil
		}
		switch msg.String() {
		case "tab", "shift+tab", "up", "down":
			m.setFocus(1 - m.focus)
			return m, nil
		case "enter":
			if m.focus == 0 {
				m.setFocus(1)
				return m, nil
			}
			email := strings.TrimSpace(m.email.Value())
			pw := m.password.Value()
			if email == "" || pw == "" {
				m.err = "email and password are required"
				return m, nil
			}
			m.pending = true
			m.err = ""
			return m, func() tea.Msg {
				_, err := a.SignIn(ctx, email, pw)
				return signInDoneMsg{err: err}
			}
		}
	}
	var cmd tea.Cmd
	if m.focus == 0 {
		m.email, cmd = m.email.Update(msg)
	} else {
		m.password, cmd = m.password.Update(msg)
	}
	return m, cmd
}

func (m *signInModel) setFocus(i int) {
	m.focus = i
	if i == 0 {
		m.email.Focus()
		m.password.Blur()
		return
	}
	m.email.Blur()
	m.password.Focus()
}

func (m signInModel) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("estatedesk · sign in"))
	b.WriteString("\n\n")
	b.WriteString(labelStyle.Render("Email") + m.email.View() + "\n")
	b.WriteString(labelStyle.Render("Password") + m.password.View() + "\n")
	if m.pending {
		b.WriteString("\n" + dimStyle.Render("signing in…") + "\n")
	}
	if m.err != "" {
		b.WriteString("\n" + bannerStyle.Render(m.err) + "\n")
	}
	b.WriteString(footer("tab", "switch field", "enter", "sign in", "ctrl+c", "quit"))
	return containerStyle.Render(b.String())
}

func signInError(err error) string {
	if errors.Is(err, auth.ErrInvalidCredentials) {
		return "Invalid email or password"
	}
	return err.Error()
}
