package credentials

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/rs/zerolog/log"
)

// Dialog prompts for a username and password on a terminal.
type Dialog struct {
	in  io.Reader
	out io.Writer

	mu       sync.Mutex
	lastUser string
	prefill  string
}

// NewDialog returns a Dialog reading keys from in and drawing to out.
func NewDialog(in io.Reader, out io.Writer, defaultUser string) *Dialog {
	return &Dialog{in: in, out: out, lastUser: defaultUser}
}

// PrefillPassword puts password into the password field of every prompt.
func (d *Dialog) PrefillPassword(password string) {
	log.Warn().Msg("login dialog will be prefilled with a stored password")
	d.prefill = password
}

func (d *Dialog) Credentials(ctx context.Context, prev error) (Credentials, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	m := newDialogModel(d.lastUser, d.prefill, prev)
	p := tea.NewProgram(m,
		tea.WithContext(ctx),
		tea.WithInput(d.in),
		tea.WithOutput(d.out),
	)

	final, err := p.Run()
	if err != nil {
		log.Warn().Err(err).Msg("login dialog closed")
		return Credentials{}, false
	}

	dm, ok := final.(dialogModel)
	if !ok || !dm.submitted {
		return Credentials{}, false
	}

	creds := dm.credentials()
	d.lastUser = creds.User
	return creds, true
}

var (
	dialogStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("63")).
			Padding(1, 2)
	titleStyle = lipgloss.NewStyle().Bold(true)
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	hintStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

const (
	fieldUser = iota
	fieldPassword
)

type dialogModel struct {
	inputs    [2]textinput.Model
	focus     int
	prev      error
	submitted bool
	cancelled bool
}

func newDialogModel(user, password string, prev error) dialogModel {
	u := textinput.New()
	u.Prompt = "Username: "
	u.Placeholder = "database user"
	u.CharLimit = 63
	u.SetValue(user)

	pw := textinput.New()
	pw.Prompt = "Password: "
	pw.EchoMode = textinput.EchoPassword
	pw.EchoCharacter = '•'
	pw.SetValue(password)

	m := dialogModel{inputs: [2]textinput.Model{u, pw}, prev: prev}
	if user == "" || errors.Is(prev, ErrReservedUser) || errors.Is(prev, ErrEmptyUser) {
		m.focus = fieldUser
	} else {
		m.focus = fieldPassword
	}
	m.inputs[m.focus].Focus()
	return m
}

func (m dialogModel) credentials() Credentials {
	return Credentials{
		User:     strings.TrimSpace(m.inputs[fieldUser].Value()),
		Password: m.inputs[fieldPassword].Value(),
	}
}

func (m dialogModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m dialogModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if key, ok := msg.(tea.KeyMsg); ok {
		switch key.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			m.cancelled = true
			return m, tea.Quit
		case tea.KeyTab, tea.KeyShiftTab, tea.KeyUp, tea.KeyDown:
			cmd := m.setFocus(1 - m.focus)
			return m, cmd
		case tea.KeyEnter:
			if m.focus == fieldUser {
				cmd := m.setFocus(fieldPassword)
				return m, cmd
			}
			m.submitted = true
			return m, tea.Quit
		}
	}

	var cmd tea.Cmd
	m.inputs[m.focus], cmd = m.inputs[m.focus].Update(msg)
	return m, cmd
}

func (m *dialogModel) setFocus(i int) tea.Cmd {
	m.inputs[m.focus].Blur()
	m.focus = i
	return m.inputs[i].Focus()
}

func (m dialogModel) View() string {
	if m.submitted || m.cancelled {
		return ""
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("Log experiments to the database"))
	b.WriteString("\n\n")
	if m.prev != nil {
		b.WriteString(errorStyle.Render(describe(m.prev)))
		b.WriteString("\n\n")
	}
	b.WriteString(m.inputs[fieldUser].View())
	b.WriteString("\n")
	b.WriteString(m.inputs[fieldPassword].View())
	b.WriteString("\n\n")
	b.WriteString(hintStyle.Render("enter: connect • tab: switch field • esc: give up (pending records are dropped)"))

	return dialogStyle.Render(b.String())
}

func describe(err error) string {
	switch {
	case errors.Is(err, ErrReservedUser):
		return "The root account may not be used. Log in with your own database user."
	case errors.Is(err, ErrEmptyUser):
		return "Enter a username."
	case errors.Is(err, ErrConnectionFailed):
		return err.Error() + ". Try again?"
	default:
		return err.Error()
	}
}
