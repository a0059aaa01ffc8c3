package credentials

import (
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
)

func typeText(m tea.Model, s string) tea.Model {
	m, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)})
	return m
}

func press(m tea.Model, k tea.KeyType) tea.Model {
	m, _ = m.Update(tea.KeyMsg{Type: k})
	return m
}

func TestDialogModel_Submit(t *testing.T) {
	var m tea.Model = newDialogModel("", "", nil)

	m = typeText(m, "alice")
	m = press(m, tea.KeyEnter)
	m = typeText(m, "hunter2")
	m = press(m, tea.KeyEnter)

	dm := m.(dialogModel)
	if !dm.submitted {
		t.Fatal("dialog not submitted after enter on password field")
	}
	got := dm.credentials()
	if got.User != "alice" || got.Password != "hunter2" {
		t.Errorf("credentials = %+v, want alice/hunter2", got)
	}
}

func TestDialogModel_FocusesPasswordWhenUserKnown(t *testing.T) {
	dm := newDialogModel("alice", "", nil)
	if dm.focus != fieldPassword {
		t.Errorf("focus = %d, want password field", dm.focus)
	}

	dm = newDialogModel("root", "", ErrReservedUser)
	if dm.focus != fieldUser {
		t.Errorf("focus after reserved user = %d, want user field", dm.focus)
	}
}

func TestDialogModel_Cancel(t *testing.T) {
	for _, k := range []tea.KeyType{tea.KeyEsc, tea.KeyCtrlC} {
		var m tea.Model = newDialogModel("alice", "", nil)
		m = press(m, k)
		dm := m.(dialogModel)
		if !dm.cancelled || dm.submitted {
			t.Errorf("key %v: cancelled=%v submitted=%v, want cancelled", k, dm.cancelled, dm.submitted)
		}
	}
}

func TestDialogModel_TabSwitchesField(t *testing.T) {
	var m tea.Model = newDialogModel("alice", "", nil)
	m = press(m, tea.KeyTab)
	if m.(dialogModel).focus != fieldUser {
		t.Fatalf("focus after tab = %d, want user field", m.(dialogModel).focus)
	}
	m = typeText(m, "2")
	if got := m.(dialogModel).credentials().User; got != "alice2" {
		t.Errorf("user = %q, want alice2", got)
	}
}

func TestDialogModel_PrefillIsMasked(t *testing.T) {
	dm := newDialogModel("alice", "rigpass", nil)
	if got := dm.credentials().Password; got != "rigpass" {
		t.Errorf("password = %q, want prefilled rigpass", got)
	}
	if strings.Contains(dm.View(), "rigpass") {
		t.Error("view shows the password in clear text")
	}
}

func TestDialogModel_ViewShowsReason(t *testing.T) {
	dm := newDialogModel("root", "", ErrReservedUser)
	if !strings.Contains(dm.View(), "root account may not be used") {
		t.Errorf("view does not explain the refusal:\n%s", dm.View())
	}

	dm = newDialogModel("alice", "", errors.Join(ErrConnectionFailed, errors.New("timeout")))
	if !strings.Contains(dm.View(), "Try again?") {
		t.Errorf("view does not offer a retry:\n%s", dm.View())
	}
}
