package ui

import (
	"context"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
)

const (
	inputURL = iota
	inputDevice
	inputUsername
	inputPassword
)

type LoginModel struct {
	Session  *Session
	Inputs   []textinput.Model
	FocusIdx int
	Err      error
}

type loggedInMsg struct{ DeviceID string }

type errMsg struct{ err error }

func NewLoginModel(s *Session, deviceID string) LoginModel {
	inputs := make([]textinput.Model, 4)

	inputs[inputURL] = textinput.New()
	inputs[inputURL].Prompt = "Ledger:   "
	inputs[inputURL].SetValue(s.BaseURL)
	inputs[inputURL].Focus()

	inputs[inputDevice] = textinput.New()
	inputs[inputDevice].Prompt = "Device:   "
	inputs[inputDevice].Placeholder = "device-0001"
	inputs[inputDevice].SetValue(deviceID)

	inputs[inputUsername] = textinput.New()
	inputs[inputUsername].Prompt = "Username: "
	inputs[inputUsername].Placeholder = "admin"

	inputs[inputPassword] = textinput.New()
	inputs[inputPassword].Prompt = "Password: "
	inputs[inputPassword].EchoMode = textinput.EchoPassword

	return LoginModel{Session: s, Inputs: inputs}
}

func (m LoginModel) Init() tea.Cmd { return textinput.Blink }

func (m LoginModel) Update(msg tea.Msg) (LoginModel, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyEnter:
			if m.FocusIdx == len(m.Inputs)-1 {
				return m, m.loginCmd()
			}
			m.move(1)
		case tea.KeyTab, tea.KeyDown:
			m.move(1)
		case tea.KeyShiftTab, tea.KeyUp:
			m.move(-1)
		}
	case errMsg:
		m.Err = msg.err
	}

	cmds := make([]tea.Cmd, len(m.Inputs))
	for i := range m.Inputs {
		m.Inputs[i], cmds[i] = m.Inputs[i].Update(msg)
	}
	return m, tea.Batch(cmds...)
}

func (m *LoginModel) move(delta int) {
	m.Inputs[m.FocusIdx].Blur()
	m.FocusIdx = (m.FocusIdx + delta + len(m.Inputs)) % len(m.Inputs)
	m.Inputs[m.FocusIdx].Focus()
}

func (m LoginModel) loginCmd() tea.Cmd {
	base := strings.TrimRight(m.Inputs[inputURL].Value(), "/")
	device := strings.TrimSpace(m.Inputs[inputDevice].Value())
	user := m.Inputs[inputUsername].Value()
	pass := m.Inputs[inputPassword].Value()
	s := m.Session
	return func() tea.Msg {
		if device == "" {
			return errMsg{errDeviceRequired}
		}
		s.BaseURL = base
		if err := s.Login(context.Background(), user, pass); err != nil {
			return errMsg{err}
		}
		return loggedInMsg{DeviceID: device}
	}
}

func (m LoginModel) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Fleet Steward - Ledger Console") + "\n\n")
	for i := range m.Inputs {
		style := blurredStyle
		if i == m.FocusIdx {
			style = focusedStyle
		}
		b.WriteString(style.Render(m.Inputs[i].View()) + "\n")
	}
	b.WriteString("\n" + blurredStyle.Render("Tab to change fields, Enter to log in"))
	if m.Err != nil {
		b.WriteString("\n\n" + errorMessageStyle(m.Err.Error()))
	}
	return b.String()
}
