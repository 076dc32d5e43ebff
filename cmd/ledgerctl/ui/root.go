package ui

import tea "github.com/charmbracelet/bubbletea"

type state int

const (
	stateLogin state = iota
	stateQueue
)

type RootModel struct {
	State   state
	Session *Session
	Login   LoginModel
	Queue   QueueModel
	height  int
}

func NewRootModel(baseURL, deviceID string) RootModel {
	s := NewSession(baseURL)
	return RootModel{State: stateLogin, Session: s, Login: NewLoginModel(s, deviceID)}
}

func (m RootModel) Init() tea.Cmd { return m.Login.Init() }

func (m RootModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.height = msg.Height
		if m.State == stateQueue {
			m.Queue.Table.SetHeight(msg.Height - 10)
		}
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC {
			return m, tea.Quit
		}
	case loggedInMsg:
		m.State = stateQueue
		m.Queue = NewQueueModel(m.Session, msg.DeviceID, m.height)
		return m, m.Queue.Init()
	}

	var cmd tea.Cmd
	switch m.State {
	case stateLogin:
		m.Login, cmd = m.Login.Update(msg)
	case stateQueue:
		m.Queue, cmd = m.Queue.Update(msg)
	}
	return m, cmd
}

func (m RootModel) View() string {
	if m.State == stateQueue {
		return m.Queue.View()
	}
	return m.Login.View()
}
