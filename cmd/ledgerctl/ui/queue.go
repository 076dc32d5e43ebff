package ui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"fleet-steward/backend/app/dto"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var errDeviceRequired = errors.New("device id is required")

// QueueModel shows one device's command queue.
type QueueModel struct {
	Session  *Session
	DeviceID string
	Table    table.Model
	Commands []dto.CommandResponse
	Status   string
	Err      error
}

type queueLoadedMsg struct{ cmds []dto.CommandResponse }

type enqueuedMsg struct{ cmd *dto.CommandResponse }

func NewQueueModel(s *Session, deviceID string, height int) QueueModel {
	columns := []table.Column{
		{Title: "ID", Width: 36},
		{Title: "Type", Width: 15},
		{Title: "Status", Width: 8},
		{Title: "Created", Width: 19},
		{Title: "Result", Width: 40},
	}
	if height <= 12 {
		height = 22
	}
	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(true),
		table.WithHeight(height-10),
	)
	st := table.DefaultStyles()
	st.Header = st.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(false)
	st.Selected = st.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)
	t.SetStyles(st)
	return QueueModel{Session: s, DeviceID: deviceID, Table: t}
}

func (m QueueModel) Init() tea.Cmd { return m.refresh() }

func (m QueueModel) refresh() tea.Cmd {
	s, dev := m.Session, m.DeviceID
	return func() tea.Msg {
		cmds, err := s.Queue(context.Background(), dev)
		if err != nil {
			return errMsg{err}
		}
		return queueLoadedMsg{cmds: cmds}
	}
}

func (m QueueModel) enqueue(typ string, payload any) tea.Cmd {
	s, dev := m.Session, m.DeviceID
	return func() tea.Msg {
		cmd, err := s.Enqueue(context.Background(), dev, typ, payload)
		if err != nil {
			return errMsg{err}
		}
		return enqueuedMsg{cmd: cmd}
	}
}

func (m QueueModel) Update(msg tea.Msg) (QueueModel, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "r":
			return m, m.refresh()
		case "b":
			return m, m.enqueue("REBOOT", map[string]string{"reason": "requested from ledger console"})
		case "p":
			return m, m.enqueue("APPLY_POLICY", map[string]any{})
		case "l":
			return m, m.enqueue("COLLECT_LOGS", map[string]int{"lines": 50})
		case "s":
			return m, m.enqueue("SYNC_INVENTORY", map[string]any{})
		case "q":
			return m, tea.Quit
		}
	case queueLoadedMsg:
		m.Err = nil
		m.Commands = msg.cmds
		m.Table.SetRows(rows(msg.cmds))
		m.Status = fmt.Sprintf("%d commands, refreshed %s", len(msg.cmds), time.Now().Format("15:04:05"))
		return m, nil
	case enqueuedMsg:
		m.Status = fmt.Sprintf("queued %s %s", msg.cmd.Type, msg.cmd.ID)
		return m, m.refresh()
	case errMsg:
		m.Err = msg.err
		return m, nil
	}
	var cmd tea.Cmd
	m.Table, cmd = m.Table.Update(msg)
	return m, cmd
}

func rows(cmds []dto.CommandResponse) []table.Row {
	out := make([]table.Row, 0, len(cmds))
	for _, c := range cmds {
		result := c.ResultMessage
		if c.ResultCode != "" {
			result = c.ResultCode + ": " + result
		}
		out = append(out, table.Row{
			c.ID,
			c.Type,
			c.Status,
			c.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			strings.ReplaceAll(result, "\n", " "),
		})
	}
	return out
}

// Selected returns the highlighted command, nil when the queue is empty.
func (m QueueModel) Selected() *dto.CommandResponse {
	i := m.Table.Cursor()
	if i < 0 || i >= len(m.Commands) {
		return nil
	}
	return &m.Commands[i]
}

func (m QueueModel) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Command queue - "+m.DeviceID) + "\n\n")
	b.WriteString(m.Table.View() + "\n\n")
	if c := m.Selected(); c != nil {
		b.WriteString(fmt.Sprintf("%s  %s\n", renderStatus(c.Status), string(c.Payload)))
	}
	b.WriteString(blurredStyle.Render("r refresh  b reboot  p apply policy  l collect logs  s sync inventory  q quit"))
	if m.Status != "" {
		b.WriteString("\n" + statusMessageStyle(m.Status))
	}
	if m.Err != nil {
		b.WriteString("\n" + errorMessageStyle(m.Err.Error()))
	}
	return b.String()
}
