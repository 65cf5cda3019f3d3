package view

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/MrJamesThe3rd/finnysync/internal/queue"
	"github.com/MrJamesThe3rd/finnysync/internal/syncmgr"
)

type flushMsg struct {
	result queue.FlushResult
}

// SyncModel shows the sync manager status and the pending write queue.
type SyncModel struct {
	CommonModel
	mgr   *syncmgr.Manager
	queue *queue.Queue

	table  table.Model
	status syncmgr.Status
	last   string
}

func NewSyncModel(mgr *syncmgr.Manager, q *queue.Queue) SyncModel {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "Op", Width: 8},
			{Title: "Table", Width: 16},
			{Title: "Record", Width: 38},
			{Title: "Retries", Width: 8},
			{Title: "Queued", Width: 20},
		}),
		table.WithFocused(true),
		table.WithHeight(10),
	)

	st := table.DefaultStyles()
	st.Header = st.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(false)
	t.SetStyles(st)

	m := SyncModel{mgr: mgr, queue: q, table: t}
	m.refresh(mgr.Status())

	return m
}

func (m SyncModel) Title() string { return "Sync" }
func (m SyncModel) ShortHelp() string {
	return "Esc: back | f: flush now | o: toggle online"
}

func (m SyncModel) Init() tea.Cmd {
	return nil
}

func (m SyncModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case StatusMsg:
		m.refresh(msg.Status)
		return m, nil

	case StateMsg:
		m.refresh(m.mgr.Status())
		return m, nil

	case flushMsg:
		if msg.result.Skipped {
			m.last = "flush skipped"
		} else {
			m.last = fmt.Sprintf("sent %d, failed %d, dropped %d", msg.result.Sent, msg.result.Failed, msg.result.Dropped)
		}

		m.refresh(m.mgr.Status())

		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "esc":
			return m, Back
		case "f":
			mgr := m.mgr
			m.last = "flushing..."

			return m, func() tea.Msg {
				return flushMsg{result: mgr.FlushNow()}
			}
		case "o":
			m.queue.SetOnline(!m.queue.Online())
			m.refresh(m.mgr.Status())

			return m, nil
		}
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)

	return m, cmd
}

func (m *SyncModel) refresh(st syncmgr.Status) {
	m.status = st

	entries := m.queue.Entries()
	rows := make([]table.Row, 0, len(entries))

	for _, e := range entries {
		rows = append(rows, table.Row{
			string(e.Operation),
			string(e.Table),
			e.Payload.ID(),
			fmt.Sprint(e.Retries),
			FormatMillis(e.CreatedAt),
		})
	}

	m.table.SetRows(rows)
}

func (m SyncModel) View() string {
	online := errorStyle.Render("offline")
	if m.status.Online {
		online = activeStyle("online")
	}

	user := m.status.UserID
	if user == "" {
		user = faint("signed out")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "State:      %s\n", FormatState(m.status.State))
	fmt.Fprintf(&b, "User:       %s\n", user)
	fmt.Fprintf(&b, "Network:    %s\n", online)
	fmt.Fprintf(&b, "Pending:    %d\n", m.status.Pending)
	fmt.Fprintf(&b, "Tombstones: %d\n", len(m.status.Tombstones))
	fmt.Fprintf(&b, "Last sync:  %s\n", FormatMillis(m.status.LastSyncAt))

	if m.last != "" {
		b.WriteString("\n" + faint(m.last) + "\n")
	}

	tableView := lipgloss.NewStyle().
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		Render(m.table.View())

	return lipgloss.NewStyle().Padding(1).Render(b.String() + "\n" + tableView + "\n\n" + faint(m.ShortHelp()))
}
