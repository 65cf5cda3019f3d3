package view

import (
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/MrJamesThe3rd/finnysync/internal/syncmgr"
)

type CommonModel struct {
	Width  int
	Height int
}

type BackMsg struct{}

func Back() tea.Msg {
	return BackMsg{}
}

// StateMsg tells views the store changed.
type StateMsg struct{}

// StatusMsg carries a sync status update.
type StatusMsg struct {
	Status syncmgr.Status
}

// actionMsg reports the outcome of a dispatched action.
type actionMsg struct {
	label string
	err   error
}

func activeStyle(s string) string {
	return lipgloss.NewStyle().Foreground(lipgloss.Color("205")).Render(s)
}

func faint(s string) string {
	return lipgloss.NewStyle().Faint(true).Render(s)
}

var errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
