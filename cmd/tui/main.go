package main

import (
	"context"
	"io"
	"log/slog"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/joho/godotenv"

	"github.com/MrJamesThe3rd/finnysync/cmd/tui/internal/view"
	"github.com/MrJamesThe3rd/finnysync/internal/app"
	"github.com/MrJamesThe3rd/finnysync/internal/config"
	"github.com/MrJamesThe3rd/finnysync/internal/finance"
	"github.com/MrJamesThe3rd/finnysync/internal/syncmgr"
)

const logFile = "finny-tui.log"

type model struct {
	rt *app.Runtime

	currentView View

	goalsView view.GoalsModel
	syncView  view.SyncModel
}

type View int

const (
	ViewMenu  View = 0
	ViewGoals View = 1
	ViewSync  View = 2
)

func initialModel(rt *app.Runtime) model {
	return model{
		rt:          rt,
		currentView: ViewMenu,
		goalsView:   view.NewGoalsModel(rt.Store),
		syncView:    view.NewSyncModel(rt.Sync, rt.Queue),
	}
}

func (m model) Init() tea.Cmd {
	return nil
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}

		if m.currentView == ViewMenu {
			switch msg.String() {
			case "q":
				return m, tea.Quit
			case "1":
				m.currentView = ViewGoals
				m.goalsView = view.NewGoalsModel(m.rt.Store)

				return m, m.goalsView.Init()
			case "2":
				m.currentView = ViewSync
				m.syncView = view.NewSyncModel(m.rt.Sync, m.rt.Queue)

				return m, m.syncView.Init()
			}
		}
	case view.BackMsg:
		m.currentView = ViewMenu
		return m, nil
	case view.StateMsg, view.StatusMsg:
		// Background updates reach every view so none goes stale.
		var gm, sm tea.Model
		gm, _ = m.goalsView.Update(msg)
		sm, _ = m.syncView.Update(msg)
		m.goalsView = gm.(view.GoalsModel)
		m.syncView = sm.(view.SyncModel)

		return m, nil
	}

	switch m.currentView {
	case ViewGoals:
		var newModel tea.Model
		newModel, cmd = m.goalsView.Update(msg)
		m.goalsView = newModel.(view.GoalsModel)
	case ViewSync:
		var newModel tea.Model
		newModel, cmd = m.syncView.Update(msg)
		m.syncView = newModel.(view.SyncModel)
	}

	return m, cmd
}

func (m model) View() string {
	switch m.currentView {
	case ViewMenu:
		st := m.rt.Sync.Status()

		return lipgloss.NewStyle().Padding(2).Render(
			"Finny Sync\n\n" +
				"1. Goals\n" +
				"2. Sync Status\n\n" +
				"Sync: " + view.FormatState(st.State) + "\n\n" +
				"q. Quit",
		)
	case ViewGoals:
		return m.goalsView.View()
	case ViewSync:
		return m.syncView.View()
	}

	return "Unknown View"
}

// openLog keeps log output off the terminal the program draws on.
func openLog() (*slog.Logger, io.Closer) {
	f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil)), io.NopCloser(nil)
	}

	return slog.New(slog.NewTextHandler(f, nil)), f
}

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger, closer := openLog()
	defer closer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rt, err := app.Boot(ctx, cfg, logger)
	if err != nil {
		slog.Error("failed to boot", "error", err)
		os.Exit(1)
	}
	defer rt.Close()

	p := tea.NewProgram(initialModel(rt))

	// Send blocks until the program loop reads it; callbacks must not wait on the UI.
	unsubState := rt.Store.Subscribe(func(finance.State) {
		go p.Send(view.StateMsg{})
	})
	defer unsubState()

	unsubStatus := rt.Sync.SubscribeStatus(func(st syncmgr.Status) {
		go p.Send(view.StatusMsg{Status: st})
	})
	defer unsubStatus()

	if _, err := p.Run(); err != nil {
		logger.Error("failed to run TUI", "error", err)
		os.Exit(1)
	}

	res := rt.Sync.FlushNow()
	logger.Info("tui stopped", "sent", res.Sent, "pending", rt.Queue.Status().Size)
}
