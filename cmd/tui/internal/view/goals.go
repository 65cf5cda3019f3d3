package view

import (
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"github.com/MrJamesThe3rd/finnysync/internal/finance"
	"github.com/MrJamesThe3rd/finnysync/internal/money"
	"github.com/MrJamesThe3rd/finnysync/internal/store"
)

type goalsState int

const (
	goalsBrowse goalsState = iota
	goalsAdd
	goalsSavings
)

type GoalsModel struct {
	CommonModel
	store *store.Store

	state  goalsState
	table  table.Model
	goals  []finance.Goal
	form   *huh.Form
	status string
}

func NewGoalsModel(s *store.Store) GoalsModel {
	columns := []table.Column{
		{Title: "Name", Width: 24},
		{Title: "Saved", Width: 12},
		{Title: "Target", Width: 12},
		{Title: "Progress", Width: 9},
		{Title: "Priority", Width: 9},
		{Title: "Deadline", Width: 12},
		{Title: "v", Width: 4},
	}

	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(true),
		table.WithHeight(15),
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

	m := GoalsModel{store: s, table: t}
	m.refresh()

	return m
}

func (m GoalsModel) Title() string { return "Goals" }
func (m GoalsModel) ShortHelp() string {
	if m.state != goalsBrowse {
		return "Navigate form | Esc: cancel"
	}

	return "Esc: back | a: add | s: add savings | d: delete | u: undo"
}

func (m GoalsModel) Init() tea.Cmd {
	return nil
}

func (m GoalsModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case StateMsg:
		m.refresh()
		return m, nil

	case actionMsg:
		if msg.err != nil {
			m.status = errorStyle.Render(fmt.Sprintf("%s failed: %v", msg.label, msg.err))
		} else {
			m.status = msg.label
		}

		m.refresh()

		return m, nil

	case tea.WindowSizeMsg:
		m.table.SetHeight(max(msg.Height-12, 5))
		return m, nil
	}

	if m.state != goalsBrowse {
		return m.updateForm(msg)
	}

	if keyMsg, ok := msg.(tea.KeyMsg); ok {
		switch keyMsg.String() {
		case "esc":
			return m, Back
		case "a":
			return m.openForm(goalsAdd)
		case "s":
			if _, ok := m.selected(); ok {
				return m.openForm(goalsSavings)
			}
		case "d":
			if g, ok := m.selected(); ok {
				return m, m.dispatch("deleted "+g.Name, store.DeleteGoal{Ref: store.Ref{ID: g.ID}})
			}
		case "u":
			return m, m.dispatch("undone", store.UndoLast{})
		}
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)

	return m, cmd
}

func (m GoalsModel) openForm(state goalsState) (tea.Model, tea.Cmd) {
	amount := huh.NewInput().
		Key("amount").
		Placeholder("0,00").
		Validate(func(s string) error {
			a, err := money.ParseEuropean(s)
			if err != nil {
				return errors.New("not an amount")
			}

			if a < 0 {
				return errors.New("amount must be positive")
			}

			return nil
		})

	var group *huh.Group

	if state == goalsAdd {
		group = huh.NewGroup(
			huh.NewInput().
				Key("name").
				Title("Name").
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" {
						return errors.New("name cannot be empty")
					}

					return nil
				}),
			amount.Title("Target"),
		)
	} else {
		group = huh.NewGroup(amount.Title("Amount to add"))
	}

	m.form = huh.NewForm(group).WithWidth(40).WithShowHelp(false)
	m.state = state
	m.table.Blur()

	return m, m.form.Init()
}

func (m GoalsModel) updateForm(msg tea.Msg) (tea.Model, tea.Cmd) {
	if keyMsg, ok := msg.(tea.KeyMsg); ok && keyMsg.Type == tea.KeyEsc {
		m.closeForm()
		return m, nil
	}

	form, cmd := m.form.Update(msg)
	if f, ok := form.(*huh.Form); ok {
		m.form = f
	}

	if m.form.State != huh.StateCompleted {
		return m, cmd
	}

	// Read through the form: bubbletea copies the model on every update.
	amount, _ := money.ParseEuropean(m.form.GetString("amount"))
	name := strings.TrimSpace(m.form.GetString("name"))
	state := m.state
	m.closeForm()

	if state == goalsAdd {
		return m, m.dispatch("added "+name, store.AddGoal{Goal: finance.Goal{Name: name, TargetAmount: amount}})
	}

	g, ok := m.selected()
	if !ok {
		return m, nil
	}

	return m, m.dispatch(fmt.Sprintf("saved %s towards %s", amount, g.Name), store.AddSavingsToGoal{GoalID: g.ID, Amount: amount})
}

func (m *GoalsModel) closeForm() {
	m.state = goalsBrowse
	m.form = nil
	m.table.Focus()
}

func (m GoalsModel) selected() (finance.Goal, bool) {
	idx := m.table.Cursor()
	if idx < 0 || idx >= len(m.goals) {
		return finance.Goal{}, false
	}

	return m.goals[idx], true
}

func (m GoalsModel) dispatch(label string, a store.Action) tea.Cmd {
	s := m.store

	return func() tea.Msg {
		return actionMsg{label: label, err: s.Dispatch(a)}
	}
}

func (m *GoalsModel) refresh() {
	m.goals = m.store.State().Goals

	rows := make([]table.Row, 0, len(m.goals))
	for _, g := range m.goals {
		rows = append(rows, table.Row{
			g.Name,
			FormatAmount(g.CurrentAmount),
			FormatAmount(g.TargetAmount),
			FormatProgress(g.CurrentAmount, g.TargetAmount),
			string(g.Priority),
			g.Deadline,
			fmt.Sprint(g.Version),
		})
	}

	m.table.SetRows(rows)
}

func (m GoalsModel) View() string {
	tableView := lipgloss.NewStyle().
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		Render(m.table.View())

	content := tableView

	if m.form != nil {
		title := "New goal"
		if m.state == goalsSavings {
			if g, ok := m.selected(); ok {
				title = "Add savings to " + g.Name
			}
		}

		panel := lipgloss.NewStyle().
			Padding(1, 2).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("63")).
			Width(44).
			Render(title + "\n\n" + m.form.View())

		content = lipgloss.JoinHorizontal(lipgloss.Top, content, panel)
	}

	if m.status != "" {
		content = faint(m.status) + "\n" + content
	}

	return lipgloss.NewStyle().Padding(1).Render(content + "\n\n" + faint(m.ShortHelp()))
}
