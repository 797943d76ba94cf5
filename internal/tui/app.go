// Package tui is the read-only dashboard: a run list and a per-run
// pipeline view. It never mutates state; every mutation goes through
// the CLI verbs.
package tui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/openclaw/antfarm/internal/engine"
	"github.com/openclaw/antfarm/internal/models"
)

type View int

const (
	ViewRunList View = iota
	ViewRunDetail
)

type App struct {
	engine *engine.Engine

	view        View
	runs        []*models.Run
	selectedIdx int
	detail      *engine.RunDetail
	spin        spinner.Model

	width  int
	height int
	err    error
}

func NewApp(eng *engine.Engine) *App {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = statusRunning
	return &App{engine: eng, view: ViewRunList, spin: sp}
}

func (a *App) Init() tea.Cmd {
	return tea.Batch(a.loadRuns, a.tickCmd(), a.spin.Tick)
}

type tickMsg time.Time

func (a *App) tickCmd() tea.Cmd {
	return tea.Tick(2*time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

type runsLoadedMsg struct {
	runs []*models.Run
	err  error
}

func (a *App) loadRuns() tea.Msg {
	runs, err := a.engine.ListRuns(50)
	return runsLoadedMsg{runs: runs, err: err}
}

type runDetailMsg struct {
	detail *engine.RunDetail
	err    error
}

func (a *App) loadRunDetail(id int64) tea.Cmd {
	return func() tea.Msg {
		detail, err := a.engine.GetRun(id)
		return runDetailMsg{detail: detail, err: err}
	}
}

func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return a.handleKey(msg)

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		return a, nil

	case runsLoadedMsg:
		a.runs = msg.runs
		a.err = msg.err
		return a, nil

	case runDetailMsg:
		a.err = msg.err
		if msg.err == nil {
			a.detail = msg.detail
			a.view = ViewRunDetail
		}
		return a, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		a.spin, cmd = a.spin.Update(msg)
		return a, cmd

	case tickMsg:
		switch a.view {
		case ViewRunList:
			return a, tea.Batch(a.loadRuns, a.tickCmd())
		case ViewRunDetail:
			if a.detail != nil {
				return a, tea.Batch(a.loadRunDetail(a.detail.Run.ID), a.tickCmd())
			}
		}
		return a, a.tickCmd()
	}

	return a, nil
}

func (a *App) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch a.view {
	case ViewRunDetail:
		switch msg.String() {
		case "q", "esc":
			a.view = ViewRunList
			a.detail = nil
		case "ctrl+c":
			return a, tea.Quit
		}
		return a, nil
	}

	switch msg.String() {
	case "q", "ctrl+c":
		return a, tea.Quit

	case "up", "k":
		if a.selectedIdx > 0 {
			a.selectedIdx--
		}

	case "down", "j":
		if a.selectedIdx < len(a.runs)-1 {
			a.selectedIdx++
		}

	case "enter":
		if len(a.runs) > 0 && a.selectedIdx < len(a.runs) {
			return a, a.loadRunDetail(a.runs[a.selectedIdx].ID)
		}

	case "r":
		return a, a.loadRuns
	}

	return a, nil
}

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205"))

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("229")).
			Background(lipgloss.Color("57"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))

	statusRunning   = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	statusCompleted = lipgloss.NewStyle().Foreground(lipgloss.Color("46"))
	statusFailed    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	statusBlocked   = lipgloss.NewStyle().Foreground(lipgloss.Color("208"))
	statusPending   = lipgloss.NewStyle().Foreground(lipgloss.Color("243"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))
)

func (a *App) View() string {
	switch a.view {
	case ViewRunDetail:
		return a.viewRunDetail()
	default:
		return a.viewRunList()
	}
}

func (a *App) viewRunList() string {
	s := titleStyle.Render("Antfarm") + "\n\n"

	if a.err != nil {
		s += fmt.Sprintf("Error: %v\n", a.err)
	}

	if len(a.runs) == 0 {
		s += "No runs yet. Start one with `antfarm workflow run`.\n"
	} else {
		s += "Recent Runs\n"
		s += "───────────\n"

		for i, run := range a.runs {
			line := a.formatRunLine(run)
			if i == a.selectedIdx {
				line = selectedStyle.Render("▶ " + line)
			} else if run.Status != models.RunStatusRunning && run.Status != models.RunStatusBlocked {
				line = "  " + dimStyle.Render(line)
			} else {
				line = "  " + line
			}
			s += line + "\n"
		}
	}

	s += "\n" + helpStyle.Render("[enter] view  [r] refresh  [q] quit")
	return s
}

func (a *App) formatRunLine(run *models.Run) string {
	status := a.formatRunStatus(run.Status)
	age := formatAge(run.CreatedAt)
	task := truncate(run.Task, 40)
	return fmt.Sprintf("#%-3d %-16s %s  %-5s  %s", run.ID, run.WorkflowID, status, age, task)
}

func (a *App) formatRunStatus(status models.RunStatus) string {
	switch status {
	case models.RunStatusRunning:
		return statusRunning.Render(a.spin.View() + "running")
	case models.RunStatusCompleted:
		return statusCompleted.Render("✓ completed")
	case models.RunStatusBlocked:
		return statusBlocked.Render("⚠ blocked")
	case models.RunStatusCanceled:
		return statusFailed.Render("✗ canceled")
	default:
		return statusPending.Render(string(status))
	}
}

func (a *App) viewRunDetail() string {
	if a.detail == nil {
		return "No run selected"
	}

	run := a.detail.Run
	header := fmt.Sprintf("Run #%d: %s", run.ID, run.WorkflowID)
	s := titleStyle.Render(header) + "  " + a.formatRunStatus(run.Status) + "\n\n"
	s += run.Task + "\n\n"

	s += "Pipeline\n"
	s += "────────\n"
	for _, step := range a.detail.Steps {
		icon := "○"
		switch step.Status {
		case models.StepStatusDone:
			icon = statusCompleted.Render("✓")
		case models.StepStatusRunning:
			icon = statusRunning.Render("●")
		case models.StepStatusPending:
			icon = statusRunning.Render("◌")
		case models.StepStatusFailed:
			icon = statusFailed.Render("✗")
		}

		line := fmt.Sprintf("%d. %-14s %s  %-8s %s", step.StepIndex+1, step.DefID, icon, step.Status, dimStyle.Render(step.AgentID))
		if step.RetryCount > 0 {
			line += "  " + statusBlocked.Render(fmt.Sprintf("retry %d/%d", step.RetryCount, step.MaxRetries))
		}
		s += line + "\n"
	}

	if len(a.detail.Stories) > 0 {
		s += "\nStories\n"
		s += "───────\n"
		for _, story := range a.detail.Stories {
			icon := "○"
			switch story.Status {
			case models.StoryStatusDone:
				icon = statusCompleted.Render("✓")
			case models.StoryStatusRunning:
				icon = statusRunning.Render("●")
			case models.StoryStatusFailed:
				icon = statusFailed.Render("✗")
			}
			s += fmt.Sprintf("%s %-8s %s\n", icon, story.StoryID, truncate(story.Title, 50))
		}
	}

	if v, ok := a.detail.Context["escalate_to"]; ok && v != "" {
		s += "\n" + labelStyle.Render("Escalated to: ") + v + "\n"
	}
	if v, ok := a.detail.Context["verify_feedback"]; ok && v != "" {
		s += labelStyle.Render("Verify feedback: ") + truncate(v, 60) + "\n"
	}

	s += "\n" + helpStyle.Render("[esc] back  [q] back  [ctrl+c] quit")
	return s
}

func formatAge(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "now"
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-1] + "…"
}
