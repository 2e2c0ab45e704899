// Package tui renders a live monitor for one extraction session.
package tui

import (
	"fmt"
	"strings"
	"time"

	"vitalred_worker/core/domain"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const (
	refreshInterval = 500 * time.Millisecond
	maxShownErrors  = 5
)

// Controller is the part of the extraction service the monitor drives.
type Controller interface {
	GetProgress(sessionID string) (domain.Progress, error)
	Pause(sessionID string) error
	Resume(sessionID string) error
	Stop(sessionID string) error
}

type tickMsg time.Time

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// Model polls the controller and shows one session.
type Model struct {
	ctrl      Controller
	sessionID string
	keys      keyMap
	help      help.Model
	bar       progress.Model

	snapshot domain.Progress
	notice   string
	width    int
	done     bool
}

func New(ctrl Controller, sessionID string) Model {
	return Model{
		ctrl:      ctrl,
		sessionID: sessionID,
		keys:      defaultKeyMap(),
		help:      help.New(),
		bar:       progress.New(progress.WithDefaultGradient()),
		width:     80,
	}
}

// Final returns the last snapshot seen.
func (m Model) Final() domain.Progress { return m.snapshot }

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.refresh, tick())
}

type snapshotMsg struct {
	progress domain.Progress
	err      error
}

func (m Model) refresh() tea.Msg {
	p, err := m.ctrl.GetProgress(m.sessionID)
	return snapshotMsg{progress: p, err: err}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.help.Width = msg.Width
		return m, nil

	case tickMsg:
		if m.done {
			return m, nil
		}
		return m, tea.Batch(m.refresh, tick())

	case snapshotMsg:
		if msg.err != nil {
			m.notice = msg.err.Error()
			return m, nil
		}
		m.snapshot = msg.progress
		if m.snapshot.Status.IsTerminal() {
			m.done = true
			return m, tea.Quit
		}
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	var err error
	switch {
	case key.Matches(msg, m.keys.Pause):
		err = m.ctrl.Pause(m.sessionID)
		m.notice = "pausing after in-flight items"
	case key.Matches(msg, m.keys.Resume):
		err = m.ctrl.Resume(m.sessionID)
		m.notice = "resumed"
	case key.Matches(msg, m.keys.Stop):
		err = m.ctrl.Stop(m.sessionID)
		m.notice = "stopping at the next batch boundary"
	case key.Matches(msg, m.keys.Quit):
		m.done = true
		return m, tea.Quit
	default:
		return m, nil
	}
	if err != nil {
		m.notice = err.Error()
	}
	return m, m.refresh
}

func (m Model) percent() float64 {
	if m.snapshot.TotalEmails == 0 {
		return 0
	}
	return float64(m.snapshot.ProcessedEmails) / float64(m.snapshot.TotalEmails)
}

func (m Model) View() string {
	p := m.snapshot
	m.bar.Width = max(m.width-12, 10)

	row := func(label, value string) string {
		return lipgloss.JoinHorizontal(lipgloss.Top, labelStyle.Render(label), value)
	}

	lines := []string{
		headerStyle.Render("VITAL RED · extracción " + m.sessionID),
		"",
		row("Estado", statusStyle(p.Status).Render(string(p.Status))),
		m.bar.ViewAs(m.percent()),
		row("Procesados", fmt.Sprintf("%d / %d", p.ProcessedEmails, p.TotalEmails)),
		row("Exitosos", fmt.Sprintf("%d (%.0f%%)", p.SuccessfulExtractions, p.SuccessRate())),
		row("Fallidos", fmt.Sprintf("%d", p.FailedExtractions)),
		row("Transcurrido", (time.Duration(p.ElapsedSeconds * float64(time.Second))).Round(time.Second).String()),
	}
	if p.CurrentEmailID != "" {
		lines = append(lines, row("Actual", p.CurrentEmailID))
	}
	if p.EstimatedCompletion != nil {
		lines = append(lines, row("Fin estimado", p.EstimatedCompletion.Local().Format("15:04:05")))
	}

	if n := len(p.Errors); n > 0 {
		lines = append(lines, "", row("Errores", fmt.Sprintf("%d", p.ErrorsCount)))
		for _, e := range p.Errors[max(n-maxShownErrors, 0):] {
			lines = append(lines, errorStyle.Render(fmt.Sprintf("  %s %s", e.ItemID, e.Message)))
		}
	}
	if m.notice != "" {
		lines = append(lines, "", noticeStyle.Render(m.notice))
	}
	lines = append(lines, "", m.help.View(m.keys))

	return panelStyle.Render(strings.Join(lines, "\n"))
}

// Run blocks until the session ends or the user quits.
func Run(ctrl Controller, sessionID string) (domain.Progress, error) {
	final, err := tea.NewProgram(New(ctrl, sessionID), tea.WithAltScreen()).Run()
	if err != nil {
		return domain.Progress{}, err
	}
	return final.(Model).Final(), nil
}
