// Package tui renders a live view of one feature's pipeline run, fed by the
// in-process event bus.
package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/ldi/conveyor/internal/events"
	"github.com/ldi/conveyor/pkg/models"
)

var (
	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Bold(true).
			Padding(0, 1)

	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")).
			Italic(true)

	summaryStyle = lipgloss.NewStyle().
			Border(lipgloss.NormalBorder(), true, true, true, false).
			BorderForeground(lipgloss.Color("63")).
			Padding(0, 1).
			Margin(1, 0)

	taskDoneStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
)

// EventMsg wraps a bus envelope for the bubbletea loop.
type EventMsg events.Envelope

// DoneMsg ends the program when the pipeline run finishes.
type DoneMsg struct {
	Err error
}

type Model struct {
	FeatureID string

	status   models.Status
	summary  string
	tasks    []models.Task
	log      []string
	viewport viewport.Model
	ready    bool
	width    int
	height   int
	err      error
}

func New(featureID string) *Model {
	return &Model{FeatureID: featureID}
}

func (m *Model) Init() tea.Cmd {
	return nil
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		vpHeight := msg.Height - 8
		if vpHeight < 3 {
			vpHeight = 3
		}
		if !m.ready {
			m.viewport = viewport.New(msg.Width, vpHeight)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = vpHeight
		}
		m.refreshViewport()

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}

	case EventMsg:
		m.apply(events.Envelope(msg))

	case DoneMsg:
		m.err = msg.Err
		return m, tea.Quit
	}

	if m.ready {
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *Model) apply(e events.Envelope) {
	switch e.Event {
	case events.FeatureStatusChanged:
		if p, ok := e.Payload.(events.StatusChangedPayload); ok && p.FeatureID == m.FeatureID {
			m.status = p.Status
			m.log = append(m.log, fmt.Sprintf("status → %s", p.Status))
		}
	case events.AutoModeSummary:
		if p, ok := e.Payload.(events.SummaryPayload); ok && p.FeatureID == m.FeatureID {
			m.summary = p.Summary
			m.log = append(m.log, "summary updated")
		}
	case events.AutoModeTaskStatus:
		if p, ok := e.Payload.(events.TaskStatusPayload); ok && p.FeatureID == m.FeatureID {
			m.tasks = p.Tasks
			m.log = append(m.log, fmt.Sprintf("task %s → %s", p.TaskID, p.Status))
		}
	}
	m.refreshViewport()
}

func (m *Model) refreshViewport() {
	if !m.ready {
		return
	}
	m.viewport.SetContent(m.summary)
	m.viewport.GotoBottom()
}

func (m *Model) View() string {
	if !m.ready {
		return "Starting..."
	}

	var sb strings.Builder
	sb.WriteString(headerStyle.Render(fmt.Sprintf("Feature %s", m.FeatureID)))
	sb.WriteString("\n")
	sb.WriteString(statusStyle.Render(m.statusLine()))
	sb.WriteString("\n")
	if len(m.tasks) > 0 {
		sb.WriteString(m.tasksLine())
		sb.WriteString("\n")
	}
	sb.WriteString(summaryStyle.Width(m.width - 2).Render(m.viewport.View()))
	sb.WriteString("\n")
	sb.WriteString(statusStyle.Render("q to quit"))
	return sb.String()
}

func (m *Model) statusLine() string {
	status := m.status
	if status == "" {
		status = "starting"
	}
	if stepID, ok := models.StepIDFromStatus(status); ok {
		return fmt.Sprintf("running step: %s", stepID)
	}
	return fmt.Sprintf("status: %s", status)
}

func (m *Model) tasksLine() string {
	done := 0
	for _, t := range m.tasks {
		if t.Status == models.TaskStatusCompleted {
			done++
		}
	}
	return taskDoneStyle.Render(fmt.Sprintf("tasks: %d/%d completed", done, len(m.tasks)))
}
