package tui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/bubbles/viewport"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/aristath/sweeprun/internal/events"
)

// Task statuses as shown in the list.
const (
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusSkipped   = "skipped"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// TaskView is what the dashboard knows about one task.
type TaskView struct {
	ID        string
	Command   string
	Priority  int
	Status    string
	Detail    []string
	StartTime time.Time
	Duration  time.Duration
}

// TaskPaneModel lists tasks as they are reached and shows the selected
// task's details in a scrollable viewport.
type TaskPaneModel struct {
	tasks       map[string]*TaskView // taskID -> view
	taskOrder   []string             // first-seen order for display
	selectedIdx int
	follow      bool // keep the newest task selected
	viewport    viewport.Model
	width       int
	height      int
	focused     bool
}

// NewTaskPaneModel creates a new task pane model.
func NewTaskPaneModel() TaskPaneModel {
	return TaskPaneModel{
		tasks:    make(map[string]*TaskView),
		follow:   true,
		viewport: viewport.New(0, 0),
	}
}

// Update handles messages for the task pane.
func (m TaskPaneModel) Update(msg tea.Msg) (TaskPaneModel, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if !m.focused {
			break
		}
		switch msg.String() {
		case KeyJ, KeyDown:
			if m.selectedIdx < len(m.taskOrder)-1 {
				m.selectedIdx++
				m.follow = m.selectedIdx == len(m.taskOrder)-1
				m.updateViewportContent()
			}
		case KeyK, KeyUp:
			if m.selectedIdx > 0 {
				m.selectedIdx--
				m.follow = false
				m.updateViewportContent()
			}
		default:
			m.viewport, cmd = m.viewport.Update(msg)
		}

	case events.TaskStartedEvent:
		t := m.ensure(msg.ID)
		t.Command = msg.Command
		t.Priority = msg.Priority
		t.Status = StatusRunning
		t.StartTime = msg.Timestamp
		t.Detail = append(t.Detail, fmt.Sprintf("started %s (priority %d)", msg.Timestamp.Format(time.TimeOnly), msg.Priority))
		m.refresh(msg.ID)

	case events.TaskSkippedEvent:
		t := m.ensure(msg.ID)
		t.Status = StatusSkipped
		t.Detail = append(t.Detail, "outputs up to date, skipped")
		m.refresh(msg.ID)

	case events.TaskSucceededEvent:
		t := m.ensure(msg.ID)
		t.Status = StatusSucceeded
		t.Duration = msg.Duration
		t.Detail = append(t.Detail, fmt.Sprintf("succeeded in %v", msg.Duration.Round(time.Millisecond)))
		m.refresh(msg.ID)

	case events.TaskFailedEvent:
		t := m.ensure(msg.ID)
		t.Status = StatusFailed
		t.Duration = msg.Duration
		t.Detail = append(t.Detail, fmt.Sprintf("failed after %v: %v", msg.Duration.Round(time.Millisecond), msg.Err))
		m.refresh(msg.ID)

	case events.TaskCancelledEvent:
		t := m.ensure(msg.ID)
		t.Status = StatusCancelled
		t.Detail = append(t.Detail, fmt.Sprintf("cancelled: %v", msg.Reason))
		m.refresh(msg.ID)
	}

	return m, cmd
}

// ensure returns the view of taskID, adding it to the list if new.
func (m *TaskPaneModel) ensure(taskID string) *TaskView {
	if t, ok := m.tasks[taskID]; ok {
		return t
	}
	t := &TaskView{ID: taskID}
	m.tasks[taskID] = t
	m.taskOrder = append(m.taskOrder, taskID)
	if m.follow {
		m.selectedIdx = len(m.taskOrder) - 1
	}
	return t
}

// refresh redraws the viewport if taskID is the selected task.
func (m *TaskPaneModel) refresh(taskID string) {
	if m.SelectedTaskID() == taskID {
		m.updateViewportContent()
	}
}

// View renders the task pane.
func (m TaskPaneModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}

	listWidth := min(40, m.width/2)
	viewportWidth := m.width - listWidth - 4

	content := lipgloss.JoinHorizontal(
		lipgloss.Top,
		m.renderTaskList(listWidth),
		lipgloss.NewStyle().
			Width(viewportWidth).
			Height(m.height-2).
			Render(m.viewport.View()),
	)

	style := StyleUnfocusedBorder
	if m.focused {
		style = StyleFocusedBorder
	}
	return style.
		Width(m.width - 2).
		Height(m.height - 2).
		Render(content)
}

// renderTaskList renders the visible window of the task list around the
// selection.
func (m TaskPaneModel) renderTaskList(width int) string {
	var b strings.Builder

	title := StyleTitle.Render("Tasks (" + humanize.Comma(int64(len(m.taskOrder))) + ")")
	b.WriteString(title)
	b.WriteString("\n")
	b.WriteString(strings.Repeat("=", min(width, lipgloss.Width(title))))
	b.WriteString("\n\n")

	if len(m.taskOrder) == 0 {
		b.WriteString(StyleStatusPending.Render("Waiting..."))
	} else {
		rows := max(1, m.height-6)
		first := max(0, m.selectedIdx-rows+1)
		last := min(len(m.taskOrder), first+rows)
		for i := first; i < last; i++ {
			t := m.tasks[m.taskOrder[i]]
			name := t.ID
			if len(name) > width-4 && width > 7 {
				name = name[:width-7] + "..."
			}
			line := fmt.Sprintf("%s %s", StatusIcon(t.Status), name)
			if i == m.selectedIdx {
				line = StyleSelected.Render(line)
			}
			b.WriteString(line)
			b.WriteString("\n")
		}
	}

	return lipgloss.NewStyle().
		Width(width).
		Height(m.height - 2).
		Render(b.String())
}

// StatusIcon returns a styled status indicator.
func StatusIcon(status string) string {
	switch status {
	case StatusRunning:
		return StyleStatusRunning.Render("●")
	case StatusSucceeded:
		return StyleStatusComplete.Render("✓")
	case StatusSkipped:
		return StyleStatusSkipped.Render("↷")
	case StatusFailed:
		return StyleStatusFailed.Render("✗")
	case StatusCancelled:
		return StyleStatusCancelled.Render("⊘")
	default:
		return StyleStatusPending.Render("○")
	}
}

// SelectedTaskID returns the ID of the selected task, or "".
func (m TaskPaneModel) SelectedTaskID() string {
	if m.selectedIdx >= 0 && m.selectedIdx < len(m.taskOrder) {
		return m.taskOrder[m.selectedIdx]
	}
	return ""
}

// Task returns the view of taskID.
func (m TaskPaneModel) Task(taskID string) (TaskView, bool) {
	t, ok := m.tasks[taskID]
	if !ok {
		return TaskView{}, false
	}
	return *t, true
}

func (m *TaskPaneModel) updateViewportContent() {
	t, ok := m.tasks[m.SelectedTaskID()]
	if !ok {
		m.viewport.SetContent("Waiting for tasks...")
		return
	}

	var b strings.Builder
	b.WriteString(StyleTitle.Render(t.ID))
	b.WriteString("\n\n")
	if t.Command != "" {
		b.WriteString("$ " + t.Command + "\n\n")
	}
	b.WriteString(strings.Join(t.Detail, "\n"))
	m.viewport.SetContent(b.String())
	m.viewport.GotoBottom()
}

func (m *TaskPaneModel) resizeViewport() {
	listWidth := min(40, m.width/2)
	m.viewport.Width = max(10, m.width-listWidth-4)
	m.viewport.Height = max(5, m.height-4)
}

// SetSize updates the pane dimensions.
func (m *TaskPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
	m.resizeViewport()
}

// SetFocused updates the focus state.
func (m *TaskPaneModel) SetFocused(focused bool) {
	m.focused = focused
}
