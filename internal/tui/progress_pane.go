package tui

import (
	"fmt"
	"sort"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/aristath/sweeprun/internal/events"
)

// poolUsage is the last reported allocation of one resource.
type poolUsage struct {
	allocated float64
	capacity  float64
}

// ProgressPaneModel shows run-wide task counts and resource usage.
type ProgressPaneModel struct {
	progress events.ProgressEvent
	pool     map[string]poolUsage
	width    int
	height   int
	focused  bool
}

// NewProgressPaneModel creates a progress pane for a graph of total tasks.
func NewProgressPaneModel(total int) ProgressPaneModel {
	return ProgressPaneModel{
		progress: events.ProgressEvent{Total: total},
		pool:     make(map[string]poolUsage),
	}
}

// Update handles messages for the progress pane.
func (m ProgressPaneModel) Update(msg tea.Msg) (ProgressPaneModel, tea.Cmd) {
	switch msg := msg.(type) {
	case events.ProgressEvent:
		m.progress = msg
	case events.PoolEvent:
		m.pool[msg.Resource] = poolUsage{allocated: msg.Allocated, capacity: msg.Capacity}
	}
	return m, nil
}

// View renders the progress pane.
func (m ProgressPaneModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}

	var b strings.Builder
	p := m.progress

	title := StyleTitle.Render("Progress")
	b.WriteString(title)
	b.WriteString("\n")
	b.WriteString(strings.Repeat("=", lipgloss.Width(title)))
	b.WriteString("\n\n")

	count := func(n int) string { return humanize.Comma(int64(n)) }
	b.WriteString(fmt.Sprintf("Total:     %s\n", count(p.Total)))
	b.WriteString(fmt.Sprintf("Running:   %s\n", StyleStatusRunning.Render(count(p.Running))))
	b.WriteString(fmt.Sprintf("Succeeded: %s\n", StyleStatusComplete.Render(count(p.Succeeded))))
	b.WriteString(fmt.Sprintf("Skipped:   %s\n", StyleStatusSkipped.Render(count(p.Skipped))))
	b.WriteString(fmt.Sprintf("Failed:    %s\n", StyleStatusFailed.Render(count(p.Failed))))
	b.WriteString(fmt.Sprintf("Cancelled: %s\n", StyleStatusCancelled.Render(count(p.Cancelled))))
	b.WriteString("\n")

	barWidth := min(m.width-16, 40)
	if p.Total > 0 && barWidth > 0 {
		okWidth := ((p.Succeeded + p.Skipped) * barWidth) / p.Total
		failedWidth := ((p.Failed + p.Cancelled) * barWidth) / p.Total
		runningWidth := (p.Running * barWidth) / p.Total
		pendingWidth := barWidth - okWidth - failedWidth - runningWidth

		bar := StyleStatusComplete.Render(strings.Repeat("=", max(0, okWidth)))
		bar += StyleStatusFailed.Render(strings.Repeat("!", max(0, failedWidth)))
		bar += StyleStatusRunning.Render(strings.Repeat("-", max(0, runningWidth)))
		bar += StyleStatusPending.Render(strings.Repeat(".", max(0, pendingWidth)))

		b.WriteString(fmt.Sprintf("[%s]  %d/%d\n", bar, p.Done(), p.Total))
	}

	if len(m.pool) > 0 {
		b.WriteString("\n")
		b.WriteString(StyleTitle.Render("Resources"))
		b.WriteString("\n")
		names := make([]string, 0, len(m.pool))
		for name := range m.pool {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			u := m.pool[name]
			b.WriteString(fmt.Sprintf("%-6s %s / %s\n", name, humanize.Ftoa(u.allocated), humanize.Ftoa(u.capacity)))
		}
	}

	style := StyleUnfocusedBorder
	if m.focused {
		style = StyleFocusedBorder
	}
	return style.
		Width(m.width - 2).
		Height(m.height - 2).
		Render(b.String())
}

// SetSize updates the pane dimensions.
func (m *ProgressPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
}

// SetFocused updates the focus state.
func (m *ProgressPaneModel) SetFocused(focused bool) {
	m.focused = focused
}
