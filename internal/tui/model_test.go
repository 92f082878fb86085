package tui

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"github.com/stretchr/testify/require"

	"github.com/aristath/sweeprun/internal/config"
	"github.com/aristath/sweeprun/internal/events"
	"github.com/aristath/sweeprun/internal/resource"
)

func update(t *testing.T, m Model, msg tea.Msg) Model {
	t.Helper()
	next, _ := m.Update(msg)
	model, ok := next.(Model)
	require.True(t, ok)
	return model
}

func TestModel_TracksTaskEvents(t *testing.T) {
	bus := events.NewEventBus()
	defer bus.Close()

	m := New(bus, 3, nil)
	m = update(t, m, tea.WindowSizeMsg{Width: 120, Height: 40})

	now := time.Now()
	m = update(t, m, events.TaskStartedEvent{ID: "sim_adaptive_0.06", Command: "supersim s.json", Timestamp: now})
	m = update(t, m, events.TaskSkippedEvent{ID: "sim_adaptive_0.00", Timestamp: now})
	m = update(t, m, events.TaskFailedEvent{ID: "sim_adaptive_0.06", Err: errors.New("exit status 1"), Duration: time.Second})

	failed, ok := m.taskPane.Task("sim_adaptive_0.06")
	require.True(t, ok)
	require.Equal(t, StatusFailed, failed.Status)
	require.Equal(t, "supersim s.json", failed.Command)
	require.Contains(t, strings.Join(failed.Detail, "\n"), "exit status 1")

	skipped, ok := m.taskPane.Task("sim_adaptive_0.00")
	require.True(t, ok)
	require.Equal(t, StatusSkipped, skipped.Status)

	// Following the newest task until the user moves the selection.
	require.Equal(t, "sim_adaptive_0.00", m.taskPane.SelectedTaskID())
	m = update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("k")})
	require.Equal(t, "sim_adaptive_0.06", m.taskPane.SelectedTaskID())
	m = update(t, m, events.TaskCancelledEvent{ID: "parse_adaptive_0.06", Reason: errors.New("cancelled")})
	require.Equal(t, "sim_adaptive_0.06", m.taskPane.SelectedTaskID())

	require.Contains(t, m.View(), "Tasks (3)")
}

func TestModel_ProgressAndPool(t *testing.T) {
	bus := events.NewEventBus()
	defer bus.Close()

	m := New(bus, 10, nil)
	m = update(t, m, tea.WindowSizeMsg{Width: 140, Height: 30})
	m = update(t, m, events.ProgressEvent{Total: 10, Running: 2, Succeeded: 3, Skipped: 1})
	m = update(t, m, events.PoolEvent{Resource: resource.CPUs, Allocated: 2, Capacity: 8})

	require.Equal(t, 4, m.progressPane.progress.Done())
	require.Equal(t, poolUsage{allocated: 2, capacity: 8}, m.progressPane.pool[resource.CPUs])
	view := m.progressPane.View()
	require.Contains(t, view, "4/10")
	require.Contains(t, view, "Resources")
}

func TestModel_QuitStopsUnfinishedRun(t *testing.T) {
	bus := events.NewEventBus()
	defer bus.Close()

	stopped := 0
	m := New(bus, 1, func() { stopped++ })
	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	require.NotNil(t, cmd)
	require.Equal(t, 1, stopped)
	require.True(t, next.(Model).quitting)

	m = New(bus, 1, func() { stopped++ })
	m = update(t, m, runFinishedMsg{})
	require.True(t, m.Finished())
	m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	require.Equal(t, 1, stopped, "a finished run is not stopped again")
}

func TestModel_FocusCycles(t *testing.T) {
	bus := events.NewEventBus()
	defer bus.Close()

	m := New(bus, 1, nil)
	require.Equal(t, PaneTasks, m.focusedPane)
	m = update(t, m, tea.KeyMsg{Type: tea.KeyTab})
	require.Equal(t, PaneProgress, m.focusedPane)
	m = update(t, m, tea.KeyMsg{Type: tea.KeyTab})
	require.Equal(t, PaneTasks, m.focusedPane)
	m = update(t, m, tea.KeyMsg{Type: tea.KeyShiftTab})
	require.Equal(t, PaneProgress, m.focusedPane)
}

func TestWaitForEvent_ClosedBus(t *testing.T) {
	bus := events.NewEventBus()
	sub := bus.SubscribeAll(1)
	bus.Close()
	require.Equal(t, runFinishedMsg{}, waitForEvent(sub)())
}

func TestSettings_ApplyForm(t *testing.T) {
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	m := NewSettingsModel(cfg, filepath.Join(dir, "global.json"), filepath.Join(dir, "project.json"))
	require.Equal(t, "6", m.granularity)
	require.Equal(t, "1", m.simMem)

	m.granularity = "3"
	m.simMem = "0.5"
	m.plotMem = "1.1"
	m.failureMode = "continue"
	m.supersim = "/opt/supersim"
	m.applyFormToConfig()

	require.Equal(t, 3, cfg.Loads.Granularity)
	require.Equal(t, "continue", cfg.FailureMode)
	require.Equal(t, "/opt/supersim", cfg.Binaries.Supersim)
	require.Equal(t, 0.5, cfg.Stages[config.StageSim].Resources[resource.Memory])
	require.Equal(t, 1.0, cfg.Stages[config.StageSim].Resources[resource.CPUs])
	require.Equal(t, 1.1, cfg.Stages[config.StageLoadLatencyCompare].Resources[resource.Memory])
	require.NoError(t, cfg.Validate())
}

func TestSettings_Validators(t *testing.T) {
	require.NoError(t, validatePositiveInt("6"))
	require.Error(t, validatePositiveInt("0"))
	require.Error(t, validatePositiveInt("x"))
	require.NoError(t, validateNonNegative("0.5"))
	require.Error(t, validateNonNegative("-1"))
}

func TestStatusStylesRenderColor(t *testing.T) {
	prev := lipgloss.ColorProfile()
	lipgloss.SetColorProfile(termenv.ANSI256)
	t.Cleanup(func() { lipgloss.SetColorProfile(prev) })

	for _, status := range []string{StatusRunning, StatusSucceeded, StatusSkipped, StatusFailed, StatusCancelled} {
		require.Contains(t, StatusIcon(status), "\x1b[", "status %q renders without color", status)
	}
	require.NotEqual(t, StyleStatusComplete.Render("x"), StyleStatusFailed.Render("x"))
}

func TestModel_SubscriptionHoldsWholeRun(t *testing.T) {
	bus := events.NewEventBus()
	defer bus.Close()

	const total = 500
	New(bus, total, nil)

	// A rerun that skips everything publishes a transition and a progress
	// snapshot per task before the dashboard reads anything.
	for i := 0; i < total; i++ {
		id := fmt.Sprintf("sim_adaptive_%d", i)
		bus.Publish(events.TaskSkippedEvent{ID: id, Timestamp: time.Now()})
		bus.Publish(events.ProgressEvent{Total: total, Skipped: i + 1, Timestamp: time.Now()})
	}
	require.Zero(t, bus.Dropped())
}
