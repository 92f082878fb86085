package observer

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/aristath/sweeprun/internal/scheduler"
)

var (
	styleStart   = lipgloss.NewStyle().Foreground(lipgloss.Color("3")).Bold(true)
	styleSkip    = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	styleSuccess = lipgloss.NewStyle().Foreground(lipgloss.Color("2")).Bold(true)
	styleFailure = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
	styleCancel  = lipgloss.NewStyle().Foreground(lipgloss.Color("208"))
	styleCounter = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

// Verbose prints one progress line per task transition.
//
//	[  3/120] start    sim_adaptive_0.06
//	[  4/120] success  parse_adaptive_0.06 (12s)
type Verbose struct {
	mu       sync.Mutex
	w        io.Writer
	total    int
	done     int
	commands bool
}

// NewVerbose creates a progress printer for a graph of total tasks. When
// commands is set, start lines include the full command.
func NewVerbose(w io.Writer, total int, commands bool) *Verbose {
	return &Verbose{w: w, total: total, commands: commands}
}

func (v *Verbose) OnStart(task *scheduler.Task) error {
	line := task.ID
	if v.commands {
		line += "\n    " + task.Command.String()
	}
	return v.print(false, styleStart, "start", line)
}

func (v *Verbose) OnSkip(task *scheduler.Task) error {
	return v.print(true, styleSkip, "skip", task.ID)
}

func (v *Verbose) OnSuccess(task *scheduler.Task) error {
	return v.print(true, styleSuccess, "success", fmt.Sprintf("%s (%s)", task.ID, task.Duration.Round(time.Millisecond)))
}

func (v *Verbose) OnFailure(task *scheduler.Task) error {
	return v.print(true, styleFailure, "failure", fmt.Sprintf("%s: %v", task.ID, task.Err))
}

func (v *Verbose) OnCancel(task *scheduler.Task) error {
	return v.print(true, styleCancel, "cancel", task.ID)
}

func (v *Verbose) print(terminal bool, style lipgloss.Style, verb, msg string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if terminal {
		v.done++
	}
	width := len(humanize.Comma(int64(v.total)))
	counter := styleCounter.Render(fmt.Sprintf("[%*s/%s]", width, humanize.Comma(int64(v.done)), humanize.Comma(int64(v.total))))
	_, err := fmt.Fprintf(v.w, "%s %s %s\n", counter, style.Render(fmt.Sprintf("%-8s", verb)), msg)
	return err
}

// Summary writes a one-paragraph summary of the report.
func Summary(w io.Writer, report *scheduler.Report) error {
	counts := report.Counts()
	_, err := fmt.Fprintf(w, "%s tasks finished in %s: %s succeeded, %s skipped, %s failed, %s cancelled\n",
		humanize.Comma(int64(len(report.Tasks))),
		report.Duration.Round(time.Millisecond),
		styleSuccess.Render(humanize.Comma(int64(counts[scheduler.TaskSucceeded]))),
		styleSkip.Render(humanize.Comma(int64(counts[scheduler.TaskSkipped]))),
		styleFailure.Render(humanize.Comma(int64(counts[scheduler.TaskFailed]))),
		styleCancel.Render(humanize.Comma(int64(counts[scheduler.TaskCancelled]))),
	)
	if err != nil {
		return err
	}
	for _, id := range report.IDs(scheduler.TaskFailed) {
		for _, t := range report.Tasks {
			if t.ID == id {
				if _, err := fmt.Fprintf(w, "  %s %s: %v\n", styleFailure.Render("failed"), id, t.Err); err != nil {
					return err
				}
			}
		}
	}
	return nil
}
