package tui

import (
	"fmt"
	"strconv"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/sweeprun/internal/config"
	"github.com/aristath/sweeprun/internal/resource"
)

// Save targets offered by the settings form.
const (
	TargetGlobal  = "global"
	TargetProject = "project"
)

// SettingsModel is an interactive editor for the sweep configuration that
// saves to the global or project config file.
type SettingsModel struct {
	form        *huh.Form
	config      *config.SweepConfig
	globalPath  string
	projectPath string
	width       int
	height      int
	saved       bool
	savedPath   string
	aborted     bool
	err         error

	// Form field bindings (strings for Huh)
	saveTarget    string
	supersim      string
	ssparse       string
	ssplot        string
	granularity   string
	failureMode   string
	simMem        string
	parseMem      string
	plotMem       string
	latencyScalar string
}

// NewSettingsModel creates a settings editor initialized from cfg.
func NewSettingsModel(cfg *config.SweepConfig, globalPath, projectPath string) SettingsModel {
	m := SettingsModel{
		config:      cfg,
		globalPath:  globalPath,
		projectPath: projectPath,

		saveTarget:    TargetGlobal,
		supersim:      cfg.Binaries.Supersim,
		ssparse:       cfg.Binaries.Ssparse,
		ssplot:        cfg.Binaries.Ssplot,
		granularity:   strconv.Itoa(cfg.Loads.Granularity),
		failureMode:   cfg.FailureMode,
		simMem:        formatFloat(cfg.Stages[config.StageSim].Resources[resource.Memory]),
		parseMem:      formatFloat(cfg.Stages[config.StageParse].Resources[resource.Memory]),
		plotMem:       formatFloat(cfg.Stages[config.StagePercentile].Resources[resource.Memory]),
		latencyScalar: formatFloat(cfg.LatencyScalar),
	}
	m.buildForm()
	return m
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func validatePositiveInt(s string) error {
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return fmt.Errorf("must be a positive integer")
	}
	return nil
}

func validateNonNegative(s string) error {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v < 0 {
		return fmt.Errorf("must be a non-negative number")
	}
	return nil
}

// buildForm constructs the Huh form with all settings fields.
func (m *SettingsModel) buildForm() {
	m.form = huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Key("saveTarget").
				Title("Save To").
				Options(
					huh.NewOption("Global ("+m.globalPath+")", TargetGlobal),
					huh.NewOption("Project ("+m.projectPath+")", TargetProject),
				).
				Value(&m.saveTarget),
		).Title("Save Target"),

		huh.NewGroup(
			huh.NewInput().
				Key("supersim").
				Title("Simulator").
				Value(&m.supersim).
				Placeholder("supersim"),

			huh.NewInput().
				Key("ssparse").
				Title("Parser").
				Value(&m.ssparse).
				Placeholder("ssparse"),

			huh.NewInput().
				Key("ssplot").
				Title("Plotter").
				Value(&m.ssplot).
				Placeholder("ssplot"),
		).Title("Binaries"),

		huh.NewGroup(
			huh.NewInput().
				Key("granularity").
				Title("Load Granularity (%)").
				Value(&m.granularity).
				Validate(validatePositiveInt),

			huh.NewInput().
				Key("latencyScalar").
				Title("Latency Scalar").
				Value(&m.latencyScalar).
				Validate(validateNonNegative),

			huh.NewSelect[string]().
				Key("failureMode").
				Title("On Failure").
				Options(
					huh.NewOption("Stop everything", "aggressive"),
					huh.NewOption("Cancel dependents only", "continue"),
				).
				Value(&m.failureMode),
		).Title("Sweep"),

		huh.NewGroup(
			huh.NewInput().
				Key("simMem").
				Title("Simulation Memory (GiB)").
				Value(&m.simMem).
				Validate(validateNonNegative),

			huh.NewInput().
				Key("parseMem").
				Title("Parse Memory (GiB)").
				Value(&m.parseMem).
				Validate(validateNonNegative),

			huh.NewInput().
				Key("plotMem").
				Title("Plot Memory (GiB)").
				Value(&m.plotMem).
				Validate(validateNonNegative),
		).Title("Resources"),
	)
}

// Init initializes the settings form.
func (m SettingsModel) Init() tea.Cmd {
	return m.form.Init()
}

// Update handles messages for the settings form.
func (m SettingsModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.SetSize(msg.Width, msg.Height)
	case tea.KeyMsg:
		switch msg.String() {
		case "esc", KeyCtrlC:
			// Cancel without saving
			m.aborted = true
			return m, tea.Quit
		}
	}

	form, cmd := m.form.Update(msg)
	if f, ok := form.(*huh.Form); ok {
		m.form = f
	}

	if m.form.State == huh.StateCompleted {
		m.applyFormToConfig()

		targetPath := m.globalPath
		if m.saveTarget == TargetProject {
			targetPath = m.projectPath
		}
		if err := config.Save(m.config, targetPath); err != nil {
			m.err = err
		} else {
			m.saved = true
			m.savedPath = targetPath
		}
		return m, tea.Quit
	}

	return m, cmd
}

// applyFormToConfig copies form field values back to the config struct.
// Inputs were validated by the form.
func (m *SettingsModel) applyFormToConfig() {
	m.config.Binaries.Supersim = m.supersim
	m.config.Binaries.Ssparse = m.ssparse
	m.config.Binaries.Ssplot = m.ssplot
	m.config.FailureMode = m.failureMode

	if n, err := strconv.Atoi(m.granularity); err == nil {
		m.config.Loads.Granularity = n
	}
	if v, err := strconv.ParseFloat(m.latencyScalar, 64); err == nil {
		m.config.LatencyScalar = v
	}

	setMem := func(v string, stages ...string) {
		mem, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return
		}
		for _, name := range stages {
			sc := m.config.Stages[name]
			res := make(map[string]float64, len(sc.Resources)+1)
			for k, q := range sc.Resources {
				res[k] = q
			}
			res[resource.Memory] = mem
			sc.Resources = res
			m.config.Stages[name] = sc
		}
	}
	setMem(m.simMem, config.StageSim)
	setMem(m.parseMem, config.StageParse)
	setMem(m.plotMem, config.StagePercentile, config.StageLoadLatency, config.StageLoadLatencyCompare)
}

// View renders the settings form.
func (m SettingsModel) View() string {
	var content string
	switch {
	case m.saved:
		content = lipgloss.NewStyle().
			Foreground(lipgloss.Color("10")).
			Bold(true).
			Render("✓ Settings saved to " + m.savedPath)
	case m.err != nil:
		content = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9")).
			Bold(true).
			Render(fmt.Sprintf("✗ Error saving: %v", m.err))
	case m.aborted:
		return ""
	default:
		content = m.form.View()
	}

	title := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("62")).
		Render("⚙ Sweep Settings")

	style := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("62")).
		Padding(1, 2)
	if m.width > 4 {
		style = style.Width(m.width - 4)
	}

	return lipgloss.JoinVertical(lipgloss.Left, title, style.Render(content)) + "\n"
}

// SetSize updates the dimensions of the settings form.
func (m *SettingsModel) SetSize(w, h int) {
	m.width = w
	m.height = h
	if m.form != nil {
		m.form.WithWidth(w - 8).WithHeight(h - 8)
	}
}

// Result reports where the configuration was saved. Both are zero when the
// user cancelled.
func (m SettingsModel) Result() (path string, err error) {
	return m.savedPath, m.err
}

// Config returns the edited configuration.
func (m SettingsModel) Config() *config.SweepConfig {
	return m.config
}
