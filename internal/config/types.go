package config

// BinariesConfig names the external programs a sweep invokes.
type BinariesConfig struct {
	Supersim string `json:"supersim"`         // Simulator binary
	Ssparse  string `json:"ssparse"`          // Simulation output parser
	Ssplot   string `json:"ssplot,omitempty"` // Plotter
}

// AlgorithmConfig defines one routing algorithm of the sweep as the pair of
// simulator settings that select it.
type AlgorithmConfig struct {
	Name      string `json:"name"`      // Used in task IDs and output file names
	Selection string `json:"selection"` // routing/selection value
	Reduction string `json:"reduction"` // routing/reduction/algorithm value
}

// LoadConfig defines the injection load axis in percent.
type LoadConfig struct {
	Start       int `json:"start"`
	Stop        int `json:"stop"` // Inclusive
	Granularity int `json:"granularity"`
}

// StageConfig holds the scheduling parameters shared by every task of a stage.
type StageConfig struct {
	Resources map[string]float64 `json:"resources"`
	Priority  int                `json:"priority"`
}

// PlotConfig controls the ssplot invocations.
type PlotConfig struct {
	YMax   int      `json:"ymax"`
	Fields []string `json:"fields"` // Latency fields compared across algorithms
}

// HistoryConfig controls the run history database.
type HistoryConfig struct {
	Path string `json:"path,omitempty"` // Empty means ~/.sweeprun/history.db
	Keep int    `json:"keep"`           // Runs kept after pruning
}

// SweepConfig is the top-level configuration.
type SweepConfig struct {
	Binaries      BinariesConfig         `json:"binaries"`
	Algorithms    []AlgorithmConfig      `json:"algorithms"`
	Loads         LoadConfig             `json:"loads"`
	LatencyScalar float64                `json:"latency_scalar"`
	Stages        map[string]StageConfig `json:"stages"`
	Plot          PlotConfig             `json:"plot"`
	FailureMode   string                 `json:"failure_mode"`
	History       HistoryConfig          `json:"history"`
}
