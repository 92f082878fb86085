package config

// Stage names used as keys of SweepConfig.Stages.
const (
	StageSim                = "sim"
	StageParse              = "parse"
	StagePercentile         = "percentile"
	StageLoadLatency        = "loadlatency"
	StageLoadLatencyCompare = "loadlatencycompare"
)

// Stages lists every stage name in pipeline order.
var Stages = []string{StageSim, StageParse, StagePercentile, StageLoadLatency, StageLoadLatencyCompare}

// DefaultLatencyFields are the latency statistics ssplot can compare.
var DefaultLatencyFields = []string{
	"Minimum", "Mean", "Median", "90th%", "99th%", "99.9th%", "99.99th%", "99.999th%", "Maximum",
}

func unitResources() map[string]float64 {
	return map[string]float64{"cpus": 1, "mem": 1}
}

// DefaultConfig returns the default configuration: the four routing
// algorithms swept from 0% to 100% load.
func DefaultConfig() *SweepConfig {
	return &SweepConfig{
		Binaries: BinariesConfig{
			Supersim: "supersim",
			Ssparse:  "ssparse",
			Ssplot:   "ssplot",
		},
		Algorithms: []AlgorithmConfig{
			{Name: "flow_hash", Selection: "flow_hash", Reduction: "all_minimal"},
			{Name: "flow_cache", Selection: "flow_cache", Reduction: "all_minimal"},
			{Name: "oblivious", Selection: "all", Reduction: "all_minimal"},
			{Name: "adaptive", Selection: "all", Reduction: "least_congested_minimal"},
		},
		Loads: LoadConfig{
			Start:       0,
			Stop:        100,
			Granularity: 6,
		},
		LatencyScalar: 0.001,
		Stages: map[string]StageConfig{
			StageSim:                {Resources: unitResources(), Priority: 0},
			StageParse:              {Resources: unitResources(), Priority: 1},
			StagePercentile:         {Resources: unitResources(), Priority: 1},
			StageLoadLatency:        {Resources: unitResources(), Priority: 1},
			StageLoadLatencyCompare: {Resources: unitResources(), Priority: 1},
		},
		Plot: PlotConfig{
			YMax:   500,
			Fields: append([]string(nil), DefaultLatencyFields...),
		},
		FailureMode: "aggressive",
		History: HistoryConfig{
			Keep: 100,
		},
	}
}
