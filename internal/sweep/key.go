// Package sweep expands a routing algorithm by injection load parameter
// sweep into a scheduler graph running supersim, ssparse and ssplot.
package sweep

import (
	"fmt"
	"strings"

	"github.com/aristath/sweeprun/internal/config"
)

// Stage identifies one step of the sweep pipeline.
type Stage string

const (
	StageSim                Stage = config.StageSim
	StageParse              Stage = config.StageParse
	StagePercentile         Stage = config.StagePercentile
	StageLoadLatency        Stage = config.StageLoadLatency
	StageLoadLatencyCompare Stage = config.StageLoadLatencyCompare
)

// Load is an injection rate in whole percent of the terminal bandwidth.
type Load int

// String formats the load as a fraction with two decimals ("0.06").
func (l Load) String() string {
	return fmt.Sprintf("%.02f", float64(l)/100)
}

// Rate is the value handed to the simulator. A zero rate is replaced by a
// tiny positive one since the workload cannot start with nothing to inject.
func (l Load) Rate() string {
	if l == 0 {
		return "0.0001"
	}
	return l.String()
}

// Key is the structured identity of a sweep task. Unused dimensions are
// left empty: a per-algorithm plot has no Load, a comparison plot has only
// a Field.
type Key struct {
	Stage     Stage
	Algorithm string
	Load      Load
	HasLoad   bool
	Field     string
}

// SimKey returns the key of a per-(algorithm, load) stage.
func SimKey(stage Stage, algorithm string, load Load) Key {
	return Key{Stage: stage, Algorithm: algorithm, Load: load, HasLoad: true}
}

// Point returns the "<algorithm>_<load>" part shared by every file of one
// sweep point, or the algorithm alone when the key has no load.
func (k Key) Point() string {
	if !k.HasLoad {
		return k.Algorithm
	}
	return k.Algorithm + "_" + k.Load.String()
}

// ID derives the task ID, e.g. "sim_flow_hash_0.06".
func (k Key) ID() string {
	parts := []string{string(k.Stage)}
	if k.Algorithm != "" {
		parts = append(parts, k.Point())
	}
	if k.Field != "" {
		parts = append(parts, k.Field)
	}
	return strings.Join(parts, "_")
}
