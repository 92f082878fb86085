package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"dario.cat/mergo"
)

// Load reads and merges configuration from global and project paths.
// Order of precedence (highest to lowest): project config, global config, defaults.
// Missing files are not errors; malformed JSON returns an error.
func Load(globalPath, projectPath string) (*SweepConfig, error) {
	// Start with defaults
	cfg := DefaultConfig()

	// Merge global config if exists
	if globalPath != "" {
		if err := mergeConfigFile(cfg, globalPath); err != nil {
			return nil, fmt.Errorf("loading global config: %w", err)
		}
	}

	// Merge project config if exists (highest precedence)
	if projectPath != "" {
		if err := mergeConfigFile(cfg, projectPath); err != nil {
			return nil, fmt.Errorf("loading project config: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// GlobalPath returns ~/.sweeprun/config.json.
func GlobalPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}
	return filepath.Join(homeDir, ".sweeprun", "config.json"), nil
}

// ProjectPath is the project config location relative to the working directory.
const ProjectPath = ".sweeprun/config.json"

// LoadDefault loads configuration from conventional paths.
// Global: ~/.sweeprun/config.json
// Project: .sweeprun/config.json (relative to cwd)
func LoadDefault() (*SweepConfig, error) {
	globalPath, err := GlobalPath()
	if err != nil {
		return nil, err
	}
	return Load(globalPath, ProjectPath)
}

// stageOverride is a stage entry as read from a file. Absent fields stay
// nil so they keep the value of the layer below.
type stageOverride struct {
	Resources map[string]float64 `json:"resources"`
	Priority  *int               `json:"priority"`
}

// mergeConfigFile reads a JSON config file and merges it into the base config.
// Non-zero fields override and slices are replaced whole. Stages merge field
// by field: resource quantities per name, priority only when present.
// Missing files are silently skipped.
func mergeConfigFile(base *SweepConfig, path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil // Missing file is not an error
	}
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	var loaded SweepConfig
	if err := json.Unmarshal(data, &loaded); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	var stages struct {
		Stages map[string]stageOverride `json:"stages"`
	}
	if err := json.Unmarshal(data, &stages); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}

	loaded.Stages = nil
	if err := mergo.Merge(base, loaded, mergo.WithOverride); err != nil {
		return fmt.Errorf("merging %s: %w", path, err)
	}
	mergeStages(base, stages.Stages)
	return nil
}

func mergeStages(base *SweepConfig, overrides map[string]stageOverride) {
	if len(overrides) == 0 {
		return
	}
	if base.Stages == nil {
		base.Stages = make(map[string]StageConfig, len(overrides))
	}
	for name, o := range overrides {
		sc := base.Stages[name]
		res := make(map[string]float64, len(sc.Resources)+len(o.Resources))
		for k, q := range sc.Resources {
			res[k] = q
		}
		for k, q := range o.Resources {
			res[k] = q
		}
		sc.Resources = res
		if o.Priority != nil {
			sc.Priority = *o.Priority
		}
		base.Stages[name] = sc
	}
}

// Validate reports the first inconsistency in the configuration.
func (c *SweepConfig) Validate() error {
	if c.Loads.Granularity <= 0 {
		return fmt.Errorf("loads: granularity must be positive, got %d", c.Loads.Granularity)
	}
	if c.Loads.Start < 0 || c.Loads.Stop > 100 || c.Loads.Start > c.Loads.Stop {
		return fmt.Errorf("loads: invalid range %d..%d", c.Loads.Start, c.Loads.Stop)
	}
	if len(c.Algorithms) == 0 {
		return errors.New("algorithms: at least one routing algorithm is required")
	}
	seen := make(map[string]bool, len(c.Algorithms))
	for _, a := range c.Algorithms {
		if a.Name == "" {
			return errors.New("algorithms: name is required")
		}
		if seen[a.Name] {
			return fmt.Errorf("algorithms: duplicate name %q", a.Name)
		}
		seen[a.Name] = true
	}
	for _, stage := range Stages {
		sc, ok := c.Stages[stage]
		if !ok {
			return fmt.Errorf("stages: missing %q", stage)
		}
		var requested bool
		for name, q := range sc.Resources {
			if q < 0 {
				return fmt.Errorf("stages: %s requests negative %s", stage, name)
			}
			requested = requested || q > 0
		}
		if !requested {
			return fmt.Errorf("stages: %s requests no resources", stage)
		}
	}
	return nil
}
