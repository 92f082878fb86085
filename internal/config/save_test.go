package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestSaveCreatesFile(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.json")

	cfg := DefaultConfig()
	cfg.Binaries.Supersim = "/opt/bin/supersim"

	if err := Save(cfg, path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read config file: %v", err)
	}

	var loaded SweepConfig
	if err := json.Unmarshal(data, &loaded); err != nil {
		t.Fatalf("Config file contains invalid JSON: %v", err)
	}
	if loaded.Binaries.Supersim != "/opt/bin/supersim" {
		t.Errorf("Expected supersim '/opt/bin/supersim', got '%s'", loaded.Binaries.Supersim)
	}
}

func TestSaveCreatesParentDir(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "nested", "deep", "config.json")

	if err := Save(DefaultConfig(), path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Fatalf("Config file was not created: %s", path)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.json")

	cfg := DefaultConfig()
	cfg.Algorithms = []AlgorithmConfig{
		{Name: "ugal", Selection: "all", Reduction: "least_congested_minimal"},
		{Name: "minimal", Selection: "all", Reduction: "all_minimal"},
	}
	cfg.Loads.Granularity = 10
	cfg.Stages[StageSim] = StageConfig{Resources: map[string]float64{"cpus": 1, "mem": 0.5}, Priority: 2}
	cfg.Plot.Fields = []string{"Mean"}
	cfg.FailureMode = "continue"

	if err := Save(cfg, path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := Load(path, "")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if len(loaded.Algorithms) != 2 || loaded.Algorithms[0].Name != "ugal" {
		t.Errorf("Algorithms mismatch: got %+v", loaded.Algorithms)
	}
	if loaded.Loads.Granularity != 10 {
		t.Errorf("Granularity mismatch: got %d", loaded.Loads.Granularity)
	}
	if got := loaded.Stages[StageSim].Resources["mem"]; got != 0.5 {
		t.Errorf("Sim mem mismatch: got %v", got)
	}
	if loaded.Stages[StageSim].Priority != 2 {
		t.Errorf("Sim priority mismatch: got %d", loaded.Stages[StageSim].Priority)
	}
	if len(loaded.Plot.Fields) != 1 || loaded.Plot.Fields[0] != "Mean" {
		t.Errorf("Fields mismatch: got %v", loaded.Plot.Fields)
	}
	if loaded.FailureMode != "continue" {
		t.Errorf("FailureMode mismatch: got %s", loaded.FailureMode)
	}
}

func TestSaveOverwritesExisting(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.json")

	cfg1 := DefaultConfig()
	cfg1.Binaries.Ssparse = "first-value"
	if err := Save(cfg1, path); err != nil {
		t.Fatalf("First save failed: %v", err)
	}

	cfg2 := DefaultConfig()
	cfg2.Binaries.Ssparse = "second-value"
	if err := Save(cfg2, path); err != nil {
		t.Fatalf("Second save failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read config file: %v", err)
	}

	var loaded SweepConfig
	if err := json.Unmarshal(data, &loaded); err != nil {
		t.Fatalf("Failed to parse config: %v", err)
	}
	if loaded.Binaries.Ssparse != "second-value" {
		t.Errorf("Expected 'second-value', got '%s'", loaded.Binaries.Ssparse)
	}
}
