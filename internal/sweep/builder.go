package sweep

import (
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/aristath/sweeprun/internal/condition"
	"github.com/aristath/sweeprun/internal/config"
	"github.com/aristath/sweeprun/internal/process"
	"github.com/aristath/sweeprun/internal/resource"
	"github.com/aristath/sweeprun/internal/scheduler"
)

// Simulator setting paths overridden per sweep point.
const (
	settingInjectionRate   = "/workload/applications/0/blast_terminal/request_injection_rate"
	settingEnableResponses = "/workload/applications/0/blast_terminal/enable_responses"
	settingInfoLog         = "/simulator/info_log/file"
	settingChannelLog      = "/network/channel_log/file"
	settingRateLog         = "/workload/applications/0/rate_log/file"
	settingMessageLog      = "/workload/message_log/file"
	settingSelection       = "/network/protocol_classes/0/routing/selection"
	settingReduction       = "/network/protocol_classes/0/routing/reduction/algorithm"
)

// Builder expands a sweep configuration into a task graph writing all
// artifacts under one output directory.
type Builder struct {
	cfg      *config.SweepConfig
	dir      string
	settings string
	log      logrus.FieldLogger

	parses map[Key]*scheduler.Task
}

// NewBuilder creates a builder for the sweep described by cfg, running the
// simulator on the given settings file.
func NewBuilder(cfg *config.SweepConfig, dir, settings string, log logrus.FieldLogger) *Builder {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Builder{cfg: cfg, dir: dir, settings: settings, log: log}
}

// Loads returns the swept injection loads, start to stop inclusive.
func (b *Builder) Loads() []Load {
	var loads []Load
	for l := b.cfg.Loads.Start; l <= b.cfg.Loads.Stop; l += b.cfg.Loads.Granularity {
		loads = append(loads, Load(l))
	}
	return loads
}

// Build returns the graph of every sweep task. Tasks are added stage by
// stage, so insertion order favors simulations among equal priorities.
func (b *Builder) Build() (*scheduler.Graph, error) {
	if err := b.cfg.Validate(); err != nil {
		return nil, err
	}
	g := scheduler.NewGraph()
	b.parses = make(map[Key]*scheduler.Task)
	loads := b.Loads()

	add := func(t *scheduler.Task) error {
		if err := g.AddTask(t); err != nil {
			return fmt.Errorf("adding %s: %w", t.ID, err)
		}
		return nil
	}

	for _, a := range b.cfg.Algorithms {
		for _, l := range loads {
			if err := add(b.simTask(a, l)); err != nil {
				return nil, err
			}
		}
	}
	for _, a := range b.cfg.Algorithms {
		for _, l := range loads {
			parse := b.parseTask(a, l)
			if err := add(parse); err != nil {
				return nil, err
			}
			b.parses[SimKey(StageParse, a.Name, l)] = parse
		}
	}
	for _, a := range b.cfg.Algorithms {
		for _, l := range loads {
			if err := add(b.percentileTask(a, l)); err != nil {
				return nil, err
			}
		}
	}
	for _, a := range b.cfg.Algorithms {
		if err := add(b.loadLatencyTask(a, loads)); err != nil {
			return nil, err
		}
	}
	for _, f := range b.cfg.Plot.Fields {
		if err := add(b.compareTask(f, loads)); err != nil {
			return nil, err
		}
	}

	b.log.WithFields(logrus.Fields{
		"algorithms": len(b.cfg.Algorithms),
		"loads":      len(loads),
		"tasks":      g.Len(),
	}).Debug("sweep graph built")
	return g, nil
}

func (b *Builder) file(prefix, point, ext string) string {
	return filepath.Join(b.dir, prefix+"_"+point+ext)
}

func (b *Builder) stage(s Stage) config.StageConfig {
	return b.cfg.Stages[string(s)]
}

func (b *Builder) newTask(key Key, cmd process.Command, deps []string, cond *condition.FileModification) *scheduler.Task {
	sc := b.stage(key.Stage)
	return &scheduler.Task{
		ID:        key.ID(),
		Command:   cmd,
		Resources: resource.Request(sc.Resources).Clone(),
		DependsOn: deps,
		Condition: cond,
		Priority:  sc.Priority,
	}
}

func (b *Builder) simTask(a config.AlgorithmConfig, l Load) *scheduler.Task {
	key := SimKey(StageSim, a.Name, l)
	p := key.Point()
	info := b.file("info", p, ".csv")
	channels := b.file("channels", p, ".csv")
	rates := b.file("rates", p, ".csv")
	messages := b.file("messages", p, ".mpf.gz")
	console := b.file("simout", p, ".log")

	inv := SimInvocation{
		Binary:   b.cfg.Binaries.Supersim,
		Settings: b.settings,
		Overrides: []Override{
			FloatOverride(settingInjectionRate, l.Rate()),
			BoolOverride(settingEnableResponses, false),
			StringOverride(settingInfoLog, info),
			StringOverride(settingChannelLog, channels),
			StringOverride(settingRateLog, rates),
			StringOverride(settingMessageLog, messages),
			StringOverride(settingSelection, a.Selection),
			StringOverride(settingReduction, a.Reduction),
		},
	}
	cond := condition.NewFileModification(nil, []string{info, channels, rates, messages, console})

	t := b.newTask(key, inv.Command(), nil, cond)
	t.Output = process.Redirect{Stdout: console, Stderr: console}
	return t
}

func (b *Builder) parseTask(a config.AlgorithmConfig, l Load) *scheduler.Task {
	key := SimKey(StageParse, a.Name, l)
	p := key.Point()
	messages := b.file("messages", p, ".mpf.gz")
	latency := b.file("latency", p, ".csv")
	messagesCSV := b.file("messages", p, ".csv.gz")

	cmd := process.Command{
		Program: b.cfg.Binaries.Ssparse,
		Args: []string{
			"-l", latency,
			"-m", messagesCSV,
			"-s", strconv.FormatFloat(b.cfg.LatencyScalar, 'g', -1, 64),
			messages,
		},
	}
	cond := condition.NewFileModification([]string{messages}, []string{latency, messagesCSV})
	return b.newTask(key, cmd, []string{SimKey(StageSim, a.Name, l).ID()}, cond)
}

func (b *Builder) percentileTask(a config.AlgorithmConfig, l Load) *scheduler.Task {
	key := SimKey(StagePercentile, a.Name, l)
	p := key.Point()
	messagesCSV := b.file("messages", p, ".csv.gz")
	png := b.file("percentile", p, ".png")

	cmd := process.Command{
		Program: b.cfg.Binaries.Ssplot,
		Args: []string{
			"lpc", messagesCSV, png,
			"--title", fmt.Sprintf("Algorithm=%s Load=%s", a.Name, l),
		},
	}
	cond := condition.NewFileModification([]string{messagesCSV}, []string{png})
	return b.newTask(key, cmd, []string{SimKey(StageParse, a.Name, l).ID()}, cond)
}

// sweepArgs are the start, stop and step arguments ssplot uses to label the
// load axis. Stop is exclusive for ssplot.
func (b *Builder) sweepArgs() []string {
	return []string{
		strconv.Itoa(b.cfg.Loads.Start),
		strconv.Itoa(b.cfg.Loads.Stop + 1),
		strconv.Itoa(b.cfg.Loads.Granularity),
	}
}

func (b *Builder) loadLatencyTask(a config.AlgorithmConfig, loads []Load) *scheduler.Task {
	key := Key{Stage: StageLoadLatency, Algorithm: a.Name}
	png := b.file("loadlatency", a.Name, ".png")

	args := []string{"ll", "--row", "Message", "--ymin", "0", "--ymax", strconv.Itoa(b.cfg.Plot.YMax), png}
	args = append(args, b.sweepArgs()...)
	args = append(args, "--title", "Algorithm="+a.Name)

	cond := condition.NewFileModification(nil, []string{png})
	var deps []string
	for _, l := range loads {
		latency := b.file("latency", SimKey(StageParse, a.Name, l).Point(), ".csv")
		args = append(args, latency)
		cond.AddInput(latency)
		deps = append(deps, b.parses[SimKey(StageParse, a.Name, l)].ID)
	}

	cmd := process.Command{Program: b.cfg.Binaries.Ssplot, Args: args}
	return b.newTask(key, cmd, deps, cond)
}

func (b *Builder) compareTask(field string, loads []Load) *scheduler.Task {
	key := Key{Stage: StageLoadLatencyCompare, Field: field}
	png := filepath.Join(b.dir, key.ID()+".png")

	args := []string{"llc", "--row", "Message", "--title", field + " Latency", "--field", field, png}
	args = append(args, b.sweepArgs()...)
	args = append(args, "--ymin", "0", "--ymax", strconv.Itoa(b.cfg.Plot.YMax))

	cond := condition.NewFileModification(nil, []string{png})
	var deps []string
	for _, a := range b.cfg.Algorithms {
		for _, l := range loads {
			latency := b.file("latency", SimKey(StageParse, a.Name, l).Point(), ".csv")
			args = append(args, latency)
			cond.AddInput(latency)
			deps = append(deps, b.parses[SimKey(StageParse, a.Name, l)].ID)
		}
	}
	for _, a := range b.cfg.Algorithms {
		args = append(args, "--data_label", a.Name)
	}

	cmd := process.Command{Program: b.cfg.Binaries.Ssplot, Args: args}
	return b.newTask(key, cmd, deps, cond)
}
