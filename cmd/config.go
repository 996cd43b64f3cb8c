package cmd

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/signal-sim/signal-sim/internal/tracestore"
	"github.com/signal-sim/signal-sim/sim"
	"github.com/signal-sim/signal-sim/sim/trace"
)

// schedulerFlags are the flag values every command uses to build a scheduler.
type schedulerFlags struct {
	Preset       string // preset name in defaults.yaml; empty skips presets
	DefaultsPath string
	PolicyConfig string // policy bundle YAML
	Policy       string
	PolicySet    bool // --policy given explicitly
	TraceLevel   string
	TraceCap     int
	TraceDB      string
}

// schedulerSetup is the resolved scheduler configuration.
type schedulerSetup struct {
	Params     sim.PolicyParams
	Policy     string
	TraceLevel string
	TraceCap   int
}

// resolveScheduler layers configuration: documented defaults, then the
// preset, then the policy bundle. An explicit --policy wins over both; the
// fallback policy applies when none of them names one.
func resolveScheduler(f schedulerFlags, fallbackPolicy string) (schedulerSetup, error) {
	setup := schedulerSetup{
		Params:     sim.DefaultPolicyParams(),
		Policy:     fallbackPolicy,
		TraceLevel: f.TraceLevel,
		TraceCap:   f.TraceCap,
	}
	var bundles []*sim.PolicyBundle
	if f.Preset != "" {
		preset, err := GetPreset(f.Preset, f.DefaultsPath)
		if err != nil {
			return schedulerSetup{}, err
		}
		bundles = append(bundles, preset)
	}
	if f.PolicyConfig != "" {
		bundle, err := sim.LoadPolicyBundle(f.PolicyConfig)
		if err != nil {
			return schedulerSetup{}, err
		}
		bundles = append(bundles, bundle)
	}
	for _, b := range bundles {
		params, err := b.Apply(setup.Params)
		if err != nil {
			return schedulerSetup{}, err
		}
		setup.Params = params
		if b.Policy != "" {
			setup.Policy = b.Policy
		}
		if b.Trace.Level != "" {
			setup.TraceLevel = b.Trace.Level
		}
		if b.Trace.Capacity != nil {
			setup.TraceCap = *b.Trace.Capacity
		}
	}
	if f.PolicySet {
		setup.Policy = f.Policy
	}
	if !sim.IsValidPolicy(setup.Policy) {
		return schedulerSetup{}, fmt.Errorf("unknown policy %q; valid: %v", setup.Policy, sim.ValidPolicyNames())
	}
	if !trace.IsValidTraceLevel(setup.TraceLevel) {
		return schedulerSetup{}, fmt.Errorf("unknown trace level %q; valid: none, decisions", setup.TraceLevel)
	}
	return setup, nil
}

// newScheduler builds the scheduler and its decision trace.
func (s schedulerSetup) newScheduler(extra ...sim.Option) (*sim.Scheduler, *trace.DecisionTrace, error) {
	dt := trace.NewDecisionTrace(trace.TraceConfig{Level: trace.TraceLevel(s.TraceLevel), Capacity: s.TraceCap})
	opts := append([]sim.Option{sim.WithPolicy(sim.PolicyKind(s.Policy)), sim.WithTrace(dt)}, extra...)
	sched, err := sim.NewScheduler(s.Params, opts...)
	if err != nil {
		return nil, nil, err
	}
	mode := s.Policy
	if mode == "" {
		mode = "meta-scheduler"
	}
	logrus.Infof("scheduler: %s, min_green=%.1f max_green=%.1f cycle=%v", mode, s.Params.MinGreen, s.Params.MaxGreen, s.Params.RRCycleOrder)
	return sched, dt, nil
}

// openTraceStore opens and migrates the trace database and registers a run.
func openTraceStore(ctx context.Context, path, source string) (*tracestore.Store, string, error) {
	store, err := tracestore.Open(path)
	if err != nil {
		return nil, "", err
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, "", err
	}
	runID, err := store.CreateRun(ctx, source)
	if err != nil {
		store.Close()
		return nil, "", err
	}
	logrus.Infof("recording decisions to %s (run %s)", path, runID)
	return store, runID, nil
}
