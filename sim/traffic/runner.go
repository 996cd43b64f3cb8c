package traffic

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/sirupsen/logrus"

	"github.com/signal-sim/signal-sim/sim"
)

// TickReport describes one scheduler tick of a run.
type TickReport struct {
	Seq      int
	Snapshot *sim.IntersectionSnapshot
	Plan     sim.ActionPlan // the plan executed; the previous one when Err != nil
	State    sim.PreemptionState
	Err      error // snapshot rejected by the scheduler
}

// Result summarises a finished run.
type Result struct {
	Scenario   string
	Ticks      int
	Rejected   int
	FinalState sim.PreemptionState
	Metrics    *Metrics
}

// Runner drives a Scheduler against an Intersection, one tick per Scenario.Tick.
type Runner struct {
	Scenario  *Scenario
	Scheduler *sim.Scheduler
	// OnTick, when set, sees every tick. A returned error aborts the run.
	OnTick func(TickReport) error
}

// NewRunner pairs a scenario with a scheduler.
func NewRunner(sc *Scenario, sched *sim.Scheduler) (*Runner, error) {
	if sc == nil || sched == nil {
		return nil, errors.New("runner: scenario and scheduler are required")
	}
	if err := sc.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &Runner{Scenario: sc, Scheduler: sched}, nil
}

// Run simulates the scenario to its horizon. A rejected snapshot keeps the
// last accepted plan running, so the intersection never goes dark.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	it, err := NewIntersection(r.Scenario)
	if err != nil {
		return nil, err
	}
	steps := int(math.Ceil(r.Scenario.Horizon / r.Scenario.Tick))
	res := &Result{Scenario: r.Scenario.Name, Metrics: it.Metrics()}
	var last sim.ActionPlan

	logrus.Infof("running scenario %q: %d ticks of %.2fs, %d lanes", r.Scenario.Name, steps, r.Scenario.Tick, len(r.Scenario.Lanes))
	for i := 0; i < steps; i++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		snap := it.Snapshot()
		plan, tickErr := r.Scheduler.Tick(snap)
		if tickErr != nil {
			res.Rejected++
			plan = last
		} else {
			last = plan
		}
		if r.OnTick != nil {
			report := TickReport{Seq: i, Snapshot: snap, Plan: plan, State: r.Scheduler.Context().State, Err: tickErr}
			if err := r.OnTick(report); err != nil {
				return res, fmt.Errorf("tick %d: %w", i, err)
			}
		}
		if err := it.Advance(plan, r.Scenario.Tick); err != nil {
			return res, err
		}
		res.Ticks++
	}
	res.FinalState = r.Scheduler.Context().State
	logrus.Infof("scenario %q done: %d departed, mean wait %.2fs", r.Scenario.Name, res.Metrics.Departed, res.Metrics.MeanWait())
	return res, nil
}

// SchedulerOptions returns the scheduler options the scenario asks for.
func (s *Scenario) SchedulerOptions() []sim.Option {
	if s.Policy == "" {
		return nil
	}
	return []sim.Option{sim.WithPolicy(sim.PolicyKind(s.Policy))}
}

// AlignCycleOrder returns params whose RRCycleOrder covers every phase of
// the scenario. Missing phases are appended in declaration order.
func AlignCycleOrder(params sim.PolicyParams, phases []sim.Approach) sim.PolicyParams {
	known := make(map[sim.Approach]bool, len(params.RRCycleOrder))
	order := append([]sim.Approach(nil), params.RRCycleOrder...)
	for _, a := range order {
		known[a] = true
	}
	for _, p := range phases {
		if !known[p] {
			logrus.Infof("appending phase %s to rr_cycle_order", p)
			order = append(order, p)
			known[p] = true
		}
	}
	params.RRCycleOrder = order
	return params
}
