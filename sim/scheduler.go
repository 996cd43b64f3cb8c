package sim

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/signal-sim/signal-sim/sim/trace"
)

// Scheduler owns one SchedulerContext and advances it one tick per snapshot.
// Not safe for concurrent use; callers serialise Tick.
type Scheduler struct {
	params PolicyParams
	meta   *MetaScheduler
	forced Policy // nil: the meta-scheduler selects per tick
	ctx    SchedulerContext
	trace  *trace.DecisionTrace
	sinks  []func(trace.TickRecord)
	last   trace.TickRecord
	ticks  int64
}

// Option configures a Scheduler.
type Option func(*Scheduler) error

// WithPolicy fixes the policy for every tick, bypassing the meta-scheduler.
// An empty kind keeps the meta-scheduler.
func WithPolicy(kind PolicyKind) Option {
	return func(s *Scheduler) error {
		if !IsValidPolicy(string(kind)) {
			return misconfiguredf("policy", "unknown policy %q", kind)
		}
		if kind != "" {
			s.forced = NewPolicy(kind)
		}
		return nil
	}
}

// WithTrace records every tick into dt.
func WithTrace(dt *trace.DecisionTrace) Option {
	return func(s *Scheduler) error {
		s.trace = dt
		return nil
	}
}

// WithRecordSink passes every tick record to fn, whether or not an in-memory
// trace is attached. Used to persist decisions.
func WithRecordSink(fn func(trace.TickRecord)) Option {
	return func(s *Scheduler) error {
		if fn == nil {
			return misconfiguredf("record_sink", "must not be nil")
		}
		s.sinks = append(s.sinks, fn)
		return nil
	}
}

// WithMetaScheduler replaces the standard rule table.
func WithMetaScheduler(m *MetaScheduler) Option {
	return func(s *Scheduler) error {
		if m == nil {
			return misconfiguredf("meta_scheduler", "must not be nil")
		}
		s.meta = m
		return nil
	}
}

// NewScheduler validates params and returns a scheduler in the NORMAL state.
func NewScheduler(params PolicyParams, opts ...Option) (*Scheduler, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	s := &Scheduler{
		params: params,
		meta:   NewMetaScheduler(),
		ctx:    NewSchedulerContext(),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Tick runs one scheduling step. A rejected snapshot leaves the context
// unchanged and returns a *ValidationError.
func (s *Scheduler) Tick(snap *IntersectionSnapshot) (ActionPlan, error) {
	s.ticks++
	plan, next, out, err := step(s.ctx, snap, s.params, s.meta, s.forced)
	if err != nil {
		logrus.Warnf("[tick %07d] snapshot rejected: %v", s.ticks, err)
		s.record(trace.TickRecord{
			SimTime:  simTimeOf(snap),
			State:    string(s.ctx.State),
			Rejected: true,
			Error:    err.Error(),
		})
		return nil, err
	}
	s.ctx = next

	if out.Selection.Fallback {
		logrus.Warnf("[tick %07d] policy ambiguity at t=%.2f: %s", s.ticks, snap.SimTime, out.Selection.Reason)
	}
	logrus.Debugf("[tick %07d] t=%.2f %s/%s state=%s plan=%s", s.ticks, snap.SimTime,
		out.Selection.Rule, out.Selection.Kind, next.State, plan)
	for _, tr := range out.Transitions {
		logrus.Debugf("[tick %07d] transition %s", s.ticks, tr)
	}
	if out.Override != "" {
		logrus.Debugf("[tick %07d] override: %s", s.ticks, out.Override)
	}
	if out.Note != "" {
		logrus.Infof("[tick %07d] %s", s.ticks, out.Note)
	}

	transitions := make([]string, len(out.Transitions))
	for i, tr := range out.Transitions {
		transitions[i] = tr.String()
	}
	s.record(trace.TickRecord{
		SimTime:     snap.SimTime,
		Policy:      string(out.Selection.Kind),
		Rule:        string(out.Selection.Rule),
		Reason:      out.Selection.Reason,
		Fallback:    out.Selection.Fallback,
		State:       string(next.State),
		Transitions: transitions,
		Override:    out.Override,
		Note:        out.Note,
		Plan:        plan.String(),
	})
	return plan, nil
}

func (s *Scheduler) record(r trace.TickRecord) {
	r.Seq = s.ticks
	if s.trace.Enabled() {
		r = s.trace.RecordTick(r)
	}
	s.last = r
	for _, fn := range s.sinks {
		fn(r)
	}
}

// LastRecord returns the record of the most recent tick.
func (s *Scheduler) LastRecord() trace.TickRecord {
	return s.last
}

// Context returns a copy of the scheduler's current context.
func (s *Scheduler) Context() SchedulerContext {
	return s.ctx.Clone()
}

// Params returns the scheduler's policy parameters.
func (s *Scheduler) Params() PolicyParams {
	return s.params
}

// Trace returns the decision trace, or nil when tracing is off.
func (s *Scheduler) Trace() *trace.DecisionTrace {
	return s.trace
}

// Ticks returns the number of Tick calls so far, rejected ones included.
func (s *Scheduler) Ticks() int64 {
	return s.ticks
}

// Explain renders the selection the scheduler would make for snap together
// with its current preemption state. It does not advance the scheduler.
func (s *Scheduler) Explain(snap *IntersectionSnapshot) string {
	text := explain(snap, s.params, s.meta, s.forced)
	return text + fmt.Sprintf("\nState: %s (green=%s, since %.2f)\nEmergency queue: %s",
		s.ctx.State, displayApproach(s.ctx.Green), s.ctx.StateSince, s.ctx.EmergencyQueue.String())
}

func simTimeOf(snap *IntersectionSnapshot) float64 {
	if snap == nil {
		return 0
	}
	return snap.SimTime
}
