package sim

import (
	"fmt"
	"math"
)

// PreemptionState is the state of the preemption state machine.
type PreemptionState string

const (
	StateNormal           PreemptionState = "NORMAL"
	StateYellowTransition PreemptionState = "YELLOW_TRANSITION"
	StateAllRedClearance  PreemptionState = "ALL_RED_CLEARANCE"
	StateEmergencyGreen   PreemptionState = "EMERGENCY_GREEN"
	StateResuming         PreemptionState = "RESUMING"
)

// ClearanceTarget is the approach that receives green once a clearance
// (yellow then all-red) completes.
type ClearanceTarget struct {
	Approach  Approach   `json:"approach"`
	Duration  float64    `json:"duration_s"`
	Policy    PolicyKind `json:"policy"`
	Emergency bool       `json:"emergency"`
	RequestID string     `json:"request_id,omitempty"` // served emergency request
}

// SavedGreen is the green interrupted by a preemption, restored once the
// emergency queue drains.
type SavedGreen struct {
	Policy            PolicyKind `json:"policy"`
	Approach          Approach   `json:"approach"`
	RemainingDuration float64    `json:"remaining_s"`
}

// Transition records one state change and the sim time it took effect.
type Transition struct {
	From PreemptionState `json:"from"`
	To   PreemptionState `json:"to"`
	At   float64         `json:"at"`
}

func (t Transition) String() string {
	return fmt.Sprintf("%s->%s@%.2f", t.From, t.To, t.At)
}

// SchedulerContext is the only mutable scheduling state. It is owned by one
// scheduler; Step never mutates its input and returns an updated copy.
type SchedulerContext struct {
	State PreemptionState `json:"state"`

	// Green is the approach showing green (NORMAL, EMERGENCY_GREEN) or yellow
	// (YELLOW_TRANSITION). NoApproach during all-red.
	Green       Approach   `json:"green"`
	GreenPolicy PolicyKind `json:"green_policy"`
	GreenStart  float64    `json:"green_start"` // start of the current uninterrupted green
	GreenEnd    float64    `json:"green_end"`   // planned end, moved by extensions
	GreenLocked bool       `json:"green_locked"`

	StateSince float64         `json:"state_since"`
	StateUntil float64         `json:"state_until"` // end of the yellow or all-red interval
	Target     ClearanceTarget `json:"target"`
	Saved      *SavedGreen     `json:"saved,omitempty"`

	LastLostGreen  map[Approach]float64 `json:"last_lost_green"`
	EmergencyQueue EmergencyQueue       `json:"emergency_queue"`

	LastTick float64 `json:"last_tick"`
	Started  bool    `json:"started"`
}

// NewSchedulerContext returns a context in the initial NORMAL state.
func NewSchedulerContext() SchedulerContext {
	return SchedulerContext{State: StateNormal, LastLostGreen: make(map[Approach]float64)}
}

// Clone returns a deep copy.
func (c SchedulerContext) Clone() SchedulerContext {
	cp := c
	cp.LastLostGreen = make(map[Approach]float64, len(c.LastLostGreen))
	for a, t := range c.LastLostGreen {
		cp.LastLostGreen[a] = t
	}
	if c.Saved != nil {
		saved := *c.Saved
		cp.Saved = &saved
	}
	cp.EmergencyQueue = c.EmergencyQueue.clone()
	return cp
}

// TickOutcome describes what the state machine did during one tick.
type TickOutcome struct {
	Selection   Selection
	Transitions []Transition
	Override    string   // guard that overrode the policy's first choice
	Note        string   // emergency bookkeeping worth surfacing
	Withdrawn   []string // emergency requests dropped from the queue
}

// Step runs one tick of the scheduler using the standard meta-scheduler.
// params must already be validated. On error the returned context is ctx.
func Step(ctx SchedulerContext, snap *IntersectionSnapshot, params PolicyParams) (ActionPlan, SchedulerContext, TickOutcome, error) {
	return step(ctx, snap, params, NewMetaScheduler(), nil)
}

func step(ctx SchedulerContext, snap *IntersectionSnapshot, params PolicyParams, meta *MetaScheduler, forced Policy) (ActionPlan, SchedulerContext, TickOutcome, error) {
	if err := snap.Validate(); err != nil {
		return nil, ctx, TickOutcome{}, err
	}
	if err := snap.validateOrder(params); err != nil {
		return nil, ctx, TickOutcome{}, err
	}
	if ctx.Started && snap.SimTime < ctx.LastTick {
		return nil, ctx, TickOutcome{}, invalidf("sim_time", "went backwards from %v to %v", ctx.LastTick, snap.SimTime)
	}

	c := ctx.Clone()
	if c.State == "" {
		c.State = StateNormal
	}
	if !c.Started {
		c.Started = true
		c.Green = snap.CurrentPhase
		c.GreenStart = snap.SimTime
		c.GreenEnd = snap.SimTime
	}

	st := &stepper{c: &c, snap: snap, params: params, now: snap.SimTime}
	st.out.Withdrawn = c.EmergencyQueue.Sync(snap.EmergencyRequests, params)
	if forced != nil {
		st.sel = forcedSelection(forced, snap)
	} else {
		st.sel = meta.Select(snap, params)
	}
	st.out.Selection = st.sel
	if c.GreenPolicy == "" {
		c.GreenPolicy = st.sel.Kind
	}

	st.retargetClearance()
	st.advanceClearance()
	switch c.State {
	case StateEmergencyGreen:
		st.emergencyGreen()
	case StateNormal:
		st.normal()
	}

	c.LastTick = st.now
	return c.plan(st.now, params), c, st.out, nil
}

type stepper struct {
	c      *SchedulerContext
	snap   *IntersectionSnapshot
	params PolicyParams
	sel    Selection
	now    float64
	out    TickOutcome
}

func (st *stepper) enter(s PreemptionState, at float64) {
	st.out.Transitions = append(st.out.Transitions, Transition{From: st.c.State, To: s, At: at})
	st.c.State = s
	st.c.StateSince = at
}

func (st *stepper) note(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if st.out.Note != "" {
		st.out.Note += "; " + msg
		return
	}
	st.out.Note = msg
}

func (st *stepper) urgent(r EmergencyRequest) bool {
	return r.Queued || r.ETASeconds <= st.params.EmergencyPreemptBuffer
}

// retargetClearance reacts to emergency changes while a clearance is running.
// The clearance itself always completes; only the approach it leads to changes.
func (st *stepper) retargetClearance() {
	c := st.c
	if c.State != StateYellowTransition && c.State != StateAllRedClearance {
		return
	}
	q := &c.EmergencyQueue
	if c.Target.Emergency {
		if !q.PinnedDeparted() {
			return
		}
		gone, _ := q.PopHead()
		st.note("emergency %s withdrawn during clearance", gone.ID)
		if head, ok := q.Peek(); ok && st.urgent(head) {
			st.emergencyTarget(head)
			return
		}
		if c.Saved != nil && c.Saved.Approach != NoApproach {
			c.Target = ClearanceTarget{
				Approach: c.Saved.Approach,
				Duration: st.params.ClampGreen(c.Saved.RemainingDuration),
				Policy:   c.Saved.Policy,
			}
			c.Saved = nil
			return
		}
		c.Saved = nil
		fallback := ClearanceTarget{Approach: c.Target.Approach, Duration: st.params.MinGreen, Policy: st.sel.Kind}
		if cand, ok := st.choose(st.sel.Decide(st.snap.withCurrentPhase(NoApproach), st.params)); ok {
			fallback = ClearanceTarget{Approach: cand.Approach, Duration: cand.Duration, Policy: st.sel.Kind}
		}
		c.Target = fallback
		return
	}
	head, ok := q.Peek()
	if !ok || !st.urgent(head) {
		return
	}
	if c.Saved == nil {
		c.Saved = &SavedGreen{Policy: c.Target.Policy, Approach: c.Target.Approach, RemainingDuration: c.Target.Duration}
	}
	st.note("emergency %s retargets pending clearance to %s", head.ID, head.Direction)
	st.emergencyTarget(head)
}

func (st *stepper) emergencyTarget(head EmergencyRequest) {
	st.c.EmergencyQueue.Pin()
	st.c.Target = ClearanceTarget{
		Approach:  head.Direction,
		Duration:  st.params.emergencyGreen(st.c.EmergencyQueue.CountFor(head.Direction)),
		Policy:    PolicyPriorityEmergency,
		Emergency: true,
		RequestID: head.ID,
	}
}

// advanceClearance moves through yellow and all-red intervals that have
// elapsed by now. A long tick may cascade through several states.
func (st *stepper) advanceClearance() {
	c := st.c
	for {
		switch c.State {
		case StateYellowTransition:
			if st.now < c.StateUntil {
				return
			}
			t := c.StateUntil
			c.Green = NoApproach
			st.enter(StateAllRedClearance, t)
			c.StateUntil = t + st.params.AllRedDuration
		case StateAllRedClearance:
			if st.now < c.StateUntil {
				return
			}
			st.completeClearance(c.StateUntil)
		default:
			return
		}
	}
}

func (st *stepper) completeClearance(t float64) {
	c := st.c
	tg := c.Target
	c.Target = ClearanceTarget{}
	c.Green = tg.Approach
	c.GreenPolicy = tg.Policy
	c.GreenStart = t
	c.GreenEnd = t + tg.Duration
	c.GreenLocked = tg.Emergency
	if tg.Emergency {
		st.enter(StateEmergencyGreen, t)
		return
	}
	st.enter(StateNormal, t)
}

// beginClearance starts a switch to target: yellow for the approach losing
// green, then all-red. With nothing green, it goes straight to all-red.
func (st *stepper) beginClearance(target ClearanceTarget) {
	c := st.c
	c.Target = target
	c.GreenLocked = false
	if c.Green != NoApproach {
		st.enter(StateYellowTransition, st.now)
		c.StateUntil = st.now + st.params.YellowDuration
		return
	}
	st.enter(StateAllRedClearance, st.now)
	c.StateUntil = st.now + st.params.AllRedDuration
}

func (st *stepper) emergencyGreen() {
	c := st.c
	q := &c.EmergencyQueue
	if q.Pinned() == "" || q.PinnedDeparted() {
		if q.PinnedDeparted() {
			served, _ := q.PopHead()
			st.note("emergency %s cleared the intersection", served.ID)
		}
		st.enter(StateResuming, st.now)
		st.resume()
		return
	}
	if st.now >= c.GreenEnd {
		c.GreenEnd = st.now + st.params.MinGreen
	}
}

// resume leaves RESUMING for NORMAL. With more emergencies queued the current
// green is held and preemption resumes on the next tick; otherwise the saved
// green is restored, or the active policy decides.
func (st *stepper) resume() {
	c := st.c
	st.enter(StateNormal, st.now)
	c.GreenLocked = false
	if c.EmergencyQueue.Len() > 0 {
		c.GreenEnd = st.now + st.params.MinGreen
		return
	}
	saved := c.Saved
	c.Saved = nil
	if saved == nil || saved.Approach == NoApproach {
		c.GreenEnd = st.now
		st.decide()
		return
	}
	d := st.params.ClampGreen(saved.RemainingDuration)
	st.note("restoring %s (%s) for %.1fs", saved.Approach, saved.Policy, d)
	if saved.Approach == c.Green {
		c.GreenPolicy = saved.Policy
		c.GreenEnd = st.now + d
		return
	}
	st.beginClearance(ClearanceTarget{Approach: saved.Approach, Duration: d, Policy: saved.Policy})
}

func (st *stepper) normal() {
	c := st.c
	if head, ok := c.EmergencyQueue.Peek(); ok && st.urgent(head) {
		if head.Direction == c.Green {
			if !c.GreenLocked {
				st.note("emergency %s already served by current green", head.ID)
				want := st.now + st.params.emergencyGreen(c.EmergencyQueue.CountFor(head.Direction))
				c.GreenEnd = math.Max(c.GreenEnd, want)
				c.GreenLocked = true
			} else if st.now >= c.GreenEnd {
				c.GreenEnd = st.now + st.params.MinGreen
			}
			return
		}
		st.preempt(head)
		return
	}
	c.GreenLocked = false
	if c.Green != NoApproach && st.now < c.GreenEnd {
		return
	}
	st.decide()
}

func (st *stepper) preempt(head EmergencyRequest) {
	c := st.c
	if c.Saved == nil {
		remaining := 0.0
		if c.Green != NoApproach {
			remaining = math.Max(0, c.GreenEnd-st.now)
		}
		c.Saved = &SavedGreen{Policy: c.GreenPolicy, Approach: c.Green, RemainingDuration: remaining}
	}
	st.emergencyTarget(head)
	target := c.Target
	st.beginClearance(target)
}

// decide asks the selected policy for the next green once the current one
// has run out. The policy is back in control, so any green saved by an
// earlier preemption is dropped.
func (st *stepper) decide() {
	c := st.c
	c.Saved = nil
	if st.snap.TotalQueued() == 0 && c.EmergencyQueue.Len() == 0 {
		if c.Green != NoApproach {
			c.GreenEnd = st.now + st.params.MinGreen
		}
		return
	}
	dec := st.sel.Decide(st.snap.withCurrentPhase(c.Green), st.params)
	cand, ok := st.choose(dec)
	if !ok {
		st.out.Override = "all candidates blocked; holding"
		if c.Green != NoApproach {
			c.GreenEnd = st.now + st.params.MinGreen
		}
		return
	}
	if cand.Approach == c.Green {
		c.GreenPolicy = dec.Policy
		c.GreenEnd = st.now + cand.Duration
		return
	}
	if c.Green != NoApproach {
		c.LastLostGreen[c.Green] = st.now
	}
	st.beginClearance(ClearanceTarget{Approach: cand.Approach, Duration: cand.Duration, Policy: dec.Policy})
}

// choose walks the policy's ranking and returns the first candidate allowed by
// the anti-oscillation guard and the cumulative max-green cap. Extensions of
// the current green are shortened to fit under the cap.
func (st *stepper) choose(dec Decision) (Candidate, bool) {
	c := st.c
	for _, cand := range dec.Ranked {
		if cand.Approach != c.Green {
			if lost, ok := c.LastLostGreen[cand.Approach]; ok && st.now-lost < st.params.MinSwitchInterval {
				st.override("anti-oscillation: %s lost green at %.2f", cand.Approach, lost)
				continue
			}
			return cand, true
		}
		if c.Green != NoApproach && st.otherDemand(c.Green) {
			// Extensions end at MaxGreen; under MinGreen of allowance hands over.
			allowance := st.params.MaxGreen - (st.now - c.GreenStart)
			if allowance < st.params.MinGreen {
				st.override("max-green: %s green since %.2f", cand.Approach, c.GreenStart)
				continue
			}
			cand.Duration = math.Min(cand.Duration, allowance)
		}
		return cand, true
	}
	return Candidate{}, false
}

func (st *stepper) override(format string, args ...any) {
	if st.out.Override == "" {
		st.out.Override = fmt.Sprintf(format, args...)
	}
}

func (st *stepper) otherDemand(a Approach) bool {
	if head, ok := st.c.EmergencyQueue.Peek(); ok && head.Direction == a {
		return false
	}
	for b, q := range st.snap.Queues {
		if b != a && q > 0 {
			return true
		}
	}
	return st.c.EmergencyQueue.Len() > 0
}

// plan renders the remaining schedule from now for the current state.
func (c *SchedulerContext) plan(now float64, params PolicyParams) ActionPlan {
	target := greenPhase(c.Target.Approach, c.Target.Duration, !c.Target.Emergency)
	switch c.State {
	case StateYellowTransition:
		return ActionPlan{
			yellowPhase(c.Green, math.Max(0, c.StateUntil-now)),
			allRedPhase(params.AllRedDuration),
			target,
		}
	case StateAllRedClearance:
		return ActionPlan{allRedPhase(math.Max(0, c.StateUntil-now)), target}
	case StateEmergencyGreen:
		return ActionPlan{greenPhase(c.Green, remainingGreen(c, now, params), false)}
	default:
		if c.Green == NoApproach {
			return ActionPlan{allRedPhase(params.AllRedDuration)}
		}
		return ActionPlan{greenPhase(c.Green, remainingGreen(c, now, params), !c.GreenLocked)}
	}
}

func remainingGreen(c *SchedulerContext, now float64, params PolicyParams) float64 {
	if r := c.GreenEnd - now; r > 0 {
		return r
	}
	return params.MinGreen
}
