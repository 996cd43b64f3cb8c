package sim

import "fmt"

// RuleID names the meta-scheduler rule that selected the tick's policy.
type RuleID string

const (
	RuleEmergency    RuleID = "emergency"
	RuleLowLoad      RuleID = "low-load"
	RuleHighVariance RuleID = "high-variance"
	RuleBalanced     RuleID = "balanced"
	RuleForced       RuleID = "forced"   // policy fixed by configuration
	RuleFallback     RuleID = "fallback" // no rule matched (policy ambiguity)
)

// Selection records which policy governs a tick and why.
type Selection struct {
	Kind        PolicyKind
	Rule        RuleID
	Reason      string
	Mean        float64
	Variance    float64
	Emergencies int
	Fallback    bool // PolicyAmbiguity: rule evaluation matched nothing

	policy Policy
}

// Decide runs the selected policy.
func (s Selection) Decide(snap *IntersectionSnapshot, params PolicyParams) Decision {
	return s.policy.Decide(snap, params)
}

type metaRule struct {
	id     RuleID
	policy Policy
	match  func(snap *IntersectionSnapshot, params PolicyParams, mean, variance float64) bool
	reason func(mean, variance float64, emergencies int) string
}

// MetaScheduler picks the policy for each tick from a fixed rule table,
// evaluated in order. The selection is a pure function of the snapshot and
// thresholds.
type MetaScheduler struct {
	rules []metaRule
}

// NewMetaScheduler returns a meta-scheduler with the standard rule table:
// emergency → priority, low load → round robin, high variance → SJF,
// otherwise priority on waiting time only.
func NewMetaScheduler() *MetaScheduler {
	return &MetaScheduler{rules: []metaRule{
		{
			id:     RuleEmergency,
			policy: PriorityPolicy{Emergencies: true, Transit: true},
			match: func(snap *IntersectionSnapshot, _ PolicyParams, _, _ float64) bool {
				return len(snap.EmergencyRequests) > 0
			},
			reason: func(_, _ float64, n int) string {
				return fmt.Sprintf("Emergency vehicles present (%d) - delegating to preemption with Priority scheduling", n)
			},
		},
		{
			id:     RuleLowLoad,
			policy: RoundRobinPolicy{},
			match: func(_ *IntersectionSnapshot, params PolicyParams, mean, _ float64) bool {
				return mean < params.LowLoadThreshold
			},
			reason: func(mean, _ float64, _ int) string {
				return fmt.Sprintf("Low traffic load (avg=%.1f) - using Round Robin", mean)
			},
		},
		{
			id:     RuleHighVariance,
			policy: ShortestJobFirstPolicy{},
			match: func(_ *IntersectionSnapshot, params PolicyParams, _, variance float64) bool {
				return variance > params.HighVarianceThreshold
			},
			reason: func(_, variance float64, _ int) string {
				return fmt.Sprintf("High queue variance (%.1f) - using SJF to reduce backlog", variance)
			},
		},
		{
			id:     RuleBalanced,
			policy: PriorityPolicy{},
			match: func(*IntersectionSnapshot, PolicyParams, float64, float64) bool {
				return true
			},
			reason: func(mean, variance float64, _ int) string {
				return fmt.Sprintf("Balanced conditions (avg=%.1f, var=%.1f) - using Priority on waiting time", mean, variance)
			},
		},
	}}
}

// Select evaluates the rule table against the snapshot.
// If no rule matches, it falls back to round robin and flags the selection.
func (m *MetaScheduler) Select(snap *IntersectionSnapshot, params PolicyParams) Selection {
	mean, variance := queueStats(snap)
	n := len(snap.EmergencyRequests)
	for _, r := range m.rules {
		if r.match(snap, params, mean, variance) {
			return Selection{
				Kind:        r.policy.Kind(),
				Rule:        r.id,
				Reason:      r.reason(mean, variance, n),
				Mean:        mean,
				Variance:    variance,
				Emergencies: n,
				policy:      r.policy,
			}
		}
	}
	return Selection{
		Kind:        PolicyRoundRobin,
		Rule:        RuleFallback,
		Reason:      fmt.Sprintf("No rule matched (avg=%.1f, var=%.1f) - falling back to Round Robin", mean, variance),
		Mean:        mean,
		Variance:    variance,
		Emergencies: n,
		Fallback:    true,
		policy:      RoundRobinPolicy{},
	}
}

// forcedSelection wraps a configured policy so it bypasses the rule table.
func forcedSelection(p Policy, snap *IntersectionSnapshot) Selection {
	mean, variance := queueStats(snap)
	return Selection{
		Kind:        p.Kind(),
		Rule:        RuleForced,
		Reason:      fmt.Sprintf("Policy fixed by configuration - using %s", p.Kind()),
		Mean:        mean,
		Variance:    variance,
		Emergencies: len(snap.EmergencyRequests),
		policy:      p,
	}
}
