package sim

import (
	"fmt"
	"sort"
)

// PolicyKind names one of the closed set of scheduling policies.
type PolicyKind string

const (
	PolicyRoundRobin        PolicyKind = "round-robin"
	PolicyShortestJobFirst  PolicyKind = "sjf"
	PolicyPriorityEmergency PolicyKind = "priority"
)

// validPolicies maps accepted policy names. Empty selects the meta-scheduler.
var validPolicies = map[string]bool{
	"":                              true,
	string(PolicyRoundRobin):        true,
	string(PolicyShortestJobFirst):  true,
	string(PolicyPriorityEmergency): true,
}

// IsValidPolicy returns true if name is a recognized policy name.
func IsValidPolicy(name string) bool {
	return validPolicies[name]
}

// Candidate is one approach a policy is willing to serve, with the green it asks for.
type Candidate struct {
	Approach Approach
	Duration float64
	Score    float64 // policy-specific; only used for reporting
}

// Decision is a policy's full preference order, best first. The preemption
// state machine walks it when the best candidate is blocked.
type Decision struct {
	Policy PolicyKind
	Ranked []Candidate
}

// Best returns the most preferred candidate.
func (d Decision) Best() (Candidate, bool) {
	if len(d.Ranked) == 0 {
		return Candidate{}, false
	}
	return d.Ranked[0], true
}

// Policy produces a desired next approach and duration from a snapshot.
// Implementations are pure: they MUST NOT modify the snapshot.
type Policy interface {
	Kind() PolicyKind
	Decide(snap *IntersectionSnapshot, params PolicyParams) Decision
}

// RoundRobinPolicy advances one position through RRCycleOrder per invocation,
// relative to the snapshot's current phase.
type RoundRobinPolicy struct{}

func (RoundRobinPolicy) Kind() PolicyKind { return PolicyRoundRobin }

func (RoundRobinPolicy) Decide(snap *IntersectionSnapshot, params PolicyParams) Decision {
	order := rotation(snap, params)
	ranked := make([]Candidate, len(order))
	for i, a := range order {
		ranked[i] = Candidate{
			Approach: a,
			Duration: params.ClampGreen(params.MinGreen + float64(snap.Queues[a])*params.PerVehicleBonus),
			Score:    float64(len(order) - i),
		}
	}
	return Decision{Policy: PolicyRoundRobin, Ranked: ranked}
}

// ShortestJobFirstPolicy serves the approach with the smallest expected job,
// queue + arrivalRate * SJFHorizon, among approaches with demand.
// Warning: like CPU SJF it can starve a long queue; the max-green cap and
// the anti-oscillation guard bound that in practice.
type ShortestJobFirstPolicy struct{}

func (ShortestJobFirstPolicy) Kind() PolicyKind { return PolicyShortestJobFirst }

func (ShortestJobFirstPolicy) Decide(snap *IntersectionSnapshot, params PolicyParams) Decision {
	order := rotation(snap, params)
	pos := params.cyclePositions()

	var busy, idle []Candidate
	for _, a := range order {
		job := float64(snap.Queues[a]) + snap.ArrivalRates[a]*params.SJFHorizon
		if job > 0 {
			busy = append(busy, Candidate{
				Approach: a,
				Duration: params.ClampGreen(job * params.SJFClearancePerVehicle),
				Score:    job,
			})
		} else {
			idle = append(idle, Candidate{Approach: a, Duration: params.MinGreen})
		}
	}
	if len(busy) == 0 {
		rr := RoundRobinPolicy{}.Decide(snap, params)
		rr.Policy = PolicyShortestJobFirst
		return rr
	}
	sort.SliceStable(busy, func(i, j int) bool {
		if busy[i].Score != busy[j].Score {
			return busy[i].Score < busy[j].Score
		}
		return pos[busy[i].Approach] < pos[busy[j].Approach]
	})
	return Decision{Policy: PolicyShortestJobFirst, Ranked: append(busy, idle...)}
}

// NewPolicy creates a Policy by kind.
// Panics on unrecognized kinds; callers validate names with IsValidPolicy first.
func NewPolicy(kind PolicyKind) Policy {
	switch kind {
	case PolicyRoundRobin:
		return RoundRobinPolicy{}
	case PolicyShortestJobFirst:
		return ShortestJobFirstPolicy{}
	case PolicyPriorityEmergency:
		return PriorityPolicy{Emergencies: true, Transit: true}
	default:
		panic(fmt.Sprintf("unknown policy %q", kind))
	}
}

// rotation lists the snapshot's approaches in cycle order, starting one past
// the current phase. An undefined or unknown current phase starts at the head.
func rotation(snap *IntersectionSnapshot, params PolicyParams) []Approach {
	present := make([]Approach, 0, len(params.RRCycleOrder))
	start := 0
	for _, a := range params.RRCycleOrder {
		if _, ok := snap.Queues[a]; !ok {
			continue
		}
		if a == snap.CurrentPhase {
			start = len(present) + 1
		}
		present = append(present, a)
	}
	if len(present) == 0 {
		return present
	}
	start %= len(present)
	out := make([]Approach, 0, len(present))
	out = append(out, present[start:]...)
	return append(out, present[:start]...)
}
