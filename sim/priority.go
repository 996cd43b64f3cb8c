package sim

import "sort"

// PriorityPolicy ranks approaches by a lexicographic priority score:
// emergency presence > public-transport presence > mean waiting time > oldest
// waiting vehicle > cycle position.
//
// Emergency presence only orders the ranking. Actual preemption (forced
// clearance, non-preemptable green) is owned by the preemption state machine,
// so this policy never contradicts an active preemption.
type PriorityPolicy struct {
	Emergencies bool // score emergency presence
	Transit     bool // score TransitVehicles * TransitWeight
}

func (PriorityPolicy) Kind() PolicyKind { return PolicyPriorityEmergency }

// PriorityScore is the per-approach score, compared field by field.
type PriorityScore struct {
	Emergency  int // 0 = none; otherwise len(requests) - rank of the approach's first request
	Transit    float64
	MeanWait   float64
	OldestWait float64
}

func (s PriorityScore) less(o PriorityScore) bool {
	if s.Emergency != o.Emergency {
		return s.Emergency < o.Emergency
	}
	if s.Transit != o.Transit {
		return s.Transit < o.Transit
	}
	if s.MeanWait != o.MeanWait {
		return s.MeanWait < o.MeanWait
	}
	return s.OldestWait < o.OldestWait
}

// Score computes the priority score of every approach in the snapshot.
func (p PriorityPolicy) Score(snap *IntersectionSnapshot, params PolicyParams) map[Approach]PriorityScore {
	scores := make(map[Approach]PriorityScore, len(snap.Queues))
	for a := range snap.Queues {
		waits := snap.WaitingTimes[a]
		if snap.Queues[a] == 0 {
			waits = nil
		}
		s := PriorityScore{MeanWait: meanWait(waits), OldestWait: maxWait(waits)}
		if p.Transit && params.TransitWeight > 0 {
			s.Transit = float64(snap.TransitVehicles[a]) * params.TransitWeight
		}
		scores[a] = s
	}
	if p.Emergencies && len(snap.EmergencyRequests) > 0 {
		reqs := sortedEmergencies(snap.EmergencyRequests, params)
		for rank := len(reqs) - 1; rank >= 0; rank-- {
			s := scores[reqs[rank].Direction]
			s.Emergency = len(reqs) - rank
			scores[reqs[rank].Direction] = s
		}
	}
	return scores
}

func (p PriorityPolicy) Decide(snap *IntersectionSnapshot, params PolicyParams) Decision {
	scores := p.Score(snap, params)
	order := rotation(snap, params)
	ranked := make([]Candidate, len(order))
	for i, a := range order {
		ranked[i] = Candidate{
			Approach: a,
			Duration: params.ClampGreen(params.MinGreen + float64(snap.Queues[a])*params.PerVehicleBonus),
			Score:    scores[a].MeanWait,
		}
	}
	// Stable sort on the rotation keeps the cycle order as the final tie-break.
	sort.SliceStable(ranked, func(i, j int) bool {
		return scores[ranked[j].Approach].less(scores[ranked[i].Approach])
	})
	return Decision{Policy: PolicyPriorityEmergency, Ranked: ranked}
}
