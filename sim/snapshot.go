package sim

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// EmergencyRequest is a priority vehicle approaching the intersection.
// Created when the vehicle is detected; it disappears from later snapshots once
// it has cleared the intersection or no longer exists upstream.
type EmergencyRequest struct {
	ID          string   `json:"id" yaml:"id"`
	Direction   Approach `json:"direction" yaml:"direction"`
	ETASeconds  float64  `json:"eta_s" yaml:"eta_s"`
	RequestTime float64  `json:"request_time" yaml:"request_time"`
	Queued      bool     `json:"queued,omitempty" yaml:"queued,omitempty"` // already waiting at the stop line
}

// NewEmergencyRequest builds a request, rejecting missing or negative fields.
func NewEmergencyRequest(id string, direction Approach, etaSeconds, requestTime float64) (EmergencyRequest, error) {
	req := EmergencyRequest{ID: id, Direction: direction, ETASeconds: etaSeconds, RequestTime: requestTime}
	if err := req.validate("emergency"); err != nil {
		return EmergencyRequest{}, err
	}
	return req, nil
}

func (r EmergencyRequest) validate(field string) error {
	if r.ID == "" {
		return invalidf(field+".id", "must not be empty")
	}
	if r.Direction == NoApproach {
		return invalidf(field+".direction", "request %s has no direction", r.ID)
	}
	if r.ETASeconds < 0 || math.IsNaN(r.ETASeconds) {
		return invalidf(field+".eta_s", "request %s has negative ETA %v", r.ID, r.ETASeconds)
	}
	if r.RequestTime < 0 || math.IsNaN(r.RequestTime) {
		return invalidf(field+".request_time", "request %s has negative request time %v", r.ID, r.RequestTime)
	}
	return nil
}

// IntersectionSnapshot is the immutable per-tick input to the scheduler.
// Queues, WaitingTimes and ArrivalRates must share one key set.
type IntersectionSnapshot struct {
	Queues            map[Approach]int       `json:"queues" yaml:"queues"`
	WaitingTimes      map[Approach][]float64 `json:"waiting_times" yaml:"waiting_times"`
	ArrivalRates      map[Approach]float64   `json:"arrival_rates" yaml:"arrival_rates"`
	EmergencyRequests []EmergencyRequest     `json:"emergency_requests,omitempty" yaml:"emergency_requests,omitempty"`
	// TransitVehicles counts queued public-transport vehicles per approach.
	// Optional; only scored when PolicyParams.TransitWeight > 0.
	TransitVehicles map[Approach]int `json:"transit_vehicles,omitempty" yaml:"transit_vehicles,omitempty"`
	CurrentPhase    Approach         `json:"current_phase" yaml:"current_phase"`
	SimTime         float64          `json:"sim_time" yaml:"sim_time"`
}

// Validate checks the structural invariants of the snapshot.
func (s *IntersectionSnapshot) Validate() error {
	if s == nil {
		return invalidf("snapshot", "nil")
	}
	if len(s.Queues) == 0 {
		return invalidf("queues", "no approaches")
	}
	if len(s.WaitingTimes) != len(s.Queues) {
		return invalidf("waiting_times", "has %d approaches, queues has %d", len(s.WaitingTimes), len(s.Queues))
	}
	if len(s.ArrivalRates) != len(s.Queues) {
		return invalidf("arrival_rates", "has %d approaches, queues has %d", len(s.ArrivalRates), len(s.Queues))
	}
	for _, a := range s.Approaches() {
		if a == NoApproach {
			return invalidf("queues", "empty approach label")
		}
		if s.Queues[a] < 0 {
			return invalidf("queues", "approach %s has negative queue %d", a, s.Queues[a])
		}
		waits, ok := s.WaitingTimes[a]
		if !ok {
			return invalidf("waiting_times", "missing approach %s", a)
		}
		for _, w := range waits {
			if w < 0 || math.IsNaN(w) {
				return invalidf("waiting_times", "approach %s has negative waiting time %v", a, w)
			}
		}
		rate, ok := s.ArrivalRates[a]
		if !ok {
			return invalidf("arrival_rates", "missing approach %s", a)
		}
		if rate < 0 || math.IsNaN(rate) {
			return invalidf("arrival_rates", "approach %s has negative rate %v", a, rate)
		}
	}
	for a, n := range s.TransitVehicles {
		if _, ok := s.Queues[a]; !ok {
			return invalidf("transit_vehicles", "unknown approach %s", a)
		}
		if n < 0 {
			return invalidf("transit_vehicles", "approach %s has negative count %d", a, n)
		}
	}
	seen := make(map[string]bool, len(s.EmergencyRequests))
	for _, r := range s.EmergencyRequests {
		if err := r.validate("emergency_requests"); err != nil {
			return err
		}
		if _, ok := s.Queues[r.Direction]; !ok {
			return invalidf("emergency_requests.direction", "request %s targets unknown approach %s", r.ID, r.Direction)
		}
		if seen[r.ID] {
			return invalidf("emergency_requests.id", "duplicate request %s", r.ID)
		}
		seen[r.ID] = true
	}
	if s.CurrentPhase != NoApproach {
		if _, ok := s.Queues[s.CurrentPhase]; !ok {
			return invalidf("current_phase", "unknown approach %s", s.CurrentPhase)
		}
	}
	if s.SimTime < 0 || math.IsNaN(s.SimTime) || math.IsInf(s.SimTime, 0) {
		return invalidf("sim_time", "must be a finite non-negative value, got %v", s.SimTime)
	}
	return nil
}

// validateOrder checks that every approach has a place in the cycle order,
// which supplies every tie-break.
func (s *IntersectionSnapshot) validateOrder(params PolicyParams) error {
	pos := params.cyclePositions()
	for _, a := range s.Approaches() {
		if _, ok := pos[a]; !ok {
			return invalidf("queues", "approach %s is not in rr_cycle_order", a)
		}
	}
	return nil
}

// Approaches returns the snapshot's approaches sorted by label.
func (s *IntersectionSnapshot) Approaches() []Approach {
	out := make([]Approach, 0, len(s.Queues))
	for a := range s.Queues {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// TotalQueued sums the queue counts over all approaches.
func (s *IntersectionSnapshot) TotalQueued() int {
	total := 0
	for _, q := range s.Queues {
		total += q
	}
	return total
}

// withCurrentPhase returns a shallow copy whose CurrentPhase is replaced.
// Maps are shared; policies never write to them.
func (s *IntersectionSnapshot) withCurrentPhase(a Approach) *IntersectionSnapshot {
	cp := *s
	cp.CurrentPhase = a
	return &cp
}

// queueStats returns the population mean and variance of the queue counts.
func queueStats(s *IntersectionSnapshot) (mean, variance float64) {
	if len(s.Queues) == 0 {
		return 0, 0
	}
	// Sorted iteration keeps the float sums bit-identical across runs.
	approaches := s.Approaches()
	counts := make([]float64, len(approaches))
	for i, a := range approaches {
		counts[i] = float64(s.Queues[a])
	}
	return stat.PopMeanVariance(counts, nil)
}

func meanWait(waits []float64) float64 {
	if len(waits) == 0 {
		return 0
	}
	return stat.Mean(waits, nil)
}

func maxWait(waits []float64) float64 {
	m := 0.0
	for _, w := range waits {
		if w > m {
			m = w
		}
	}
	return m
}
