package traffic

import (
	"bytes"
	"fmt"
	"math"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/signal-sim/signal-sim/sim"
)

// Scenario is the top-level traffic configuration.
// Loaded from YAML via LoadScenario(path).
type Scenario struct {
	Name          string           `yaml:"name"`
	Seed          int64            `yaml:"seed"`
	Horizon       float64          `yaml:"horizon_s"`
	Tick          float64          `yaml:"tick_s"`           // scheduler period; default 1
	Headway       float64          `yaml:"headway_s"`        // saturation discharge headway; default 2
	RateSmoothing float64          `yaml:"rate_smoothing"`   // EWMA weight of the latest tick; default 0.2
	Policy        string           `yaml:"policy,omitempty"` // forced policy; empty keeps the meta-scheduler
	Lanes         []LaneSpec       `yaml:"lanes"`
	Groups        []GroupSpec      `yaml:"groups,omitempty"` // paired phases; empty = one phase per lane
	Emergencies   []EmergencyEvent `yaml:"emergencies,omitempty"`
	Transit       []TransitEvent   `yaml:"transit,omitempty"`
}

// LaneSpec defines one traffic-bearing lane.
type LaneSpec struct {
	Name         string      `yaml:"name"`
	Rate         float64     `yaml:"rate"` // vehicles per second
	InitialQueue int         `yaml:"initial_queue"`
	Arrival      ArrivalSpec `yaml:"arrival"`
}

// ArrivalSpec configures the inter-arrival process.
type ArrivalSpec struct {
	Process string   `yaml:"process"` // poisson (default), gamma, uniform
	CV      *float64 `yaml:"cv,omitempty"`
}

// GroupSpec pairs lanes that share one signal phase, e.g. NS = [N, S].
type GroupSpec struct {
	Name  string   `yaml:"name"`
	Lanes []string `yaml:"lanes"`
}

// EmergencyEvent injects an emergency vehicle At seconds into the run.
type EmergencyEvent struct {
	ID   string  `yaml:"id,omitempty"` // minted from the run seed when empty
	At   float64 `yaml:"at_s"`
	Lane string  `yaml:"lane"`
	ETA  float64 `yaml:"eta_s"`
}

// TransitEvent queues a public-transport vehicle on a lane.
type TransitEvent struct {
	At   float64 `yaml:"at_s"`
	Lane string  `yaml:"lane"`
}

var validArrivalProcesses = map[string]bool{"": true, "poisson": true, "gamma": true, "uniform": true}

// LoadScenario reads and parses a YAML scenario file.
// Uses strict parsing: unrecognized keys (typos) are rejected.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading scenario: %w", err)
	}
	var sc Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&sc); err != nil {
		return nil, fmt.Errorf("parsing scenario: %w", err)
	}
	sc.ApplyDefaults()
	return &sc, nil
}

// ApplyDefaults fills unset timing fields.
func (s *Scenario) ApplyDefaults() {
	if s.Tick == 0 {
		s.Tick = 1
	}
	if s.Headway == 0 {
		s.Headway = 2
	}
	if s.RateSmoothing == 0 {
		s.RateSmoothing = 0.2
	}
}

// Validate checks that all fields in the scenario are valid.
func (s *Scenario) Validate() error {
	if err := validateFinitePositive("horizon_s", s.Horizon); err != nil {
		return err
	}
	if err := validateFinitePositive("tick_s", s.Tick); err != nil {
		return err
	}
	if err := validateFinitePositive("headway_s", s.Headway); err != nil {
		return err
	}
	if !(s.RateSmoothing > 0 && s.RateSmoothing <= 1) {
		return fmt.Errorf("rate_smoothing must be in (0, 1], got %f", s.RateSmoothing)
	}
	if !sim.IsValidPolicy(s.Policy) {
		return fmt.Errorf("unknown policy %q; valid: %v", s.Policy, sim.ValidPolicyNames())
	}
	if len(s.Lanes) == 0 {
		return fmt.Errorf("at least one lane required")
	}
	lanes := make(map[string]bool, len(s.Lanes))
	for i, l := range s.Lanes {
		prefix := fmt.Sprintf("lanes[%d]", i)
		if l.Name == "" {
			return fmt.Errorf("%s: name required", prefix)
		}
		if lanes[l.Name] {
			return fmt.Errorf("%s: duplicate lane %q", prefix, l.Name)
		}
		lanes[l.Name] = true
		if l.Rate < 0 || math.IsNaN(l.Rate) || math.IsInf(l.Rate, 0) {
			return fmt.Errorf("%s.rate must be a finite non-negative number, got %f", prefix, l.Rate)
		}
		if l.InitialQueue < 0 {
			return fmt.Errorf("%s.initial_queue must be non-negative, got %d", prefix, l.InitialQueue)
		}
		if !validArrivalProcesses[l.Arrival.Process] {
			return fmt.Errorf("%s: unknown arrival process %q; valid: poisson, gamma, uniform", prefix, l.Arrival.Process)
		}
		if l.Arrival.CV != nil {
			if err := validateFinitePositive(prefix+".arrival.cv", *l.Arrival.CV); err != nil {
				return err
			}
		}
	}
	grouped := make(map[string]string)
	for i, g := range s.Groups {
		prefix := fmt.Sprintf("groups[%d]", i)
		if g.Name == "" || len(g.Lanes) == 0 {
			return fmt.Errorf("%s: name and lanes required", prefix)
		}
		for _, l := range g.Lanes {
			if !lanes[l] {
				return fmt.Errorf("%s: unknown lane %q", prefix, l)
			}
			if owner, ok := grouped[l]; ok {
				return fmt.Errorf("%s: lane %q already in group %q", prefix, l, owner)
			}
			grouped[l] = g.Name
		}
	}
	if len(s.Groups) > 0 && len(grouped) != len(lanes) {
		return fmt.Errorf("groups must cover every lane (%d of %d grouped)", len(grouped), len(lanes))
	}
	for i, e := range s.Emergencies {
		prefix := fmt.Sprintf("emergencies[%d]", i)
		if !lanes[e.Lane] {
			return fmt.Errorf("%s: unknown lane %q", prefix, e.Lane)
		}
		if e.At < 0 || e.ETA < 0 {
			return fmt.Errorf("%s: at_s and eta_s must be non-negative", prefix)
		}
	}
	for i, tr := range s.Transit {
		if !lanes[tr.Lane] {
			return fmt.Errorf("transit[%d]: unknown lane %q", i, tr.Lane)
		}
	}
	return nil
}

// Phases returns the scheduler approaches the scenario exposes: group names
// when lanes are paired, otherwise lane names, in declaration order.
func (s *Scenario) Phases() []sim.Approach {
	if len(s.Groups) > 0 {
		out := make([]sim.Approach, len(s.Groups))
		for i, g := range s.Groups {
			out[i] = sim.Approach(g.Name)
		}
		return out
	}
	out := make([]sim.Approach, len(s.Lanes))
	for i, l := range s.Lanes {
		out[i] = sim.Approach(l.Name)
	}
	return out
}

// phaseOf maps each lane to the approach that serves it.
func (s *Scenario) phaseOf() map[string]sim.Approach {
	out := make(map[string]sim.Approach, len(s.Lanes))
	for _, l := range s.Lanes {
		out[l.Name] = sim.Approach(l.Name)
	}
	for _, g := range s.Groups {
		for _, l := range g.Lanes {
			out[l] = sim.Approach(g.Name)
		}
	}
	return out
}

// sortedEmergencies returns the events by injection time, stable on declaration order.
func (s *Scenario) sortedEmergencies() []EmergencyEvent {
	out := append([]EmergencyEvent(nil), s.Emergencies...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].At < out[j].At })
	return out
}

func validateFinitePositive(name string, val float64) error {
	if math.IsNaN(val) || math.IsInf(val, 0) {
		return fmt.Errorf("%s must be a finite number, got %f", name, val)
	}
	if val <= 0 {
		return fmt.Errorf("%s must be positive, got %f", name, val)
	}
	return nil
}
