package sim

import "math"

// PolicyParams configures every policy and the preemption state machine.
// All durations are in seconds. Passed explicitly; there is no global instance.
type PolicyParams struct {
	MinGreen               float64    `json:"min_green" yaml:"min_green"`
	MaxGreen               float64    `json:"max_green" yaml:"max_green"`
	YellowDuration         float64    `json:"yellow_duration" yaml:"yellow_duration"`
	AllRedDuration         float64    `json:"all_red_duration" yaml:"all_red_duration"`
	MinSwitchInterval      float64    `json:"min_switch_interval" yaml:"min_switch_interval"`
	RRCycleOrder           []Approach `json:"rr_cycle_order" yaml:"rr_cycle_order"`
	LowLoadThreshold       float64    `json:"low_load_threshold" yaml:"low_load_threshold"`
	HighVarianceThreshold  float64    `json:"high_variance_threshold" yaml:"high_variance_threshold"`
	SJFHorizon             float64    `json:"sjf_horizon" yaml:"sjf_horizon"`
	EmergencyPreemptBuffer float64    `json:"emergency_preempt_buffer" yaml:"emergency_preempt_buffer"`

	PerVehicleBonus          float64 `json:"per_vehicle_bonus" yaml:"per_vehicle_bonus"`                     // extra green per queued vehicle (RR, priority)
	SJFClearancePerVehicle   float64 `json:"sjf_clearance_per_vehicle" yaml:"sjf_clearance_per_vehicle"`     // seconds to clear one estimated vehicle (SJF)
	EmergencyClearDuration   float64 `json:"emergency_clear_duration" yaml:"emergency_clear_duration"`       // green granted to an emergency approach
	EmergencyExtraPerVehicle float64 `json:"emergency_extra_per_vehicle" yaml:"emergency_extra_per_vehicle"` // added per further emergency on the same approach
	TransitWeight            float64 `json:"transit_weight" yaml:"transit_weight"`                           // 0 disables public-transport scoring
}

// DefaultPolicyParams returns the documented defaults.
func DefaultPolicyParams() PolicyParams {
	return PolicyParams{
		MinGreen:                 7.0,
		MaxGreen:                 60.0,
		YellowDuration:           3.0,
		AllRedDuration:           1.0,
		MinSwitchInterval:        5.0,
		RRCycleOrder:             []Approach{North, East, South, West},
		LowLoadThreshold:         2.0,
		HighVarianceThreshold:    4.0,
		SJFHorizon:               30.0,
		EmergencyPreemptBuffer:   4.0,
		PerVehicleBonus:          2.0,
		SJFClearancePerVehicle:   3.0,
		EmergencyClearDuration:   15.0,
		EmergencyExtraPerVehicle: 5.0,
		TransitWeight:            0.0,
	}
}

// Validate returns a *ConfigError for the first violated constraint.
func (p PolicyParams) Validate() error {
	if !(p.MinGreen > 0) || math.IsInf(p.MinGreen, 0) {
		return misconfiguredf("min_green", "must be > 0, got %v", p.MinGreen)
	}
	if !(p.MaxGreen >= p.MinGreen) || math.IsInf(p.MaxGreen, 0) {
		return misconfiguredf("max_green", "must be finite and >= min_green (%v), got %v", p.MinGreen, p.MaxGreen)
	}
	nonNegative := []struct {
		field string
		value float64
	}{
		{"yellow_duration", p.YellowDuration},
		{"all_red_duration", p.AllRedDuration},
		{"min_switch_interval", p.MinSwitchInterval},
		{"low_load_threshold", p.LowLoadThreshold},
		{"high_variance_threshold", p.HighVarianceThreshold},
		{"sjf_horizon", p.SJFHorizon},
		{"emergency_preempt_buffer", p.EmergencyPreemptBuffer},
		{"per_vehicle_bonus", p.PerVehicleBonus},
		{"sjf_clearance_per_vehicle", p.SJFClearancePerVehicle},
		{"emergency_clear_duration", p.EmergencyClearDuration},
		{"emergency_extra_per_vehicle", p.EmergencyExtraPerVehicle},
		{"transit_weight", p.TransitWeight},
	}
	for _, f := range nonNegative {
		if !(f.value >= 0) || math.IsInf(f.value, 0) {
			return misconfiguredf(f.field, "must be a finite non-negative value, got %v", f.value)
		}
	}
	if len(p.RRCycleOrder) == 0 {
		return misconfiguredf("rr_cycle_order", "must name at least one approach")
	}
	seen := make(map[Approach]bool, len(p.RRCycleOrder))
	for _, a := range p.RRCycleOrder {
		if a == NoApproach {
			return misconfiguredf("rr_cycle_order", "contains an empty approach label")
		}
		if seen[a] {
			return misconfiguredf("rr_cycle_order", "approach %s listed twice", a)
		}
		seen[a] = true
	}
	return nil
}

// ClampGreen bounds a green duration to [MinGreen, MaxGreen].
func (p PolicyParams) ClampGreen(d float64) float64 {
	return math.Max(p.MinGreen, math.Min(p.MaxGreen, d))
}

func (p PolicyParams) cyclePositions() map[Approach]int {
	pos := make(map[Approach]int, len(p.RRCycleOrder))
	for i, a := range p.RRCycleOrder {
		pos[a] = i
	}
	return pos
}

// emergencyGreen is the green granted to an approach with count pending
// emergency requests.
func (p PolicyParams) emergencyGreen(count int) float64 {
	d := p.EmergencyClearDuration
	if count > 1 {
		d += float64(count-1) * p.EmergencyExtraPerVehicle
	}
	return p.ClampGreen(d)
}
