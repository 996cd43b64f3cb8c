package sim

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// PolicyBundle holds scheduler configuration, loadable from a YAML file.
// Nil pointer fields mean "not set in YAML"; they do not override the base
// PolicyParams. String fields use empty string for "not set".
type PolicyBundle struct {
	Policy string        `yaml:"policy"` // forced policy; empty keeps the meta-scheduler
	Params ParamsConfig  `yaml:"params"`
	Trace  TraceSettings `yaml:"trace"`
}

// ParamsConfig mirrors PolicyParams with optional fields.
type ParamsConfig struct {
	MinGreen                 *float64   `yaml:"min_green"`
	MaxGreen                 *float64   `yaml:"max_green"`
	YellowDuration           *float64   `yaml:"yellow_duration"`
	AllRedDuration           *float64   `yaml:"all_red_duration"`
	MinSwitchInterval        *float64   `yaml:"min_switch_interval"`
	RRCycleOrder             []Approach `yaml:"rr_cycle_order"`
	LowLoadThreshold         *float64   `yaml:"low_load_threshold"`
	HighVarianceThreshold    *float64   `yaml:"high_variance_threshold"`
	SJFHorizon               *float64   `yaml:"sjf_horizon"`
	EmergencyPreemptBuffer   *float64   `yaml:"emergency_preempt_buffer"`
	PerVehicleBonus          *float64   `yaml:"per_vehicle_bonus"`
	SJFClearancePerVehicle   *float64   `yaml:"sjf_clearance_per_vehicle"`
	EmergencyClearDuration   *float64   `yaml:"emergency_clear_duration"`
	EmergencyExtraPerVehicle *float64   `yaml:"emergency_extra_per_vehicle"`
	TransitWeight            *float64   `yaml:"transit_weight"`
}

// TraceSettings configures decision tracing.
type TraceSettings struct {
	Level    string `yaml:"level"`
	Capacity *int   `yaml:"capacity"`
}

// LoadPolicyBundle reads and parses a YAML policy configuration file.
// Uses strict parsing: unrecognized keys (typos) are rejected.
func LoadPolicyBundle(path string) (*PolicyBundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading policy config: %w", err)
	}
	var bundle PolicyBundle
	if err := decodeStrict(data, &bundle); err != nil {
		return nil, fmt.Errorf("parsing policy config: %w", err)
	}
	return &bundle, nil
}

// ValidPolicyNames returns the sorted list of recognized policy names, excluding "".
func ValidPolicyNames() []string {
	names := make([]string, 0, len(validPolicies))
	for name := range validPolicies {
		if name != "" {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Validate checks the policy name and trace settings. Parameter ranges are
// checked on the merged PolicyParams by Apply.
func (b *PolicyBundle) Validate() error {
	if !IsValidPolicy(b.Policy) {
		return misconfiguredf("policy", "unknown policy %q; valid: %v", b.Policy, ValidPolicyNames())
	}
	if b.Trace.Level != "" && b.Trace.Level != "none" && b.Trace.Level != "decisions" {
		return misconfiguredf("trace.level", "unknown trace level %q; valid: none, decisions", b.Trace.Level)
	}
	if b.Trace.Capacity != nil && *b.Trace.Capacity < 0 {
		return misconfiguredf("trace.capacity", "must be non-negative, got %d", *b.Trace.Capacity)
	}
	return nil
}

// Apply overlays the bundle's set fields on base and validates the result.
// Returns a *ConfigError when the merged parameters are invalid.
func (b *PolicyBundle) Apply(base PolicyParams) (PolicyParams, error) {
	if err := b.Validate(); err != nil {
		return PolicyParams{}, err
	}
	p := base
	p.RRCycleOrder = append([]Approach(nil), base.RRCycleOrder...)
	c := b.Params
	overrides := []struct {
		src *float64
		dst *float64
	}{
		{c.MinGreen, &p.MinGreen},
		{c.MaxGreen, &p.MaxGreen},
		{c.YellowDuration, &p.YellowDuration},
		{c.AllRedDuration, &p.AllRedDuration},
		{c.MinSwitchInterval, &p.MinSwitchInterval},
		{c.LowLoadThreshold, &p.LowLoadThreshold},
		{c.HighVarianceThreshold, &p.HighVarianceThreshold},
		{c.SJFHorizon, &p.SJFHorizon},
		{c.EmergencyPreemptBuffer, &p.EmergencyPreemptBuffer},
		{c.PerVehicleBonus, &p.PerVehicleBonus},
		{c.SJFClearancePerVehicle, &p.SJFClearancePerVehicle},
		{c.EmergencyClearDuration, &p.EmergencyClearDuration},
		{c.EmergencyExtraPerVehicle, &p.EmergencyExtraPerVehicle},
		{c.TransitWeight, &p.TransitWeight},
	}
	for _, o := range overrides {
		if o.src != nil {
			*o.dst = *o.src
		}
	}
	if len(c.RRCycleOrder) > 0 {
		p.RRCycleOrder = append([]Approach(nil), c.RRCycleOrder...)
	}
	if err := p.Validate(); err != nil {
		return PolicyParams{}, err
	}
	return p, nil
}

// LoadSnapshot reads one IntersectionSnapshot from a YAML (or JSON) file.
// The snapshot is parsed strictly but not validated.
func LoadSnapshot(path string) (*IntersectionSnapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading snapshot: %w", err)
	}
	var snap IntersectionSnapshot
	if err := decodeStrict(data, &snap); err != nil {
		return nil, fmt.Errorf("parsing snapshot: %w", err)
	}
	return &snap, nil
}

func decodeStrict(data []byte, out any) error {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
