package sim

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntersectionSnapshot_Validate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(s *IntersectionSnapshot)
		wantField string
	}{
		{"valid", func(*IntersectionSnapshot) {}, ""},
		{"no approaches", func(s *IntersectionSnapshot) {
			s.Queues, s.WaitingTimes, s.ArrivalRates = map[Approach]int{}, map[Approach][]float64{}, map[Approach]float64{}
		}, "queues"},
		{"negative queue", func(s *IntersectionSnapshot) { s.Queues[East] = -1 }, "queues"},
		{"missing waiting times", func(s *IntersectionSnapshot) { delete(s.WaitingTimes, South) }, "waiting_times"},
		{"mismatched arrival keys", func(s *IntersectionSnapshot) {
			delete(s.ArrivalRates, South)
			s.ArrivalRates["NS"] = 1
		}, "arrival_rates"},
		{"negative waiting time", func(s *IntersectionSnapshot) { s.WaitingTimes[North] = []float64{-2} }, "waiting_times"},
		{"NaN arrival rate", func(s *IntersectionSnapshot) { s.ArrivalRates[West] = math.NaN() }, "arrival_rates"},
		{"unknown current phase", func(s *IntersectionSnapshot) { s.CurrentPhase = "NE" }, "current_phase"},
		{"negative sim time", func(s *IntersectionSnapshot) { s.SimTime = -1 }, "sim_time"},
		{"emergency to unknown approach", func(s *IntersectionSnapshot) {
			s.EmergencyRequests = []EmergencyRequest{emergencyAt("amb-1", "X", 3)}
		}, "emergency_requests.direction"},
		{"duplicate emergency ID", func(s *IntersectionSnapshot) {
			s.EmergencyRequests = []EmergencyRequest{emergencyAt("amb-1", East, 3), emergencyAt("amb-1", West, 5)}
		}, "emergency_requests.id"},
		{"emergency without ID", func(s *IntersectionSnapshot) {
			s.EmergencyRequests = []EmergencyRequest{emergencyAt("", East, 3)}
		}, "emergency_requests.id"},
		{"transit on unknown approach", func(s *IntersectionSnapshot) {
			s.TransitVehicles = map[Approach]int{"X": 1}
		}, "transit_vehicles"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			snap := snapshotAt(3, North, nesw(1, 2, 3, 4))
			tc.mutate(snap)

			err := snap.Validate()

			if tc.wantField == "" {
				assert.NoError(t, err)
				return
			}
			var ve *ValidationError
			require.True(t, errors.As(err, &ve), "want *ValidationError, got %v", err)
			assert.Equal(t, tc.wantField, ve.Field)
		})
	}
}

func TestNewEmergencyRequest(t *testing.T) {
	req, err := NewEmergencyRequest("amb-1", East, 6, 2)
	require.NoError(t, err)
	assert.Equal(t, EmergencyRequest{ID: "amb-1", Direction: East, ETASeconds: 6, RequestTime: 2}, req)

	for _, bad := range []struct {
		id  string
		dir Approach
		eta float64
	}{
		{"", East, 1},
		{"amb-1", NoApproach, 1},
		{"amb-1", East, -1},
	} {
		_, err := NewEmergencyRequest(bad.id, bad.dir, bad.eta, 0)
		var ve *ValidationError
		assert.True(t, errors.As(err, &ve), "%+v", bad)
	}
}

func TestScheduler_RejectedTickLeavesContextUnchanged(t *testing.T) {
	s := mustScheduler(t, DefaultPolicyParams())
	tick(t, s, snapshotAt(10, North, nesw(5, 3, 3, 3)))
	before := s.Context()

	tests := []struct {
		name string
		snap *IntersectionSnapshot
	}{
		{"malformed", func() *IntersectionSnapshot {
			snap := snapshotAt(11, North, nesw(5, 3, 3, 3))
			snap.Queues[East] = -1
			return snap
		}()},
		{"time goes backwards", snapshotAt(5, North, nesw(5, 3, 3, 3))},
		{"approach missing from cycle order", snapshotAt(11, North, map[Approach]int{North: 1, "NS": 2})},
		{"nil snapshot", nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			plan, err := s.Tick(tc.snap)

			var ve *ValidationError
			assert.True(t, errors.As(err, &ve), "want *ValidationError, got %v", err)
			assert.Nil(t, plan)
			assert.Equal(t, before, s.Context())
		})
	}
}

func TestPolicyParams_Validate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(p *PolicyParams)
		wantField string
	}{
		{"defaults", func(*PolicyParams) {}, ""},
		{"zero min green", func(p *PolicyParams) { p.MinGreen = 0 }, "min_green"},
		{"max below min", func(p *PolicyParams) { p.MaxGreen = 5 }, "max_green"},
		{"min equals max", func(p *PolicyParams) { p.MaxGreen = p.MinGreen }, ""},
		{"negative yellow", func(p *PolicyParams) { p.YellowDuration = -1 }, "yellow_duration"},
		{"infinite all-red", func(p *PolicyParams) { p.AllRedDuration = math.Inf(1) }, "all_red_duration"},
		{"zero clearance allowed", func(p *PolicyParams) { p.YellowDuration, p.AllRedDuration = 0, 0 }, ""},
		{"empty cycle", func(p *PolicyParams) { p.RRCycleOrder = nil }, "rr_cycle_order"},
		{"duplicate in cycle", func(p *PolicyParams) { p.RRCycleOrder = []Approach{North, East, North} }, "rr_cycle_order"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p := DefaultPolicyParams()
			tc.mutate(&p)

			err := p.Validate()

			if tc.wantField == "" {
				assert.NoError(t, err)
				return
			}
			var ce *ConfigError
			require.True(t, errors.As(err, &ce), "want *ConfigError, got %v", err)
			assert.Equal(t, tc.wantField, ce.Field)
		})
	}
}

func TestNewScheduler_ConfigErrors(t *testing.T) {
	bad := DefaultPolicyParams()
	bad.MinGreen = -3
	_, err := NewScheduler(bad)
	var ce *ConfigError
	assert.True(t, errors.As(err, &ce))

	_, err = NewScheduler(DefaultPolicyParams(), WithPolicy("fifo"))
	assert.True(t, errors.As(err, &ce))
	assert.Equal(t, "policy", ce.Field)
}
