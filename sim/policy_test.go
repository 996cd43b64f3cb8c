package sim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundRobin_CyclesThroughOrder(t *testing.T) {
	// GIVEN the default cycle order and an undefined starting phase
	params := DefaultPolicyParams()
	snap := snapshotAt(0, NoApproach, nesw(3, 3, 3, 3))

	// WHEN round robin is invoked ten times, feeding each choice back as the current phase
	var got []Approach
	for i := 0; i < 10; i++ {
		best, ok := RoundRobinPolicy{}.Decide(snap, params).Best()
		require.True(t, ok)
		got = append(got, best.Approach)
		snap = snap.withCurrentPhase(best.Approach)
	}

	// THEN it visits N,E,S,W in order, wrapping around
	assert.Equal(t, []Approach{North, East, South, West, North, East, South, West, North, East}, got)
}

func TestRoundRobin_DurationClampedToGreenBounds(t *testing.T) {
	params := DefaultPolicyParams()
	tests := []struct {
		name  string
		queue int
		want  float64
	}{
		{"empty queue gets min green", 0, 7},
		{"bonus per vehicle", 5, 17},
		{"long queue capped at max green", 100, 60},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			snap := snapshotAt(0, West, nesw(tc.queue, 0, 0, 0))
			best, ok := RoundRobinPolicy{}.Decide(snap, params).Best()
			require.True(t, ok)
			assert.Equal(t, North, best.Approach)
			assert.Equal(t, tc.want, best.Duration)
		})
	}
}

func TestRotation_UnknownCurrentPhaseStartsAtHead(t *testing.T) {
	params := DefaultPolicyParams()
	params.RRCycleOrder = []Approach{North, East, South, West, "NS"}
	snap := snapshotAt(0, NoApproach, nesw(1, 1, 1, 1))

	assert.Equal(t, []Approach{North, East, South, West}, rotation(snap, params))
	assert.Equal(t, []Approach{South, West, North, East}, rotation(snap.withCurrentPhase(East), params))
}

func TestSJF_PicksSmallestExpectedJob(t *testing.T) {
	params := DefaultPolicyParams()
	tests := []struct {
		name         string
		queues       map[Approach]int
		rates        map[Approach]float64
		wantApproach Approach
		wantDuration float64
	}{
		{
			name:         "short queue wins",
			queues:       map[Approach]int{North: 2, East: 20},
			wantApproach: North,
			wantDuration: 7, // 2 jobs * 3s = 6s, raised to min green
		},
		{
			name:         "arrival rate inflates the job",
			queues:       map[Approach]int{North: 2, East: 20},
			rates:        map[Approach]float64{North: 1.0},
			wantApproach: East,
			wantDuration: 60, // 20 jobs * 3s capped at max green
		},
		{
			name:         "tie broken by cycle order",
			queues:       map[Approach]int{West: 4, East: 4},
			wantApproach: East,
			wantDuration: 12,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			snap := snapshotAt(0, NoApproach, tc.queues)
			for a, r := range tc.rates {
				snap.ArrivalRates[a] = r
			}
			params.RRCycleOrder = []Approach{North, East, South, West}
			dec := ShortestJobFirstPolicy{}.Decide(snap, params)
			best, ok := dec.Best()
			require.True(t, ok)
			assert.Equal(t, PolicyShortestJobFirst, dec.Policy)
			assert.Equal(t, tc.wantApproach, best.Approach)
			assert.Equal(t, tc.wantDuration, best.Duration)
		})
	}
}

func TestSJF_IdleApproachesRankLast(t *testing.T) {
	params := DefaultPolicyParams()
	snap := snapshotAt(0, NoApproach, nesw(0, 9, 0, 3))

	dec := ShortestJobFirstPolicy{}.Decide(snap, params)

	order := make([]Approach, len(dec.Ranked))
	for i, c := range dec.Ranked {
		order[i] = c.Approach
	}
	assert.Equal(t, []Approach{West, East, North, South}, order)
}

func TestSJF_NoDemandFallsBackToRotation(t *testing.T) {
	params := DefaultPolicyParams()
	snap := snapshotAt(0, East, nesw(0, 0, 0, 0))

	dec := ShortestJobFirstPolicy{}.Decide(snap, params)
	best, ok := dec.Best()

	require.True(t, ok)
	assert.Equal(t, PolicyShortestJobFirst, dec.Policy)
	assert.Equal(t, South, best.Approach)
	assert.Equal(t, params.MinGreen, best.Duration)
}

func TestPriority_Ranking(t *testing.T) {
	params := DefaultPolicyParams()
	params.TransitWeight = 10

	tests := []struct {
		name   string
		policy PriorityPolicy
		snap   func() *IntersectionSnapshot
		want   Approach
	}{
		{
			name:   "longest mean wait wins",
			policy: PriorityPolicy{},
			snap:   func() *IntersectionSnapshot { return snapshotAt(0, North, nesw(2, 6, 4, 1)) },
			want:   East,
		},
		{
			name:   "emergency presence beats waiting time",
			policy: PriorityPolicy{Emergencies: true},
			snap: func() *IntersectionSnapshot {
				return snapshotAt(0, North, nesw(2, 6, 4, 1), emergencyAt("amb-1", West, 30))
			},
			want: West,
		},
		{
			name:   "emergency ignored when not scored",
			policy: PriorityPolicy{},
			snap: func() *IntersectionSnapshot {
				return snapshotAt(0, North, nesw(2, 6, 4, 1), emergencyAt("amb-1", West, 30))
			},
			want: East,
		},
		{
			name:   "earliest emergency wins among several",
			policy: PriorityPolicy{Emergencies: true},
			snap: func() *IntersectionSnapshot {
				return snapshotAt(0, North, nesw(2, 6, 4, 1),
					emergencyAt("amb-1", West, 30), emergencyAt("amb-2", South, 12))
			},
			want: South,
		},
		{
			name:   "transit beats waiting time",
			policy: PriorityPolicy{Transit: true},
			snap: func() *IntersectionSnapshot {
				s := snapshotAt(0, North, nesw(2, 6, 4, 1))
				s.TransitVehicles = map[Approach]int{South: 1}
				return s
			},
			want: South,
		},
		{
			name:   "ties follow the rotation after the current phase",
			policy: PriorityPolicy{},
			snap:   func() *IntersectionSnapshot { return snapshotAt(0, East, nesw(3, 3, 3, 3)) },
			want:   South,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			best, ok := tc.policy.Decide(tc.snap(), params).Best()
			require.True(t, ok)
			assert.Equal(t, tc.want, best.Approach)
		})
	}
}

func TestPolicies_DoNotModifySnapshot(t *testing.T) {
	params := DefaultPolicyParams()
	snap := snapshotAt(5, East, nesw(2, 6, 4, 1), emergencyAt("amb-2", South, 12), emergencyAt("amb-1", West, 3))
	before := snapshotAt(5, East, nesw(2, 6, 4, 1), emergencyAt("amb-2", South, 12), emergencyAt("amb-1", West, 3))

	for _, kind := range []PolicyKind{PolicyRoundRobin, PolicyShortestJobFirst, PolicyPriorityEmergency} {
		NewPolicy(kind).Decide(snap, params)
	}

	assert.Equal(t, before, snap)
}

func TestNewPolicy_UnknownKindPanics(t *testing.T) {
	assert.Panics(t, func() { NewPolicy("fifo") })
}

func TestIsValidPolicy(t *testing.T) {
	assert.True(t, IsValidPolicy(""))
	assert.True(t, IsValidPolicy("round-robin"))
	assert.True(t, IsValidPolicy("sjf"))
	assert.True(t, IsValidPolicy("priority"))
	assert.False(t, IsValidPolicy("fcfs"))
}
