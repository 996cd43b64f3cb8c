package sim

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// snapshotAt builds a valid snapshot where the i-th queued vehicle of an
// approach has waited i+1 seconds, so longer queues also wait longer.
func snapshotAt(simTime float64, current Approach, queues map[Approach]int, emergencies ...EmergencyRequest) *IntersectionSnapshot {
	q := make(map[Approach]int, len(queues))
	waits := make(map[Approach][]float64, len(queues))
	rates := make(map[Approach]float64, len(queues))
	for a, n := range queues {
		q[a] = n
		w := make([]float64, n)
		for i := range w {
			w[i] = float64(i + 1)
		}
		waits[a] = w
		rates[a] = 0
	}
	return &IntersectionSnapshot{
		Queues:            q,
		WaitingTimes:      waits,
		ArrivalRates:      rates,
		EmergencyRequests: emergencies,
		CurrentPhase:      current,
		SimTime:           simTime,
	}
}

func nesw(n, e, s, w int) map[Approach]int {
	return map[Approach]int{North: n, East: e, South: s, West: w}
}

func emergencyAt(id string, dir Approach, eta float64) EmergencyRequest {
	return EmergencyRequest{ID: id, Direction: dir, ETASeconds: eta}
}

func mustScheduler(t *testing.T, params PolicyParams, opts ...Option) *Scheduler {
	t.Helper()
	s, err := NewScheduler(params, opts...)
	require.NoError(t, err, "NewScheduler")
	return s
}

// assertClearanceBetweenGreens checks a sampled signal timeline: whenever
// green moves to a different approach, the old approach showed yellow and
// then all-red was shown before the new green.
func assertClearanceBetweenGreens(t *testing.T, signals []Phase) {
	t.Helper()
	var lastGreen Approach
	sawYellow, sawAllRed := false, false
	for i, ph := range signals {
		switch ph.Indication {
		case IndicationGreen:
			if lastGreen != NoApproach && ph.Approach != lastGreen {
				if !sawYellow || !sawAllRed {
					require.Failf(t, "green moved without clearance", "sample %d: %s -> %s (yellow=%v, all-red=%v)",
						i, lastGreen, ph.Approach, sawYellow, sawAllRed)
				}
			}
			lastGreen = ph.Approach
			sawYellow, sawAllRed = false, false
		case IndicationYellow:
			require.Equalf(t, lastGreen, ph.Approach, "sample %d: yellow on an approach that did not hold green", i)
			require.Falsef(t, sawAllRed, "sample %d: yellow after all-red", i)
			sawYellow = true
		case IndicationAllRed:
			if lastGreen != NoApproach && !sawYellow {
				require.Failf(t, "all-red without yellow", "sample %d: no yellow shown for %s", i, lastGreen)
			}
			sawAllRed = true
		}
	}
}
