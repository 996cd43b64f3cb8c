package traffic

import (
	"fmt"
	"io"
	"sort"

	"github.com/signal-sim/signal-sim/sim"
)

// EmergencyOutcome records how one emergency vehicle was served.
type EmergencyOutcome struct {
	ID          string       `json:"id"`
	Approach    sim.Approach `json:"approach"`
	RequestTime float64      `json:"request_time"`
	GreenAt     float64      `json:"green_at"`  // first green on its approach after the request; -1 if never
	PassedAt    float64      `json:"passed_at"` // -1 if still waiting at the end of the run
}

// Latency returns the time from request to green, or -1 when never served.
func (o EmergencyOutcome) Latency() float64 {
	if o.GreenAt < 0 {
		return -1
	}
	return o.GreenAt - o.RequestTime
}

// Metrics aggregates what the intersection did during a run.
type Metrics struct {
	Arrived       int                      `json:"arrived"`
	Departed      int                      `json:"departed"`
	TotalWait     float64                  `json:"total_wait_s"`
	MaxWait       float64                  `json:"max_wait_s"`
	ClearedAt     map[string]float64       `json:"cleared_at"` // lane → first time its queue emptied
	TransitServed int                      `json:"transit_served"`
	TransitWait   float64                  `json:"transit_wait_s"`
	Emergencies   []EmergencyOutcome       `json:"emergencies"`
	GreenTime     map[sim.Approach]float64 `json:"green_time_s"`
	YellowTime    float64                  `json:"yellow_time_s"`
	AllRedTime    float64                  `json:"all_red_time_s"`
}

// NewMetrics creates a Metrics ready for recording.
func NewMetrics() *Metrics {
	return &Metrics{
		ClearedAt: make(map[string]float64),
		GreenTime: make(map[sim.Approach]float64),
	}
}

// MeanWait returns the mean stop-line wait of departed vehicles.
func (m *Metrics) MeanWait() float64 {
	if m.Departed == 0 {
		return 0
	}
	return m.TotalWait / float64(m.Departed)
}

// MeanClearTime averages ClearedAt over the lanes that have emptied.
func (m *Metrics) MeanClearTime() float64 {
	if len(m.ClearedAt) == 0 {
		return 0
	}
	total := 0.0
	for _, lane := range sortedKeys(m.ClearedAt) {
		total += m.ClearedAt[lane]
	}
	return total / float64(len(m.ClearedAt))
}

func (m *Metrics) recordDeparture(wait float64, transit bool) {
	m.Departed++
	m.TotalWait += wait
	if wait > m.MaxWait {
		m.MaxWait = wait
	}
	if transit {
		m.TransitServed++
		m.TransitWait += wait
	}
}

// Print writes a human-readable summary.
func (m *Metrics) Print(w io.Writer) {
	fmt.Fprintf(w, "=== Intersection Metrics ===\n")
	fmt.Fprintf(w, "Vehicles arrived:   %d\n", m.Arrived)
	fmt.Fprintf(w, "Vehicles departed:  %d\n", m.Departed)
	fmt.Fprintf(w, "Mean wait:          %.2f s\n", m.MeanWait())
	fmt.Fprintf(w, "Max wait:           %.2f s\n", m.MaxWait)
	if m.TransitServed > 0 {
		fmt.Fprintf(w, "Transit served:     %d (mean wait %.2f s)\n", m.TransitServed, m.TransitWait/float64(m.TransitServed))
	}
	for _, lane := range sortedKeys(m.ClearedAt) {
		fmt.Fprintf(w, "Lane %-4s first cleared at %.2f s\n", lane, m.ClearedAt[lane])
	}
	approaches := make([]sim.Approach, 0, len(m.GreenTime))
	for a := range m.GreenTime {
		approaches = append(approaches, a)
	}
	sort.Slice(approaches, func(i, j int) bool { return approaches[i] < approaches[j] })
	for _, a := range approaches {
		fmt.Fprintf(w, "Green %-4s %8.1f s\n", a, m.GreenTime[a])
	}
	fmt.Fprintf(w, "Yellow     %8.1f s\nAll-red    %8.1f s\n", m.YellowTime, m.AllRedTime)
	for _, e := range m.Emergencies {
		fmt.Fprintf(w, "Emergency %s on %s: requested %.1f, green after %.1f s, passed at %.1f\n",
			e.ID, e.Approach, e.RequestTime, e.Latency(), e.PassedAt)
	}
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
