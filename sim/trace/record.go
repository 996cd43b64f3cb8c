// Package trace provides per-tick decision recording for signal scheduling analysis.
// It has no dependencies on sim/ and stores pure data types.
package trace

// TickRecord captures one scheduler tick: the policy the meta-scheduler chose,
// why, and what the preemption state machine did with it.
type TickRecord struct {
	Seq         int64    `json:"seq"`
	SimTime     float64  `json:"sim_time"`
	Policy      string   `json:"policy"`
	Rule        string   `json:"rule"`
	Reason      string   `json:"reason"`
	Fallback    bool     `json:"fallback,omitempty"` // no meta-scheduler rule matched
	State       string   `json:"state"`              // preemption state after the tick
	Transitions []string `json:"transitions,omitempty"`
	Override    string   `json:"override,omitempty"`
	Note        string   `json:"note,omitempty"`
	Plan        string   `json:"plan"`
	Rejected    bool     `json:"rejected,omitempty"` // snapshot failed validation
	Error       string   `json:"error,omitempty"`
}
