package trace

import "strings"

// TraceSummary aggregates statistics from a DecisionTrace.
type TraceSummary struct {
	TotalTicks         int            `json:"total_ticks"`
	RejectedTicks      int            `json:"rejected_ticks"`
	FallbackTicks      int            `json:"fallback_ticks"`
	OverriddenTicks    int            `json:"overridden_ticks"`
	Preemptions        int            `json:"preemptions"` // entries into EMERGENCY_GREEN
	Resumptions        int            `json:"resumptions"` // entries into RESUMING
	Dropped            int64          `json:"dropped"`
	PolicyDistribution map[string]int `json:"policy_distribution"` // policy → ticks governed
	RuleDistribution   map[string]int `json:"rule_distribution"`   // rule → ticks matched
}

// Summarize computes aggregate statistics from a DecisionTrace.
// Safe for nil or empty traces (returns zero-value fields).
func Summarize(dt *DecisionTrace) *TraceSummary {
	if dt == nil {
		return SummarizeRecords(nil)
	}
	summary := SummarizeRecords(dt.Records())
	summary.Dropped = dt.Dropped
	return summary
}

// SummarizeRecords aggregates records loaded from anywhere, e.g. a trace store.
func SummarizeRecords(records []TickRecord) *TraceSummary {
	summary := &TraceSummary{
		PolicyDistribution: make(map[string]int),
		RuleDistribution:   make(map[string]int),
	}
	for _, r := range records {
		summary.TotalTicks++
		if r.Rejected {
			summary.RejectedTicks++
			continue
		}
		summary.PolicyDistribution[r.Policy]++
		summary.RuleDistribution[r.Rule]++
		if r.Fallback {
			summary.FallbackTicks++
		}
		if r.Override != "" {
			summary.OverriddenTicks++
		}
		for _, tr := range r.Transitions {
			switch transitionTarget(tr) {
			case "EMERGENCY_GREEN":
				summary.Preemptions++
			case "RESUMING":
				summary.Resumptions++
			}
		}
	}
	return summary
}

// transitionTarget extracts TO from a "FROM->TO@time" transition string.
func transitionTarget(tr string) string {
	_, rest, ok := strings.Cut(tr, "->")
	if !ok {
		return ""
	}
	to, _, _ := strings.Cut(rest, "@")
	return to
}
