package sim

import (
	"fmt"
	"strings"
)

// ExplainDecision renders, for operators, which policy the standard
// meta-scheduler would pick for snap, why, and the approach it would serve.
// It is read-only: no scheduler state is touched. A malformed snapshot is
// reported in the text instead of as an error.
func ExplainDecision(snap *IntersectionSnapshot, params PolicyParams) string {
	return explain(snap, params, NewMetaScheduler(), nil)
}

func explain(snap *IntersectionSnapshot, params PolicyParams, meta *MetaScheduler, forced Policy) string {
	if err := snap.Validate(); err != nil {
		return fmt.Sprintf("Snapshot rejected: %v", err)
	}
	if err := snap.validateOrder(params); err != nil {
		return fmt.Sprintf("Snapshot rejected: %v", err)
	}

	var sel Selection
	if forced != nil {
		sel = forcedSelection(forced, snap)
	} else {
		sel = meta.Select(snap, params)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s\n", sel.Reason)
	fmt.Fprintf(&sb, "Rule: %s, policy: %s", sel.Rule, sel.Kind)
	if sel.Fallback {
		sb.WriteString(" (fallback)")
	}
	fmt.Fprintf(&sb, "\nQueues: %s (mean=%.1f, var=%.1f)", formatQueues(snap), sel.Mean, sel.Variance)

	if len(snap.EmergencyRequests) > 0 {
		reqs := sortedEmergencies(snap.EmergencyRequests, params)
		parts := make([]string, len(reqs))
		for i, r := range reqs {
			state := "approaching"
			if r.Queued || r.ETASeconds <= params.EmergencyPreemptBuffer {
				state = "preempting"
			}
			parts[i] = fmt.Sprintf("%s@%s eta=%.1fs %s", r.ID, r.Direction, r.ETASeconds, state)
		}
		fmt.Fprintf(&sb, "\nEmergencies: %s", strings.Join(parts, ", "))
	}

	if best, ok := sel.Decide(snap, params).Best(); ok {
		fmt.Fprintf(&sb, "\nNext green: %s for %.1fs", best.Approach, best.Duration)
	}
	return sb.String()
}

func formatQueues(snap *IntersectionSnapshot) string {
	approaches := snap.Approaches()
	parts := make([]string, len(approaches))
	for i, a := range approaches {
		parts[i] = fmt.Sprintf("%s=%d", a, snap.Queues[a])
	}
	return strings.Join(parts, " ")
}

func displayApproach(a Approach) string {
	if a == NoApproach {
		return "none"
	}
	return string(a)
}
