// Package sim provides the signal scheduling core: policies, the
// meta-scheduler that picks one per tick, and the preemption state machine
// that turns the pick into a safe ActionPlan.
//
// # Reading Guide
//
// Start with these three files to understand the scheduling kernel:
//   - snapshot.go: IntersectionSnapshot, the per-tick input, and its validation
//   - meta.go: the rule table that selects a policy for each tick
//   - preemption.go: Step, the state machine (NORMAL, YELLOW_TRANSITION,
//     ALL_RED_CLEARANCE, EMERGENCY_GREEN, RESUMING) and plan rendering
//
// # Architecture
//
// Step is pure: it takes a SchedulerContext and returns an updated copy.
// Scheduler wraps one context, logs every tick and feeds the decision trace.
// Sub-packages:
//   - sim/trace/: bounded decision trace and summaries
//   - sim/traffic/: queue-level intersection model and scenario runner
//
// # Key Interfaces
//
//   - Policy: rank approaches for the next green (RoundRobinPolicy,
//     ShortestJobFirstPolicy, PriorityPolicy)
//   - Option: configure a Scheduler (forced policy, trace, record sinks)
//
// Every switch of green goes through yellow then all-red. Emergency greens
// are not preemptable; their length is EmergencyClearDuration, clamped like
// any other green.
package sim
