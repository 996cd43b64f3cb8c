package trace

// TraceLevel controls the verbosity of decision tracing.
type TraceLevel string

const (
	// TraceLevelNone disables tracing (zero overhead).
	TraceLevelNone TraceLevel = "none"
	// TraceLevelDecisions captures every tick's policy choice and state transitions.
	TraceLevelDecisions TraceLevel = "decisions"
)

// validTraceLevels maps accepted trace level strings.
var validTraceLevels = map[TraceLevel]bool{
	TraceLevelNone:      true,
	TraceLevelDecisions: true,
	"":                  true, // empty defaults to none
}

// IsValidTraceLevel returns true if the given level string is a recognized trace level.
func IsValidTraceLevel(level string) bool {
	return validTraceLevels[TraceLevel(level)]
}

// DefaultCapacity bounds the number of records a trace retains.
const DefaultCapacity = 4096

// TraceConfig controls trace collection behavior.
type TraceConfig struct {
	Level    TraceLevel
	Capacity int // ring size; <= 0 uses DefaultCapacity
}

// DecisionTrace keeps the most recent tick records in a bounded ring.
// Older records are overwritten; Dropped counts how many.
// Not safe for concurrent use.
type DecisionTrace struct {
	Config  TraceConfig
	Dropped int64

	ring  []TickRecord
	next  int
	count int
	seq   int64
}

// NewDecisionTrace creates a DecisionTrace ready for recording.
func NewDecisionTrace(config TraceConfig) *DecisionTrace {
	if config.Capacity <= 0 {
		config.Capacity = DefaultCapacity
	}
	return &DecisionTrace{
		Config: config,
		ring:   make([]TickRecord, config.Capacity),
	}
}

// Enabled reports whether records are kept.
func (dt *DecisionTrace) Enabled() bool {
	return dt != nil && dt.Config.Level == TraceLevelDecisions
}

// RecordTick appends a tick record, assigning its sequence number.
// Returns the stored record. No-op when tracing is disabled.
func (dt *DecisionTrace) RecordTick(record TickRecord) TickRecord {
	if !dt.Enabled() {
		return record
	}
	dt.seq++
	record.Seq = dt.seq
	if dt.count == len(dt.ring) {
		dt.Dropped++
	} else {
		dt.count++
	}
	dt.ring[dt.next] = record
	dt.next = (dt.next + 1) % len(dt.ring)
	return record
}

// Len returns the number of retained records.
func (dt *DecisionTrace) Len() int {
	if dt == nil {
		return 0
	}
	return dt.count
}

// Records returns the retained records, oldest first.
func (dt *DecisionTrace) Records() []TickRecord {
	if dt == nil || dt.count == 0 {
		return nil
	}
	out := make([]TickRecord, 0, dt.count)
	start := (dt.next - dt.count + len(dt.ring)) % len(dt.ring)
	for i := 0; i < dt.count; i++ {
		out = append(out, dt.ring[(start+i)%len(dt.ring)])
	}
	return out
}
