// Implements the EmergencyQueue, which holds every active emergency request.
// Only the head is acted upon by the preemption state machine.

package sim

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// EmergencyQueue keeps active emergency requests sorted by ETA, then request
// time, then the approach's position in RRCycleOrder, then ID.
// A request being served is pinned at the head until it is popped, even if a
// newer request reports a smaller ETA.
type EmergencyQueue struct {
	items      []EmergencyRequest
	pinned     string // ID of the request being served ("" if none)
	pinnedGone bool   // the pinned request no longer appears in snapshots
}

// Len returns the number of queued requests.
func (q *EmergencyQueue) Len() int {
	return len(q.items)
}

// Peek returns the head of the queue without removing it.
func (q *EmergencyQueue) Peek() (EmergencyRequest, bool) {
	if len(q.items) == 0 {
		return EmergencyRequest{}, false
	}
	return q.items[0], true
}

// Items returns a copy of the queue contents in service order.
func (q *EmergencyQueue) Items() []EmergencyRequest {
	out := make([]EmergencyRequest, len(q.items))
	copy(out, q.items)
	return out
}

// CountFor returns how many queued requests target approach a.
func (q *EmergencyQueue) CountFor(a Approach) int {
	n := 0
	for _, r := range q.items {
		if r.Direction == a {
			n++
		}
	}
	return n
}

// Pin marks the head request as being served.
func (q *EmergencyQueue) Pin() {
	if head, ok := q.Peek(); ok {
		q.pinned = head.ID
		q.pinnedGone = false
	}
}

// Pinned returns the ID of the request being served.
func (q *EmergencyQueue) Pinned() string {
	return q.pinned
}

// PinnedDeparted reports whether the served request has passed the
// intersection or been withdrawn.
func (q *EmergencyQueue) PinnedDeparted() bool {
	return q.pinned != "" && q.pinnedGone
}

// Sync replaces the queue contents with the requests reported by the latest
// snapshot. Requests missing from the snapshot are dropped, except the pinned
// one, which stays at the head flagged as departed until PopHead.
// Returns the IDs of dropped requests.
func (q *EmergencyQueue) Sync(reqs []EmergencyRequest, params PolicyParams) []string {
	reported := make(map[string]bool, len(reqs))
	for _, r := range reqs {
		reported[r.ID] = true
	}
	var withdrawn []string
	var pinnedEntry *EmergencyRequest
	for i := range q.items {
		r := q.items[i]
		if r.ID == q.pinned {
			pinnedEntry = &r
			continue
		}
		if !reported[r.ID] {
			withdrawn = append(withdrawn, r.ID)
		}
	}

	rest := make([]EmergencyRequest, 0, len(reqs))
	for _, r := range reqs {
		if r.ID == q.pinned {
			pinnedEntry = &r
			continue
		}
		rest = append(rest, r)
	}
	q.items = sortedEmergencies(rest, params)
	if q.pinned != "" && pinnedEntry != nil {
		q.pinnedGone = !reported[q.pinned]
		q.items = append([]EmergencyRequest{*pinnedEntry}, q.items...)
	} else if q.pinned != "" {
		q.pinned = ""
		q.pinnedGone = false
	}
	return withdrawn
}

// PopHead removes the head request and clears the pin.
func (q *EmergencyQueue) PopHead() (EmergencyRequest, bool) {
	head, ok := q.Peek()
	if !ok {
		return EmergencyRequest{}, false
	}
	q.items = q.items[1:]
	if head.ID == q.pinned {
		q.pinned = ""
		q.pinnedGone = false
	}
	return head, true
}

func (q *EmergencyQueue) clone() EmergencyQueue {
	return EmergencyQueue{items: q.Items(), pinned: q.pinned, pinnedGone: q.pinnedGone}
}

// MarshalJSON exposes the queue contents and the served request.
func (q EmergencyQueue) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Requests []EmergencyRequest `json:"requests"`
		Serving  string             `json:"serving,omitempty"`
	}{Requests: q.Items(), Serving: q.pinned})
}

func (q *EmergencyQueue) String() string {
	var sb strings.Builder
	sb.WriteString("[")
	for i, r := range q.items {
		fmt.Fprintf(&sb, "%s@%s(eta=%.1f)", r.ID, r.Direction, r.ETASeconds)
		if i < len(q.items)-1 {
			sb.WriteString(" ")
		}
	}
	sb.WriteString("]")
	return sb.String()
}

// sortedEmergencies returns a copy of reqs in service order.
func sortedEmergencies(reqs []EmergencyRequest, params PolicyParams) []EmergencyRequest {
	out := make([]EmergencyRequest, len(reqs))
	copy(out, reqs)
	pos := params.cyclePositions()
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].ETASeconds != out[j].ETASeconds {
			return out[i].ETASeconds < out[j].ETASeconds
		}
		if out[i].RequestTime != out[j].RequestTime {
			return out[i].RequestTime < out[j].RequestTime
		}
		pi, pj := directionRank(pos, out[i].Direction), directionRank(pos, out[j].Direction)
		if pi != pj {
			return pi < pj
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func directionRank(pos map[Approach]int, a Approach) int {
	if p, ok := pos[a]; ok {
		return p
	}
	return len(pos)
}
