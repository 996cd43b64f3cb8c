package sim

import (
	"fmt"
	"strings"
)

// Approach identifies one traffic-bearing direction or paired phase group
// ("N", "E", "S", "W", "NS", "EW"). Labels are never reused for another approach.
type Approach string

// NoApproach means no approach holds green (start-up or all-red).
const NoApproach Approach = ""

// Compass approaches used by the default cycle order.
const (
	North Approach = "N"
	East  Approach = "E"
	South Approach = "S"
	West  Approach = "W"
)

// Indication is the signal shown while a Phase runs.
type Indication string

const (
	IndicationGreen  Indication = "green"
	IndicationYellow Indication = "yellow"
	IndicationAllRed Indication = "all-red"
)

// Phase is one scheduled interval of an ActionPlan.
// Yellow phases name the approach losing green; all-red phases carry NoApproach.
type Phase struct {
	Approach    Approach   `json:"approach" yaml:"approach"`
	Indication  Indication `json:"indication" yaml:"indication"`
	Duration    float64    `json:"duration_s" yaml:"duration_s"`
	Preemptable bool       `json:"preemptable" yaml:"preemptable"`
}

func (p Phase) String() string {
	label := string(p.Approach)
	if p.Indication == IndicationAllRed {
		label = "*"
	}
	suffix := ""
	if !p.Preemptable {
		suffix = "!"
	}
	return fmt.Sprintf("%s:%s(%.1fs)%s", label, p.Indication, p.Duration, suffix)
}

// ActionPlan is an ordered list of phases, first-to-last execution order.
// An empty plan means "hold current state".
type ActionPlan []Phase

func (p ActionPlan) String() string {
	parts := make([]string, len(p))
	for i, ph := range p {
		parts[i] = ph.String()
	}
	return "[" + strings.Join(parts, " ") + "]"
}

// FirstGreen returns the first green phase of the plan, if any.
func (p ActionPlan) FirstGreen() (Phase, bool) {
	for _, ph := range p {
		if ph.Indication == IndicationGreen {
			return ph, true
		}
	}
	return Phase{}, false
}

// TotalDuration sums the durations of all phases.
func (p ActionPlan) TotalDuration() float64 {
	total := 0.0
	for _, ph := range p {
		total += ph.Duration
	}
	return total
}

func greenPhase(a Approach, d float64, preemptable bool) Phase {
	return Phase{Approach: a, Indication: IndicationGreen, Duration: d, Preemptable: preemptable}
}

func yellowPhase(a Approach, d float64) Phase {
	return Phase{Approach: a, Indication: IndicationYellow, Duration: d, Preemptable: false}
}

func allRedPhase(d float64) Phase {
	return Phase{Approach: NoApproach, Indication: IndicationAllRed, Duration: d, Preemptable: false}
}
