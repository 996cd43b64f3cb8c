package traffic

import (
	"fmt"
	"math"
	"math/rand"
	"sort"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/signal-sim/signal-sim/sim"
)

type vehicle struct {
	arrived float64
	transit bool
}

// lane is one queue of vehicles waiting at the stop line.
type lane struct {
	name     string
	phase    sim.Approach
	queue    []vehicle
	sampler  ArrivalSampler
	rng      *rand.Rand
	next     float64 // next arrival time; +Inf when the lane has no arrivals
	credit   float64 // fractional departures accrued during the current green
	arrivals int     // arrivals since the last rate update
	estimate float64 // EWMA arrival rate, vehicles per second
	hadQueue bool
}

// arrive enqueues every arrival before until.
func (l *lane) arrive(until float64, m *Metrics) {
	for l.next < until {
		l.queue = append(l.queue, vehicle{arrived: l.next})
		l.arrivals++
		l.hadQueue = true
		m.Arrived++
		l.next += l.sampler.SampleGap(l.rng)
	}
}

// discharge releases vehicles at the saturation headway during green.
// A lane that runs empty forfeits its accrued credit.
func (l *lane) discharge(from, span, headway float64, m *Metrics) {
	before := l.credit
	l.credit += span / headway
	for k := 1.0; l.credit >= 1 && len(l.queue) > 0; k++ {
		at := from + (k-before)*headway
		v := l.queue[0]
		l.queue = l.queue[1:]
		l.credit--
		m.recordDeparture(math.Max(0, at-v.arrived), v.transit)
		if len(l.queue) == 0 {
			l.clear(at, m)
		}
	}
	if len(l.queue) == 0 {
		l.credit = 0
	}
}

func (l *lane) clear(at float64, m *Metrics) {
	if _, seen := m.ClearedAt[l.name]; !seen && l.hadQueue {
		m.ClearedAt[l.name] = at
	}
}

type emergencyVehicle struct {
	req      sim.EmergencyRequest
	arriveAt float64 // when it reaches the stop line
	served   float64 // green seconds shown to it while at the stop line
	outcome  int     // index into Metrics.Emergencies
}

// Intersection is a queue-level model of one signalised junction. It turns
// ActionPlans into vehicle movement and exposes the result as snapshots.
// Not safe for concurrent use.
type Intersection struct {
	scenario *Scenario
	phases   []sim.Approach
	lanes    []*lane
	byPhase  map[sim.Approach][]*lane
	ids      *rand.Rand

	now       float64
	green     sim.Approach // approach of the last green shown
	lastPhase sim.Phase
	pending   []EmergencyEvent
	transit   []TransitEvent
	active    []*emergencyVehicle
	metrics   *Metrics
}

// NewIntersection builds the model for a validated scenario at t=0.
func NewIntersection(sc *Scenario) (*Intersection, error) {
	if err := sc.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	rng := NewPartitionedRNG(NewSimulationKey(sc.Seed))
	phaseOf := sc.phaseOf()
	it := &Intersection{
		scenario:  sc,
		phases:    sc.Phases(),
		byPhase:   make(map[sim.Approach][]*lane),
		ids:       rng.ForSubsystem(SubsystemEmergencies),
		pending:   sc.sortedEmergencies(),
		metrics:   NewMetrics(),
		lastPhase: sim.Phase{Indication: sim.IndicationAllRed},
	}
	it.transit = append([]TransitEvent(nil), sc.Transit...)
	sort.SliceStable(it.transit, func(i, j int) bool { return it.transit[i].At < it.transit[j].At })

	for _, spec := range sc.Lanes {
		l := &lane{
			name:     spec.Name,
			phase:    phaseOf[spec.Name],
			sampler:  NewArrivalSampler(spec.Arrival, spec.Rate),
			rng:      rng.ForSubsystem(SubsystemArrivals(spec.Name)),
			next:     math.Inf(1),
			estimate: spec.Rate,
			hadQueue: spec.InitialQueue > 0,
		}
		for i := 0; i < spec.InitialQueue; i++ {
			l.queue = append(l.queue, vehicle{arrived: 0})
		}
		it.metrics.Arrived += spec.InitialQueue
		if l.sampler != nil {
			l.next = l.sampler.SampleGap(l.rng)
		}
		it.lanes = append(it.lanes, l)
		it.byPhase[l.phase] = append(it.byPhase[l.phase], l)
	}
	if err := it.inject(); err != nil {
		return nil, err
	}
	return it, nil
}

// Now returns the model's sim time.
func (it *Intersection) Now() float64 {
	return it.now
}

// Metrics returns the metrics recorded so far.
func (it *Intersection) Metrics() *Metrics {
	return it.metrics
}

// Snapshot reports the current queues, waits, rate estimates and emergency
// requests in the scheduler's input format.
func (it *Intersection) Snapshot() *sim.IntersectionSnapshot {
	snap := &sim.IntersectionSnapshot{
		Queues:       make(map[sim.Approach]int, len(it.phases)),
		WaitingTimes: make(map[sim.Approach][]float64, len(it.phases)),
		ArrivalRates: make(map[sim.Approach]float64, len(it.phases)),
		CurrentPhase: it.green,
		SimTime:      it.now,
	}
	for _, p := range it.phases {
		waits := []float64{}
		rate := 0.0
		transit := 0
		for _, l := range it.byPhase[p] {
			for _, v := range l.queue {
				waits = append(waits, it.now-v.arrived)
				if v.transit {
					transit++
				}
			}
			rate += l.estimate
		}
		snap.Queues[p] = len(waits)
		snap.WaitingTimes[p] = waits
		snap.ArrivalRates[p] = rate
		if transit > 0 {
			if snap.TransitVehicles == nil {
				snap.TransitVehicles = make(map[sim.Approach]int)
			}
			snap.TransitVehicles[p] = transit
		}
	}
	for _, ev := range it.active {
		snap.EmergencyRequests = append(snap.EmergencyRequests, ev.req)
	}
	return snap
}

// Advance executes plan for dt seconds. Phases run in order; once the plan
// is exhausted its last phase is held. An empty plan holds the previous phase.
func (it *Intersection) Advance(plan sim.ActionPlan, dt float64) error {
	if !(dt > 0) {
		return fmt.Errorf("advance: dt must be positive, got %v", dt)
	}
	end := it.now + dt
	t := it.now
	for _, ph := range plan {
		if t >= end {
			break
		}
		span := math.Min(ph.Duration, end-t)
		if span <= 0 {
			continue
		}
		it.run(ph, t, span)
		t += span
	}
	if t < end {
		it.run(it.lastPhase, t, end-t)
	}
	it.now = end
	it.updateRates(dt)
	return it.inject()
}

// run shows one phase from `from` for span seconds.
func (it *Intersection) run(ph sim.Phase, from, span float64) {
	it.lastPhase = ph
	to := from + span
	for _, l := range it.lanes {
		if l.sampler != nil {
			l.arrive(to, it.metrics)
		}
	}

	switch ph.Indication {
	case sim.IndicationGreen:
		it.green = ph.Approach
		it.metrics.GreenTime[ph.Approach] += span
		for _, l := range it.lanes {
			if l.phase == ph.Approach {
				l.discharge(from, span, it.scenario.Headway, it.metrics)
			} else {
				l.credit = 0
			}
		}
	case sim.IndicationYellow:
		it.metrics.YellowTime += span
		it.resetCredit()
	default:
		it.metrics.AllRedTime += span
		it.resetCredit()
	}
	it.moveEmergencies(ph, from, span)
}

func (it *Intersection) resetCredit() {
	for _, l := range it.lanes {
		l.credit = 0
	}
}

// moveEmergencies counts ETAs down and lets a vehicle at the stop line pass
// after one headway of green on its approach.
func (it *Intersection) moveEmergencies(ph sim.Phase, from, span float64) {
	to := from + span
	kept := it.active[:0]
	for _, ev := range it.active {
		out := &it.metrics.Emergencies[ev.outcome]
		green := ph.Indication == sim.IndicationGreen && ph.Approach == ev.req.Direction
		if green && out.GreenAt < 0 {
			out.GreenAt = from
		}
		if !ev.req.Queued {
			ev.req.ETASeconds = math.Max(0, ev.arriveAt-to)
			if ev.req.ETASeconds == 0 {
				ev.req.Queued = true
			}
		}
		if green && ev.arriveAt < to {
			start := math.Max(from, ev.arriveAt)
			need := it.scenario.Headway - ev.served
			if to-start >= need {
				out.PassedAt = start + need
				logrus.Debugf("[t=%08.2f] emergency %s passed on %s", out.PassedAt, ev.req.ID, ev.req.Direction)
				continue
			}
			ev.served += to - start
		}
		kept = append(kept, ev)
	}
	it.active = kept
}

// updateRates folds the last interval's arrivals into each lane's EWMA estimate.
func (it *Intersection) updateRates(dt float64) {
	a := it.scenario.RateSmoothing
	for _, l := range it.lanes {
		l.estimate = a*float64(l.arrivals)/dt + (1-a)*l.estimate
		l.arrivals = 0
	}
}

// inject releases scripted events due by now.
func (it *Intersection) inject() error {
	phaseOf := it.scenario.phaseOf()
	for len(it.pending) > 0 && it.pending[0].At <= it.now {
		ev := it.pending[0]
		it.pending = it.pending[1:]
		id := ev.ID
		if id == "" {
			u, err := uuid.NewRandomFromReader(it.ids)
			if err != nil {
				return fmt.Errorf("minting emergency id: %w", err)
			}
			id = u.String()
		}
		req, err := sim.NewEmergencyRequest(id, phaseOf[ev.Lane], ev.ETA, ev.At)
		if err != nil {
			return err
		}
		req.Queued = ev.ETA == 0
		it.metrics.Emergencies = append(it.metrics.Emergencies, EmergencyOutcome{
			ID: id, Approach: req.Direction, RequestTime: ev.At, GreenAt: -1, PassedAt: -1,
		})
		it.active = append(it.active, &emergencyVehicle{
			req:      req,
			arriveAt: ev.At + ev.ETA,
			outcome:  len(it.metrics.Emergencies) - 1,
		})
		logrus.Infof("[t=%08.2f] emergency %s detected on %s, eta %.1fs", it.now, id, req.Direction, ev.ETA)
	}
	for len(it.transit) > 0 && it.transit[0].At <= it.now {
		tr := it.transit[0]
		it.transit = it.transit[1:]
		for _, l := range it.lanes {
			if l.name == tr.Lane {
				l.queue = append(l.queue, vehicle{arrived: it.now, transit: true})
				l.hadQueue = true
				it.metrics.Arrived++
			}
		}
	}
	return nil
}
