package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/signal-sim/signal-sim/internal/server"
	"github.com/signal-sim/signal-sim/sim"
	"github.com/signal-sim/signal-sim/sim/trace"
	"github.com/signal-sim/signal-sim/sim/traffic"
)

// runScenario simulates a scenario file and writes metrics and the decision
// summary to w.
func runScenario(ctx context.Context, w io.Writer, scenarioPath string, f schedulerFlags) error {
	sc, err := traffic.LoadScenario(scenarioPath)
	if err != nil {
		return err
	}
	if err := sc.Validate(); err != nil {
		return fmt.Errorf("invalid scenario: %w", err)
	}
	setup, err := resolveScheduler(f, sc.Policy)
	if err != nil {
		return err
	}
	setup.Params = traffic.AlignCycleOrder(setup.Params, sc.Phases())

	var pending []trace.TickRecord
	var extra []sim.Option
	if f.TraceDB != "" {
		extra = append(extra, sim.WithRecordSink(func(r trace.TickRecord) {
			pending = append(pending, r)
		}))
	}
	sched, dt, err := setup.newScheduler(extra...)
	if err != nil {
		return err
	}
	runner, err := traffic.NewRunner(sc, sched)
	if err != nil {
		return err
	}

	start := time.Now()
	res, err := runner.Run(ctx)
	if err != nil {
		return err
	}
	logrus.Infof("simulated %d ticks in %s", res.Ticks, time.Since(start).Round(time.Millisecond))

	if f.TraceDB != "" {
		store, runID, err := openTraceStore(ctx, f.TraceDB, "run:"+sc.Name)
		if err != nil {
			return err
		}
		defer store.Close()
		if err := store.AppendAll(ctx, runID, pending); err != nil {
			return err
		}
		fmt.Fprintf(w, "Trace run:          %s (%d ticks)\n", runID, len(pending))
	}

	fmt.Fprintf(w, "Scenario:           %s\n", sc.Name)
	fmt.Fprintf(w, "Ticks:              %d (%d rejected)\n", res.Ticks, res.Rejected)
	fmt.Fprintf(w, "Final state:        %s\n", res.FinalState)
	res.Metrics.Print(w)
	if dt.Enabled() {
		printTraceSummary(w, trace.Summarize(dt))
	}
	return nil
}

// explainSnapshot prints what the scheduler would decide for one snapshot file.
func explainSnapshot(w io.Writer, snapshotPath string, f schedulerFlags) error {
	snap, err := sim.LoadSnapshot(snapshotPath)
	if err != nil {
		return err
	}
	setup, err := resolveScheduler(f, "")
	if err != nil {
		return err
	}
	sched, _, err := setup.newScheduler()
	if err != nil {
		return err
	}
	fmt.Fprintln(w, sched.Explain(snap))
	return nil
}

// serve runs the HTTP API until ctx is cancelled.
func serve(ctx context.Context, addr string, f schedulerFlags) error {
	setup, err := resolveScheduler(f, "")
	if err != nil {
		return err
	}
	sched, _, err := setup.newScheduler()
	if err != nil {
		return err
	}
	cfg := server.Config{}
	if f.TraceDB != "" {
		store, runID, err := openTraceStore(ctx, f.TraceDB, "serve")
		if err != nil {
			return err
		}
		defer store.Close()
		cfg.Store, cfg.RunID = store, runID
	}

	srv := &http.Server{Addr: addr, Handler: server.New(sched, cfg), ReadHeaderTimeout: 10 * time.Second}
	errc := make(chan error, 1)
	go func() {
		logrus.Infof("listening on %s", addr)
		errc <- srv.ListenAndServe()
	}()
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// printDefaults writes the resolved parameters as YAML.
func printDefaults(w io.Writer, f schedulerFlags) error {
	setup, err := resolveScheduler(f, "")
	if err != nil {
		return err
	}
	out := struct {
		Policy string           `yaml:"policy"`
		Params sim.PolicyParams `yaml:"params"`
	}{Policy: setup.Policy, Params: setup.Params}
	data, err := yaml.Marshal(out)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "# valid policies: %v (empty = meta-scheduler)\n", sim.ValidPolicyNames())
	_, err = w.Write(data)
	return err
}

func printTraceSummary(w io.Writer, s *trace.TraceSummary) {
	fmt.Fprintf(w, "=== Decision Trace ===\n")
	fmt.Fprintf(w, "Ticks: %d (rejected %d, fallback %d, overridden %d)\n",
		s.TotalTicks, s.RejectedTicks, s.FallbackTicks, s.OverriddenTicks)
	fmt.Fprintf(w, "Preemptions: %d, resumptions: %d\n", s.Preemptions, s.Resumptions)
	if s.Dropped > 0 {
		fmt.Fprintf(w, "Dropped from ring: %d\n", s.Dropped)
	}
	for _, rule := range sortedCounts(s.RuleDistribution) {
		fmt.Fprintf(w, "Rule %-14s %d\n", rule, s.RuleDistribution[rule])
	}
	for _, policy := range sortedCounts(s.PolicyDistribution) {
		fmt.Fprintf(w, "Policy %-12s %d\n", policy, s.PolicyDistribution[policy])
	}
}

func sortedCounts(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
