package cmd

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signal-sim/signal-sim/internal/tracestore"
)

func TestRunScenario_PrintsMetricsAndTrace(t *testing.T) {
	// GIVEN the two-queue example scenario and a forced SJF policy
	var out bytes.Buffer
	flags := schedulerFlags{Policy: "sjf", PolicySet: true, TraceLevel: "decisions"}

	// WHEN it runs
	err := runScenario(context.Background(), &out, "../examples/sjf_vs_rr.yaml", flags)

	// THEN the metrics and decision summary are printed
	require.NoError(t, err)
	text := out.String()
	assert.Contains(t, text, "Scenario:           sjf-vs-rr")
	assert.Contains(t, text, "Ticks:              80 (0 rejected)")
	assert.Contains(t, text, "Vehicles departed:  22")
	assert.Contains(t, text, "Rule forced")
	assert.Contains(t, text, "Policy sjf")
}

func TestRunScenario_PersistsTrace(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "trace.db")
	var out bytes.Buffer
	flags := schedulerFlags{TraceLevel: "none", TraceDB: dbPath}

	require.NoError(t, runScenario(context.Background(), &out, "../examples/paired.yaml", flags))
	assert.Contains(t, out.String(), "Trace run:")
	assert.NotContains(t, out.String(), "=== Decision Trace ===", "in-memory trace disabled")

	ctx := context.Background()
	store, err := tracestore.Open(dbPath)
	require.NoError(t, err)
	defer store.Close()
	runs, err := store.ListRuns(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "run:paired", runs[0].Source)
	assert.Equal(t, 600, runs[0].Ticks)

	summary, err := store.Summary(ctx, runs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, 600, summary.TotalTicks)
	assert.Greater(t, summary.RuleDistribution["emergency"], 0)
}

func TestRunScenario_Errors(t *testing.T) {
	var out bytes.Buffer
	err := runScenario(context.Background(), &out, "missing.yaml", schedulerFlags{})
	assert.Error(t, err)

	bad := writeFile(t, "scenario.yaml", "horizon_s: 10\nlanes: []\n")
	err = runScenario(context.Background(), &out, bad, schedulerFlags{})
	assert.ErrorContains(t, err, "invalid scenario")
}

func TestExplainSnapshot(t *testing.T) {
	var out bytes.Buffer
	err := explainSnapshot(&out, "../examples/snapshot_emergency.yaml", schedulerFlags{TraceLevel: "decisions"})

	require.NoError(t, err)
	text := out.String()
	assert.Contains(t, text, "Emergency vehicles present (1)")
	assert.Contains(t, text, "Rule: emergency, policy: priority")
	assert.Contains(t, text, "amb-7@E")
}

func TestPrintDefaults(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, printDefaults(&out, schedulerFlags{Preset: "paired", DefaultsPath: defaultsPath}))

	text := out.String()
	assert.Contains(t, text, "# valid policies: [priority round-robin sjf]")
	assert.Contains(t, text, "min_green: 12")
	assert.Contains(t, text, "- NS")
	assert.Contains(t, text, "yellow_duration: 3")
}
