package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signal-sim/signal-sim/sim"
)

func TestResolveScheduler_Layering(t *testing.T) {
	bundle := func(t *testing.T) string {
		return writeFile(t, "policy.yaml", "policy: priority\nparams:\n  min_green: 9\ntrace:\n  capacity: 32\n")
	}
	tests := []struct {
		name       string
		flags      func(t *testing.T) schedulerFlags
		fallback   string
		wantPolicy string
		wantMin    float64
		wantMax    float64
		wantCap    int
	}{
		{
			name:       "documented defaults",
			flags:      func(*testing.T) schedulerFlags { return schedulerFlags{TraceLevel: "decisions"} },
			wantPolicy: "", wantMin: 7, wantMax: 60,
		},
		{
			name:       "scenario policy used when nothing else names one",
			flags:      func(*testing.T) schedulerFlags { return schedulerFlags{} },
			fallback:   "sjf",
			wantPolicy: "sjf", wantMin: 7, wantMax: 60,
		},
		{
			name: "preset overlays defaults",
			flags: func(*testing.T) schedulerFlags {
				return schedulerFlags{Preset: "residential", DefaultsPath: defaultsPath}
			},
			fallback:   "sjf",
			wantPolicy: "round-robin", wantMin: 5, wantMax: 30,
		},
		{
			name: "bundle overlays preset",
			flags: func(t *testing.T) schedulerFlags {
				return schedulerFlags{Preset: "residential", DefaultsPath: defaultsPath, PolicyConfig: bundle(t)}
			},
			wantPolicy: "priority", wantMin: 9, wantMax: 30, wantCap: 32,
		},
		{
			name: "explicit flag wins",
			flags: func(t *testing.T) schedulerFlags {
				return schedulerFlags{PolicyConfig: bundle(t), Policy: "sjf", PolicySet: true}
			},
			wantPolicy: "sjf", wantMin: 9, wantMax: 60, wantCap: 32,
		},
		{
			name: "explicit empty policy restores the meta-scheduler",
			flags: func(t *testing.T) schedulerFlags {
				return schedulerFlags{PolicyConfig: bundle(t), Policy: "", PolicySet: true}
			},
			wantPolicy: "", wantMin: 9, wantMax: 60, wantCap: 32,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			setup, err := resolveScheduler(tc.flags(t), tc.fallback)
			require.NoError(t, err)
			assert.Equal(t, tc.wantPolicy, setup.Policy)
			assert.Equal(t, tc.wantMin, setup.Params.MinGreen)
			assert.Equal(t, tc.wantMax, setup.Params.MaxGreen)
			assert.Equal(t, tc.wantCap, setup.TraceCap)
		})
	}
}

func TestResolveScheduler_Errors(t *testing.T) {
	tests := []struct {
		name  string
		flags schedulerFlags
	}{
		{"unknown policy flag", schedulerFlags{Policy: "fifo", PolicySet: true}},
		{"unknown trace level", schedulerFlags{TraceLevel: "verbose"}},
		{"unknown preset", schedulerFlags{Preset: "downtown", DefaultsPath: defaultsPath}},
		{"missing policy config", schedulerFlags{PolicyConfig: "does-not-exist.yaml"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := resolveScheduler(tc.flags, "")
			assert.Error(t, err)
		})
	}
}

func TestResolveScheduler_InvalidMergedParams(t *testing.T) {
	path := writeFile(t, "policy.yaml", "params:\n  min_green: 80\n")
	_, err := resolveScheduler(schedulerFlags{PolicyConfig: path}, "")
	var cfgErr *sim.ConfigError
	require.ErrorAs(t, err, &cfgErr)
}

func TestSchedulerSetup_NewScheduler(t *testing.T) {
	setup, err := resolveScheduler(schedulerFlags{Policy: "sjf", PolicySet: true, TraceLevel: "decisions", TraceCap: 8}, "")
	require.NoError(t, err)
	sched, dt, err := setup.newScheduler()
	require.NoError(t, err)
	assert.True(t, dt.Enabled())
	assert.Equal(t, 8, dt.Config.Capacity)
	assert.Same(t, dt, sched.Trace())
}
