package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signal-sim/signal-sim/internal/tracestore"
	"github.com/signal-sim/signal-sim/sim"
	"github.com/signal-sim/signal-sim/sim/trace"
)

func TestMain(m *testing.M) {
	if os.Getenv("DEBUG_TESTS") == "" {
		logrus.SetLevel(logrus.WarnLevel)
	}
	os.Exit(m.Run())
}

// envelope decodes the standard response envelope.
type envelope struct {
	Status    string          `json:"status"`
	RequestID string          `json:"request_id"`
	Data      json.RawMessage `json:"data"`
	Error     *APIError       `json:"error"`
}

func testServer(t *testing.T, cfg Config) *Server {
	t.Helper()
	dt := trace.NewDecisionTrace(trace.TraceConfig{Level: trace.TraceLevelDecisions, Capacity: 16})
	sched, err := sim.NewScheduler(sim.DefaultPolicyParams(), sim.WithTrace(dt))
	require.NoError(t, err)
	return New(sched, cfg)
}

func do(t *testing.T, srv *Server, method, path, body string) (int, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), "body=%s", w.Body.String())
	assert.Equal(t, env.RequestID, w.Header().Get("X-Request-ID"))
	return w.Code, env
}

func snapshotJSON(simTime float64) string {
	return `{
		"queues": {"N": 3, "E": 0, "S": 0, "W": 0},
		"waiting_times": {"N": [3, 2, 1], "E": [], "S": [], "W": []},
		"arrival_rates": {"N": 0.1, "E": 0, "S": 0, "W": 0},
		"current_phase": "N",
		"sim_time": ` + strconv.FormatFloat(simTime, 'f', -1, 64) + `
	}`
}

func TestHealth(t *testing.T) {
	srv := testServer(t, Config{})
	code, env := do(t, srv, http.MethodGet, "/v1/health", "")

	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", env.Status)
	assert.True(t, strings.HasPrefix(env.RequestID, "req_"))
	var data healthResponse
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, "healthy", data.Status)
	assert.Equal(t, "NORMAL", data.State)
	assert.Equal(t, "none", data.Store)
}

func TestTick_ReturnsPlanAndRecord(t *testing.T) {
	srv := testServer(t, Config{})

	code, env := do(t, srv, http.MethodPost, "/v1/tick", snapshotJSON(0))

	require.Equal(t, http.StatusOK, code, "error=%+v", env.Error)
	var data TickResponse
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.NotEmpty(t, data.Plan)
	assert.Equal(t, data.Plan.String(), data.PlanText)
	assert.Equal(t, int64(1), data.Record.Seq)
	assert.Equal(t, "low-load", data.Record.Rule)
	assert.Equal(t, "round-robin", data.Record.Policy)
}

func TestTick_RejectsTimeGoingBackwards(t *testing.T) {
	srv := testServer(t, Config{})
	code, _ := do(t, srv, http.MethodPost, "/v1/tick", snapshotJSON(5))
	require.Equal(t, http.StatusOK, code)

	code, env := do(t, srv, http.MethodPost, "/v1/tick", snapshotJSON(4))

	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, "error", env.Status)
	require.NotNil(t, env.Error)
	assert.Equal(t, ErrInvalidSnapshot, env.Error.Code)
	assert.Equal(t, "sim_time", env.Error.Field)
}

func TestTick_MalformedBody(t *testing.T) {
	srv := testServer(t, Config{})
	tests := []struct {
		name string
		body string
	}{
		{"not json", "queues: {N: 1}"},
		{"unknown field", `{"queues": {"N": 1}, "phase": "N"}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			code, env := do(t, srv, http.MethodPost, "/v1/tick", tc.body)
			assert.Equal(t, http.StatusBadRequest, code)
			require.NotNil(t, env.Error)
			assert.Equal(t, ErrBadRequest, env.Error.Code)
		})
	}
}

func TestExplain_DoesNotAdvanceScheduler(t *testing.T) {
	srv := testServer(t, Config{})

	code, env := do(t, srv, http.MethodPost, "/v1/explain", snapshotJSON(0))

	require.Equal(t, http.StatusOK, code)
	var data map[string]string
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Contains(t, data["explanation"], "Rule: low-load, policy: round-robin")
	assert.Contains(t, data["explanation"], "State: NORMAL")

	_, env = do(t, srv, http.MethodGet, "/v1/state", "")
	var state StateResponse
	require.NoError(t, json.Unmarshal(env.Data, &state))
	assert.Equal(t, int64(0), state.Ticks)
	assert.Equal(t, sim.StateNormal, state.Context.State)
	assert.Equal(t, 7.0, state.Params.MinGreen)
}

func TestTraceEndpoints_InMemory(t *testing.T) {
	srv := testServer(t, Config{})
	for _, ts := range []float64{0, 1, 2} {
		code, _ := do(t, srv, http.MethodPost, "/v1/tick", snapshotJSON(ts))
		require.Equal(t, http.StatusOK, code)
	}

	_, env := do(t, srv, http.MethodGet, "/v1/trace/summary", "")
	var summary trace.TraceSummary
	require.NoError(t, json.Unmarshal(env.Data, &summary))
	assert.Equal(t, 3, summary.TotalTicks)

	_, env = do(t, srv, http.MethodGet, "/v1/trace/ticks?after=1&limit=1", "")
	var records []trace.TickRecord
	require.NoError(t, json.Unmarshal(env.Data, &records))
	require.Len(t, records, 1)
	assert.Equal(t, int64(2), records[0].Seq)

	code, env := do(t, srv, http.MethodGet, "/v1/trace/ticks?limit=ten", "")
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "limit", env.Error.Field)
}

func TestTraceEndpoints_PersistedToStore(t *testing.T) {
	ctx := context.Background()
	store, err := tracestore.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.Migrate(ctx))
	runID, err := store.CreateRun(ctx, "serve")
	require.NoError(t, err)

	srv := testServer(t, Config{Store: store, RunID: runID})
	code, _ := do(t, srv, http.MethodPost, "/v1/tick", snapshotJSON(3))
	require.Equal(t, http.StatusOK, code)
	code, _ = do(t, srv, http.MethodPost, "/v1/tick", snapshotJSON(2))
	require.Equal(t, http.StatusUnprocessableEntity, code)

	_, env := do(t, srv, http.MethodGet, "/v1/trace/summary", "")
	var summary trace.TraceSummary
	require.NoError(t, json.Unmarshal(env.Data, &summary))
	assert.Equal(t, 2, summary.TotalTicks)
	assert.Equal(t, 1, summary.RejectedTicks)

	stored, err := store.ListTicks(ctx, runID, 0, 0)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.True(t, stored[1].Rejected)

	_, env = do(t, srv, http.MethodGet, "/v1/health", "")
	var health healthResponse
	require.NoError(t, json.Unmarshal(env.Data, &health))
	assert.Equal(t, "sqlite", health.Store)
	assert.Equal(t, runID, health.RunID)
}
