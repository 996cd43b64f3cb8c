package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/signal-sim/signal-sim/sim"
	"github.com/signal-sim/signal-sim/sim/trace"
)

type healthResponse struct {
	Status string `json:"status"`
	Uptime string `json:"uptime"`
	Ticks  int64  `json:"ticks"`
	State  string `json:"state"`
	Store  string `json:"store"`
	RunID  string `json:"run_id,omitempty"`
}

// TickResponse is the body of a successful POST /v1/tick.
type TickResponse struct {
	Plan     sim.ActionPlan   `json:"plan"`
	PlanText string           `json:"plan_text"`
	Record   trace.TickRecord `json:"record"`
}

// StateResponse is the body of GET /v1/state.
type StateResponse struct {
	Context sim.SchedulerContext `json:"context"`
	Params  sim.PolicyParams     `json:"params"`
	Ticks   int64                `json:"ticks"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	s.mu.Lock()
	ticks, state := s.sched.Ticks(), s.sched.Context().State
	s.mu.Unlock()

	store := "none"
	if s.store != nil {
		store = "sqlite"
	}
	respondOK(w, reqID, healthResponse{
		Status: "healthy",
		Uptime: time.Since(s.startTime).Round(time.Second).String(),
		Ticks:  ticks,
		State:  string(state),
		Store:  store,
		RunID:  s.runID,
	})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	s.mu.Lock()
	resp := StateResponse{Context: s.sched.Context(), Params: s.sched.Params(), Ticks: s.sched.Ticks()}
	s.mu.Unlock()
	respondOK(w, reqID, resp)
}

func (s *Server) handleTick(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	snap, ok := decodeSnapshot(w, r, reqID)
	if !ok {
		return
	}

	s.mu.Lock()
	plan, err := s.sched.Tick(snap)
	record := s.sched.LastRecord()
	s.mu.Unlock()

	if s.store != nil {
		if serr := s.store.Append(r.Context(), s.runID, record); serr != nil {
			logrus.Warnf("persisting tick %d: %v", record.Seq, serr)
		}
	}
	if err != nil {
		respondError(w, reqID, http.StatusUnprocessableEntity, snapshotError(err))
		return
	}
	respondOK(w, reqID, TickResponse{Plan: plan, PlanText: plan.String(), Record: record})
}

func (s *Server) handleExplain(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	snap, ok := decodeSnapshot(w, r, reqID)
	if !ok {
		return
	}
	s.mu.Lock()
	text := s.sched.Explain(snap)
	s.mu.Unlock()
	respondOK(w, reqID, map[string]string{"explanation": text})
}

func (s *Server) handleTraceSummary(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	if s.store != nil {
		summary, err := s.store.Summary(r.Context(), s.runID)
		if err != nil {
			respondError(w, reqID, http.StatusInternalServerError, &APIError{Code: ErrInternal, Message: err.Error()})
			return
		}
		respondOK(w, reqID, summary)
		return
	}
	s.mu.Lock()
	summary := trace.Summarize(s.sched.Trace())
	s.mu.Unlock()
	respondOK(w, reqID, summary)
}

func (s *Server) handleTraceTicks(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	after, err := queryInt(r, "after", 0)
	if err != nil {
		respondError(w, reqID, http.StatusBadRequest, &APIError{Code: ErrBadRequest, Message: err.Error(), Field: "after"})
		return
	}
	limit, err := queryInt(r, "limit", 100)
	if err != nil {
		respondError(w, reqID, http.StatusBadRequest, &APIError{Code: ErrBadRequest, Message: err.Error(), Field: "limit"})
		return
	}

	if s.store != nil {
		records, err := s.store.ListTicks(r.Context(), s.runID, int64(after), limit)
		if err != nil {
			respondError(w, reqID, http.StatusInternalServerError, &APIError{Code: ErrInternal, Message: err.Error()})
			return
		}
		respondOK(w, reqID, orEmptyRecords(records))
		return
	}

	s.mu.Lock()
	var records []trace.TickRecord
	if dt := s.sched.Trace(); dt != nil {
		records = dt.Records()
	}
	s.mu.Unlock()
	out := make([]trace.TickRecord, 0, len(records))
	for _, rec := range records {
		if rec.Seq > int64(after) && (limit <= 0 || len(out) < limit) {
			out = append(out, rec)
		}
	}
	respondOK(w, reqID, out)
}

func decodeSnapshot(w http.ResponseWriter, r *http.Request, reqID string) (*sim.IntersectionSnapshot, bool) {
	var snap sim.IntersectionSnapshot
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&snap); err != nil {
		respondError(w, reqID, http.StatusBadRequest, &APIError{
			Code:    ErrBadRequest,
			Message: fmt.Sprintf("decoding snapshot: %v", err),
		})
		return nil, false
	}
	return &snap, true
}

func snapshotError(err error) *APIError {
	var verr *sim.ValidationError
	if errors.As(err, &verr) {
		return &APIError{Code: ErrInvalidSnapshot, Message: err.Error(), Field: verr.Field}
	}
	return &APIError{Code: ErrInternal, Message: err.Error()}
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func orEmptyRecords(records []trace.TickRecord) []trace.TickRecord {
	if records == nil {
		return []trace.TickRecord{}
	}
	return records
}
