package service

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/mux"

	"github.com/ethereum-optimism/infra/op-conform/runner"
	"github.com/ethereum-optimism/infra/op-conform/types"
)

// Status is the JSON body served at /status
type Status struct {
	RunID     string   `json:"run_id"`
	Total     int      `json:"total"`
	Passed    int      `json:"passed"`
	Failed    int      `json:"failed"`
	NotRun    int      `json:"not_run"`
	Done      bool     `json:"done"`
	FailedIDs []string `json:"failed_ids,omitempty"`
}

// CaseStatus is the JSON body served at /status/{id}
type CaseStatus struct {
	ID       string           `json:"id"`
	Source   string           `json:"source"`
	Status   types.TestStatus `json:"status"`
	Outcomes []LevelStatus    `json:"outcomes"`
}

// LevelStatus summarizes one outcome of a test case
type LevelStatus struct {
	Level      string `json:"level"`
	Passed     bool   `json:"passed"`
	Kind       string `json:"kind,omitempty"`
	ExitCode   int    `json:"exit_code"`
	DurationMs int64  `json:"duration_ms"`
}

// StatusTracker is a result sink keeping the live counts of a run
type StatusTracker struct {
	mu     sync.RWMutex
	status Status
	cases  map[string]CaseStatus
}

var _ runner.ResultSink = (*StatusTracker)(nil)

func NewStatusTracker(runID string, total int) *StatusTracker {
	return &StatusTracker{
		status: Status{RunID: runID, Total: total},
		cases:  make(map[string]CaseStatus),
	}
}

func (s *StatusTracker) Consume(v *types.TestVerdict) error {
	cs := CaseStatus{
		ID:     v.Case.ID,
		Source: v.Case.SourcePath,
		Status: v.Status(),
	}
	for _, o := range v.Outcomes {
		ls := LevelStatus{
			Level:      o.OptLevel,
			Passed:     o.Passed,
			ExitCode:   o.ExitCode,
			DurationMs: o.Duration.Milliseconds(),
		}
		if !o.Passed {
			ls.Kind = o.Failure.String()
		}
		cs.Outcomes = append(cs.Outcomes, ls)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.cases[cs.ID] = cs
	if v.Passed() {
		s.status.Passed++
	} else {
		s.status.Failed++
		s.status.FailedIDs = append(s.status.FailedIDs, v.Case.ID)
	}
	return nil
}

func (s *StatusTracker) Complete(summary *runner.RunSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.Passed = summary.Passed
	s.status.Failed = summary.Failed
	s.status.NotRun = summary.NotRun
	s.status.Done = true
	return nil
}

// Snapshot returns a copy of the current status
func (s *StatusTracker) Snapshot() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := s.status
	out.FailedIDs = append([]string(nil), s.status.FailedIDs...)
	return out
}

// Case returns the status of a finished test case
func (s *StatusTracker) Case(id string) (CaseStatus, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cs, ok := s.cases[id]
	return cs, ok
}

func (s *StatusTracker) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Snapshot())
}

func (s *StatusTracker) handleCase(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	cs, ok := s.Case(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no result for test case " + id})
		return
	}
	writeJSON(w, http.StatusOK, cs)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
