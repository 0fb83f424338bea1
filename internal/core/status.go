package core

import (
	"net/http"
	"sync"
	"time"

	"podconnect/internal/types"
)

// CycleStatus describes the most recent dispatch cycle.
type CycleStatus struct {
	CycleID    string    `json:"cycle_id"`
	StartedAt  time.Time `json:"started_at"`
	DurationMS int64     `json:"duration_ms"`
	Succeeded  int       `json:"succeeded"`
	Failed     int       `json:"failed"`
	Skipped    int       `json:"skipped"`
	Error      string    `json:"error,omitempty"`
}

// CycleTracker keeps the last CycleStatus. Safe for concurrent use.
type CycleTracker struct {
	mu   sync.RWMutex
	last *CycleStatus
}

// Record stores the result of a finished cycle. cycleErr is set when the
// cycle was aborted.
func (t *CycleTracker) Record(cycleID string, started time.Time, duration time.Duration, summary types.CycleSummary, cycleErr error) {
	st := &CycleStatus{
		CycleID:    cycleID,
		StartedAt:  started.UTC(),
		DurationMS: duration.Milliseconds(),
		Succeeded:  summary.Succeeded,
		Failed:     summary.Failed,
		Skipped:    summary.Skipped,
	}
	if cycleErr != nil {
		st.Error = cycleErr.Error()
	}
	t.mu.Lock()
	t.last = st
	t.mu.Unlock()
}

// Last returns a copy of the last status, if any.
func (t *CycleTracker) Last() (CycleStatus, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.last == nil {
		return CycleStatus{}, false
	}
	return *t.last, true
}

// HandleStatus serves the last cycle, or 204 before the first one.
func (s *Server) HandleStatus(w http.ResponseWriter, _ *http.Request) {
	st, ok := s.Cycles.Last()
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	JSON(w, http.StatusOK, st)
}
