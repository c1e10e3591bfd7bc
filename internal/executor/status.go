package executor

import (
	"sort"
	"sync"
)

// ColumnStatus is the transient UI status of one computed column.
type ColumnStatus struct {
	Computing bool   `json:"computing"`
	Error     string `json:"error,omitempty"`
}

// StatusTracker records which columns are computing and their last error.
// Overlapping executions of the same column are counted, so the column stays
// computing until the last one finishes.
type StatusTracker struct {
	mu        sync.RWMutex
	computing map[string]int
	errors    map[string]error
}

// NewStatusTracker creates an empty tracker.
func NewStatusTracker() *StatusTracker {
	return &StatusTracker{
		computing: make(map[string]int),
		errors:    make(map[string]error),
	}
}

// Start marks a column as computing.
func (s *StatusTracker) Start(columnID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.computing[columnID]++
}

// Finish ends one execution and records its error, or clears the previous
// error on success.
func (s *StatusTracker) Finish(columnID string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n := s.computing[columnID]; n <= 1 {
		delete(s.computing, columnID)
	} else {
		s.computing[columnID] = n - 1
	}
	if err != nil {
		s.errors[columnID] = err
	} else {
		delete(s.errors, columnID)
	}
}

// Computing reports whether a column is currently computing.
func (s *StatusTracker) Computing(columnID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.computing[columnID] > 0
}

// ComputingColumns returns the sorted ids of computing columns.
func (s *StatusTracker) ComputingColumns() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.computing))
	for id := range s.computing {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Err returns the last error of a column, if any.
func (s *StatusTracker) Err(columnID string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.errors[columnID]
}

// Snapshot returns the status of every column that is computing or failed.
func (s *StatusTracker) Snapshot() map[string]ColumnStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]ColumnStatus, len(s.computing)+len(s.errors))
	for id := range s.computing {
		out[id] = ColumnStatus{Computing: true}
	}
	for id, err := range s.errors {
		st := out[id]
		st.Error = err.Error()
		out[id] = st
	}
	return out
}
