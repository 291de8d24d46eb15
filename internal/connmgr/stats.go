package connmgr

import (
	"sync"
	"time"
)

// DepStats accumulates connection attempt counters for one dependency.
type DepStats struct {
	Attempts    int       `json:"attempts"`
	Failures    int       `json:"failures"`
	LastError   string    `json:"last_error,omitempty"`
	LastSuccess time.Time `json:"last_success,omitzero"`
	LastFailure time.Time `json:"last_failure,omitzero"`
}

// Stats aggregates retry statistics across dependencies. Safe for concurrent
// use.
type Stats struct {
	mu   sync.Mutex
	deps map[string]*DepStats
}

func newStats() *Stats {
	return &Stats{deps: make(map[string]*DepStats)}
}

func (s *Stats) record(name string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dep := s.deps[name]
	if dep == nil {
		dep = &DepStats{}
		s.deps[name] = dep
	}

	dep.Attempts++
	now := time.Now().UTC()
	if err != nil {
		dep.Failures++
		dep.LastError = err.Error()
		dep.LastFailure = now
		return
	}

	dep.LastSuccess = now
}

// Snapshot returns a copy of the accumulated statistics.
func (s *Stats) Snapshot() map[string]DepStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]DepStats, len(s.deps))
	for name, dep := range s.deps {
		out[name] = *dep
	}
	return out
}
