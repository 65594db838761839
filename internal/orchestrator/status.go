package orchestrator

import "sync"

// StatusStore is the single source of truth for per-task status and
// retry counts during a run. Updates are whole-map replacements only:
// a partial merge could resurrect a stale in_progress marker from a
// previous cycle after the worker has already completed.
type StatusStore struct {
	mu       sync.RWMutex
	statuses map[string]TaskStatus
	retries  map[string]int
}

// NewStatusStore seeds every task ID as pending with zero retries.
func NewStatusStore(taskIDs []string) *StatusStore {
	statuses := make(map[string]TaskStatus, len(taskIDs))
	retries := make(map[string]int, len(taskIDs))
	for _, id := range taskIDs {
		statuses[id] = TaskPending
		retries[id] = 0
	}
	return &StatusStore{statuses: statuses, retries: retries}
}

// NewStatusStoreFrom rebuilds a store from persisted state, used when
// resuming a checkpointed run. The maps are copied.
func NewStatusStoreFrom(statuses map[string]TaskStatus, retries map[string]int) *StatusStore {
	s := &StatusStore{
		statuses: make(map[string]TaskStatus, len(statuses)),
		retries:  make(map[string]int, len(retries)),
	}
	for id, st := range statuses {
		s.statuses[id] = st
	}
	for id, n := range retries {
		s.retries[id] = n
	}
	return s
}

// Snapshot returns copies of the status and retry maps.
func (s *StatusStore) Snapshot() (map[string]TaskStatus, map[string]int) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	statuses := make(map[string]TaskStatus, len(s.statuses))
	for id, st := range s.statuses {
		statuses[id] = st
	}
	retries := make(map[string]int, len(s.retries))
	for id, n := range s.retries {
		retries[id] = n
	}
	return statuses, retries
}

// Apply replaces both maps atomically. Callers pass complete maps, never
// deltas. Applying the same maps twice is a no-op.
func (s *StatusStore) Apply(statuses map[string]TaskStatus, retries map[string]int) {
	next := make(map[string]TaskStatus, len(statuses))
	for id, st := range statuses {
		next[id] = st
	}
	nextRetries := make(map[string]int, len(retries))
	for id, n := range retries {
		nextRetries[id] = n
	}

	s.mu.Lock()
	s.statuses = next
	s.retries = nextRetries
	s.mu.Unlock()
}
