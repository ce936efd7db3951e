package agent

import "sync"

// runRegistry tracks the active session of every thread. One run per thread
// at a time.
type runRegistry struct {
	mu   sync.Mutex
	runs map[string]*LoopSession
}

func newRunRegistry() *runRegistry {
	return &runRegistry{runs: make(map[string]*LoopSession)}
}

// begin registers s unless its thread already has an active run.
func (r *runRegistry) begin(s *LoopSession) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, busy := r.runs[s.ThreadID]; busy {
		return false
	}
	r.runs[s.ThreadID] = s
	return true
}

func (r *runRegistry) end(s *LoopSession) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.runs[s.ThreadID]; ok && cur == s {
		delete(r.runs, s.ThreadID)
	}
}

func (r *runRegistry) get(threadID string) (*LoopSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.runs[threadID]
	return s, ok
}

// active returns the thread ids with a run in progress.
func (r *runRegistry) active() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.runs))
	for id := range r.runs {
		ids = append(ids, id)
	}
	return ids
}
