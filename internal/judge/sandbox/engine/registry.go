package engine

import (
	"slices"
	"sync"
)

// runRegistry tracks live sandbox handles, cgroup dirs or container ids, per
// submission so a cancel can reach every running test.
type runRegistry struct {
	mu      sync.Mutex
	handles map[string][]string
}

func newRunRegistry() *runRegistry {
	return &runRegistry{handles: map[string][]string{}}
}

func (r *runRegistry) add(submissionID, handle string) {
	r.mu.Lock()
	r.handles[submissionID] = append(r.handles[submissionID], handle)
	r.mu.Unlock()
}

func (r *runRegistry) remove(submissionID, handle string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	left := slices.DeleteFunc(r.handles[submissionID], func(h string) bool { return h == handle })
	if len(left) == 0 {
		delete(r.handles, submissionID)
		return
	}
	r.handles[submissionID] = left
}

func (r *runRegistry) snapshot(submissionID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.handles[submissionID])
}
