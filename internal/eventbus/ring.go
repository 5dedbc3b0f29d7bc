package eventbus

import "sync"

// RecentIDs remembers the last n ids in insertion order.
type RecentIDs struct {
	mu   sync.Mutex
	ids  []string
	set  map[string]struct{}
	next int
}

func NewRecentIDs(n int) *RecentIDs {
	if n <= 0 {
		n = 10000
	}
	return &RecentIDs{
		ids: make([]string, n),
		set: make(map[string]struct{}, n),
	}
}

// Add records id and reports whether it was new. The oldest id is evicted when full.
func (r *RecentIDs) Add(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.set[id]; ok {
		return false
	}
	if old := r.ids[r.next]; old != "" {
		delete(r.set, old)
	}
	r.ids[r.next] = id
	r.set[id] = struct{}{}
	r.next = (r.next + 1) % len(r.ids)
	return true
}

func (r *RecentIDs) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.set)
}
