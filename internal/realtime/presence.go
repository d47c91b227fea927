package realtime

import (
	"slices"
	"sync"
)

// Presence is the set of support staff currently connected. A staff member
// with several sessions stays online until the last one disconnects.
type Presence struct {
	mu       sync.Mutex
	sessions map[int64]int
}

func NewPresence() *Presence {
	return &Presence{sessions: make(map[int64]int)}
}

// Add records a session for id and reports whether id just came online.
func (p *Presence) Add(id int64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sessions[id]++
	return p.sessions[id] == 1
}

// Remove drops a session for id and reports whether id just went offline.
func (p *Presence) Remove(id int64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	n, ok := p.sessions[id]
	if !ok {
		return false
	}
	if n <= 1 {
		delete(p.sessions, id)
		return true
	}
	p.sessions[id] = n - 1
	return false
}

// Snapshot returns a sorted copy of the online ids.
func (p *Presence) Snapshot() []int64 {
	p.mu.Lock()
	ids := make([]int64, 0, len(p.sessions))
	for id := range p.sessions {
		ids = append(ids, id)
	}
	p.mu.Unlock()

	slices.Sort(ids)
	return ids
}
