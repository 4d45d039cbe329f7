package monitor

import "sync"

// guardSet marks orders that are mid-execution so a burst of ticks cannot
// fill the same order twice. Membership is checked and taken in one step
// under the lock.
type guardSet struct {
	mu   sync.Mutex
	busy map[string]struct{}
}

func newGuardSet() *guardSet {
	return &guardSet{busy: make(map[string]struct{})}
}

func (g *guardSet) tryAcquire(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, taken := g.busy[id]; taken {
		return false
	}
	g.busy[id] = struct{}{}
	return true
}

func (g *guardSet) release(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.busy, id)
}
