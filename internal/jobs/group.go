package jobs

import "sync"

// Group tracks long-lived goroutines so shutdown can wait for all of them.
type Group struct {
	mu      sync.Mutex
	entries []*groupEntry
}

type groupEntry struct {
	name string
	done chan struct{}
}

// Go starts fn on a new goroutine and registers it.
func (g *Group) Go(name string, fn func()) {
	e := &groupEntry{name: name, done: make(chan struct{})}
	g.mu.Lock()
	g.entries = append(g.entries, e)
	g.mu.Unlock()

	go func() {
		defer close(e.done)
		fn()
	}()
}

// JoinAll waits for every registered goroutine, most recently registered
// first. Goroutines registered while joining are waited for as well.
func (g *Group) JoinAll() []string {
	var joined []string
	for {
		g.mu.Lock()
		n := len(g.entries)
		if n == 0 {
			g.mu.Unlock()
			return joined
		}
		e := g.entries[n-1]
		g.entries = g.entries[:n-1]
		g.mu.Unlock()

		<-e.done
		joined = append(joined, e.name)
	}
}

// Len returns the number of goroutines not yet joined.
func (g *Group) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.entries)
}
