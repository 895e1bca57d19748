package coord

import "sync/atomic"

// Guard allows one order attempt in flight per process
type Guard struct {
	busy atomic.Bool
}

// TryEnter claims the guard; false means an attempt is already running
func (g *Guard) TryEnter() bool {
	return g.busy.CompareAndSwap(false, true)
}

// Leave clears the guard
func (g *Guard) Leave() {
	g.busy.Store(false)
}

// Busy reports whether an attempt is in flight
func (g *Guard) Busy() bool {
	return g.busy.Load()
}
