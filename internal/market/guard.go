package market

import "sync/atomic"

// guard is a non-blocking reentrancy lock. A second enter while held fails
// instead of waiting.
type guard struct {
	entered atomic.Bool
}

func (g *guard) enter() bool {
	return g.entered.CompareAndSwap(false, true)
}

func (g *guard) exit() {
	g.entered.Store(false)
}

// Busy reports whether a transaction is in flight.
func (e *Engine) Busy() bool {
	return e.guard.entered.Load()
}
