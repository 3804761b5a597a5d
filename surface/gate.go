package surface

import "sync"

// A Gate lets drawn canvases through to the surface until it is closed. Once
// Close returns no canvas drawn under the gate will be posted, however late
// its draw finishes.
type Gate struct {
	mu     sync.RWMutex
	closed bool
}

// NewGate creates an open gate.
func NewGate() *Gate {
	return new(Gate)
}

// Close shuts the gate. A post that already got through is waited for; draws
// still running are not.
func (g *Gate) Close() {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()
}

// Closed reports whether Close has been called.
func (g *Gate) Closed() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.closed
}

// enter reports whether a post may go ahead. When it does, leave must be
// called once the post is done. A nil gate is always open.
func (g *Gate) enter() bool {
	if g == nil {
		return true
	}
	g.mu.RLock()
	if g.closed {
		g.mu.RUnlock()
		return false
	}
	return true
}

func (g *Gate) leave() {
	if g != nil {
		g.mu.RUnlock()
	}
}
