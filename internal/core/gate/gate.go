package gate

import (
	"context"
	"sync"
)

// Gate is a counting semaphore whose capacity can change at runtime.
// Lowering the limit never preempts holders; it only delays new admissions
// until enough permits have been released.
type Gate struct {
	mu      sync.Mutex
	limit   int
	active  int
	changed chan struct{}
}

// New creates a gate with the given number of permits (minimum 1)
func New(limit int) *Gate {
	if limit < 1 {
		limit = 1
	}
	return &Gate{limit: limit, changed: make(chan struct{})}
}

// Acquire blocks until a permit is available or ctx is done
func (g *Gate) Acquire(ctx context.Context) error {
	for {
		g.mu.Lock()
		if g.active < g.limit {
			g.active++
			g.mu.Unlock()
			return nil
		}
		changed := g.changed
		g.mu.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// TryAcquire takes a permit without blocking
func (g *Gate) TryAcquire() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.active < g.limit {
		g.active++
		return true
	}
	return false
}

// Release returns a permit
func (g *Gate) Release() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.active > 0 {
		g.active--
	}
	g.broadcast()
}

// SetLimit changes the number of permits (minimum 1)
func (g *Gate) SetLimit(limit int) {
	if limit < 1 {
		limit = 1
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.limit = limit
	g.broadcast()
}

// Limit returns the configured number of permits
func (g *Gate) Limit() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.limit
}

// Active returns the number of permits currently held
func (g *Gate) Active() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.active
}

// broadcast wakes every waiter; callers must hold g.mu
func (g *Gate) broadcast() {
	close(g.changed)
	g.changed = make(chan struct{})
}
