package render

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// guard admits one batch at a time and spaces accepted batches by at least
// the configured minimum interval, measured between batch starts.
type guard struct {
	mu       sync.Mutex
	inFlight bool
	limiter  *rate.Limiter
	now      func() time.Time
}

func newGuard(minInterval time.Duration, now func() time.Time) *guard {
	limit := rate.Inf
	if minInterval > 0 {
		limit = rate.Every(minInterval)
	}
	return &guard{limiter: rate.NewLimiter(limit, 1), now: now}
}

// acquire reports whether a new batch may start. A rejected call changes
// nothing, including the limiter's token budget.
func (g *guard) acquire() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.inFlight {
		return false
	}
	if !g.limiter.AllowN(g.now(), 1) {
		return false
	}
	g.inFlight = true
	return true
}

func (g *guard) release() {
	g.mu.Lock()
	g.inFlight = false
	g.mu.Unlock()
}

// busy reports whether a batch is currently running.
func (g *guard) busy() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inFlight
}
