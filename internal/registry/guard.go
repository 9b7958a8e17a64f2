package registry

import "sync"

// Guard enforces at-most-one in-flight operation per key via atomic
// check-and-set. One instance keyed by position id serializes closes between
// the feed's mirror path and the polling scheduler; another keyed by asset
// serializes buys, so two concurrent observers can never both see "nothing
// in flight".
type Guard struct {
	mu       sync.Mutex
	inFlight map[string]struct{}
}

// NewGuard creates an empty Guard.
func NewGuard() *Guard {
	return &Guard{inFlight: make(map[string]struct{})}
}

// TryAcquire marks the key as in flight and returns true, or returns false
// when an operation is already in flight and the caller must skip.
func (g *Guard) TryAcquire(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, held := g.inFlight[key]; held {
		return false
	}
	g.inFlight[key] = struct{}{}
	return true
}

// Release clears the in-flight mark. It must be called on every exit path of
// the guarded operation, success or failure.
func (g *Guard) Release(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.inFlight, key)
}

// Held reports whether an operation is currently in flight for the key.
func (g *Guard) Held(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, held := g.inFlight[key]
	return held
}
