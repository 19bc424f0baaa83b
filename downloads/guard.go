package downloads

import "sync"

// Guard tracks which artifact identifiers currently have a download in
// flight and guarantees at most one concurrent fetch per identifier. It is an
// instantiated object injected where needed, so independent orchestrators
// never share hidden state.
type Guard struct {
	mu       sync.Mutex
	inflight map[string]struct{}
}

// NewGuard creates an empty download guard
func NewGuard() *Guard {
	return &Guard{
		inflight: make(map[string]struct{}),
	}
}

// Begin marks the artifact id as in flight and returns true, unless a fetch
// for that id is already in flight, in which case it returns false without
// mutating anything.
func (g *Guard) Begin(artifactID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.inflight[artifactID]; ok {
		return false
	}
	g.inflight[artifactID] = struct{}{}
	return true
}

// End unconditionally clears the in-flight marking for the artifact id. Every
// Begin that returned true must be paired with a deferred End so a failed
// fetch never leaves an id permanently blocked.
func (g *Guard) End(artifactID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.inflight, artifactID)
}

// InFlight reports whether a fetch for the artifact id is currently in flight
func (g *Guard) InFlight(artifactID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.inflight[artifactID]
	return ok
}
