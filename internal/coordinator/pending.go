package coordinator

import (
	"sync"

	"github.com/wilsonzlin/aero/proxy/screenshare-signaling/internal/identity"
)

// pendingViewers maps a sharer's connection to the one viewer waiting for
// its next offer.
//
// A second stream request for the same sharer before that offer arrives
// replaces the first (last writer wins). The replaced viewer is never told;
// it has to request again. Queueing competing viewers is a known gap.
type pendingViewers struct {
	mu sync.Mutex
	m  map[identity.ConnectionID]identity.ConnectionID
}

func newPendingViewers() *pendingViewers {
	return &pendingViewers{m: make(map[identity.ConnectionID]identity.ConnectionID)}
}

// Set records viewer as waiting on sharer and returns the viewer it
// replaced, if any.
func (p *pendingViewers) Set(sharer, viewer identity.ConnectionID) (identity.ConnectionID, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	prev, ok := p.m[sharer]
	p.m[sharer] = viewer
	return prev, ok
}

// Take returns and removes the viewer waiting on sharer.
func (p *pendingViewers) Take(sharer identity.ConnectionID) (identity.ConnectionID, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	viewer, ok := p.m[sharer]
	if ok {
		delete(p.m, sharer)
	}
	return viewer, ok
}

func (p *pendingViewers) Peek(sharer identity.ConnectionID) (identity.ConnectionID, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	viewer, ok := p.m[sharer]
	return viewer, ok
}

// Forget drops every entry keyed by conn and every entry waiting with conn
// as the viewer. It returns the number of entries removed.
func (p *pendingViewers) Forget(conn identity.ConnectionID) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for sharer, viewer := range p.m {
		if sharer == conn || viewer == conn {
			delete(p.m, sharer)
			n++
		}
	}
	return n
}

func (p *pendingViewers) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.m)
}
