package cache

import (
	"container/list"
	"sync"
)

// State is one of the three steady (unwritten, cached, unloaded) plus two
// transient (writing, loading) states a Proxy moves through.
type State int

const (
	StateUnwritten State = iota
	StateWriting
	StateCached
	StateUnloaded
	StateLoading
)

func (s State) String() string {
	switch s {
	case StateUnwritten:
		return "unwritten"
	case StateWriting:
		return "writing"
	case StateCached:
		return "cached"
	case StateUnloaded:
		return "unloaded"
	case StateLoading:
		return "loading"
	default:
		return "?"
	}
}

// infOldest represents "+infinity": the oldest value of a proxy that has
// never been written.
const infOldest = ^uint64(0)

// Proxy is the durable identity handle for one logical node.
// All fields are protected by the owning Cache's mutex, except where noted.
type Proxy struct {
	cache *Cache

	// seq is an allocation-order tiebreaker standing in for "address" in
	// the oldest-index ordering (oldest, -height, address) — see
	// DESIGN.md's note on using an arena index in place of pointer
	// identity.
	seq uint64

	state    State
	refCount int
	pinCount int

	node   interface{} // opaque in-memory node payload; nil when unloaded
	height int

	// children is the set of child proxies p's node payload owns,
	// populated once via codec.ChildProxies at the moment p.node is first
	// materialized (NewNode, or Pin's decode-success path) and never
	// cleared on eviction, so Dec can always walk it to release a
	// destroyed proxy's own owning references without re-reading the
	// payload from disk. nil for leaves.
	children []*Proxy

	offset    uint64
	hasOffset bool

	oldest uint64

	cond *sync.Cond // signaled on state transitions away from loading

	unwrittenElem *list.Element
	lruElem       *list.Element
	inOldestIndex bool
}

// State returns the proxy's current lifecycle state.
func (p *Proxy) State() State {
	p.cache.mu.Lock()
	defer p.cache.mu.Unlock()
	return p.state
}

// Height returns the proxy's node height (0 for a leaf).
func (p *Proxy) Height() int { return p.height }

// Offset returns the proxy's on-disk offset and whether it has been
// assigned one yet (it has not, while unwritten or writing).
func (p *Proxy) Offset() (uint64, bool) {
	p.cache.mu.Lock()
	defer p.cache.mu.Unlock()
	return p.offset, p.hasOffset
}

// Oldest returns the proxy's cached "oldest reachable offset" value.
func (p *Proxy) Oldest() uint64 {
	p.cache.mu.Lock()
	defer p.cache.mu.Unlock()
	return p.oldest
}

// Node returns the in-memory node payload. Callers must have pinned the
// proxy (or otherwise know the node is resident, e.g. because it is
// unwritten/writing) before calling this.
func (p *Proxy) Node() interface{} {
	p.cache.mu.Lock()
	defer p.cache.mu.Unlock()
	return p.node
}

// SetNode replaces the in-memory node payload. Used by the tree layer
// after it has copy-on-write mutated an unwritten node in place (still
// privately owned, so no other reader can observe the change).
func (p *Proxy) SetNode(n interface{}) {
	p.cache.mu.Lock()
	p.node = n
	p.cache.mu.Unlock()
}
