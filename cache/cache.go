// Package cache implements a node-proxy lifecycle: a cache of immutable
// on-disk nodes with three steady states
// (unwritten, cached, unloaded, plus the transient writing/loading),
// pin/refcount-based eviction protection, an LRU over clean resident
// nodes, a bounded write-behind queue, and the clean_one compaction
// procedure.
package cache

import (
	"container/list"
	"fmt"
	"sync"

	"github.com/VictoriaMetrics/fastcache"
	"github.com/aggregatedb/abtree/internal/assert"
	"github.com/aggregatedb/abtree/log"
	"github.com/aggregatedb/abtree/slab"
	"github.com/google/btree"
)

// Options configures a Cache.
type Options struct {
	// MaxUnwritten is the hard cap on the unwritten queue's length;
	// exceeding it triggers an inline flush from NewNode.
	MaxUnwritten int
	// MaxLRU is the soft cap on resident (cached, unpinned) nodes.
	MaxLRU int
	// CleanCacheSize sizes the byte-level clean cache (serialized node
	// payloads keyed by disk offset) sitting below the proxy layer, the
	// same role triedb/pathdb/disklayer.go's cleans *fastcache.Cache
	// plays below its own node cache. Defaults to 32 MiB.
	CleanCacheSize int
}

// Cache owns the proxy indexes and the write-behind queue. One Cache backs
// one Store (slab store) and, in a multi-tree store.Store, every named
// tree shares it.
type Cache struct {
	mu sync.Mutex

	store *slab.Store
	codec Codec
	opts  Options

	unwritten *list.List // *Proxy, FIFO; clean_one pushes to the front
	lru       *list.List // *Proxy, pin-count 0, front = least recently used
	byOffset  map[uint64]*Proxy
	oldestIdx *btree.BTreeG[*Proxy]

	inWrite   bool
	writeCond *sync.Cond

	nextSeq uint64

	// cleans holds serialized node payloads keyed by disk offset, absorbing
	// repeated unloaded -> pin -> read -> unload cycles without re-hitting
	// the slab store. It never needs invalidation: every offset is an
	// immutable, once-written node (a direct consequence of copy-on-write:
	// no offset is ever overwritten in place).
	cleans *fastcache.Cache

	log *log.Logger
	m   *metrics
}

func offsetKey(off uint64) []byte {
	var b [8]byte
	for i := 0; i < 8; i++ {
		b[i] = byte(off >> (8 * i))
	}
	return b[:]
}

func oldestLess(a, b *Proxy) bool {
	if a.oldest != b.oldest {
		return a.oldest < b.oldest
	}
	if a.height != b.height {
		return a.height > b.height // descending height sorts first
	}
	return a.seq < b.seq
}

// New creates a Cache over store, using codec to serialize/deserialize
// node payloads and enumerate child proxies.
func New(store *slab.Store, codec Codec, opts Options) *Cache {
	if opts.MaxUnwritten <= 0 {
		opts.MaxUnwritten = 1024
	}
	if opts.MaxLRU <= 0 {
		opts.MaxLRU = 4096
	}
	if opts.CleanCacheSize <= 0 {
		opts.CleanCacheSize = 32 * 1024 * 1024
	}
	c := &Cache{
		store:     store,
		codec:     codec,
		opts:      opts,
		unwritten: list.New(),
		lru:       list.New(),
		byOffset:  make(map[uint64]*Proxy),
		oldestIdx: btree.NewG(8, oldestLess),
		cleans:    fastcache.New(opts.CleanCacheSize),
		log:       log.Root.With("cache"),
		m:         newMetrics(),
	}
	c.writeCond = sync.NewCond(&c.mu)
	return c
}

func (c *Cache) newProxy() *Proxy {
	c.nextSeq++
	return &Proxy{cache: c, seq: c.nextSeq, cond: sync.NewCond(&c.mu)}
}

// NewNode wraps a freshly built (never-before-seen) in-memory node as an
// unwritten proxy with refcount 1 (the new_node transition). If the
// unwritten queue now exceeds MaxUnwritten, NewNode synchronously flushes
// from the front until it is back within budget, surfacing the first I/O
// error encountered (the unwritten queue is left intact on failure).
func (c *Cache) NewNode(height int, node interface{}) (*Proxy, error) {
	c.mu.Lock()
	p := c.newProxy()
	p.state = StateUnwritten
	p.refCount = 1
	p.node = node
	p.children = c.codec.ChildProxies(node)
	p.height = height
	p.oldest = infOldest
	p.unwrittenElem = c.unwritten.PushBack(p)
	overflow := c.unwritten.Len() > c.opts.MaxUnwritten
	c.mu.Unlock()

	if overflow {
		for {
			c.mu.Lock()
			n := c.unwritten.Len()
			c.mu.Unlock()
			if n <= c.opts.MaxUnwritten {
				break
			}
			flushed, err := c.FlushOne()
			if err != nil {
				return p, err
			}
			if !flushed {
				break
			}
		}
	}
	return p, nil
}

// Lookup returns the proxy for the node at disk offset off, creating an
// unloaded one (registered under both the offset and oldest indexes) if
// none exists yet. Either way the returned proxy's refcount is
// incremented: the caller is expected to be installing a durable
// reference to it (a parent entry, a root, an iterator frame).
func (c *Cache) Lookup(off, oldest uint64, height int) *Proxy {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.byOffset[off]; ok {
		p.refCount++
		return p
	}
	p := c.newProxy()
	p.state = StateUnloaded
	p.refCount = 1
	p.offset = off
	p.hasOffset = true
	p.oldest = oldest
	p.height = height
	c.byOffset[off] = p
	c.oldestIdx.ReplaceOrInsert(p)
	p.inOldestIndex = true
	return p
}

// Inc increments p's refcount: a new owning reference (tree-internal entry,
// root, iterator) now points at p.
func (c *Cache) Inc(p *Proxy) {
	c.mu.Lock()
	p.refCount++
	c.mu.Unlock()
}

// Dec drops one owning reference to p, destroying it once the refcount
// reaches zero (the "dec" transition) — and, on destruction, recursively
// Dec's every child proxy p's node owns, mirroring a bnode_ptr's
// destructor (~bnode_ptr calls dec(), which in turn runs the destructor
// of every bnode_ptr held by the freed node). Without this, a subtree
// shared by two live Tree handles (e.g. via Tree.Clone) would have its
// children silently leaked: nothing would ever drop their refcounts.
func (c *Cache) Dec(p *Proxy) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.decLocked(p)
}

// decLocked assumes c.mu is already held. It recurses into p.children
// directly rather than calling Dec, since Dec would try to reacquire
// c.mu.
func (c *Cache) decLocked(p *Proxy) {
	p.refCount--
	if p.refCount < 0 {
		assert.That(false, "proxy refcount went negative", "offset", p.offset, "state", p.state)
	}
	if p.refCount != 0 {
		return
	}
	assert.That(p.state != StateWriting && p.state != StateLoading,
		"dec to zero while writing/loading", "state", p.state)

	switch p.state {
	case StateUnwritten:
		if p.unwrittenElem != nil {
			c.unwritten.Remove(p.unwrittenElem)
			p.unwrittenElem = nil
		}
		p.node = nil
	case StateCached:
		if p.lruElem != nil {
			c.lru.Remove(p.lruElem)
			p.lruElem = nil
		}
		if p.hasOffset {
			delete(c.byOffset, p.offset)
		}
		p.node = nil
	case StateUnloaded:
		if p.hasOffset {
			delete(c.byOffset, p.offset)
		}
	}
	if p.inOldestIndex {
		c.oldestIdx.Delete(p)
		p.inOldestIndex = false
	}

	children := p.children
	p.children = nil
	for _, child := range children {
		c.decLocked(child)
	}
}

// Pin takes a transient "I am reading this node right now" hold on p,
// loading it from disk first if it is currently unloaded. A concurrent Pin
// of the same unloaded proxy blocks until the in-flight load completes.
func (c *Cache) Pin(p *Proxy) error {
	c.mu.Lock()
	for p.state == StateLoading {
		p.cond.Wait()
	}
	p.pinCount++
	switch p.state {
	case StateCached:
		if p.pinCount == 1 && p.lruElem != nil {
			c.lru.Remove(p.lruElem)
			p.lruElem = nil
		}
		c.mu.Unlock()
		return nil
	case StateUnloaded:
		p.state = StateLoading
		off := p.offset
		height := p.height
		c.mu.Unlock()

		payload, ok := c.cleans.HasGet(nil, offsetKey(off))
		var err error
		if ok {
			c.m.hits.Inc(1)
		} else {
			payload, err = c.store.ReadAt(off, slab.TagNode)
			if err == nil {
				c.cleans.Set(offsetKey(off), payload)
			}
		}
		var node interface{}
		if err == nil {
			node, err = c.codec.Decode(payload, height, c.Lookup)
		}

		c.mu.Lock()
		if err != nil {
			p.pinCount--
			p.state = StateUnloaded
			p.cond.Broadcast()
			c.mu.Unlock()
			return fmt.Errorf("cache: loading node at %d: %w", off, err)
		}
		p.node = node
		p.children = c.codec.ChildProxies(node)
		p.state = StateCached
		p.cond.Broadcast()
		c.mu.Unlock()
		c.m.loads.Inc(1)
		return nil
	default: // unwritten, writing: node already resident in memory
		c.mu.Unlock()
		return nil
	}
}

// Unpin releases a transient hold taken by Pin. Once the pin count drops
// to zero on a cached proxy, it becomes eligible for LRU eviction again.
func (c *Cache) Unpin(p *Proxy) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p.pinCount--
	assert.That(p.pinCount >= 0, "pin count went negative", "offset", p.offset)
	if p.pinCount == 0 && p.state == StateCached {
		p.lruElem = c.lru.PushBack(p)
		c.reduceLRUWhileOverCapacityLocked()
	}
}

// reduceLRUWhileOverCapacityLocked evicts from the LRU head until the
// cache is back within MaxLRU, or the LRU is empty.
func (c *Cache) reduceLRUWhileOverCapacityLocked() {
	for c.lru.Len() > c.opts.MaxLRU {
		front := c.lru.Front()
		c.reduceOneLocked(front.Value.(*Proxy))
	}
}

// reduceOneLocked is "reduce_lru": drop the in-memory node and mark the
// proxy unloaded; if nothing else references it either, destroy it
// outright.
func (c *Cache) reduceOneLocked(p *Proxy) {
	assert.That(p.state == StateCached, "reduce_lru on non-cached proxy", "state", p.state)
	assert.That(p.pinCount == 0, "reduce_lru on a pinned proxy")
	if p.lruElem != nil {
		c.lru.Remove(p.lruElem)
		p.lruElem = nil
	}
	p.node = nil
	p.state = StateUnloaded
	c.m.evictions.Inc(1)
	if p.refCount == 0 {
		if p.hasOffset {
			delete(c.byOffset, p.offset)
		}
		if p.inOldestIndex {
			c.oldestIdx.Delete(p)
			p.inOldestIndex = false
		}
	}
}

// Stats is a point-in-time snapshot of queue/index sizes, useful for tests
// and for cmd/abtreectl's inspection subcommands.
type Stats struct {
	Unwritten int
	LRU       int
	Resident  int // byOffset entries, cached or unloaded
	OldestLen int
}

func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Unwritten: c.unwritten.Len(),
		LRU:       c.lru.Len(),
		Resident:  len(c.byOffset),
		OldestLen: c.oldestIdx.Len(),
	}
}
