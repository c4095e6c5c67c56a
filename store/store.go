// Package store implements a multi-tree commit layer: N named trees
// bound to one shared cache.Cache and one shared slab.Store, with
// mark/revert/sync providing an atomic commit boundary over the whole
// named-tree set. This plays the role a trie database plays over a
// path-based disk layer: one durable backing store, many logical views
// over it.
package store

import (
	"fmt"
	"sync"

	"github.com/aggregatedb/abtree/cache"
	"github.com/aggregatedb/abtree/log"
	"github.com/aggregatedb/abtree/node"
	"github.com/aggregatedb/abtree/policy"
	"github.com/aggregatedb/abtree/slab"
	"github.com/aggregatedb/abtree/tree"
	"golang.org/x/sync/errgroup"
)

// Options configures a Store's underlying slab store and cache.
type Options struct {
	Slab  slab.Options
	Cache cache.Options
}

// Store binds any number of named trees to one cache and one slab store.
// All structural mutation of the name -> Tree map, and every mark/revert/
// sync call, is serialized by Store's own lock (the "mark lock"); the
// trees themselves remain independently lockable and are not held by
// Store during ordinary Get/Set/Erase traffic.
type Store struct {
	mu sync.Mutex

	slab        *slab.Store
	cache       *cache.Cache
	codecPolicy policy.Policy

	trees     map[string]*tree.Tree
	recovered map[string]rootEntry // names seen in the last durable root record but not yet Attach'd this process

	marked    map[string]rootEntry
	haveMark  bool

	log *log.Logger
}

// Open opens (or creates) a store at dir. codecPolicy determines the
// on-disk wire format (SerializeKV/DeserializeKV, Agg, Zero) shared by
// every tree this store will ever hold; individual trees may still use
// their own Policy value for ordering via Attach, provided it remains
// wire-compatible with codecPolicy (same key/value encoding).
func Open(dir string, create bool, codecPolicy policy.Policy, opts Options) (*Store, error) {
	sl, err := slab.Open(dir, create, opts.Slab)
	if err != nil {
		return nil, err
	}
	c := cache.New(sl, node.Codec{Policy: codecPolicy}, opts.Cache)
	s := &Store{
		slab:        sl,
		cache:       c,
		codecPolicy: codecPolicy,
		trees:       make(map[string]*tree.Tree),
		recovered:   make(map[string]rootEntry),
		log:         log.Root.With("store"),
	}

	if off, ok := sl.RootOffset(); ok {
		payload, err := sl.ReadAt(off, slab.TagRoot)
		if err != nil {
			return nil, fmt.Errorf("store: reading root record: %w", err)
		}
		entries, err := decodeRoots(payload)
		if err != nil {
			return nil, fmt.Errorf("store: decoding root record: %w", err)
		}
		for _, e := range entries {
			s.recovered[e.Name] = e
		}
	}
	return s, nil
}

// Attach returns the named tree, creating it (empty, or recovered from
// the last durable root record) on first use, and re-applying p as its
// ordering/aggregation policy either way.
func (s *Store) Attach(name string, p policy.Policy) *tree.Tree {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.trees[name]; ok {
		t.SetPolicy(p)
		return t
	}

	var t *tree.Tree
	if e, ok := s.recovered[name]; ok {
		t = tree.Open(s.cache, p, e.Offset, e.Oldest, e.Height, e.Size)
		delete(s.recovered, name)
	} else {
		t = tree.New(s.cache, p)
	}
	s.trees[name] = t
	return t
}

// Names returns every currently attached tree's name, in no particular
// order.
func (s *Store) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.trees))
	for name := range s.trees {
		out = append(out, name)
	}
	return out
}

// Cache exposes the store's shared cache, for cmd/abtreectl's stat/verify
// subcommands.
func (s *Store) Cache() *cache.Cache { return s.cache }

// Mark snapshots the current (name -> root/height/size) state of every
// attached tree into the store's mark set. It writes no root record; a
// tree whose root is still unwritten has the shared cache flushed (by
// Tree.RootInfo) so that its root has an offset to record.
func (s *Store) Mark() {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := make(map[string]rootEntry, len(s.trees)+len(s.recovered))
	// Carry forward any tree this process has never Attach'd: otherwise a
	// Sync after Mark would silently drop it from the new root record,
	// even though nothing about it actually changed.
	for name, e := range s.recovered {
		snapshot[name] = e
	}
	for name, t := range s.trees {
		off, oldest, height, size, ok := t.RootInfo()
		if !ok {
			snapshot[name] = rootEntry{Name: name}
			continue
		}
		snapshot[name] = rootEntry{Name: name, Offset: off, Oldest: oldest, Height: height, Size: size}
	}
	s.marked = snapshot
	s.haveMark = true
}

// Revert restores every attached tree to the state captured by the last
// Mark, purely in memory (no disk I/O, no mutation of anything already
// durable). Returns ErrNoMark if Mark was never called.
func (s *Store) Revert() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.haveMark {
		return ErrNoMark
	}
	for name, t := range s.trees {
		e, ok := s.marked[name]
		if !ok {
			t.Clear()
			continue
		}
		var restored *tree.Tree
		if e.Size == 0 {
			restored = tree.New(s.cache, policyOf(t))
		} else {
			restored = tree.Open(s.cache, policyOf(t), e.Offset, e.Oldest, e.Height, e.Size)
		}
		t.Swap(restored)
		// After the swap, restored holds t's entire pre-revert subtree
		// (root and every descendant), now otherwise unreferenced: release
		// it rather than leaking it.
		restored.Clear()
	}
	return nil
}

// policyOf recovers the policy.Policy a tree is currently using, so
// Revert can construct a replacement tree.Tree with the same ordering
// semantics. Exposed via Tree itself rather than tracked separately here,
// since Store already delegates every other policy concern to Attach.
func policyOf(t *tree.Tree) policy.Policy { return t.Policy() }

// Sync makes the last Mark durable: flushes every reachable unwritten
// node across the whole shared cache, writes a single 'R' record
// describing every marked tree's root, then truncates any slab strictly
// older than the oldest node still reachable from that record. Returns
// ErrNoMark if Mark was never called.
func (s *Store) Sync() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.haveMark {
		return ErrNoMark
	}
	marked := s.marked

	if err := s.cache.Flush(); err != nil {
		return fmt.Errorf("store: flushing before sync: %w", err)
	}

	entries := make([]rootEntry, 0, len(marked))
	minOldest := ^uint64(0)
	for _, e := range marked {
		entries = append(entries, e)
		if e.Size > 0 && e.Oldest < minOldest {
			minOldest = e.Oldest
		}
	}

	payload := encodeRoots(entries)
	if _, err := s.slab.WriteRoot(payload); err != nil {
		return fmt.Errorf("store: writing root record: %w", err)
	}

	if minOldest != ^uint64(0) {
		if err := s.slab.ClearBefore(minOldest); err != nil {
			return fmt.Errorf("store: truncating slabs: %w", err)
		}
	}
	return nil
}

// VerifyAll runs tree.Tree.CheckInvariants concurrently across every
// attached tree, fanned out with errgroup, and returns the first
// violation found across any of them (if any). Each tree's check is a
// pure pinning walk with no cross-tree shared mutable state beyond the
// cache's own internally-synchronized bookkeeping, so the trees verify
// safely in parallel — this is cmd/abtreectl verify's multi-tree entry
// point.
func (s *Store) VerifyAll() error {
	s.mu.Lock()
	trees := make(map[string]*tree.Tree, len(s.trees))
	for name, t := range s.trees {
		trees[name] = t
	}
	s.mu.Unlock()

	g := new(errgroup.Group)
	for name, t := range trees {
		name, t := name, t
		g.Go(func() error {
			if err := t.CheckInvariants(); err != nil {
				return fmt.Errorf("tree %q: %w", name, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// Close flushes nothing implicitly (callers must Sync first if they want
// durability) and releases the underlying slab store's directory lock.
func (s *Store) Close() error {
	return s.slab.Close()
}
