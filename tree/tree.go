// Package tree implements the top-level copy-on-write B-tree: the
// root/height/size bookkeeping and the public Get/Set/Erase/iterator API
// built on top of node.Update's single rebalancing primitive. This plays
// the role of btree_base<Policy>.
package tree

import (
	"fmt"
	"sync"

	"github.com/aggregatedb/abtree/cache"
	"github.com/aggregatedb/abtree/log"
	"github.com/aggregatedb/abtree/node"
	"github.com/aggregatedb/abtree/policy"
)

// Tree is one named, persistent, copy-on-write B-tree over a shared
// cache.Cache. The zero-value root (nil) represents an empty tree.
//
// Tree serializes structural mutations with its own mutex; the
// teacher's original is single-threaded at this layer and relies on
// cache.Cache's own lock for the pieces that are actually shared across
// trees (node residency, the write-behind queue). Adding this mutex here
// is this port's one concession to Go's concurrent-by-default model: it
// costs nothing on the common single-writer path and prevents two
// goroutines from racing on the same Tree's root/height/size triplet.
type Tree struct {
	mu sync.Mutex

	cache  *cache.Cache
	policy policy.Policy

	root   *cache.Proxy
	height int
	size   int

	log *log.Logger
}

// New creates an empty tree over cache c using policy p.
func New(c *cache.Cache, p policy.Policy) *Tree {
	return &Tree{cache: c, policy: p, log: log.Root.With("tree")}
}

// Open reconstructs a tree whose root lived at offset off with the given
// height and size (as recorded in a root record by store.Store).
func Open(c *cache.Cache, p policy.Policy, off uint64, oldest uint64, height, size int) *Tree {
	t := New(c, p)
	if size == 0 {
		return t
	}
	t.root = c.Lookup(off, oldest, height-1)
	t.height = height
	t.size = size
	return t
}

// SetPolicy swaps the policy t uses for ordering/aggregation without
// touching its on-disk nodes, letting a store re-attach an already-open
// tree under a new comparator instance — re-attaching may change
// comparator semantics. The new policy must remain wire-compatible with
// whatever policy encoded the tree's existing nodes — SetPolicy does not
// re-encode anything.
func (t *Tree) SetPolicy(p policy.Policy) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.policy = p
}

// Policy returns the policy t currently uses for ordering/aggregation.
func (t *Tree) Policy() policy.Policy {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.policy
}

// Len returns the number of entries in the tree.
func (t *Tree) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.size
}

// Empty reports whether the tree has no entries.
func (t *Tree) Empty() bool { return t.Len() == 0 }

// RootInfo exposes the root proxy's (offset, oldest) pair and the tree's
// height/size, for store.Store to persist as a root record. If the root
// has not been written yet, RootInfo first flushes the cache so that it
// has an offset. ok is false for an empty tree, or if that flush fails.
func (t *Tree) RootInfo() (off, oldest uint64, height, size int, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.root == nil {
		return 0, 0, 0, 0, false
	}
	off, hasOff := t.root.Offset()
	if !hasOff {
		if err := t.cache.Flush(); err != nil {
			t.log.Error("flushing unwritten root failed", "err", err)
			return 0, 0, 0, 0, false
		}
		off, hasOff = t.root.Offset()
	}
	if !hasOff {
		return 0, 0, 0, 0, false
	}
	return off, t.root.Oldest(), t.height, t.size, true
}

// Get returns the value for key k, and whether it was present.
func (t *Tree) Get(k []byte) ([]byte, bool, error) {
	t.mu.Lock()
	root, height := t.root, t.height
	t.mu.Unlock()
	if root == nil {
		return nil, false, nil
	}
	v, found, err := lookupKey(t.cache, t.policy, root, height, k)
	return v, found, err
}

func lookupKey(c *cache.Cache, p policy.Policy, proxy *cache.Proxy, height int, k []byte) ([]byte, bool, error) {
	if err := c.Pin(proxy); err != nil {
		return nil, false, err
	}
	defer c.Unpin(proxy)
	n := proxy.Node().(*node.Node)
	if n.Height == 0 {
		i, ok := n.Find(p, k)
		if !ok {
			return nil, false, nil
		}
		return n.Entries[i].Val, true, nil
	}
	i := n.FindChild(p, k)
	return lookupKey(c, p, n.Entries[i].Child, height-1, k)
}

// update is the shared driver behind Set/InsertIfAbsent/Erase: it runs
// updater against the tree root and applies whichever top-level
// transition node.Update reports (including the ones only a tree root
// can see: growing or shrinking the overall height, or going empty).
func (t *Tree) update(k []byte, u node.Updater) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.root == nil {
		newV, exists, changed := u(nil, false)
		if !changed || !exists {
			return false, nil
		}
		leaf := node.NewLeaf(k, newV)
		p, err := t.cache.NewNode(0, leaf)
		if err != nil {
			return false, err
		}
		t.root = p
		t.height = 1
		t.size = 1
		return true, nil
	}

	r, newSelf, overflow, _, err := node.Update(t.cache, t.policy, t.root, nil, k, u)
	if err != nil {
		return false, err
	}
	if r == node.ResultNop {
		return false, nil
	}
	oldRoot := t.root

	switch r {
	case node.ResultModify:
		p, err := t.cache.NewNode(newSelf.Height, newSelf)
		if err != nil {
			return false, err
		}
		t.cache.Dec(oldRoot)
		t.root = p
	case node.ResultInsert:
		p, err := t.cache.NewNode(newSelf.Height, newSelf)
		if err != nil {
			return false, err
		}
		t.cache.Dec(oldRoot)
		t.root = p
		t.size++
	case node.ResultErase:
		p, err := t.cache.NewNode(newSelf.Height, newSelf)
		if err != nil {
			return false, err
		}
		t.cache.Dec(oldRoot)
		t.root = p
		t.size--
	case node.ResultSplit:
		leftProxy, err := t.cache.NewNode(newSelf.Height, newSelf)
		if err != nil {
			return false, err
		}
		rightProxy, err := t.cache.NewNode(overflow.Height, overflow)
		if err != nil {
			return false, err
		}
		t.cache.Dec(oldRoot)
		newRoot := node.NewInterior(t.height, t.policy, leftProxy, rightProxy,
			newSelf.Entries[0].Key, newSelf.Total, overflow.Entries[0].Key, overflow.Total)
		rp, err := t.cache.NewNode(newRoot.Height, newRoot)
		if err != nil {
			return false, err
		}
		t.root = rp
		t.height++
		t.size++
	case node.ResultSingular:
		child := newSelf.Entries[0].Child
		t.cache.Inc(child)
		t.cache.Dec(oldRoot)
		t.root = child
		t.height--
		t.size--
	case node.ResultEmpty:
		t.cache.Dec(oldRoot)
		t.root = nil
		t.height = 0
		t.size = 0
	default:
		return false, fmt.Errorf("tree: unexpected update result %v", r)
	}

	t.cleanOneLocked()
	return true, nil
}

// cleanOneLocked triggers one step of background compaction after every
// successful mutation, mirroring btree_base::update's call to
// clean_one() at the end of every update. Errors are logged, not
// returned: compaction lagging behind is never a correctness problem,
// only a space one, and the original treats it the same way (clean_one
// has no error channel).
func (t *Tree) cleanOneLocked() {
	_, err := t.cache.CleanOne()
	if err != nil {
		t.log.Error("compaction step failed", "err", err)
	}
}

// Set inserts or overwrites the value for k.
func (t *Tree) Set(k, v []byte) error {
	_, err := t.update(k, func(_ []byte, _ bool) ([]byte, bool, bool) {
		return v, true, true
	})
	return err
}

// InsertIfAbsent inserts (k, v) only if k is not already present,
// reporting whether the insert happened.
func (t *Tree) InsertIfAbsent(k, v []byte) (bool, error) {
	return t.update(k, func(_ []byte, exists bool) ([]byte, bool, bool) {
		if exists {
			return nil, true, false
		}
		return v, true, true
	})
}

// Modify applies fn to the current value of k (if present) and stores
// the result, without changing tree shape. Reports whether k existed.
func (t *Tree) Modify(k []byte, fn func(v []byte) []byte) (bool, error) {
	return t.update(k, func(v []byte, exists bool) ([]byte, bool, bool) {
		if !exists {
			return nil, false, false
		}
		return fn(v), true, true
	})
}

// Erase removes k, reporting whether it was present.
func (t *Tree) Erase(k []byte) (bool, error) {
	return t.update(k, func(_ []byte, exists bool) ([]byte, bool, bool) {
		if !exists {
			return nil, false, false
		}
		return nil, false, true
	})
}

// Clear empties the tree, dropping its root reference.
func (t *Tree) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.root != nil {
		t.cache.Dec(t.root)
	}
	t.root = nil
	t.height = 0
	t.size = 0
}

// Swap exchanges the root/height/size of t and other, an O(1) way to
// replace a tree's entire contents (store.Store.Revert uses this to
// restore a pre-mark snapshot).
func (t *Tree) Swap(other *Tree) {
	if t == other {
		return
	}
	// Always lock in a fixed global order to avoid deadlock between two
	// Swap calls on the same pair in opposite directions. Pointer
	// comparison is stable for the lifetime of both trees.
	first, second := t, other
	if fmt.Sprintf("%p", t) > fmt.Sprintf("%p", other) {
		first, second = other, t
	}
	first.mu.Lock()
	defer first.mu.Unlock()
	second.mu.Lock()
	defer second.mu.Unlock()
	t.root, other.root = other.root, t.root
	t.height, other.height = other.height, t.height
	t.size, other.size = other.size, t.size
}

// Clone returns a new Tree sharing this one's current root: O(1), and
// safe precisely because every node is immutable once written and
// copy-on-write while unwritten (any mutation through either handle
// allocates fresh nodes rather than touching shared ones).
func (t *Tree) Clone() *Tree {
	t.mu.Lock()
	defer t.mu.Unlock()
	clone := New(t.cache, t.policy)
	clone.root = t.root
	clone.height = t.height
	clone.size = t.size
	if t.root != nil {
		t.cache.Inc(t.root)
	}
	return clone
}
