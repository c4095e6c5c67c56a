// Package node implements the persistent B-tree node type: an ordered run
// of (key, value) entries, optionally paired with a child proxy per
// entry, plus a cached monoidal aggregate of every entry's value. This is
// a direct generalization of a trie node shape (a fixed-arity ordered
// entry list with a cached subtree digest) to an arbitrary min/max
// fanout and an arbitrary aggregate function supplied by a policy.Policy.
package node

import (
	"github.com/aggregatedb/abtree/cache"
	"github.com/aggregatedb/abtree/policy"
)

// Entry is one (key, value) pair. Child is non-nil on interior nodes: it
// is the proxy for the subtree whose first key is Key and whose
// aggregate is Val.
type Entry struct {
	Key   []byte
	Val   []byte
	Child *cache.Proxy
}

// Node is one persistent B-tree node. Height 0 is a leaf; at height > 0,
// every entry carries a Child proxy.
type Node struct {
	Height  int
	Entries []Entry
	Total   []byte // policy.Agg-folded over every entry's Val; policy.Zero() if Entries is empty
}

// NewLeaf builds a brand-new single-entry leaf, the seed of a one-element
// tree (mirrors bnode's single-key constructor).
func NewLeaf(k, v []byte) *Node {
	return &Node{
		Height:  0,
		Entries: []Entry{{Key: k, Val: v}},
		Total:   v,
	}
}

// NewInterior builds a new root at the given height out of two child
// proxies, used when a split propagates all the way past the old root.
func NewInterior(height int, p policy.Policy, n1, n2 *cache.Proxy, k1, t1, k2, t2 []byte) *Node {
	total := append([]byte(nil), t1...)
	total = p.Agg(total, t2)
	return &Node{
		Height: height,
		Entries: []Entry{
			{Key: k1, Val: t1, Child: n1},
			{Key: k2, Val: t2, Child: n2},
		},
		Total: total,
	}
}

// Clone returns a shallow copy of n whose Entries slice is independently
// mutable (copy-on-write: bnode::copy). Every copied Child proxy is a
// fresh owning reference shared with n itself, so Clone bumps each one's
// refcount via c.Inc — mirroring the implicit inc() a bnode_ptr's copy
// assignment performs when bnode::copy assigns m_ptrs[i] into the clone.
func Clone(c *cache.Cache, n *Node) *Node {
	out := &Node{Height: n.Height, Total: append([]byte(nil), n.Total...)}
	out.Entries = make([]Entry, len(n.Entries))
	copy(out.Entries, n.Entries)
	if out.Height != 0 {
		for _, e := range out.Entries {
			if e.Child != nil {
				c.Inc(e.Child)
			}
		}
	}
	return out
}

// Size is the number of entries.
func (n *Node) Size() int { return len(n.Entries) }

// LowerBound returns the index of the first entry whose key is not less
// than k.
func (n *Node) LowerBound(p policy.Policy, k []byte) int {
	lo, hi := 0, len(n.Entries)
	for lo < hi {
		mid := (lo + hi) / 2
		if p.Less(n.Entries[mid].Key, k) {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

// UpperBound returns the index of the first entry whose key is greater
// than k.
func (n *Node) UpperBound(p policy.Policy, k []byte) int {
	lo, hi := 0, len(n.Entries)
	for lo < hi {
		mid := (lo + hi) / 2
		if p.Less(k, n.Entries[mid].Key) {
			hi = mid
		} else {
			lo = mid + 1
		}
	}
	return lo
}

// Find returns the index of the entry with key k, or (-1, false).
func (n *Node) Find(p policy.Policy, k []byte) (int, bool) {
	i := n.LowerBound(p, k)
	if i != len(n.Entries) && !p.Less(k, n.Entries[i].Key) {
		return i, true
	}
	return -1, false
}

// findByKey returns the index of the child subtree that would contain k:
// the last entry whose key is <= k (or 0 if no entry's key is <= k).
func (n *Node) findByKey(p policy.Policy, k []byte) int {
	i := n.UpperBound(p, k)
	if i != 0 {
		i--
	}
	return i
}

// FindChild is findByKey exported for tree.Tree's point lookups, which
// need the same "which child subtree holds k" logic without going
// through the full Update machinery.
func (n *Node) FindChild(p policy.Policy, k []byte) int { return n.findByKey(p, k) }

func (n *Node) insertAt(i int, e Entry) {
	n.Entries = append(n.Entries, Entry{})
	copy(n.Entries[i+1:], n.Entries[i:])
	n.Entries[i] = e
}

// InsertEntry inserts e in sorted position by key (used for propagating
// a newly split-off sibling node up into its parent).
func (n *Node) InsertEntry(p policy.Policy, e Entry) {
	n.insertAt(n.LowerBound(p, e.Key), e)
}

func (n *Node) eraseAt(i int) {
	n.Entries = append(n.Entries[:i], n.Entries[i+1:]...)
}

func (n *Node) computeTotal(p policy.Policy) []byte {
	if len(n.Entries) == 0 {
		return p.Zero()
	}
	total := append([]byte(nil), n.Entries[0].Val...)
	for _, e := range n.Entries[1:] {
		total = p.Agg(total, e.Val)
	}
	return total
}

func (n *Node) recomputeTotal(p policy.Policy) {
	n.Total = n.computeTotal(p)
}

// maybeSplit splits n in half if it has grown past the policy's max
// fanout, returning the newly created right sibling (or nil if n still
// fits). Mirrors bnode::maybe_split.
func maybeSplit(p policy.Policy, n *Node) *Node {
	if n.Size() <= p.MaxSize() {
		n.recomputeTotal(p)
		return nil
	}
	keep := n.Size() / 2
	right := &Node{Height: n.Height}
	right.Entries = append(right.Entries, n.Entries[keep:]...)
	n.Entries = n.Entries[:keep]
	n.recomputeTotal(p)
	right.recomputeTotal(p)
	return right
}
