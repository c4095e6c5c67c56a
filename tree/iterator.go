package tree

import (
	"github.com/aggregatedb/abtree/cache"
	"github.com/aggregatedb/abtree/node"
	"github.com/aggregatedb/abtree/policy"
)

// frame is one level of an Iterator's descent stack: frame[0] is the
// root, frame[i+1].proxy == frame[i].node.Entries[frame[i].idx].Child.
// The proxy is kept pinned for as long as it is on the stack.
type frame struct {
	proxy *cache.Proxy
	node  *node.Node
	idx   int
}

// Iterator walks a Tree's entries in key order, holding a pin on every
// node along its current path (released as the path changes, and by
// Close). This generalizes the original's biter<Policy> stack-of-
// (node, index) cursor from raw node pointers to pinned cache proxies.
type Iterator struct {
	c      *cache.Cache
	p      policy.Policy
	root   *cache.Proxy
	height int
	stack  []frame
}

func newIterator(c *cache.Cache, p policy.Policy, root *cache.Proxy, height int) *Iterator {
	return &Iterator{c: c, p: p, root: root, height: height, stack: make([]frame, 0, height)}
}

func (it *Iterator) pinPush(proxy *cache.Proxy) (*node.Node, error) {
	if err := it.c.Pin(proxy); err != nil {
		return nil, err
	}
	n := proxy.Node().(*node.Node)
	it.stack = append(it.stack, frame{proxy: proxy, node: n})
	return n, nil
}

func (it *Iterator) release() {
	for _, f := range it.stack {
		it.c.Unpin(f.proxy)
	}
	it.stack = it.stack[:0]
}

// Close releases every pin this iterator holds. Safe to call more than
// once, and on a zero Iterator.
func (it *Iterator) Close() { it.release() }

// Valid reports whether the iterator currently refers to an entry.
func (it *Iterator) Valid() bool {
	return len(it.stack) == it.height && it.height > 0 && it.stack[0].idx != it.stack[0].node.Size()
}

// Key returns the current entry's key. Valid must be true.
func (it *Iterator) Key() []byte { return it.leaf().node.Entries[it.leaf().idx].Key }

// Value returns the current entry's value. Valid must be true.
func (it *Iterator) Value() []byte { return it.leaf().node.Entries[it.leaf().idx].Val }

func (it *Iterator) leaf() frame { return it.stack[len(it.stack)-1] }

// SetBegin positions it at the smallest key.
func (it *Iterator) SetBegin() error {
	it.release()
	if it.height == 0 {
		return nil
	}
	proxy := it.root
	for {
		n, err := it.pinPush(proxy)
		if err != nil {
			it.release()
			return err
		}
		it.stack[len(it.stack)-1].idx = 0
		if n.Height == 0 {
			return nil
		}
		proxy = n.Entries[0].Child
	}
}

// SetEnd positions it one past the last entry.
func (it *Iterator) SetEnd() {
	it.release()
}

// Find positions it at key k if present, or at the end otherwise.
func (it *Iterator) Find(k []byte) error {
	if err := it.LowerBound(k); err != nil {
		return err
	}
	if it.Valid() && !it.p.Less(it.Key(), k) && !it.p.Less(k, it.Key()) {
		return nil
	}
	it.release()
	return nil
}

// LowerBound positions it at the first entry whose key is >= k.
func (it *Iterator) LowerBound(k []byte) error { return it.seek(k, false) }

// UpperBound positions it at the first entry whose key is > k.
func (it *Iterator) UpperBound(k []byte) error { return it.seek(k, true) }

func (it *Iterator) seek(k []byte, strictlyGreater bool) error {
	it.release()
	if it.height == 0 {
		return nil
	}
	proxy := it.root
	for {
		n, err := it.pinPush(proxy)
		if err != nil {
			it.release()
			return err
		}
		cur := &it.stack[len(it.stack)-1]
		if n.Height == 0 {
			if strictlyGreater {
				cur.idx = n.UpperBound(it.p, k)
			} else {
				cur.idx = n.LowerBound(it.p, k)
			}
			if cur.idx == n.Size() {
				return it.ascendAndDescendLeftmost()
			}
			return nil
		}
		cur.idx = n.FindChild(it.p, k)
		proxy = n.Entries[cur.idx].Child
	}
}

// ascendAndDescendLeftmost moves past the current (exhausted) position
// by walking up until a level has room to advance, then back down its
// leftmost path. Shared by Increment and by seek's "ran off the end of
// this leaf" case.
func (it *Iterator) ascendAndDescendLeftmost() error {
	cur := len(it.stack) - 1
	for it.stack[cur].idx == it.stack[cur].node.Size() {
		it.c.Unpin(it.stack[cur].proxy)
		if cur == 0 {
			it.stack = it.stack[:0]
			return nil
		}
		it.stack = it.stack[:cur]
		cur--
		it.stack[cur].idx++
	}
	for cur+1 < it.height {
		parent := it.stack[cur]
		childProxy := parent.node.Entries[parent.idx].Child
		if _, err := it.pinPush(childProxy); err != nil {
			return err
		}
		cur++
	}
	return nil
}

// ascendAndDescendRightmost is Decrement's mirror image.
func (it *Iterator) ascendAndDescendRightmost() error {
	cur := len(it.stack) - 1
	for it.stack[cur].idx == 0 {
		it.c.Unpin(it.stack[cur].proxy)
		if cur == 0 {
			it.stack = it.stack[:0]
			return nil
		}
		it.stack = it.stack[:cur]
		cur--
	}
	it.stack[cur].idx--
	for cur+1 < it.height {
		parent := it.stack[cur]
		childProxy := parent.node.Entries[parent.idx].Child
		n, err := it.pinPush(childProxy)
		if err != nil {
			return err
		}
		it.stack[len(it.stack)-1].idx = n.Size() - 1
		cur++
	}
	return nil
}

// Increment advances to the next entry. Valid must be true beforehand.
func (it *Iterator) Increment() error {
	cur := len(it.stack) - 1
	it.stack[cur].idx++
	return it.ascendAndDescendLeftmost()
}

// Decrement moves to the previous entry. If the iterator was at the end
// (invalid, empty stack), Decrement moves to the last entry instead,
// mirroring biter::decrement's end-1 behavior.
func (it *Iterator) Decrement() error {
	if len(it.stack) == 0 {
		return it.setRBegin()
	}
	return it.ascendAndDescendRightmost()
}

// AccumulateUntil advances the iterator, folding each visited entry's
// value into total via p.Agg, stopping just before pred(total) would
// become true or the iterator reaches end (whichever comes first). It
// runs in time proportional to the number of distinct subtrees touched,
// not the number of entries visited: whenever an entire child subtree's
// cached aggregate can be folded in without yet satisfying pred, the
// walk skips straight past it rather than descending — the same trick
// biter::accumulate_until uses, generalized from raw node pointers to
// pinned proxies. end may be nil, meaning "the end of the tree".
func (it *Iterator) AccumulateUntil(total []byte, end *Iterator, p policy.Policy, pred policy.Pred) ([]byte, error) {
	if !it.Valid() {
		return total, nil
	}
	hasEnd := end != nil && len(end.stack) > 0

	level := len(it.stack) - 1
	for level >= 0 {
		n := it.stack[level].node
		limit := n.Size()
		if hasEnd && level < len(end.stack) && it.stack[level].proxy == end.stack[level].proxy {
			limit = end.stack[level].idx
		}
		for it.stack[level].idx != limit {
			candidate := p.Agg(append([]byte(nil), total...), n.Entries[it.stack[level].idx].Val)
			if pred(candidate) {
				goto descend
			}
			total = candidate
			it.stack[level].idx++
		}
		if it.stack[level].idx != n.Size() {
			break
		}
		it.c.Unpin(it.stack[level].proxy)
		if level == 0 {
			it.stack = it.stack[:0]
			return total, nil
		}
		it.stack = it.stack[:level]
		level--
		it.stack[level].idx++
	}

descend:
	for level+1 < it.height {
		parent := it.stack[level]
		childProxy := parent.node.Entries[parent.idx].Child
		if _, err := it.pinPush(childProxy); err != nil {
			return total, err
		}
		level++
		limit := it.stack[level].node.Size()
		if hasEnd && level < len(end.stack) && it.stack[level].proxy == end.stack[level].proxy {
			limit = end.stack[level].idx
		}
		for it.stack[level].idx != limit {
			candidate := p.Agg(append([]byte(nil), total...), it.stack[level].node.Entries[it.stack[level].idx].Val)
			if pred(candidate) {
				break
			}
			total = candidate
			it.stack[level].idx++
		}
	}
	return total, nil
}

func (it *Iterator) setRBegin() error {
	if it.height == 0 {
		return nil
	}
	proxy := it.root
	for {
		n, err := it.pinPush(proxy)
		if err != nil {
			it.release()
			return err
		}
		it.stack[len(it.stack)-1].idx = n.Size() - 1
		if n.Height == 0 {
			return nil
		}
		proxy = n.Entries[n.Size()-1].Child
	}
}
