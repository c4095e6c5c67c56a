package tree

import (
	"bytes"
	"fmt"

	"github.com/aggregatedb/abtree/cache"
	"github.com/aggregatedb/abtree/node"
	"github.com/aggregatedb/abtree/policy"
)

// CheckInvariants walks the entire tree and verifies the structural
// invariants every persistent B-tree node must hold: fanout within
// [MinSize, MaxSize] (root excepted, mirroring bnode::validate), height
// consistent with depth, every interior entry's key equal to its child's
// first key, and every interior entry's value equal to its child's
// recomputed total. It is the validation/fsck pass a cmd/abtreectl
// verify subcommand runs before trusting a store on disk.
func (t *Tree) CheckInvariants() error {
	t.mu.Lock()
	root, height, size := t.root, t.height, t.size
	t.mu.Unlock()

	if root == nil {
		if height != 0 || size != 0 {
			return fmt.Errorf("tree: empty root but height=%d size=%d", height, size)
		}
		return nil
	}
	count, err := checkNode(t.cache, t.policy, root, height-1, true)
	if err != nil {
		return err
	}
	if count != size {
		return fmt.Errorf("tree: recorded size %d does not match counted entries %d", size, count)
	}
	return nil
}

func checkNode(c *cache.Cache, p policy.Policy, proxy *cache.Proxy, goalHeight int, isRoot bool) (int, error) {
	if err := c.Pin(proxy); err != nil {
		return 0, err
	}
	defer c.Unpin(proxy)
	n := proxy.Node().(*node.Node)

	minSize := p.MinSize()
	if isRoot {
		if goalHeight == 0 {
			minSize = 1
		} else {
			minSize = 2
		}
	}
	if n.Size() < minSize || n.Size() > p.MaxSize() {
		return 0, fmt.Errorf("tree: node at height %d has size %d, outside [%d,%d]", n.Height, n.Size(), minSize, p.MaxSize())
	}
	if n.Height != goalHeight {
		return 0, fmt.Errorf("tree: node height %d does not match expected %d", n.Height, goalHeight)
	}

	if n.Height == 0 {
		for i := 1; i < n.Size(); i++ {
			if !p.Less(n.Entries[i-1].Key, n.Entries[i].Key) {
				return 0, fmt.Errorf("tree: leaf keys out of order at index %d", i)
			}
		}
		return n.Size(), nil
	}

	total := 0
	for i, e := range n.Entries {
		if e.Child == nil {
			return 0, fmt.Errorf("tree: nil child on interior node at index %d", i)
		}
		sub, err := checkNode(c, p, e.Child, goalHeight-1, false)
		if err != nil {
			return 0, err
		}
		total += sub
		if err := c.Pin(e.Child); err != nil {
			return 0, err
		}
		child := e.Child.Node().(*node.Node)
		childKey, childTotal := child.Entries[0].Key, append([]byte(nil), child.Entries[0].Val...)
		for _, ce := range child.Entries[1:] {
			childTotal = p.Agg(childTotal, ce.Val)
		}
		c.Unpin(e.Child)
		if !bytes.Equal(e.Key, childKey) || !bytes.Equal(e.Val, childTotal) {
			return 0, fmt.Errorf("tree: interior entry %d at height %d does not match its child's first key and total", i, n.Height)
		}
		if i > 0 && !p.Less(n.Entries[i-1].Key, e.Key) {
			return 0, fmt.Errorf("tree: interior keys out of order at index %d", i)
		}
	}
	return total, nil
}
