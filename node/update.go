package node

import (
	"github.com/aggregatedb/abtree/cache"
	"github.com/aggregatedb/abtree/policy"
)

// Result classifies what happened to a subtree during an Update call,
// mirroring bnode::update_result.
type Result int

const (
	ResultNop      Result = iota // no change at all
	ResultModify                 // value of an existing key changed
	ResultInsert                 // a new entry was added, no overflow
	ResultErase                  // an entry was removed, no underflow
	ResultSplit                  // node grew past max fanout, split in two
	ResultSteal                  // underflowed, borrowed an entry from a sibling
	ResultMerge                  // underflowed, folded into a sibling entirely
	ResultSingular               // root underflowed to a single child: caller should drop a tree level
	ResultEmpty                  // root underflowed to nothing: tree is now empty
)

// Updater inspects the current value for a key (nil, exists=false if
// absent) and decides the new value. changed=false means leave the tree
// untouched; changed=true with newExists=false means erase; changed=true
// with exists=false, newExists=true means insert; otherwise modify.
type Updater func(v []byte, exists bool) (newV []byte, newExists bool, changed bool)

// Update runs updater against the key k in the subtree rooted at
// selfProxy, returning the outcome and, where relevant, the replacement
// node(s) the caller must wrap in fresh proxies and install in its own
// entry table. peerProxy is selfProxy's sibling at the same height (used
// only if the update underflows selfProxy and it must steal from or
// merge into that sibling); pass nil when selfProxy has none (the tree
// root).
//
// This is the single rebalancing code path backing insert, erase, and
// in-place modify: the caller picks an Updater, Update dispatches to the
// matching case.
func Update(c *cache.Cache, p policy.Policy, selfProxy, peerProxy *cache.Proxy, k []byte, updater Updater) (result Result, newSelf, overflow, peerReplacement *Node, err error) {
	if err := c.Pin(selfProxy); err != nil {
		return ResultNop, nil, nil, nil, err
	}
	self := Clone(c, selfProxy.Node().(*Node))
	c.Unpin(selfProxy)

	if self.Height == 0 {
		return updateLeaf(c, p, self, peerProxy, k, updater)
	}
	return updateInterior(c, p, self, peerProxy, k, updater)
}

func updateLeaf(c *cache.Cache, p policy.Policy, self *Node, peerProxy *cache.Proxy, k []byte, updater Updater) (Result, *Node, *Node, *Node, error) {
	idx, didExist := self.Find(p, k)
	var v []byte
	if didExist {
		v = self.Entries[idx].Val
	}
	newV, exists, changed := updater(v, didExist)
	if !changed || (!didExist && !exists) {
		return ResultNop, nil, nil, nil, nil
	}

	if didExist && !exists {
		self.eraseAt(idx)
		return eraseFixup(c, p, self, peerProxy)
	}
	if !didExist && exists {
		self.InsertEntry(p, Entry{Key: k, Val: newV})
		if right := maybeSplit(p, self); right != nil {
			return ResultSplit, self, right, nil, nil
		}
		return ResultInsert, self, nil, nil, nil
	}
	self.Entries[idx].Val = newV
	self.recomputeTotal(p)
	return ResultModify, self, nil, nil, nil
}

func siblingIndex(i, size int) int {
	if i == size-1 {
		return i - 1
	}
	return i + 1
}

func entryFor(n *Node) Entry {
	return Entry{Key: n.Entries[0].Key, Val: n.Total}
}

func updateInterior(c *cache.Cache, p policy.Policy, self *Node, peerProxy *cache.Proxy, k []byte, updater Updater) (Result, *Node, *Node, *Node, error) {
	i := self.findByKey(p, k)
	pi := siblingIndex(i, self.Size())
	var siblingProxy *cache.Proxy
	if pi >= 0 && pi < self.Size() {
		siblingProxy = self.Entries[pi].Child
	}
	childProxy := self.Entries[i].Child

	r, newChild, overflowChild, peerRepl, err := Update(c, p, childProxy, siblingProxy, k, updater)
	if err != nil {
		return ResultNop, nil, nil, nil, err
	}

	switch r {
	case ResultNop:
		return ResultNop, nil, nil, nil, nil

	case ResultModify, ResultErase, ResultInsert:
		newChildProxy, err := c.NewNode(self.Height-1, newChild)
		if err != nil {
			return ResultNop, nil, nil, nil, err
		}
		c.Dec(childProxy)
		e := entryFor(newChild)
		e.Child = newChildProxy
		self.Entries[i] = e
		self.recomputeTotal(p)
		return r, self, nil, nil, nil

	case ResultSplit:
		newChildProxy, err := c.NewNode(self.Height-1, newChild)
		if err != nil {
			return ResultNop, nil, nil, nil, err
		}
		c.Dec(childProxy)
		e := entryFor(newChild)
		e.Child = newChildProxy
		self.Entries[i] = e

		overflowProxy, err := c.NewNode(self.Height-1, overflowChild)
		if err != nil {
			return ResultNop, nil, nil, nil, err
		}
		oe := entryFor(overflowChild)
		oe.Child = overflowProxy
		self.InsertEntry(p, oe)

		if right := maybeSplit(p, self); right != nil {
			return ResultSplit, self, right, nil, nil
		}
		return ResultInsert, self, nil, nil, nil

	case ResultSteal:
		newPeerProxy, err := c.NewNode(self.Height-1, peerRepl)
		if err != nil {
			return ResultNop, nil, nil, nil, err
		}
		c.Dec(siblingProxy)
		pe := entryFor(peerRepl)
		pe.Child = newPeerProxy
		self.Entries[pi] = pe

		newChildProxy, err := c.NewNode(self.Height-1, newChild)
		if err != nil {
			return ResultNop, nil, nil, nil, err
		}
		c.Dec(childProxy)
		e := entryFor(newChild)
		e.Child = newChildProxy
		self.Entries[i] = e

		self.recomputeTotal(p)
		return ResultErase, self, nil, nil, nil

	case ResultMerge:
		newPeerProxy, err := c.NewNode(self.Height-1, peerRepl)
		if err != nil {
			return ResultNop, nil, nil, nil, err
		}
		c.Dec(siblingProxy)
		pe := entryFor(peerRepl)
		pe.Child = newPeerProxy
		self.Entries[pi] = pe

		c.Dec(childProxy)
		self.eraseAt(i)
		return eraseFixup(c, p, self, peerProxy)

	default:
		return ResultNop, nil, nil, nil, nil
	}
}

// eraseFixup rebalances self after one of its entries was just removed,
// mirroring bnode::erase_fixup. peerProxy is self's own sibling, as
// passed down by self's parent (nil at the tree root).
func eraseFixup(c *cache.Cache, p policy.Policy, self *Node, peerProxy *cache.Proxy) (Result, *Node, *Node, *Node, error) {
	if self.Size() >= p.MinSize() {
		self.recomputeTotal(p)
		return ResultErase, self, nil, nil, nil
	}

	if peerProxy == nil {
		// Root: only ever underflows as the very last erase.
		if self.Size() == 0 {
			return ResultEmpty, self, nil, nil, nil
		}
		self.recomputeTotal(p)
		if self.Height != 0 && self.Size() == 1 {
			return ResultSingular, self, nil, nil, nil
		}
		return ResultErase, self, nil, nil, nil
	}

	if err := c.Pin(peerProxy); err != nil {
		return ResultNop, nil, nil, nil, err
	}
	peer := Clone(c, peerProxy.Node().(*Node))
	c.Unpin(peerProxy)

	if peer.Size() > p.MinSize() {
		pi := 0
		if p.Less(peer.Entries[0].Key, self.Entries[0].Key) {
			pi = peer.Size() - 1
		}
		stolen := peer.Entries[pi]
		self.InsertEntry(p, stolen)
		peer.eraseAt(pi)
		self.recomputeTotal(p)
		peer.recomputeTotal(p)
		return ResultSteal, self, nil, peer, nil
	}

	for _, e := range self.Entries {
		peer.InsertEntry(p, e)
	}
	peer.recomputeTotal(p)
	return ResultMerge, self, nil, peer, nil
}
