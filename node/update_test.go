package node

import (
	"testing"

	"github.com/aggregatedb/abtree/cache"
	"github.com/aggregatedb/abtree/slab"
	"github.com/stretchr/testify/require"
)

// harness is a minimal single-tree driver over node.Update, playing the
// role tree.Tree will play in full: tracking root/height/size and
// applying the top-level singular/empty/split transitions Update's
// Result values demand of a caller.
type harness struct {
	t      *testing.T
	p      sumPolicy
	s      *slab.Store
	c      *cache.Cache
	root   *cache.Proxy
	height int
	size   int
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	s, err := slab.Open(dir, true, slab.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	p := newSumPolicy()
	c := cache.New(s, Codec{Policy: p}, cache.Options{})
	return &harness{t: t, p: p, s: s, c: c}
}

func alwaysSet(v uint64) Updater {
	return func(_ []byte, _ bool) ([]byte, bool, bool) {
		return fromU64(v), true, true
	}
}

func insertOnly(v uint64) Updater {
	return func(cur []byte, exists bool) ([]byte, bool, bool) {
		if exists {
			return nil, true, false
		}
		return fromU64(v), true, true
	}
}

func alwaysErase() Updater {
	return func(_ []byte, _ bool) ([]byte, bool, bool) {
		return nil, false, true
	}
}

func (h *harness) update(k uint64, u Updater) bool {
	h.t.Helper()
	key := fromU64(k)
	if h.root == nil {
		v, exists, changed := u(nil, false)
		_ = v
		if !changed || !exists {
			return false
		}
		leaf := NewLeaf(key, v)
		p, err := h.c.NewNode(0, leaf)
		require.NoError(h.t, err)
		h.root = p
		h.height = 1
		h.size = 1
		return true
	}

	r, newSelf, overflow, _, err := Update(h.c, h.p, h.root, nil, key, u)
	require.NoError(h.t, err)
	oldRoot := h.root
	switch r {
	case ResultNop:
		return false
	case ResultModify, ResultInsert, ResultErase:
		p, err := h.c.NewNode(newSelf.Height, newSelf)
		require.NoError(h.t, err)
		h.c.Dec(oldRoot)
		h.root = p
		if r == ResultInsert {
			h.size++
		} else if r == ResultErase {
			h.size--
		}
	case ResultSplit:
		leftProxy, err := h.c.NewNode(newSelf.Height, newSelf)
		require.NoError(h.t, err)
		rightProxy, err := h.c.NewNode(overflow.Height, overflow)
		require.NoError(h.t, err)
		h.c.Dec(oldRoot)
		root := NewInterior(h.height, h.p, leftProxy, rightProxy,
			newSelf.Entries[0].Key, newSelf.Total, overflow.Entries[0].Key, overflow.Total)
		rp, err := h.c.NewNode(root.Height, root)
		require.NoError(h.t, err)
		h.root = rp
		h.height++
		h.size++
	case ResultSingular:
		child := newSelf.Entries[0].Child
		h.c.Inc(child)
		h.c.Dec(oldRoot)
		h.root = child
		h.height--
		h.size--
	case ResultEmpty:
		h.c.Dec(oldRoot)
		h.root = nil
		h.height = 0
		h.size = 0
	}
	return true
}

func (h *harness) totalValue() uint64 {
	require.NoError(h.t, h.c.Pin(h.root))
	defer h.c.Unpin(h.root)
	return u64(h.root.Node().(*Node).Total)
}

func TestInsertGrowsAndAggregates(t *testing.T) {
	h := newHarness(t)
	var want uint64
	for i := uint64(1); i <= 30; i++ {
		ok := h.update(i, alwaysSet(i*10))
		require.True(t, ok)
		want += i * 10
	}
	require.Equal(t, 30, h.size)
	require.Equal(t, want, h.totalValue())
	require.Greater(t, h.height, 1) // 30 entries with max fanout 4 forces multiple levels
}

func TestInsertOnlyRejectsDuplicate(t *testing.T) {
	h := newHarness(t)
	require.True(t, h.update(5, insertOnly(1)))
	require.False(t, h.update(5, insertOnly(2)))
	require.Equal(t, uint64(1), h.totalValue())
}

func TestEraseShrinksAndEmptiesTree(t *testing.T) {
	h := newHarness(t)
	for i := uint64(1); i <= 12; i++ {
		require.True(t, h.update(i, alwaysSet(i)))
	}
	for i := uint64(1); i <= 12; i++ {
		ok := h.update(i, alwaysErase())
		require.True(t, ok)
	}
	require.Equal(t, 0, h.size)
	require.Nil(t, h.root)
}

func TestEraseNonexistentIsNop(t *testing.T) {
	h := newHarness(t)
	require.True(t, h.update(1, alwaysSet(1)))
	require.False(t, h.update(2, alwaysErase()))
	require.Equal(t, 1, h.size)
}

func TestRoundTripThroughDisk(t *testing.T) {
	h := newHarness(t)
	var want uint64
	for i := uint64(1); i <= 20; i++ {
		require.True(t, h.update(i, alwaysSet(i)))
		want += i
	}
	require.NoError(t, h.c.Flush())
	off, ok := h.root.Offset()
	require.True(t, ok)

	// A fresh Cache over the same slab store simulates reopening the tree
	// in a new process: nothing is resident, everything is reached by
	// walking offsets recorded on disk.
	c2 := cache.New(h.s, Codec{Policy: h.p}, cache.Options{})
	rootProxy := c2.Lookup(off, off, h.height-1)
	require.NoError(t, c2.Pin(rootProxy))
	defer c2.Unpin(rootProxy)
	require.Equal(t, want, u64(rootProxy.Node().(*Node).Total))
}
