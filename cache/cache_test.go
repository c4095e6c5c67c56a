package cache

import (
	"encoding/binary"
	"testing"

	"github.com/aggregatedb/abtree/slab"
	"github.com/stretchr/testify/require"
)

// leafNode is a minimal test-only node: a single opaque payload with no
// children, used to exercise the cache's lifecycle without depending on
// the node package (which depends on cache).
type leafNode struct {
	payload []byte
}

type testCodec struct{}

func (testCodec) Height(n interface{}) int { return 0 }

func (testCodec) ChildProxies(n interface{}) []*Proxy { return nil }

func (testCodec) Encode(n interface{}) ([]byte, error) {
	return n.(*leafNode).payload, nil
}

func (testCodec) Decode(payload []byte, height int, lookup func(uint64, uint64, int) *Proxy) (interface{}, error) {
	cp := make([]byte, len(payload))
	copy(cp, payload)
	return &leafNode{payload: cp}, nil
}

func openTestCache(t *testing.T, opts Options) (*Cache, *slab.Store) {
	t.Helper()
	dir := t.TempDir()
	s, err := slab.Open(dir, true, slab.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return New(s, testCodec{}, opts), s
}

func payloadFor(i int) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, uint64(i))
	return b
}

func TestNewNodeStartsUnwritten(t *testing.T) {
	c, _ := openTestCache(t, Options{})
	p, err := c.NewNode(0, &leafNode{payload: payloadFor(1)})
	require.NoError(t, err)
	require.Equal(t, StateUnwritten, p.State())
	st := c.Stats()
	require.Equal(t, 1, st.Unwritten)
}

func TestFlushOneMovesToCached(t *testing.T) {
	c, _ := openTestCache(t, Options{})
	p, err := c.NewNode(0, &leafNode{payload: payloadFor(1)})
	require.NoError(t, err)

	flushed, err := c.FlushOne()
	require.NoError(t, err)
	require.True(t, flushed)
	require.Equal(t, StateCached, p.State())
	off, ok := p.Offset()
	require.True(t, ok)
	require.Equal(t, off, p.Oldest())
}

func TestNewNodeOverflowFlushesInline(t *testing.T) {
	c, _ := openTestCache(t, Options{MaxUnwritten: 2})
	for i := 0; i < 5; i++ {
		_, err := c.NewNode(0, &leafNode{payload: payloadFor(i)})
		require.NoError(t, err)
	}
	st := c.Stats()
	require.LessOrEqual(t, st.Unwritten, 2)
}

func TestPinLoadsUnloadedProxy(t *testing.T) {
	c, s := openTestCache(t, Options{})
	p, err := c.NewNode(0, &leafNode{payload: payloadFor(42)})
	require.NoError(t, err)
	_, err = c.FlushOne()
	require.NoError(t, err)
	off, _ := p.Offset()

	// Simulate reopening: look the proxy up fresh by offset only.
	c2 := New(s, testCodec{}, Options{})
	p2 := c2.Lookup(off, off, 0)
	require.Equal(t, StateUnloaded, p2.State())

	require.NoError(t, c2.Pin(p2))
	require.Equal(t, StateCached, p2.State())
	node := p2.Node().(*leafNode)
	require.Equal(t, payloadFor(42), node.payload)
	c2.Unpin(p2)
}

func TestUnpinEvictsOverLRUCapacity(t *testing.T) {
	c, s := openTestCache(t, Options{MaxLRU: 1})
	var offs []uint64
	for i := 0; i < 3; i++ {
		p, err := c.NewNode(0, &leafNode{payload: payloadFor(i)})
		require.NoError(t, err)
		_, err = c.FlushOne()
		require.NoError(t, err)
		off, _ := p.Offset()
		offs = append(offs, off)
	}

	c2 := New(s, testCodec{}, Options{MaxLRU: 1})
	var proxies []*Proxy
	for _, off := range offs {
		p := c2.Lookup(off, off, 0)
		require.NoError(t, c2.Pin(p))
		proxies = append(proxies, p)
	}
	for _, p := range proxies {
		c2.Unpin(p)
	}
	st := c2.Stats()
	require.LessOrEqual(t, st.LRU, 1)
}

func TestDecToZeroDestroysUnloadedProxy(t *testing.T) {
	c, s := openTestCache(t, Options{})
	p, err := c.NewNode(0, &leafNode{payload: payloadFor(7)})
	require.NoError(t, err)
	_, err = c.FlushOne()
	require.NoError(t, err)
	off, _ := p.Offset()

	c2 := New(s, testCodec{}, Options{})
	p2 := c2.Lookup(off, off, 0)
	c2.Dec(p2)
	st := c2.Stats()
	require.Equal(t, 0, st.Resident)
	require.Equal(t, 0, st.OldestLen)
}

func TestCleanOneCompactsAndClears(t *testing.T) {
	c, s := openTestCache(t, Options{})
	var proxies []*Proxy
	for i := 0; i < 4; i++ {
		p, err := c.NewNode(0, &leafNode{payload: payloadFor(i)})
		require.NoError(t, err)
		proxies = append(proxies, p)
	}
	require.NoError(t, c.Flush())

	did, err := c.CleanOne()
	require.NoError(t, err)
	require.True(t, did)

	for _, p := range proxies {
		require.Equal(t, StateCached, p.State())
		off, ok := p.Offset()
		require.True(t, ok)
		got, err := s.ReadAt(off, slab.TagNode)
		require.NoError(t, err)
		require.NotEmpty(t, got)
	}
}

func TestCleanOneNoopOnEmptyCache(t *testing.T) {
	c, _ := openTestCache(t, Options{})
	did, err := c.CleanOne()
	require.NoError(t, err)
	require.False(t, did)
}
