package cache

// Codec lets the cache stay ignorant of what a node actually looks like.
// The tree/node layer supplies one implementation that knows how to
// serialize its own node type to bytes and back, and how to enumerate a
// node's child proxies (to compute the "oldest" rule and to know which
// children a destroyed proxy releases).
//
// This mirrors the decoupling a path-based trie database keeps between
// its disk layer (which knows nothing about account/storage trie
// semantics) and the trie package itself: the cache is a generic
// node-proxy lifecycle manager, not a B-tree.
type Codec interface {
	// Height returns the height recorded in an in-memory node.
	Height(node interface{}) int

	// ChildProxies returns the child proxies referenced by an interior
	// node's entries, in entry order. Returns nil for a leaf.
	ChildProxies(node interface{}) []*Proxy

	// Encode serializes node to its on-disk payload. Every child proxy
	// returned by ChildProxies must already have an offset: children are
	// always forwarded to disk before their parent.
	Encode(node interface{}) ([]byte, error)

	// Decode parses payload (read at the given height) back into a node,
	// using lookup to resolve child offsets into child proxies — this is
	// precisely cache.Lookup, threaded through so the node package need
	// not import cache.
	Decode(payload []byte, height int, lookup func(offset, oldest uint64, height int) *Proxy) (interface{}, error)
}
