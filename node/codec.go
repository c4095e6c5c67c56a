package node

import (
	"bytes"
	"fmt"

	"github.com/aggregatedb/abtree/cache"
	"github.com/aggregatedb/abtree/policy"
	"github.com/multiformats/go-varint"
)

// Codec adapts a policy.Policy into a cache.Codec, letting the generic
// cache package serialize and deserialize Node payloads without ever
// importing this package (see cache.Codec's doc comment).
type Codec struct {
	Policy policy.Policy
}

var _ cache.Codec = Codec{}

func (c Codec) Height(n interface{}) int { return n.(*Node).Height }

func (c Codec) ChildProxies(n interface{}) []*cache.Proxy {
	node := n.(*Node)
	if node.Height == 0 {
		return nil
	}
	out := make([]*cache.Proxy, len(node.Entries))
	for i, e := range node.Entries {
		out[i] = e.Child
	}
	return out
}

// Encode writes height, entry count, then each entry's (key, value) pair
// via the policy's own serializer, followed by the child's (offset,
// oldest) pair on interior nodes. Mirrors bnode::serialize.
func (c Codec) Encode(n interface{}) ([]byte, error) {
	node := n.(*Node)
	var buf bytes.Buffer
	if _, err := buf.Write(varint.ToUvarint(uint64(node.Height))); err != nil {
		return nil, err
	}
	if _, err := buf.Write(varint.ToUvarint(uint64(len(node.Entries)))); err != nil {
		return nil, err
	}
	for _, e := range node.Entries {
		if err := c.Policy.SerializeKV(&buf, e.Key, e.Val); err != nil {
			return nil, err
		}
		if node.Height != 0 {
			off, ok := e.Child.Offset()
			if !ok {
				return nil, fmt.Errorf("node: encoding parent whose child has no offset yet")
			}
			if _, err := buf.Write(varint.ToUvarint(off)); err != nil {
				return nil, err
			}
			if _, err := buf.Write(varint.ToUvarint(e.Child.Oldest())); err != nil {
				return nil, err
			}
		}
	}
	return buf.Bytes(), nil
}

// Decode parses a payload written by Encode. lookup resolves a child's
// (offset, oldest) pair into its (possibly already-resident) proxy; it is
// threaded through rather than imported, since cache.Cache.Lookup is the
// implementation and node must not import cache's concrete Cache type
// here for construction (only its Proxy and Codec types).
func (c Codec) Decode(payload []byte, height int, lookup func(offset, oldest uint64, height int) *cache.Proxy) (interface{}, error) {
	r := bytes.NewReader(payload)
	gotHeight, err := varint.ReadUvarint(r)
	if err != nil {
		return nil, err
	}
	count, err := varint.ReadUvarint(r)
	if err != nil {
		return nil, err
	}
	n := &Node{Height: int(gotHeight), Entries: make([]Entry, 0, count)}
	for i := uint64(0); i < count; i++ {
		k, v, err := c.Policy.DeserializeKV(r)
		if err != nil {
			return nil, err
		}
		e := Entry{Key: k, Val: v}
		if n.Height != 0 {
			off, err := varint.ReadUvarint(r)
			if err != nil {
				return nil, err
			}
			oldest, err := varint.ReadUvarint(r)
			if err != nil {
				return nil, err
			}
			e.Child = lookup(off, oldest, n.Height-1)
		}
		n.Entries = append(n.Entries, e)
	}
	n.recomputeTotal(c.Policy)
	return n, nil
}
