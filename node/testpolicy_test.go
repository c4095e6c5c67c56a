package node

import (
	"encoding/binary"
	"io"

	"github.com/aggregatedb/abtree/policy"
	"github.com/multiformats/go-varint"
)

// sumPolicy is a minimal test policy: uint64 keys, uint64 values, sum
// aggregate. Used only by this package's own tests (the cache package's
// tests use their own leafNode instead); this one exercises the real
// serialization path end to end.
type sumPolicy struct {
	min, max int
}

var _ policy.Policy = sumPolicy{}

func u64(b []byte) uint64 { return binary.BigEndian.Uint64(b) }

func fromU64(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func (p sumPolicy) Less(a, b []byte) bool { return u64(a) < u64(b) }

func (p sumPolicy) Agg(acc, v []byte) []byte { return fromU64(u64(acc) + u64(v)) }

func (p sumPolicy) Zero() []byte { return fromU64(0) }

func (p sumPolicy) SerializeKV(out io.Writer, k, v []byte) error {
	if _, err := out.Write(varint.ToUvarint(u64(k))); err != nil {
		return err
	}
	_, err := out.Write(varint.ToUvarint(u64(v)))
	return err
}

func (p sumPolicy) DeserializeKV(in io.Reader) (k, v []byte, err error) {
	br, ok := in.(io.ByteReader)
	if !ok {
		return nil, nil, io.ErrUnexpectedEOF
	}
	kv, err := varint.ReadUvarint(br)
	if err != nil {
		return nil, nil, err
	}
	vv, err := varint.ReadUvarint(br)
	if err != nil {
		return nil, nil, err
	}
	return fromU64(kv), fromU64(vv), nil
}

func (p sumPolicy) MinSize() int { return p.min }
func (p sumPolicy) MaxSize() int { return p.max }

func newSumPolicy() sumPolicy { return sumPolicy{min: 2, max: 4} }
