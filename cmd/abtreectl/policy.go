package main

import (
	"bytes"
	"io"

	"github.com/aggregatedb/abtree/policy"
	"github.com/multiformats/go-varint"
)

// rawPolicy treats every key and value as an opaque, length-prefixed byte
// string ordered lexicographically. abtreectl has no notion of the
// concrete Policy a given store's caller built it with, so it falls back
// to the simplest possible wire-compatible-in-practice scheme (keys and
// values stay opaque to the core) for read-only inspection. Agg
// concatenates acc and v, a display-only stand-in rather than any
// caller's real aggregate semantics; it is never used to write new
// entries.
//
// MinSize/MaxSize must match the fanout the store was actually built
// with for CheckInvariants to mean anything; abtreectl exposes them as
// flags rather than guessing, since the wire format carries no fanout
// marker of its own.
type rawPolicy struct {
	min, max int
}

var _ policy.Policy = rawPolicy{}

func (p rawPolicy) Less(a, b []byte) bool { return bytes.Compare(a, b) < 0 }

func (p rawPolicy) Agg(acc, v []byte) []byte {
	out := make([]byte, 0, len(acc)+len(v))
	out = append(out, acc...)
	out = append(out, v...)
	return out
}

func (p rawPolicy) Zero() []byte { return nil }

func (p rawPolicy) SerializeKV(out io.Writer, k, v []byte) error {
	if _, err := out.Write(varint.ToUvarint(uint64(len(k)))); err != nil {
		return err
	}
	if _, err := out.Write(k); err != nil {
		return err
	}
	if _, err := out.Write(varint.ToUvarint(uint64(len(v)))); err != nil {
		return err
	}
	_, err := out.Write(v)
	return err
}

func (p rawPolicy) DeserializeKV(in io.Reader) (k, v []byte, err error) {
	br, ok := in.(io.ByteReader)
	if !ok {
		return nil, nil, io.ErrUnexpectedEOF
	}
	klen, err := varint.ReadUvarint(br)
	if err != nil {
		return nil, nil, err
	}
	k = make([]byte, klen)
	if _, err := io.ReadFull(in, k); err != nil {
		return nil, nil, err
	}
	vlen, err := varint.ReadUvarint(br)
	if err != nil {
		return nil, nil, err
	}
	v = make([]byte, vlen)
	if _, err := io.ReadFull(in, v); err != nil {
		return nil, nil, err
	}
	return k, v, nil
}

func (p rawPolicy) MinSize() int { return p.min }
func (p rawPolicy) MaxSize() int { return p.max }
