package slab

import (
	"fmt"
	"io"

	"github.com/multiformats/go-varint"
)

// Record tags.
const (
	TagSlabHeader byte = 'S'
	TagNode       byte = 'N'
	TagRoot       byte = 'R'
)

// writeRecord appends tag|varint(len(payload))|payload to w and returns the
// number of bytes written. Varint framing is delegated to go-varint rather
// than something the core hand-rolls.
func writeRecord(w io.Writer, tag byte, payload []byte) (int64, error) {
	if _, err := w.Write([]byte{tag}); err != nil {
		return 0, err
	}
	lenBuf := varint.ToUvarint(uint64(len(payload)))
	if _, err := w.Write(lenBuf); err != nil {
		return 0, err
	}
	n := int64(1 + len(lenBuf))
	if len(payload) > 0 {
		if _, err := w.Write(payload); err != nil {
			return n, err
		}
		n += int64(len(payload))
	}
	return n, nil
}

// readRecord reads one tag|varint-length|payload record from r, returning
// the record and the number of bytes it occupied.
func readRecord(r io.Reader) (tag byte, payload []byte, n int64, err error) {
	var tagBuf [1]byte
	if _, err = io.ReadFull(r, tagBuf[:]); err != nil {
		return 0, nil, 0, err
	}
	tag = tagBuf[0]
	if tag != TagSlabHeader && tag != TagNode && tag != TagRoot {
		return tag, nil, 1, fmt.Errorf("%w: 0x%x", ErrBadTag, tag)
	}
	length, err := varint.ReadUvarint(r)
	if err != nil {
		return tag, nil, 1, fmt.Errorf("%w: reading length: %v", ErrShortRead, err)
	}
	n = int64(1 + varint.UvarintSize(length))
	if length > 0 {
		payload = make([]byte, length)
		if _, err = io.ReadFull(r, payload); err != nil {
			return tag, nil, n, fmt.Errorf("%w: reading payload: %v", ErrShortRead, err)
		}
	}
	n += int64(length)
	return tag, payload, n, nil
}
