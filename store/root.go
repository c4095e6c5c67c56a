package store

import (
	"bytes"
	"fmt"
	"io"

	"github.com/multiformats/go-varint"
)

// rootEntry is one named tree's root pointer as persisted in a single
// 'R' record's multi-tree root record payload:
// count:varint | (name_len | name_bytes | node_offset | node_oldest |
// height | size) × count.
type rootEntry struct {
	Name   string
	Offset uint64
	Oldest uint64
	Height int
	Size   int
}

func encodeRoots(entries []rootEntry) []byte {
	var buf bytes.Buffer
	buf.Write(varint.ToUvarint(uint64(len(entries))))
	for _, e := range entries {
		buf.Write(varint.ToUvarint(uint64(len(e.Name))))
		buf.WriteString(e.Name)
		buf.Write(varint.ToUvarint(e.Offset))
		buf.Write(varint.ToUvarint(e.Oldest))
		buf.Write(varint.ToUvarint(uint64(e.Height)))
		buf.Write(varint.ToUvarint(uint64(e.Size)))
	}
	return buf.Bytes()
}

func decodeRoots(payload []byte) ([]rootEntry, error) {
	r := bytes.NewReader(payload)
	count, err := varint.ReadUvarint(r)
	if err != nil {
		return nil, fmt.Errorf("store: reading root record count: %w", err)
	}
	entries := make([]rootEntry, 0, count)
	for i := uint64(0); i < count; i++ {
		nameLen, err := varint.ReadUvarint(r)
		if err != nil {
			return nil, fmt.Errorf("store: reading root entry %d name length: %w", i, err)
		}
		name := make([]byte, nameLen)
		if _, err := io.ReadFull(r, name); err != nil {
			return nil, fmt.Errorf("store: reading root entry %d name: %w", i, err)
		}
		off, err := varint.ReadUvarint(r)
		if err != nil {
			return nil, fmt.Errorf("store: reading root entry %d offset: %w", i, err)
		}
		oldest, err := varint.ReadUvarint(r)
		if err != nil {
			return nil, fmt.Errorf("store: reading root entry %d oldest: %w", i, err)
		}
		height, err := varint.ReadUvarint(r)
		if err != nil {
			return nil, fmt.Errorf("store: reading root entry %d height: %w", i, err)
		}
		size, err := varint.ReadUvarint(r)
		if err != nil {
			return nil, fmt.Errorf("store: reading root entry %d size: %w", i, err)
		}
		entries = append(entries, rootEntry{
			Name:   string(name),
			Offset: off,
			Oldest: oldest,
			Height: int(height),
			Size:   int(size),
		})
	}
	return entries, nil
}
