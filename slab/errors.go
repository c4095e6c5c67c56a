package slab

import "errors"

// Error taxonomy: I/O failures and format failures are surfaced to the
// caller of the triggering operation.
var (
	// ErrDirMissing is returned by Open when dir does not exist and
	// create is false.
	ErrDirMissing = errors.New("slab: directory missing and create=false")

	// ErrInvalidHeader is returned when a slab file's first record is not
	// a well-formed 'S' header.
	ErrInvalidHeader = errors.New("slab: invalid slab header")

	// ErrBadTag is returned when a record's tag byte is not one of
	// 'S', 'N', 'R'.
	ErrBadTag = errors.New("slab: bad tag at offset")

	// ErrTagMismatch is returned by ReadAt when the record found at the
	// requested logical offset does not carry the expected tag.
	ErrTagMismatch = errors.New("slab: tag mismatch at offset")

	// ErrShortRead is returned when a record is truncated: the tag,
	// length, or payload bytes run out before the record is complete.
	ErrShortRead = errors.New("slab: EOF mid-record")

	// ErrNoSuchOffset is returned by ReadAt when no slab covers the
	// requested logical offset.
	ErrNoSuchOffset = errors.New("slab: no slab covers offset")

	// ErrLocked is returned by Open when another process already holds
	// the directory's advisory lock.
	ErrLocked = errors.New("slab: store already locked by another process")
)
