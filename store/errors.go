package store

import "errors"

// Error taxonomy for the multi-tree layer.
var (
	// ErrUnknownTree names a tree that was never attached in this store
	// instance. Attach creates unknown names on first use, so no function
	// in this package returns it.
	ErrUnknownTree = errors.New("store: unknown tree name")

	// ErrNoMark is returned by Revert when Mark has never been called.
	ErrNoMark = errors.New("store: revert with no prior mark")
)
