// Package policy defines the pluggable per-tree behavior the aggregate
// B-tree core treats as opaque: key ordering, value aggregation, and
// key/value serialization. The core never inspects a key or value byte
// directly; it only calls back into the policy.
package policy

import "io"

// Policy binds one named tree to its key/value types and the rules the
// core needs to keep the tree ordered, aggregated, and durable.
//
// less, agg and the serialize/deserialize pair are exactly the
// "opaque to the core" callbacks: the callbacks through which the core
// defers all key/value-specific behavior. MinSize and MaxSize are the
// fixed per-policy fanout constants; implementations
// must keep MaxSize >= 2*MinSize-1 so that a node overflowing MaxSize can
// always split into two nodes that each satisfy MinSize.
type Policy interface {
	// Less reports whether a sorts strictly before b.
	Less(a, b []byte) bool

	// Agg folds v into acc and returns the new accumulator. Agg must be
	// associative, and the aggregate of a single value must equal that
	// value — i.e. Agg(Zero(), v) == v for the fold's identity semantics
	// to hold at leaves.
	Agg(acc, v []byte) []byte

	// Zero returns the identity element folded at an empty range.
	Zero() []byte

	// SerializeKV writes k and v to out in the policy's own wire format.
	SerializeKV(out io.Writer, k, v []byte) error

	// DeserializeKV reads one (key, value) pair from in.
	DeserializeKV(in io.Reader) (k, v []byte, err error)

	// MinSize is the minimum number of entries a non-root node may carry.
	MinSize() int

	// MaxSize is the maximum number of entries any node may carry before
	// it must split. Must be >= 2*MinSize()-1.
	MaxSize() int
}

// Pred is a monotone predicate over a running aggregate, used by
// Tree.AccumulateUntil. Monotone means: once Pred(acc) is true for some
// acc, it remains true for every acc' reachable by folding in more
// values from the same walk.
type Pred func(acc []byte) bool
