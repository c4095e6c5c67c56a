// Package assert enforces invariant checks classified as programmer
// errors: an impossible proxy state transition, a node failing its shape
// or aggregate validation. These are never expected to trigger in a
// correct build; when they do, the process terminates rather than
// continuing on corrupted internal state, the same policy applied via
// panic in diskLayer.markStale.
package assert

import "github.com/aggregatedb/abtree/log"

// That terminates the process via log.Crit if cond is false.
func That(cond bool, msg string, ctx ...interface{}) {
	if !cond {
		log.Crit("invariant violated: "+msg, ctx...)
	}
}
