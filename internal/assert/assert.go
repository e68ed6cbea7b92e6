// Package assert provides debug-mode invariant checks that panic rather than
// return an error. They are reserved for conditions that indicate a bug in
// the storage layer itself (e.g. operating on an unpinned page), never for
// reachable runtime conditions like a missing key or a full pool.
package assert

import "fmt"

// That panics with msg (formatted with args) if cond is false.
func That(cond bool, msg string, args ...any) {
	if !cond {
		panic(fmt.Sprintf(msg, args...))
	}
}
