package locker

import (
	"github.com/cockroachdb/errors"
)

// ErrLockOrder is returned for an acquisition that breaks the lock
// hierarchy.
var ErrLockOrder = errors.New("lock acquired out of order")

func invariant(cond bool, format string, args ...interface{}) {
	if !cond {
		panic(errors.AssertionFailedf(format, args...))
	}
}
