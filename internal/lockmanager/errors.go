package lockmanager

import (
	"github.com/cockroachdb/errors"
)

// Error provides constant error strings to the driver functions.
type Error string

func (e Error) Error() string { return string(e) }

// Constant errors.
// Rule of thumb, all errors start with a small letter and end with no full stop.
const (
	ErrLockTimeout   = Error("lock timed out")
	ErrDeadlock      = Error("lock request would deadlock")
	ErrInvalidResult = Error("invalid lock result")
	ErrUnknownMode   = Error("unknown lock mode")
)

// invariant panics with an assertion failure if cond does not hold. The
// lock manager has no way to recover from a broken internal invariant.
func invariant(cond bool, format string, args ...interface{}) {
	if !cond {
		panic(errors.AssertionFailedf(format, args...))
	}
}
