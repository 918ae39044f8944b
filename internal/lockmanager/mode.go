package lockmanager

import "fmt"

// Mode is a lock mode. Intent modes (IS, IX) announce that finer grained
// resources below are going to be locked in S or X.
type Mode uint8

// Lock modes.
const (
	ModeNone Mode = iota
	ModeIS
	ModeIX
	ModeS
	ModeX

	// ModeCount is the number of lock modes, ModeNone included.
	ModeCount
)

var modeNames = [ModeCount]string{"NONE", "IS", "IX", "S", "X"}

var legacyModeNames = [ModeCount]string{"", "r", "w", "R", "W"}

// String returns the name of the mode.
func (m Mode) String() string {
	if m >= ModeCount {
		return fmt.Sprintf("Mode(%d)", uint8(m))
	}
	return modeNames[m]
}

// LegacyName returns the single letter name used in lock statistics.
func (m Mode) LegacyName() string {
	if m >= ModeCount {
		return ""
	}
	return legacyModeNames[m]
}

// ParseMode returns the mode with the given name.
func ParseMode(name string) (Mode, error) {
	for m, n := range modeNames {
		if n == name {
			return Mode(m), nil
		}
	}
	return ModeNone, ErrUnknownMode
}

// Mask returns the bit of the mode in a set of modes.
func (m Mode) Mask() uint32 {
	return 1 << m
}

// conflictTable maps a mode to the set of modes it conflicts with.
var conflictTable = [ModeCount]uint32{
	ModeNone: 0,
	ModeIS:   ModeX.Mask(),
	ModeIX:   ModeS.Mask() | ModeX.Mask(),
	ModeS:    ModeIX.Mask() | ModeX.Mask(),
	ModeX:    ModeS.Mask() | ModeX.Mask() | ModeIS.Mask() | ModeIX.Mask(),
}

const intentModes = 1<<ModeIS | 1<<ModeIX

// Conflicts returns true if newMode conflicts with any mode in the set.
func Conflicts(newMode Mode, existingModes uint32) bool {
	return conflictTable[newMode]&existingModes != 0
}

// IsModeCovered returns true if holding covering implies holding mode, that
// is, mode conflicts with nothing covering does not conflict with.
func IsModeCovered(mode, covering Mode) bool {
	return conflictTable[covering]|conflictTable[mode] == conflictTable[covering]
}

// IsSharedMode returns true for IS and S.
func IsSharedMode(m Mode) bool {
	return m == ModeIS || m == ModeS
}

// Result is the outcome of a lock manager or Locker call.
type Result uint8

// Lock results.
const (
	ResultOK Result = iota
	ResultWaiting
	ResultTimeout
	ResultDeadlock
	ResultInvalid
)

var resultNames = [...]string{"LOCK_OK", "LOCK_WAITING", "LOCK_TIMEOUT", "LOCK_DEADLOCK", "LOCK_INVALID"}

// String returns the name of the result.
func (r Result) String() string {
	if int(r) >= len(resultNames) {
		return fmt.Sprintf("Result(%d)", uint8(r))
	}
	return resultNames[r]
}

// Err maps the failure results to their errors and the rest to nil.
func (r Result) Err() error {
	switch r {
	case ResultTimeout:
		return ErrLockTimeout
	case ResultDeadlock:
		return ErrDeadlock
	case ResultInvalid:
		return ErrInvalidResult
	}
	return nil
}
