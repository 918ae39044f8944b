package locker

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/SystemBuilders/LockMgr/internal/lockmanager"
)

// DefaultDeadlockCheckInterval is how long a blocked Locker sleeps between
// deadlock checks and deadline re-evaluations.
const DefaultDeadlockCheckInterval = 500 * time.Millisecond

// TicketSource is an admission gate bounding the number of operations that
// hold the Global lock at the same time.
type TicketSource interface {
	// WaitForTicket blocks until a ticket is available or ctx is done. It
	// returns false if no ticket was obtained.
	WaitForTicket(ctx context.Context) bool
	// Release returns a ticket obtained by WaitForTicket.
	Release()
}

// Environment holds what all Lockers of a process share: the lock manager,
// the admission gates, the hierarchy and the instance wide statistics.
type Environment struct {
	mgr                   *lockmanager.LockManager
	log                   zerolog.Logger
	stats                 *GlobalStats
	hierarchy             Hierarchy
	deadlockCheckInterval time.Duration
	tickets               [lockmanager.ModeCount]TicketSource
}

// Option configures an Environment.
type Option func(*Environment)

// WithHierarchy replaces DefaultHierarchy.
func WithHierarchy(h Hierarchy) Option {
	return func(e *Environment) {
		e.hierarchy = h
	}
}

// WithDeadlockCheckInterval replaces DefaultDeadlockCheckInterval.
func WithDeadlockCheckInterval(d time.Duration) Option {
	return func(e *Environment) {
		if d > 0 {
			e.deadlockCheckInterval = d
		}
	}
}

// WithTickets gates Global IS and S acquisitions on read and Global IX
// acquisitions on write. Global X is never gated. A nil source disables
// its gate.
func WithTickets(read, write TicketSource) Option {
	return func(e *Environment) {
		e.tickets[lockmanager.ModeIS] = read
		e.tickets[lockmanager.ModeS] = read
		e.tickets[lockmanager.ModeIX] = write
	}
}

// NewEnvironment returns an Environment around mgr.
func NewEnvironment(mgr *lockmanager.LockManager, log zerolog.Logger, opts ...Option) *Environment {
	e := &Environment{
		mgr:                   mgr,
		log:                   log,
		stats:                 &GlobalStats{},
		hierarchy:             DefaultHierarchy(),
		deadlockCheckInterval: DefaultDeadlockCheckInterval,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Manager returns the shared lock manager.
func (e *Environment) Manager() *lockmanager.LockManager {
	return e.mgr
}

// Stats returns the instance wide statistics.
func (e *Environment) Stats() *GlobalStats {
	return e.stats
}
