// Package lockclient talks to the http server of a running lock manager.
package lockclient

import (
	"context"

	"github.com/SystemBuilders/LockMgr/internal/locker"
	"github.com/SystemBuilders/LockMgr/internal/lockmanager"
	"github.com/SystemBuilders/LockMgr/internal/routing"
)

// Client describes a client of the lock server. Every call is a single
// http request bounded by ctx.
type Client interface {
	// Health returns nil if the server answers.
	Health(ctx context.Context) error
	// Locks returns the resources with granted or pending requests.
	Locks(ctx context.Context) ([]lockmanager.LockInfo, error)
	// Stats returns the instance wide lock statistics.
	Stats(ctx context.Context) (locker.StatsReport, error)
	// ResetStats zeroes the instance wide lock statistics.
	ResetStats(ctx context.Context) error
	// Tickets returns the state of the admission pools.
	Tickets(ctx context.Context) (routing.TicketsInfo, error)
	// ResizeTickets changes the size of the "read" or "write" pool.
	ResizeTickets(ctx context.Context, pool string, size int) (routing.PoolInfo, error)

	// NewLocker opens a locker session on the server.
	NewLocker(ctx context.Context) (locker.LockerInfo, error)
	// LockerInfo describes what a session holds.
	LockerInfo(ctx context.Context, id lockmanager.LockerID) (locker.LockerInfo, error)
	// Acquire locks a resource for a session. A timed out acquisition
	// returns lockmanager.ErrLockTimeout and a deadlock victim
	// lockmanager.ErrDeadlock.
	Acquire(ctx context.Context, id lockmanager.LockerID, req routing.AcquireRequest) (routing.AcquireResponse, error)
	// Release drops one acquisition of a resource held by a session.
	Release(ctx context.Context, id lockmanager.LockerID, req routing.ReleaseRequest) (routing.ReleaseResponse, error)
	// EndLocker releases everything a session holds and closes it.
	EndLocker(ctx context.Context, id lockmanager.LockerID) error
}

// Config describes where the lock server runs.
type Config interface {
	// IP provides the IP address where the server is intended to run.
	IP() string
	// Port provides the port where the server is supposed to run.
	Port() string
}
