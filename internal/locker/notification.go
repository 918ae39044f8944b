package locker

import (
	"context"
	"time"

	"github.com/SystemBuilders/LockMgr/internal/lockmanager"
	"github.com/SystemBuilders/LockMgr/internal/resource"
)

var _ lockmanager.Notifier = (*Notification)(nil)

// Notification is a one shot mailbox for the outcome of a waiting request.
// Notify never blocks, so the lock manager can call it under its mutexes.
type Notification struct {
	ch chan lockmanager.Result
}

// NewNotification returns an empty Notification.
func NewNotification() *Notification {
	return &Notification{
		ch: make(chan lockmanager.Result, 1),
	}
}

// Notify delivers the result. At most one result may be pending.
func (n *Notification) Notify(_ resource.ID, result lockmanager.Result) {
	select {
	case n.ch <- result:
	default:
		invariant(false, "lock notification delivered twice")
	}
}

// Clear drops a pending result.
func (n *Notification) Clear() {
	select {
	case <-n.ch:
	default:
	}
}

// Wait blocks for a result for at most timeout. It returns ResultTimeout if
// none arrived in time or ctx is done.
func (n *Notification) Wait(ctx context.Context, timeout time.Duration) lockmanager.Result {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case result := <-n.ch:
		return result
	case <-timer.C:
		return lockmanager.ResultTimeout
	case <-ctx.Done():
		return lockmanager.ResultTimeout
	}
}
