// Package locker is the per operation front end of the lock manager. A
// Locker remembers what its operation holds, enforces the acquisition
// order, gates the Global lock on admission tickets, and turns the lock
// manager's asynchronous grants into blocking calls with deadlines and
// deadlock detection.
package locker

import (
	"context"
	"crypto/rand"
	"sync/atomic"
	"time"

	"github.com/google/btree"
	"github.com/oklog/ulid"
	"github.com/rs/zerolog"

	"github.com/SystemBuilders/LockMgr/internal/lockmanager"
	"github.com/SystemBuilders/LockMgr/internal/resource"
)

// ClientState describes where an operation is in admission control.
type ClientState int32

// Client states.
const (
	ClientInactive ClientState = iota
	ClientActiveReader
	ClientActiveWriter
	ClientQueuedReader
	ClientQueuedWriter
)

var clientStateNames = [...]string{"inactive", "activeReader", "activeWriter", "queuedReader", "queuedWriter"}

func (s ClientState) String() string {
	if int(s) >= len(clientStateNames) || s < 0 {
		return "unknown"
	}
	return clientStateNames[s]
}

var lockerIDCounter atomic.Uint64

// heldLock is one entry of a Locker's request index.
type heldLock struct {
	id  resource.ID
	req *lockmanager.Request
}

func lessHeldLock(a, b *heldLock) bool {
	return a.id < b.id
}

var _ lockmanager.Owner = (*Locker)(nil)

// Locker tracks the locks of a single operation. It is not safe for
// concurrent use, except for ID, OperationID, WaitingResource and
// ClientState, which other goroutines and the deadlock detector call.
type Locker struct {
	env  *Environment
	id   lockmanager.LockerID
	opID ulid.ULID
	log  zerolog.Logger

	requests *btree.BTreeG[*heldLock]
	notify   *Notification

	waitingResource atomic.Uint64
	clientState     atomic.Int32

	modeForTicket                lockmanager.Mode
	pendingGlobalMode            lockmanager.Mode
	shouldAcquireTicket          bool
	conflictWithBatchApplication bool

	wuowNestingLevel                   int
	resourcesToUnlockAtEndOfUnitOfWork []resource.ID

	stats Stats
}

// NewLocker returns a Locker with a fresh id that holds nothing.
func (e *Environment) NewLocker() *Locker {
	id := lockmanager.LockerID(lockerIDCounter.Add(1))
	opID := ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader)
	log := e.
		log.
		With().
		Uint64("locker", uint64(id)).
		Str("op", opID.String()).
		Logger()
	return &Locker{
		env:                          e,
		id:                           id,
		opID:                         opID,
		log:                          log,
		requests:                     btree.NewG[*heldLock](8, lessHeldLock),
		notify:                       NewNotification(),
		shouldAcquireTicket:          true,
		conflictWithBatchApplication: true,
	}
}

// ID returns the id of the Locker.
func (l *Locker) ID() lockmanager.LockerID {
	return l.id
}

// OperationID returns the id of the operation the Locker was created for.
func (l *Locker) OperationID() ulid.ULID {
	return l.opID
}

// WaitingResource returns the resource the Locker is blocked on, or
// resource.Invalid.
func (l *Locker) WaitingResource() resource.ID {
	return resource.ID(l.waitingResource.Load())
}

// ClientState returns the admission state.
func (l *Locker) ClientState() ClientState {
	return ClientState(l.clientState.Load())
}

// Stats returns the statistics of this Locker.
func (l *Locker) Stats() *Stats {
	return &l.stats
}

// SetShouldAcquireTicket controls whether the next Global acquisition
// waits on the admission gate.
func (l *Locker) SetShouldAcquireTicket(acquire bool) {
	invariant(!l.IsLocked(), "ticket setting changed while locked")
	l.shouldAcquireTicket = acquire
}

// SetShouldConflictWithSecondaryBatchApplication controls whether
// GlobalLock also takes the ParallelBatchWriterMode lock.
func (l *Locker) SetShouldConflictWithSecondaryBatchApplication(conflict bool) {
	l.conflictWithBatchApplication = conflict
}

// ShouldConflictWithSecondaryBatchApplication reports the setting above.
func (l *Locker) ShouldConflictWithSecondaryBatchApplication() bool {
	return l.conflictWithBatchApplication
}

func (l *Locker) find(id resource.ID) (*heldLock, bool) {
	return l.requests.Get(&heldLock{id: id})
}

// Lock acquires id in mode. It blocks until the lock is granted, ctx is
// done, or, with checkDeadlock, a deadlock involving this Locker is found.
// Locking a held resource again increments its recursive count, and in a
// stronger mode converts it. On ResultTimeout and ResultDeadlock nothing is
// left queued on behalf of the call.
func (l *Locker) Lock(ctx context.Context, id resource.ID, mode lockmanager.Mode, checkDeadlock bool) lockmanager.Result {
	if id == resource.Global {
		if result := l.LockGlobalBegin(ctx, mode); result != lockmanager.ResultWaiting {
			return result
		}
		l.pendingGlobalMode = lockmanager.ModeNone
	} else if result := l.lockBegin(id, mode); result != lockmanager.ResultWaiting {
		return result
	}
	return l.lockComplete(ctx, id, mode, checkDeadlock)
}

// Convert raises a held resource to newMode. It is Lock for a resource
// that must already be held.
func (l *Locker) Convert(ctx context.Context, id resource.ID, newMode lockmanager.Mode, checkDeadlock bool) lockmanager.Result {
	_, ok := l.find(id)
	invariant(ok, "convert of %s which is not held", id)
	return l.Lock(ctx, id, newMode, checkDeadlock)
}

// LockGlobal acquires the Global lock without deadlock detection.
func (l *Locker) LockGlobal(ctx context.Context, mode lockmanager.Mode) lockmanager.Result {
	return l.Lock(ctx, resource.Global, mode, false)
}

// LockGlobalBegin takes an admission ticket if none is held yet and queues
// the Global lock. It returns ResultWaiting if LockGlobalComplete has to
// be called, or ResultTimeout if no ticket was obtained before ctx was
// done.
func (l *Locker) LockGlobalBegin(ctx context.Context, mode lockmanager.Mode) lockmanager.Result {
	if l.modeForTicket == lockmanager.ModeNone {
		reader := lockmanager.IsSharedMode(mode)
		var holder TicketSource
		if l.shouldAcquireTicket {
			holder = l.env.tickets[mode]
		}
		if holder != nil {
			if reader {
				l.clientState.Store(int32(ClientQueuedReader))
			} else {
				l.clientState.Store(int32(ClientQueuedWriter))
			}
			if !holder.WaitForTicket(ctx) {
				l.clientState.Store(int32(ClientInactive))
				l.
					log.
					Debug().
					Str("mode", mode.String()).
					Msg("no admission ticket")
				return lockmanager.ResultTimeout
			}
		}
		if reader {
			l.clientState.Store(int32(ClientActiveReader))
		} else {
			l.clientState.Store(int32(ClientActiveWriter))
		}
		l.modeForTicket = mode
	}
	result := l.lockBegin(resource.Global, mode)
	if result == lockmanager.ResultWaiting {
		l.pendingGlobalMode = mode
	}
	return result
}

// LockGlobalComplete waits for a Global lock queued by LockGlobalBegin.
// Waits are accounted under the mode passed to LockGlobalBegin, which for
// a conversion is not yet the granted mode.
func (l *Locker) LockGlobalComplete(ctx context.Context) lockmanager.Result {
	mode := l.pendingGlobalMode
	invariant(mode != lockmanager.ModeNone, "global lock completed without a pending request")
	l.pendingGlobalMode = lockmanager.ModeNone
	return l.lockComplete(ctx, resource.Global, mode, false)
}

func (l *Locker) lockBegin(id resource.ID, mode lockmanager.Mode) lockmanager.Result {
	invariant(!l.WaitingResource().IsValid(), "lock of %s while waiting on %s", id, l.WaitingResource())

	held, ok := l.find(id)
	isNew := !ok
	if isNew {
		l.checkOrder(id)
		held = &heldLock{
			id:  id,
			req: lockmanager.NewRequest(l, l.notify),
		}
		// Global S and X lockers go first and let compatible requests
		// pass queued ones while they hold.
		if (id.Type() == resource.TypeGlobal || id.Type() == resource.TypeFlush) &&
			(mode == lockmanager.ModeS || mode == lockmanager.ModeX) {
			held.req.EnqueueAtFront = true
			held.req.CompatibleFirst = true
		}
		l.requests.ReplaceOrInsert(held)
	}

	l.stats.RecordAcquisition(id, mode)
	l.env.stats.partition(l.id).RecordAcquisition(id, mode)

	l.notify.Clear()
	l.waitingResource.Store(uint64(id))

	var result lockmanager.Result
	if isNew {
		result = l.env.mgr.Lock(id, held.req, mode)
	} else {
		result = l.env.mgr.Convert(id, held.req, mode)
	}

	if result == lockmanager.ResultWaiting {
		l.stats.RecordWait(id, mode)
		l.env.stats.partition(l.id).RecordWait(id, mode)
	} else {
		l.waitingResource.Store(uint64(resource.Invalid))
	}
	return result
}

func (l *Locker) lockComplete(ctx context.Context, id resource.ID, mode lockmanager.Mode, checkDeadlock bool) lockmanager.Result {
	defer l.waitingResource.Store(uint64(resource.Invalid))

	var result lockmanager.Result
	current := time.Now()
	for {
		result = l.notify.Wait(ctx, l.env.deadlockCheckInterval)

		now := time.Now()
		elapsed := now.Sub(current).Microseconds()
		current = now
		l.stats.RecordWaitTime(id, mode, elapsed)
		l.env.stats.partition(l.id).RecordWaitTime(id, mode, elapsed)

		if result == lockmanager.ResultOK {
			break
		}

		if checkDeadlock {
			d := lockmanager.NewDeadlockDetector(l.env.mgr, l).Check()
			if d.HasCycle() {
				l.
					log.
					Warn().
					Str("resource", id.String()).
					Str("mode", mode.String()).
					Str("graph", d.String()).
					Msg("deadlock found")
				l.stats.RecordDeadlock(id, mode)
				l.env.stats.partition(l.id).RecordDeadlock(id, mode)
				result = lockmanager.ResultDeadlock
				break
			}
		}

		if ctx.Err() != nil {
			result = lockmanager.ResultTimeout
			break
		}
	}

	if result != lockmanager.ResultOK {
		held, ok := l.find(id)
		invariant(ok, "failed lock of %s is not tracked", id)
		l.unlockImpl(held)
		return result
	}
	l.notify.Clear()
	return result
}

// Unlock releases one acquisition of id. It returns true if the resource is
// no longer held. Inside a write unit of work, exclusive and intent
// exclusive releases are deferred until EndWriteUnitOfWork.
func (l *Locker) Unlock(id resource.ID) bool {
	held, ok := l.find(id)
	invariant(ok, "unlock of %s which is not held", id)

	if l.InAWriteUnitOfWork() && shouldDelayUnlock(id, held.req.Mode()) {
		l.resourcesToUnlockAtEndOfUnitOfWork = append(l.resourcesToUnlockAtEndOfUnitOfWork, id)
		return false
	}
	return l.unlockImpl(held)
}

func (l *Locker) unlockImpl(held *heldLock) bool {
	if !l.env.mgr.Unlock(held.req) {
		return false
	}
	if held.id == resource.Global {
		l.releaseTicket()
	}
	l.requests.Delete(held)
	return true
}

func (l *Locker) releaseTicket() {
	if l.modeForTicket == lockmanager.ModeNone {
		return
	}
	var holder TicketSource
	if l.shouldAcquireTicket {
		holder = l.env.tickets[l.modeForTicket]
	}
	if holder != nil {
		holder.Release()
	}
	l.clientState.Store(int32(ClientInactive))
	l.modeForTicket = lockmanager.ModeNone
}

func shouldDelayUnlock(id resource.ID, mode lockmanager.Mode) bool {
	switch id.Type() {
	case resource.TypeGlobal, resource.TypeDatabase, resource.TypeCollection, resource.TypeMetadata:
	default:
		return false
	}
	return mode == lockmanager.ModeX || mode == lockmanager.ModeIX
}

// UnlockGlobal releases one acquisition of the Global lock. Once it is
// fully released everything else except mutexes and other global type
// resources is released too.
func (l *Locker) UnlockGlobal() bool {
	if !l.Unlock(resource.Global) {
		return false
	}
	invariant(!l.InAWriteUnitOfWork(), "global lock released inside a write unit of work")

	var rest []*heldLock
	l.requests.Ascend(func(held *heldLock) bool {
		switch held.id.Type() {
		case resource.TypeGlobal, resource.TypeMutex:
		default:
			rest = append(rest, held)
		}
		return true
	})
	// Every scope starts with the Global lock, so nothing below it can be
	// held more often.
	for _, held := range rest {
		invariant(l.unlockImpl(held), "%s still held after the global lock was released", held.id)
	}
	return true
}

// Downgrade lowers a held resource to a mode covered by the current one.
func (l *Locker) Downgrade(id resource.ID, newMode lockmanager.Mode) {
	held, ok := l.find(id)
	invariant(ok, "downgrade of %s which is not held", id)
	l.env.mgr.Downgrade(held.req, newMode)
}

// BeginWriteUnitOfWork starts a (possibly nested) write unit of work.
func (l *Locker) BeginWriteUnitOfWork() {
	l.wuowNestingLevel++
}

// EndWriteUnitOfWork ends a write unit of work. Leaving the outermost one
// performs the deferred releases.
func (l *Locker) EndWriteUnitOfWork() {
	invariant(l.wuowNestingLevel > 0, "end of a write unit of work that was not started")
	l.wuowNestingLevel--
	if l.wuowNestingLevel > 0 {
		return
	}
	pending := l.resourcesToUnlockAtEndOfUnitOfWork
	l.resourcesToUnlockAtEndOfUnitOfWork = nil
	for _, id := range pending {
		l.Unlock(id)
	}
}

// InAWriteUnitOfWork returns true between Begin and EndWriteUnitOfWork.
func (l *Locker) InAWriteUnitOfWork() bool {
	return l.wuowNestingLevel > 0
}
