package locker

import (
	"context"

	"github.com/SystemBuilders/LockMgr/internal/lockmanager"
	"github.com/SystemBuilders/LockMgr/internal/resource"
)

// GetLockMode returns the mode id is held in, or ModeNone.
func (l *Locker) GetLockMode(id resource.ID) lockmanager.Mode {
	held, ok := l.find(id)
	if !ok {
		return lockmanager.ModeNone
	}
	return held.req.Mode()
}

// IsLockHeldForMode returns true if id is held in mode or a mode covering
// it.
func (l *Locker) IsLockHeldForMode(id resource.ID, mode lockmanager.Mode) bool {
	return lockmanager.IsModeCovered(mode, l.GetLockMode(id))
}

// IsLocked returns true if the Global lock is held.
func (l *Locker) IsLocked() bool {
	return l.GetLockMode(resource.Global) != lockmanager.ModeNone
}

// IsW returns true if the Global lock is held exclusively.
func (l *Locker) IsW() bool {
	return l.GetLockMode(resource.Global) == lockmanager.ModeX
}

// IsR returns true if the Global lock is held in S.
func (l *Locker) IsR() bool {
	return l.GetLockMode(resource.Global) == lockmanager.ModeS
}

// IsWriteLocked returns true if the Global lock allows writes below it.
func (l *Locker) IsWriteLocked() bool {
	return l.IsLockHeldForMode(resource.Global, lockmanager.ModeIX)
}

// IsReadLocked returns true if the Global lock allows reads below it.
func (l *Locker) IsReadLocked() bool {
	return l.IsLockHeldForMode(resource.Global, lockmanager.ModeIS)
}

// IsGlobalLockedRecursively returns true if the Global lock was acquired
// more than once.
func (l *Locker) IsGlobalLockedRecursively() bool {
	held, ok := l.find(resource.Global)
	return ok && held.req.RecursiveCount() > 1
}

// IsDBLockedForMode returns true if the locks held allow mode on db.
func (l *Locker) IsDBLockedForMode(db string, mode lockmanager.Mode) bool {
	if l.IsW() {
		return true
	}
	if l.IsR() && lockmanager.IsSharedMode(mode) {
		return true
	}
	return l.IsLockHeldForMode(resource.Database(db), mode)
}

// IsCollectionLockedForMode returns true if the locks held allow mode on
// the collection ns.
func (l *Locker) IsCollectionLockedForMode(ns string, mode lockmanager.Mode) bool {
	if l.IsW() {
		return true
	}
	if l.IsR() && lockmanager.IsSharedMode(mode) {
		return true
	}

	dbMode := l.GetLockMode(resource.Database(resource.NamespaceDB(ns)))
	if !l.conflictWithBatchApplication {
		return true
	}
	switch dbMode {
	case lockmanager.ModeNone:
		return false
	case lockmanager.ModeX:
		return true
	case lockmanager.ModeS:
		return lockmanager.IsSharedMode(mode)
	}
	return l.IsLockHeldForMode(resource.Collection(ns), mode)
}

// OneLock is a resource and the mode it is held in.
type OneLock struct {
	ResourceID resource.ID      `json:"resourceId"`
	Mode       lockmanager.Mode `json:"mode"`
}

// LockSnapshot is the lock set released by SaveLockStateAndUnlock.
type LockSnapshot struct {
	GlobalMode lockmanager.Mode
	// Locks are sorted by resource id.
	Locks []OneLock
}

// SaveLockStateAndUnlock releases every lock but mutexes and returns what
// was held so it can be restored. It returns false and releases nothing if
// the Global lock is not held or is held recursively.
func (l *Locker) SaveLockStateAndUnlock() (LockSnapshot, bool) {
	invariant(!l.InAWriteUnitOfWork(), "lock state saved inside a write unit of work")

	global, ok := l.find(resource.Global)
	if !ok {
		l.requests.Ascend(func(held *heldLock) bool {
			invariant(held.id.Type() == resource.TypeMutex, "%s held without the global lock", held.id)
			return true
		})
		return LockSnapshot{}, false
	}
	if global.req.RecursiveCount() > 1 {
		return LockSnapshot{}, false
	}

	snapshot := LockSnapshot{GlobalMode: global.req.Mode()}
	var rest []*heldLock
	l.requests.Ascend(func(held *heldLock) bool {
		if held.id != resource.Global && held.id.Type() != resource.TypeMutex {
			rest = append(rest, held)
			snapshot.Locks = append(snapshot.Locks, OneLock{
				ResourceID: held.id,
				Mode:       held.req.Mode(),
			})
		}
		return true
	})

	for i := len(rest) - 1; i >= 0; i-- {
		invariant(l.unlockImpl(rest[i]), "%s is held recursively", rest[i].id)
	}
	invariant(l.unlockImpl(global), "global lock is held recursively")
	return snapshot, true
}

// RestoreLockState reacquires a saved lock set: resources sorting before
// Global first, then Global, then the rest in ascending order. Failing to
// reacquire is an invariant violation.
func (l *Locker) RestoreLockState(snapshot LockSnapshot) {
	invariant(!l.InAWriteUnitOfWork(), "lock state restored inside a write unit of work")
	invariant(l.modeForTicket == lockmanager.ModeNone, "lock state restored while holding a ticket")

	ctx := context.Background()
	i := 0
	for ; i < len(snapshot.Locks) && snapshot.Locks[i].ResourceID < resource.Global; i++ {
		lock := snapshot.Locks[i]
		result := l.Lock(ctx, lock.ResourceID, lock.Mode, false)
		invariant(result == lockmanager.ResultOK, "restore of %s failed: %s", lock.ResourceID, result)
	}

	result := l.LockGlobal(ctx, snapshot.GlobalMode)
	invariant(result == lockmanager.ResultOK, "restore of the global lock failed: %s", result)

	for ; i < len(snapshot.Locks); i++ {
		lock := snapshot.Locks[i]
		result := l.Lock(ctx, lock.ResourceID, lock.Mode, false)
		invariant(result == lockmanager.ResultOK, "restore of %s failed: %s", lock.ResourceID, result)
	}
}

// LockerInfo describes a Locker for diagnostics.
type LockerInfo struct {
	LockerID        lockmanager.LockerID `json:"lockerId"`
	OperationID     string               `json:"opId"`
	ClientState     string               `json:"clientState"`
	Locks           []OneLock            `json:"locks"`
	WaitingResource resource.ID          `json:"waitingResource"`
	Stats           StatsReport          `json:"stats"`
}

// Info returns the held locks ordered by resource id, the waiting resource
// and the statistics of the Locker.
func (l *Locker) Info() LockerInfo {
	info := LockerInfo{
		LockerID:        l.id,
		OperationID:     l.opID.String(),
		ClientState:     l.ClientState().String(),
		WaitingResource: l.WaitingResource(),
		Stats:           l.stats.Report(),
	}
	l.requests.Ascend(func(held *heldLock) bool {
		info.Locks = append(info.Locks, OneLock{
			ResourceID: held.id,
			Mode:       held.req.Mode(),
		})
		return true
	})
	return info
}
