package locker

import (
	"context"

	"github.com/SystemBuilders/LockMgr/internal/lockmanager"
	"github.com/SystemBuilders/LockMgr/internal/resource"
)

// ResourceLock holds a single resource. The zero result is ResultInvalid
// until Lock is called.
type ResourceLock struct {
	l      *Locker
	id     resource.ID
	result lockmanager.Result
}

// NewResourceLock locks id in mode without deadlock detection.
func NewResourceLock(ctx context.Context, l *Locker, id resource.ID, mode lockmanager.Mode) *ResourceLock {
	r := &ResourceLock{
		l:      l,
		id:     id,
		result: lockmanager.ResultInvalid,
	}
	r.Lock(ctx, mode)
	return r
}

// Lock acquires the resource. It must not be held by this ResourceLock.
func (r *ResourceLock) Lock(ctx context.Context, mode lockmanager.Mode) lockmanager.Result {
	invariant(r.result == lockmanager.ResultInvalid, "resource lock on %s acquired twice", r.id)
	result := r.l.Lock(ctx, r.id, mode, false)
	if result == lockmanager.ResultOK {
		r.result = result
	}
	return result
}

// IsLocked returns true if the resource is held.
func (r *ResourceLock) IsLocked() bool {
	return r.result == lockmanager.ResultOK
}

// Unlock releases the resource if it is held.
func (r *ResourceLock) Unlock() {
	if r.IsLocked() {
		r.l.Unlock(r.id)
		r.result = lockmanager.ResultInvalid
	}
}

// ResourceMutex is a named lock outside of the hierarchy. Every
// ResourceMutex is distinct, even when labels repeat.
type ResourceMutex struct {
	id resource.ID
}

// NewResourceMutex allocates a mutex resource.
func NewResourceMutex(label string) *ResourceMutex {
	return &ResourceMutex{id: resource.NewMutex(label)}
}

// ID returns the resource of the mutex.
func (m *ResourceMutex) ID() resource.ID {
	return m.id
}

// Label returns the label the mutex was created with.
func (m *ResourceMutex) Label() string {
	label, _ := resource.MutexLabel(m.id)
	return label
}

// Shared locks the mutex in S.
func (m *ResourceMutex) Shared(ctx context.Context, l *Locker) *ResourceLock {
	return NewResourceLock(ctx, l, m.id, lockmanager.ModeS)
}

// Exclusive locks the mutex in X.
func (m *ResourceMutex) Exclusive(ctx context.Context, l *Locker) *ResourceLock {
	return NewResourceLock(ctx, l, m.id, lockmanager.ModeX)
}

// IsExclusivelyLocked returns true if l holds the mutex in X.
func (m *ResourceMutex) IsExclusivelyLocked(l *Locker) bool {
	return l.IsLockHeldForMode(m.id, lockmanager.ModeX)
}

// IsAtLeastReadLocked returns true if l holds the mutex in S or X.
func (m *ResourceMutex) IsAtLeastReadLocked(l *Locker) bool {
	return l.IsLockHeldForMode(m.id, lockmanager.ModeS)
}

// GlobalLock holds the Global lock, preceded by the ParallelBatchWriterMode
// lock in IS unless the Locker opted out of conflicting with batch
// application.
type GlobalLock struct {
	l      *Locker
	pbwm   *ResourceLock
	result lockmanager.Result
}

// NewGlobalLock acquires the Global lock in mode and waits for it.
func NewGlobalLock(ctx context.Context, l *Locker, mode lockmanager.Mode) *GlobalLock {
	g := NewGlobalLockEnqueueOnly(ctx, l, mode)
	g.WaitForLock(ctx)
	return g
}

// NewGlobalLockEnqueueOnly queues the Global lock without waiting for it.
// WaitForLock completes the acquisition.
func NewGlobalLockEnqueueOnly(ctx context.Context, l *Locker, mode lockmanager.Mode) *GlobalLock {
	g := &GlobalLock{
		l:      l,
		result: lockmanager.ResultInvalid,
	}
	if l.ShouldConflictWithSecondaryBatchApplication() {
		g.pbwm = NewResourceLock(ctx, l, resource.ParallelBatchWriterMode, lockmanager.ModeIS)
		if !g.pbwm.IsLocked() {
			g.result = lockmanager.ResultTimeout
			return g
		}
	}
	g.result = l.LockGlobalBegin(ctx, mode)
	if g.result == lockmanager.ResultTimeout {
		g.unlockPBWM()
	}
	return g
}

// WaitForLock waits for a Global lock queued by NewGlobalLockEnqueueOnly.
func (g *GlobalLock) WaitForLock(ctx context.Context) {
	if g.result != lockmanager.ResultWaiting {
		return
	}
	g.result = g.l.LockGlobalComplete(ctx)
	if g.result != lockmanager.ResultOK {
		g.unlockPBWM()
	}
}

// Result returns the outcome of the acquisition.
func (g *GlobalLock) Result() lockmanager.Result {
	return g.result
}

// IsLocked returns true if the Global lock is held.
func (g *GlobalLock) IsLocked() bool {
	return g.result == lockmanager.ResultOK
}

// Unlock releases the Global lock and everything acquired under it.
func (g *GlobalLock) Unlock() {
	if g.IsLocked() {
		g.l.UnlockGlobal()
		g.result = lockmanager.ResultInvalid
	}
	g.unlockPBWM()
}

func (g *GlobalLock) unlockPBWM() {
	if g.pbwm != nil {
		g.pbwm.Unlock()
		g.pbwm = nil
	}
}

// DBLock holds a database lock and the Global lock in the matching intent
// mode.
type DBLock struct {
	l      *Locker
	id     resource.ID
	mode   lockmanager.Mode
	global *GlobalLock
}

// NewDBLock locks db in mode. Non shared locks on the admin database are
// always exclusive.
func NewDBLock(ctx context.Context, l *Locker, db string, mode lockmanager.Mode) (*DBLock, error) {
	invariant(db != "", "database lock without a name")

	d := &DBLock{
		l:    l,
		id:   resource.Database(db),
		mode: mode,
	}
	if d.id == resource.AdminDB && !lockmanager.IsSharedMode(mode) {
		d.mode = lockmanager.ModeX
	}

	d.global = NewGlobalLock(ctx, l, intentMode(mode))
	if !d.global.IsLocked() {
		return nil, d.global.Result().Err()
	}
	if result := l.Lock(ctx, d.id, d.mode, false); result != lockmanager.ResultOK {
		d.global.Unlock()
		return nil, result.Err()
	}
	return d, nil
}

// Mode returns the mode the database is held in.
func (d *DBLock) Mode() lockmanager.Mode {
	return d.mode
}

// RelockWithMode releases the database lock and takes it again in
// newMode. A shared lock can only be relocked shared, since the Global
// intent mode stays the same.
func (d *DBLock) RelockWithMode(ctx context.Context, newMode lockmanager.Mode) error {
	invariant(!d.l.InAWriteUnitOfWork(), "database relocked inside a write unit of work")
	invariant(!lockmanager.IsSharedMode(d.mode) || lockmanager.IsSharedMode(newMode),
		"relock from %s to %s changes the global intent", d.mode, newMode)

	d.l.Unlock(d.id)
	d.mode = newMode
	if result := d.l.Lock(ctx, d.id, d.mode, false); result != lockmanager.ResultOK {
		d.mode = lockmanager.ModeNone
		return result.Err()
	}
	return nil
}

// Unlock releases the database and the Global lock.
func (d *DBLock) Unlock() {
	if d.mode != lockmanager.ModeNone {
		d.l.Unlock(d.id)
		d.mode = lockmanager.ModeNone
	}
	d.global.Unlock()
}

// CollectionLock holds a collection lock. The database must already be
// held in at least the matching intent mode.
type CollectionLock struct {
	l    *Locker
	id   resource.ID
	held bool
}

// NewCollectionLock locks the collection ns in mode.
func NewCollectionLock(ctx context.Context, l *Locker, ns string, mode lockmanager.Mode) (*CollectionLock, error) {
	invariant(ns != "", "collection lock without a namespace")
	invariant(l.IsDBLockedForMode(resource.NamespaceDB(ns), intentMode(mode)),
		"collection %s locked without its database", ns)

	c := &CollectionLock{
		l:  l,
		id: resource.Collection(ns),
	}
	if result := l.Lock(ctx, c.id, mode, false); result != lockmanager.ResultOK {
		return nil, result.Err()
	}
	c.held = true
	return c, nil
}

// RelockAsDatabaseExclusive trades the collection lock for an exclusive
// database lock. The collection stays held in IX so Unlock still has
// something to release.
func (c *CollectionLock) RelockAsDatabaseExclusive(ctx context.Context, db *DBLock) error {
	c.l.Unlock(c.id)
	c.held = false
	if err := db.RelockWithMode(ctx, lockmanager.ModeX); err != nil {
		return err
	}
	if result := c.l.Lock(ctx, c.id, lockmanager.ModeIX, false); result != lockmanager.ResultOK {
		return result.Err()
	}
	c.held = true
	return nil
}

// Unlock releases the collection lock.
func (c *CollectionLock) Unlock() {
	if c.held {
		c.l.Unlock(c.id)
		c.held = false
	}
}

// TempRelease releases all locks of a Locker for a blocking section and
// takes them back on Restore. Nothing is released if the Global lock is
// held recursively.
type TempRelease struct {
	l        *Locker
	snapshot LockSnapshot
	released bool
}

// NewTempRelease saves and releases the locks of l.
func NewTempRelease(l *Locker) *TempRelease {
	snapshot, released := l.SaveLockStateAndUnlock()
	return &TempRelease{
		l:        l,
		snapshot: snapshot,
		released: released,
	}
}

// Released returns true if locks were actually released.
func (t *TempRelease) Released() bool {
	return t.released
}

// Restore reacquires the released locks.
func (t *TempRelease) Restore() {
	if t.released {
		t.l.RestoreLockState(t.snapshot)
		t.released = false
	}
}

// ParallelBatchWriterMode is held by secondaries while applying a batch of
// replicated writes. It excludes every GlobalLock of Lockers that conflict
// with batch application.
type ParallelBatchWriterMode struct {
	l    *Locker
	pbwm *ResourceLock
	prev bool
}

// NewParallelBatchWriterMode takes the ParallelBatchWriterMode lock in X.
// The Locker stops conflicting with batch application until Unlock.
func NewParallelBatchWriterMode(ctx context.Context, l *Locker) (*ParallelBatchWriterMode, error) {
	p := &ParallelBatchWriterMode{
		l:    l,
		pbwm: NewResourceLock(ctx, l, resource.ParallelBatchWriterMode, lockmanager.ModeX),
		prev: l.ShouldConflictWithSecondaryBatchApplication(),
	}
	if !p.pbwm.IsLocked() {
		return nil, lockmanager.ErrLockTimeout
	}
	l.SetShouldConflictWithSecondaryBatchApplication(false)
	return p, nil
}

// Unlock releases the lock and restores the batch application setting.
func (p *ParallelBatchWriterMode) Unlock() {
	p.l.SetShouldConflictWithSecondaryBatchApplication(p.prev)
	p.pbwm.Unlock()
}

func intentMode(mode lockmanager.Mode) lockmanager.Mode {
	if lockmanager.IsSharedMode(mode) {
		return lockmanager.ModeIS
	}
	return lockmanager.ModeIX
}
