package locker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SystemBuilders/LockMgr/internal/lockmanager"
	"github.com/SystemBuilders/LockMgr/internal/resource"
)

func TestDBAndCollectionLock(t *testing.T) {
	env := newTestEnvironment()
	l := env.NewLocker()
	ctx := context.Background()

	db, err := NewDBLock(ctx, l, "scoped", lockmanager.ModeIX)
	require.NoError(t, err)
	assert.Equal(t, lockmanager.ModeIX, l.GetLockMode(resource.Global))
	assert.Equal(t, lockmanager.ModeIS, l.GetLockMode(resource.ParallelBatchWriterMode))
	assert.Equal(t, lockmanager.ModeIX, l.GetLockMode(resource.Database("scoped")))

	coll, err := NewCollectionLock(ctx, l, "scoped.c", lockmanager.ModeX)
	require.NoError(t, err)
	assert.True(t, l.IsCollectionLockedForMode("scoped.c", lockmanager.ModeX))

	coll.Unlock()
	coll.Unlock()
	assert.Equal(t, lockmanager.ModeNone, l.GetLockMode(resource.Collection("scoped.c")))

	db.Unlock()
	assert.Empty(t, l.Info().Locks)
}

func TestAdminDBLockIsExclusive(t *testing.T) {
	env := newTestEnvironment()
	l := env.NewLocker()

	db, err := NewDBLock(context.Background(), l, "admin", lockmanager.ModeIX)
	require.NoError(t, err)
	assert.Equal(t, lockmanager.ModeX, db.Mode())
	assert.Equal(t, lockmanager.ModeX, l.GetLockMode(resource.AdminDB))
	assert.Equal(t, lockmanager.ModeIX, l.GetLockMode(resource.Global))
	db.Unlock()

	db, err = NewDBLock(context.Background(), l, "admin", lockmanager.ModeS)
	require.NoError(t, err)
	assert.Equal(t, lockmanager.ModeS, db.Mode())
	assert.Equal(t, lockmanager.ModeIS, l.GetLockMode(resource.Global))
	db.Unlock()
}

func TestCollectionLockRequiresDatabase(t *testing.T) {
	env := newTestEnvironment()
	l := env.NewLocker()
	ctx := context.Background()

	assert.Panics(t, func() { _, _ = NewCollectionLock(ctx, l, "nodb.c", lockmanager.ModeIS) })

	db, err := NewDBLock(ctx, l, "nodb", lockmanager.ModeIS)
	require.NoError(t, err)
	assert.Panics(t, func() { _, _ = NewCollectionLock(ctx, l, "nodb.c", lockmanager.ModeIX) })
	db.Unlock()
}

func TestDBLockRelock(t *testing.T) {
	env := newTestEnvironment()
	l := env.NewLocker()
	ctx := context.Background()

	db, err := NewDBLock(ctx, l, "relock", lockmanager.ModeIX)
	require.NoError(t, err)
	coll, err := NewCollectionLock(ctx, l, "relock.c", lockmanager.ModeIX)
	require.NoError(t, err)

	require.NoError(t, coll.RelockAsDatabaseExclusive(ctx, db))
	assert.Equal(t, lockmanager.ModeX, db.Mode())
	assert.Equal(t, lockmanager.ModeX, l.GetLockMode(resource.Database("relock")))
	assert.Equal(t, lockmanager.ModeIX, l.GetLockMode(resource.Collection("relock.c")))

	coll.Unlock()
	db.Unlock()
	assert.Empty(t, l.Info().Locks)

	shared, err := NewDBLock(ctx, l, "relock", lockmanager.ModeS)
	require.NoError(t, err)
	assert.Panics(t, func() { _ = shared.RelockWithMode(ctx, lockmanager.ModeX) })
	shared.Unlock()
}

func TestDBLockTimesOut(t *testing.T) {
	env := newTestEnvironment()
	holder, waiter := env.NewLocker(), env.NewLocker()

	db, err := NewDBLock(context.Background(), holder, "busy", lockmanager.ModeX)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = NewDBLock(ctx, waiter, "busy", lockmanager.ModeS)
	assert.Equal(t, lockmanager.ErrLockTimeout, err)
	assert.Empty(t, waiter.Info().Locks)

	db.Unlock()
}

func TestGlobalLockEnqueueOnly(t *testing.T) {
	env := newTestEnvironment()
	holder, waiter := env.NewLocker(), env.NewLocker()
	ctx := context.Background()

	exclusive := NewGlobalLock(ctx, holder, lockmanager.ModeX)
	require.True(t, exclusive.IsLocked())

	g := NewGlobalLockEnqueueOnly(ctx, waiter, lockmanager.ModeIS)
	assert.Equal(t, lockmanager.ResultWaiting, g.Result())
	assert.False(t, g.IsLocked())

	exclusive.Unlock()
	g.WaitForLock(ctx)
	assert.True(t, g.IsLocked())
	g.Unlock()
	assert.Empty(t, waiter.Info().Locks)
	assert.Empty(t, holder.Info().Locks)
}

func TestParallelBatchWriterMode(t *testing.T) {
	env := newTestEnvironment()
	applier, reader := env.NewLocker(), env.NewLocker()
	ctx := context.Background()

	pbwm, err := NewParallelBatchWriterMode(ctx, applier)
	require.NoError(t, err)
	assert.False(t, applier.ShouldConflictWithSecondaryBatchApplication())

	// The applier itself skips the batch lock.
	own := NewGlobalLock(ctx, applier, lockmanager.ModeIX)
	assert.True(t, own.IsLocked())
	own.Unlock()

	short, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
	defer cancel()
	blocked := NewGlobalLock(short, reader, lockmanager.ModeIS)
	assert.Equal(t, lockmanager.ResultTimeout, blocked.Result())
	assert.Empty(t, reader.Info().Locks)

	pbwm.Unlock()
	assert.True(t, applier.ShouldConflictWithSecondaryBatchApplication())

	g := NewGlobalLock(ctx, reader, lockmanager.ModeIS)
	assert.True(t, g.IsLocked())
	g.Unlock()
}

func TestTempRelease(t *testing.T) {
	env := newTestEnvironment()
	l := env.NewLocker()
	ctx := context.Background()

	db, err := NewDBLock(ctx, l, "temp", lockmanager.ModeS)
	require.NoError(t, err)
	before := l.Info().Locks

	tr := NewTempRelease(l)
	assert.True(t, tr.Released())
	assert.False(t, l.IsLocked())
	assert.Empty(t, l.Info().Locks)

	tr.Restore()
	assert.False(t, tr.Released())
	assert.Equal(t, before, l.Info().Locks)
	db.Unlock()

	// Nested scopes are not released.
	outer := NewGlobalLock(ctx, l, lockmanager.ModeIS)
	inner := NewGlobalLock(ctx, l, lockmanager.ModeIS)
	tr = NewTempRelease(l)
	assert.False(t, tr.Released())
	assert.True(t, l.IsLocked())
	tr.Restore()
	inner.Unlock()
	outer.Unlock()
	assert.Empty(t, l.Info().Locks)
}

func TestResourceMutex(t *testing.T) {
	env := newTestEnvironment()
	l1, l2 := env.NewLocker(), env.NewLocker()
	ctx := context.Background()

	m := NewResourceMutex("catalog")
	assert.Equal(t, "catalog", m.Label())
	assert.NotEqual(t, m.ID(), NewResourceMutex("catalog").ID())
	assert.Equal(t, resource.TypeMutex, m.ID().Type())

	r1 := m.Shared(ctx, l1)
	r2 := m.Shared(ctx, l2)
	assert.True(t, m.IsAtLeastReadLocked(l1))
	assert.False(t, m.IsExclusivelyLocked(l1))

	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	l3 := env.NewLocker()
	x := m.Exclusive(short, l3)
	assert.False(t, x.IsLocked())

	r1.Unlock()
	r2.Unlock()
	x = m.Exclusive(ctx, l3)
	assert.True(t, x.IsLocked())
	assert.True(t, m.IsExclusivelyLocked(l3))
	assert.Panics(t, func() { x.Lock(ctx, lockmanager.ModeX) })
	x.Unlock()
	assert.False(t, m.IsAtLeastReadLocked(l3))
}
