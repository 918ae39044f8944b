package lockmanager

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SystemBuilders/LockMgr/internal/resource"
)

func TestLockCompatibleAndConflicting(t *testing.T) {
	lm := newTestManager()
	res := resource.Collection("test.compat")
	a, b, c := newTestOwner(1), newTestOwner(2), newTestOwner(3)

	ra, rb, rc := a.newRequest(), b.newRequest(), c.newRequest()
	require.Equal(t, ResultOK, lm.Lock(res, ra, ModeS))
	require.Equal(t, ResultOK, lm.Lock(res, rb, ModeS))
	require.Equal(t, ResultWaiting, lm.Lock(res, rc, ModeX))
	assert.Equal(t, StatusWaiting, rc.Status())

	assert.True(t, lm.Unlock(ra))
	c.requireNotNotified(t)

	assert.True(t, lm.Unlock(rb))
	c.requireNotified(t)
	assert.Equal(t, StatusGranted, rc.Status())

	assert.True(t, lm.Unlock(rc))
	state, ok := lm.Inspect(res)
	require.True(t, ok)
	assert.Equal(t, HeadState{}, state)
}

func TestCountsRoundTrip(t *testing.T) {
	lm := newTestManager()
	res := resource.Database("roundtrip")
	before, _ := lm.Inspect(res)

	var reqs []*Request
	for i, mode := range []Mode{ModeIS, ModeIX, ModeIS, ModeIX} {
		r := newTestOwner(LockerID(i + 1)).newRequest()
		require.Equal(t, ResultOK, lm.Lock(res, r, mode))
		reqs = append(reqs, r)
	}
	mid, ok := lm.Inspect(res)
	require.True(t, ok)
	assert.Equal(t, uint32(2), mid.GrantedCounts[ModeIS])
	assert.Equal(t, uint32(2), mid.GrantedCounts[ModeIX])
	assert.Equal(t, ModeIS.Mask()|ModeIX.Mask(), mid.GrantedModes)

	for _, r := range reqs {
		assert.True(t, lm.Unlock(r))
	}
	after, _ := lm.Inspect(res)
	assert.Equal(t, before, after)
}

func TestStarvationBound(t *testing.T) {
	lm := newTestManager()
	res := resource.Database("starve")
	a, b, c := newTestOwner(1), newTestOwner(2), newTestOwner(3)

	ra, rb, rc := a.newRequest(), b.newRequest(), c.newRequest()
	require.Equal(t, ResultOK, lm.Lock(res, ra, ModeIS))
	require.Equal(t, ResultWaiting, lm.Lock(res, rb, ModeX))
	// IS is compatible with the granted IS but must queue behind the X.
	require.Equal(t, ResultWaiting, lm.Lock(res, rc, ModeIS))

	assert.True(t, lm.Unlock(ra))
	b.requireNotified(t)
	c.requireNotNotified(t)

	assert.True(t, lm.Unlock(rb))
	c.requireNotified(t)
	assert.True(t, lm.Unlock(rc))
}

func TestCompatibleFirst(t *testing.T) {
	lm := newTestManager()
	res := resource.Global
	a, b, c := newTestOwner(1), newTestOwner(2), newTestOwner(3)

	ra := a.newRequest()
	ra.EnqueueAtFront = true
	ra.CompatibleFirst = true
	rb, rc := b.newRequest(), c.newRequest()

	require.Equal(t, ResultOK, lm.Lock(res, ra, ModeS))
	require.Equal(t, ResultWaiting, lm.Lock(res, rb, ModeX))
	// With a compatible-first grant only granted modes are checked.
	require.Equal(t, ResultOK, lm.Lock(res, rc, ModeIS))

	state, _ := lm.Inspect(res)
	assert.Equal(t, uint32(1), state.CompatibleFirstCount)

	assert.True(t, lm.Unlock(ra))
	b.requireNotNotified(t)
	assert.True(t, lm.Unlock(rc))
	b.requireNotified(t)
	assert.True(t, lm.Unlock(rb))
}

func TestNewlyCompatibleFirstGrantsPastTheFront(t *testing.T) {
	lm := newTestManager()
	res := resource.Global
	a, b, c, d := newTestOwner(1), newTestOwner(2), newTestOwner(3), newTestOwner(4)

	ra, rb, rc, rd := a.newRequest(), b.newRequest(), c.newRequest(), d.newRequest()
	rb.EnqueueAtFront = true
	rb.CompatibleFirst = true

	require.Equal(t, ResultOK, lm.Lock(res, ra, ModeIX))
	require.Equal(t, ResultWaiting, lm.Lock(res, rc, ModeX))
	require.Equal(t, ResultWaiting, lm.Lock(res, rd, ModeIS))
	require.Equal(t, ResultWaiting, lm.Lock(res, rb, ModeS))

	// Queue is S(cf), X, IS. Granting the S switches to compatible-first,
	// so the IS behind the X is granted too.
	assert.True(t, lm.Unlock(ra))
	b.requireNotified(t)
	c.requireNotNotified(t)
	d.requireNotified(t)

	assert.True(t, lm.Unlock(rb))
	assert.True(t, lm.Unlock(rd))
	c.requireNotified(t)
	assert.True(t, lm.Unlock(rc))
}

func TestEnqueueAtFront(t *testing.T) {
	lm := newTestManager()
	res := resource.Collection("test.front")
	a, b, c := newTestOwner(1), newTestOwner(2), newTestOwner(3)

	ra, rb, rc := a.newRequest(), b.newRequest(), c.newRequest()
	rc.EnqueueAtFront = true
	require.Equal(t, ResultOK, lm.Lock(res, ra, ModeX))
	require.Equal(t, ResultWaiting, lm.Lock(res, rb, ModeS))
	require.Equal(t, ResultWaiting, lm.Lock(res, rc, ModeX))

	assert.True(t, lm.Unlock(ra))
	c.requireNotified(t)
	b.requireNotNotified(t)

	assert.True(t, lm.Unlock(rc))
	b.requireNotified(t)
	assert.True(t, lm.Unlock(rb))
}

func TestFrontOfQueueIsNotBypassed(t *testing.T) {
	lm := newTestManager()
	res := resource.Collection("test.fifo")
	a, b, c, d := newTestOwner(1), newTestOwner(2), newTestOwner(3), newTestOwner(4)

	ra, rb, rc, rd := a.newRequest(), b.newRequest(), c.newRequest(), d.newRequest()
	require.Equal(t, ResultOK, lm.Lock(res, ra, ModeX))
	require.Equal(t, ResultWaiting, lm.Lock(res, rb, ModeIS))
	require.Equal(t, ResultWaiting, lm.Lock(res, rc, ModeX))
	require.Equal(t, ResultWaiting, lm.Lock(res, rd, ModeS))

	assert.True(t, lm.Unlock(ra))
	b.requireNotified(t)
	c.requireNotNotified(t)
	d.requireNotNotified(t)

	assert.True(t, lm.Unlock(rb))
	c.requireNotified(t)
	d.requireNotNotified(t)

	assert.True(t, lm.Unlock(rc))
	d.requireNotified(t)
	assert.True(t, lm.Unlock(rd))
}

func TestReentrancy(t *testing.T) {
	lm := newTestManager()
	res := resource.Database("reenter")
	a := newTestOwner(1)

	ra := a.newRequest()
	require.Equal(t, ResultOK, lm.Lock(res, ra, ModeS))
	// Covered modes need no lock table change.
	require.Equal(t, ResultOK, lm.Convert(res, ra, ModeIS))
	require.Equal(t, ResultOK, lm.Convert(res, ra, ModeS))
	assert.Equal(t, uint32(3), ra.RecursiveCount())
	assert.Equal(t, ModeS, ra.Mode())

	assert.False(t, lm.Unlock(ra))
	assert.False(t, lm.Unlock(ra))
	assert.True(t, lm.Unlock(ra))
}

func TestConversion(t *testing.T) {
	lm := newTestManager()
	res := resource.Collection("test.convert")
	a, b := newTestOwner(1), newTestOwner(2)

	ra, rb := a.newRequest(), b.newRequest()
	require.Equal(t, ResultOK, lm.Lock(res, ra, ModeS))
	require.Equal(t, ResultOK, lm.Lock(res, rb, ModeS))

	require.Equal(t, ResultWaiting, lm.Convert(res, ra, ModeX))
	state, _ := lm.Inspect(res)
	assert.Equal(t, uint32(1), state.ConversionsCount)
	assert.Equal(t, uint32(1), state.GrantedCounts[ModeX])

	assert.True(t, lm.Unlock(rb))
	a.requireNotified(t)
	assert.Equal(t, ModeX, ra.Mode())
	assert.Equal(t, StatusGranted, ra.Status())

	state, _ = lm.Inspect(res)
	assert.Equal(t, uint32(0), state.ConversionsCount)
	assert.Equal(t, uint32(1), state.GrantedCounts[ModeX])
	assert.Equal(t, uint32(0), state.GrantedCounts[ModeS])

	assert.False(t, lm.Unlock(ra))
	assert.True(t, lm.Unlock(ra))
}

func TestConversionWithoutContention(t *testing.T) {
	lm := newTestManager()
	res := resource.Collection("test.upgrade")
	ra := newTestOwner(1).newRequest()

	require.Equal(t, ResultOK, lm.Lock(res, ra, ModeIS))
	require.Equal(t, ResultOK, lm.Convert(res, ra, ModeIX))
	require.Equal(t, ResultOK, lm.Convert(res, ra, ModeX))
	assert.Equal(t, ModeX, ra.Mode())

	state, _ := lm.Inspect(res)
	assert.Equal(t, ModeX.Mask(), state.GrantedModes)
	assert.False(t, lm.Unlock(ra))
	assert.False(t, lm.Unlock(ra))
	assert.True(t, lm.Unlock(ra))
}

func TestConversionCancelledByUnlock(t *testing.T) {
	lm := newTestManager()
	res := resource.Collection("test.cancel")
	a, b := newTestOwner(1), newTestOwner(2)

	ra, rb := a.newRequest(), b.newRequest()
	require.Equal(t, ResultOK, lm.Lock(res, ra, ModeS))
	require.Equal(t, ResultOK, lm.Lock(res, rb, ModeS))
	require.Equal(t, ResultWaiting, lm.Convert(res, ra, ModeX))

	assert.False(t, lm.Unlock(ra))
	assert.Equal(t, StatusGranted, ra.Status())
	assert.Equal(t, ModeS, ra.Mode())

	state, _ := lm.Inspect(res)
	assert.Equal(t, uint32(2), state.GrantedCounts[ModeS])
	assert.Equal(t, uint32(0), state.GrantedCounts[ModeX])
	assert.Equal(t, uint32(0), state.ConversionsCount)

	assert.True(t, lm.Unlock(ra))
	assert.True(t, lm.Unlock(rb))
}

func TestConversionHasPriorityOverQueue(t *testing.T) {
	lm := newTestManager()
	res := resource.Collection("test.priority")
	a, b, c := newTestOwner(1), newTestOwner(2), newTestOwner(3)

	ra, rb, rc := a.newRequest(), b.newRequest(), c.newRequest()
	require.Equal(t, ResultOK, lm.Lock(res, ra, ModeS))
	require.Equal(t, ResultOK, lm.Lock(res, rb, ModeS))
	require.Equal(t, ResultWaiting, lm.Lock(res, rc, ModeX))
	require.Equal(t, ResultWaiting, lm.Convert(res, ra, ModeX))

	assert.True(t, lm.Unlock(rb))
	a.requireNotified(t)
	c.requireNotNotified(t)

	assert.False(t, lm.Unlock(ra))
	assert.True(t, lm.Unlock(ra))
	c.requireNotified(t)
	assert.True(t, lm.Unlock(rc))
}

func TestDowngrade(t *testing.T) {
	lm := newTestManager()
	res := resource.Collection("test.downgrade")
	a, b := newTestOwner(1), newTestOwner(2)

	ra, rb := a.newRequest(), b.newRequest()
	require.Equal(t, ResultOK, lm.Lock(res, ra, ModeX))
	require.Equal(t, ResultWaiting, lm.Lock(res, rb, ModeS))

	lm.Downgrade(ra, ModeS)
	b.requireNotified(t)
	assert.Equal(t, ModeS, ra.Mode())

	state, _ := lm.Inspect(res)
	assert.Equal(t, uint32(2), state.GrantedCounts[ModeS])
	assert.Equal(t, uint32(0), state.GrantedCounts[ModeX])

	assert.Panics(t, func() { lm.Downgrade(ra, ModeX) })

	assert.True(t, lm.Unlock(ra))
	assert.True(t, lm.Unlock(rb))
}

func TestUnlockWaitingRequest(t *testing.T) {
	lm := newTestManager()
	res := resource.Collection("test.cancelwait")
	a, b := newTestOwner(1), newTestOwner(2)

	ra, rb := a.newRequest(), b.newRequest()
	require.Equal(t, ResultOK, lm.Lock(res, ra, ModeX))
	require.Equal(t, ResultWaiting, lm.Lock(res, rb, ModeX))

	assert.True(t, lm.Unlock(rb))
	state, _ := lm.Inspect(res)
	assert.Equal(t, uint32(0), state.ConflictModes)

	assert.True(t, lm.Unlock(ra))
	b.requireNotNotified(t)

	assert.GreaterOrEqual(t, lm.CleanupUnusedLocks(), 1)
	_, ok := lm.Inspect(res)
	assert.False(t, ok)
}

func TestPartitionedIntentGrants(t *testing.T) {
	lm := newTestManager()
	res := resource.Database("partitioned")
	a, b := newTestOwner(1), newTestOwner(2)

	ra, rb := a.newRequest(), b.newRequest()
	require.Equal(t, ResultOK, lm.Lock(res, ra, ModeIS))
	require.Equal(t, ResultOK, lm.Lock(res, rb, ModeIS))

	bkt := lm.bucketFor(res)
	bkt.mu.Lock()
	h := bkt.data[res]
	assert.Len(t, h.partitions, 2)
	// Partitioned grants are not counted on the lock head.
	assert.Equal(t, uint32(0), h.grantedCounts[ModeIS])
	bkt.mu.Unlock()

	state, ok := lm.Inspect(res)
	require.True(t, ok)
	assert.Equal(t, uint32(2), state.GrantedCounts[ModeIS])

	bkt.mu.Lock()
	assert.False(t, h.partitioned())
	bkt.mu.Unlock()

	assert.True(t, lm.Unlock(ra))
	assert.True(t, lm.Unlock(rb))
}

func TestExclusiveRequestMigratesPartitions(t *testing.T) {
	lm := newTestManager()
	res := resource.Database("migrate")
	a, b, c := newTestOwner(1), newTestOwner(2), newTestOwner(3)

	ra, rb, rc := a.newRequest(), b.newRequest(), c.newRequest()
	require.Equal(t, ResultOK, lm.Lock(res, ra, ModeIX))
	require.Equal(t, ResultOK, lm.Lock(res, rb, ModeIS))
	require.Equal(t, ResultWaiting, lm.Lock(res, rc, ModeS))

	state, _ := lm.Inspect(res)
	assert.Equal(t, uint32(1), state.GrantedCounts[ModeIX])
	assert.Equal(t, uint32(1), state.GrantedCounts[ModeIS])
	assert.Equal(t, uint32(1), state.ConflictCounts[ModeS])

	assert.True(t, lm.Unlock(ra))
	c.requireNotified(t)
	assert.True(t, lm.Unlock(rb))
	assert.True(t, lm.Unlock(rc))
}

func TestPartitionsAreIndependent(t *testing.T) {
	lm := newTestManager()
	res := resource.Database("independent")

	// Stall a partition none of the owners below map onto.
	stalled := &lm.partitions[5]
	stalled.mu.Lock()
	defer stalled.mu.Unlock()

	a, b := newTestOwner(1), newTestOwner(2)
	ra, rb := a.newRequest(), b.newRequest()
	require.Equal(t, ResultOK, lm.Lock(res, ra, ModeIS))
	require.Equal(t, ResultOK, lm.Lock(res, rb, ModeIX))

	// An owner sharing a partition with a granted intent request does not
	// need the bucket mutex.
	bkt := lm.bucketFor(res)
	bkt.mu.Lock()
	rc := newTestOwner(1 + numPartitions).newRequest()
	require.Equal(t, ResultOK, lm.Lock(res, rc, ModeIS))
	assert.True(t, lm.Unlock(rc))
	bkt.mu.Unlock()

	assert.True(t, lm.Unlock(ra))
	assert.True(t, lm.Unlock(rb))
}

func TestCleanupKeepsHeldLocks(t *testing.T) {
	lm := newTestManager()
	held := resource.Collection("test.held")
	released := resource.Collection("test.released")

	rh := newTestOwner(1).newRequest()
	rr := newTestOwner(2).newRequest()
	require.Equal(t, ResultOK, lm.Lock(held, rh, ModeIS))
	require.Equal(t, ResultOK, lm.Lock(released, rr, ModeX))
	require.True(t, lm.Unlock(rr))

	assert.Equal(t, 1, lm.CleanupUnusedLocks())

	state, ok := lm.Inspect(held)
	require.True(t, ok)
	assert.Equal(t, uint32(1), state.GrantedCounts[ModeIS])
	_, ok = lm.Inspect(released)
	assert.False(t, ok)
	assert.True(t, lm.Unlock(rh))
}

func TestInvariantViolationsPanic(t *testing.T) {
	lm := newTestManager()
	res := resource.Collection("test.panic")

	r := newTestOwner(1).newRequest()
	assert.Panics(t, func() { lm.Unlock(r) })
	assert.Panics(t, func() { lm.Convert(res, r, ModeX) })

	r = newTestOwner(2).newRequest()
	require.Equal(t, ResultOK, lm.Lock(res, r, ModeX))
	assert.Panics(t, func() { lm.Lock(res, r, ModeX) })

	r2 := newTestOwner(3).newRequest()
	require.Equal(t, ResultWaiting, lm.Lock(res, r2, ModeIX))
	assert.True(t, lm.Unlock(r2))
	assert.True(t, lm.Unlock(r))
}

func TestReport(t *testing.T) {
	lm := newTestManager()
	res := resource.Collection("test.report")
	a, b := newTestOwner(1), newTestOwner(2)

	ra, rb := a.newRequest(), b.newRequest()
	require.Equal(t, ResultOK, lm.Lock(res, ra, ModeX))
	require.Equal(t, ResultWaiting, lm.Lock(res, rb, ModeS))

	infos := lm.Report()
	require.Len(t, infos, 1)
	assert.Equal(t, res.String(), infos[0].ResourceID)
	require.Len(t, infos[0].Granted, 1)
	require.Len(t, infos[0].Pending, 1)
	assert.Equal(t, LockerID(1), infos[0].Granted[0].LockerID)
	assert.Equal(t, "X", infos[0].Granted[0].Mode)
	assert.Equal(t, "S", infos[0].Pending[0].Mode)

	lm.Dump()

	assert.True(t, lm.Unlock(rb))
	assert.True(t, lm.Unlock(ra))
	assert.Empty(t, lm.Report())
}
