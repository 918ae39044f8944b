// Package lockmanager implements the multi-granularity lock table: shared,
// exclusive and intent modes over hierarchical resources, FIFO conflict
// queues with starvation protection, lock conversion, and deadlock
// detection over the wait-for graph.
package lockmanager

import (
	"github.com/rs/zerolog"

	"github.com/SystemBuilders/LockMgr/internal/resource"
)

const (
	numLockBuckets = 128
	numPartitions  = 32
)

// LockManager is the lock table shared by all owners of a process. Resource
// state is sharded into buckets by resource id, and uncontended intent
// grants are kept per partition of owners so that they do not touch the
// bucket mutex.
//
// The LockManager never blocks. Requests that cannot be granted return
// ResultWaiting, and their Notifier is invoked once they are granted.
type LockManager struct {
	log        zerolog.Logger
	buckets    [numLockBuckets]bucket
	partitions [numPartitions]partition
}

// New returns a ready to use LockManager.
func New(log zerolog.Logger) *LockManager {
	lm := &LockManager{
		log: log,
	}
	for i := range lm.buckets {
		lm.buckets[i].data = make(map[resource.ID]*lockHead)
	}
	for i := range lm.partitions {
		lm.partitions[i].data = make(map[resource.ID]*partitionedLockHead)
	}
	return lm
}

func (lm *LockManager) bucketFor(id resource.ID) *bucket {
	return &lm.buckets[uint64(id)%numLockBuckets]
}

func (lm *LockManager) partitionFor(r *Request) *partition {
	return &lm.partitions[uint64(r.owner.ID())%numPartitions]
}

// Lock acquires id in mode for a new request. It returns ResultOK if the
// request was granted, or ResultWaiting if it was queued, in which case the
// request's Notifier is called once the outcome is known.
func (lm *LockManager) Lock(id resource.ID, r *Request, mode Mode) Result {
	invariant(mode > ModeNone && mode < ModeCount, "invalid lock mode %d", mode)
	invariant(r.status == StatusNew, "lock of a %s request", r.status)
	invariant(r.recursiveCount == 0, "lock of a request with recursive count %d", r.recursiveCount)

	r.resourceID = id
	r.mode = mode
	r.recursiveCount = 1
	r.partitioned = mode == ModeIS || mode == ModeIX

	if r.partitioned {
		p := lm.partitionFor(r)
		p.mu.Lock()
		if plh := p.find(id); plh != nil {
			plh.newRequest(r)
			p.mu.Unlock()
			return ResultOK
		}
		p.mu.Unlock()
	}

	b := lm.bucketFor(id)
	b.mu.Lock()
	defer b.mu.Unlock()

	h := b.findOrInsert(id)

	if r.partitioned && h.grantedModes&^intentModes == 0 && h.conflictModes == 0 {
		p := lm.partitionFor(r)
		p.mu.Lock()
		plh := p.findOrInsert(id)
		h.partitions = append(h.partitions, p)
		plh.newRequest(r)
		p.mu.Unlock()
		return ResultOK
	}

	if h.partitioned() {
		h.migratePartitionedLockHeads()
	}

	r.partitioned = false
	return h.newRequest(r)
}

// Convert moves a granted request to newMode, which must cover its current
// mode. Conversions to an already covered mode succeed without touching the
// lock table. The recursive count is incremented either way.
func (lm *LockManager) Convert(id resource.ID, r *Request, newMode Mode) Result {
	invariant(r.recursiveCount > 0, "convert of an unlocked request")
	r.recursiveCount++

	if conflictTable[r.mode]|conflictTable[newMode] == conflictTable[r.mode] {
		return ResultOK
	}
	invariant(conflictTable[r.mode]|conflictTable[newMode] == conflictTable[newMode],
		"conversion from %s to %s is not an upgrade", r.mode, newMode)

	b := lm.bucketFor(id)
	b.mu.Lock()
	defer b.mu.Unlock()

	h, ok := b.data[id]
	invariant(ok, "convert on %s without a lock head", id)
	if h.partitioned() {
		h.migratePartitionedLockHeads()
	}
	invariant(r.status == StatusGranted, "convert of a %s request", r.status)

	var self [ModeCount]uint32
	self[r.mode] = 1
	if Conflicts(newMode, h.grantedModesWithout(self)) {
		r.status = StatusConverting
		r.convertMode = newMode
		h.conversionsCount++
		h.incGrantedModeCount(newMode)
		return ResultWaiting
	}

	h.incGrantedModeCount(newMode)
	h.decGrantedModeCount(r.mode)
	r.mode = newMode
	return ResultOK
}

// Unlock decrements the recursive count of the request and releases it once
// the count drops to zero. Waiting requests and pending conversions are
// cancelled. It returns true if the request is fully released.
func (lm *LockManager) Unlock(r *Request) bool {
	invariant(r.recursiveCount > 0, "unlock of an unlocked request")
	r.recursiveCount--

	if r.partitioned {
		p := lm.partitionFor(r)
		p.mu.Lock()
		if plh := r.partitionedLock; plh != nil {
			if r.recursiveCount > 0 {
				p.mu.Unlock()
				return false
			}
			plh.grantedList.remove(r)
			r.partitionedLock = nil
			p.mu.Unlock()
			return true
		}
		p.mu.Unlock()
	}

	b := lm.bucketFor(r.resourceID)
	b.mu.Lock()
	defer b.mu.Unlock()

	h := r.lock
	invariant(h != nil, "unlock of a request without a lock head")

	switch r.status {
	case StatusGranted:
		if r.recursiveCount > 0 {
			return false
		}
		h.grantedList.remove(r)
		h.decGrantedModeCount(r.mode)
		if r.CompatibleFirst {
			invariant(h.compatibleFirstCount > 0, "compatible first count underflow")
			h.compatibleFirstCount--
		}
		lm.onLockModeChanged(h, h.grantedCounts[r.mode] == 0)
	case StatusWaiting:
		h.conflictList.remove(r)
		h.decConflictModeCount(r.mode)
		lm.onLockModeChanged(h, true)
	case StatusConverting:
		invariant(r.recursiveCount > 0, "converting request fully unlocked")
		r.status = StatusGranted
		h.conversionsCount--
		h.decGrantedModeCount(r.convertMode)
		r.convertMode = ModeNone
		lm.onLockModeChanged(h, true)
	default:
		invariant(false, "unlock of a %s request", r.status)
	}
	return r.recursiveCount == 0
}

// Downgrade moves a granted request to a mode covered by its current one
// and grants whatever that unblocks.
func (lm *LockManager) Downgrade(r *Request, newMode Mode) {
	invariant(IsModeCovered(newMode, r.mode), "downgrade from %s to %s", r.mode, newMode)

	b := lm.bucketFor(r.resourceID)
	b.mu.Lock()
	defer b.mu.Unlock()

	h, ok := b.data[r.resourceID]
	invariant(ok, "downgrade on %s without a lock head", r.resourceID)
	if h.partitioned() {
		h.migratePartitionedLockHeads()
	}
	invariant(r.status == StatusGranted, "downgrade of a %s request", r.status)

	h.incGrantedModeCount(newMode)
	h.decGrantedModeCount(r.mode)
	r.mode = newMode
	lm.onLockModeChanged(h, true)
}

// CleanupUnusedLocks folds partitioned grants back into their lock heads
// and drops the heads that have no grants left. It returns the number of
// dropped heads.
func (lm *LockManager) CleanupUnusedLocks() int {
	deleted := 0
	for i := range lm.buckets {
		b := &lm.buckets[i]
		b.mu.Lock()
		deleted += lm.cleanupUnusedLocksInBucket(b)
		b.mu.Unlock()
	}
	if deleted > 0 {
		lm.
			log.
			Debug().
			Int("deleted", deleted).
			Msg("cleaned up unused lock heads")
	}
	return deleted
}

func (lm *LockManager) cleanupUnusedLocksInBucket(b *bucket) int {
	deleted := 0
	for id, h := range b.data {
		if h.partitioned() {
			h.migratePartitionedLockHeads()
		}
		if h.grantedModes != 0 {
			continue
		}
		invariant(h.grantedList.empty(), "granted queue of %s out of sync", id)
		invariant(h.conflictModes == 0 && h.conflictList.empty(), "waiters on %s without grants", id)
		invariant(h.conversionsCount == 0, "conversions on %s without grants", id)
		invariant(h.compatibleFirstCount == 0, "compatible first grants on %s without grants", id)
		delete(b.data, id)
		deleted++
	}
	return deleted
}

// onLockModeChanged grants pending conversions and, if checkConflictQueue
// is set, queued requests that no longer conflict. The caller holds the
// bucket mutex of h.
//
// Compatible requests behind a conflicting one are granted as well, so
// mutually compatible requests interleaved with conflicting ones do not
// serialize. The front of the queue is never bypassed unless the pass
// switched the resource into compatible-first mode.
func (lm *LockManager) onLockModeChanged(h *lockHead, checkConflictQueue bool) {
	for it := h.grantedList.front; it != nil && h.conversionsCount > 0; it = it.next {
		if it.status != StatusConverting {
			continue
		}
		invariant(it.convertMode != ModeNone, "converting request without a target mode")

		var self [ModeCount]uint32
		self[it.mode]++
		self[it.convertMode]++
		if !Conflicts(it.convertMode, h.grantedModesWithout(self)) {
			h.conversionsCount--
			h.decGrantedModeCount(it.mode)
			it.status = StatusGranted
			it.mode = it.convertMode
			it.convertMode = ModeNone
			it.notify.Notify(h.resourceID, ResultOK)
		}
	}

	newlyCompatibleFirst := false
	var next *Request
	for it := h.conflictList.front; it != nil && checkConflictQueue; it = next {
		invariant(it.status == StatusWaiting, "%s request on the conflict queue", it.status)
		next = it.next

		if Conflicts(it.mode, h.grantedModes) {
			if it.prev == nil && !newlyCompatibleFirst {
				break
			}
			continue
		}

		it.status = StatusGranted
		h.conflictList.remove(it)
		h.decConflictModeCount(it.mode)
		h.grantGranted(it)
		if it.CompatibleFirst && h.compatibleFirstCount == 1 {
			newlyCompatibleFirst = true
		}
		it.notify.Notify(h.resourceID, ResultOK)

		// Nothing is compatible with X.
		if it.mode == ModeX {
			break
		}
	}

	invariant((h.grantedModes == 0) != !h.grantedList.empty(), "granted modes of %s out of sync", h.resourceID)
	invariant((h.conflictModes == 0) != !h.conflictList.empty(), "conflict modes of %s out of sync", h.resourceID)
}
