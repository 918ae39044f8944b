package lockmanager

import (
	"github.com/SystemBuilders/LockMgr/internal/resource"
)

// lockHead is the per resource state: the granted and the conflict queues
// with their per mode counts. It is guarded by the mutex of its bucket.
type lockHead struct {
	resourceID resource.ID

	grantedList   requestList
	grantedCounts [ModeCount]uint32
	// grantedModes has the bit of every mode whose granted count is > 0.
	grantedModes uint32

	conflictList   requestList
	conflictCounts [ModeCount]uint32
	// conflictModes has the bit of every mode whose conflict count is > 0.
	conflictModes uint32

	// partitions with a partitionedLockHead for this resource. Non-empty
	// only while the resource has seen nothing but intent grants.
	partitions []*partition

	// conversionsCount is the number of granted requests in
	// StatusConverting.
	conversionsCount uint32
	// compatibleFirstCount is the number of granted requests with
	// CompatibleFirst set.
	compatibleFirstCount uint32
}

func newLockHead(id resource.ID) *lockHead {
	return &lockHead{resourceID: id}
}

func (h *lockHead) partitioned() bool {
	return len(h.partitions) != 0
}

func (h *lockHead) incGrantedModeCount(m Mode) {
	h.grantedCounts[m]++
	if h.grantedCounts[m] == 1 {
		invariant(h.grantedModes&m.Mask() == 0, "granted mode %s already set", m)
		h.grantedModes |= m.Mask()
	}
}

func (h *lockHead) decGrantedModeCount(m Mode) {
	invariant(h.grantedCounts[m] >= 1, "granted count of %s underflow", m)
	h.grantedCounts[m]--
	if h.grantedCounts[m] == 0 {
		invariant(h.grantedModes&m.Mask() == m.Mask(), "granted mode %s not set", m)
		h.grantedModes &^= m.Mask()
	}
}

func (h *lockHead) incConflictModeCount(m Mode) {
	h.conflictCounts[m]++
	if h.conflictCounts[m] == 1 {
		invariant(h.conflictModes&m.Mask() == 0, "conflict mode %s already set", m)
		h.conflictModes |= m.Mask()
	}
}

func (h *lockHead) decConflictModeCount(m Mode) {
	invariant(h.conflictCounts[m] >= 1, "conflict count of %s underflow", m)
	h.conflictCounts[m]--
	if h.conflictCounts[m] == 0 {
		invariant(h.conflictModes&m.Mask() == m.Mask(), "conflict mode %s not set", m)
		h.conflictModes &^= m.Mask()
	}
}

// findRequest returns the request of the locker, granted ones first.
func (h *lockHead) findRequest(id LockerID) *Request {
	for it := h.grantedList.front; it != nil; it = it.next {
		if it.owner.ID() == id {
			return it
		}
	}
	for it := h.conflictList.front; it != nil; it = it.next {
		if it.owner.ID() == id {
			return it
		}
	}
	return nil
}

// newRequest either grants the request or queues it. New requests wait if
// they conflict with a granted mode, or with a queued mode unless
// compatible-first requests are granted.
func (h *lockHead) newRequest(r *Request) Result {
	invariant(r.partitionedLock == nil, "request is on a partitioned lock head")
	r.lock = h

	if Conflicts(r.mode, h.grantedModes) ||
		(h.compatibleFirstCount == 0 && Conflicts(r.mode, h.conflictModes)) {
		r.status = StatusWaiting
		if r.EnqueueAtFront {
			h.conflictList.pushFront(r)
		} else {
			h.conflictList.pushBack(r)
		}
		h.incConflictModeCount(r.mode)
		return ResultWaiting
	}

	r.status = StatusGranted
	h.grantGranted(r)
	return ResultOK
}

// grantGranted links an already granted request into the granted queue.
// It does not write the status, migration runs concurrently with the
// owner reading it.
func (h *lockHead) grantGranted(r *Request) {
	h.grantedList.pushBack(r)
	h.incGrantedModeCount(r.mode)
	if r.CompatibleFirst {
		h.compatibleFirstCount++
	}
}

// grantedModesWithout returns the granted modes once the given per mode
// counts are discounted.
func (h *lockHead) grantedModesWithout(discount [ModeCount]uint32) uint32 {
	var modes uint32
	for m := ModeIS; m < ModeCount; m++ {
		if h.grantedCounts[m] > discount[m] {
			modes |= m.Mask()
		}
	}
	return modes
}

// migratePartitionedLockHeads moves all partitioned grants into the lock
// head. The caller holds the bucket mutex.
func (h *lockHead) migratePartitionedLockHeads() {
	invariant(h.partitioned(), "lock head is not partitioned")
	invariant(h.grantedModes&^intentModes == 0, "non intent grants on a partitioned lock head")
	invariant(h.conflictModes == 0, "conflicts on a partitioned lock head")

	for h.partitioned() {
		p := h.partitions[len(h.partitions)-1]
		p.migrate(h)
		h.partitions = h.partitions[:len(h.partitions)-1]
	}
}

// partitionedLockHead holds intent grants for one resource within one
// partition. It is guarded by the partition mutex.
type partitionedLockHead struct {
	grantedList requestList
}

func (p *partitionedLockHead) newRequest(r *Request) {
	invariant(r.partitioned, "request is not partitioned")
	r.partitionedLock = p
	r.status = StatusGranted
	p.grantedList.pushBack(r)
}
