package lockmanager

import (
	"github.com/oklog/ulid"

	"github.com/SystemBuilders/LockMgr/internal/resource"
)

// LockerID identifies the owner of lock requests.
type LockerID uint64

// Owner describes the entity that issues lock requests. The deadlock
// detector calls into owners of other requests, so WaitingResource must be
// safe to call from any goroutine.
type Owner interface {
	// ID returns the unique id of the owner.
	ID() LockerID
	// OperationID returns the id of the operation the owner runs for.
	OperationID() ulid.ULID
	// WaitingResource returns the resource the owner is blocked on, or
	// resource.Invalid.
	WaitingResource() resource.ID
}

// Notifier receives the outcome of a request that returned ResultWaiting.
// Notify is invoked while the lock manager holds internal mutexes, so it
// must not block and must not call back into the LockManager.
type Notifier interface {
	Notify(id resource.ID, result Result)
}

// Status is the lifecycle state of a Request.
type Status uint8

// Request statuses.
const (
	StatusNew Status = iota
	StatusGranted
	StatusWaiting
	StatusConverting
)

var statusNames = [...]string{"new", "granted", "waiting", "converting"}

func (s Status) String() string {
	if int(s) >= len(statusNames) {
		return "unknown"
	}
	return statusNames[s]
}

// Request is a single owner's interest in a single resource. It is created
// by the owner, passed to LockManager.Lock and reused for conversions and
// recursive acquisitions until fully unlocked.
//
// EnqueueAtFront and CompatibleFirst must only be set before the request is
// first passed to Lock.
type Request struct {
	// EnqueueAtFront places the request at the head of the conflict queue
	// when it has to wait.
	EnqueueAtFront bool
	// CompatibleFirst lets compatible requests jump queued conflicting
	// ones while this request is granted.
	CompatibleFirst bool

	owner      Owner
	notify     Notifier
	resourceID resource.ID

	// Guarded by the mutex of the head the request is linked into.
	partitioned     bool
	recursiveCount  uint32
	lock            *lockHead
	partitionedLock *partitionedLockHead
	prev, next      *Request
	status          Status
	mode            Mode
	convertMode     Mode
}

// NewRequest returns a request in StatusNew.
func NewRequest(owner Owner, notify Notifier) *Request {
	return &Request{
		owner:  owner,
		notify: notify,
		status: StatusNew,
	}
}

// Owner returns the owner of the request.
func (r *Request) Owner() Owner {
	return r.owner
}

// ResourceID returns the resource the request was locked on.
func (r *Request) ResourceID() resource.ID {
	return r.resourceID
}

// Status returns the status of the request. Only the owner may call it,
// and only while no call into the LockManager for this request is pending.
func (r *Request) Status() Status {
	return r.status
}

// Mode returns the granted or requested mode. Same rules as Status.
func (r *Request) Mode() Mode {
	return r.mode
}

// RecursiveCount returns the number of outstanding acquisitions. Same
// rules as Status.
func (r *Request) RecursiveCount() uint32 {
	return r.recursiveCount
}
