package lockmanager

import (
	"sync/atomic"
	"testing"

	"github.com/oklog/ulid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/SystemBuilders/LockMgr/internal/resource"
)

// testOwner is an Owner and Notifier that records notifications.
type testOwner struct {
	id       LockerID
	waiting  atomic.Uint64
	notified chan Result
}

func newTestOwner(id LockerID) *testOwner {
	return &testOwner{
		id:       id,
		notified: make(chan Result, 4),
	}
}

func (o *testOwner) ID() LockerID { return o.id }

func (o *testOwner) OperationID() ulid.ULID { return ulid.ULID{} }

func (o *testOwner) WaitingResource() resource.ID { return resource.ID(o.waiting.Load()) }

func (o *testOwner) Notify(_ resource.ID, result Result) { o.notified <- result }

func (o *testOwner) newRequest() *Request { return NewRequest(o, o) }

func (o *testOwner) waitOn(id resource.ID) { o.waiting.Store(uint64(id)) }

func (o *testOwner) requireNotified(t *testing.T) {
	t.Helper()
	select {
	case r := <-o.notified:
		require.Equal(t, ResultOK, r)
	default:
		t.Fatalf("locker %d: no notification", o.id)
	}
}

func (o *testOwner) requireNotNotified(t *testing.T) {
	t.Helper()
	select {
	case r := <-o.notified:
		t.Fatalf("locker %d: unexpected notification %s", o.id, r)
	default:
	}
}

func newTestManager() *LockManager {
	return New(zerolog.Nop())
}
