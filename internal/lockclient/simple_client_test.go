package lockclient

import (
	"context"
	"net"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SystemBuilders/LockMgr/internal/locker"
	"github.com/SystemBuilders/LockMgr/internal/lockmanager"
	"github.com/SystemBuilders/LockMgr/internal/resource"
	"github.com/SystemBuilders/LockMgr/internal/routing"
	"github.com/SystemBuilders/LockMgr/internal/ticket"
)

func startServer(t *testing.T) (*routing.Service, *SimpleClient) {
	write, err := ticket.NewHolder(2)
	require.NoError(t, err)
	s := &routing.Service{
		Env: locker.NewEnvironment(
			lockmanager.New(zerolog.Nop()),
			zerolog.Nop(),
			locker.WithTickets(nil, write),
		),
		WriteTickets: write,
		Log:          zerolog.Nop(),
	}
	srv := httptest.NewServer(routing.SetupRouting(s, mux.NewRouter()))
	t.Cleanup(srv.Close)

	host, port, err := net.SplitHostPort(strings.TrimPrefix(srv.URL, "http://"))
	require.NoError(t, err)
	return s, NewSimpleClient(NewSimpleConfig(host, port), nil)
}

func TestAcquireAndInspect(t *testing.T) {
	s, sc := startServer(t)
	ctx := context.Background()
	require.NoError(t, sc.Health(ctx))

	l := s.Env.NewLocker()
	require.Equal(t, lockmanager.ResultOK, l.Lock(ctx, resource.Global, lockmanager.ModeIX, false))
	require.Equal(t, lockmanager.ResultOK, l.Lock(ctx, resource.Database("client"), lockmanager.ModeIX, false))

	infos, err := sc.Locks(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, resource.Global.String(), infos[0].ResourceID)
	require.Len(t, infos[0].Granted, 1)
	assert.Equal(t, l.ID(), infos[0].Granted[0].LockerID)
	assert.Equal(t, l.OperationID().String(), infos[0].Granted[0].OperationID)

	report, err := sc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), report["Database"]["acquireCount"]["w"])

	tickets, err := sc.Tickets(ctx)
	require.NoError(t, err)
	assert.False(t, tickets.Read.Enabled)
	assert.Equal(t, 1, tickets.Write.Used)
	assert.Equal(t, 2, tickets.Write.OutOf)

	assert.True(t, l.UnlockGlobal())

	require.NoError(t, sc.ResetStats(ctx))
	report, err = sc.Stats(ctx)
	require.NoError(t, err)
	assert.Empty(t, report)

	infos, err = sc.Locks(ctx)
	require.NoError(t, err)
	assert.Empty(t, infos)
}

func TestResizeTickets(t *testing.T) {
	s, sc := startServer(t)
	ctx := context.Background()

	info, err := sc.ResizeTickets(ctx, "write", 5)
	require.NoError(t, err)
	assert.Equal(t, 5, info.OutOf)
	assert.Equal(t, 5, s.WriteTickets.Available())

	_, err = sc.ResizeTickets(ctx, "read", 5)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnexpectedStatus))
}

func TestLockerSessions(t *testing.T) {
	s, sc := startServer(t)
	ctx := context.Background()

	owner, err := sc.NewLocker(ctx)
	require.NoError(t, err)
	waiter, err := sc.NewLocker(ctx)
	require.NoError(t, err)

	resp, err := sc.Acquire(ctx, owner.LockerID, routing.AcquireRequest{Type: "Global", Mode: "IX"})
	require.NoError(t, err)
	assert.Equal(t, "IX", resp.Mode)
	_, err = sc.Acquire(ctx, owner.LockerID, routing.AcquireRequest{Type: "Database", Name: "client", Mode: "X"})
	require.NoError(t, err)

	tickets, err := sc.Tickets(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, tickets.Write.Used)

	_, err = sc.Acquire(ctx, waiter.LockerID, routing.AcquireRequest{Type: "Global", Mode: "IS"})
	require.NoError(t, err)
	_, err = sc.Acquire(ctx, waiter.LockerID, routing.AcquireRequest{
		Type:          "Database",
		Name:          "client",
		Mode:          "IS",
		TimeoutMillis: 20,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, lockmanager.ErrLockTimeout))

	info, err := sc.LockerInfo(ctx, owner.LockerID)
	require.NoError(t, err)
	require.Len(t, info.Locks, 2)
	assert.Equal(t, resource.Database("client"), info.Locks[1].ResourceID)

	rel, err := sc.Release(ctx, owner.LockerID, routing.ReleaseRequest{Type: "Database", Name: "client"})
	require.NoError(t, err)
	assert.True(t, rel.Released)

	require.NoError(t, sc.EndLocker(ctx, owner.LockerID))
	_, err = sc.LockerInfo(ctx, owner.LockerID)
	assert.True(t, errors.Is(err, ErrUnexpectedStatus))

	tickets, err = sc.Tickets(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, tickets.Write.Used)

	require.NoError(t, sc.EndLocker(ctx, waiter.LockerID))
	assert.Zero(t, s.EndSessions())
	assert.Empty(t, s.Env.Manager().Report())
}
