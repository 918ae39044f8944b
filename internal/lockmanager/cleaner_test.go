package lockmanager

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SystemBuilders/LockMgr/internal/resource"
)

func TestCleanerDropsUnusedHeads(t *testing.T) {
	lm := newTestManager()
	res := resource.Collection("test.cleaner")

	r := newTestOwner(1).newRequest()
	require.Equal(t, ResultOK, lm.Lock(res, r, ModeX))
	require.True(t, lm.Unlock(r))
	_, ok := lm.Inspect(res)
	require.True(t, ok)

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		NewCleaner(lm, 5*time.Millisecond, zerolog.Nop()).Run(ctx)
		close(stopped)
	}()

	assert.Eventually(t, func() bool {
		_, ok := lm.Inspect(res)
		return !ok
	}, 5*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("cleaner did not stop")
	}
}
