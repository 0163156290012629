package service

import (
	"context"
	"testing"
	"time"

	"github.com/haatos/verify-ci/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestRun(t *testing.T, runStore store.RunStore, group string) *store.Run {
	t.Helper()
	r, err := runStore.CreateRun(context.Background(), &store.Run{
		RunGroup:  group,
		EventKind: "push",
		Ref:       "main",
		Revision:  "abc",
	})
	require.NoError(t, err)
	return r
}

func TestRunCanceller_Supersede(t *testing.T) {
	t.Run("success - older runs are cancelled and signalled", func(t *testing.T) {
		// arrange
		runStore := newTestRunStore(t)
		rc := NewRunCanceller(runStore)
		older := createTestRun(t, runStore, "branch:main")
		olderHandle := rc.Register(older)
		defer rc.Release(olderHandle)
		other := createTestRun(t, runStore, "branch:dev")
		otherHandle := rc.Register(other)
		defer rc.Release(otherHandle)
		newer := createTestRun(t, runStore, "branch:main")
		newerHandle := rc.Register(newer)
		defer rc.Release(newerHandle)

		// act
		ids, err := rc.Supersede(context.Background(), newer)

		// assert
		assert.NoError(t, err)
		assert.Equal(t, []int64{older.RunID}, ids)
		assert.True(t, olderHandle.Cancelled())
		assert.False(t, otherHandle.Cancelled())
		assert.False(t, newerHandle.Cancelled())
		status, _ := runStore.ReadRunStatus(context.Background(), older.RunID)
		assert.Equal(t, store.StatusCancelled, status)
		status, _ = runStore.ReadRunStatus(context.Background(), newer.RunID)
		assert.Equal(t, store.StatusPending, status)
	})
	t.Run("success - late supersession of a newer run is a no-op", func(t *testing.T) {
		// arrange
		runStore := newTestRunStore(t)
		rc := NewRunCanceller(runStore)
		older := createTestRun(t, runStore, "pr:1")
		newer := createTestRun(t, runStore, "pr:1")
		newerHandle := rc.Register(newer)
		defer rc.Release(newerHandle)
		_, err := rc.Supersede(context.Background(), newer)
		require.NoError(t, err)

		// act
		ids, err := rc.Supersede(context.Background(), older)

		// assert
		assert.NoError(t, err)
		assert.Empty(t, ids)
		assert.False(t, newerHandle.Cancelled())
	})
	t.Run("success - runs without handle are cancelled in the store", func(t *testing.T) {
		// arrange
		runStore := newTestRunStore(t)
		rc := NewRunCanceller(runStore)
		remote := createTestRun(t, runStore, "branch:main")
		newer := createTestRun(t, runStore, "branch:main")

		// act
		ids, err := rc.Supersede(context.Background(), newer)

		// assert
		assert.NoError(t, err)
		assert.Equal(t, []int64{remote.RunID}, ids)
	})
}

func TestRunCanceller_Cancel(t *testing.T) {
	t.Run("success - active run is cancelled", func(t *testing.T) {
		// arrange
		runStore := newTestRunStore(t)
		rc := NewRunCanceller(runStore)
		r := createTestRun(t, runStore, "branch:main")
		h := rc.Register(r)
		defer rc.Release(h)

		// act
		ok, err := rc.Cancel(context.Background(), r.RunID)

		// assert
		assert.NoError(t, err)
		assert.True(t, ok)
		assert.True(t, h.Cancelled())
	})
	t.Run("failure - terminal run is left alone", func(t *testing.T) {
		// arrange
		runStore := newTestRunStore(t)
		rc := NewRunCanceller(runStore)
		r := createTestRun(t, runStore, "branch:main")
		_, err := runStore.FinishRun(context.Background(), r.RunID, store.StatusPassed, nil, time.Now().UTC())
		require.NoError(t, err)

		// act
		ok, err := rc.Cancel(context.Background(), r.RunID)

		// assert
		assert.NoError(t, err)
		assert.False(t, ok)
		status, _ := runStore.ReadRunStatus(context.Background(), r.RunID)
		assert.Equal(t, store.StatusPassed, status)
	})
}

func TestRunCanceller_Watch(t *testing.T) {
	t.Run("success - cancellation by another process is observed", func(t *testing.T) {
		// arrange
		runStore := newTestRunStore(t)
		rc := NewRunCanceller(runStore)
		r := createTestRun(t, runStore, "branch:main")
		h := rc.Register(r)
		defer rc.Release(h)
		done := make(chan struct{})
		go func() {
			defer close(done)
			rc.Watch(h, 5*time.Millisecond)
		}()

		// act
		_, err := runStore.CancelRun(context.Background(), r.RunID, time.Now().UTC())

		// assert
		assert.NoError(t, err)
		waitFor(t, h.Cancelled)
		<-done
	})
	t.Run("success - watch stops when the handle is released", func(t *testing.T) {
		// arrange
		runStore := newTestRunStore(t)
		rc := NewRunCanceller(runStore)
		h := rc.Register(createTestRun(t, runStore, "branch:main"))
		done := make(chan struct{})
		go func() {
			defer close(done)
			rc.Watch(h, 5*time.Millisecond)
		}()

		// act
		rc.Release(h)

		// assert
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("watch did not stop")
		}
	})
}

func TestCancelMap(t *testing.T) {
	// arrange
	m := NewCancelMap[int64]()
	ctx, cancel := context.WithCancel(context.Background())
	m.AddCancel(1, cancel)

	// act
	missing := m.Call(2)
	found := m.Call(1)

	// assert
	assert.False(t, missing)
	assert.True(t, found)
	assert.Error(t, ctx.Err())
}
