package service

import (
	"context"
	"log"
	"time"

	"github.com/haatos/verify-ci/internal/store"
)

// RunHandle carries the cancellation state of one executing run. It is
// created by the RunCanceller and passed explicitly to whoever executes
// the run.
type RunHandle struct {
	RunID int64
	Group string

	ctx    context.Context
	cancel context.CancelFunc
}

func (h *RunHandle) Context() context.Context {
	return h.ctx
}

func (h *RunHandle) Cancelled() bool {
	return h.ctx.Err() != nil
}

func (h *RunHandle) Cancel() {
	h.cancel()
}

type RunCanceller struct {
	runStore store.RunStore
	handles  *CancelMap[int64]
}

func NewRunCanceller(runStore store.RunStore) *RunCanceller {
	return &RunCanceller{
		runStore: runStore,
		handles:  NewCancelMap[int64](),
	}
}

// Register creates the handle for a run executing in this process.
func (rc *RunCanceller) Register(r *store.Run) *RunHandle {
	ctx, cancel := context.WithCancel(context.Background())
	rc.handles.AddCancel(r.RunID, cancel)
	return &RunHandle{
		RunID:  r.RunID,
		Group:  r.RunGroup,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Release forgets the handle and stops anything still bound to its context.
func (rc *RunCanceller) Release(h *RunHandle) {
	rc.handles.RemoveCancel(h.RunID)
	h.cancel()
}

// Supersede cancels every older active run in r's group. The status update
// happens in a single statement, then the in-process handles of the
// cancelled runs are signalled. Runs executing elsewhere observe the
// persisted status through Watch.
func (rc *RunCanceller) Supersede(ctx context.Context, r *store.Run) ([]int64, error) {
	ids, err := rc.runStore.CancelOlderActiveRuns(ctx, r.RunGroup, r.RunID, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		rc.handles.Call(id)
	}
	return ids, nil
}

// Cancel cancels a single active run. It reports false when the run had
// already reached a terminal status.
func (rc *RunCanceller) Cancel(ctx context.Context, runID int64) (bool, error) {
	ok, err := rc.runStore.CancelRun(ctx, runID, time.Now().UTC())
	if err != nil {
		return false, err
	}
	if ok {
		rc.handles.Call(runID)
	}
	return ok, nil
}

// CancelAll signals every run executing in this process without touching
// the store. Used on shutdown.
func (rc *RunCanceller) CancelAll() {
	rc.handles.CallAll()
}

// Watch polls the persisted status of h's run and cancels h once the run
// was cancelled by another process. It returns when h's context is done.
func (rc *RunCanceller) Watch(h *RunHandle, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-h.ctx.Done():
			return
		case <-ticker.C:
			status, err := rc.runStore.ReadRunStatus(h.ctx, h.RunID)
			if err != nil {
				if h.ctx.Err() == nil {
					log.Printf("err polling status of run %d: %+v\n", h.RunID, err)
				}
				continue
			}
			if status == store.StatusCancelled {
				h.cancel()
				return
			}
		}
	}
}
