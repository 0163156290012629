package service

import (
	"context"
	"errors"
	"time"

	"github.com/haatos/verify-ci/internal/store"
	"github.com/haatos/verify-ci/internal/types"
)

// StageExecFunc executes a single stage. It must stop when ctx is done.
type StageExecFunc func(ctx context.Context) store.StageResult

// RunWithTimeout races exec against timeout. The natural result is
// returned when exec finishes first. Otherwise exec's context is cancelled
// and a timed out result is returned without waiting for exec to return.
// A parent context cancelled before either yields a skipped result.
func RunWithTimeout(
	ctx context.Context,
	stage types.Stage,
	timeout time.Duration,
	exec StageExecFunc,
) store.StageResult {
	start := time.Now()
	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	doneCh := make(chan store.StageResult, 1)
	go func() {
		doneCh <- exec(timeoutCtx)
	}()

	select {
	case sr := <-doneCh:
		if sr.Status == store.StagePassed {
			return sr
		}
		// a process killed by its context reports a plain failure
		if ctx.Err() != nil {
			return cancelledResult(stage, time.Since(start))
		}
		if errors.Is(timeoutCtx.Err(), context.DeadlineExceeded) {
			return timedOutResult(stage, timeout, time.Since(start))
		}
		return sr
	case <-timeoutCtx.Done():
		if ctx.Err() != nil {
			return cancelledResult(stage, time.Since(start))
		}
		return timedOutResult(stage, timeout, time.Since(start))
	}
}

func cancelledResult(stage types.Stage, elapsed time.Duration) store.StageResult {
	return store.StageResult{
		Name:       stage.Name,
		Status:     store.StageSkipped,
		Fatal:      stage.IsFatal(),
		Output:     "cancelled",
		DurationMS: elapsed.Milliseconds(),
	}
}

func timedOutResult(stage types.Stage, timeout, elapsed time.Duration) store.StageResult {
	err := &StageTimeoutError{Stage: stage.Name, Timeout: timeout}
	return store.StageResult{
		Name:       stage.Name,
		Status:     store.StageTimedOut,
		Fatal:      true,
		Output:     err.Error(),
		DurationMS: elapsed.Milliseconds(),
	}
}
