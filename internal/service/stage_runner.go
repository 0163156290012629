package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os/exec"
	"sync"
	"time"

	"github.com/haatos/verify-ci/internal/store"
	"github.com/haatos/verify-ci/internal/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/crypto/ssh"
)

type StageRunner struct {
	live   io.Writer
	tracer trace.Tracer
}

// NewStageRunner creates a runner. Stage output is mirrored to live when
// it is not nil.
func NewStageRunner(live io.Writer) *StageRunner {
	if live == nil {
		live = io.Discard
	}
	return &StageRunner{
		live:   &lockedWriter{w: live},
		tracer: otel.Tracer("github.com/haatos/verify-ci/internal/service"),
	}
}

// Run executes stages in order inside ws. A failed fatal stage or a timed
// out stage skips all remaining stages. Once h is cancelled no further
// stage starts, and a stage in flight at that moment is recorded as
// skipped. record, when not nil, is called with every result as soon as it
// is known.
func (sr *StageRunner) Run(
	h *RunHandle,
	ws Workspace,
	stages []types.Stage,
	record func(store.StageResult),
) []store.StageResult {
	results := make([]store.StageResult, 0, len(stages))
	halted := ""
	for i, stage := range stages {
		var res store.StageResult
		switch {
		case halted != "":
			res = skippedResult(stage, halted)
		case h.Cancelled():
			halted = "run cancelled"
			res = skippedResult(stage, halted)
		default:
			res = sr.runStage(h, ws, stage)
			switch {
			case h.Cancelled():
				res.Status = store.StageSkipped
				halted = "run cancelled"
			case res.Status == store.StageTimedOut:
				halted = fmt.Sprintf("stage '%s' timed out", stage.Name)
			case res.Status == store.StageFailed && res.Fatal:
				halted = fmt.Sprintf("stage '%s' failed", stage.Name)
			}
		}
		res.StageResultRunID = h.RunID
		res.Position = i
		results = append(results, res)
		if record != nil {
			record(res)
		}
	}
	return results
}

func (sr *StageRunner) runStage(h *RunHandle, ws Workspace, stage types.Stage) store.StageResult {
	ctx, span := sr.tracer.Start(h.Context(), "stage "+stage.Name)
	defer span.End()
	span.SetAttributes(
		attribute.Int64("run.id", h.RunID),
		attribute.String("stage.name", stage.Name),
		attribute.Bool("stage.fatal", stage.IsFatal()),
	)

	fmt.Fprintf(sr.live, "==> %s: %s\n", stage.Name, stage.CommandLine())
	run := sr.stageExec(ws, stage)
	var res store.StageResult
	if timeout := stage.TimeoutDuration(); timeout > 0 {
		res = RunWithTimeout(ctx, stage, timeout, run)
	} else {
		res = run(ctx)
	}

	span.SetAttributes(attribute.String("stage.status", string(res.Status)))
	if res.Status == store.StageFailed || res.Status == store.StageTimedOut {
		span.SetStatus(codes.Error, string(res.Status))
	}
	return res
}

func (sr *StageRunner) stageExec(ws Workspace, stage types.Stage) StageExecFunc {
	return func(ctx context.Context) store.StageResult {
		out := new(bytes.Buffer)
		start := time.Now()
		w := &lockedWriter{w: io.MultiWriter(out, sr.live)}
		err := ws.Exec(ctx, stage.CommandLine(), w)
		res := store.StageResult{
			Name:       stage.Name,
			Status:     store.StagePassed,
			Fatal:      stage.IsFatal(),
			DurationMS: time.Since(start).Milliseconds(),
		}
		if err != nil {
			sfe := &StageFailureError{Stage: stage.Name, ExitCode: exitCode(err), Err: err}
			if ctx.Err() == nil {
				log.Println(sfe)
			}
			res.Status = store.StageFailed
			fmt.Fprintln(out, sfe)
		}
		w.mu.Lock()
		res.Output = out.String()
		w.mu.Unlock()
		return res
	}
}

// Outcome derives the run status from its stage results. Cancellation is
// decided by the caller.
func Outcome(results []store.StageResult) store.RunStatus {
	for _, res := range results {
		if res.Status == store.StageTimedOut {
			return store.StatusFailed
		}
		if res.Status == store.StageFailed && res.Fatal {
			return store.StatusFailed
		}
	}
	return store.StatusPassed
}

func skippedResult(stage types.Stage, reason string) store.StageResult {
	return store.StageResult{
		Name:   stage.Name,
		Status: store.StageSkipped,
		Fatal:  stage.IsFatal(),
		Output: "skipped: " + reason,
	}
}

func exitCode(err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	var sshErr *ssh.ExitError
	if errors.As(err, &sshErr) {
		return sshErr.ExitStatus()
	}
	return -1
}

// lockedWriter serializes writes from concurrently copied stdout and
// stderr streams.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (lw *lockedWriter) Write(p []byte) (int, error) {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	return lw.w.Write(p)
}
