package store

import (
	"context"
	"time"
)

type RunStore interface {
	CreateRun(context.Context, *Run) (*Run, error)
	ReadRunByID(context.Context, int64) (*Run, error)
	ReadRunStatus(context.Context, int64) (RunStatus, error)
	StartRun(context.Context, int64, time.Time) (bool, error)
	FinishRun(context.Context, int64, RunStatus, *string, time.Time) (bool, error)
	CancelOlderActiveRuns(context.Context, string, int64, time.Time) ([]int64, error)
	CancelRun(context.Context, int64, time.Time) (bool, error)
	AppendStageResult(context.Context, *StageResult) error
	ListStageResults(context.Context, int64) ([]StageResult, error)
	ListActiveRuns(context.Context, string) ([]Run, error)
	ArchiveRun(context.Context, int64) error
	DeleteArchivedRuns(context.Context, time.Time) (int64, error)
}
