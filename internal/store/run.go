package store

import (
	"slices"
	"time"
)

type RunStatus string

const (
	StatusPending   RunStatus = "pending"
	StatusRunning   RunStatus = "running"
	StatusCancelled RunStatus = "cancelled"
	StatusFailed    RunStatus = "failed"
	StatusPassed    RunStatus = "passed"
)

var runTransitions = map[RunStatus][]RunStatus{
	StatusPending:   {StatusRunning, StatusFailed, StatusCancelled},
	StatusRunning:   {StatusPassed, StatusFailed, StatusCancelled},
	StatusPassed:    {},
	StatusFailed:    {},
	StatusCancelled: {},
}

// CanTransition reports whether a run may move from one status to another.
func CanTransition(from, to RunStatus) bool {
	return slices.Contains(runTransitions[from], to)
}

func (s RunStatus) IsActive() bool {
	return s == StatusPending || s == StatusRunning
}

func (s RunStatus) IsTerminal() bool {
	return s == StatusPassed || s == StatusFailed || s == StatusCancelled
}

type Run struct {
	RunID        int64      `param:"run_id" json:"run_id"`
	RunGroup     string     `json:"run_group"`
	EventKind    string     `json:"event_kind"`
	Ref          string     `json:"ref"`
	Revision     string     `json:"revision"`
	ManifestHash *string    `json:"manifest_hash,omitempty"`
	Status       RunStatus  `json:"status"`
	CreatedOn    time.Time  `json:"created_on"`
	StartedOn    *time.Time `json:"started_on,omitempty"`
	EndedOn      *time.Time `json:"ended_on,omitempty"`
	Archive      bool       `json:"archive"`

	Results []StageResult `db:"-" json:"results"`
}

type StageStatus string

const (
	StagePassed   StageStatus = "passed"
	StageFailed   StageStatus = "failed"
	StageSkipped  StageStatus = "skipped"
	StageTimedOut StageStatus = "timed_out"
)

type StageResult struct {
	StageResultID    int64       `json:"-"`
	StageResultRunID int64       `json:"run_id"`
	Position         int         `json:"position"`
	Name             string      `json:"name"`
	Status           StageStatus `json:"status"`
	Fatal            bool        `json:"fatal"`
	Output           string      `json:"output"`
	DurationMS       int64       `db:"duration_ms" json:"duration_ms"`
}

func (sr StageResult) Duration() time.Duration {
	return time.Duration(sr.DurationMS) * time.Millisecond
}
