package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/georgysavva/scany/v2/sqlscan"
)

type RunSQLiteStore struct {
	rdb, rwdb *sql.DB
}

func NewRunSQLiteStore(rdb, rwdb *sql.DB) *RunSQLiteStore {
	return &RunSQLiteStore{rdb, rwdb}
}

func (store *RunSQLiteStore) CreateRun(ctx context.Context, r *Run) (*Run, error) {
	created := *r
	created.Status = StatusPending
	if created.CreatedOn.IsZero() {
		created.CreatedOn = time.Now().UTC()
	}
	query := `insert into runs (
		run_group,
		event_kind,
		ref,
		revision,
		manifest_hash,
		status,
		created_on
	)
	values ($1, $2, $3, $4, $5, $6, $7)
	returning run_id`
	if err := sqlscan.Get(
		ctx, store.rwdb, &created.RunID, query,
		created.RunGroup,
		created.EventKind,
		created.Ref,
		created.Revision,
		created.ManifestHash,
		created.Status,
		created.CreatedOn,
	); err != nil {
		return nil, err
	}
	return &created, nil
}

func (store *RunSQLiteStore) ReadRunByID(ctx context.Context, id int64) (*Run, error) {
	r := &Run{RunID: id}
	query := "select * from runs where run_id = $1"
	if err := sqlscan.Get(ctx, store.rdb, r, query, r.RunID); err != nil {
		return nil, err
	}
	return r, nil
}

func (store *RunSQLiteStore) ReadRunStatus(ctx context.Context, id int64) (RunStatus, error) {
	var status RunStatus
	query := "select status from runs where run_id = $1"
	err := sqlscan.Get(ctx, store.rdb, &status, query, id)
	return status, err
}

// StartRun moves a pending run to running. It reports false when the run
// was no longer pending, e.g. because it was cancelled while waiting.
func (store *RunSQLiteStore) StartRun(
	ctx context.Context,
	id int64,
	startedOn time.Time,
) (bool, error) {
	query := `update runs
	set status = $1,
		started_on = $2
	where run_id = $3 and status = $4`
	res, err := store.rwdb.ExecContext(ctx, query, StatusRunning, startedOn, id, StatusPending)
	return affected(res, err)
}

// FinishRun records the terminal status of an active run. It reports false
// when the run had already reached a terminal status.
func (store *RunSQLiteStore) FinishRun(
	ctx context.Context,
	id int64,
	status RunStatus,
	manifestHash *string,
	endedOn time.Time,
) (bool, error) {
	query := `update runs
	set status = $1,
		manifest_hash = coalesce($2, manifest_hash),
		ended_on = $3
	where run_id = $4 and status in ($5, $6)`
	res, err := store.rwdb.ExecContext(
		ctx, query,
		status,
		manifestHash,
		endedOn,
		id,
		StatusPending,
		StatusRunning,
	)
	return affected(res, err)
}

// CancelOlderActiveRuns cancels every pending or running run of group that
// was created before runID and returns the ids of the cancelled runs.
func (store *RunSQLiteStore) CancelOlderActiveRuns(
	ctx context.Context,
	group string,
	runID int64,
	endedOn time.Time,
) ([]int64, error) {
	query := `update runs
	set status = $1,
		ended_on = $2
	where run_group = $3
		and run_id < $4
		and status in ($5, $6)
	returning run_id`
	ids := make([]int64, 0)
	err := sqlscan.Select(
		ctx, store.rwdb, &ids, query,
		StatusCancelled,
		endedOn,
		group,
		runID,
		StatusPending,
		StatusRunning,
	)
	return ids, err
}

func (store *RunSQLiteStore) CancelRun(
	ctx context.Context,
	id int64,
	endedOn time.Time,
) (bool, error) {
	query := `update runs
	set status = $1,
		ended_on = $2
	where run_id = $3 and status in ($4, $5)`
	res, err := store.rwdb.ExecContext(
		ctx, query, StatusCancelled, endedOn, id, StatusPending, StatusRunning,
	)
	return affected(res, err)
}

func (store *RunSQLiteStore) AppendStageResult(ctx context.Context, sr *StageResult) error {
	query := `insert into stage_results (
		stage_result_run_id,
		position,
		name,
		status,
		fatal,
		output,
		duration_ms
	)
	values ($1, $2, $3, $4, $5, $6, $7)
	returning stage_result_id`
	return sqlscan.Get(
		ctx, store.rwdb, &sr.StageResultID, query,
		sr.StageResultRunID,
		sr.Position,
		sr.Name,
		sr.Status,
		sr.Fatal,
		sr.Output,
		sr.DurationMS,
	)
}

func (store *RunSQLiteStore) ListStageResults(
	ctx context.Context,
	runID int64,
) ([]StageResult, error) {
	query := `select * from stage_results
	where stage_result_run_id = $1
	order by position`
	results := make([]StageResult, 0)
	err := sqlscan.Select(ctx, store.rdb, &results, query, runID)
	return results, err
}

// ListActiveRuns lists pending and running runs, optionally limited to a
// single group.
func (store *RunSQLiteStore) ListActiveRuns(ctx context.Context, group string) ([]Run, error) {
	query := `select * from runs
	where status in ($1, $2)
		and ($3 = '' or run_group = $3)
	order by run_id`
	runs := make([]Run, 0)
	err := sqlscan.Select(ctx, store.rdb, &runs, query, StatusPending, StatusRunning, group)
	return runs, err
}

func (store *RunSQLiteStore) ArchiveRun(ctx context.Context, id int64) error {
	query := `update runs set archive = true where run_id = $1`
	res, err := store.rwdb.ExecContext(ctx, query, id)
	if ok, err := affected(res, err); err != nil {
		return err
	} else if !ok {
		return sql.ErrNoRows
	}
	return nil
}

func (store *RunSQLiteStore) DeleteArchivedRuns(ctx context.Context, before time.Time) (int64, error) {
	query := `delete from runs where archive = true and ended_on < $1`
	res, err := store.rwdb.ExecContext(ctx, query, before)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func affected(res sql.Result, err error) (bool, error) {
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
