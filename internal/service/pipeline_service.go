package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/haatos/verify-ci/internal"
	"github.com/haatos/verify-ci/internal/metrics"
	"github.com/haatos/verify-ci/internal/store"
	"github.com/haatos/verify-ci/internal/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"
)

type CacheStorer interface {
	CacheFetcher
	Store(ctx context.Context, key string, blob []byte) error
}

type PipelineServiceOptions struct {
	Pipeline           *types.Pipeline
	MaxConcurrentRuns  int64
	CancelPollInterval time.Duration
	Reporter           Reporter
}

// PipelineService drives runs from admission to their terminal status:
// evaluate the event, supersede older runs of the group, provision, run
// the stages, update the cache and report.
type PipelineService struct {
	runStore    store.RunStore
	evaluator   *TriggerEvaluator
	canceller   *RunCanceller
	provisioner *Provisioner
	runner      *StageRunner
	cache       CacheStorer
	reporter    Reporter

	pipeline     *types.Pipeline
	slots        *semaphore.Weighted
	pollInterval time.Duration
	tracer       trace.Tracer

	wg sync.WaitGroup
}

func NewPipelineService(
	runStore store.RunStore,
	evaluator *TriggerEvaluator,
	canceller *RunCanceller,
	provisioner *Provisioner,
	runner *StageRunner,
	cache CacheStorer,
	opts PipelineServiceOptions,
) *PipelineService {
	reporter := opts.Reporter
	if reporter == nil {
		reporter = LogReporter{}
	}
	return &PipelineService{
		runStore:     runStore,
		evaluator:    evaluator,
		canceller:    canceller,
		provisioner:  provisioner,
		runner:       runner,
		cache:        cache,
		reporter:     reporter,
		pipeline:     opts.Pipeline,
		slots:        semaphore.NewWeighted(max(1, opts.MaxConcurrentRuns)),
		pollInterval: opts.CancelPollInterval,
		tracer:       otel.Tracer("github.com/haatos/verify-ci/internal/service"),
	}
}

// Trigger admits ev and executes the resulting run in the background.
func (s *PipelineService) Trigger(ctx context.Context, ev types.Event) (AdmissionDecision, error) {
	decision, h, err := s.admit(ctx, ev)
	if err != nil || !decision.Admitted {
		return decision, err
	}
	s.wg.Go(func() {
		if err := s.execute(h, decision.Run); err != nil {
			log.Printf("err executing run %d: %+v\n", decision.Run.RunID, err)
		}
	})
	return decision, nil
}

// TriggerAndWait admits ev and executes the run on the calling goroutine.
// Cancelling ctx cancels the run. The returned run carries its stage
// results. The error is non-nil when provisioning or bookkeeping failed.
func (s *PipelineService) TriggerAndWait(
	ctx context.Context,
	ev types.Event,
) (AdmissionDecision, *store.Run, error) {
	decision, h, err := s.admit(ctx, ev)
	if err != nil || !decision.Admitted {
		return decision, nil, err
	}
	runID := decision.Run.RunID
	stop := context.AfterFunc(ctx, func() {
		if _, err := s.canceller.Cancel(context.WithoutCancel(ctx), runID); err != nil {
			log.Printf("err cancelling run %d: %+v\n", runID, err)
		}
	})
	defer stop()

	runErr := s.execute(h, decision.Run)
	r, err := s.GetRun(context.WithoutCancel(ctx), runID)
	if err != nil {
		return decision, nil, errors.Join(runErr, err)
	}
	return decision, r, runErr
}

func (s *PipelineService) admit(
	ctx context.Context,
	ev types.Event,
) (AdmissionDecision, *RunHandle, error) {
	decision := s.evaluator.Evaluate(ev)
	if !decision.Admitted {
		log.Printf("event %s %s@%s not admitted: %s\n", ev.Kind, ev.Ref(), ev.Revision, decision.Reason)
		return decision, nil, nil
	}

	r, err := s.runStore.CreateRun(ctx, decision.Run)
	if err != nil {
		return decision, nil, fmt.Errorf("err creating run: %w", err)
	}
	decision.Run = r
	metrics.RunsAdmitted.Add(1)

	h := s.canceller.Register(r)
	ids, err := s.canceller.Supersede(ctx, r)
	if err != nil {
		// older runs of the group may still be running, so this one never starts
		s.canceller.Release(h)
		err = fmt.Errorf("err superseding runs of group %s: %w", r.RunGroup, err)
		if _, finishErr := s.runStore.FinishRun(
			context.WithoutCancel(ctx), r.RunID, store.StatusFailed, nil, time.Now().UTC(),
		); finishErr != nil {
			err = errors.Join(err, fmt.Errorf("err updating run status to failed: %w", finishErr))
		}
		metrics.RunsFailed.Add(1)
		if archiveErr := s.runStore.ArchiveRun(context.WithoutCancel(ctx), r.RunID); archiveErr != nil {
			log.Printf("err archiving run %d: %+v\n", r.RunID, archiveErr)
		}
		return decision, nil, err
	}
	if len(ids) > 0 {
		metrics.RunsSuperseded.Add(int64(len(ids)))
		log.Printf("run %d superseded runs %v of group %s\n", r.RunID, ids, r.RunGroup)
	}
	return decision, h, nil
}

func (s *PipelineService) execute(h *RunHandle, r *store.Run) error {
	defer s.canceller.Release(h)
	// bookkeeping outlives cancellation of the run
	ctx, span := s.tracer.Start(context.WithoutCancel(h.Context()), "run")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("run.id", r.RunID),
		attribute.String("run.group", r.RunGroup),
		attribute.String("run.revision", r.Revision),
	)

	if err := s.slots.Acquire(h.Context(), 1); err != nil {
		return s.conclude(ctx, h, r.RunID)
	}
	defer s.slots.Release(1)
	s.wg.Go(func() {
		s.canceller.Watch(h, s.pollInterval)
	})

	started, err := s.runStore.StartRun(ctx, r.RunID, time.Now().UTC())
	if err != nil {
		return s.fail(ctx, h, r.RunID, span, fmt.Errorf("err starting run: %w", err))
	}
	if !started {
		return s.conclude(ctx, h, r.RunID)
	}

	manifestHash := ""
	if r.ManifestHash != nil {
		manifestHash = *r.ManifestHash
	}
	env, err := s.provisioner.Provision(h.Context(), r.Revision, manifestHash)
	if err != nil {
		if h.Cancelled() {
			return s.conclude(ctx, h, r.RunID)
		}
		return s.fail(ctx, h, r.RunID, span, err)
	}
	defer func() {
		if err := env.Close(); err != nil {
			log.Printf("err cleaning up workspace of run %d: %+v\n", r.RunID, err)
		}
	}()
	span.SetAttributes(attribute.Bool("cache.hit", env.CacheHit))

	results := s.runner.Run(h, env, s.pipeline.Stages, func(res store.StageResult) {
		if err := s.runStore.AppendStageResult(ctx, &res); err != nil {
			log.Printf("err recording stage %s of run %d: %+v\n", res.Name, r.RunID, err)
		}
	})

	status := Outcome(results)
	if h.Cancelled() {
		return s.conclude(ctx, h, r.RunID)
	}
	finished, err := s.runStore.FinishRun(
		ctx, r.RunID, status, &env.ManifestHash, time.Now().UTC(),
	)
	if err != nil {
		return errors.Join(fmt.Errorf("err finishing run: %w", err), s.conclude(ctx, h, r.RunID))
	}
	// a run cancelled by another process after its last stage keeps its
	// cancelled status and never updates the cache
	if finished {
		s.storeCache(ctx, r.RunID, env)
	}
	if status == store.StatusFailed {
		span.SetStatus(codes.Error, "stage failed")
	}
	return s.conclude(ctx, h, r.RunID)
}

func (s *PipelineService) fail(
	ctx context.Context,
	h *RunHandle,
	runID int64,
	span trace.Span,
	runErr error,
) error {
	span.RecordError(runErr)
	span.SetStatus(codes.Error, runErr.Error())
	if _, err := s.runStore.FinishRun(
		ctx, runID, store.StatusFailed, nil, time.Now().UTC(),
	); err != nil {
		runErr = errors.Join(runErr, fmt.Errorf("err updating run status to failed: %w", err))
	}
	return errors.Join(runErr, s.conclude(ctx, h, runID))
}

func (s *PipelineService) storeCache(ctx context.Context, runID int64, env *Environment) {
	blob, err := env.SnapshotCache(ctx, s.pipeline.Cache.Paths)
	if err != nil {
		metrics.CacheErrors.Add(1)
		log.Printf("err snapshotting cache of run %d: %+v\n", runID, &CacheError{
			Op: "snapshot", Key: env.ManifestHash, Err: err,
		})
		return
	}
	if err := s.cache.Store(ctx, env.ManifestHash, blob); err != nil {
		log.Printf("err storing cache of run %d: %+v\n", runID, err)
	}
}

// conclude reports and archives a run that reached its terminal status. A
// run whose handle was cancelled without a persisted status, e.g. on
// shutdown, is marked cancelled first.
func (s *PipelineService) conclude(ctx context.Context, h *RunHandle, runID int64) error {
	r, err := s.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if r.Status.IsActive() && h.Cancelled() {
		if _, err := s.runStore.CancelRun(ctx, runID, time.Now().UTC()); err != nil {
			return fmt.Errorf("err updating run status to cancelled: %w", err)
		}
		if r, err = s.GetRun(ctx, runID); err != nil {
			return err
		}
	}

	switch r.Status {
	case store.StatusPassed:
		metrics.RunsPassed.Add(1)
	case store.StatusFailed:
		metrics.RunsFailed.Add(1)
	case store.StatusCancelled:
		metrics.RunsCancelled.Add(1)
	}
	s.reporter.Report(r)

	if err := s.runStore.ArchiveRun(ctx, runID); err != nil {
		log.Printf("err archiving run %d: %+v\n", runID, err)
	}
	return nil
}

func (s *PipelineService) Cancel(ctx context.Context, runID int64) (bool, error) {
	return s.canceller.Cancel(ctx, runID)
}

func (s *PipelineService) GetRun(ctx context.Context, runID int64) (*store.Run, error) {
	r, err := s.runStore.ReadRunByID(ctx, runID)
	if err != nil {
		return nil, err
	}
	r.Results, err = s.runStore.ListStageResults(ctx, runID)
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (s *PipelineService) ListActiveRuns(ctx context.Context, group string) ([]store.Run, error) {
	return s.runStore.ListActiveRuns(ctx, group)
}

// ScheduleTicks registers a scheduled event per tick. The revision is the
// head of the tick's branch at the time the tick fires.
func (s *PipelineService) ScheduleTicks(
	scheduler gocron.Scheduler,
	resolver RevisionResolver,
	ticks []internal.ScheduledTick,
) error {
	for _, tick := range ticks {
		if _, err := scheduler.NewJob(
			gocron.CronJob(tick.Cron, false),
			gocron.NewTask(func() {
				ctx := context.Background()
				revision, err := resolver.ResolveRevision(ctx, s.pipeline.Repository, tick.Branch)
				if err != nil {
					log.Printf("err resolving %s for scheduled run: %+v\n", tick.Branch, err)
					return
				}
				if _, err := s.Trigger(ctx, types.Event{
					Kind:      types.EventSchedule,
					Branch:    tick.Branch,
					Revision:  revision,
					Timestamp: time.Now().UTC(),
				}); err != nil {
					log.Println("err triggering scheduled run:", err)
				}
			}),
		); err != nil {
			return fmt.Errorf("error scheduling tick '%s': %w", tick.Cron, err)
		}
	}
	return nil
}

// PurgeArchivedRuns deletes archived runs that ended before before.
func (s *PipelineService) PurgeArchivedRuns(ctx context.Context, before time.Time) (int64, error) {
	return s.runStore.DeleteArchivedRuns(ctx, before)
}

func (s *PipelineService) SchedulePurge(scheduler gocron.Scheduler, retention func() time.Duration) {
	if _, err := scheduler.NewJob(
		gocron.DailyJob(1, gocron.NewAtTimes(gocron.NewAtTime(0, 0, 0))),
		gocron.NewTask(func() {
			n, err := s.PurgeArchivedRuns(context.Background(), time.Now().UTC().Add(-retention()))
			if err != nil {
				log.Println("err purging archived runs:", err)
				return
			}
			log.Printf("purged %d archived runs\n", n)
		}),
	); err != nil {
		log.Fatal(err)
	}
}

// Wait blocks until every run started with Trigger has concluded.
func (s *PipelineService) Wait() {
	s.wg.Wait()
}

// Shutdown cancels every run executing in this process and waits for them
// to conclude or for ctx to expire.
func (s *PipelineService) Shutdown(ctx context.Context) error {
	s.canceller.CancelAll()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
