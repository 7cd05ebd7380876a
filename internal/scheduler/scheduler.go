// Package scheduler drives the Job state machine: dispatch under
// compare-and-set, lease reclaim for abandoned RUNNING jobs, completion
// bookkeeping that feeds the planner's iteration rollover, and the error
// cascade that cancels sibling jobs when one partial fails.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/fedmesh/node/internal/apperrors"
	"github.com/fedmesh/node/internal/corekit"
	"github.com/fedmesh/node/internal/domain/artifact"
	"github.com/fedmesh/node/internal/domain/job"
	"github.com/fedmesh/node/internal/domain/result"
	"github.com/fedmesh/node/internal/metrics"
	"github.com/fedmesh/node/internal/planner"
	"github.com/fedmesh/node/internal/storage"
	"github.com/fedmesh/node/internal/system"
	"github.com/fedmesh/node/pkg/logger"
)

var _ system.Service = (*Scheduler)(nil)

// Scheduler polls for RUNNING jobs whose lease has expired and reclaims
// them to SCHEDULED. Dispatch and completion are called synchronously from
// the HTTP layer on the request path, not from the tick loop; the tick
// loop's only job is lease reclaim.
type Scheduler struct {
	jobs     storage.JobStore
	results  storage.ResultStore
	artifacts storage.ArtifactStore
	planner  *planner.Planner
	log      *logger.Logger
	interval time.Duration
	lease    time.Duration
	tracer   corekit.Tracer

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// New constructs a Scheduler. lease is how long a RUNNING job may go
// without completing before its lease is considered abandoned; interval is
// how often the reclaim tick runs.
func New(jobs storage.JobStore, results storage.ResultStore, artifacts storage.ArtifactStore, pl *planner.Planner, log *logger.Logger, interval, lease time.Duration) *Scheduler {
	if log == nil {
		log = logger.NewDefault("scheduler")
	}
	return &Scheduler{
		jobs:      jobs,
		results:   results,
		artifacts: artifacts,
		planner:   pl,
		log:       log,
		interval:  interval,
		lease:     lease,
		tracer:    corekit.NoopTracer,
	}
}

// WithTracer configures a tracer for tick spans.
func (s *Scheduler) WithTracer(tracer corekit.Tracer) {
	if tracer == nil {
		tracer = corekit.NoopTracer
	}
	s.mu.Lock()
	s.tracer = tracer
	s.mu.Unlock()
}

func (s *Scheduler) Name() string { return "job-scheduler" }

func (s *Scheduler) Descriptor() corekit.Descriptor {
	return corekit.Descriptor{
		Name:         "job-scheduler",
		Domain:       "jobs",
		Layer:        corekit.LayerEngine,
		Capabilities: []string{"dispatch", "lease-reclaim", "completion"},
	}
}

// Start begins the lease-reclaim polling loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				s.tick(runCtx)
			}
		}
	}()

	s.log.Info("job scheduler started")
	return nil
}

// Stop halts the polling loop.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	cancel := s.cancel
	s.running = false
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.wg.Wait()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	s.log.Info("job scheduler stopped")
	return nil
}

func (s *Scheduler) tick(ctx context.Context) {
	s.mu.Lock()
	tracer := s.tracer
	s.mu.Unlock()

	spanCtx, finish := tracer.StartSpan(ctx, "scheduler.tick", nil)
	done := corekit.StartObservation(spanCtx, metrics.SchedulerTickHooks(), nil)
	err := s.ReclaimExpiredLeases(spanCtx)
	done(err)
	finish(err)
	if err != nil {
		s.log.WithError(err).Warn("lease reclaim tick failed")
	}
}

// ReclaimExpiredLeases moves every RUNNING job whose lease has expired back
// to SCHEDULED. Jobs reclaimed this way keep their ContentIDs. A late
// completion of the original attempt that arrives while the job is still
// SCHEDULED fails its compare-and-set and is rejected without saving a
// result; once the job has been dispatched again, the compare-and-set no
// longer tells the two attempts apart.
func (s *Scheduler) ReclaimExpiredLeases(ctx context.Context) error {
	cutoff := time.Now().Add(-s.lease)
	stale, err := s.jobs.ListRunningOlderThan(ctx, cutoff.UnixNano())
	if err != nil {
		return apperrors.Internal(err, "list stale running jobs")
	}
	for _, j := range stale {
		ok, err := s.jobs.CompareAndSetStatus(ctx, j.ID, job.StatusRunning, job.StatusScheduled)
		if err != nil {
			s.log.WithError(err).WithField("job_id", j.ID).Warn("reclaim lease failed")
			continue
		}
		if ok {
			metrics.RecordJobTransition(string(j.Kind), string(job.StatusRunning), string(job.StatusScheduled))
			s.log.WithField("job_id", j.ID).Info("reclaimed expired job lease")
		}
	}
	return nil
}

// Dispatch atomically claims the oldest SCHEDULED job assigned to
// componentID, transitioning it to RUNNING. It retries the compare-and-set
// once on a lost race before reporting nothing to do.
func (s *Scheduler) Dispatch(ctx context.Context, componentID string) (job.Job, bool, error) {
	for attempt := 0; attempt < 2; attempt++ {
		candidate, ok, err := s.jobs.OldestScheduledForComponent(ctx, componentID)
		if err != nil {
			return job.Job{}, false, apperrors.Internal(err, "find oldest scheduled job")
		}
		if !ok {
			return job.Job{}, false, nil
		}
		claimed, err := s.jobs.CompareAndSetStatus(ctx, candidate.ID, job.StatusScheduled, job.StatusRunning)
		if err != nil {
			return job.Job{}, false, apperrors.Internal(err, "claim job")
		}
		if claimed {
			metrics.RecordJobTransition(string(candidate.Kind), string(job.StatusScheduled), string(job.StatusRunning))
			candidate.Status = job.StatusRunning
			return candidate, true, nil
		}
		// lost the race to another dispatch call; retry once against
		// whatever is now the oldest SCHEDULED job.
	}
	return job.Job{}, false, nil
}

// Complete persists a Result and marks its job DONE, then folds the
// completion into the artifact's progress: partial completions append to
// the matching aggregation job's ContentIDs and promote it once every
// partial of the iteration is DONE; an aggregation completion either rolls
// the artifact into its next iteration or marks it COMPLETED.
func (s *Scheduler) Complete(ctx context.Context, j job.Job, r result.Result) (result.Result, error) {
	ok, err := s.jobs.CompareAndSetStatus(ctx, j.ID, job.StatusRunning, job.StatusDone)
	if err != nil {
		return result.Result{}, apperrors.Internal(err, "mark job done")
	}
	if !ok {
		return result.Result{}, apperrors.Conflict("job %s is no longer RUNNING", j.ID)
	}
	metrics.RecordJobTransition(string(j.Kind), string(job.StatusRunning), string(job.StatusDone))

	saved, err := s.results.Create(ctx, r)
	if err != nil {
		return result.Result{}, err
	}

	if j.Kind == job.KindPartial {
		if err := s.completePartial(ctx, j, saved); err != nil {
			return result.Result{}, err
		}
	} else {
		if err := s.completeAggregation(ctx, j, saved); err != nil {
			return result.Result{}, err
		}
	}
	return saved, nil
}

func (s *Scheduler) completePartial(ctx context.Context, j job.Job, saved result.Result) error {
	aggJobs, err := s.jobs.ListByArtifactIteration(ctx, j.ArtifactID, j.Iteration, job.KindAggregation)
	if err != nil {
		return apperrors.Internal(err, "find aggregation job")
	}
	if len(aggJobs) == 0 {
		return apperrors.Internal(nil, "no aggregation job for iteration")
	}
	aggJob := aggJobs[0]

	if err := s.jobs.AppendContentID(ctx, aggJob.ID, saved.ID); err != nil {
		return apperrors.Internal(err, "append content id")
	}

	partials, err := s.jobs.ListByArtifactIteration(ctx, j.ArtifactID, j.Iteration, job.KindPartial)
	if err != nil {
		return apperrors.Internal(err, "list iteration partials")
	}
	for _, p := range partials {
		if p.Status != job.StatusDone {
			return nil // not every partial has finished yet
		}
	}

	if ok, err := s.jobs.CompareAndSetStatus(ctx, aggJob.ID, job.StatusCreated, job.StatusScheduled); err != nil {
		return apperrors.Internal(err, "schedule aggregation job")
	} else if ok {
		metrics.RecordJobTransition(string(job.KindAggregation), string(job.StatusCreated), string(job.StatusScheduled))
	}
	return nil
}

func (s *Scheduler) completeAggregation(ctx context.Context, j job.Job, saved result.Result) error {
	art, err := s.artifacts.Get(ctx, j.ArtifactID)
	if err != nil {
		return err
	}
	if j.Iteration+1 < art.Execution.Iterations {
		return s.planner.PlanNextIteration(ctx, j.ArtifactID, j.Iteration)
	}
	return s.artifacts.SetStatus(ctx, j.ArtifactID, artifact.StatusCompleted, j.Iteration)
}

// Fail persists a TaskError as an error Result, marks the failing job
// ERROR, cancels every other SCHEDULED job of the same (artifact,
// iteration) to ERROR, and marks the artifact ERROR. RUNNING siblings are
// left alone: a later Complete for one of them still succeeds, since its
// compare-and-set checks only the job's own status, and saves its result,
// but the iteration's aggregation job is never scheduled because the
// failed job never reaches DONE. The core does not retry failed jobs;
// retry policy is left to the client.
func (s *Scheduler) Fail(ctx context.Context, j job.Job, r result.Result) (result.Result, error) {
	ok, err := s.jobs.CompareAndSetStatus(ctx, j.ID, job.StatusRunning, job.StatusError)
	if err != nil {
		return result.Result{}, apperrors.Internal(err, "mark job error")
	}
	if !ok {
		return result.Result{}, apperrors.Conflict("job %s is no longer RUNNING", j.ID)
	}
	metrics.RecordJobTransition(string(j.Kind), string(job.StatusRunning), string(job.StatusError))

	r.IsError = true
	saved, err := s.results.Create(ctx, r)
	if err != nil {
		return result.Result{}, err
	}

	siblings, err := s.jobs.ListByArtifactIteration(ctx, j.ArtifactID, j.Iteration, "")
	if err != nil {
		return result.Result{}, apperrors.Internal(err, "list sibling jobs")
	}
	for _, sib := range siblings {
		if sib.ID == j.ID || sib.Status != job.StatusScheduled {
			continue
		}
		if ok, err := s.jobs.CompareAndSetStatus(ctx, sib.ID, job.StatusScheduled, job.StatusError); err != nil {
			s.log.WithError(err).WithField("job_id", sib.ID).Warn("cancel sibling job failed")
		} else if ok {
			metrics.RecordJobTransition(string(sib.Kind), string(job.StatusScheduled), string(job.StatusError))
		}
	}

	if err := s.artifacts.SetStatus(ctx, j.ArtifactID, artifact.StatusError, j.Iteration); err != nil {
		return result.Result{}, apperrors.Internal(err, "mark artifact error")
	}
	return saved, nil
}
