package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/fedmesh/node/internal/domain/artifact"
	"github.com/fedmesh/node/internal/domain/component"
	"github.com/fedmesh/node/internal/domain/datasource"
	"github.com/fedmesh/node/internal/domain/job"
	"github.com/fedmesh/node/internal/domain/result"
	"github.com/fedmesh/node/internal/planner"
	"github.com/fedmesh/node/internal/storage"
	"github.com/fedmesh/node/internal/storage/memory"
)

// planTwoIterationArtifact seeds one datasource owner and one aggregator and
// plans a two-iteration artifact, returning the stores, scheduler, and the
// created artifact id for the tests below to drive through its job DAG.
func planTwoIterationArtifact(t *testing.T) (storage.Stores, *Scheduler, string) {
	t.Helper()
	ctx := context.Background()
	stores := memory.New()

	if _, err := stores.Components.Create(ctx, component.Component{ID: "client-a", Type: component.TypeClient}); err != nil {
		t.Fatalf("create client: %v", err)
	}
	if _, err := stores.Components.Create(ctx, component.Component{ID: "node-1", Type: component.TypeNode}); err != nil {
		t.Fatalf("create node: %v", err)
	}
	if _, err := stores.DataSources.Create(ctx, datasource.DataSource{Hash: "ds-1", ComponentID: "client-a", ProjectToken: "proj-1"}); err != nil {
		t.Fatalf("create datasource: %v", err)
	}

	pl := planner.New(stores.DataSources, stores.Components, stores.Artifacts, stores.Jobs)
	created, err := pl.Plan(ctx, artifact.Artifact{
		ProjectToken: "proj-1",
		Query:        artifact.QueryPlan{Query: []byte("select *")},
		Descriptor:   artifact.Descriptor{Kind: artifact.KindModel, Tag: "logistic_regression"},
		Execution:    artifact.ExecutionPlan{Iterations: 2, AggregationStrategy: "fedavg"},
	})
	if err != nil {
		t.Fatalf("plan: %v", err)
	}

	sched := New(stores.Jobs, stores.Results, stores.Artifacts, pl, nil, time.Hour, time.Hour)
	return stores, sched, created.ID
}

func TestDispatchClaimsOldestScheduledJob(t *testing.T) {
	_, sched, artifactID := planTwoIterationArtifact(t)
	ctx := context.Background()

	j, ok, err := sched.Dispatch(ctx, "client-a")
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if !ok {
		t.Fatalf("expected a job to be dispatched to client-a")
	}
	if j.Status != job.StatusRunning {
		t.Fatalf("status = %s, want RUNNING", j.Status)
	}
	if j.ArtifactID != artifactID || j.Kind != job.KindPartial {
		t.Fatalf("unexpected dispatched job %+v", j)
	}

	if _, ok, err := sched.Dispatch(ctx, "client-a"); err != nil || ok {
		t.Fatalf("expected no further job for client-a, got ok=%v err=%v", ok, err)
	}
}

func TestDispatchReturnsFalseWhenNothingScheduled(t *testing.T) {
	_, sched, _ := planTwoIterationArtifact(t)
	ctx := context.Background()

	// node-1 only has a CREATED aggregation job, not yet SCHEDULED.
	if _, ok, err := sched.Dispatch(ctx, "node-1"); err != nil || ok {
		t.Fatalf("expected no schedulable job for node-1, got ok=%v err=%v", ok, err)
	}
}

func TestCompletePartialPromotesAggregationOnceAllPartialsDone(t *testing.T) {
	stores, sched, artifactID := planTwoIterationArtifact(t)
	ctx := context.Background()

	j, ok, err := sched.Dispatch(ctx, "client-a")
	if err != nil || !ok {
		t.Fatalf("dispatch: ok=%v err=%v", ok, err)
	}

	if _, err := sched.Complete(ctx, j, result.Result{JobID: j.ID, ArtifactID: artifactID, ProducerID: "client-a", Iteration: 0, IsModel: true}); err != nil {
		t.Fatalf("complete: %v", err)
	}

	aggs, err := stores.Jobs.ListByArtifactIteration(ctx, artifactID, 0, job.KindAggregation)
	if err != nil {
		t.Fatalf("list aggregation jobs: %v", err)
	}
	if len(aggs) != 1 {
		t.Fatalf("expected one aggregation job, got %d", len(aggs))
	}
	if aggs[0].Status != job.StatusScheduled {
		t.Fatalf("aggregation job status = %s, want SCHEDULED once every partial is DONE", aggs[0].Status)
	}
	if len(aggs[0].ContentIDs) != 1 {
		t.Fatalf("expected one content id folded into the aggregation job, got %v", aggs[0].ContentIDs)
	}
}

func TestCompleteAggregationRollsOverToNextIteration(t *testing.T) {
	stores, sched, artifactID := planTwoIterationArtifact(t)
	ctx := context.Background()

	partial, ok, err := sched.Dispatch(ctx, "client-a")
	if err != nil || !ok {
		t.Fatalf("dispatch partial: ok=%v err=%v", ok, err)
	}
	if _, err := sched.Complete(ctx, partial, result.Result{JobID: partial.ID, ArtifactID: artifactID, ProducerID: "client-a", Iteration: 0, IsModel: true}); err != nil {
		t.Fatalf("complete partial: %v", err)
	}

	agg, ok, err := sched.Dispatch(ctx, "node-1")
	if err != nil || !ok {
		t.Fatalf("dispatch aggregation: ok=%v err=%v", ok, err)
	}
	if _, err := sched.Complete(ctx, agg, result.Result{JobID: agg.ID, ArtifactID: artifactID, Iteration: 0, IsAggregation: true, IsModel: true}); err != nil {
		t.Fatalf("complete aggregation: %v", err)
	}

	art, err := stores.Artifacts.Get(ctx, artifactID)
	if err != nil {
		t.Fatalf("get artifact: %v", err)
	}
	if art.Status != artifact.StatusScheduled || art.CurrentIteration != 1 {
		t.Fatalf("expected rollover to iteration 1, got status=%s iteration=%d", art.Status, art.CurrentIteration)
	}

	nextPartials, err := stores.Jobs.ListByArtifactIteration(ctx, artifactID, 1, job.KindPartial)
	if err != nil {
		t.Fatalf("list next iteration partials: %v", err)
	}
	if len(nextPartials) != 1 {
		t.Fatalf("expected one cloned partial job at iteration 1, got %d", len(nextPartials))
	}
}

func TestCompleteAggregationMarksArtifactCompletedOnFinalIteration(t *testing.T) {
	stores, sched, artifactID := planTwoIterationArtifact(t)
	ctx := context.Background()

	for iter := 0; iter < 2; iter++ {
		partial, ok, err := sched.Dispatch(ctx, "client-a")
		if err != nil || !ok {
			t.Fatalf("dispatch partial iter %d: ok=%v err=%v", iter, ok, err)
		}
		if _, err := sched.Complete(ctx, partial, result.Result{JobID: partial.ID, ArtifactID: artifactID, ProducerID: "client-a", Iteration: iter, IsModel: true}); err != nil {
			t.Fatalf("complete partial iter %d: %v", iter, err)
		}
		agg, ok, err := sched.Dispatch(ctx, "node-1")
		if err != nil || !ok {
			t.Fatalf("dispatch aggregation iter %d: ok=%v err=%v", iter, ok, err)
		}
		if _, err := sched.Complete(ctx, agg, result.Result{JobID: agg.ID, ArtifactID: artifactID, Iteration: iter, IsAggregation: true, IsModel: true}); err != nil {
			t.Fatalf("complete aggregation iter %d: %v", iter, err)
		}
	}

	art, err := stores.Artifacts.Get(ctx, artifactID)
	if err != nil {
		t.Fatalf("get artifact: %v", err)
	}
	if art.Status != artifact.StatusCompleted {
		t.Fatalf("status = %s, want COMPLETED after the final iteration", art.Status)
	}
}

func TestCompleteRejectsJobNotCurrentlyRunning(t *testing.T) {
	stores, sched, artifactID := planTwoIterationArtifact(t)
	ctx := context.Background()

	partials, err := stores.Jobs.ListByArtifactIteration(ctx, artifactID, 0, job.KindPartial)
	if err != nil || len(partials) != 1 {
		t.Fatalf("expected one partial job, got %d (err=%v)", len(partials), err)
	}
	// This job is still SCHEDULED (never dispatched), so its CAS to DONE
	// must fail rather than silently succeed.
	stale := partials[0]
	if stale.Status != job.StatusScheduled {
		t.Fatalf("partial job status = %s, want SCHEDULED", stale.Status)
	}
	if _, err := sched.Complete(ctx, stale, result.Result{JobID: stale.ID, ArtifactID: artifactID}); err == nil {
		t.Fatalf("expected complete to reject a job that is not RUNNING")
	}
}

func TestFailCancelsSiblingScheduledJobsNotRunningOnes(t *testing.T) {
	ctx := context.Background()
	stores := memory.New()

	for _, comp := range []component.Component{
		{ID: "client-a", Type: component.TypeClient},
		{ID: "client-b", Type: component.TypeClient},
		{ID: "client-c", Type: component.TypeClient},
		{ID: "node-1", Type: component.TypeNode},
	} {
		if _, err := stores.Components.Create(ctx, comp); err != nil {
			t.Fatalf("create component: %v", err)
		}
	}
	for _, ds := range []datasource.DataSource{
		{Hash: "ds-a", ComponentID: "client-a", ProjectToken: "proj-1"},
		{Hash: "ds-b", ComponentID: "client-b", ProjectToken: "proj-1"},
		{Hash: "ds-c", ComponentID: "client-c", ProjectToken: "proj-1"},
	} {
		if _, err := stores.DataSources.Create(ctx, ds); err != nil {
			t.Fatalf("create datasource: %v", err)
		}
	}

	pl := planner.New(stores.DataSources, stores.Components, stores.Artifacts, stores.Jobs)
	created, err := pl.Plan(ctx, artifact.Artifact{
		ProjectToken: "proj-1",
		Query:        artifact.QueryPlan{Query: []byte("select *")},
		Descriptor:   artifact.Descriptor{Kind: artifact.KindModel, Tag: "logistic_regression"},
		Execution:    artifact.ExecutionPlan{Iterations: 1, AggregationStrategy: "fedavg"},
	})
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	sched := New(stores.Jobs, stores.Results, stores.Artifacts, pl, nil, time.Hour, time.Hour)

	jobA, ok, err := sched.Dispatch(ctx, "client-a")
	if err != nil || !ok {
		t.Fatalf("dispatch client-a: ok=%v err=%v", ok, err)
	}
	if _, ok, err := sched.Dispatch(ctx, "client-c"); err != nil || !ok {
		t.Fatalf("dispatch client-c: ok=%v err=%v", ok, err)
	}
	// client-b's partial job is left SCHEDULED (never dispatched);
	// client-c's partial job is RUNNING.

	if _, err := sched.Fail(ctx, jobA, result.Result{JobID: jobA.ID, ArtifactID: created.ID, ProducerID: "client-a", Iteration: 0}); err != nil {
		t.Fatalf("fail: %v", err)
	}

	siblings, err := stores.Jobs.ListByArtifactIteration(ctx, created.ID, 0, job.KindPartial)
	if err != nil {
		t.Fatalf("list partials: %v", err)
	}
	var sawB, sawC bool
	for _, sib := range siblings {
		if sib.ComponentID == "client-b" {
			sawB = true
			if sib.Status != job.StatusError {
				t.Fatalf("expected sibling SCHEDULED job to be cancelled to ERROR, got %s", sib.Status)
			}
		}
		if sib.ComponentID == "client-c" {
			sawC = true
			if sib.Status != job.StatusRunning {
				t.Fatalf("expected sibling RUNNING job to be left RUNNING, got %s", sib.Status)
			}
		}
	}
	if !sawB {
		t.Fatalf("expected to find client-b's partial job")
	}
	if !sawC {
		t.Fatalf("expected to find client-c's partial job")
	}

	art, err := stores.Artifacts.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("get artifact: %v", err)
	}
	if art.Status != artifact.StatusError {
		t.Fatalf("artifact status = %s, want ERROR", art.Status)
	}
}

func TestReclaimExpiredLeasesMovesStaleRunningJobsBackToScheduled(t *testing.T) {
	ctx := context.Background()
	stores := memory.New()

	if _, err := stores.Components.Create(ctx, component.Component{ID: "client-a", Type: component.TypeClient}); err != nil {
		t.Fatalf("create component: %v", err)
	}
	if _, err := stores.Components.Create(ctx, component.Component{ID: "node-1", Type: component.TypeNode}); err != nil {
		t.Fatalf("create component: %v", err)
	}
	if _, err := stores.DataSources.Create(ctx, datasource.DataSource{Hash: "ds-1", ComponentID: "client-a", ProjectToken: "proj-1"}); err != nil {
		t.Fatalf("create datasource: %v", err)
	}
	pl := planner.New(stores.DataSources, stores.Components, stores.Artifacts, stores.Jobs)
	created, err := pl.Plan(ctx, artifact.Artifact{
		ProjectToken: "proj-1",
		Query:        artifact.QueryPlan{Query: []byte("select *")},
		Descriptor:   artifact.Descriptor{Kind: artifact.KindModel, Tag: "logistic_regression"},
		Execution:    artifact.ExecutionPlan{Iterations: 1, AggregationStrategy: "fedavg"},
	})
	if err != nil {
		t.Fatalf("plan: %v", err)
	}

	// A lease duration of zero means any RUNNING job is immediately stale.
	sched := New(stores.Jobs, stores.Results, stores.Artifacts, pl, nil, time.Hour, 0)

	j, ok, err := sched.Dispatch(ctx, "client-a")
	if err != nil || !ok {
		t.Fatalf("dispatch: ok=%v err=%v", ok, err)
	}

	time.Sleep(time.Millisecond)
	if err := sched.ReclaimExpiredLeases(ctx); err != nil {
		t.Fatalf("reclaim: %v", err)
	}

	reclaimed, err := stores.Jobs.Get(ctx, j.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if reclaimed.Status != job.StatusScheduled {
		t.Fatalf("status = %s, want SCHEDULED after lease reclaim", reclaimed.Status)
	}

	// A late completion against the original RUNNING lease must now be
	// discarded: the CAS requires RUNNING, but the job is SCHEDULED again.
	if _, err := sched.Complete(ctx, j, result.Result{JobID: j.ID, ArtifactID: created.ID, ProducerID: "client-a", Iteration: 0}); err == nil {
		t.Fatalf("expected the late completion of a reclaimed job to be rejected")
	}
}
