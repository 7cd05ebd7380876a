package planner

import (
	"context"
	"testing"

	"github.com/fedmesh/node/internal/domain/artifact"
	"github.com/fedmesh/node/internal/domain/component"
	"github.com/fedmesh/node/internal/domain/datasource"
	"github.com/fedmesh/node/internal/domain/job"
	"github.com/fedmesh/node/internal/storage/memory"
)

func validArtifact(projectToken string) artifact.Artifact {
	return artifact.Artifact{
		ProjectToken: projectToken,
		Query:        artifact.QueryPlan{Query: []byte("select *")},
		Descriptor:   artifact.Descriptor{Kind: artifact.KindModel, Tag: "logistic_regression"},
		Execution:    artifact.ExecutionPlan{Iterations: 2, AggregationStrategy: "fedavg"},
	}
}

func TestPlanCreatesPartialAndAggregationJobs(t *testing.T) {
	ctx := context.Background()
	stores := memory.New()

	for _, comp := range []component.Component{
		{ID: "client-a", Type: component.TypeClient},
		{ID: "client-b", Type: component.TypeClient},
		{ID: "node-1", Type: component.TypeNode},
	} {
		if _, err := stores.Components.Create(ctx, comp); err != nil {
			t.Fatalf("create component %s: %v", comp.ID, err)
		}
	}

	for _, ds := range []datasource.DataSource{
		{Hash: "ds-1", ComponentID: "client-b", ProjectToken: "proj-1", Name: "a"},
	} {
		if _, err := stores.DataSources.Create(ctx, ds); err != nil {
			t.Fatalf("create datasource: %v", err)
		}
	}

	pl := New(stores.DataSources, stores.Components, stores.Artifacts, stores.Jobs)
	created, err := pl.Plan(ctx, validArtifact("proj-1"))
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if created.Status != artifact.StatusScheduled {
		t.Fatalf("status = %s, want SCHEDULED", created.Status)
	}

	partials, err := stores.Jobs.ListByArtifactIteration(ctx, created.ID, 0, job.KindPartial)
	if err != nil {
		t.Fatalf("list partials: %v", err)
	}
	if len(partials) != 1 || partials[0].ComponentID != "client-b" {
		t.Fatalf("expected exactly one partial job for client-b, got %+v", partials)
	}
	if partials[0].Status != job.StatusScheduled {
		t.Fatalf("partial job status = %s, want SCHEDULED", partials[0].Status)
	}
	if len(partials[0].ContentIDs) != 1 || partials[0].ContentIDs[0] != "ds-1" {
		t.Fatalf("partial job content ids = %v, want [ds-1]", partials[0].ContentIDs)
	}

	aggs, err := stores.Jobs.ListByArtifactIteration(ctx, created.ID, 0, job.KindAggregation)
	if err != nil {
		t.Fatalf("list aggregation jobs: %v", err)
	}
	if len(aggs) != 1 {
		t.Fatalf("expected exactly one aggregation job, got %d", len(aggs))
	}
	if aggs[0].ComponentID != "node-1" {
		t.Fatalf("aggregator = %s, want node-1 (the only active node/worker)", aggs[0].ComponentID)
	}
	if aggs[0].Status != job.StatusCreated {
		t.Fatalf("aggregation job status = %s, want CREATED", aggs[0].Status)
	}
}

func TestPlanGroupsMultipleDataSourceHashesUnderTheirOwner(t *testing.T) {
	ctx := context.Background()
	stores := memory.New()

	for _, comp := range []component.Component{
		{ID: "client-a", Type: component.TypeClient},
		{ID: "node-1", Type: component.TypeNode},
	} {
		if _, err := stores.Components.Create(ctx, comp); err != nil {
			t.Fatalf("create component %s: %v", comp.ID, err)
		}
	}
	for _, ds := range []datasource.DataSource{
		{Hash: "ds-2", ComponentID: "client-a", ProjectToken: "proj-1", Name: "b"},
		{Hash: "ds-1", ComponentID: "client-a", ProjectToken: "proj-1", Name: "a"},
	} {
		if _, err := stores.DataSources.Create(ctx, ds); err != nil {
			t.Fatalf("create datasource: %v", err)
		}
	}

	pl := New(stores.DataSources, stores.Components, stores.Artifacts, stores.Jobs)
	created, err := pl.Plan(ctx, validArtifact("proj-1"))
	if err != nil {
		t.Fatalf("plan: %v", err)
	}

	partials, err := stores.Jobs.ListByArtifactIteration(ctx, created.ID, 0, job.KindPartial)
	if err != nil {
		t.Fatalf("list partials: %v", err)
	}
	if len(partials) != 1 {
		t.Fatalf("expected exactly one partial job for client-a, got %+v", partials)
	}
	want := []string{"ds-1", "ds-2"}
	got := partials[0].ContentIDs
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("partial job content ids = %v, want %v (sorted)", got, want)
	}
}

func TestPlanPicksLowestComponentIDAsAggregatorTieBreak(t *testing.T) {
	ctx := context.Background()
	stores := memory.New()

	for _, comp := range []component.Component{
		{ID: "worker-zz", Type: component.TypeWorker},
		{ID: "node-aa", Type: component.TypeNode},
		{ID: "worker-bb", Type: component.TypeWorker},
	} {
		if _, err := stores.Components.Create(ctx, comp); err != nil {
			t.Fatalf("create component: %v", err)
		}
	}
	if _, err := stores.DataSources.Create(ctx, datasource.DataSource{Hash: "ds-1", ComponentID: "client-a", ProjectToken: "proj-1"}); err != nil {
		t.Fatalf("create datasource: %v", err)
	}

	pl := New(stores.DataSources, stores.Components, stores.Artifacts, stores.Jobs)
	created, err := pl.Plan(ctx, validArtifact("proj-1"))
	if err != nil {
		t.Fatalf("plan: %v", err)
	}

	aggs, err := stores.Jobs.ListByArtifactIteration(ctx, created.ID, 0, job.KindAggregation)
	if err != nil {
		t.Fatalf("list aggregation jobs: %v", err)
	}
	if len(aggs) != 1 || aggs[0].ComponentID != "node-aa" {
		t.Fatalf("expected node-aa (lowest id) as aggregator, got %+v", aggs)
	}
}

func TestPlanRejectsArtifactWithNoVisibleDataSources(t *testing.T) {
	ctx := context.Background()
	stores := memory.New()
	if _, err := stores.Components.Create(ctx, component.Component{ID: "node-1", Type: component.TypeNode}); err != nil {
		t.Fatalf("create component: %v", err)
	}

	pl := New(stores.DataSources, stores.Components, stores.Artifacts, stores.Jobs)
	if _, err := pl.Plan(ctx, validArtifact("empty-project")); err == nil {
		t.Fatalf("expected plan to reject an artifact with no visible datasources")
	}
}

func TestPlanExcludesRemovedDataSources(t *testing.T) {
	ctx := context.Background()
	stores := memory.New()
	if _, err := stores.Components.Create(ctx, component.Component{ID: "node-1", Type: component.TypeNode}); err != nil {
		t.Fatalf("create component: %v", err)
	}
	if _, err := stores.DataSources.Create(ctx, datasource.DataSource{Hash: "ds-1", ComponentID: "client-a", ProjectToken: "proj-1", Removed: true}); err != nil {
		t.Fatalf("create datasource: %v", err)
	}

	pl := New(stores.DataSources, stores.Components, stores.Artifacts, stores.Jobs)
	if _, err := pl.Plan(ctx, validArtifact("proj-1")); err == nil {
		t.Fatalf("expected plan to reject a project with only removed datasources")
	}
}

func TestPlanRejectsInvalidArtifact(t *testing.T) {
	ctx := context.Background()
	stores := memory.New()
	pl := New(stores.DataSources, stores.Components, stores.Artifacts, stores.Jobs)

	invalid := validArtifact("proj-1")
	invalid.Execution.Iterations = 0
	if _, err := pl.Plan(ctx, invalid); err == nil {
		t.Fatalf("expected plan to reject an artifact with zero iterations")
	}
}

func TestPlanNextIterationClonesPartialsAndOpensAggregation(t *testing.T) {
	ctx := context.Background()
	stores := memory.New()
	if _, err := stores.Components.Create(ctx, component.Component{ID: "node-1", Type: component.TypeNode}); err != nil {
		t.Fatalf("create component: %v", err)
	}
	if _, err := stores.DataSources.Create(ctx, datasource.DataSource{Hash: "ds-1", ComponentID: "client-a", ProjectToken: "proj-1"}); err != nil {
		t.Fatalf("create datasource: %v", err)
	}

	pl := New(stores.DataSources, stores.Components, stores.Artifacts, stores.Jobs)
	created, err := pl.Plan(ctx, validArtifact("proj-1"))
	if err != nil {
		t.Fatalf("plan: %v", err)
	}

	if err := pl.PlanNextIteration(ctx, created.ID, 0); err != nil {
		t.Fatalf("plan next iteration: %v", err)
	}

	partials, err := stores.Jobs.ListByArtifactIteration(ctx, created.ID, 1, job.KindPartial)
	if err != nil {
		t.Fatalf("list partials: %v", err)
	}
	if len(partials) != 1 || partials[0].ComponentID != "client-a" {
		t.Fatalf("expected cloned partial job for client-a at iteration 1, got %+v", partials)
	}
	if len(partials[0].ContentIDs) != 1 || partials[0].ContentIDs[0] != "ds-1" {
		t.Fatalf("cloned partial job content ids = %v, want [ds-1]", partials[0].ContentIDs)
	}

	aggs, err := stores.Jobs.ListByArtifactIteration(ctx, created.ID, 1, job.KindAggregation)
	if err != nil {
		t.Fatalf("list aggregation jobs: %v", err)
	}
	if len(aggs) != 1 {
		t.Fatalf("expected one aggregation job at iteration 1, got %d", len(aggs))
	}

	art, err := stores.Artifacts.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("get artifact: %v", err)
	}
	if art.CurrentIteration != 1 {
		t.Fatalf("current iteration = %d, want 1", art.CurrentIteration)
	}
}
