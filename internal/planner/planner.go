// Package planner expands an accepted Artifact into its initial job DAG:
// one PARTIAL job per datasource-owning component, plus the iteration-0
// AGGREGATION job that waits on all of them.
package planner

import (
	"context"
	"sort"

	"github.com/fedmesh/node/internal/apperrors"
	"github.com/fedmesh/node/internal/domain/artifact"
	"github.com/fedmesh/node/internal/domain/component"
	"github.com/fedmesh/node/internal/domain/datasource"
	"github.com/fedmesh/node/internal/domain/job"
	"github.com/fedmesh/node/internal/storage"
)

// Planner resolves an artifact's visible datasources and writes its
// iteration-0 job DAG in a single pass.
type Planner struct {
	datasources storage.DataSourceStore
	components  storage.ComponentStore
	artifacts   storage.ArtifactStore
	jobs        storage.JobStore
}

// New constructs a Planner against the repositories it needs.
func New(datasources storage.DataSourceStore, components storage.ComponentStore, artifacts storage.ArtifactStore, jobs storage.JobStore) *Planner {
	return &Planner{datasources: datasources, components: components, artifacts: artifacts, jobs: jobs}
}

// Plan validates and persists art, then creates its iteration-0 jobs: one
// PARTIAL job per component owning a visible datasource ("the partial
// set"), and one AGGREGATION job assigned to a deterministically chosen
// aggregator. An artifact with zero visible datasources is rejected.
func (p *Planner) Plan(ctx context.Context, art artifact.Artifact) (artifact.Artifact, error) {
	if err := art.Validate(); err != nil {
		return artifact.Artifact{}, apperrors.InvalidArtifact("%v", err)
	}

	sources, err := p.datasources.ListByProject(ctx, art.ProjectToken)
	if err != nil {
		return artifact.Artifact{}, apperrors.Internal(err, "list project datasources")
	}

	owners, hashesByOwner := partialSet(sources)
	if len(owners) == 0 {
		return artifact.Artifact{}, apperrors.InvalidArtifact("artifact has no visible datasources to plan against")
	}

	aggregator, err := p.pickAggregator(ctx)
	if err != nil {
		return artifact.Artifact{}, err
	}

	art.Status = artifact.StatusCreated
	art.CurrentIteration = 0
	created, err := p.artifacts.Create(ctx, art)
	if err != nil {
		return artifact.Artifact{}, err
	}

	for _, ownerID := range owners {
		if _, err := p.jobs.Create(ctx, job.Job{
			ArtifactID:  created.ID,
			ComponentID: ownerID,
			Iteration:   0,
			Kind:        job.KindPartial,
			Status:      job.StatusScheduled,
			ContentIDs:  hashesByOwner[ownerID],
		}); err != nil {
			return artifact.Artifact{}, apperrors.Internal(err, "create partial job")
		}
	}

	if _, err := p.jobs.Create(ctx, job.Job{
		ArtifactID:  created.ID,
		ComponentID: aggregator,
		Iteration:   0,
		Kind:        job.KindAggregation,
		Status:      job.StatusCreated,
		ContentIDs:  []string{},
	}); err != nil {
		return artifact.Artifact{}, apperrors.Internal(err, "create aggregation job")
	}

	if err := p.artifacts.SetStatus(ctx, created.ID, artifact.StatusScheduled, 0); err != nil {
		return artifact.Artifact{}, apperrors.Internal(err, "mark artifact scheduled")
	}
	created.Status = artifact.StatusScheduled
	return created, nil
}

// PlanNextIteration clones the partial jobs of completedIteration into
// completedIteration+1, scheduled immediately, and opens a fresh
// aggregation job for the new round. Called once an aggregation job
// completes and more iterations remain.
func (p *Planner) PlanNextIteration(ctx context.Context, artifactID string, completedIteration int) error {
	partials, err := p.jobs.ListByArtifactIteration(ctx, artifactID, completedIteration, job.KindPartial)
	if err != nil {
		return apperrors.Internal(err, "list partials for rollover")
	}
	aggJobs, err := p.jobs.ListByArtifactIteration(ctx, artifactID, completedIteration, job.KindAggregation)
	if err != nil {
		return apperrors.Internal(err, "list aggregation job for rollover")
	}
	if len(aggJobs) == 0 {
		return apperrors.Internal(nil, "no aggregation job found for iteration %d", completedIteration)
	}

	nextIteration := completedIteration + 1
	for _, partial := range partials {
		if _, err := p.jobs.Create(ctx, job.Job{
			ArtifactID:  artifactID,
			ComponentID: partial.ComponentID,
			Iteration:   nextIteration,
			Kind:        job.KindPartial,
			Status:      job.StatusScheduled,
			ContentIDs:  partial.ContentIDs,
		}); err != nil {
			return apperrors.Internal(err, "clone partial job")
		}
	}

	if _, err := p.jobs.Create(ctx, job.Job{
		ArtifactID:  artifactID,
		ComponentID: aggJobs[0].ComponentID,
		Iteration:   nextIteration,
		Kind:        job.KindAggregation,
		Status:      job.StatusCreated,
		ContentIDs:  []string{},
	}); err != nil {
		return apperrors.Internal(err, "create next aggregation job")
	}

	return p.artifacts.SetStatus(ctx, artifactID, artifact.StatusScheduled, nextIteration)
}

// partialSet returns the distinct, sorted component ids owning a visible
// (non-removed) datasource — the set of components a partial job must be
// created for — alongside each owner's sorted datasource hashes, which
// become that PARTIAL job's ContentIDs (the inputs it must transform/train
// over).
func partialSet(sources []datasource.DataSource) ([]string, map[string][]string) {
	seen := make(map[string]bool)
	var owners []string
	hashesByOwner := make(map[string][]string)
	for _, ds := range sources {
		if ds.Removed {
			continue
		}
		if !seen[ds.ComponentID] {
			seen[ds.ComponentID] = true
			owners = append(owners, ds.ComponentID)
		}
		hashesByOwner[ds.ComponentID] = append(hashesByOwner[ds.ComponentID], ds.Hash)
	}
	sort.Strings(owners)
	for _, hashes := range hashesByOwner {
		sort.Strings(hashes)
	}
	return owners, hashesByOwner
}

// pickAggregator selects the aggregator for a round: any active NODE or
// WORKER, lowest id first for a deterministic tie-break.
func (p *Planner) pickAggregator(ctx context.Context) (string, error) {
	var candidates []string
	for _, typ := range []component.Type{component.TypeNode, component.TypeWorker} {
		list, err := p.components.List(ctx, typ, 0)
		if err != nil {
			return "", apperrors.Internal(err, "list aggregator candidates")
		}
		for _, c := range list {
			if c.Active && !c.Left {
				candidates = append(candidates, c.ID)
			}
		}
	}
	if len(candidates) == 0 {
		return "", apperrors.InvalidArtifact("no active node or worker available to aggregate")
	}
	sort.Strings(candidates)
	return candidates[0], nil
}
