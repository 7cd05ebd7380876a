// Package storage defines the repository interfaces the core depends on and
// ships two implementations: an in-memory store for tests and single-node
// development, and a Postgres-backed store for production.
//
// Each repository call is atomic on its own, and Job.Status transitions are
// atomic compare-and-set operations. The core issues several repository
// calls per incoming request and does not group them in one transaction, so
// a request that fails midway keeps the writes it has already made.
package storage

import (
	"context"

	"github.com/fedmesh/node/internal/domain/artifact"
	"github.com/fedmesh/node/internal/domain/component"
	"github.com/fedmesh/node/internal/domain/datasource"
	"github.com/fedmesh/node/internal/domain/job"
	"github.com/fedmesh/node/internal/domain/project"
	"github.com/fedmesh/node/internal/domain/result"
	"github.com/fedmesh/node/internal/domain/token"
)

// ComponentStore persists network participant identities.
type ComponentStore interface {
	Create(ctx context.Context, c component.Component) (component.Component, error)
	Get(ctx context.Context, id string) (component.Component, error)
	GetByPublicKey(ctx context.Context, publicKey string) (component.Component, error)
	GetByClientIdentity(ctx context.Context, mac, node string) (component.Component, error)
	MarkLeft(ctx context.Context, id string) error
	List(ctx context.Context, typ component.Type, limit int) ([]component.Component, error)
}

// TokenStore persists bearer credentials and enforces the at-most-one-valid
// invariant per component.
type TokenStore interface {
	// Issue creates a new valid token for componentID and invalidates any
	// token previously issued to that component, atomically.
	Issue(ctx context.Context, t token.Token) (token.Token, error)
	Get(ctx context.Context, tokenValue string) (token.Token, error)
	Invalidate(ctx context.Context, componentID string) error
}

// ProjectStore persists named capability scopes.
type ProjectStore interface {
	Create(ctx context.Context, p project.Project) (project.Project, error)
	Get(ctx context.Context, tok string) (project.Project, error)
}

// DataSourceStore persists datasource metadata and the datasource->project
// association the planner resolves against.
type DataSourceStore interface {
	Create(ctx context.Context, d datasource.DataSource) (datasource.DataSource, error)
	Get(ctx context.Context, hash string) (datasource.DataSource, error)
	ListByProject(ctx context.Context, projectToken string) ([]datasource.DataSource, error)
}

// ArtifactStore persists artifact submissions and their planning state.
type ArtifactStore interface {
	Create(ctx context.Context, a artifact.Artifact) (artifact.Artifact, error)
	Get(ctx context.Context, id string) (artifact.Artifact, error)
	// SetStatus atomically updates Status (and CurrentIteration when
	// advancing to a new round).
	SetStatus(ctx context.Context, id string, status artifact.Status, currentIteration int) error
}

// JobStore persists jobs and exposes the compare-and-set primitive the
// scheduler's dispatch loop relies on for mutual exclusion.
type JobStore interface {
	Create(ctx context.Context, j job.Job) (job.Job, error)
	Get(ctx context.Context, id string) (job.Job, error)
	// ListByArtifactIteration lists every job for (artifactID, iteration),
	// optionally filtered by kind.
	ListByArtifactIteration(ctx context.Context, artifactID string, iteration int, kind job.Kind) ([]job.Job, error)
	// OldestScheduledForComponent returns the oldest SCHEDULED job assigned
	// to componentID, or ok=false if none exists.
	OldestScheduledForComponent(ctx context.Context, componentID string) (job.Job, bool, error)
	// CompareAndSetStatus atomically transitions a job from expected to next,
	// returning ok=false (not an error) if the job's current status no
	// longer matches expected — the caller has lost the race.
	CompareAndSetStatus(ctx context.Context, id string, expected, next job.Status) (ok bool, err error)
	// AppendContentID appends a content id (e.g. a result id) to a job's
	// ContentIDs, used to accumulate aggregation inputs as partials finish.
	AppendContentID(ctx context.Context, id string, contentID string) error
	// ListRunningOlderThan returns RUNNING jobs whose StartedAt predates the
	// lease cutoff, for the scheduler's lease-reclaim pass.
	ListRunningOlderThan(ctx context.Context, cutoffUnixNano int64) ([]job.Job, error)
}

// ResultStore persists result rows and their provenance.
type ResultStore interface {
	Create(ctx context.Context, r result.Result) (result.Result, error)
	Get(ctx context.Context, id string) (result.Result, error)
	GetPartial(ctx context.Context, artifactID, producerID string, iteration int) (result.Result, bool, error)
	GetAggregated(ctx context.Context, artifactID string, iteration int) (result.Result, bool, error)
}

// KeyValueStore persists small opaque values (e.g. a node's own serialized
// key material) keyed by string.
type KeyValueStore interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
}

// Stores bundles every repository the node's Application wires together.
type Stores struct {
	Components  ComponentStore
	Tokens      TokenStore
	Projects    ProjectStore
	DataSources DataSourceStore
	Artifacts   ArtifactStore
	Jobs        JobStore
	Results     ResultStore
	KV          KeyValueStore
}
