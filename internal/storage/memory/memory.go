// Package memory implements storage.Stores entirely in process memory. It
// backs single-node development and the core's unit tests; a Postgres-backed
// implementation lives in internal/storage/postgres.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fedmesh/node/internal/apperrors"
	"github.com/fedmesh/node/internal/domain/artifact"
	"github.com/fedmesh/node/internal/domain/component"
	"github.com/fedmesh/node/internal/domain/datasource"
	"github.com/fedmesh/node/internal/domain/job"
	"github.com/fedmesh/node/internal/domain/project"
	"github.com/fedmesh/node/internal/domain/result"
	"github.com/fedmesh/node/internal/domain/token"
	"github.com/fedmesh/node/internal/storage"
	"github.com/google/uuid"
)

// state is the shared, mutex-guarded backing store every sub-store type
// below operates on. Splitting the repository into one small type per
// entity (rather than one type with many differently-named methods) lets
// each satisfy its storage interface under the interface's natural method
// names (Create, Get, ...).
type state struct {
	mu sync.RWMutex

	components  map[string]component.Component
	tokens      map[string]token.Token // token value -> Token
	projects    map[string]project.Project
	datasources map[string]datasource.DataSource
	artifacts   map[string]artifact.Artifact
	jobs        map[string]job.Job
	results     map[string]result.Result
	kv          map[string][]byte
}

func newState() *state {
	return &state{
		components:  make(map[string]component.Component),
		tokens:      make(map[string]token.Token),
		projects:    make(map[string]project.Project),
		datasources: make(map[string]datasource.DataSource),
		artifacts:   make(map[string]artifact.Artifact),
		jobs:        make(map[string]job.Job),
		results:     make(map[string]result.Result),
		kv:          make(map[string][]byte),
	}
}

func newID() string { return uuid.NewString() }

// Components, Tokens, Projects, DataSources, Artifacts, Jobs, Results, and
// KV each implement exactly one storage interface over the shared state.
type (
	Components  struct{ s *state }
	Tokens      struct{ s *state }
	Projects    struct{ s *state }
	DataSources struct{ s *state }
	Artifacts   struct{ s *state }
	Jobs        struct{ s *state }
	Results     struct{ s *state }
	KV          struct{ s *state }
)

var (
	_ storage.ComponentStore  = Components{}
	_ storage.TokenStore      = Tokens{}
	_ storage.ProjectStore    = Projects{}
	_ storage.DataSourceStore = DataSources{}
	_ storage.ArtifactStore   = Artifacts{}
	_ storage.JobStore        = Jobs{}
	_ storage.ResultStore     = Results{}
	_ storage.KeyValueStore   = KV{}
)

// New returns a fully-wired storage.Stores backed by in-memory maps.
func New() storage.Stores {
	s := newState()
	return storage.Stores{
		Components:  Components{s},
		Tokens:      Tokens{s},
		Projects:    Projects{s},
		DataSources: DataSources{s},
		Artifacts:   Artifacts{s},
		Jobs:        Jobs{s},
		Results:     Results{s},
		KV:          KV{s},
	}
}

// --- Components ---

func (c Components) Create(ctx context.Context, comp component.Component) (component.Component, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	if comp.ID == "" {
		comp.ID = newID()
	}
	for _, existing := range c.s.components {
		if existing.PublicKey == comp.PublicKey {
			return component.Component{}, apperrors.Conflict("public key already registered")
		}
		if comp.Type == component.TypeClient && existing.Type == component.TypeClient &&
			existing.MAC == comp.MAC && existing.Node == comp.Node {
			return component.Component{}, apperrors.Conflict("client (mac, node) already registered")
		}
	}
	now := time.Now()
	comp.CreatedAt, comp.UpdatedAt = now, now
	comp.Active = true
	c.s.components[comp.ID] = comp
	return comp, nil
}

func (c Components) Get(ctx context.Context, id string) (component.Component, error) {
	c.s.mu.RLock()
	defer c.s.mu.RUnlock()
	comp, ok := c.s.components[id]
	if !ok {
		return component.Component{}, apperrors.NotFound("component %s not found", id)
	}
	return comp, nil
}

func (c Components) GetByPublicKey(ctx context.Context, publicKey string) (component.Component, error) {
	c.s.mu.RLock()
	defer c.s.mu.RUnlock()
	for _, comp := range c.s.components {
		if comp.PublicKey == publicKey {
			return comp, nil
		}
	}
	return component.Component{}, apperrors.NotFound("component with given public key not found")
}

func (c Components) GetByClientIdentity(ctx context.Context, mac, node string) (component.Component, error) {
	c.s.mu.RLock()
	defer c.s.mu.RUnlock()
	for _, comp := range c.s.components {
		if comp.Type == component.TypeClient && comp.MAC == mac && comp.Node == node {
			return comp, nil
		}
	}
	return component.Component{}, apperrors.NotFound("client identity not found")
}

func (c Components) MarkLeft(ctx context.Context, id string) error {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	comp, ok := c.s.components[id]
	if !ok {
		return apperrors.NotFound("component %s not found", id)
	}
	comp.Left = true
	comp.Active = false
	comp.UpdatedAt = time.Now()
	c.s.components[id] = comp
	return nil
}

func (c Components) List(ctx context.Context, typ component.Type, limit int) ([]component.Component, error) {
	c.s.mu.RLock()
	defer c.s.mu.RUnlock()
	var out []component.Component
	for _, comp := range c.s.components {
		if typ != "" && comp.Type != typ {
			continue
		}
		out = append(out, comp)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// --- Tokens ---

func (t Tokens) Issue(ctx context.Context, tok token.Token) (token.Token, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	for key, existing := range t.s.tokens {
		if existing.ComponentID == tok.ComponentID && existing.Valid {
			existing.Valid = false
			t.s.tokens[key] = existing
		}
	}
	tok.Valid = true
	tok.CreatedAt = time.Now()
	t.s.tokens[tok.Token] = tok
	return tok, nil
}

func (t Tokens) Get(ctx context.Context, tokenValue string) (token.Token, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	tok, ok := t.s.tokens[tokenValue]
	if !ok {
		return token.Token{}, apperrors.NotFound("token not found")
	}
	return tok, nil
}

func (t Tokens) Invalidate(ctx context.Context, componentID string) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	for key, existing := range t.s.tokens {
		if existing.ComponentID == componentID {
			existing.Valid = false
			t.s.tokens[key] = existing
		}
	}
	return nil
}

// --- Projects ---

func (p Projects) Create(ctx context.Context, proj project.Project) (project.Project, error) {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	if _, exists := p.s.projects[proj.Token]; exists {
		return project.Project{}, apperrors.Conflict("project token already exists")
	}
	proj.CreatedAt = time.Now()
	p.s.projects[proj.Token] = proj
	return proj, nil
}

func (p Projects) Get(ctx context.Context, tok string) (project.Project, error) {
	p.s.mu.RLock()
	defer p.s.mu.RUnlock()
	proj, ok := p.s.projects[tok]
	if !ok {
		return project.Project{}, apperrors.NotFound("project %s not found", tok)
	}
	return proj, nil
}

// --- DataSources ---

func (d DataSources) Create(ctx context.Context, ds datasource.DataSource) (datasource.DataSource, error) {
	d.s.mu.Lock()
	defer d.s.mu.Unlock()
	if _, exists := d.s.datasources[ds.Hash]; exists {
		return datasource.DataSource{}, apperrors.Conflict("datasource %s already exists", ds.Hash)
	}
	now := time.Now()
	ds.CreatedAt, ds.UpdatedAt = now, now
	d.s.datasources[ds.Hash] = ds
	return ds, nil
}

func (d DataSources) Get(ctx context.Context, hash string) (datasource.DataSource, error) {
	d.s.mu.RLock()
	defer d.s.mu.RUnlock()
	ds, ok := d.s.datasources[hash]
	if !ok {
		return datasource.DataSource{}, apperrors.NotFound("datasource %s not found", hash)
	}
	return ds, nil
}

func (d DataSources) ListByProject(ctx context.Context, projectToken string) ([]datasource.DataSource, error) {
	d.s.mu.RLock()
	defer d.s.mu.RUnlock()
	var out []datasource.DataSource
	for _, ds := range d.s.datasources {
		if ds.ProjectToken == projectToken && !ds.Removed {
			out = append(out, ds)
		}
	}
	return out, nil
}

// --- Artifacts ---

func (a Artifacts) Create(ctx context.Context, art artifact.Artifact) (artifact.Artifact, error) {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	if art.ID == "" {
		art.ID = newID()
	}
	now := time.Now()
	art.CreatedAt, art.UpdatedAt = now, now
	a.s.artifacts[art.ID] = art
	return art, nil
}

func (a Artifacts) Get(ctx context.Context, id string) (artifact.Artifact, error) {
	a.s.mu.RLock()
	defer a.s.mu.RUnlock()
	art, ok := a.s.artifacts[id]
	if !ok {
		return artifact.Artifact{}, apperrors.NotFound("artifact %s not found", id)
	}
	return art, nil
}

func (a Artifacts) SetStatus(ctx context.Context, id string, status artifact.Status, currentIteration int) error {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	art, ok := a.s.artifacts[id]
	if !ok {
		return apperrors.NotFound("artifact %s not found", id)
	}
	art.Status = status
	art.CurrentIteration = currentIteration
	art.UpdatedAt = time.Now()
	a.s.artifacts[id] = art
	return nil
}

// --- Jobs ---

func (j Jobs) Create(ctx context.Context, job_ job.Job) (job.Job, error) {
	j.s.mu.Lock()
	defer j.s.mu.Unlock()
	if job_.ID == "" {
		job_.ID = newID()
	}
	job_.CreatedAt = time.Now()
	j.s.jobs[job_.ID] = job_
	return job_, nil
}

func (j Jobs) Get(ctx context.Context, id string) (job.Job, error) {
	j.s.mu.RLock()
	defer j.s.mu.RUnlock()
	jb, ok := j.s.jobs[id]
	if !ok {
		return job.Job{}, apperrors.NotFound("job %s not found", id)
	}
	return jb, nil
}

func (j Jobs) ListByArtifactIteration(ctx context.Context, artifactID string, iteration int, kind job.Kind) ([]job.Job, error) {
	j.s.mu.RLock()
	defer j.s.mu.RUnlock()
	var out []job.Job
	for _, jb := range j.s.jobs {
		if jb.ArtifactID != artifactID || jb.Iteration != iteration {
			continue
		}
		if kind != "" && jb.Kind != kind {
			continue
		}
		out = append(out, jb)
	}
	return out, nil
}

func (j Jobs) OldestScheduledForComponent(ctx context.Context, componentID string) (job.Job, bool, error) {
	j.s.mu.RLock()
	defer j.s.mu.RUnlock()
	var best job.Job
	found := false
	for _, jb := range j.s.jobs {
		if jb.ComponentID != componentID || jb.Status != job.StatusScheduled {
			continue
		}
		if !found || jb.CreatedAt.Before(best.CreatedAt) {
			best = jb
			found = true
		}
	}
	return best, found, nil
}

func (j Jobs) CompareAndSetStatus(ctx context.Context, id string, expected, next job.Status) (bool, error) {
	j.s.mu.Lock()
	defer j.s.mu.Unlock()
	jb, ok := j.s.jobs[id]
	if !ok {
		return false, apperrors.NotFound("job %s not found", id)
	}
	if jb.Status != expected {
		return false, nil
	}
	if !job.CanTransition(jb.Status, next) {
		return false, fmt.Errorf("illegal job transition %s -> %s", jb.Status, next)
	}
	now := time.Now()
	switch next {
	case job.StatusRunning:
		jb.StartedAt = &now
	case job.StatusDone, job.StatusError:
		jb.EndedAt = &now
	}
	jb.Status = next
	j.s.jobs[id] = jb
	return true, nil
}

func (j Jobs) AppendContentID(ctx context.Context, id string, contentID string) error {
	j.s.mu.Lock()
	defer j.s.mu.Unlock()
	jb, ok := j.s.jobs[id]
	if !ok {
		return apperrors.NotFound("job %s not found", id)
	}
	jb.ContentIDs = append(jb.ContentIDs, contentID)
	j.s.jobs[id] = jb
	return nil
}

func (j Jobs) ListRunningOlderThan(ctx context.Context, cutoffUnixNano int64) ([]job.Job, error) {
	j.s.mu.RLock()
	defer j.s.mu.RUnlock()
	var out []job.Job
	for _, jb := range j.s.jobs {
		if jb.Status != job.StatusRunning || jb.StartedAt == nil {
			continue
		}
		if jb.StartedAt.UnixNano() < cutoffUnixNano {
			out = append(out, jb)
		}
	}
	return out, nil
}

// --- Results ---

func (r Results) Create(ctx context.Context, res result.Result) (result.Result, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if res.ID == "" {
		res.ID = newID()
	}
	if res.IsAggregation {
		for _, existing := range r.s.results {
			if existing.ArtifactID == res.ArtifactID && existing.Iteration == res.Iteration && existing.IsAggregation {
				return result.Result{}, apperrors.Conflict("aggregated result already exists for artifact %s iteration %d", res.ArtifactID, res.Iteration)
			}
		}
	} else {
		for _, existing := range r.s.results {
			if existing.ArtifactID == res.ArtifactID && existing.Iteration == res.Iteration &&
				existing.ProducerID == res.ProducerID && !existing.IsAggregation {
				return result.Result{}, apperrors.Conflict("result already exists for artifact %s producer %s iteration %d", res.ArtifactID, res.ProducerID, res.Iteration)
			}
		}
	}
	res.CreatedAt = time.Now()
	r.s.results[res.ID] = res
	return res, nil
}

func (r Results) Get(ctx context.Context, id string) (result.Result, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	res, ok := r.s.results[id]
	if !ok {
		return result.Result{}, apperrors.NotFound("result %s not found", id)
	}
	return res, nil
}

func (r Results) GetPartial(ctx context.Context, artifactID, producerID string, iteration int) (result.Result, bool, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, res := range r.s.results {
		if res.ArtifactID == artifactID && res.ProducerID == producerID && res.Iteration == iteration && !res.IsAggregation {
			return res, true, nil
		}
	}
	return result.Result{}, false, nil
}

func (r Results) GetAggregated(ctx context.Context, artifactID string, iteration int) (result.Result, bool, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, res := range r.s.results {
		if res.ArtifactID == artifactID && res.Iteration == iteration && res.IsAggregation {
			return res, true, nil
		}
	}
	return result.Result{}, false, nil
}

// --- KV ---

func (k KV) Set(ctx context.Context, key string, value []byte) error {
	k.s.mu.Lock()
	defer k.s.mu.Unlock()
	cp := make([]byte, len(value))
	copy(cp, value)
	k.s.kv[key] = cp
	return nil
}

func (k KV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	k.s.mu.RLock()
	defer k.s.mu.RUnlock()
	v, ok := k.s.kv[key]
	if !ok {
		return nil, false, nil
	}
	cp := make([]byte, len(v))
	copy(cp, v)
	return cp, true, nil
}
