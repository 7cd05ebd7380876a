// Package postgres implements storage.Stores against a PostgreSQL database
// via database/sql and github.com/lib/pq, following the same raw-SQL,
// compare-and-set style the core relies on for Job.Status transitions.
//
// Every repository interface is implemented by its own small type sharing a
// single *sql.DB handle, rather than by one struct: several interfaces use
// the same bare method names (Create, Get) for different entities, which
// Go's lack of method overloading forbids on one receiver type.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
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

// New wires every repository interface against the same *sql.DB handle. db
// is expected to already be open and migrated.
func New(db *sql.DB) storage.Stores {
	return storage.Stores{
		Components:  Components{db: db},
		Tokens:      Tokens{db: db},
		Projects:    Projects{db: db},
		DataSources: DataSources{db: db},
		Artifacts:   Artifacts{db: db},
		Jobs:        Jobs{db: db},
		Results:     Results{db: db},
		KV:          KV{db: db},
	}
}

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

func newID() string { return uuid.NewString() }

func isUniqueViolation(err error) bool {
	// lib/pq surfaces postgres error code 23505 for unique_violation; the
	// sqlmock driver this package is tested against returns the same text.
	return err != nil && strings.Contains(err.Error(), "23505")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func requireRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return apperrors.Internal(err, "rows affected")
	}
	if n == 0 {
		return apperrors.NotFound("%s %s not found", entity, id)
	}
	return nil
}

// --- Components ---

type Components struct{ db *sql.DB }

func (c Components) Create(ctx context.Context, comp component.Component) (component.Component, error) {
	if comp.ID == "" {
		comp.ID = newID()
	}
	now := time.Now()
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO components (id, type, public_key, ip_address, mac, node, version, active, left_behind, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,true,false,$8,$8)`,
		comp.ID, comp.Type, comp.PublicKey, comp.IPAddress, comp.MAC, comp.Node, comp.Version, now)
	if err != nil {
		if isUniqueViolation(err) {
			return component.Component{}, apperrors.Conflict("component already registered")
		}
		return component.Component{}, apperrors.Internal(err, "insert component")
	}
	comp.CreatedAt, comp.UpdatedAt, comp.Active = now, now, true
	return comp, nil
}

func (c Components) Get(ctx context.Context, id string) (component.Component, error) {
	return scanComponent(c.db.QueryRowContext(ctx, `
		SELECT id, type, public_key, ip_address, mac, node, version, active, left_behind, created_at, updated_at
		FROM components WHERE id = $1`, id))
}

func (c Components) GetByPublicKey(ctx context.Context, publicKey string) (component.Component, error) {
	return scanComponent(c.db.QueryRowContext(ctx, `
		SELECT id, type, public_key, ip_address, mac, node, version, active, left_behind, created_at, updated_at
		FROM components WHERE public_key = $1`, publicKey))
}

func (c Components) GetByClientIdentity(ctx context.Context, mac, node string) (component.Component, error) {
	return scanComponent(c.db.QueryRowContext(ctx, `
		SELECT id, type, public_key, ip_address, mac, node, version, active, left_behind, created_at, updated_at
		FROM components WHERE type = $1 AND mac = $2 AND node = $3`, component.TypeClient, mac, node))
}

func (c Components) MarkLeft(ctx context.Context, id string) error {
	res, err := c.db.ExecContext(ctx, `
		UPDATE components SET left_behind = true, active = false, updated_at = $2 WHERE id = $1`,
		id, time.Now())
	if err != nil {
		return apperrors.Internal(err, "mark component left")
	}
	return requireRowsAffected(res, "component", id)
}

func (c Components) List(ctx context.Context, typ component.Type, limit int) ([]component.Component, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows *sql.Rows
	var err error
	if typ == "" {
		rows, err = c.db.QueryContext(ctx, `
			SELECT id, type, public_key, ip_address, mac, node, version, active, left_behind, created_at, updated_at
			FROM components ORDER BY created_at LIMIT $1`, limit)
	} else {
		rows, err = c.db.QueryContext(ctx, `
			SELECT id, type, public_key, ip_address, mac, node, version, active, left_behind, created_at, updated_at
			FROM components WHERE type = $1 ORDER BY created_at LIMIT $2`, typ, limit)
	}
	if err != nil {
		return nil, apperrors.Internal(err, "list components")
	}
	defer rows.Close()

	var out []component.Component
	for rows.Next() {
		comp, err := scanComponent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, comp)
	}
	return out, rows.Err()
}

func scanComponent(row rowScanner) (component.Component, error) {
	var comp component.Component
	err := row.Scan(&comp.ID, &comp.Type, &comp.PublicKey, &comp.IPAddress, &comp.MAC, &comp.Node, &comp.Version, &comp.Active, &comp.Left, &comp.CreatedAt, &comp.UpdatedAt)
	if err == sql.ErrNoRows {
		return component.Component{}, apperrors.NotFound("component not found")
	}
	if err != nil {
		return component.Component{}, apperrors.Internal(err, "scan component")
	}
	return comp, nil
}

// --- Tokens ---

type Tokens struct{ db *sql.DB }

func (t Tokens) Issue(ctx context.Context, tok token.Token) (token.Token, error) {
	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return token.Token{}, apperrors.Internal(err, "begin tx")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `UPDATE tokens SET valid = false WHERE component_id = $1`, tok.ComponentID); err != nil {
		return token.Token{}, apperrors.Internal(err, "invalidate prior tokens")
	}
	tok.CreatedAt = time.Now()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO tokens (token, component_id, expiration, valid, created_at)
		VALUES ($1,$2,$3,true,$4)`,
		tok.Token, tok.ComponentID, tok.Expiration, tok.CreatedAt); err != nil {
		return token.Token{}, apperrors.Internal(err, "insert token")
	}
	if err := tx.Commit(); err != nil {
		return token.Token{}, apperrors.Internal(err, "commit token issue")
	}
	tok.Valid = true
	return tok, nil
}

func (t Tokens) Get(ctx context.Context, tokenValue string) (token.Token, error) {
	var tok token.Token
	err := t.db.QueryRowContext(ctx, `
		SELECT token, component_id, expiration, valid, created_at FROM tokens WHERE token = $1`, tokenValue).
		Scan(&tok.Token, &tok.ComponentID, &tok.Expiration, &tok.Valid, &tok.CreatedAt)
	if err == sql.ErrNoRows {
		return token.Token{}, apperrors.NotFound("token not found")
	}
	if err != nil {
		return token.Token{}, apperrors.Internal(err, "scan token")
	}
	return tok, nil
}

func (t Tokens) Invalidate(ctx context.Context, componentID string) error {
	if _, err := t.db.ExecContext(ctx, `UPDATE tokens SET valid = false WHERE component_id = $1`, componentID); err != nil {
		return apperrors.Internal(err, "invalidate tokens")
	}
	return nil
}

// --- Projects ---

type Projects struct{ db *sql.DB }

func (p Projects) Create(ctx context.Context, proj project.Project) (project.Project, error) {
	proj.CreatedAt = time.Now()
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO projects (token, name, description, created_at) VALUES ($1,$2,$3,$4)`,
		proj.Token, proj.Name, proj.Description, proj.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return project.Project{}, apperrors.Conflict("project token already exists")
		}
		return project.Project{}, apperrors.Internal(err, "insert project")
	}
	return proj, nil
}

func (p Projects) Get(ctx context.Context, tok string) (project.Project, error) {
	var proj project.Project
	err := p.db.QueryRowContext(ctx, `SELECT token, name, description, created_at FROM projects WHERE token = $1`, tok).
		Scan(&proj.Token, &proj.Name, &proj.Description, &proj.CreatedAt)
	if err == sql.ErrNoRows {
		return project.Project{}, apperrors.NotFound("project %s not found", tok)
	}
	if err != nil {
		return project.Project{}, apperrors.Internal(err, "scan project")
	}
	return proj, nil
}

// --- DataSources ---

type DataSources struct{ db *sql.DB }

func (d DataSources) Create(ctx context.Context, ds datasource.DataSource) (datasource.DataSource, error) {
	now := time.Now()
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO datasources (hash, component_id, project_token, name, num_features, num_records, removed, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,false,$7,$7)`,
		ds.Hash, ds.ComponentID, ds.ProjectToken, ds.Name, ds.NumFeatures, ds.NumRecords, now)
	if err != nil {
		if isUniqueViolation(err) {
			return datasource.DataSource{}, apperrors.Conflict("datasource %s already exists", ds.Hash)
		}
		return datasource.DataSource{}, apperrors.Internal(err, "insert datasource")
	}
	ds.CreatedAt, ds.UpdatedAt = now, now
	return ds, nil
}

func (d DataSources) Get(ctx context.Context, hash string) (datasource.DataSource, error) {
	var ds datasource.DataSource
	err := d.db.QueryRowContext(ctx, `
		SELECT hash, component_id, project_token, name, num_features, num_records, removed, created_at, updated_at
		FROM datasources WHERE hash = $1`, hash).
		Scan(&ds.Hash, &ds.ComponentID, &ds.ProjectToken, &ds.Name, &ds.NumFeatures, &ds.NumRecords, &ds.Removed, &ds.CreatedAt, &ds.UpdatedAt)
	if err == sql.ErrNoRows {
		return datasource.DataSource{}, apperrors.NotFound("datasource %s not found", hash)
	}
	if err != nil {
		return datasource.DataSource{}, apperrors.Internal(err, "scan datasource")
	}
	return ds, nil
}

func (d DataSources) ListByProject(ctx context.Context, projectToken string) ([]datasource.DataSource, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT hash, component_id, project_token, name, num_features, num_records, removed, created_at, updated_at
		FROM datasources WHERE project_token = $1 AND removed = false`, projectToken)
	if err != nil {
		return nil, apperrors.Internal(err, "list datasources")
	}
	defer rows.Close()

	var out []datasource.DataSource
	for rows.Next() {
		var ds datasource.DataSource
		if err := rows.Scan(&ds.Hash, &ds.ComponentID, &ds.ProjectToken, &ds.Name, &ds.NumFeatures, &ds.NumRecords, &ds.Removed, &ds.CreatedAt, &ds.UpdatedAt); err != nil {
			return nil, apperrors.Internal(err, "scan datasource")
		}
		out = append(out, ds)
	}
	return out, rows.Err()
}

// --- Artifacts ---

type Artifacts struct{ db *sql.DB }

func (a Artifacts) Create(ctx context.Context, art artifact.Artifact) (artifact.Artifact, error) {
	if art.ID == "" {
		art.ID = newID()
	}
	now := time.Now()
	spec, err := json.Marshal(art.Descriptor)
	if err != nil {
		return artifact.Artifact{}, apperrors.Internal(err, "marshal descriptor")
	}
	_, err = a.db.ExecContext(ctx, `
		INSERT INTO artifacts (id, project_token, query, descriptor, iterations, aggregation_strategy, status, current_iteration, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$9)`,
		art.ID, art.ProjectToken, art.Query.Query, spec, art.Execution.Iterations, art.Execution.AggregationStrategy, art.Status, art.CurrentIteration, now)
	if err != nil {
		return artifact.Artifact{}, apperrors.Internal(err, "insert artifact")
	}
	art.CreatedAt, art.UpdatedAt = now, now
	return art, nil
}

func (a Artifacts) Get(ctx context.Context, id string) (artifact.Artifact, error) {
	var art artifact.Artifact
	var spec []byte
	err := a.db.QueryRowContext(ctx, `
		SELECT id, project_token, query, descriptor, iterations, aggregation_strategy, status, current_iteration, created_at, updated_at
		FROM artifacts WHERE id = $1`, id).
		Scan(&art.ID, &art.ProjectToken, &art.Query.Query, &spec, &art.Execution.Iterations, &art.Execution.AggregationStrategy, &art.Status, &art.CurrentIteration, &art.CreatedAt, &art.UpdatedAt)
	if err == sql.ErrNoRows {
		return artifact.Artifact{}, apperrors.NotFound("artifact %s not found", id)
	}
	if err != nil {
		return artifact.Artifact{}, apperrors.Internal(err, "scan artifact")
	}
	if len(spec) > 0 {
		if err := json.Unmarshal(spec, &art.Descriptor); err != nil {
			return artifact.Artifact{}, apperrors.Internal(err, "unmarshal descriptor")
		}
	}
	return art, nil
}

func (a Artifacts) SetStatus(ctx context.Context, id string, status artifact.Status, currentIteration int) error {
	res, err := a.db.ExecContext(ctx, `
		UPDATE artifacts SET status = $2, current_iteration = $3, updated_at = $4 WHERE id = $1`,
		id, status, currentIteration, time.Now())
	if err != nil {
		return apperrors.Internal(err, "update artifact status")
	}
	return requireRowsAffected(res, "artifact", id)
}

// --- Jobs ---

type Jobs struct{ db *sql.DB }

func (j Jobs) Create(ctx context.Context, jb job.Job) (job.Job, error) {
	if jb.ID == "" {
		jb.ID = newID()
	}
	jb.CreatedAt = time.Now()
	contentIDs, err := json.Marshal(jb.ContentIDs)
	if err != nil {
		return job.Job{}, apperrors.Internal(err, "marshal content ids")
	}
	_, err = j.db.ExecContext(ctx, `
		INSERT INTO jobs (id, artifact_id, component_id, iteration, kind, status, content_ids, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		jb.ID, jb.ArtifactID, jb.ComponentID, jb.Iteration, jb.Kind, jb.Status, contentIDs, jb.CreatedAt)
	if err != nil {
		return job.Job{}, apperrors.Internal(err, "insert job")
	}
	return jb, nil
}

func (j Jobs) Get(ctx context.Context, id string) (job.Job, error) {
	return scanJob(j.db.QueryRowContext(ctx, `
		SELECT id, artifact_id, component_id, iteration, kind, status, content_ids, created_at, started_at, ended_at
		FROM jobs WHERE id = $1`, id))
}

func scanJob(row rowScanner) (job.Job, error) {
	var jb job.Job
	var contentIDs []byte
	err := row.Scan(&jb.ID, &jb.ArtifactID, &jb.ComponentID, &jb.Iteration, &jb.Kind, &jb.Status, &contentIDs, &jb.CreatedAt, &jb.StartedAt, &jb.EndedAt)
	if err == sql.ErrNoRows {
		return job.Job{}, apperrors.NotFound("job not found")
	}
	if err != nil {
		return job.Job{}, apperrors.Internal(err, "scan job")
	}
	if len(contentIDs) > 0 {
		if err := json.Unmarshal(contentIDs, &jb.ContentIDs); err != nil {
			return job.Job{}, apperrors.Internal(err, "unmarshal content ids")
		}
	}
	return jb, nil
}

func (j Jobs) ListByArtifactIteration(ctx context.Context, artifactID string, iteration int, kind job.Kind) ([]job.Job, error) {
	var rows *sql.Rows
	var err error
	if kind == "" {
		rows, err = j.db.QueryContext(ctx, `
			SELECT id, artifact_id, component_id, iteration, kind, status, content_ids, created_at, started_at, ended_at
			FROM jobs WHERE artifact_id = $1 AND iteration = $2`, artifactID, iteration)
	} else {
		rows, err = j.db.QueryContext(ctx, `
			SELECT id, artifact_id, component_id, iteration, kind, status, content_ids, created_at, started_at, ended_at
			FROM jobs WHERE artifact_id = $1 AND iteration = $2 AND kind = $3`, artifactID, iteration, kind)
	}
	if err != nil {
		return nil, apperrors.Internal(err, "list jobs")
	}
	defer rows.Close()

	var out []job.Job
	for rows.Next() {
		jb, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, jb)
	}
	return out, rows.Err()
}

func (j Jobs) OldestScheduledForComponent(ctx context.Context, componentID string) (job.Job, bool, error) {
	row := j.db.QueryRowContext(ctx, `
		SELECT id, artifact_id, component_id, iteration, kind, status, content_ids, created_at, started_at, ended_at
		FROM jobs WHERE component_id = $1 AND status = $2 ORDER BY created_at ASC LIMIT 1`,
		componentID, job.StatusScheduled)
	jb, err := scanJob(row)
	if apperrors.KindOf(err) == apperrors.KindNotFound {
		return job.Job{}, false, nil
	}
	if err != nil {
		return job.Job{}, false, err
	}
	return jb, true, nil
}

// CompareAndSetStatus implements the scheduler's mutual-exclusion primitive
// via `UPDATE ... WHERE status = expected`, the row-level CAS the dispatch
// loop requires.
func (j Jobs) CompareAndSetStatus(ctx context.Context, id string, expected, next job.Status) (bool, error) {
	if !job.CanTransition(expected, next) {
		return false, fmt.Errorf("illegal job transition %s -> %s", expected, next)
	}
	var query string
	switch next {
	case job.StatusRunning:
		query = `UPDATE jobs SET status = $3, started_at = $4 WHERE id = $1 AND status = $2`
	case job.StatusDone, job.StatusError:
		query = `UPDATE jobs SET status = $3, ended_at = $4 WHERE id = $1 AND status = $2`
	default:
		query = `UPDATE jobs SET status = $3 WHERE id = $1 AND status = $2`
	}
	res, err := j.db.ExecContext(ctx, query, id, expected, next, time.Now())
	if err != nil {
		return false, apperrors.Internal(err, "compare-and-set job status")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, apperrors.Internal(err, "rows affected")
	}
	return n == 1, nil
}

func (j Jobs) AppendContentID(ctx context.Context, id string, contentID string) error {
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return apperrors.Internal(err, "begin tx")
	}
	defer tx.Rollback()

	jb, err := scanJob(tx.QueryRowContext(ctx, `
		SELECT id, artifact_id, component_id, iteration, kind, status, content_ids, created_at, started_at, ended_at
		FROM jobs WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return err
	}
	jb.ContentIDs = append(jb.ContentIDs, contentID)
	encoded, err := json.Marshal(jb.ContentIDs)
	if err != nil {
		return apperrors.Internal(err, "marshal content ids")
	}
	if _, err := tx.ExecContext(ctx, `UPDATE jobs SET content_ids = $2 WHERE id = $1`, id, encoded); err != nil {
		return apperrors.Internal(err, "update content ids")
	}
	if err := tx.Commit(); err != nil {
		return apperrors.Internal(err, "commit append content id")
	}
	return nil
}

func (j Jobs) ListRunningOlderThan(ctx context.Context, cutoffUnixNano int64) ([]job.Job, error) {
	cutoff := time.Unix(0, cutoffUnixNano)
	rows, err := j.db.QueryContext(ctx, `
		SELECT id, artifact_id, component_id, iteration, kind, status, content_ids, created_at, started_at, ended_at
		FROM jobs WHERE status = $1 AND started_at IS NOT NULL AND started_at < $2`,
		job.StatusRunning, cutoff)
	if err != nil {
		return nil, apperrors.Internal(err, "list stale running jobs")
	}
	defer rows.Close()

	var out []job.Job
	for rows.Next() {
		jb, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, jb)
	}
	return out, rows.Err()
}

// --- Results ---

type Results struct{ db *sql.DB }

func (r Results) Create(ctx context.Context, res result.Result) (result.Result, error) {
	if res.ID == "" {
		res.ID = newID()
	}
	res.CreatedAt = time.Now()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO results (id, job_id, artifact_id, producer_id, iteration, is_model, is_estimation, is_aggregation, is_error, path, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		res.ID, res.JobID, res.ArtifactID, res.ProducerID, res.Iteration, res.IsModel, res.IsEstimation, res.IsAggregation, res.IsError, res.Path, res.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return result.Result{}, apperrors.Conflict("result already exists for (artifact, producer/aggregation, iteration)")
		}
		return result.Result{}, apperrors.Internal(err, "insert result")
	}
	return res, nil
}

func (r Results) Get(ctx context.Context, id string) (result.Result, error) {
	return scanResult(r.db.QueryRowContext(ctx, `
		SELECT id, job_id, artifact_id, producer_id, iteration, is_model, is_estimation, is_aggregation, is_error, path, created_at
		FROM results WHERE id = $1`, id))
}

func scanResult(row rowScanner) (result.Result, error) {
	var res result.Result
	err := row.Scan(&res.ID, &res.JobID, &res.ArtifactID, &res.ProducerID, &res.Iteration, &res.IsModel, &res.IsEstimation, &res.IsAggregation, &res.IsError, &res.Path, &res.CreatedAt)
	if err == sql.ErrNoRows {
		return result.Result{}, apperrors.NotFound("result not found")
	}
	if err != nil {
		return result.Result{}, apperrors.Internal(err, "scan result")
	}
	return res, nil
}

func (r Results) GetPartial(ctx context.Context, artifactID, producerID string, iteration int) (result.Result, bool, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, job_id, artifact_id, producer_id, iteration, is_model, is_estimation, is_aggregation, is_error, path, created_at
		FROM results WHERE artifact_id = $1 AND producer_id = $2 AND iteration = $3 AND is_aggregation = false`,
		artifactID, producerID, iteration)
	res, err := scanResult(row)
	if apperrors.KindOf(err) == apperrors.KindNotFound {
		return result.Result{}, false, nil
	}
	if err != nil {
		return result.Result{}, false, err
	}
	return res, true, nil
}

func (r Results) GetAggregated(ctx context.Context, artifactID string, iteration int) (result.Result, bool, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, job_id, artifact_id, producer_id, iteration, is_model, is_estimation, is_aggregation, is_error, path, created_at
		FROM results WHERE artifact_id = $1 AND iteration = $2 AND is_aggregation = true`,
		artifactID, iteration)
	res, err := scanResult(row)
	if apperrors.KindOf(err) == apperrors.KindNotFound {
		return result.Result{}, false, nil
	}
	if err != nil {
		return result.Result{}, false, err
	}
	return res, true, nil
}

// --- KeyValueStore ---

type KV struct{ db *sql.DB }

func (k KV) Set(ctx context.Context, key string, value []byte) error {
	_, err := k.db.ExecContext(ctx, `
		INSERT INTO kv_store (key, value) VALUES ($1,$2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`, key, value)
	if err != nil {
		return apperrors.Internal(err, "set kv")
	}
	return nil
}

func (k KV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var v []byte
	err := k.db.QueryRowContext(ctx, `SELECT value FROM kv_store WHERE key = $1`, key).Scan(&v)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, apperrors.Internal(err, "get kv")
	}
	return v, true, nil
}
