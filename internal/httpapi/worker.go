package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/fedmesh/node/internal/apperrors"
	"github.com/fedmesh/node/internal/domain/component"
	"github.com/fedmesh/node/internal/domain/job"
	"github.com/fedmesh/node/internal/domain/result"
)

// taskDescriptor mirrors artifact.Descriptor on the wire.
type taskDescriptor struct {
	Kind string `json:"kind"`
	Tag  string `json:"tag"`
	Spec []byte `json:"spec"`
}

// taskParams is the opaque payload a worker receives in answer to a task
// fetch: the query plan and descriptor it must run, plus whatever content
// ids an aggregation job has accumulated so far.
type taskParams struct {
	JobID      string         `json:"job_id"`
	Kind       job.Kind       `json:"kind"`
	Iteration  int            `json:"iteration"`
	Query      []byte         `json:"query"`
	Descriptor taskDescriptor `json:"descriptor"`
	ContentIDs []string       `json:"content_ids"`
}

// workerTask fetches the task parameters for a RUNNING job assigned to the
// authenticated worker.
func (h *handlers) workerTask(w http.ResponseWriter, r *http.Request) {
	call, err := parseSignedRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}
	comp, _, err := h.deps.Session.Authenticate(r.Context(), call, component.TypeWorker, component.TypeNode)
	if err != nil {
		writeError(w, err)
		return
	}

	jobID := chi.URLParam(r, "job_id")
	j, err := h.deps.Stores.Jobs.Get(r.Context(), jobID)
	if err != nil {
		writeError(w, err)
		return
	}
	if j.ComponentID != comp.ID {
		writeError(w, apperrors.AccessDenied("job %s is not assigned to this component", jobID))
		return
	}

	art, err := h.deps.Stores.Artifacts.Get(r.Context(), j.ArtifactID)
	if err != nil {
		writeError(w, err)
		return
	}

	params := taskParams{
		JobID:     j.ID,
		Kind:      j.Kind,
		Iteration: j.Iteration,
		Query:     art.Query.Query,
		Descriptor: taskDescriptor{
			Kind: string(art.Descriptor.Kind),
			Tag:  art.Descriptor.Tag,
			Spec: art.Descriptor.Spec,
		},
		ContentIDs: j.ContentIDs,
	}

	writeSignedReply(w, h.deps.Session, comp, marshalJSON(params))
}

// resultUpload is the payload a worker submits on completion: the raw blob
// plus the flags that determine its tag and suffix in the result store.
type resultUpload struct {
	Blob          []byte `json:"blob"`
	IsModel       bool   `json:"is_model"`
	IsEstimation  bool   `json:"is_estimation"`
	IsAggregation bool   `json:"is_aggregation"`
}

// workerResult accepts a completed job's output blob, persists it to the
// result store, and folds its completion into the job state machine.
func (h *handlers) workerResult(w http.ResponseWriter, r *http.Request) {
	call, err := parseSignedRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}
	comp, plaintext, err := h.deps.Session.Authenticate(r.Context(), call, component.TypeWorker, component.TypeNode)
	if err != nil {
		writeError(w, err)
		return
	}

	jobID := chi.URLParam(r, "job_id")
	j, err := h.deps.Stores.Jobs.Get(r.Context(), jobID)
	if err != nil {
		writeError(w, err)
		return
	}
	if j.ComponentID != comp.ID {
		writeError(w, apperrors.AccessDenied("job %s is not assigned to this component", jobID))
		return
	}

	var upload resultUpload
	if err := unmarshalJSON(plaintext, &upload); err != nil {
		writeError(w, err)
		return
	}

	res := result.Result{
		JobID:         j.ID,
		ArtifactID:    j.ArtifactID,
		ProducerID:    comp.ID,
		Iteration:     j.Iteration,
		IsModel:       upload.IsModel,
		IsEstimation:  upload.IsEstimation,
		IsAggregation: upload.IsAggregation,
	}
	res.Path = h.deps.Results.Path(j.ArtifactID, j.Iteration, j.ID, res)
	if err := h.deps.Results.Write(r.Context(), res.Path, upload.Blob); err != nil {
		writeError(w, apperrors.Internal(err, "write result blob"))
		return
	}

	saved, err := h.deps.Scheduler.Complete(r.Context(), j, res)
	if err != nil {
		writeError(w, err)
		return
	}

	writeSignedReply(w, h.deps.Session, comp, marshalJSON(map[string]string{"result_id": saved.ID}))
}

// taskError is the payload a worker submits when a task fails instead of
// producing a result.
type taskError struct {
	JobID   string `json:"job_id"`
	Message string `json:"message"`
}

// workerError accepts a failed job report, persists an error Result, and
// cascades the failure to sibling jobs via the scheduler.
func (h *handlers) workerError(w http.ResponseWriter, r *http.Request) {
	call, err := parseSignedRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}
	comp, plaintext, err := h.deps.Session.Authenticate(r.Context(), call, component.TypeWorker, component.TypeNode)
	if err != nil {
		writeError(w, err)
		return
	}

	var payload taskError
	if err := unmarshalJSON(plaintext, &payload); err != nil {
		writeError(w, err)
		return
	}

	j, err := h.deps.Stores.Jobs.Get(r.Context(), payload.JobID)
	if err != nil {
		writeError(w, err)
		return
	}
	if j.ComponentID != comp.ID {
		writeError(w, apperrors.AccessDenied("job %s is not assigned to this component", payload.JobID))
		return
	}

	res := result.Result{
		JobID:      j.ID,
		ArtifactID: j.ArtifactID,
		ProducerID: comp.ID,
		Iteration:  j.Iteration,
		IsError:    true,
	}
	res.Path = h.deps.Results.Path(j.ArtifactID, j.Iteration, j.ID, res)
	if err := h.deps.Results.Write(r.Context(), res.Path, []byte(payload.Message)); err != nil {
		writeError(w, apperrors.Internal(err, "write error blob"))
		return
	}

	saved, err := h.deps.Scheduler.Fail(r.Context(), j, res)
	if err != nil {
		writeError(w, err)
		return
	}

	writeSignedReply(w, h.deps.Session, comp, marshalJSON(map[string]string{"result_id": saved.ID}))
}

// workerResultByID fetches a result's blob by id, for a worker pulling the
// prior iteration's aggregated output.
func (h *handlers) workerResultByID(w http.ResponseWriter, r *http.Request) {
	call, err := parseSignedRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}
	comp, _, err := h.deps.Session.Authenticate(r.Context(), call, component.TypeWorker, component.TypeNode)
	if err != nil {
		writeError(w, err)
		return
	}

	resultID := chi.URLParam(r, "result_id")
	res, err := h.deps.Stores.Results.Get(r.Context(), resultID)
	if err != nil {
		writeError(w, err)
		return
	}

	blob, err := h.deps.Results.Read(r.Context(), res.Path)
	if err != nil {
		writeError(w, apperrors.Internal(err, "read result blob"))
		return
	}

	writeSignedReply(w, h.deps.Session, comp, blob)
}
