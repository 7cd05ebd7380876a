package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/fedmesh/node/internal/apperrors"
	"github.com/fedmesh/node/internal/domain/artifact"
	"github.com/fedmesh/node/internal/domain/component"
)

// submitDescriptor mirrors artifact.Descriptor on the wire.
type submitDescriptor struct {
	Kind string `json:"kind"`
	Tag  string `json:"tag"`
	Spec []byte `json:"spec"`
}

// artifactSubmission is the payload a workbench user submits to start a
// new artifact run.
type artifactSubmission struct {
	ProjectToken        string           `json:"project_token"`
	Query                []byte           `json:"query"`
	Descriptor           submitDescriptor `json:"descriptor"`
	Iterations           int              `json:"iterations"`
	AggregationStrategy  string           `json:"aggregation_strategy"`
}

// artifactStatusReply reports an artifact's planning and execution progress.
type artifactStatusReply struct {
	ID               string `json:"id"`
	Status           string `json:"status"`
	CurrentIteration int    `json:"current_iteration"`
}

// workbenchSubmit accepts a new artifact submission, hands it to the
// planner, and replies with the artifact's id and initial status.
func (h *handlers) workbenchSubmit(w http.ResponseWriter, r *http.Request) {
	call, err := parseSignedRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}
	comp, plaintext, err := h.deps.Session.Authenticate(r.Context(), call, component.TypeUser)
	if err != nil {
		writeError(w, err)
		return
	}

	var sub artifactSubmission
	if err := unmarshalJSON(plaintext, &sub); err != nil {
		writeError(w, err)
		return
	}

	art := artifact.Artifact{
		ProjectToken: sub.ProjectToken,
		Query:        artifact.QueryPlan{Query: sub.Query},
		Descriptor: artifact.Descriptor{
			Kind: artifact.DescriptorKind(sub.Descriptor.Kind),
			Tag:  sub.Descriptor.Tag,
			Spec: sub.Descriptor.Spec,
		},
		Execution: artifact.ExecutionPlan{
			Iterations:          sub.Iterations,
			AggregationStrategy: sub.AggregationStrategy,
		},
	}

	planned, err := h.deps.Planner.Plan(r.Context(), art)
	if err != nil {
		writeError(w, err)
		return
	}

	writeSignedReply(w, h.deps.Session, comp, marshalJSON(artifactStatusReply{
		ID:               planned.ID,
		Status:           string(planned.Status),
		CurrentIteration: planned.CurrentIteration,
	}))
}

// workbenchStatus reports an artifact's current status and iteration.
func (h *handlers) workbenchStatus(w http.ResponseWriter, r *http.Request) {
	call, err := parseSignedRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}
	comp, _, err := h.deps.Session.Authenticate(r.Context(), call, component.TypeUser)
	if err != nil {
		writeError(w, err)
		return
	}

	art, err := h.deps.Stores.Artifacts.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}

	writeSignedReply(w, h.deps.Session, comp, marshalJSON(artifactStatusReply{
		ID:               art.ID,
		Status:           string(art.Status),
		CurrentIteration: art.CurrentIteration,
	}))
}

// workbenchResult fetches a result's blob by id for a workbench user to
// download, e.g. an artifact's final aggregated model.
func (h *handlers) workbenchResult(w http.ResponseWriter, r *http.Request) {
	call, err := parseSignedRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}
	comp, _, err := h.deps.Session.Authenticate(r.Context(), call, component.TypeUser)
	if err != nil {
		writeError(w, err)
		return
	}

	res, err := h.deps.Stores.Results.Get(r.Context(), chi.URLParam(r, "id"))
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
