package httpapi

import (
	"net/http"

	"github.com/fedmesh/node/internal/domain/component"
	"github.com/fedmesh/node/internal/heartbeat"
)

// clientUpdate answers a CLIENT's heartbeat poll: dispatch the oldest
// SCHEDULED job assigned to it, or report nothing to do.
func (h *handlers) clientUpdate(w http.ResponseWriter, r *http.Request) {
	call, err := parseSignedRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}
	comp, plaintext, err := h.deps.Session.Authenticate(r.Context(), call, component.TypeClient)
	if err != nil {
		writeError(w, err)
		return
	}

	var state heartbeat.ActionState
	if err := unmarshalJSON(plaintext, &state); err != nil {
		writeError(w, err)
		return
	}

	j, ok, err := h.deps.Scheduler.Dispatch(r.Context(), comp.ID)
	if err != nil {
		writeError(w, err)
		return
	}

	update := heartbeat.UpdateData{Kind: heartbeat.UpdateNothing}
	if ok {
		update = heartbeat.UpdateData{
			Kind:    heartbeat.UpdateExecuteJob,
			JobID:   j.ID,
			JobKind: j.Kind,
		}
	}

	writeSignedReply(w, h.deps.Session, comp, marshalJSON(update))
}
