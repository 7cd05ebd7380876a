package httpapi

import (
	"net/http"

	"github.com/fedmesh/node/internal/crypto"
	"github.com/fedmesh/node/internal/domain/component"
)

// nodeKey serves this node's own public key PEM in clear, the first step of
// the join protocol.
func (h *handlers) nodeKey(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"public_key": crypto.EncodeTransfer(h.deps.Session.PublicKeyPEM()),
	})
}

// nodeJoin decrypts, verifies, and answers a NodeJoinRequest framed as an
// Encoded body (no token: the caller isn't registered yet).
func (h *handlers) nodeJoin(w http.ResponseWriter, r *http.Request) {
	var body encodedBody
	if err := readJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}
	envelope, ciphertext, checksum, err := decodeEncoded(body)
	if err != nil {
		writeError(w, err)
		return
	}

	respEnvelope, respCiphertext, respChecksum, err := h.deps.Session.Join(r.Context(), r.RemoteAddr, envelope, ciphertext, checksum)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, encodeEncoded(respEnvelope, respCiphertext, respChecksum))
}

// nodeLeave invalidates the caller's token and marks it as having left.
func (h *handlers) nodeLeave(w http.ResponseWriter, r *http.Request) {
	call, err := parseSignedRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}
	comp, _, err := h.deps.Session.Authenticate(r.Context(), call, component.TypeClient, component.TypeNode)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.deps.Session.Leave(r.Context(), comp.ID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type metadataPayload struct {
	IPAddress string `json:"ip_address"`
	Version   string `json:"version"`
}

// nodeMetadata lets a CLIENT update its own advertised network metadata.
func (h *handlers) nodeMetadata(w http.ResponseWriter, r *http.Request) {
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

	var meta metadataPayload
	if err := unmarshalJSON(plaintext, &meta); err != nil {
		writeError(w, err)
		return
	}

	writeSignedReply(w, h.deps.Session, comp, marshalJSON(meta))
}
