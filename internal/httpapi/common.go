package httpapi

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/fedmesh/node/internal/domain/component"
	"github.com/fedmesh/node/internal/session"
)

// signedResponseBody is the wire shape of a Signed-framed response: no
// token (the caller already knows who it is), just the encrypted body and
// this node's signature over the ciphertext.
type signedResponseBody struct {
	encodedBody
	Signature string `json:"signature"`
}

// parseSignedRequest reads a signedBody JSON payload from r and decodes its
// base64 fields into a session.SignedCall ready for Authenticate.
func parseSignedRequest(r *http.Request) (session.SignedCall, error) {
	var body signedBody
	if err := readJSON(r, &body); err != nil {
		return session.SignedCall{}, fmt.Errorf("decode signed request: %w", err)
	}
	envelope, ciphertext, checksum, err := decodeEncoded(body.encodedBody)
	if err != nil {
		return session.SignedCall{}, err
	}
	signature, err := base64.StdEncoding.DecodeString(body.Signature)
	if err != nil {
		return session.SignedCall{}, fmt.Errorf("decode signature: %w", err)
	}
	return session.SignedCall{
		Token:      body.Token,
		Body:       envelope,
		Ciphertext: ciphertext,
		Checksum:   checksum,
		Signature:  signature,
	}, nil
}

func unmarshalJSON(data []byte, dst any) error {
	return json.Unmarshal(data, dst)
}

func marshalJSON(v any) []byte {
	data, _ := json.Marshal(v)
	return data
}

// writeSignedReply encrypts payload against recipient's public key, signs
// it, and writes the resulting signedResponseBody as the HTTP response.
func writeSignedReply(w http.ResponseWriter, sess *session.Service, recipient component.Component, payload []byte) {
	envelope, ciphertext, checksum, signature, err := sess.Reply(recipient, payload)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, signedResponseBody{
		encodedBody: encodeEncoded(envelope, ciphertext, checksum),
		Signature:   base64.StdEncoding.EncodeToString(signature),
	})
}
