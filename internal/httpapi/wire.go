// Package httpapi exposes the node's route table over chi, implementing
// the Encoded framing (join) and Signed framing (everything else) as two
// small families of middleware-free handlers sharing one wire encoding.
package httpapi

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/fedmesh/node/internal/crypto"
)

// encodedBody is the wire shape of an Encoded-framed request or response
// body: a hybrid envelope plus its ciphertext and checksum, all base64.
type encodedBody struct {
	WrappedKey string `json:"wrapped_key"`
	IV         string `json:"iv"`
	Ciphertext string `json:"ciphertext"`
	Checksum   string `json:"checksum"`
}

// signedBody additionally carries the bearer token and a signature over
// the ciphertext, computed with the caller's private key.
type signedBody struct {
	Token     string `json:"token"`
	encodedBody
	Signature string `json:"signature"`
}

func encodeEncoded(envelope crypto.Envelope, ciphertext []byte, checksum [32]byte) encodedBody {
	return encodedBody{
		WrappedKey: base64.StdEncoding.EncodeToString(envelope.WrappedKey),
		IV:         base64.StdEncoding.EncodeToString(envelope.IV),
		Ciphertext: base64.StdEncoding.EncodeToString(ciphertext),
		Checksum:   base64.StdEncoding.EncodeToString(checksum[:]),
	}
}

func decodeEncoded(body encodedBody) (crypto.Envelope, []byte, [32]byte, error) {
	var envelope crypto.Envelope
	var checksum [32]byte

	wrappedKey, err := base64.StdEncoding.DecodeString(body.WrappedKey)
	if err != nil {
		return envelope, nil, checksum, fmt.Errorf("decode wrapped key: %w", err)
	}
	iv, err := base64.StdEncoding.DecodeString(body.IV)
	if err != nil {
		return envelope, nil, checksum, fmt.Errorf("decode iv: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(body.Ciphertext)
	if err != nil {
		return envelope, nil, checksum, fmt.Errorf("decode ciphertext: %w", err)
	}
	checksumBytes, err := base64.StdEncoding.DecodeString(body.Checksum)
	if err != nil {
		return envelope, nil, checksum, fmt.Errorf("decode checksum: %w", err)
	}
	if len(checksumBytes) != len(checksum) {
		return envelope, nil, checksum, fmt.Errorf("checksum must be %d bytes, got %d", len(checksum), len(checksumBytes))
	}
	copy(checksum[:], checksumBytes)

	envelope = crypto.Envelope{WrappedKey: wrappedKey, IV: iv}
	return envelope, ciphertext, checksum, nil
}

func readJSON(r *http.Request, dst any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, err error) {
	status := errorStatus(err)
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
