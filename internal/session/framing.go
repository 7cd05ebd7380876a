package session

import (
	"context"
	"time"

	"github.com/fedmesh/node/internal/apperrors"
	cryptox "github.com/fedmesh/node/internal/crypto"
	"github.com/fedmesh/node/internal/domain/component"
)

// SignedCall is an already-parsed Signed-framed request: every authenticated
// route besides /node/key and /node/join is framed this way — a bearer
// token identifying the caller, an encrypted body, and a signature over the
// body computed with the caller's private key.
type SignedCall struct {
	Token     string
	Body      cryptox.Envelope
	Ciphertext []byte
	Checksum  [32]byte
	Signature []byte
}

// Authenticate resolves a SignedCall's token to its owning component,
// rejects expired or invalidated tokens, verifies the signature over the
// raw ciphertext against the component's registered public key, and
// returns the decrypted body plaintext.
func (s *Service) Authenticate(ctx context.Context, call SignedCall, allowed ...component.Type) (component.Component, []byte, error) {
	tok, err := s.tokens.Get(ctx, call.Token)
	if err != nil {
		return component.Component{}, nil, apperrors.AccessDenied("unknown token")
	}
	if !tok.Valid {
		return component.Component{}, nil, apperrors.AccessDenied("token has been invalidated")
	}
	if tok.Expired(time.Now()) {
		return component.Component{}, nil, apperrors.AccessDenied("token has expired")
	}

	comp, err := s.components.Get(ctx, tok.ComponentID)
	if err != nil {
		return component.Component{}, nil, apperrors.AccessDenied("unknown component")
	}
	if comp.Left {
		return component.Component{}, nil, apperrors.AccessDenied("component has left the network")
	}
	if len(allowed) > 0 && !comp.Type.AllowsRoute(allowed...) {
		return component.Component{}, nil, apperrors.AccessDenied("component type %s may not call this route", comp.Type)
	}

	peerPub, err := parseTransferPublicKey(comp.PublicKey)
	if err != nil {
		return component.Component{}, nil, apperrors.Internal(err, "parse component public key")
	}
	if err := cryptox.Verify(peerPub, call.Ciphertext, call.Signature); err != nil {
		return component.Component{}, nil, apperrors.AccessDenied("signature verification failed: %v", err)
	}

	plaintext, err := cryptox.DecryptBytes(s.privateKey, call.Body, call.Ciphertext, call.Checksum)
	if err != nil {
		return component.Component{}, nil, apperrors.AccessDenied("body decryption failed: %v", err)
	}
	return comp, plaintext, nil
}

// Reply hybrid-encrypts a response payload against the calling component's
// public key and signs the ciphertext with this node's own private key, the
// mirror image of Authenticate.
func (s *Service) Reply(recipient component.Component, payload []byte) (cryptox.Envelope, []byte, [32]byte, []byte, error) {
	peerPub, err := parseTransferPublicKey(recipient.PublicKey)
	if err != nil {
		return cryptox.Envelope{}, nil, [32]byte{}, nil, apperrors.Internal(err, "parse recipient public key")
	}
	envelope, ciphertext, checksum, err := cryptox.EncryptBytes(peerPub, payload)
	if err != nil {
		return cryptox.Envelope{}, nil, [32]byte{}, nil, apperrors.Internal(err, "encrypt reply")
	}
	signature, err := cryptox.Sign(s.privateKey, ciphertext)
	if err != nil {
		return cryptox.Envelope{}, nil, [32]byte{}, nil, apperrors.Internal(err, "sign reply")
	}
	return envelope, ciphertext, checksum, signature, nil
}
