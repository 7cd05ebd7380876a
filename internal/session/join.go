// Package session implements the join protocol and the two request framings
// (Encoded and Signed) every authenticated route is built on.
package session

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"time"

	"github.com/fedmesh/node/internal/apperrors"
	cryptox "github.com/fedmesh/node/internal/crypto"
	"github.com/fedmesh/node/internal/domain/component"
	"github.com/fedmesh/node/internal/domain/token"
	"github.com/fedmesh/node/internal/storage"
)

// system identifies this coordinator in the token claim; it is not a secret,
// only a namespacing component of the token derivation.
const system = "fedmesh"

// JoinRequest is the plaintext the joining component encrypts against the
// node's public key before posting it to /node/join.
type JoinRequest struct {
	ID                string
	Type              component.Type
	PublicKeyTransfer string // transfer-encoded PEM of the joining component's own key
	IPAddress         string
	MAC               string // CLIENT only
	Node              string // CLIENT only
	Version           string
	Signature         []byte // over "id:publicKeyTransfer", signed with the component's private key
}

// JoinData is the plaintext the node encrypts back against the joining
// component's freshly-registered public key.
type JoinData struct {
	ComponentID string
	Token       string
	Expiration  time.Time
}

// Service implements the join protocol and signed-call verification against
// a node's own keypair and the component/token repositories.
type Service struct {
	privateKey     *rsa.PrivateKey
	publicKeyPEM   []byte // this node's own PEM, served in clear at GET /node/key
	tokenTTL       time.Duration
	components     storage.ComponentStore
	tokens         storage.TokenStore
}

// NewService constructs a join/session Service bound to this node's keypair
// and repositories.
func NewService(priv *rsa.PrivateKey, publicKeyPEM []byte, tokenTTL time.Duration, components storage.ComponentStore, tokens storage.TokenStore) *Service {
	return &Service{
		privateKey:   priv,
		publicKeyPEM: publicKeyPEM,
		tokenTTL:     tokenTTL,
		components:   components,
		tokens:       tokens,
	}
}

// PublicKeyPEM returns this node's own public key PEM, served in clear so
// that joining components can encrypt their NodeJoinRequest against it.
func (s *Service) PublicKeyPEM() []byte {
	return s.publicKeyPEM
}

// Join decrypts an Encoded-framed join request, verifies its signature,
// registers (or re-registers) the component, issues it a fresh token, and
// returns the JoinData hybrid-encrypted against the joining component's own
// public key so only that component can read it.
func (s *Service) Join(ctx context.Context, ipAddress string, envelope cryptox.Envelope, ciphertext []byte, checksum [32]byte) (cryptox.Envelope, []byte, [32]byte, error) {
	plaintext, err := cryptox.DecryptBytes(s.privateKey, envelope, ciphertext, checksum)
	if err != nil {
		return cryptox.Envelope{}, nil, [32]byte{}, apperrors.AccessDenied("join payload decryption failed: %v", err)
	}

	var req JoinRequest
	if err := json.Unmarshal(plaintext, &req); err != nil {
		return cryptox.Envelope{}, nil, [32]byte{}, apperrors.InvalidArtifact("malformed join request: %v", err)
	}
	if req.ID == "" || req.PublicKeyTransfer == "" {
		return cryptox.Envelope{}, nil, [32]byte{}, apperrors.InvalidArtifact("join request missing id or public key")
	}

	peerPub, err := parseTransferPublicKey(req.PublicKeyTransfer)
	if err != nil {
		return cryptox.Envelope{}, nil, [32]byte{}, apperrors.InvalidArtifact("invalid public key: %v", err)
	}
	if err := cryptox.VerifyJoin(peerPub, req.ID, req.PublicKeyTransfer, req.Signature); err != nil {
		return cryptox.Envelope{}, nil, [32]byte{}, apperrors.AccessDenied("join signature verification failed: %v", err)
	}

	comp, err := s.resolveComponent(ctx, req, ipAddress)
	if err != nil {
		return cryptox.Envelope{}, nil, [32]byte{}, err
	}

	now := time.Now()
	issued, err := s.tokens.Issue(ctx, token.Token{
		Token:       GenerateToken(comp.ID, system, req.MAC, req.Node, now),
		ComponentID: comp.ID,
		Expiration:  now.Add(s.tokenTTL),
	})
	if err != nil {
		return cryptox.Envelope{}, nil, [32]byte{}, apperrors.Internal(err, "issue token")
	}

	payload, err := json.Marshal(JoinData{
		ComponentID: comp.ID,
		Token:       issued.Token,
		Expiration:  issued.Expiration,
	})
	if err != nil {
		return cryptox.Envelope{}, nil, [32]byte{}, apperrors.Internal(err, "marshal join data")
	}

	respEnvelope, respCiphertext, respChecksum, err := cryptox.EncryptBytes(peerPub, payload)
	if err != nil {
		return cryptox.Envelope{}, nil, [32]byte{}, apperrors.Internal(err, "encrypt join response")
	}
	return respEnvelope, respCiphertext, respChecksum, nil
}

// resolveComponent creates the joining component, or if one with the same
// public key already exists (a reconnecting client re-running join),
// returns it unchanged; identity never changes across rejoins.
func (s *Service) resolveComponent(ctx context.Context, req JoinRequest, ipAddress string) (component.Component, error) {
	existing, err := s.components.GetByPublicKey(ctx, req.PublicKeyTransfer)
	if err == nil {
		return existing, nil
	}
	if apperrors.KindOf(err) != apperrors.KindNotFound {
		return component.Component{}, apperrors.Internal(err, "lookup component by public key")
	}

	created, err := s.components.Create(ctx, component.Component{
		ID:        req.ID,
		Type:      req.Type,
		PublicKey: req.PublicKeyTransfer,
		IPAddress: ipAddress,
		MAC:       req.MAC,
		Node:      req.Node,
		Version:   req.Version,
	})
	if err != nil {
		return component.Component{}, err
	}
	return created, nil
}

// Leave marks a component as having left the network. Its token is
// invalidated so future signed calls are rejected.
func (s *Service) Leave(ctx context.Context, componentID string) error {
	if err := s.components.MarkLeft(ctx, componentID); err != nil {
		return err
	}
	return s.tokens.Invalidate(ctx, componentID)
}

func parseTransferPublicKey(transfer string) (*rsa.PublicKey, error) {
	pemBytes, err := cryptox.DecodeTransfer(transfer, "PUBLIC KEY")
	if err != nil {
		return nil, err
	}
	return cryptox.ParsePublicKeyPEM(pemBytes)
}
