package session

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"testing"
	"time"

	cryptox "github.com/fedmesh/node/internal/crypto"
	"github.com/fedmesh/node/internal/domain/component"
	"github.com/fedmesh/node/internal/storage"
	"github.com/fedmesh/node/internal/storage/memory"
)

func newTestService(t *testing.T) (*Service, storage.Stores) {
	t.Helper()
	priv, err := cryptox.GenerateKeyPair(2048)
	if err != nil {
		t.Fatalf("generate node keypair: %v", err)
	}
	pubPEM, err := cryptox.MarshalPublicKeyPEM(&priv.PublicKey)
	if err != nil {
		t.Fatalf("marshal node public key: %v", err)
	}
	stores := memory.New()
	return NewService(priv, pubPEM, time.Hour, stores.Components, stores.Tokens), stores
}

type peerIdentity struct {
	priv     *rsa.PrivateKey
	transfer string
}

func newPeerIdentity(t *testing.T) peerIdentity {
	t.Helper()
	priv, err := cryptox.GenerateKeyPair(2048)
	if err != nil {
		t.Fatalf("generate peer keypair: %v", err)
	}
	pubPEM, err := cryptox.MarshalPublicKeyPEM(&priv.PublicKey)
	if err != nil {
		t.Fatalf("marshal peer public key: %v", err)
	}
	return peerIdentity{priv: priv, transfer: cryptox.EncodeTransfer(pubPEM)}
}

// sendJoin builds and encrypts a JoinRequest against the node's public key,
// the way a joining component would, and returns the wire-ready arguments.
func sendJoin(t *testing.T, nodePub *rsa.PublicKey, peer peerIdentity, id string, typ component.Type) (cryptox.Envelope, []byte, [32]byte) {
	t.Helper()
	sig, err := cryptox.SignJoin(peer.priv, id, peer.transfer)
	if err != nil {
		t.Fatalf("sign join: %v", err)
	}
	req := JoinRequest{
		ID:                id,
		Type:              typ,
		PublicKeyTransfer: peer.transfer,
		IPAddress:         "10.0.0.1",
		Version:           "1.0.0",
		Signature:         sig,
	}
	plaintext, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal join request: %v", err)
	}
	env, ciphertext, checksum, err := cryptox.EncryptBytes(nodePub, plaintext)
	if err != nil {
		t.Fatalf("encrypt join request: %v", err)
	}
	return env, ciphertext, checksum
}

func TestJoinIssuesTokenForNewComponent(t *testing.T) {
	svc, stores := newTestService(t)
	peer := newPeerIdentity(t)

	env, ciphertext, checksum := sendJoin(t, parseNodePub(t, svc), peer, "client-1", component.TypeClient)

	respEnv, respCiphertext, respChecksum, err := svc.Join(context.Background(), "203.0.113.9", env, ciphertext, checksum)
	if err != nil {
		t.Fatalf("join: %v", err)
	}

	plaintext, err := cryptox.DecryptBytes(peer.priv, respEnv, respCiphertext, respChecksum)
	if err != nil {
		t.Fatalf("decrypt join response: %v", err)
	}
	var data JoinData
	if err := json.Unmarshal(plaintext, &data); err != nil {
		t.Fatalf("unmarshal join data: %v", err)
	}
	if data.ComponentID != "client-1" {
		t.Fatalf("component id = %q, want client-1", data.ComponentID)
	}
	if data.Token == "" {
		t.Fatalf("expected a non-empty token")
	}

	comp, err := stores.Components.Get(context.Background(), "client-1")
	if err != nil {
		t.Fatalf("get registered component: %v", err)
	}
	if comp.IPAddress != "203.0.113.9" {
		t.Fatalf("ip address = %q, want 203.0.113.9", comp.IPAddress)
	}
}

func TestJoinRejectsBadSignature(t *testing.T) {
	svc, _ := newTestService(t)
	peer := newPeerIdentity(t)
	impostor := newPeerIdentity(t)

	// Sign with the impostor's key but advertise the peer's public key.
	sig, err := cryptox.SignJoin(impostor.priv, "client-1", peer.transfer)
	if err != nil {
		t.Fatalf("sign join: %v", err)
	}
	req := JoinRequest{ID: "client-1", Type: component.TypeClient, PublicKeyTransfer: peer.transfer, Signature: sig}
	plaintext, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	env, ciphertext, checksum, err := cryptox.EncryptBytes(parseNodePub(t, svc), plaintext)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	if _, _, _, err := svc.Join(context.Background(), "10.0.0.1", env, ciphertext, checksum); err == nil {
		t.Fatalf("expected join with a forged signature to fail")
	}
}

func TestJoinIsIdempotentForReconnectingComponent(t *testing.T) {
	svc, stores := newTestService(t)
	peer := newPeerIdentity(t)

	env, ciphertext, checksum := sendJoin(t, parseNodePub(t, svc), peer, "client-1", component.TypeClient)
	if _, _, _, err := svc.Join(context.Background(), "10.0.0.1", env, ciphertext, checksum); err != nil {
		t.Fatalf("first join: %v", err)
	}

	env2, ciphertext2, checksum2 := sendJoin(t, parseNodePub(t, svc), peer, "client-1", component.TypeClient)
	if _, _, _, err := svc.Join(context.Background(), "10.0.0.2", env2, ciphertext2, checksum2); err != nil {
		t.Fatalf("second join: %v", err)
	}

	comps, err := stores.Components.List(context.Background(), component.TypeClient, 0)
	if err != nil {
		t.Fatalf("list components: %v", err)
	}
	if len(comps) != 1 {
		t.Fatalf("expected exactly one component after rejoin, got %d", len(comps))
	}
}

func TestAuthenticateAcceptsValidSignedCall(t *testing.T) {
	svc, _ := newTestService(t)
	peer := newPeerIdentity(t)

	env, ciphertext, checksum := sendJoin(t, parseNodePub(t, svc), peer, "worker-1", component.TypeWorker)
	respEnv, respCiphertext, respChecksum, err := svc.Join(context.Background(), "10.0.0.1", env, ciphertext, checksum)
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	joinPlaintext, err := cryptox.DecryptBytes(peer.priv, respEnv, respCiphertext, respChecksum)
	if err != nil {
		t.Fatalf("decrypt join response: %v", err)
	}
	var data JoinData
	if err := json.Unmarshal(joinPlaintext, &data); err != nil {
		t.Fatalf("unmarshal join data: %v", err)
	}

	body := []byte(`{"hello":"world"}`)
	bodyEnv, bodyCiphertext, bodyChecksum, err := cryptox.EncryptBytes(parseNodePub(t, svc), body)
	if err != nil {
		t.Fatalf("encrypt call body: %v", err)
	}
	sig, err := cryptox.Sign(peer.priv, bodyCiphertext)
	if err != nil {
		t.Fatalf("sign call: %v", err)
	}

	call := SignedCall{Token: data.Token, Body: bodyEnv, Ciphertext: bodyCiphertext, Checksum: bodyChecksum, Signature: sig}
	comp, plaintext, err := svc.Authenticate(context.Background(), call, component.TypeWorker)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if comp.ID != "worker-1" {
		t.Fatalf("component id = %q, want worker-1", comp.ID)
	}
	if string(plaintext) != string(body) {
		t.Fatalf("plaintext = %q, want %q", plaintext, body)
	}
}

func TestAuthenticateRejectsWrongComponentType(t *testing.T) {
	svc, _ := newTestService(t)
	peer := newPeerIdentity(t)

	env, ciphertext, checksum := sendJoin(t, parseNodePub(t, svc), peer, "client-1", component.TypeClient)
	respEnv, respCiphertext, respChecksum, err := svc.Join(context.Background(), "10.0.0.1", env, ciphertext, checksum)
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	joinPlaintext, err := cryptox.DecryptBytes(peer.priv, respEnv, respCiphertext, respChecksum)
	if err != nil {
		t.Fatalf("decrypt join response: %v", err)
	}
	var data JoinData
	if err := json.Unmarshal(joinPlaintext, &data); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	bodyEnv, bodyCiphertext, bodyChecksum, err := cryptox.EncryptBytes(parseNodePub(t, svc), []byte("{}"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	sig, err := cryptox.Sign(peer.priv, bodyCiphertext)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	call := SignedCall{Token: data.Token, Body: bodyEnv, Ciphertext: bodyCiphertext, Checksum: bodyChecksum, Signature: sig}
	if _, _, err := svc.Authenticate(context.Background(), call, component.TypeWorker); err == nil {
		t.Fatalf("expected a CLIENT component to be rejected on a WORKER-only route")
	}
}

func TestAuthenticateRejectsUnknownToken(t *testing.T) {
	svc, _ := newTestService(t)
	call := SignedCall{Token: "does-not-exist"}
	if _, _, err := svc.Authenticate(context.Background(), call); err == nil {
		t.Fatalf("expected an unknown token to be rejected")
	}
}

func TestLeaveInvalidatesToken(t *testing.T) {
	svc, _ := newTestService(t)
	peer := newPeerIdentity(t)

	env, ciphertext, checksum := sendJoin(t, parseNodePub(t, svc), peer, "client-1", component.TypeClient)
	respEnv, respCiphertext, respChecksum, err := svc.Join(context.Background(), "10.0.0.1", env, ciphertext, checksum)
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	joinPlaintext, err := cryptox.DecryptBytes(peer.priv, respEnv, respCiphertext, respChecksum)
	if err != nil {
		t.Fatalf("decrypt join response: %v", err)
	}
	var data JoinData
	if err := json.Unmarshal(joinPlaintext, &data); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if err := svc.Leave(context.Background(), "client-1"); err != nil {
		t.Fatalf("leave: %v", err)
	}

	call := SignedCall{Token: data.Token}
	if _, _, err := svc.Authenticate(context.Background(), call); err == nil {
		t.Fatalf("expected authenticate to fail after leave invalidated the token")
	}
}

func TestReplyIsReadableOnlyByRecipient(t *testing.T) {
	svc, _ := newTestService(t)
	peer := newPeerIdentity(t)

	comp := component.Component{ID: "worker-1", Type: component.TypeWorker, PublicKey: peer.transfer}
	env, ciphertext, checksum, signature, err := svc.Reply(comp, []byte("task payload"))
	if err != nil {
		t.Fatalf("reply: %v", err)
	}

	if err := cryptox.Verify(parseNodePub(t, svc), ciphertext, signature); err != nil {
		t.Fatalf("verify reply signature: %v", err)
	}

	plaintext, err := cryptox.DecryptBytes(peer.priv, env, ciphertext, checksum)
	if err != nil {
		t.Fatalf("decrypt reply: %v", err)
	}
	if string(plaintext) != "task payload" {
		t.Fatalf("plaintext = %q", plaintext)
	}
}

func TestGenerateTokenDivergesOnComponentID(t *testing.T) {
	now := time.Now()
	t1 := GenerateToken("comp-a", "fedmesh", "mac", "node", now)
	t2 := GenerateToken("comp-b", "fedmesh", "mac", "node", now)
	if t1 == t2 {
		t.Fatalf("expected distinct tokens for distinct component ids")
	}
}

func parseNodePub(t *testing.T, svc *Service) *rsa.PublicKey {
	t.Helper()
	pub, err := cryptox.ParsePublicKeyPEM(svc.PublicKeyPEM())
	if err != nil {
		t.Fatalf("parse node public key: %v", err)
	}
	return pub
}
