package crypto

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"fmt"
)

// SignJoin signs the join-protocol identity claim `id:publicKeyTransfer`
// (the transfer-encoded public key a component advertises) with the node's
// own private key. The same composition is what VerifyJoin checks against
// the signer's advertised public key.
func SignJoin(priv *rsa.PrivateKey, id, publicKeyTransfer string) ([]byte, error) {
	return Sign(priv, joinClaim(id, publicKeyTransfer))
}

// VerifyJoin verifies a join-protocol signature produced by SignJoin.
func VerifyJoin(pub *rsa.PublicKey, id, publicKeyTransfer string, signature []byte) error {
	return Verify(pub, joinClaim(id, publicKeyTransfer), signature)
}

func joinClaim(id, publicKeyTransfer string) []byte {
	return []byte(id + ":" + publicKeyTransfer)
}

// Sign signs an arbitrary payload with RSASSA-PKCS1-v1_5 over its SHA-256
// digest.
func Sign(priv *rsa.PrivateKey, payload []byte) ([]byte, error) {
	digest := sha256.Sum256(payload)
	sig, err := rsa.SignPKCS1v15(rand.Reader, priv, crypto.SHA256, digest[:])
	if err != nil {
		return nil, fmt.Errorf("crypto: sign: %w", err)
	}
	return sig, nil
}

// Verify checks a signature produced by Sign against the signer's public
// key. A nil return means the signature is valid.
func Verify(pub *rsa.PublicKey, payload, signature []byte) error {
	digest := sha256.Sum256(payload)
	if err := rsa.VerifyPKCS1v15(pub, crypto.SHA256, digest[:], signature); err != nil {
		return fmt.Errorf("crypto: signature verification failed: %w", err)
	}
	return nil
}
