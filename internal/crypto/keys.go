// Package crypto provides the node's cryptographic primitives: long-lived
// RSA identity keys, hybrid envelope encryption for payloads of any size,
// and the signature scheme used by the join protocol.
package crypto

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"strings"
)

const (
	privateKeyPEMType = "PRIVATE KEY"
	publicKeyPEMType  = "PUBLIC KEY"
)

// GenerateKeyPair creates a new RSA keypair of the given bit size. Nodes use
// a 4096-bit key for their long-lived identity.
func GenerateKeyPair(bits int) (*rsa.PrivateKey, error) {
	if bits < 2048 {
		return nil, fmt.Errorf("crypto: rsa key size %d is below the minimum of 2048 bits", bits)
	}
	key, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, fmt.Errorf("crypto: generate rsa key: %w", err)
	}
	return key, nil
}

// MarshalPrivateKeyPEM encodes a private key as a PKCS8 PEM block, the format
// the node stores under the "node.private_key" key of its KeyValueStore.
func MarshalPrivateKeyPEM(key *rsa.PrivateKey) ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: marshal private key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: privateKeyPEMType, Bytes: der}), nil
}

// ParsePrivateKeyPEM decodes a PKCS8 PEM-encoded RSA private key.
func ParsePrivateKeyPEM(data []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("crypto: no PEM block found in private key")
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("crypto: parse private key: %w", err)
	}
	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("crypto: private key is not RSA")
	}
	return rsaKey, nil
}

// MarshalPublicKeyPEM encodes a public key as a PKIX PEM block.
func MarshalPublicKeyPEM(pub *rsa.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("crypto: marshal public key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: publicKeyPEMType, Bytes: der}), nil
}

// ParsePublicKeyPEM decodes a PKIX PEM-encoded RSA public key.
func ParsePublicKeyPEM(data []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("crypto: no PEM block found in public key")
	}
	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("crypto: parse public key: %w", err)
	}
	rsaKey, ok := key.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("crypto: public key is not RSA")
	}
	return rsaKey, nil
}

// EncodeTransfer strips PEM armour (header, footer, newlines) from a PEM
// block and returns the bare base64 body, the form keys travel over the
// wire in join/key-exchange messages.
func EncodeTransfer(pemBytes []byte) string {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return base64.StdEncoding.EncodeToString(pemBytes)
	}
	return base64.StdEncoding.EncodeToString(block.Bytes)
}

// DecodeTransfer restores PEM armour around a bare base64 transfer-encoded
// key body, re-deriving the block type passed in.
func DecodeTransfer(encoded, pemType string) ([]byte, error) {
	der, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return nil, fmt.Errorf("crypto: decode transfer encoding: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: pemType, Bytes: der}), nil
}
