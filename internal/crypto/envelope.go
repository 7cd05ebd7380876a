package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"fmt"
	"hash"
)

// symmetricKeySize is the AES-256 key size used for every envelope.
const symmetricKeySize = 32

// Envelope carries the per-payload symmetric key (RSA-OAEP wrapped with the
// recipient's public key) and the IV the payload was encrypted under. It
// travels alongside the ciphertext; the checksum travels separately and is
// verified by the receiver before the plaintext is accepted.
type Envelope struct {
	WrappedKey []byte
	IV         []byte
}

// Encrypter implements the start/update/end streaming interface: a fresh
// symmetric key and IV are generated on construction, every Update call
// encrypts one chunk of arbitrary size, and Close finalises the running
// SHA-256 checksum over the plaintext that was fed in.
//
// Payloads of any size stream through Update without ever being buffered
// whole, matching the behaviour expected of artifact and result blobs.
type Encrypter struct {
	envelope Envelope
	stream   cipher.Stream
	checksum hash.Hash
	closed   bool
}

// NewEncrypter generates a fresh AES-256 key and IV, wraps the key with the
// recipient's RSA public key via OAEP, and returns an Encrypter ready for
// repeated Update calls.
func NewEncrypter(pub *rsa.PublicKey) (*Encrypter, error) {
	key, err := GenerateRandomBytes(symmetricKeySize)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: envelope cipher: %w", err)
	}
	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("crypto: envelope iv: %w", err)
	}
	wrapped, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, key, nil)
	if err != nil {
		return nil, fmt.Errorf("crypto: wrap envelope key: %w", err)
	}
	return &Encrypter{
		envelope: Envelope{WrappedKey: wrapped, IV: iv},
		stream:   cipher.NewCTR(block, iv),
		checksum: sha256.New(),
	}, nil
}

// Envelope returns the wrapped key and IV for this encrypter. It is constant
// for the lifetime of the Encrypter and may be sent ahead of the ciphertext.
func (e *Encrypter) Envelope() Envelope {
	return e.envelope
}

// Update encrypts one chunk of plaintext and folds it into the running
// checksum. May be called any number of times before Close.
func (e *Encrypter) Update(plaintext []byte) ([]byte, error) {
	if e.closed {
		return nil, fmt.Errorf("crypto: encrypter already closed")
	}
	if len(plaintext) == 0 {
		return nil, nil
	}
	ciphertext := make([]byte, len(plaintext))
	e.stream.XORKeyStream(ciphertext, plaintext)
	e.checksum.Write(plaintext)
	return ciphertext, nil
}

// Close finalises the stream and returns the SHA-256 checksum of everything
// fed through Update. The encrypter must not be reused afterward.
func (e *Encrypter) Close() ([32]byte, error) {
	if e.closed {
		return [32]byte{}, fmt.Errorf("crypto: encrypter already closed")
	}
	e.closed = true
	var sum [32]byte
	copy(sum[:], e.checksum.Sum(nil))
	return sum, nil
}

// Decrypter mirrors Encrypter for the receiving side: it unwraps the
// symmetric key with the node's private key, then accepts ciphertext chunks
// via Update, and Close verifies the sender-supplied checksum against what
// was actually observed.
type Decrypter struct {
	stream   cipher.Stream
	checksum hash.Hash
	closed   bool
}

// NewDecrypter unwraps env.WrappedKey with priv and prepares a Decrypter for
// the stream encrypted under env.IV.
func NewDecrypter(priv *rsa.PrivateKey, env Envelope) (*Decrypter, error) {
	key, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, priv, env.WrappedKey, nil)
	if err != nil {
		return nil, fmt.Errorf("crypto: unwrap envelope key: %w", err)
	}
	if len(key) != symmetricKeySize {
		return nil, fmt.Errorf("crypto: unwrapped key has unexpected length %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: envelope cipher: %w", err)
	}
	if len(env.IV) != aes.BlockSize {
		return nil, fmt.Errorf("crypto: envelope iv has unexpected length %d", len(env.IV))
	}
	return &Decrypter{
		stream:   cipher.NewCTR(block, env.IV),
		checksum: sha256.New(),
	}, nil
}

// Update decrypts one ciphertext chunk and folds the recovered plaintext
// into the running checksum.
func (d *Decrypter) Update(ciphertext []byte) ([]byte, error) {
	if d.closed {
		return nil, fmt.Errorf("crypto: decrypter already closed")
	}
	if len(ciphertext) == 0 {
		return nil, nil
	}
	plaintext := make([]byte, len(ciphertext))
	d.stream.XORKeyStream(plaintext, ciphertext)
	d.checksum.Write(plaintext)
	return plaintext, nil
}

// Close verifies that the checksum observed over every Update call matches
// expected (the checksum the sender transmitted out of band), returning an
// error if they differ. The plaintext must not be accepted by the caller
// until Close returns nil.
func (d *Decrypter) Close(expected [32]byte) error {
	if d.closed {
		return fmt.Errorf("crypto: decrypter already closed")
	}
	d.closed = true
	var got [32]byte
	copy(got[:], d.checksum.Sum(nil))
	if got != expected {
		return fmt.Errorf("crypto: checksum mismatch")
	}
	return nil
}

// EncryptBytes is a single-shot convenience wrapper around Encrypter for
// payloads small enough to hold entirely in memory (join responses, task
// parameters).
func EncryptBytes(pub *rsa.PublicKey, plaintext []byte) (Envelope, []byte, [32]byte, error) {
	enc, err := NewEncrypter(pub)
	if err != nil {
		return Envelope{}, nil, [32]byte{}, err
	}
	ciphertext, err := enc.Update(plaintext)
	if err != nil {
		return Envelope{}, nil, [32]byte{}, err
	}
	sum, err := enc.Close()
	if err != nil {
		return Envelope{}, nil, [32]byte{}, err
	}
	return enc.Envelope(), ciphertext, sum, nil
}

// DecryptBytes is a single-shot convenience wrapper around Decrypter.
func DecryptBytes(priv *rsa.PrivateKey, env Envelope, ciphertext []byte, checksum [32]byte) ([]byte, error) {
	dec, err := NewDecrypter(priv, env)
	if err != nil {
		return nil, err
	}
	plaintext, err := dec.Update(ciphertext)
	if err != nil {
		return nil, err
	}
	if err := dec.Close(checksum); err != nil {
		return nil, err
	}
	return plaintext, nil
}
