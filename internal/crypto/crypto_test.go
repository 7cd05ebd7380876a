package crypto

import (
	"bytes"
	"crypto/rsa"
	"testing"
)

func mustGenerateKeyPair(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	priv, err := GenerateKeyPair(2048)
	if err != nil {
		t.Fatalf("generate keypair: %v", err)
	}
	return priv
}

func TestGenerateKeyPairRejectsWeakSizes(t *testing.T) {
	if _, err := GenerateKeyPair(1024); err == nil {
		t.Fatalf("expected error for a sub-2048-bit key")
	}
}

func TestPrivateKeyPEMRoundTrip(t *testing.T) {
	priv := mustGenerateKeyPair(t)

	pemBytes, err := MarshalPrivateKeyPEM(priv)
	if err != nil {
		t.Fatalf("marshal private key: %v", err)
	}
	parsed, err := ParsePrivateKeyPEM(pemBytes)
	if err != nil {
		t.Fatalf("parse private key: %v", err)
	}
	if !priv.Equal(parsed) {
		t.Fatalf("round-tripped private key does not match original")
	}
}

func TestPublicKeyPEMRoundTrip(t *testing.T) {
	priv := mustGenerateKeyPair(t)

	pemBytes, err := MarshalPublicKeyPEM(&priv.PublicKey)
	if err != nil {
		t.Fatalf("marshal public key: %v", err)
	}
	parsed, err := ParsePublicKeyPEM(pemBytes)
	if err != nil {
		t.Fatalf("parse public key: %v", err)
	}
	if !priv.PublicKey.Equal(parsed) {
		t.Fatalf("round-tripped public key does not match original")
	}
}

func TestTransferEncodingRoundTrip(t *testing.T) {
	priv := mustGenerateKeyPair(t)
	pemBytes, err := MarshalPublicKeyPEM(&priv.PublicKey)
	if err != nil {
		t.Fatalf("marshal public key: %v", err)
	}

	transfer := EncodeTransfer(pemBytes)
	if bytes.Contains([]byte(transfer), []byte("-----")) {
		t.Fatalf("transfer encoding should strip PEM armour, got %q", transfer)
	}

	restored, err := DecodeTransfer(transfer, publicKeyPEMType)
	if err != nil {
		t.Fatalf("decode transfer: %v", err)
	}
	parsed, err := ParsePublicKeyPEM(restored)
	if err != nil {
		t.Fatalf("parse restored public key: %v", err)
	}
	if !priv.PublicKey.Equal(parsed) {
		t.Fatalf("restored public key does not match original")
	}
}

func TestDecodeTransferRejectsGarbage(t *testing.T) {
	if _, err := DecodeTransfer("not-base64!!", publicKeyPEMType); err == nil {
		t.Fatalf("expected an error for invalid base64")
	}
}

func TestSignJoinVerifyJoin(t *testing.T) {
	priv := mustGenerateKeyPair(t)
	pubPEM, err := MarshalPublicKeyPEM(&priv.PublicKey)
	if err != nil {
		t.Fatalf("marshal public key: %v", err)
	}
	transfer := EncodeTransfer(pubPEM)

	sig, err := SignJoin(priv, "component-1", transfer)
	if err != nil {
		t.Fatalf("sign join: %v", err)
	}
	if err := VerifyJoin(&priv.PublicKey, "component-1", transfer, sig); err != nil {
		t.Fatalf("verify join: %v", err)
	}
	if err := VerifyJoin(&priv.PublicKey, "component-2", transfer, sig); err == nil {
		t.Fatalf("expected verification to fail against a different claimed id")
	}
}

func TestSignVerifyRejectsTamperedPayload(t *testing.T) {
	priv := mustGenerateKeyPair(t)
	payload := []byte("hello artifact")

	sig, err := Sign(priv, payload)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if err := Verify(&priv.PublicKey, payload, sig); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if err := Verify(&priv.PublicKey, []byte("tampered"), sig); err == nil {
		t.Fatalf("expected verification to fail for a tampered payload")
	}
}

func TestEncryptDecryptBytesRoundTrip(t *testing.T) {
	priv := mustGenerateKeyPair(t)
	plaintext := []byte("federated update payload")

	env, ciphertext, sum, err := EncryptBytes(&priv.PublicKey, plaintext)
	if err != nil {
		t.Fatalf("encrypt bytes: %v", err)
	}
	if bytes.Equal(ciphertext, plaintext) {
		t.Fatalf("ciphertext should not equal plaintext")
	}

	got, err := DecryptBytes(priv, env, ciphertext, sum)
	if err != nil {
		t.Fatalf("decrypt bytes: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Fatalf("decrypted plaintext = %q, want %q", got, plaintext)
	}
}

func TestDecryptBytesRejectsChecksumMismatch(t *testing.T) {
	priv := mustGenerateKeyPair(t)
	env, ciphertext, _, err := EncryptBytes(&priv.PublicKey, []byte("payload"))
	if err != nil {
		t.Fatalf("encrypt bytes: %v", err)
	}

	if _, err := DecryptBytes(priv, env, ciphertext, [32]byte{1}); err == nil {
		t.Fatalf("expected checksum mismatch error")
	}
}

func TestEncrypterStreamsMultipleChunks(t *testing.T) {
	priv := mustGenerateKeyPair(t)
	enc, err := NewEncrypter(&priv.PublicKey)
	if err != nil {
		t.Fatalf("new encrypter: %v", err)
	}

	var ciphertext []byte
	for _, chunk := range [][]byte{[]byte("part one "), []byte("part two "), []byte("part three")} {
		out, err := enc.Update(chunk)
		if err != nil {
			t.Fatalf("update: %v", err)
		}
		ciphertext = append(ciphertext, out...)
	}
	sum, err := enc.Close()
	if err != nil {
		t.Fatalf("close: %v", err)
	}

	dec, err := NewDecrypter(priv, enc.Envelope())
	if err != nil {
		t.Fatalf("new decrypter: %v", err)
	}
	plaintext, err := dec.Update(ciphertext)
	if err != nil {
		t.Fatalf("decrypter update: %v", err)
	}
	if err := dec.Close(sum); err != nil {
		t.Fatalf("decrypter close: %v", err)
	}
	if string(plaintext) != "part one part two part three" {
		t.Fatalf("plaintext = %q", plaintext)
	}
}

func TestEncrypterRejectsReuseAfterClose(t *testing.T) {
	priv := mustGenerateKeyPair(t)
	enc, err := NewEncrypter(&priv.PublicKey)
	if err != nil {
		t.Fatalf("new encrypter: %v", err)
	}
	if _, err := enc.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := enc.Update([]byte("late")); err == nil {
		t.Fatalf("expected update after close to fail")
	}
	if _, err := enc.Close(); err == nil {
		t.Fatalf("expected double close to fail")
	}
}

func TestDeriveKeyIsDeterministic(t *testing.T) {
	master := []byte("master-secret")
	salt := []byte("salt")

	k1, err := DeriveKey(master, salt, "artifact-meta", 32)
	if err != nil {
		t.Fatalf("derive key: %v", err)
	}
	k2, err := DeriveKey(master, salt, "artifact-meta", 32)
	if err != nil {
		t.Fatalf("derive key: %v", err)
	}
	if !bytes.Equal(k1, k2) {
		t.Fatalf("expected deterministic derivation for identical inputs")
	}

	k3, err := DeriveKey(master, salt, "other-info", 32)
	if err != nil {
		t.Fatalf("derive key: %v", err)
	}
	if bytes.Equal(k1, k3) {
		t.Fatalf("expected different info strings to derive different keys")
	}
}

func TestHMACSignVerify(t *testing.T) {
	key := []byte("shared-secret")
	data := []byte("heartbeat body")

	sig := HMACSign(key, data)
	if !HMACVerify(key, data, sig) {
		t.Fatalf("expected HMAC verification to succeed")
	}
	if HMACVerify(key, []byte("tampered"), sig) {
		t.Fatalf("expected HMAC verification to fail for tampered data")
	}
}

func TestEncryptDecryptSmallRoundTrip(t *testing.T) {
	key, err := GenerateRandomBytes(32)
	if err != nil {
		t.Fatalf("generate random bytes: %v", err)
	}
	plaintext := []byte("small associated metadata value")

	ciphertext, err := EncryptSmall(key, plaintext)
	if err != nil {
		t.Fatalf("encrypt small: %v", err)
	}
	got, err := DecryptSmall(key, ciphertext)
	if err != nil {
		t.Fatalf("decrypt small: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Fatalf("decrypted = %q, want %q", got, plaintext)
	}
}

func TestDecryptSmallRejectsShortCiphertext(t *testing.T) {
	key, err := GenerateRandomBytes(32)
	if err != nil {
		t.Fatalf("generate random bytes: %v", err)
	}
	if _, err := DecryptSmall(key, []byte("x")); err == nil {
		t.Fatalf("expected error for too-short ciphertext")
	}
}
