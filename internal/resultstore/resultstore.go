// Package resultstore derives blob paths for Result payloads and persists
// the encrypted blobs to the node's working directory.
package resultstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fedmesh/node/internal/crypto"
	"github.com/fedmesh/node/internal/domain/result"
)

// hmacSize is the length of the SHA-256 HMAC tag prefixed to every blob on
// disk, binding the blob's path to its ciphertext so a blob moved or renamed
// under another job's path fails to verify instead of decrypting silently.
const hmacSize = 32

// Store writes and reads result blobs under <root>/artifacts/<artifact_id>/<iteration>/<job_id>.<tag><suffix>,
// encrypting each blob at rest under a key derived from masterKey and the
// blob's own path.
type Store struct {
	root      string
	masterKey []byte
}

// New constructs a Store rooted at workDir/artifacts. masterKey is the
// node's blob-encryption secret (see app.loadOrGenerateBlobKey) that every
// blob key is derived from; tests against throwaway directories may pass
// any fixed value since there is nothing durable to protect.
func New(workDir string, masterKey []byte) *Store {
	return &Store{root: filepath.Join(workDir, "artifacts"), masterKey: masterKey}
}

// Path derives the blob path for a result. It never reads the filesystem;
// callers assign the returned path to Result.Path exactly once at creation
// and never rewrite it.
func (s *Store) Path(artifactID string, iteration int, jobID string, r result.Result) string {
	name := fmt.Sprintf("%s.%s%s", jobID, r.Tag(), r.Suffix())
	return filepath.Join(s.root, artifactID, fmt.Sprintf("%d", iteration), name)
}

// Write encrypts blob under a key derived from path and persists it at
// path, creating parent directories as needed. The on-disk layout is a
// 32-byte HMAC tag over the ciphertext followed by the AES-256-GCM
// ciphertext itself.
func (s *Store) Write(ctx context.Context, path string, blob []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("resultstore: create directory: %w", err)
	}

	key, err := s.blobKey(path)
	if err != nil {
		return fmt.Errorf("resultstore: derive blob key: %w", err)
	}
	ciphertext, err := crypto.EncryptSmall(key, blob)
	if err != nil {
		return fmt.Errorf("resultstore: encrypt blob: %w", err)
	}
	tag := crypto.HMACSign(key, ciphertext)

	if err := os.WriteFile(path, append(tag, ciphertext...), 0o644); err != nil {
		return fmt.Errorf("resultstore: write blob: %w", err)
	}
	return nil
}

// Read loads the blob stored at path, verifies its HMAC tag, and decrypts
// it back to the original plaintext.
func (s *Store) Read(ctx context.Context, path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("resultstore: read blob: %w", err)
	}
	if len(raw) < hmacSize {
		return nil, fmt.Errorf("resultstore: blob at %s is shorter than its HMAC tag", path)
	}
	tag, ciphertext := raw[:hmacSize], raw[hmacSize:]

	key, err := s.blobKey(path)
	if err != nil {
		return nil, fmt.Errorf("resultstore: derive blob key: %w", err)
	}
	if !crypto.HMACVerify(key, ciphertext, tag) {
		return nil, fmt.Errorf("resultstore: blob at %s failed its HMAC check", path)
	}
	return crypto.DecryptSmall(key, ciphertext)
}

// blobKey derives this blob's AES-256 key from the store's master secret and
// the blob's own path, so the same path always decrypts with the same key
// and a blob can never be decrypted under another path's key.
func (s *Store) blobKey(path string) ([]byte, error) {
	rel, err := filepath.Rel(s.root, path)
	if err != nil {
		rel = path
	}
	return crypto.DeriveKey(s.masterKey, []byte(rel), "resultstore-blob-v1", 32)
}
