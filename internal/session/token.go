package session

import (
	"crypto/sha256"
	"fmt"
	"time"
)

// GenerateToken derives an opaque bearer token for a component from its
// identity claim, hashed twice over SHA-256. The claim mirrors the join
// request fields (id, calling system, MAC, node) plus the issuance instant
// in milliseconds, so two joins issued in the same millisecond from
// distinct components still diverge on id.
func GenerateToken(componentID, system, mac, node string, issuedAt time.Time) string {
	claim := fmt.Sprintf("%s~%s$%s£%s=%d;", componentID, system, mac, node, issuedAt.UnixMilli())
	first := sha256.Sum256([]byte(claim))
	second := sha256.Sum256(first[:])
	return fmt.Sprintf("%x", second)
}
