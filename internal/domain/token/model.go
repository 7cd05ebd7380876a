// Package token holds the Token entity: the opaque bearer credential issued
// to a component by the session layer.
package token

import "time"

// Token is a bearer credential bound to a single component. A component may
// accumulate several Token rows over its lifetime but at most one has
// Valid=true at a time — issuing a new token invalidates the rest.
type Token struct {
	Token       string
	ComponentID string
	Expiration  time.Time
	Valid       bool
	CreatedAt   time.Time
}

// Expired reports whether the token's expiration has passed as of now.
func (t Token) Expired(now time.Time) bool {
	return now.After(t.Expiration)
}
