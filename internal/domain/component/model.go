// Package component holds the Component entity: the identity of a network
// participant (client, coordinator node, worker, or workbench user).
package component

import "time"

// Type identifies the role a component plays in the network.
type Type string

const (
	TypeClient    Type = "CLIENT"
	TypeNode      Type = "NODE"
	TypeWorker    Type = "WORKER"
	TypeUser      Type = "USER"
)

// Component is the identity of a participant. It is created on join and is
// never physically deleted — leaving sets Left rather than removing the row.
type Component struct {
	ID        string
	Type      Type
	PublicKey string // transfer-encoded PEM
	IPAddress string
	MAC       string // CLIENT only
	Node      string // CLIENT only, machine/node identifier
	Version   string
	Active    bool
	Left      bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// AllowsRoute reports whether a component of this type may call a route
// restricted to the given allowed types.
func (t Type) AllowsRoute(allowed ...Type) bool {
	for _, a := range allowed {
		if t == a {
			return true
		}
	}
	return false
}
