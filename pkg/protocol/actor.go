package protocol

// Actor identifies the person behind an inbound message or action.
type Actor struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Capability is a role an actor may hold within a group.
type Capability string

const (
	CapExecutor   Capability = "executor"
	CapLeader     Capability = "leader"
	CapDispatcher Capability = "dispatcher"
	CapAdmin      Capability = "admin"
)

// CapabilitySet is the set of capabilities an actor holds for a group.
type CapabilitySet map[Capability]bool

// Has reports whether the set contains any of the given capabilities.
func (s CapabilitySet) Has(caps ...Capability) bool {
	for _, c := range caps {
		if s[c] {
			return true
		}
	}
	return false
}
