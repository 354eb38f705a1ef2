// Package authz answers "what may this actor do for this group". It
// is the single capability-check entry point consulted before every
// permission-gated transition.
package authz

import "github.com/upkeep-io/upkeep/pkg/protocol"

// GroupRoles assigns actors to roles within one work group.
type GroupRoles struct {
	Leaders     []int64 `json:"leaders,omitempty"`
	Executors   []int64 `json:"executors,omitempty"`
	Dispatchers []int64 `json:"dispatchers,omitempty"`
}

// Roles is the full role assignment, normally loaded from config.
type Roles struct {
	Admins []int64                       `json:"admins,omitempty"`
	Groups map[protocol.Group]GroupRoles `json:"groups,omitempty"`
}

// Decision is a typed authorization result. It records what was held
// and what was required, so error reporting stays uniform.
type Decision struct {
	Actor    int64
	Group    protocol.Group
	Held     protocol.CapabilitySet
	Required []protocol.Capability
}

// Allowed reports whether the actor held at least one required
// capability (or anything at all when no requirement was named).
func (d Decision) Allowed() bool {
	if len(d.Required) == 0 {
		return len(d.Held) > 0
	}
	return d.Held.Has(d.Required...)
}

// Service resolves capabilities from static role assignments.
type Service struct {
	roles Roles
}

// New creates a Service from role assignments.
func New(roles Roles) *Service {
	return &Service{roles: roles}
}

// AuthorityFor returns the capability set an actor holds for a group.
// Admins hold every capability everywhere, including the unclassified
// sentinel group.
func (s *Service) AuthorityFor(actorID int64, group protocol.Group) protocol.CapabilitySet {
	caps := make(protocol.CapabilitySet)
	if containsID(s.roles.Admins, actorID) {
		caps[protocol.CapAdmin] = true
		caps[protocol.CapLeader] = true
		caps[protocol.CapDispatcher] = true
		caps[protocol.CapExecutor] = true
		return caps
	}
	gr, ok := s.roles.Groups[group]
	if !ok {
		return caps
	}
	if containsID(gr.Leaders, actorID) {
		caps[protocol.CapLeader] = true
		caps[protocol.CapExecutor] = true
	}
	if containsID(gr.Dispatchers, actorID) {
		caps[protocol.CapDispatcher] = true
	}
	if containsID(gr.Executors, actorID) {
		caps[protocol.CapExecutor] = true
	}
	return caps
}

// Check evaluates whether the actor holds any of the required
// capabilities for the group.
func (s *Service) Check(actorID int64, group protocol.Group, required ...protocol.Capability) Decision {
	return Decision{
		Actor:    actorID,
		Group:    group,
		Held:     s.AuthorityFor(actorID, group),
		Required: required,
	}
}

// IsAdmin reports whether the actor is a global admin.
func (s *Service) IsAdmin(actorID int64) bool {
	return containsID(s.roles.Admins, actorID)
}

// Leaders returns the leader IDs for a group (admins not included).
func (s *Service) Leaders(group protocol.Group) []int64 {
	return s.roles.Groups[group].Leaders
}

func containsID(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
