package authz

import (
	"testing"

	"github.com/upkeep-io/upkeep/pkg/protocol"
)

func testRoles() Roles {
	return Roles{
		Admins: []int64{1},
		Groups: map[protocol.Group]GroupRoles{
			protocol.GroupSVS: {
				Leaders:     []int64{10},
				Executors:   []int64{20, 21},
				Dispatchers: []int64{30},
			},
			protocol.GroupSGE: {
				Executors: []int64{40},
			},
		},
	}
}

func TestAuthorityFor(t *testing.T) {
	s := New(testRoles())

	tests := []struct {
		actor int64
		group protocol.Group
		want  protocol.Capability
		held  bool
	}{
		{20, protocol.GroupSVS, protocol.CapExecutor, true},
		{20, protocol.GroupSGE, protocol.CapExecutor, false},
		{10, protocol.GroupSVS, protocol.CapLeader, true},
		{10, protocol.GroupSVS, protocol.CapExecutor, true}, // leaders may execute
		{30, protocol.GroupSVS, protocol.CapDispatcher, true},
		{30, protocol.GroupSVS, protocol.CapLeader, false},
		{1, protocol.GroupSGE, protocol.CapAdmin, true}, // admin everywhere
		{1, protocol.GroupUnknown, protocol.CapLeader, true},
		{99, protocol.GroupSVS, protocol.CapExecutor, false},
	}
	for _, tt := range tests {
		caps := s.AuthorityFor(tt.actor, tt.group)
		if caps.Has(tt.want) != tt.held {
			t.Errorf("AuthorityFor(%d, %s).Has(%s) = %v, want %v",
				tt.actor, tt.group, tt.want, caps.Has(tt.want), tt.held)
		}
	}
}

func TestCheckDecision(t *testing.T) {
	s := New(testRoles())

	d := s.Check(20, protocol.GroupSVS, protocol.CapExecutor, protocol.CapLeader)
	if !d.Allowed() {
		t.Error("executor should pass an executor-or-leader check")
	}

	d = s.Check(40, protocol.GroupSVS, protocol.CapExecutor)
	if d.Allowed() {
		t.Error("executor of another group must not pass")
	}

	// No named requirement means "any authority over the group".
	d = s.Check(30, protocol.GroupSVS)
	if !d.Allowed() {
		t.Error("dispatcher holds authority over the group")
	}
	d = s.Check(99, protocol.GroupSVS)
	if d.Allowed() {
		t.Error("stranger holds no authority")
	}
}

func TestLeaders(t *testing.T) {
	s := New(testRoles())
	if got := s.Leaders(protocol.GroupSVS); len(got) != 1 || got[0] != 10 {
		t.Errorf("Leaders = %v", got)
	}
	if got := s.Leaders(protocol.GroupSST); len(got) != 0 {
		t.Errorf("expected no leaders, got %v", got)
	}
}
