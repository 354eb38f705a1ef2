package registry

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/upkeep-io/upkeep/internal/store"
	"github.com/upkeep-io/upkeep/pkg/protocol"
)

func TestLoadSkipsTerminal(t *testing.T) {
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	defer s.DB().Close()

	now := time.Now().UTC().Truncate(time.Second)
	save := func(id string, status protocol.TicketStatus) {
		t.Helper()
		if err := s.Save(&protocol.Ticket{
			ID: id, Status: status, CurrentGroup: protocol.GroupSVS,
			CreatedAt: now, UpdatedAt: now,
		}); err != nil {
			t.Fatalf("save %s: %v", id, err)
		}
	}
	save("live-1", protocol.TicketQueued)
	save("live-2", protocol.TicketAccepted)
	save("done-1", protocol.TicketClosed)
	save("done-2", protocol.TicketRejected)

	r := New(nil)
	if err := r.Load(s); err != nil {
		t.Fatalf("load: %v", err)
	}
	if r.Len() != 2 {
		t.Errorf("expected 2 live tickets, got %d", r.Len())
	}
	if _, ok := r.Get("live-1"); !ok {
		t.Error("live-1 missing")
	}
	if _, ok := r.Get("done-1"); ok {
		t.Error("closed ticket should not be live")
	}
}

func TestPutGet(t *testing.T) {
	r := New(nil)
	tk := &protocol.Ticket{ID: "X", Status: protocol.TicketCreated}
	r.Put(tk)

	got, ok := r.Get("X")
	if !ok || got.ID != "X" {
		t.Fatalf("get: %v %v", got, ok)
	}
}
