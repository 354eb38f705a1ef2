package correlate

import (
	"testing"

	"github.com/upkeep-io/upkeep/pkg/protocol"
)

func ref(chat int64, msg int) protocol.MessageRef {
	return protocol.MessageRef{ChatID: chat, MessageID: msg}
}

func TestInsertResolve(t *testing.T) {
	tbl := NewTable()
	tbl.Insert(ref(1, 10), Prompt{Kind: KindRejectComment, TicketID: "A", ActorID: 5, Extra: "wrong-group"})

	p, ok := tbl.Resolve(ref(1, 10))
	if !ok {
		t.Fatal("expected prompt")
	}
	if p.TicketID != "A" || p.Kind != KindRejectComment || p.Extra != "wrong-group" {
		t.Errorf("unexpected prompt: %+v", p)
	}

	// Consumed exactly once.
	if _, ok := tbl.Resolve(ref(1, 10)); ok {
		t.Error("prompt resolved twice")
	}
}

func TestSupersedeSameKindSameTicket(t *testing.T) {
	tbl := NewTable()
	tbl.Insert(ref(1, 10), Prompt{Kind: KindClarifyQuestion, TicketID: "A", ActorID: 5})
	tbl.Insert(ref(1, 20), Prompt{Kind: KindClarifyQuestion, TicketID: "A", ActorID: 6})

	if _, ok := tbl.Resolve(ref(1, 10)); ok {
		t.Error("superseded prompt should be gone")
	}
	p, ok := tbl.Resolve(ref(1, 20))
	if !ok || p.ActorID != 6 {
		t.Errorf("newest prompt should win: %+v, ok=%v", p, ok)
	}
}

func TestDifferentKindsCoexist(t *testing.T) {
	tbl := NewTable()
	tbl.Insert(ref(1, 10), Prompt{Kind: KindRejectReason, TicketID: "A"})
	tbl.Insert(ref(1, 20), Prompt{Kind: KindClarifyQuestion, TicketID: "A"})

	if tbl.Len() != 2 {
		t.Errorf("expected 2 prompts, got %d", tbl.Len())
	}
}

func TestCancel(t *testing.T) {
	tbl := NewTable()
	tbl.Insert(ref(1, 10), Prompt{Kind: KindLeaderCancelReply, TicketID: "A"})
	tbl.Cancel("A", KindLeaderCancelReply)

	if _, ok := tbl.Resolve(ref(1, 10)); ok {
		t.Error("cancelled prompt should be gone")
	}
	// Cancelling a missing pair is a no-op.
	tbl.Cancel("A", KindLeaderCancelReply)
}
