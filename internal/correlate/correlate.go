// Package correlate maps outstanding prompts to the action a reply
// should trigger. It is what turns a free-form reply into a typed
// state-machine event.
package correlate

import "github.com/upkeep-io/upkeep/pkg/protocol"

// Kind names the pending action a prompt was issued for.
type Kind string

const (
	// Actor-side prompts (executor or leader answers the bot).
	KindRejectReason      Kind = "reject-reason"
	KindRejectComment     Kind = "reject-comment"
	KindClarifyQuestion   Kind = "clarify-question"
	KindLeaderCancelReply Kind = "leader-cancel-comment"

	// Author-side prompt (author answers a clarification).
	KindClarifyAnswer Kind = "clarify-answer"
)

// Prompt is one correlation record: a message was sent asking a
// specific actor to reply, and this is what the reply should do.
type Prompt struct {
	Kind     Kind
	TicketID string
	ActorID  int64
	Extra    string // kind-specific (e.g. the chosen reject reason)
}

// Table is one correlation table keyed by the prompt message's
// (surface, message-handle) pair. At most one live prompt exists per
// (ticket, kind); inserting a newer one supersedes the old entry.
// There is no expiry: prompts live until answered or the process
// restarts.
type Table struct {
	byRef  map[protocol.MessageRef]Prompt
	byPair map[pairKey]protocol.MessageRef
}

type pairKey struct {
	ticketID string
	kind     Kind
}

// NewTable creates an empty correlation table.
func NewTable() *Table {
	return &Table{
		byRef:  make(map[protocol.MessageRef]Prompt),
		byPair: make(map[pairKey]protocol.MessageRef),
	}
}

// Insert registers a prompt under the message it was sent as,
// superseding any earlier prompt of the same kind for the same ticket.
func (t *Table) Insert(ref protocol.MessageRef, p Prompt) {
	key := pairKey{p.TicketID, p.Kind}
	if old, ok := t.byPair[key]; ok {
		delete(t.byRef, old)
	}
	t.byRef[ref] = p
	t.byPair[key] = ref
}

// Resolve looks up the prompt a reply answers and removes it. A prompt
// is consumed exactly once.
func (t *Table) Resolve(ref protocol.MessageRef) (Prompt, bool) {
	p, ok := t.byRef[ref]
	if !ok {
		return Prompt{}, false
	}
	delete(t.byRef, ref)
	delete(t.byPair, pairKey{p.TicketID, p.Kind})
	return p, true
}

// Peek returns the prompt without consuming it.
func (t *Table) Peek(ref protocol.MessageRef) (Prompt, bool) {
	p, ok := t.byRef[ref]
	return p, ok
}

// Cancel drops the live prompt of the given kind for a ticket, if any.
func (t *Table) Cancel(ticketID string, kind Kind) {
	key := pairKey{ticketID, kind}
	if ref, ok := t.byPair[key]; ok {
		delete(t.byRef, ref)
		delete(t.byPair, key)
	}
}

// Len returns the number of outstanding prompts.
func (t *Table) Len() int { return len(t.byRef) }
