package protocol

import "time"

// EventKind names an append-only lifecycle fact.
type EventKind string

const (
	EventNewText          EventKind = "new_text"
	EventQueuedToGroup    EventKind = "queued_to_group"
	EventAccepted         EventKind = "accepted"
	EventRejectRequested  EventKind = "reject_requested"
	EventRejected         EventKind = "rejected"
	EventRejectCancelled  EventKind = "reject_cancelled"
	EventRerouted         EventKind = "rerouted"
	EventClarifyRequested EventKind = "clarify_requested"
	EventClarifyAnswered  EventKind = "clarify_answered"
	EventClosedByExecutor EventKind = "closed_by_executor"
	EventMisclassified    EventKind = "misclassification_reported"
)

// Event is an immutable fact in the ticket event log. Events are never
// updated or deleted; the ticket snapshot is derivable from them.
type Event struct {
	Seq       int64          `json:"seq,omitempty"`
	TicketID  string         `json:"ticket_id"`
	Kind      EventKind      `json:"kind"`
	Timestamp time.Time      `json:"ts"`
	ActorID   int64          `json:"actor_id,omitempty"`
	ActorName string         `json:"actor_name,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
}
