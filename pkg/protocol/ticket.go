package protocol

import "time"

// TicketStatus represents the lifecycle state of a ticket.
type TicketStatus string

const (
	TicketCreated    TicketStatus = "created"
	TicketQueued     TicketStatus = "queued"
	TicketAccepted   TicketStatus = "accepted"
	TicketClarifying TicketStatus = "clarifying"
	TicketRejected   TicketStatus = "rejected"
	TicketClosed     TicketStatus = "closed"
)

// Terminal reports whether executor actions are no longer possible.
func (s TicketStatus) Terminal() bool {
	return s == TicketRejected || s == TicketClosed
}

// Group is a work unit responsible for tickets.
type Group string

const (
	GroupSVS     Group = "СВС" // plumbing, ventilation, heating
	GroupSGE     Group = "СГЭ" // electrical
	GroupSST     Group = "ССТ" // low-voltage / automation
	GroupUnknown Group = "Неопределено"
)

// Groups lists the dispatchable work groups (the unclassified sentinel
// is not dispatchable).
func Groups() []Group {
	return []Group{GroupSVS, GroupSGE, GroupSST}
}

// RejectReason is the three-way reason code an executor picks when
// rejecting a ticket.
type RejectReason string

const (
	ReasonNotApplicable RejectReason = "not-applicable-to-workgroup"
	ReasonWrongGroup    RejectReason = "wrong-group"
	ReasonNoRoomAccess  RejectReason = "no-room-access"
)

// MessageRef identifies a rendered message on a chat surface. Group
// actions carry the ref of the rendering they were pressed on; a ref
// that no longer matches the ticket's stored binding is stale.
type MessageRef struct {
	ChatID    int64 `json:"chat_id"`
	MessageID int   `json:"message_id"`
}

// IsZero reports whether the ref is unset.
func (r MessageRef) IsZero() bool { return r.ChatID == 0 && r.MessageID == 0 }

// PendingReject is the transient record of a rejection awaiting a
// leader's decision. It exists only between the executor's comment and
// the leader's approve/cancel/re-route.
type PendingReject struct {
	ExecutorID   int64        `json:"executor_id"`
	ExecutorName string       `json:"executor_name"`
	Reason       RejectReason `json:"reason"`
	Comment      string       `json:"comment"`
	SubmittedAt  time.Time    `json:"submitted_at"`
}

// Ticket is a single maintenance request tracked through its lifecycle.
type Ticket struct {
	ID string `json:"id"`

	// Immutable at creation.
	AuthorID     int64  `json:"author_id"`
	AuthorName   string `json:"author_name"`
	AuthorChatID int64  `json:"author_chat_id"`
	Text         string `json:"text"`

	// Classification. InitialGroup is fixed at the first dispatch and
	// never changes afterwards; CurrentGroup follows re-routes.
	InitialGroup Group  `json:"initial_group,omitempty"`
	CurrentGroup Group  `json:"current_group"`
	Category     string `json:"category"`

	Status TicketStatus `json:"status"`

	ExecutorID   int64  `json:"executor_id,omitempty"`
	ExecutorName string `json:"executor_name,omitempty"`

	RejectReason  RejectReason   `json:"reject_reason,omitempty"`
	RejectComment string         `json:"reject_comment,omitempty"`
	PendingReject *PendingReject `json:"pending_reject,omitempty"`

	LeaderID         int64      `json:"leader_id,omitempty"`
	LeaderName       string     `json:"leader_name,omitempty"`
	LeaderDecisionAt *time.Time `json:"leader_decision_ts,omitempty"`

	ReroutedToGroup Group      `json:"rerouted_to_group,omitempty"`
	ReroutedAt      *time.Time `json:"rerouted_ts,omitempty"`

	ClarifyQuestion    string     `json:"clarify_question,omitempty"`
	ClarifyRequestedAt *time.Time `json:"clarify_requested_ts,omitempty"`
	ClarifyAnswer      string     `json:"clarify_answer,omitempty"`
	ClarifyAnsweredAt  *time.Time `json:"clarify_answered_ts,omitempty"`

	// Binding of the current group rendering that action buttons
	// attach to. Replaced on every re-dispatch.
	Binding MessageRef `json:"binding"`

	CreatedAt  time.Time  `json:"created_ts"`
	QueuedAt   *time.Time `json:"queued_ts,omitempty"`
	AcceptedAt *time.Time `json:"accepted_ts,omitempty"`
	RejectedAt *time.Time `json:"rejected_ts,omitempty"`
	ClosedAt   *time.Time `json:"closed_ts,omitempty"`
	UpdatedAt  time.Time  `json:"updated_ts"`
}

// Clone returns a deep copy. The engine mutates a clone and publishes
// it to the registry only after the durable write succeeded.
func (t *Ticket) Clone() *Ticket {
	c := *t
	if t.PendingReject != nil {
		pr := *t.PendingReject
		c.PendingReject = &pr
	}
	c.LeaderDecisionAt = cloneTime(t.LeaderDecisionAt)
	c.ReroutedAt = cloneTime(t.ReroutedAt)
	c.ClarifyRequestedAt = cloneTime(t.ClarifyRequestedAt)
	c.ClarifyAnsweredAt = cloneTime(t.ClarifyAnsweredAt)
	c.QueuedAt = cloneTime(t.QueuedAt)
	c.AcceptedAt = cloneTime(t.AcceptedAt)
	c.RejectedAt = cloneTime(t.RejectedAt)
	c.ClosedAt = cloneTime(t.ClosedAt)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
