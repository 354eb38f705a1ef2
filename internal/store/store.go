package store

import (
	"time"

	"github.com/upkeep-io/upkeep/pkg/protocol"
)

// Store is the durable persistence interface for tickets. Every
// mutation records an append-only event and the updated snapshot in
// the same transactional unit.
type Store interface {
	// Record appends an event and upserts the ticket snapshot atomically.
	Record(ev *protocol.Event, t *protocol.Ticket) error
	// Save upserts the snapshot alone (message-binding refresh after a
	// dispatch whose lifecycle event was already recorded).
	Save(t *protocol.Ticket) error
	// Get retrieves a ticket snapshot by ID.
	Get(id string) (*protocol.Ticket, error)
	// List returns snapshots matching the filter, oldest first.
	List(filter Filter) ([]*protocol.Ticket, error)
	// Events returns the event log for a ticket, in append order.
	Events(ticketID string) ([]protocol.Event, error)
	// RebuildSnapshots backfills snapshot timestamp fields from the
	// event log where the two diverge. Returns the number of rows fixed.
	RebuildSnapshots() (int, error)
}

// Filter constrains snapshot list queries.
type Filter struct {
	Status       *protocol.TicketStatus
	Group        protocol.Group // matches current_group
	UpdatedSince time.Time      // incremental export watermark
	Limit        int            // 0 = no limit
}
