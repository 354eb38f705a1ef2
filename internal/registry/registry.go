// Package registry holds the in-memory index of live tickets. It is
// an explicitly owned state container injected into the engine, so
// tests can instantiate isolated instances.
package registry

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/upkeep-io/upkeep/internal/store"
	"github.com/upkeep-io/upkeep/pkg/protocol"
)

// Registry is the authoritative in-memory ticket index for a process
// lifetime. It is derived from the store at startup; the engine keeps
// it consistent with the store by publishing only after durable writes.
type Registry struct {
	mu      sync.RWMutex
	tickets map[string]*protocol.Ticket
	logger  *slog.Logger
}

// New creates an empty registry.
func New(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		tickets: make(map[string]*protocol.Ticket),
		logger:  logger,
	}
}

// Load rebuilds the index from the store. Terminal tickets are skipped:
// they take no further executor action and stay queryable via the store.
func (r *Registry) Load(s store.Store) error {
	tickets, err := s.List(store.Filter{})
	if err != nil {
		return fmt.Errorf("registry: load: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	live := 0
	for _, t := range tickets {
		if t.Status.Terminal() {
			continue
		}
		r.tickets[t.ID] = t
		live++
	}
	r.logger.Info("registry loaded", "live", live, "total", len(tickets))
	return nil
}

// Get returns the live ticket with the given ID.
func (r *Registry) Get(id string) (*protocol.Ticket, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tickets[id]
	return t, ok
}

// Put publishes a ticket version. Called by the engine after the
// durable write succeeded, never before.
func (r *Registry) Put(t *protocol.Ticket) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tickets[t.ID] = t
}

// Len returns the number of live tickets.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tickets)
}
