package broadcast

import (
	"sync"
	"time"

	"github.com/minexhq/minex/pkg/util"
)

// ConnectionRegistry tracks live subscriber connections and their symbol
// interests. It is the one piece of state shared across goroutines: the
// websocket server writes it, the broadcaster reads it, the janitor sweeps
// it.
type ConnectionRegistry interface {
	// Subscribe records the connection's symbol interests, replacing any
	// previous set, and creates the entry if this is the first subscribe.
	Subscribe(connID string, symbols []string)
	// Unsubscribe drops the listed symbols from the connection's set.
	Unsubscribe(connID string, symbols []string)
	// Touch refreshes the connection's TTL (called on pong / activity).
	Touch(connID string)
	// Remove deletes the connection. Removing an unknown ID is a no-op.
	Remove(connID string)
	// Subscribers returns the IDs of connections subscribed to symbol.
	Subscribers(symbol string) []string
}

type connEntry struct {
	symbols  map[string]struct{}
	lastSeen time.Time
}

// MemoryRegistry is the in-process ConnectionRegistry. The TTL is a backstop
// for missed disconnect events: entries not touched within it are swept.
type MemoryRegistry struct {
	mu    sync.RWMutex
	conns map[string]*connEntry
	ttl   time.Duration
	clock util.Clock
}

func NewMemoryRegistry(ttl time.Duration, clock util.Clock) *MemoryRegistry {
	if clock == nil {
		clock = util.RealClock{}
	}
	return &MemoryRegistry{
		conns: make(map[string]*connEntry),
		ttl:   ttl,
		clock: clock,
	}
}

func (r *MemoryRegistry) Subscribe(connID string, symbols []string) {
	set := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		set[s] = struct{}{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[connID] = &connEntry{symbols: set, lastSeen: r.clock.Now()}
}

func (r *MemoryRegistry) Unsubscribe(connID string, symbols []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.conns[connID]
	if !ok {
		return
	}
	for _, s := range symbols {
		delete(e.symbols, s)
	}
	e.lastSeen = r.clock.Now()
}

func (r *MemoryRegistry) Touch(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.conns[connID]; ok {
		e.lastSeen = r.clock.Now()
	}
}

func (r *MemoryRegistry) Remove(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, connID)
}

func (r *MemoryRegistry) Subscribers(symbol string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var ids []string
	for id, e := range r.conns {
		if _, ok := e.symbols[symbol]; ok {
			ids = append(ids, id)
		}
	}
	return ids
}

// Len returns the number of tracked connections.
func (r *MemoryRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Sweep removes entries whose TTL has lapsed and returns their IDs.
func (r *MemoryRegistry) Sweep() []string {
	cutoff := r.clock.Now().Add(-r.ttl)

	r.mu.Lock()
	defer r.mu.Unlock()

	var expired []string
	for id, e := range r.conns {
		if e.lastSeen.Before(cutoff) {
			expired = append(expired, id)
			delete(r.conns, id)
		}
	}
	return expired
}

var _ ConnectionRegistry = (*MemoryRegistry)(nil)
