package exchange

// seenSet is a bounded set of recently applied order IDs. Delivery to the
// engine is at-least-once, so a redelivered ID must be discarded without
// touching the book; the bound keeps memory flat under sustained traffic.
//
// Not goroutine-safe: each lane owns its own set.
type seenSet struct {
	ids  map[string]struct{}
	ring []string
	next int
	full bool
}

func newSeenSet(capacity int) *seenSet {
	if capacity <= 0 {
		capacity = 1
	}
	return &seenSet{
		ids:  make(map[string]struct{}, capacity),
		ring: make([]string, capacity),
	}
}

func (s *seenSet) Has(id string) bool {
	_, ok := s.ids[id]
	return ok
}

// Add records an ID, evicting the oldest entry once the set is full.
func (s *seenSet) Add(id string) {
	if s.Has(id) {
		return
	}
	if s.full {
		delete(s.ids, s.ring[s.next])
	}
	s.ring[s.next] = id
	s.ids[id] = struct{}{}
	s.next++
	if s.next == len(s.ring) {
		s.next = 0
		s.full = true
	}
}

func (s *seenSet) Len() int { return len(s.ids) }
