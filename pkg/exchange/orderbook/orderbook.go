package orderbook

import (
	"container/heap"
	"sort"
	"sync"

	"github.com/shopspring/decimal"
)

// PriceLevel is an aggregated view of one price: total resting quantity and
// order count. Used by the REST orderbook snapshot.
type PriceLevel struct {
	Price  decimal.Decimal `json:"price"`
	Qty    decimal.Decimal `json:"qty"`
	Orders int             `json:"orders"`
}

// ref locates a resting order: which side it rests on and its level key.
type ref struct {
	side Side
	key  string
}

// Book holds the resting limit orders of a single symbol.
//
// Mutations (Insert, Reduce, Remove, BestOpposite's lazy cleanup) must come
// from the one engine lane that owns the symbol; the mutex only makes the
// read-side snapshots (BidLevels, AskLevels, BestBid, BestAsk) safe to call
// from API goroutines.
//
// Invariant: no resting order has Remaining == 0, and the book is never
// crossed at rest — the engine matches crossing orders before insertion.
type Book struct {
	mu sync.RWMutex

	// Heap-based best price tracking (O(1) peek). Levels hold FIFO queues;
	// heap entries may go stale when a level empties and are discarded
	// lazily on peek.
	bidHeap *MaxPriceHeap
	askHeap *MinPriceHeap

	bids map[string][]*Order // price key -> FIFO queue
	asks map[string][]*Order

	index map[string]ref // order ID -> location, O(1) reduce/remove
}

func New() *Book {
	bidHeap := &MaxPriceHeap{}
	askHeap := &MinPriceHeap{}
	heap.Init(bidHeap)
	heap.Init(askHeap)

	return &Book{
		bidHeap: bidHeap,
		askHeap: askHeap,
		bids:    make(map[string][]*Order),
		asks:    make(map[string][]*Order),
		index:   make(map[string]ref),
	}
}

// priceKey canonicalizes a price for level lookup. decimal.String trims
// trailing zeros, so numerically equal prices share a level regardless of the
// scale they were submitted with.
func priceKey(p decimal.Decimal) string { return p.String() }

// sortsBefore is the resting priority within a level: earlier SubmittedAt
// first, equal timestamps broken by assigned sequence number.
func sortsBefore(a, b *Order) bool {
	if !a.SubmittedAt.Equal(b.SubmittedAt) {
		return a.SubmittedAt.Before(b.SubmittedAt)
	}
	return a.Seq < b.Seq
}

// Insert rests an order on its side of the book. The caller guarantees
// Remaining > 0.
func (b *Book) Insert(o *Order) {
	b.mu.Lock()
	defer b.mu.Unlock()

	key := priceKey(o.Price)
	side := b.sideQueues(o.Side)

	if len(side[key]) == 0 {
		// New price level.
		if o.Side == Buy {
			heap.Push(b.bidHeap, o.Price)
		} else {
			heap.Push(b.askHeap, o.Price)
		}
	}

	// Orders arrive in application order, so this is almost always an
	// append; replayed traffic with equal timestamps still lands in
	// deterministic (SubmittedAt, Seq) position.
	q := side[key]
	i := len(q)
	for i > 0 && sortsBefore(o, q[i-1]) {
		i--
	}
	q = append(q, nil)
	copy(q[i+1:], q[i:])
	q[i] = o
	side[key] = q

	b.index[o.ID] = ref{side: o.Side, key: key}
}

// BestOpposite returns the best-priced, earliest resting order on the side an
// incoming order of side s would match against, or nil if that side is empty.
func (b *Book) BestOpposite(s Side) *Order {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.bestResting(s.Opposite())
}

// bestResting peeks the side's price heap, discarding stale entries whose
// level has since emptied. Caller holds the write lock.
func (b *Book) bestResting(side Side) *Order {
	queues := b.sideQueues(side)
	for {
		var (
			price decimal.Decimal
			ok    bool
		)
		if side == Buy {
			price, ok = b.bidHeap.Peek()
		} else {
			price, ok = b.askHeap.Peek()
		}
		if !ok {
			return nil
		}

		q := queues[priceKey(price)]
		if len(q) == 0 {
			// Stale heap entry left by a drained level.
			if side == Buy {
				heap.Pop(b.bidHeap)
			} else {
				heap.Pop(b.askHeap)
			}
			delete(queues, priceKey(price))
			continue
		}
		return q[0]
	}
}

// Reduce decreases the remaining quantity of a resting order, removing it from
// the book when it reaches zero. Returns false if the order is not resting —
// a stale reference the caller should treat as already healed.
func (b *Book) Reduce(orderID string, qty decimal.Decimal) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	loc, ok := b.index[orderID]
	if !ok {
		return false
	}

	queues := b.sideQueues(loc.side)
	q := queues[loc.key]
	for i, o := range q {
		if o.ID != orderID {
			continue
		}
		o.Remaining = o.Remaining.Sub(qty)
		if o.Remaining.Sign() <= 0 {
			o.Remaining = decimal.Zero
			b.dropAt(loc, q, i)
		}
		return true
	}

	// Index pointed at a level that no longer holds the order. Heal.
	delete(b.index, orderID)
	return false
}

// Remove deletes a resting order outright. A miss is a self-healing no-op:
// stale index entries (e.g. from replayed traffic) are cleaned and false is
// returned.
func (b *Book) Remove(orderID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	loc, ok := b.index[orderID]
	if !ok {
		return false
	}

	q := b.sideQueues(loc.side)[loc.key]
	for i, o := range q {
		if o.ID == orderID {
			b.dropAt(loc, q, i)
			return true
		}
	}

	delete(b.index, orderID)
	return false
}

// dropAt removes q[i] from its level, cleaning up the level and heap entry
// when it empties. Caller holds the write lock.
func (b *Book) dropAt(loc ref, q []*Order, i int) {
	id := q[i].ID
	queues := b.sideQueues(loc.side)
	queues[loc.key] = append(q[:i], q[i+1:]...)
	delete(b.index, id)

	if len(queues[loc.key]) == 0 {
		delete(queues, loc.key)
		b.removeHeapPrice(loc.side, loc.key)
	}
}

// removeHeapPrice evicts a drained price level from its heap (O(n) scan, but
// levels drain far less often than they are peeked).
func (b *Book) removeHeapPrice(side Side, key string) {
	if side == Buy {
		for i, p := range *b.bidHeap {
			if priceKey(p) == key {
				heap.Remove(b.bidHeap, i)
				return
			}
		}
		return
	}
	for i, p := range *b.askHeap {
		if priceKey(p) == key {
			heap.Remove(b.askHeap, i)
			return
		}
	}
}

func (b *Book) sideQueues(s Side) map[string][]*Order {
	if s == Buy {
		return b.bids
	}
	return b.asks
}

// BestBid returns the highest resting bid price.
func (b *Book) BestBid() (decimal.Decimal, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var best decimal.Decimal
	found := false
	for _, q := range b.bids {
		if len(q) == 0 {
			continue
		}
		p := q[0].Price
		if !found || p.GreaterThan(best) {
			best, found = p, true
		}
	}
	return best, found
}

// BestAsk returns the lowest resting ask price.
func (b *Book) BestAsk() (decimal.Decimal, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var best decimal.Decimal
	found := false
	for _, q := range b.asks {
		if len(q) == 0 {
			continue
		}
		p := q[0].Price
		if !found || p.LessThan(best) {
			best, found = p, true
		}
	}
	return best, found
}

// Len returns the number of resting orders across both sides.
func (b *Book) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.index)
}

// BidLevels returns aggregated bid levels sorted best (highest) first.
func (b *Book) BidLevels() []PriceLevel {
	b.mu.RLock()
	defer b.mu.RUnlock()

	levels := b.aggregate(b.bids)
	sort.Slice(levels, func(i, j int) bool {
		return levels[i].Price.GreaterThan(levels[j].Price)
	})
	return levels
}

// AskLevels returns aggregated ask levels sorted best (lowest) first.
func (b *Book) AskLevels() []PriceLevel {
	b.mu.RLock()
	defer b.mu.RUnlock()

	levels := b.aggregate(b.asks)
	sort.Slice(levels, func(i, j int) bool {
		return levels[i].Price.LessThan(levels[j].Price)
	})
	return levels
}

func (b *Book) aggregate(queues map[string][]*Order) []PriceLevel {
	levels := make([]PriceLevel, 0, len(queues))
	for _, q := range queues {
		if len(q) == 0 {
			continue
		}
		lv := PriceLevel{Price: q[0].Price, Orders: len(q)}
		for _, o := range q {
			lv.Qty = lv.Qty.Add(o.Remaining)
		}
		levels = append(levels, lv)
	}
	return levels
}
