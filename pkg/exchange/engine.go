package exchange

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/minexhq/minex/pkg/exchange/orderbook"
	"github.com/minexhq/minex/pkg/util"
)

// TradeStore is the durable record of executed trades. Writes are
// at-least-once: the store must treat a duplicate trade ID as an idempotent
// overwrite.
type TradeStore interface {
	SaveTrade(ctx context.Context, t Trade) error
}

// TradeSink receives every executed trade for fanout to subscribers. It is
// decoupled from persistence: failure of one never blocks the other.
type TradeSink interface {
	PublishTrade(ctx context.Context, t Trade) error
}

// Config tunes the engine. Zero values fall back to the defaults below.
type Config struct {
	// SeenCapacity bounds the per-symbol recent-orders set used for
	// redelivery dedup.
	SeenCapacity int
	// LaneBuffer is the inbox depth of each symbol lane.
	LaneBuffer int
	// BlockSelfTrade stops an order from matching the same user's resting
	// order, dropping the incoming remainder instead of crossing so the book
	// never rests crossed either way. Off by default: self-trades execute
	// normally.
	BlockSelfTrade bool

	// Retry budget for persist/publish effects.
	PersistMaxRetries uint64
	RetryBase         time.Duration
	RetryMax          time.Duration
	OpTimeout         time.Duration

	Clock util.Clock
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		SeenCapacity:      8192,
		LaneBuffer:        256,
		PersistMaxRetries: 5,
		RetryBase:         100 * time.Millisecond,
		RetryMax:          2 * time.Second,
		OpTimeout:         3 * time.Second,
		Clock:             util.RealClock{},
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.SeenCapacity <= 0 {
		c.SeenCapacity = def.SeenCapacity
	}
	if c.LaneBuffer <= 0 {
		c.LaneBuffer = def.LaneBuffer
	}
	if c.PersistMaxRetries == 0 {
		c.PersistMaxRetries = def.PersistMaxRetries
	}
	if c.RetryBase <= 0 {
		c.RetryBase = def.RetryBase
	}
	if c.RetryMax <= 0 {
		c.RetryMax = def.RetryMax
	}
	if c.OpTimeout <= 0 {
		c.OpTimeout = def.OpTimeout
	}
	if c.Clock == nil {
		c.Clock = def.Clock
	}
	return c
}

// Engine matches validated orders under price-time priority.
//
// One goroutine lane per symbol owns that symbol's book outright; all
// mutations for a symbol happen serially in submission order, and different
// symbols match in parallel with no shared state. Persistence and broadcast
// run on separate workers behind buffered channels so a slow store write or
// slow subscriber never stalls matching.
type Engine struct {
	cfg   Config
	store TradeStore
	sink  TradeSink
	log   *zap.Logger

	mu    sync.Mutex
	lanes map[string]*lane

	persistCh chan Trade
	publishCh chan Trade

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	duplicates atomic.Uint64
}

// NewEngine wires the matching core. store and sink may be nil in tests.
func NewEngine(store TradeStore, sink TradeSink, log *zap.Logger, cfg Config) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		cfg:       cfg.withDefaults(),
		store:     store,
		sink:      sink,
		log:       log.Named("engine"),
		lanes:     make(map[string]*lane),
		persistCh: make(chan Trade, 1024),
		publishCh: make(chan Trade, 1024),
		ctx:       ctx,
		cancel:    cancel,
	}

	e.wg.Add(2)
	go e.persistWorker()
	go e.publishWorker()
	return e
}

// Submit hands a validated order to its symbol lane. Blocks only while the
// lane inbox is full; returns ErrEngineClosed after shutdown.
func (e *Engine) Submit(ctx context.Context, o Order) error {
	l, err := e.laneFor(o.Symbol)
	if err != nil {
		return err
	}
	select {
	case l.inbox <- o:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-e.ctx.Done():
		return ErrEngineClosed
	}
}

// Book exposes the live book of a symbol for read-only snapshots, or nil if
// no order for that symbol has been seen.
func (e *Engine) Book(symbol string) *orderbook.Book {
	e.mu.Lock()
	defer e.mu.Unlock()
	if l, ok := e.lanes[symbol]; ok {
		return l.book
	}
	return nil
}

// DuplicateCount reports how many redelivered orders were discarded.
func (e *Engine) DuplicateCount() uint64 { return e.duplicates.Load() }

// Close stops all lanes and effect workers and waits for them to drain.
func (e *Engine) Close() {
	e.cancel()
	e.wg.Wait()
}

func (e *Engine) laneFor(symbol string) (*lane, error) {
	select {
	case <-e.ctx.Done():
		return nil, ErrEngineClosed
	default:
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if l, ok := e.lanes[symbol]; ok {
		return l, nil
	}

	l := &lane{
		engine: e,
		symbol: symbol,
		book:   orderbook.New(),
		seen:   newSeenSet(e.cfg.SeenCapacity),
		inbox:  make(chan Order, e.cfg.LaneBuffer),
		log:    e.log.With(zap.String("symbol", symbol)),
	}
	e.lanes[symbol] = l
	e.wg.Add(1)
	go l.run(e.ctx)
	return l, nil
}

// dispatch queues a trade for persistence and broadcast. The two effects are
// independent; each is retried on its own and neither rolls back the book.
func (e *Engine) dispatch(trades []Trade) {
	for _, t := range trades {
		select {
		case e.persistCh <- t:
		case <-e.ctx.Done():
			return
		}
		select {
		case e.publishCh <- t:
		case <-e.ctx.Done():
			return
		}
	}
}

func (e *Engine) persistWorker() {
	defer e.wg.Done()
	if e.store == nil {
		<-e.ctx.Done()
		return
	}
	for {
		select {
		case <-e.ctx.Done():
			return
		case t := <-e.persistCh:
			if err := e.withRetry("persist trade", func(ctx context.Context) error {
				return e.store.SaveTrade(ctx, t)
			}); err != nil {
				// Authoritative state stays in the book; the miss is
				// surfaced for reconciliation instead of stalling the lane.
				e.log.Error("trade persist failed after retries",
					zap.String("trade_id", t.ID),
					zap.String("symbol", t.Symbol),
					zap.Error(err))
			}
		}
	}
}

func (e *Engine) publishWorker() {
	defer e.wg.Done()
	if e.sink == nil {
		<-e.ctx.Done()
		return
	}
	for {
		select {
		case <-e.ctx.Done():
			return
		case t := <-e.publishCh:
			if err := e.withRetry("publish trade", func(ctx context.Context) error {
				return e.sink.PublishTrade(ctx, t)
			}); err != nil {
				e.log.Error("trade publish failed after retries",
					zap.String("trade_id", t.ID),
					zap.String("symbol", t.Symbol),
					zap.Error(err))
			}
		}
	}
}

// withRetry runs fn under the bounded timeout/backoff budget. Errors not
// marked transient fail immediately.
func (e *Engine) withRetry(op string, fn func(ctx context.Context) error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = e.cfg.RetryBase
	policy.MaxInterval = e.cfg.RetryMax

	return backoff.Retry(func() error {
		ctx, cancel := context.WithTimeout(e.ctx, e.cfg.OpTimeout)
		defer cancel()
		err := fn(ctx)
		if err != nil && !IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithMaxRetries(backoff.WithContext(policy, e.ctx), e.cfg.PersistMaxRetries))
}

// lane is the single writer for one symbol's book.
type lane struct {
	engine *Engine
	symbol string
	book   *orderbook.Book
	seen   *seenSet
	inbox  chan Order
	seq    uint64
	log    *zap.Logger
}

func (l *lane) run(ctx context.Context) {
	defer l.engine.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case o := <-l.inbox:
			l.engine.dispatch(l.apply(o))
		}
	}
}

// apply runs one order through the idempotency check and the matching sweep,
// returning the trades it produced. This is the only code path that mutates
// the book.
func (l *lane) apply(o Order) []Trade {
	if l.seen.Has(o.ID) {
		// At-least-once redelivery: already applied, discard silently.
		l.engine.duplicates.Add(1)
		l.log.Debug("duplicate order discarded", zap.String("order_id", o.ID))
		return nil
	}
	l.seen.Add(o.ID)

	l.seq++
	o.Seq = l.seq
	if o.Remaining.Sign() <= 0 {
		o.Remaining = o.Quantity
	}

	var trades []Trade
	for o.Remaining.Sign() > 0 {
		maker := l.book.BestOpposite(o.Side)
		if maker == nil || !crosses(&o, maker) {
			break
		}

		if l.engine.cfg.BlockSelfTrade && maker.UserID == o.UserID {
			// Cancel-newest policy: dropping the incoming remainder is the
			// only resolution that keeps the book uncrossed.
			l.log.Info("self-trade blocked, remainder dropped",
				zap.String("order_id", o.ID),
				zap.String("resting_order_id", maker.ID))
			return trades
		}

		qty := decimal.Min(o.Remaining, maker.Remaining)
		t := newTrade(uuid.NewString(), &o, maker, qty, l.engine.cfg.Clock.Now())
		trades = append(trades, t)

		if !l.book.Reduce(maker.ID, qty) {
			l.log.Warn("resting order vanished mid-match",
				zap.String("order_id", maker.ID))
		}
		o.Remaining = o.Remaining.Sub(qty)
	}

	if o.Remaining.Sign() > 0 {
		rest := o
		l.book.Insert(&rest)
	}

	if len(trades) > 0 {
		l.log.Info("order matched",
			zap.String("order_id", o.ID),
			zap.Int("trades", len(trades)),
			zap.String("remaining", o.Remaining.String()))
	}
	return trades
}

// crosses reports whether the incoming order's limit allows execution against
// the resting order: BUY crosses when its price >= best ask, SELL when its
// price <= best bid.
func crosses(incoming, resting *Order) bool {
	if incoming.Side == Buy {
		return incoming.Price.GreaterThanOrEqual(resting.Price)
	}
	return incoming.Price.LessThanOrEqual(resting.Price)
}
