package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/minexhq/minex/pkg/exchange"
)

// ErrConnGone is returned by a Pusher when the connection is definitively
// dead. The broadcaster deregisters it immediately instead of retrying.
var ErrConnGone = errors.New("connection gone")

// Pusher delivers a payload to one live connection. Implemented by the
// websocket hub.
type Pusher interface {
	Push(connID string, payload []byte) error
}

// Config tunes per-connection push retries.
type Config struct {
	PushMaxRetries uint64
	RetryBase      time.Duration
	RetryMax       time.Duration
	JanitorPeriod  time.Duration
}

func DefaultConfig() Config {
	return Config{
		PushMaxRetries: 3,
		RetryBase:      50 * time.Millisecond,
		RetryMax:       time.Second,
		JanitorPeriod:  30 * time.Second,
	}
}

// Broadcaster fans executed trades out to every connection subscribed to the
// trade's symbol. Connections fail independently: one dead or slow
// subscriber never blocks delivery to the rest.
type Broadcaster struct {
	registry ConnectionRegistry
	pusher   Pusher
	cfg      Config
	log      *zap.Logger
}

func New(registry ConnectionRegistry, pusher Pusher, log *zap.Logger, cfg Config) *Broadcaster {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.PushMaxRetries == 0 {
		cfg = DefaultConfig()
	}
	return &Broadcaster{
		registry: registry,
		pusher:   pusher,
		cfg:      cfg,
		log:      log.Named("broadcast"),
	}
}

// tradeMessage is the wire shape pushed to subscribers.
type tradeMessage struct {
	Type string         `json:"type"`
	Data exchange.Trade `json:"data"`
}

// HandleTrade pushes one trade to all current subscribers of its symbol.
func (b *Broadcaster) HandleTrade(ctx context.Context, t exchange.Trade) error {
	payload, err := json.Marshal(tradeMessage{Type: "trade", Data: t})
	if err != nil {
		return err
	}

	ids := b.registry.Subscribers(t.Symbol)
	if len(ids) == 0 {
		return nil
	}

	sent, failed := 0, 0
	for _, id := range ids {
		if err := b.pushWithRetry(ctx, id, payload); err != nil {
			failed++
			continue
		}
		sent++
	}

	b.log.Debug("trade broadcast",
		zap.String("trade_id", t.ID),
		zap.String("symbol", t.Symbol),
		zap.Int("sent", sent),
		zap.Int("failed", failed))
	return nil
}

// PublishTrade lets the broadcaster sit directly behind the engine as its
// TradeSink in single-process deployments.
func (b *Broadcaster) PublishTrade(ctx context.Context, t exchange.Trade) error {
	return b.HandleTrade(ctx, t)
}

// pushWithRetry delivers to a single connection. A definitive gone signal
// deregisters immediately; transient failures retry with capped backoff, and
// exhausting the budget leaves the entry for the TTL janitor to reap.
func (b *Broadcaster) pushWithRetry(ctx context.Context, connID string, payload []byte) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = b.cfg.RetryBase
	policy.MaxInterval = b.cfg.RetryMax

	err := backoff.Retry(func() error {
		err := b.pusher.Push(connID, payload)
		if errors.Is(err, ErrConnGone) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithMaxRetries(backoff.WithContext(policy, ctx), b.cfg.PushMaxRetries))

	if errors.Is(err, ErrConnGone) {
		b.registry.Remove(connID)
		b.log.Info("connection gone, deregistered", zap.String("conn_id", connID))
		return err
	}
	if err != nil {
		b.log.Warn("push failed after retries",
			zap.String("conn_id", connID),
			zap.Error(err))
	}
	return err
}

// Run consumes trades until the channel closes or the context ends.
func (b *Broadcaster) Run(ctx context.Context, trades <-chan exchange.Trade) {
	for {
		select {
		case <-ctx.Done():
			return
		case t, ok := <-trades:
			if !ok {
				return
			}
			if err := b.HandleTrade(ctx, t); err != nil {
				b.log.Warn("broadcast failed", zap.String("trade_id", t.ID), zap.Error(err))
			}
		}
	}
}

// RunJanitor sweeps TTL-expired registry entries until the context ends.
func (b *Broadcaster) RunJanitor(ctx context.Context, reg *MemoryRegistry) {
	ticker := time.NewTicker(b.cfg.JanitorPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if expired := reg.Sweep(); len(expired) > 0 {
				b.log.Info("expired connections swept", zap.Int("count", len(expired)))
			}
		}
	}
}
