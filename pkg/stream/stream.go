// Package stream carries validated orders to the matching engine and
// executed trades to the broadcaster. Two transports exist: buffered
// in-process channels for single-node deployments, and Kafka topics keyed by
// symbol for distributed ones. Both preserve per-symbol submission order,
// which the engine's price-time guarantees depend on.
package stream

import (
	"context"

	"github.com/minexhq/minex/pkg/exchange"
)

// OrderSink accepts validated orders for ordered, symbol-partitioned
// delivery to the engine.
type OrderSink interface {
	PublishOrder(ctx context.Context, o exchange.Order) error
}

// InProcOrders is the single-process order transport: one buffered channel,
// consumed in FIFO order, so per-symbol ordering holds trivially.
type InProcOrders struct {
	ch chan exchange.Order
}

func NewInProcOrders(buffer int) *InProcOrders {
	if buffer <= 0 {
		buffer = 1024
	}
	return &InProcOrders{ch: make(chan exchange.Order, buffer)}
}

func (s *InProcOrders) PublishOrder(ctx context.Context, o exchange.Order) error {
	select {
	case s.ch <- o:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run feeds the engine until the context ends.
func (s *InProcOrders) Run(ctx context.Context, submit func(context.Context, exchange.Order) error) {
	for {
		select {
		case <-ctx.Done():
			return
		case o := <-s.ch:
			if err := submit(ctx, o); err != nil {
				return
			}
		}
	}
}

// InProcTrades is the single-process trade transport between the engine and
// the broadcaster.
type InProcTrades struct {
	ch chan exchange.Trade
}

func NewInProcTrades(buffer int) *InProcTrades {
	if buffer <= 0 {
		buffer = 1024
	}
	return &InProcTrades{ch: make(chan exchange.Trade, buffer)}
}

func (s *InProcTrades) PublishTrade(ctx context.Context, t exchange.Trade) error {
	select {
	case s.ch <- t:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Trades exposes the consumer side of the channel.
func (s *InProcTrades) Trades() <-chan exchange.Trade { return s.ch }

var _ exchange.TradeSink = (*InProcTrades)(nil)
