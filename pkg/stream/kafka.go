package stream

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/minexhq/minex/pkg/exchange"
)

// KafkaOrderWriter publishes validated orders keyed by symbol. The hash
// balancer pins every order of a symbol to one partition, so Kafka's
// per-partition ordering gives the engine the per-symbol total order it
// requires.
type KafkaOrderWriter struct {
	w *kafka.Writer
}

func NewKafkaOrderWriter(brokers []string, topic string) *KafkaOrderWriter {
	return &KafkaOrderWriter{
		w: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			BatchTimeout: 10 * time.Millisecond,
		},
	}
}

func (p *KafkaOrderWriter) PublishOrder(ctx context.Context, o exchange.Order) error {
	value, err := json.Marshal(o)
	if err != nil {
		return err
	}
	err = p.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(o.Symbol),
		Value: value,
	})
	if err != nil {
		return &exchange.TransientError{Op: "kafka order write", Err: err}
	}
	return nil
}

func (p *KafkaOrderWriter) Close() error { return p.w.Close() }

var _ OrderSink = (*KafkaOrderWriter)(nil)

// KafkaOrderReader consumes the orders topic and feeds the engine. Offsets
// commit only after the engine accepts the order, giving at-least-once
// delivery; the engine's idempotency check absorbs the resulting
// redeliveries.
type KafkaOrderReader struct {
	r   *kafka.Reader
	log *zap.Logger
}

func NewKafkaOrderReader(brokers []string, topic, groupID string, log *zap.Logger) *KafkaOrderReader {
	if log == nil {
		log = zap.NewNop()
	}
	return &KafkaOrderReader{
		r: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  brokers,
			Topic:    topic,
			GroupID:  groupID,
			MinBytes: 1,
			MaxBytes: 10e6,
		}),
		log: log.Named("kafka.orders"),
	}
}

func (c *KafkaOrderReader) Run(ctx context.Context, submit func(context.Context, exchange.Order) error) error {
	for {
		msg, err := c.r.FetchMessage(ctx)
		if err != nil {
			return err
		}

		var o exchange.Order
		if err := json.Unmarshal(msg.Value, &o); err != nil {
			// Poison message: log and skip, never wedge the partition.
			c.log.Warn("undecodable order message",
				zap.Int64("offset", msg.Offset),
				zap.Error(err))
			if err := c.r.CommitMessages(ctx, msg); err != nil {
				return err
			}
			continue
		}

		if err := submit(ctx, o); err != nil {
			return err
		}
		if err := c.r.CommitMessages(ctx, msg); err != nil {
			return err
		}
	}
}

func (c *KafkaOrderReader) Close() error { return c.r.Close() }

// KafkaTradeWriter publishes executed trades, keyed by symbol like orders.
// Implements exchange.TradeSink so the engine can sit directly in front of
// it.
type KafkaTradeWriter struct {
	w *kafka.Writer
}

func NewKafkaTradeWriter(brokers []string, topic string) *KafkaTradeWriter {
	return &KafkaTradeWriter{
		w: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			BatchTimeout: 10 * time.Millisecond,
		},
	}
}

func (p *KafkaTradeWriter) PublishTrade(ctx context.Context, t exchange.Trade) error {
	value, err := json.Marshal(t)
	if err != nil {
		return err
	}
	err = p.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(t.Symbol),
		Value: value,
	})
	if err != nil {
		return &exchange.TransientError{Op: "kafka trade write", Err: err}
	}
	return nil
}

func (p *KafkaTradeWriter) Close() error { return p.w.Close() }

var _ exchange.TradeSink = (*KafkaTradeWriter)(nil)

// KafkaTradeReader consumes the trades topic for the broadcaster. Duplicate
// deliveries are harmless downstream: subscribers receive the same immutable
// trade again and the store treats the ID as an idempotent overwrite.
type KafkaTradeReader struct {
	r   *kafka.Reader
	log *zap.Logger
}

func NewKafkaTradeReader(brokers []string, topic, groupID string, log *zap.Logger) *KafkaTradeReader {
	if log == nil {
		log = zap.NewNop()
	}
	return &KafkaTradeReader{
		r: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  brokers,
			Topic:    topic,
			GroupID:  groupID,
			MinBytes: 1,
			MaxBytes: 10e6,
		}),
		log: log.Named("kafka.trades"),
	}
}

func (c *KafkaTradeReader) Run(ctx context.Context, handle func(context.Context, exchange.Trade) error) error {
	for {
		msg, err := c.r.FetchMessage(ctx)
		if err != nil {
			return err
		}

		var t exchange.Trade
		if err := json.Unmarshal(msg.Value, &t); err != nil {
			c.log.Warn("undecodable trade message",
				zap.Int64("offset", msg.Offset),
				zap.Error(err))
			if err := c.r.CommitMessages(ctx, msg); err != nil {
				return err
			}
			continue
		}

		if err := handle(ctx, t); err != nil {
			return err
		}
		if err := c.r.CommitMessages(ctx, msg); err != nil {
			return err
		}
	}
}

func (c *KafkaTradeReader) Close() error { return c.r.Close() }
