package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"github.com/cockroachdb/pebble"

	"github.com/minexhq/minex/pkg/exchange"
)

// PebbleStore persists executed trades. Writes are idempotent by trade ID:
// redelivering the same trade overwrites the identical record, so the
// at-least-once delivery upstream never produces duplicates on disk.
type PebbleStore struct {
	db *pebble.DB
}

func NewPebbleStore(path string) (*PebbleStore, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open trade store: %w", err)
	}
	return &PebbleStore{db: db}, nil
}

func (s *PebbleStore) Close() error { return s.db.Close() }

// Key layout:
//
//	t:<symbol>:<inverted-nanos>:<tradeId>  -> trade JSON (time-ordered scan, newest first)
//	ti:<tradeId>                           -> primary key (point lookup)
//
// The inverted timestamp makes an ascending iterator yield newest trades
// first, which is what the recent-trades endpoint wants.
func tradeKey(t exchange.Trade) []byte {
	inv := uint64(math.MaxInt64 - t.ExecutedAt.UnixNano())
	return []byte(fmt.Sprintf("t:%s:%020d:%s", t.Symbol, inv, t.ID))
}

func tradeIDKey(id string) []byte    { return []byte("ti:" + id) }
func symbolPrefix(sym string) []byte { return []byte("t:" + sym + ":") }

func keyUpperBound(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil // prefix is all 0xff
}

// SaveTrade writes a trade under both keys. Safe to call any number of times
// with the same trade.
func (s *PebbleStore) SaveTrade(ctx context.Context, t exchange.Trade) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal trade %s: %w", t.ID, err)
	}

	key := tradeKey(t)
	batch := s.db.NewBatch()
	defer batch.Close()

	if err := batch.Set(key, data, nil); err != nil {
		return &exchange.TransientError{Op: "trade store set", Err: err}
	}
	if err := batch.Set(tradeIDKey(t.ID), key, nil); err != nil {
		return &exchange.TransientError{Op: "trade store set", Err: err}
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return &exchange.TransientError{Op: "trade store commit", Err: err}
	}
	return nil
}

// GetTrade looks a trade up by ID. Returns (zero, false, nil) when absent.
func (s *PebbleStore) GetTrade(ctx context.Context, id string) (exchange.Trade, bool, error) {
	var t exchange.Trade
	if err := ctx.Err(); err != nil {
		return t, false, err
	}

	key, closer, err := s.db.Get(tradeIDKey(id))
	if err == pebble.ErrNotFound {
		return t, false, nil
	}
	if err != nil {
		return t, false, &exchange.TransientError{Op: "trade store get", Err: err}
	}
	primary := append([]byte(nil), key...)
	closer.Close()

	data, closer, err := s.db.Get(primary)
	if err == pebble.ErrNotFound {
		return t, false, nil
	}
	if err != nil {
		return t, false, &exchange.TransientError{Op: "trade store get", Err: err}
	}
	defer closer.Close()

	if err := json.Unmarshal(data, &t); err != nil {
		return t, false, fmt.Errorf("decode trade %s: %w", id, err)
	}
	return t, true, nil
}

// RecentTrades returns up to limit trades for a symbol, newest first.
func (s *PebbleStore) RecentTrades(ctx context.Context, symbol string, limit int) ([]exchange.Trade, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}

	prefix := symbolPrefix(symbol)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, &exchange.TransientError{Op: "trade store iter", Err: err}
	}
	defer iter.Close()

	trades := make([]exchange.Trade, 0, limit)
	for iter.First(); iter.Valid() && len(trades) < limit; iter.Next() {
		var t exchange.Trade
		if err := json.Unmarshal(iter.Value(), &t); err != nil {
			continue // skip undecodable entries
		}
		trades = append(trades, t)
	}
	return trades, iter.Error()
}

var _ exchange.TradeStore = (*PebbleStore)(nil)
