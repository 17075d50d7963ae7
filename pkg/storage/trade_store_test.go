package storage

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/minexhq/minex/pkg/exchange"
)

func openStore(t *testing.T) *PebbleStore {
	t.Helper()
	s, err := NewPebbleStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func trade(id, symbol string, at time.Time) exchange.Trade {
	return exchange.Trade{
		ID:          id,
		Symbol:      symbol,
		BuyOrderID:  "b-" + id,
		SellOrderID: "s-" + id,
		BuyerID:     "buyer",
		SellerID:    "seller",
		Price:       decimal.NewFromInt(100),
		Quantity:    decimal.NewFromInt(1),
		TotalValue:  decimal.NewFromInt(100),
		ExecutedAt:  at,
	}
}

func TestSaveAndGetTrade(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	want := trade("t1", "BTC-USD", at)
	if err := s.SaveTrade(ctx, want); err != nil {
		t.Fatal(err)
	}

	got, ok, err := s.GetTrade(ctx, "t1")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("trade not found")
	}
	if got.ID != want.ID || got.Symbol != want.Symbol || !got.Price.Equal(want.Price) {
		t.Fatalf("got %+v, want %+v", got, want)
	}

	_, ok, err = s.GetTrade(ctx, "missing")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("found a trade that was never saved")
	}
}

func TestSaveTradeIdempotent(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	tr := trade("t1", "BTC-USD", at)
	for i := 0; i < 3; i++ {
		if err := s.SaveTrade(ctx, tr); err != nil {
			t.Fatal(err)
		}
	}

	trades, err := s.RecentTrades(ctx, "BTC-USD", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(trades) != 1 {
		t.Fatalf("len = %d, want 1 (redelivery must overwrite, not append)", len(trades))
	}
}

func TestRecentTradesNewestFirst(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		tr := trade(fmt.Sprintf("t%d", i), "BTC-USD", base.Add(time.Duration(i)*time.Second))
		if err := s.SaveTrade(ctx, tr); err != nil {
			t.Fatal(err)
		}
	}
	// Another symbol's trades must not leak in.
	if err := s.SaveTrade(ctx, trade("other", "ETH-USD", base)); err != nil {
		t.Fatal(err)
	}

	trades, err := s.RecentTrades(ctx, "BTC-USD", 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(trades) != 3 {
		t.Fatalf("len = %d, want 3", len(trades))
	}
	for i, want := range []string{"t4", "t3", "t2"} {
		if trades[i].ID != want {
			t.Errorf("trades[%d] = %s, want %s", i, trades[i].ID, want)
		}
	}
}

func TestRecentTradesEmptySymbol(t *testing.T) {
	s := openStore(t)

	trades, err := s.RecentTrades(context.Background(), "NO-SUCH", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(trades) != 0 {
		t.Fatalf("len = %d, want 0", len(trades))
	}
}

func TestSaveTradeHonorsContext(t *testing.T) {
	s := openStore(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.SaveTrade(ctx, trade("t1", "BTC-USD", time.Now()))
	if err == nil {
		t.Fatal("expected context error")
	}
}
