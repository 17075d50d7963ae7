package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/minexhq/minex/pkg/broadcast"
	"github.com/minexhq/minex/pkg/exchange"
	"github.com/minexhq/minex/pkg/stream"
	"github.com/minexhq/minex/pkg/util"
)

type fakeQuerier struct {
	trades []exchange.Trade
	err    error
}

func (q *fakeQuerier) RecentTrades(ctx context.Context, symbol string, limit int) ([]exchange.Trade, error) {
	if q.err != nil {
		return nil, q.err
	}
	if len(q.trades) > limit {
		return q.trades[:limit], nil
	}
	return q.trades, nil
}

type serverFixture struct {
	server *Server
	engine *exchange.Engine
	orders *stream.InProcOrders
	http   *httptest.Server
}

func newFixture(t *testing.T, querier TradeQuerier) *serverFixture {
	t.Helper()

	engine := exchange.NewEngine(nil, nil, nil, exchange.Config{})
	t.Cleanup(engine.Close)

	orders := stream.NewInProcOrders(64)
	registry := broadcast.NewMemoryRegistry(time.Hour, util.RealClock{})
	if querier == nil {
		querier = &fakeQuerier{}
	}

	s := NewServer(engine, orders, querier, registry, nil)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)

	return &serverFixture{server: s, engine: engine, orders: orders, http: ts}
}

func postJSON(t *testing.T, url, body string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp, data
}

func TestSubmitOrderAccepted(t *testing.T) {
	f := newFixture(t, nil)

	resp, body := postJSON(t, f.http.URL+"/api/v1/orders",
		`{"symbol":"btc-usd","side":"buy","price":"100.50","quantity":"2"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, body %s", resp.StatusCode, body)
	}

	var out SubmitOrderResponse
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatal(err)
	}
	if out.OrderID == "" {
		t.Error("orderId missing in response")
	}
	if out.Order.Symbol != "BTC-USD" {
		t.Errorf("symbol = %q, want normalized BTC-USD", out.Order.Symbol)
	}
	if out.Order.UserID != "anonymous" {
		t.Errorf("userId = %q", out.Order.UserID)
	}
}

func TestSubmitOrderValidation(t *testing.T) {
	f := newFixture(t, nil)

	tests := []struct {
		name string
		body string
	}{
		{"not json", `{{{`},
		{"missing symbol", `{"side":"buy","price":"100","quantity":"1"}`},
		{"bad side", `{"symbol":"BTC-USD","side":"hold","price":"100","quantity":"1"}`},
		{"zero price", `{"symbol":"BTC-USD","side":"buy","price":"0","quantity":"1"}`},
		{"nan quantity", `{"symbol":"BTC-USD","side":"buy","price":"100","quantity":"NaN"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := postJSON(t, f.http.URL+"/api/v1/orders", tt.body)
			if resp.StatusCode != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400 (body %s)", resp.StatusCode, body)
			}
			var out ErrorResponse
			if err := json.Unmarshal(body, &out); err != nil {
				t.Fatal(err)
			}
			if out.Error == "" {
				t.Error("error message missing")
			}
		})
	}
}

func TestSubmitOrderLargePrecisePrice(t *testing.T) {
	f := newFixture(t, nil)

	// A price that would lose precision through float64 must survive intact.
	resp, body := postJSON(t, f.http.URL+"/api/v1/orders",
		`{"symbol":"BTC-USD","side":"sell","price":"12345678901234567.89","quantity":"1"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, body %s", resp.StatusCode, body)
	}

	var out SubmitOrderResponse
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatal(err)
	}
	want, _ := decimal.NewFromString("12345678901234567.89")
	if !out.Order.Price.Equal(want) {
		t.Fatalf("price = %s, want %s", out.Order.Price, want)
	}
}

func TestGetOrderbook(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	resp, _ := getURL(t, f.http.URL+"/api/v1/markets/BTC-USD/orderbook")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status for unseen symbol = %d, want 404", resp.StatusCode)
	}

	o := exchange.Order{
		ID:          "o1",
		Symbol:      "BTC-USD",
		Side:        exchange.Buy,
		Price:       decimal.NewFromInt(100),
		Quantity:    decimal.NewFromInt(2),
		Remaining:   decimal.NewFromInt(2),
		SubmittedAt: time.Now(),
	}
	if err := f.engine.Submit(ctx, o); err != nil {
		t.Fatal(err)
	}

	// The lane applies asynchronously; wait for the order to rest.
	deadline := time.Now().Add(2 * time.Second)
	for {
		if b := f.engine.Book("BTC-USD"); b != nil && b.Len() == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("order never rested")
		}
		time.Sleep(5 * time.Millisecond)
	}

	resp, body := getURL(t, f.http.URL+"/api/v1/markets/btc-usd/orderbook")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body %s", resp.StatusCode, body)
	}
	var snap OrderbookSnapshot
	if err := json.Unmarshal(body, &snap); err != nil {
		t.Fatal(err)
	}
	if snap.Symbol != "BTC-USD" || len(snap.Bids) != 1 || len(snap.Asks) != 0 {
		t.Fatalf("snapshot = %+v", snap)
	}
	if !snap.Bids[0].Qty.Equal(decimal.NewFromInt(2)) {
		t.Fatalf("bid level = %+v", snap.Bids[0])
	}
}

func TestGetTrades(t *testing.T) {
	q := &fakeQuerier{trades: []exchange.Trade{
		{ID: "t2", Symbol: "BTC-USD"},
		{ID: "t1", Symbol: "BTC-USD"},
	}}
	f := newFixture(t, q)

	resp, body := getURL(t, f.http.URL+"/api/v1/markets/BTC-USD/trades?limit=1")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var out TradesResponse
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatal(err)
	}
	if len(out.Trades) != 1 || out.Trades[0].ID != "t2" {
		t.Fatalf("trades = %+v", out.Trades)
	}

	for _, bad := range []string{"0", "-1", "1001", "abc"} {
		resp, _ := getURL(t, f.http.URL+"/api/v1/markets/BTC-USD/trades?limit="+bad)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("limit=%s: status = %d, want 400", bad, resp.StatusCode)
		}
	}
}

func TestHealth(t *testing.T) {
	f := newFixture(t, nil)

	resp, _ := getURL(t, f.http.URL+"/health")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func getURL(t *testing.T, url string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp, data
}
