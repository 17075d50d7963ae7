package exchange

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/minexhq/minex/pkg/exchange/orderbook"
)

// Re-export the book's domain types so callers outside the matching core only
// import this package.
type (
	Order = orderbook.Order
	Side  = orderbook.Side
)

const (
	Buy  = orderbook.Buy
	Sell = orderbook.Sell
)

// ParseSide accepts any casing of "buy"/"sell".
func ParseSide(raw string) (Side, bool) { return orderbook.ParseSide(raw) }

// Trade records one match. Created exactly once per match and immutable
// afterward; duplicate deliveries downstream are deduplicated by ID.
type Trade struct {
	ID          string          `json:"tradeId"`
	Symbol      string          `json:"symbol"`
	BuyOrderID  string          `json:"buyOrderId"`
	SellOrderID string          `json:"sellOrderId"`
	BuyerID     string          `json:"buyerId"`
	SellerID    string          `json:"sellerId"`
	Price       decimal.Decimal `json:"price"`
	Quantity    decimal.Decimal `json:"quantity"`
	TotalValue  decimal.Decimal `json:"totalValue"`
	ExecutedAt  time.Time       `json:"executedAt"`
}

// newTrade builds the trade for a match between taker and maker. The
// execution price is always the maker's limit price.
func newTrade(id string, taker, maker *Order, qty decimal.Decimal, at time.Time) Trade {
	buy, sell := taker, maker
	if taker.Side == Sell {
		buy, sell = maker, taker
	}
	price := maker.Price
	return Trade{
		ID:          id,
		Symbol:      taker.Symbol,
		BuyOrderID:  buy.ID,
		SellOrderID: sell.ID,
		BuyerID:     buy.UserID,
		SellerID:    sell.UserID,
		Price:       price,
		Quantity:    qty,
		TotalValue:  price.Mul(qty),
		ExecutedAt:  at,
	}
}
