package orderbook

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Side of an order: Buy (bid) or Sell (ask).
type Side int

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	if s == Buy {
		return "BUY"
	}
	return "SELL"
}

// Opposite returns the side an incoming order matches against.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// ParseSide accepts any casing of "buy"/"sell".
func ParseSide(raw string) (Side, bool) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "BUY":
		return Buy, true
	case "SELL":
		return Sell, true
	}
	return 0, false
}

func (s Side) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Side) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	side, ok := ParseSide(raw)
	if !ok {
		return fmt.Errorf("unknown side %q", raw)
	}
	*s = side
	return nil
}

// Order is a validated limit order. Price and quantities are fixed-precision
// decimals; binary floats never enter the book.
//
// Remaining is mutated only by the symbol's engine lane. It starts equal to
// Quantity and is strictly non-increasing; the order leaves the book when it
// reaches zero.
type Order struct {
	ID          string          `json:"orderId"`
	Symbol      string          `json:"symbol"`
	Side        Side            `json:"side"`
	Price       decimal.Decimal `json:"price"`
	Quantity    decimal.Decimal `json:"quantity"`
	Remaining   decimal.Decimal `json:"remaining"`
	SubmittedAt time.Time       `json:"submittedAt"`
	UserID      string          `json:"userId"`

	// Seq is assigned by the engine lane in application order and breaks
	// equal-timestamp ties, keeping matching deterministic across replays.
	Seq uint64 `json:"seq,omitempty"`
}

// Filled returns how much of the order has executed so far.
func (o *Order) Filled() decimal.Decimal {
	return o.Quantity.Sub(o.Remaining)
}
