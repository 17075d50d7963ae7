package api

import (
	"github.com/minexhq/minex/pkg/exchange"
	"github.com/minexhq/minex/pkg/exchange/orderbook"
)

// ==============================
// REST Types
// ==============================

// SubmitOrderResponse is returned with 201 on accepted submissions. The
// matching outcome is not part of the response: fills arrive asynchronously
// over the trade stream.
type SubmitOrderResponse struct {
	Message string         `json:"message"`
	OrderID string         `json:"orderId"`
	Order   exchange.Order `json:"order"`
}

// ErrorResponse is returned for all errors.
type ErrorResponse struct {
	Error string `json:"error"`
}

// OrderbookSnapshot is the aggregated book state of one symbol.
type OrderbookSnapshot struct {
	Symbol    string                 `json:"symbol"`
	Bids      []orderbook.PriceLevel `json:"bids"` // sorted best (highest) first
	Asks      []orderbook.PriceLevel `json:"asks"` // sorted best (lowest) first
	Timestamp int64                  `json:"timestamp"` // unix milliseconds
}

// TradesResponse wraps the recent-trades listing.
type TradesResponse struct {
	Symbol string           `json:"symbol"`
	Trades []exchange.Trade `json:"trades"` // newest first
}

// ==============================
// WebSocket Types
// ==============================

// WSRequest is sent by clients over the websocket:
//
//	{"action": "subscribe", "symbols": ["BTC-USD", "ETH-USD"]}
//	{"action": "unsubscribe", "symbols": ["ETH-USD"]}
type WSRequest struct {
	Action  string   `json:"action"`
	Symbols []string `json:"symbols"`
}

// WSAck confirms a subscription change.
type WSAck struct {
	Message string   `json:"message"`
	Symbols []string `json:"symbols"`
}
