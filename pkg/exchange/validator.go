package exchange

import (
	"encoding/json"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ValidateSubmission normalizes a loosely-typed order submission into a
// strict Order. Everything downstream of this boundary operates on the
// validated type only. No side effects: a rejected submission leaves no
// trace anywhere.
func ValidateSubmission(raw map[string]any, now time.Time) (Order, error) {
	var o Order

	symbol, _ := raw["symbol"].(string)
	symbol = strings.TrimSpace(symbol)
	if symbol == "" {
		return o, &ValidationError{Field: "symbol", Reason: "must be a non-empty string"}
	}
	o.Symbol = strings.ToUpper(symbol)

	sideRaw, _ := raw["side"].(string)
	side, ok := ParseSide(sideRaw)
	if !ok {
		return o, &ValidationError{Field: "side", Reason: "must be \"buy\" or \"sell\""}
	}
	o.Side = side

	price, err := parsePositiveDecimal(raw["price"])
	if err != nil {
		return o, &ValidationError{Field: "price", Reason: err.Error()}
	}
	o.Price = price

	qty, err := parsePositiveDecimal(raw["quantity"])
	if err != nil {
		return o, &ValidationError{Field: "quantity", Reason: err.Error()}
	}
	o.Quantity = qty
	o.Remaining = qty

	if id, ok := raw["orderId"].(string); ok && strings.TrimSpace(id) != "" {
		o.ID = strings.TrimSpace(id)
	} else {
		o.ID = uuid.NewString()
	}

	if user, ok := raw["userId"].(string); ok && strings.TrimSpace(user) != "" {
		o.UserID = strings.TrimSpace(user)
	} else {
		o.UserID = "anonymous"
	}

	o.SubmittedAt = now
	if ts, ok := raw["submittedAt"].(string); ok && ts != "" {
		parsed, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return o, &ValidationError{Field: "submittedAt", Reason: "must be an RFC 3339 timestamp"}
		}
		o.SubmittedAt = parsed
	}

	return o, nil
}

// parsePositiveDecimal converts a JSON-decoded value to a strictly positive
// fixed-precision decimal. Floats are accepted for convenience but NaN and
// Inf are rejected before they can poison comparisons; strings and
// json.Number are parsed exactly.
func parsePositiveDecimal(v any) (decimal.Decimal, error) {
	var d decimal.Decimal

	switch n := v.(type) {
	case nil:
		return d, errMissing
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return d, errNotFinite
		}
		d = decimal.NewFromFloat(n)
	case json.Number:
		parsed, err := decimal.NewFromString(n.String())
		if err != nil {
			return d, errNotNumeric
		}
		d = parsed
	case string:
		s := strings.TrimSpace(n)
		if s == "" {
			return d, errMissing
		}
		if upper := strings.ToUpper(s); strings.Contains(upper, "NAN") || strings.Contains(upper, "INF") {
			return d, errNotFinite
		}
		parsed, err := decimal.NewFromString(s)
		if err != nil {
			return d, errNotNumeric
		}
		d = parsed
	case int:
		d = decimal.NewFromInt(int64(n))
	case int64:
		d = decimal.NewFromInt(n)
	default:
		return d, errNotNumeric
	}

	if d.Sign() <= 0 {
		return d, errNotPositive
	}
	return d, nil
}

var (
	errMissing     = &fieldError{"is required"}
	errNotNumeric  = &fieldError{"must be a number"}
	errNotFinite   = &fieldError{"must be a finite number"}
	errNotPositive = &fieldError{"must be greater than 0"}
)

type fieldError struct{ msg string }

func (e *fieldError) Error() string { return e.msg }
