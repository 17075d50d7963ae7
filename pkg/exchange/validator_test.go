package exchange

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func TestValidateSubmissionRejects(t *testing.T) {
	valid := func() map[string]any {
		return map[string]any{
			"symbol":   "BTC-USD",
			"side":     "buy",
			"price":    json.Number("100.50"),
			"quantity": json.Number("2"),
		}
	}

	tests := []struct {
		name      string
		mutate    func(m map[string]any)
		wantField string
	}{
		{"missing symbol", func(m map[string]any) { delete(m, "symbol") }, "symbol"},
		{"blank symbol", func(m map[string]any) { m["symbol"] = "   " }, "symbol"},
		{"missing side", func(m map[string]any) { delete(m, "side") }, "side"},
		{"bad side", func(m map[string]any) { m["side"] = "hold" }, "side"},
		{"missing price", func(m map[string]any) { delete(m, "price") }, "price"},
		{"zero price", func(m map[string]any) { m["price"] = json.Number("0") }, "price"},
		{"negative price", func(m map[string]any) { m["price"] = json.Number("-5") }, "price"},
		{"non-numeric price", func(m map[string]any) { m["price"] = "abc" }, "price"},
		{"nan price", func(m map[string]any) { m["price"] = "NaN" }, "price"},
		{"inf price", func(m map[string]any) { m["price"] = "Infinity" }, "price"},
		{"missing quantity", func(m map[string]any) { delete(m, "quantity") }, "quantity"},
		{"zero quantity", func(m map[string]any) { m["quantity"] = json.Number("0") }, "quantity"},
		{"bool quantity", func(m map[string]any) { m["quantity"] = true }, "quantity"},
		{"bad timestamp", func(m map[string]any) { m["submittedAt"] = "yesterday" }, "submittedAt"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := valid()
			tt.mutate(raw)

			_, err := ValidateSubmission(raw, testNow)
			if err == nil {
				t.Fatal("expected validation error, got nil")
			}
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("error type = %T, want *ValidationError", err)
			}
			if ve.Field != tt.wantField {
				t.Fatalf("field = %q, want %q", ve.Field, tt.wantField)
			}
		})
	}
}

func TestValidateSubmissionNormalizes(t *testing.T) {
	o, err := ValidateSubmission(map[string]any{
		"symbol":   "  btc-usd ",
		"side":     "BUY",
		"price":    json.Number("100.50"),
		"quantity": "0.25",
	}, testNow)
	if err != nil {
		t.Fatal(err)
	}

	if o.Symbol != "BTC-USD" {
		t.Errorf("symbol = %q, want BTC-USD", o.Symbol)
	}
	if o.Side != Buy {
		t.Errorf("side = %v, want Buy", o.Side)
	}
	if o.Price.String() != "100.5" {
		t.Errorf("price = %s", o.Price)
	}
	if !o.Remaining.Equal(o.Quantity) {
		t.Errorf("remaining = %s, quantity = %s", o.Remaining, o.Quantity)
	}
	if o.ID == "" {
		t.Error("orderId not generated")
	}
	if o.UserID != "anonymous" {
		t.Errorf("userId = %q, want anonymous", o.UserID)
	}
	if !o.SubmittedAt.Equal(testNow) {
		t.Errorf("submittedAt = %v, want %v", o.SubmittedAt, testNow)
	}
}

func TestValidateSubmissionKeepsCallerFields(t *testing.T) {
	ts := testNow.Add(-time.Minute)
	o, err := ValidateSubmission(map[string]any{
		"symbol":      "ETH-USD",
		"side":        "sell",
		"price":       json.Number("2500"),
		"quantity":    json.Number("1"),
		"orderId":     "client-42",
		"userId":      "alice",
		"submittedAt": ts.Format(time.RFC3339Nano),
	}, testNow)
	if err != nil {
		t.Fatal(err)
	}

	if o.ID != "client-42" {
		t.Errorf("orderId = %q", o.ID)
	}
	if o.UserID != "alice" {
		t.Errorf("userId = %q", o.UserID)
	}
	if !o.SubmittedAt.Equal(ts) {
		t.Errorf("submittedAt = %v, want %v", o.SubmittedAt, ts)
	}
}

func TestValidateSubmissionFloatInput(t *testing.T) {
	// Plain float64 (a decoder without UseNumber) still round-trips to an
	// exact decimal.
	o, err := ValidateSubmission(map[string]any{
		"symbol":   "BTC-USD",
		"side":     "buy",
		"price":    100.1,
		"quantity": 2.0,
	}, testNow)
	if err != nil {
		t.Fatal(err)
	}
	if o.Price.String() != "100.1" {
		t.Errorf("price = %s, want 100.1", o.Price)
	}
}
