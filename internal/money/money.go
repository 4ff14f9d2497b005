// Package money provides shared amount parsing and arithmetic for the
// platform.
//
// All amounts are fixed-point decimals handled through shopspring/decimal.
// Float arithmetic is never used for money: capture, payout, and refund of
// the same booking must agree to the cent across retries.
package money

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidAmount   = errors.New("invalid amount")
	ErrInvalidCurrency = errors.New("invalid currency code")
)

// Places is the number of decimal places amounts are quantized to.
const Places = 2

// Parse converts a decimal string (e.g. "100", "49.50") into a positive
// amount quantized to two decimal places. Zero, negative, and malformed
// inputs are rejected.
func Parse(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, ErrInvalidAmount
	}
	if d.Sign() <= 0 {
		return decimal.Zero, ErrInvalidAmount
	}
	return d.Round(Places), nil
}

// Format renders an amount with exactly two decimal places.
func Format(d decimal.Decimal) string {
	return d.StringFixed(Places)
}

// ValidCurrency reports whether code looks like an ISO 4217 currency code
// (three ASCII letters, e.g. "GHS", "USD").
func ValidCurrency(code string) bool {
	if len(code) != 3 {
		return false
	}
	for i := 0; i < 3; i++ {
		c := code[i]
		if c < 'A' || c > 'Z' {
			return false
		}
	}
	return true
}
