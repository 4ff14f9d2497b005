package escrow

import "github.com/shopspring/decimal"

// Fee computes the platform's cut of a booking price, rounded to two
// decimal places with half-up rounding. The stylist receives the price
// minus this fee; the two always sum to the price exactly.
func Fee(price, rate decimal.Decimal) decimal.Decimal {
	return price.Mul(rate).Round(2)
}
