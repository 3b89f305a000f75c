// Package money holds the integer currency arithmetic shared by the ledger
// and report workflows. Amounts are int64 values in the smallest currency unit.
package money

import "github.com/shopspring/decimal"

// NationalFundRate is the share of tithes and offerings remitted to the national fund.
var NationalFundRate = decimal.RequireFromString("0.10")

// Percent applies rate to base. The product is rounded half away from zero at
// two decimals and then truncated to a whole currency unit.
func Percent(base int64, rate decimal.Decimal) int64 {
	return decimal.NewFromInt(base).Mul(rate).Round(2).Truncate(0).IntPart()
}

// NationalFundContribution is round2(0.10 * (tithes + offerings)).
func NationalFundContribution(tithes, offerings int64) int64 {
	return Percent(tithes+offerings, NationalFundRate)
}

func Sum(amounts ...int64) int64 {
	var total int64
	for _, a := range amounts {
		total += a
	}
	return total
}

func Abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

// WithinTolerance reports whether |a - b| <= tolerance.
func WithinTolerance(a, b, tolerance int64) bool {
	return Abs(a-b) <= tolerance
}

func Max(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
