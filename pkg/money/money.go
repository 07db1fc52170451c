package money

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Amounts in the protocol are non-negative integer token units. Proportional
// splits use floor division: the sum of shares may be strictly less than the
// amount split, and the residual is never redistributed. Products of two
// int64 amounts can overflow, so the intermediate math runs on decimals.

// BasisPointDenominator is the divisor for fee cuts expressed in basis points.
const BasisPointDenominator = 10000

// ProRata returns floor(amount * weight / total). It panics if total is zero;
// callers guarantee a nonzero total (an assignment always has committed stake).
func ProRata(amount, weight, total int64) int64 {
	if total == 0 {
		panic("money: pro-rata with zero total")
	}
	product := decimal.NewFromInt(amount).Mul(decimal.NewFromInt(weight))
	quotient, _ := product.QuoRem(decimal.NewFromInt(total), 0)
	return quotient.IntPart()
}

// SplitProRata splits amount across weights by floor division and returns the
// shares together with the undistributed residual.
func SplitProRata(amount int64, weights []int64) (shares []int64, residual int64) {
	var total int64
	for _, w := range weights {
		total += w
	}
	shares = make([]int64, len(weights))
	var paid int64
	for i, w := range weights {
		shares[i] = ProRata(amount, w, total)
		paid += shares[i]
	}
	return shares, amount - paid
}

// TakeCut splits amount into the remainder and a protocol cut of bps basis
// points. The cut is floored, so the remainder absorbs any rounding.
func TakeCut(amount, bps int64) (net, cut int64) {
	cut = ProRata(amount, bps, BasisPointDenominator)
	return amount - cut, cut
}

// ValidateAmount rejects non-positive amounts.
func ValidateAmount(amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("amount must be positive, got %d", amount)
	}
	return nil
}
