// Package numeric provides exact integer arithmetic helpers used across the engine.
package numeric

import (
	"math"
	"math/big"
)

// BpsDenominator is the basis-point scale used by fee and slippage rates.
const BpsDenominator = 10000

// MulDivFloor returns floor(a*b/c) computed without intermediate overflow.
// The second return is false when the quotient itself does not fit in 64
// bits; the value is zero in that case. c must be non-zero.
func MulDivFloor(a, b, c uint64) (uint64, bool) {
	if c == 0 {
		panic("numeric: division by zero")
	}
	if a == 0 || b == 0 {
		return 0, true
	}
	// Fast path while the product fits in 64 bits.
	if a <= math.MaxUint64/b {
		return a * b / c, true
	}
	prod := new(big.Int).Mul(new(big.Int).SetUint64(a), new(big.Int).SetUint64(b))
	prod.Quo(prod, new(big.Int).SetUint64(c))
	if !prod.IsUint64() {
		return 0, false
	}
	return prod.Uint64(), true
}

// BpsFloor returns floor(amount*rateBps/10000). rateBps must not exceed
// BpsDenominator, which bounds the result by amount.
func BpsFloor(amount, rateBps uint64) uint64 {
	if rateBps > BpsDenominator {
		rateBps = BpsDenominator
	}
	v, _ := MulDivFloor(amount, rateBps, BpsDenominator)
	return v
}

// AddSat returns a+b, saturating at the uint64 maximum instead of wrapping.
func AddSat(a, b uint64) uint64 {
	if a > math.MaxUint64-b {
		return math.MaxUint64
	}
	return a + b
}

// MulSat returns a*b, saturating at the uint64 maximum instead of wrapping.
func MulSat(a, b uint64) uint64 {
	if a == 0 || b == 0 {
		return 0
	}
	if a > math.MaxUint64/b {
		return math.MaxUint64
	}
	return a * b
}
