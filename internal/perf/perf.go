// Package perf derives cost-basis and profit metrics from a strategy's
// accumulated totals. All functions are pure and read-only.
package perf

import (
	"math"

	"github.com/coachpo/dcaflow/internal/numeric"
	"github.com/coachpo/dcaflow/internal/strategy"
)

// AveragePrice returns the floored average cost basis, zero before the first
// purchase.
func AveragePrice(record strategy.Record) uint64 {
	if record.TotalPurchased == 0 {
		return 0
	}
	return record.TotalInvested / record.TotalPurchased
}

// PnLBps returns unrealized profit or loss in basis points relative to the
// average purchase price. Each branch floors the magnitude before the sign is
// applied, so gains and losses truncate independently rather than through a
// single signed division. Magnitudes beyond int64 saturate; this is a
// reporting figure, never an accounting input.
func PnLBps(avgPrice, currentPrice uint64) int64 {
	if avgPrice == 0 {
		return 0
	}
	if currentPrice >= avgPrice {
		return bpsMagnitude(currentPrice-avgPrice, avgPrice)
	}
	return -bpsMagnitude(avgPrice-currentPrice, avgPrice)
}

func bpsMagnitude(diff, avgPrice uint64) int64 {
	v, ok := numeric.MulDivFloor(diff, numeric.BpsDenominator, avgPrice)
	if !ok || v > math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(v)
}

// CurrentValue prices the accumulated position at the current quote,
// saturating rather than wrapping when the position is too large to value.
func CurrentValue(record strategy.Record, currentPrice uint64) uint64 {
	return numeric.MulSat(record.TotalPurchased, currentPrice)
}

// Report bundles the on-demand performance view of one strategy.
type Report struct {
	StrategyID     uint64 `json:"strategyId"`
	AveragePrice   uint64 `json:"averagePrice"`
	CurrentPrice   uint64 `json:"currentPrice"`
	PnLBps         int64  `json:"pnlBps"`
	CurrentValue   uint64 `json:"currentValue"`
	TotalInvested  uint64 `json:"totalInvested"`
	TotalPurchased uint64 `json:"totalPurchased"`
	Executions     uint64 `json:"executions"`
}

// Describe computes the full performance report for a record at the given
// current price.
func Describe(record strategy.Record, currentPrice uint64) Report {
	avg := AveragePrice(record)
	return Report{
		StrategyID:     record.ID,
		AveragePrice:   avg,
		CurrentPrice:   currentPrice,
		PnLBps:         PnLBps(avg, currentPrice),
		CurrentValue:   CurrentValue(record, currentPrice),
		TotalInvested:  record.TotalInvested,
		TotalPurchased: record.TotalPurchased,
		Executions:     record.ExecutionsCount,
	}
}
