package perf

import (
	"math"
	"testing"

	"github.com/coachpo/dcaflow/internal/strategy"
)

func TestAveragePrice(t *testing.T) {
	if got := AveragePrice(strategy.Record{}); got != 0 {
		t.Errorf("empty record average = %d, want 0", got)
	}
	rec := strategy.Record{TotalInvested: 7_000_000, TotalPurchased: 3000}
	if got := AveragePrice(rec); got != 2333 {
		t.Errorf("average = %d, want floored 2333", got)
	}
}

func TestPnLBps(t *testing.T) {
	cases := []struct {
		name     string
		avg, cur uint64
		want     int64
	}{
		{"gain", 2000, 2200, 1000},
		{"loss", 2000, 1800, -1000},
		{"no basis", 0, 2000, 0},
		{"flat", 2000, 2000, 0},
		{"gain truncates", 3000, 3100, 333},
		{"loss truncates independently", 3000, 2900, -333},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := PnLBps(tc.avg, tc.cur); got != tc.want {
				t.Errorf("PnLBps(%d, %d) = %d, want %d", tc.avg, tc.cur, got, tc.want)
			}
		})
	}
}

func TestPnLBpsAsymmetricRounding(t *testing.T) {
	// Magnitudes are floored before the sign is applied, so a gain and a loss
	// of the same price distance have equal absolute bps.
	gain := PnLBps(7, 9)  // floor(2*10000/7) = 2857
	loss := PnLBps(7, 5)  // -floor(2*10000/7) = -2857
	if gain != 2857 || loss != -2857 {
		t.Errorf("expected ±2857, got %d and %d", gain, loss)
	}
}

func TestPnLBpsSaturatesHugeGain(t *testing.T) {
	// floor((max-1)*10000/1) does not fit in 64 bits; the report pins at the
	// int64 maximum instead of wrapping negative.
	if got := PnLBps(1, math.MaxUint64); got != math.MaxInt64 {
		t.Errorf("huge gain = %d, want saturation", got)
	}
	if got := PnLBps(1, math.MaxUint64/2); got <= 0 {
		t.Errorf("large gain must stay positive, got %d", got)
	}
}

func TestCurrentValue(t *testing.T) {
	rec := strategy.Record{TotalPurchased: 950}
	if got := CurrentValue(rec, 2100); got != 1_995_000 {
		t.Errorf("CurrentValue = %d, want 1995000", got)
	}
}

func TestCurrentValueSaturates(t *testing.T) {
	rec := strategy.Record{TotalPurchased: math.MaxUint64 / 2}
	if got := CurrentValue(rec, 3); got != math.MaxUint64 {
		t.Errorf("oversized position = %d, want saturation", got)
	}
}

func TestDescribe(t *testing.T) {
	rec := strategy.Record{
		ID:             3,
		TotalInvested:  4_000_000,
		TotalPurchased: 2000,
		ExecutionsCount: 2,
	}
	report := Describe(rec, 2200)
	if report.AveragePrice != 2000 {
		t.Errorf("average = %d, want 2000", report.AveragePrice)
	}
	if report.PnLBps != 1000 {
		t.Errorf("pnl = %d, want 1000", report.PnLBps)
	}
	if report.CurrentValue != 4_400_000 {
		t.Errorf("value = %d, want 4400000", report.CurrentValue)
	}
	if report.StrategyID != 3 || report.Executions != 2 {
		t.Error("report must carry identity and execution count")
	}
}
