package numeric

import (
	"math"
	"testing"
)

func TestMulDivFloor(t *testing.T) {
	cases := []struct {
		name    string
		a, b, c uint64
		want    uint64
	}{
		{"exact", 10, 4, 2, 20},
		{"truncates", 7, 3, 2, 10},
		{"zero operand", 0, 99, 7, 0},
		{"identity", 123456789, 1, 1, 123456789},
		{"overflow path", math.MaxUint64 / 2, 4, 8, (math.MaxUint64 / 2) / 2},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := MulDivFloor(tc.a, tc.b, tc.c)
			if !ok {
				t.Fatalf("MulDivFloor(%d,%d,%d) reported overflow", tc.a, tc.b, tc.c)
			}
			if got != tc.want {
				t.Errorf("MulDivFloor(%d,%d,%d) = %d, want %d", tc.a, tc.b, tc.c, got, tc.want)
			}
		})
	}
}

func TestMulDivFloorReportsUnrepresentableQuotient(t *testing.T) {
	cases := []struct {
		name    string
		a, b, c uint64
	}{
		{"huge product tiny divisor", 10_000_000_000, 1_000_000_000_000, 1},
		{"max times max", math.MaxUint64, math.MaxUint64, 2},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := MulDivFloor(tc.a, tc.b, tc.c)
			if ok {
				t.Fatalf("MulDivFloor(%d,%d,%d) = %d, expected overflow report", tc.a, tc.b, tc.c, got)
			}
			if got != 0 {
				t.Errorf("overflowed quotient must return 0, got %d", got)
			}
		})
	}
}

func TestMulDivFloorPanicsOnZeroDivisor(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic for zero divisor")
		}
	}()
	MulDivFloor(1, 1, 0)
}

func TestBpsFloor(t *testing.T) {
	if got := BpsFloor(1_000_000, 50); got != 5000 {
		t.Errorf("BpsFloor(1000000, 50) = %d, want 5000", got)
	}
	if got := BpsFloor(1000, 500); got != 50 {
		t.Errorf("BpsFloor(1000, 500) = %d, want 50", got)
	}
	if got := BpsFloor(999, 1); got != 0 {
		t.Errorf("BpsFloor(999, 1) = %d, want 0", got)
	}
	// Out-of-range rates clamp to the full amount rather than overflowing.
	if got := BpsFloor(math.MaxUint64, 20_000); got != math.MaxUint64 {
		t.Errorf("BpsFloor with clamped rate = %d, want max", got)
	}
}

func TestAddSat(t *testing.T) {
	if got := AddSat(1, 2); got != 3 {
		t.Errorf("AddSat(1,2) = %d, want 3", got)
	}
	if got := AddSat(math.MaxUint64-1, 5); got != math.MaxUint64 {
		t.Errorf("AddSat near max = %d, want saturation", got)
	}
}

func TestMulSat(t *testing.T) {
	if got := MulSat(3, 4); got != 12 {
		t.Errorf("MulSat(3,4) = %d, want 12", got)
	}
	if got := MulSat(0, math.MaxUint64); got != 0 {
		t.Errorf("MulSat with zero = %d, want 0", got)
	}
	if got := MulSat(math.MaxUint64/2, 3); got != math.MaxUint64 {
		t.Errorf("MulSat overflow = %d, want saturation", got)
	}
}
