package postgres

import (
	"fmt"
	"math"
)

// asBigint narrows an engine amount into a Postgres BIGINT, rejecting values
// the column cannot hold.
func asBigint(v uint64) (int64, error) {
	if v > math.MaxInt64 {
		return 0, fmt.Errorf("value %d overflows bigint", v)
	}
	return int64(v), nil
}

// fromBigint widens a BIGINT column back into an engine amount. Negative rows
// indicate corruption and are rejected.
func fromBigint(v int64) (uint64, error) {
	if v < 0 {
		return 0, fmt.Errorf("negative value %d in unsigned column", v)
	}
	return uint64(v), nil
}
