package schedule

// IsDue reports whether an execution scheduled for nextExecution is due at
// tick now. The boundary tick itself counts as due.
func IsDue(nextExecution, now uint64) bool {
	return now >= nextExecution
}

// NextAfter computes the earliest next run following an execution (or
// scheduling event) at tick now with the given frequency.
func NextAfter(now, frequency uint64) uint64 {
	return now + frequency
}
