package ledger

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coachpo/dcaflow/errs"
)

func TestDepositWithdrawRoundTrip(t *testing.T) {
	l := New()

	before := l.Balance("alice", "STX")
	require.Zero(t, before)

	after, err := l.Deposit("alice", "STX", 2_000_000)
	require.NoError(t, err)
	require.Equal(t, uint64(2_000_000), after)

	after, err = l.Withdraw("alice", "STX", 2_000_000)
	require.NoError(t, err)
	require.Equal(t, before, after)
}

func TestWithdrawInsufficient(t *testing.T) {
	l := New()
	_, err := l.Deposit("alice", "STX", 1_300_000)
	require.NoError(t, err)

	_, err = l.Withdraw("alice", "STX", 2_000_000)
	require.Error(t, err)
	require.Equal(t, errs.CodeInsufficientFunds, errs.CodeOf(err))

	// Failed withdraw leaves the balance untouched.
	require.Equal(t, uint64(1_300_000), l.Balance("alice", "STX"))
}

func TestAbsentEntryReadsZero(t *testing.T) {
	l := New()
	require.Zero(t, l.Balance("nobody", "USDA"))
}

func TestZeroAmountRejected(t *testing.T) {
	l := New()
	_, err := l.Deposit("alice", "STX", 0)
	require.Equal(t, errs.CodeInvalid, errs.CodeOf(err))
	_, err = l.Withdraw("alice", "STX", 0)
	require.Equal(t, errs.CodeInvalid, errs.CodeOf(err))
}

func TestDepositOverflowRejected(t *testing.T) {
	l := New()
	_, err := l.Deposit("alice", "STX", math.MaxUint64-10)
	require.NoError(t, err)

	_, err = l.Deposit("alice", "STX", 11)
	require.Equal(t, errs.CodeInvalid, errs.CodeOf(err))

	// Failed deposit leaves the balance untouched.
	require.Equal(t, uint64(math.MaxUint64-10), l.Balance("alice", "STX"))

	_, err = l.Deposit("alice", "STX", 10)
	require.NoError(t, err)
	require.Equal(t, uint64(math.MaxUint64), l.Balance("alice", "STX"))
}

func TestKeyValidation(t *testing.T) {
	l := New()
	_, err := l.Deposit("", "STX", 10)
	require.Equal(t, errs.CodeInvalid, errs.CodeOf(err))
	_, err = l.Deposit("alice", "  ", 10)
	require.Equal(t, errs.CodeInvalid, errs.CodeOf(err))
}

func TestEntriesAndRestore(t *testing.T) {
	l := New()
	_, err := l.Deposit("alice", "STX", 5)
	require.NoError(t, err)
	_, err = l.Deposit("bob", "USDA", 7)
	require.NoError(t, err)

	entries := l.Entries()
	require.Len(t, entries, 2)

	fresh := New()
	fresh.Restore(entries)
	require.Equal(t, uint64(5), fresh.Balance("alice", "STX"))
	require.Equal(t, uint64(7), fresh.Balance("bob", "USDA"))
}

func TestBalancesNeverNegative(t *testing.T) {
	l := New()
	_, err := l.Deposit("alice", "STX", 100)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, _ = l.Withdraw("alice", "STX", 60)
	}
	// Only the first withdraw can succeed.
	require.Equal(t, uint64(40), l.Balance("alice", "STX"))
}
