package engine

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coachpo/dcaflow/errs"
	"github.com/coachpo/dcaflow/internal/ledger"
	"github.com/coachpo/dcaflow/internal/market"
)

func TestGatewayDepositWithdraw(t *testing.T) {
	balances := ledger.New()
	gw := NewGateway(balances, market.NoopTransfer{}, "custody", nil)

	after, err := gw.Deposit(context.Background(), alice, assetSTX, 3_000_000)
	require.NoError(t, err)
	require.Equal(t, uint64(3_000_000), after)

	after, err = gw.Withdraw(context.Background(), alice, assetSTX, 1_000_000)
	require.NoError(t, err)
	require.Equal(t, uint64(2_000_000), after)
}

func TestGatewayDepositTransferFailure(t *testing.T) {
	balances := ledger.New()
	gw := NewGateway(balances, market.FailingTransfer{}, "custody", nil)

	_, err := gw.Deposit(context.Background(), alice, assetSTX, 3_000_000)
	require.Equal(t, errs.CodeUnavailable, errs.CodeOf(err))
	require.Zero(t, balances.Balance(alice, assetSTX))
}

func TestGatewayWithdrawTransferFailureCompensates(t *testing.T) {
	balances := ledger.New()
	_, err := balances.Deposit(alice, assetSTX, 3_000_000)
	require.NoError(t, err)
	gw := NewGateway(balances, market.FailingTransfer{}, "custody", nil)

	_, err = gw.Withdraw(context.Background(), alice, assetSTX, 1_000_000)
	require.Equal(t, errs.CodeUnavailable, errs.CodeOf(err))
	// The debit is rolled back when the outbound transfer fails.
	require.Equal(t, uint64(3_000_000), balances.Balance(alice, assetSTX))
}

type countingTransfer struct{ calls int }

func (c *countingTransfer) Transfer(context.Context, uint64, string, string) error {
	c.calls++
	return nil
}

func TestGatewayDepositOverflowRejectedBeforeTransfer(t *testing.T) {
	balances := ledger.New()
	_, err := balances.Deposit(alice, assetSTX, math.MaxUint64-10)
	require.NoError(t, err)
	transfer := &countingTransfer{}
	gw := NewGateway(balances, transfer, "custody", nil)

	// The credit cannot be booked, so no tokens may move into custody.
	_, err = gw.Deposit(context.Background(), alice, assetSTX, 11)
	require.Equal(t, errs.CodeInvalid, errs.CodeOf(err))
	require.Zero(t, transfer.calls)
	require.Equal(t, uint64(math.MaxUint64-10), balances.Balance(alice, assetSTX))
}

func TestGatewayWithdrawInsufficient(t *testing.T) {
	balances := ledger.New()
	gw := NewGateway(balances, market.NoopTransfer{}, "custody", nil)

	_, err := gw.Withdraw(context.Background(), alice, assetSTX, 1)
	require.Equal(t, errs.CodeInsufficientFunds, errs.CodeOf(err))
}
