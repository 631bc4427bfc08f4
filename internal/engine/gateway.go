package engine

import (
	"context"
	"math"

	"github.com/coachpo/dcaflow/errs"
	"github.com/coachpo/dcaflow/internal/ledger"
	"github.com/coachpo/dcaflow/internal/market"
	"github.com/coachpo/dcaflow/internal/observability"
)

// Gateway wraps ledger deposits and withdrawals with the external token
// transfer capability: tokens move into custody before a deposit is credited
// and out of custody after a withdrawal is debited.
type Gateway struct {
	balances *ledger.Ledger
	transfer market.TokenTransfer
	custody  string
	recorder Recorder
}

// NewGateway constructs the funding gateway. A nil recorder defaults to the
// no-op write-through.
func NewGateway(balances *ledger.Ledger, transfer market.TokenTransfer, custodyAccount string, recorder Recorder) *Gateway {
	if recorder == nil {
		recorder = NoopRecorder{}
	}
	return &Gateway{balances: balances, transfer: transfer, custody: custodyAccount, recorder: recorder}
}

// Deposit pulls tokens into custody and credits the owner's balance. The
// capacity check runs before the inbound transfer so a credit that cannot be
// booked never strands tokens in custody.
func (g *Gateway) Deposit(ctx context.Context, owner, asset string, amount uint64) (uint64, error) {
	if amount == 0 {
		return 0, errs.New("gateway/deposit", errs.CodeInvalid,
			errs.WithMessage("amount must be positive"), errs.WithOwner(owner), errs.WithAsset(asset))
	}
	if g.balances.Balance(owner, asset) > math.MaxUint64-amount {
		return 0, errs.New("gateway/deposit", errs.CodeInvalid,
			errs.WithMessage("balance would overflow"), errs.WithOwner(owner), errs.WithAsset(asset))
	}
	if err := g.transfer.Transfer(ctx, amount, owner, g.custody); err != nil {
		return 0, errs.New("gateway/deposit", errs.CodeUnavailable,
			errs.WithMessage("token transfer failed"), errs.WithOwner(owner), errs.WithAsset(asset), errs.WithCause(err))
	}
	newBalance, err := g.balances.Deposit(owner, asset, amount)
	if err != nil {
		return 0, err
	}
	g.recordBalances(ctx)
	return newBalance, nil
}

// Withdraw debits the owner's balance and pushes tokens back out of custody.
// A failed outbound transfer re-credits the debit so the ledger never loses
// funds it still holds.
func (g *Gateway) Withdraw(ctx context.Context, owner, asset string, amount uint64) (uint64, error) {
	newBalance, err := g.balances.Withdraw(owner, asset, amount)
	if err != nil {
		return 0, err
	}
	if err := g.transfer.Transfer(ctx, amount, g.custody, owner); err != nil {
		if _, crediterr := g.balances.Deposit(owner, asset, amount); crediterr != nil {
			observability.Log().Error("withdraw compensation failed",
				observability.F("owner", owner), observability.F("asset", asset), observability.F("error", crediterr))
		}
		return 0, errs.New("gateway/withdraw", errs.CodeUnavailable,
			errs.WithMessage("token transfer failed"), errs.WithOwner(owner), errs.WithAsset(asset), errs.WithCause(err))
	}
	g.recordBalances(ctx)
	return newBalance, nil
}

func (g *Gateway) recordBalances(ctx context.Context) {
	if err := g.recorder.RecordBalances(ctx, g.balances.Entries()); err != nil {
		observability.Log().Error("record balances", observability.F("error", err))
	}
}
