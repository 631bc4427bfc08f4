// Package swap computes expected output, fees, and slippage bounds for one
// token swap, and enforces the slippage bound against oracle pricing.
package swap

import (
	"context"

	"github.com/coachpo/dcaflow/errs"
	"github.com/coachpo/dcaflow/internal/market"
	"github.com/coachpo/dcaflow/internal/numeric"
)

// ExpectedOut converts amountIn priced at priceIn into the output asset priced
// at priceOut, rounding down. priceOut must be non-zero. The second return is
// false when the converted amount does not fit in 64 bits; oracle-supplied
// prices make that reachable, so callers must reject rather than truncate.
func ExpectedOut(amountIn, priceIn, priceOut uint64) (uint64, bool) {
	return numeric.MulDivFloor(amountIn, priceIn, priceOut)
}

// MinAmountOut returns the smallest acceptable swap output given the expected
// output and the permitted slippage.
func MinAmountOut(expectedOut, maxSlippageBps uint64) uint64 {
	return expectedOut - numeric.BpsFloor(expectedOut, maxSlippageBps)
}

// PlatformFee returns the operator's cut of the input amount.
func PlatformFee(amount, feeRateBps uint64) uint64 {
	return numeric.BpsFloor(amount, feeRateBps)
}

// Executor prices a single swap via the oracle and pair registry and rejects
// executions whose output falls below the caller's minimum.
type Executor struct {
	oracle market.Oracle
	pairs  market.PairRegistry
}

// NewExecutor wires an executor with its pricing collaborators.
func NewExecutor(oracle market.Oracle, pairs market.PairRegistry) *Executor {
	return &Executor{oracle: oracle, pairs: pairs}
}

func (e *Executor) price(ctx context.Context, asset string) (uint64, error) {
	price, ok, err := e.oracle.Price(ctx, asset)
	if err != nil {
		return 0, errs.New("swap/price", errs.CodeOracleUnavailable, errs.WithAsset(asset), errs.WithCause(err))
	}
	if !ok || price == 0 {
		return 0, errs.New("swap/price", errs.CodeOracleUnavailable, errs.WithAsset(asset))
	}
	return price, nil
}

// Execute computes the output for swapping amountIn of assetIn into assetOut
// and fails with slippage_exceeded when it cannot deliver minAmountOut.
// amountIn is expected to already be net of the platform fee.
func (e *Executor) Execute(ctx context.Context, assetIn, assetOut string, amountIn, minAmountOut uint64) (uint64, error) {
	const scope = "swap/execute"
	pair, ok := e.pairs.Pair(assetIn, assetOut)
	if !ok || !pair.Active {
		return 0, errs.New(scope, errs.CodeUnsupported, errs.WithMessage("pair not registered"))
	}
	priceIn, err := e.price(ctx, assetIn)
	if err != nil {
		return 0, err
	}
	priceOut, err := e.price(ctx, assetOut)
	if err != nil {
		return 0, err
	}

	expectedOut, ok := ExpectedOut(amountIn, priceIn, priceOut)
	if !ok {
		return 0, errs.New(scope, errs.CodeInvalid,
			errs.WithMessage("swap output exceeds representable range"))
	}
	dexFee := numeric.BpsFloor(expectedOut, pair.FeeRateBps)
	amountOut := expectedOut - dexFee
	if amountOut < minAmountOut {
		return 0, errs.New(scope, errs.CodeSlippageExceeded,
			errs.WithMessage("swap output below acceptable minimum"))
	}
	return amountOut, nil
}
