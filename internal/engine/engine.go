// Package engine orchestrates strategy executions: admission checks, pricing,
// ledger movements, and strategy record updates as one atomic unit per call.
package engine

import (
	"context"
	"math"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/coachpo/dcaflow/errs"
	"github.com/coachpo/dcaflow/internal/ledger"
	"github.com/coachpo/dcaflow/internal/market"
	"github.com/coachpo/dcaflow/internal/observability"
	"github.com/coachpo/dcaflow/internal/perf"
	"github.com/coachpo/dcaflow/internal/schedule"
	"github.com/coachpo/dcaflow/internal/strategy"
	"github.com/coachpo/dcaflow/internal/swap"
)

// Config carries the platform parameters the controller reads. They are
// written only by the admin surface, never by the engine itself.
type Config struct {
	PlatformAccount    string
	PlatformFeeRateBps uint64
	MaxBatchSize       int
	Paused             bool
}

// Result reports the outcome of one successful execution.
type Result struct {
	StrategyID     uint64 `json:"strategyId"`
	Tick           uint64 `json:"tick"`
	Invested       uint64 `json:"invested"`
	Purchased      uint64 `json:"purchased"`
	ExecutionPrice uint64 `json:"executionPrice"`
	PlatformFee    uint64 `json:"platformFee"`
	ReceiptID      string `json:"receiptId"`
}

// BatchItem pairs one batch entry with its individual outcome.
type BatchItem struct {
	StrategyID uint64  `json:"strategyId"`
	Result     *Result `json:"result,omitempty"`
	Err        error   `json:"-"`
}

// Receipt is the journal row offered to the Recorder after a commit.
type Receipt struct {
	ID             string
	StrategyID     uint64
	Tick           uint64
	Invested       uint64
	Purchased      uint64
	PlatformFee    uint64
	ExecutionPrice uint64
}

// Recorder receives committed state for durable write-through. Implementations
// must tolerate being called after the in-memory commit; failures are logged
// and never unwind engine state.
type Recorder interface {
	RecordExecution(ctx context.Context, receipt Receipt) error
	RecordStrategy(ctx context.Context, record strategy.Record) error
	RecordBalances(ctx context.Context, entries []ledger.Entry) error
}

// NoopRecorder discards all write-through calls.
type NoopRecorder struct{}

// RecordExecution implements Recorder.
func (NoopRecorder) RecordExecution(context.Context, Receipt) error { return nil }

// RecordStrategy implements Recorder.
func (NoopRecorder) RecordStrategy(context.Context, strategy.Record) error { return nil }

// RecordBalances implements Recorder.
func (NoopRecorder) RecordBalances(context.Context, []ledger.Entry) error { return nil }

// Controller coordinates one execution across the strategy store, the balance
// ledger, the swap executor, and the platform fee account.
type Controller struct {
	strategies *strategy.Store
	balances   *ledger.Ledger
	executor   *swap.Executor
	oracle     market.Oracle
	clock      schedule.Clock
	recorder   Recorder

	platformAccount string
	platformFeeBps  uint64
	maxBatch        int
	paused          atomic.Bool

	// execMu serializes executions. The daemon scan and the HTTP execute
	// endpoint share this controller; without the lock two callers can both
	// pass the IsDue and funding checks for one window and commit twice.
	execMu sync.Mutex
}

// NewController wires an execution controller. A nil recorder defaults to the
// no-op write-through.
func NewController(cfg Config, strategies *strategy.Store, balances *ledger.Ledger, executor *swap.Executor, oracle market.Oracle, clock schedule.Clock, recorder Recorder) *Controller {
	if recorder == nil {
		recorder = NoopRecorder{}
	}
	maxBatch := cfg.MaxBatchSize
	if maxBatch <= 0 {
		maxBatch = 20
	}
	c := &Controller{
		strategies:      strategies,
		balances:        balances,
		executor:        executor,
		oracle:          oracle,
		clock:           clock,
		recorder:        recorder,
		platformAccount: cfg.PlatformAccount,
		platformFeeBps:  cfg.PlatformFeeRateBps,
		maxBatch:        maxBatch,
	}
	c.paused.Store(cfg.Paused)
	return c
}

// SetPaused flips the global pause flag. Exposed for the admin surface.
func (c *Controller) SetPaused(paused bool) { c.paused.Store(paused) }

// Paused reports the global pause flag.
func (c *Controller) Paused() bool { return c.paused.Load() }

func (c *Controller) price(ctx context.Context, asset string) (uint64, error) {
	price, ok, err := c.oracle.Price(ctx, asset)
	if err != nil {
		return 0, errs.New("engine/price", errs.CodeOracleUnavailable, errs.WithAsset(asset), errs.WithCause(err))
	}
	if !ok || price == 0 {
		return 0, errs.New("engine/price", errs.CodeOracleUnavailable, errs.WithAsset(asset))
	}
	return price, nil
}

// Execute runs one strategy execution. Preconditions are checked in order and
// the first failure aborts with no effect; effects are applied only after the
// swap output is known, with the single fallible ledger movement first, so a
// failure anywhere leaves no partial state.
func (c *Controller) Execute(ctx context.Context, id uint64) (Result, error) {
	const scope = "engine/execute"
	if c.paused.Load() {
		return Result{}, c.fail(errs.New(scope, errs.CodeNotAuthorized, errs.WithMessage("platform is paused")))
	}
	c.execMu.Lock()
	defer c.execMu.Unlock()
	record, err := c.strategies.Get(id)
	if err != nil {
		return Result{}, c.fail(errs.New(scope, errs.CodeNotFound, errs.WithStrategy(id)))
	}
	if !record.IsActive {
		return Result{}, c.fail(errs.New(scope, errs.CodeStateConflict,
			errs.WithMessage("strategy is not active"), errs.WithStrategy(id)))
	}
	now := c.clock.Now()
	if !schedule.IsDue(record.NextExecution, now) {
		return Result{}, c.fail(errs.New(scope, errs.CodeTooEarly, errs.WithStrategy(id)))
	}
	if c.balances.Balance(record.Owner, record.AssetIn) < record.AmountPerExecution {
		return Result{}, c.fail(errs.New(scope, errs.CodeInsufficientFunds,
			errs.WithStrategy(id), errs.WithOwner(record.Owner), errs.WithAsset(record.AssetIn)))
	}

	priceIn, err := c.price(ctx, record.AssetIn)
	if err != nil {
		return Result{}, c.fail(err)
	}
	priceOut, err := c.price(ctx, record.AssetOut)
	if err != nil {
		return Result{}, c.fail(err)
	}

	// The slippage bound anchors on the full execution amount; the platform
	// fee is carved out of the position, not added on top.
	expectedOut, ok := swap.ExpectedOut(record.AmountPerExecution, priceIn, priceOut)
	if !ok {
		return Result{}, c.fail(errs.New(scope, errs.CodeInvalid,
			errs.WithMessage("swap output exceeds representable range"), errs.WithStrategy(id)))
	}
	minAmountOut := swap.MinAmountOut(expectedOut, record.MaxSlippageBps)
	platformFee := swap.PlatformFee(record.AmountPerExecution, c.platformFeeBps)
	netAmount := record.AmountPerExecution - platformFee

	amountOut, err := c.executor.Execute(ctx, record.AssetIn, record.AssetOut, netAmount, minAmountOut)
	if err != nil {
		return Result{}, c.fail(err)
	}
	if amountOut == 0 {
		return Result{}, c.fail(errs.New(scope, errs.CodeInvalid,
			errs.WithMessage("swap output is zero"), errs.WithStrategy(id)))
	}
	if c.balances.Balance(record.Owner, record.AssetOut) > math.MaxUint64-amountOut {
		return Result{}, c.fail(errs.New(scope, errs.CodeInvalid,
			errs.WithMessage("credit would overflow owner balance"), errs.WithStrategy(id)))
	}
	if platformFee > 0 && c.balances.Balance(c.platformAccount, record.AssetIn) > math.MaxUint64-platformFee {
		return Result{}, c.fail(errs.New(scope, errs.CodeInvalid,
			errs.WithMessage("fee would overflow platform balance"), errs.WithStrategy(id)))
	}

	// Commit. The debit is the only fallible movement and runs first; the
	// funding and capacity preconditions above guarantee every movement
	// succeeds within this call.
	if _, err := c.balances.Withdraw(record.Owner, record.AssetIn, record.AmountPerExecution); err != nil {
		return Result{}, c.fail(err)
	}
	if _, err := c.balances.Deposit(record.Owner, record.AssetOut, amountOut); err != nil {
		return Result{}, c.fail(err)
	}
	if platformFee > 0 {
		if _, err := c.balances.Deposit(c.platformAccount, record.AssetIn, platformFee); err != nil {
			return Result{}, c.fail(err)
		}
	}
	updated, err := c.strategies.ApplyExecution(id, now, netAmount, amountOut)
	if err != nil {
		return Result{}, c.fail(err)
	}

	result := Result{
		StrategyID:     id,
		Tick:           now,
		Invested:       netAmount,
		Purchased:      amountOut,
		ExecutionPrice: netAmount / amountOut,
		PlatformFee:    platformFee,
		ReceiptID:      uuid.NewString(),
	}
	c.commitWriteThrough(ctx, result, updated)

	observability.Log().Info("strategy executed",
		observability.F("strategy", id),
		observability.F("tick", now),
		observability.F("invested", result.Invested),
		observability.F("purchased", result.Purchased))
	observability.Stats().IncCounter("dca_executions_total", 1, map[string]string{"outcome": "success"})
	return result, nil
}

func (c *Controller) fail(err error) error {
	observability.Stats().IncCounter("dca_executions_total", 1, map[string]string{
		"outcome": "failure",
		"code":    string(errs.CodeOf(err)),
	})
	return err
}

func (c *Controller) commitWriteThrough(ctx context.Context, result Result, record strategy.Record) {
	receipt := Receipt{
		ID:             result.ReceiptID,
		StrategyID:     result.StrategyID,
		Tick:           result.Tick,
		Invested:       result.Invested,
		Purchased:      result.Purchased,
		PlatformFee:    result.PlatformFee,
		ExecutionPrice: result.ExecutionPrice,
	}
	if err := c.recorder.RecordExecution(ctx, receipt); err != nil {
		observability.Log().Error("record execution", observability.F("error", err))
	}
	if err := c.recorder.RecordStrategy(ctx, record); err != nil {
		observability.Log().Error("record strategy", observability.F("error", err))
	}
	if err := c.recorder.RecordBalances(ctx, c.balances.Entries()); err != nil {
		observability.Log().Error("record balances", observability.F("error", err))
	}
}

// ExecuteBatch runs up to MaxBatchSize strategies in order. Each id commits or
// fails independently; one failing strategy never unwinds the others.
func (c *Controller) ExecuteBatch(ctx context.Context, ids []uint64) ([]BatchItem, error) {
	if len(ids) == 0 {
		return nil, errs.New("engine/batch", errs.CodeInvalid, errs.WithMessage("empty batch"))
	}
	if len(ids) > c.maxBatch {
		return nil, errs.New("engine/batch", errs.CodeInvalid, errs.WithMessage("batch exceeds size limit"))
	}
	items := make([]BatchItem, 0, len(ids))
	for _, id := range ids {
		result, err := c.Execute(ctx, id)
		if err != nil {
			items = append(items, BatchItem{StrategyID: id, Err: err})
			continue
		}
		res := result
		items = append(items, BatchItem{StrategyID: id, Result: &res})
	}
	return items, nil
}

// Strategy returns the record for id.
func (c *Controller) Strategy(id uint64) (strategy.Record, error) {
	return c.strategies.Get(id)
}

// Balance returns the ledger balance for (owner, asset).
func (c *Controller) Balance(owner, asset string) uint64 {
	return c.balances.Balance(owner, asset)
}

// IsDue reports whether the strategy is eligible to run at the current tick.
func (c *Controller) IsDue(id uint64) (bool, error) {
	record, err := c.strategies.Get(id)
	if err != nil {
		return false, err
	}
	return schedule.IsDue(record.NextExecution, c.clock.Now()), nil
}

// Performance computes the on-demand performance report, pricing the position
// at the oracle quote of the output asset.
func (c *Controller) Performance(ctx context.Context, id uint64) (perf.Report, error) {
	record, err := c.strategies.Get(id)
	if err != nil {
		return perf.Report{}, err
	}
	currentPrice, err := c.price(ctx, record.AssetOut)
	if err != nil {
		return perf.Report{}, err
	}
	return perf.Describe(record, currentPrice), nil
}

// DueStrategies lists ids of active strategies due at the current tick,
// bounded by the batch limit. The daemon feeds these into ExecuteBatch.
func (c *Controller) DueStrategies() []uint64 {
	now := c.clock.Now()
	var due []uint64
	for _, record := range c.strategies.List() {
		if !record.IsActive {
			continue
		}
		if schedule.IsDue(record.NextExecution, now) {
			due = append(due, record.ID)
			if len(due) == c.maxBatch {
				break
			}
		}
	}
	return due
}
