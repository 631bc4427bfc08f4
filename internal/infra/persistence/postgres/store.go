// Package postgres persists committed engine state as a write-through
// snapshot: strategy records, balance rows, and an execution receipt journal.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/coachpo/dcaflow/internal/engine"
	"github.com/coachpo/dcaflow/internal/ledger"
	"github.com/coachpo/dcaflow/internal/strategy"
)

// Store implements engine.Recorder on top of a pgx pool and loads persisted
// state for startup hydration. The in-memory engine stays authoritative;
// failures here never unwind committed engine state.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore constructs a Store backed by the provided pgx pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) ensurePool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, fmt.Errorf("postgres store: nil pool")
	}
	return s.pool, nil
}

// RecordExecution appends one receipt to the execution journal.
func (s *Store) RecordExecution(ctx context.Context, receipt engine.Receipt) error {
	pool, err := s.ensurePool()
	if err != nil {
		return err
	}
	strategyID, err := asBigint(receipt.StrategyID)
	if err != nil {
		return fmt.Errorf("postgres store: receipt strategy id: %w", err)
	}
	tick, err := asBigint(receipt.Tick)
	if err != nil {
		return fmt.Errorf("postgres store: receipt tick: %w", err)
	}
	invested, err := asBigint(receipt.Invested)
	if err != nil {
		return fmt.Errorf("postgres store: receipt invested: %w", err)
	}
	purchased, err := asBigint(receipt.Purchased)
	if err != nil {
		return fmt.Errorf("postgres store: receipt purchased: %w", err)
	}
	fee, err := asBigint(receipt.PlatformFee)
	if err != nil {
		return fmt.Errorf("postgres store: receipt fee: %w", err)
	}
	price, err := asBigint(receipt.ExecutionPrice)
	if err != nil {
		return fmt.Errorf("postgres store: receipt price: %w", err)
	}

	const insertReceipt = `
INSERT INTO dca_executions (receipt_id, strategy_id, tick, invested, purchased, platform_fee, execution_price)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (receipt_id) DO NOTHING`
	if _, err := pool.Exec(ctx, insertReceipt, receipt.ID, strategyID, tick, invested, purchased, fee, price); err != nil {
		return fmt.Errorf("postgres store: insert receipt: %w", err)
	}
	return nil
}

// RecordStrategy upserts the strategy snapshot row.
func (s *Store) RecordStrategy(ctx context.Context, record strategy.Record) error {
	pool, err := s.ensurePool()
	if err != nil {
		return err
	}
	cols, err := strategyColumns(record)
	if err != nil {
		return err
	}

	const upsertStrategy = `
INSERT INTO dca_strategies (
    id, owner, asset_in, asset_out, amount_per_execution, frequency,
    last_execution, total_invested, total_purchased, executions_count,
    is_active, cancelled, max_slippage_bps, created_at_tick, next_execution, updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, now())
ON CONFLICT (id) DO UPDATE SET
    amount_per_execution = EXCLUDED.amount_per_execution,
    frequency = EXCLUDED.frequency,
    last_execution = EXCLUDED.last_execution,
    total_invested = EXCLUDED.total_invested,
    total_purchased = EXCLUDED.total_purchased,
    executions_count = EXCLUDED.executions_count,
    is_active = EXCLUDED.is_active,
    cancelled = EXCLUDED.cancelled,
    max_slippage_bps = EXCLUDED.max_slippage_bps,
    next_execution = EXCLUDED.next_execution,
    updated_at = now()`
	if _, err := pool.Exec(ctx, upsertStrategy, cols...); err != nil {
		return fmt.Errorf("postgres store: upsert strategy: %w", err)
	}
	return nil
}

func strategyColumns(record strategy.Record) ([]any, error) {
	id, err := asBigint(record.ID)
	if err != nil {
		return nil, fmt.Errorf("postgres store: strategy id: %w", err)
	}
	fields := []struct {
		name  string
		value uint64
	}{
		{"amount", record.AmountPerExecution},
		{"frequency", record.Frequency},
		{"last execution", record.LastExecution},
		{"total invested", record.TotalInvested},
		{"total purchased", record.TotalPurchased},
		{"executions count", record.ExecutionsCount},
		{"max slippage", record.MaxSlippageBps},
		{"created at", record.CreatedAt},
		{"next execution", record.NextExecution},
	}
	narrowed := make([]int64, len(fields))
	for i, f := range fields {
		v, err := asBigint(f.value)
		if err != nil {
			return nil, fmt.Errorf("postgres store: strategy %s: %w", f.name, err)
		}
		narrowed[i] = v
	}
	return []any{
		id, record.Owner, record.AssetIn, record.AssetOut, narrowed[0], narrowed[1],
		narrowed[2], narrowed[3], narrowed[4], narrowed[5],
		record.IsActive, record.Cancelled, narrowed[6], narrowed[7], narrowed[8],
	}, nil
}

// RecordBalances replaces the balance snapshot with the provided entries.
func (s *Store) RecordBalances(ctx context.Context, entries []ledger.Entry) error {
	pool, err := s.ensurePool()
	if err != nil {
		return err
	}
	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres store: begin balances: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM dca_balances`); err != nil {
		return fmt.Errorf("postgres store: clear balances: %w", err)
	}
	const insertBalance = `INSERT INTO dca_balances (owner, asset, amount, updated_at) VALUES ($1, $2, $3, now())`
	for _, entry := range entries {
		amount, err := asBigint(entry.Amount)
		if err != nil {
			return fmt.Errorf("postgres store: balance amount: %w", err)
		}
		if _, err := tx.Exec(ctx, insertBalance, entry.Owner, entry.Asset, amount); err != nil {
			return fmt.Errorf("postgres store: insert balance: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres store: commit balances: %w", err)
	}
	return nil
}

// LoadStrategies returns all persisted strategy records ordered by id.
func (s *Store) LoadStrategies(ctx context.Context) ([]strategy.Record, error) {
	pool, err := s.ensurePool()
	if err != nil {
		return nil, err
	}
	const selectStrategies = `
SELECT id, owner, asset_in, asset_out, amount_per_execution, frequency,
       last_execution, total_invested, total_purchased, executions_count,
       is_active, cancelled, max_slippage_bps, created_at_tick, next_execution
FROM dca_strategies ORDER BY id`
	rows, err := pool.Query(ctx, selectStrategies)
	if err != nil {
		return nil, fmt.Errorf("postgres store: select strategies: %w", err)
	}
	defer rows.Close()

	var records []strategy.Record
	for rows.Next() {
		var raw [9]int64
		var id int64
		var record strategy.Record
		if err := rows.Scan(&id, &record.Owner, &record.AssetIn, &record.AssetOut,
			&raw[0], &raw[1], &raw[2], &raw[3], &raw[4], &raw[5],
			&record.IsActive, &record.Cancelled, &raw[6], &raw[7], &raw[8]); err != nil {
			return nil, fmt.Errorf("postgres store: scan strategy: %w", err)
		}
		widened := make([]uint64, len(raw))
		for i, v := range raw {
			w, err := fromBigint(v)
			if err != nil {
				return nil, fmt.Errorf("postgres store: strategy column: %w", err)
			}
			widened[i] = w
		}
		recordID, err := fromBigint(id)
		if err != nil {
			return nil, fmt.Errorf("postgres store: strategy id: %w", err)
		}
		record.ID = recordID
		record.AmountPerExecution = widened[0]
		record.Frequency = widened[1]
		record.LastExecution = widened[2]
		record.TotalInvested = widened[3]
		record.TotalPurchased = widened[4]
		record.ExecutionsCount = widened[5]
		record.MaxSlippageBps = widened[6]
		record.CreatedAt = widened[7]
		record.NextExecution = widened[8]
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres store: iterate strategies: %w", err)
	}
	return records, nil
}

// LoadBalances returns all persisted balance entries.
func (s *Store) LoadBalances(ctx context.Context) ([]ledger.Entry, error) {
	pool, err := s.ensurePool()
	if err != nil {
		return nil, err
	}
	rows, err := pool.Query(ctx, `SELECT owner, asset, amount FROM dca_balances`)
	if err != nil {
		return nil, fmt.Errorf("postgres store: select balances: %w", err)
	}
	defer rows.Close()

	var entries []ledger.Entry
	for rows.Next() {
		var entry ledger.Entry
		var amount int64
		if err := rows.Scan(&entry.Owner, &entry.Asset, &amount); err != nil {
			return nil, fmt.Errorf("postgres store: scan balance: %w", err)
		}
		widened, err := fromBigint(amount)
		if err != nil {
			return nil, fmt.Errorf("postgres store: balance amount: %w", err)
		}
		entry.Amount = widened
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres store: iterate balances: %w", err)
	}
	return entries, nil
}

// ExecutionCount reports how many receipts exist for a strategy.
func (s *Store) ExecutionCount(ctx context.Context, strategyID uint64) (int64, error) {
	pool, err := s.ensurePool()
	if err != nil {
		return 0, err
	}
	id, err := asBigint(strategyID)
	if err != nil {
		return 0, err
	}
	var count int64
	row := pool.QueryRow(ctx, `SELECT count(*) FROM dca_executions WHERE strategy_id = $1`, id)
	if err := row.Scan(&count); err != nil {
		if err == pgx.ErrNoRows {
			return 0, nil
		}
		return 0, fmt.Errorf("postgres store: count executions: %w", err)
	}
	return count, nil
}
