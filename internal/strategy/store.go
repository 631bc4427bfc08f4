package strategy

import (
	"sort"
	"sync"

	"github.com/coachpo/dcaflow/errs"
	"github.com/coachpo/dcaflow/internal/market"
	"github.com/coachpo/dcaflow/internal/numeric"
	"github.com/coachpo/dcaflow/internal/schedule"
)

// Limits bounds the parameters a strategy may be created or updated with.
type Limits struct {
	MinExecutionAmount uint64
	MaxSlippageBps     uint64
}

// FundingSource reports spendable balances, used to validate funding at
// creation time.
type FundingSource interface {
	Balance(owner, asset string) uint64
}

// Store maps strategy ids to records and enforces the lifecycle state
// machine. Ids are allocated monotonically starting at 1. Records are passed
// by value; the store is the single writer.
type Store struct {
	mu      sync.RWMutex
	records map[uint64]Record
	nextID  uint64

	limits  Limits
	funding FundingSource
	assets  market.AssetRegistry
	pairs   market.PairRegistry
}

// NewStore creates an empty strategy store with the given validation
// collaborators.
func NewStore(limits Limits, funding FundingSource, assets market.AssetRegistry, pairs market.PairRegistry) *Store {
	s := new(Store)
	s.records = make(map[uint64]Record)
	s.nextID = 1
	s.limits = limits
	s.funding = funding
	s.assets = assets
	s.pairs = pairs
	return s
}

func (s *Store) validateBounds(scope string, amount, frequency, maxSlippageBps uint64) error {
	if amount < s.limits.MinExecutionAmount {
		return errs.New(scope, errs.CodeInvalid, errs.WithMessage("amount below execution minimum"))
	}
	if frequency == 0 {
		return errs.New(scope, errs.CodeInvalid, errs.WithMessage("frequency must be positive"))
	}
	if maxSlippageBps > s.limits.MaxSlippageBps {
		return errs.New(scope, errs.CodeInvalid, errs.WithMessage("slippage above permitted ceiling"))
	}
	return nil
}

// Create validates parameters, funding, and pair registration, then inserts a
// new active strategy scheduled for now+frequency. Checks run in order and the
// first violation aborts with its error code.
func (s *Store) Create(owner, assetIn, assetOut string, amount, frequency, maxSlippageBps, now uint64) (Record, error) {
	const scope = "strategy/create"
	if err := s.validateBounds(scope, amount, frequency, maxSlippageBps); err != nil {
		return Record{}, err
	}
	if s.funding.Balance(owner, assetIn) < amount {
		return Record{}, errs.New(scope, errs.CodeInsufficientFunds,
			errs.WithMessage("funding balance below execution amount"), errs.WithOwner(owner), errs.WithAsset(assetIn))
	}
	if !s.assets.IsSupported(assetIn) {
		return Record{}, errs.New(scope, errs.CodeUnsupported, errs.WithAsset(assetIn))
	}
	if !s.assets.IsSupported(assetOut) {
		return Record{}, errs.New(scope, errs.CodeUnsupported, errs.WithAsset(assetOut))
	}
	if pair, ok := s.pairs.Pair(assetIn, assetOut); !ok || !pair.Active {
		return Record{}, errs.New(scope, errs.CodeUnsupported, errs.WithMessage("pair not registered"))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	record := Record{
		ID:                 id,
		Owner:              owner,
		AssetIn:            assetIn,
		AssetOut:           assetOut,
		AmountPerExecution: amount,
		Frequency:          frequency,
		LastExecution:      0,
		TotalInvested:      0,
		TotalPurchased:     0,
		ExecutionsCount:    0,
		IsActive:           true,
		Cancelled:          false,
		MaxSlippageBps:     maxSlippageBps,
		CreatedAt:          now,
		NextExecution:      schedule.NextAfter(now, frequency),
	}
	s.records[id] = record
	return record, nil
}

func (s *Store) authorize(scope string, id uint64, caller string) (Record, error) {
	record, ok := s.records[id]
	if !ok {
		return Record{}, errs.New(scope, errs.CodeNotFound, errs.WithStrategy(id))
	}
	if record.Owner != caller {
		return Record{}, errs.New(scope, errs.CodeNotAuthorized, errs.WithStrategy(id), errs.WithOwner(caller))
	}
	return record, nil
}

// Toggle flips the active flag and returns the updated record. Cancelled
// strategies cannot be resumed.
func (s *Store) Toggle(id uint64, caller string) (Record, error) {
	const scope = "strategy/toggle"
	s.mu.Lock()
	defer s.mu.Unlock()
	record, err := s.authorize(scope, id, caller)
	if err != nil {
		return Record{}, err
	}
	if record.Cancelled {
		return Record{}, errs.New(scope, errs.CodeStateConflict,
			errs.WithMessage("strategy is cancelled"), errs.WithStrategy(id))
	}
	record.IsActive = !record.IsActive
	s.records[id] = record
	return record, nil
}

// Update replaces the execution parameters of a paused strategy and resets its
// schedule to now+newFrequency. Active and cancelled strategies reject updates.
func (s *Store) Update(id uint64, caller string, newAmount, newFrequency, newMaxSlippageBps, now uint64) (Record, error) {
	const scope = "strategy/update"
	s.mu.Lock()
	defer s.mu.Unlock()
	record, err := s.authorize(scope, id, caller)
	if err != nil {
		return Record{}, err
	}
	if record.Cancelled {
		return Record{}, errs.New(scope, errs.CodeStateConflict,
			errs.WithMessage("strategy is cancelled"), errs.WithStrategy(id))
	}
	if record.IsActive {
		return Record{}, errs.New(scope, errs.CodeStateConflict,
			errs.WithMessage("pause the strategy before updating"), errs.WithStrategy(id))
	}
	if err := s.validateBounds(scope, newAmount, newFrequency, newMaxSlippageBps); err != nil {
		return Record{}, err
	}
	record.AmountPerExecution = newAmount
	record.Frequency = newFrequency
	record.MaxSlippageBps = newMaxSlippageBps
	record.NextExecution = schedule.NextAfter(now, newFrequency)
	s.records[id] = record
	return record, nil
}

// Cancel permanently deactivates the strategy. The record and its accumulated
// history stay readable, and any funded ledger balances remain untouched.
// Cancelling an already-cancelled strategy re-asserts the terminal state.
func (s *Store) Cancel(id uint64, caller string) (Record, error) {
	const scope = "strategy/cancel"
	s.mu.Lock()
	defer s.mu.Unlock()
	record, err := s.authorize(scope, id, caller)
	if err != nil {
		return Record{}, err
	}
	record.IsActive = false
	record.Cancelled = true
	s.records[id] = record
	return record, nil
}

// Get returns a copy of the record for id.
func (s *Store) Get(id uint64) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[id]
	if !ok {
		return Record{}, errs.New("strategy/get", errs.CodeNotFound, errs.WithStrategy(id))
	}
	return record, nil
}

// List returns copies of all records ordered by id.
func (s *Store) List() []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Record, 0, len(s.records))
	for _, record := range s.records {
		out = append(out, record)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ApplyExecution records a successful execution at tick now. Totals only ever
// grow, saturating at the uint64 maximum rather than wrapping; the schedule is
// re-anchored at now+frequency.
func (s *Store) ApplyExecution(id, now, invested, purchased uint64) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[id]
	if !ok {
		return Record{}, errs.New("strategy/apply-execution", errs.CodeNotFound, errs.WithStrategy(id))
	}
	record.LastExecution = now
	record.TotalInvested = numeric.AddSat(record.TotalInvested, invested)
	record.TotalPurchased = numeric.AddSat(record.TotalPurchased, purchased)
	record.ExecutionsCount++
	record.NextExecution = schedule.NextAfter(now, record.Frequency)
	s.records[id] = record
	return record, nil
}

// Restore seeds the store with persisted records and re-arms the id counter.
// Intended for startup hydration only.
func (s *Store) Restore(records []Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, record := range records {
		if record.ID == 0 {
			continue
		}
		s.records[record.ID] = record
		if record.ID >= s.nextID {
			s.nextID = record.ID + 1
		}
	}
}
