// Package ledger maintains per-(owner, asset) balances for the DCA engine.
package ledger

import (
	"math"
	"strings"
	"sync"

	"github.com/coachpo/dcaflow/errs"
)

// Key addresses a single balance entry.
type Key struct {
	Owner string
	Asset string
}

// Validate checks that both key components are present.
func (k Key) Validate() error {
	if strings.TrimSpace(k.Owner) == "" {
		return errs.New("ledger/key", errs.CodeInvalid, errs.WithMessage("owner required"))
	}
	if strings.TrimSpace(k.Asset) == "" {
		return errs.New("ledger/key", errs.CodeInvalid, errs.WithMessage("asset required"))
	}
	return nil
}

// Entry is a point-in-time copy of one balance row.
type Entry struct {
	Owner  string
	Asset  string
	Amount uint64
}

// Ledger is an in-memory balance store. Absent entries read as zero; no entry
// ever goes negative. Mutations are atomic per call.
type Ledger struct {
	mu       sync.RWMutex
	balances map[Key]uint64
}

// New creates an empty ledger.
func New() *Ledger {
	l := new(Ledger)
	l.balances = make(map[Key]uint64)
	return l
}

// Balance returns the current balance for (owner, asset), zero when absent.
func (l *Ledger) Balance(owner, asset string) uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.balances[Key{Owner: owner, Asset: asset}]
}

// Deposit credits the entry and returns the new balance. Amount must be
// positive, and the credited balance must stay representable; a credit that
// would wrap fails without effect.
func (l *Ledger) Deposit(owner, asset string, amount uint64) (uint64, error) {
	key := Key{Owner: owner, Asset: asset}
	if err := key.Validate(); err != nil {
		return 0, err
	}
	if amount == 0 {
		return 0, errs.New("ledger/deposit", errs.CodeInvalid,
			errs.WithMessage("amount must be positive"), errs.WithOwner(owner), errs.WithAsset(asset))
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	current := l.balances[key]
	if current > math.MaxUint64-amount {
		return 0, errs.New("ledger/deposit", errs.CodeInvalid,
			errs.WithMessage("balance would overflow"), errs.WithOwner(owner), errs.WithAsset(asset))
	}
	l.balances[key] = current + amount
	return l.balances[key], nil
}

// Withdraw debits the entry and returns the new balance. Fails without effect
// when the balance is smaller than amount.
func (l *Ledger) Withdraw(owner, asset string, amount uint64) (uint64, error) {
	key := Key{Owner: owner, Asset: asset}
	if err := key.Validate(); err != nil {
		return 0, err
	}
	if amount == 0 {
		return 0, errs.New("ledger/withdraw", errs.CodeInvalid,
			errs.WithMessage("amount must be positive"), errs.WithOwner(owner), errs.WithAsset(asset))
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	current := l.balances[key]
	if current < amount {
		return 0, errs.New("ledger/withdraw", errs.CodeInsufficientFunds,
			errs.WithMessage("balance below requested amount"), errs.WithOwner(owner), errs.WithAsset(asset))
	}
	l.balances[key] = current - amount
	return l.balances[key], nil
}

// Entries returns a copy of every non-zero balance row.
func (l *Ledger) Entries() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	entries := make([]Entry, 0, len(l.balances))
	for key, amount := range l.balances {
		if amount == 0 {
			continue
		}
		entries = append(entries, Entry{Owner: key.Owner, Asset: key.Asset, Amount: amount})
	}
	return entries
}

// Restore seeds the ledger with previously persisted entries. Intended for
// startup hydration only; existing rows with the same key are overwritten.
func (l *Ledger) Restore(entries []Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, entry := range entries {
		if entry.Amount == 0 {
			continue
		}
		l.balances[Key{Owner: entry.Owner, Asset: entry.Asset}] = entry.Amount
	}
}
