package market

import (
	"context"
	"sync"

	"github.com/coachpo/dcaflow/errs"
)

// MemoryRegistry is an in-memory asset and pair registry used by tests and
// local runs.
type MemoryRegistry struct {
	mu     sync.RWMutex
	assets map[string]bool
	pairs  map[[2]string]Pair
}

// NewMemoryRegistry creates an empty registry.
func NewMemoryRegistry() *MemoryRegistry {
	r := new(MemoryRegistry)
	r.assets = make(map[string]bool)
	r.pairs = make(map[[2]string]Pair)
	return r
}

// AddAsset marks an asset as supported.
func (r *MemoryRegistry) AddAsset(asset string) {
	r.mu.Lock()
	r.assets[asset] = true
	r.mu.Unlock()
}

// AddPair registers a directed trading pair.
func (r *MemoryRegistry) AddPair(pair Pair) {
	r.mu.Lock()
	r.pairs[[2]string{pair.AssetIn, pair.AssetOut}] = pair
	r.mu.Unlock()
}

// IsSupported implements AssetRegistry.
func (r *MemoryRegistry) IsSupported(asset string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.assets[asset]
}

// Pair implements PairRegistry.
func (r *MemoryRegistry) Pair(assetIn, assetOut string) (Pair, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	pair, ok := r.pairs[[2]string{assetIn, assetOut}]
	return pair, ok
}

// MemoryOracle serves prices from a settable in-memory table.
type MemoryOracle struct {
	mu     sync.RWMutex
	prices map[string]uint64
}

// NewMemoryOracle creates an oracle with no quotes.
func NewMemoryOracle() *MemoryOracle {
	o := new(MemoryOracle)
	o.prices = make(map[string]uint64)
	return o
}

// SetPrice publishes a quote for the asset.
func (o *MemoryOracle) SetPrice(asset string, price uint64) {
	o.mu.Lock()
	o.prices[asset] = price
	o.mu.Unlock()
}

// DropPrice removes the quote for the asset, simulating a stale feed.
func (o *MemoryOracle) DropPrice(asset string) {
	o.mu.Lock()
	delete(o.prices, asset)
	o.mu.Unlock()
}

// Price implements Oracle.
func (o *MemoryOracle) Price(_ context.Context, asset string) (uint64, bool, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	price, ok := o.prices[asset]
	return price, ok, nil
}

// NoopTransfer satisfies TokenTransfer for local runs without a token bridge.
type NoopTransfer struct{}

// Transfer implements TokenTransfer.
func (NoopTransfer) Transfer(context.Context, uint64, string, string) error { return nil }

// FailingTransfer always rejects, used to exercise gateway failure paths.
type FailingTransfer struct{}

// Transfer implements TokenTransfer.
func (FailingTransfer) Transfer(context.Context, uint64, string, string) error {
	return errs.New("market/transfer", errs.CodeUnavailable, errs.WithMessage("token bridge rejected transfer"))
}
