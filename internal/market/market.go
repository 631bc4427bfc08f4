// Package market defines the collaborator capabilities the engine consumes:
// price discovery, asset/pair registries, and token transfer.
package market

import "context"

// Pair describes a registered trading pair.
type Pair struct {
	AssetIn    string
	AssetOut   string
	FeeRateBps uint64
	Active     bool
}

// Oracle supplies integer micro-unit prices for assets. A missing quote is
// reported via ok=false, not an error; err is reserved for transport failures.
type Oracle interface {
	Price(ctx context.Context, asset string) (price uint64, ok bool, err error)
}

// PairRegistry resolves registered trading pairs.
type PairRegistry interface {
	Pair(assetIn, assetOut string) (Pair, bool)
}

// AssetRegistry reports whether an asset is supported by the platform.
type AssetRegistry interface {
	IsSupported(asset string) bool
}

// TokenTransfer moves tokens between custody accounts. It is invoked by the
// deposit/withdraw gateway around ledger updates, never by the engine core.
type TokenTransfer interface {
	Transfer(ctx context.Context, amount uint64, from, to string) error
}
