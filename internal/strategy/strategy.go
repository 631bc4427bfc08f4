// Package strategy owns DCA strategy records and their lifecycle state machine.
package strategy

// Status names the lifecycle state of a strategy.
type Status string

const (
	// StatusActive marks a strategy eligible for scheduled execution.
	StatusActive Status = "active"
	// StatusPaused marks a strategy whose executions are suspended.
	StatusPaused Status = "paused"
	// StatusCancelled marks a permanently terminated strategy.
	StatusCancelled Status = "cancelled"
)

// Record is one recurring swap plan. All amounts are in the asset's smallest
// unit; all ticks are logical block heights.
type Record struct {
	ID                 uint64 `json:"id"`
	Owner              string `json:"owner"`
	AssetIn            string `json:"assetIn"`
	AssetOut           string `json:"assetOut"`
	AmountPerExecution uint64 `json:"amountPerExecution"`
	Frequency          uint64 `json:"frequency"`
	LastExecution      uint64 `json:"lastExecution"`
	TotalInvested      uint64 `json:"totalInvested"`
	TotalPurchased     uint64 `json:"totalPurchased"`
	ExecutionsCount    uint64 `json:"executionsCount"`
	IsActive           bool   `json:"isActive"`
	Cancelled          bool   `json:"cancelled"`
	MaxSlippageBps     uint64 `json:"maxSlippageBps"`
	CreatedAt          uint64 `json:"createdAt"`
	NextExecution      uint64 `json:"nextExecution"`
}

// Status derives the lifecycle state from the record flags.
func (r Record) Status() Status {
	switch {
	case r.Cancelled:
		return StatusCancelled
	case r.IsActive:
		return StatusActive
	default:
		return StatusPaused
	}
}
