package credit

import (
	"math/big"

	"creditline/crypto"
)

// Market captures the global accounting state for a single lending pool.
// Amount values are denominated in wei and expressed as big integers for
// deterministic precision.
type Market struct {
	// TotalSupplyAssets is the aggregate liquidity credited to suppliers,
	// net of any outstanding markdown.
	TotalSupplyAssets *big.Int `json:"totalSupplyAssets"`
	// TotalSupplyShares is the total of supply shares minted against the
	// pool.
	TotalSupplyShares *big.Int `json:"totalSupplyShares"`
	// TotalBorrowAssets tracks the outstanding debt across all borrowers,
	// including accrued base interest and premiums.
	TotalBorrowAssets *big.Int `json:"totalBorrowAssets"`
	// TotalBorrowShares is the total of borrow shares issued against the
	// pool.
	TotalBorrowShares *big.Int `json:"totalBorrowShares"`
	// LastAccrualTime records the Unix timestamp when base interest was
	// last accrued.
	LastAccrualTime uint64 `json:"lastAccrualTime"`
	// FeeBps defines the share of base interest routed to protocol fees,
	// expressed in basis points.
	FeeBps uint64 `json:"feeBps"`
	// TotalMarkdown is the sum of stored per-borrower markdowns currently
	// subtracted from TotalSupplyAssets.
	TotalMarkdown *big.Int `json:"totalMarkdown"`
	// PaymentCycles is the append-only ordered sequence of billing cycles
	// closed against this market.
	PaymentCycles []PaymentCycle `json:"paymentCycles,omitempty"`
}

// Position maintains the pool position for an individual participant.
type Position struct {
	// Address is the unique account identifier within the ledger.
	Address crypto.Address `json:"address"`
	// SupplyShares is the participant's claim on supplied liquidity.
	SupplyShares *big.Int `json:"supplyShares"`
	// BorrowShares is the participant's share of outstanding pool debt.
	BorrowShares *big.Int `json:"borrowShares"`
	// Collateral is retained for storage compatibility. Credit-line
	// borrowing does not read it.
	Collateral *big.Int `json:"collateral"`
}

// CreditLine records the authority-granted borrowing capacity and risk
// premium for a borrower.
type CreditLine struct {
	Address crypto.Address `json:"address"`
	// Limit is the maximum debt the borrower may carry, in wei.
	Limit *big.Int `json:"limit"`
	// PremiumRatePerSecond is the borrower-specific extra interest rate,
	// WAD-scaled per second, layered on the pool's base rate.
	PremiumRatePerSecond *big.Int `json:"premiumRatePerSecond"`
}

// BorrowerPremium snapshots the inputs needed to accrue a borrower's risk
// premium between touches.
type BorrowerPremium struct {
	Address crypto.Address `json:"address"`
	// LastAccrualTime is the Unix timestamp of the last premium accrual.
	LastAccrualTime uint64 `json:"lastAccrualTime"`
	// RatePerSecond mirrors the credit line's premium rate at the last
	// accrual, WAD-scaled per second.
	RatePerSecond *big.Int `json:"ratePerSecond"`
	// BorrowSnapshot is the borrower's debt in assets at the last accrual;
	// premium interest is simple within each gap and compounds only across
	// successive accrual calls.
	BorrowSnapshot *big.Int `json:"borrowSnapshot"`
}

// PaymentCycle is a single billing period. Entries are append-only and never
// mutated once recorded.
type PaymentCycle struct {
	// EndTime is the Unix timestamp at which the cycle closed.
	EndTime uint64 `json:"endTime"`
}

// RepaymentObligation is the required partial payment posted against a
// borrower for a payment cycle. It is replaced each cycle and deleted once
// fully repaid.
type RepaymentObligation struct {
	Address crypto.Address `json:"address"`
	// CycleID indexes into the market's PaymentCycles sequence.
	CycleID uint64 `json:"cycleId"`
	// AmountDue is the required payment, in wei.
	AmountDue *big.Int `json:"amountDue"`
	// EndingBalance snapshots the borrower's balance at cycle close for
	// penalty math.
	EndingBalance *big.Int `json:"endingBalance"`
}

// MarkdownState caches the latest markdown computed for a defaulted borrower.
// The value is recomputed lazily on touch and may be stale between touches.
type MarkdownState struct {
	Address crypto.Address `json:"address"`
	// LastCalculatedMarkdown is the most recent markdown output, non-zero
	// only while the borrower is in default.
	LastCalculatedMarkdown *big.Int `json:"lastCalculatedMarkdown"`
	// DefaultStartedAt is the computed boundary timestamp at which the
	// borrower entered default, zero otherwise.
	DefaultStartedAt uint64 `json:"defaultStartedAt"`
}

// FeeAccrual captures the in-flight protocol fee total for a market.
type FeeAccrual struct {
	ProtocolFeesWei *big.Int `json:"protocolFeesWei"`
}

// Terms groups the fixed durations of the repayment state machine.
type Terms struct {
	// GraceDuration is the window after a cycle end before a missed
	// obligation turns delinquent, in seconds.
	GraceDuration uint64
	// DelinquencyDuration is the additional window before a delinquent
	// borrower defaults, in seconds.
	DelinquencyDuration uint64
}

// Clone returns a deep copy of the market record.
func (m *Market) Clone() *Market {
	if m == nil {
		return nil
	}
	clone := &Market{
		LastAccrualTime: m.LastAccrualTime,
		FeeBps:          m.FeeBps,
	}
	if m.TotalSupplyAssets != nil {
		clone.TotalSupplyAssets = new(big.Int).Set(m.TotalSupplyAssets)
	}
	if m.TotalSupplyShares != nil {
		clone.TotalSupplyShares = new(big.Int).Set(m.TotalSupplyShares)
	}
	if m.TotalBorrowAssets != nil {
		clone.TotalBorrowAssets = new(big.Int).Set(m.TotalBorrowAssets)
	}
	if m.TotalBorrowShares != nil {
		clone.TotalBorrowShares = new(big.Int).Set(m.TotalBorrowShares)
	}
	if m.TotalMarkdown != nil {
		clone.TotalMarkdown = new(big.Int).Set(m.TotalMarkdown)
	}
	if len(m.PaymentCycles) > 0 {
		clone.PaymentCycles = append([]PaymentCycle(nil), m.PaymentCycles...)
	}
	return clone
}

// Clone returns a deep copy of the position.
func (p *Position) Clone() *Position {
	if p == nil {
		return nil
	}
	clone := &Position{Address: p.Address}
	if p.SupplyShares != nil {
		clone.SupplyShares = new(big.Int).Set(p.SupplyShares)
	}
	if p.BorrowShares != nil {
		clone.BorrowShares = new(big.Int).Set(p.BorrowShares)
	}
	if p.Collateral != nil {
		clone.Collateral = new(big.Int).Set(p.Collateral)
	}
	return clone
}
