package credit

import (
	"creditline/crypto"
)

// RepaymentStatus classifies a borrower's standing against their open
// obligation. It is derived, never stored: a pure function of the current
// time, the obligation's cycle end date, and the configured grace and
// delinquency durations.
type RepaymentStatus uint8

const (
	// StatusCurrent means no obligation is open, or the amount due is zero.
	StatusCurrent RepaymentStatus = iota
	// StatusGracePeriod means an obligation is outstanding but the grace
	// window after the cycle end has not elapsed.
	StatusGracePeriod
	// StatusDelinquent means the grace window has passed without full
	// repayment.
	StatusDelinquent
	// StatusDefault means the delinquency window has also passed.
	StatusDefault
)

func (s RepaymentStatus) String() string {
	switch s {
	case StatusCurrent:
		return "current"
	case StatusGracePeriod:
		return "grace_period"
	case StatusDelinquent:
		return "delinquent"
	case StatusDefault:
		return "default"
	default:
		return "unknown"
	}
}

// statusAt derives the repayment status and its start timestamp at the given
// instant. With cycle end T, grace g, and delinquency d the borrower is in
// grace for now <= T+g, delinquent for T+g < now <= T+g+d, and defaulted
// beyond that while the obligation remains unpaid.
func (e *Engine) statusAt(obligation *RepaymentObligation, cycles []PaymentCycle, now uint64) (RepaymentStatus, uint64) {
	if obligation == nil || obligation.AmountDue == nil || obligation.AmountDue.Sign() == 0 {
		return StatusCurrent, 0
	}
	if obligation.CycleID >= uint64(len(cycles)) {
		return StatusCurrent, 0
	}
	cycleEnd := cycles[obligation.CycleID].EndTime
	graceEnd := cycleEnd + e.terms.GraceDuration
	delinquencyEnd := graceEnd + e.terms.DelinquencyDuration
	switch {
	case now <= graceEnd:
		return StatusGracePeriod, cycleEnd
	case now <= delinquencyEnd:
		return StatusDelinquent, graceEnd
	default:
		return StatusDefault, delinquencyEnd
	}
}

// RepaymentStatusOf reports the borrower's derived status and its start
// timestamp. The read is pure: it never accrues, recomputes markdown, or
// emits events.
func (e *Engine) RepaymentStatusOf(marketID string, borrower crypto.Address) (RepaymentStatus, uint64, error) {
	if e == nil || e.state == nil {
		return StatusCurrent, 0, ErrNilState
	}
	market, err := e.ensureMarket(marketID)
	if err != nil {
		return StatusCurrent, 0, err
	}
	obligation, err := e.state.GetObligation(marketID, borrower)
	if err != nil {
		return StatusCurrent, 0, err
	}
	status, start := e.statusAt(obligation, market.PaymentCycles, e.now())
	return status, start, nil
}

// RepaymentObligationOf returns the stored obligation for a borrower, or nil
// when none is open.
func (e *Engine) RepaymentObligationOf(marketID string, borrower crypto.Address) (*RepaymentObligation, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	if _, err := e.ensureMarket(marketID); err != nil {
		return nil, err
	}
	return e.state.GetObligation(marketID, borrower)
}
