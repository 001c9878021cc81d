package credit

import (
	"math/big"

	"creditline/core/events"
	"creditline/crypto"
	nativecommon "creditline/native/common"
)

// CloseCycleAndPostObligations appends a new payment cycle ending at endTime
// and posts a repayment obligation for each enrolled borrower. The amount due
// is endingBalance scaled by the borrower's basis-points figure.
func (e *Engine) CloseCycleAndPostObligations(caller crypto.Address, marketID string, endTime uint64, borrowers []crypto.Address, bps []uint64, endingBalances []*big.Int) (uint64, error) {
	if e == nil || e.state == nil {
		return 0, ErrNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return 0, err
	}
	if err := e.requireAuthority(caller); err != nil {
		return 0, err
	}
	if err := validateObligationBatch(borrowers, bps, endingBalances); err != nil {
		return 0, err
	}

	market, err := e.ensureMarket(marketID)
	if err != nil {
		return 0, err
	}
	if n := len(market.PaymentCycles); n > 0 && endTime < market.PaymentCycles[n-1].EndTime {
		return 0, ErrCycleOutOfOrder
	}
	if endTime > e.now() {
		return 0, ErrCycleInFuture
	}

	market.PaymentCycles = append(market.PaymentCycles, PaymentCycle{EndTime: endTime})
	cycleID := uint64(len(market.PaymentCycles) - 1)
	if err := e.state.PutMarket(marketID, market); err != nil {
		return 0, err
	}

	if err := e.postObligations(marketID, cycleID, borrowers, bps, endingBalances); err != nil {
		return 0, err
	}
	return cycleID, nil
}

// AddObligationsToLatestCycle enrolls borrowers mid-cycle against the most
// recently closed cycle.
func (e *Engine) AddObligationsToLatestCycle(caller crypto.Address, marketID string, borrowers []crypto.Address, bps []uint64, endingBalances []*big.Int) (uint64, error) {
	if e == nil || e.state == nil {
		return 0, ErrNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return 0, err
	}
	if err := e.requireAuthority(caller); err != nil {
		return 0, err
	}
	if err := validateObligationBatch(borrowers, bps, endingBalances); err != nil {
		return 0, err
	}

	market, err := e.ensureMarket(marketID)
	if err != nil {
		return 0, err
	}
	if len(market.PaymentCycles) == 0 {
		return 0, ErrNoCycle
	}
	cycleID := uint64(len(market.PaymentCycles) - 1)

	if err := e.postObligations(marketID, cycleID, borrowers, bps, endingBalances); err != nil {
		return 0, err
	}
	return cycleID, nil
}

// PaymentCyclesOf returns the append-only cycle sequence for a market.
func (e *Engine) PaymentCyclesOf(marketID string) ([]PaymentCycle, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	market, err := e.ensureMarket(marketID)
	if err != nil {
		return nil, err
	}
	return append([]PaymentCycle(nil), market.PaymentCycles...), nil
}

// postObligations runs the borrower pipeline for each enrollment and records
// the obligation. Processing is sequential with cost linear in batch size.
func (e *Engine) postObligations(marketID string, cycleID uint64, borrowers []crypto.Address, bps []uint64, endingBalances []*big.Int) error {
	for i, borrower := range borrowers {
		view, err := e.loadBorrower(marketID, borrower)
		if err != nil {
			return err
		}
		amountDue := bpsMul(endingBalances[i], bps[i])
		view.obligation = &RepaymentObligation{
			Address:       borrower,
			CycleID:       cycleID,
			AmountDue:     amountDue,
			EndingBalance: new(big.Int).Set(endingBalances[i]),
		}
		view.dropOblig = false
		if err := e.persistBorrower(marketID, view); err != nil {
			return err
		}
		e.emit(events.CreditObligationPosted{
			Market:        marketID,
			Borrower:      borrower,
			CycleID:       cycleID,
			AmountDue:     amountDue,
			EndingBalance: new(big.Int).Set(endingBalances[i]),
		})
	}
	return nil
}

func validateObligationBatch(borrowers []crypto.Address, bps []uint64, endingBalances []*big.Int) error {
	if len(borrowers) != len(bps) || len(borrowers) != len(endingBalances) {
		return ErrLengthMismatch
	}
	for i, borrower := range borrowers {
		if borrower.IsZero() {
			return ErrZeroAddress
		}
		if bps[i] > 10_000 {
			return ErrInvalidBps
		}
		if endingBalances[i] == nil || endingBalances[i].Sign() < 0 {
			return ErrInvalidAmount
		}
	}
	return nil
}
