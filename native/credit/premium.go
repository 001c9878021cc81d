package credit

import (
	"math/big"

	"creditline/core/events"
	"creditline/crypto"
	nativecommon "creditline/native/common"
)

// SetCreditLine grants or re-rates a borrower's credit line. The premium
// accrued under the old rate is settled before the new rate takes effect.
func (e *Engine) SetCreditLine(caller crypto.Address, marketID string, borrower crypto.Address, limit, premiumRatePerSecond *big.Int) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if err := e.requireAuthority(caller); err != nil {
		return err
	}
	if borrower.IsZero() {
		return ErrZeroAddress
	}
	if limit == nil || limit.Sign() < 0 || premiumRatePerSecond == nil || premiumRatePerSecond.Sign() < 0 {
		return ErrInvalidAmount
	}

	view, err := e.loadBorrower(marketID, borrower)
	if err != nil {
		return err
	}

	line, err := e.state.GetCreditLine(marketID, borrower)
	if err != nil {
		return err
	}
	if line == nil {
		line = &CreditLine{Address: borrower}
	}
	line.Limit = new(big.Int).Set(limit)
	line.PremiumRatePerSecond = new(big.Int).Set(premiumRatePerSecond)

	view.premium.RatePerSecond = new(big.Int).Set(premiumRatePerSecond)
	e.resnapshotPremium(view)

	if err := e.state.PutCreditLine(marketID, line); err != nil {
		return err
	}
	if err := e.persistBorrower(marketID, view); err != nil {
		return err
	}
	e.emit(events.CreditLineUpdated{
		Market:      marketID,
		Borrower:    borrower,
		Limit:       new(big.Int).Set(limit),
		PremiumRate: new(big.Int).Set(premiumRatePerSecond),
	})
	return nil
}

// CreditLineOf returns the stored credit line for a borrower, or nil when
// none has been granted.
func (e *Engine) CreditLineOf(marketID string, borrower crypto.Address) (*CreditLine, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	if _, err := e.ensureMarket(marketID); err != nil {
		return nil, err
	}
	return e.state.GetCreditLine(marketID, borrower)
}

// AccrueBorrowerPremium forces a full refresh of one borrower: base interest,
// premium, repayment status, and markdown.
func (e *Engine) AccrueBorrowerPremium(marketID string, borrower crypto.Address) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if borrower.IsZero() {
		return ErrZeroAddress
	}
	view, err := e.loadBorrower(marketID, borrower)
	if err != nil {
		return err
	}
	return e.persistBorrower(marketID, view)
}

// AccruePremiumsForBorrowers refreshes a batch of borrowers sequentially.
// Cost is linear in the batch size; callers bound the batch externally.
func (e *Engine) AccruePremiumsForBorrowers(marketID string, borrowers []crypto.Address) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	for _, borrower := range borrowers {
		if borrower.IsZero() {
			return ErrZeroAddress
		}
	}
	for _, borrower := range borrowers {
		view, err := e.loadBorrower(marketID, borrower)
		if err != nil {
			return err
		}
		if err := e.persistBorrower(marketID, view); err != nil {
			return err
		}
	}
	return nil
}

// accruePremium applies the borrower's risk premium accumulated since the
// last accrual: simple interest on the snapshot within the gap, compounding
// only across successive calls.
func (e *Engine) accruePremium(view *borrowerView) {
	premium := view.premium
	if premium == nil || view.now <= premium.LastAccrualTime {
		return
	}
	elapsed := view.now - premium.LastAccrualTime
	if premium.RatePerSecond.Sign() > 0 && premium.BorrowSnapshot.Sign() > 0 {
		accrued := new(big.Int).Mul(premium.RatePerSecond, new(big.Int).SetUint64(elapsed))
		interest := wMulDown(premium.BorrowSnapshot, accrued)
		if interest.Sign() > 0 {
			market := view.market
			minted := toSharesUp(interest, market.TotalBorrowAssets, market.TotalBorrowShares)
			view.position.BorrowShares = new(big.Int).Add(view.position.BorrowShares, minted)
			market.TotalBorrowAssets = new(big.Int).Add(market.TotalBorrowAssets, interest)
			market.TotalBorrowShares = new(big.Int).Add(market.TotalBorrowShares, minted)
			// Premium interest accrues entirely to suppliers.
			market.TotalSupplyAssets = new(big.Int).Add(market.TotalSupplyAssets, interest)
		}
	}
	e.resnapshotPremium(view)
}

// resnapshotPremium re-bases the premium accrual inputs on the borrower's
// current debt.
func (e *Engine) resnapshotPremium(view *borrowerView) {
	if view == nil || view.premium == nil {
		return
	}
	view.premium.BorrowSnapshot = e.debtAssets(view.position, view.market)
	view.premium.LastAccrualTime = view.now
}
