package credit

import (
	"math/big"

	"creditline/core/events"
	"creditline/crypto"
	nativecommon "creditline/native/common"
)

// SettleAccount terminally clears a borrower's debt with the covering funds
// the authority provides. Funds are applied as repayment up to the full debt;
// any remainder is written off against the pool. The repaid and written-off
// amounts are returned and always sum to the debt at settlement time.
func (e *Engine) SettleAccount(caller crypto.Address, marketID string, borrower crypto.Address, coveringFunds *big.Int) (*big.Int, *big.Int, error) {
	if e == nil || e.state == nil {
		return nil, nil, ErrNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, nil, err
	}
	if err := e.requireAuthority(caller); err != nil {
		return nil, nil, err
	}
	if borrower.IsZero() {
		return nil, nil, ErrZeroAddress
	}
	if coveringFunds == nil {
		coveringFunds = big.NewInt(0)
	}
	if coveringFunds.Sign() < 0 {
		return nil, nil, ErrInvalidAmount
	}

	view, err := e.loadBorrower(marketID, borrower)
	if err != nil {
		return nil, nil, err
	}
	market := view.market

	// Reverse any stored markdown before realizing the loss; a no-op when
	// none had accrued.
	hadDefault := view.markdown.DefaultStartedAt != 0
	e.applyMarkdown(marketID, view, big.NewInt(0))
	view.markdown.DefaultStartedAt = 0

	debt := e.debtAssets(view.position, market)
	repaid := minBig(coveringFunds, debt)
	writtenOff := new(big.Int).Sub(debt, repaid)

	market.TotalBorrowAssets = clampSub(market.TotalBorrowAssets, debt)
	market.TotalBorrowShares = clampSub(market.TotalBorrowShares, view.position.BorrowShares)
	view.position.BorrowShares = big.NewInt(0)

	// The uncovered remainder is a realized loss borne by suppliers.
	market.TotalSupplyAssets = clampSub(market.TotalSupplyAssets, writtenOff)

	if view.obligation != nil {
		view.obligation = nil
		view.dropOblig = true
	}
	e.resnapshotPremium(view)

	if err := e.persistBorrower(marketID, view); err != nil {
		return nil, nil, err
	}

	if hadDefault {
		e.emit(events.CreditDefaultCleared{
			Market:    marketID,
			Borrower:  borrower,
			ClearedAt: view.now,
		})
	}
	e.emit(events.CreditAccountSettled{
		Market:     marketID,
		Borrower:   borrower,
		Repaid:     new(big.Int).Set(repaid),
		WrittenOff: new(big.Int).Set(writtenOff),
	})
	return repaid, writtenOff, nil
}
