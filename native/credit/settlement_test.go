package credit

import (
	"errors"
	"math/big"
	"testing"

	"creditline/core/events"
	"creditline/crypto"
)

func TestSettleAccountConservesDebt(t *testing.T) {
	env, borrower, boundary := setupDefaultedLoan(t)

	env.now = boundary + 100_000
	if err := env.engine.AccrueBorrowerPremium(testMarket, borrower); err != nil {
		t.Fatalf("accrue: %v", err)
	}

	repaid, writtenOff, err := env.engine.SettleAccount(env.authority, testMarket, borrower, big.NewInt(200_000))
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if repaid.Cmp(big.NewInt(200_000)) != 0 {
		t.Fatalf("unexpected repaid: %s", repaid)
	}
	if writtenOff.Cmp(big.NewInt(300_000)) != 0 {
		t.Fatalf("unexpected write-off: %s", writtenOff)
	}
	if total := new(big.Int).Add(repaid, writtenOff); total.Cmp(big.NewInt(500_000)) != 0 {
		t.Fatalf("settlement does not conserve debt: %s", total)
	}

	market := env.state.markets[testMarket]
	if market.TotalBorrowAssets.Sign() != 0 || market.TotalBorrowShares.Sign() != 0 {
		t.Fatalf("borrow totals not cleared: %s / %s", market.TotalBorrowAssets, market.TotalBorrowShares)
	}
	// Markdown reversal restores 1,000,000, then the write-off realizes the
	// loss against suppliers.
	if market.TotalSupplyAssets.Cmp(big.NewInt(700_000)) != 0 {
		t.Fatalf("unexpected supply after settlement: %s", market.TotalSupplyAssets)
	}
	if market.TotalMarkdown.Sign() != 0 {
		t.Fatalf("pool markdown not cleared: %s", market.TotalMarkdown)
	}

	position := env.state.positions[env.state.key(testMarket, borrower)]
	if position.BorrowShares.Sign() != 0 {
		t.Fatalf("borrower still holds borrow shares: %s", position.BorrowShares)
	}
	if _, ok := env.state.obligations[env.state.key(testMarket, borrower)]; ok {
		t.Fatalf("obligation survived settlement")
	}
	markdown := env.state.markdowns[env.state.key(testMarket, borrower)]
	if markdown.LastCalculatedMarkdown.Sign() != 0 || markdown.DefaultStartedAt != 0 {
		t.Fatalf("markdown state survived settlement: %+v", markdown)
	}

	if cleared := env.events.ofType(events.TypeCreditDefaultCleared); len(cleared) != 1 {
		t.Fatalf("expected one default-cleared event, got %d", len(cleared))
	}
	settled := env.events.ofType(events.TypeCreditAccountSettled)
	if len(settled) != 1 {
		t.Fatalf("expected one settled event, got %d", len(settled))
	}
	ev := settled[0].(events.CreditAccountSettled)
	if ev.Repaid.Cmp(repaid) != 0 || ev.WrittenOff.Cmp(writtenOff) != 0 {
		t.Fatalf("unexpected settled event: repaid %s writtenOff %s", ev.Repaid, ev.WrittenOff)
	}

	status, _, err := env.engine.RepaymentStatusOf(testMarket, borrower)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status != StatusCurrent {
		t.Fatalf("expected current after settlement, got %s", status)
	}
}

func TestSettleAccountWithFullCoverage(t *testing.T) {
	env := newTestEnv(t)
	borrower := makeAddress(0xB0)
	env.seedLoan(t, borrower, 1_000_000, 500_000, nil)

	// Excess funds repay only the debt; nothing is written off.
	repaid, writtenOff, err := env.engine.SettleAccount(env.authority, testMarket, borrower, big.NewInt(600_000))
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if repaid.Cmp(big.NewInt(500_000)) != 0 {
		t.Fatalf("unexpected repaid: %s", repaid)
	}
	if writtenOff.Sign() != 0 {
		t.Fatalf("unexpected write-off: %s", writtenOff)
	}
	market := env.state.markets[testMarket]
	if market.TotalSupplyAssets.Cmp(big.NewInt(1_000_000)) != 0 {
		t.Fatalf("suppliers took a loss on full coverage: %s", market.TotalSupplyAssets)
	}
	// No default was ever entered, so no recovery event fires.
	if cleared := env.events.ofType(events.TypeCreditDefaultCleared); len(cleared) != 0 {
		t.Fatalf("unexpected default-cleared events: %d", len(cleared))
	}
}

func TestSettleAccountWithoutFunds(t *testing.T) {
	env := newTestEnv(t)
	borrower := makeAddress(0xB0)
	env.seedLoan(t, borrower, 1_000_000, 500_000, nil)

	repaid, writtenOff, err := env.engine.SettleAccount(env.authority, testMarket, borrower, nil)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if repaid.Sign() != 0 {
		t.Fatalf("unexpected repaid: %s", repaid)
	}
	if writtenOff.Cmp(big.NewInt(500_000)) != 0 {
		t.Fatalf("unexpected write-off: %s", writtenOff)
	}
	market := env.state.markets[testMarket]
	if market.TotalSupplyAssets.Cmp(big.NewInt(500_000)) != 0 {
		t.Fatalf("unexpected supply after full write-off: %s", market.TotalSupplyAssets)
	}
}

func TestSettleAccountValidation(t *testing.T) {
	env := newTestEnv(t)
	borrower := makeAddress(0xB0)
	env.seedLoan(t, borrower, 1_000_000, 500_000, nil)

	if _, _, err := env.engine.SettleAccount(env.authority, testMarket, borrower, big.NewInt(-1)); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected negative funds rejection, got %v", err)
	}
	if _, _, err := env.engine.SettleAccount(env.authority, testMarket, crypto.Address{}, big.NewInt(1)); !errors.Is(err, ErrZeroAddress) {
		t.Fatalf("expected zero address rejection, got %v", err)
	}
}
