package credit

import (
	"errors"
	"math/big"
	"testing"

	"creditline/core/events"
	"creditline/crypto"
)

func TestCloseCyclePostsScaledObligations(t *testing.T) {
	env := newTestEnv(t)
	borrower := makeAddress(0xB0)
	env.seedLoan(t, borrower, 1_000_000, 500_000, nil)

	cycleID, err := env.engine.CloseCycleAndPostObligations(
		env.authority, testMarket, env.now,
		[]crypto.Address{borrower}, []uint64{500}, []*big.Int{big.NewInt(100_000)},
	)
	if err != nil {
		t.Fatalf("close cycle: %v", err)
	}
	if cycleID != 0 {
		t.Fatalf("unexpected cycle id: %d", cycleID)
	}

	obligation, err := env.engine.RepaymentObligationOf(testMarket, borrower)
	if err != nil {
		t.Fatalf("obligation read: %v", err)
	}
	if obligation == nil {
		t.Fatalf("expected stored obligation")
	}
	// 5% of the 100,000 ending balance.
	if obligation.AmountDue.Cmp(big.NewInt(5_000)) != 0 {
		t.Fatalf("unexpected amount due: %s", obligation.AmountDue)
	}
	if obligation.EndingBalance.Cmp(big.NewInt(100_000)) != 0 {
		t.Fatalf("unexpected ending balance: %s", obligation.EndingBalance)
	}
	if obligation.CycleID != 0 {
		t.Fatalf("unexpected cycle reference: %d", obligation.CycleID)
	}

	posted := env.events.ofType(events.TypeCreditObligationPosted)
	if len(posted) != 1 {
		t.Fatalf("expected one posted event, got %d", len(posted))
	}
	ev := posted[0].(events.CreditObligationPosted)
	if !ev.Borrower.Equal(borrower) || ev.AmountDue.Cmp(big.NewInt(5_000)) != 0 {
		t.Fatalf("unexpected posted event: %+v", ev)
	}

	cycles, err := env.engine.PaymentCyclesOf(testMarket)
	if err != nil {
		t.Fatalf("cycles read: %v", err)
	}
	if len(cycles) != 1 || cycles[0].EndTime != env.now {
		t.Fatalf("unexpected cycle sequence: %+v", cycles)
	}
}

func TestCloseCycleValidation(t *testing.T) {
	env := newTestEnv(t)
	borrower := makeAddress(0xB0)
	env.seedLoan(t, borrower, 1_000_000, 500_000, nil)

	if _, err := env.engine.CloseCycleAndPostObligations(
		env.authority, testMarket, env.now+1, nil, nil, nil,
	); !errors.Is(err, ErrCycleInFuture) {
		t.Fatalf("expected future rejection, got %v", err)
	}

	if _, err := env.engine.CloseCycleAndPostObligations(
		env.authority, testMarket, env.now,
		[]crypto.Address{borrower}, []uint64{500}, nil,
	); !errors.Is(err, ErrLengthMismatch) {
		t.Fatalf("expected length mismatch, got %v", err)
	}

	if _, err := env.engine.CloseCycleAndPostObligations(
		env.authority, testMarket, env.now,
		[]crypto.Address{borrower}, []uint64{10_001}, []*big.Int{big.NewInt(1)},
	); !errors.Is(err, ErrInvalidBps) {
		t.Fatalf("expected bps rejection, got %v", err)
	}

	if _, err := env.engine.CloseCycleAndPostObligations(
		env.authority, testMarket, env.now,
		[]crypto.Address{{}}, []uint64{500}, []*big.Int{big.NewInt(1)},
	); !errors.Is(err, ErrZeroAddress) {
		t.Fatalf("expected zero address rejection, got %v", err)
	}

	if _, err := env.engine.CloseCycleAndPostObligations(
		env.authority, testMarket, env.now,
		[]crypto.Address{borrower}, []uint64{500}, []*big.Int{big.NewInt(-1)},
	); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected balance rejection, got %v", err)
	}

	// Cycle ends are append-only and non-decreasing.
	if _, err := env.engine.CloseCycleAndPostObligations(env.authority, testMarket, env.now, nil, nil, nil); err != nil {
		t.Fatalf("close first cycle: %v", err)
	}
	if _, err := env.engine.CloseCycleAndPostObligations(
		env.authority, testMarket, env.now-1, nil, nil, nil,
	); !errors.Is(err, ErrCycleOutOfOrder) {
		t.Fatalf("expected out-of-order rejection, got %v", err)
	}
}

func TestAddObligationsToLatestCycle(t *testing.T) {
	env := newTestEnv(t)
	alice := makeAddress(0xA1)
	bob := makeAddress(0xA2)
	env.seedLoan(t, alice, 1_000_000, 200_000, nil)

	if _, err := env.engine.AddObligationsToLatestCycle(
		env.authority, testMarket,
		[]crypto.Address{alice}, []uint64{500}, []*big.Int{big.NewInt(1)},
	); !errors.Is(err, ErrNoCycle) {
		t.Fatalf("expected no-cycle rejection, got %v", err)
	}

	if _, err := env.engine.CloseCycleAndPostObligations(
		env.authority, testMarket, env.now,
		[]crypto.Address{alice}, []uint64{500}, []*big.Int{big.NewInt(100_000)},
	); err != nil {
		t.Fatalf("close cycle: %v", err)
	}

	env.advance(day)
	cycleID, err := env.engine.AddObligationsToLatestCycle(
		env.authority, testMarket,
		[]crypto.Address{bob}, []uint64{1_000}, []*big.Int{big.NewInt(50_000)},
	)
	if err != nil {
		t.Fatalf("mid-cycle enrollment: %v", err)
	}
	if cycleID != 0 {
		t.Fatalf("unexpected cycle id: %d", cycleID)
	}
	obligation, err := env.engine.RepaymentObligationOf(testMarket, bob)
	if err != nil {
		t.Fatalf("obligation read: %v", err)
	}
	if obligation == nil || obligation.AmountDue.Cmp(big.NewInt(5_000)) != 0 || obligation.CycleID != 0 {
		t.Fatalf("unexpected mid-cycle obligation: %+v", obligation)
	}
}

func TestBorrowBlockedWhileObligationOutstanding(t *testing.T) {
	env := newTestEnv(t)
	borrower := makeAddress(0xB0)
	env.seedLoan(t, borrower, 1_000_000, 500_000, nil)

	if _, err := env.engine.CloseCycleAndPostObligations(
		env.authority, testMarket, env.now,
		[]crypto.Address{borrower}, []uint64{500}, []*big.Int{big.NewInt(100_000)},
	); err != nil {
		t.Fatalf("close cycle: %v", err)
	}

	if _, _, err := env.engine.Borrow(borrower, testMarket, big.NewInt(1), nil); !errors.Is(err, ErrOutstandingObligation) {
		t.Fatalf("expected obligation block, got %v", err)
	}

	// Clearing the obligation reopens the line.
	if _, _, err := env.engine.Repay(borrower, testMarket, big.NewInt(5_000), nil); err != nil {
		t.Fatalf("repay obligation: %v", err)
	}
	if _, _, err := env.engine.Borrow(borrower, testMarket, big.NewInt(1_000), nil); err != nil {
		t.Fatalf("borrow after clearing: %v", err)
	}
}

func TestObligationDemandsFullPayment(t *testing.T) {
	env := newTestEnv(t)
	borrower := makeAddress(0xB0)
	env.seedLoan(t, borrower, 1_000_000, 500_000, nil)

	if _, err := env.engine.CloseCycleAndPostObligations(
		env.authority, testMarket, env.now,
		[]crypto.Address{borrower}, []uint64{500}, []*big.Int{big.NewInt(100_000)},
	); err != nil {
		t.Fatalf("close cycle: %v", err)
	}

	if _, _, err := env.engine.Repay(borrower, testMarket, big.NewInt(4_999), nil); !errors.Is(err, ErrPartialPayment) {
		t.Fatalf("expected partial rejection, got %v", err)
	}

	repaid, _, err := env.engine.Repay(borrower, testMarket, big.NewInt(5_000), nil)
	if err != nil {
		t.Fatalf("exact repay: %v", err)
	}
	if repaid.Cmp(big.NewInt(5_000)) != 0 {
		t.Fatalf("unexpected repaid amount: %s", repaid)
	}
	if _, ok := env.state.obligations[env.state.key(testMarket, borrower)]; ok {
		t.Fatalf("obligation not deleted after full payment")
	}
	status, _, err := env.engine.RepaymentStatusOf(testMarket, borrower)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status != StatusCurrent {
		t.Fatalf("expected current after clearing, got %s", status)
	}
	if debt := env.debtOf(t, borrower); debt.Cmp(big.NewInt(495_000)) != 0 {
		t.Fatalf("unexpected remaining debt: %s", debt)
	}
}

func TestReplacementObligationSupersedesPriorCycle(t *testing.T) {
	env := newTestEnv(t)
	borrower := makeAddress(0xB0)
	env.seedLoan(t, borrower, 1_000_000, 500_000, nil)

	if _, err := env.engine.CloseCycleAndPostObligations(
		env.authority, testMarket, env.now,
		[]crypto.Address{borrower}, []uint64{500}, []*big.Int{big.NewInt(100_000)},
	); err != nil {
		t.Fatalf("close first cycle: %v", err)
	}

	env.advance(30 * day)
	if _, err := env.engine.CloseCycleAndPostObligations(
		env.authority, testMarket, env.now,
		[]crypto.Address{borrower}, []uint64{1_000}, []*big.Int{big.NewInt(200_000)},
	); err != nil {
		t.Fatalf("close second cycle: %v", err)
	}

	obligation, err := env.engine.RepaymentObligationOf(testMarket, borrower)
	if err != nil {
		t.Fatalf("obligation read: %v", err)
	}
	if obligation.CycleID != 1 || obligation.AmountDue.Cmp(big.NewInt(20_000)) != 0 {
		t.Fatalf("expected superseding obligation, got %+v", obligation)
	}
}
