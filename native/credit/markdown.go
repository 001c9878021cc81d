package credit

import (
	"math/big"
	"strings"

	"creditline/core/events"
	"creditline/crypto"
	nativecommon "creditline/native/common"
)

// MarkdownManager computes the accounting write-down applied to a defaulted
// borrower's recorded debt. Implementations are injected per market and may
// be swapped by the authority.
type MarkdownManager interface {
	// CalculateMarkdown returns the markdown amount for a borrower given
	// their current debt and the time spent in default, in seconds.
	CalculateMarkdown(borrower crypto.Address, currentDebt *big.Int, timeInDefault uint64) *big.Int
	// MarkdownMultiplier returns the WAD-scaled write-down fraction for the
	// given time in default.
	MarkdownMultiplier(timeInDefault uint64) *big.Int
	// IsValidForMarket reports whether the manager may serve the market.
	IsValidForMarket(marketID string) bool
}

// LinearMarkdownManager grows the markdown multiplier linearly with time in
// default until it reaches an asymptotic cap.
type LinearMarkdownManager struct {
	// RatePerSecond is the WAD-scaled multiplier growth per second of
	// default.
	RatePerSecond *big.Int
	// Cap is the WAD-scaled ceiling the multiplier converges to, e.g. 0.7
	// WAD for a 70% maximum write-down.
	Cap *big.Int
}

// NewLinearMarkdownManager constructs a linear markdown schedule.
func NewLinearMarkdownManager(ratePerSecond, cap *big.Int) *LinearMarkdownManager {
	m := &LinearMarkdownManager{
		RatePerSecond: big.NewInt(0),
		Cap:           big.NewInt(0),
	}
	if ratePerSecond != nil {
		m.RatePerSecond = new(big.Int).Set(ratePerSecond)
	}
	if cap != nil {
		m.Cap = new(big.Int).Set(cap)
	}
	return m
}

// MarkdownMultiplier returns min(rate * timeInDefault, cap).
func (m *LinearMarkdownManager) MarkdownMultiplier(timeInDefault uint64) *big.Int {
	if m == nil || m.RatePerSecond == nil || m.RatePerSecond.Sign() <= 0 || timeInDefault == 0 {
		return big.NewInt(0)
	}
	multiplier := new(big.Int).Mul(m.RatePerSecond, new(big.Int).SetUint64(timeInDefault))
	if m.Cap != nil && m.Cap.Sign() > 0 && multiplier.Cmp(m.Cap) > 0 {
		// The cap is a deliberate clamp, not an error.
		multiplier = new(big.Int).Set(m.Cap)
	}
	return multiplier
}

// CalculateMarkdown applies the multiplier to the borrower's current debt.
func (m *LinearMarkdownManager) CalculateMarkdown(_ crypto.Address, currentDebt *big.Int, timeInDefault uint64) *big.Int {
	if currentDebt == nil || currentDebt.Sign() <= 0 {
		return big.NewInt(0)
	}
	return wMulDown(currentDebt, m.MarkdownMultiplier(timeInDefault))
}

// IsValidForMarket accepts any market; the schedule carries no market-local
// assumptions.
func (m *LinearMarkdownManager) IsValidForMarket(string) bool { return m != nil }

// SetMarkdownManager swaps the markdown collaborator for a market.
func (e *Engine) SetMarkdownManager(caller crypto.Address, marketID string, manager MarkdownManager) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if err := e.requireAuthority(caller); err != nil {
		return err
	}
	marketID = strings.TrimSpace(marketID)
	if _, err := e.ensureMarket(marketID); err != nil {
		return err
	}
	if manager == nil || !manager.IsValidForMarket(marketID) {
		return ErrMarkdownManagerRejected
	}
	e.markdownManagers[marketID] = manager
	return nil
}

func (e *Engine) markdownManagerFor(marketID string) MarkdownManager {
	if manager, ok := e.markdownManagers[marketID]; ok {
		return manager
	}
	return e.defaultMarkdown
}

// MarkdownStateOf returns the stored markdown for a borrower. The value is
// recomputed only when the borrower is touched and may be stale.
func (e *Engine) MarkdownStateOf(marketID string, borrower crypto.Address) (*MarkdownState, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	if _, err := e.ensureMarket(marketID); err != nil {
		return nil, err
	}
	return e.ensureMarkdownState(marketID, borrower)
}

// refreshDefault re-derives the borrower's repayment status and, when the
// borrower is in default, records the default boundary and recomputes the
// markdown against current debt.
func (e *Engine) refreshDefault(marketID string, view *borrowerView) {
	status, boundary := e.statusAt(view.obligation, view.market.PaymentCycles, view.now)
	markdown := view.markdown
	if status != StatusDefault {
		// Stored markdown must be zero outside of default. Exiting default
		// usually happens through repay or settlement, which clear it
		// themselves; a replacement obligation posted over an unpaid one
		// lands here instead, so the recovery event is owed too.
		if markdown.LastCalculatedMarkdown.Sign() > 0 {
			e.applyMarkdown(marketID, view, big.NewInt(0))
		}
		if markdown.DefaultStartedAt != 0 {
			markdown.DefaultStartedAt = 0
			view.queue(events.CreditDefaultCleared{
				Market:    marketID,
				Borrower:  view.borrower,
				ClearedAt: view.now,
			})
		}
		return
	}

	if markdown.DefaultStartedAt == 0 {
		// Timestamp the transition at the computed boundary, not the
		// observation time, so markdown stays correct when seen late.
		markdown.DefaultStartedAt = boundary
		view.queue(events.CreditDefaultStarted{
			Market:    marketID,
			Borrower:  view.borrower,
			StartedAt: boundary,
		})
	}

	manager := e.markdownManagerFor(marketID)
	if manager == nil {
		return
	}
	var timeInDefault uint64
	if view.now > markdown.DefaultStartedAt {
		timeInDefault = view.now - markdown.DefaultStartedAt
	}
	debt := e.debtAssets(view.position, view.market)
	target := manager.CalculateMarkdown(view.borrower, debt, timeInDefault)
	// Markdown never exceeds the debt it writes down.
	target = minBig(target, debt)
	e.applyMarkdown(marketID, view, target)
}

// applyMarkdown moves the stored markdown to the target value, keeping
// TotalMarkdown and TotalSupplyAssets consistent with the delta. Share
// balances are never touched.
func (e *Engine) applyMarkdown(marketID string, view *borrowerView, target *big.Int) {
	markdown := view.markdown
	old := markdown.LastCalculatedMarkdown
	if target == nil {
		target = big.NewInt(0)
	}
	if old.Cmp(target) == 0 {
		return
	}
	market := view.market
	if target.Cmp(old) > 0 {
		delta := new(big.Int).Sub(target, old)
		market.TotalMarkdown = new(big.Int).Add(market.TotalMarkdown, delta)
		market.TotalSupplyAssets = clampSub(market.TotalSupplyAssets, delta)
	} else {
		delta := new(big.Int).Sub(old, target)
		market.TotalMarkdown = clampSub(market.TotalMarkdown, delta)
		market.TotalSupplyAssets = new(big.Int).Add(market.TotalSupplyAssets, delta)
	}
	markdown.LastCalculatedMarkdown = new(big.Int).Set(target)
	view.queue(events.CreditMarkdownUpdated{
		Market:   marketID,
		Borrower: view.borrower,
		Old:      new(big.Int).Set(old),
		New:      new(big.Int).Set(target),
	})
}

// clearObligation removes a fully repaid obligation, zeroes the stored
// markdown and default start, and emits the recovery event.
func (e *Engine) clearObligation(marketID string, view *borrowerView) error {
	hadDefault := view.markdown.DefaultStartedAt != 0
	e.applyMarkdown(marketID, view, big.NewInt(0))
	view.markdown.DefaultStartedAt = 0
	view.obligation = nil
	view.dropOblig = true
	if hadDefault {
		view.queue(events.CreditDefaultCleared{
			Market:    marketID,
			Borrower:  view.borrower,
			ClearedAt: view.now,
		})
	}
	return nil
}
