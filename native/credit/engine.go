package credit

import (
	"errors"
	"math/big"
	"strings"
	"time"

	"creditline/core/events"
	"creditline/crypto"
	nativecommon "creditline/native/common"
)

var (
	ErrNilState                = errors.New("credit engine: state not configured")
	ErrMarketNotFound          = errors.New("credit engine: market not initialised")
	ErrMarketExists            = errors.New("credit engine: market already exists")
	ErrInvalidMarketID         = errors.New("credit engine: market identifier required")
	ErrInvalidAmount           = errors.New("credit engine: amount must be positive")
	ErrInconsistentInput       = errors.New("credit engine: exactly one of assets or shares must be set")
	ErrInsufficientLiquidity   = errors.New("credit engine: insufficient liquidity")
	ErrInsufficientShares      = errors.New("credit engine: insufficient shares")
	ErrNoDebt                  = errors.New("credit engine: no outstanding debt to repay")
	ErrUnauthorized            = errors.New("credit engine: caller is not the credit authority")
	ErrZeroAddress             = errors.New("credit engine: zero address")
	ErrNoCreditLine            = errors.New("credit engine: borrower has no credit line")
	ErrCreditLineExceeded      = errors.New("credit engine: borrow exceeds credit line limit")
	ErrOutstandingObligation   = errors.New("credit engine: borrower has an unpaid obligation")
	ErrPartialPayment          = errors.New("credit engine: obligation must be repaid in full")
	ErrLengthMismatch          = errors.New("credit engine: batch array lengths must match")
	ErrInvalidBps              = errors.New("credit engine: basis points exceed 100%")
	ErrCycleOutOfOrder         = errors.New("credit engine: cycle cannot close before the prior end date")
	ErrCycleInFuture           = errors.New("credit engine: cycle end date is in the future")
	ErrNoCycle                 = errors.New("credit engine: no payment cycle open")
	ErrInvalidFee              = errors.New("credit engine: fee exceeds cap")
	ErrMarkdownManagerRejected = errors.New("credit engine: markdown manager not valid for market")
)

const moduleName = "credit"

// maxFeeBps caps the share of base interest routed to protocol fees.
const maxFeeBps = 2_500

type engineState interface {
	GetMarket(marketID string) (*Market, error)
	PutMarket(marketID string, market *Market) error
	ListMarkets() ([]string, error)
	GetPosition(marketID string, addr crypto.Address) (*Position, error)
	PutPosition(marketID string, position *Position) error
	GetCreditLine(marketID string, addr crypto.Address) (*CreditLine, error)
	PutCreditLine(marketID string, line *CreditLine) error
	GetPremium(marketID string, addr crypto.Address) (*BorrowerPremium, error)
	PutPremium(marketID string, premium *BorrowerPremium) error
	GetObligation(marketID string, addr crypto.Address) (*RepaymentObligation, error)
	PutObligation(marketID string, obligation *RepaymentObligation) error
	DeleteObligation(marketID string, addr crypto.Address) error
	GetMarkdownState(marketID string, addr crypto.Address) (*MarkdownState, error)
	PutMarkdownState(marketID string, state *MarkdownState) error
	GetFeeAccrual(marketID string) (*FeeAccrual, error)
	PutFeeAccrual(marketID string, fees *FeeAccrual) error
}

// Engine orchestrates the primary state transitions for the credit-line
// ledger. Every mutating call runs the same pipeline: accrue base interest,
// accrue the borrower's premium, re-derive repayment status and markdown,
// then perform the requested mutation.
type Engine struct {
	state            engineState
	emitter          events.Emitter
	authority        crypto.Address
	terms            Terms
	rateModel        RateModel
	markdownManagers map[string]MarkdownManager
	defaultMarkdown  MarkdownManager
	pauses           nativecommon.PauseView
	nowFn            func() uint64
}

// NewEngine constructs a credit engine bound to the given authority and
// repayment terms. Callers wire state, collaborators, and an emitter before
// use.
func NewEngine(authority crypto.Address, terms Terms) *Engine {
	return &Engine{
		authority:        authority,
		terms:            terms,
		emitter:          events.NoopEmitter{},
		markdownManagers: make(map[string]MarkdownManager),
		nowFn:            func() uint64 { return uint64(time.Now().Unix()) },
	}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if e == nil {
		return
	}
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetPauses wires the administrative pause switchboard.
func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// SetRateModel configures the base rate curve consulted during accrual.
func (e *Engine) SetRateModel(model RateModel) {
	if e == nil {
		return
	}
	e.rateModel = model
}

// SetDefaultMarkdownManager configures the markdown manager applied to
// markets without a per-market override.
func (e *Engine) SetDefaultMarkdownManager(manager MarkdownManager) {
	if e == nil {
		return
	}
	e.defaultMarkdown = manager
}

// SetClock overrides the engine's time source. Intended for deterministic
// tests; production callers keep the wall-clock default.
func (e *Engine) SetClock(now func() uint64) {
	if e == nil || now == nil {
		return
	}
	e.nowFn = now
}

// Terms returns the configured grace and delinquency durations.
func (e *Engine) Terms() Terms {
	if e == nil {
		return Terms{}
	}
	return e.terms
}

func (e *Engine) now() uint64 {
	if e == nil || e.nowFn == nil {
		return uint64(time.Now().Unix())
	}
	return e.nowFn()
}

func (e *Engine) emit(event events.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(event)
}

func (e *Engine) requireAuthority(caller crypto.Address) error {
	if e == nil || e.authority.IsZero() || !caller.Equal(e.authority) {
		return ErrUnauthorized
	}
	return nil
}

// CreateMarket registers a new market under the given identifier.
func (e *Engine) CreateMarket(caller crypto.Address, marketID string, feeBps uint64) error {
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
	if marketID == "" {
		return ErrInvalidMarketID
	}
	if feeBps > maxFeeBps {
		return ErrInvalidFee
	}
	existing, err := e.state.GetMarket(marketID)
	if err != nil {
		return err
	}
	if existing != nil {
		return ErrMarketExists
	}
	market := &Market{
		TotalSupplyAssets: big.NewInt(0),
		TotalSupplyShares: big.NewInt(0),
		TotalBorrowAssets: big.NewInt(0),
		TotalBorrowShares: big.NewInt(0),
		TotalMarkdown:     big.NewInt(0),
		LastAccrualTime:   e.now(),
		FeeBps:            feeBps,
	}
	return e.state.PutMarket(marketID, market)
}

// ListMarkets enumerates the registered market identifiers.
func (e *Engine) ListMarkets() ([]string, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	return e.state.ListMarkets()
}

// GetMarket returns the stored market record without accruing.
func (e *Engine) GetMarket(marketID string) (*Market, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	return e.ensureMarket(marketID)
}

// GetPosition returns the stored position for an account without accruing.
func (e *Engine) GetPosition(marketID string, addr crypto.Address) (*Position, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	if _, err := e.ensureMarket(marketID); err != nil {
		return nil, err
	}
	return e.ensurePosition(marketID, addr)
}

// Supply credits liquidity to the pool and mints supply shares for the
// supplier. Exactly one of assets or shares must be positive; the other value
// is derived and both are returned.
func (e *Engine) Supply(supplier crypto.Address, marketID string, assets, shares *big.Int) (*big.Int, *big.Int, error) {
	if e == nil || e.state == nil {
		return nil, nil, ErrNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, nil, err
	}
	if supplier.IsZero() {
		return nil, nil, ErrZeroAddress
	}
	if !exactlyOneZero(assets, shares) {
		return nil, nil, ErrInconsistentInput
	}

	market, err := e.ensureMarket(marketID)
	if err != nil {
		return nil, nil, err
	}
	fees, feesChanged, err := e.accrueMarketInterest(marketID, market)
	if err != nil {
		return nil, nil, err
	}

	suppliedAssets, mintedShares := e.resolveSupply(market, assets, shares)
	if suppliedAssets.Sign() <= 0 || mintedShares.Sign() <= 0 {
		return nil, nil, ErrInvalidAmount
	}

	position, err := e.ensurePosition(marketID, supplier)
	if err != nil {
		return nil, nil, err
	}
	position.SupplyShares = new(big.Int).Add(position.SupplyShares, mintedShares)
	market.TotalSupplyAssets = new(big.Int).Add(market.TotalSupplyAssets, suppliedAssets)
	market.TotalSupplyShares = new(big.Int).Add(market.TotalSupplyShares, mintedShares)

	if err := e.persistMarket(marketID, market, fees, feesChanged); err != nil {
		return nil, nil, err
	}
	if err := e.state.PutPosition(marketID, position); err != nil {
		return nil, nil, err
	}
	return suppliedAssets, mintedShares, nil
}

// Withdraw burns supply shares and releases the corresponding assets back to
// the supplier.
func (e *Engine) Withdraw(supplier crypto.Address, marketID string, assets, shares *big.Int) (*big.Int, *big.Int, error) {
	if e == nil || e.state == nil {
		return nil, nil, ErrNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, nil, err
	}
	if supplier.IsZero() {
		return nil, nil, ErrZeroAddress
	}
	if !exactlyOneZero(assets, shares) {
		return nil, nil, ErrInconsistentInput
	}

	market, err := e.ensureMarket(marketID)
	if err != nil {
		return nil, nil, err
	}
	fees, feesChanged, err := e.accrueMarketInterest(marketID, market)
	if err != nil {
		return nil, nil, err
	}

	var withdrawnAssets, burnedShares *big.Int
	if assets != nil && assets.Sign() > 0 {
		withdrawnAssets = new(big.Int).Set(assets)
		burnedShares = toSharesUp(assets, market.TotalSupplyAssets, market.TotalSupplyShares)
	} else {
		burnedShares = new(big.Int).Set(shares)
		withdrawnAssets = toAssetsDown(shares, market.TotalSupplyAssets, market.TotalSupplyShares)
	}
	if withdrawnAssets.Sign() <= 0 || burnedShares.Sign() <= 0 {
		return nil, nil, ErrInvalidAmount
	}

	position, err := e.ensurePosition(marketID, supplier)
	if err != nil {
		return nil, nil, err
	}
	if position.SupplyShares.Cmp(burnedShares) < 0 {
		return nil, nil, ErrInsufficientShares
	}

	remaining := new(big.Int).Sub(market.TotalSupplyAssets, withdrawnAssets)
	if remaining.Sign() < 0 || remaining.Cmp(market.TotalBorrowAssets) < 0 {
		return nil, nil, ErrInsufficientLiquidity
	}

	position.SupplyShares = new(big.Int).Sub(position.SupplyShares, burnedShares)
	market.TotalSupplyAssets = remaining
	market.TotalSupplyShares = new(big.Int).Sub(market.TotalSupplyShares, burnedShares)

	if err := e.persistMarket(marketID, market, fees, feesChanged); err != nil {
		return nil, nil, err
	}
	if err := e.state.PutPosition(marketID, position); err != nil {
		return nil, nil, err
	}
	return withdrawnAssets, burnedShares, nil
}

// Borrow draws on the borrower's credit line. The borrower must hold a credit
// line, carry no unpaid obligation, and stay within both the credit limit and
// the pool's available liquidity.
func (e *Engine) Borrow(borrower crypto.Address, marketID string, assets, shares *big.Int) (*big.Int, *big.Int, error) {
	if e == nil || e.state == nil {
		return nil, nil, ErrNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, nil, err
	}
	if borrower.IsZero() {
		return nil, nil, ErrZeroAddress
	}
	if !exactlyOneZero(assets, shares) {
		return nil, nil, ErrInconsistentInput
	}

	view, err := e.loadBorrower(marketID, borrower)
	if err != nil {
		return nil, nil, err
	}
	if view.obligation != nil && view.obligation.AmountDue != nil && view.obligation.AmountDue.Sign() > 0 {
		return nil, nil, ErrOutstandingObligation
	}
	line, err := e.state.GetCreditLine(marketID, borrower)
	if err != nil {
		return nil, nil, err
	}
	if line == nil || line.Limit == nil || line.Limit.Sign() <= 0 {
		return nil, nil, ErrNoCreditLine
	}

	market := view.market
	var borrowedAssets, issuedShares *big.Int
	if assets != nil && assets.Sign() > 0 {
		borrowedAssets = new(big.Int).Set(assets)
		issuedShares = toSharesUp(assets, market.TotalBorrowAssets, market.TotalBorrowShares)
	} else {
		issuedShares = new(big.Int).Set(shares)
		borrowedAssets = toAssetsDown(shares, market.TotalBorrowAssets, market.TotalBorrowShares)
	}
	if borrowedAssets.Sign() <= 0 || issuedShares.Sign() <= 0 {
		return nil, nil, ErrInvalidAmount
	}

	view.position.BorrowShares = new(big.Int).Add(view.position.BorrowShares, issuedShares)
	market.TotalBorrowAssets = new(big.Int).Add(market.TotalBorrowAssets, borrowedAssets)
	market.TotalBorrowShares = new(big.Int).Add(market.TotalBorrowShares, issuedShares)

	projectedDebt := e.debtAssets(view.position, market)
	if projectedDebt.Cmp(line.Limit) > 0 {
		return nil, nil, ErrCreditLineExceeded
	}
	if market.TotalBorrowAssets.Cmp(market.TotalSupplyAssets) > 0 {
		return nil, nil, ErrInsufficientLiquidity
	}

	e.resnapshotPremium(view)

	if err := e.persistBorrower(marketID, view); err != nil {
		return nil, nil, err
	}
	return borrowedAssets, issuedShares, nil
}

// Repay reduces the borrower's debt. While an obligation is outstanding the
// payment must cover the full amount due; covering it clears the obligation,
// zeroes any stored markdown, and restores Current status.
func (e *Engine) Repay(borrower crypto.Address, marketID string, assets, shares *big.Int) (*big.Int, *big.Int, error) {
	if e == nil || e.state == nil {
		return nil, nil, ErrNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, nil, err
	}
	if borrower.IsZero() {
		return nil, nil, ErrZeroAddress
	}
	if !exactlyOneZero(assets, shares) {
		return nil, nil, ErrInconsistentInput
	}

	view, err := e.loadBorrower(marketID, borrower)
	if err != nil {
		return nil, nil, err
	}
	if view.position.BorrowShares.Sign() == 0 {
		return nil, nil, ErrNoDebt
	}

	market := view.market
	var repaidAssets, retiredShares *big.Int
	if assets != nil && assets.Sign() > 0 {
		repaidAssets = new(big.Int).Set(assets)
		retiredShares = toSharesDown(assets, market.TotalBorrowAssets, market.TotalBorrowShares)
	} else {
		retiredShares = new(big.Int).Set(shares)
		repaidAssets = toAssetsUp(shares, market.TotalBorrowAssets, market.TotalBorrowShares)
	}
	if retiredShares.Cmp(view.position.BorrowShares) > 0 {
		retiredShares = new(big.Int).Set(view.position.BorrowShares)
		repaidAssets = toAssetsUp(retiredShares, market.TotalBorrowAssets, market.TotalBorrowShares)
	}
	if repaidAssets.Sign() <= 0 || retiredShares.Sign() <= 0 {
		return nil, nil, ErrInvalidAmount
	}

	if ob := view.obligation; ob != nil && ob.AmountDue != nil && ob.AmountDue.Sign() > 0 {
		// All-or-nothing: a payment below the amount due is rejected to
		// prevent default-timing manipulation.
		if repaidAssets.Cmp(ob.AmountDue) < 0 {
			return nil, nil, ErrPartialPayment
		}
		if err := e.clearObligation(marketID, view); err != nil {
			return nil, nil, err
		}
	}

	view.position.BorrowShares = new(big.Int).Sub(view.position.BorrowShares, retiredShares)
	market.TotalBorrowAssets = clampSub(market.TotalBorrowAssets, repaidAssets)
	market.TotalBorrowShares = clampSub(market.TotalBorrowShares, retiredShares)

	e.resnapshotPremium(view)

	if err := e.persistBorrower(marketID, view); err != nil {
		return nil, nil, err
	}
	return repaidAssets, retiredShares, nil
}

// ProtocolFees returns the accrued protocol fee total for a market.
func (e *Engine) ProtocolFees(marketID string) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	if _, err := e.ensureMarket(marketID); err != nil {
		return nil, err
	}
	fees, err := e.ensureFeeAccrual(marketID)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(fees.ProtocolFeesWei), nil
}

// --- borrower pipeline ---

// borrowerView holds all records touched by a single borrower-scoped call.
// Mutations happen on the loaded copies; persistBorrower writes them back
// only after the whole operation succeeded.
type borrowerView struct {
	borrower    crypto.Address
	market      *Market
	fees        *FeeAccrual
	feesChanged bool
	position    *Position
	premium     *BorrowerPremium
	obligation  *RepaymentObligation
	markdown    *MarkdownState
	dropOblig   bool
	now         uint64
	pending     []events.Event
}

// queue defers an event until the surrounding operation has persisted, so a
// failed call never leaks an audit event for a rolled-back transition.
func (v *borrowerView) queue(event events.Event) {
	if event == nil {
		return
	}
	v.pending = append(v.pending, event)
}

// loadBorrower runs the standard pre-mutation pipeline: load every record,
// accrue base interest, accrue the borrower's premium, then re-derive the
// repayment status and markdown.
func (e *Engine) loadBorrower(marketID string, borrower crypto.Address) (*borrowerView, error) {
	market, err := e.ensureMarket(marketID)
	if err != nil {
		return nil, err
	}
	view := &borrowerView{borrower: borrower, market: market, now: e.now()}

	view.fees, view.feesChanged, err = e.accrueMarketInterest(marketID, market)
	if err != nil {
		return nil, err
	}
	view.position, err = e.ensurePosition(marketID, borrower)
	if err != nil {
		return nil, err
	}
	view.premium, err = e.ensurePremium(marketID, borrower)
	if err != nil {
		return nil, err
	}
	view.obligation, err = e.state.GetObligation(marketID, borrower)
	if err != nil {
		return nil, err
	}
	view.markdown, err = e.ensureMarkdownState(marketID, borrower)
	if err != nil {
		return nil, err
	}

	e.accruePremium(view)
	e.refreshDefault(marketID, view)
	return view, nil
}

// stagedState is implemented by state backends that can collect a borrower
// persist into one atomic batch. Backends without it write record by record.
type stagedState interface {
	StageWrites()
	CommitWrites() error
	DiscardWrites()
}

// persistBorrower writes every record the view touched. When the backend
// supports staging the writes land as one batch, so a storage failure leaves
// the prior state intact and no events escape.
func (e *Engine) persistBorrower(marketID string, view *borrowerView) error {
	staged, canStage := e.state.(stagedState)
	if canStage {
		staged.StageWrites()
	}
	if err := e.writeBorrower(marketID, view); err != nil {
		if canStage {
			staged.DiscardWrites()
		}
		return err
	}
	if canStage {
		if err := staged.CommitWrites(); err != nil {
			return err
		}
	}
	for _, event := range view.pending {
		e.emit(event)
	}
	view.pending = nil
	return nil
}

func (e *Engine) writeBorrower(marketID string, view *borrowerView) error {
	if err := e.state.PutPremium(marketID, view.premium); err != nil {
		return err
	}
	if err := e.state.PutMarkdownState(marketID, view.markdown); err != nil {
		return err
	}
	if view.dropOblig {
		if err := e.state.DeleteObligation(marketID, view.borrower); err != nil {
			return err
		}
	} else if view.obligation != nil {
		if err := e.state.PutObligation(marketID, view.obligation); err != nil {
			return err
		}
	}
	if err := e.state.PutPosition(marketID, view.position); err != nil {
		return err
	}
	return e.persistMarket(marketID, view.market, view.fees, view.feesChanged)
}

func (e *Engine) persistMarket(marketID string, market *Market, fees *FeeAccrual, feesChanged bool) error {
	if feesChanged {
		if err := e.state.PutFeeAccrual(marketID, fees); err != nil {
			return err
		}
	}
	return e.state.PutMarket(marketID, market)
}

// accrueMarketInterest advances the pool's base interest to the current time.
// Calling it twice at the same instant is a no-op.
func (e *Engine) accrueMarketInterest(marketID string, market *Market) (*FeeAccrual, bool, error) {
	if market == nil {
		return nil, false, ErrMarketNotFound
	}
	fees, err := e.ensureFeeAccrual(marketID)
	if err != nil {
		return nil, false, err
	}
	now := e.now()
	if now <= market.LastAccrualTime {
		return fees, false, nil
	}
	elapsed := now - market.LastAccrualTime
	market.LastAccrualTime = now
	if e.rateModel == nil || market.TotalBorrowAssets.Sign() == 0 {
		return fees, false, nil
	}
	rate := e.rateModel.BorrowRatePerSecond(market.TotalBorrowAssets, market.TotalSupplyAssets)
	interest := wMulDown(market.TotalBorrowAssets, taylorCompounded(rate, elapsed))
	if interest.Sign() <= 0 {
		return fees, false, nil
	}

	// The fee share accrues to the protocol ledger; the remainder lifts the
	// supplier exchange rate.
	feeAmount := bpsMul(interest, market.FeeBps)
	market.TotalBorrowAssets = new(big.Int).Add(market.TotalBorrowAssets, interest)
	supplierShare := new(big.Int).Sub(interest, feeAmount)
	market.TotalSupplyAssets = new(big.Int).Add(market.TotalSupplyAssets, supplierShare)

	if feeAmount.Sign() == 0 {
		return fees, false, nil
	}
	fees.ProtocolFeesWei = new(big.Int).Add(fees.ProtocolFeesWei, feeAmount)
	return fees, true, nil
}

func (e *Engine) resolveSupply(market *Market, assets, shares *big.Int) (*big.Int, *big.Int) {
	if assets != nil && assets.Sign() > 0 {
		return new(big.Int).Set(assets), toSharesDown(assets, market.TotalSupplyAssets, market.TotalSupplyShares)
	}
	return toAssetsUp(shares, market.TotalSupplyAssets, market.TotalSupplyShares), new(big.Int).Set(shares)
}

// debtAssets converts a borrower's borrow shares to assets, rounding up so
// reported debt never understates the obligation.
func (e *Engine) debtAssets(position *Position, market *Market) *big.Int {
	if position == nil || position.BorrowShares == nil || position.BorrowShares.Sign() == 0 {
		return big.NewInt(0)
	}
	return toAssetsUp(position.BorrowShares, market.TotalBorrowAssets, market.TotalBorrowShares)
}

func (e *Engine) ensureMarket(marketID string) (*Market, error) {
	if strings.TrimSpace(marketID) == "" {
		return nil, ErrInvalidMarketID
	}
	market, err := e.state.GetMarket(marketID)
	if err != nil {
		return nil, err
	}
	if market == nil {
		return nil, ErrMarketNotFound
	}
	if market.TotalSupplyAssets == nil {
		market.TotalSupplyAssets = big.NewInt(0)
	}
	if market.TotalSupplyShares == nil {
		market.TotalSupplyShares = big.NewInt(0)
	}
	if market.TotalBorrowAssets == nil {
		market.TotalBorrowAssets = big.NewInt(0)
	}
	if market.TotalBorrowShares == nil {
		market.TotalBorrowShares = big.NewInt(0)
	}
	if market.TotalMarkdown == nil {
		market.TotalMarkdown = big.NewInt(0)
	}
	return market, nil
}

func (e *Engine) ensurePosition(marketID string, addr crypto.Address) (*Position, error) {
	position, err := e.state.GetPosition(marketID, addr)
	if err != nil {
		return nil, err
	}
	if position == nil {
		position = &Position{Address: addr}
	}
	if position.SupplyShares == nil {
		position.SupplyShares = big.NewInt(0)
	}
	if position.BorrowShares == nil {
		position.BorrowShares = big.NewInt(0)
	}
	if position.Collateral == nil {
		position.Collateral = big.NewInt(0)
	}
	return position, nil
}

func (e *Engine) ensurePremium(marketID string, addr crypto.Address) (*BorrowerPremium, error) {
	premium, err := e.state.GetPremium(marketID, addr)
	if err != nil {
		return nil, err
	}
	if premium == nil {
		premium = &BorrowerPremium{Address: addr, LastAccrualTime: e.now()}
	}
	if premium.RatePerSecond == nil {
		premium.RatePerSecond = big.NewInt(0)
	}
	if premium.BorrowSnapshot == nil {
		premium.BorrowSnapshot = big.NewInt(0)
	}
	return premium, nil
}

func (e *Engine) ensureMarkdownState(marketID string, addr crypto.Address) (*MarkdownState, error) {
	markdown, err := e.state.GetMarkdownState(marketID, addr)
	if err != nil {
		return nil, err
	}
	if markdown == nil {
		markdown = &MarkdownState{Address: addr}
	}
	if markdown.LastCalculatedMarkdown == nil {
		markdown.LastCalculatedMarkdown = big.NewInt(0)
	}
	return markdown, nil
}

func (e *Engine) ensureFeeAccrual(marketID string) (*FeeAccrual, error) {
	fees, err := e.state.GetFeeAccrual(marketID)
	if err != nil {
		return nil, err
	}
	if fees == nil {
		fees = &FeeAccrual{}
	}
	if fees.ProtocolFeesWei == nil {
		fees.ProtocolFeesWei = big.NewInt(0)
	}
	return fees, nil
}
