package modules

import (
	"errors"
	"math/big"
	"net/http"

	"creditline/crypto"
	nativecommon "creditline/native/common"
	"creditline/native/credit"
	"creditline/observability"
)

// CreditModule adapts the credit engine to the JSON-RPC layer. All amounts
// cross the boundary as *big.Int; formatting stays with the handlers.
type CreditModule struct {
	engine    *credit.Engine
	authority crypto.Address
}

// NewCreditModule binds the module to an engine and the authority address used
// for administrative calls arriving over authenticated RPC.
func NewCreditModule(engine *credit.Engine, authority crypto.Address) *CreditModule {
	return &CreditModule{engine: engine, authority: authority}
}

// refreshPoolMetrics publishes the market's pool gauges after a successful
// mutation. Metric failures never affect the call outcome.
func (m *CreditModule) refreshPoolMetrics(marketID string) {
	market, err := m.engine.GetMarket(marketID)
	if err != nil || market == nil {
		return
	}
	fees, err := m.engine.ProtocolFees(marketID)
	if err != nil {
		fees = nil
	}
	observability.Ledger().RecordPool(marketID, market.TotalSupplyAssets, market.TotalBorrowAssets, market.TotalMarkdown, fees)
}

func (m *CreditModule) moduleUnavailable() *ModuleError {
	return &ModuleError{HTTPStatus: http.StatusInternalServerError, Code: codeServerError, Message: "credit module not available"}
}

func (m *CreditModule) ready() *ModuleError {
	if m == nil || m.engine == nil {
		return m.moduleUnavailable()
	}
	return nil
}

// MarketView is the RPC-facing summary of a market.
type MarketView struct {
	ID           string                `json:"id"`
	Market       *credit.Market        `json:"market"`
	ProtocolFees *big.Int              `json:"protocolFees"`
	Cycles       []credit.PaymentCycle `json:"cycles"`
}

func (m *CreditModule) CreateMarket(marketID string, feeBps uint64) *ModuleError {
	if err := m.ready(); err != nil {
		return err
	}
	if err := m.engine.CreateMarket(m.authority, marketID, feeBps); err != nil {
		return m.wrapError(err)
	}
	return nil
}

func (m *CreditModule) ListMarkets() ([]string, *ModuleError) {
	if err := m.ready(); err != nil {
		return nil, err
	}
	ids, err := m.engine.ListMarkets()
	if err != nil {
		return nil, m.wrapError(err)
	}
	return ids, nil
}

func (m *CreditModule) GetMarket(marketID string) (*MarketView, *ModuleError) {
	if err := m.ready(); err != nil {
		return nil, err
	}
	market, err := m.engine.GetMarket(marketID)
	if err != nil {
		return nil, m.wrapError(err)
	}
	fees, err := m.engine.ProtocolFees(marketID)
	if err != nil {
		return nil, m.wrapError(err)
	}
	cycles, err := m.engine.PaymentCyclesOf(marketID)
	if err != nil {
		return nil, m.wrapError(err)
	}
	return &MarketView{ID: marketID, Market: market, ProtocolFees: fees, Cycles: cycles}, nil
}

func (m *CreditModule) GetPosition(marketID string, addr crypto.Address) (*credit.Position, *ModuleError) {
	if err := m.ready(); err != nil {
		return nil, err
	}
	position, err := m.engine.GetPosition(marketID, addr)
	if err != nil {
		return nil, m.wrapError(err)
	}
	return position, nil
}

func (m *CreditModule) Supply(supplier crypto.Address, marketID string, assets, shares *big.Int) (*big.Int, *big.Int, *ModuleError) {
	if err := m.ready(); err != nil {
		return nil, nil, err
	}
	suppliedAssets, mintedShares, err := m.engine.Supply(supplier, marketID, assets, shares)
	if err != nil {
		return nil, nil, m.wrapError(err)
	}
	m.refreshPoolMetrics(marketID)
	return suppliedAssets, mintedShares, nil
}

func (m *CreditModule) Withdraw(supplier crypto.Address, marketID string, assets, shares *big.Int) (*big.Int, *big.Int, *ModuleError) {
	if err := m.ready(); err != nil {
		return nil, nil, err
	}
	withdrawnAssets, burnedShares, err := m.engine.Withdraw(supplier, marketID, assets, shares)
	if err != nil {
		return nil, nil, m.wrapError(err)
	}
	m.refreshPoolMetrics(marketID)
	return withdrawnAssets, burnedShares, nil
}

func (m *CreditModule) Borrow(borrower crypto.Address, marketID string, assets, shares *big.Int) (*big.Int, *big.Int, *ModuleError) {
	if err := m.ready(); err != nil {
		return nil, nil, err
	}
	borrowedAssets, issuedShares, err := m.engine.Borrow(borrower, marketID, assets, shares)
	if err != nil {
		return nil, nil, m.wrapError(err)
	}
	m.refreshPoolMetrics(marketID)
	return borrowedAssets, issuedShares, nil
}

func (m *CreditModule) Repay(borrower crypto.Address, marketID string, assets, shares *big.Int) (*big.Int, *big.Int, *ModuleError) {
	if err := m.ready(); err != nil {
		return nil, nil, err
	}
	repaidAssets, retiredShares, err := m.engine.Repay(borrower, marketID, assets, shares)
	if err != nil {
		return nil, nil, m.wrapError(err)
	}
	m.refreshPoolMetrics(marketID)
	return repaidAssets, retiredShares, nil
}

func (m *CreditModule) SetCreditLine(marketID string, borrower crypto.Address, limit, premiumRatePerSecond *big.Int) *ModuleError {
	if err := m.ready(); err != nil {
		return err
	}
	if err := m.engine.SetCreditLine(m.authority, marketID, borrower, limit, premiumRatePerSecond); err != nil {
		return m.wrapError(err)
	}
	return nil
}

func (m *CreditModule) GetCreditLine(marketID string, borrower crypto.Address) (*credit.CreditLine, *ModuleError) {
	if err := m.ready(); err != nil {
		return nil, err
	}
	line, err := m.engine.CreditLineOf(marketID, borrower)
	if err != nil {
		return nil, m.wrapError(err)
	}
	return line, nil
}

func (m *CreditModule) AccruePremium(marketID string, borrower crypto.Address) *ModuleError {
	if err := m.ready(); err != nil {
		return err
	}
	if err := m.engine.AccrueBorrowerPremium(marketID, borrower); err != nil {
		return m.wrapError(err)
	}
	return nil
}

func (m *CreditModule) AccruePremiumBatch(marketID string, borrowers []crypto.Address) *ModuleError {
	if err := m.ready(); err != nil {
		return err
	}
	if err := m.engine.AccruePremiumsForBorrowers(marketID, borrowers); err != nil {
		return m.wrapError(err)
	}
	return nil
}

func (m *CreditModule) CloseCycle(marketID string, endTime uint64, borrowers []crypto.Address, bps []uint64, endingBalances []*big.Int) (uint64, *ModuleError) {
	if err := m.ready(); err != nil {
		return 0, err
	}
	cycleID, err := m.engine.CloseCycleAndPostObligations(m.authority, marketID, endTime, borrowers, bps, endingBalances)
	if err != nil {
		return 0, m.wrapError(err)
	}
	return cycleID, nil
}

func (m *CreditModule) AddObligations(marketID string, borrowers []crypto.Address, bps []uint64, endingBalances []*big.Int) (uint64, *ModuleError) {
	if err := m.ready(); err != nil {
		return 0, err
	}
	cycleID, err := m.engine.AddObligationsToLatestCycle(m.authority, marketID, borrowers, bps, endingBalances)
	if err != nil {
		return 0, m.wrapError(err)
	}
	return cycleID, nil
}

// RepaymentStatusView pairs the derived status with its start timestamp.
type RepaymentStatusView struct {
	Status    string `json:"status"`
	StartedAt uint64 `json:"startedAt,omitempty"`
}

func (m *CreditModule) GetRepaymentStatus(marketID string, borrower crypto.Address) (*RepaymentStatusView, *ModuleError) {
	if err := m.ready(); err != nil {
		return nil, err
	}
	status, startedAt, err := m.engine.RepaymentStatusOf(marketID, borrower)
	if err != nil {
		return nil, m.wrapError(err)
	}
	return &RepaymentStatusView{Status: status.String(), StartedAt: startedAt}, nil
}

func (m *CreditModule) GetObligation(marketID string, borrower crypto.Address) (*credit.RepaymentObligation, *ModuleError) {
	if err := m.ready(); err != nil {
		return nil, err
	}
	obligation, err := m.engine.RepaymentObligationOf(marketID, borrower)
	if err != nil {
		return nil, m.wrapError(err)
	}
	return obligation, nil
}

func (m *CreditModule) GetMarkdown(marketID string, borrower crypto.Address) (*credit.MarkdownState, *ModuleError) {
	if err := m.ready(); err != nil {
		return nil, err
	}
	markdown, err := m.engine.MarkdownStateOf(marketID, borrower)
	if err != nil {
		return nil, m.wrapError(err)
	}
	return markdown, nil
}

func (m *CreditModule) SettleAccount(marketID string, borrower crypto.Address, coveringFunds *big.Int) (*big.Int, *big.Int, *ModuleError) {
	if err := m.ready(); err != nil {
		return nil, nil, err
	}
	repaid, writtenOff, err := m.engine.SettleAccount(m.authority, marketID, borrower, coveringFunds)
	if err != nil {
		return nil, nil, m.wrapError(err)
	}
	m.refreshPoolMetrics(marketID)
	return repaid, writtenOff, nil
}

// wrapError translates engine sentinel errors into module errors with the
// appropriate HTTP status.
func (m *CreditModule) wrapError(err error) *ModuleError {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, nativecommon.ErrModulePaused):
		return &ModuleError{HTTPStatus: http.StatusServiceUnavailable, Code: codePaused, Message: err.Error()}
	case errors.Is(err, credit.ErrUnauthorized):
		return &ModuleError{HTTPStatus: http.StatusForbidden, Code: codeUnauthorized, Message: err.Error()}
	case errors.Is(err, credit.ErrMarketNotFound),
		errors.Is(err, credit.ErrNoCreditLine),
		errors.Is(err, credit.ErrNoCycle):
		return &ModuleError{HTTPStatus: http.StatusNotFound, Code: codeNotFound, Message: err.Error()}
	case errors.Is(err, credit.ErrMarketExists),
		errors.Is(err, credit.ErrInvalidMarketID),
		errors.Is(err, credit.ErrInvalidAmount),
		errors.Is(err, credit.ErrInconsistentInput),
		errors.Is(err, credit.ErrInsufficientLiquidity),
		errors.Is(err, credit.ErrInsufficientShares),
		errors.Is(err, credit.ErrNoDebt),
		errors.Is(err, credit.ErrZeroAddress),
		errors.Is(err, credit.ErrCreditLineExceeded),
		errors.Is(err, credit.ErrOutstandingObligation),
		errors.Is(err, credit.ErrPartialPayment),
		errors.Is(err, credit.ErrLengthMismatch),
		errors.Is(err, credit.ErrInvalidBps),
		errors.Is(err, credit.ErrCycleOutOfOrder),
		errors.Is(err, credit.ErrCycleInFuture),
		errors.Is(err, credit.ErrInvalidFee),
		errors.Is(err, credit.ErrMarkdownManagerRejected):
		return &ModuleError{HTTPStatus: http.StatusBadRequest, Code: codeInvalidParams, Message: err.Error()}
	default:
		return &ModuleError{HTTPStatus: http.StatusInternalServerError, Code: codeServerError, Message: err.Error()}
	}
}
