package rpc

import (
	"math/big"
	"net/http"

	"creditline/crypto"
	"creditline/rpc/modules"
)

type createMarketParams struct {
	MarketID string `json:"marketId"`
	FeeBps   uint64 `json:"feeBps"`
}

func (s *Server) handleCreateMarket(w http.ResponseWriter, req *RPCRequest) int {
	var params createMarketParams
	if err := decodeParams(req, &params); err != nil {
		return writeInvalidParams(w, req.ID, err)
	}
	if modErr := s.credit.CreateMarket(params.MarketID, params.FeeBps); modErr != nil {
		return writeModuleError(w, req.ID, modErr)
	}
	return writeResult(w, req.ID, map[string]string{"marketId": params.MarketID})
}

func (s *Server) handleListMarkets(w http.ResponseWriter, req *RPCRequest) int {
	markets, modErr := s.credit.ListMarkets()
	if modErr != nil {
		return writeModuleError(w, req.ID, modErr)
	}
	return writeResult(w, req.ID, markets)
}

type marketParams struct {
	MarketID string `json:"marketId"`
}

func (s *Server) handleGetMarket(w http.ResponseWriter, req *RPCRequest) int {
	var params marketParams
	if err := decodeParams(req, &params); err != nil {
		return writeInvalidParams(w, req.ID, err)
	}
	view, modErr := s.credit.GetMarket(params.MarketID)
	if modErr != nil {
		return writeModuleError(w, req.ID, modErr)
	}
	return writeResult(w, req.ID, view)
}

type accountParams struct {
	MarketID string `json:"marketId"`
	Address  string `json:"address"`
}

func (p accountParams) decode() (string, crypto.Address, error) {
	addr, err := decodeBech32(p.Address)
	if err != nil {
		return "", crypto.Address{}, err
	}
	return p.MarketID, addr, nil
}

func (s *Server) handleGetPosition(w http.ResponseWriter, req *RPCRequest) int {
	var params accountParams
	if err := decodeParams(req, &params); err != nil {
		return writeInvalidParams(w, req.ID, err)
	}
	marketID, addr, err := params.decode()
	if err != nil {
		return writeInvalidParams(w, req.ID, err)
	}
	position, modErr := s.credit.GetPosition(marketID, addr)
	if modErr != nil {
		return writeModuleError(w, req.ID, modErr)
	}
	return writeResult(w, req.ID, position)
}

type amountTxParams struct {
	MarketID string `json:"marketId"`
	Address  string `json:"address"`
	Assets   string `json:"assets,omitempty"`
	Shares   string `json:"shares,omitempty"`
}

type amountTxResult struct {
	Assets string `json:"assets"`
	Shares string `json:"shares"`
}

// handleAmountTx is the shared body of supply, withdraw, borrow and repay,
// which all take the same one-of-assets-or-shares input.
func (s *Server) handleAmountTx(w http.ResponseWriter, req *RPCRequest, fn func(crypto.Address, string, *big.Int, *big.Int) (*big.Int, *big.Int, *modules.ModuleError)) int {
	var params amountTxParams
	if err := decodeParams(req, &params); err != nil {
		return writeInvalidParams(w, req.ID, err)
	}
	addr, err := decodeBech32(params.Address)
	if err != nil {
		return writeInvalidParams(w, req.ID, err)
	}
	assets, err := parseOptionalAmount(params.Assets)
	if err != nil {
		return writeInvalidParams(w, req.ID, err)
	}
	shares, err := parseOptionalAmount(params.Shares)
	if err != nil {
		return writeInvalidParams(w, req.ID, err)
	}
	movedAssets, movedShares, modErr := fn(addr, params.MarketID, assets, shares)
	if modErr != nil {
		return writeModuleError(w, req.ID, modErr)
	}
	return writeResult(w, req.ID, amountTxResult{Assets: formatAmount(movedAssets), Shares: formatAmount(movedShares)})
}

func (s *Server) handleSupply(w http.ResponseWriter, req *RPCRequest) int {
	return s.handleAmountTx(w, req, s.credit.Supply)
}

func (s *Server) handleWithdraw(w http.ResponseWriter, req *RPCRequest) int {
	return s.handleAmountTx(w, req, s.credit.Withdraw)
}

func (s *Server) handleBorrow(w http.ResponseWriter, req *RPCRequest) int {
	return s.handleAmountTx(w, req, s.credit.Borrow)
}

func (s *Server) handleRepay(w http.ResponseWriter, req *RPCRequest) int {
	return s.handleAmountTx(w, req, s.credit.Repay)
}

type setCreditLineParams struct {
	MarketID             string `json:"marketId"`
	Borrower             string `json:"borrower"`
	Limit                string `json:"limit"`
	PremiumRatePerSecond string `json:"premiumRatePerSecond"`
}

func (s *Server) handleSetCreditLine(w http.ResponseWriter, req *RPCRequest) int {
	var params setCreditLineParams
	if err := decodeParams(req, &params); err != nil {
		return writeInvalidParams(w, req.ID, err)
	}
	borrower, err := decodeBech32(params.Borrower)
	if err != nil {
		return writeInvalidParams(w, req.ID, err)
	}
	limit, err := parseAmount(params.Limit)
	if err != nil {
		return writeInvalidParams(w, req.ID, err)
	}
	rate, err := parseAmount(params.PremiumRatePerSecond)
	if err != nil {
		return writeInvalidParams(w, req.ID, err)
	}
	if modErr := s.credit.SetCreditLine(params.MarketID, borrower, limit, rate); modErr != nil {
		return writeModuleError(w, req.ID, modErr)
	}
	return writeResult(w, req.ID, map[string]bool{"ok": true})
}

func (s *Server) handleGetCreditLine(w http.ResponseWriter, req *RPCRequest) int {
	var params accountParams
	if err := decodeParams(req, &params); err != nil {
		return writeInvalidParams(w, req.ID, err)
	}
	marketID, borrower, err := params.decode()
	if err != nil {
		return writeInvalidParams(w, req.ID, err)
	}
	line, modErr := s.credit.GetCreditLine(marketID, borrower)
	if modErr != nil {
		return writeModuleError(w, req.ID, modErr)
	}
	return writeResult(w, req.ID, line)
}

func (s *Server) handleAccruePremium(w http.ResponseWriter, req *RPCRequest) int {
	var params accountParams
	if err := decodeParams(req, &params); err != nil {
		return writeInvalidParams(w, req.ID, err)
	}
	marketID, borrower, err := params.decode()
	if err != nil {
		return writeInvalidParams(w, req.ID, err)
	}
	if modErr := s.credit.AccruePremium(marketID, borrower); modErr != nil {
		return writeModuleError(w, req.ID, modErr)
	}
	return writeResult(w, req.ID, map[string]bool{"ok": true})
}

type accrueBatchParams struct {
	MarketID  string   `json:"marketId"`
	Borrowers []string `json:"borrowers"`
}

func (s *Server) handleAccruePremiumBatch(w http.ResponseWriter, req *RPCRequest) int {
	var params accrueBatchParams
	if err := decodeParams(req, &params); err != nil {
		return writeInvalidParams(w, req.ID, err)
	}
	borrowers, err := decodeBech32List(params.Borrowers)
	if err != nil {
		return writeInvalidParams(w, req.ID, err)
	}
	if modErr := s.credit.AccruePremiumBatch(params.MarketID, borrowers); modErr != nil {
		return writeModuleError(w, req.ID, modErr)
	}
	return writeResult(w, req.ID, map[string]int{"accrued": len(borrowers)})
}

type closeCycleParams struct {
	MarketID       string   `json:"marketId"`
	EndTime        uint64   `json:"endTime"`
	Borrowers      []string `json:"borrowers"`
	PaymentBps     []uint64 `json:"paymentBps"`
	EndingBalances []string `json:"endingBalances"`
}

type cycleResult struct {
	CycleID uint64 `json:"cycleId"`
}

func (s *Server) handleCloseCycle(w http.ResponseWriter, req *RPCRequest) int {
	var params closeCycleParams
	if err := decodeParams(req, &params); err != nil {
		return writeInvalidParams(w, req.ID, err)
	}
	borrowers, err := decodeBech32List(params.Borrowers)
	if err != nil {
		return writeInvalidParams(w, req.ID, err)
	}
	balances, err := parseAmountList(params.EndingBalances)
	if err != nil {
		return writeInvalidParams(w, req.ID, err)
	}
	cycleID, modErr := s.credit.CloseCycle(params.MarketID, params.EndTime, borrowers, params.PaymentBps, balances)
	if modErr != nil {
		return writeModuleError(w, req.ID, modErr)
	}
	return writeResult(w, req.ID, cycleResult{CycleID: cycleID})
}

type addObligationsParams struct {
	MarketID       string   `json:"marketId"`
	Borrowers      []string `json:"borrowers"`
	PaymentBps     []uint64 `json:"paymentBps"`
	EndingBalances []string `json:"endingBalances"`
}

func (s *Server) handleAddObligations(w http.ResponseWriter, req *RPCRequest) int {
	var params addObligationsParams
	if err := decodeParams(req, &params); err != nil {
		return writeInvalidParams(w, req.ID, err)
	}
	borrowers, err := decodeBech32List(params.Borrowers)
	if err != nil {
		return writeInvalidParams(w, req.ID, err)
	}
	balances, err := parseAmountList(params.EndingBalances)
	if err != nil {
		return writeInvalidParams(w, req.ID, err)
	}
	cycleID, modErr := s.credit.AddObligations(params.MarketID, borrowers, params.PaymentBps, balances)
	if modErr != nil {
		return writeModuleError(w, req.ID, modErr)
	}
	return writeResult(w, req.ID, cycleResult{CycleID: cycleID})
}

func (s *Server) handleGetRepaymentStatus(w http.ResponseWriter, req *RPCRequest) int {
	var params accountParams
	if err := decodeParams(req, &params); err != nil {
		return writeInvalidParams(w, req.ID, err)
	}
	marketID, borrower, err := params.decode()
	if err != nil {
		return writeInvalidParams(w, req.ID, err)
	}
	status, modErr := s.credit.GetRepaymentStatus(marketID, borrower)
	if modErr != nil {
		return writeModuleError(w, req.ID, modErr)
	}
	return writeResult(w, req.ID, status)
}

func (s *Server) handleGetObligation(w http.ResponseWriter, req *RPCRequest) int {
	var params accountParams
	if err := decodeParams(req, &params); err != nil {
		return writeInvalidParams(w, req.ID, err)
	}
	marketID, borrower, err := params.decode()
	if err != nil {
		return writeInvalidParams(w, req.ID, err)
	}
	obligation, modErr := s.credit.GetObligation(marketID, borrower)
	if modErr != nil {
		return writeModuleError(w, req.ID, modErr)
	}
	return writeResult(w, req.ID, obligation)
}

func (s *Server) handleGetMarkdown(w http.ResponseWriter, req *RPCRequest) int {
	var params accountParams
	if err := decodeParams(req, &params); err != nil {
		return writeInvalidParams(w, req.ID, err)
	}
	marketID, borrower, err := params.decode()
	if err != nil {
		return writeInvalidParams(w, req.ID, err)
	}
	markdown, modErr := s.credit.GetMarkdown(marketID, borrower)
	if modErr != nil {
		return writeModuleError(w, req.ID, modErr)
	}
	return writeResult(w, req.ID, markdown)
}

type settleParams struct {
	MarketID      string `json:"marketId"`
	Borrower      string `json:"borrower"`
	CoveringFunds string `json:"coveringFunds,omitempty"`
}

type settleResult struct {
	Repaid     string `json:"repaid"`
	WrittenOff string `json:"writtenOff"`
}

func (s *Server) handleSettleAccount(w http.ResponseWriter, req *RPCRequest) int {
	var params settleParams
	if err := decodeParams(req, &params); err != nil {
		return writeInvalidParams(w, req.ID, err)
	}
	borrower, err := decodeBech32(params.Borrower)
	if err != nil {
		return writeInvalidParams(w, req.ID, err)
	}
	funds, err := parseOptionalAmount(params.CoveringFunds)
	if err != nil {
		return writeInvalidParams(w, req.ID, err)
	}
	repaid, writtenOff, modErr := s.credit.SettleAccount(params.MarketID, borrower, funds)
	if modErr != nil {
		return writeModuleError(w, req.ID, modErr)
	}
	return writeResult(w, req.ID, settleResult{Repaid: formatAmount(repaid), WrittenOff: formatAmount(writtenOff)})
}
