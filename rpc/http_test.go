package rpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"creditline/crypto"
	"creditline/native/credit"
	"creditline/rpc/modules"
	"creditline/storage"
)

const testAuthToken = "local-test-token"

type rpcTestEnv struct {
	server *httptest.Server
	now    uint64
}

func newRPCTestEnv(t *testing.T) *rpcTestEnv {
	t.Helper()
	authority := testAddress(0xAA)
	engine := credit.NewEngine(authority, credit.Terms{GraceDuration: 7 * 86_400, DelinquencyDuration: 23 * 86_400})
	engine.SetState(credit.NewStore(storage.NewMemDB()))
	env := &rpcTestEnv{now: 1_700_000_000}
	engine.SetClock(func() uint64 { return env.now })
	if err := engine.CreateMarket(authority, "credit-main", 0); err != nil {
		t.Fatalf("create market: %v", err)
	}
	module := modules.NewCreditModule(engine, authority)
	srv := NewServer(module, ServerConfig{AuthToken: testAuthToken}, nil)
	env.server = httptest.NewServer(srv.Router())
	t.Cleanup(env.server.Close)
	return env
}

func testAddress(suffix byte) crypto.Address {
	raw := make([]byte, 20)
	raw[len(raw)-1] = suffix
	return crypto.NewAddress(crypto.AccountPrefix, raw)
}

func (env *rpcTestEnv) call(t *testing.T, token, method string, params interface{}) (int, RPCResponse) {
	t.Helper()
	body := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
		"params":  []interface{}{params},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, env.server.URL, bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := env.server.Client().Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()
	var decoded RPCResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp.StatusCode, decoded
}

func (env *rpcTestEnv) mustCall(t *testing.T, method string, params interface{}) RPCResponse {
	t.Helper()
	status, resp := env.call(t, testAuthToken, method, params)
	if status != http.StatusOK {
		t.Fatalf("%s: status = %d, error = %+v", method, status, resp.Error)
	}
	if resp.Error != nil {
		t.Fatalf("%s: unexpected error %+v", method, resp.Error)
	}
	return resp
}

func decodeResult(t *testing.T, resp RPCResponse, out interface{}) {
	t.Helper()
	raw, err := json.Marshal(resp.Result)
	if err != nil {
		t.Fatalf("re-marshal result: %v", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		t.Fatalf("decode result: %v", err)
	}
}

func TestRPCRejectsMissingAndBadTokens(t *testing.T) {
	env := newRPCTestEnv(t)
	supplier := testAddress(0x51).String()
	params := amountTxParams{MarketID: "credit-main", Address: supplier, Assets: "1000"}

	status, resp := env.call(t, "", "credit_supply", params)
	if status != http.StatusUnauthorized {
		t.Fatalf("missing token: status = %d, want %d", status, http.StatusUnauthorized)
	}
	if resp.Error == nil || resp.Error.Code != codeUnauthorized {
		t.Fatalf("missing token: error = %+v", resp.Error)
	}

	status, resp = env.call(t, "wrong-token", "credit_supply", params)
	if status != http.StatusUnauthorized {
		t.Fatalf("bad token: status = %d", status)
	}
	if resp.Error == nil || resp.Error.Code != codeUnauthorized {
		t.Fatalf("bad token: error = %+v", resp.Error)
	}

	// Read-only methods stay open.
	status, resp = env.call(t, "", "credit_listMarkets", struct{}{})
	if status != http.StatusOK || resp.Error != nil {
		t.Fatalf("listMarkets without token: status = %d, error = %+v", status, resp.Error)
	}
}

func TestRPCMethodNotFound(t *testing.T) {
	env := newRPCTestEnv(t)
	status, resp := env.call(t, "", "credit_unknownMethod", struct{}{})
	if status != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", status, http.StatusNotFound)
	}
	if resp.Error == nil || resp.Error.Code != codeMethodNotFound {
		t.Fatalf("error = %+v", resp.Error)
	}
}

func TestRPCRejectsMalformedBody(t *testing.T) {
	env := newRPCTestEnv(t)
	resp, err := env.server.Client().Post(env.server.URL, "application/json", bytes.NewReader([]byte("{not json")))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}
	var decoded RPCResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Error == nil || decoded.Error.Code != codeParseError {
		t.Fatalf("error = %+v", decoded.Error)
	}
}

func TestRPCValidatesParams(t *testing.T) {
	env := newRPCTestEnv(t)

	status, resp := env.call(t, testAuthToken, "credit_supply", amountTxParams{
		MarketID: "credit-main", Address: "not-a-bech32-address", Assets: "1000",
	})
	if status != http.StatusBadRequest {
		t.Fatalf("bad address: status = %d", status)
	}
	if resp.Error == nil || resp.Error.Code != codeInvalidParams {
		t.Fatalf("bad address: error = %+v", resp.Error)
	}

	status, resp = env.call(t, testAuthToken, "credit_supply", amountTxParams{
		MarketID: "credit-main", Address: testAddress(0x51).String(), Assets: "-5",
	})
	if status != http.StatusBadRequest {
		t.Fatalf("negative amount: status = %d", status)
	}
	if resp.Error == nil || resp.Error.Code != codeInvalidParams {
		t.Fatalf("negative amount: error = %+v", resp.Error)
	}
}

func TestRPCMapsEngineErrors(t *testing.T) {
	env := newRPCTestEnv(t)
	supplier := testAddress(0x51).String()

	status, resp := env.call(t, "", "credit_getMarket", marketParams{MarketID: "no-such-market"})
	if status != http.StatusNotFound {
		t.Fatalf("unknown market: status = %d", status)
	}
	if resp.Error == nil || resp.Error.Code != codeNotFound {
		t.Fatalf("unknown market: error = %+v", resp.Error)
	}

	// Borrow without a credit line surfaces as 404 too.
	env.mustCall(t, "credit_supply", amountTxParams{MarketID: "credit-main", Address: supplier, Assets: "1000000"})
	status, resp = env.call(t, testAuthToken, "credit_borrow", amountTxParams{
		MarketID: "credit-main", Address: testAddress(0xB0).String(), Assets: "1000",
	})
	if status != http.StatusNotFound {
		t.Fatalf("no credit line: status = %d", status)
	}
	if resp.Error == nil || resp.Error.Code != codeNotFound {
		t.Fatalf("no credit line: error = %+v", resp.Error)
	}
}

func TestRPCLendingFlow(t *testing.T) {
	env := newRPCTestEnv(t)
	supplier := testAddress(0x51).String()
	borrower := testAddress(0xB0).String()

	resp := env.mustCall(t, "credit_supply", amountTxParams{MarketID: "credit-main", Address: supplier, Assets: "1000000"})
	var supplied amountTxResult
	decodeResult(t, resp, &supplied)
	if supplied.Assets != "1000000" {
		t.Fatalf("supplied assets = %s", supplied.Assets)
	}
	if supplied.Shares != "1000000000000" {
		t.Fatalf("minted shares = %s", supplied.Shares)
	}

	env.mustCall(t, "credit_setCreditLine", setCreditLineParams{
		MarketID: "credit-main", Borrower: borrower, Limit: "800000", PremiumRatePerSecond: "0",
	})

	resp = env.mustCall(t, "credit_borrow", amountTxParams{MarketID: "credit-main", Address: borrower, Assets: "500000"})
	var borrowed amountTxResult
	decodeResult(t, resp, &borrowed)
	if borrowed.Assets != "500000" {
		t.Fatalf("borrowed assets = %s", borrowed.Assets)
	}

	resp = env.mustCall(t, "credit_getPosition", accountParams{MarketID: "credit-main", Address: borrower})
	var position credit.Position
	decodeResult(t, resp, &position)
	if got := position.BorrowShares.String(); got != "500000000000" {
		t.Fatalf("borrow shares = %s", got)
	}

	resp = env.mustCall(t, "credit_getRepaymentStatus", accountParams{MarketID: "credit-main", Address: borrower})
	var status modules.RepaymentStatusView
	decodeResult(t, resp, &status)
	if status.Status != "current" {
		t.Fatalf("status = %s", status.Status)
	}

	resp = env.mustCall(t, "credit_repay", amountTxParams{MarketID: "credit-main", Address: borrower, Assets: "500000"})
	var repaid amountTxResult
	decodeResult(t, resp, &repaid)
	if repaid.Assets != "500000" {
		t.Fatalf("repaid assets = %s", repaid.Assets)
	}

	resp = env.mustCall(t, "credit_getMarket", marketParams{MarketID: "credit-main"})
	var view modules.MarketView
	decodeResult(t, resp, &view)
	if got := view.Market.TotalBorrowAssets.String(); got != "0" {
		t.Fatalf("total borrow after repay = %s", got)
	}
	if got := view.Market.TotalSupplyAssets.String(); got != "1000000" {
		t.Fatalf("total supply after repay = %s", got)
	}
}

func TestRPCObligationLifecycle(t *testing.T) {
	env := newRPCTestEnv(t)
	supplier := testAddress(0x51).String()
	borrower := testAddress(0xB0).String()

	env.mustCall(t, "credit_supply", amountTxParams{MarketID: "credit-main", Address: supplier, Assets: "1000000"})
	env.mustCall(t, "credit_setCreditLine", setCreditLineParams{
		MarketID: "credit-main", Borrower: borrower, Limit: "800000", PremiumRatePerSecond: "0",
	})
	env.mustCall(t, "credit_borrow", amountTxParams{MarketID: "credit-main", Address: borrower, Assets: "500000"})

	env.now += 30 * 86_400
	resp := env.mustCall(t, "credit_closeCycle", closeCycleParams{
		MarketID:       "credit-main",
		EndTime:        env.now,
		Borrowers:      []string{borrower},
		PaymentBps:     []uint64{500},
		EndingBalances: []string{"500000"},
	})
	var cycle cycleResult
	decodeResult(t, resp, &cycle)
	if cycle.CycleID != 0 {
		t.Fatalf("cycle id = %d", cycle.CycleID)
	}

	resp = env.mustCall(t, "credit_getObligation", accountParams{MarketID: "credit-main", Address: borrower})
	var obligation credit.RepaymentObligation
	decodeResult(t, resp, &obligation)
	if got := obligation.AmountDue.String(); got != "25000" {
		t.Fatalf("amount due = %s", got)
	}

	// A short payment is an all-or-nothing failure.
	status, errResp := env.call(t, testAuthToken, "credit_repay", amountTxParams{
		MarketID: "credit-main", Address: borrower, Assets: "24999",
	})
	if status != http.StatusBadRequest {
		t.Fatalf("partial payment: status = %d", status)
	}
	if errResp.Error == nil || errResp.Error.Code != codeInvalidParams {
		t.Fatalf("partial payment: error = %+v", errResp.Error)
	}

	env.mustCall(t, "credit_repay", amountTxParams{MarketID: "credit-main", Address: borrower, Assets: "25000"})
	resp = env.mustCall(t, "credit_getRepaymentStatus", accountParams{MarketID: "credit-main", Address: borrower})
	var repayStatus modules.RepaymentStatusView
	decodeResult(t, resp, &repayStatus)
	if repayStatus.Status != "current" {
		t.Fatalf("status after clearing obligation = %s", repayStatus.Status)
	}
}

func TestRPCHealthAndMetricsEndpoints(t *testing.T) {
	env := newRPCTestEnv(t)
	for _, path := range []string{"/healthz", "/metrics"} {
		resp, err := env.server.Client().Get(env.server.URL + path)
		if err != nil {
			t.Fatalf("get %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s: status = %d", path, resp.StatusCode)
		}
	}
}

func TestRPCAuthRejectionCountsThrottle(t *testing.T) {
	env := newRPCTestEnv(t)
	supplier := testAddress(0x51).String()
	params := amountTxParams{MarketID: "credit-main", Address: supplier, Assets: "1000"}

	status, _ := env.call(t, "wrong-token", "credit_supply", params)
	if status != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", status, http.StatusUnauthorized)
	}

	resp, err := env.server.Client().Get(env.server.URL + "/metrics")
	if err != nil {
		t.Fatalf("get /metrics: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read metrics body: %v", err)
	}
	if !strings.Contains(string(body), `creditline_module_throttles_total{module="credit",reason="invalid_token"}`) {
		t.Fatalf("throttle counter missing from metrics output")
	}
}

func TestRPCSettleAccount(t *testing.T) {
	env := newRPCTestEnv(t)
	supplier := testAddress(0x51).String()
	borrower := testAddress(0xB0).String()

	env.mustCall(t, "credit_supply", amountTxParams{MarketID: "credit-main", Address: supplier, Assets: "1000000"})
	env.mustCall(t, "credit_setCreditLine", setCreditLineParams{
		MarketID: "credit-main", Borrower: borrower, Limit: "800000", PremiumRatePerSecond: "0",
	})
	env.mustCall(t, "credit_borrow", amountTxParams{MarketID: "credit-main", Address: borrower, Assets: "500000"})

	resp := env.mustCall(t, "credit_settleAccount", settleParams{
		MarketID: "credit-main", Borrower: borrower, CoveringFunds: "200000",
	})
	var settled settleResult
	decodeResult(t, resp, &settled)
	if settled.Repaid != "200000" {
		t.Fatalf("repaid = %s", settled.Repaid)
	}
	if settled.WrittenOff != "300000" {
		t.Fatalf("written off = %s", settled.WrittenOff)
	}

	resp = env.mustCall(t, "credit_getMarket", marketParams{MarketID: "credit-main"})
	var view modules.MarketView
	decodeResult(t, resp, &view)
	if got := view.Market.TotalSupplyAssets.String(); got != "700000" {
		t.Fatalf("supply after write-off = %s", got)
	}
	if fmt.Sprint(view.Market.TotalBorrowAssets) != "0" {
		t.Fatalf("borrow after settlement = %s", view.Market.TotalBorrowAssets)
	}
}
