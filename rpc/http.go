package rpc

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"creditline/observability"
	"creditline/observability/logging"
	"creditline/rpc/modules"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20

	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeServerError    = -32000
	codeUnauthorized   = -32001
	codeNotFound       = -32004
)

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      int               `json:"id"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
	ID      int         `json:"id"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// ServerConfig carries the knobs the RPC server needs beyond its module
// dependencies.
type ServerConfig struct {
	// AuthToken protects mutating methods. An empty token disables them.
	AuthToken string
}

// Server exposes the credit engine over JSON-RPC. Engine calls are serialized
// by the server's mutex; the engine itself performs no locking.
type Server struct {
	credit   *modules.CreditModule
	cfg      ServerConfig
	log      *slog.Logger
	handlers map[string]rpcHandler

	mu sync.Mutex
}

type rpcHandler struct {
	fn   func(http.ResponseWriter, *RPCRequest) int
	auth bool
}

func NewServer(credit *modules.CreditModule, cfg ServerConfig, log *slog.Logger) *Server {
	s := &Server{credit: credit, cfg: cfg, log: logging.WithComponent(log, "rpc")}
	s.handlers = map[string]rpcHandler{
		"credit_createMarket":       {s.handleCreateMarket, true},
		"credit_listMarkets":        {s.handleListMarkets, false},
		"credit_getMarket":          {s.handleGetMarket, false},
		"credit_getPosition":        {s.handleGetPosition, false},
		"credit_supply":             {s.handleSupply, true},
		"credit_withdraw":           {s.handleWithdraw, true},
		"credit_borrow":             {s.handleBorrow, true},
		"credit_repay":              {s.handleRepay, true},
		"credit_setCreditLine":      {s.handleSetCreditLine, true},
		"credit_getCreditLine":      {s.handleGetCreditLine, false},
		"credit_accruePremium":      {s.handleAccruePremium, true},
		"credit_accruePremiumBatch": {s.handleAccruePremiumBatch, true},
		"credit_closeCycle":         {s.handleCloseCycle, true},
		"credit_addObligations":     {s.handleAddObligations, true},
		"credit_getRepaymentStatus": {s.handleGetRepaymentStatus, false},
		"credit_getObligation":      {s.handleGetObligation, false},
		"credit_getMarkdown":        {s.handleGetMarkdown, false},
		"credit_settleAccount":      {s.handleSettleAccount, true},
	}
	return s
}

// Router wires the RPC endpoint together with health and metrics surfaces.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Post("/", s.handleRPC)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	return r
}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBytes)
	var req RPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, 0, codeParseError, "invalid JSON request", err.Error())
		observability.ModuleMetrics().Observe("rpc", "parse", http.StatusBadRequest, time.Since(started))
		return
	}
	if req.JSONRPC != jsonRPCVersion || strings.TrimSpace(req.Method) == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "invalid JSON-RPC request", nil)
		observability.ModuleMetrics().Observe("rpc", "invalid", http.StatusBadRequest, time.Since(started))
		return
	}

	status := s.dispatch(w, r, &req)
	observability.ModuleMetrics().Observe("credit", req.Method, status, time.Since(started))
}

// dispatch routes a decoded request to its handler and reports the HTTP status
// it answered with.
func (s *Server) dispatch(w http.ResponseWriter, r *http.Request, req *RPCRequest) int {
	h, ok := s.handlers[req.Method]
	if !ok {
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, fmt.Sprintf("method %q not found", req.Method), nil)
		return http.StatusNotFound
	}
	if h.auth {
		if status := s.requireAuth(w, r, req.ID); status != 0 {
			return status
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return h.fn(w, req)
}

// requireAuth enforces the bearer token on mutating methods. It returns 0 when
// the request may proceed.
func (s *Server) requireAuth(w http.ResponseWriter, r *http.Request, id int) int {
	if s.cfg.AuthToken == "" {
		observability.ModuleMetrics().RecordThrottle("credit", "auth_disabled")
		writeError(w, http.StatusForbidden, id, codeUnauthorized, "mutating methods are disabled: no auth token configured", nil)
		return http.StatusForbidden
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		observability.ModuleMetrics().RecordThrottle("credit", "missing_token")
		writeError(w, http.StatusUnauthorized, id, codeUnauthorized, "missing bearer token", nil)
		return http.StatusUnauthorized
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	if subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.AuthToken)) != 1 {
		observability.ModuleMetrics().RecordThrottle("credit", "invalid_token")
		s.log.Warn("rejected bearer token", logging.MaskField("token", token), slog.String("remote", r.RemoteAddr))
		writeError(w, http.StatusUnauthorized, id, codeUnauthorized, "invalid bearer token", nil)
		return http.StatusUnauthorized
	}
	return 0
}

func writeModuleError(w http.ResponseWriter, id int, err *modules.ModuleError) int {
	status := err.HTTPStatus
	if status == 0 {
		status = http.StatusInternalServerError
	}
	writeError(w, status, id, err.Code, err.Message, err.Data)
	return status
}

func writeResult(w http.ResponseWriter, id int, result interface{}) int {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(RPCResponse{JSONRPC: jsonRPCVersion, Result: result, ID: id})
	return http.StatusOK
}

func writeError(w http.ResponseWriter, status, id, code int, message string, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(RPCResponse{
		JSONRPC: jsonRPCVersion,
		Error:   &RPCError{Code: code, Message: message, Data: data},
		ID:      id,
	})
}

// decodeParams unmarshals the single positional params object the credit
// methods take.
func decodeParams(req *RPCRequest, out interface{}) error {
	if len(req.Params) != 1 {
		return fmt.Errorf("expected exactly one params object")
	}
	if err := json.Unmarshal(req.Params[0], out); err != nil {
		return fmt.Errorf("invalid params: %w", err)
	}
	return nil
}

func writeInvalidParams(w http.ResponseWriter, id int, err error) int {
	writeError(w, http.StatusBadRequest, id, codeInvalidParams, err.Error(), nil)
	return http.StatusBadRequest
}
