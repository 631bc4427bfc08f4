// Package httpserver exposes HTTP handlers for funding, strategy management,
// and execution control.
package httpserver

import (
	"errors"
	"net/http"
	"sort"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/coachpo/dcaflow/errs"
	"github.com/coachpo/dcaflow/internal/engine"
	"github.com/coachpo/dcaflow/internal/schedule"
	"github.com/coachpo/dcaflow/internal/strategy"
)

const (
	maxJSONBodyBytes int64 = 1 << 20 // 1 MiB

	strategiesPath       = "/strategies"
	strategyDetailPrefix = strategiesPath + "/"

	depositPath  = "/balances/deposit"
	withdrawPath = "/balances/withdraw"
	balancePath  = "/balances/"

	batchPath     = "/executions/batch"
	duePath       = "/executions/due"
	adminPath     = "/admin/pause"
	tickPath      = "/admin/tick"
	healthzPath   = "/healthz"
	ownerIDHeader = "X-Owner"

	requestIDHeader = "X-Request-Id"
)

type handlerFunc func(http.ResponseWriter, *http.Request)

type httpServer struct {
	strategies *strategy.Store
	controller *engine.Controller
	gateway    *engine.Gateway
	clock      *schedule.TickClock
}

// NewHandler creates the HTTP handler for the DCAFlow control surface. The
// tick clock is exposed read/write so an external chain-height follower can
// push new heights through the admin surface.
func NewHandler(strategies *strategy.Store, controller *engine.Controller, gateway *engine.Gateway, clock *schedule.TickClock) http.Handler {
	server := &httpServer{strategies: strategies, controller: controller, gateway: gateway, clock: clock}
	mux := http.NewServeMux()

	mux.Handle(strategiesPath, server.methodHandlers(map[string]handlerFunc{
		http.MethodGet:  server.listStrategies,
		http.MethodPost: server.createStrategy,
	}))
	mux.Handle(strategyDetailPrefix, http.HandlerFunc(server.handleStrategy))

	mux.Handle(depositPath, server.methodHandlers(map[string]handlerFunc{
		http.MethodPost: server.deposit,
	}))
	mux.Handle(withdrawPath, server.methodHandlers(map[string]handlerFunc{
		http.MethodPost: server.withdraw,
	}))
	mux.Handle(balancePath, server.methodHandlers(map[string]handlerFunc{
		http.MethodGet: server.getBalance,
	}))

	mux.Handle(batchPath, server.methodHandlers(map[string]handlerFunc{
		http.MethodPost: server.executeBatch,
	}))
	mux.Handle(duePath, server.methodHandlers(map[string]handlerFunc{
		http.MethodGet: server.listDue,
	}))
	mux.Handle(adminPath, server.methodHandlers(map[string]handlerFunc{
		http.MethodGet: server.getPause,
		http.MethodPut: server.setPause,
	}))
	mux.Handle(tickPath, server.methodHandlers(map[string]handlerFunc{
		http.MethodGet: server.getTick,
		http.MethodPut: server.setTick,
	}))
	mux.Handle(healthzPath, server.methodHandlers(map[string]handlerFunc{
		http.MethodGet: server.healthz,
	}))

	return withRequestID(withCORS(mux))
}

func (s *httpServer) methodHandlers(handlers map[string]handlerFunc) http.Handler {
	allowed := allowedMethods(handlers)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if handler, ok := handlers[r.Method]; ok {
			handler(w, r)
			return
		}
		methodNotAllowed(w, allowed...)
	})
}

func allowedMethods(handlers map[string]handlerFunc) []string {
	if len(handlers) == 0 {
		return nil
	}
	allowed := make([]string, 0, len(handlers))
	for method := range handlers {
		allowed = append(allowed, method)
	}
	sort.Strings(allowed)
	return allowed
}

type fundingPayload struct {
	Owner  string `json:"owner"`
	Asset  string `json:"asset"`
	Amount uint64 `json:"amount"`
}

type createStrategyPayload struct {
	Owner              string `json:"owner"`
	AssetIn            string `json:"assetIn"`
	AssetOut           string `json:"assetOut"`
	AmountPerExecution uint64 `json:"amountPerExecution"`
	Frequency          uint64 `json:"frequency"`
	MaxSlippageBps     uint64 `json:"maxSlippageBps"`
}

type updateStrategyPayload struct {
	AmountPerExecution uint64 `json:"amountPerExecution"`
	Frequency          uint64 `json:"frequency"`
	MaxSlippageBps     uint64 `json:"maxSlippageBps"`
}

type batchPayload struct {
	StrategyIDs []uint64 `json:"strategyIds"`
}

type batchItemPayload struct {
	StrategyID uint64         `json:"strategyId"`
	Result     *engine.Result `json:"result,omitempty"`
	Error      string         `json:"error,omitempty"`
	Code       string         `json:"code,omitempty"`
}

type pausePayload struct {
	Paused bool `json:"paused"`
}

func (s *httpServer) deposit(w http.ResponseWriter, r *http.Request) {
	limitRequestBody(w, r)
	var payload fundingPayload
	if err := decodeBody(r, &payload); err != nil {
		writeDecodeError(w, err)
		return
	}
	newBalance, err := s.gateway.Deposit(r.Context(), payload.Owner, payload.Asset, payload.Amount)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"owner": payload.Owner, "asset": payload.Asset, "balance": newBalance,
	})
}

func (s *httpServer) withdraw(w http.ResponseWriter, r *http.Request) {
	limitRequestBody(w, r)
	var payload fundingPayload
	if err := decodeBody(r, &payload); err != nil {
		writeDecodeError(w, err)
		return
	}
	newBalance, err := s.gateway.Withdraw(r.Context(), payload.Owner, payload.Asset, payload.Amount)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"owner": payload.Owner, "asset": payload.Asset, "balance": newBalance,
	})
}

// getBalance serves /balances/{owner}/{asset}.
func (s *httpServer) getBalance(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, balancePath), "/")
	owner, asset, ok := strings.Cut(rest, "/")
	if !ok || strings.TrimSpace(owner) == "" || strings.TrimSpace(asset) == "" {
		writeError(w, http.StatusNotFound, "owner and asset required")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"owner": owner, "asset": asset, "balance": s.controller.Balance(owner, asset),
	})
}

func (s *httpServer) listStrategies(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"strategies": s.strategies.List()})
}

func (s *httpServer) createStrategy(w http.ResponseWriter, r *http.Request) {
	limitRequestBody(w, r)
	var payload createStrategyPayload
	if err := decodeBody(r, &payload); err != nil {
		writeDecodeError(w, err)
		return
	}
	payload.Owner = strings.TrimSpace(payload.Owner)
	if payload.Owner == "" {
		writeError(w, http.StatusBadRequest, "owner required")
		return
	}
	record, err := s.strategies.Create(payload.Owner, payload.AssetIn, payload.AssetOut,
		payload.AmountPerExecution, payload.Frequency, payload.MaxSlippageBps, s.clock.Now())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, record)
}

func (s *httpServer) handleStrategy(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, strategyDetailPrefix), "/")
	if rest == "" {
		writeError(w, http.StatusNotFound, "strategy id required")
		return
	}

	rawID, action, hasAction := strings.Cut(rest, "/")
	id, err := strconv.ParseUint(strings.TrimSpace(rawID), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "strategy id must be a positive integer")
		return
	}

	if !hasAction {
		s.handleStrategyResource(w, r, id)
		return
	}
	s.handleStrategyAction(w, r, id, strings.TrimSpace(action))
}

func (s *httpServer) handleStrategyResource(w http.ResponseWriter, r *http.Request, id uint64) {
	switch r.Method {
	case http.MethodGet:
		record, err := s.controller.Strategy(id)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, record)
	case http.MethodPut:
		caller, ok := requireOwner(w, r)
		if !ok {
			return
		}
		limitRequestBody(w, r)
		var payload updateStrategyPayload
		if err := decodeBody(r, &payload); err != nil {
			writeDecodeError(w, err)
			return
		}
		record, err := s.strategies.Update(id, caller,
			payload.AmountPerExecution, payload.Frequency, payload.MaxSlippageBps, s.clock.Now())
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, record)
	default:
		methodNotAllowed(w, http.MethodGet, http.MethodPut)
	}
}

func (s *httpServer) handleStrategyAction(w http.ResponseWriter, r *http.Request, id uint64, action string) {
	switch action {
	case "performance":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, http.MethodGet)
			return
		}
		report, err := s.controller.Performance(r.Context(), id)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, report)
	case "due":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, http.MethodGet)
			return
		}
		due, err := s.controller.IsDue(id)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"strategyId": id, "due": due})
	case "toggle":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, http.MethodPost)
			return
		}
		caller, ok := requireOwner(w, r)
		if !ok {
			return
		}
		record, err := s.strategies.Toggle(id, caller)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, record)
	case "cancel":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, http.MethodPost)
			return
		}
		caller, ok := requireOwner(w, r)
		if !ok {
			return
		}
		record, err := s.strategies.Cancel(id, caller)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, record)
	case "execute":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, http.MethodPost)
			return
		}
		result, err := s.controller.Execute(r.Context(), id)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	default:
		writeError(w, http.StatusNotFound, "unsupported action")
	}
}

func (s *httpServer) executeBatch(w http.ResponseWriter, r *http.Request) {
	limitRequestBody(w, r)
	var payload batchPayload
	if err := decodeBody(r, &payload); err != nil {
		writeDecodeError(w, err)
		return
	}
	items, err := s.controller.ExecuteBatch(r.Context(), payload.StrategyIDs)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	out := make([]batchItemPayload, 0, len(items))
	for _, item := range items {
		entry := batchItemPayload{StrategyID: item.StrategyID, Result: item.Result}
		if item.Err != nil {
			entry.Error = item.Err.Error()
			entry.Code = string(errs.CodeOf(item.Err))
		}
		out = append(out, entry)
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": out})
}

func (s *httpServer) listDue(w http.ResponseWriter, _ *http.Request) {
	due := s.controller.DueStrategies()
	if due == nil {
		due = []uint64{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"strategyIds": due})
}

func (s *httpServer) getPause(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, pausePayload{Paused: s.controller.Paused()})
}

func (s *httpServer) setPause(w http.ResponseWriter, r *http.Request) {
	limitRequestBody(w, r)
	var payload pausePayload
	if err := decodeBody(r, &payload); err != nil {
		writeDecodeError(w, err)
		return
	}
	s.controller.SetPaused(payload.Paused)
	writeJSON(w, http.StatusOK, payload)
}

func (s *httpServer) getTick(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"tick": s.clock.Now()})
}

// setTick advances the logical clock to the supplied block height. The clock
// never moves backwards; a stale height is a no-op.
func (s *httpServer) setTick(w http.ResponseWriter, r *http.Request) {
	limitRequestBody(w, r)
	var payload struct {
		Tick uint64 `json:"tick"`
	}
	if err := decodeBody(r, &payload); err != nil {
		writeDecodeError(w, err)
		return
	}
	s.clock.AdvanceTo(payload.Tick)
	writeJSON(w, http.StatusOK, map[string]any{"tick": s.clock.Now()})
}

func (s *httpServer) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "tick": s.clock.Now()})
}

func requireOwner(w http.ResponseWriter, r *http.Request) (string, bool) {
	owner := strings.TrimSpace(r.Header.Get(ownerIDHeader))
	if owner == "" {
		writeError(w, http.StatusBadRequest, ownerIDHeader+" header required")
		return "", false
	}
	return owner, true
}

func decodeBody(r *http.Request, out any) error {
	defer func() {
		_ = r.Body.Close()
	}()
	decoder := json.NewDecoder(r.Body)
	return decoder.Decode(out)
}

func statusForCode(code errs.Code) int {
	switch code {
	case errs.CodeInvalid:
		return http.StatusBadRequest
	case errs.CodeNotAuthorized:
		return http.StatusForbidden
	case errs.CodeNotFound:
		return http.StatusNotFound
	case errs.CodeStateConflict, errs.CodeSlippageExceeded:
		return http.StatusConflict
	case errs.CodeTooEarly:
		return http.StatusTooEarly
	case errs.CodeInsufficientFunds, errs.CodeUnsupported:
		return http.StatusUnprocessableEntity
	case errs.CodeOracleUnavailable:
		return http.StatusBadGateway
	case errs.CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeDomainError(w http.ResponseWriter, err error) {
	code := errs.CodeOf(err)
	status := statusForCode(code)
	writeJSON(w, status, map[string]string{"status": "error", "code": string(code), "error": err.Error()})
}

func limitRequestBody(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)
}

func writeDecodeError(w http.ResponseWriter, err error) {
	if isRequestTooLarge(err) {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}
	writeError(w, http.StatusBadRequest, err.Error())
}

func isRequestTooLarge(err error) bool {
	var maxBytesErr *http.MaxBytesError
	return errors.As(err, &maxBytesErr)
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	if len(allowed) > 0 {
		w.Header().Set("Allow", strings.Join(allowed, ", "))
	}
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	encoder := json.NewEncoder(w)
	_ = encoder.Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"status": "error", "error": message})
}

func withRequestID(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		handler.ServeHTTP(w, r)
	})
}

func withCORS(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+ownerIDHeader)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		handler.ServeHTTP(w, r)
	})
}
