package httpserver

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	json "github.com/goccy/go-json"

	"github.com/coachpo/dcaflow/internal/engine"
	"github.com/coachpo/dcaflow/internal/ledger"
	"github.com/coachpo/dcaflow/internal/market"
	"github.com/coachpo/dcaflow/internal/schedule"
	"github.com/coachpo/dcaflow/internal/strategy"
	"github.com/coachpo/dcaflow/internal/swap"
)

type fixture struct {
	handler    http.Handler
	clock      *schedule.TickClock
	balances   *ledger.Ledger
	strategies *strategy.Store
	controller *engine.Controller
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	registry := market.NewMemoryRegistry()
	registry.AddAsset("STX")
	registry.AddAsset("USDA")
	registry.AddPair(market.Pair{AssetIn: "STX", AssetOut: "USDA", FeeRateBps: 30, Active: true})

	oracle := market.NewMemoryOracle()
	oracle.SetPrice("STX", 1000)
	oracle.SetPrice("USDA", 2000)

	balances := ledger.New()
	store := strategy.NewStore(strategy.Limits{MinExecutionAmount: 1_000_000, MaxSlippageBps: 1000},
		balances, registry, registry)
	executor := swap.NewExecutor(oracle, registry)
	clock := schedule.NewTickClock(1000)
	controller := engine.NewController(engine.Config{
		PlatformAccount:    "platform",
		PlatformFeeRateBps: 50,
	}, store, balances, executor, oracle, clock, nil)
	gateway := engine.NewGateway(balances, market.NoopTransfer{}, "custody", nil)

	return &fixture{
		handler:    NewHandler(store, controller, gateway, clock),
		clock:      clock,
		balances:   balances,
		strategies: store,
		controller: controller,
	}
}

func (f *fixture) do(t *testing.T, method, path string, body any, owner string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if owner != "" {
		req.Header.Set(ownerIDHeader, owner)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decodeInto(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

func (f *fixture) fundAndCreate(t *testing.T, owner string) uint64 {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/balances/deposit",
		map[string]any{"owner": owner, "asset": "STX", "amount": 10_000_000}, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("deposit status %d: %s", rec.Code, rec.Body.String())
	}
	rec = f.do(t, http.MethodPost, "/strategies", map[string]any{
		"owner": owner, "assetIn": "STX", "assetOut": "USDA",
		"amountPerExecution": 2_000_000, "frequency": 144, "maxSlippageBps": 500,
	}, "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status %d: %s", rec.Code, rec.Body.String())
	}
	var record strategy.Record
	decodeInto(t, rec, &record)
	return record.ID
}

func TestDepositCreateAndQuery(t *testing.T) {
	f := newFixture(t)
	id := f.fundAndCreate(t, "alice")
	if id != 1 {
		t.Fatalf("expected first strategy id 1, got %d", id)
	}

	rec := f.do(t, http.MethodGet, "/balances/alice/STX", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("balance status %d", rec.Code)
	}
	var balance struct {
		Balance uint64 `json:"balance"`
	}
	decodeInto(t, rec, &balance)
	if balance.Balance != 10_000_000 {
		t.Fatalf("expected balance 10_000_000, got %d", balance.Balance)
	}

	rec = f.do(t, http.MethodGet, "/strategies/1", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get strategy status %d", rec.Code)
	}
	var record strategy.Record
	decodeInto(t, rec, &record)
	if record.NextExecution != 1144 {
		t.Fatalf("expected next execution 1144, got %d", record.NextExecution)
	}
}

func TestCreateRequiresOwner(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/strategies", map[string]any{
		"assetIn": "STX", "assetOut": "USDA",
		"amountPerExecution": 2_000_000, "frequency": 144, "maxSlippageBps": 500,
	}, "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestExecuteEndpoint(t *testing.T) {
	f := newFixture(t)
	id := f.fundAndCreate(t, "alice")

	rec := f.do(t, http.MethodPost, "/strategies/1/execute", nil, "")
	if rec.Code != http.StatusTooEarly {
		t.Fatalf("expected 425 before due tick, got %d: %s", rec.Code, rec.Body.String())
	}

	f.clock.AdvanceTo(1144)
	rec = f.do(t, http.MethodPost, "/strategies/1/execute", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("execute status %d: %s", rec.Code, rec.Body.String())
	}
	var result engine.Result
	decodeInto(t, rec, &result)
	if result.StrategyID != id || result.Invested != 1_990_000 || result.Purchased != 992_015 {
		t.Fatalf("unexpected result %+v", result)
	}
	if result.PlatformFee != 10_000 {
		t.Fatalf("expected platform fee 10_000, got %d", result.PlatformFee)
	}
}

func TestExecuteUnknownStrategy(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/strategies/42/execute", nil, "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	var payload struct {
		Code string `json:"code"`
	}
	decodeInto(t, rec, &payload)
	if payload.Code != "not_found" {
		t.Fatalf("expected code not_found, got %q", payload.Code)
	}
}

func TestToggleAuthorization(t *testing.T) {
	f := newFixture(t)
	f.fundAndCreate(t, "alice")

	rec := f.do(t, http.MethodPost, "/strategies/1/toggle", nil, "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without owner header, got %d", rec.Code)
	}

	rec = f.do(t, http.MethodPost, "/strategies/1/toggle", nil, "mallory")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for non-owner, got %d", rec.Code)
	}

	rec = f.do(t, http.MethodPost, "/strategies/1/toggle", nil, "alice")
	if rec.Code != http.StatusOK {
		t.Fatalf("toggle status %d: %s", rec.Code, rec.Body.String())
	}
	var record strategy.Record
	decodeInto(t, rec, &record)
	if record.IsActive {
		t.Fatal("expected strategy paused after toggle")
	}
}

func TestCancelThenToggleConflicts(t *testing.T) {
	f := newFixture(t)
	f.fundAndCreate(t, "alice")

	rec := f.do(t, http.MethodPost, "/strategies/1/cancel", nil, "alice")
	if rec.Code != http.StatusOK {
		t.Fatalf("cancel status %d", rec.Code)
	}
	rec = f.do(t, http.MethodPost, "/strategies/1/toggle", nil, "alice")
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 toggling cancelled strategy, got %d", rec.Code)
	}
}

func TestUpdateRequiresPaused(t *testing.T) {
	f := newFixture(t)
	f.fundAndCreate(t, "alice")

	payload := map[string]any{"amountPerExecution": 3_000_000, "frequency": 288, "maxSlippageBps": 200}
	rec := f.do(t, http.MethodPut, "/strategies/1", payload, "alice")
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 updating active strategy, got %d", rec.Code)
	}

	f.do(t, http.MethodPost, "/strategies/1/toggle", nil, "alice")
	rec = f.do(t, http.MethodPut, "/strategies/1", payload, "alice")
	if rec.Code != http.StatusOK {
		t.Fatalf("update status %d: %s", rec.Code, rec.Body.String())
	}
	var record strategy.Record
	decodeInto(t, rec, &record)
	if record.Frequency != 288 || record.NextExecution != 1288 {
		t.Fatalf("unexpected record after update: %+v", record)
	}
}

func TestBatchEndpointPartialFailure(t *testing.T) {
	f := newFixture(t)
	f.fundAndCreate(t, "alice")
	f.clock.AdvanceTo(1144)

	rec := f.do(t, http.MethodPost, "/executions/batch",
		map[string]any{"strategyIds": []uint64{1, 99}}, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("batch status %d: %s", rec.Code, rec.Body.String())
	}
	var payload struct {
		Items []struct {
			StrategyID uint64         `json:"strategyId"`
			Result     *engine.Result `json:"result"`
			Code       string         `json:"code"`
		} `json:"items"`
	}
	decodeInto(t, rec, &payload)
	if len(payload.Items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(payload.Items))
	}
	if payload.Items[0].Result == nil || payload.Items[0].Result.Purchased != 992_015 {
		t.Fatalf("expected first item to succeed: %+v", payload.Items[0])
	}
	if payload.Items[1].Code != "not_found" {
		t.Fatalf("expected second item not_found, got %q", payload.Items[1].Code)
	}
}

func TestBatchEndpointRejectsEmpty(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/executions/batch", map[string]any{"strategyIds": []uint64{}}, "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty batch, got %d", rec.Code)
	}
}

func TestPauseGate(t *testing.T) {
	f := newFixture(t)
	f.fundAndCreate(t, "alice")
	f.clock.AdvanceTo(1144)

	rec := f.do(t, http.MethodPut, "/admin/pause", map[string]any{"paused": true}, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("pause status %d", rec.Code)
	}
	rec = f.do(t, http.MethodPost, "/strategies/1/execute", nil, "")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 while paused, got %d", rec.Code)
	}

	f.do(t, http.MethodPut, "/admin/pause", map[string]any{"paused": false}, "")
	rec = f.do(t, http.MethodPost, "/strategies/1/execute", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected execution after unpause, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestWithdrawInsufficient(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/balances/withdraw",
		map[string]any{"owner": "alice", "asset": "STX", "amount": 500}, "")
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for insufficient funds, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestDueEndpoints(t *testing.T) {
	f := newFixture(t)
	f.fundAndCreate(t, "alice")

	rec := f.do(t, http.MethodGet, "/strategies/1/due", nil, "")
	var due struct {
		Due bool `json:"due"`
	}
	decodeInto(t, rec, &due)
	if due.Due {
		t.Fatal("expected strategy not due at creation tick")
	}

	f.clock.AdvanceTo(1144)
	rec = f.do(t, http.MethodGet, "/executions/due", nil, "")
	var list struct {
		StrategyIDs []uint64 `json:"strategyIds"`
	}
	decodeInto(t, rec, &list)
	if len(list.StrategyIDs) != 1 || list.StrategyIDs[0] != 1 {
		t.Fatalf("expected [1] due, got %v", list.StrategyIDs)
	}
}

func TestPerformanceEndpoint(t *testing.T) {
	f := newFixture(t)
	f.fundAndCreate(t, "alice")
	f.clock.AdvanceTo(1144)
	f.do(t, http.MethodPost, "/strategies/1/execute", nil, "")

	rec := f.do(t, http.MethodGet, "/strategies/1/performance", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("performance status %d: %s", rec.Code, rec.Body.String())
	}
	var report struct {
		AveragePrice uint64 `json:"averagePrice"`
		CurrentPrice uint64 `json:"currentPrice"`
	}
	decodeInto(t, rec, &report)
	if report.AveragePrice != 2 || report.CurrentPrice != 2000 {
		t.Fatalf("unexpected report %+v", report)
	}
}

func TestTickEndpoint(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPut, "/admin/tick", map[string]any{"tick": 1200}, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("set tick status %d: %s", rec.Code, rec.Body.String())
	}
	var tick struct {
		Tick uint64 `json:"tick"`
	}
	decodeInto(t, rec, &tick)
	if tick.Tick != 1200 {
		t.Fatalf("expected tick 1200, got %d", tick.Tick)
	}

	// Stale heights never move the clock backwards.
	rec = f.do(t, http.MethodPut, "/admin/tick", map[string]any{"tick": 900}, "")
	decodeInto(t, rec, &tick)
	if tick.Tick != 1200 {
		t.Fatalf("expected tick to stay at 1200, got %d", tick.Tick)
	}
}

func TestRequestIDHeader(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/healthz", nil, "")
	if rec.Header().Get("X-Request-Id") == "" {
		t.Fatal("expected generated request id header")
	}

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-Id", "req-123")
	got := httptest.NewRecorder()
	f.handler.ServeHTTP(got, req)
	if got.Header().Get("X-Request-Id") != "req-123" {
		t.Fatalf("expected request id echo, got %q", got.Header().Get("X-Request-Id"))
	}
}

func TestMethodNotAllowed(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodDelete, "/strategies", nil, "")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
	if allow := rec.Header().Get("Allow"); allow != "GET, POST" {
		t.Fatalf("unexpected Allow header %q", allow)
	}
}
