package livehttp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"quorum/internal/decision"
	"quorum/internal/engine"
	"quorum/internal/gateway/provider"
	"quorum/internal/risk"
	"quorum/internal/store"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubAdapter struct {
	id      string
	enabled bool
	healthy bool
}

func (s stubAdapter) ID() string                     { return s.id }
func (s stubAdapter) Enabled() bool                  { return s.enabled }
func (s stubAdapter) Models() []string               { return []string{s.id + "-model"} }
func (s stubAdapter) ValidateConfig() error          { return nil }
func (s stubAdapter) IsHealthy(context.Context) bool { return s.healthy }
func (s stubAdapter) GenerateResponse(context.Context, provider.Request) (provider.Response, error) {
	return provider.Response{}, nil
}
func (s stubAdapter) Metrics() provider.Metrics {
	return provider.Metrics{Provider: s.id, TotalRequests: 4, SuccessfulRequests: 2, TotalCost: 0.5, AverageResponseTime: 1500 * time.Millisecond}
}

type stubCycles struct {
	latest map[string]engine.CycleResult
	err    error
}

func (s *stubCycles) Symbols() []string { return []string{"BTCUSDT"} }
func (s *stubCycles) Latest(sym string) (engine.CycleResult, bool) {
	res, ok := s.latest[sym]
	return res, ok
}
func (s *stubCycles) LatestAll() []engine.CycleResult {
	out := make([]engine.CycleResult, 0, len(s.latest))
	for _, r := range s.latest {
		out = append(out, r)
	}
	return out
}
func (s *stubCycles) RunCycle(_ context.Context, sym string) (engine.CycleResult, error) {
	return engine.CycleResult{Symbol: sym}, s.err
}

type stubDecisions struct {
	byID map[string]decision.EnsembleDecision
}

func (s stubDecisions) LatestDecision(_ context.Context, sym string) (decision.EnsembleDecision, error) {
	d, ok := s.byID[sym]
	if !ok {
		return decision.EnsembleDecision{}, store.ErrNotFound
	}
	return d, nil
}

func (s stubDecisions) RecentDecisions(_ context.Context, limit int) ([]decision.EnsembleDecision, error) {
	out := make([]decision.EnsembleDecision, 0, len(s.byID))
	for _, d := range s.byID {
		out = append(out, d)
	}
	return out, nil
}

type stubPortfolio struct{}

func (stubPortfolio) PortfolioSnapshot(context.Context) (risk.PortfolioSnapshot, error) {
	return risk.PortfolioSnapshot{
		Value:            decimal.NewFromInt(985),
		AvailableBalance: decimal.NewNullDecimal(decimal.NewFromInt(880)),
		RealizedPnLToday: decimal.NewFromInt(-15),
		OpenPositions:    1,
	}, nil
}

func (stubPortfolio) OpenPositions(context.Context) ([]store.Position, error) {
	return []store.Position{{Symbol: "BTCUSDT", Quantity: "1", AvgEntry: "105"}}, nil
}

func (stubPortfolio) RecentTrades(context.Context, int) ([]store.Trade, error) {
	return []store.Trade{{ID: 1, Symbol: "BTCUSDT", Side: "BUY"}}, nil
}

type stubAudit struct{ gotKind store.EventKind }

func (s *stubAudit) Append(context.Context, store.Event) error { return nil }
func (s *stubAudit) Recent(_ context.Context, kind store.EventKind, limit int) ([]store.Event, error) {
	s.gotKind = kind
	return []store.Event{{ID: 1, Kind: store.EventRejection}}, nil
}

func newTestServer(t *testing.T, cycles *stubCycles, audit *stubAudit) http.Handler {
	t.Helper()
	reg := prometheus.NewRegistry()
	provider.NewPromObserver(reg).ObserveSuccess("gpt", time.Second, 0.01)
	srv, err := NewServer(ServerConfig{
		Providers: []provider.Adapter{
			stubAdapter{id: "gpt", enabled: true, healthy: true},
			stubAdapter{id: "claude", enabled: true, healthy: false},
			stubAdapter{id: "gemini", enabled: false, healthy: true},
		},
		Cycles: cycles,
		Decisions: stubDecisions{byID: map[string]decision.EnsembleDecision{
			"ETHUSDT": {ID: "dec-eth", Symbol: "ETHUSDT", Action: decision.ActionSell},
		}},
		Portfolio: stubPortfolio{},
		Audit:     audit,
		Gatherer:  reg,
		Summary:   "providers: [gpt]",
	})
	require.NoError(t, err)
	return srv.Handler()
}

func doJSON(t *testing.T, h http.Handler, method, path string) (int, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	var body map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec.Code, body
}

func TestNewServer_RequiresDependencies(t *testing.T) {
	_, err := NewServer(ServerConfig{})
	assert.Error(t, err)
}

func TestRouter_Providers(t *testing.T) {
	h := newTestServer(t, &stubCycles{}, &stubAudit{})

	code, body := doJSON(t, h, http.MethodGet, "/api/providers")
	require.Equal(t, http.StatusOK, code)
	list := body["providers"].([]any)
	require.Len(t, list, 3)
	first := list[0].(map[string]any)
	assert.Equal(t, "gpt", first["provider"])
	assert.EqualValues(t, 1500, first["average_response_ms"])
	assert.InDelta(t, 0.25, first["cost_per_success"], 1e-9)

	code, body = doJSON(t, h, http.MethodGet, "/api/providers/health")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, map[string]any{"gpt": true, "claude": false, "gemini": false}, body["providers"])
	assert.EqualValues(t, 1, body["healthy"])
	assert.EqualValues(t, 3, body["total"])
}

func TestRouter_LatestDecision(t *testing.T) {
	cycles := &stubCycles{latest: map[string]engine.CycleResult{
		"BTCUSDT": {Symbol: "BTCUSDT", Decision: &decision.EnsembleDecision{ID: "dec-btc", Symbol: "BTCUSDT"}},
	}}
	h := newTestServer(t, cycles, &stubAudit{})

	cases := []struct {
		name   string
		path   string
		status int
		id     string
	}{
		{name: "from engine memory", path: "/api/decisions/latest?symbol=btc/usdt", status: http.StatusOK, id: "dec-btc"},
		{name: "from store", path: "/api/decisions/latest?symbol=ETHUSDT", status: http.StatusOK, id: "dec-eth"},
		{name: "not found", path: "/api/decisions/latest?symbol=SOLUSDT", status: http.StatusNotFound},
		{name: "missing symbol", path: "/api/decisions/latest", status: http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			code, body := doJSON(t, h, http.MethodGet, tc.path)
			require.Equal(t, tc.status, code)
			if tc.id != "" {
				assert.Equal(t, tc.id, body["decision"].(map[string]any)["id"])
			}
		})
	}
}

func TestRouter_RunCycle(t *testing.T) {
	cycles := &stubCycles{}
	h := newTestServer(t, cycles, &stubAudit{})

	code, body := doJSON(t, h, http.MethodPost, "/api/cycles/eth-usdt")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ETHUSDT", body["cycle"].(map[string]any)["symbol"])

	cycles.err = engine.ErrCycleRunning
	code, _ = doJSON(t, h, http.MethodPost, "/api/cycles/ETHUSDT")
	assert.Equal(t, http.StatusConflict, code)

	code, body = doJSON(t, h, http.MethodGet, "/api/cycles")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, []any{"BTCUSDT"}, body["symbols"])
}

func TestRouter_PortfolioAndAudit(t *testing.T) {
	audit := &stubAudit{}
	h := newTestServer(t, &stubCycles{}, audit)

	code, body := doJSON(t, h, http.MethodGet, "/api/positions")
	require.Equal(t, http.StatusOK, code)
	summary := body["portfolio"].(map[string]any)
	assert.Equal(t, "985.00", summary["value"])
	assert.Equal(t, "880.00", summary["available"])
	assert.Equal(t, "-15.00", summary["realized_pnl_today"])
	assert.Len(t, body["positions"], 1)

	code, body = doJSON(t, h, http.MethodGet, "/api/trades?limit=5")
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body["trades"], 1)

	code, _ = doJSON(t, h, http.MethodGet, "/api/audit?kind=REJECTION")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, store.EventRejection, audit.gotKind)

	code, body = doJSON(t, h, http.MethodGet, "/api/decisions")
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body["decisions"], 1)
}

func TestServer_HealthAndMetrics(t *testing.T) {
	h := newTestServer(t, &stubCycles{}, &stubAudit{})

	code, body := doJSON(t, h, http.MethodGet, "/healthz")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `quorum_provider_requests_total{outcome="success",provider="gpt"} 1`)
}

func TestQueryLimit(t *testing.T) {
	h := newTestServer(t, &stubCycles{}, &stubAudit{})
	code, body := doJSON(t, h, http.MethodGet, "/api/decisions?limit=99999")
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 500, body["limit"])
}
