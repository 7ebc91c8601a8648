package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"quorum/internal/config"
	"quorum/internal/decision"
	"quorum/internal/gateway/exchange"
	"quorum/internal/risk"
	"quorum/internal/store"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flatFeed struct{}

func (flatFeed) Ticker(_ context.Context, sym string) (exchange.Ticker, error) {
	return exchange.Ticker{Symbol: sym, Last: 100, Bid: 100, Ask: 100, QuoteVolume: 5e7}, nil
}

func (flatFeed) Klines(_ context.Context, _ string, _ string, limit int) ([]exchange.Candle, error) {
	out := make([]exchange.Candle, limit)
	for i := range out {
		c := 80 + 0.1*float64(i)
		out[i] = exchange.Candle{
			OpenTime:       int64(i) * 3_600_000,
			CloseTime:      int64(i+1)*3_600_000 - 1,
			Open:           c - 0.1,
			High:           c + 1,
			Low:            c - 1,
			Close:          c,
			Volume:         10,
			TakerBuyVolume: 6,
		}
	}
	return out, nil
}

// chatServer 模拟 OpenAI 兼容接口，每次返回同一个 BUY 信号。
func chatServer(t *testing.T, calls *int32) *httptest.Server {
	t.Helper()
	signal := `{"action":"BUY","confidence":0.95,"reasoning":"trend","entry_price":100,"stop_loss":90,"take_profit":130,"position_size":0.1}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)
		assert.Equal(t, "/chat/completions", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"model":   "test-model",
			"choices": []any{map[string]any{"message": map[string]any{"role": "assistant", "content": signal}}},
			"usage":   map[string]any{"prompt_tokens": 100, "completion_tokens": 20},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func loadConfig(t *testing.T, llmURL string) (*config.Config, string) {
	t.Helper()
	dir := t.TempDir()
	body := fmt.Sprintf(`
app:
  log_level: debug
  log_path: %[2]s/logs/quorum.log
providers:
  - id: alpha
    api_url: %[1]s
    api_key: k1
    model: test-model
  - id: beta
    api_url: %[1]s
    api_key: k2
    model: test-model
ensemble:
  min_providers: 2
exchange:
  kind: paper
  quote_balance: 1000
store:
  path: %[2]s/quorum.db
  audit_path: %[2]s/audit.db
schedule:
  symbols: [btc/usdt]
  execute: true
`, llmURL, dir)
	path := filepath.Join(dir, "quorum.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	cfg, err := config.Load(path)
	require.NoError(t, err)
	return cfg, dir
}

func paperExchange(x config.ExchangeConfig) (exchange.Gateway, error) {
	return exchange.NewPaper(flatFeed{}, x.QuoteAsset, decimal.NewFromFloat(x.QuoteBalance)), nil
}

func TestBuild_RunCycleEndToEnd(t *testing.T) {
	var calls int32
	srv := chatServer(t, &calls)
	cfg, dir := loadConfig(t, srv.URL)

	a, err := NewApp(context.Background(), cfg, "", WithExchange(paperExchange), WithoutHTTP())
	require.NoError(t, err)
	require.NotNil(t, a.Summary)
	assert.Equal(t, []string{"BTCUSDT"}, a.Summary.Symbols)
	assert.Equal(t, "paper", a.Summary.Exchange)
	require.Len(t, a.Adapters(), 2)

	res, err := a.Engine().RunCycle(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	a.Close()

	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
	require.NotNil(t, res.Decision)
	assert.Equal(t, decision.ActionBuy, res.Decision.Action)
	assert.True(t, res.Decision.Execution.Execute)
	require.NotNil(t, res.Order, "rejection: %+v", res.Rejection)
	assert.Equal(t, risk.SideBuy, res.Order.Side)
	assert.True(t, res.Order.Quantity.Equal(decimal.NewFromInt(2)), res.Order.Quantity.String())
	assert.FileExists(t, filepath.Join(dir, "quorum.db"))
	assert.FileExists(t, filepath.Join(dir, "logs", "quorum.log"))

	for _, m := range a.Adapters() {
		assert.EqualValues(t, 1, m.Metrics().SuccessfulRequests, m.ID())
	}
}

func TestBuild_DryRunByDefault(t *testing.T) {
	var calls int32
	srv := chatServer(t, &calls)
	cfg, _ := loadConfig(t, srv.URL)
	cfg.Schedule.Execute = false

	a, err := NewApp(context.Background(), cfg, "", WithExchange(paperExchange), WithoutHTTP())
	require.NoError(t, err)
	defer a.Close()

	res, err := a.Engine().RunCycle(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.True(t, res.DryRun)
	require.NotNil(t, res.Intent)
	assert.Nil(t, res.Order)
}

func TestBuild_ExchangeFailureClosesResources(t *testing.T) {
	cfg, _ := loadConfig(t, "http://127.0.0.1:1")
	_, err := NewApp(context.Background(), cfg, "", WithoutHTTP(), WithExchange(func(config.ExchangeConfig) (exchange.Gateway, error) {
		return nil, fmt.Errorf("boom")
	}))
	assert.ErrorContains(t, err, "exchange: boom")
}

type recordingAudit struct{ events []store.Event }

func (r *recordingAudit) Append(_ context.Context, ev store.Event) error {
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingAudit) Recent(context.Context, store.EventKind, int) ([]store.Event, error) {
	return r.events, nil
}

func TestReloadListenerAppliesEnsembleAndRisk(t *testing.T) {
	cfg, _ := loadConfig(t, "http://127.0.0.1:1")
	coordinator := decision.NewCoordinator(nil, cfg.EnsembleSettings())
	gate := risk.NewGate(cfg.RiskLimits())
	audit := &recordingAudit{}

	next := *cfg
	next.Ensemble.DisagreementThreshold = 0.75
	next.Ensemble.FallbackStrategy = "MAJORITY"
	next.Risk.MaxTradesPerHour = 1
	reloadListener(coordinator, gate, audit)(&next)

	assert.InDelta(t, 0.75, coordinator.Config().DisagreementThreshold, 1e-9)
	assert.Equal(t, decision.FallbackMajority, coordinator.Config().Fallback)
	assert.Equal(t, 1, gate.Limits().MaxTradesPerHour)
	require.Len(t, audit.events, 1)
	assert.Equal(t, store.EventConfigReload, audit.events[0].Kind)
}

func TestBuildProviders_RejectsUnknownKind(t *testing.T) {
	cfg, _ := loadConfig(t, "http://127.0.0.1:1")
	cfg.Providers[0].Kind = "cohere"
	_, err := BuildProviders(cfg, nil)
	assert.ErrorContains(t, err, "unsupported kind")
}
