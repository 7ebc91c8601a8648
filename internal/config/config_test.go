package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"quorum/internal/decision"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const providersYAML = `
providers:
  - id: GPT
    model: gpt-4o-mini
    api_key: ${QUORUM_TEST_KEY}
    pricing:
      input_per_1k: 0.00015
      output_per_1k: 0.0006
  - id: claude
    kind: anthropic
    model: claude-3-5-haiku-latest
    api_key: sk-ant
    weight: 2
    timeout: 10s
    max_retries: 0
  - id: gemini
    kind: gemini
    model: gemini-1.5-flash
    enabled: false
`

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_IncludesDefaultsAndEnv(t *testing.T) {
	t.Setenv("QUORUM_TEST_KEY", "sk-from-env")
	dir := t.TempDir()
	writeFile(t, dir, "providers.yaml", providersYAML)
	main := writeFile(t, dir, "quorum.yaml", `
include:
  - providers.yaml
ensemble:
  min_providers: 2
  temperature: 0
  weights:
    gpt: 1.5
risk:
  risk_per_trade_pct: 5
schedule:
  symbols: btcusdt,ethusdt
`)

	cfg, err := Load(main)
	require.NoError(t, err)
	require.Len(t, cfg.Providers, 3)

	gpt := cfg.Providers[0]
	assert.Equal(t, "gpt", gpt.ID)
	assert.Equal(t, "openai", gpt.Kind)
	assert.Equal(t, "sk-from-env", gpt.APIKey)
	assert.True(t, gpt.IsEnabled())
	assert.Equal(t, 30*time.Second, gpt.Timeout)
	assert.Equal(t, 2, *gpt.MaxRetries)

	claude := cfg.Providers[1]
	assert.Equal(t, 10*time.Second, claude.Timeout)
	assert.Equal(t, 0, *claude.MaxRetries)
	assert.False(t, cfg.Providers[2].IsEnabled())

	assert.Equal(t, 0.0, cfg.Ensemble.Temperature)
	assert.Equal(t, 0.6, cfg.Ensemble.DisagreementThreshold)
	assert.Equal(t, "SAFE_HOLD", cfg.Ensemble.FallbackStrategy)
	assert.True(t, cfg.Ensemble.PerformanceWeighting)
	assert.Equal(t, 45*time.Second, cfg.Ensemble.RoundTimeout)
	assert.Equal(t, 5.0, cfg.Risk.RiskPerTradePct)
	assert.Equal(t, 6.0, cfg.Risk.MaxDailyLossPct)
	assert.Equal(t, "paper", cfg.Exchange.Kind)
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, cfg.Schedule.Symbols)
	assert.Equal(t, ":9991", cfg.App.HTTPAddr)

	ens := cfg.EnsembleSettings()
	assert.Equal(t, decision.FallbackSafeHold, ens.Fallback)
	assert.Equal(t, 1.5, ens.Weights["gpt"])
	assert.Equal(t, 2.0, ens.Weights["claude"])

	s := claude.Settings()
	assert.Equal(t, "claude", s.ID)
	assert.Equal(t, 5, s.BreakerThreshold)
	assert.Equal(t, 60, s.RateLimitPerMinute)
}

func TestLoad_ValidationErrors(t *testing.T) {
	cases := map[string]string{
		"no providers": `
ensemble:
  min_providers: 1
`,
		"unknown kind": `
providers:
  - id: a
    kind: llama
    model: m
    api_key: k
`,
		"missing key": `
providers:
  - id: a
    model: m
`,
		"bad fallback": `
providers:
  - id: a
    model: m
    api_key: k
ensemble:
  fallback_strategy: coin_flip
`,
		"unknown preference": `
providers:
  - id: a
    model: m
    api_key: k
ensemble:
  provider_preference: [b]
`,
		"bad cron": `
providers:
  - id: a
    model: m
    api_key: k
schedule:
  spec: "every now and then"
`,
		"binance without keys": `
providers:
  - id: a
    model: m
    api_key: k
exchange:
  kind: binance
`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			path := writeFile(t, t.TempDir(), "c.yaml", body)
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestLoad_IncludeCycle(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.yaml", "include: [b.yaml]\n")
	writeFile(t, dir, "b.yaml", "include: [a.yaml]\n")
	_, err := Load(filepath.Join(dir, "a.yaml"))
	assert.ErrorContains(t, err, "include cycle")
}

func TestSummaryRedactsSecrets(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "c.yaml", `
providers:
  - id: a
    model: m
    api_key: super-secret
    headers:
      x-org: org-secret
notify:
  telegram:
    enabled: true
    bot_token: tg-secret
    chat_id: "42"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	out, err := cfg.Summary()
	require.NoError(t, err)
	assert.NotContains(t, out, "super-secret")
	assert.NotContains(t, out, "org-secret")
	assert.NotContains(t, out, "tg-secret")
	assert.Contains(t, out, redacted)
	assert.Contains(t, out, "model: m")
}

func TestWatcherReload(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "c.yaml", `
providers:
  - id: a
    model: m
    api_key: k
risk:
  risk_per_trade_pct: 1
`)
	w, err := Watch(path, nil)
	require.NoError(t, err)
	assert.Equal(t, 1.0, w.Current().Risk.RiskPerTradePct)

	got := make(chan *Config, 1)
	w.Subscribe(func(c *Config) {
		select {
		case got <- c:
		default:
		}
	})

	writeFile(t, dir, "c.yaml", `
providers:
  - id: a
    model: m
    api_key: k
risk:
  risk_per_trade_pct: 3
`)
	require.NoError(t, w.reload())
	w.notify()
	c := <-got
	assert.Equal(t, 3.0, c.Risk.RiskPerTradePct)
	assert.GreaterOrEqual(t, w.Version(), int64(2))

	writeFile(t, dir, "c.yaml", "providers: []\n")
	assert.Error(t, w.reload())
	assert.Equal(t, 3.0, w.Current().Risk.RiskPerTradePct)
}
