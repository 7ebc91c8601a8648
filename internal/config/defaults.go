package config

import (
	"strings"
	"time"

	"quorum/internal/pkg/symbol"
)

// 默认值常量
const (
	defaultAppEnv           = "dev"
	defaultAppLogLevel      = "info"
	defaultAppHTTPAddr      = ":9991"
	defaultProviderKind     = "openai"
	defaultProviderTimeout  = 30 * time.Second
	defaultProviderRetries  = 2
	defaultProviderRPM      = 60
	defaultBreakerThreshold = 5
	defaultBreakerCooldown  = 30 * time.Second
	defaultMinProviders     = 2
	defaultDisagreement     = 0.6
	defaultHighConsensus    = 0.9
	defaultFallback         = "SAFE_HOLD"
	defaultRoundTimeout     = 45 * time.Second
	defaultTemperature      = 0.3
	defaultMaxTokens        = 1024
	defaultRiskPerTradePct  = 2
	defaultMaxDailyLossPct  = 6
	defaultMaxPositions     = 3
	defaultMinTradeAmount   = 10
	defaultMaxTradesPerHour = 6
	defaultExchangeKind     = "paper"
	defaultQuoteAsset       = "USDT"
	defaultQuoteBalance     = 1000
	defaultKlineInterval    = "1h"
	defaultKlineLimit       = 200
	defaultStorePath        = "data/quorum.db"
	defaultAuditPath        = "data/audit.db"
	defaultScheduleSpec     = "@every 15m"
	defaultTelegramAPIBase  = "https://api.telegram.org"
)

// applyDefaults 为所有子配置应用默认值。
func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	for i := range c.Providers {
		c.Providers[i].applyDefaults()
	}
	c.Ensemble.applyDefaults(keys)
	c.Risk.applyDefaults(keys)
	c.Exchange.applyDefaults(keys)
	c.Store.applyDefaults(keys)
	c.Schedule.applyDefaults(keys)
	c.Notify.Telegram.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
	)
}

// providers 是数组，keySet 无法区分条目，直接按零值补齐。
func (p *ProviderConfig) applyDefaults() {
	p.ID = strings.ToLower(strings.TrimSpace(p.ID))
	p.Kind = strings.ToLower(strings.TrimSpace(p.Kind))
	if p.Kind == "" {
		p.Kind = defaultProviderKind
	}
	if p.Enabled == nil {
		on := true
		p.Enabled = &on
	}
	if p.Weight == nil {
		w := 1.0
		p.Weight = &w
	}
	if p.MaxRetries == nil {
		n := defaultProviderRetries
		p.MaxRetries = &n
	}
	if p.Timeout <= 0 {
		p.Timeout = defaultProviderTimeout
	}
	if p.RateLimitPerMinute == 0 {
		p.RateLimitPerMinute = defaultProviderRPM
	}
	if p.Breaker.Threshold == 0 {
		p.Breaker.Threshold = defaultBreakerThreshold
	}
	if p.Breaker.Cooldown <= 0 {
		p.Breaker.Cooldown = defaultBreakerCooldown
	}
}

func (e *EnsembleConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "ensemble.min_providers",
			need:  func() bool { return e.MinProviders <= 0 },
			apply: func() { e.MinProviders = defaultMinProviders },
		},
		fieldDefault{
			key:   "ensemble.disagreement_threshold",
			apply: func() { e.DisagreementThreshold = defaultDisagreement },
		},
		fieldDefault{
			key:   "ensemble.high_consensus",
			need:  func() bool { return e.HighConsensus <= 0 },
			apply: func() { e.HighConsensus = defaultHighConsensus },
		},
		stringFieldDefault("ensemble.fallback_strategy", &e.FallbackStrategy, defaultFallback),
		fieldDefault{
			key:   "ensemble.round_timeout",
			need:  func() bool { return e.RoundTimeout <= 0 },
			apply: func() { e.RoundTimeout = defaultRoundTimeout },
		},
		fieldDefault{
			key:   "ensemble.temperature",
			apply: func() { e.Temperature = defaultTemperature },
		},
		fieldDefault{
			key:   "ensemble.max_tokens",
			need:  func() bool { return e.MaxTokens <= 0 },
			apply: func() { e.MaxTokens = defaultMaxTokens },
		},
		boolFieldDefault("ensemble.performance_weighting", &e.PerformanceWeighting, true),
	)
	e.FallbackStrategy = strings.ToUpper(strings.TrimSpace(e.FallbackStrategy))
	e.ProviderPreference = normalizePreferenceList(e.ProviderPreference)
}

func (r *RiskConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "risk.risk_per_trade_pct",
			need:  func() bool { return r.RiskPerTradePct <= 0 },
			apply: func() { r.RiskPerTradePct = defaultRiskPerTradePct },
		},
		fieldDefault{
			key:   "risk.max_daily_loss_pct",
			need:  func() bool { return r.MaxDailyLossPct <= 0 },
			apply: func() { r.MaxDailyLossPct = defaultMaxDailyLossPct },
		},
		fieldDefault{
			key:   "risk.max_concurrent_positions",
			apply: func() { r.MaxConcurrentPositions = defaultMaxPositions },
		},
		fieldDefault{
			key:   "risk.min_trade_amount",
			apply: func() { r.MinTradeAmount = defaultMinTradeAmount },
		},
		fieldDefault{
			key:   "risk.max_trades_per_hour",
			apply: func() { r.MaxTradesPerHour = defaultMaxTradesPerHour },
		},
	)
}

func (x *ExchangeConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		stringFieldDefault("exchange.kind", &x.Kind, defaultExchangeKind),
		stringFieldDefault("exchange.quote_asset", &x.QuoteAsset, defaultQuoteAsset),
		stringFieldDefault("exchange.kline_interval", &x.KlineInterval, defaultKlineInterval),
		fieldDefault{
			key:   "exchange.quote_balance",
			need:  func() bool { return x.QuoteBalance <= 0 },
			apply: func() { x.QuoteBalance = defaultQuoteBalance },
		},
		fieldDefault{
			key:   "exchange.kline_limit",
			need:  func() bool { return x.KlineLimit <= 0 },
			apply: func() { x.KlineLimit = defaultKlineLimit },
		},
	)
	x.Kind = strings.ToLower(strings.TrimSpace(x.Kind))
	x.QuoteAsset = strings.ToUpper(strings.TrimSpace(x.QuoteAsset))
}

func (s *StoreConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		stringFieldDefault("store.path", &s.Path, defaultStorePath),
		stringFieldDefault("store.audit_path", &s.AuditPath, defaultAuditPath),
	)
}

func (s *ScheduleConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		stringFieldDefault("schedule.spec", &s.Spec, defaultScheduleSpec),
		fieldDefault{
			key:   "schedule.symbols",
			need:  func() bool { return len(s.Symbols) == 0 },
			apply: func() { s.Symbols = []string{"BTCUSDT"} },
		},
	)
	s.Symbols = symbol.NormalizeList(s.Symbols)
}

func (t *TelegramConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		stringFieldDefault("notify.telegram.api_base", &t.APIBase, defaultTelegramAPIBase),
	)
}

// Helper functions

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func boolFieldDefault(key string, target *bool, def bool) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func normalizePreferenceList(pref []string) []string {
	if len(pref) == 0 {
		return nil
	}
	out := make([]string, 0, len(pref))
	seen := make(map[string]bool, len(pref))
	for _, id := range pref {
		id = strings.ToLower(strings.TrimSpace(id))
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
