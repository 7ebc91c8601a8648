package config

import (
	"quorum/internal/decision"
	"quorum/internal/gateway/provider"
	"quorum/internal/risk"
)

func (p ProviderConfig) Settings() provider.Settings {
	s := provider.Settings{
		ID:                 p.ID,
		Kind:               p.Kind,
		BaseURL:            p.APIURL,
		APIKey:             p.APIKey,
		Model:              p.Model,
		Models:             append([]string(nil), p.Models...),
		Enabled:            p.IsEnabled(),
		Headers:            p.Headers,
		Timeout:            p.Timeout,
		RateLimitPerMinute: p.RateLimitPerMinute,
		Pricing:            provider.Pricing{InputPer1K: p.Pricing.InputPer1K, OutputPer1K: p.Pricing.OutputPer1K},
		BreakerThreshold:   p.Breaker.Threshold,
		BreakerCooldown:    p.Breaker.Cooldown,
	}
	if p.MaxRetries != nil {
		s.MaxRetries = *p.MaxRetries
	}
	return s
}

// EnsembleSettings merges per-provider weights with the ensemble.weights overrides.
func (c *Config) EnsembleSettings() decision.EnsembleConfig {
	e := c.Ensemble
	weights := make(map[string]float64, len(c.Providers))
	for _, p := range c.Providers {
		if p.Weight != nil {
			weights[p.ID] = *p.Weight
		}
	}
	for id, w := range e.Weights {
		weights[id] = w
	}
	fallback, _ := decision.ParseFallback(e.FallbackStrategy)
	return decision.EnsembleConfig{
		MinProviders:          e.MinProviders,
		DisagreementThreshold: e.DisagreementThreshold,
		HighConsensus:         e.HighConsensus,
		Fallback:              fallback,
		RoundTimeout:          e.RoundTimeout,
		Weights:               weights,
		Preference:            append([]string(nil), e.ProviderPreference...),
		Temperature:           e.Temperature,
		MaxTokens:             e.MaxTokens,
		SystemPrompt:          e.SystemPrompt,
		PerformanceWeighting:  e.PerformanceWeighting,
	}
}

func (c *Config) RiskLimits() risk.RiskLimits {
	return risk.RiskLimits{
		RiskPerTradePct:        c.Risk.RiskPerTradePct,
		MaxDailyLossPct:        c.Risk.MaxDailyLossPct,
		MaxConcurrentPositions: c.Risk.MaxConcurrentPositions,
		MinTradeAmount:         c.Risk.MinTradeAmount,
		MaxTradesPerHour:       c.Risk.MaxTradesPerHour,
	}
}
