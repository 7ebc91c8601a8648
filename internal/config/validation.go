package config

import (
	"fmt"
	"strings"

	"quorum/internal/decision"
	"quorum/internal/gateway/provider"

	"github.com/robfig/cron/v3"
)

// validate 对配置进行基础校验。
func validate(c *Config) error {
	if err := validateProviders(c.Providers); err != nil {
		return err
	}
	if err := c.Ensemble.validate(c.Providers); err != nil {
		return err
	}
	if err := c.RiskLimits().Validate(); err != nil {
		return fmt.Errorf("risk: %w", err)
	}
	if err := c.Exchange.validate(); err != nil {
		return err
	}
	if err := c.Schedule.validate(); err != nil {
		return err
	}
	if err := c.Notify.Telegram.validate(); err != nil {
		return err
	}
	return nil
}

func validateProviders(list []ProviderConfig) error {
	if len(list) == 0 {
		return fmt.Errorf("providers requires at least one entry")
	}
	kinds := make(map[string]bool)
	for _, k := range provider.Kinds() {
		kinds[k] = true
	}
	seen := make(map[string]bool, len(list))
	enabled := 0
	for i, p := range list {
		if p.ID == "" {
			return fmt.Errorf("providers[%d] missing id", i)
		}
		if seen[p.ID] {
			return fmt.Errorf("providers contains duplicate id: %s", p.ID)
		}
		seen[p.ID] = true
		if !kinds[p.Kind] {
			return fmt.Errorf("providers.%s unsupported kind %q (supported: %s)", p.ID, p.Kind, strings.Join(provider.Kinds(), ", "))
		}
		if strings.TrimSpace(p.Model) == "" {
			return fmt.Errorf("providers.%s missing model", p.ID)
		}
		if p.Weight != nil && *p.Weight < 0 {
			return fmt.Errorf("providers.%s weight must be >= 0", p.ID)
		}
		if p.MaxRetries != nil && *p.MaxRetries < 0 {
			return fmt.Errorf("providers.%s max_retries must be >= 0", p.ID)
		}
		if p.Pricing.InputPer1K < 0 || p.Pricing.OutputPer1K < 0 {
			return fmt.Errorf("providers.%s pricing must be >= 0", p.ID)
		}
		if !p.IsEnabled() {
			continue
		}
		enabled++
		if strings.TrimSpace(p.APIKey) == "" {
			return fmt.Errorf("providers.%s missing api_key", p.ID)
		}
	}
	if enabled == 0 {
		return fmt.Errorf("providers requires at least one enabled entry")
	}
	return nil
}

func (e *EnsembleConfig) validate(providers []ProviderConfig) error {
	if e.MinProviders < 1 {
		return fmt.Errorf("ensemble.min_providers must be >= 1")
	}
	if e.DisagreementThreshold < 0 || e.DisagreementThreshold > 1 {
		return fmt.Errorf("ensemble.disagreement_threshold must be in [0,1]")
	}
	if e.HighConsensus <= 0 || e.HighConsensus > 1 {
		return fmt.Errorf("ensemble.high_consensus must be in (0,1]")
	}
	if _, ok := decision.ParseFallback(e.FallbackStrategy); !ok {
		return fmt.Errorf("ensemble.fallback_strategy unsupported: %s", e.FallbackStrategy)
	}
	if e.Temperature < 0 || e.Temperature > 2 {
		return fmt.Errorf("ensemble.temperature must be in [0,2]")
	}
	ids := make(map[string]struct{}, len(providers))
	for _, p := range providers {
		ids[p.ID] = struct{}{}
	}
	for _, id := range e.ProviderPreference {
		if _, ok := ids[id]; !ok {
			return fmt.Errorf("ensemble.provider_preference contains unconfigured provider id: %s", id)
		}
	}
	for id, w := range e.Weights {
		if _, ok := ids[id]; !ok {
			return fmt.Errorf("ensemble.weights contains unconfigured provider id: %s", id)
		}
		if w < 0 {
			return fmt.Errorf("ensemble.weights.%s must be >= 0", id)
		}
	}
	return nil
}

func (x *ExchangeConfig) validate() error {
	switch x.Kind {
	case "paper":
	case "binance":
		if strings.TrimSpace(x.APIKey) == "" || strings.TrimSpace(x.SecretKey) == "" {
			return fmt.Errorf("exchange binance requires api_key and secret_key")
		}
	default:
		return fmt.Errorf("exchange.kind unsupported: %s (binance|paper)", x.Kind)
	}
	if x.KlineLimit < 20 {
		return fmt.Errorf("exchange.kline_limit must be >= 20")
	}
	return nil
}

func (s *ScheduleConfig) validate() error {
	if len(s.Symbols) == 0 {
		return fmt.Errorf("schedule.symbols requires at least one symbol")
	}
	if _, err := cron.ParseStandard(s.Spec); err != nil {
		return fmt.Errorf("schedule.spec invalid: %w", err)
	}
	return nil
}

func (t *TelegramConfig) validate() error {
	if !t.Enabled {
		return nil
	}
	if strings.TrimSpace(t.BotToken) == "" || strings.TrimSpace(t.ChatID) == "" {
		return fmt.Errorf("notify.telegram requires bot_token and chat_id when enabled")
	}
	return nil
}
