package config

import "time"

// Config 是 quorum 的主配置载体。
type Config struct {
	App       AppConfig        `toml:"app"`
	Providers []ProviderConfig `toml:"providers"`
	Ensemble  EnsembleConfig   `toml:"ensemble"`
	Risk      RiskConfig       `toml:"risk"`
	Exchange  ExchangeConfig   `toml:"exchange"`
	Store     StoreConfig      `toml:"store"`
	Schedule  ScheduleConfig   `toml:"schedule"`
	Notify    NotifyConfig     `toml:"notify"`

	settings map[string]any
}

type AppConfig struct {
	Env            string `toml:"env"`
	LogLevel       string `toml:"log_level"`
	LogPath        string `toml:"log_path"`
	TranscriptPath string `toml:"transcript_path"`
	HTTPAddr       string `toml:"http_addr"`
}

// ProviderConfig 描述单个 AI 后端。id 在 viper 中会被转为小写。
type ProviderConfig struct {
	ID                 string            `toml:"id"`
	Kind               string            `toml:"kind"`
	APIURL             string            `toml:"api_url"`
	APIKey             string            `toml:"api_key"`
	Model              string            `toml:"model"`
	Models             []string          `toml:"models"`
	Enabled            *bool             `toml:"enabled"`
	Weight             *float64          `toml:"weight"`
	Timeout            time.Duration     `toml:"timeout"`
	MaxRetries         *int              `toml:"max_retries"`
	RateLimitPerMinute int               `toml:"rate_limit_per_minute"`
	Pricing            PricingConfig     `toml:"pricing"`
	Headers            map[string]string `toml:"headers"`
	Breaker            BreakerConfig     `toml:"breaker"`
}

func (p ProviderConfig) IsEnabled() bool {
	return p.Enabled == nil || *p.Enabled
}

type PricingConfig struct {
	InputPer1K  float64 `toml:"input_per_1k"`
	OutputPer1K float64 `toml:"output_per_1k"`
}

type BreakerConfig struct {
	Threshold int           `toml:"threshold"`
	Cooldown  time.Duration `toml:"cooldown"`
}

type EnsembleConfig struct {
	MinProviders          int                `toml:"min_providers"`
	DisagreementThreshold float64            `toml:"disagreement_threshold"`
	HighConsensus         float64            `toml:"high_consensus"`
	FallbackStrategy      string             `toml:"fallback_strategy"`
	RoundTimeout          time.Duration      `toml:"round_timeout"`
	PerformanceWeighting  bool               `toml:"performance_weighting"`
	ProviderPreference    []string           `toml:"provider_preference"`
	Weights               map[string]float64 `toml:"weights"`
	Temperature           float64            `toml:"temperature"`
	MaxTokens             int                `toml:"max_tokens"`
	SystemPrompt          string             `toml:"system_prompt"`
}

// RiskConfig 百分比字段以百分数表示，5 即 5%。
type RiskConfig struct {
	RiskPerTradePct        float64 `toml:"risk_per_trade_pct"`
	MaxDailyLossPct        float64 `toml:"max_daily_loss_pct"`
	MaxConcurrentPositions int     `toml:"max_concurrent_positions"`
	MinTradeAmount         float64 `toml:"min_trade_amount"`
	MaxTradesPerHour       int     `toml:"max_trades_per_hour"`
}

type ExchangeConfig struct {
	Kind          string  `toml:"kind"`
	APIKey        string  `toml:"api_key"`
	SecretKey     string  `toml:"secret_key"`
	BaseURL       string  `toml:"base_url"`
	Testnet       bool    `toml:"testnet"`
	ProxyURL      string  `toml:"proxy_url"`
	LiveBalance   bool    `toml:"live_balance"`
	QuoteAsset    string  `toml:"quote_asset"`
	QuoteBalance  float64 `toml:"quote_balance"`
	KlineInterval string  `toml:"kline_interval"`
	KlineLimit    int     `toml:"kline_limit"`
}

type StoreConfig struct {
	Path      string `toml:"path"`
	AuditPath string `toml:"audit_path"`
}

type ScheduleConfig struct {
	Spec    string   `toml:"spec"`
	Symbols []string `toml:"symbols"`
	// Execute 为 false 时只记录决策，不下单。
	Execute        bool `toml:"execute"`
	RunImmediately bool `toml:"run_immediately"`
}

type NotifyConfig struct {
	Telegram TelegramConfig `toml:"telegram"`
}

type TelegramConfig struct {
	Enabled  bool   `toml:"enabled"`
	BotToken string `toml:"bot_token"`
	ChatID   string `toml:"chat_id"`
	APIBase  string `toml:"api_base"`
}

// keySet 记录配置文件中显式出现过的键（小写、点分）。
type keySet map[string]struct{}

func (k keySet) mark(key string) {
	if k != nil {
		k[key] = struct{}{}
	}
}

func (k keySet) isSet(key string) bool {
	if k == nil {
		return false
	}
	_, ok := k[key]
	return ok
}

type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
