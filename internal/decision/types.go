package decision

import (
	"strings"
	"time"
)

type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionHold Action = "HOLD"
)

// ParseAction 把模型的各种措辞归一成 BUY/SELL/HOLD。
func ParseAction(raw string) (Action, bool) {
	replacer := strings.NewReplacer(" ", "_", "-", "_")
	a := replacer.Replace(strings.ToLower(strings.TrimSpace(raw)))
	switch a {
	case "buy", "long", "open_long", "go_long", "enter_long", "strong_buy", "accumulate":
		return ActionBuy, true
	case "sell", "short", "open_short", "go_short", "enter_short", "strong_sell", "reduce":
		return ActionSell, true
	case "hold", "wait", "stay", "neutral", "none", "no_trade":
		return ActionHold, true
	default:
		return "", false
	}
}

// MarketAnalysis 单个交易对的行情快照，本轮发给所有 provider。
type MarketAnalysis struct {
	Symbol     string             `json:"symbol"`
	Price      float64            `json:"price"`
	Volume24h  float64            `json:"volume_24h"`
	High24h    float64            `json:"high_24h"`
	Low24h     float64            `json:"low_24h"`
	Change24h  float64            `json:"change_24h"`
	Volatility float64            `json:"volatility"` // ATR / price
	Liquidity  float64            `json:"liquidity"`  // 0..1
	RSI        float64            `json:"rsi"`
	EMAFast    float64            `json:"ema_fast"`
	EMASlow    float64            `json:"ema_slow"`
	ATR        float64            `json:"atr"`
	Regime     string             `json:"regime"`
	Indicators map[string]float64 `json:"indicators,omitempty"`
	Timestamp  time.Time          `json:"timestamp"`
}

type TradingSignal struct {
	Action          Action   `json:"action"`
	Confidence      float64  `json:"confidence"`
	Reasoning       string   `json:"reasoning"`
	EntryPrice      float64  `json:"entry_price,omitempty"`
	StopLoss        float64  `json:"stop_loss,omitempty"`
	TakeProfit      float64  `json:"take_profit,omitempty"`
	PositionSize    float64  `json:"position_size,omitempty"` // 占组合比例
	RiskRewardRatio float64  `json:"risk_reward_ratio,omitempty"`
	Provider        string   `json:"provider"`
	Model           string   `json:"model"`
	KeyIndicators   []string `json:"key_indicators,omitempty"`
	MarketCondition string   `json:"market_condition,omitempty"`
	RiskFactors     []string `json:"risk_factors,omitempty"`
}

type ProviderSignal struct {
	TradingSignal
	Weight       float64       `json:"weight"`
	Reliability  float64       `json:"reliability"`
	ResponseTime time.Duration `json:"response_time"`
}

type RiskLevel string

const (
	RiskLow     RiskLevel = "LOW"
	RiskMedium  RiskLevel = "MEDIUM"
	RiskHigh    RiskLevel = "HIGH"
	RiskExtreme RiskLevel = "EXTREME"
)

type RiskFactors struct {
	Volatility      float64 `json:"volatility"`
	Liquidity       float64 `json:"liquidity"`
	Correlation     float64 `json:"correlation"`
	PriceDispersion float64 `json:"price_dispersion"`
	Regime          string  `json:"regime"`
}

type RiskAssessment struct {
	Level                   RiskLevel   `json:"level"`
	Score                   float64     `json:"score"`
	Factors                 RiskFactors `json:"factors"`
	RecommendedPositionSize float64     `json:"recommended_position_size"`
	MaxDrawdownRisk         float64     `json:"max_drawdown_risk"`
}

type Urgency string

const (
	UrgencyLow       Urgency = "LOW"
	UrgencyMedium    Urgency = "MEDIUM"
	UrgencyHigh      Urgency = "HIGH"
	UrgencyImmediate Urgency = "IMMEDIATE"
)

type ExecutionRecommendation struct {
	Execute bool    `json:"execute"`
	Urgency Urgency `json:"urgency"`
	Timing  string  `json:"timing"`
	Reason  string  `json:"reason"`
}

// EnsembleDecision 一轮的汇总结论，Signals 按权重降序。
type EnsembleDecision struct {
	ID                 string                  `json:"id"`
	Symbol             string                  `json:"symbol"`
	Action             Action                  `json:"action"`
	Confidence         float64                 `json:"confidence"`
	Consensus          float64                 `json:"consensus"`
	Reasoning          string                  `json:"reasoning"`
	EntryPrice         float64                 `json:"entry_price,omitempty"`
	StopLoss           float64                 `json:"stop_loss,omitempty"`
	TakeProfit         float64                 `json:"take_profit,omitempty"`
	Signals            []ProviderSignal        `json:"signals"`
	Risk               RiskAssessment          `json:"risk"`
	Execution          ExecutionRecommendation `json:"execution"`
	Fallback           FallbackStrategy        `json:"fallback,omitempty"`
	ProvidersAttempted int                     `json:"providers_attempted"`
	CreatedAt          time.Time               `json:"created_at"`
}

// Actionable reports whether the decision asks for an order at all.
func (d EnsembleDecision) Actionable() bool {
	return d.Action != ActionHold && d.Execution.Execute
}

type EnsembleConfig struct {
	MinProviders          int
	DisagreementThreshold float64
	HighConsensus         float64
	Fallback              FallbackStrategy
	RoundTimeout          time.Duration
	Weights               map[string]float64
	Preference            []string
	Temperature           float64
	MaxTokens             int
	SystemPrompt          string
	PerformanceWeighting  bool
}

func (c EnsembleConfig) normalized() EnsembleConfig {
	if c.MinProviders <= 0 {
		c.MinProviders = 1
	}
	if c.DisagreementThreshold < 0 {
		c.DisagreementThreshold = 0
	}
	if c.HighConsensus <= 0 || c.HighConsensus > 1 {
		c.HighConsensus = 0.9
	}
	if _, ok := fallbackTable[c.Fallback]; !ok {
		c.Fallback = FallbackSafeHold
	}
	if c.RoundTimeout <= 0 {
		c.RoundTimeout = 45 * time.Second
	}
	if c.MaxTokens < 0 {
		c.MaxTokens = 0
	}
	return c
}
