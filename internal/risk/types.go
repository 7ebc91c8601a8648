package risk

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// RiskLimits 百分比字段以百分数表示，5 即 5%。
type RiskLimits struct {
	RiskPerTradePct        float64 `json:"risk_per_trade_pct"`
	MaxDailyLossPct        float64 `json:"max_daily_loss_pct"`
	MaxConcurrentPositions int     `json:"max_concurrent_positions"`
	MinTradeAmount         float64 `json:"min_trade_amount"`
	MaxTradesPerHour       int     `json:"max_trades_per_hour"`
}

func (l RiskLimits) Validate() error {
	switch {
	case l.RiskPerTradePct <= 0 || l.RiskPerTradePct > 100:
		return fmt.Errorf("risk_per_trade_pct must be in (0,100], got %v", l.RiskPerTradePct)
	case l.MaxDailyLossPct <= 0 || l.MaxDailyLossPct > 100:
		return fmt.Errorf("max_daily_loss_pct must be in (0,100], got %v", l.MaxDailyLossPct)
	case l.MaxConcurrentPositions < 0:
		return fmt.Errorf("max_concurrent_positions must be >= 0")
	case l.MinTradeAmount < 0:
		return fmt.Errorf("min_trade_amount must be >= 0")
	case l.MaxTradesPerHour < 0:
		return fmt.Errorf("max_trades_per_hour must be >= 0")
	}
	return nil
}

// PortfolioSnapshot 风控前从持久层读取。AvailableBalance 未知时退回 Value。
type PortfolioSnapshot struct {
	Value            decimal.Decimal
	AvailableBalance decimal.NullDecimal
	RealizedPnLToday decimal.Decimal
	OpenPositions    int
	TradesInLastHour int
}

// TodaysRealizedLoss 当日已实现亏损（正数），盈利日为 0。
func (s PortfolioSnapshot) TodaysRealizedLoss() decimal.Decimal {
	if s.RealizedPnLToday.IsNegative() {
		return s.RealizedPnLToday.Neg()
	}
	return decimal.Zero
}

func (s PortfolioSnapshot) available() decimal.Decimal {
	if s.AvailableBalance.Valid {
		return s.AvailableBalance.Decimal
	}
	return s.Value
}

type PortfolioSource interface {
	PortfolioSnapshot(ctx context.Context) (PortfolioSnapshot, error)
}

type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// TradeIntent is an approved, sized order request. Quantity is always positive and
// Notional never below the configured minimum.
type TradeIntent struct {
	DecisionID string          `json:"decision_id"`
	Symbol     string          `json:"symbol"`
	Side       Side            `json:"side"`
	Quantity   decimal.Decimal `json:"quantity"`
	EntryPrice decimal.Decimal `json:"entry_price"`
	StopLoss   decimal.Decimal `json:"stop_loss"`
	TakeProfit decimal.Decimal `json:"take_profit"`
	RiskAmount decimal.Decimal `json:"risk_amount"`
	Notional   decimal.Decimal `json:"notional"`
}

type Reason string

const (
	ReasonNoAction            Reason = "NO_ACTION"
	ReasonRateExceeded        Reason = "RATE_EXCEEDED"
	ReasonMaxPositions        Reason = "MAX_POSITIONS"
	ReasonInvalidPrices       Reason = "INVALID_PRICES"
	ReasonBelowMinSize        Reason = "BELOW_MIN_SIZE"
	ReasonInsufficientBalance Reason = "INSUFFICIENT_BALANCE"
	ReasonDailyLossExceeded   Reason = "DAILY_LOSS_EXCEEDED"
)

type Rejection struct {
	Reason  Reason
	Details string
}

func (r *Rejection) Error() string {
	if r.Details == "" {
		return "risk rejected: " + string(r.Reason)
	}
	return fmt.Sprintf("risk rejected: %s: %s", r.Reason, r.Details)
}

func reject(reason Reason, format string, args ...any) *Rejection {
	return &Rejection{Reason: reason, Details: fmt.Sprintf(format, args...)}
}
