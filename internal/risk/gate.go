package risk

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"quorum/internal/decision"
	"quorum/internal/logger"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Gate 校验并计算仓位。评估与下单之间不加锁，下单时快照可能已过期。
type Gate struct {
	mu     sync.RWMutex
	limits RiskLimits
}

func NewGate(limits RiskLimits) *Gate {
	return &Gate{limits: limits}
}

func (g *Gate) Limits() RiskLimits {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.limits
}

func (g *Gate) UpdateLimits(limits RiskLimits) {
	g.mu.Lock()
	g.limits = limits
	g.mu.Unlock()
}

// Sizing 固定风险比例下的单笔仓位。
type Sizing struct {
	RiskAmount decimal.Decimal
	Quantity   decimal.Decimal
	Notional   decimal.Decimal
}

// Size risks riskPct percent of value across the entry/stop distance.
func Size(value decimal.Decimal, riskPct float64, entry, stop decimal.Decimal) (Sizing, error) {
	dist := entry.Sub(stop).Abs()
	if dist.IsZero() {
		return Sizing{}, errors.New("entry equals stop")
	}
	riskAmount := value.Mul(decimal.NewFromFloat(riskPct)).Div(hundred)
	qty := riskAmount.Div(dist)
	return Sizing{RiskAmount: riskAmount, Quantity: qty, Notional: qty.Mul(entry)}, nil
}

// Evaluate applies the rules in order and returns the first failure as *Rejection.
func (g *Gate) Evaluate(d decision.EnsembleDecision, snap PortfolioSnapshot, limits RiskLimits) (TradeIntent, error) {
	intent, err := evaluate(d, snap, limits)
	if err != nil {
		logRejection(d, err)
		return TradeIntent{}, err
	}
	logger.Infof("risk gate approved %s %s qty=%s notional=%s risk=%s",
		intent.Symbol, intent.Side, intent.Quantity.StringFixed(8), intent.Notional.StringFixed(2), intent.RiskAmount.StringFixed(2))
	return intent, nil
}

// EvaluateFrom 从 src 读取快照，按当前限额评估。
func (g *Gate) EvaluateFrom(ctx context.Context, d decision.EnsembleDecision, src PortfolioSource) (TradeIntent, error) {
	if !d.Actionable() {
		err := reject(ReasonNoAction, "action=%s execute=%v", d.Action, d.Execution.Execute)
		logRejection(d, err)
		return TradeIntent{}, err
	}
	snap, err := src.PortfolioSnapshot(ctx)
	if err != nil {
		return TradeIntent{}, fmt.Errorf("load portfolio snapshot: %w", err)
	}
	return g.Evaluate(d, snap, g.Limits())
}

// logRejection NO_ACTION 每轮都会出现，降到 debug。
func logRejection(d decision.EnsembleDecision, err error) {
	var rej *Rejection
	if errors.As(err, &rej) && rej.Reason == ReasonNoAction {
		logger.Debugf("risk gate %s %s: %v", d.Symbol, d.Action, err)
		return
	}
	logger.Infof("risk gate %s %s: %v", d.Symbol, d.Action, err)
}

func evaluate(d decision.EnsembleDecision, snap PortfolioSnapshot, limits RiskLimits) (TradeIntent, error) {
	if !d.Actionable() {
		return TradeIntent{}, reject(ReasonNoAction, "action=%s execute=%v", d.Action, d.Execution.Execute)
	}
	if limits.MaxTradesPerHour > 0 && snap.TradesInLastHour >= limits.MaxTradesPerHour {
		return TradeIntent{}, reject(ReasonRateExceeded, "%d trades in the last hour (max %d)", snap.TradesInLastHour, limits.MaxTradesPerHour)
	}
	if limits.MaxConcurrentPositions > 0 && snap.OpenPositions >= limits.MaxConcurrentPositions {
		return TradeIntent{}, reject(ReasonMaxPositions, "%d open positions (max %d)", snap.OpenPositions, limits.MaxConcurrentPositions)
	}

	side := SideBuy
	if d.Action == decision.ActionSell {
		side = SideSell
	}
	entry := decimal.NewFromFloat(d.EntryPrice)
	stop := decimal.NewFromFloat(d.StopLoss)
	if !entry.IsPositive() || !stop.IsPositive() {
		return TradeIntent{}, reject(ReasonInvalidPrices, "entry=%v stop=%v", d.EntryPrice, d.StopLoss)
	}
	if (side == SideBuy && !stop.LessThan(entry)) || (side == SideSell && !stop.GreaterThan(entry)) {
		return TradeIntent{}, reject(ReasonInvalidPrices, "stop %v on wrong side of entry %v for %s", d.StopLoss, d.EntryPrice, side)
	}

	sz, err := Size(snap.Value, limits.RiskPerTradePct, entry, stop)
	if err != nil {
		return TradeIntent{}, reject(ReasonInvalidPrices, "%v", err)
	}
	minTrade := decimal.NewFromFloat(limits.MinTradeAmount)
	if !sz.Quantity.IsPositive() || sz.Notional.LessThan(minTrade) {
		return TradeIntent{}, reject(ReasonBelowMinSize, "notional %s below min %s", sz.Notional.StringFixed(2), minTrade.StringFixed(2))
	}
	if avail := snap.available(); sz.Notional.GreaterThan(avail) {
		return TradeIntent{}, reject(ReasonInsufficientBalance, "notional %s exceeds available %s", sz.Notional.StringFixed(2), avail.StringFixed(2))
	}

	maxLoss := snap.Value.Mul(decimal.NewFromFloat(limits.MaxDailyLossPct)).Div(hundred)
	if projected := snap.TodaysRealizedLoss().Add(sz.RiskAmount); projected.GreaterThan(maxLoss) {
		return TradeIntent{}, reject(ReasonDailyLossExceeded, "realized loss %s + risk %s exceeds %s",
			snap.TodaysRealizedLoss().StringFixed(2), sz.RiskAmount.StringFixed(2), maxLoss.StringFixed(2))
	}

	intent := TradeIntent{
		DecisionID: d.ID,
		Symbol:     d.Symbol,
		Side:       side,
		Quantity:   sz.Quantity,
		EntryPrice: entry,
		StopLoss:   stop,
		RiskAmount: sz.RiskAmount,
		Notional:   sz.Notional,
	}
	if d.TakeProfit > 0 {
		intent.TakeProfit = decimal.NewFromFloat(d.TakeProfit)
	}
	return intent, nil
}
