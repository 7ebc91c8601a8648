package gormstore

import (
	"context"
	"time"

	"quorum/internal/risk"
	"quorum/internal/store"

	"github.com/shopspring/decimal"
)

// PortfolioSnapshot 以成本价计值：Value = 初始资金 + 累计已实现盈亏，
// 可用余额再扣除未平仓名义价值。
func (s *Store) PortfolioSnapshot(ctx context.Context) (risk.PortfolioSnapshot, error) {
	now := s.now().UTC()
	db := s.db.WithContext(ctx)

	var realizedRows []string
	if err := db.Model(&tradeModel{}).Pluck("realized_pnl", &realizedRows).Error; err != nil {
		return risk.PortfolioSnapshot{}, err
	}
	total := sumDecimals(realizedRows)

	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	var todayRows []string
	if err := db.Model(&tradeModel{}).Where("created_at >= ?", dayStart.UnixMilli()).
		Pluck("realized_pnl", &todayRows).Error; err != nil {
		return risk.PortfolioSnapshot{}, err
	}

	var lastHour int64
	if err := db.Model(&tradeModel{}).Where("created_at >= ?", now.Add(-time.Hour).UnixMilli()).
		Count(&lastHour).Error; err != nil {
		return risk.PortfolioSnapshot{}, err
	}

	positions, err := s.openPositionModels(ctx)
	if err != nil {
		return risk.PortfolioSnapshot{}, err
	}
	locked := decimal.Zero
	for _, p := range positions {
		locked = locked.Add(p.Quantity.Abs().Mul(p.AvgEntry))
	}
	value := s.startBalance.Add(total)
	return risk.PortfolioSnapshot{
		Value:            value,
		AvailableBalance: decimal.NewNullDecimal(decimal.Max(decimal.Zero, value.Sub(locked))),
		RealizedPnLToday: sumDecimals(todayRows),
		OpenPositions:    len(positions),
		TradesInLastHour: int(lastHour),
	}, nil
}

func (s *Store) OpenPositions(ctx context.Context) ([]store.Position, error) {
	models, err := s.openPositionModels(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]store.Position, 0, len(models))
	for _, m := range models {
		out = append(out, store.Position{
			Symbol:    m.Symbol,
			Quantity:  m.Quantity.String(),
			AvgEntry:  m.AvgEntry.String(),
			Notional:  m.Quantity.Abs().Mul(m.AvgEntry).StringFixed(2),
			OpenedAt:  time.UnixMilli(m.OpenedAtUnix),
			UpdatedAt: time.UnixMilli(m.UpdatedAtUnix),
		})
	}
	return out, nil
}

// openPositionModels 数量以 TEXT 存储，在内存中过滤掉已归零的行。
func (s *Store) openPositionModels(ctx context.Context) ([]positionModel, error) {
	var models []positionModel
	if err := s.db.WithContext(ctx).Order("symbol").Find(&models).Error; err != nil {
		return nil, err
	}
	out := models[:0]
	for _, m := range models {
		if !m.Quantity.IsZero() {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *Store) RecentTrades(ctx context.Context, limit int) ([]store.Trade, error) {
	if limit <= 0 {
		limit = 50
	}
	var models []tradeModel
	if err := s.db.WithContext(ctx).Order("created_at DESC, id DESC").Limit(limit).Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]store.Trade, 0, len(models))
	for _, m := range models {
		out = append(out, store.Trade{
			ID:          m.ID,
			DecisionID:  m.DecisionID,
			OrderID:     m.OrderID,
			Symbol:      m.Symbol,
			Side:        m.Side,
			Quantity:    m.Quantity.String(),
			Price:       m.Price.String(),
			RealizedPnL: m.RealizedPnL.String(),
			Venue:       m.Venue,
			CreatedAt:   time.UnixMilli(m.CreatedAtUnix),
		})
	}
	return out, nil
}

func sumDecimals(rows []string) decimal.Decimal {
	total := decimal.Zero
	for _, r := range rows {
		if d, err := decimal.NewFromString(r); err == nil {
			total = total.Add(d)
		}
	}
	return total
}
