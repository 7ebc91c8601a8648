// Package gormstore 基于 GORM + SQLite 保存决策、成交与持仓，并提供风控所需的组合快照。
package gormstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"quorum/internal/decision"
	"quorum/internal/gateway/exchange"
	"quorum/internal/pkg/symbol"
	"quorum/internal/risk"
	"quorum/internal/store"

	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Store 实现 store.Recorder、store.Portfolio 与 store.DecisionReader。
type Store struct {
	db           *gorm.DB
	startBalance decimal.Decimal
	now          func() time.Time
}

var (
	_ store.Recorder       = (*Store)(nil)
	_ store.Portfolio      = (*Store)(nil)
	_ store.DecisionReader = (*Store)(nil)
)

type Option func(*Store)

func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// New 打开（必要时创建）path 处的 SQLite 文件。startBalance 是计价币初始资金。
func New(path string, startBalance decimal.Decimal, opts ...Option) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("gorm store: path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&decisionModel{}, &tradeModel{}, &positionModel{}); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	s := &Store{db: db, startBalance: startBalance, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) RecordDecision(ctx context.Context, d decision.EnsembleDecision) error {
	if strings.TrimSpace(d.ID) == "" {
		return fmt.Errorf("decision id is required")
	}
	signals, err := json.Marshal(d.Signals)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(d)
	if err != nil {
		return err
	}
	created := d.CreatedAt
	if created.IsZero() {
		created = s.now()
	}
	m := decisionModel{
		ID:            d.ID,
		Symbol:        d.Symbol,
		Action:        string(d.Action),
		Confidence:    d.Confidence,
		Consensus:     d.Consensus,
		Fallback:      string(d.Fallback),
		RiskLevel:     string(d.Risk.Level),
		RiskScore:     d.Risk.Score,
		Execute:       d.Execution.Execute,
		Urgency:       string(d.Execution.Urgency),
		Responded:     len(d.Signals),
		Attempted:     d.ProvidersAttempted,
		SignalsJSON:   signals,
		PayloadJSON:   payload,
		CreatedAtUnix: created.UnixMilli(),
	}
	// 重试写入同一决策时保持幂等。
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&m).Error
}

func (s *Store) LatestDecision(ctx context.Context, sym string) (decision.EnsembleDecision, error) {
	var m decisionModel
	q := s.db.WithContext(ctx).Order("created_at DESC")
	if sym = strings.TrimSpace(sym); sym != "" {
		q = q.Where("symbol = ?", symbol.ToExchange(sym))
	}
	if err := q.Limit(1).Take(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return decision.EnsembleDecision{}, store.ErrNotFound
		}
		return decision.EnsembleDecision{}, err
	}
	return decodeDecision(m)
}

func (s *Store) RecentDecisions(ctx context.Context, limit int) ([]decision.EnsembleDecision, error) {
	if limit <= 0 {
		limit = 20
	}
	var models []decisionModel
	if err := s.db.WithContext(ctx).Order("created_at DESC").Limit(limit).Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]decision.EnsembleDecision, 0, len(models))
	for _, m := range models {
		d, err := decodeDecision(m)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

func decodeDecision(m decisionModel) (decision.EnsembleDecision, error) {
	var d decision.EnsembleDecision
	if err := json.Unmarshal(m.PayloadJSON, &d); err != nil {
		return decision.EnsembleDecision{}, fmt.Errorf("decode decision %s: %w", m.ID, err)
	}
	return d, nil
}

// RecordOrder 写入成交并在同一事务内更新持仓，反向成交先平仓并结算已实现盈亏。
func (s *Store) RecordOrder(ctx context.Context, intent risk.TradeIntent, res exchange.OrderResult) error {
	if !res.Quantity.IsPositive() {
		return fmt.Errorf("order %s has no filled quantity", res.OrderID)
	}
	sym := symbol.ToExchange(res.Symbol)
	if sym == "" {
		sym = symbol.ToExchange(intent.Symbol)
	}
	price := res.AvgPrice
	if !price.IsPositive() {
		price = intent.EntryPrice
	}
	ts := res.FilledAt
	if ts.IsZero() {
		ts = s.now()
	}
	signed := res.Quantity
	if res.Side == risk.SideSell {
		signed = signed.Neg()
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var pos positionModel
		err := tx.Where("symbol = ?", sym).Take(&pos).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			pos = positionModel{Symbol: sym, Quantity: decimal.Zero, AvgEntry: decimal.Zero}
		case err != nil:
			return err
		}
		realized := applyFill(&pos, signed, price, ts)
		trade := tradeModel{
			DecisionID:    intent.DecisionID,
			OrderID:       res.OrderID,
			Symbol:        sym,
			Side:          string(res.Side),
			Quantity:      res.Quantity,
			Price:         price,
			Quote:         res.Quantity.Mul(price),
			RealizedPnL:   realized,
			StopLoss:      intent.StopLoss,
			TakeProfit:    intent.TakeProfit,
			Venue:         res.Venue,
			CreatedAtUnix: ts.UnixMilli(),
		}
		if err := tx.Create(&trade).Error; err != nil {
			return err
		}
		return tx.Save(&pos).Error
	})
}

// applyFill 合并一笔有符号成交，返回平仓部分的已实现盈亏。
func applyFill(pos *positionModel, signed, price decimal.Decimal, ts time.Time) decimal.Decimal {
	realized := decimal.Zero
	cur := pos.Quantity
	switch {
	case cur.IsZero():
		pos.Quantity = signed
		pos.AvgEntry = price
		pos.OpenedAtUnix = ts.UnixMilli()
	case cur.Sign() == signed.Sign():
		total := cur.Add(signed)
		pos.AvgEntry = cur.Abs().Mul(pos.AvgEntry).Add(signed.Abs().Mul(price)).Div(total.Abs())
		pos.Quantity = total
	default:
		closed := decimal.Min(cur.Abs(), signed.Abs())
		// 多头平仓盈亏 = (价格-成本)*数量，空头取反
		realized = price.Sub(pos.AvgEntry).Mul(closed)
		if cur.IsNegative() {
			realized = realized.Neg()
		}
		remaining := cur.Add(signed)
		switch {
		case remaining.IsZero():
			pos.Quantity = decimal.Zero
			pos.AvgEntry = decimal.Zero
		case remaining.Sign() != cur.Sign():
			pos.Quantity = remaining
			pos.AvgEntry = price
			pos.OpenedAtUnix = ts.UnixMilli()
		default:
			pos.Quantity = remaining
		}
	}
	pos.UpdatedAtUnix = ts.UnixMilli()
	return realized
}
