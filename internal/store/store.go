// Package store 定义决策、成交与审计事件的持久化接口。
package store

import (
	"context"
	"errors"
	"time"

	"quorum/internal/decision"
	"quorum/internal/gateway/exchange"
	"quorum/internal/risk"
)

var ErrNotFound = errors.New("record not found")

// Recorder 持久化一轮决策及其成交结果。
type Recorder interface {
	RecordDecision(ctx context.Context, d decision.EnsembleDecision) error
	RecordOrder(ctx context.Context, intent risk.TradeIntent, res exchange.OrderResult) error
}

// Portfolio 在 risk.PortfolioSource 基础上暴露持仓与成交查询。
type Portfolio interface {
	risk.PortfolioSource
	OpenPositions(ctx context.Context) ([]Position, error)
	RecentTrades(ctx context.Context, limit int) ([]Trade, error)
}

// DecisionReader 供 HTTP 查询历史决策。
type DecisionReader interface {
	LatestDecision(ctx context.Context, symbol string) (decision.EnsembleDecision, error)
	RecentDecisions(ctx context.Context, limit int) ([]decision.EnsembleDecision, error)
}

type Position struct {
	Symbol    string    `json:"symbol"`
	Quantity  string    `json:"quantity"` // 正为多，负为空
	AvgEntry  string    `json:"avg_entry"`
	Notional  string    `json:"notional"`
	OpenedAt  time.Time `json:"opened_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Trade struct {
	ID          int64     `json:"id"`
	DecisionID  string    `json:"decision_id"`
	OrderID     string    `json:"order_id"`
	Symbol      string    `json:"symbol"`
	Side        string    `json:"side"`
	Quantity    string    `json:"quantity"`
	Price       string    `json:"price"`
	RealizedPnL string    `json:"realized_pnl"`
	Venue       string    `json:"venue"`
	CreatedAt   time.Time `json:"created_at"`
}

// EventKind 是审计日志的事件类型。
type EventKind string

const (
	EventEnsembleError EventKind = "ensemble_error"
	EventRejection     EventKind = "rejection"
	EventOrderFailed   EventKind = "order_failed"
	EventPersistFailed EventKind = "persist_failed"
	EventConfigReload  EventKind = "config_reload"
)

type Event struct {
	ID         int64     `json:"id"`
	Kind       EventKind `json:"kind"`
	Symbol     string    `json:"symbol,omitempty"`
	DecisionID string    `json:"decision_id,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

type Auditor interface {
	Append(ctx context.Context, ev Event) error
	Recent(ctx context.Context, kind EventKind, limit int) ([]Event, error)
}
