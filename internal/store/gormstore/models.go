package gormstore

import (
	"gorm.io/datatypes"

	"github.com/shopspring/decimal"
)

type decisionModel struct {
	ID            string         `gorm:"column:id;primaryKey"`
	Symbol        string         `gorm:"column:symbol;index:idx_decision_symbol_ts,priority:1"`
	Action        string         `gorm:"column:action"`
	Confidence    float64        `gorm:"column:confidence"`
	Consensus     float64        `gorm:"column:consensus"`
	Fallback      string         `gorm:"column:fallback"`
	RiskLevel     string         `gorm:"column:risk_level"`
	RiskScore     float64        `gorm:"column:risk_score"`
	Execute       bool           `gorm:"column:execute"`
	Urgency       string         `gorm:"column:urgency"`
	Responded     int            `gorm:"column:responded"`
	Attempted     int            `gorm:"column:attempted"`
	SignalsJSON   datatypes.JSON `gorm:"column:signals_json;type:TEXT"`
	PayloadJSON   datatypes.JSON `gorm:"column:payload_json;type:TEXT"`
	CreatedAtUnix int64          `gorm:"column:created_at;index:idx_decision_symbol_ts,priority:2"`
}

func (decisionModel) TableName() string { return "ensemble_decisions" }

type tradeModel struct {
	ID            int64           `gorm:"column:id;primaryKey"`
	DecisionID    string          `gorm:"column:decision_id;index"`
	OrderID       string          `gorm:"column:order_id"`
	Symbol        string          `gorm:"column:symbol;index"`
	Side          string          `gorm:"column:side"`
	Quantity      decimal.Decimal `gorm:"column:quantity;type:TEXT"`
	Price         decimal.Decimal `gorm:"column:price;type:TEXT"`
	Quote         decimal.Decimal `gorm:"column:quote;type:TEXT"`
	RealizedPnL   decimal.Decimal `gorm:"column:realized_pnl;type:TEXT"`
	StopLoss      decimal.Decimal `gorm:"column:stop_loss;type:TEXT"`
	TakeProfit    decimal.Decimal `gorm:"column:take_profit;type:TEXT"`
	Venue         string          `gorm:"column:venue"`
	CreatedAtUnix int64           `gorm:"column:created_at;index"`
}

func (tradeModel) TableName() string { return "trades" }

// positionModel 每个 symbol 一行，Quantity 为 0 表示已平仓。
type positionModel struct {
	Symbol        string          `gorm:"column:symbol;primaryKey"`
	Quantity      decimal.Decimal `gorm:"column:quantity;type:TEXT"`
	AvgEntry      decimal.Decimal `gorm:"column:avg_entry;type:TEXT"`
	OpenedAtUnix  int64           `gorm:"column:opened_at"`
	UpdatedAtUnix int64           `gorm:"column:updated_at"`
}

func (positionModel) TableName() string { return "positions" }
