// Package exchange 抽象行情读取与下单，Binance 现货与本地纸面撮合共用同一接口。
package exchange

import (
	"context"
	"errors"
	"time"

	"quorum/internal/risk"

	"github.com/shopspring/decimal"
)

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrNoPrice           = errors.New("no price available")
	ErrInvalidOrder      = errors.New("invalid order")
)

// Ticker 是 24h 滚动统计。
type Ticker struct {
	Symbol      string    `json:"symbol"`
	Last        float64   `json:"last"`
	Bid         float64   `json:"bid"`
	Ask         float64   `json:"ask"`
	High        float64   `json:"high"`
	Low         float64   `json:"low"`
	Volume      float64   `json:"volume"`
	QuoteVolume float64   `json:"quote_volume"`
	ChangePct   float64   `json:"change_pct"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type Candle struct {
	OpenTime       int64   `json:"open_time"`
	CloseTime      int64   `json:"close_time"`
	Open           float64 `json:"open"`
	High           float64 `json:"high"`
	Low            float64 `json:"low"`
	Close          float64 `json:"close"`
	Volume         float64 `json:"volume"`
	TakerBuyVolume float64 `json:"taker_buy_volume"`
	Trades         int64   `json:"trades"`
}

// OrderResult 描述一次已成交（或已被交易所受理）的市价单。
type OrderResult struct {
	OrderID  string          `json:"order_id"`
	Symbol   string          `json:"symbol"`
	Side     risk.Side       `json:"side"`
	Quantity decimal.Decimal `json:"quantity"`
	AvgPrice decimal.Decimal `json:"avg_price"`
	Quote    decimal.Decimal `json:"quote"`
	Status   string          `json:"status"`
	Venue    string          `json:"venue"`
	FilledAt time.Time       `json:"filled_at"`
}

type MarketData interface {
	Ticker(ctx context.Context, symbol string) (Ticker, error)
	Klines(ctx context.Context, symbol, interval string, limit int) ([]Candle, error)
}

type Gateway interface {
	MarketData
	Name() string
	PlaceOrder(ctx context.Context, intent risk.TradeIntent) (OrderResult, error)
	// Balance 返回 asset 的可用余额。
	Balance(ctx context.Context, asset string) (decimal.Decimal, error)
}

// dropUnclosed 去掉仍在形成中的最后一根 K 线。
func dropUnclosed(candles []Candle, now time.Time) []Candle {
	if len(candles) == 0 {
		return candles
	}
	last := candles[len(candles)-1]
	if last.CloseTime > now.UnixMilli() {
		return candles[:len(candles)-1]
	}
	return candles
}

func validateIntent(intent risk.TradeIntent) error {
	if intent.Symbol == "" {
		return errors.Join(ErrInvalidOrder, errors.New("symbol is required"))
	}
	if intent.Side != risk.SideBuy && intent.Side != risk.SideSell {
		return errors.Join(ErrInvalidOrder, errors.New("side must be BUY or SELL"))
	}
	if !intent.Quantity.IsPositive() {
		return errors.Join(ErrInvalidOrder, errors.New("quantity must be positive"))
	}
	return nil
}
