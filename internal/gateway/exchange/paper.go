package exchange

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"quorum/internal/logger"
	"quorum/internal/pkg/symbol"
	"quorum/internal/risk"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Paper 使用真实行情、在内存中按最新价撮合，不触达交易所账户。
// 卖出不要求持仓，负持仓视为空头。
type Paper struct {
	feed       MarketData
	quoteAsset string
	now        func() time.Time

	mu       sync.Mutex
	balances map[string]decimal.Decimal
}

func NewPaper(feed MarketData, quoteAsset string, quoteBalance decimal.Decimal) *Paper {
	quoteAsset = strings.ToUpper(strings.TrimSpace(quoteAsset))
	if quoteAsset == "" {
		quoteAsset = "USDT"
	}
	return &Paper{
		feed:       feed,
		quoteAsset: quoteAsset,
		now:        time.Now,
		balances:   map[string]decimal.Decimal{quoteAsset: quoteBalance},
	}
}

func (p *Paper) Name() string { return "paper" }

func (p *Paper) Ticker(ctx context.Context, sym string) (Ticker, error) {
	return p.feed.Ticker(ctx, sym)
}

func (p *Paper) Klines(ctx context.Context, sym, interval string, limit int) ([]Candle, error) {
	return p.feed.Klines(ctx, sym, interval, limit)
}

func (p *Paper) PlaceOrder(ctx context.Context, intent risk.TradeIntent) (OrderResult, error) {
	if err := validateIntent(intent); err != nil {
		return OrderResult{}, err
	}
	t, err := p.feed.Ticker(ctx, intent.Symbol)
	if err != nil {
		return OrderResult{}, err
	}
	price := decimal.NewFromFloat(fillPrice(t, intent.Side))
	if !price.IsPositive() {
		return OrderResult{}, ErrNoPrice
	}
	base := symbol.Parse(intent.Symbol).Base
	if base == "" {
		base = symbol.ToExchange(intent.Symbol)
	}
	quote := intent.Quantity.Mul(price)

	p.mu.Lock()
	cash := p.balances[p.quoteAsset]
	switch intent.Side {
	case risk.SideBuy:
		if quote.GreaterThan(cash) {
			p.mu.Unlock()
			return OrderResult{}, fmt.Errorf("%w: need %s have %s %s", ErrInsufficientFunds, quote.StringFixed(2), cash.StringFixed(2), p.quoteAsset)
		}
		p.balances[p.quoteAsset] = cash.Sub(quote)
		p.balances[base] = p.balances[base].Add(intent.Quantity)
	case risk.SideSell:
		p.balances[p.quoteAsset] = cash.Add(quote)
		p.balances[base] = p.balances[base].Sub(intent.Quantity)
	}
	p.mu.Unlock()

	res := OrderResult{
		OrderID:  uuid.NewString(),
		Symbol:   symbol.ToExchange(intent.Symbol),
		Side:     intent.Side,
		Quantity: intent.Quantity,
		AvgPrice: price,
		Quote:    quote,
		Status:   "FILLED",
		Venue:    p.Name(),
		FilledAt: p.now(),
	}
	logger.Infof("paper fill %s %s qty=%s price=%s", res.Symbol, res.Side, res.Quantity.StringFixed(8), price.StringFixed(4))
	return res, nil
}

func (p *Paper) Balance(_ context.Context, asset string) (decimal.Decimal, error) {
	asset = strings.ToUpper(strings.TrimSpace(asset))
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.balances[asset], nil
}

// fillPrice 买入吃 ask，卖出吃 bid，缺失时退回 last。
func fillPrice(t Ticker, side risk.Side) float64 {
	switch {
	case side == risk.SideBuy && t.Ask > 0:
		return t.Ask
	case side == risk.SideSell && t.Bid > 0:
		return t.Bid
	default:
		return t.Last
	}
}
