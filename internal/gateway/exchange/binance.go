package exchange

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"quorum/internal/logger"
	"quorum/internal/pkg/symbol"
	"quorum/internal/risk"

	"github.com/adshao/go-binance/v2"
	"github.com/shopspring/decimal"
)

const (
	binanceMainnetURL = "https://api.binance.com"
	binanceTestnetURL = "https://testnet.binance.vision"
	maxKlineLimit     = 1000
)

type BinanceConfig struct {
	APIKey      string
	SecretKey   string
	BaseURL     string
	Testnet     bool
	HTTPTimeout time.Duration
	ProxyURL    string
}

func (c BinanceConfig) withDefaults() BinanceConfig {
	out := c
	out.BaseURL = strings.TrimRight(strings.TrimSpace(out.BaseURL), "/")
	if out.BaseURL == "" {
		out.BaseURL = binanceMainnetURL
		if out.Testnet {
			out.BaseURL = binanceTestnetURL
		}
	}
	if out.HTTPTimeout <= 0 {
		out.HTTPTimeout = 15 * time.Second
	}
	out.ProxyURL = strings.TrimSpace(out.ProxyURL)
	return out
}

// Binance 基于 go-binance 现货 REST 实现 Gateway。
type Binance struct {
	cfg    BinanceConfig
	client *binance.Client
	now    func() time.Time

	mu    sync.Mutex
	steps map[string]decimal.Decimal
}

func NewBinance(cfg BinanceConfig) (*Binance, error) {
	final := cfg.withDefaults()
	client := binance.NewClient(final.APIKey, final.SecretKey)
	client.BaseURL = final.BaseURL
	httpClient := &http.Client{Timeout: final.HTTPTimeout}
	if final.ProxyURL != "" {
		proxyURL, err := url.Parse(final.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy url: %w", err)
		}
		baseTransport, ok := http.DefaultTransport.(*http.Transport)
		if !ok || baseTransport == nil {
			return nil, fmt.Errorf("http DefaultTransport is not *http.Transport")
		}
		transport := baseTransport.Clone()
		transport.Proxy = http.ProxyURL(proxyURL)
		httpClient.Transport = transport
	}
	client.HTTPClient = httpClient
	return &Binance{
		cfg:    final,
		client: client,
		now:    time.Now,
		steps:  make(map[string]decimal.Decimal),
	}, nil
}

func (b *Binance) Name() string {
	if b.cfg.Testnet {
		return "binance-testnet"
	}
	return "binance"
}

func (b *Binance) Ticker(ctx context.Context, sym string) (Ticker, error) {
	clean := symbol.ToExchange(sym)
	if clean == "" {
		return Ticker{}, fmt.Errorf("symbol is required")
	}
	stats, err := b.client.NewListPriceChangeStatsService().Symbol(clean).Do(ctx)
	if err != nil {
		return Ticker{}, fmt.Errorf("binance ticker %s: %w", clean, err)
	}
	for _, st := range stats {
		if st == nil || st.Symbol != clean {
			continue
		}
		t := Ticker{
			Symbol:      clean,
			Last:        parseFloat(st.LastPrice),
			Bid:         parseFloat(st.BidPrice),
			Ask:         parseFloat(st.AskPrice),
			High:        parseFloat(st.HighPrice),
			Low:         parseFloat(st.LowPrice),
			Volume:      parseFloat(st.Volume),
			QuoteVolume: parseFloat(st.QuoteVolume),
			ChangePct:   parseFloat(st.PriceChangePercent),
			UpdatedAt:   time.UnixMilli(st.CloseTime),
		}
		if t.Last <= 0 {
			return Ticker{}, fmt.Errorf("binance ticker %s: %w", clean, ErrNoPrice)
		}
		return t, nil
	}
	return Ticker{}, fmt.Errorf("binance ticker %s: %w", clean, ErrNoPrice)
}

func (b *Binance) Klines(ctx context.Context, sym, interval string, limit int) ([]Candle, error) {
	clean := symbol.ToExchange(sym)
	if clean == "" {
		return nil, fmt.Errorf("symbol is required")
	}
	interval = strings.ToLower(strings.TrimSpace(interval))
	if interval == "" {
		return nil, fmt.Errorf("interval is required")
	}
	if limit <= 0 {
		limit = 100
	}
	if limit > maxKlineLimit {
		limit = maxKlineLimit
	}
	kls, err := b.client.NewKlinesService().Symbol(clean).Interval(interval).Limit(limit).Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("binance klines %s %s: %w", clean, interval, err)
	}
	out := make([]Candle, 0, len(kls))
	for _, kl := range kls {
		if kl == nil {
			continue
		}
		out = append(out, Candle{
			OpenTime:       kl.OpenTime,
			CloseTime:      kl.CloseTime,
			Open:           parseFloat(kl.Open),
			High:           parseFloat(kl.High),
			Low:            parseFloat(kl.Low),
			Close:          parseFloat(kl.Close),
			Volume:         parseFloat(kl.Volume),
			TakerBuyVolume: parseFloat(kl.TakerBuyBaseAssetVolume),
			Trades:         kl.TradeNum,
		})
	}
	return dropUnclosed(out, b.now()), nil
}

// PlaceOrder 以市价单提交，数量按 LOT_SIZE 步长向下取整。
func (b *Binance) PlaceOrder(ctx context.Context, intent risk.TradeIntent) (OrderResult, error) {
	if err := validateIntent(intent); err != nil {
		return OrderResult{}, err
	}
	clean := symbol.ToExchange(intent.Symbol)
	step, err := b.stepSize(ctx, clean)
	if err != nil {
		return OrderResult{}, err
	}
	qty := roundToStep(intent.Quantity, step)
	if !qty.IsPositive() {
		return OrderResult{}, fmt.Errorf("%w: quantity %s below step %s", ErrInvalidOrder, intent.Quantity, step)
	}
	side := binance.SideTypeBuy
	if intent.Side == risk.SideSell {
		side = binance.SideTypeSell
	}
	svc := b.client.NewCreateOrderService().
		Symbol(clean).
		Side(side).
		Type(binance.OrderTypeMarket).
		Quantity(qty.String())
	if intent.DecisionID != "" {
		svc.NewClientOrderID(clientOrderID(intent.DecisionID))
	}
	resp, err := svc.Do(ctx)
	if err != nil {
		return OrderResult{}, fmt.Errorf("binance order %s %s: %w", clean, side, err)
	}
	executed := parseDecimal(resp.ExecutedQuantity)
	quote := parseDecimal(resp.CummulativeQuoteQuantity)
	avg := decimal.Zero
	if executed.IsPositive() {
		avg = quote.Div(executed)
	}
	res := OrderResult{
		OrderID:  strconv.FormatInt(resp.OrderID, 10),
		Symbol:   clean,
		Side:     intent.Side,
		Quantity: executed,
		AvgPrice: avg,
		Quote:    quote,
		Status:   string(resp.Status),
		Venue:    b.Name(),
		FilledAt: time.UnixMilli(resp.TransactTime),
	}
	logger.Infof("binance order %s %s qty=%s avg=%s status=%s", clean, side, executed, avg.StringFixed(4), res.Status)
	return res, nil
}

func (b *Binance) Balance(ctx context.Context, asset string) (decimal.Decimal, error) {
	asset = strings.ToUpper(strings.TrimSpace(asset))
	acct, err := b.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return decimal.Zero, fmt.Errorf("binance account: %w", err)
	}
	for _, bal := range acct.Balances {
		if bal.Asset == asset {
			return parseDecimal(bal.Free), nil
		}
	}
	return decimal.Zero, nil
}

func (b *Binance) stepSize(ctx context.Context, clean string) (decimal.Decimal, error) {
	b.mu.Lock()
	step, ok := b.steps[clean]
	b.mu.Unlock()
	if ok {
		return step, nil
	}
	info, err := b.client.NewExchangeInfoService().Symbol(clean).Do(ctx)
	if err != nil {
		return decimal.Zero, fmt.Errorf("binance exchange info %s: %w", clean, err)
	}
	step = decimal.Zero
	for i := range info.Symbols {
		if info.Symbols[i].Symbol != clean {
			continue
		}
		if f := info.Symbols[i].LotSizeFilter(); f != nil {
			step = parseDecimal(f.StepSize)
		}
	}
	b.mu.Lock()
	b.steps[clean] = step
	b.mu.Unlock()
	return step, nil
}

func roundToStep(qty, step decimal.Decimal) decimal.Decimal {
	if !step.IsPositive() {
		return qty
	}
	return qty.Div(step).Floor().Mul(step)
}

// clientOrderID 截断到 Binance 允许的 36 个字符。
func clientOrderID(decisionID string) string {
	id := "qrm-" + strings.ReplaceAll(decisionID, "-", "")
	if len(id) > 36 {
		id = id[:36]
	}
	return id
}

func parseFloat(v string) float64 {
	f, _ := strconv.ParseFloat(strings.TrimSpace(v), 64)
	return f
}

func parseDecimal(v string) decimal.Decimal {
	d, err := decimal.NewFromString(strings.TrimSpace(v))
	if err != nil {
		return decimal.Zero
	}
	return d
}
