// Package market 把交易所行情加工成发给各模型的 MarketAnalysis。
package market

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"quorum/internal/decision"
	"quorum/internal/gateway/exchange"
	"quorum/internal/pkg/symbol"

	"golang.org/x/sync/errgroup"
)

var ErrInsufficientHistory = errors.New("insufficient kline history")

const (
	RegimeTrendingUp   = "trending_up"
	RegimeTrendingDown = "trending_down"
	RegimeRanging      = "ranging"
	RegimeVolatile     = "volatile"

	volatileThreshold = 0.05
	emaBand           = 0.002
)

type Settings struct {
	Interval  string
	Limit     int
	EMAFast   int
	EMASlow   int
	RSIPeriod int
	ATRPeriod int
	// LiquidityRef 是 24h 成交额（计价币）达到满分流动性的参考值。
	LiquidityRef float64
}

func (s Settings) withDefaults() Settings {
	out := s
	out.Interval = strings.ToLower(strings.TrimSpace(out.Interval))
	if out.Interval == "" {
		out.Interval = "1h"
	}
	if out.EMAFast <= 0 {
		out.EMAFast = 21
	}
	if out.EMASlow <= 0 {
		out.EMASlow = 50
	}
	if out.RSIPeriod <= 0 {
		out.RSIPeriod = 14
	}
	if out.ATRPeriod <= 0 {
		out.ATRPeriod = 14
	}
	if out.Limit <= 0 {
		out.Limit = 200
	}
	if out.LiquidityRef <= 0 {
		out.LiquidityRef = 1e8
	}
	return out
}

// minCandles 是计算全部指标所需的最少已收盘 K 线数。
func (s Settings) minCandles() int {
	n := s.EMASlow
	for _, p := range []int{s.RSIPeriod + 1, s.ATRPeriod + 1, 35} {
		if p > n {
			n = p
		}
	}
	return n
}

type Analyzer struct {
	src exchange.MarketData
	cfg Settings
	now func() time.Time
}

func NewAnalyzer(src exchange.MarketData, cfg Settings) *Analyzer {
	return &Analyzer{src: src, cfg: cfg.withDefaults(), now: time.Now}
}

// Analyze 并行拉取 24h ticker 与 K 线并计算指标。
func (a *Analyzer) Analyze(ctx context.Context, sym string) (decision.MarketAnalysis, error) {
	clean := symbol.ToExchange(sym)
	if clean == "" {
		return decision.MarketAnalysis{}, fmt.Errorf("symbol is required")
	}
	var (
		ticker  exchange.Ticker
		candles []exchange.Candle
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		t, err := a.src.Ticker(gctx, clean)
		if err != nil {
			return fmt.Errorf("ticker: %w", err)
		}
		ticker = t
		return nil
	})
	g.Go(func() error {
		c, err := a.src.Klines(gctx, clean, a.cfg.Interval, a.cfg.Limit)
		if err != nil {
			return fmt.Errorf("klines: %w", err)
		}
		candles = c
		return nil
	})
	if err := g.Wait(); err != nil {
		return decision.MarketAnalysis{}, fmt.Errorf("analyze %s: %w", clean, err)
	}
	return a.compute(clean, ticker, candles)
}

func (a *Analyzer) compute(sym string, t exchange.Ticker, candles []exchange.Candle) (decision.MarketAnalysis, error) {
	if need := a.cfg.minCandles(); len(candles) < need {
		return decision.MarketAnalysis{}, fmt.Errorf("%w: %s has %d candles, need %d", ErrInsufficientHistory, sym, len(candles), need)
	}
	s := splitCandles(candles)
	price := t.Last
	if price <= 0 {
		price = s.closes[len(s.closes)-1]
	}
	emaFast := ema(s.closes, a.cfg.EMAFast)
	emaSlow := ema(s.closes, a.cfg.EMASlow)
	atrVal := atr(s, a.cfg.ATRPeriod)
	volatility := 0.0
	if price > 0 {
		volatility = round4(atrVal / price)
	}

	out := decision.MarketAnalysis{
		Symbol:     sym,
		Price:      price,
		Volume24h:  t.QuoteVolume,
		High24h:    t.High,
		Low24h:     t.Low,
		Change24h:  t.ChangePct,
		Volatility: volatility,
		Liquidity:  liquidityScore(t.QuoteVolume, a.cfg.LiquidityRef),
		RSI:        rsi(s.closes, a.cfg.RSIPeriod),
		EMAFast:    emaFast,
		EMASlow:    emaSlow,
		ATR:        atrVal,
		Regime:     classifyRegime(price, emaFast, emaSlow, volatility),
		Indicators: map[string]float64{
			"macd_hist": macdHist(s.closes),
			"roc_9":     roc(s.closes, 9),
			"stoch_k":   stochK(s),
		},
		Timestamp: a.now(),
	}
	if cvd, ok := computeCVD(candles); ok {
		out.Indicators["cvd_norm"] = cvd.Normalized
		out.Indicators["cvd_divergence"] = cvd.Divergence
	}
	return out, nil
}

func splitCandles(candles []exchange.Candle) series {
	s := series{
		highs:  make([]float64, len(candles)),
		lows:   make([]float64, len(candles)),
		closes: make([]float64, len(candles)),
	}
	for i, c := range candles {
		s.highs[i] = c.High
		s.lows[i] = c.Low
		s.closes[i] = c.Close
	}
	return s
}

// liquidityScore 以成交额平方根压缩到 [0,1]。
func liquidityScore(quoteVolume, ref float64) float64 {
	if quoteVolume <= 0 || ref <= 0 {
		return 0
	}
	return round4(math.Min(1, math.Sqrt(quoteVolume/ref)))
}

func classifyRegime(price, emaFast, emaSlow, volatility float64) string {
	switch {
	case volatility >= volatileThreshold:
		return RegimeVolatile
	case emaFast > emaSlow*(1+emaBand) && price >= emaFast:
		return RegimeTrendingUp
	case emaFast < emaSlow*(1-emaBand) && price <= emaFast:
		return RegimeTrendingDown
	default:
		return RegimeRanging
	}
}
