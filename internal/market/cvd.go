package market

import (
	"quorum/internal/gateway/exchange"

	"github.com/shopspring/decimal"
)

// cvdLookback 是动量与背离比较的回看根数。
const cvdLookback = 6

type cvdMetrics struct {
	Momentum   float64
	Normalized float64
	Divergence float64 // -1 bearish, 1 bullish, 0 neutral
}

// computeCVD 以 taker 买量减卖量累积得到 CVD，返回归一化位置、动量与价量背离。
func computeCVD(candles []exchange.Candle) (cvdMetrics, bool) {
	if len(candles) == 0 {
		return cvdMetrics{}, false
	}
	cvd := make([]decimal.Decimal, 0, len(candles))
	cumulative := decimal.Zero
	for _, c := range candles {
		buy := decimal.NewFromFloat(c.TakerBuyVolume)
		sell := decimal.NewFromFloat(c.Volume).Sub(buy)
		cumulative = cumulative.Add(buy.Sub(sell))
		cvd = append(cvd, cumulative)
	}
	last := cvd[len(cvd)-1]

	minVal, maxVal := cvd[0], cvd[0]
	for _, v := range cvd[1:] {
		minVal = decimal.Min(minVal, v)
		maxVal = decimal.Max(maxVal, v)
	}
	norm := decimal.NewFromFloat(0.5)
	if maxVal.GreaterThan(minVal) {
		norm = last.Sub(minVal).Div(maxVal.Sub(minVal))
	}

	prevIdx := 0
	if len(cvd) > cvdLookback {
		prevIdx = len(cvd) - cvdLookback
	}
	momentum := last.Sub(cvd[prevIdx])
	priceNow := candles[len(candles)-1].Close
	pricePrev := candles[prevIdx].Close

	var divergence float64
	switch {
	case priceNow > pricePrev && last.LessThan(cvd[prevIdx]):
		divergence = -1
	case priceNow < pricePrev && last.GreaterThan(cvd[prevIdx]):
		divergence = 1
	}
	return cvdMetrics{
		Momentum:   momentum.InexactFloat64(),
		Normalized: norm.Round(4).InexactFloat64(),
		Divergence: divergence,
	}, true
}
