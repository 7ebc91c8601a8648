package market

import (
	"math"

	"github.com/markcheno/go-talib"
)

// series 保存一组 K 线拆分后的输入序列。
type series struct {
	highs, lows, closes []float64
}

func sanitizeSeries(src []float64) []float64 {
	out := make([]float64, 0, len(src))
	for _, v := range src {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		out = append(out, round4(v))
	}
	return out
}

// trimLeadingZeros 去掉 TALib 在回看期内填充的 0。
func trimLeadingZeros(s []float64) []float64 {
	start := 0
	for start < len(s) && math.Abs(s[start]) <= 1e-9 {
		start++
	}
	return s[start:]
}

func lastValid(s []float64) float64 {
	for i := len(s) - 1; i >= 0; i-- {
		if !math.IsNaN(s[i]) && !math.IsInf(s[i], 0) {
			return s[i]
		}
	}
	return 0
}

func ema(closes []float64, period int) float64 {
	return lastValid(trimLeadingZeros(sanitizeSeries(talib.Ema(closes, period))))
}

func rsi(closes []float64, period int) float64 {
	return lastValid(sanitizeSeries(talib.Rsi(closes, period)))
}

func atr(s series, period int) float64 {
	return lastValid(sanitizeSeries(talib.Atr(s.highs, s.lows, s.closes, period)))
}

func macdHist(closes []float64) float64 {
	_, _, hist := talib.Macd(closes, 12, 26, 9)
	return lastValid(sanitizeSeries(hist))
}

func roc(closes []float64, period int) float64 {
	return lastValid(sanitizeSeries(talib.Roc(closes, period)))
}

func stochK(s series) float64 {
	k, _ := talib.Stoch(s.highs, s.lows, s.closes, 14, 3, talib.SMA, 3, talib.SMA)
	return lastValid(sanitizeSeries(k))
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
