package decision

import (
	"sort"
	"time"

	"quorum/internal/gateway/provider"
)

const (
	minHistory      = 5
	minFactor       = 0.5
	maxFactor       = 1.5
	speedFactorLow  = 0.8
	speedFactorHigh = 1.2
	costFactorLow   = 0.9
	costFactorHigh  = 1.1
)

// fleetStats 本轮响应者的平均耗时与成本，速度和成本因子以此为基准。
type fleetStats struct {
	latency time.Duration
	cost    float64
}

func computeFleetStats(metrics map[string]provider.Metrics) fleetStats {
	var lat time.Duration
	var latN int
	var cost float64
	var costN int
	for _, m := range metrics {
		if m.SuccessfulRequests < minHistory {
			continue
		}
		if m.AverageResponseTime > 0 {
			lat += m.AverageResponseTime
			latN++
		}
		if cps := m.CostPerSuccess(); cps > 0 {
			cost += cps
			costN++
		}
	}
	var fs fleetStats
	if latN > 0 {
		fs.latency = lat / time.Duration(latN)
	}
	if costN > 0 {
		fs.cost = cost / float64(costN)
	}
	return fs
}

// performanceFactor 用实时准确率、速度、成本调整配置权重；历史不足时各项取中性值。
func performanceFactor(m provider.Metrics, fleet fleetStats) float64 {
	factor := 1.0
	if m.EvaluatedOutcomes >= minHistory {
		factor *= 0.5 + m.Accuracy
	}
	if m.SuccessfulRequests >= minHistory {
		if fleet.latency > 0 && m.AverageResponseTime > 0 {
			factor *= clamp(float64(fleet.latency)/float64(m.AverageResponseTime), speedFactorLow, speedFactorHigh)
		}
		if cps := m.CostPerSuccess(); fleet.cost > 0 && cps > 0 {
			factor *= clamp(fleet.cost/cps, costFactorLow, costFactorHigh)
		}
	}
	return clamp(factor, minFactor, maxFactor)
}

func reliability(m provider.Metrics) float64 {
	if m.TotalRequests == 0 {
		return 1
	}
	return float64(m.SuccessfulRequests) / float64(m.TotalRequests)
}

func configuredWeight(cfg EnsembleConfig, id string) float64 {
	if w, ok := cfg.Weights[id]; ok && w >= 0 {
		return w
	}
	return 1
}

// applyWeights fills Weight and Reliability and normalizes weights to sum to 1.
func applyWeights(cfg EnsembleConfig, signals []ProviderSignal, metrics map[string]provider.Metrics) {
	fleet := computeFleetStats(metrics)
	total := 0.0
	for i := range signals {
		id := signals[i].Provider
		w := configuredWeight(cfg, id)
		m, ok := metrics[id]
		if ok {
			signals[i].Reliability = reliability(m)
			if cfg.PerformanceWeighting {
				w *= performanceFactor(m, fleet)
			}
		} else {
			signals[i].Reliability = 1
		}
		signals[i].Weight = w
		total += w
	}
	if len(signals) == 0 {
		return
	}
	for i := range signals {
		if total <= 0 {
			signals[i].Weight = 1 / float64(len(signals))
			continue
		}
		signals[i].Weight /= total
	}
}

// rankSignals 按配置权重、偏好列表、provider id 排序，投票平局依赖此顺序。
func rankSignals(cfg EnsembleConfig, signals []ProviderSignal) {
	pref := make(map[string]int, len(cfg.Preference))
	for i, id := range cfg.Preference {
		if _, ok := pref[id]; !ok {
			pref[id] = i
		}
	}
	prefIndex := func(id string) int {
		if i, ok := pref[id]; ok {
			return i
		}
		return len(cfg.Preference)
	}
	sort.SliceStable(signals, func(i, j int) bool {
		a, b := signals[i].Provider, signals[j].Provider
		if wa, wb := configuredWeight(cfg, a), configuredWeight(cfg, b); wa != wb {
			return wa > wb
		}
		if pa, pb := prefIndex(a), prefIndex(b); pa != pb {
			return pa < pb
		}
		return a < b
	})
}

// sortByWeight 决策中信号的展示顺序。
func sortByWeight(signals []ProviderSignal) {
	sort.SliceStable(signals, func(i, j int) bool {
		if signals[i].Weight != signals[j].Weight {
			return signals[i].Weight > signals[j].Weight
		}
		return signals[i].Provider < signals[j].Provider
	})
}
