package decision

import (
	"fmt"
	"math"
)

const (
	volatilityCeiling   = 0.05
	immediateVolatility = 0.03
	minExecConfidence   = 0.5
)

var sizeMultiplier = map[RiskLevel]float64{
	RiskLow:     1,
	RiskMedium:  0.75,
	RiskHigh:    0.5,
	RiskExtreme: 0.25,
}

func assessRisk(a MarketAnalysis, out outcome) RiskAssessment {
	var entries, stopDist, drawdowns, sizes []float64
	for _, m := range out.members {
		entry := m.EntryPrice
		if entry <= 0 {
			entry = a.Price
		}
		if m.EntryPrice > 0 {
			entries = append(entries, m.EntryPrice)
		}
		if m.StopLoss > 0 && entry > 0 {
			d := math.Abs(entry - m.StopLoss)
			stopDist = append(stopDist, d)
			drawdowns = append(drawdowns, d/entry)
		}
		if m.PositionSize > 0 {
			sizes = append(sizes, m.PositionSize)
		}
	}
	dispersion := clamp01(math.Max(coefficientOfVariation(entries), coefficientOfVariation(stopDist)))
	correlation := 1 - out.consensus
	if out.hold {
		correlation = 1
	}
	correlation = clamp01(correlation)
	liquidity := clamp01(a.Liquidity)

	score := 0.4*clamp01(a.Volatility/volatilityCeiling) +
		0.2*(1-liquidity) +
		0.2*dispersion +
		0.2*correlation

	level := riskLevel(score)
	ra := RiskAssessment{
		Level: level,
		Score: score,
		Factors: RiskFactors{
			Volatility:      a.Volatility,
			Liquidity:       liquidity,
			Correlation:     correlation,
			PriceDispersion: dispersion,
			Regime:          a.Regime,
		},
		MaxDrawdownRisk: mean(drawdowns),
	}
	if !out.hold && out.action != ActionHold {
		ra.RecommendedPositionSize = mean(sizes) * sizeMultiplier[level]
	}
	return ra
}

func riskLevel(score float64) RiskLevel {
	switch {
	case score < 0.25:
		return RiskLow
	case score < 0.5:
		return RiskMedium
	case score < 0.75:
		return RiskHigh
	default:
		return RiskExtreme
	}
}

func recommendExecution(cfg EnsembleConfig, a MarketAnalysis, d EnsembleDecision, forcedHold bool) ExecutionRecommendation {
	if forcedHold {
		return ExecutionRecommendation{Urgency: UrgencyLow, Timing: "stand aside", Reason: "safe hold: " + d.Reasoning}
	}
	if d.Action == ActionHold {
		return ExecutionRecommendation{Urgency: UrgencyLow, Timing: "stand aside", Reason: "ensemble favours holding"}
	}

	urgency := UrgencyLow
	switch {
	case d.Confidence >= 0.85 && d.Consensus >= 0.8:
		urgency = UrgencyHigh
		if a.Volatility > immediateVolatility {
			urgency = UrgencyImmediate
		}
	case d.Confidence >= 0.6:
		urgency = UrgencyMedium
	}

	rec := ExecutionRecommendation{Execute: true, Urgency: urgency, Timing: timingFor(urgency)}
	switch {
	case (d.Risk.Level == RiskExtreme || urgency == UrgencyImmediate) && d.Consensus < cfg.HighConsensus:
		rec.Execute = false
		rec.Reason = fmt.Sprintf("%s risk / %s urgency needs consensus >= %.2f (have %.2f)",
			d.Risk.Level, urgency, cfg.HighConsensus, d.Consensus)
	case d.Confidence < minExecConfidence:
		rec.Execute = false
		rec.Reason = fmt.Sprintf("confidence %.2f below %.2f", d.Confidence, minExecConfidence)
	default:
		rec.Reason = fmt.Sprintf("%s with confidence %.2f, consensus %.2f, risk %s",
			d.Action, d.Confidence, d.Consensus, d.Risk.Level)
	}
	return rec
}

func timingFor(u Urgency) string {
	switch u {
	case UrgencyImmediate:
		return "now, market order"
	case UrgencyHigh:
		return "within the current candle"
	case UrgencyMedium:
		return "on the next candle close"
	default:
		return "wait for confirmation"
	}
}
