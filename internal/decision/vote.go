package decision

import (
	"math"
)

const weightEpsilon = 1e-9

type actionGroup struct {
	action  Action
	weight  float64
	confSum float64
	members []ProviderSignal
	rank    int // 组内成员的最佳排名
}

// vote 按动作分组取权重最大的一组。平局先比累计置信度，再比组内最佳排名；
// 输入顺序即排名。
func vote(signals []ProviderSignal) outcome {
	if len(signals) == 0 {
		return outcome{action: ActionHold, hold: true, note: "no signals"}
	}
	groups := map[Action]*actionGroup{}
	order := make([]Action, 0, 3)
	total := 0.0
	for i, s := range signals {
		g, ok := groups[s.Action]
		if !ok {
			g = &actionGroup{action: s.Action, rank: i}
			groups[s.Action] = g
			order = append(order, s.Action)
		}
		g.weight += s.Weight
		g.confSum += s.Confidence
		g.members = append(g.members, s)
		total += s.Weight
	}

	var win *actionGroup
	for _, act := range order {
		g := groups[act]
		if win == nil || beats(g, win) {
			win = g
		}
	}

	out := outcome{action: win.action, members: win.members}
	if total > 0 {
		out.consensus = win.weight / total
	}
	out.confidence = weightedConfidence(win.members)
	return out
}

func beats(a, b *actionGroup) bool {
	if diff := a.weight - b.weight; math.Abs(diff) > weightEpsilon {
		return diff > 0
	}
	if diff := a.confSum - b.confSum; math.Abs(diff) > weightEpsilon {
		return diff > 0
	}
	return a.rank < b.rank
}

func weightedConfidence(members []ProviderSignal) float64 {
	var wSum, cSum float64
	for _, m := range members {
		wSum += m.Weight
		cSum += m.Weight * m.Confidence
	}
	if wSum <= 0 {
		if len(members) == 0 {
			return 0
		}
		for _, m := range members {
			cSum += m.Confidence
		}
		return clamp01(cSum / float64(len(members)))
	}
	return clamp01(cSum / wSum)
}

// weightedLevel 对给出该价位的成员做加权平均。
func weightedLevel(members []ProviderSignal, pick func(ProviderSignal) float64) float64 {
	var wSum, vSum float64
	var plain []float64
	for _, m := range members {
		v := pick(m)
		if v <= 0 {
			continue
		}
		plain = append(plain, v)
		wSum += m.Weight
		vSum += m.Weight * v
	}
	if len(plain) == 0 {
		return 0
	}
	if wSum <= 0 {
		return mean(plain)
	}
	return vSum / wSum
}

func clamp01(v float64) float64 {
	return clamp(v, 0, 1)
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// coefficientOfVariation 标准差/均值，样本少于 2 个时为 0。
func coefficientOfVariation(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	m := mean(xs)
	if m == 0 {
		return 0
	}
	var ss float64
	for _, x := range xs {
		ss += (x - m) * (x - m)
	}
	return math.Sqrt(ss/float64(len(xs))) / math.Abs(m)
}
