package decision

import (
	"strings"
)

type FallbackStrategy string

const (
	FallbackSafeHold          FallbackStrategy = "SAFE_HOLD"
	FallbackHighestConfidence FallbackStrategy = "HIGHEST_CONFIDENCE"
	FallbackMajority          FallbackStrategy = "MAJORITY"
	FallbackWeightedVote      FallbackStrategy = "WEIGHTED_VOTE"
)

// outcome 是投票或 fallback 的结论，之后再推导风险与执行建议。
type outcome struct {
	action     Action
	confidence float64
	consensus  float64
	members    []ProviderSignal
	hold       bool // 强制观望，不会执行
	note       string
}

// fallbackFunc 接收已加权并按权重降序的信号。disagreement 表示已投票但共识不足；
// ok=false 表示该策略给不出结果。
type fallbackFunc func(signals []ProviderSignal, disagreement bool) (outcome, bool)

var fallbackTable = map[FallbackStrategy]fallbackFunc{
	FallbackSafeHold:          safeHold,
	FallbackHighestConfidence: highestConfidence,
	FallbackMajority:          majorityFallback,
	FallbackWeightedVote:      weightedVoteFallback,
}

func ParseFallback(raw string) (FallbackStrategy, bool) {
	s := FallbackStrategy(strings.ToUpper(strings.TrimSpace(raw)))
	_, ok := fallbackTable[s]
	return s, ok
}

func safeHold(signals []ProviderSignal, disagreement bool) (outcome, bool) {
	note := "not enough providers responded"
	if disagreement {
		note = "providers disagree"
	}
	return outcome{action: ActionHold, hold: true, note: note}, true
}

func highestConfidence(signals []ProviderSignal, _ bool) (outcome, bool) {
	if len(signals) == 0 {
		return outcome{}, false
	}
	best := signals[0]
	for _, s := range signals[1:] {
		// 已按排名排序，严格大于保证平局取靠前者
		if s.Confidence > best.Confidence {
			best = s
		}
	}
	return outcome{
		action:     best.Action,
		confidence: best.Confidence,
		consensus:  best.Weight,
		members:    []ProviderSignal{best},
		note:       "highest confidence provider " + best.Provider,
	}, true
}

func majorityFallback(signals []ProviderSignal, disagreement bool) (outcome, bool) {
	if disagreement || len(signals) < 2 {
		return safeHold(signals, disagreement)
	}
	equal := make([]ProviderSignal, len(signals))
	copy(equal, signals)
	for i := range equal {
		equal[i].Weight = 1 / float64(len(equal))
	}
	out := vote(equal)
	out.note = "simple majority"
	return out, true
}

func weightedVoteFallback(signals []ProviderSignal, disagreement bool) (outcome, bool) {
	if disagreement || len(signals) < 2 {
		return safeHold(signals, disagreement)
	}
	out := vote(signals)
	out.note = "weighted vote"
	return out, true
}
