package decision

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"quorum/internal/pkg/jsonutil"

	"github.com/tidwall/gjson"
)

// ParseSignal turns free-form model output into a validated TradingSignal. Models are
// sloppy about types, so numbers given as strings and percentages are coerced before
// schema validation.
func ParseSignal(raw string) (TradingSignal, error) {
	obj, ok := jsonutil.ExtractObject(raw)
	if !ok || !gjson.Valid(obj) {
		return TradingSignal{}, fmt.Errorf("%w: no JSON object in response", ErrInvalidSignal)
	}
	doc := gjson.Parse(obj)
	normalized := coerceSignal(doc)

	schema, err := signalValidator()
	if err != nil {
		return TradingSignal{}, fmt.Errorf("compile signal schema: %w", err)
	}
	if err := schema.Validate(normalized); err != nil {
		return TradingSignal{}, fmt.Errorf("%w: %v", ErrInvalidSignal, err)
	}
	sig := signalFromMap(normalized)
	sanitizeLevels(&sig)
	return sig, nil
}

func coerceSignal(doc gjson.Result) map[string]any {
	out := map[string]any{}
	if v := firstOf(doc, "action", "signal", "decision"); v.Exists() {
		if act, ok := ParseAction(v.String()); ok {
			out["action"] = string(act)
		} else {
			out["action"] = v.String()
		}
	}
	if v := doc.Get("confidence"); v.Exists() {
		if f, ok := numberOf(v); ok {
			// 0-100 刻度按百分比处理
			if f > 1 {
				f /= 100
			}
			out["confidence"] = f
		} else {
			out["confidence"] = v.Value()
		}
	}
	if v := firstOf(doc, "reasoning", "reason", "rationale"); v.Exists() {
		out["reasoning"] = v.String()
	}
	for _, key := range []string{"entry_price", "stop_loss", "take_profit", "risk_reward_ratio"} {
		if v := doc.Get(key); v.Exists() && v.Type != gjson.Null {
			if f, ok := numberOf(v); ok {
				out[key] = f
			} else {
				out[key] = v.Value()
			}
		}
	}
	if v := doc.Get("position_size"); v.Exists() && v.Type != gjson.Null {
		if f, ok := numberOf(v); ok {
			if f > 1 {
				f /= 100
			}
			out["position_size"] = f
		} else {
			out["position_size"] = v.Value()
		}
	}
	if v := doc.Get("market_condition"); v.Exists() {
		out["market_condition"] = v.String()
	}
	for _, key := range []string{"key_indicators", "risk_factors"} {
		if v := doc.Get(key); v.Exists() {
			out[key] = stringList(v)
		}
	}
	return out
}

func firstOf(doc gjson.Result, keys ...string) gjson.Result {
	for _, k := range keys {
		if v := doc.Get(k); v.Exists() {
			return v
		}
	}
	return gjson.Result{}
}

func numberOf(v gjson.Result) (float64, bool) {
	switch v.Type {
	case gjson.Number:
		return v.Float(), true
	case gjson.String:
		s := strings.TrimSpace(v.String())
		pct := strings.HasSuffix(s, "%")
		s = strings.TrimSuffix(s, "%")
		s = strings.ReplaceAll(s, ",", "")
		s = strings.TrimPrefix(s, "$")
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		if pct {
			f /= 100
		}
		return f, true
	default:
		return 0, false
	}
}

func stringList(v gjson.Result) []any {
	if !v.IsArray() {
		if s := strings.TrimSpace(v.String()); s != "" {
			return []any{s}
		}
		return []any{}
	}
	out := []any{}
	v.ForEach(func(_, item gjson.Result) bool {
		if s := strings.TrimSpace(item.String()); s != "" {
			out = append(out, s)
		}
		return true
	})
	return out
}

func signalFromMap(m map[string]any) TradingSignal {
	num := func(key string) float64 {
		f, _ := m[key].(float64)
		return f
	}
	str := func(key string) string {
		s, _ := m[key].(string)
		return s
	}
	list := func(key string) []string {
		items, _ := m[key].([]any)
		if len(items) == 0 {
			return nil
		}
		out := make([]string, 0, len(items))
		for _, it := range items {
			if s, ok := it.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return TradingSignal{
		Action:          Action(str("action")),
		Confidence:      num("confidence"),
		Reasoning:       strings.TrimSpace(str("reasoning")),
		EntryPrice:      num("entry_price"),
		StopLoss:        num("stop_loss"),
		TakeProfit:      num("take_profit"),
		PositionSize:    num("position_size"),
		RiskRewardRatio: num("risk_reward_ratio"),
		KeyIndicators:   list("key_indicators"),
		MarketCondition: str("market_condition"),
		RiskFactors:     list("risk_factors"),
	}
}

// sanitizeLevels 丢弃与开仓价方向不符的止损/止盈。
func sanitizeLevels(s *TradingSignal) {
	if s.EntryPrice <= 0 {
		return
	}
	switch s.Action {
	case ActionBuy:
		if s.StopLoss >= s.EntryPrice {
			s.StopLoss = 0
		}
		if s.TakeProfit > 0 && s.TakeProfit <= s.EntryPrice {
			s.TakeProfit = 0
		}
	case ActionSell:
		if s.StopLoss > 0 && s.StopLoss <= s.EntryPrice {
			s.StopLoss = 0
		}
		if s.TakeProfit >= s.EntryPrice {
			s.TakeProfit = 0
		}
	}
	if s.RiskRewardRatio == 0 && s.StopLoss > 0 && s.TakeProfit > 0 {
		risk := math.Abs(s.EntryPrice - s.StopLoss)
		if risk > 0 {
			s.RiskRewardRatio = math.Abs(s.TakeProfit-s.EntryPrice) / risk
		}
	}
}
