package decision

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
	"text/template"
)

const DefaultSystemPrompt = `You are one analyst on an independent panel reviewing a single crypto market.
Judge only from the data given. Reply with exactly one JSON object and no other text.`

const signalInstructions = `Respond with a JSON object of this shape:
{
  "action": "BUY" | "SELL" | "HOLD",
  "confidence": number between 0 and 1,
  "reasoning": "short explanation",
  "entry_price": number,
  "stop_loss": number,
  "take_profit": number,
  "position_size": fraction of portfolio between 0 and 1,
  "risk_reward_ratio": number,
  "key_indicators": ["..."],
  "market_condition": "trending_up" | "trending_down" | "ranging",
  "risk_factors": ["..."]
}
For BUY the stop_loss must be below entry_price, for SELL above it.`

var userTemplate = template.Must(template.New("signal").Funcs(template.FuncMap{
	"pct":   func(v float64) string { return fmt.Sprintf("%.2f%%", v*100) },
	"price": func(v float64) string { return fmt.Sprintf("%.6g", v) },
	"num":   func(v float64) string { return fmt.Sprintf("%.2f", v) },
}).Parse(`Symbol: {{.A.Symbol}}
Time: {{.A.Timestamp.UTC.Format "2006-01-02 15:04 MST"}}

## Market
- Last price: {{price .A.Price}}
- 24h high / low: {{price .A.High24h}} / {{price .A.Low24h}}
- 24h change: {{num .A.Change24h}}%
- 24h volume: {{num .A.Volume24h}}
- Liquidity score: {{num .A.Liquidity}}

## Indicators
- ATR: {{price .A.ATR}} (volatility {{pct .A.Volatility}})
- RSI: {{num .A.RSI}}
- EMA fast / slow: {{price .A.EMAFast}} / {{price .A.EMASlow}}
- Regime: {{if .A.Regime}}{{.A.Regime}}{{else}}unknown{{end}}
{{- range .Extra}}
- {{.Name}}: {{num .Value}}
{{- end}}

{{.Instructions}}
`))

type namedValue struct {
	Name  string
	Value float64
}

// BuildPrompt 根据行情快照渲染本轮 user prompt。
func BuildPrompt(a MarketAnalysis) (string, error) {
	extra := make([]namedValue, 0, len(a.Indicators))
	for k, v := range a.Indicators {
		extra = append(extra, namedValue{Name: k, Value: v})
	}
	sort.Slice(extra, func(i, j int) bool { return extra[i].Name < extra[j].Name })

	var buf bytes.Buffer
	err := userTemplate.Execute(&buf, struct {
		A            MarketAnalysis
		Extra        []namedValue
		Instructions string
	}{A: a, Extra: extra, Instructions: signalInstructions})
	if err != nil {
		return "", fmt.Errorf("render prompt: %w", err)
	}
	return strings.TrimSpace(buf.String()), nil
}
