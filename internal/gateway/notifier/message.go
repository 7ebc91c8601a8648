package notifier

import (
	"fmt"
	"strings"
	"time"

	"quorum/internal/decision"
	"quorum/internal/gateway/exchange"
	"quorum/internal/risk"
)

const maxStructuredMessageLen = 3800

// MessageSection 表示通知中的一个段落。
type MessageSection struct {
	Title string
	Lines []string
}

type StructuredMessage struct {
	Icon      string
	Title     string
	Sections  []MessageSection
	Footer    string
	Timestamp time.Time
}

// RenderMarkdown 生成 Markdown 文本，超长时截断。
func (m StructuredMessage) RenderMarkdown() string {
	var b strings.Builder
	if header := strings.TrimSpace(m.Icon + " " + m.Title); header != "" {
		b.WriteString(header + "\n\n")
	}
	b.WriteString(renderSections(m.Sections))
	if footer := strings.TrimSpace(m.Footer); footer != "" {
		b.WriteString(sanitize(footer))
		b.WriteString("\n")
	}
	if !m.Timestamp.IsZero() {
		b.WriteString("time: " + m.Timestamp.UTC().Format("2006-01-02 15:04:05 MST"))
	}
	body := strings.TrimSpace(b.String())
	if len(body) > maxStructuredMessageLen {
		body = body[:maxStructuredMessageLen] + "..."
	}
	return body
}

// FillMessage 描述一笔已成交的订单。
func FillMessage(d decision.EnsembleDecision, intent risk.TradeIntent, res exchange.OrderResult) StructuredMessage {
	return StructuredMessage{
		Icon:  "✅",
		Title: fmt.Sprintf("%s %s filled on %s", res.Symbol, res.Side, res.Venue),
		Sections: []MessageSection{
			{Title: "order", Lines: []string{
				"qty: " + res.Quantity.String(),
				"avg price: " + res.AvgPrice.StringFixed(4),
				"stop / take: " + intent.StopLoss.StringFixed(4) + " / " + intent.TakeProfit.StringFixed(4),
				"risk amount: " + intent.RiskAmount.StringFixed(2),
			}},
			decisionSection(d),
		},
		Footer:    "order " + res.OrderID,
		Timestamp: res.FilledAt,
	}
}

func RejectionMessage(d decision.EnsembleDecision, rej *risk.Rejection) StructuredMessage {
	return StructuredMessage{
		Icon:      "⛔",
		Title:     fmt.Sprintf("%s %s rejected: %s", d.Symbol, d.Action, rej.Reason),
		Sections:  []MessageSection{decisionSection(d), {Title: "details", Lines: []string{rej.Details}}},
		Timestamp: d.CreatedAt,
	}
}

func EnsembleErrorMessage(err *decision.EnsembleError, at time.Time) StructuredMessage {
	return StructuredMessage{
		Icon:  "⚠️",
		Title: fmt.Sprintf("%s ensemble failed", err.Symbol),
		Sections: []MessageSection{{Lines: []string{
			fmt.Sprintf("responded %d/%d", err.Responded, len(err.ProvidersAttempted)),
			"providers: " + strings.Join(err.ProvidersAttempted, ", "),
			err.Error(),
		}}},
		Timestamp: at,
	}
}

func decisionSection(d decision.EnsembleDecision) MessageSection {
	lines := []string{
		fmt.Sprintf("confidence %.2f consensus %.2f", d.Confidence, d.Consensus),
		fmt.Sprintf("risk %s (%.2f) urgency %s", d.Risk.Level, d.Risk.Score, d.Execution.Urgency),
	}
	if d.Fallback != "" {
		lines = append(lines, "fallback "+string(d.Fallback))
	}
	for _, s := range d.Signals {
		lines = append(lines, fmt.Sprintf("%s: %s %.2f (w=%.2f)", s.Provider, s.Action, s.Confidence, s.Weight))
	}
	return MessageSection{Title: "ensemble " + d.ID, Lines: lines}
}

func renderSections(secs []MessageSection) string {
	hasContent := false
	for _, sec := range secs {
		if len(sanitizeLines(sec.Lines)) > 0 {
			hasContent = true
			break
		}
	}
	if !hasContent {
		return ""
	}
	var b strings.Builder
	b.WriteString("```\n")
	for idx, sec := range secs {
		lines := sanitizeLines(sec.Lines)
		if len(lines) == 0 {
			continue
		}
		if title := strings.TrimSpace(sec.Title); title != "" {
			b.WriteString(sanitize(title))
			b.WriteString("\n")
		}
		for _, line := range lines {
			b.WriteString("- ")
			b.WriteString(sanitize(line))
			b.WriteString("\n")
		}
		if idx != len(secs)-1 {
			b.WriteString("\n")
		}
	}
	b.WriteString("```\n\n")
	return b.String()
}

func sanitizeLines(lines []string) []string {
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if text := strings.TrimSpace(line); text != "" {
			out = append(out, text)
		}
	}
	return out
}

func sanitize(s string) string {
	return strings.ReplaceAll(s, "```", "'''")
}
