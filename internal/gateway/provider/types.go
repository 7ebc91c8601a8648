package provider

import (
	"context"
	"time"
)

// Request is one prompt issued to a backend. Treat it as immutable once handed to an adapter.
type Request struct {
	Prompt      string
	Context     string
	Temperature float64
	MaxTokens   int
	Model       string
	Metadata    map[string]string
}

type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type Response struct {
	Content      string        `json:"content"`
	Model        string        `json:"model"`
	Provider     string        `json:"provider"`
	Usage        *TokenUsage   `json:"usage,omitempty"`
	Cost         float64       `json:"cost"`
	ResponseTime time.Duration `json:"response_time"`
	Timestamp    time.Time     `json:"timestamp"`
}

// Pricing 按每 1K token 计价。
type Pricing struct {
	InputPer1K  float64
	OutputPer1K float64
}

func (p Pricing) Cost(u *TokenUsage) float64 {
	if u == nil {
		return 0
	}
	return float64(u.PromptTokens)/1000*p.InputPer1K + float64(u.CompletionTokens)/1000*p.OutputPer1K
}

// Adapter is the resilience wrapper around one AI backend.
type Adapter interface {
	ID() string
	Enabled() bool
	GenerateResponse(ctx context.Context, req Request) (Response, error)
	IsHealthy(ctx context.Context) bool
	Metrics() Metrics
	Models() []string
	ValidateConfig() error
}

// FeedbackRecorder 由需要跨轮次统计信号质量的 adapter 实现。
type FeedbackRecorder interface {
	RecordConfidence(confidence float64)
	RecordOutcome(agreed bool)
}
