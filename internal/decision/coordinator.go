package decision

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"quorum/internal/gateway/provider"
	"quorum/internal/logger"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Coordinator 每次 Decide 针对固定的 adapter 集合跑一轮 ensemble。
type Coordinator struct {
	adapters []provider.Adapter
	now      func() time.Time

	mu  sync.RWMutex
	cfg EnsembleConfig
}

func NewCoordinator(adapters []provider.Adapter, cfg EnsembleConfig) *Coordinator {
	return &Coordinator{
		adapters: append([]provider.Adapter(nil), adapters...),
		now:      time.Now,
		cfg:      cfg.normalized(),
	}
}

func (c *Coordinator) WithClock(now func() time.Time) *Coordinator {
	if now != nil {
		c.now = now
	}
	return c
}

func (c *Coordinator) Adapters() []provider.Adapter {
	return append([]provider.Adapter(nil), c.adapters...)
}

func (c *Coordinator) Config() EnsembleConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg
}

// UpdateConfig 热更新 ensemble 配置，进行中的轮次继续用旧值。
func (c *Coordinator) UpdateConfig(cfg EnsembleConfig) {
	c.mu.Lock()
	c.cfg = cfg.normalized()
	c.mu.Unlock()
}

type roundResult struct {
	signal ProviderSignal
	ok     bool
	err    error
}

func (c *Coordinator) Decide(ctx context.Context, analysis MarketAnalysis) (EnsembleDecision, error) {
	cfg := c.Config()
	active := make([]provider.Adapter, 0, len(c.adapters))
	for _, a := range c.adapters {
		if a != nil && a.Enabled() {
			active = append(active, a)
		}
	}
	attempted := make([]string, len(active))
	for i, a := range active {
		attempted[i] = a.ID()
	}

	prompt, err := BuildPrompt(analysis)
	if err != nil {
		return EnsembleDecision{}, &EnsembleError{Symbol: analysis.Symbol, ProvidersAttempted: attempted, Cause: err}
	}
	system := cfg.SystemPrompt
	if strings.TrimSpace(system) == "" {
		system = DefaultSystemPrompt
	}
	req := provider.Request{
		Prompt:      prompt,
		Context:     system,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
		Metadata:    map[string]string{"purpose": "signal", "symbol": analysis.Symbol},
	}

	roundCtx, cancel := context.WithTimeout(ctx, cfg.RoundTimeout)
	defer cancel()
	results := make([]roundResult, len(active))
	eg, egCtx := errgroup.WithContext(roundCtx)
	for i, a := range active {
		eg.Go(func() error {
			results[i] = c.query(egCtx, a, req)
			return nil
		})
	}
	_ = eg.Wait()

	signals := make([]ProviderSignal, 0, len(results))
	metrics := make(map[string]provider.Metrics, len(results))
	byID := make(map[string]provider.Adapter, len(active))
	var lastErr error
	for i, r := range results {
		if !r.ok {
			if r.err != nil {
				lastErr = r.err
			}
			continue
		}
		signals = append(signals, r.signal)
		metrics[r.signal.Provider] = active[i].Metrics()
		byID[r.signal.Provider] = active[i]
	}
	applyWeights(cfg, signals, metrics)
	rankSignals(cfg, signals)

	var (
		out     outcome
		applied FallbackStrategy
	)
	if len(signals) < cfg.MinProviders {
		applied = cfg.Fallback
		var ok bool
		out, ok = fallbackTable[cfg.Fallback](signals, false)
		if !ok {
			return EnsembleDecision{}, &EnsembleError{
				Symbol:             analysis.Symbol,
				ProvidersAttempted: attempted,
				Responded:          len(signals),
				Cause:              roundCause(cfg, len(signals), lastErr),
			}
		}
		logger.Warnf("ensemble %s: %d/%d providers responded (min %d), fallback %s",
			analysis.Symbol, len(signals), len(active), cfg.MinProviders, cfg.Fallback)
	} else {
		out = vote(signals)
		if out.consensus < cfg.DisagreementThreshold {
			applied = cfg.Fallback
			consensus := out.consensus
			var ok bool
			out, ok = fallbackTable[cfg.Fallback](signals, true)
			if !ok {
				out, _ = safeHold(signals, true)
			}
			logger.Infof("ensemble %s: consensus %.2f below %.2f, fallback %s -> %s",
				analysis.Symbol, consensus, cfg.DisagreementThreshold, cfg.Fallback, out.action)
		}
	}

	d := c.build(cfg, analysis, signals, out, applied, len(active))
	if !out.hold {
		recordAgreement(byID, signals, d.Action)
	}
	return d, nil
}

func (c *Coordinator) query(ctx context.Context, a provider.Adapter, req provider.Request) roundResult {
	resp, err := a.GenerateResponse(ctx, req)
	if err != nil {
		if provider.IsRecoverable(err) {
			logger.Infof("provider %s skipped this round: %v", a.ID(), err)
		} else {
			logger.Warnf("provider %s failed: %v", a.ID(), err)
		}
		return roundResult{err: err}
	}
	sig, err := ParseSignal(resp.Content)
	if err != nil {
		logger.Warnf("provider %s returned an unusable signal: %v", a.ID(), err)
		return roundResult{err: fmt.Errorf("provider %s: %w", a.ID(), err)}
	}
	sig.Provider = a.ID()
	sig.Model = resp.Model
	if fr, ok := a.(provider.FeedbackRecorder); ok {
		fr.RecordConfidence(sig.Confidence)
	}
	return roundResult{
		signal: ProviderSignal{TradingSignal: sig, ResponseTime: resp.ResponseTime},
		ok:     true,
	}
}

func (c *Coordinator) build(cfg EnsembleConfig, a MarketAnalysis, signals []ProviderSignal, out outcome, applied FallbackStrategy, attempted int) EnsembleDecision {
	d := EnsembleDecision{
		ID:                 uuid.NewString(),
		Symbol:             a.Symbol,
		Action:             out.action,
		Confidence:         clamp01(out.confidence),
		Consensus:          clamp01(out.consensus),
		Fallback:           applied,
		ProvidersAttempted: attempted,
		CreatedAt:          c.now(),
	}
	if !out.hold && out.action != ActionHold {
		d.EntryPrice = weightedLevel(out.members, func(s ProviderSignal) float64 { return s.EntryPrice })
		if d.EntryPrice <= 0 {
			d.EntryPrice = a.Price
		}
		d.StopLoss = weightedLevel(out.members, func(s ProviderSignal) float64 { return s.StopLoss })
		d.TakeProfit = weightedLevel(out.members, func(s ProviderSignal) float64 { return s.TakeProfit })
	}
	d.Reasoning = summarize(out, len(signals), attempted)
	d.Risk = assessRisk(a, out)
	d.Execution = recommendExecution(cfg, a, d, out.hold)

	d.Signals = append([]ProviderSignal(nil), signals...)
	sortByWeight(d.Signals)
	return d
}

// roundCause 没有 adapter 可用时报 ErrNoProviders，否则 ErrNoSignals 并带上最后一个 provider 错误。
func roundCause(cfg EnsembleConfig, responded int, lastErr error) error {
	if lastErr == nil && responded == 0 {
		return fmt.Errorf("%w: fallback %s needs a responder", ErrNoProviders, cfg.Fallback)
	}
	base := fmt.Errorf("%w: %d of %d required, fallback %s", ErrNoSignals, responded, cfg.MinProviders, cfg.Fallback)
	if lastErr == nil {
		return base
	}
	return fmt.Errorf("%w: last error: %w", base, lastErr)
}

func summarize(out outcome, responded, attempted int) string {
	if out.hold {
		return fmt.Sprintf("%s (%d/%d providers responded)", out.note, responded, attempted)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d/%d providers back %s (consensus %.2f)", len(out.members), responded, out.action, out.consensus)
	if out.note != "" {
		b.WriteString(", ")
		b.WriteString(out.note)
	}
	if len(out.members) > 0 && out.members[0].Reasoning != "" {
		b.WriteString(": ")
		b.WriteString(truncate(out.members[0].Reasoning, 280))
	}
	return b.String()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}

// recordAgreement 按是否与最终结论一致更新各 provider 的准确率。
func recordAgreement(byID map[string]provider.Adapter, signals []ProviderSignal, final Action) {
	for _, s := range signals {
		if fr, ok := byID[s.Provider].(provider.FeedbackRecorder); ok {
			fr.RecordOutcome(s.Action == final)
		}
	}
}
