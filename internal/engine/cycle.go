package engine

import (
	"context"
	"errors"
	"fmt"

	"quorum/internal/decision"
	"quorum/internal/gateway/notifier"
	"quorum/internal/logger"
	"quorum/internal/pkg/symbol"
	"quorum/internal/risk"
	"quorum/internal/store"
)

var ErrCycleRunning = errors.New("cycle already running for symbol")

// RunCycle 执行一轮：分析 → 决策 → 风控 → 下单。风控拒绝不算错误，体现在 Rejection 中。
func (e *Engine) RunCycle(ctx context.Context, sym string) (CycleResult, error) {
	sym = symbol.ToExchange(sym)
	if sym == "" {
		return CycleResult{}, fmt.Errorf("symbol is required")
	}
	unlock, ok := e.lockSymbol(sym)
	if !ok {
		return CycleResult{}, fmt.Errorf("%w: %s", ErrCycleRunning, sym)
	}
	defer unlock()

	res := CycleResult{Symbol: sym, DryRun: !e.opts.Execute, StartedAt: e.now()}
	err := e.runCycle(ctx, &res)
	res.FinishedAt = e.now()
	if err != nil {
		res.Error = err.Error()
	}
	e.store(res)
	return res, err
}

func (e *Engine) runCycle(ctx context.Context, res *CycleResult) error {
	analysis, err := e.deps.Analyzer.Analyze(ctx, res.Symbol)
	if err != nil {
		logger.Warnf("engine %s: analysis failed: %v", res.Symbol, err)
		return fmt.Errorf("analyze: %w", err)
	}

	d, err := e.deps.Decider.Decide(ctx, analysis)
	if err != nil {
		var ensErr *decision.EnsembleError
		if errors.As(err, &ensErr) {
			e.audit(ctx, store.Event{Kind: store.EventEnsembleError, Symbol: res.Symbol, Detail: ensErr.Error()})
			e.send(ctx, notifier.EnsembleErrorMessage(ensErr, e.now()))
		}
		logger.Errorf("engine %s: ensemble failed: %v", res.Symbol, err)
		return err
	}
	res.Decision = &d
	if e.deps.Recorder != nil {
		e.persist.submit("record decision "+d.ID, func(ctx context.Context) error {
			return e.deps.Recorder.RecordDecision(ctx, d)
		})
	}
	logger.Infof("engine %s: decision %s conf=%.2f consensus=%.2f risk=%s execute=%v",
		res.Symbol, d.Action, d.Confidence, d.Consensus, d.Risk.Level, d.Execution.Execute)

	intent, err := e.deps.Gate.EvaluateFrom(ctx, d, e.portfolio())
	if err != nil {
		var rej *risk.Rejection
		if !errors.As(err, &rej) {
			return fmt.Errorf("risk gate: %w", err)
		}
		res.Rejection = rej
		// 所有拒绝都进审计；NO_ACTION（含 SAFE_HOLD）只是不推送通知
		e.audit(ctx, store.Event{Kind: store.EventRejection, Symbol: res.Symbol, DecisionID: d.ID, Reason: string(rej.Reason), Detail: rejectionDetail(d, rej)})
		if rej.Reason != risk.ReasonNoAction {
			e.send(ctx, notifier.RejectionMessage(d, rej))
		}
		return nil
	}
	res.Intent = &intent
	if !e.opts.Execute {
		logger.Infof("engine %s: dry run, skip order %s qty=%s", res.Symbol, intent.Side, intent.Quantity.StringFixed(8))
		return nil
	}

	order, err := e.deps.Orders.PlaceOrder(ctx, intent)
	if err != nil {
		e.audit(ctx, store.Event{Kind: store.EventOrderFailed, Symbol: res.Symbol, DecisionID: d.ID, Detail: err.Error()})
		e.send(ctx, notifier.StructuredMessage{
			Icon:     "❌",
			Title:    fmt.Sprintf("%s %s order failed", res.Symbol, intent.Side),
			Sections: []notifier.MessageSection{{Lines: []string{err.Error()}}},
		})
		return fmt.Errorf("place order: %w", err)
	}
	res.Order = &order
	if e.deps.Recorder != nil {
		e.persist.submit("record order "+order.OrderID, func(ctx context.Context) error {
			return e.deps.Recorder.RecordOrder(ctx, intent, order)
		})
	}
	e.send(ctx, notifier.FillMessage(d, intent, order))
	return nil
}

// rejectionDetail 对降级轮次补上 fallback 与说明，方便事后追查。
func rejectionDetail(d decision.EnsembleDecision, rej *risk.Rejection) string {
	if d.Fallback == "" {
		return rej.Details
	}
	return fmt.Sprintf("%s; fallback=%s: %s", rej.Details, d.Fallback, d.Reasoning)
}

func (e *Engine) portfolio() risk.PortfolioSource {
	if !e.opts.LiveBalance {
		return e.deps.Portfolio
	}
	br, ok := e.deps.Orders.(balanceReader)
	if !ok {
		return e.deps.Portfolio
	}
	return liveBalanceSource{base: e.deps.Portfolio, balances: br, asset: e.opts.QuoteAsset}
}

// liveBalanceSource 用交易所返回的余额覆盖可用余额，读取失败时沿用持久化快照。
type liveBalanceSource struct {
	base     risk.PortfolioSource
	balances balanceReader
	asset    string
}

func (s liveBalanceSource) PortfolioSnapshot(ctx context.Context) (risk.PortfolioSnapshot, error) {
	snap, err := s.base.PortfolioSnapshot(ctx)
	if err != nil {
		return snap, err
	}
	bal, err := s.balances.Balance(ctx, s.asset)
	if err != nil {
		logger.Warnf("engine: read %s balance failed, using stored snapshot: %v", s.asset, err)
		return snap, nil
	}
	snap.AvailableBalance.Decimal = bal
	snap.AvailableBalance.Valid = true
	return snap, nil
}

func (e *Engine) audit(ctx context.Context, ev store.Event) {
	if e.deps.Audit == nil {
		return
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = e.now()
	}
	if err := e.deps.Audit.Append(context.WithoutCancel(ctx), ev); err != nil {
		logger.Errorf("engine: audit %s failed: %v", ev.Kind, err)
	}
}

func (e *Engine) auditPersistFailure(task string, err error) {
	e.audit(context.Background(), store.Event{Kind: store.EventPersistFailed, Reason: task, Detail: err.Error()})
}

func (e *Engine) send(ctx context.Context, msg notifier.StructuredMessage) {
	if err := e.deps.Notifier.SendText(context.WithoutCancel(ctx), msg.RenderMarkdown()); err != nil {
		logger.Warnf("engine: notify failed: %v", err)
	}
}
