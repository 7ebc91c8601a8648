// Package engine 串联行情分析、集成决策、风控与下单，按 cron 计划逐个 symbol 运行。
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"quorum/internal/decision"
	"quorum/internal/gateway/exchange"
	"quorum/internal/gateway/notifier"
	"quorum/internal/pkg/symbol"
	"quorum/internal/risk"
	"quorum/internal/store"

	"github.com/shopspring/decimal"
)

type Analyzer interface {
	Analyze(ctx context.Context, symbol string) (decision.MarketAnalysis, error)
}

type Decider interface {
	Decide(ctx context.Context, analysis decision.MarketAnalysis) (decision.EnsembleDecision, error)
}

type Gate interface {
	EvaluateFrom(ctx context.Context, d decision.EnsembleDecision, src risk.PortfolioSource) (risk.TradeIntent, error)
}

type OrderPlacer interface {
	PlaceOrder(ctx context.Context, intent risk.TradeIntent) (exchange.OrderResult, error)
}

// balanceReader 由真实交易所实现，用于覆盖快照中的可用余额。
type balanceReader interface {
	Balance(ctx context.Context, asset string) (decimal.Decimal, error)
}

type Options struct {
	Symbols    []string
	Schedule   string
	QuoteAsset string
	// Execute 为 false 时只记录决策与风控结果，不下单。
	Execute bool
	// LiveBalance 为 true 时以交易所余额作为可用余额。
	LiveBalance    bool
	RunImmediately bool
	PersistRetries int
	PersistBuffer  int
}

func (o Options) withDefaults() Options {
	out := o
	out.Symbols = symbol.NormalizeList(out.Symbols)
	if out.Schedule == "" {
		out.Schedule = "@every 15m"
	}
	if out.QuoteAsset == "" {
		out.QuoteAsset = "USDT"
	}
	if out.PersistRetries <= 0 {
		out.PersistRetries = 3
	}
	if out.PersistBuffer <= 0 {
		out.PersistBuffer = 64
	}
	return out
}

type Deps struct {
	Analyzer  Analyzer
	Decider   Decider
	Gate      Gate
	Orders    OrderPlacer
	Portfolio risk.PortfolioSource
	Recorder  store.Recorder
	Audit     store.Auditor
	Notifier  notifier.TextNotifier
}

// CycleResult 汇总一轮的结果，供日志与 HTTP 查询。
type CycleResult struct {
	Symbol     string                     `json:"symbol"`
	Decision   *decision.EnsembleDecision `json:"decision,omitempty"`
	Intent     *risk.TradeIntent          `json:"intent,omitempty"`
	Order      *exchange.OrderResult      `json:"order,omitempty"`
	Rejection  *risk.Rejection            `json:"rejection,omitempty"`
	DryRun     bool                       `json:"dry_run"`
	Error      string                     `json:"error,omitempty"`
	StartedAt  time.Time                  `json:"started_at"`
	FinishedAt time.Time                  `json:"finished_at"`
}

type Engine struct {
	deps Deps
	opts Options
	now  func() time.Time

	persist *persister

	mu      sync.RWMutex
	latest  map[string]CycleResult
	running map[string]*sync.Mutex
}

func New(deps Deps, opts Options) (*Engine, error) {
	switch {
	case deps.Analyzer == nil:
		return nil, fmt.Errorf("engine requires analyzer")
	case deps.Decider == nil:
		return nil, fmt.Errorf("engine requires decider")
	case deps.Gate == nil:
		return nil, fmt.Errorf("engine requires risk gate")
	case deps.Portfolio == nil:
		return nil, fmt.Errorf("engine requires portfolio source")
	case deps.Orders == nil:
		return nil, fmt.Errorf("engine requires order placer")
	}
	if deps.Notifier == nil {
		deps.Notifier = notifier.Noop{}
	}
	opts = opts.withDefaults()
	e := &Engine{
		deps:    deps,
		opts:    opts,
		now:     time.Now,
		latest:  make(map[string]CycleResult),
		running: make(map[string]*sync.Mutex),
	}
	e.persist = newPersister(opts.PersistBuffer, opts.PersistRetries, e.auditPersistFailure)
	return e, nil
}

func (e *Engine) Symbols() []string {
	return append([]string(nil), e.opts.Symbols...)
}

// Latest 返回某个 symbol 最近一轮的结果。
func (e *Engine) Latest(sym string) (CycleResult, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	res, ok := e.latest[symbol.ToExchange(sym)]
	return res, ok
}

func (e *Engine) LatestAll() []CycleResult {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]CycleResult, 0, len(e.latest))
	for _, sym := range e.opts.Symbols {
		if res, ok := e.latest[sym]; ok {
			out = append(out, res)
		}
	}
	for sym, res := range e.latest {
		if !contains(e.opts.Symbols, sym) {
			out = append(out, res)
		}
	}
	return out
}

// Close 停止接收新的持久化任务并等待队列清空。
func (e *Engine) Close() {
	e.persist.close()
}

func (e *Engine) lockSymbol(sym string) (func(), bool) {
	e.mu.Lock()
	m, ok := e.running[sym]
	if !ok {
		m = &sync.Mutex{}
		e.running[sym] = m
	}
	e.mu.Unlock()
	if !m.TryLock() {
		return nil, false
	}
	return m.Unlock, true
}

func (e *Engine) store(res CycleResult) {
	e.mu.Lock()
	e.latest[res.Symbol] = res
	e.mu.Unlock()
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
