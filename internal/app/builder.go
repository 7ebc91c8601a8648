package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"quorum/internal/config"
	"quorum/internal/decision"
	"quorum/internal/engine"
	"quorum/internal/gateway/exchange"
	"quorum/internal/gateway/notifier"
	"quorum/internal/gateway/provider"
	"quorum/internal/logger"
	"quorum/internal/market"
	"quorum/internal/risk"
	"quorum/internal/store"
	"quorum/internal/store/auditlog"
	"quorum/internal/store/gormstore"
	livehttp "quorum/internal/transport/http/live"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/shopspring/decimal"
)

type AppBuilder struct {
	cfg  *config.Config
	path string

	providersFn func(*config.Config, provider.Observer) ([]provider.Adapter, error)
	exchangeFn  func(config.ExchangeConfig) (exchange.Gateway, error)
	notifierFn  func(config.TelegramConfig) (notifier.TextNotifier, error)

	// 为空时按配置打开 sqlite。
	storeOverride *gormstore.Store
	auditOverride store.Auditor
	disableHTTP   bool
	disableWatch  bool
}

type AppBuilderOption func(*AppBuilder)

// WithExchange 替换交易所网关，测试中用 httptest 或纸面网关。
func WithExchange(fn func(config.ExchangeConfig) (exchange.Gateway, error)) AppBuilderOption {
	return func(b *AppBuilder) { b.exchangeFn = fn }
}

func WithProviders(fn func(*config.Config, provider.Observer) ([]provider.Adapter, error)) AppBuilderOption {
	return func(b *AppBuilder) { b.providersFn = fn }
}

// WithoutHTTP 用于一次性命令（decide/health），不启动 HTTP 与配置监听。
func WithoutHTTP() AppBuilderOption {
	return func(b *AppBuilder) {
		b.disableHTTP = true
		b.disableWatch = true
	}
}

func NewAppBuilder(cfg *config.Config, path string, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:         cfg,
		path:        path,
		providersFn: BuildProviders,
		exchangeFn:  buildExchange,
		notifierFn:  buildNotifier,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

func (b *AppBuilder) Build(ctx context.Context) (app *App, err error) {
	if b.cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	cfg := b.cfg
	a := &App{cfg: cfg}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	if err := setupLogging(a, cfg.App); err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.registry = registry

	adapters, err := b.providersFn(cfg, provider.NewPromObserver(registry))
	if err != nil {
		return nil, err
	}
	a.adapters = adapters
	logger.Infof("✓ 已加载 %d 个 provider: %s", len(adapters), strings.Join(adapterIDs(adapters), ", "))

	coordinator := decision.NewCoordinator(adapters, cfg.EnsembleSettings())
	gate := risk.NewGate(cfg.RiskLimits())

	gw, err := b.exchangeFn(cfg.Exchange)
	if err != nil {
		return nil, fmt.Errorf("exchange: %w", err)
	}
	logger.Infof("✓ 交易所网关: %s", gw.Name())
	analyzer := market.NewAnalyzer(gw, market.Settings{Interval: cfg.Exchange.KlineInterval, Limit: cfg.Exchange.KlineLimit})

	st := b.storeOverride
	if st == nil {
		st, err = gormstore.New(cfg.Store.Path, decimal.NewFromFloat(cfg.Exchange.QuoteBalance))
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
	}
	a.closers = append(a.closers, st.Close)

	audit := b.auditOverride
	if audit == nil {
		log, err := auditlog.Open(cfg.Store.AuditPath)
		if err != nil {
			return nil, fmt.Errorf("open audit log: %w", err)
		}
		a.closers = append(a.closers, log.Close)
		audit = log
	}

	notify, err := b.notifierFn(cfg.Notify.Telegram)
	if err != nil {
		return nil, fmt.Errorf("notifier: %w", err)
	}

	eng, err := engine.New(engine.Deps{
		Analyzer:  analyzer,
		Decider:   coordinator,
		Gate:      gate,
		Orders:    gw,
		Portfolio: st,
		Recorder:  st,
		Audit:     audit,
		Notifier:  notify,
	}, engine.Options{
		Symbols:        cfg.Schedule.Symbols,
		Schedule:       cfg.Schedule.Spec,
		QuoteAsset:     cfg.Exchange.QuoteAsset,
		Execute:        cfg.Schedule.Execute,
		LiveBalance:    cfg.Exchange.LiveBalance,
		RunImmediately: cfg.Schedule.RunImmediately,
	})
	if err != nil {
		return nil, err
	}
	a.engine = eng

	summary, err := cfg.Summary()
	if err != nil {
		return nil, err
	}
	a.Summary = &StartupSummary{
		Providers: adapters,
		Exchange:  gw.Name(),
		Symbols:   eng.Symbols(),
		Schedule:  cfg.Schedule.Spec,
		Execute:   cfg.Schedule.Execute,
		Effective: summary,
	}

	if !b.disableHTTP {
		srv, err := livehttp.NewServer(livehttp.ServerConfig{
			Addr:      cfg.App.HTTPAddr,
			Providers: adapters,
			Cycles:    eng,
			Decisions: st,
			Portfolio: st,
			Audit:     audit,
			Gatherer:  registry,
			Summary:   summary,
		})
		if err != nil {
			return nil, err
		}
		a.http = srv
	}

	if !b.disableWatch && strings.TrimSpace(b.path) != "" {
		w, err := config.Watch(b.path, cfg)
		if err != nil {
			return nil, err
		}
		w.Subscribe(reloadListener(coordinator, gate, audit))
		a.watcher = w
	}
	return a, nil
}

// reloadListener 只把 ensemble 与 risk 段应用到运行中的组件。
func reloadListener(coordinator *decision.Coordinator, gate *risk.Gate, audit store.Auditor) config.ChangeListener {
	return func(next *config.Config) {
		coordinator.UpdateConfig(next.EnsembleSettings())
		gate.UpdateLimits(next.RiskLimits())
		logger.Infof("config reload applied: fallback=%s risk_per_trade=%.2f%%", next.Ensemble.FallbackStrategy, next.Risk.RiskPerTradePct)
		if audit == nil {
			return
		}
		ev := store.Event{
			Kind:   store.EventConfigReload,
			Detail: fmt.Sprintf("ensemble=%s risk=%+v", next.Ensemble.FallbackStrategy, next.RiskLimits()),
		}
		if err := audit.Append(context.Background(), ev); err != nil {
			logger.Warnf("audit config reload failed: %v", err)
		}
	}
}

// BuildProviders 按配置构造全部 adapter 并校验其配置。
func BuildProviders(cfg *config.Config, obs provider.Observer) ([]provider.Adapter, error) {
	opts := []provider.Option{}
	if obs != nil {
		opts = append(opts, provider.WithObserver(obs))
	}
	out := make([]provider.Adapter, 0, len(cfg.Providers))
	for _, pc := range cfg.Providers {
		a, err := provider.New(pc.Settings(), opts...)
		if err != nil {
			return nil, err
		}
		if a.Enabled() {
			if err := a.ValidateConfig(); err != nil {
				return nil, err
			}
		}
		out = append(out, a)
	}
	return out, nil
}

// buildExchange paper 模式下行情仍走 Binance 公共接口，成交在内存中模拟。
func buildExchange(x config.ExchangeConfig) (exchange.Gateway, error) {
	bcfg := exchange.BinanceConfig{
		BaseURL:  x.BaseURL,
		Testnet:  x.Testnet,
		ProxyURL: x.ProxyURL,
	}
	if x.Kind == "paper" {
		feed, err := exchange.NewBinance(bcfg)
		if err != nil {
			return nil, err
		}
		return exchange.NewPaper(feed, x.QuoteAsset, decimal.NewFromFloat(x.QuoteBalance)), nil
	}
	bcfg.APIKey = x.APIKey
	bcfg.SecretKey = x.SecretKey
	return exchange.NewBinance(bcfg)
}

func buildNotifier(t config.TelegramConfig) (notifier.TextNotifier, error) {
	if !t.Enabled {
		return notifier.Noop{}, nil
	}
	return notifier.NewTelegram(t.APIBase, t.BotToken, t.ChatID)
}

func setupLogging(a *App, cfg config.AppConfig) error {
	logger.SetLevel(cfg.LogLevel)
	if path := strings.TrimSpace(cfg.LogPath); path != "" {
		f, err := openAppend(path)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		logger.SetOutput(io.MultiWriter(os.Stderr, f))
		a.closers = append(a.closers, f.Close)
	}
	if path := strings.TrimSpace(cfg.TranscriptPath); path != "" {
		f, err := openAppend(path)
		if err != nil {
			return fmt.Errorf("open transcript file: %w", err)
		}
		logger.SetTranscriptWriter(f)
		a.closers = append(a.closers, f.Close)
	}
	return nil
}

func openAppend(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
}

func adapterIDs(list []provider.Adapter) []string {
	out := make([]string, 0, len(list))
	for _, a := range list {
		out = append(out, a.ID())
	}
	return out
}
