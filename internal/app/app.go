package app

import (
	"context"
	"fmt"

	"quorum/internal/config"
	"quorum/internal/engine"
	"quorum/internal/gateway/provider"
	"quorum/internal/logger"
	livehttp "quorum/internal/transport/http/live"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
)

// App 负责应用级编排：加载配置→初始化依赖→启动引擎与 HTTP。
type App struct {
	cfg      *config.Config
	adapters []provider.Adapter
	engine   *engine.Engine
	http     *livehttp.Server
	watcher  *config.Watcher
	registry *prometheus.Registry
	closers  []func() error
	Summary  *StartupSummary
}

// NewApp 根据配置构建应用对象（不启动）。path 非空时监听配置文件热更新。
func NewApp(ctx context.Context, cfg *config.Config, path string, opts ...AppBuilderOption) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	return buildAppWithWire(ctx, cfg, path, opts)
}

// Run 启动调度与 HTTP，直到 ctx 取消。
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.engine == nil {
		return fmt.Errorf("app not initialized")
	}
	defer a.close()
	if a.Summary != nil {
		a.Summary.Print()
	}

	group, ctx := errgroup.WithContext(ctx)
	if a.http != nil {
		group.Go(func() error {
			if err := a.http.Start(ctx); err != nil {
				return fmt.Errorf("live http server error: %w", err)
			}
			return nil
		})
	}
	group.Go(func() error {
		return a.engine.Run(ctx)
	})
	return group.Wait()
}

func (a *App) Engine() *engine.Engine {
	if a == nil {
		return nil
	}
	return a.engine
}

func (a *App) Adapters() []provider.Adapter {
	if a == nil {
		return nil
	}
	return append([]provider.Adapter(nil), a.adapters...)
}

// Close 释放存储与日志文件，一次性命令结束后调用。
func (a *App) Close() {
	a.close()
}

func (a *App) close() {
	if a == nil {
		return
	}
	if a.engine != nil {
		a.engine.Close()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			logger.Warnf("app close: %v", err)
		}
	}
	a.closers = nil
}
