package engine

import (
	"context"
	"errors"
	"fmt"

	"quorum/internal/logger"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"
)

// Run 按 cron 计划对所有 symbol 并行执行一轮，直到 ctx 取消。
func (e *Engine) Run(ctx context.Context) error {
	if len(e.opts.Symbols) == 0 {
		return fmt.Errorf("engine has no symbols")
	}
	c := cron.New()
	if _, err := c.AddFunc(e.opts.Schedule, func() { e.RunAll(ctx) }); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", e.opts.Schedule, err)
	}
	logger.Infof("engine: started schedule=%q symbols=%v execute=%v", e.opts.Schedule, e.opts.Symbols, e.opts.Execute)
	if e.opts.RunImmediately {
		e.RunAll(ctx)
	}
	c.Start()
	<-ctx.Done()
	stopped := c.Stop()
	<-stopped.Done()
	logger.Infof("engine: schedule stopped")
	return nil
}

// RunAll 并行跑完一轮所有 symbol；单个 symbol 的失败只记录日志。
func (e *Engine) RunAll(ctx context.Context) []CycleResult {
	results := make([]CycleResult, len(e.opts.Symbols))
	g, gctx := errgroup.WithContext(ctx)
	for i, sym := range e.opts.Symbols {
		g.Go(func() error {
			res, err := e.RunCycle(gctx, sym)
			if err != nil {
				if errors.Is(err, ErrCycleRunning) {
					logger.Warnf("engine %s: previous cycle still running, skip", sym)
				} else if gctx.Err() == nil {
					logger.Errorf("engine %s: cycle failed: %v", sym, err)
				}
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()
	return results
}
