package provider

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"quorum/internal/logger"
	"quorum/internal/pkg/circuit"

	"github.com/jpillora/backoff"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

const (
	rateWindow     = time.Minute
	dedupPrefixLen = 200
	probePrompt    = "Health check. Reply with the single word OK."
)

// Settings is the per-backend configuration shared by every concrete adapter.
type Settings struct {
	ID                 string
	Kind               string
	BaseURL            string
	APIKey             string
	Model              string
	Models             []string
	Enabled            bool
	Headers            map[string]string
	Timeout            time.Duration
	MaxRetries         int
	RateLimitPerMinute int
	Pricing            Pricing
	BreakerThreshold   int
	BreakerCooldown    time.Duration
}

type Option func(*base)

func WithObserver(o Observer) Option {
	return func(b *base) {
		if o != nil {
			b.observer = o
		}
	}
}

// WithClock 替换限流窗口、耗时与指标时间戳使用的时钟，测试用。
func WithClock(now func() time.Time) Option {
	return func(b *base) {
		if now != nil {
			b.now = now
		}
	}
}

func WithRetryBackoff(min, max time.Duration) Option {
	return func(b *base) {
		if min > 0 {
			b.minBackoff = min
		}
		if max >= b.minBackoff {
			b.maxBackoff = max
		}
	}
}

type sendFunc func(ctx context.Context, req Request) (Response, error)

// base 承载限流、去重、重试、熔断与指标，具体 adapter 只实现 send。
type base struct {
	cfg        Settings
	send       sendFunc
	now        func() time.Time
	observer   Observer
	breaker    *circuit.Breaker
	inflight   singleflight.Group
	minBackoff time.Duration
	maxBackoff time.Duration
	limitLog   rate.Sometimes

	mu      sync.Mutex
	window  *slidingWindow
	metrics *tracker
}

func newBase(cfg Settings, send sendFunc, opts ...Option) *base {
	b := &base{
		cfg:        cfg,
		send:       send,
		now:        time.Now,
		observer:   nopObserver{},
		minBackoff: 800 * time.Millisecond,
		maxBackoff: 8 * time.Second,
		limitLog:   rate.Sometimes{Interval: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(b)
	}
	b.window = newSlidingWindow(rateWindow, cfg.RateLimitPerMinute)
	b.metrics = newTracker(cfg.ID, b.now())
	b.breaker = circuit.New("provider:"+cfg.ID, cfg.BreakerThreshold, cfg.BreakerCooldown).WithClock(b.now)
	return b
}

func (b *base) ID() string    { return b.cfg.ID }
func (b *base) Enabled() bool { return b.cfg.Enabled }

func (b *base) Models() []string {
	if len(b.cfg.Models) > 0 {
		return append([]string(nil), b.cfg.Models...)
	}
	if b.cfg.Model == "" {
		return nil
	}
	return []string{b.cfg.Model}
}

func (b *base) Metrics() Metrics {
	b.mu.Lock()
	defer b.mu.Unlock()
	m := b.metrics.snapshot()
	m.RequestsInWindow = b.window.count(b.now())
	return m
}

func (b *base) RecordConfidence(confidence float64) {
	b.mu.Lock()
	b.metrics.onConfidence(confidence)
	b.mu.Unlock()
}

func (b *base) RecordOutcome(agreed bool) {
	b.mu.Lock()
	b.metrics.onOutcome(agreed)
	b.mu.Unlock()
}

func (b *base) ValidateConfig() error {
	c := b.cfg
	switch {
	case strings.TrimSpace(c.ID) == "":
		return errors.New("provider id is required")
	case strings.TrimSpace(c.Model) == "":
		return fmt.Errorf("provider %s: model is required", c.ID)
	case strings.TrimSpace(c.BaseURL) == "":
		return fmt.Errorf("provider %s: base url is required", c.ID)
	case strings.TrimSpace(c.APIKey) == "":
		return fmt.Errorf("provider %s: api key is required", c.ID)
	case c.RateLimitPerMinute < 0:
		return fmt.Errorf("provider %s: rate limit must be >= 0", c.ID)
	case c.MaxRetries < 0:
		return fmt.Errorf("provider %s: max retries must be >= 0", c.ID)
	case c.Timeout < 0:
		return fmt.Errorf("provider %s: timeout must be >= 0", c.ID)
	case c.Pricing.InputPer1K < 0 || c.Pricing.OutputPer1K < 0:
		return fmt.Errorf("provider %s: pricing must be >= 0", c.ID)
	}
	return nil
}

// GenerateResponse 依次做限流窗口、在途去重、请求校验，之后才发网络请求。
func (b *base) GenerateResponse(ctx context.Context, req Request) (Response, error) {
	if err := b.admit(); err != nil {
		return Response{}, err
	}
	ch := b.inflight.DoChan(b.dedupKey(req), func() (any, error) {
		callCtx, cancel := b.callContext(ctx)
		defer cancel()
		return b.execute(callCtx, req)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return Response{}, res.Err
		}
		return res.Val.(Response), nil
	case <-ctx.Done():
		// 共享调用继续为其他等待者执行，结果照常记入指标
		return Response{}, newError(b.cfg.ID, CodeTimeout, true, ctx.Err())
	}
}

func (b *base) IsHealthy(ctx context.Context) bool {
	resp, err := b.GenerateResponse(ctx, Request{
		Prompt:    probePrompt,
		MaxTokens: 8,
		Metadata:  map[string]string{"purpose": "health"},
	})
	if err != nil {
		logger.Warnf("provider %s health probe failed: %v", b.cfg.ID, err)
		return false
	}
	return strings.Contains(strings.ToUpper(resp.Content), "OK")
}

func (b *base) admit() error {
	b.mu.Lock()
	now := b.now()
	if b.window.admit(now) {
		b.mu.Unlock()
		return nil
	}
	err := newError(b.cfg.ID, CodeRateLimit, true,
		fmt.Errorf("%d requests in the last %s", b.cfg.RateLimitPerMinute, rateWindow))
	b.metrics.onFailure(err, now)
	b.mu.Unlock()

	b.observer.ObserveFailure(b.cfg.ID, CodeRateLimit)
	b.limitLog.Do(func() {
		logger.Warnf("provider %s rate limited locally (limit=%d/min)", b.cfg.ID, b.cfg.RateLimitPerMinute)
	})
	return err
}

func (b *base) dedupKey(req Request) string {
	prompt := req.Prompt
	if len(prompt) > dedupPrefixLen {
		prompt = prompt[:dedupPrefixLen]
	}
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%g\x00%d", b.cfg.ID, prompt, req.Temperature, req.MaxTokens)
	return hex.EncodeToString(h.Sum(nil))
}

// callContext 让共享调用不受首个调用方取消影响，截止时间取调用方 deadline 与 adapter 超时中较早者。
func (b *base) callContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx := context.WithoutCancel(parent)
	var deadline time.Time
	if b.cfg.Timeout > 0 {
		deadline = time.Now().Add(b.cfg.Timeout)
	}
	if dl, ok := parent.Deadline(); ok && (deadline.IsZero() || dl.Before(deadline)) {
		deadline = dl
	}
	if deadline.IsZero() {
		return context.WithCancel(ctx)
	}
	return context.WithDeadline(ctx, deadline)
}

func (b *base) execute(ctx context.Context, req Request) (Response, error) {
	if err := validateRequest(req); err != nil {
		perr := newError(b.cfg.ID, CodeInvalidRequest, false, err)
		b.recordFailure(perr)
		return Response{}, perr
	}
	if !b.breaker.Allow() {
		perr := newError(b.cfg.ID, CodeCircuitOpen, true, errors.New("circuit open"))
		b.recordFailure(perr)
		return Response{}, perr
	}
	purpose := req.Metadata["purpose"]
	logger.LogProviderRequest(b.cfg.ID, purpose, req.Context, req.Prompt)

	bo := &backoff.Backoff{Min: b.minBackoff, Max: b.maxBackoff, Factor: 2, Jitter: true}
	var last *Error
	for attempt := 0; ; attempt++ {
		start := b.now()
		resp, err := b.send(ctx, req)
		elapsed := b.now().Sub(start)
		if err == nil {
			resp = b.finish(resp, elapsed)
			logger.LogProviderResponse(b.cfg.ID, purpose, resp.Content)
			b.breaker.Success()
			b.recordSuccess(resp)
			return resp, nil
		}
		last = classify(b.cfg.ID, err)
		if !last.Recoverable || attempt >= b.cfg.MaxRetries || ctx.Err() != nil {
			break
		}
		wait := retryAfter(err)
		if wait <= 0 || wait > b.maxBackoff {
			wait = bo.Duration()
		}
		logger.Debugf("provider %s attempt %d failed (%s), retrying in %s", b.cfg.ID, attempt+1, last.Code, wait)
		if serr := sleepCtx(ctx, wait); serr != nil {
			break
		}
	}
	if last.Recoverable {
		b.breaker.Failure()
	} else {
		logger.Warnf("provider %s non-recoverable failure: %v", b.cfg.ID, last)
	}
	b.recordFailure(last)
	return Response{}, last
}

func (b *base) finish(resp Response, elapsed time.Duration) Response {
	resp.Provider = b.cfg.ID
	if resp.Model == "" {
		resp.Model = b.cfg.Model
	}
	resp.ResponseTime = elapsed
	resp.Cost = b.cfg.Pricing.Cost(resp.Usage)
	resp.Timestamp = b.now()
	return resp
}

func (b *base) recordSuccess(resp Response) {
	b.mu.Lock()
	b.metrics.onSuccess(resp.ResponseTime, resp.Cost, b.now())
	b.mu.Unlock()
	b.observer.ObserveSuccess(b.cfg.ID, resp.ResponseTime, resp.Cost)
}

func (b *base) recordFailure(err *Error) {
	b.mu.Lock()
	b.metrics.onFailure(err, b.now())
	b.mu.Unlock()
	b.observer.ObserveFailure(b.cfg.ID, err.Code)
}

func validateRequest(req Request) error {
	switch {
	case strings.TrimSpace(req.Prompt) == "":
		return errors.New("prompt is required")
	case req.Temperature < 0 || req.Temperature > 2:
		return fmt.Errorf("temperature %.2f outside [0,2]", req.Temperature)
	case req.MaxTokens < 0:
		return fmt.Errorf("max tokens %d must be >= 0", req.MaxTokens)
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
