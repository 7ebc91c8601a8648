package livehttp

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"quorum/internal/engine"
	"quorum/internal/gateway/provider"
	"quorum/internal/logger"
	"quorum/internal/pkg/symbol"
	"quorum/internal/store"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"
)

// CycleRunner 由 engine.Engine 实现。
type CycleRunner interface {
	Symbols() []string
	Latest(symbol string) (engine.CycleResult, bool)
	LatestAll() []engine.CycleResult
	RunCycle(ctx context.Context, symbol string) (engine.CycleResult, error)
}

// Router 暴露 /api 下的查询与手动触发接口。
type Router struct {
	providers []provider.Adapter
	cycles    CycleRunner
	decisions store.DecisionReader
	portfolio store.Portfolio
	audit     store.Auditor
	summary   string
}

func NewRouter(cfg ServerConfig) *Router {
	return &Router{
		providers: cfg.Providers,
		cycles:    cfg.Cycles,
		decisions: cfg.Decisions,
		portfolio: cfg.Portfolio,
		audit:     cfg.Audit,
		summary:   cfg.Summary,
	}
}

// Register 将路由挂载到给定分组下。
func (r *Router) Register(group *gin.RouterGroup) {
	if group == nil {
		return
	}
	group.GET("/providers", r.handleProviders)
	group.GET("/providers/health", r.handleProviderHealth)
	group.GET("/decisions", r.handleDecisions)
	group.GET("/decisions/latest", r.handleLatestDecision)
	group.GET("/cycles", r.handleCycles)
	group.POST("/cycles/:symbol", r.handleRunCycle)
	group.GET("/positions", r.handlePositions)
	group.GET("/trades", r.handleTrades)
	group.GET("/audit", r.handleAudit)
	group.GET("/config", r.handleConfig)
}

type providerView struct {
	provider.Metrics
	Enabled           bool     `json:"enabled"`
	Models            []string `json:"models"`
	AverageResponseMs int64    `json:"average_response_ms"`
	CostPerSuccess    float64  `json:"cost_per_success"`
}

func (r *Router) handleProviders(c *gin.Context) {
	out := make([]providerView, 0, len(r.providers))
	for _, a := range r.providers {
		m := a.Metrics()
		out = append(out, providerView{
			Metrics:           m,
			Enabled:           a.Enabled(),
			Models:            a.Models(),
			AverageResponseMs: m.AverageResponseTime.Milliseconds(),
			CostPerSuccess:    m.CostPerSuccess(),
		})
	}
	c.JSON(http.StatusOK, gin.H{"providers": out})
}

// handleProviderHealth 并行探测所有 provider，整体超时 15s。
func (r *Router) handleProviderHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 15*time.Second)
	defer cancel()
	health := make([]bool, len(r.providers))
	var g errgroup.Group
	for i, a := range r.providers {
		if !a.Enabled() {
			continue
		}
		g.Go(func() error {
			health[i] = a.IsHealthy(ctx)
			return nil
		})
	}
	_ = g.Wait()
	out := make(map[string]bool, len(r.providers))
	healthy := 0
	for i, a := range r.providers {
		out[a.ID()] = health[i]
		if health[i] {
			healthy++
		}
	}
	logger.Infof("[api] provider health ip=%s healthy=%d/%d", c.ClientIP(), healthy, len(r.providers))
	c.JSON(http.StatusOK, gin.H{"providers": out, "healthy": healthy, "total": len(r.providers)})
}

func (r *Router) handleDecisions(c *gin.Context) {
	if r.decisions == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "decision store disabled"})
		return
	}
	limit := queryLimit(c, 50, 500)
	list, err := r.decisions.RecentDecisions(c.Request.Context(), limit)
	if err != nil {
		logger.Errorf("[api] decisions list failed ip=%s err=%v", c.ClientIP(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"decisions": list, "limit": limit})
}

// handleLatestDecision 优先读取内存中的最近一轮，未命中再查库。
func (r *Router) handleLatestDecision(c *gin.Context) {
	sym := symbol.ToExchange(c.Query("symbol"))
	if sym == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol is required"})
		return
	}
	if r.cycles != nil {
		if res, ok := r.cycles.Latest(sym); ok && res.Decision != nil {
			c.JSON(http.StatusOK, gin.H{"decision": res.Decision, "cycle": res})
			return
		}
	}
	if r.decisions == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "decision not found"})
		return
	}
	d, err := r.decisions.LatestDecision(c.Request.Context(), sym)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "decision not found"})
			return
		}
		logger.Errorf("[api] latest decision failed ip=%s symbol=%s err=%v", c.ClientIP(), sym, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"decision": d})
}

func (r *Router) handleCycles(c *gin.Context) {
	if r.cycles == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "engine disabled"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"symbols": r.cycles.Symbols(), "cycles": r.cycles.LatestAll()})
}

// handleRunCycle 手动触发一轮；风控拒绝仍返回 200，结果中带 rejection。
func (r *Router) handleRunCycle(c *gin.Context) {
	if r.cycles == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "engine disabled"})
		return
	}
	sym := symbol.ToExchange(c.Param("symbol"))
	logger.Infof("[api] manual cycle ip=%s symbol=%s", c.ClientIP(), sym)
	res, err := r.cycles.RunCycle(c.Request.Context(), sym)
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, engine.ErrCycleRunning) {
			status = http.StatusConflict
		}
		c.JSON(status, gin.H{"error": err.Error(), "cycle": res})
		return
	}
	c.JSON(http.StatusOK, gin.H{"cycle": res})
}

func (r *Router) handlePositions(c *gin.Context) {
	if r.portfolio == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "portfolio store disabled"})
		return
	}
	ctx := c.Request.Context()
	positions, err := r.portfolio.OpenPositions(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	snap, err := r.portfolio.PortfolioSnapshot(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	summary := gin.H{
		"value":              snap.Value.StringFixed(2),
		"realized_pnl_today": snap.RealizedPnLToday.StringFixed(2),
		"open_positions":     snap.OpenPositions,
		"trades_last_hour":   snap.TradesInLastHour,
	}
	if snap.AvailableBalance.Valid {
		summary["available"] = snap.AvailableBalance.Decimal.StringFixed(2)
	}
	c.JSON(http.StatusOK, gin.H{"positions": positions, "portfolio": summary})
}

func (r *Router) handleTrades(c *gin.Context) {
	if r.portfolio == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "portfolio store disabled"})
		return
	}
	trades, err := r.portfolio.RecentTrades(c.Request.Context(), queryLimit(c, 50, 500))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades})
}

func (r *Router) handleAudit(c *gin.Context) {
	if r.audit == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit log disabled"})
		return
	}
	kind := store.EventKind(strings.ToLower(strings.TrimSpace(c.Query("kind"))))
	events, err := r.audit.Recent(c.Request.Context(), kind, queryLimit(c, 100, 1000))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

func (r *Router) handleConfig(c *gin.Context) {
	ids := make([]string, 0, len(r.providers))
	for _, a := range r.providers {
		ids = append(ids, a.ID())
	}
	sort.Strings(ids)
	c.JSON(http.StatusOK, gin.H{"providers": ids, "summary": r.summary})
}

func queryLimit(c *gin.Context, def, max int) int {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(def)))
	if limit <= 0 {
		limit = def
	}
	if limit > max {
		limit = max
	}
	return limit
}
