package livehttp

import (
	"context"
	"errors"
	"net/http"
	"time"

	"quorum/internal/gateway/provider"
	"quorum/internal/logger"
	"quorum/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server 提供只读查询接口（provider 状态、决策、持仓、审计）与手动触发。
type Server struct {
	addr   string
	router *gin.Engine
}

// ServerConfig 描述 live HTTP 服务依赖。
type ServerConfig struct {
	Addr      string
	Providers []provider.Adapter
	Cycles    CycleRunner
	Decisions store.DecisionReader
	Portfolio store.Portfolio
	Audit     store.Auditor
	// Gatherer 为空时不暴露 /metrics。
	Gatherer prometheus.Gatherer
	// Summary 为启动时的脱敏配置概要。
	Summary string
}

// NewServer 构建 live HTTP server。
func NewServer(cfg ServerConfig) (*Server, error) {
	if len(cfg.Providers) == 0 && cfg.Cycles == nil {
		return nil, errors.New("live http server requires providers or engine")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":9991"
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if cfg.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})))
	}
	NewRouter(cfg).Register(router.Group("/api"))

	return &Server{addr: cfg.Addr, router: router}, nil
}

// requestLogger 记录接口调用，便于追踪手动触发与轮询。
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		method := c.Request.Method
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery
		client := c.ClientIP()
		c.Next()
		dur := time.Since(start)
		status := c.Writer.Status()
		fullPath := path
		if query != "" {
			fullPath = path + "?" + query
		}
		logger.Debugf("HTTP %s %s status=%d ip=%s dur=%s", method, fullPath, status, client, dur)
	}
}

// Addr 返回监听地址。
func (s *Server) Addr() string {
	if s == nil {
		return ""
	}
	return s.addr
}

// Handler 暴露路由，供测试与嵌入使用。
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start 启动 HTTP 服务，直到 ctx 取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	srv := &http.Server{Addr: s.addr, Handler: s.router, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	logger.Infof("live http listening on %s", s.addr)

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
