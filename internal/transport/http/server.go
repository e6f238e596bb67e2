// Package httpapi 暴露只读观测接口：最新帧、帧历史、风险图摘要、
// 闸门预演与运行指标。写路径不存在——决策只能由融合周期产生。
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"arbiter/internal/emitter"
	"arbiter/internal/gate"
	"arbiter/internal/logger"
	"arbiter/internal/riskmap"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// TuningView 是调优快照的只读视图提供者。
type TuningView interface {
	SnapshotJSON() (version int64, loadedAt time.Time, tuning any)
}

// ServerConfig 描述 HTTP 服务依赖。Emitter 必填，其余可缺省。
type ServerConfig struct {
	Addr    string
	Emitter *emitter.Emitter
	Gate    *gate.Gate
	Tuning  TuningView
}

// Server 提供 Arbiter 的只读 HTTP 服务。
type Server struct {
	addr   string
	router *gin.Engine

	emitter *emitter.Emitter
	gate    *gate.Gate
	tuning  TuningView
}

// NewServer 构建只读 HTTP server。
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Emitter == nil {
		return nil, errors.New("http server requires an emitter")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":9992"
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	s := &Server{
		addr:    cfg.Addr,
		router:  router,
		emitter: cfg.Emitter,
		gate:    cfg.Gate,
		tuning:  cfg.Tuning,
	}

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	api := router.Group("/api/v1")
	api.GET("/frames/latest", s.handleLatestFrame)
	api.GET("/frames", s.handleFrames)
	api.GET("/riskmap", s.handleRiskMap)
	api.GET("/gate/preview", s.handleGatePreview)
	api.GET("/stats", s.handleStats)
	api.GET("/tuning", s.handleTuning)
	return s, nil
}

func (s *Server) handleLatestFrame(c *gin.Context) {
	frame, ok := s.emitter.Latest()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no frame emitted yet"})
		return
	}
	c.JSON(http.StatusOK, frame)
}

func (s *Server) handleFrames(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 500 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be in [1,500]"})
			return
		}
		limit = n
	}
	c.JSON(http.StatusOK, gin.H{"frames": s.emitter.Recent(limit)})
}

// handleRiskMap 返回风险图摘要。完整网格体量太大，只回分区统计、
// 危险源与评估结论；需要逐格数据时走回放工具。
func (s *Server) handleRiskMap(c *gin.Context) {
	m := s.emitter.RiskMap()
	if m == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no risk map built yet"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"generated_at": m.GeneratedAt,
		"resolution":   m.Resolution,
		"overall_zone": m.OverallZone,
		"composite":    m.Composite,
		"zone_cells":   m.ZoneCells,
		"hazards":      m.Hazards,
		"bottlenecks":  m.Bottlenecks,
		"pockets":      m.Pockets,
		"strains":      m.Strains,
		"assessment":   riskmap.Assess(m),
	})
}

// handleGatePreview 对最新帧做一次旁路闸门裁决，不写台账之外的状态。
func (s *Server) handleGatePreview(c *gin.Context) {
	if s.gate == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "gate not configured"})
		return
	}
	var in gate.Inputs
	if raw := c.Query("capital"); raw != "" {
		v, err := decimal.NewFromString(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "capital must be a decimal"})
			return
		}
		in.CapitalFraction = v
	}
	if raw := c.Query("volatility"); raw != "" {
		v, err := decimal.NewFromString(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "volatility must be a decimal"})
			return
		}
		in.Volatility = v
	}
	if raw := c.Query("liquidity"); raw != "" {
		v, err := decimal.NewFromString(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "liquidity must be a decimal"})
			return
		}
		in.Liquidity = v
	}
	in.RiskTier = c.Query("risk_tier")
	var frame *emitter.DecisionFrame
	if f, ok := s.emitter.Latest(); ok {
		frame = &f
	}
	c.JSON(http.StatusOK, s.gate.Authorize(time.Now(), frame, in))
}

func (s *Server) handleStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.emitter.Stats())
}

func (s *Server) handleTuning(c *gin.Context) {
	if s.tuning == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "tuning not configured"})
		return
	}
	version, loadedAt, tuning := s.tuning.SnapshotJSON()
	c.JSON(http.StatusOK, gin.H{
		"version":   version,
		"loaded_at": loadedAt,
		"tuning":    tuning,
	})
}

// requestLogger 记录接口调用，便于追踪外部轮询行为。
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

// Handler 暴露路由，供测试直接驱动。
func (s *Server) Handler() http.Handler {
	if s == nil {
		return nil
	}
	return s.router
}

// Start 启动 HTTP 服务，直到 ctx 取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	srv := &http.Server{Addr: s.addr, Handler: s.router}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

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
