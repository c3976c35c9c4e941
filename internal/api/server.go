package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"amlgate/internal/dispatch"
	"amlgate/internal/gateway"
	"amlgate/internal/metrics"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// SenderHeader 调用者身份请求头
const SenderHeader = "X-Sender"

// DispatchStats 投递统计来源
type DispatchStats interface {
	GetStats() dispatch.Stats
}

// Server API服务器
type Server struct {
	gateway    *gateway.Gateway
	feed       *EventFeed
	metrics    *metrics.Metrics
	dispatcher DispatchStats
	logger     *logrus.Logger
	server     *http.Server
	mu         sync.Mutex
	port       int
	startedAt  time.Time
}

// NewServer 创建API服务器，事件流自动注册为网关的提交回调
func NewServer(gw *gateway.Gateway, m *metrics.Metrics, logger *logrus.Logger, port int) *Server {
	feed := NewEventFeed(DefaultFeedSize)
	gw.AddListener(feed)

	return &Server{
		gateway:   gw,
		feed:      feed,
		metrics:   m,
		logger:    logger,
		port:      port,
		startedAt: time.Now(),
	}
}

// SetDispatcher 设置投递统计来源
func (s *Server) SetDispatcher(d DispatchStats) {
	s.dispatcher = d
}

// Feed 返回事件流
func (s *Server) Feed() *EventFeed {
	return s.feed
}

// Router 构建路由
func (s *Server) Router() *gin.Engine {
	router := gin.New()

	router.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Content-Length, Accept-Encoding, "+SenderHeader)

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	})
	router.Use(s.requestLogger())
	router.Use(gin.Recovery())

	s.setupRoutes(router)
	return router
}

// Start 启动API服务器，阻塞直到服务器关闭
func (s *Server) Start() error {
	gin.SetMode(gin.ReleaseMode)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Lock()
	s.server = server
	s.mu.Unlock()

	s.logger.Infof("API服务器启动在端口 %d", s.port)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop 停止API服务器
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	server := s.server
	s.mu.Unlock()

	if server == nil {
		return nil
	}
	s.logger.Info("正在关闭API服务器...")
	return server.Shutdown(ctx)
}

// setupRoutes 设置路由
func (s *Server) setupRoutes(router *gin.Engine) {
	router.GET("/health", s.healthCheck)
	if s.metrics != nil {
		router.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}

	api := router.Group("/api/v1")
	{
		// 命令，需要调用者身份
		cmd := api.Group("", requireSender())
		cmd.POST("/instantiate", s.instantiate)
		cmd.PUT("/oracle/key", s.rotateOracleKey)
		cmd.POST("/oracle/dataset", s.submitOracleDataset)
		cmd.POST("/transfers", s.submitTransferRequest)
		cmd.POST("/oracle/verdicts", s.submitOracleVerdict)

		// 查询
		api.GET("/compliance", s.getComplianceRecords)
		api.GET("/compliance/:wallet", s.checkWallet)
		api.GET("/oracle/key", s.getOracleKey)
		api.GET("/admin", s.getAdmin)
		api.GET("/transfers", s.getPendingRequests)
		api.GET("/transfers/next", s.getNextRequestID)
		api.GET("/transfers/:id", s.getPendingRequest)
		api.GET("/settlement/next", s.getNextSettlementID)
		api.GET("/status", s.getStatus)

		// 运维
		api.GET("/events", s.getEvents)
		api.DELETE("/events", s.clearEvents)
		api.GET("/stats", s.getStats)
	}
}

// requireSender 命令必须携带调用者身份
func requireSender() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader(SenderHeader) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "MISSING_SENDER",
				"message": "缺少 " + SenderHeader + " 请求头",
			})
			return
		}
		c.Next()
	}
}

// requestLogger 访问日志
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.WithFields(logrus.Fields{
			"method":   c.Request.Method,
			"path":     c.FullPath(),
			"status":   c.Writer.Status(),
			"sender":   c.GetHeader(SenderHeader),
			"duration": time.Since(start).String(),
		}).Debug("HTTP请求")
	}
}

// healthCheck 健康检查
func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
		"service":   "amlgate-api",
	})
}

// getEvents 分页查询最近的审计事件
func (s *Server) getEvents(c *gin.Context) {
	eventType := c.Query("type")
	page := positiveQuery(c, "page", 1)
	pageSize := positiveQuery(c, "pageSize", 20)

	events, total := s.feed.Page(eventType, page, pageSize)
	c.JSON(http.StatusOK, gin.H{
		"events":   events,
		"total":    total,
		"page":     page,
		"pageSize": pageSize,
		"type":     eventType,
	})
}

// clearEvents 清空事件流
func (s *Server) clearEvents(c *gin.Context) {
	s.feed.Clear()
	c.JSON(http.StatusOK, gin.H{"message": "事件流已清空"})
}

// getStats 错误统计与发件箱状态
func (s *Server) getStats(c *gin.Context) {
	errStats := s.gateway.ErrorHandler().GetStats()
	stats := gin.H{
		"errors":        errStats,
		"error_rate_1h": errStats.GetErrorRate(time.Hour),
		"uptime":        time.Since(s.startedAt).String(),
	}
	if backlog, err := s.gateway.Store().OutboxBacklog(); err == nil {
		stats["outbox_backlog"] = backlog
	}
	if s.dispatcher != nil {
		stats["dispatch"] = s.dispatcher.GetStats()
	}
	c.JSON(http.StatusOK, stats)
}

func positiveQuery(c *gin.Context, key string, fallback int) int {
	if v, err := strconv.Atoi(c.Query(key)); err == nil && v > 0 {
		return v
	}
	return fallback
}
