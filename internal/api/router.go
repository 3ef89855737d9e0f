package api

import (
	"time"

	"github.com/apk-analysis/dexkit-bridge/internal/api/handlers"
	"github.com/apk-analysis/dexkit-bridge/internal/config"
	"github.com/apk-analysis/dexkit-bridge/internal/metrics"
	"github.com/apk-analysis/dexkit-bridge/internal/repository"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// Version 服务版本
const Version = "1.0.0"

// SetupRouter 注册全部路由；collector 为 nil 时不暴露 /metrics
func SetupRouter(cfg *config.Config, logger *logrus.Logger, engines handlers.EngineService, history repository.LoadRecordRepository, collector *metrics.Collector) *gin.Engine {
	// 设置 Gin 模式
	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	// 全局中间件
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(logger))
	r.Use(CORSMiddleware())

	// Prometheus 监控中间件
	if collector != nil {
		r.Use(collector.HTTPMiddleware())
		r.GET("/metrics", gin.WrapH(collector.Handler()))
	}

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "ok",
			"version": Version,
		})
	})

	engineHandler := handlers.NewEngineHandler(engines, logger)
	historyHandler := handlers.NewHistoryHandler(history, logger)

	v1 := r.Group("/api")
	{
		// 引擎句柄
		v1.POST("/engines", engineHandler.CreateEngine)
		v1.GET("/engines", engineHandler.ListEngines)
		v1.GET("/engines/:handle", engineHandler.GetEngine)
		v1.PUT("/engines/:handle/threads", engineHandler.SetThreads)
		v1.DELETE("/engines/:handle", engineHandler.ReleaseEngine)

		// 构造历史
		v1.GET("/history", historyHandler.ListHistory)
		v1.GET("/history/stats", historyHandler.GetStatistics)
	}

	return r
}

// LoggerMiddleware 日志中间件
func LoggerMiddleware(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()

		c.Next()

		logger.WithFields(logrus.Fields{
			"status":  c.Writer.Status(),
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"latency": time.Since(startTime).Milliseconds(),
		}).Info("HTTP Request")
	}
}

// CORSMiddleware CORS 中间件
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
