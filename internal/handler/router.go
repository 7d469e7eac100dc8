package handler

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/abdul-abdi/blockcreative-sub000/internal/logger"
	"github.com/abdul-abdi/blockcreative-sub000/internal/metrics"
)

// NewEngine builds the gin engine with the standard middleware chain
// and all routes registered.
func NewEngine(chain *ChainHandler, health *HealthHandler) *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery(), accessLog(), httpMetrics())

	engine.GET("/health/live", health.Live)
	engine.GET("/health/ready", health.Ready)
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := engine.Group("/api/v1")
	{
		v1.GET("/transactions/:hash", chain.GetTransaction)
		v1.POST("/transactions/batch", chain.BatchGetTransactions)
		v1.GET("/projects/:id/transactions", chain.ListProjectTransactions)
		v1.POST("/projects/:id/register", chain.RegisterProject)
		v1.POST("/scripts/mint", chain.MintScript)
		v1.GET("/gas/price", chain.GetGasPrice)
		v1.GET("/gateway/status", chain.GetGatewayStatus)
	}

	return engine
}

func accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		// probes and scrapes would dominate the log at info level
		if c.Request.URL.Path == "/metrics" || c.Request.URL.Path == "/health/live" {
			return
		}
		logger.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}

func httpMetrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		metrics.RecordHTTPRequest(path, c.Writer.Status(), time.Since(start).Seconds())
	}
}
