package handler

import (
	"log/slog"

	"github.com/gin-gonic/gin"
)

// RouterDeps 组装路由需要的全部 handler
type RouterDeps struct {
	URLPrefix string
	Provider  *ProviderHandler
	Actions   *ActionHandler
	Health    *HealthHandler
	Metrics   *MetricsHandler
	Limiter   *RateLimiter
	Logger    *slog.Logger
}

func NewRouter(d RouterDeps) *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery(), WithIdentity(), AccessLog(d.Logger))

	// 健康与就绪
	engine.GET("/healthz", d.Health.Healthz)
	engine.GET("/readyz", d.Health.Readyz)
	engine.GET("/api/v1/metrics", d.Metrics.GetActionMetrics)

	prefix := d.URLPrefix
	if prefix == "" {
		prefix = "/"
	}
	ap := engine.Group(prefix)
	{
		ap.GET("/", d.Provider.Describe)
		if d.Limiter != nil {
			ap.POST("/run", d.Limiter.Middleware(), d.Actions.Run)
		} else {
			ap.POST("/run", d.Actions.Run)
		}
		ap.GET("/:action_id/status", d.Actions.Status)
		ap.POST("/:action_id/release", d.Actions.Release)
		ap.POST("/:action_id/cancel", d.Actions.Cancel)
	}
	return engine
}
