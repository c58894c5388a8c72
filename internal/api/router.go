// Package api 组装 HTTP 路由
// @title projtrack notify API
// @version 1.0
// @description 通知分发服务：内部发布接口与 outbox 诊断
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
package api

import (
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/time/rate"

	"github.com/d60-Lab/projtrack/config"
	_ "github.com/d60-Lab/projtrack/docs"
	"github.com/d60-Lab/projtrack/internal/api/handler"
	"github.com/d60-Lab/projtrack/pkg/middleware"
)

// NewRouter 返回路由与限流器（限流器需要调用方定期 Prune）
func NewRouter(cfg *config.Config, h *handler.Handler) (*gin.Engine, *middleware.RateLimiter) {
	gin.SetMode(cfg.Server.Mode)
	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestLogger())
	if cfg.Tracing.Enabled {
		r.Use(otelgin.Middleware(cfg.Tracing.ServiceName))
	}
	r.Use(gzip.Gzip(gzip.DefaultCompression))

	r.GET("/health", h.Health)
	if cfg.Server.EnableSwagger {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	limiter := middleware.NewRateLimiter(rate.Limit(cfg.Server.RateLimit), cfg.Server.RateBurst)

	v1 := r.Group("/api/v1", middleware.JWTAuth(cfg.JWT.Secret))
	internal := v1.Group("/internal", limiter.Limit())
	internal.POST("/notifications", h.PublishNotification)

	admin := v1.Group("/admin")
	admin.GET("/outbox/stats", h.OutboxStats)
	admin.GET("/outbox/failing", h.FailingRecords)
	return r, limiter
}
