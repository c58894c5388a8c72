package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/d60-Lab/projtrack/internal/repository"
	"github.com/d60-Lab/projtrack/internal/service"
)

// HealthCheck 返回依赖不可用时的错误
type HealthCheck func(ctx context.Context) error

// Handler 内部发布接口与运维诊断接口
type Handler struct {
	publisher *service.Publisher
	outbox    repository.OutboxRepository
	checks    map[string]HealthCheck
}

func NewHandler(publisher *service.Publisher, outbox repository.OutboxRepository, checks map[string]HealthCheck) *Handler {
	return &Handler{publisher: publisher, outbox: outbox, checks: checks}
}

// Health 健康检查
// @Summary 健康检查
// @Tags 运维
// @Produce json
// @Success 200 {object} map[string]string
// @Failure 503 {object} map[string]string
// @Router /health [get]
func (h *Handler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := gin.H{"status": "ok"}
	code := http.StatusOK
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			status[name] = err.Error()
			status["status"] = "degraded"
			code = http.StatusServiceUnavailable
			continue
		}
		status[name] = "ok"
	}
	c.JSON(code, status)
}
