package handler

import (
	"bytes"
	"encoding/json"
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/d60-Lab/projtrack/internal/model"
	"github.com/d60-Lab/projtrack/internal/service"
	"github.com/d60-Lab/projtrack/pkg/response"
)

type publishRequest struct {
	Kind       string           `json:"kind" binding:"required" example:"plan_approved"`
	Recipients []string         `json:"recipients" binding:"required"`
	Payload    json.RawMessage  `json:"payload" swaggertype:"object"`
	Metadata   service.Metadata `json:"metadata"`
}

type publishResponse struct {
	Records int `json:"records"`
}

// PublishNotification 为每个接收人写入一条 outbox 记录，异步分发
// @Summary 发布通知（内部服务调用）
// @Tags 通知
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body publishRequest true "通知内容"
// @Success 202 {object} response.Response{data=publishResponse}
// @Failure 400 {object} response.Response
// @Failure 401 {object} response.Response
// @Failure 429 {object} response.Response
// @Failure 500 {object} response.Response
// @Router /api/v1/internal/notifications [post]
func (h *Handler) PublishNotification(c *gin.Context) {
	var req publishRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	var payload any
	if p := bytes.TrimSpace(req.Payload); len(p) > 0 && !bytes.Equal(p, []byte("null")) {
		payload = req.Payload
	}

	n, err := h.publisher.Publish(c.Request.Context(), model.Kind(req.Kind), req.Recipients, payload, req.Metadata)
	if err != nil {
		if errors.Is(err, service.ErrValidation) {
			response.BadRequest(c, err.Error())
			return
		}
		response.InternalError(c, err)
		return
	}
	response.Accepted(c, publishResponse{Records: n})
}
