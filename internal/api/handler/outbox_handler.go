package handler

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/d60-Lab/projtrack/internal/model"
	"github.com/d60-Lab/projtrack/pkg/response"
)

const maxFailingLimit = 500

type failingRecord struct {
	ID           string     `json:"id"`
	RecipientID  string     `json:"recipient_id"`
	Kind         model.Kind `json:"kind"`
	AttemptCount int        `json:"attempt_count"`
	LastError    string     `json:"last_error"`
	RetryAt      *time.Time `json:"retry_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// OutboxStats outbox 积压概况
// @Summary outbox 统计
// @Tags 运维
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Response{data=repository.OutboxStats}
// @Failure 500 {object} response.Response
// @Router /api/v1/admin/outbox/stats [get]
func (h *Handler) OutboxStats(c *gin.Context) {
	st, err := h.outbox.Stats(c.Request.Context(), time.Now().UTC())
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.Success(c, st)
}

// FailingRecords 最近失败仍在重试的记录
// @Summary 重试中的 outbox 记录
// @Tags 运维
// @Produce json
// @Security BearerAuth
// @Param limit query int false "条数" default(50)
// @Success 200 {object} response.Response{data=[]failingRecord}
// @Failure 400 {object} response.Response
// @Router /api/v1/admin/outbox/failing [get]
func (h *Handler) FailingRecords(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 {
		response.BadRequest(c, "limit must be a positive integer")
		return
	}
	if limit > maxFailingLimit {
		limit = maxFailingLimit
	}
	recs, err := h.outbox.ListFailing(c.Request.Context(), limit)
	if err != nil {
		response.InternalError(c, err)
		return
	}
	out := make([]failingRecord, 0, len(recs))
	for _, r := range recs {
		fr := failingRecord{
			ID:           r.ID,
			RecipientID:  r.RecipientID,
			Kind:         r.Kind,
			AttemptCount: r.AttemptCount,
			RetryAt:      r.LockedUntil,
			CreatedAt:    r.CreatedAt,
		}
		if r.LastError != nil {
			fr.LastError = *r.LastError
		}
		out = append(out, fr)
	}
	response.Success(c, gin.H{"limit": limit, "list": out})
}
