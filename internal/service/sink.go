package service

import (
	"context"

	"github.com/d60-Lab/projtrack/internal/model"
)

// DeliverySink 接收刚创建的通知（推送、websocket 等）。
// 尽力而为，不返回错误；失败不影响 outbox 状态。
type DeliverySink interface {
	Deliver(ctx context.Context, batch []*model.Notification)
}

// NopSink 丢弃所有通知
type NopSink struct{}

func (NopSink) Deliver(context.Context, []*model.Notification) {}
