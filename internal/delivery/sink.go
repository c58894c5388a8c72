package delivery

import (
	"context"

	"go.uber.org/zap"

	"github.com/d60-Lab/projtrack/internal/model"
	"github.com/d60-Lab/projtrack/internal/service"
	"github.com/d60-Lab/projtrack/pkg/logger"
)

// LogSink 每条通知打一行 debug 日志，未配置任何推送通道时使用
type LogSink struct{}

func (LogSink) Deliver(_ context.Context, batch []*model.Notification) {
	for _, n := range batch {
		logger.Debug("notification created",
			zap.String("id", n.ID),
			zap.String("recipient_id", n.RecipientID),
			zap.String("kind", n.Kind.String()))
	}
}

// Fanout 依次调用多个 sink
type Fanout []service.DeliverySink

func (f Fanout) Deliver(ctx context.Context, batch []*model.Notification) {
	for _, s := range f {
		s.Deliver(ctx, batch)
	}
}
