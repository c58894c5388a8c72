package delivery

import (
	"context"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/d60-Lab/projtrack/internal/model"
	"github.com/d60-Lab/projtrack/pkg/logger"
)

// RedisSink 向 <prefix>:<recipient_id> 频道 PUBLISH，websocket 网关订阅后转发给在线用户
type RedisSink struct {
	client *redis.Client
	prefix string
}

func NewRedisSink(client *redis.Client, prefix string) *RedisSink {
	if prefix == "" {
		prefix = "notify:user"
	}
	return &RedisSink{client: client, prefix: prefix}
}

// Channel 返回接收人的频道名
func (s *RedisSink) Channel(recipientID string) string {
	return s.prefix + ":" + recipientID
}

func (s *RedisSink) Deliver(ctx context.Context, batch []*model.Notification) {
	if len(batch) == 0 {
		return
	}
	pipe := s.client.Pipeline()
	for _, n := range batch {
		payload, err := encode(n)
		if err != nil {
			logger.Warn("redis sink: encode notification", zap.String("id", n.ID), zap.Error(err))
			continue
		}
		pipe.Publish(ctx, s.Channel(n.RecipientID), payload)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		logger.Warn("redis sink: publish failed", zap.Int("batch", len(batch)), zap.Error(err))
	}
}
