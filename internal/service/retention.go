package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/d60-Lab/projtrack/config"
	"github.com/d60-Lab/projtrack/internal/repository"
	"github.com/d60-Lab/projtrack/pkg/errreport"
	"github.com/d60-Lab/projtrack/pkg/logger"
)

// SweepResult 一次清理删除的行数
type SweepResult struct {
	Expired           int64
	Trimmed           int64
	RecipientsTrimmed int
}

// RetentionSweeper 按年龄与每人上限清理通知，不触碰 outbox
type RetentionSweeper struct {
	notifications repository.NotificationRepository
	cfg           config.RetentionConfig
	now           func() time.Time
}

func NewRetentionSweeper(notifications repository.NotificationRepository, cfg config.RetentionConfig) *RetentionSweeper {
	cfg.Normalize()
	return &RetentionSweeper{notifications: notifications, cfg: cfg, now: time.Now}
}

// WithClock 替换时间源（测试用）
func (s *RetentionSweeper) WithClock(now func() time.Time) *RetentionSweeper {
	s.now = now
	return s
}

func (s *RetentionSweeper) SweepOnce(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	if s.cfg.MaxAge > 0 {
		cutoff := s.now().UTC().Add(-s.cfg.MaxAge)
		n, err := s.notifications.DeleteOlderThan(ctx, cutoff)
		if err != nil {
			return res, fmt.Errorf("delete expired notifications: %w", err)
		}
		res.Expired = n
	}
	if s.cfg.MaxPerUser > 0 {
		over, err := s.notifications.RecipientsOverCap(ctx, s.cfg.MaxPerUser)
		if err != nil {
			return res, fmt.Errorf("find recipients over cap: %w", err)
		}
		for _, rc := range over {
			excess := int(rc.Total) - s.cfg.MaxPerUser
			if excess <= 0 {
				continue
			}
			n, err := s.notifications.DeleteOldest(ctx, rc.RecipientID, excess)
			if err != nil {
				return res, fmt.Errorf("trim notifications of %s: %w", rc.RecipientID, err)
			}
			res.Trimmed += n
			res.RecipientsTrimmed++
		}
	}
	return res, nil
}

// Run 按 SweepInterval 周期清理；失败后改用 RetryInterval
func (s *RetentionSweeper) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		wait := s.cfg.SweepInterval
		res, err := s.SweepOnce(context.WithoutCancel(ctx))
		if err != nil {
			wait = s.cfg.RetryInterval
			logger.Error("retention sweep failed", zap.Duration("retry_in", wait), zap.Error(err))
			errreport.Capture(err, map[string]string{"component": "retention"})
		} else if res.Expired > 0 || res.Trimmed > 0 {
			logger.Info("retention sweep done",
				zap.Int64("expired", res.Expired),
				zap.Int64("trimmed", res.Trimmed),
				zap.Int("recipients_trimmed", res.RecipientsTrimmed))
		}
		if !sleepCtx(ctx, wait) {
			return nil
		}
	}
}

// Start 在后台运行 Run，返回停止函数
func (s *RetentionSweeper) Start() func(context.Context) error {
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = s.Run(ctx)
	}()
	return func(stopCtx context.Context) error {
		cancel()
		done := make(chan struct{})
		go func() {
			wg.Wait()
			close(done)
		}()
		select {
		case <-done:
			return nil
		case <-stopCtx.Done():
			return stopCtx.Err()
		}
	}
}
