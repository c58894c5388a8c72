package delivery

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/d60-Lab/projtrack/internal/model"
	"github.com/d60-Lab/projtrack/internal/service"
	"github.com/d60-Lab/projtrack/pkg/logger"
)

type deliveryJob struct {
	batch []*model.Notification
	enqAt time.Time
}

// AsyncQueue 本地异步投递：分发循环只负责入队，推送在后台 worker 中完成。
// 队列满时丢弃并告警。
type AsyncQueue struct {
	next    service.DeliverySink
	timeout time.Duration
	ch      chan deliveryJob

	mu      sync.RWMutex
	closed  bool
	wg      sync.WaitGroup
	dropped atomic.Int64
}

func NewAsyncQueue(next service.DeliverySink, queueSize int) *AsyncQueue {
	if queueSize <= 0 {
		queueSize = 1024
	}
	return &AsyncQueue{next: next, timeout: 5 * time.Second, ch: make(chan deliveryJob, queueSize)}
}

// Start 启动 workers 个消费者；返回的停止函数拒绝新任务并等待队列排空
func (q *AsyncQueue) Start(workers int) func(context.Context) error {
	if workers <= 0 {
		workers = 2
	}
	for i := 0; i < workers; i++ {
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			for job := range q.ch {
				ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
				q.next.Deliver(ctx, job.batch)
				cancel()
				if lag := time.Since(job.enqAt); lag > time.Second {
					logger.Debug("delivery queue lagging", zap.Duration("lag", lag))
				}
			}
		}()
	}
	return func(ctx context.Context) error {
		q.mu.Lock()
		if !q.closed {
			q.closed = true
			close(q.ch)
		}
		q.mu.Unlock()

		done := make(chan struct{})
		go func() {
			q.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			logger.Warn("delivery queue not drained", zap.Int("pending", len(q.ch)))
			return ctx.Err()
		}
	}
}

func (q *AsyncQueue) Deliver(_ context.Context, batch []*model.Notification) {
	if len(batch) == 0 {
		return
	}
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		logger.Warn("delivery queue closed, drop batch", zap.Int("size", len(batch)))
		return
	}
	select {
	case q.ch <- deliveryJob{batch: batch, enqAt: time.Now()}:
	default:
		total := q.dropped.Add(1)
		logger.Warn("delivery queue full, drop batch", zap.Int("size", len(batch)), zap.Int64("dropped_total", total))
	}
}

// Dropped 返回累计丢弃的批次数
func (q *AsyncQueue) Dropped() int64 { return q.dropped.Load() }

// QueueLen 返回当前队列长度（采样值）
func (q *AsyncQueue) QueueLen() int { return len(q.ch) }
