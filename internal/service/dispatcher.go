package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/d60-Lab/projtrack/config"
	"github.com/d60-Lab/projtrack/internal/model"
	"github.com/d60-Lab/projtrack/internal/repository"
	"github.com/d60-Lab/projtrack/pkg/errreport"
	"github.com/d60-Lab/projtrack/pkg/id"
	"github.com/d60-Lab/projtrack/pkg/logger"
)

// BatchResult 一次 RunOnce 的统计
type BatchResult struct {
	BatchID           string
	Selected          int
	Delivered         int
	SkippedPreference int
	SkippedDuplicate  int
	Retried           int
	Stale             int
}

// Idle reports whether the cycle found nothing to do.
func (r BatchResult) Idle() bool { return r.Selected == 0 }

// Dispatcher 从 outbox 租约取出到期记录，经偏好过滤与指纹去重后生成通知。
// 多个 Dispatcher（协程或进程）只通过 outbox 行上的租约字段协调。
type Dispatcher struct {
	outbox        repository.OutboxRepository
	notifications repository.NotificationRepository
	filter        *PreferenceFilter
	sink          DeliverySink
	cfg           config.DispatchConfig

	now           func() time.Time
	tracer        trace.Tracer
	meterProvider metric.MeterProvider
	metrics       dispatchMetrics
}

type DispatcherOption func(*Dispatcher)

func WithDispatchClock(now func() time.Time) DispatcherOption {
	return func(d *Dispatcher) { d.now = now }
}

func WithTracer(t trace.Tracer) DispatcherOption {
	return func(d *Dispatcher) { d.tracer = t }
}

func WithMeterProvider(p metric.MeterProvider) DispatcherOption {
	return func(d *Dispatcher) { d.meterProvider = p }
}

func NewDispatcher(
	outbox repository.OutboxRepository,
	notifications repository.NotificationRepository,
	filter *PreferenceFilter,
	sink DeliverySink,
	cfg config.DispatchConfig,
	opts ...DispatcherOption,
) *Dispatcher {
	cfg.Normalize()
	if sink == nil {
		sink = NopSink{}
	}
	d := &Dispatcher{
		outbox:        outbox,
		notifications: notifications,
		filter:        filter,
		sink:          sink,
		cfg:           cfg,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.tracer == nil {
		d.tracer = otel.Tracer("projtrack.notify.dispatcher")
	}
	m, err := newDispatchMetrics(d.meterProvider)
	if err != nil {
		logger.Warn("dispatch metrics disabled", zap.Error(err))
	}
	d.metrics = m
	return d
}

// RunOnce 处理一批到期记录。单行错误只会变成该行的退避，不会返回；
// 返回的 error 表示整批失败（选取或提交），已加的租约到期后自然释放。
func (d *Dispatcher) RunOnce(ctx context.Context) (BatchResult, error) {
	res := BatchResult{BatchID: uuid.NewString()}
	ctx, span := d.tracer.Start(ctx, "notify.dispatch.batch",
		trace.WithAttributes(attribute.String("batch.id", res.BatchID)))
	defer span.End()

	// postgres 只保存到微秒
	now := d.now().UTC().Truncate(time.Microsecond)
	claimed, err := d.outbox.ClaimDue(ctx, now, d.cfg.LeaseDuration, d.cfg.BatchSize)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "claim failed")
		return res, fmt.Errorf("claim outbox: %w", err)
	}
	res.Selected = len(claimed)
	span.SetAttributes(attribute.Int("batch.selected", res.Selected))
	if res.Idle() {
		return res, nil
	}

	// 同批次内已决定投递的 (recipient, fingerprint)
	seen := make(map[string]struct{}, len(claimed))
	settlements := make([]*repository.Settlement, 0, len(claimed))
	for _, rec := range claimed {
		settlements = append(settlements, d.process(ctx, rec, now, seen, res.BatchID))
	}

	settled, err := d.outbox.Settle(ctx, settlements)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "settle failed")
		return res, fmt.Errorf("settle outbox: %w", err)
	}

	stale := make(map[string]struct{}, len(settled.Stale))
	for _, sid := range settled.Stale {
		stale[sid] = struct{}{}
	}
	storageDup := make(map[string]struct{}, len(settled.Duplicates))
	for _, did := range settled.Duplicates {
		storageDup[did] = struct{}{}
	}
	for _, s := range settlements {
		if _, ok := stale[s.RecordID]; ok {
			res.Stale++
			continue
		}
		if _, ok := storageDup[s.RecordID]; ok {
			res.SkippedDuplicate++
			continue
		}
		switch s.Outcome {
		case model.OutcomeDelivered:
			res.Delivered++
		case model.OutcomeSkippedPreference:
			res.SkippedPreference++
		case model.OutcomeSkippedDuplicate:
			res.SkippedDuplicate++
		default:
			res.Retried++
		}
	}

	if len(settled.Created) > 0 {
		d.sink.Deliver(ctx, settled.Created)
	}

	d.metrics.record(ctx, res, d.now().Sub(now))
	span.SetAttributes(
		attribute.Int("batch.delivered", res.Delivered),
		attribute.Int("batch.retried", res.Retried),
	)
	logger.Debug("dispatch batch settled",
		zap.String("batch_id", res.BatchID),
		zap.Int("selected", res.Selected),
		zap.Int("delivered", res.Delivered),
		zap.Int("skipped_preference", res.SkippedPreference),
		zap.Int("skipped_duplicate", res.SkippedDuplicate),
		zap.Int("retried", res.Retried),
		zap.Int("stale", res.Stale))
	return res, nil
}

func (d *Dispatcher) process(ctx context.Context, rec *model.DispatchRecord, now time.Time, seen map[string]struct{}, batchID string) *repository.Settlement {
	s := &repository.Settlement{RecordID: rec.ID, Now: now}
	n, outcome, err := d.evaluate(ctx, rec, now, seen)
	if err != nil {
		retryAt := now.Add(RetryDelay(rec.AttemptCount))
		msg := LastErrorText(err)
		s.RetryAt = &retryAt
		s.LastError = &msg
		logger.Warn("dispatch record failed, backing off",
			zap.String("batch_id", batchID),
			zap.String("record_id", rec.ID),
			zap.String("recipient_id", rec.RecipientID),
			zap.Int("attempt", rec.AttemptCount),
			zap.Time("retry_at", retryAt),
			zap.Error(err))
		errreport.Capture(err, map[string]string{"component": "dispatcher", "kind": rec.Kind.String()})
		return s
	}
	s.Outcome = outcome
	s.Notification = n
	return s
}

func (d *Dispatcher) evaluate(ctx context.Context, rec *model.DispatchRecord, now time.Time, seen map[string]struct{}) (*model.Notification, string, error) {
	verdict, err := d.filter.Decide(ctx, PreferenceQuery{
		Kind:        rec.Kind,
		RecipientID: rec.RecipientID,
		ProjectID:   rec.ScopeProjectID,
	})
	if err != nil {
		return nil, "", fmt.Errorf("preference lookup: %w", err)
	}
	if !verdict.Allowed {
		logger.Debug("dispatch record skipped by preference",
			zap.String("record_id", rec.ID),
			zap.String("rule", verdict.Rule))
		return nil, model.OutcomeSkippedPreference, nil
	}

	fp := rec.FingerprintValue()
	key := rec.RecipientID + "\x00" + fp
	if fp != "" {
		if _, dup := seen[key]; dup {
			return nil, model.OutcomeSkippedDuplicate, nil
		}
		exists, err := d.notifications.ExistsByFingerprint(ctx, rec.RecipientID, fp)
		if err != nil {
			return nil, "", fmt.Errorf("fingerprint lookup: %w", err)
		}
		if exists {
			return nil, model.OutcomeSkippedDuplicate, nil
		}
	}

	env, err := DecodeEnvelope(rec.Payload)
	if err != nil {
		return nil, "", err
	}
	if env.Kind != rec.Kind {
		return nil, "", fmt.Errorf("envelope kind %q does not match record kind %q", env.Kind, rec.Kind)
	}

	if fp != "" {
		seen[key] = struct{}{}
	}
	return newNotification(rec, now), model.OutcomeDelivered, nil
}

func newNotification(rec *model.DispatchRecord, now time.Time) *model.Notification {
	return &model.Notification{
		ID:               id.At(now),
		RecipientID:      rec.RecipientID,
		Fingerprint:      rec.Fingerprint,
		Kind:             rec.Kind,
		Module:           rec.Module,
		EventType:        rec.EventType,
		ScopeType:        rec.ScopeType,
		ScopeID:          rec.ScopeID,
		ScopeProjectID:   rec.ScopeProjectID,
		ActorID:          rec.ActorID,
		Route:            rec.Route,
		Title:            rec.Title,
		Summary:          rec.Summary,
		CreatedAt:        now,
		DispatchRecordID: rec.ID,
	}
}

// Run 循环分发直到 ctx 取消。出错等待 ErrorDelay，空闲等待 IdleDelay，有活则立即继续。
// 进行中的批次在脱离取消的 context 上完成，保证落库不被打断。
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		res, err := d.safeRunOnce(context.WithoutCancel(ctx))
		switch {
		case err != nil:
			logger.Error("dispatch batch failed",
				zap.String("batch_id", res.BatchID),
				zap.Duration("retry_in", d.cfg.ErrorDelay),
				zap.Error(err))
			errreport.Capture(err, map[string]string{"component": "dispatcher", "batch_id": res.BatchID})
			if !sleepCtx(ctx, d.cfg.ErrorDelay) {
				return nil
			}
		case res.Idle():
			if !sleepCtx(ctx, d.cfg.IdleDelay) {
				return nil
			}
		}
	}
}

func (d *Dispatcher) safeRunOnce(ctx context.Context) (res BatchResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("dispatch panic: %v", r)
		}
	}()
	return d.RunOnce(ctx)
}

// ErrStopTimeout 停止时等待进行中的批次超时
var ErrStopTimeout = errors.New("dispatcher stop timed out")

// Start 启动 workers 个分发循环；返回的停止函数取消循环并等待进行中的批次完成。
func (d *Dispatcher) Start(workers int) func(context.Context) error {
	if workers <= 0 {
		workers = d.cfg.Workers
	}
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = d.Run(ctx)
		}()
	}
	logger.Info("dispatcher started", zap.Int("workers", workers), zap.Int("batch_size", d.cfg.BatchSize))
	return func(stopCtx context.Context) error {
		cancel()
		done := make(chan struct{})
		go func() {
			wg.Wait()
			close(done)
		}()
		select {
		case <-done:
			logger.Info("dispatcher stopped")
			return nil
		case <-stopCtx.Done():
			return fmt.Errorf("%w: %v", ErrStopTimeout, stopCtx.Err())
		}
	}
}
