package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/d60-Lab/projtrack/internal/model"
)

// Settlement 一行已租约记录的处理结果，在 Settle 中统一落库
type Settlement struct {
	RecordID string
	// Outcome 为空表示退避重试
	Outcome      string
	Now          time.Time
	RetryAt      *time.Time
	LastError    *string
	Notification *model.Notification
}

// Terminal reports whether the settlement ends the record's lifecycle.
func (s *Settlement) Terminal() bool { return s.Outcome != "" }

// SettleResult Settle 的落库结果
type SettleResult struct {
	Created []*model.Notification
	// Duplicates 提交时才被唯一约束拦下的记录
	Duplicates []string
	// Stale 已被其他 worker 终结的记录（租约过期被抢占）
	Stale []string
}

// OutboxStats 运维诊断用计数
type OutboxStats struct {
	Pending     int64 `json:"pending"`
	Leased      int64 `json:"leased"`
	Retrying    int64 `json:"retrying"`
	Dispatched  int64 `json:"dispatched"`
	MaxAttempts int   `json:"max_attempts"`
}

type OutboxRepository interface {
	// CreateBatch 原子写入一批记录（全部或全不）
	CreateBatch(ctx context.Context, records []*model.DispatchRecord) error
	// ClaimDue 选取到期的待分发记录并在同一事务内加租约、attempt_count+1
	ClaimDue(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]*model.DispatchRecord, error)
	// Settle 在一个事务内写入终态/退避并创建通知
	Settle(ctx context.Context, settlements []*Settlement) (*SettleResult, error)
	GetByID(ctx context.Context, id string) (*model.DispatchRecord, error)
	Stats(ctx context.Context, now time.Time) (*OutboxStats, error)
	ListFailing(ctx context.Context, limit int) ([]*model.DispatchRecord, error)
}

type outboxRepository struct{ db *gorm.DB }

func NewOutboxRepository(db *gorm.DB) OutboxRepository { return &outboxRepository{db: db} }

func (r *outboxRepository) CreateBatch(ctx context.Context, records []*model.DispatchRecord) error {
	if len(records) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.CreateInBatches(records, 500).Error
	})
}

const dueCondition = "dispatched_at IS NULL AND (locked_until IS NULL OR locked_until <= ?)"

func (r *outboxRepository) ClaimDue(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]*model.DispatchRecord, error) {
	// postgres 存储微秒精度，截断后才能按 locked_until 精确回查
	now = now.UTC()
	until := now.Add(lease).Truncate(time.Microsecond)
	var claimed []*model.DispatchRecord
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.Model(&model.DispatchRecord{}).
			Where(dueCondition, now).
			Order("created_at, id").
			Limit(limit)
		if tx.Dialector.Name() == "postgres" {
			q = q.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		}
		var ids []string
		if err := q.Pluck("id", &ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		if err := tx.Model(&model.DispatchRecord{}).
			Where("id IN ?", ids).
			Where(dueCondition, now).
			Updates(map[string]any{
				"locked_until":  until,
				"attempt_count": gorm.Expr("attempt_count + 1"),
			}).Error; err != nil {
			return err
		}
		return tx.Where("id IN ? AND locked_until = ? AND dispatched_at IS NULL", ids, until).
			Order("created_at, id").
			Find(&claimed).Error
	})
	if err != nil {
		return nil, fmt.Errorf("claim outbox batch: %w", err)
	}
	return claimed, nil
}

func (r *outboxRepository) Settle(ctx context.Context, settlements []*Settlement) (*SettleResult, error) {
	res := &SettleResult{}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, s := range settlements {
			updated := tx.Model(&model.DispatchRecord{}).
				Where("id = ? AND dispatched_at IS NULL", s.RecordID).
				Updates(settlementColumns(s))
			if updated.Error != nil {
				return updated.Error
			}
			if updated.RowsAffected == 0 {
				res.Stale = append(res.Stale, s.RecordID)
				continue
			}
			if s.Notification == nil {
				continue
			}
			// 唯一约束兜底：并发 worker 已创建同指纹通知时插入 0 行
			inserted := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(s.Notification)
			if inserted.Error != nil {
				return inserted.Error
			}
			if inserted.RowsAffected == 0 {
				if err := tx.Model(&model.DispatchRecord{}).
					Where("id = ?", s.RecordID).
					Update("outcome", model.OutcomeSkippedDuplicate).Error; err != nil {
					return err
				}
				res.Duplicates = append(res.Duplicates, s.RecordID)
				continue
			}
			res.Created = append(res.Created, s.Notification)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("settle outbox batch: %w", err)
	}
	return res, nil
}

func settlementColumns(s *Settlement) map[string]any {
	cols := map[string]any{"last_error": nil}
	if s.LastError != nil {
		cols["last_error"] = *s.LastError
	}
	if s.Terminal() {
		cols["dispatched_at"] = s.Now.UTC()
		cols["locked_until"] = nil
		cols["outcome"] = s.Outcome
		return cols
	}
	if s.RetryAt != nil {
		cols["locked_until"] = s.RetryAt.UTC()
	}
	return cols
}

func (r *outboxRepository) GetByID(ctx context.Context, id string) (*model.DispatchRecord, error) {
	var rec model.DispatchRecord
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&rec).Error; err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *outboxRepository) Stats(ctx context.Context, now time.Time) (*OutboxStats, error) {
	now = now.UTC()
	var st OutboxStats
	db := r.db.WithContext(ctx)
	if err := db.Model(&model.DispatchRecord{}).Where("dispatched_at IS NULL").Count(&st.Pending).Error; err != nil {
		return nil, err
	}
	if err := db.Model(&model.DispatchRecord{}).
		Where("dispatched_at IS NULL AND locked_until > ?", now).
		Count(&st.Leased).Error; err != nil {
		return nil, err
	}
	if err := db.Model(&model.DispatchRecord{}).
		Where("dispatched_at IS NULL AND last_error IS NOT NULL").
		Count(&st.Retrying).Error; err != nil {
		return nil, err
	}
	if err := db.Model(&model.DispatchRecord{}).Where("dispatched_at IS NOT NULL").Count(&st.Dispatched).Error; err != nil {
		return nil, err
	}
	var maxAttempts sql.NullInt64
	if err := db.Model(&model.DispatchRecord{}).
		Where("dispatched_at IS NULL").
		Select("MAX(attempt_count)").
		Row().Scan(&maxAttempts); err != nil {
		return nil, err
	}
	st.MaxAttempts = int(maxAttempts.Int64)
	return &st, nil
}

func (r *outboxRepository) ListFailing(ctx context.Context, limit int) ([]*model.DispatchRecord, error) {
	var res []*model.DispatchRecord
	err := r.db.WithContext(ctx).
		Where("dispatched_at IS NULL AND last_error IS NOT NULL").
		Order("attempt_count DESC, created_at").
		Limit(limit).
		Find(&res).Error
	return res, err
}
