package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/d60-Lab/projtrack/internal/model"
)

// RecipientCount 接收人及其通知数
type RecipientCount struct {
	RecipientID string
	Total       int64
}

type NotificationRepository interface {
	ExistsByFingerprint(ctx context.Context, recipientID, fingerprint string) (bool, error)
	ListByRecipient(ctx context.Context, recipientID string, limit int) ([]*model.Notification, error)
	CountByRecipient(ctx context.Context, recipientID string) (int64, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
	RecipientsOverCap(ctx context.Context, maxPerUser int) ([]RecipientCount, error)
	// DeleteOldest 删除某接收人最旧的 n 条（created_at, id 升序）
	DeleteOldest(ctx context.Context, recipientID string, n int) (int64, error)
}

type notificationRepository struct{ db *gorm.DB }

func NewNotificationRepository(db *gorm.DB) NotificationRepository {
	return &notificationRepository{db: db}
}

func (r *notificationRepository) ExistsByFingerprint(ctx context.Context, recipientID, fingerprint string) (bool, error) {
	var cnt int64
	if err := r.db.WithContext(ctx).
		Model(&model.Notification{}).
		Where("recipient_id = ? AND fingerprint = ?", recipientID, fingerprint).
		Count(&cnt).Error; err != nil {
		return false, err
	}
	return cnt > 0, nil
}

func (r *notificationRepository) ListByRecipient(ctx context.Context, recipientID string, limit int) ([]*model.Notification, error) {
	var res []*model.Notification
	err := r.db.WithContext(ctx).
		Where("recipient_id = ?", recipientID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&res).Error
	return res, err
}

func (r *notificationRepository) CountByRecipient(ctx context.Context, recipientID string) (int64, error) {
	var cnt int64
	err := r.db.WithContext(ctx).Model(&model.Notification{}).Where("recipient_id = ?", recipientID).Count(&cnt).Error
	return cnt, err
}

func (r *notificationRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Where("created_at < ?", cutoff.UTC()).Delete(&model.Notification{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete notifications older than %s: %w", cutoff.Format(time.RFC3339), res.Error)
	}
	return res.RowsAffected, nil
}

func (r *notificationRepository) RecipientsOverCap(ctx context.Context, maxPerUser int) ([]RecipientCount, error) {
	var res []RecipientCount
	err := r.db.WithContext(ctx).
		Model(&model.Notification{}).
		Select("recipient_id, COUNT(*) AS total").
		Group("recipient_id").
		Having("COUNT(*) > ?", maxPerUser).
		Order("recipient_id").
		Scan(&res).Error
	return res, err
}

func (r *notificationRepository) DeleteOldest(ctx context.Context, recipientID string, n int) (int64, error) {
	if n <= 0 {
		return 0, nil
	}
	var deleted int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ids []string
		if err := tx.Model(&model.Notification{}).
			Where("recipient_id = ?", recipientID).
			Order("created_at, id").
			Limit(n).
			Pluck("id", &ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		res := tx.Where("id IN ?", ids).Delete(&model.Notification{})
		deleted = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return 0, fmt.Errorf("trim notifications for %s: %w", recipientID, err)
	}
	return deleted, nil
}
