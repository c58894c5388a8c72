package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/d60-Lab/projtrack/internal/model"
)

// PreferenceReader 偏好过滤器依赖的只读查询
type PreferenceReader interface {
	IsProjectMuted(ctx context.Context, recipientID string, projectID int64) (bool, error)
	// GetPreference 返回显式偏好；found=false 表示未设置
	GetPreference(ctx context.Context, recipientID string, kind model.Kind) (allow bool, found bool, err error)
	HasLegacyOptOut(ctx context.Context, recipientID string, kind model.Kind) (bool, error)
}

// PreferenceRepository 偏好与屏蔽关系；写方法供所属模块使用
type PreferenceRepository interface {
	PreferenceReader
	SetPreference(ctx context.Context, recipientID string, kind model.Kind, allow bool) error
	MuteProject(ctx context.Context, recipientID string, projectID int64) error
	UnmuteProject(ctx context.Context, recipientID string, projectID int64) error
	SetLegacyOptOut(ctx context.Context, recipientID string, kind model.Kind) error
}

type preferenceRepository struct{ db *gorm.DB }

func NewPreferenceRepository(db *gorm.DB) PreferenceRepository { return &preferenceRepository{db: db} }

func (r *preferenceRepository) IsProjectMuted(ctx context.Context, recipientID string, projectID int64) (bool, error) {
	var cnt int64
	if err := r.db.WithContext(ctx).
		Model(&model.ProjectMute{}).
		Where("recipient_id = ? AND project_id = ?", recipientID, projectID).
		Count(&cnt).Error; err != nil {
		return false, err
	}
	return cnt > 0, nil
}

func (r *preferenceRepository) GetPreference(ctx context.Context, recipientID string, kind model.Kind) (bool, bool, error) {
	var p model.Preference
	err := r.db.WithContext(ctx).
		Where("recipient_id = ? AND kind = ?", recipientID, kind).
		Take(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, false, nil
	}
	if err != nil {
		return false, false, err
	}
	return p.Allow, true, nil
}

func (r *preferenceRepository) HasLegacyOptOut(ctx context.Context, recipientID string, kind model.Kind) (bool, error) {
	var cnt int64
	if err := r.db.WithContext(ctx).
		Model(&model.LegacyOptOut{}).
		Where("recipient_id = ? AND kind = ?", recipientID, kind).
		Count(&cnt).Error; err != nil {
		return false, err
	}
	return cnt > 0, nil
}

func (r *preferenceRepository) SetPreference(ctx context.Context, recipientID string, kind model.Kind, allow bool) error {
	p := &model.Preference{RecipientID: recipientID, Kind: kind, Allow: allow, UpdatedAt: time.Now().UTC()}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "recipient_id"}, {Name: "kind"}},
		DoUpdates: clause.AssignmentColumns([]string{"allow", "updated_at"}),
	}).Create(p).Error
}

func (r *preferenceRepository) MuteProject(ctx context.Context, recipientID string, projectID int64) error {
	m := &model.ProjectMute{RecipientID: recipientID, ProjectID: projectID, CreatedAt: time.Now().UTC()}
	// 幂等：重复屏蔽不报错
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(m).Error
}

func (r *preferenceRepository) UnmuteProject(ctx context.Context, recipientID string, projectID int64) error {
	return r.db.WithContext(ctx).
		Where("recipient_id = ? AND project_id = ?", recipientID, projectID).
		Delete(&model.ProjectMute{}).Error
}

func (r *preferenceRepository) SetLegacyOptOut(ctx context.Context, recipientID string, kind model.Kind) error {
	o := &model.LegacyOptOut{RecipientID: recipientID, Kind: kind, CreatedAt: time.Now().UTC()}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(o).Error
}
