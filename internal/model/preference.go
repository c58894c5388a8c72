package model

import "time"

// Preference 接收人对某类通知的显式开关，覆盖默认允许
type Preference struct {
	RecipientID string `gorm:"primaryKey;type:varchar(64)"`
	Kind        Kind   `gorm:"primaryKey;type:varchar(64)"`
	Allow       bool   `gorm:"not null"`
	UpdatedAt   time.Time
}

func (Preference) TableName() string { return "notification_preferences" }

// ProjectMute 屏蔽某项目下的全部通知
type ProjectMute struct {
	RecipientID string `gorm:"primaryKey;type:varchar(64)"`
	ProjectID   int64  `gorm:"primaryKey;autoIncrement:false"`
	CreatedAt   time.Time
}

func (ProjectMute) TableName() string { return "notification_project_mutes" }

// LegacyOptOut 旧版退订标记，仅对 GrandfatheredKinds 生效
type LegacyOptOut struct {
	RecipientID string `gorm:"primaryKey;type:varchar(64)"`
	Kind        Kind   `gorm:"primaryKey;type:varchar(64)"`
	CreatedAt   time.Time
}

func (LegacyOptOut) TableName() string { return "notification_legacy_optouts" }
