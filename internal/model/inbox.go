package model

import "time"

// Notification 接收人可见的通知（按 recipient_id 查询）
type Notification struct {
	ID          string `gorm:"primaryKey;type:varchar(26)"`
	RecipientID string `gorm:"type:varchar(64);not null;uniqueIndex:ux_notifications_recipient_fingerprint;index:idx_notifications_recipient_created"`
	// 复合唯一键，同一接收人同一指纹最多一条；NULL 指纹互不冲突
	// ux_notifications_recipient_fingerprint = (recipient_id, fingerprint)
	Fingerprint      *string `gorm:"type:varchar(255);uniqueIndex:ux_notifications_recipient_fingerprint"`
	Kind             Kind    `gorm:"type:varchar(64);not null"`
	Module           string  `gorm:"type:varchar(64)"`
	EventType        string  `gorm:"type:varchar(64)"`
	ScopeType        string  `gorm:"type:varchar(64)"`
	ScopeID          string  `gorm:"type:varchar(128)"`
	ScopeProjectID   *int64
	ActorID          *string   `gorm:"type:varchar(64)"`
	Route            string    `gorm:"type:varchar(512)"`
	Title            string    `gorm:"type:varchar(255)"`
	Summary          string    `gorm:"type:text"`
	CreatedAt        time.Time `gorm:"not null;index;index:idx_notifications_recipient_created"`
	SeenAt           *time.Time
	ReadAt           *time.Time
	DispatchRecordID string `gorm:"type:varchar(26);not null;index"`
}

func (Notification) TableName() string { return "notifications" }
