package model

import "time"

// 终态结果；Outcome 为空表示仍待分发
const (
	OutcomeDelivered         = "delivered"
	OutcomeSkippedPreference = "skipped_preference"
	OutcomeSkippedDuplicate  = "skipped_duplicate"
)

// MaxLastErrorLength last_error 列的最大长度
const MaxLastErrorLength = 512

// DispatchRecord 通知外发盒，一个 (事件, 接收人) 一行。
// DispatchedAt 非空即为终态，之后不再被选取或修改。
type DispatchRecord struct {
	ID             string `gorm:"primaryKey;type:varchar(26)"`
	RecipientID    string `gorm:"type:varchar(64);not null;index:idx_outbox_recipient"`
	Kind           Kind   `gorm:"type:varchar(64);not null"`
	Module         string `gorm:"type:varchar(64)"`
	EventType      string `gorm:"type:varchar(64)"`
	ScopeType      string `gorm:"type:varchar(64)"`
	ScopeID        string `gorm:"type:varchar(128)"`
	ScopeProjectID *int64
	ActorID        *string `gorm:"type:varchar(64)"`
	Fingerprint    *string `gorm:"type:varchar(255)"`
	Route          string  `gorm:"type:varchar(512)"`
	Title          string  `gorm:"type:varchar(255)"`
	Summary        string  `gorm:"type:text"`
	Payload        string  `gorm:"type:text;not null"`
	// 选取条件 dispatched_at IS NULL AND locked_until <= now，按 created_at, id 排序
	CreatedAt    time.Time  `gorm:"not null;index:idx_outbox_due,priority:2"`
	DispatchedAt *time.Time `gorm:"index:idx_outbox_due,priority:1"`
	LockedUntil  *time.Time
	AttemptCount int     `gorm:"not null;default:0"`
	LastError    *string `gorm:"type:varchar(512)"`
	Outcome      string  `gorm:"type:varchar(32);not null;default:''"`
}

func (DispatchRecord) TableName() string { return "notification_outbox" }

// Pending reports whether the record has not reached a terminal state.
func (r *DispatchRecord) Pending() bool { return r.DispatchedAt == nil }

// FingerprintValue returns the fingerprint or "" when absent.
func (r *DispatchRecord) FingerprintValue() string {
	if r.Fingerprint == nil {
		return ""
	}
	return *r.Fingerprint
}
