package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/draftline/fantasy-backend/pkg/enums"
)

// WebhookEventLock serializes processing of a single delivered event id.
// At most one attempt may hold the lock at a time; once status reaches
// processed the event is never handled again. The owner token scopes
// release/mark-failed to the attempt that acquired the lock, so a slow
// holder that timed out cannot clobber a newer attempt's result.
type WebhookEventLock struct {
	EventID    string           `gorm:"column:event_id;primaryKey"`
	EventType  string           `gorm:"column:event_type;not null"`
	Status     enums.LockStatus `gorm:"column:status;type:lock_status_enum;not null;default:'processing'"`
	Attempts   int              `gorm:"column:attempts;not null;default:1"`
	OwnerToken uuid.UUID        `gorm:"column:owner_token;type:uuid;not null"`
	LastError  *string          `gorm:"column:last_error"`
	Livemode   bool             `gorm:"column:livemode;not null;default:false"`
	APIVersion string           `gorm:"column:api_version;not null;default:''"`
	AcquiredAt time.Time        `gorm:"column:acquired_at;not null"`
	CreatedAt  time.Time        `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time        `gorm:"column:updated_at;autoUpdateTime"`
}
