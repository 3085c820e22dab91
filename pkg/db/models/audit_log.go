package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/draftline/fantasy-backend/pkg/enums"
)

// AuditLog records a security or money-relevant action. Rows are append-only.
type AuditLog struct {
	ID        uuid.UUID           `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	UserID    *uuid.UUID          `gorm:"column:user_id;type:uuid;index"`
	EventKind string              `gorm:"column:event_kind;not null;index"`
	Severity  enums.AuditSeverity `gorm:"column:severity;type:audit_severity_enum;not null;default:'info'"`
	Metadata  json.RawMessage     `gorm:"column:metadata;type:jsonb"`
	CreatedAt time.Time           `gorm:"column:created_at;autoCreateTime"`
}
