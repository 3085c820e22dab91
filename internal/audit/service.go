package audit

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/draftline/fantasy-backend/pkg/db/models"
	"github.com/draftline/fantasy-backend/pkg/enums"
	pkgerrors "github.com/draftline/fantasy-backend/pkg/errors"
)

// Event kinds recorded by webhook processing.
const (
	KindDepositCompleted  = "deposit.completed"
	KindDepositFailed     = "deposit.failed"
	KindDepositPending    = "deposit.pending"
	KindDepositProcessing = "deposit.processing"
	KindWithdrawalCreated = "withdrawal.created"
	KindWithdrawalFailed  = "withdrawal.failed"
	KindAccountUpdated    = "account.capabilities_updated"
	KindDisputeOpened     = "dispute.opened"
	KindDepositRefunded   = "deposit.refunded"
)

// Service appends audit rows for money-relevant actions. Rows are never
// updated or deleted after insert.
type Service struct {
	db *gorm.DB
}

// NewService wires the audit sink.
func NewService(db *gorm.DB) (*Service, error) {
	if db == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "audit db handle required")
	}
	return &Service{db: db}, nil
}

// Record appends one audit entry. userID may be nil for platform-level
// events. metadata is marshaled to JSON; a nil map writes a null column.
func (s *Service) Record(ctx context.Context, userID *uuid.UUID, eventKind string, severity enums.AuditSeverity, metadata map[string]any) error {
	if eventKind == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "audit event kind is required")
	}
	if !severity.IsValid() {
		severity = enums.AuditSeverityInfo
	}

	var payload json.RawMessage
	if len(metadata) > 0 {
		encoded, err := json.Marshal(metadata)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode audit metadata")
		}
		payload = encoded
	}

	entry := models.AuditLog{
		ID:        uuid.New(),
		UserID:    userID,
		EventKind: eventKind,
		Severity:  severity,
		Metadata:  payload,
	}
	if err := s.db.WithContext(ctx).Create(&entry).Error; err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "append audit entry")
	}
	return nil
}

// ListByUser returns the newest audit entries for a user, capped at limit.
func (s *Service) ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]models.AuditLog, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var entries []models.AuditLog
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list audit entries")
	}
	return entries, nil
}
