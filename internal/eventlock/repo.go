package eventlock

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/draftline/fantasy-backend/pkg/config"
	"github.com/draftline/fantasy-backend/pkg/db"
	"github.com/draftline/fantasy-backend/pkg/db/models"
	"github.com/draftline/fantasy-backend/pkg/enums"
	pkgerrors "github.com/draftline/fantasy-backend/pkg/errors"
)

// AcquireOutcome classifies the result of an acquisition attempt.
type AcquireOutcome string

const (
	OutcomeAcquired            AcquireOutcome = "acquired"
	OutcomeAlreadyProcessed    AcquireOutcome = "already_processed"
	OutcomeAlreadyProcessing   AcquireOutcome = "already_processing"
	OutcomeMaxAttemptsExceeded AcquireOutcome = "max_attempts_exceeded"
)

// Metadata carries delivery attributes stored on the lock but not interpreted.
type Metadata struct {
	Livemode   bool
	APIVersion string
}

// Repository is the durable idempotency/lock store. Every acquisition is a
// single atomic statement against the lock row, so two concurrent acquires
// for the same event id can never both succeed. No in-memory state is
// trusted; this is what serializes processing across replicas.
type Repository struct {
	db          *gorm.DB
	staleAfter  time.Duration
	maxAttempts int
	now         func() time.Time
}

func NewRepository(conn *gorm.DB, cfg config.WebhookConfig) (*Repository, error) {
	if conn == nil {
		return nil, errors.New("db connection is required")
	}
	if cfg.LockStaleAfter <= 0 {
		return nil, errors.New("lock staleness window must be positive")
	}
	if cfg.LockMaxAttempts <= 0 {
		return nil, errors.New("lock max attempts must be positive")
	}
	return &Repository{
		db:          conn,
		staleAfter:  cfg.LockStaleAfter,
		maxAttempts: cfg.LockMaxAttempts,
		now:         time.Now,
	}, nil
}

// Acquire claims the processing lock for eventID or reports why it cannot be
// claimed. A fresh event creates the lock with attempts=1. A failed event, or
// a processing lock older than the staleness window (holder presumed dead),
// is re-claimed with a new owner token as long as attempts stay under the
// configured maximum.
func (r *Repository) Acquire(ctx context.Context, eventID, eventType string, meta Metadata) (*Handle, AcquireOutcome, error) {
	if eventID == "" {
		return nil, "", pkgerrors.New(pkgerrors.CodeValidation, "event id is required")
	}

	token := uuid.New()
	now := r.now().UTC()

	lock := models.WebhookEventLock{
		EventID:    eventID,
		EventType:  eventType,
		Status:     enums.LockStatusProcessing,
		Attempts:   1,
		OwnerToken: token,
		Livemode:   meta.Livemode,
		APIVersion: meta.APIVersion,
		AcquiredAt: now,
	}
	err := r.db.WithContext(ctx).Create(&lock).Error
	if err == nil {
		return &Handle{repo: r, EventID: eventID, OwnerToken: token, Attempts: 1}, OutcomeAcquired, nil
	}
	if !db.IsUniqueViolation(err, "") {
		return nil, "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create event lock")
	}

	// A record already exists. Try to re-claim it in one conditional update;
	// the WHERE clause is what keeps concurrent claimers from both winning.
	staleCutoff := now.Add(-r.staleAfter)
	claim := r.db.WithContext(ctx).
		Model(&models.WebhookEventLock{}).
		Where("event_id = ? AND attempts < ? AND (status = ? OR (status = ? AND acquired_at < ?))",
			eventID, r.maxAttempts, enums.LockStatusFailed, enums.LockStatusProcessing, staleCutoff).
		Updates(map[string]any{
			"status":      enums.LockStatusProcessing,
			"attempts":    gorm.Expr("attempts + 1"),
			"owner_token": token,
			"acquired_at": now,
		})
	if claim.Error != nil {
		return nil, "", pkgerrors.Wrap(pkgerrors.CodeDependency, claim.Error, "claim event lock")
	}
	if claim.RowsAffected == 1 {
		existing, err := r.FindByEventID(ctx, eventID)
		if err != nil {
			return nil, "", err
		}
		return &Handle{repo: r, EventID: eventID, OwnerToken: token, Attempts: existing.Attempts}, OutcomeAcquired, nil
	}

	existing, err := r.FindByEventID(ctx, eventID)
	if err != nil {
		return nil, "", err
	}
	switch {
	case existing.Status == enums.LockStatusProcessed:
		return nil, OutcomeAlreadyProcessed, nil
	case existing.Attempts >= r.maxAttempts:
		return nil, OutcomeMaxAttemptsExceeded, nil
	default:
		// Either a live holder or a concurrent claimer that beat us.
		return nil, OutcomeAlreadyProcessing, nil
	}
}

// FindByEventID loads the lock record for an event id.
func (r *Repository) FindByEventID(ctx context.Context, eventID string) (*models.WebhookEventLock, error) {
	var lock models.WebhookEventLock
	if err := r.db.WithContext(ctx).First(&lock, "event_id = ?", eventID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "event lock not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load event lock")
	}
	return &lock, nil
}

// CountAbandoned reports how many failed locks have exhausted their attempts.
// Operational visibility only; these events will never be retried.
func (r *Repository) CountAbandoned(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.WebhookEventLock{}).
		Where("status = ? AND attempts >= ?", enums.LockStatusFailed, r.maxAttempts).
		Count(&count).Error
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count abandoned locks")
	}
	return count, nil
}

// Handle is a claimed lock bound to one processing attempt. Its two terminal
// operations only take effect while the attempt still owns the lock: a
// mismatched owner token means a newer attempt took over, and the update is
// silently skipped.
type Handle struct {
	repo       *Repository
	EventID    string
	OwnerToken uuid.UUID
	Attempts   int
}

// Release marks the event processed. Terminal: no further attempt will ever
// be granted the lock.
func (h *Handle) Release(ctx context.Context) error {
	res := h.repo.db.WithContext(ctx).
		Model(&models.WebhookEventLock{}).
		Where("event_id = ? AND owner_token = ? AND status = ?",
			h.EventID, h.OwnerToken, enums.LockStatusProcessing).
		Updates(map[string]any{
			"status":     enums.LockStatusProcessed,
			"last_error": nil,
		})
	if res.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "release event lock")
	}
	return nil
}

// MarkFailed records the failure reason and frees the lock for a later
// attempt, preserving the attempt count.
func (h *Handle) MarkFailed(ctx context.Context, reason string) error {
	res := h.repo.db.WithContext(ctx).
		Model(&models.WebhookEventLock{}).
		Where("event_id = ? AND owner_token = ? AND status = ?",
			h.EventID, h.OwnerToken, enums.LockStatusProcessing).
		Updates(map[string]any{
			"status":     enums.LockStatusFailed,
			"last_error": reason,
		})
	if res.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "mark event lock failed")
	}
	return nil
}
