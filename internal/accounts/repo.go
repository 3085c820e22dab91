package accounts

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/draftline/fantasy-backend/pkg/db/models"
	pkgerrors "github.com/draftline/fantasy-backend/pkg/errors"
)

// Repository exposes the payment-facing slice of user persistence: trust
// flags, payout capabilities, and funding hints.
type Repository struct {
	db *gorm.DB
}

// NewRepository constructs an accounts repo bound to the provided GORM DB.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// FindByConnectAccountID resolves the user owning a processor sub-account.
// Returns nil without error when no user matches: platform-level accounts
// legitimately have no owner.
func (r *Repository) FindByConnectAccountID(ctx context.Context, accountID string) (*models.User, error) {
	if accountID == "" {
		return nil, nil
	}
	var user models.User
	err := r.db.WithContext(ctx).First(&user, "connect_account_id = ?", accountID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load user by connect account")
	}
	return &user, nil
}

// SetPaymentFlagged marks the account as payment-flagged with a reason and
// timestamp. Payout-initiation logic reads this flag to gate withdrawals.
func (r *Repository) SetPaymentFlagged(ctx context.Context, userID uuid.UUID, reason string, at time.Time) error {
	err := r.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ?", userID).
		Updates(map[string]any{
			"payment_flagged":     true,
			"payment_flag_reason": reason,
			"payment_flagged_at":  at,
		}).Error
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "flag user payments")
	}
	return nil
}

// UpdatePayoutCapabilities maps processor-reported capability flags onto the
// user's payout eligibility.
func (r *Repository) UpdatePayoutCapabilities(ctx context.Context, userID uuid.UUID, chargesEnabled, payoutsEnabled, detailsSubmitted bool) error {
	err := r.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ?", userID).
		Updates(map[string]any{
			"charges_enabled":   chargesEnabled,
			"payouts_enabled":   payoutsEnabled,
			"details_submitted": detailsSubmitted,
		}).Error
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update payout capabilities")
	}
	return nil
}

// SetLastFundingCurrency records the currency of the user's most recent
// successful deposit.
func (r *Repository) SetLastFundingCurrency(ctx context.Context, userID uuid.UUID, currency string) error {
	return r.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ?", userID).
		UpdateColumn("last_funding_currency", currency).Error
}

// SetDefaultPaymentLabel records a display label for the user's payment
// instrument, e.g. "visa ending 4242".
func (r *Repository) SetDefaultPaymentLabel(ctx context.Context, userID uuid.UUID, label string) error {
	return r.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ?", userID).
		UpdateColumn("default_payment_label", label).Error
}
