package models

import (
	"time"

	"github.com/google/uuid"
)

// User represents the canonical identity entity. Only the payment-facing
// columns live here; profile data is owned by other services.
type User struct {
	ID                  uuid.UUID  `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	Email               string     `gorm:"type:text;not null;uniqueIndex"`
	Username            string     `gorm:"type:text;not null;uniqueIndex"`
	StripeCustomerID    *string    `gorm:"column:stripe_customer_id;uniqueIndex"`
	ConnectAccountID    *string    `gorm:"column:connect_account_id;uniqueIndex"`
	PaymentFlagged      bool       `gorm:"column:payment_flagged;not null;default:false"`
	PaymentFlagReason   *string    `gorm:"column:payment_flag_reason"`
	PaymentFlaggedAt    *time.Time `gorm:"column:payment_flagged_at"`
	ChargesEnabled      bool       `gorm:"column:charges_enabled;not null;default:false"`
	PayoutsEnabled      bool       `gorm:"column:payouts_enabled;not null;default:false"`
	DetailsSubmitted    bool       `gorm:"column:details_submitted;not null;default:false"`
	LastFundingCurrency *string    `gorm:"column:last_funding_currency"`
	DefaultPaymentLabel *string    `gorm:"column:default_payment_label"`
	CreatedAt           time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt           time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}
