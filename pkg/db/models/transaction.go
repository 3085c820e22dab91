package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/draftline/fantasy-backend/pkg/enums"
)

// Transaction is an immutable ledger entry. Amounts are signed integer cents:
// positive entries credit the user's balance, negative entries debit it.
// At most one transaction per external correlation id (payment intent or
// transfer) may reach completed status.
type Transaction struct {
	ID                    uuid.UUID               `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	UserID                uuid.UUID               `gorm:"column:user_id;type:uuid;not null;index"`
	Type                  enums.TransactionType   `gorm:"column:type;type:transaction_type_enum;not null"`
	Status                enums.TransactionStatus `gorm:"column:status;type:transaction_status_enum;not null;default:'pending'"`
	AmountCents           int64                   `gorm:"column:amount_cents;not null"`
	Currency              enums.Currency          `gorm:"column:currency;type:text;not null;default:'USD'"`
	PaymentIntentID       *string                 `gorm:"column:payment_intent_id;uniqueIndex"`
	TransferID            *string                 `gorm:"column:transfer_id;uniqueIndex"`
	RefundID              *string                 `gorm:"column:refund_id;uniqueIndex"`
	OriginalTransactionID *uuid.UUID              `gorm:"column:original_transaction_id;type:uuid;uniqueIndex"`
	PaymentLabel          *string                 `gorm:"column:payment_label"`
	FailureReason         *string                 `gorm:"column:failure_reason"`
	VoucherURL            *string                 `gorm:"column:voucher_url"`
	ExpiresAt             *time.Time              `gorm:"column:expires_at"`
	CreatedAt             time.Time               `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt             time.Time               `gorm:"column:updated_at;autoUpdateTime"`
}
