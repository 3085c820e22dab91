package models

import (
	"time"

	"github.com/google/uuid"
)

// Balance holds one running amount per user: the sum of every completed
// ledger effect actually applied. It is mutated only through atomic
// increment statements inside a ledger transaction, never read-then-written.
type Balance struct {
	UserID      uuid.UUID `gorm:"column:user_id;type:uuid;primaryKey"`
	AmountCents int64     `gorm:"column:amount_cents;not null;default:0"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
