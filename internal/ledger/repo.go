package ledger

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/draftline/fantasy-backend/pkg/db"
	"github.com/draftline/fantasy-backend/pkg/db/models"
	pkgerrors "github.com/draftline/fantasy-backend/pkg/errors"
)

// Repository exposes transaction and balance persistence. Finder methods
// return (nil, nil) when no row matches so callers can distinguish "absent"
// from a store failure.
type Repository struct {
	db *gorm.DB
}

// NewRepository constructs a ledger repo bound to the provided GORM DB.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithTx returns a repo bound to the supplied transaction handle.
func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	if tx == nil {
		return r
	}
	return &Repository{db: tx}
}

// FindTransactionByPaymentIntentID loads the transaction correlated to a
// payment intent.
func (r *Repository) FindTransactionByPaymentIntentID(ctx context.Context, paymentIntentID string) (*models.Transaction, error) {
	return r.findTransaction(ctx, "payment_intent_id = ?", paymentIntentID)
}

// FindTransactionByTransferID loads the transaction correlated to a payout
// transfer.
func (r *Repository) FindTransactionByTransferID(ctx context.Context, transferID string) (*models.Transaction, error) {
	return r.findTransaction(ctx, "transfer_id = ?", transferID)
}

// FindRefundByOriginalID loads the refund transaction spawned by an original
// deposit, if any.
func (r *Repository) FindRefundByOriginalID(ctx context.Context, originalID uuid.UUID) (*models.Transaction, error) {
	return r.findTransaction(ctx, "original_transaction_id = ?", originalID)
}

func (r *Repository) findTransaction(ctx context.Context, query string, arg any) (*models.Transaction, error) {
	var txn models.Transaction
	err := r.db.WithContext(ctx).First(&txn, query, arg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load transaction")
	}
	return &txn, nil
}

// CreateTransaction inserts a new ledger entry. The id is generated here so
// refund entries can reference their original before the insert returns.
func (r *Repository) CreateTransaction(ctx context.Context, txn *models.Transaction) error {
	if txn.ID == uuid.Nil {
		txn.ID = uuid.New()
	}
	if err := r.db.WithContext(ctx).Create(txn).Error; err != nil {
		if db.IsUniqueViolation(err, "") {
			return pkgerrors.Wrap(pkgerrors.CodeConflict, err, "transaction already recorded for correlation id")
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create transaction")
	}
	return nil
}

// UpdateTransaction persists mutations to an existing ledger entry.
func (r *Repository) UpdateTransaction(ctx context.Context, txn *models.Transaction) error {
	if err := r.db.WithContext(ctx).Save(txn).Error; err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update transaction")
	}
	return nil
}

// AddToBalance applies a signed delta to the user's running balance as a
// single increment statement; the row is created on first touch. Callers
// never read-then-write the balance outside this method.
func (r *Repository) AddToBalance(ctx context.Context, userID uuid.UUID, deltaCents int64) error {
	res := r.db.WithContext(ctx).
		Model(&models.Balance{}).
		Where("user_id = ?", userID).
		UpdateColumn("amount_cents", gorm.Expr("amount_cents + ?", deltaCents))
	if res.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "increment balance")
	}
	if res.RowsAffected > 0 {
		return nil
	}

	err := r.db.WithContext(ctx).Create(&models.Balance{UserID: userID, AmountCents: deltaCents}).Error
	if err == nil {
		return nil
	}
	if !db.IsUniqueViolation(err, "") {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create balance row")
	}
	// Lost the creation race; the row exists now, increment it.
	res = r.db.WithContext(ctx).
		Model(&models.Balance{}).
		Where("user_id = ?", userID).
		UpdateColumn("amount_cents", gorm.Expr("amount_cents + ?", deltaCents))
	if res.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "increment balance")
	}
	return nil
}

// GetBalance returns the user's current balance in cents (zero when the row
// does not exist yet).
func (r *Repository) GetBalance(ctx context.Context, userID uuid.UUID) (int64, error) {
	var balance models.Balance
	err := r.db.WithContext(ctx).First(&balance, "user_id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load balance")
	}
	return balance.AmountCents, nil
}
