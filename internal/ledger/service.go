package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/draftline/fantasy-backend/pkg/db/models"
	"github.com/draftline/fantasy-backend/pkg/enums"
	pkgerrors "github.com/draftline/fantasy-backend/pkg/errors"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service owns every balance-affecting mutation. Each public method runs as
// one database transaction, so a crash mid-operation can never leave a
// balance moved without its ledger entry or vice versa. Every method also
// re-checks the correlated transaction's status before mutating: the caller's
// event lock already serializes processing, but a stale lock holder may be
// re-run after a crash, and the status check is what keeps that second run
// from double-applying.
type Service struct {
	repo   *Repository
	runner txRunner
}

// NewService wires the ledger service.
func NewService(repo *Repository, runner txRunner) (*Service, error) {
	if repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "ledger repo required")
	}
	if runner == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	return &Service{repo: repo, runner: runner}, nil
}

// DepositParams describes a deposit mutation keyed by payment intent.
type DepositParams struct {
	UserID          uuid.UUID
	PaymentIntentID string
	AmountCents     int64
	Currency        enums.Currency
	PaymentLabel    *string
	FailureReason   *string
	VoucherURL      *string
	ExpiresAt       *time.Time
}

// SettleDeposit moves the deposit for the payment intent to completed and
// credits the user's balance, exactly once. Returns false when the deposit
// already completed (or otherwise reached a terminal status) and nothing was
// applied.
func (s *Service) SettleDeposit(ctx context.Context, p DepositParams) (bool, error) {
	if p.PaymentIntentID == "" {
		return false, pkgerrors.New(pkgerrors.CodeValidation, "payment intent id is required")
	}
	if p.AmountCents <= 0 {
		return false, pkgerrors.New(pkgerrors.CodeValidation, "deposit amount must be positive")
	}

	applied := false
	err := s.runner.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		existing, err := repo.FindTransactionByPaymentIntentID(ctx, p.PaymentIntentID)
		if err != nil {
			return err
		}
		if existing != nil && existing.Status.IsTerminal() {
			return nil
		}

		if existing == nil {
			txn := &models.Transaction{
				UserID:          p.UserID,
				Type:            enums.TransactionTypeDeposit,
				Status:          enums.TransactionStatusCompleted,
				AmountCents:     p.AmountCents,
				Currency:        p.Currency,
				PaymentIntentID: &p.PaymentIntentID,
				PaymentLabel:    p.PaymentLabel,
			}
			if err := repo.CreateTransaction(ctx, txn); err != nil {
				return err
			}
		} else {
			existing.Status = enums.TransactionStatusCompleted
			existing.AmountCents = p.AmountCents
			existing.Currency = p.Currency
			if p.PaymentLabel != nil {
				existing.PaymentLabel = p.PaymentLabel
			}
			if err := repo.UpdateTransaction(ctx, existing); err != nil {
				return err
			}
		}

		if err := repo.AddToBalance(ctx, p.UserID, p.AmountCents); err != nil {
			return err
		}
		applied = true
		return nil
	})
	return applied, err
}

// FailDeposit marks the deposit failed with the processor's error message.
// Failed payments never touch the balance. A deposit already terminal is
// left untouched; a deposit never seen before is recorded directly as failed.
func (s *Service) FailDeposit(ctx context.Context, p DepositParams) (bool, error) {
	if p.PaymentIntentID == "" {
		return false, pkgerrors.New(pkgerrors.CodeValidation, "payment intent id is required")
	}

	updated := false
	err := s.runner.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		existing, err := repo.FindTransactionByPaymentIntentID(ctx, p.PaymentIntentID)
		if err != nil {
			return err
		}
		if existing != nil && existing.Status.IsTerminal() {
			return nil
		}
		if existing == nil {
			txn := &models.Transaction{
				UserID:          p.UserID,
				Type:            enums.TransactionTypeDeposit,
				Status:          enums.TransactionStatusFailed,
				AmountCents:     p.AmountCents,
				Currency:        p.Currency,
				PaymentIntentID: &p.PaymentIntentID,
				FailureReason:   p.FailureReason,
			}
			if err := repo.CreateTransaction(ctx, txn); err != nil {
				return err
			}
		} else {
			existing.Status = enums.TransactionStatusFailed
			existing.FailureReason = p.FailureReason
			if err := repo.UpdateTransaction(ctx, existing); err != nil {
				return err
			}
		}
		updated = true
		return nil
	})
	return updated, err
}

// UpsertPendingDeposit records an offline-action deposit (voucher
// instruments) in pending status, carrying the voucher URL and expiry.
// Never touches the balance and never downgrades a terminal status.
func (s *Service) UpsertPendingDeposit(ctx context.Context, p DepositParams) error {
	return s.upsertNonTerminalDeposit(ctx, p, enums.TransactionStatusPending)
}

// UpsertProcessingDeposit records a slow-settlement deposit in processing
// status. Never touches the balance.
func (s *Service) UpsertProcessingDeposit(ctx context.Context, p DepositParams) error {
	return s.upsertNonTerminalDeposit(ctx, p, enums.TransactionStatusProcessing)
}

func (s *Service) upsertNonTerminalDeposit(ctx context.Context, p DepositParams, status enums.TransactionStatus) error {
	if p.PaymentIntentID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "payment intent id is required")
	}

	return s.runner.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		existing, err := repo.FindTransactionByPaymentIntentID(ctx, p.PaymentIntentID)
		if err != nil {
			return err
		}
		if existing != nil && existing.Status.IsTerminal() {
			return nil
		}
		if existing == nil {
			txn := &models.Transaction{
				UserID:          p.UserID,
				Type:            enums.TransactionTypeDeposit,
				Status:          status,
				AmountCents:     p.AmountCents,
				Currency:        p.Currency,
				PaymentIntentID: &p.PaymentIntentID,
				VoucherURL:      p.VoucherURL,
				ExpiresAt:       p.ExpiresAt,
			}
			return repo.CreateTransaction(ctx, txn)
		}

		existing.Status = status
		if p.VoucherURL != nil {
			existing.VoucherURL = p.VoucherURL
		}
		if p.ExpiresAt != nil {
			existing.ExpiresAt = p.ExpiresAt
		}
		return repo.UpdateTransaction(ctx, existing)
	})
}

// WithdrawalParams describes a payout mutation keyed by transfer id.
type WithdrawalParams struct {
	UserID        uuid.UUID
	TransferID    string
	AmountCents   int64
	Currency      enums.Currency
	FailureReason *string
}

// CreateWithdrawal debits the balance and records the withdrawal as one
// atomic unit. The recorded amount is negative (a debit). Returns false when
// a transaction for the transfer already exists and nothing was applied.
func (s *Service) CreateWithdrawal(ctx context.Context, p WithdrawalParams) (bool, error) {
	if p.TransferID == "" {
		return false, pkgerrors.New(pkgerrors.CodeValidation, "transfer id is required")
	}
	if p.AmountCents <= 0 {
		return false, pkgerrors.New(pkgerrors.CodeValidation, "withdrawal amount must be positive")
	}

	applied := false
	err := s.runner.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		existing, err := repo.FindTransactionByTransferID(ctx, p.TransferID)
		if err != nil {
			return err
		}
		if existing != nil {
			return nil
		}

		if err := repo.AddToBalance(ctx, p.UserID, -p.AmountCents); err != nil {
			return err
		}
		txn := &models.Transaction{
			UserID:      p.UserID,
			Type:        enums.TransactionTypeWithdrawal,
			Status:      enums.TransactionStatusCompleted,
			AmountCents: -p.AmountCents,
			Currency:    p.Currency,
			TransferID:  &p.TransferID,
		}
		if err := repo.CreateTransaction(ctx, txn); err != nil {
			return err
		}
		applied = true
		return nil
	})
	return applied, err
}

// FailWithdrawal restores the debited balance and marks the withdrawal
// failed, atomically. The transfer's transaction must exist: money already
// left the ledger accounting, so an unmatched failure is unsafe to drop.
func (s *Service) FailWithdrawal(ctx context.Context, p WithdrawalParams) (bool, error) {
	if p.TransferID == "" {
		return false, pkgerrors.New(pkgerrors.CodeValidation, "transfer id is required")
	}

	restored := false
	err := s.runner.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		existing, err := repo.FindTransactionByTransferID(ctx, p.TransferID)
		if err != nil {
			return err
		}
		if existing == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound,
				fmt.Sprintf("no withdrawal recorded for transfer %s", p.TransferID))
		}
		if existing.Status == enums.TransactionStatusFailed {
			return nil
		}

		// The stored amount is the signed debit; adding it back restores
		// the balance.
		if err := repo.AddToBalance(ctx, existing.UserID, -existing.AmountCents); err != nil {
			return err
		}
		existing.Status = enums.TransactionStatusFailed
		existing.FailureReason = p.FailureReason
		if err := repo.UpdateTransaction(ctx, existing); err != nil {
			return err
		}
		restored = true
		return nil
	})
	return restored, err
}

// RefundParams describes a refund keyed by the original deposit's payment
// intent.
type RefundParams struct {
	PaymentIntentID string
	RefundID        *string
	AmountCents     int64
	Currency        enums.Currency
}

// RefundDeposit debits the balance by the refunded amount and records a
// refund transaction referencing the original deposit. The original's status
// is never reopened. Returns the original transaction, plus false when the
// refund was already applied.
func (s *Service) RefundDeposit(ctx context.Context, p RefundParams) (bool, *models.Transaction, error) {
	if p.PaymentIntentID == "" {
		return false, nil, pkgerrors.New(pkgerrors.CodeValidation, "payment intent id is required")
	}
	if p.AmountCents <= 0 {
		return false, nil, pkgerrors.New(pkgerrors.CodeValidation, "refund amount must be positive")
	}

	applied := false
	var original *models.Transaction
	err := s.runner.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		found, err := repo.FindTransactionByPaymentIntentID(ctx, p.PaymentIntentID)
		if err != nil {
			return err
		}
		if found == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound,
				fmt.Sprintf("no transaction recorded for payment intent %s", p.PaymentIntentID))
		}
		original = found

		existingRefund, err := repo.FindRefundByOriginalID(ctx, found.ID)
		if err != nil {
			return err
		}
		if existingRefund != nil {
			return nil
		}

		if err := repo.AddToBalance(ctx, found.UserID, -p.AmountCents); err != nil {
			return err
		}
		refund := &models.Transaction{
			UserID:                found.UserID,
			Type:                  enums.TransactionTypeRefund,
			Status:                enums.TransactionStatusCompleted,
			AmountCents:           -p.AmountCents,
			Currency:              p.Currency,
			RefundID:              p.RefundID,
			OriginalTransactionID: &found.ID,
		}
		if err := repo.CreateTransaction(ctx, refund); err != nil {
			return err
		}
		applied = true
		return nil
	})
	return applied, original, err
}

// FindDepositByPaymentIntentID resolves the transaction correlated to a
// payment intent outside any mutation. Used by dispute handling to identify
// the owning user.
func (s *Service) FindDepositByPaymentIntentID(ctx context.Context, paymentIntentID string) (*models.Transaction, error) {
	return s.repo.FindTransactionByPaymentIntentID(ctx, paymentIntentID)
}

// Balance returns the user's current balance in cents.
func (s *Service) Balance(ctx context.Context, userID uuid.UUID) (int64, error) {
	return s.repo.GetBalance(ctx, userID)
}
