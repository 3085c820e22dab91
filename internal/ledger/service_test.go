package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/draftline/fantasy-backend/pkg/enums"
	pkgerrors "github.com/draftline/fantasy-backend/pkg/errors"
)

type testRunner struct {
	db *gorm.DB
}

func (r *testRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	tx := r.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return tx.Error
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit().Error
}

func newTestService(t *testing.T) (*Service, *Repository) {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err, "open sqlite")

	transactions := `
CREATE TABLE IF NOT EXISTS transactions (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  type TEXT NOT NULL,
  status TEXT NOT NULL,
  amount_cents INTEGER NOT NULL,
  currency TEXT NOT NULL,
  payment_intent_id TEXT UNIQUE,
  transfer_id TEXT UNIQUE,
  refund_id TEXT UNIQUE,
  original_transaction_id TEXT UNIQUE,
  payment_label TEXT,
  failure_reason TEXT,
  voucher_url TEXT,
  expires_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);`
	balances := `
CREATE TABLE IF NOT EXISTS balances (
  user_id TEXT PRIMARY KEY,
  amount_cents INTEGER NOT NULL DEFAULT 0,
  updated_at DATETIME
);`
	require.NoError(t, conn.Exec(transactions).Error, "create transactions table")
	require.NoError(t, conn.Exec(balances).Error, "create balances table")

	repo := NewRepository(conn)
	svc, err := NewService(repo, &testRunner{db: conn})
	require.NoError(t, err, "new service")
	return svc, repo
}

func TestSettleDeposit_CreditsExactlyOnce(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	userID := uuid.New()
	intentID := "pi_" + uuid.NewString()

	params := DepositParams{
		UserID:          userID,
		PaymentIntentID: intentID,
		AmountCents:     5000,
		Currency:        enums.CurrencyUSD,
	}

	applied, err := svc.SettleDeposit(ctx, params)
	require.NoError(t, err)
	require.True(t, applied, "first settlement applies")

	// Redelivery of the same logical event must be a no-op.
	applied, err = svc.SettleDeposit(ctx, params)
	require.NoError(t, err)
	require.False(t, applied, "second settlement short-circuits")

	balance, err := svc.Balance(ctx, userID)
	require.NoError(t, err)
	require.Equal(t, int64(5000), balance)

	txn, err := repo.FindTransactionByPaymentIntentID(ctx, intentID)
	require.NoError(t, err)
	require.NotNil(t, txn)
	require.Equal(t, enums.TransactionStatusCompleted, txn.Status)
	require.Equal(t, enums.TransactionTypeDeposit, txn.Type)
	require.Equal(t, int64(5000), txn.AmountCents)
}

func TestSettleDeposit_CompletesPendingVoucherDeposit(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	userID := uuid.New()
	intentID := "pi_" + uuid.NewString()
	voucherURL := "https://payments.example.com/voucher/123"
	expires := time.Now().Add(72 * time.Hour).UTC()

	err := svc.UpsertPendingDeposit(ctx, DepositParams{
		UserID:          userID,
		PaymentIntentID: intentID,
		AmountCents:     3000,
		Currency:        enums.CurrencyMXN,
		VoucherURL:      &voucherURL,
		ExpiresAt:       &expires,
	})
	require.NoError(t, err)

	balance, err := svc.Balance(ctx, userID)
	require.NoError(t, err)
	require.Zero(t, balance, "pending deposits never credit")

	applied, err := svc.SettleDeposit(ctx, DepositParams{
		UserID:          userID,
		PaymentIntentID: intentID,
		AmountCents:     3000,
		Currency:        enums.CurrencyMXN,
	})
	require.NoError(t, err)
	require.True(t, applied)

	txn, err := repo.FindTransactionByPaymentIntentID(ctx, intentID)
	require.NoError(t, err)
	require.Equal(t, enums.TransactionStatusCompleted, txn.Status)
	require.NotNil(t, txn.VoucherURL, "voucher details survive settlement")

	// A late pending redelivery must not reopen the completed deposit.
	err = svc.UpsertPendingDeposit(ctx, DepositParams{
		UserID:          userID,
		PaymentIntentID: intentID,
		AmountCents:     3000,
		Currency:        enums.CurrencyMXN,
	})
	require.NoError(t, err)
	txn, err = repo.FindTransactionByPaymentIntentID(ctx, intentID)
	require.NoError(t, err)
	require.Equal(t, enums.TransactionStatusCompleted, txn.Status)
}

func TestFailDeposit_NeverTouchesBalance(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	userID := uuid.New()
	intentID := "pi_" + uuid.NewString()
	reason := "card_declined"

	updated, err := svc.FailDeposit(ctx, DepositParams{
		UserID:          userID,
		PaymentIntentID: intentID,
		AmountCents:     1500,
		Currency:        enums.CurrencyUSD,
		FailureReason:   &reason,
	})
	require.NoError(t, err)
	require.True(t, updated)

	balance, err := svc.Balance(ctx, userID)
	require.NoError(t, err)
	require.Zero(t, balance)

	txn, err := repo.FindTransactionByPaymentIntentID(ctx, intentID)
	require.NoError(t, err)
	require.Equal(t, enums.TransactionStatusFailed, txn.Status)
	require.Equal(t, "card_declined", *txn.FailureReason)
}

func TestWithdrawalLifecycle_NetZeroAfterFailure(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	userID := uuid.New()
	transferID := "tr_" + uuid.NewString()

	// Seed a funded account.
	_, err := svc.SettleDeposit(ctx, DepositParams{
		UserID:          userID,
		PaymentIntentID: "pi_" + uuid.NewString(),
		AmountCents:     10000,
		Currency:        enums.CurrencyUSD,
	})
	require.NoError(t, err)

	applied, err := svc.CreateWithdrawal(ctx, WithdrawalParams{
		UserID:      userID,
		TransferID:  transferID,
		AmountCents: 2000,
		Currency:    enums.CurrencyUSD,
	})
	require.NoError(t, err)
	require.True(t, applied)

	balance, err := svc.Balance(ctx, userID)
	require.NoError(t, err)
	require.Equal(t, int64(8000), balance, "withdrawal debits the balance")

	// Duplicate delivery of transfer.created is a no-op.
	applied, err = svc.CreateWithdrawal(ctx, WithdrawalParams{
		UserID:      userID,
		TransferID:  transferID,
		AmountCents: 2000,
		Currency:    enums.CurrencyUSD,
	})
	require.NoError(t, err)
	require.False(t, applied)

	reason := "account_closed"
	restored, err := svc.FailWithdrawal(ctx, WithdrawalParams{
		TransferID:    transferID,
		FailureReason: &reason,
	})
	require.NoError(t, err)
	require.True(t, restored)

	balance, err = svc.Balance(ctx, userID)
	require.NoError(t, err)
	require.Equal(t, int64(10000), balance, "failed transfer restores the balance")

	txn, err := repo.FindTransactionByTransferID(ctx, transferID)
	require.NoError(t, err)
	require.Equal(t, enums.TransactionStatusFailed, txn.Status)
	require.Equal(t, int64(-2000), txn.AmountCents)

	// Redelivered failure must not restore twice.
	restored, err = svc.FailWithdrawal(ctx, WithdrawalParams{TransferID: transferID})
	require.NoError(t, err)
	require.False(t, restored)
	balance, err = svc.Balance(ctx, userID)
	require.NoError(t, err)
	require.Equal(t, int64(10000), balance)
}

func TestFailWithdrawal_UnknownTransferIsHardFailure(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.FailWithdrawal(context.Background(), WithdrawalParams{TransferID: "tr_missing"})
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	require.Equal(t, pkgerrors.CodeNotFound, typed.Code())
}

func TestRefundDeposit_NoDoubleRefund(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	userID := uuid.New()
	intentID := "pi_" + uuid.NewString()
	refundID := "re_" + uuid.NewString()

	_, err := svc.SettleDeposit(ctx, DepositParams{
		UserID:          userID,
		PaymentIntentID: intentID,
		AmountCents:     5000,
		Currency:        enums.CurrencyUSD,
	})
	require.NoError(t, err)

	params := RefundParams{
		PaymentIntentID: intentID,
		RefundID:        &refundID,
		AmountCents:     5000,
		Currency:        enums.CurrencyUSD,
	}

	applied, original, err := svc.RefundDeposit(ctx, params)
	require.NoError(t, err)
	require.True(t, applied)
	require.NotNil(t, original)
	require.Equal(t, userID, original.UserID)

	applied, _, err = svc.RefundDeposit(ctx, params)
	require.NoError(t, err)
	require.False(t, applied, "second refund delivery short-circuits")

	balance, err := svc.Balance(ctx, userID)
	require.NoError(t, err)
	require.Zero(t, balance)

	refund, err := repo.FindRefundByOriginalID(ctx, original.ID)
	require.NoError(t, err)
	require.NotNil(t, refund)
	require.Equal(t, enums.TransactionTypeRefund, refund.Type)
	require.Equal(t, int64(-5000), refund.AmountCents)

	// Original deposit stays completed; the refund never reopens it.
	originalNow, err := repo.FindTransactionByPaymentIntentID(ctx, intentID)
	require.NoError(t, err)
	require.Equal(t, enums.TransactionStatusCompleted, originalNow.Status)
}

func TestRefundDeposit_FailedInsertRollsBackDebit(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	refundID := "re_" + uuid.NewString()

	firstUser := uuid.New()
	firstIntent := "pi_" + uuid.NewString()
	_, err := svc.SettleDeposit(ctx, DepositParams{
		UserID:          firstUser,
		PaymentIntentID: firstIntent,
		AmountCents:     2000,
		Currency:        enums.CurrencyUSD,
	})
	require.NoError(t, err)

	secondUser := uuid.New()
	secondIntent := "pi_" + uuid.NewString()
	_, err = svc.SettleDeposit(ctx, DepositParams{
		UserID:          secondUser,
		PaymentIntentID: secondIntent,
		AmountCents:     5000,
		Currency:        enums.CurrencyUSD,
	})
	require.NoError(t, err)

	applied, _, err := svc.RefundDeposit(ctx, RefundParams{
		PaymentIntentID: firstIntent,
		RefundID:        &refundID,
		AmountCents:     2000,
		Currency:        enums.CurrencyUSD,
	})
	require.NoError(t, err)
	require.True(t, applied)

	// The second refund collides on the refund id after the balance has
	// already been debited inside the transaction; the whole unit must roll
	// back, leaving the balance untouched.
	applied, original, err := svc.RefundDeposit(ctx, RefundParams{
		PaymentIntentID: secondIntent,
		RefundID:        &refundID,
		AmountCents:     5000,
		Currency:        enums.CurrencyUSD,
	})
	require.Error(t, err)
	require.False(t, applied)

	balance, err := svc.Balance(ctx, secondUser)
	require.NoError(t, err)
	require.Equal(t, int64(5000), balance, "rolled-back refund must not debit")

	require.NotNil(t, original)
	orphan, err := repo.FindRefundByOriginalID(ctx, original.ID)
	require.NoError(t, err)
	require.Nil(t, orphan, "no refund row may survive the rollback")
}

func TestRefundDeposit_MissingOriginalIsHardFailure(t *testing.T) {
	svc, _ := newTestService(t)

	_, _, err := svc.RefundDeposit(context.Background(), RefundParams{
		PaymentIntentID: "pi_missing",
		AmountCents:     100,
		Currency:        enums.CurrencyUSD,
	})
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	require.Equal(t, pkgerrors.CodeNotFound, typed.Code())
}
