package stripewebhook

import (
	"context"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"

	"github.com/draftline/fantasy-backend/internal/audit"
	"github.com/draftline/fantasy-backend/internal/ledger"
	"github.com/draftline/fantasy-backend/pkg/enums"
)

// handleTransferCreated records a payout leaving the platform: one atomic
// unit debits the balance and creates the withdrawal entry, so a crash can
// never strand a debit without its record.
func (p *Processor) handleTransferCreated(ctx context.Context, event *stripe.Event) ([]string, error) {
	var transfer stripe.Transfer
	if err := decodePayload(event, &transfer); err != nil {
		return nil, err
	}
	userID, err := userIDFromMetadata(transfer.Metadata)
	if err != nil {
		return nil, err
	}
	currency, err := currencyFromProcessor(transfer.Currency)
	if err != nil {
		return nil, err
	}

	applied, err := p.ledger.CreateWithdrawal(ctx, ledger.WithdrawalParams{
		UserID:      userID,
		TransferID:  transfer.ID,
		AmountCents: transfer.Amount,
		Currency:    currency,
	})
	if err != nil {
		return nil, err
	}
	if !applied {
		return []string{ActionAlreadyProcessed}, nil
	}

	if auditErr := p.audit.Record(ctx, &userID, audit.KindWithdrawalCreated, enums.AuditSeverityInfo, map[string]any{
		"transfer_id":  transfer.ID,
		"amount_cents": transfer.Amount,
		"currency":     string(currency),
	}); auditErr != nil {
		p.logg.Warn(ctx, "audit withdrawal: "+auditErr.Error())
	}
	return []string{ActionBalanceDebited, ActionWithdrawalCreated}, nil
}

// handleTransferFailed restores the debited balance and marks the withdrawal
// failed. This is money that left the ledger accounting but not the real
// world, so the audit entry is critical and an unmatched transfer id is a
// hard failure rather than a silent drop.
func (p *Processor) handleTransferFailed(ctx context.Context, event *stripe.Event) ([]string, error) {
	var transfer stripe.Transfer
	if err := decodePayload(event, &transfer); err != nil {
		return nil, err
	}

	reason := string(event.Type)
	restored, err := p.ledger.FailWithdrawal(ctx, ledger.WithdrawalParams{
		TransferID:    transfer.ID,
		FailureReason: &reason,
	})
	if err != nil {
		return nil, err
	}
	if !restored {
		return []string{ActionAlreadyProcessed}, nil
	}

	var userID *uuid.UUID
	if id, metaErr := userIDFromMetadata(transfer.Metadata); metaErr == nil {
		userID = &id
	}
	if auditErr := p.audit.Record(ctx, userID, audit.KindWithdrawalFailed, enums.AuditSeverityCritical, map[string]any{
		"transfer_id":  transfer.ID,
		"amount_cents": transfer.Amount,
	}); auditErr != nil {
		p.logg.Warn(ctx, "audit failed withdrawal: "+auditErr.Error())
	}
	return []string{ActionBalanceRestored, ActionWithdrawalFailed}, nil
}
