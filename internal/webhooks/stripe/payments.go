package stripewebhook

import (
	"context"
	"time"

	"github.com/stripe/stripe-go/v84"
	"go.uber.org/multierr"

	"github.com/draftline/fantasy-backend/internal/audit"
	"github.com/draftline/fantasy-backend/internal/ledger"
	"github.com/draftline/fantasy-backend/pkg/enums"
	pkgerrors "github.com/draftline/fantasy-backend/pkg/errors"
)

// handlePaymentSucceeded credits the payer's balance exactly once. The credit
// itself is the only step allowed to fail the handler; the instrument label,
// funding-currency hint, and audit entry degrade gracefully.
func (p *Processor) handlePaymentSucceeded(ctx context.Context, event *stripe.Event) ([]string, error) {
	var pi stripe.PaymentIntent
	if err := decodePayload(event, &pi); err != nil {
		return nil, err
	}
	userID, err := userIDFromMetadata(pi.Metadata)
	if err != nil {
		return nil, err
	}
	currency, err := currencyFromProcessor(pi.Currency)
	if err != nil {
		return nil, err
	}

	label := p.resolveInstrumentLabel(ctx, &pi)

	applied, err := p.ledger.SettleDeposit(ctx, ledger.DepositParams{
		UserID:          userID,
		PaymentIntentID: pi.ID,
		AmountCents:     depositAmount(&pi),
		Currency:        currency,
		PaymentLabel:    label,
	})
	if err != nil {
		return nil, err
	}
	if !applied {
		return []string{ActionAlreadyProcessed}, nil
	}

	var sideEffects error
	if label != nil {
		sideEffects = multierr.Append(sideEffects, p.accounts.SetDefaultPaymentLabel(ctx, userID, *label))
	}
	sideEffects = multierr.Append(sideEffects, p.accounts.SetLastFundingCurrency(ctx, userID, string(currency)))
	sideEffects = multierr.Append(sideEffects, p.audit.Record(ctx, &userID, audit.KindDepositCompleted, enums.AuditSeverityInfo, map[string]any{
		"payment_intent_id": pi.ID,
		"amount_cents":      depositAmount(&pi),
		"currency":          string(currency),
	}))
	if sideEffects != nil {
		p.logg.Warn(ctx, "deposit side effects degraded: "+sideEffects.Error())
	}

	return []string{ActionCompleted, ActionBalanceCredited}, nil
}

func (p *Processor) resolveInstrumentLabel(ctx context.Context, pi *stripe.PaymentIntent) *string {
	if p.instruments == nil || pi.LatestCharge == nil || pi.LatestCharge.ID == "" {
		return nil
	}
	label, err := p.instruments.InstrumentLabel(ctx, pi.LatestCharge.ID)
	if err != nil {
		p.logg.Warn(ctx, "resolve payment instrument label: "+err.Error())
		return nil
	}
	if label == "" {
		return nil
	}
	return &label
}

// handlePaymentFailed records the processor's failure message. Failed
// payments never touch the balance.
func (p *Processor) handlePaymentFailed(ctx context.Context, event *stripe.Event) ([]string, error) {
	var pi stripe.PaymentIntent
	if err := decodePayload(event, &pi); err != nil {
		return nil, err
	}
	userID, err := userIDFromMetadata(pi.Metadata)
	if err != nil {
		return nil, err
	}
	currency, err := currencyFromProcessor(pi.Currency)
	if err != nil {
		return nil, err
	}

	updated, err := p.ledger.FailDeposit(ctx, ledger.DepositParams{
		UserID:          userID,
		PaymentIntentID: pi.ID,
		AmountCents:     pi.Amount,
		Currency:        currency,
		FailureReason:   paymentFailureReason(&pi),
	})
	if err != nil {
		return nil, err
	}
	if !updated {
		return []string{ActionAlreadyProcessed}, nil
	}

	if auditErr := p.audit.Record(ctx, &userID, audit.KindDepositFailed, enums.AuditSeverityWarning, map[string]any{
		"payment_intent_id": pi.ID,
	}); auditErr != nil {
		p.logg.Warn(ctx, "audit deposit failure: "+auditErr.Error())
	}
	return []string{ActionTransactionFailed}, nil
}

// handlePaymentRequiresAction records an offline-instrument deposit as
// pending, carrying the voucher URL and expiry the user needs to complete it.
func (p *Processor) handlePaymentRequiresAction(ctx context.Context, event *stripe.Event) ([]string, error) {
	var pi stripe.PaymentIntent
	if err := decodePayload(event, &pi); err != nil {
		return nil, err
	}
	userID, err := userIDFromMetadata(pi.Metadata)
	if err != nil {
		return nil, err
	}
	currency, err := currencyFromProcessor(pi.Currency)
	if err != nil {
		return nil, err
	}

	voucherURL, expiresAt := voucherDetails(&pi)
	if err := p.ledger.UpsertPendingDeposit(ctx, ledger.DepositParams{
		UserID:          userID,
		PaymentIntentID: pi.ID,
		AmountCents:     pi.Amount,
		Currency:        currency,
		VoucherURL:      voucherURL,
		ExpiresAt:       expiresAt,
	}); err != nil {
		return nil, err
	}

	if auditErr := p.audit.Record(ctx, &userID, audit.KindDepositPending, enums.AuditSeverityInfo, map[string]any{
		"payment_intent_id": pi.ID,
	}); auditErr != nil {
		p.logg.Warn(ctx, "audit pending deposit: "+auditErr.Error())
	}
	return []string{ActionVoucherRecorded}, nil
}

// handlePaymentProcessing records a slow-settlement deposit in processing
// status; the later succeeded or failed event settles it.
func (p *Processor) handlePaymentProcessing(ctx context.Context, event *stripe.Event) ([]string, error) {
	var pi stripe.PaymentIntent
	if err := decodePayload(event, &pi); err != nil {
		return nil, err
	}
	userID, err := userIDFromMetadata(pi.Metadata)
	if err != nil {
		return nil, err
	}
	currency, err := currencyFromProcessor(pi.Currency)
	if err != nil {
		return nil, err
	}

	if err := p.ledger.UpsertProcessingDeposit(ctx, ledger.DepositParams{
		UserID:          userID,
		PaymentIntentID: pi.ID,
		AmountCents:     pi.Amount,
		Currency:        currency,
	}); err != nil {
		return nil, err
	}

	if auditErr := p.audit.Record(ctx, &userID, audit.KindDepositProcessing, enums.AuditSeverityInfo, map[string]any{
		"payment_intent_id": pi.ID,
	}); auditErr != nil {
		p.logg.Warn(ctx, "audit processing deposit: "+auditErr.Error())
	}
	return []string{ActionProcessing}, nil
}

// handleDisputeCreated flags the disputed payer's account. The owning user is
// resolved through the ledger, and a missing match is a hard failure: it is
// unsafe to silently drop a dispute.
func (p *Processor) handleDisputeCreated(ctx context.Context, event *stripe.Event) ([]string, error) {
	var dispute stripe.Dispute
	if err := decodePayload(event, &dispute); err != nil {
		return nil, err
	}
	if dispute.PaymentIntent == nil || dispute.PaymentIntent.ID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeDataIntegrity, "dispute has no payment intent reference")
	}

	txn, err := p.ledger.FindDepositByPaymentIntentID(ctx, dispute.PaymentIntent.ID)
	if err != nil {
		return nil, err
	}
	if txn == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "no transaction matches the disputed payment")
	}

	reason := "dispute opened"
	if dispute.Reason != "" {
		reason = "dispute opened: " + string(dispute.Reason)
	}
	flaggedAt := time.Now().UTC()
	if event.Created > 0 {
		flaggedAt = time.Unix(event.Created, 0).UTC()
	}
	if err := p.accounts.SetPaymentFlagged(ctx, txn.UserID, reason, flaggedAt); err != nil {
		return nil, err
	}

	if auditErr := p.audit.Record(ctx, &txn.UserID, audit.KindDisputeOpened, enums.AuditSeverityCritical, map[string]any{
		"dispute_id":        dispute.ID,
		"payment_intent_id": dispute.PaymentIntent.ID,
		"amount_cents":      dispute.Amount,
		"reason":            string(dispute.Reason),
	}); auditErr != nil {
		p.logg.Warn(ctx, "audit dispute: "+auditErr.Error())
	}
	return []string{ActionAccountFlagged}, nil
}

// handleChargeRefunded debits the refunded amount and records a refund entry
// referencing the original deposit. The original transaction must exist.
func (p *Processor) handleChargeRefunded(ctx context.Context, event *stripe.Event) ([]string, error) {
	var ch stripe.Charge
	if err := decodePayload(event, &ch); err != nil {
		return nil, err
	}
	if ch.PaymentIntent == nil || ch.PaymentIntent.ID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeDataIntegrity, "refunded charge has no payment intent reference")
	}
	currency, err := currencyFromProcessor(ch.Currency)
	if err != nil {
		return nil, err
	}
	if ch.AmountRefunded <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeDataIntegrity, "refunded charge has no refunded amount")
	}

	applied, original, err := p.ledger.RefundDeposit(ctx, ledger.RefundParams{
		PaymentIntentID: ch.PaymentIntent.ID,
		RefundID:        latestRefundID(&ch),
		AmountCents:     ch.AmountRefunded,
		Currency:        currency,
	})
	if err != nil {
		return nil, err
	}
	if !applied {
		return []string{ActionAlreadyProcessed}, nil
	}

	if auditErr := p.audit.Record(ctx, &original.UserID, audit.KindDepositRefunded, enums.AuditSeverityWarning, map[string]any{
		"payment_intent_id": ch.PaymentIntent.ID,
		"amount_cents":      ch.AmountRefunded,
	}); auditErr != nil {
		p.logg.Warn(ctx, "audit refund: "+auditErr.Error())
	}
	return []string{ActionBalanceDebited, ActionRefundRecorded}, nil
}

func latestRefundID(ch *stripe.Charge) *string {
	if ch == nil || ch.Refunds == nil || len(ch.Refunds.Data) == 0 {
		return nil
	}
	last := ch.Refunds.Data[len(ch.Refunds.Data)-1]
	if last == nil || last.ID == "" {
		return nil
	}
	return &last.ID
}
