package stripewebhook

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"

	"github.com/draftline/fantasy-backend/internal/ledger"
	"github.com/draftline/fantasy-backend/pkg/db/models"
	"github.com/draftline/fantasy-backend/pkg/enums"
	pkgerrors "github.com/draftline/fantasy-backend/pkg/errors"
	"github.com/draftline/fantasy-backend/pkg/logger"
)

// Actions reported back to the caller describing what a handler did.
const (
	ActionIgnored           = "ignored"
	ActionAlreadyProcessed  = "already_processed"
	ActionCompleted         = "transaction_completed"
	ActionBalanceCredited   = "balance_credited"
	ActionTransactionFailed = "transaction_failed"
	ActionVoucherRecorded   = "voucher_recorded"
	ActionProcessing        = "processing_recorded"
	ActionBalanceDebited    = "balance_debited"
	ActionWithdrawalCreated = "withdrawal_recorded"
	ActionBalanceRestored   = "balance_restored"
	ActionWithdrawalFailed  = "withdrawal_failed"
	ActionCapabilitiesSet   = "capabilities_updated"
	ActionAccountFlagged    = "account_flagged"
	ActionRefundRecorded    = "refund_recorded"
)

type ledgerService interface {
	SettleDeposit(ctx context.Context, p ledger.DepositParams) (bool, error)
	FailDeposit(ctx context.Context, p ledger.DepositParams) (bool, error)
	UpsertPendingDeposit(ctx context.Context, p ledger.DepositParams) error
	UpsertProcessingDeposit(ctx context.Context, p ledger.DepositParams) error
	CreateWithdrawal(ctx context.Context, p ledger.WithdrawalParams) (bool, error)
	FailWithdrawal(ctx context.Context, p ledger.WithdrawalParams) (bool, error)
	RefundDeposit(ctx context.Context, p ledger.RefundParams) (bool, *models.Transaction, error)
	FindDepositByPaymentIntentID(ctx context.Context, paymentIntentID string) (*models.Transaction, error)
}

type accountsRepo interface {
	FindByConnectAccountID(ctx context.Context, accountID string) (*models.User, error)
	SetPaymentFlagged(ctx context.Context, userID uuid.UUID, reason string, at time.Time) error
	UpdatePayoutCapabilities(ctx context.Context, userID uuid.UUID, chargesEnabled, payoutsEnabled, detailsSubmitted bool) error
	SetLastFundingCurrency(ctx context.Context, userID uuid.UUID, currency string) error
	SetDefaultPaymentLabel(ctx context.Context, userID uuid.UUID, label string) error
}

type auditSink interface {
	Record(ctx context.Context, userID *uuid.UUID, eventKind string, severity enums.AuditSeverity, metadata map[string]any) error
}

type instrumentResolver interface {
	InstrumentLabel(ctx context.Context, latestChargeID string) (string, error)
}

// LockHandle is the slice of the durable lock the router finalizes.
type LockHandle interface {
	Release(ctx context.Context) error
	MarkFailed(ctx context.Context, reason string) error
}

type handlerFunc func(ctx context.Context, event *stripe.Event) ([]string, error)

// Result is the structured outcome of routing one event. Err carries the
// handler failure when Success is false; the caller decides the HTTP status
// from the error's code.
type Result struct {
	Success bool
	Actions []string
	Err     error
}

// ProcessorParams wires the router's collaborators.
type ProcessorParams struct {
	Ledger      ledgerService
	Accounts    accountsRepo
	Audit       auditSink
	Instruments instrumentResolver
	Logger      *logger.Logger
}

// Processor routes verified events to their handler and finalizes the
// durable lock with the handler's outcome. Handlers never touch the lock
// themselves; the router owns that transition.
type Processor struct {
	ledger      ledgerService
	accounts    accountsRepo
	audit       auditSink
	instruments instrumentResolver
	logg        *logger.Logger
	handlers    map[enums.EventCategory]handlerFunc
}

func NewProcessor(params ProcessorParams) (*Processor, error) {
	if params.Ledger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "ledger service required")
	}
	if params.Accounts == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "accounts repo required")
	}
	if params.Audit == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "audit sink required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}

	p := &Processor{
		ledger:      params.Ledger,
		accounts:    params.Accounts,
		audit:       params.Audit,
		instruments: params.Instruments,
		logg:        params.Logger,
	}
	p.handlers = map[enums.EventCategory]handlerFunc{
		enums.EventCategoryPaymentSucceeded:      p.handlePaymentSucceeded,
		enums.EventCategoryPaymentFailed:         p.handlePaymentFailed,
		enums.EventCategoryPaymentRequiresAction: p.handlePaymentRequiresAction,
		enums.EventCategoryPaymentProcessing:     p.handlePaymentProcessing,
		enums.EventCategoryTransferCreated:       p.handleTransferCreated,
		enums.EventCategoryTransferFailed:        p.handleTransferFailed,
		enums.EventCategoryAccountUpdated:        p.handleAccountUpdated,
		enums.EventCategoryDisputeCreated:        p.handleDisputeCreated,
		enums.EventCategoryChargeRefunded:        p.handleChargeRefunded,
	}
	return p, nil
}

// Process dispatches the event and persists the outcome onto the lock:
// release on success, markFailed on a retryable failure. A data-integrity
// failure (payload missing required fields) releases the lock too, because
// redelivering the same payload can never succeed.
func (p *Processor) Process(ctx context.Context, event *stripe.Event, handle LockHandle) Result {
	if event == nil {
		return Result{Err: pkgerrors.New(pkgerrors.CodeValidation, "event is required")}
	}

	category := enums.CategorizeEventType(string(event.Type))
	if category == enums.EventCategoryUnknown {
		p.logg.Info(ctx, "unrecognized event type acknowledged")
		p.finalizeSuccess(ctx, handle)
		return Result{Success: true, Actions: []string{ActionIgnored}}
	}

	actions, err := p.handlers[category](ctx, event)
	if err == nil {
		p.finalizeSuccess(ctx, handle)
		return Result{Success: true, Actions: actions}
	}

	typed := pkgerrors.As(err)
	if typed != nil && typed.Code() == pkgerrors.CodeDataIntegrity {
		// The payload itself is defective; a retry redelivers the same bytes.
		p.logg.Error(ctx, "event payload failed integrity checks", err)
		p.finalizeSuccess(ctx, handle)
		return Result{Actions: actions, Err: err}
	}

	p.logg.Error(ctx, "event handler failed", err)
	if handle != nil {
		if markErr := handle.MarkFailed(ctx, err.Error()); markErr != nil {
			p.logg.Error(ctx, "mark event lock failed", markErr)
		}
	}
	return Result{Actions: actions, Err: err}
}

func (p *Processor) finalizeSuccess(ctx context.Context, handle LockHandle) {
	if handle == nil {
		return
	}
	// The ledger mutation already committed; a release failure only delays
	// the lock's terminal state until the staleness window re-runs it, and
	// the handlers' status checks make that re-run a no-op.
	if err := handle.Release(ctx); err != nil {
		p.logg.Error(ctx, "release event lock", err)
	}
}
