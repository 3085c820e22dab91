package stripewebhook

import (
	"context"

	"github.com/stripe/stripe-go/v84"

	"github.com/draftline/fantasy-backend/internal/audit"
	"github.com/draftline/fantasy-backend/pkg/enums"
)

// handleAccountUpdated maps processor-reported capability flags onto the
// owning user's payout eligibility. Accounts with no associated user are
// platform-level and acknowledged without effect.
func (p *Processor) handleAccountUpdated(ctx context.Context, event *stripe.Event) ([]string, error) {
	var account stripe.Account
	if err := decodePayload(event, &account); err != nil {
		return nil, err
	}

	user, err := p.accounts.FindByConnectAccountID(ctx, account.ID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return []string{ActionIgnored}, nil
	}

	if err := p.accounts.UpdatePayoutCapabilities(ctx, user.ID,
		account.ChargesEnabled, account.PayoutsEnabled, account.DetailsSubmitted); err != nil {
		return nil, err
	}

	if auditErr := p.audit.Record(ctx, &user.ID, audit.KindAccountUpdated, enums.AuditSeverityInfo, map[string]any{
		"connect_account_id": account.ID,
		"charges_enabled":    account.ChargesEnabled,
		"payouts_enabled":    account.PayoutsEnabled,
		"details_submitted":  account.DetailsSubmitted,
	}); auditErr != nil {
		p.logg.Warn(ctx, "audit account update: "+auditErr.Error())
	}
	return []string{ActionCapabilitiesSet}, nil
}
