package stripewebhook

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"

	"github.com/draftline/fantasy-backend/pkg/enums"
	pkgerrors "github.com/draftline/fantasy-backend/pkg/errors"
)

// metadataUserKey is the metadata field the checkout flow stamps onto every
// payment intent and transfer it creates.
const metadataUserKey = "user_id"

func decodePayload(event *stripe.Event, target any) error {
	if event == nil || event.Data == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "event data required")
	}
	if err := json.Unmarshal(event.Data.Raw, target); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDataIntegrity, err, "decode event payload")
	}
	return nil
}

// userIDFromMetadata resolves the internal user id stamped on the processor
// object. Absence is a data-integrity failure: the payload can never be
// repaired by redelivery.
func userIDFromMetadata(metadata map[string]string) (uuid.UUID, error) {
	raw, ok := metadata[metadataUserKey]
	if !ok || raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeDataIntegrity, "user id missing from event metadata")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeDataIntegrity, err, "user id in event metadata is not a uuid")
	}
	return id, nil
}

func currencyFromProcessor(raw stripe.Currency) (enums.Currency, error) {
	currency, err := enums.ParseCurrency(string(raw))
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDataIntegrity, err, "unsupported settlement currency")
	}
	return currency, nil
}

// voucherDetails extracts the hosted voucher URL and expiry for offline
// payment instruments (pay-at-store and bank-slip flows).
func voucherDetails(pi *stripe.PaymentIntent) (*string, *time.Time) {
	if pi == nil || pi.NextAction == nil {
		return nil, nil
	}
	next := pi.NextAction

	var url string
	var expiresUnix int64
	switch {
	case next.OXXODisplayDetails != nil:
		url = next.OXXODisplayDetails.HostedVoucherURL
		expiresUnix = next.OXXODisplayDetails.ExpiresAfter
	case next.BoletoDisplayDetails != nil:
		url = next.BoletoDisplayDetails.HostedVoucherURL
		expiresUnix = next.BoletoDisplayDetails.ExpiresAt
	case next.KonbiniDisplayDetails != nil:
		url = next.KonbiniDisplayDetails.HostedVoucherURL
		expiresUnix = next.KonbiniDisplayDetails.ExpiresAt
	default:
		return nil, nil
	}

	var urlPtr *string
	if url != "" {
		urlPtr = &url
	}
	var expiresPtr *time.Time
	if expiresUnix > 0 {
		expires := time.Unix(expiresUnix, 0).UTC()
		expiresPtr = &expires
	}
	return urlPtr, expiresPtr
}

func paymentFailureReason(pi *stripe.PaymentIntent) *string {
	if pi == nil || pi.LastPaymentError == nil {
		return nil
	}
	reason := pi.LastPaymentError.Msg
	if reason == "" && pi.LastPaymentError.DeclineCode != "" {
		reason = string(pi.LastPaymentError.DeclineCode)
	}
	if reason == "" && pi.LastPaymentError.Code != "" {
		reason = string(pi.LastPaymentError.Code)
	}
	if reason == "" {
		return nil
	}
	return &reason
}

func depositAmount(pi *stripe.PaymentIntent) int64 {
	if pi.AmountReceived > 0 {
		return pi.AmountReceived
	}
	return pi.Amount
}
