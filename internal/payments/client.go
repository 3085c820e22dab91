package payments

import (
	"context"
	"errors"
	"fmt"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/charge"
	"github.com/stripe/stripe-go/v84/paymentintent"

	pkgstripe "github.com/draftline/fantasy-backend/pkg/stripe"
)

// Client exposes the subset of processor operations the platform consumes
// over payment objects: retrieve, cancel, list, plus a best-effort lookup of
// a human-readable payment instrument label.
type Client interface {
	RetrievePaymentIntent(ctx context.Context, id string) (*stripe.PaymentIntent, error)
	CancelPaymentIntent(ctx context.Context, id string) (*stripe.PaymentIntent, error)
	ListPaymentIntents(ctx context.Context, customerID string, limit int64) ([]*stripe.PaymentIntent, error)
	InstrumentLabel(ctx context.Context, latestChargeID string) (string, error)
}

type clientWrapper struct{}

// NewClient wraps the shared Stripe client so callers can be tested with
// stubs. Requests go through stripe-go's package-level API, whose key the
// shared client configures once at startup; passing nil (no configured
// client) yields a nil Client.
func NewClient(api *pkgstripe.Client) Client {
	if api == nil {
		return nil
	}
	return &clientWrapper{}
}

func (w *clientWrapper) RetrievePaymentIntent(ctx context.Context, id string) (*stripe.PaymentIntent, error) {
	if id == "" {
		return nil, errors.New("payment intent id is required")
	}
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	return paymentintent.Get(id, params)
}

func (w *clientWrapper) CancelPaymentIntent(ctx context.Context, id string) (*stripe.PaymentIntent, error) {
	if id == "" {
		return nil, errors.New("payment intent id is required")
	}
	params := &stripe.PaymentIntentCancelParams{}
	params.Context = ctx
	return paymentintent.Cancel(id, params)
}

func (w *clientWrapper) ListPaymentIntents(ctx context.Context, customerID string, limit int64) ([]*stripe.PaymentIntent, error) {
	params := &stripe.PaymentIntentListParams{}
	params.Context = ctx
	if customerID != "" {
		params.Customer = stripe.String(customerID)
	}
	if limit > 0 {
		params.Limit = stripe.Int64(limit)
	}

	var intents []*stripe.PaymentIntent
	iter := paymentintent.List(params)
	for iter.Next() {
		intents = append(intents, iter.PaymentIntent())
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return intents, nil
}

// InstrumentLabel resolves a display label like "visa ending 4242" from the
// charge backing a payment. Failures here never block ledger mutations.
func (w *clientWrapper) InstrumentLabel(ctx context.Context, latestChargeID string) (string, error) {
	if latestChargeID == "" {
		return "", errors.New("charge id is required")
	}
	params := &stripe.ChargeParams{}
	params.Context = ctx
	ch, err := charge.Get(latestChargeID, params)
	if err != nil {
		return "", err
	}
	return labelFromCharge(ch), nil
}

func labelFromCharge(ch *stripe.Charge) string {
	if ch == nil || ch.PaymentMethodDetails == nil {
		return ""
	}
	details := ch.PaymentMethodDetails
	if details.Card != nil && details.Card.Last4 != "" {
		return fmt.Sprintf("%s ending %s", details.Card.Brand, details.Card.Last4)
	}
	if details.Type != "" {
		return string(details.Type)
	}
	return ""
}
