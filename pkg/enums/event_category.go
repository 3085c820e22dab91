package enums

// EventCategory is the closed set of payment lifecycle notifications the
// webhook engine handles. Anything else maps to EventCategoryUnknown, which
// is acknowledged but never processed.
type EventCategory string

const (
	EventCategoryPaymentSucceeded      EventCategory = "payment_succeeded"
	EventCategoryPaymentFailed         EventCategory = "payment_failed"
	EventCategoryPaymentRequiresAction EventCategory = "payment_requires_action"
	EventCategoryPaymentProcessing     EventCategory = "payment_processing"
	EventCategoryTransferCreated       EventCategory = "transfer_created"
	EventCategoryTransferFailed        EventCategory = "transfer_failed"
	EventCategoryAccountUpdated        EventCategory = "account_updated"
	EventCategoryDisputeCreated        EventCategory = "dispute_created"
	EventCategoryChargeRefunded        EventCategory = "charge_refunded"
	EventCategoryUnknown               EventCategory = "unknown"
)

var eventCategoryByStripeType = map[string]EventCategory{
	"payment_intent.succeeded":       EventCategoryPaymentSucceeded,
	"payment_intent.payment_failed":  EventCategoryPaymentFailed,
	"payment_intent.requires_action": EventCategoryPaymentRequiresAction,
	"payment_intent.processing":      EventCategoryPaymentProcessing,
	"transfer.created":               EventCategoryTransferCreated,
	"transfer.failed":                EventCategoryTransferFailed,
	"transfer.reversed":              EventCategoryTransferFailed,
	"account.updated":                EventCategoryAccountUpdated,
	"charge.dispute.created":         EventCategoryDisputeCreated,
	"charge.refunded":                EventCategoryChargeRefunded,
}

// String implements fmt.Stringer.
func (c EventCategory) String() string {
	return string(c)
}

// CategorizeEventType maps a raw processor event type onto the closed
// category set. Unrecognized types return EventCategoryUnknown, never an
// error: new upstream event types must stay forward-compatible no-ops.
func CategorizeEventType(eventType string) EventCategory {
	if category, ok := eventCategoryByStripeType[eventType]; ok {
		return category
	}
	return EventCategoryUnknown
}
