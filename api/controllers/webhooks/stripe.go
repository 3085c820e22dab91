package webhooks

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/webhook"

	"github.com/draftline/fantasy-backend/internal/eventlock"
	stripewebhook "github.com/draftline/fantasy-backend/internal/webhooks/stripe"
	"github.com/draftline/fantasy-backend/pkg/enums"
	pkgerrors "github.com/draftline/fantasy-backend/pkg/errors"
	"github.com/draftline/fantasy-backend/pkg/logger"
	"github.com/draftline/fantasy-backend/pkg/metrics"
)

// EventProcessor routes a verified event and finalizes its lock.
type EventProcessor interface {
	Process(ctx context.Context, event *stripe.Event, handle stripewebhook.LockHandle) stripewebhook.Result
}

// LockStore issues durable per-event processing locks.
type LockStore interface {
	Acquire(ctx context.Context, eventID, eventType string, meta eventlock.Metadata) (*eventlock.Handle, eventlock.AcquireOutcome, error)
}

type deliveryGuard interface {
	CheckAndMark(ctx context.Context, eventID string) (bool, error)
	Delete(ctx context.Context, eventID string) error
}

type signingClient interface {
	SigningSecret() string
}

// ackResponse is the processor-facing acknowledgment body. Field presence
// varies by path; the processor only interprets the HTTP status.
type ackResponse struct {
	Received   bool     `json:"received"`
	EventID    string   `json:"eventId,omitempty"`
	EventType  string   `json:"eventType,omitempty"`
	Success    *bool    `json:"success,omitempty"`
	Actions    []string `json:"actions,omitempty"`
	Error      string   `json:"error,omitempty"`
	Duplicate  bool     `json:"duplicate,omitempty"`
	Processing bool     `json:"processing,omitempty"`
}

// StripeWebhook consumes payment lifecycle events. The status-code policy is
// deliberate: 200 acknowledges everything the upstream cannot fix by
// redelivering (duplicates, verification and configuration failures,
// exhausted retries, defective payloads); 500 is reserved for failures where
// a redelivery is wanted.
func StripeWebhook(processor EventProcessor, client signingClient, locks LockStore, guard deliveryGuard, webhookMetrics *metrics.WebhookMetrics, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if processor == nil || locks == nil {
			logError(ctx, logg, "webhook processor unavailable", nil)
			writeAck(w, http.StatusInternalServerError, ackResponse{Error: "processor unavailable"})
			return
		}
		if client == nil || client.SigningSecret() == "" {
			// Misconfiguration: retrying cannot help, so acknowledge.
			logError(ctx, logg, "webhook signing secret not configured", nil)
			webhookMetrics.IncRejected()
			writeAck(w, http.StatusOK, ackResponse{Error: "webhook not configured"})
			return
		}

		payload, err := io.ReadAll(r.Body)
		if err != nil {
			logError(ctx, logg, "read webhook body", err)
			writeAck(w, http.StatusInternalServerError, ackResponse{Error: "read body failed"})
			return
		}

		sigHeader := r.Header.Get("Stripe-Signature")
		if sigHeader == "" {
			webhookMetrics.IncRejected()
			writeAck(w, http.StatusOK, ackResponse{Error: "signature missing"})
			return
		}

		// Verification runs on the raw bytes, before any JSON decoding.
		event, err := webhook.ConstructEvent(payload, sigHeader, client.SigningSecret())
		if err != nil {
			logError(ctx, logg, "webhook signature verification failed", err)
			webhookMetrics.IncRejected()
			writeAck(w, http.StatusOK, ackResponse{Error: "signature verification failed"})
			return
		}

		if logg != nil {
			ctx = logg.WithEventID(ctx, event.ID)
			ctx = logg.WithEventType(ctx, string(event.Type))
		}
		ack := ackResponse{Received: true, EventID: event.ID, EventType: string(event.Type)}

		// Cheap duplicate suppression; the durable lock below stays
		// authoritative when this store is unavailable.
		if guard != nil {
			seen, guardErr := guard.CheckAndMark(ctx, event.ID)
			if guardErr != nil {
				logWarn(ctx, logg, "idempotency guard unavailable: "+guardErr.Error())
			} else if seen {
				webhookMetrics.IncDuplicate()
				ack.Duplicate = true
				writeAck(w, http.StatusOK, ack)
				return
			}
		}

		handle, outcome, err := locks.Acquire(ctx, event.ID, string(event.Type), eventlock.Metadata{
			Livemode:   event.Livemode,
			APIVersion: event.APIVersion,
		})
		if err != nil {
			// Lock store failure: a retry may succeed, ask for redelivery.
			logError(ctx, logg, "acquire event lock", err)
			releaseGuard(ctx, guard, event.ID)
			writeAck(w, http.StatusInternalServerError, withError(ack, "lock acquisition failed"))
			return
		}

		category := enums.CategorizeEventType(string(event.Type))
		switch outcome {
		case eventlock.OutcomeAlreadyProcessed:
			webhookMetrics.IncDuplicate()
			ack.Duplicate = true
			ack.Success = boolPtr(true)
			writeAck(w, http.StatusOK, ack)
			return
		case eventlock.OutcomeAlreadyProcessing:
			ack.Processing = true
			writeAck(w, http.StatusOK, ack)
			return
		case eventlock.OutcomeMaxAttemptsExceeded:
			logWarn(ctx, logg, "event abandoned after exhausting retry attempts")
			webhookMetrics.IncEvent(string(category), "abandoned")
			writeAck(w, http.StatusOK, withError(ack, "retry attempts exhausted"))
			return
		}

		started := time.Now()
		result := processor.Process(ctx, &event, handle)
		webhookMetrics.ObserveDuration(string(category), time.Since(started))

		if result.Success {
			webhookMetrics.IncEvent(string(category), "success")
			ack.Success = boolPtr(true)
			ack.Actions = result.Actions
			writeAck(w, http.StatusOK, ack)
			return
		}

		ack.Success = boolPtr(false)
		ack.Actions = result.Actions
		if result.Err != nil {
			ack.Error = result.Err.Error()
		}

		if !retryWanted(result.Err) {
			webhookMetrics.IncEvent(string(category), "rejected")
			writeAck(w, http.StatusOK, ack)
			return
		}

		// Clear the duplicate marker so the redelivery is not suppressed
		// before it reaches the durable lock.
		releaseGuard(ctx, guard, event.ID)
		webhookMetrics.IncEvent(string(category), "failure")
		writeAck(w, http.StatusInternalServerError, ack)
	}
}

func retryWanted(err error) bool {
	if err == nil {
		return true
	}
	typed := pkgerrors.As(err)
	if typed == nil {
		return true
	}
	return typed.Code() != pkgerrors.CodeDataIntegrity
}

func releaseGuard(ctx context.Context, guard deliveryGuard, eventID string) {
	if guard == nil {
		return
	}
	_ = guard.Delete(ctx, eventID)
}

func withError(ack ackResponse, msg string) ackResponse {
	ack.Error = msg
	return ack
}

func boolPtr(v bool) *bool {
	return &v
}

func writeAck(w http.ResponseWriter, status int, body ackResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func logError(ctx context.Context, logg *logger.Logger, msg string, err error) {
	if logg == nil {
		return
	}
	logg.Error(ctx, msg, err)
}

func logWarn(ctx context.Context, logg *logger.Logger, msg string) {
	if logg == nil {
		return
	}
	logg.Warn(ctx, msg)
}
