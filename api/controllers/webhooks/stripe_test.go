package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/draftline/fantasy-backend/internal/eventlock"
	stripewebhook "github.com/draftline/fantasy-backend/internal/webhooks/stripe"
	"github.com/draftline/fantasy-backend/pkg/config"
	"github.com/draftline/fantasy-backend/pkg/db/models"
	pkgerrors "github.com/draftline/fantasy-backend/pkg/errors"
	"github.com/draftline/fantasy-backend/pkg/metrics"
)

const testSigningSecret = "whsec_test"

func newLockStore(t *testing.T) *eventlock.Repository {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := conn.AutoMigrate(&models.WebhookEventLock{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	repo, err := eventlock.NewRepository(conn, config.WebhookConfig{
		LockStaleAfter:  2 * time.Minute,
		LockMaxAttempts: 5,
	})
	if err != nil {
		t.Fatalf("new lock repo: %v", err)
	}
	return repo
}

func newHandler(t *testing.T, processor EventProcessor) (http.HandlerFunc, *stripewebhook.IdempotencyGuard) {
	t.Helper()
	guard, err := stripewebhook.NewIdempotencyGuard(newInMemoryStore(), time.Minute, "stripe-webhook")
	if err != nil {
		t.Fatalf("guard setup: %v", err)
	}
	handler := StripeWebhook(processor, &fakeSigningClient{secret: testSigningSecret}, newLockStore(t), guard, metrics.NewWebhookMetrics(nil), nil)
	return handler, guard
}

func postEvent(handler http.HandlerFunc, payload []byte, sigHeader string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", bytes.NewReader(payload))
	if sigHeader != "" {
		req.Header.Set("Stripe-Signature", sigHeader)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestStripeWebhook_SuccessAndDuplicateSuppressed(t *testing.T) {
	processor := &fakeProcessor{result: stripewebhook.Result{Success: true, Actions: []string{"transaction_completed"}}}
	handler, _ := newHandler(t, processor)
	payload, header := buildSignedEvent(t, "payment_intent.succeeded")

	rec := postEvent(handler, payload, header)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	var ack ackResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &ack); err != nil {
		t.Fatalf("decode ack: %v", err)
	}
	if !ack.Received || ack.Success == nil || !*ack.Success {
		t.Fatalf("expected successful ack, got %+v", ack)
	}
	if len(ack.Actions) != 1 || ack.Actions[0] != "transaction_completed" {
		t.Fatalf("expected actions surfaced, got %v", ack.Actions)
	}
	if processor.calls != 1 {
		t.Fatalf("expected processor called once, got %d", processor.calls)
	}

	rec2 := postEvent(handler, payload, header)
	if rec2.Code != http.StatusOK {
		t.Fatalf("expected 200 on duplicate, got %d", rec2.Code)
	}
	var dup ackResponse
	if err := json.Unmarshal(rec2.Body.Bytes(), &dup); err != nil {
		t.Fatalf("decode duplicate ack: %v", err)
	}
	if !dup.Duplicate {
		t.Fatalf("expected duplicate flagged, got %+v", dup)
	}
	if processor.calls != 1 {
		t.Fatalf("duplicate must not reprocess, call count %d", processor.calls)
	}
}

func TestStripeWebhook_InvalidSignatureIsAcknowledged(t *testing.T) {
	processor := &fakeProcessor{result: stripewebhook.Result{Success: true}}
	handler, _ := newHandler(t, processor)
	payload, _ := buildSignedEvent(t, "payment_intent.succeeded")

	rec := postEvent(handler, payload, "t=1,v1=invalid")
	// A forged or stale signature can never become valid on redelivery, so
	// the response must not invite a retry storm.
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for invalid signature, got %d", rec.Code)
	}
	var ack ackResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &ack); err != nil {
		t.Fatalf("decode ack: %v", err)
	}
	if ack.Received || ack.Error == "" {
		t.Fatalf("expected rejection ack, got %+v", ack)
	}
	if processor.calls != 0 {
		t.Fatalf("processor must not run on invalid signature")
	}
}

func TestStripeWebhook_MissingSignatureHeader(t *testing.T) {
	processor := &fakeProcessor{}
	handler, _ := newHandler(t, processor)
	payload, _ := buildSignedEvent(t, "payment_intent.succeeded")

	rec := postEvent(handler, payload, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if processor.calls != 0 {
		t.Fatalf("processor must not run without a signature")
	}
}

func TestStripeWebhook_MissingSecretIsAcknowledged(t *testing.T) {
	processor := &fakeProcessor{}
	handler := StripeWebhook(processor, &fakeSigningClient{}, newLockStore(t), nil, metrics.NewWebhookMetrics(nil), nil)
	payload, header := buildSignedEvent(t, "payment_intent.succeeded")

	rec := postEvent(handler, payload, header)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for configuration error, got %d", rec.Code)
	}
	if processor.calls != 0 {
		t.Fatalf("processor must not run without configuration")
	}
}

func TestStripeWebhook_RetryableFailureGets500AndReprocesses(t *testing.T) {
	processor := &fakeProcessor{result: stripewebhook.Result{
		Err: pkgerrors.New(pkgerrors.CodeDependency, "ledger store unavailable"),
	}}
	handler, _ := newHandler(t, processor)
	payload, header := buildSignedEvent(t, "transfer.created")

	rec := postEvent(handler, payload, header)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 for retryable failure, got %d", rec.Code)
	}
	if processor.calls != 1 {
		t.Fatalf("expected one processing attempt, got %d", processor.calls)
	}

	// The redelivery must reach the processor again: the guard marker was
	// cleared and the lock recorded a failed attempt, not a terminal state.
	processor.result = stripewebhook.Result{Success: true}
	rec2 := postEvent(handler, payload, header)
	if rec2.Code != http.StatusOK {
		t.Fatalf("expected 200 on redelivery, got %d (%s)", rec2.Code, rec2.Body.String())
	}
	if processor.calls != 2 {
		t.Fatalf("expected redelivery processed, call count %d", processor.calls)
	}
}

func TestStripeWebhook_DataIntegrityFailureIsAcknowledged(t *testing.T) {
	processor := &fakeProcessor{result: stripewebhook.Result{
		Err: pkgerrors.New(pkgerrors.CodeDataIntegrity, "user id missing from event metadata"),
	}}
	handler, _ := newHandler(t, processor)
	payload, header := buildSignedEvent(t, "payment_intent.succeeded")

	rec := postEvent(handler, payload, header)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for defective payload, got %d", rec.Code)
	}
	var ack ackResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &ack); err != nil {
		t.Fatalf("decode ack: %v", err)
	}
	if ack.Success == nil || *ack.Success || ack.Error == "" {
		t.Fatalf("expected surfaced failure in ack, got %+v", ack)
	}
}

func TestStripeWebhook_ConcurrentDeliveryDefers(t *testing.T) {
	processor := &fakeProcessor{result: stripewebhook.Result{Success: true}}
	locks := newLockStore(t)
	guard, err := stripewebhook.NewIdempotencyGuard(newInMemoryStore(), time.Minute, "stripe-webhook")
	if err != nil {
		t.Fatalf("guard setup: %v", err)
	}
	handler := StripeWebhook(processor, &fakeSigningClient{secret: testSigningSecret}, locks, guard, metrics.NewWebhookMetrics(nil), nil)
	payload, header := buildSignedEvent(t, "transfer.created")

	var event stripe.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		t.Fatalf("decode event: %v", err)
	}

	// Another replica holds the lock; our delivery must defer, not process.
	if _, outcome, err := locks.Acquire(context.Background(), event.ID, string(event.Type), eventlock.Metadata{}); err != nil || outcome != eventlock.OutcomeAcquired {
		t.Fatalf("seed lock: outcome=%s err=%v", outcome, err)
	}

	rec := postEvent(handler, payload, header)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var ack ackResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &ack); err != nil {
		t.Fatalf("decode ack: %v", err)
	}
	if !ack.Processing {
		t.Fatalf("expected processing flag, got %+v", ack)
	}
	if processor.calls != 0 {
		t.Fatalf("deferred delivery must not process")
	}
}

func buildSignedEvent(t *testing.T, eventType string) ([]byte, string) {
	t.Helper()
	intent := &stripe.PaymentIntent{
		ID:       "pi_" + uuid.NewString(),
		Amount:   5000,
		Currency: stripe.CurrencyUSD,
		Metadata: map[string]string{"user_id": uuid.NewString()},
	}
	raw, err := json.Marshal(intent)
	if err != nil {
		t.Fatalf("marshal intent: %v", err)
	}
	event := &stripe.Event{
		ID:         "evt_" + uuid.NewString(),
		Type:       stripe.EventType(eventType),
		Object:     "event",
		APIVersion: stripe.APIVersion,
		Data: &stripe.EventData{
			Raw: raw,
		},
	}
	payload, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	header := buildStripeSignatureHeader(payload, testSigningSecret, time.Now().Unix())
	return payload, header
}

func buildStripeSignatureHeader(payload []byte, secret string, ts int64) string {
	signedPayload := fmt.Sprintf("%d.%s", ts, payload)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(signedPayload))
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

// fakeProcessor mirrors the real router's lock finalization so the controller
// tests exercise genuine lock transitions.
type fakeProcessor struct {
	calls  int
	result stripewebhook.Result
}

func (f *fakeProcessor) Process(ctx context.Context, _ *stripe.Event, handle stripewebhook.LockHandle) stripewebhook.Result {
	f.calls++
	result := f.result
	if handle != nil {
		switch {
		case result.Success:
			_ = handle.Release(ctx)
		case result.Err != nil && pkgerrors.As(result.Err) != nil && pkgerrors.As(result.Err).Code() == pkgerrors.CodeDataIntegrity:
			_ = handle.Release(ctx)
		default:
			reason := "processing failed"
			if result.Err != nil {
				reason = result.Err.Error()
			}
			_ = handle.MarkFailed(ctx, reason)
		}
	}
	return result
}

type fakeSigningClient struct {
	secret string
}

func (c *fakeSigningClient) SigningSecret() string {
	return c.secret
}

type inMemoryStore struct {
	mu   sync.Mutex
	data map[string]string
}

func newInMemoryStore() *inMemoryStore {
	return &inMemoryStore{
		data: make(map[string]string),
	}
}

func (s *inMemoryStore) Get(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data[key], nil
}

func (s *inMemoryStore) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.data[key]; exists {
		return false, nil
	}
	s.data[key] = fmt.Sprintf("%v", value)
	return true, nil
}

func (s *inMemoryStore) IdempotencyKey(scope, id string) string {
	return fmt.Sprintf("dl:idempotency:%s:%s", scope, id)
}

func (s *inMemoryStore) Del(ctx context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		delete(s.data, key)
	}
	return nil
}
