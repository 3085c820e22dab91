package eventlock

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/draftline/fantasy-backend/pkg/config"
	"github.com/draftline/fantasy-backend/pkg/db/models"
	"github.com/draftline/fantasy-backend/pkg/enums"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := conn.AutoMigrate(&models.WebhookEventLock{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	repo, err := NewRepository(conn, config.WebhookConfig{
		LockStaleAfter:  2 * time.Minute,
		LockMaxAttempts: 3,
	})
	if err != nil {
		t.Fatalf("new repository: %v", err)
	}
	return repo
}

func testEventID() string {
	return "evt_" + uuid.NewString()
}

func TestAcquire_FreshEvent(t *testing.T) {
	repo := newTestRepo(t)
	eventID := testEventID()

	handle, outcome, err := repo.Acquire(context.Background(), eventID, "payment_intent.succeeded", Metadata{Livemode: true, APIVersion: "2025-06-30"})
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if outcome != OutcomeAcquired {
		t.Fatalf("expected acquired, got %s", outcome)
	}
	if handle.Attempts != 1 {
		t.Fatalf("expected attempts 1, got %d", handle.Attempts)
	}

	lock, err := repo.FindByEventID(context.Background(), eventID)
	if err != nil {
		t.Fatalf("find lock: %v", err)
	}
	if lock.Status != enums.LockStatusProcessing {
		t.Fatalf("expected processing, got %s", lock.Status)
	}
	if !lock.Livemode || lock.APIVersion != "2025-06-30" {
		t.Fatalf("expected delivery metadata stored")
	}
}

func TestAcquire_SecondCallerDefersWhileProcessing(t *testing.T) {
	repo := newTestRepo(t)
	eventID := testEventID()

	if _, outcome, err := repo.Acquire(context.Background(), eventID, "transfer.created", Metadata{}); err != nil || outcome != OutcomeAcquired {
		t.Fatalf("first acquire: outcome=%s err=%v", outcome, err)
	}

	handle, outcome, err := repo.Acquire(context.Background(), eventID, "transfer.created", Metadata{})
	if err != nil {
		t.Fatalf("second acquire: %v", err)
	}
	if outcome != OutcomeAlreadyProcessing {
		t.Fatalf("expected already_processing, got %s", outcome)
	}
	if handle != nil {
		t.Fatalf("expected nil handle when deferred")
	}
}

func TestAcquire_ProcessedIsTerminal(t *testing.T) {
	repo := newTestRepo(t)
	eventID := testEventID()

	handle, _, err := repo.Acquire(context.Background(), eventID, "charge.refunded", Metadata{})
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if err := handle.Release(context.Background()); err != nil {
		t.Fatalf("release: %v", err)
	}

	_, outcome, err := repo.Acquire(context.Background(), eventID, "charge.refunded", Metadata{})
	if err != nil {
		t.Fatalf("re-acquire: %v", err)
	}
	if outcome != OutcomeAlreadyProcessed {
		t.Fatalf("expected already_processed, got %s", outcome)
	}
}

func TestAcquire_FailedEventRetriesUntilMaxAttempts(t *testing.T) {
	repo := newTestRepo(t)
	eventID := testEventID()
	ctx := context.Background()

	for attempt := 1; attempt <= 3; attempt++ {
		handle, outcome, err := repo.Acquire(ctx, eventID, "payment_intent.payment_failed", Metadata{})
		if err != nil {
			t.Fatalf("acquire attempt %d: %v", attempt, err)
		}
		if outcome != OutcomeAcquired {
			t.Fatalf("attempt %d: expected acquired, got %s", attempt, outcome)
		}
		if handle.Attempts != attempt {
			t.Fatalf("attempt %d: expected attempts %d, got %d", attempt, attempt, handle.Attempts)
		}
		if err := handle.MarkFailed(ctx, "store unavailable"); err != nil {
			t.Fatalf("mark failed: %v", err)
		}
	}

	_, outcome, err := repo.Acquire(ctx, eventID, "payment_intent.payment_failed", Metadata{})
	if err != nil {
		t.Fatalf("acquire after exhaustion: %v", err)
	}
	if outcome != OutcomeMaxAttemptsExceeded {
		t.Fatalf("expected max_attempts_exceeded, got %s", outcome)
	}

	lock, err := repo.FindByEventID(ctx, eventID)
	if err != nil {
		t.Fatalf("find lock: %v", err)
	}
	if lock.LastError == nil || *lock.LastError != "store unavailable" {
		t.Fatalf("expected last error preserved")
	}

	abandoned, err := repo.CountAbandoned(ctx)
	if err != nil {
		t.Fatalf("count abandoned: %v", err)
	}
	if abandoned < 1 {
		t.Fatalf("expected at least one abandoned lock, got %d", abandoned)
	}
}

func TestAcquire_StaleProcessingLockIsReclaimed(t *testing.T) {
	repo := newTestRepo(t)
	eventID := testEventID()
	ctx := context.Background()

	first, outcome, err := repo.Acquire(ctx, eventID, "transfer.failed", Metadata{})
	if err != nil || outcome != OutcomeAcquired {
		t.Fatalf("first acquire: outcome=%s err=%v", outcome, err)
	}

	// Backdate the holder beyond the staleness window: holder presumed dead.
	stale := time.Now().UTC().Add(-5 * time.Minute)
	if err := repo.db.Model(&models.WebhookEventLock{}).
		Where("event_id = ?", eventID).
		UpdateColumn("acquired_at", stale).Error; err != nil {
		t.Fatalf("backdate lock: %v", err)
	}

	second, outcome, err := repo.Acquire(ctx, eventID, "transfer.failed", Metadata{})
	if err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	if outcome != OutcomeAcquired {
		t.Fatalf("expected stale lock reclaimed, got %s", outcome)
	}
	if second.Attempts != 2 {
		t.Fatalf("expected attempts 2 after reclaim, got %d", second.Attempts)
	}

	// The old holder's terminal writes no longer own the lock and are ignored.
	if err := first.Release(ctx); err != nil {
		t.Fatalf("stale release: %v", err)
	}
	lock, err := repo.FindByEventID(ctx, eventID)
	if err != nil {
		t.Fatalf("find lock: %v", err)
	}
	if lock.Status != enums.LockStatusProcessing {
		t.Fatalf("stale holder must not finalize the lock, status %s", lock.Status)
	}
	if lock.OwnerToken != second.OwnerToken {
		t.Fatalf("expected new owner token retained")
	}

	if err := second.Release(ctx); err != nil {
		t.Fatalf("release by owner: %v", err)
	}
	lock, err = repo.FindByEventID(ctx, eventID)
	if err != nil {
		t.Fatalf("find lock: %v", err)
	}
	if lock.Status != enums.LockStatusProcessed {
		t.Fatalf("expected processed, got %s", lock.Status)
	}
}
