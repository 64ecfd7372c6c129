package reconcile

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mhertel/voxgate/app/models"
	"github.com/mhertel/voxgate/internal/pkg/apperrors"
)

type fakeStore struct {
	mu    sync.Mutex
	items []*models.ReconciliationItem

	retries []time.Time
}

func (f *fakeStore) EnqueueIfNotPending(item *models.ReconciliationItem) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.items {
		if existing.AssistantID == item.AssistantID && existing.Action == item.Action &&
			(existing.Status == models.ReconcileStatusPending || existing.Status == models.ReconcileStatusProcessing) {
			return false, nil
		}
	}
	item.ID = uint(len(f.items) + 1)
	f.items = append(f.items, item)
	return true, nil
}

func (f *fakeStore) ClaimNext(now time.Time) (*models.ReconciliationItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var best *models.ReconciliationItem
	for _, item := range f.items {
		if item.Status != models.ReconcileStatusPending || item.NextAttemptAt.After(now) {
			continue
		}
		if best == nil || item.Priority > best.Priority ||
			(item.Priority == best.Priority && item.CreatedAt.Before(best.CreatedAt)) {
			best = item
		}
	}
	if best == nil {
		return nil, nil
	}
	best.Status = models.ReconcileStatusProcessing
	claimed := now
	best.ClaimedAt = &claimed
	copied := *best
	return &copied, nil
}

func (f *fakeStore) MarkProcessed(id uint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	item := f.byID(id)
	item.Status = models.ReconcileStatusProcessed
	now := time.Now()
	item.ProcessedAt = &now
	return nil
}

func (f *fakeStore) ScheduleRetry(id uint, retryCount int, lastError string, nextAttemptAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	item := f.byID(id)
	item.Status = models.ReconcileStatusPending
	item.RetryCount = retryCount
	item.LastError = lastError
	item.NextAttemptAt = nextAttemptAt
	f.retries = append(f.retries, nextAttemptAt)
	return nil
}

func (f *fakeStore) MarkDead(id uint, retryCount int, lastError string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	item := f.byID(id)
	item.Status = models.ReconcileStatusDead
	item.RetryCount = retryCount
	item.LastError = lastError
	return nil
}

func (f *fakeStore) ReleaseStuck(olderThan time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var released int64
	for _, item := range f.items {
		if item.Status != models.ReconcileStatusProcessing || item.ClaimedAt == nil || !item.ClaimedAt.Before(olderThan) {
			continue
		}
		item.Status = models.ReconcileStatusPending
		item.ClaimedAt = nil
		item.NextAttemptAt = time.Now()
		released++
	}
	return released, nil
}

func (f *fakeStore) byID(id uint) *models.ReconciliationItem {
	for _, item := range f.items {
		if item.ID == id {
			return item
		}
	}
	return nil
}

type fakeProvider struct {
	mu    sync.Mutex
	calls int
	errs  []error
}

func (f *fakeProvider) ApplyAssistantAction(ctx context.Context, externalRef string, action string, payload map[string]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.errs) == 0 {
		return nil
	}
	err := f.errs[0]
	f.errs = f.errs[1:]
	return err
}

func testAssistant() *models.Assistant {
	return &models.Assistant{ID: 7, AccountID: 3, ExternalRef: "asst-ext-1", State: models.ASSISTANT_ACTIVE}
}

func TestEnqueueCollapsesDuplicates(t *testing.T) {
	store := &fakeStore{}
	q := NewQueue(store, &fakeProvider{}, 1)
	ctx := context.Background()

	require.NoError(t, q.EnqueueAssistantAction(ctx, testAssistant(), models.ReconcileActionDisable, "usage_limit_exceeded", 10))
	require.NoError(t, q.EnqueueAssistantAction(ctx, testAssistant(), models.ReconcileActionDisable, "usage_limit_exceeded", 10))
	require.NoError(t, q.EnqueueAssistantAction(ctx, testAssistant(), models.ReconcileActionEnable, "quota_restored", 5))

	assert.Len(t, store.items, 2)
	assert.NotEmpty(t, store.items[0].PublicID)
}

func TestProcessItemSuccess(t *testing.T) {
	store := &fakeStore{}
	provider := &fakeProvider{}
	q := NewQueue(store, provider, 1)
	ctx := context.Background()

	require.NoError(t, q.EnqueueAssistantAction(ctx, testAssistant(), models.ReconcileActionDisable, "usage_limit_exceeded", 10))
	item, err := store.ClaimNext(time.Now())
	require.NoError(t, err)
	require.NotNil(t, item)

	q.ProcessItem(ctx, item)

	assert.Equal(t, models.ReconcileStatusProcessed, store.items[0].Status)
	assert.Equal(t, 1, provider.calls)
}

func TestProcessItemRetryableFailureSchedulesBackoff(t *testing.T) {
	store := &fakeStore{}
	provider := &fakeProvider{errs: []error{apperrors.Provider(true, "status=502", nil)}}
	q := NewQueue(store, provider, 1)
	ctx := context.Background()

	require.NoError(t, q.EnqueueAssistantAction(ctx, testAssistant(), models.ReconcileActionDisable, "usage_limit_exceeded", 10))
	item, _ := store.ClaimNext(time.Now())
	before := time.Now()

	q.ProcessItem(ctx, item)

	got := store.items[0]
	assert.Equal(t, models.ReconcileStatusPending, got.Status)
	assert.Equal(t, 1, got.RetryCount)
	assert.Contains(t, got.LastError, "502")
	assert.True(t, got.NextAttemptAt.After(before.Add(BackoffBase-time.Second)), "retry should wait at least the base backoff")
}

func TestProcessItemPermanentFailureIsDeadImmediately(t *testing.T) {
	store := &fakeStore{}
	provider := &fakeProvider{errs: []error{apperrors.Provider(false, "status=400", nil)}}
	q := NewQueue(store, provider, 1)
	ctx := context.Background()

	require.NoError(t, q.EnqueueAssistantAction(ctx, testAssistant(), models.ReconcileActionUpdate, "config_change", 0))
	item, _ := store.ClaimNext(time.Now())

	q.ProcessItem(ctx, item)

	assert.Equal(t, models.ReconcileStatusDead, store.items[0].Status)
	assert.Equal(t, 1, store.items[0].RetryCount)
}

func TestProcessItemDeadAfterMaxAttempts(t *testing.T) {
	store := &fakeStore{}
	provider := &fakeProvider{}
	for i := 0; i < models.ReconcileMaxAttempts; i++ {
		provider.errs = append(provider.errs, apperrors.Provider(true, "status=503", nil))
	}
	q := NewQueue(store, provider, 1)
	ctx := context.Background()

	require.NoError(t, q.EnqueueAssistantAction(ctx, testAssistant(), models.ReconcileActionDisable, "usage_limit_exceeded", 10))

	for i := 0; i < models.ReconcileMaxAttempts; i++ {
		// Each pass claims the item as if its backoff already elapsed.
		item, err := store.ClaimNext(time.Now().Add(24 * time.Hour))
		require.NoError(t, err)
		require.NotNil(t, item, "attempt %d should find a claimable item", i+1)
		q.ProcessItem(ctx, item)
	}

	got := store.items[0]
	assert.Equal(t, models.ReconcileStatusDead, got.Status)
	assert.Equal(t, models.ReconcileMaxAttempts, got.RetryCount)
	assert.Equal(t, models.ReconcileMaxAttempts, provider.calls)

	item, err := store.ClaimNext(time.Now().Add(48 * time.Hour))
	require.NoError(t, err)
	assert.Nil(t, item, "dead items must not be claimed")
}

func TestClaimNextRespectsPriorityAndDueTime(t *testing.T) {
	store := &fakeStore{}
	q := NewQueue(store, &fakeProvider{}, 1)
	ctx := context.Background()

	low := testAssistant()
	high := &models.Assistant{ID: 8, ExternalRef: "asst-ext-2", State: models.ASSISTANT_ACTIVE}
	require.NoError(t, q.EnqueueAssistantAction(ctx, low, models.ReconcileActionEnable, "quota_restored", 5))
	require.NoError(t, q.EnqueueAssistantAction(ctx, high, models.ReconcileActionDisable, "usage_limit_exceeded", 10))

	item, err := store.ClaimNext(time.Now())
	require.NoError(t, err)
	require.NotNil(t, item)
	assert.Equal(t, models.ReconcileActionDisable, item.Action)

	// The claimed item is invisible to a second claimer.
	second, err := store.ClaimNext(time.Now())
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.NotEqual(t, item.ID, second.ID)

	third, err := store.ClaimNext(time.Now())
	require.NoError(t, err)
	assert.Nil(t, third)
}

func TestStuckProcessingItemIsReleased(t *testing.T) {
	store := &fakeStore{}
	q := NewQueue(store, &fakeProvider{}, 1)
	ctx := context.Background()

	require.NoError(t, q.EnqueueAssistantAction(ctx, testAssistant(), models.ReconcileActionDisable, "usage_limit_exceeded", 10))

	// Claim as a worker would, then vanish without settling the item.
	item, err := store.ClaimNext(time.Now())
	require.NoError(t, err)
	require.NotNil(t, item)
	stale := time.Now().Add(-time.Hour)
	store.items[0].ClaimedAt = &stale

	q.releaseStuck(time.Now().Add(-stuckMaxAge))

	assert.Equal(t, models.ReconcileStatusPending, store.items[0].Status)
	reclaimed, err := store.ClaimNext(time.Now())
	require.NoError(t, err)
	require.NotNil(t, reclaimed, "released item must be claimable again")

	// A fresh claim is left alone.
	q.releaseStuck(time.Now().Add(-stuckMaxAge))
	assert.Equal(t, models.ReconcileStatusProcessing, store.items[0].Status)
}

func TestRetryDelayDoublesAndCaps(t *testing.T) {
	tests := []struct {
		retryCount int
		want       time.Duration
	}{
		{0, 30 * time.Second},
		{1, time.Minute},
		{2, 2 * time.Minute},
		{3, 4 * time.Minute},
		{5, 16 * time.Minute},
		{6, BackoffMax},
		{20, BackoffMax},
		{200, BackoffMax},
	}
	for _, tt := range tests {
		if got := RetryDelay(tt.retryCount); got != tt.want {
			t.Fatalf("RetryDelay(%d) = %s, want %s", tt.retryCount, got, tt.want)
		}
	}
}

func TestStartStopIdempotent(t *testing.T) {
	store := &fakeStore{}
	q := NewQueue(store, &fakeProvider{}, 2)

	q.Start()
	q.Start()
	q.Stop()
	q.Stop()
}
