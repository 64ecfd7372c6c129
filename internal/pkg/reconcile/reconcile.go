// Package reconcile runs the durable queue that mirrors local assistant
// state changes onto the external voice provider. Enqueueing happens in the
// webhook request path; draining happens on background workers with capped
// exponential backoff so provider outages delay reconciliation rather than
// lose it.
package reconcile

import (
	"context"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"

	"github.com/mhertel/voxgate/app/models"
	"github.com/mhertel/voxgate/internal/pkg/apperrors"
)

const (
	// BackoffBase is the delay before the first retry; each further retry
	// doubles it up to BackoffMax.
	BackoffBase = 30 * time.Second
	BackoffMax  = 30 * time.Minute

	idlePollDelay = time.Second

	// stuckMaxAge bounds how long an item may sit in processing before
	// the sweeper assumes its worker died and releases the claim.
	stuckMaxAge   = 10 * time.Minute
	sweepInterval = time.Minute
)

// Store is the slice of the reconciliation repository the queue needs.
type Store interface {
	EnqueueIfNotPending(item *models.ReconciliationItem) (bool, error)
	ClaimNext(now time.Time) (*models.ReconciliationItem, error)
	MarkProcessed(id uint) error
	ScheduleRetry(id uint, retryCount int, lastError string, nextAttemptAt time.Time) error
	MarkDead(id uint, retryCount int, lastError string) error
	ReleaseStuck(olderThan time.Time) (int64, error)
}

// ProviderClient applies one reconciliation action on the voice provider.
type ProviderClient interface {
	ApplyAssistantAction(ctx context.Context, externalRef string, action string, payload map[string]interface{}) error
}

// Queue enqueues reconciliation items and drains them with a worker pool.
type Queue struct {
	store    Store
	provider ProviderClient
	workers  int

	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// NewQueue creates a reconciliation queue with the given worker count.
func NewQueue(store Store, provider ProviderClient, workers int) *Queue {
	if workers <= 0 {
		workers = 2
	}
	return &Queue{
		store:    store,
		provider: provider,
		workers:  workers,
		stopCh:   make(chan struct{}),
	}
}

// EnqueueAssistantAction records that the assistant's provider-side state
// must be reconciled. Duplicate pending work for the same assistant and
// action collapses into the existing item.
func (q *Queue) EnqueueAssistantAction(ctx context.Context, assistant *models.Assistant, action, reason string, priority int) error {
	item := &models.ReconciliationItem{
		PublicID:      uuid.New().String(),
		AssistantID:   assistant.ID,
		ExternalRef:   assistant.ExternalRef,
		Action:        action,
		Reason:        reason,
		Priority:      priority,
		Status:        models.ReconcileStatusPending,
		NextAttemptAt: time.Now(),
	}
	enqueued, err := q.store.EnqueueIfNotPending(item)
	if err != nil {
		return apperrors.Persistence("reconciliation enqueue failed", err)
	}
	if !enqueued {
		log.Debugf("[Reconcile] %s for assistant %d already queued", action, assistant.ID)
		return nil
	}
	log.Infof("[Reconcile] Queued %s for assistant %d (%s)", action, assistant.ID, reason)
	return nil
}

// Start launches the worker pool. Safe to call once per process.
func (q *Queue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.running {
		return
	}
	q.running = true

	log.Infof("[Reconcile] Starting %d workers", q.workers)
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(i)
	}

	// Recovers items stranded in processing by a crashed worker.
	q.wg.Add(1)
	go q.stuckSweeper()
}

// Stop signals the workers and waits for in-flight items to finish.
func (q *Queue) Stop() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.running {
		return
	}

	log.Info("[Reconcile] Stopping workers...")
	close(q.stopCh)
	q.running = false
	q.wg.Wait()
	log.Info("[Reconcile] All workers stopped")
}

func (q *Queue) worker(id int) {
	defer q.wg.Done()
	log.Infof("[Reconcile] Worker %d started", id)

	ctx := context.Background()

	for {
		select {
		case <-q.stopCh:
			log.Infof("[Reconcile] Worker %d stopping", id)
			return
		default:
			item, err := q.store.ClaimNext(time.Now())
			if err != nil {
				log.Errorf("[Reconcile] Worker %d: claim error: %v", id, err)
				q.sleep(idlePollDelay)
				continue
			}
			if item == nil {
				q.sleep(idlePollDelay)
				continue
			}
			q.ProcessItem(ctx, item)
		}
	}
}

// stuckSweeper periodically returns items stuck in processing to the
// pending pool. A worker crash or hard restart after ClaimNext would
// otherwise leave the claim in place forever and the action unapplied.
func (q *Queue) stuckSweeper() {
	defer q.wg.Done()
	log.Infof("[Reconcile] Stuck sweeper running (maxAge=%s, interval=%s)", stuckMaxAge, sweepInterval)
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-q.stopCh:
			log.Info("[Reconcile] Stuck sweeper stopping")
			return
		case <-ticker.C:
			q.releaseStuck(time.Now().Add(-stuckMaxAge))
		}
	}
}

func (q *Queue) releaseStuck(olderThan time.Time) {
	released, err := q.store.ReleaseStuck(olderThan)
	if err != nil {
		log.Errorf("[Reconcile] Stuck sweep failed: %v", err)
		return
	}
	if released > 0 {
		log.Warnf("[Reconcile] Released %d stuck items back to pending", released)
	}
}

// sleep waits for d or until the queue is stopped.
func (q *Queue) sleep(d time.Duration) {
	select {
	case <-q.stopCh:
	case <-time.After(d):
	}
}

// ProcessItem executes one claimed item against the provider and settles
// its queue status.
func (q *Queue) ProcessItem(ctx context.Context, item *models.ReconciliationItem) {
	err := q.provider.ApplyAssistantAction(ctx, item.ExternalRef, item.Action, nil)
	if err == nil {
		if merr := q.store.MarkProcessed(item.ID); merr != nil {
			log.Errorf("[Reconcile] Failed to mark item %s processed: %v", item.PublicID, merr)
			return
		}
		log.Infof("[Reconcile] %s for assistant %d done (attempt %d)", item.Action, item.AssistantID, item.RetryCount+1)
		return
	}

	attempts := item.RetryCount + 1
	if attempts >= models.ReconcileMaxAttempts || !apperrors.IsRetryable(err) {
		if merr := q.store.MarkDead(item.ID, attempts, err.Error()); merr != nil {
			log.Errorf("[Reconcile] Failed to mark item %s dead: %v", item.PublicID, merr)
			return
		}
		log.Errorf("[Reconcile] %s for assistant %d dead after %d attempts: %v", item.Action, item.AssistantID, attempts, err)
		return
	}

	delay := RetryDelay(item.RetryCount)
	if serr := q.store.ScheduleRetry(item.ID, attempts, err.Error(), time.Now().Add(delay)); serr != nil {
		log.Errorf("[Reconcile] Failed to schedule retry for item %s: %v", item.PublicID, serr)
		return
	}
	log.Warnf("[Reconcile] %s for assistant %d failed (attempt %d/%d), retry in %s: %v",
		item.Action, item.AssistantID, attempts, models.ReconcileMaxAttempts, delay, err)
}

// RetryDelay returns the backoff before the next attempt after the given
// number of completed attempts: base, 2x, 4x, ... capped at BackoffMax.
func RetryDelay(retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	// Shift overflow guard; the cap is reached long before 63 doublings.
	if retryCount > 62 {
		return BackoffMax
	}
	delay := BackoffBase << uint(retryCount)
	if delay > BackoffMax || delay <= 0 {
		return BackoffMax
	}
	return delay
}
