// Package queue implements a durable offline sync queue: submissions are
// persisted at enqueue time and replayed through a caller-supplied sync
// function under a bounded-retry policy whenever connectivity allows.
package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/fieldsync/go-fieldsync/kv"
	"github.com/fieldsync/go-fieldsync/reachability"
)

const defaultMaxRetries = 3

// SyncFunc pushes one queued item to the backend. A nil return marks the
// item synced; any error leaves it pending for a later pass.
type SyncFunc[T any] func(ctx context.Context, item SyncItem[T]) error

// Config ...
type Config[T any] struct {
	// Key identifies this queue in the persistent store. Two queue
	// instances sharing a store must use distinct keys.
	Key string
	// MaxRetries caps sync attempts per item. Defaults to 3. An
	// exhausted item stays in the queue but is skipped by future passes.
	MaxRetries int
	// SyncFunc is invoked once per eligible item during a pass.
	SyncFunc SyncFunc[T]
	// OnBatchDone, if set, receives the per-item results of each pass.
	OnBatchDone func(results []ItemSyncResult)
}

// Queue owns the persisted item list. All mutation goes through the
// queue; the store is rewritten in full after every change.
type Queue[T any] struct {
	config       Config[T]
	store        itemStore[T]
	connectivity reachability.Provider
	envRepo      env.Repository
	logger       log.Logger

	mu          sync.Mutex
	items       []SyncItem[T]
	syncing     bool
	lastSyncErr error
}

// NewQueue loads any previously persisted items and returns a queue
// ready to accept submissions.
func NewQueue[T any](
	config Config[T],
	store kv.Store,
	connectivity reachability.Provider,
	envRepo env.Repository,
	logger log.Logger,
) (*Queue[T], error) {
	if config.Key == "" {
		return nil, fmt.Errorf("queue key should not be empty")
	}
	if config.SyncFunc == nil {
		return nil, fmt.Errorf("sync function should not be nil")
	}
	if config.MaxRetries == 0 {
		config.MaxRetries = defaultMaxRetries
	}
	if config.MaxRetries < 0 {
		return nil, fmt.Errorf("max retries should not be negative")
	}

	q := &Queue[T]{
		config:       config,
		store:        itemStore[T]{key: config.Key, store: store, logger: logger},
		connectivity: connectivity,
		envRepo:      envRepo,
		logger:       logger,
	}
	q.items = q.store.load()
	return q, nil
}

// Enqueue persists a new item and returns its id without waiting for the
// sync outcome. If the device is online and no pass is running, a pass is
// kicked off in the background.
func (q *Queue[T]) Enqueue(data T, photos []PhotoRef) string {
	now := time.Now().UTC()
	item := SyncItem[T]{
		ID:          newItemID(now),
		Data:        data,
		CreatedAt:   now,
		SyncPending: true,
		Photos:      photos,
	}

	q.mu.Lock()
	q.items = append(q.items, item)
	if err := q.store.save(q.items); err != nil {
		// The next mutation rewrites the full list, so the item is only
		// at risk until then.
		q.logger.Warnf("persist after enqueue: %s", err)
	}
	shouldSync := q.connectivity.IsOnline() && !q.syncing
	q.mu.Unlock()

	if shouldSync {
		go q.SyncPending(context.Background())
	}
	return item.ID
}

// SyncPending runs one sync pass: every pending item below the retry cap
// is handed to the sync function sequentially, in enqueue order. The
// call is a no-op when offline, when a pass is already running, or when
// nothing is eligible. Sync failures never propagate out of the pass;
// they only increment the failing item's retry count.
func (q *Queue[T]) SyncPending(ctx context.Context) {
	if !q.connectivity.IsOnline() {
		q.logger.Debugf("Device is offline, skipping sync pass")
		return
	}

	q.mu.Lock()
	if q.syncing {
		q.mu.Unlock()
		return
	}
	q.items = reconcile(q.store.load(), q.items)
	eligible := make([]string, 0, len(q.items))
	for _, item := range q.items {
		if item.SyncPending && item.RetryCount < q.config.MaxRetries {
			eligible = append(eligible, item.ID)
		}
	}
	if len(eligible) == 0 {
		q.mu.Unlock()
		return
	}
	q.syncing = true
	q.mu.Unlock()

	defer func() {
		q.mu.Lock()
		q.syncing = false
		q.mu.Unlock()
	}()

	tracker := newPassTracker(q.config.Key, q.envRepo, q.logger)
	defer tracker.wait()

	q.logger.Infof("Syncing %d pending item(s)", len(eligible))
	passStart := time.Now()

	results := make([]ItemSyncResult, 0, len(eligible))
	synced := 0
	for _, id := range eligible {
		q.mu.Lock()
		item, ok := itemByID(q.items, id)
		q.mu.Unlock()
		if !ok {
			// Removed while the pass was running.
			continue
		}

		err := q.runSyncFunc(ctx, item)
		now := time.Now().UTC()

		q.mu.Lock()
		for i := range q.items {
			if q.items[i].ID != id {
				continue
			}
			if err == nil {
				q.items[i].SyncPending = false
				q.items[i].SyncedAt = &now
			} else {
				q.items[i].RetryCount++
				if q.items[i].RetryCount >= q.config.MaxRetries {
					q.logger.Warnf("Item %s exhausted its %d retries", id, q.config.MaxRetries)
					tracker.logItemExhausted(q.items[i].RetryCount)
				}
			}
			break
		}
		q.mu.Unlock()

		if err == nil {
			synced++
		} else {
			q.logger.Warnf("Sync of item %s failed: %s", id, err)
			q.setLastSyncError(err)
		}
		results = append(results, ItemSyncResult{ItemID: id, Synced: err == nil, Err: err})
	}

	q.mu.Lock()
	if err := q.store.save(q.items); err != nil {
		q.logger.Warnf("persist after sync pass: %s", err)
	}
	pendingLeft := countPending(q.items)
	q.mu.Unlock()

	duration := time.Since(passStart)
	tracker.logPassCompleted(duration, len(results), synced, pendingLeft)
	q.logger.Donef("Sync pass done in %s: %d synced, %d failed, %d still pending",
		duration.Round(time.Millisecond), synced, len(results)-synced, pendingLeft)

	if q.config.OnBatchDone != nil {
		q.config.OnBatchDone(results)
	}
}

// Remove deletes the item with the given id and reports whether it was
// found. Exhausted items are removed the same way once the caller has
// surfaced them.
func (q *Queue[T]) Remove(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, item := range q.items {
		if item.ID == id {
			q.items = append(q.items[:i], q.items[i+1:]...)
			if err := q.store.save(q.items); err != nil {
				q.logger.Warnf("persist after remove: %s", err)
			}
			return true
		}
	}
	return false
}

// Clear drops every item, synced or not.
func (q *Queue[T]) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.items = nil
	if err := q.store.clear(); err != nil {
		q.logger.Warnf("clear persisted queue: %s", err)
	}
}

// Items returns a snapshot of the queue in enqueue order.
func (q *Queue[T]) Items() []SyncItem[T] {
	q.mu.Lock()
	defer q.mu.Unlock()

	items := make([]SyncItem[T], len(q.items))
	copy(items, q.items)
	return items
}

// PendingCount is the number of items still waiting to sync, including
// exhausted ones. Intended for offline indicators in a UI.
func (q *Queue[T]) PendingCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return countPending(q.items)
}

// LastSyncError returns the most recent item-level sync failure, or nil.
func (q *Queue[T]) LastSyncError() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.lastSyncErr
}

// IsSyncing reports whether a sync pass is currently active.
func (q *Queue[T]) IsSyncing() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.syncing
}

func (q *Queue[T]) runSyncFunc(ctx context.Context, item SyncItem[T]) (err error) {
	// A panicking sync function must not take down the scheduler
	// goroutine; it counts as a failed attempt like any other error.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sync function panicked: %v", r)
		}
	}()
	return q.config.SyncFunc(ctx, item)
}

func (q *Queue[T]) setLastSyncError(err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.lastSyncErr = err
}

// reconcile merges the persisted list with in-memory state. Persisted
// items win on order; in-memory items whose persist failed earlier are
// appended so they are not lost.
func reconcile[T any](persisted, memory []SyncItem[T]) []SyncItem[T] {
	if len(persisted) == 0 {
		return memory
	}
	known := make(map[string]struct{}, len(persisted))
	for _, item := range persisted {
		known[item.ID] = struct{}{}
	}
	merged := persisted
	for _, item := range memory {
		if _, ok := known[item.ID]; !ok {
			merged = append(merged, item)
		}
	}
	return merged
}

func itemByID[T any](items []SyncItem[T], id string) (SyncItem[T], bool) {
	for _, item := range items {
		if item.ID == id {
			return item, true
		}
	}
	var zero SyncItem[T]
	return zero, false
}

func countPending[T any](items []SyncItem[T]) int {
	pending := 0
	for _, item := range items {
		if item.SyncPending {
			pending++
		}
	}
	return pending
}
