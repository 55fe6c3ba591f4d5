// Package sync converts user intents recorded while (possibly) offline into
// confirmed remote effects, with bounded resource use and at-least-once
// delivery.
//
// The durable pending-mutation queue in the store is the source of truth;
// the in-memory working queue is rebuilt from it at Init. Delivery gives
// a liveness guarantee rather than a strict per-trigger one: eventually,
// given enough online time, the queue drains to empty.
package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/farmsight/sync-engine/internal/connectivity"
	"github.com/farmsight/sync-engine/internal/store"
	"github.com/farmsight/sync-engine/internal/transport"
	"github.com/farmsight/sync-engine/internal/worker"
)

const (
	// DefaultBatchSize is the number of mutations dispatched concurrently
	// per drain batch
	DefaultBatchSize = 10

	// DefaultMaxRetries is the per-mutation retry budget
	DefaultMaxRetries = 3

	// DefaultBackoffBase is the base retry delay; a mutation's effective
	// delay is the base multiplied by its retry count
	DefaultBackoffBase = 2 * time.Second

	// backgroundSyncTag names the background-sync registration requested
	// from the worker when mutations are enqueued offline
	backgroundSyncTag = "pending-mutations"
)

//go:generate mockgen -destination=mocks/mock_queue.go -package=mocks -source=coordinator.go Queue

// Queue is the durable mutation queue consumed by the coordinator,
// implemented by the persistent store
type Queue interface {
	AppendMutation(ctx context.Context, m *store.PendingMutation) error
	PendingMutations(ctx context.Context) ([]*store.PendingMutation, error)
	UpdateMutationRetry(ctx context.Context, id string, retryCount int, nextAttempt time.Time) error
	DeleteMutation(ctx context.Context, id string) error
	ClearPending(ctx context.Context) error
	MoveToDeadLetter(ctx context.Context, m *store.PendingMutation, reason string) error
}

// Status is the aggregate surface polled by the UI to render offline and
// sync banners. No per-operation error detail is exposed.
type Status struct {
	IsSyncing    bool `json:"isSyncing"`
	PendingCount int  `json:"pendingCount"`
	IsOnline     bool `json:"isOnline"`
}

// Coordinator owns the pending-mutation queue and drains it against the
// remote transport when triggered by connectivity, visibility, background
// sync, or an explicit caller.
type Coordinator struct {
	queue     Queue
	transport transport.Transport
	conn      connectivity.Observer
	worker    *worker.Manager

	batchSize  int
	maxRetries int
	baseDelay  time.Duration

	// isSyncing makes the drain non-reentrant: a trigger arriving while a
	// pass is in flight is coalesced, relying on the next trigger for
	// liveness rather than queueing passes.
	isSyncing atomic.Bool
	pending   atomic.Int64

	mu         sync.Mutex
	memory     []*store.PendingMutation
	retryTimer *time.Timer

	trigger chan struct{}
}

// Option configures the coordinator
type Option func(*Coordinator)

// WithWorker attaches a worker lifecycle manager so background-sync can be
// requested as an additional trigger source
func WithWorker(m *worker.Manager) Option {
	return func(c *Coordinator) {
		c.worker = m
	}
}

// WithBatchSize sets the per-batch dispatch width
func WithBatchSize(n int) Option {
	return func(c *Coordinator) {
		c.batchSize = n
	}
}

// WithMaxRetries sets the per-mutation retry budget
func WithMaxRetries(n int) Option {
	return func(c *Coordinator) {
		c.maxRetries = n
	}
}

// WithBackoffBase sets the base retry delay
func WithBackoffBase(d time.Duration) Option {
	return func(c *Coordinator) {
		c.baseDelay = d
	}
}

// New creates a coordinator with injected dependencies
func New(queue Queue, t transport.Transport, conn connectivity.Observer, opts ...Option) *Coordinator {
	c := &Coordinator{
		queue:      queue,
		transport:  t,
		conn:       conn,
		batchSize:  DefaultBatchSize,
		maxRetries: DefaultMaxRetries,
		baseDelay:  DefaultBackoffBase,
		trigger:    make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Init rebuilds the in-memory working queue from durable storage
func (c *Coordinator) Init(ctx context.Context) error {
	pending, err := c.queue.PendingMutations(ctx)
	if err != nil {
		return fmt.Errorf("failed to rebuild working queue: %w", err)
	}

	c.mu.Lock()
	c.memory = pending
	c.mu.Unlock()
	c.pending.Store(int64(len(pending)))

	if len(pending) > 0 {
		slog.Info("Rebuilt pending mutation queue", "count", len(pending))
	}
	return nil
}

// Enqueue durably records a user intent and, when online, triggers a
// best-effort immediate drain. The durable write strictly precedes the
// return, so no caller can acknowledge the action before the record exists.
func (c *Coordinator) Enqueue(ctx context.Context, typ store.MutationType, payload json.RawMessage) (*store.PendingMutation, error) {
	if !typ.Valid() {
		return nil, fmt.Errorf("unknown mutation type %q", typ)
	}

	m := &store.PendingMutation{
		ID:             uuid.NewString(),
		Type:           typ,
		Payload:        payload,
		IdempotencyKey: uuid.NewString(),
		EnqueuedAt:     time.Now().UTC(),
	}

	if err := c.queue.AppendMutation(ctx, m); err != nil {
		return nil, fmt.Errorf("failed to record mutation: %w", err)
	}

	c.mu.Lock()
	c.memory = append(c.memory, m)
	c.mu.Unlock()
	c.pending.Add(1)

	slog.Debug("Mutation enqueued", "id", m.ID, "type", m.Type)

	if c.conn.Online() {
		c.TriggerSync()
	} else if c.worker != nil {
		// Ask the worker to fire when connectivity returns; foreground
		// triggers still apply if this is unsupported.
		if err := c.worker.RequestBackgroundSync(backgroundSyncTag); err != nil {
			slog.Debug("Background sync unavailable", "error", err)
		}
	}

	return m, nil
}

// TriggerSync requests a drain pass. The request is coalesced with any
// already-pending trigger.
func (c *Coordinator) TriggerSync() {
	select {
	case c.trigger <- struct{}{}:
	default:
	}
}

// Run processes triggers until ctx is cancelled: explicit TriggerSync
// calls, connectivity regained, visibility regained while online, and
// worker background-sync messages.
func (c *Coordinator) Run(ctx context.Context) error {
	events := c.conn.Subscribe()
	defer c.conn.Unsubscribe(events)

	var workerMsgs <-chan worker.Message
	if c.worker != nil {
		workerMsgs = c.worker.Messages()
	}

	if c.conn.Online() && c.PendingCount() > 0 {
		c.TriggerSync()
	}

	for {
		select {
		case <-c.trigger:
			c.drain(ctx)
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			switch ev {
			case connectivity.EventOnline:
				c.drain(ctx)
			case connectivity.EventVisible:
				if c.conn.Online() {
					c.drain(ctx)
				}
			case connectivity.EventOffline:
				// In-flight dispatches are not cancelled; their
				// failures reschedule as usual.
			}
		case msg := <-workerMsgs:
			if msg.Kind == worker.KindSyncStart || msg.Kind == worker.KindSyncComplete {
				c.drain(ctx)
			}
		case <-ctx.Done():
			return nil
		}
	}
}

// drain delivers due mutations in batches until none remain due. A second
// trigger while a pass is in flight is dropped; the next connectivity or
// visibility event re-triggers.
func (c *Coordinator) drain(ctx context.Context) {
	if !c.isSyncing.CompareAndSwap(false, true) {
		slog.Debug("Sync already in flight, coalescing trigger")
		return
	}
	defer c.isSyncing.Store(false)

	for {
		batch := c.nextBatch()
		if len(batch) == 0 {
			break
		}

		slog.Debug("Dispatching sync batch", "size", len(batch))

		// Outcomes are independent: one failing mutation never aborts
		// the batch, so every goroutine reports success to the group.
		g := new(errgroup.Group)
		for _, m := range batch {
			g.Go(func() error {
				c.dispatch(ctx, m)
				return nil
			})
		}
		_ = g.Wait()

		if ctx.Err() != nil {
			break
		}
	}

	c.scheduleRetry()
}

// nextBatch returns up to batchSize mutations eligible now, in enqueue order
func (c *Coordinator) nextBatch() []*store.PendingMutation {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	var batch []*store.PendingMutation
	for _, m := range c.memory {
		if m.NextAttempt != nil && m.NextAttempt.After(now) {
			continue
		}
		batch = append(batch, m)
		if len(batch) == c.batchSize {
			break
		}
	}
	return batch
}

// dispatch delivers one mutation and settles its outcome: durable eviction
// on success, rescheduled retry on failure, dead-letter beyond the budget
func (c *Coordinator) dispatch(ctx context.Context, m *store.PendingMutation) {
	err := c.transport.Deliver(ctx, m)
	if err == nil {
		// Durable removal strictly after confirmed success.
		if derr := c.queue.DeleteMutation(ctx, m.ID); derr != nil {
			// The next pass redelivers; the server's idempotency
			// absorbs the duplicate.
			slog.Error("Failed to evict delivered mutation", "id", m.ID, "error", derr)
			c.deferInMemory(m)
			return
		}
		c.remove(m.ID)
		slog.Debug("Mutation delivered", "id", m.ID, "type", m.Type)
		return
	}

	retryCount := m.RetryCount + 1
	if retryCount > c.maxRetries {
		slog.Warn("Mutation permanently failed, moving to dead letters",
			"id", m.ID,
			"type", m.Type,
			"attempts", retryCount,
			"error", err)
		c.mu.Lock()
		m.RetryCount = retryCount
		c.mu.Unlock()
		if dlerr := c.queue.MoveToDeadLetter(ctx, m, err.Error()); dlerr != nil {
			slog.Error("Failed to dead-letter mutation", "id", m.ID, "error", dlerr)
			c.deferInMemory(m)
			return
		}
		c.remove(m.ID)
		return
	}

	nextAttempt := time.Now().Add(c.baseDelay * time.Duration(retryCount))
	if uerr := c.queue.UpdateMutationRetry(ctx, m.ID, retryCount, nextAttempt); uerr != nil {
		slog.Error("Failed to persist mutation retry", "id", m.ID, "error", uerr)
		c.deferInMemory(m)
		return
	}

	c.mu.Lock()
	m.RetryCount = retryCount
	m.NextAttempt = &nextAttempt
	c.mu.Unlock()

	slog.Debug("Mutation delivery failed, rescheduled",
		"id", m.ID,
		"retry", retryCount,
		"next_attempt", nextAttempt,
		"error", err)
}

// deferInMemory postpones a mutation in the working queue only, so a
// storage failure while settling an outcome cannot spin the drain loop.
// The durable record is untouched; a later pass retries the settle.
func (c *Coordinator) deferInMemory(m *store.PendingMutation) {
	next := time.Now().Add(c.baseDelay)
	c.mu.Lock()
	m.NextAttempt = &next
	c.mu.Unlock()
}

// remove drops a settled mutation from the working queue
func (c *Coordinator) remove(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, m := range c.memory {
		if m.ID == id {
			c.memory = append(c.memory[:i], c.memory[i+1:]...)
			c.pending.Add(-1)
			return
		}
	}
}

// scheduleRetry arms a timer for the earliest future retry so a drain pass
// fires without waiting for an external trigger
func (c *Coordinator) scheduleRetry() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}

	now := time.Now()
	var earliest *time.Time
	for _, m := range c.memory {
		if m.NextAttempt == nil || !m.NextAttempt.After(now) {
			continue
		}
		if earliest == nil || m.NextAttempt.Before(*earliest) {
			earliest = m.NextAttempt
		}
	}
	if earliest == nil {
		return
	}

	c.retryTimer = time.AfterFunc(time.Until(*earliest), c.TriggerSync)
}

// ClearPending drops every pending mutation and cancels any scheduled
// retry timer. Used on logout.
func (c *Coordinator) ClearPending(ctx context.Context) error {
	c.mu.Lock()
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
	c.memory = nil
	c.mu.Unlock()
	c.pending.Store(0)

	if err := c.queue.ClearPending(ctx); err != nil {
		return fmt.Errorf("failed to clear pending mutations: %w", err)
	}
	return nil
}

// PendingCount returns the working queue depth
func (c *Coordinator) PendingCount() int {
	return int(c.pending.Load())
}

// Status returns the aggregate sync status surface
func (c *Coordinator) Status() Status {
	return Status{
		IsSyncing:    c.isSyncing.Load(),
		PendingCount: c.PendingCount(),
		IsOnline:     c.conn.Online(),
	}
}
