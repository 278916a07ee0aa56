package reconciler

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Controller reconciles a single key. Returning an error requeues the key
// after a per-key backoff delay.
type Controller interface {
	Reconcile(ctx context.Context, key string) error
}

// Manager runs a pool of workers draining one queue into one controller.
type Manager struct {
	ctrl   Controller
	queue  *WorkQueue
	logger *slog.Logger

	newBackOff func() backoff.BackOff
	mu         sync.Mutex
	backoffs   map[string]backoff.BackOff
	// tracking holds keys that are queued, processing or waiting out a
	// backoff delay.
	tracking map[string]struct{}

	started  atomic.Bool
	stopOnce sync.Once
	stopped  chan struct{}
}

// NewManager creates a manager for ctrl.
func NewManager(ctrl Controller) *Manager {
	return &Manager{
		ctrl:       ctrl,
		queue:      NewWorkQueue(),
		logger:     slog.Default(),
		newBackOff: defaultBackOff,
		backoffs:   make(map[string]backoff.BackOff),
		tracking:   make(map[string]struct{}),
		stopped:    make(chan struct{}),
	}
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 2 * time.Second
	b.MaxInterval = 2 * time.Minute
	b.MaxElapsedTime = 0
	return b
}

// SetLogger sets the logger for the manager.
func (m *Manager) SetLogger(logger *slog.Logger) {
	m.logger = logger
}

// SetBackOff replaces the retry delay policy. fn is called once per key.
func (m *Manager) SetBackOff(fn func() backoff.BackOff) {
	m.newBackOff = fn
}

// Enqueue schedules key for reconciliation. A key the manager is already
// tracking is ignored; its retries follow the backoff policy until it
// succeeds or is given up.
func (m *Manager) Enqueue(key string) {
	m.mu.Lock()
	if _, ok := m.tracking[key]; ok {
		m.mu.Unlock()
		return
	}
	m.tracking[key] = struct{}{}
	m.mu.Unlock()
	m.queue.Add(key)
}

// Tracking reports whether key is queued, being reconciled or waiting to be
// retried.
func (m *Manager) Tracking(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.tracking[key]
	return ok
}

// Queue returns the underlying work queue.
func (m *Manager) Queue() *WorkQueue {
	return m.queue
}

// Start runs workers until ctx is cancelled, then waits for them to exit.
func (m *Manager) Start(ctx context.Context, workers int) {
	if workers < 1 {
		workers = 1
	}
	m.started.Store(true)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			m.runWorker(ctx, workerID)
		}(i)
	}

	<-ctx.Done()
	m.queue.ShutDown()
	wg.Wait()

	m.stopOnce.Do(func() {
		close(m.stopped)
	})
}

// Stop shuts the queue down and waits for Start to return. It is a no-op
// when Start was never called.
func (m *Manager) Stop() {
	m.queue.ShutDown()
	if !m.started.Load() {
		return
	}
	<-m.stopped
}

func (m *Manager) runWorker(ctx context.Context, workerID int) {
	m.logger.Debug("worker started", "workerID", workerID)
	for {
		key, shutdown := m.queue.Get()
		if shutdown {
			m.logger.Debug("worker shutting down", "workerID", workerID)
			return
		}
		m.processItem(ctx, key)
	}
}

func (m *Manager) processItem(ctx context.Context, key string) {
	defer m.queue.Done(key)

	m.logger.Debug("reconciling", "txHash", key)
	if err := m.ctrl.Reconcile(ctx, key); err != nil {
		delay := m.nextDelay(key)
		if delay == backoff.Stop {
			m.logger.Error("reconcile failed, giving up", "txHash", key, "error", err)
			m.forget(key)
			return
		}
		m.logger.Warn("reconcile failed, requeuing",
			"txHash", key,
			"delay", delay,
			"error", err)
		m.queue.AddAfter(key, delay)
		return
	}

	m.forget(key)
	m.logger.Debug("reconcile complete", "txHash", key)
}

func (m *Manager) nextDelay(key string) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.backoffs[key]
	if !ok {
		b = m.newBackOff()
		m.backoffs[key] = b
	}
	return b.NextBackOff()
}

func (m *Manager) forget(key string) {
	m.mu.Lock()
	delete(m.backoffs, key)
	delete(m.tracking, key)
	m.mu.Unlock()
}
