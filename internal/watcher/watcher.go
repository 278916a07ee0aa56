// Package watcher observes the gateway confirmation state of submitted
// transactions. Observers of the same hash share one transport run; updates
// reach each observer in lifecycle order and completion is reported exactly
// once per observer.
package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/altuslabsxyz/txflow/pkg/gateway"
)

// DefaultTimeout bounds an observation when Options.Timeout is zero.
const DefaultTimeout = 10 * time.Minute

// Options configures one observation.
type Options struct {
	// OnUpdate receives pending, confirmed and updated statuses.
	OnUpdate func(gateway.TxStatus)
	// OnComplete is called exactly once with the terminal status. err is
	// nil for updated and a *ConfirmationError for failed, expired and
	// timeouts.
	OnComplete func(status gateway.TxStatus, err error)
	// Timeout bounds the wait for a terminal status. Zero uses the
	// watcher default; negative disables it.
	Timeout time.Duration
}

// Watcher is a reference-counted broker of transport runs keyed by hash.
type Watcher struct {
	transport      Transport
	logger         *slog.Logger
	defaultTimeout time.Duration

	mu     sync.Mutex
	subs   map[string]*subscription
	closed bool
	wg     sync.WaitGroup
}

type subscription struct {
	hash      string
	cancel    context.CancelFunc
	observers map[*Handle]struct{}
	latest    *gateway.TxStatus
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Watcher) { w.logger = logger }
}

// WithDefaultTimeout sets the timeout used when Options.Timeout is zero.
func WithDefaultTimeout(d time.Duration) Option {
	return func(w *Watcher) { w.defaultTimeout = d }
}

// New creates a watcher over transport.
func New(transport Transport, opts ...Option) *Watcher {
	w := &Watcher{
		transport:      transport,
		logger:         slog.Default(),
		defaultTimeout: DefaultTimeout,
		subs:           make(map[string]*subscription),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Watch starts observing txHash. If the hash is already observed, the
// existing transport run is shared and the latest known status is replayed
// to the new observer.
func (w *Watcher) Watch(txHash string, opts Options) *Handle {
	h := newHandle(w, txHash, opts)

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		h.stop(ErrClosed)
		return h
	}
	sub, shared := w.subs[txHash]
	if !shared {
		ctx, cancel := context.WithCancel(context.Background())
		sub = &subscription{
			hash:      txHash,
			cancel:    cancel,
			observers: make(map[*Handle]struct{}),
		}
		w.subs[txHash] = sub
		w.wg.Add(1)
		go w.run(ctx, sub)
	}
	sub.observers[h] = struct{}{}
	h.sub = sub
	var replay *gateway.TxStatus
	if sub.latest != nil {
		cp := *sub.latest
		replay = &cp
	}
	observers := len(sub.observers)
	w.mu.Unlock()

	w.logger.Debug("watching transaction",
		"txHash", txHash,
		"transport", w.transport.Name(),
		"shared", shared,
		"observers", observers)

	timeout := opts.Timeout
	if timeout == 0 {
		timeout = w.defaultTimeout
	}
	if timeout > 0 {
		h.startTimer(timeout)
	}
	if replay != nil {
		go h.deliver(*replay)
	}
	return h
}

func (w *Watcher) run(ctx context.Context, sub *subscription) {
	defer w.wg.Done()

	err := w.transport.Run(ctx, sub.hash, func(st gateway.TxStatus) {
		w.dispatch(sub, st)
	})

	w.mu.Lock()
	if w.subs[sub.hash] == sub {
		delete(w.subs, sub.hash)
	}
	remaining := make([]*Handle, 0, len(sub.observers))
	for h := range sub.observers {
		remaining = append(remaining, h)
	}
	sub.observers = nil
	last := sub.latest
	w.mu.Unlock()
	sub.cancel()

	if ctx.Err() != nil {
		return
	}
	if err == nil {
		if last != nil && last.State.IsTerminal() {
			return
		}
		err = ErrNoTerminal
	}

	w.logger.Warn("transport stopped", "txHash", sub.hash, "transport", w.transport.Name(), "error", err)
	st := gateway.TxStatus{TxHash: sub.hash, State: gateway.TxStatePending}
	if last != nil {
		st = *last
	}
	cause := fmt.Errorf("watcher: %s transport stopped: %w", w.transport.Name(), err)
	for _, h := range remaining {
		h.abort(st, cause)
	}
}

func (w *Watcher) dispatch(sub *subscription, st gateway.TxStatus) {
	if st.TxHash == "" {
		st.TxHash = sub.hash
	}
	if st.TxHash != sub.hash {
		w.logger.Warn("dropping status for other hash", "txHash", sub.hash, "got", st.TxHash)
		return
	}
	if !st.State.Valid() {
		w.logger.Warn("dropping status with unknown state", "txHash", sub.hash, "state", st.State)
		return
	}

	w.mu.Lock()
	if sub.latest != nil && st.State.Rank() <= sub.latest.State.Rank() {
		w.mu.Unlock()
		w.logger.Debug("dropping stale status", "txHash", sub.hash, "state", st.State, "latest", sub.latest.State)
		return
	}
	cp := st
	sub.latest = &cp
	observers := make([]*Handle, 0, len(sub.observers))
	for h := range sub.observers {
		observers = append(observers, h)
	}
	w.mu.Unlock()

	w.logger.Debug("status update", "txHash", sub.hash, "state", st.State)
	for _, h := range observers {
		h.deliver(st)
	}
}

// release drops h from its subscription and stops the transport when it
// was the last observer.
func (w *Watcher) release(h *Handle) {
	w.mu.Lock()
	sub := h.sub
	if sub == nil || sub.observers == nil {
		w.mu.Unlock()
		return
	}
	if _, ok := sub.observers[h]; !ok {
		w.mu.Unlock()
		return
	}
	delete(sub.observers, h)
	last := len(sub.observers) == 0
	if last && w.subs[sub.hash] == sub {
		delete(w.subs, sub.hash)
	}
	w.mu.Unlock()

	if last {
		w.logger.Debug("last observer left, stopping transport", "txHash", sub.hash)
		sub.cancel()
	}
}

// Active returns how many hashes have a running transport.
func (w *Watcher) Active() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.subs)
}

// Observers returns how many observers share the transport for txHash.
func (w *Watcher) Observers(txHash string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	if sub, ok := w.subs[txHash]; ok {
		return len(sub.observers)
	}
	return 0
}

// Close stops every transport. Open handles end with ErrClosed and no
// further callbacks.
func (w *Watcher) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	var handles []*Handle
	for _, sub := range w.subs {
		for h := range sub.observers {
			handles = append(handles, h)
		}
		sub.observers = nil
		sub.cancel()
	}
	w.subs = make(map[string]*subscription)
	w.mu.Unlock()

	for _, h := range handles {
		h.stop(ErrClosed)
	}
	w.wg.Wait()
}
