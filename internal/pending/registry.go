// Package pending lists the session user's open transactions. Feeds poll
// the gateway on an interval and merge in transactions submitted locally
// that the gateway has not listed yet.
package pending

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/altuslabsxyz/txflow/internal/optimistic"
	"github.com/altuslabsxyz/txflow/pkg/gateway"
)

// ErrUnauthenticated ends a feed when the session is gone.
var ErrUnauthenticated = errors.New("pending: session is not authenticated")

// DefaultPollInterval is used when Options.PollInterval is unset.
const DefaultPollInterval = 10 * time.Second

// Lister is the gateway's pending endpoint.
type Lister interface {
	ListPending(ctx context.Context) ([]gateway.TxStatus, error)
}

// Options configures a feed.
type Options struct {
	PollInterval time.Duration
	// MaxItems truncates every snapshot. Zero means no limit.
	MaxItems int
}

// Registry creates feeds and holds optimistic entries shared by them.
type Registry struct {
	lister  Lister
	session func() bool
	logger  *slog.Logger
	local   *optimistic.Set[string, gateway.TxStatus]

	mu    sync.Mutex
	feeds map[*Feed]struct{}
}

// Option configures a Registry.
type Option func(*Registry)

// WithSession sets the authentication check consulted before every fetch.
func WithSession(authenticated func() bool) Option {
	return func(r *Registry) { r.session = authenticated }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) { r.logger = logger }
}

// New creates a registry over lister.
func New(lister Lister, opts ...Option) *Registry {
	r := &Registry{
		lister: lister,
		logger: slog.Default(),
		local:  optimistic.New(func(st gateway.TxStatus) string { return st.TxHash }),
		feeds:  make(map[*Feed]struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Track shows st in every feed until the gateway lists it.
func (r *Registry) Track(st gateway.TxStatus) {
	if st.State == "" {
		st.State = gateway.TxStatePending
	}
	r.local.Add(st)
	r.refreshAll()
}

// Forget hides hash from every feed, typically once its watcher completed.
func (r *Registry) Forget(txHash string) {
	r.local.Remove(txHash)
	r.refreshAll()
}

func (r *Registry) refreshAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for f := range r.feeds {
		f.refresh()
	}
}

// List starts a feed. It polls immediately and then every interval until
// ctx is done, Stop is called, or the session ends.
func (r *Registry) List(ctx context.Context, opts Options) *Feed {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	ctx, cancel := context.WithCancel(ctx)
	f := &Feed{
		r:         r,
		opts:      opts,
		updates:   make(chan []gateway.TxStatus, 1),
		refreshCh: make(chan struct{}, 1),
		cancel:    cancel,
		done:      make(chan struct{}),
	}

	r.mu.Lock()
	r.feeds[f] = struct{}{}
	r.mu.Unlock()

	go f.run(ctx)
	return f
}

func (r *Registry) detach(f *Feed) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.feeds, f)
}

func (r *Registry) authenticated() bool {
	return r.session == nil || r.session()
}

// Feed is a live list of pending transactions.
type Feed struct {
	r         *Registry
	opts      Options
	updates   chan []gateway.TxStatus
	refreshCh chan struct{}
	cancel    context.CancelFunc
	done      chan struct{}

	mu       sync.Mutex
	snapshot []gateway.TxStatus
	err      error
}

// Updates delivers snapshots. Only the latest unread snapshot is kept; the
// channel is closed when the feed stops.
func (f *Feed) Updates() <-chan []gateway.TxStatus { return f.updates }

// Snapshot returns the latest list.
func (f *Feed) Snapshot() []gateway.TxStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]gateway.TxStatus(nil), f.snapshot...)
}

// Err returns why the feed stopped: ErrUnauthenticated, or nil after
// Stop or cancellation.
func (f *Feed) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

// Done is closed when the feed stops.
func (f *Feed) Done() <-chan struct{} { return f.done }

// Stop ends polling and waits for the feed to stop.
func (f *Feed) Stop() {
	f.cancel()
	<-f.done
}

func (f *Feed) refresh() {
	select {
	case f.refreshCh <- struct{}{}:
	default:
	}
}

func (f *Feed) run(ctx context.Context) {
	defer close(f.done)
	defer close(f.updates)
	defer f.r.detach(f)
	defer f.cancel()

	ticker := time.NewTicker(f.opts.PollInterval)
	defer ticker.Stop()

	due := true
	for {
		if due {
			if err := f.fetch(ctx); err != nil {
				f.mu.Lock()
				f.err = err
				f.mu.Unlock()
				f.r.logger.Info("pending feed stopped", "reason", err)
				return
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			due = true
		case <-f.refreshCh:
			// Optimistic change: republish without fetching.
			f.publish()
			due = false
		}
	}
}

// fetch polls once. Only session loss is returned; transient failures keep
// the previous snapshot.
func (f *Feed) fetch(ctx context.Context) error {
	if !f.r.authenticated() {
		return ErrUnauthenticated
	}
	list, err := f.r.lister.ListPending(ctx)
	switch {
	case ctx.Err() != nil:
		return nil
	case gateway.IsUnauthorized(err):
		return ErrUnauthenticated
	case gateway.IsNotFound(err):
		list = nil
	case err != nil:
		f.r.logger.Warn("pending fetch failed", "error", err)
		return nil
	}

	f.r.local.Reconcile(list)
	f.publish()
	return nil
}

func (f *Feed) publish() {
	merged := f.r.local.Merged()
	if f.opts.MaxItems > 0 && len(merged) > f.opts.MaxItems {
		merged = merged[:f.opts.MaxItems]
	}
	if merged == nil {
		merged = []gateway.TxStatus{}
	}

	f.mu.Lock()
	f.snapshot = merged
	f.mu.Unlock()

	out := append([]gateway.TxStatus(nil), merged...)
	select {
	case f.updates <- out:
	default:
		// Replace the unread snapshot.
		select {
		case <-f.updates:
		default:
		}
		f.updates <- out
	}
}
