package watcher

import (
	"context"
	"sync"
	"time"

	"github.com/altuslabsxyz/txflow/pkg/gateway"
)

// Handle is one observer of a transaction.
type Handle struct {
	w      *Watcher
	txHash string
	opts   Options
	sub    *subscription

	// deliverMu serialises callbacks for this observer.
	deliverMu sync.Mutex

	mu        sync.Mutex
	status    gateway.TxStatus
	rank      int
	completed bool
	stopped   bool
	err       error
	timer     *time.Timer
	done      chan struct{}
	closeOnce sync.Once
}

func newHandle(w *Watcher, txHash string, opts Options) *Handle {
	return &Handle{
		w:      w,
		txHash: txHash,
		opts:   opts,
		status: gateway.TxStatus{TxHash: txHash},
		done:   make(chan struct{}),
	}
}

// TxHash returns the observed hash.
func (h *Handle) TxHash() string { return h.txHash }

// Status returns the latest status delivered to this observer. Before the
// first update the state is empty.
func (h *Handle) Status() gateway.TxStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

// IsSuccess reports whether the transaction reached updated.
func (h *Handle) IsSuccess() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.completed && h.err == nil && h.status.State.IsSuccess()
}

// IsFailed reports whether the observation completed with a failure,
// including a local timeout.
func (h *Handle) IsFailed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.completed && h.err != nil
}

// Err returns the completion error, ErrCancelled, ErrClosed, or nil.
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// Done is closed when the observation completes or is cancelled.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Wait blocks until Done and returns the final status and error.
func (h *Handle) Wait(ctx context.Context) (gateway.TxStatus, error) {
	select {
	case <-h.done:
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.status, h.err
	case <-ctx.Done():
		return h.Status(), ctx.Err()
	}
}

// Cancel stops this observation without affecting other observers of the
// same hash. It is safe to call repeatedly and after completion.
func (h *Handle) Cancel() {
	if h.stop(ErrCancelled) {
		h.w.release(h)
	}
}

// stop ends the observation without callbacks. It reports whether this
// call did it.
func (h *Handle) stop(err error) bool {
	h.mu.Lock()
	if h.completed || h.stopped {
		h.mu.Unlock()
		return false
	}
	h.stopped = true
	h.err = err
	if h.timer != nil {
		h.timer.Stop()
	}
	h.mu.Unlock()
	h.closeDone()
	return true
}

func (h *Handle) closeDone() {
	h.closeOnce.Do(func() { close(h.done) })
}

func (h *Handle) startTimer(d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.completed || h.stopped {
		return
	}
	h.timer = time.AfterFunc(d, h.expire)
}

// deliver applies st if it moves this observer forward.
func (h *Handle) deliver(st gateway.TxStatus) {
	h.deliverMu.Lock()
	defer h.deliverMu.Unlock()

	h.mu.Lock()
	if h.completed || h.stopped || st.State.Rank() <= h.rank {
		h.mu.Unlock()
		return
	}
	h.rank = st.State.Rank()
	h.status = st
	terminal := st.State.IsTerminal()
	var err error
	if terminal {
		err = confirmationErr(st)
		h.completed = true
		h.err = err
		if h.timer != nil {
			h.timer.Stop()
		}
	}
	h.mu.Unlock()

	if !st.State.IsFailure() && h.opts.OnUpdate != nil {
		h.opts.OnUpdate(st)
	}
	if terminal {
		h.complete(st, err)
	}
}

// expire synthesizes a local expired outcome.
func (h *Handle) expire() {
	h.deliverMu.Lock()
	defer h.deliverMu.Unlock()

	h.mu.Lock()
	if h.completed || h.stopped {
		h.mu.Unlock()
		return
	}
	st := h.status
	st.TxHash = h.txHash
	st.State = gateway.TxStateExpired
	st.LastError = ErrTimeout.Error()
	err := &ConfirmationError{TxHash: h.txHash, State: gateway.TxStateExpired, Reason: "no terminal status before timeout", cause: ErrTimeout}
	h.status = st
	h.rank = st.State.Rank()
	h.completed = true
	h.err = err
	h.mu.Unlock()

	h.w.logger.Warn("confirmation timed out", "txHash", h.txHash)
	h.complete(st, err)
}

// abort completes the observation because the transport gave up.
func (h *Handle) abort(st gateway.TxStatus, cause error) {
	h.deliverMu.Lock()
	defer h.deliverMu.Unlock()

	h.mu.Lock()
	if h.completed || h.stopped {
		h.mu.Unlock()
		return
	}
	err := &ConfirmationError{TxHash: h.txHash, State: st.State, Reason: "confirmation unavailable", cause: cause}
	h.completed = true
	h.err = err
	if h.timer != nil {
		h.timer.Stop()
	}
	h.mu.Unlock()

	h.complete(h.Status(), err)
}

func (h *Handle) complete(st gateway.TxStatus, err error) {
	h.w.release(h)
	if h.opts.OnComplete != nil {
		h.opts.OnComplete(st, err)
	}
	h.closeDone()
}
