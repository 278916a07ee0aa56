package reconciler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/altuslabsxyz/txflow/internal/store"
	"github.com/altuslabsxyz/txflow/pkg/gateway"
)

// DefaultMaxAttempts bounds registration attempts per submission, counting
// the one made during the original execution.
const DefaultMaxAttempts = 10

// Registrar is the part of the gateway client the controller needs.
type Registrar interface {
	RegisterTx(ctx context.Context, req gateway.RegisterRequest) (*gateway.RegisterResponse, error)
}

// Tracker is told about transactions that still need confirmation once
// registration succeeds.
type Tracker interface {
	Track(status gateway.TxStatus)
}

// RegistrationController re-registers untracked submissions.
type RegistrationController struct {
	store       store.Store
	gw          Registrar
	tracker     Tracker
	maxAttempts int
	logger      *slog.Logger
}

// Option configures a RegistrationController.
type Option func(*RegistrationController)

// WithMaxAttempts overrides DefaultMaxAttempts.
func WithMaxAttempts(n int) Option {
	return func(c *RegistrationController) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

// WithTracker reports re-registered transactions to t.
func WithTracker(t Tracker) Option {
	return func(c *RegistrationController) { c.tracker = t }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *RegistrationController) { c.logger = l }
}

// NewRegistrationController creates a controller over st.
func NewRegistrationController(st store.Store, gw Registrar, opts ...Option) *RegistrationController {
	c := &RegistrationController{
		store:       st,
		gw:          gw,
		maxAttempts: DefaultMaxAttempts,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Pending reports whether sub should be reconciled.
func (c *RegistrationController) Pending(sub *store.Submission) bool {
	return sub.Phase == store.PhaseUntracked && sub.Attempts < c.maxAttempts
}

// Reconcile registers txHash with the gateway using the journaled metadata.
// Missing, registered and exhausted submissions are left alone.
func (c *RegistrationController) Reconcile(ctx context.Context, txHash string) error {
	sub, err := c.store.Get(ctx, txHash)
	if err != nil {
		if store.IsNotFound(err) {
			return nil
		}
		return err
	}
	if sub.Phase != store.PhaseUntracked {
		return nil
	}
	if sub.Attempts >= c.maxAttempts {
		c.logger.Warn("registration attempts exhausted",
			"txHash", txHash,
			"attempts", sub.Attempts,
			"lastError", sub.LastError)
		return nil
	}

	reg, regErr := c.gw.RegisterTx(ctx, gateway.RegisterRequest{
		TxHash:   sub.TxHash,
		TxType:   sub.TxType,
		Metadata: sub.Metadata,
	})
	sub.Attempts++
	if regErr != nil {
		sub.LastError = regErr.Error()
		if err := c.store.Update(ctx, sub); err != nil {
			return fmt.Errorf("journal attempt for %s: %w", txHash, err)
		}
		if sub.Attempts >= c.maxAttempts {
			c.logger.Error("giving up on registration",
				"txHash", txHash,
				"attempts", sub.Attempts,
				"error", regErr)
			return nil
		}
		return fmt.Errorf("register %s: %w", txHash, regErr)
	}

	sub.Phase = store.PhaseRegistered
	sub.LastError = ""
	sub.RequiresDBUpdate = reg.RequiresDBUpdate
	sub.RequiresOnChainConfirmation = reg.RequiresOnChainConfirmation
	if err := c.store.Update(ctx, sub); err != nil {
		return fmt.Errorf("journal registration for %s: %w", txHash, err)
	}
	c.logger.Info("untracked transaction registered",
		"txHash", txHash,
		"txType", sub.TxType,
		"attempts", sub.Attempts)

	if c.tracker != nil && reg.RequiresOnChainConfirmation {
		c.tracker.Track(gateway.TxStatus{
			TxHash: sub.TxHash,
			TxType: sub.TxType,
			State:  gateway.TxStatePending,
		})
	}
	return nil
}

// Outcome summarises one Resync pass.
type Outcome struct {
	TxHash   string
	Err      error
	Attempts int
}

// Resync reconciles every pending submission once, in journal order.
func (c *RegistrationController) Resync(ctx context.Context) ([]Outcome, error) {
	subs, err := c.store.List(ctx, store.ListOptions{Phase: store.PhaseUntracked})
	if err != nil {
		return nil, err
	}
	var out []Outcome
	for _, sub := range subs {
		if !c.Pending(sub) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return out, err
		}
		rerr := c.Reconcile(ctx, sub.TxHash)
		o := Outcome{TxHash: sub.TxHash, Err: rerr}
		if cur, err := c.store.Get(ctx, sub.TxHash); err == nil {
			o.Attempts = cur.Attempts
			if rerr == nil && cur.Phase != store.PhaseRegistered {
				o.Err = fmt.Errorf("%s", cur.LastError)
			}
		}
		out = append(out, o)
	}
	return out, nil
}

// Run feeds pending submissions from st into m until ctx is done. Existing
// submissions are replayed first, so no separate resync is needed.
func Run(ctx context.Context, st store.Store, ctrl *RegistrationController, m *Manager, workers int) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		m.Start(ctx, workers)
	}()

	// Failed attempts rewrite the submission. Those updates must not
	// requeue a key the manager is already retrying, so Enqueue drops
	// tracked keys and retries wait for the backoff delay.
	err := st.Watch(ctx, func(eventType string, sub *store.Submission) {
		if eventType == store.EventDeleted || !ctrl.Pending(sub) {
			return
		}
		m.Enqueue(sub.TxHash)
	})
	cancel()
	<-done
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
