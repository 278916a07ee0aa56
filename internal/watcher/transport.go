package watcher

import (
	"context"
	"log/slog"
	"time"

	"github.com/altuslabsxyz/txflow/pkg/gateway"
)

// Transport delivers gateway statuses for one hash. Run calls emit in order
// from a single goroutine and returns nil once a terminal status has been
// emitted, ctx.Err() when cancelled, or an error when it cannot continue.
type Transport interface {
	Name() string
	Run(ctx context.Context, txHash string, emit func(gateway.TxStatus)) error
}

// StatusGetter is the polling endpoint.
type StatusGetter interface {
	GetStatus(ctx context.Context, txHash string) (*gateway.TxStatus, error)
}

// DefaultPollInterval is used when PollingTransport.Interval is unset.
const DefaultPollInterval = 4 * time.Second

// PollingTransport asks for the status on a fixed interval. Request
// failures are skipped until the next tick.
type PollingTransport struct {
	client   StatusGetter
	interval time.Duration
	logger   *slog.Logger
}

// NewPollingTransport creates a polling transport. A non-positive interval
// uses DefaultPollInterval.
func NewPollingTransport(client StatusGetter, interval time.Duration) *PollingTransport {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &PollingTransport{client: client, interval: interval, logger: slog.Default()}
}

// SetLogger sets the logger.
func (p *PollingTransport) SetLogger(logger *slog.Logger) {
	p.logger = logger
}

// Name implements Transport.
func (p *PollingTransport) Name() string { return "poll" }

// Run implements Transport. The first poll is immediate.
func (p *PollingTransport) Run(ctx context.Context, txHash string, emit func(gateway.TxStatus)) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		st, err := p.client.GetStatus(ctx, txHash)
		switch {
		case ctx.Err() != nil:
			return ctx.Err()
		case err != nil && gateway.IsNotFound(err):
			p.logger.Debug("status not available yet", "txHash", txHash)
		case err != nil:
			p.logger.Warn("status poll failed", "txHash", txHash, "error", err)
		default:
			emit(*st)
			if st.State.IsTerminal() {
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
