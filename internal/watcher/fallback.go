package watcher

import (
	"context"
	"log/slog"

	"github.com/altuslabsxyz/txflow/pkg/gateway"
)

// FallbackTransport runs Primary and switches to Secondary if Primary
// stops with an error. Statuses already delivered are re-delivered by the
// secondary and dropped by the watcher's ordering filter.
type FallbackTransport struct {
	primary   Transport
	secondary Transport
	logger    *slog.Logger
}

// NewFallbackTransport creates a fallback transport.
func NewFallbackTransport(primary, secondary Transport) *FallbackTransport {
	return &FallbackTransport{primary: primary, secondary: secondary, logger: slog.Default()}
}

// SetLogger sets the logger.
func (f *FallbackTransport) SetLogger(logger *slog.Logger) {
	f.logger = logger
}

// Name implements Transport.
func (f *FallbackTransport) Name() string {
	return f.primary.Name() + "+" + f.secondary.Name()
}

// Run implements Transport.
func (f *FallbackTransport) Run(ctx context.Context, txHash string, emit func(gateway.TxStatus)) error {
	err := f.primary.Run(ctx, txHash, emit)
	if err == nil || ctx.Err() != nil {
		return err
	}
	f.logger.Info("switching transport",
		"txHash", txHash,
		"from", f.primary.Name(),
		"to", f.secondary.Name(),
		"reason", err)
	return f.secondary.Run(ctx, txHash, emit)
}
