package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/altuslabsxyz/txflow/pkg/gateway"
)

// ErrStreamingUnsupported is returned when the gateway has no push endpoint.
var ErrStreamingUnsupported = errors.New("watcher: gateway does not support streaming")

// Stream is an open push channel.
type Stream interface {
	Recv(ctx context.Context) (gateway.TxStatus, error)
	Close()
}

// SubscribeFunc opens a push channel for a hash.
type SubscribeFunc func(ctx context.Context, txHash string) (Stream, error)

// ClientSubscriber adapts gateway.Client.Subscribe.
func ClientSubscriber(c *gateway.Client) SubscribeFunc {
	return func(ctx context.Context, txHash string) (Stream, error) {
		sub, err := c.Subscribe(ctx, txHash)
		if err != nil {
			return nil, err
		}
		return sub, nil
	}
}

// StreamConfig tunes reconnects.
type StreamConfig struct {
	// MaxReconnects is how many consecutive failed connections are
	// tolerated before Run gives up. A connection that delivered at least
	// one status resets the count.
	MaxReconnects int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
}

// DefaultStreamConfig returns the reconnect defaults.
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		MaxReconnects: 5,
		BaseDelay:     500 * time.Millisecond,
		MaxDelay:      15 * time.Second,
	}
}

// StreamingTransport applies pushed statuses and reconnects with
// exponential backoff when the stream breaks.
type StreamingTransport struct {
	subscribe SubscribeFunc
	config    StreamConfig
	logger    *slog.Logger
}

// NewStreamingTransport creates a streaming transport.
func NewStreamingTransport(subscribe SubscribeFunc, cfg StreamConfig) *StreamingTransport {
	def := DefaultStreamConfig()
	if cfg.MaxReconnects < 0 {
		cfg.MaxReconnects = 0
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = def.BaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = def.MaxDelay
	}
	return &StreamingTransport{subscribe: subscribe, config: cfg, logger: slog.Default()}
}

// SetLogger sets the logger.
func (s *StreamingTransport) SetLogger(logger *slog.Logger) {
	s.logger = logger
}

// Name implements Transport.
func (s *StreamingTransport) Name() string { return "stream" }

// Run implements Transport.
func (s *StreamingTransport) Run(ctx context.Context, txHash string, emit func(gateway.TxStatus)) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.config.BaseDelay
	b.MaxInterval = s.config.MaxDelay
	b.MaxElapsedTime = 0

	failures := 0
	for {
		delivered, terminal, err := s.session(ctx, txHash, emit)
		if terminal {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, ErrStreamingUnsupported) {
			return err
		}
		if delivered {
			failures = 0
			b.Reset()
		}
		failures++
		if failures > s.config.MaxReconnects {
			return fmt.Errorf("watcher: stream for %s failed after %d reconnects: %w", txHash, s.config.MaxReconnects, err)
		}

		wait := b.NextBackOff()
		s.logger.Debug("stream interrupted, reconnecting",
			"txHash", txHash,
			"attempt", failures,
			"wait", wait,
			"error", err)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// session runs one connection until it breaks or a terminal status arrives.
func (s *StreamingTransport) session(ctx context.Context, txHash string, emit func(gateway.TxStatus)) (delivered, terminal bool, err error) {
	stream, err := s.subscribe(ctx, txHash)
	if err != nil {
		if gateway.IsNotFound(err) || hasStatus(err, http.StatusNotImplemented) {
			return false, false, ErrStreamingUnsupported
		}
		return false, false, err
	}
	defer stream.Close()

	for {
		st, err := stream.Recv(ctx)
		if err != nil {
			return delivered, false, err
		}
		if st.TxHash == "" {
			st.TxHash = txHash
		}
		emit(st)
		delivered = true
		if st.State.IsTerminal() {
			return true, true, nil
		}
	}
}

func hasStatus(err error, status int) bool {
	var gwErr *gateway.Error
	return errors.As(err, &gwErr) && gwErr.StatusCode == status
}
