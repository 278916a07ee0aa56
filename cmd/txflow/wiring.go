// cmd/txflow/wiring.go
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/altuslabsxyz/txflow/internal/config"
	"github.com/altuslabsxyz/txflow/internal/output"
	"github.com/altuslabsxyz/txflow/internal/pending"
	"github.com/altuslabsxyz/txflow/internal/reconciler"
	"github.com/altuslabsxyz/txflow/internal/store"
	"github.com/altuslabsxyz/txflow/internal/watcher"
	"github.com/altuslabsxyz/txflow/pkg/gateway"
	"github.com/altuslabsxyz/txflow/pkg/wallet"
	"github.com/altuslabsxyz/txflow/pkg/wallet/evm"
)

func (a *app) gatewayClient() *gateway.Client {
	opts := []gateway.Option{
		gateway.WithLogger(a.logger),
		gateway.WithHTTPClient(&http.Client{Timeout: a.cfg.Gateway.Timeout}),
	}
	if token := a.cfg.Gateway.Token; token != "" {
		opts = append(opts, gateway.WithToken(func() string { return token }))
	}
	return gateway.New(a.cfg.Gateway.URL, opts...)
}

func (a *app) transport(c *gateway.Client) watcher.Transport {
	poll := watcher.NewPollingTransport(c, a.cfg.Watcher.PollInterval)
	poll.SetLogger(a.logger)

	sc := watcher.DefaultStreamConfig()
	sc.MaxReconnects = a.cfg.Watcher.MaxReconnects
	stream := watcher.NewStreamingTransport(watcher.ClientSubscriber(c), sc)
	stream.SetLogger(a.logger)

	switch a.cfg.Watcher.Transport {
	case config.TransportPoll:
		return poll
	case config.TransportStream:
		return stream
	default:
		fb := watcher.NewFallbackTransport(stream, poll)
		fb.SetLogger(a.logger)
		return fb
	}
}

func (a *app) watcher(c *gateway.Client) *watcher.Watcher {
	return watcher.New(a.transport(c),
		watcher.WithLogger(a.logger),
		watcher.WithDefaultTimeout(a.cfg.Watcher.Timeout))
}

func (a *app) registry(c *gateway.Client) *pending.Registry {
	return pending.New(c, pending.WithLogger(a.logger))
}

// openStore opens the journal, creating its directory if needed.
func (a *app) openStore() (*store.BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(a.cfg.Store.Path), 0o700); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}
	return store.NewBoltStore(a.cfg.Store.Path)
}

func (a *app) registrationController(st store.Store, c *gateway.Client, opts ...reconciler.Option) *reconciler.RegistrationController {
	opts = append([]reconciler.Option{
		reconciler.WithMaxAttempts(a.cfg.Reconciler.MaxAttempts),
		reconciler.WithLogger(a.logger),
	}, opts...)
	return reconciler.NewRegistrationController(st, c, opts...)
}

// wallet builds the configured wallet. Unless autoApprove is set, signing
// asks for confirmation on the terminal.
func (a *app) wallet(autoApprove bool) (wallet.Wallet, error) {
	switch a.cfg.Wallet.Kind {
	case config.WalletEVM:
		key, err := evm.LoadKeyFile(a.cfg.Wallet.KeyFile)
		if err != nil {
			return nil, err
		}
		approve := evm.AutoApprove
		if !autoApprove {
			approve = func(ctx context.Context, s evm.Summary) (bool, error) {
				return output.Confirm(output.SigningPrompt(s.TxType, map[string]string{
					"from":  s.From,
					"to":    s.To,
					"value": s.Value.String(),
					"gas":   strconv.FormatUint(s.Gas, 10),
				}))
			}
		}
		w, err := evm.New(evm.Config{
			RPCEndpoint: a.cfg.Wallet.RPCURL,
			ChainID:     strconv.FormatInt(a.cfg.Wallet.ChainID, 10),
			PrivKey:     key,
		}, approve)
		if err != nil {
			return nil, err
		}
		a.logger.Debug("using evm wallet", "address", w.Address())
		return w, nil
	default:
		m := wallet.NewMock()
		if !autoApprove {
			m.BeforeSign = func(ctx context.Context) error {
				ok, err := output.Confirm(fmt.Sprintf("Sign with dev wallet %s", m.Address))
				if err != nil {
					return err
				}
				if !ok {
					return wallet.ErrUserDeclined
				}
				return nil
			}
		}
		return m, nil
	}
}
