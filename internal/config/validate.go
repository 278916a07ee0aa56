// internal/config/validate.go
package config

import (
	"fmt"
	"net/url"
	"os"
	"slices"
	"strings"
)

// ValidLogLevels are the allowed log level values.
var ValidLogLevels = []string{"debug", "info", "warn", "error"}

// ValidTransports are the allowed watcher.transport values.
var ValidTransports = []string{TransportAuto, TransportStream, TransportPoll}

// ValidWalletKinds are the allowed wallet.kind values.
var ValidWalletKinds = []string{WalletDev, WalletEVM}

// Validate validates the configuration and returns an error listing every
// problem found.
func Validate(cfg *Config) error {
	var errs []string

	if u, err := url.Parse(cfg.Gateway.URL); err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		errs = append(errs, fmt.Sprintf("gateway.url %q must be an http(s) URL", cfg.Gateway.URL))
	}
	if cfg.Gateway.Timeout < 0 {
		errs = append(errs, "gateway.timeout must be non-negative")
	}

	if !slices.Contains(ValidTransports, cfg.Watcher.Transport) {
		errs = append(errs, fmt.Sprintf("invalid watcher.transport %q (must be one of: %s)",
			cfg.Watcher.Transport, strings.Join(ValidTransports, ", ")))
	}
	if cfg.Watcher.PollInterval <= 0 {
		errs = append(errs, "watcher.poll_interval must be positive")
	}
	if cfg.Watcher.MaxReconnects < 0 {
		errs = append(errs, "watcher.max_reconnects must be non-negative")
	}

	if cfg.Pending.PollInterval <= 0 {
		errs = append(errs, "pending.poll_interval must be positive")
	}
	if cfg.Pending.MaxItems < 1 {
		errs = append(errs, "pending.max_items must be at least 1")
	}

	if cfg.Store.Path == "" {
		errs = append(errs, "store.path is required")
	}

	if cfg.Reconciler.Workers < 1 {
		errs = append(errs, "reconciler.workers must be at least 1")
	}
	if cfg.Reconciler.MaxAttempts < 1 {
		errs = append(errs, "reconciler.max_attempts must be at least 1")
	}

	if !slices.Contains(ValidLogLevels, cfg.Log.Level) {
		errs = append(errs, fmt.Sprintf("invalid log.level %q (must be one of: %s)",
			cfg.Log.Level, strings.Join(ValidLogLevels, ", ")))
	}

	switch cfg.Wallet.Kind {
	case WalletDev:
	case WalletEVM:
		if cfg.Wallet.RPCURL == "" {
			errs = append(errs, "wallet.rpc_url is required for the evm wallet")
		}
		if cfg.Wallet.ChainID <= 0 {
			errs = append(errs, "wallet.chain_id must be positive for the evm wallet")
		}
		if cfg.Wallet.KeyFile == "" {
			errs = append(errs, "wallet.key_file is required for the evm wallet")
		} else if _, err := os.Stat(cfg.Wallet.KeyFile); os.IsNotExist(err) {
			errs = append(errs, fmt.Sprintf("wallet.key_file not found: %s", cfg.Wallet.KeyFile))
		}
	default:
		errs = append(errs, fmt.Sprintf("invalid wallet.kind %q (must be one of: %s)",
			cfg.Wallet.Kind, strings.Join(ValidWalletKinds, ", ")))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
