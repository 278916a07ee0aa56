// internal/config/loader.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// ConfigFileName is the default config file name.
const ConfigFileName = "txflow.toml"

// Environment variable names
const (
	EnvHome              = "TXFLOW_HOME"
	EnvGatewayURL        = "TXFLOW_GATEWAY_URL"
	EnvGatewayToken      = "TXFLOW_GATEWAY_TOKEN" //nolint:gosec // This is an env var name, not a credential
	EnvGatewayTimeout    = "TXFLOW_GATEWAY_TIMEOUT"
	EnvWatcherTransport  = "TXFLOW_WATCHER_TRANSPORT"
	EnvWatcherInterval   = "TXFLOW_WATCHER_POLL_INTERVAL"
	EnvWatcherTimeout    = "TXFLOW_WATCHER_TIMEOUT"
	EnvWatcherReconnects = "TXFLOW_WATCHER_MAX_RECONNECTS"
	EnvPendingInterval   = "TXFLOW_PENDING_POLL_INTERVAL"
	EnvPendingMaxItems   = "TXFLOW_PENDING_MAX_ITEMS"
	EnvStorePath         = "TXFLOW_STORE_PATH"
	EnvLogLevel          = "TXFLOW_LOG_LEVEL"
	EnvWalletKind        = "TXFLOW_WALLET_KIND"
	EnvWalletRPCURL      = "TXFLOW_WALLET_RPC_URL"
	EnvWalletChainID     = "TXFLOW_WALLET_CHAIN_ID"
	EnvWalletKeyFile     = "TXFLOW_WALLET_KEY_FILE"
	EnvReconcilerWorkers = "TXFLOW_RECONCILER_WORKERS"
	EnvReconcilerMax     = "TXFLOW_RECONCILER_MAX_ATTEMPTS"
)

// Loader loads configuration from file, environment, and applies defaults.
type Loader struct {
	homeDir    string
	configPath string // explicit config path (empty = use default)
}

// NewLoader creates a new config loader.
// homeDir is the txflow home (empty = TXFLOW_HOME or ~/.txflow).
// configPath is an explicit config file path (empty = homeDir/txflow.toml).
func NewLoader(homeDir, configPath string) *Loader {
	if homeDir == "" {
		homeDir = os.Getenv(EnvHome)
	}
	if homeDir == "" {
		homeDir = DefaultHomeDir()
	}
	return &Loader{
		homeDir:    homeDir,
		configPath: configPath,
	}
}

// HomeDir returns the resolved home directory.
func (l *Loader) HomeDir() string {
	return l.homeDir
}

// Path returns the config file the loader reads.
func (l *Loader) Path() string {
	if l.configPath != "" {
		return l.configPath
	}
	return filepath.Join(l.homeDir, ConfigFileName)
}

// Load loads configuration with priority: defaults < file < env.
// CLI flags are applied by the caller afterwards.
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig(l.homeDir)

	fileCfg, err := l.loadFile()
	if err != nil {
		return nil, err
	}
	if fileCfg != nil {
		if err := mergeFileConfig(cfg, fileCfg); err != nil {
			return nil, fmt.Errorf("%s: %w", l.Path(), err)
		}
	}

	if err := applyEnvVars(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFile returns nil when no config file exists.
func (l *Loader) loadFile() (*FileConfig, error) {
	path := l.Path()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var fileCfg FileConfig
	if err := toml.Unmarshal(data, &fileCfg); err != nil {
		return nil, fmt.Errorf("invalid TOML in %s: %w", path, err)
	}
	return &fileCfg, nil
}

// mergeFileConfig merges non-nil FileConfig values into Config.
func mergeFileConfig(cfg *Config, file *FileConfig) error {
	var errs fieldErrors

	// Gateway
	setString(&cfg.Gateway.URL, file.Gateway.URL)
	setString(&cfg.Gateway.Token, file.Gateway.Token)
	errs.duration(&cfg.Gateway.Timeout, "gateway.timeout", file.Gateway.Timeout)

	// Watcher
	setString(&cfg.Watcher.Transport, file.Watcher.Transport)
	errs.duration(&cfg.Watcher.PollInterval, "watcher.poll_interval", file.Watcher.PollInterval)
	errs.duration(&cfg.Watcher.Timeout, "watcher.timeout", file.Watcher.Timeout)
	if file.Watcher.MaxReconnects != nil {
		cfg.Watcher.MaxReconnects = *file.Watcher.MaxReconnects
	}

	// Pending
	errs.duration(&cfg.Pending.PollInterval, "pending.poll_interval", file.Pending.PollInterval)
	if file.Pending.MaxItems != nil {
		cfg.Pending.MaxItems = *file.Pending.MaxItems
	}

	setString(&cfg.Store.Path, file.Store.Path)

	if file.Reconciler.Workers != nil {
		cfg.Reconciler.Workers = *file.Reconciler.Workers
	}
	if file.Reconciler.MaxAttempts != nil {
		cfg.Reconciler.MaxAttempts = *file.Reconciler.MaxAttempts
	}

	setString(&cfg.Log.Level, file.Log.Level)

	// Wallet
	setString(&cfg.Wallet.Kind, file.Wallet.Kind)
	setString(&cfg.Wallet.RPCURL, file.Wallet.RPCURL)
	if file.Wallet.ChainID != nil {
		cfg.Wallet.ChainID = *file.Wallet.ChainID
	}
	setString(&cfg.Wallet.KeyFile, file.Wallet.KeyFile)

	return errs.err()
}

// applyEnvVars applies environment variable overrides to config.
func applyEnvVars(cfg *Config) error {
	var errs fieldErrors

	if v := os.Getenv(EnvGatewayURL); v != "" {
		cfg.Gateway.URL = v
	}
	if v := os.Getenv(EnvGatewayToken); v != "" {
		cfg.Gateway.Token = v
	}
	if v := os.Getenv(EnvGatewayTimeout); v != "" {
		errs.duration(&cfg.Gateway.Timeout, EnvGatewayTimeout, &v)
	}
	if v := os.Getenv(EnvWatcherTransport); v != "" {
		cfg.Watcher.Transport = v
	}
	if v := os.Getenv(EnvWatcherInterval); v != "" {
		errs.duration(&cfg.Watcher.PollInterval, EnvWatcherInterval, &v)
	}
	if v := os.Getenv(EnvWatcherTimeout); v != "" {
		errs.duration(&cfg.Watcher.Timeout, EnvWatcherTimeout, &v)
	}
	if v := os.Getenv(EnvWatcherReconnects); v != "" {
		errs.integer(&cfg.Watcher.MaxReconnects, EnvWatcherReconnects, v)
	}
	if v := os.Getenv(EnvPendingInterval); v != "" {
		errs.duration(&cfg.Pending.PollInterval, EnvPendingInterval, &v)
	}
	if v := os.Getenv(EnvPendingMaxItems); v != "" {
		errs.integer(&cfg.Pending.MaxItems, EnvPendingMaxItems, v)
	}
	if v := os.Getenv(EnvStorePath); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv(EnvWalletKind); v != "" {
		cfg.Wallet.Kind = v
	}
	if v := os.Getenv(EnvWalletRPCURL); v != "" {
		cfg.Wallet.RPCURL = v
	}
	if v := os.Getenv(EnvWalletChainID); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", EnvWalletChainID, err))
		} else {
			cfg.Wallet.ChainID = id
		}
	}
	if v := os.Getenv(EnvWalletKeyFile); v != "" {
		cfg.Wallet.KeyFile = v
	}
	if v := os.Getenv(EnvReconcilerWorkers); v != "" {
		errs.integer(&cfg.Reconciler.Workers, EnvReconcilerWorkers, v)
	}
	if v := os.Getenv(EnvReconcilerMax); v != "" {
		errs.integer(&cfg.Reconciler.MaxAttempts, EnvReconcilerMax, v)
	}

	return errs.err()
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

type fieldErrors []string

func (e *fieldErrors) duration(dst *time.Duration, key string, v *string) {
	if v == nil {
		return
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		*e = append(*e, fmt.Sprintf("%s: invalid duration %q", key, *v))
		return
	}
	*dst = d
}

func (e *fieldErrors) integer(dst *int, key, v string) {
	i, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		*e = append(*e, fmt.Sprintf("%s: invalid integer %q", key, v))
		return
	}
	*dst = i
}

func (e fieldErrors) err() error {
	if len(e) == 0 {
		return nil
	}
	return fmt.Errorf("invalid config:\n  - %s", strings.Join(e, "\n  - "))
}
