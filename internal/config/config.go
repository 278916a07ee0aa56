// internal/config/config.go
package config

import (
	"os"
	"path/filepath"
	"time"
)

// Config is the resolved txflow configuration.
// Priority: defaults < config file < environment variables < CLI flags
type Config struct {
	Gateway    GatewayConfig    `toml:"gateway" yaml:"gateway"`
	Watcher    WatcherConfig    `toml:"watcher" yaml:"watcher"`
	Pending    PendingConfig    `toml:"pending" yaml:"pending"`
	Store      StoreConfig      `toml:"store" yaml:"store"`
	Reconciler ReconcilerConfig `toml:"reconciler" yaml:"reconciler"`
	Log        LogConfig        `toml:"log" yaml:"log"`
	Wallet     WalletConfig     `toml:"wallet" yaml:"wallet"`
}

// GatewayConfig holds the gateway endpoint settings.
type GatewayConfig struct {
	URL     string        `toml:"url" yaml:"url"`
	Token   string        `toml:"token" yaml:"token,omitempty"`
	Timeout time.Duration `toml:"timeout" yaml:"timeout"`
}

// Transport names accepted by watcher.transport.
const (
	TransportAuto   = "auto"
	TransportStream = "stream"
	TransportPoll   = "poll"
)

// WatcherConfig holds confirmation watcher settings.
type WatcherConfig struct {
	Transport     string        `toml:"transport" yaml:"transport"`
	PollInterval  time.Duration `toml:"poll_interval" yaml:"poll_interval"`
	Timeout       time.Duration `toml:"timeout" yaml:"timeout"`
	MaxReconnects int           `toml:"max_reconnects" yaml:"max_reconnects"`
}

// PendingConfig holds pending list settings.
type PendingConfig struct {
	PollInterval time.Duration `toml:"poll_interval" yaml:"poll_interval"`
	MaxItems     int           `toml:"max_items" yaml:"max_items"`
}

// StoreConfig holds the submission journal location.
type StoreConfig struct {
	Path string `toml:"path" yaml:"path"`
}

// ReconcilerConfig holds re-registration settings.
type ReconcilerConfig struct {
	Workers     int `toml:"workers" yaml:"workers"`
	MaxAttempts int `toml:"max_attempts" yaml:"max_attempts"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `toml:"level" yaml:"level"`
}

// Wallet kinds accepted by wallet.kind.
const (
	WalletDev = "dev"
	WalletEVM = "evm"
)

// WalletConfig selects and configures the signing wallet.
type WalletConfig struct {
	Kind    string `toml:"kind" yaml:"kind"`
	RPCURL  string `toml:"rpc_url" yaml:"rpc_url,omitempty"`
	ChainID int64  `toml:"chain_id" yaml:"chain_id,omitempty"`
	KeyFile string `toml:"key_file" yaml:"key_file,omitempty"`
}

// DefaultHomeDir returns the default txflow home directory.
func DefaultHomeDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".txflow")
}

// DefaultConfig returns configuration with defaults rooted at homeDir.
func DefaultConfig(homeDir string) *Config {
	if homeDir == "" {
		homeDir = DefaultHomeDir()
	}
	return &Config{
		Gateway: GatewayConfig{
			URL:     "http://127.0.0.1:8080",
			Timeout: 30 * time.Second,
		},
		Watcher: WatcherConfig{
			Transport:     TransportAuto,
			PollInterval:  4 * time.Second,
			Timeout:       10 * time.Minute,
			MaxReconnects: 5,
		},
		Pending: PendingConfig{
			PollInterval: 10 * time.Second,
			MaxItems:     50,
		},
		Store: StoreConfig{
			Path: filepath.Join(homeDir, "journal.db"),
		},
		Reconciler: ReconcilerConfig{
			Workers:     2,
			MaxAttempts: 10,
		},
		Log: LogConfig{
			Level: "info",
		},
		Wallet: WalletConfig{
			Kind: WalletDev,
		},
	}
}
