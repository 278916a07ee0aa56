// internal/config/file.go
package config

// FileConfig represents the raw txflow.toml file contents.
// All fields are pointers to distinguish "not set" from "set to zero/false".
type FileConfig struct {
	Gateway    FileGatewayConfig    `toml:"gateway"`
	Watcher    FileWatcherConfig    `toml:"watcher"`
	Pending    FilePendingConfig    `toml:"pending"`
	Store      FileStoreConfig      `toml:"store"`
	Reconciler FileReconcilerConfig `toml:"reconciler"`
	Log        FileLogConfig        `toml:"log"`
	Wallet     FileWalletConfig     `toml:"wallet"`
}

// FileGatewayConfig is the TOML representation of GatewayConfig.
// Durations are strings since TOML cannot decode directly to time.Duration.
type FileGatewayConfig struct {
	URL     *string `toml:"url"`
	Token   *string `toml:"token"`
	Timeout *string `toml:"timeout"`
}

// FileWatcherConfig is the TOML representation of WatcherConfig.
type FileWatcherConfig struct {
	Transport     *string `toml:"transport"`
	PollInterval  *string `toml:"poll_interval"`
	Timeout       *string `toml:"timeout"`
	MaxReconnects *int    `toml:"max_reconnects"`
}

// FilePendingConfig is the TOML representation of PendingConfig.
type FilePendingConfig struct {
	PollInterval *string `toml:"poll_interval"`
	MaxItems     *int    `toml:"max_items"`
}

// FileStoreConfig is the TOML representation of StoreConfig.
type FileStoreConfig struct {
	Path *string `toml:"path"`
}

// FileReconcilerConfig is the TOML representation of ReconcilerConfig.
type FileReconcilerConfig struct {
	Workers     *int `toml:"workers"`
	MaxAttempts *int `toml:"max_attempts"`
}

// FileLogConfig is the TOML representation of LogConfig.
type FileLogConfig struct {
	Level *string `toml:"level"`
}

// FileWalletConfig is the TOML representation of WalletConfig.
type FileWalletConfig struct {
	Kind    *string `toml:"kind"`
	RPCURL  *string `toml:"rpc_url"`
	ChainID *int64  `toml:"chain_id"`
	KeyFile *string `toml:"key_file"`
}

// IsEmpty returns true if no configuration values are set.
func (f *FileConfig) IsEmpty() bool {
	return f.Gateway.URL == nil &&
		f.Gateway.Token == nil &&
		f.Gateway.Timeout == nil &&
		f.Watcher.Transport == nil &&
		f.Watcher.PollInterval == nil &&
		f.Watcher.Timeout == nil &&
		f.Watcher.MaxReconnects == nil &&
		f.Pending.PollInterval == nil &&
		f.Pending.MaxItems == nil &&
		f.Store.Path == nil &&
		f.Reconciler.Workers == nil &&
		f.Reconciler.MaxAttempts == nil &&
		f.Log.Level == nil &&
		f.Wallet.Kind == nil &&
		f.Wallet.RPCURL == nil &&
		f.Wallet.ChainID == nil &&
		f.Wallet.KeyFile == nil
}
