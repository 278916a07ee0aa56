// internal/config/config_test.go
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig("/tmp/txflow-home")

	assert.Equal(t, TransportAuto, cfg.Watcher.Transport)
	assert.Equal(t, 4*time.Second, cfg.Watcher.PollInterval)
	assert.Equal(t, 10*time.Minute, cfg.Watcher.Timeout)
	assert.Equal(t, 10*time.Second, cfg.Pending.PollInterval)
	assert.Equal(t, "/tmp/txflow-home/journal.db", cfg.Store.Path)
	assert.Equal(t, WalletDev, cfg.Wallet.Kind)
	assert.Equal(t, "info", cfg.Log.Level)
	require.NoError(t, Validate(cfg))
}

func TestFileConfigIsEmpty(t *testing.T) {
	fc := &FileConfig{}
	assert.True(t, fc.IsEmpty())

	level := "debug"
	fc.Log.Level = &level
	assert.False(t, fc.IsEmpty())
}

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, ConfigFileName)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoaderLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `
[gateway]
url = "https://gw.example.com"
timeout = "5s"

[watcher]
transport = "poll"
poll_interval = "1s"
max_reconnects = 0

[pending]
max_items = 10

[log]
level = "debug"
`)

	cfg, err := NewLoader(dir, "").Load()
	require.NoError(t, err)

	assert.Equal(t, "https://gw.example.com", cfg.Gateway.URL)
	assert.Equal(t, 5*time.Second, cfg.Gateway.Timeout)
	assert.Equal(t, TransportPoll, cfg.Watcher.Transport)
	assert.Equal(t, time.Second, cfg.Watcher.PollInterval)
	assert.Equal(t, 0, cfg.Watcher.MaxReconnects)
	assert.Equal(t, 10, cfg.Pending.MaxItems)
	assert.Equal(t, "debug", cfg.Log.Level)

	// Untouched sections keep their defaults.
	assert.Equal(t, 10*time.Second, cfg.Pending.PollInterval)
	assert.Equal(t, filepath.Join(dir, "journal.db"), cfg.Store.Path)
}

func TestLoaderMissingFileUsesDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := NewLoader(dir, "").Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(dir), cfg)
}

func TestLoaderExplicitPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.toml")
	require.NoError(t, os.WriteFile(path, []byte("[store]\npath = \"/data/j.db\"\n"), 0o644))

	l := NewLoader(t.TempDir(), path)
	assert.Equal(t, path, l.Path())
	cfg, err := l.Load()
	require.NoError(t, err)
	assert.Equal(t, "/data/j.db", cfg.Store.Path)
}

func TestLoaderInvalidTOML(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "[gateway\nurl = ")

	_, err := NewLoader(dir, "").Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid TOML")
}

func TestLoaderInvalidDuration(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "[watcher]\npoll_interval = \"soon\"\ntimeout = \"later\"\n")

	_, err := NewLoader(dir, "").Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "watcher.poll_interval")
	assert.Contains(t, err.Error(), "watcher.timeout")
}

func TestLoaderEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "[gateway]\nurl = \"http://file:1\"\n[log]\nlevel = \"warn\"\n")

	t.Setenv(EnvGatewayURL, "http://env:2")
	t.Setenv(EnvGatewayToken, "secret")
	t.Setenv(EnvWatcherTimeout, "30s")
	t.Setenv(EnvWalletChainID, "1337")

	cfg, err := NewLoader(dir, "").Load()
	require.NoError(t, err)
	assert.Equal(t, "http://env:2", cfg.Gateway.URL)
	assert.Equal(t, "secret", cfg.Gateway.Token)
	assert.Equal(t, 30*time.Second, cfg.Watcher.Timeout)
	assert.Equal(t, int64(1337), cfg.Wallet.ChainID)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoaderEnvNumericOverrides(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(EnvWatcherInterval, "1s")
	t.Setenv(EnvWatcherReconnects, "9")
	t.Setenv(EnvPendingMaxItems, "5")
	t.Setenv(EnvReconcilerWorkers, "4")
	t.Setenv(EnvReconcilerMax, "3")

	cfg, err := NewLoader(dir, "").Load()
	require.NoError(t, err)
	assert.Equal(t, time.Second, cfg.Watcher.PollInterval)
	assert.Equal(t, 9, cfg.Watcher.MaxReconnects)
	assert.Equal(t, 5, cfg.Pending.MaxItems)
	assert.Equal(t, 4, cfg.Reconciler.Workers)
	assert.Equal(t, 3, cfg.Reconciler.MaxAttempts)
}

func TestLoaderInvalidEnvIntegers(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(EnvReconcilerWorkers, "many")
	t.Setenv(EnvWatcherReconnects, "lots")

	_, err := NewLoader(dir, "").Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), EnvReconcilerWorkers)
	assert.Contains(t, err.Error(), EnvWatcherReconnects)
}

func TestLoaderHomeFromEnv(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(EnvHome, dir)

	l := NewLoader("", "")
	assert.Equal(t, dir, l.HomeDir())
	assert.Equal(t, filepath.Join(dir, ConfigFileName), l.Path())
}

func TestValidate(t *testing.T) {
	keyFile := filepath.Join(t.TempDir(), "key.hex")
	require.NoError(t, os.WriteFile(keyFile, []byte("00"), 0o600))

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr []string
	}{
		{
			name:   "defaults",
			mutate: func(*Config) {},
		},
		{
			name: "bad values",
			mutate: func(c *Config) {
				c.Gateway.URL = "ftp://x"
				c.Watcher.Transport = "carrier-pigeon"
				c.Pending.MaxItems = 0
				c.Log.Level = "loud"
			},
			wantErr: []string{"gateway.url", "watcher.transport", "pending.max_items", "log.level"},
		},
		{
			name: "evm wallet missing settings",
			mutate: func(c *Config) {
				c.Wallet.Kind = WalletEVM
			},
			wantErr: []string{"wallet.rpc_url", "wallet.chain_id", "wallet.key_file"},
		},
		{
			name: "evm wallet complete",
			mutate: func(c *Config) {
				c.Wallet = WalletConfig{Kind: WalletEVM, RPCURL: "http://rpc", ChainID: 1, KeyFile: keyFile}
			},
		},
		{
			name: "unknown wallet",
			mutate: func(c *Config) {
				c.Wallet.Kind = "paper"
			},
			wantErr: []string{"wallet.kind"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig(t.TempDir())
			tt.mutate(cfg)
			err := Validate(cfg)
			if len(tt.wantErr) == 0 {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			for _, want := range tt.wantErr {
				assert.Contains(t, err.Error(), want)
			}
		})
	}
}
