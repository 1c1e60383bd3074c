package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const (
	testToken   = "0x1111111111111111111111111111111111111111"
	testStaking = "0x2222222222222222222222222222222222222222"
)

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.Contracts.TokenAddress = testToken
	cfg.Contracts.StakingAddress = testStaking
	return cfg
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Poller.Interval != 10*time.Second {
		t.Errorf("expected default poll interval 10s, got %s", cfg.Poller.Interval)
	}
	if cfg.Staking.MinLockDays != 30 || cfg.Staking.MaxLockDays != 365 {
		t.Errorf("expected lock bounds 30..365, got %d..%d", cfg.Staking.MinLockDays, cfg.Staking.MaxLockDays)
	}
	if cfg.Chain.ChainID != 8453 {
		t.Errorf("expected chain ID 8453 (Base mainnet), got %d", cfg.Chain.ChainID)
	}
	if cfg.Contracts.ClaimableMethod != "getStakeClaimable" || cfg.Contracts.WithdrawableMethod != "getStakeClaimable" {
		t.Errorf("unexpected predicate methods %q/%q", cfg.Contracts.ClaimableMethod, cfg.Contracts.WithdrawableMethod)
	}
	if cfg.Log.Format != "text" {
		t.Errorf("expected default log format 'text', got %s", cfg.Log.Format)
	}
	if got := cfg.Chain.MaxGasPrice().String(); got != "200000000000" {
		t.Errorf("MaxGasPrice = %s, want 200 gwei", got)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"mock skips addresses", func(c *Config) {
			c.Mock.Enabled = true
			c.Contracts.TokenAddress = ""
			c.Contracts.StakingAddress = ""
		}, ""},
		{"missing token", func(c *Config) { c.Contracts.TokenAddress = "" }, "token_address is required"},
		{"short staking", func(c *Config) { c.Contracts.StakingAddress = "0x1234" }, "42 characters"},
		{"no prefix", func(c *Config) { c.Contracts.StakingAddress = strings.Repeat("a", 42) }, "must start with 0x"},
		{"bad hex", func(c *Config) { c.Contracts.TokenAddress = "0x" + strings.Repeat("z", 40) }, "invalid hex"},
		{"zero address", func(c *Config) { c.Contracts.TokenAddress = "0x" + strings.Repeat("0", 40) }, "zero address"},
		{"bad chain id", func(c *Config) { c.Chain.ChainID = 0 }, "chain_id"},
		{"fast poller", func(c *Config) { c.Poller.Interval = 100 * time.Millisecond }, "at least 1s"},
		{"no concurrency", func(c *Config) { c.Poller.MaxConcurrency = 0 }, "max_concurrency"},
		{"inverted lock bounds", func(c *Config) { c.Staking.MinLockDays = 400 }, "lock days"},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }, "log format"},
		{"bad schedule", func(c *Config) { c.Poller.ReconcileSchedule = "every now and then" }, "reconcile_schedule"},
		{"every schedule", func(c *Config) { c.Poller.ReconcileSchedule = "@every 5m" }, ""},
		{"cron schedule", func(c *Config) { c.Poller.ReconcileSchedule = "*/10 * * * *" }, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Poller.Interval != 10*time.Second {
		t.Error("expected defaults for a missing file")
	}
}

func TestLoad_ParsesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
chain:
  rpc_url: http://localhost:8545
  chain_id: 31337
  call_timeout: 3s
contracts:
  token_address: ` + testToken + `
  staking_address: ` + testStaking + `
  withdrawable_method: getStakeClaimable
poller:
  interval: 30s
  reconcile_schedule: "@every 10m"
staking:
  min_lock_days: 7
log:
  format: json
`
	if err := os.WriteFile(path, []byte(data), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Chain.ChainID != 31337 || cfg.Chain.CallTimeout != 3*time.Second {
		t.Errorf("chain = %+v", cfg.Chain)
	}
	if cfg.Poller.Interval != 30*time.Second || cfg.Poller.ReconcileSchedule != "@every 10m" {
		t.Errorf("poller = %+v", cfg.Poller)
	}
	// unset keys keep their defaults
	if cfg.Poller.MaxConcurrency != 8 || cfg.Staking.MaxLockDays != 365 {
		t.Errorf("defaults lost: %+v %+v", cfg.Poller, cfg.Staking)
	}
	if cfg.StakingAddress().Hex() != "0x2222222222222222222222222222222222222222" {
		t.Errorf("StakingAddress = %s", cfg.StakingAddress().Hex())
	}
}

func TestLoad_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("log:\n  format: xml\nmock:\n  enabled: true\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "invalid configuration") {
		t.Errorf("Load() = %v, want invalid configuration", err)
	}

	if err := os.WriteFile(path, []byte("chain: [unclosed"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "failed to parse") {
		t.Errorf("Load() = %v, want parse error", err)
	}
}

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := validConfig()
	cfg.Poller.Interval = 20 * time.Second
	cfg.Wallet.UseKeyring = false

	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("config file mode = %v, want 0600", info.Mode().Perm())
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Poller.Interval != 20*time.Second || loaded.Wallet.UseKeyring {
		t.Errorf("round trip lost values: %+v %+v", loaded.Poller, loaded.Wallet)
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	if got := expandPath("~/keys"); got != filepath.Join(home, "keys") {
		t.Errorf("expandPath(~/keys) = %s", got)
	}
	if got := expandPath("/abs/keys"); got != "/abs/keys" {
		t.Errorf("expandPath(/abs/keys) = %s", got)
	}
}
