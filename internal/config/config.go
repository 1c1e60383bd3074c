package config

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Config represents the complete lockstake configuration
type Config struct {
	Chain     ChainConfig     `yaml:"chain"`
	Contracts ContractsConfig `yaml:"contracts"`
	Wallet    WalletConfig    `yaml:"wallet"`
	Poller    PollerConfig    `yaml:"poller"`
	Staking   StakingConfig   `yaml:"staking"`
	Log       LogConfig       `yaml:"log"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Mock      MockConfig      `yaml:"mock"`
}

// ChainConfig contains RPC and transaction settings
type ChainConfig struct {
	RPCURL             string        `yaml:"rpc_url"`
	ChainID            int64         `yaml:"chain_id"`
	BlockConfirmations int           `yaml:"block_confirmations"`
	MaxGasGwei         int64         `yaml:"max_gas_gwei"`
	CallTimeout        time.Duration `yaml:"call_timeout"`    // bound on every read
	ConfirmTimeout     time.Duration `yaml:"confirm_timeout"` // writes past this are reported pending
	RequestsPerSecond  float64       `yaml:"requests_per_second"`
	Burst              int           `yaml:"burst"`
}

// MaxGasPrice returns the gas price cap in wei.
func (c ChainConfig) MaxGasPrice() *big.Int {
	return new(big.Int).Mul(big.NewInt(c.MaxGasGwei), big.NewInt(1e9))
}

// ContractsConfig contains contract addresses and predicate method names
type ContractsConfig struct {
	TokenAddress       string `yaml:"token_address"`
	StakingAddress     string `yaml:"staking_address"`
	ClaimableMethod    string `yaml:"claimable_method"`
	WithdrawableMethod string `yaml:"withdrawable_method"`
}

// WalletConfig contains keystore settings
type WalletConfig struct {
	KeystoreDir  string `yaml:"keystore_dir"`
	Address      string `yaml:"address"`       // account to unlock; first keystore account if empty
	PasswordFile string `yaml:"password_file"` // file containing the keystore password
	UseKeyring   bool   `yaml:"use_keyring"`   // look the password up in the OS keyring
}

// PollerConfig contains reward polling settings
type PollerConfig struct {
	Interval          time.Duration `yaml:"interval"`
	CallTimeout       time.Duration `yaml:"call_timeout"`
	MaxConcurrency    int           `yaml:"max_concurrency"`
	ReconcileSchedule string        `yaml:"reconcile_schedule"` // cron spec, empty disables
}

// StakingConfig bounds the lock periods accepted by stake
type StakingConfig struct {
	MinLockDays int `yaml:"min_lock_days"`
	MaxLockDays int `yaml:"max_lock_days"`
}

// LogConfig contains logging settings
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "text"
}

// MetricsConfig contains the Prometheus listener used by watch
type MetricsConfig struct {
	Addr string `yaml:"addr"` // empty disables
}

// MockConfig runs the CLI against an in-memory ledger
type MockConfig struct {
	Enabled bool   `yaml:"enabled"`
	Balance string `yaml:"balance"` // starting balance in whole tokens
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	baseDir := filepath.Join(homeDir, ".lockstake")

	return &Config{
		Chain: ChainConfig{
			RPCURL:             "https://mainnet.base.org",
			ChainID:            8453,
			BlockConfirmations: 2,
			MaxGasGwei:         200,
			CallTimeout:        15 * time.Second,
			ConfirmTimeout:     2 * time.Minute,
			RequestsPerSecond:  10,
			Burst:              20,
		},
		Contracts: ContractsConfig{
			ClaimableMethod:    "getStakeClaimable",
			WithdrawableMethod: "getStakeClaimable",
		},
		Wallet: WalletConfig{
			KeystoreDir: filepath.Join(baseDir, "keystore"),
			UseKeyring:  true,
		},
		Poller: PollerConfig{
			Interval:       10 * time.Second,
			CallTimeout:    5 * time.Second,
			MaxConcurrency: 8,
		},
		Staking: StakingConfig{
			MinLockDays: 30,
			MaxLockDays: 365,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Addr: "127.0.0.1:9464",
		},
		Mock: MockConfig{
			Balance: "1000",
		},
	}
}

// Load loads configuration from file, falling back to defaults when the
// file does not exist.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	path = expandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.expandPaths()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Save saves configuration to file
func (c *Config) Save(path string) error {
	path = expandPath(path)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Chain.ChainID <= 0 {
		return fmt.Errorf("chain_id must be positive, got %d", c.Chain.ChainID)
	}
	if c.Chain.BlockConfirmations < 0 {
		return fmt.Errorf("block_confirmations must not be negative")
	}
	if c.Chain.CallTimeout <= 0 || c.Chain.ConfirmTimeout <= 0 {
		return fmt.Errorf("call_timeout and confirm_timeout must be positive")
	}
	if c.Chain.RequestsPerSecond < 0 {
		return fmt.Errorf("requests_per_second must not be negative")
	}

	if c.Poller.Interval < time.Second {
		return fmt.Errorf("poller interval must be at least 1s, got %s", c.Poller.Interval)
	}
	if c.Poller.MaxConcurrency < 1 {
		return fmt.Errorf("poller max_concurrency must be at least 1")
	}
	if c.Poller.ReconcileSchedule != "" {
		if _, err := cron.ParseStandard(c.Poller.ReconcileSchedule); err != nil {
			return fmt.Errorf("invalid reconcile_schedule %q: %w", c.Poller.ReconcileSchedule, err)
		}
	}

	if c.Staking.MinLockDays < 1 || c.Staking.MaxLockDays < c.Staking.MinLockDays {
		return fmt.Errorf("lock days must satisfy 1 <= min_lock_days <= max_lock_days, got %d..%d",
			c.Staking.MinLockDays, c.Staking.MaxLockDays)
	}

	if c.Log.Format != "json" && c.Log.Format != "text" {
		return fmt.Errorf("invalid log format: %s", c.Log.Format)
	}

	if c.Mock.Enabled {
		return nil
	}

	if c.Chain.RPCURL == "" {
		return fmt.Errorf("rpc_url is required when mock is disabled")
	}
	if err := validateEthAddress("token_address", c.Contracts.TokenAddress); err != nil {
		return err
	}
	if err := validateEthAddress("staking_address", c.Contracts.StakingAddress); err != nil {
		return err
	}
	if c.Wallet.Address != "" {
		if err := validateEthAddress("wallet address", c.Wallet.Address); err != nil {
			return err
		}
	}
	return nil
}

// TokenAddress returns the parsed token contract address.
func (c *Config) TokenAddress() common.Address {
	return common.HexToAddress(c.Contracts.TokenAddress)
}

// StakingAddress returns the parsed staking contract address.
func (c *Config) StakingAddress() common.Address {
	return common.HexToAddress(c.Contracts.StakingAddress)
}

// validateEthAddress checks that addr is a non-zero 0x-prefixed address.
func validateEthAddress(name, addr string) error {
	if addr == "" {
		return fmt.Errorf("%s is required when mock is disabled", name)
	}
	if !strings.HasPrefix(addr, "0x") && !strings.HasPrefix(addr, "0X") {
		return fmt.Errorf("%s must start with 0x, got %q", name, addr)
	}
	hexPart := addr[2:]
	if len(hexPart) != 40 {
		return fmt.Errorf("%s must be 42 characters (0x + 40 hex), got %d", name, len(addr))
	}
	if _, err := hex.DecodeString(hexPart); err != nil {
		return fmt.Errorf("%s contains invalid hex characters: %w", name, err)
	}
	if common.HexToAddress(addr) == (common.Address{}) {
		return fmt.Errorf("%s must not be the zero address", name)
	}
	return nil
}

// expandPaths expands ~ in all path fields
func (c *Config) expandPaths() {
	c.Wallet.KeystoreDir = expandPath(c.Wallet.KeystoreDir)
	c.Wallet.PasswordFile = expandPath(c.Wallet.PasswordFile)
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(homeDir, path[2:])
	}
	return path
}

// DefaultConfigPath returns the default config file path
func DefaultConfigPath() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".lockstake", "config.yaml")
}
