package commands

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/moltbunker/lockstake/internal/config"
	"github.com/moltbunker/lockstake/internal/identity"
	"github.com/moltbunker/lockstake/internal/ledger"
	"github.com/moltbunker/lockstake/internal/metrics"
	"github.com/moltbunker/lockstake/internal/staking"
	"golang.org/x/term"
)

// Fixed identities of the in-memory ledger.
var (
	mockAccount = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	mockStaking = common.HexToAddress("0x0000000000000000000000000000000000005afe")
)

// access says whether a command needs to sign.
type access int

const (
	readOnly access = iota
	signing
)

// env is one connected account for the lifetime of a command.
type env struct {
	cfg     *config.Config
	metrics *metrics.Collector
	manager *staking.Manager
	session *staking.Session
	release func()
}

// openEnv connects the configured account and loads its positions.
func openEnv(ctx context.Context, mode access) (*env, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	gw, release, err := openGateway(ctx, cfg, mode)
	if err != nil {
		return nil, err
	}

	m := metrics.NewCollector()
	manager := staking.NewManager(staking.NewStore(staking.WithMetrics(m)), sessionConfig(cfg), m)

	var session *staking.Session
	err = WithSpinner("Loading positions", func() error {
		var err error
		session, err = manager.Connect(ctx, gw.Account(), gw)
		return err
	})
	if err != nil {
		release()
		return nil, err
	}

	return &env{cfg: cfg, metrics: m, manager: manager, session: session, release: release}, nil
}

// Close stops the session and releases the gateway and the key.
func (e *env) Close() {
	e.manager.Disconnect()
	e.release()
}

func sessionConfig(cfg *config.Config) staking.SessionConfig {
	return staking.SessionConfig{
		Poller: staking.PollerConfig{
			Interval:       cfg.Poller.Interval,
			CallTimeout:    cfg.Poller.CallTimeout,
			MaxConcurrency: cfg.Poller.MaxConcurrency,
		},
		Stake: staking.StakeConfig{
			MinLock: time.Duration(cfg.Staking.MinLockDays) * 24 * time.Hour,
			MaxLock: time.Duration(cfg.Staking.MaxLockDays) * 24 * time.Hour,
		},
		ReconcileSchedule: cfg.Poller.ReconcileSchedule,
	}
}

func gatewayConfig(cfg *config.Config) *ledger.EthGatewayConfig {
	g := ledger.DefaultEthGatewayConfig()
	g.Client.RPCURL = cfg.Chain.RPCURL
	g.Client.ChainID = cfg.Chain.ChainID
	g.Client.BlockConfirmations = cfg.Chain.BlockConfirmations
	g.Client.MaxGasPrice = cfg.Chain.MaxGasPrice()
	g.TokenAddress = cfg.TokenAddress()
	g.StakingAddress = cfg.StakingAddress()
	g.CallTimeout = cfg.Chain.CallTimeout
	g.ConfirmTimeout = cfg.Chain.ConfirmTimeout
	g.RequestsPerSecond = cfg.Chain.RequestsPerSecond
	g.Burst = cfg.Chain.Burst
	g.ClaimableMethod = cfg.Contracts.ClaimableMethod
	g.WithdrawableMethod = cfg.Contracts.WithdrawableMethod
	return g
}

// openGateway returns the gateway for the configured account and a func
// that closes it.
func openGateway(ctx context.Context, cfg *config.Config, mode access) (ledger.Gateway, func(), error) {
	if cfg.Mock.Enabled {
		gw, err := newMockGateway(cfg)
		return gw, func() {}, err
	}

	w, err := identity.OpenWallet(cfg.Wallet.KeystoreDir, cfg.Wallet.Address)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open wallet: %w (run 'lockstake wallet create')", err)
	}

	gcfg := gatewayConfig(cfg)
	var key *ecdsa.PrivateKey
	if mode == signing {
		if key, err = unlockWallet(w, cfg); err != nil {
			return nil, nil, err
		}
	} else {
		gcfg.WatchAccount = w.Address()
	}

	var gw *ledger.EthGateway
	err = WithSpinner("Connecting to "+cfg.Chain.RPCURL, func() error {
		var err error
		gw, err = ledger.NewEthGateway(ctx, gcfg, key)
		return err
	})
	if err != nil {
		w.Lock()
		return nil, nil, err
	}
	return gw, func() {
		gw.Close()
		w.Lock()
	}, nil
}

// newMockGateway seeds an in-memory ledger with the configured balance and
// one matured position so every command has something to act on.
func newMockGateway(cfg *config.Config) (ledger.Gateway, error) {
	balance, err := ledger.ParseTokens(cfg.Mock.Balance)
	if err != nil {
		return nil, fmt.Errorf("invalid mock balance: %w", err)
	}

	m := ledger.NewMockLedger(mockStaking)
	m.SetBalance(mockAccount, balance)

	const year = 365 * 24 * 60 * 60
	stake, _ := staking.AmountForPercent(balance, 10)
	deposited := uint64(time.Now().Unix()) - year - 24*60*60
	idx := m.AddPosition(mockAccount, stake, deposited, year)
	reward, _ := staking.AmountForPercent(stake, 5)
	m.SetReward(mockAccount, idx, reward)

	return m.Gateway(mockAccount), nil
}

func unlockWallet(w *identity.Wallet, cfg *config.Config) (*ecdsa.PrivateKey, error) {
	password, err := identity.ResolvePassword(identity.PasswordSource{
		File:       cfg.Wallet.PasswordFile,
		UseKeyring: cfg.Wallet.UseKeyring,
		Prompt:     promptPassword("Wallet password for " + FormatAddress(w.Address().Hex()) + ": "),
	}, w.Address().Hex())
	if err != nil {
		return nil, err
	}

	key, err := w.Unlock(password)
	if err != nil {
		return nil, fmt.Errorf("failed to unlock wallet: %w", err)
	}
	return key, nil
}

// promptPassword reads a password from the terminal without echo. It
// yields ErrNoPassword when stdin is not a terminal.
func promptPassword(label string) func() (string, error) {
	return func() (string, error) {
		if !term.IsTerminal(int(syscall.Stdin)) {
			return "", identity.ErrNoPassword
		}
		fmt.Fprint(os.Stderr, label)
		password, err := readPasswordNoEcho()
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		return password, nil
	}
}

func readPasswordNoEcho() (string, error) {
	password, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		return "", err
	}
	return string(password), nil
}
