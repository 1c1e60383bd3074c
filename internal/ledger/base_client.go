package ledger

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/moltbunker/lockstake/internal/logging"
	"github.com/moltbunker/lockstake/internal/util"
)

// errChainIDMismatch is permanent; dialing again will not fix it.
var errChainIDMismatch = errors.New("chain ID mismatch")

// BaseClientConfig holds configuration for the RPC client
type BaseClientConfig struct {
	RPCURL             string
	ChainID            int64
	BlockConfirmations int
	// ConfirmationPoll is how often the head is checked while waiting for
	// confirmations (default 2s).
	ConfirmationPoll time.Duration
	MaxGasPrice      *big.Int
	RetryConfig      *util.RetryConfig
}

// DefaultBaseClientConfig returns defaults for Ethereum mainnet.
func DefaultBaseClientConfig() *BaseClientConfig {
	return &BaseClientConfig{
		RPCURL:             "http://127.0.0.1:8545",
		ChainID:            1,
		BlockConfirmations: 2,
		ConfirmationPoll:   2 * time.Second,
		MaxGasPrice:        big.NewInt(200e9),
		RetryConfig:        util.DefaultRetryConfig(),
	}
}

// BaseClient owns the RPC connection, the signing key and the nonce counter
// for one account.
type BaseClient struct {
	config     *BaseClientConfig
	client     *ethclient.Client
	privateKey *ecdsa.PrivateKey
	address    common.Address
	chainID    *big.Int

	nonceMu      sync.Mutex
	pendingNonce uint64

	connected bool
	mu        sync.RWMutex
}

// NewBaseClient creates a client. privateKey may be nil for read-only use.
func NewBaseClient(config *BaseClientConfig, privateKey *ecdsa.PrivateKey) *BaseClient {
	if config == nil {
		config = DefaultBaseClientConfig()
	}

	bc := &BaseClient{
		config:     config,
		privateKey: privateKey,
		chainID:    big.NewInt(config.ChainID),
	}
	if privateKey != nil {
		bc.address = crypto.PubkeyToAddress(privateKey.PublicKey)
	}
	return bc
}

// Connect dials the RPC endpoint, verifies the chain ID and primes the nonce.
func (bc *BaseClient) Connect(ctx context.Context) error {
	bc.mu.Lock()
	defer bc.mu.Unlock()

	retryCfg := *util.DefaultRetryConfig()
	if bc.config.RetryConfig != nil {
		retryCfg = *bc.config.RetryConfig
	}
	retryCfg.RetryIf = func(err error) bool { return !errors.Is(err, errChainIDMismatch) }

	client, result := util.RetryWithValue(ctx, &retryCfg, func() (*ethclient.Client, error) {
		c, err := ethclient.DialContext(ctx, bc.config.RPCURL)
		if err != nil {
			return nil, err
		}
		chainID, err := c.ChainID(ctx)
		if err != nil {
			c.Close()
			return nil, err
		}
		if chainID.Cmp(bc.chainID) != 0 {
			c.Close()
			return nil, fmt.Errorf("%w: expected %d, got %d", errChainIDMismatch, bc.chainID, chainID)
		}
		return c, nil
	})
	if result.LastError != nil {
		return Unavailable("connect", fmt.Errorf("failed to connect to %s after %d attempts: %w",
			bc.config.RPCURL, result.Attempts, result.LastError))
	}
	bc.client = client

	if bc.privateKey != nil {
		nonce, err := client.PendingNonceAt(ctx, bc.address)
		if err != nil {
			client.Close()
			bc.client = nil
			return Classify("connect", fmt.Errorf("failed to get nonce: %w", err))
		}
		bc.pendingNonce = nonce
	}

	bc.connected = true
	logging.Info("connected to ledger RPC",
		logging.Component("base-client"),
		"chain_id", bc.chainID.String(),
		"attempts", result.Attempts)
	return nil
}

// Close closes the connection
func (bc *BaseClient) Close() {
	bc.mu.Lock()
	defer bc.mu.Unlock()

	if bc.client != nil {
		bc.client.Close()
		bc.client = nil
	}
	bc.connected = false
}

// IsConnected returns true if connected
func (bc *BaseClient) IsConnected() bool {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	return bc.connected
}

// Client returns the underlying ethclient
func (bc *BaseClient) Client() *ethclient.Client {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	return bc.client
}

// Address returns the signing address (zero when read-only)
func (bc *BaseClient) Address() common.Address {
	return bc.address
}

// ChainID returns the expected chain ID
func (bc *BaseClient) ChainID() *big.Int {
	return bc.chainID
}

// CanSign reports whether a private key is configured.
func (bc *BaseClient) CanSign() bool {
	return bc.privateKey != nil
}

// GetTransactOpts creates signing options with the next local nonce and a
// capped gas price.
func (bc *BaseClient) GetTransactOpts(ctx context.Context) (*bind.TransactOpts, error) {
	if bc.privateKey == nil {
		return nil, Rejected("sign", fmt.Errorf("no private key configured"))
	}

	client := bc.Client()
	if client == nil {
		return nil, Unavailable("sign", fmt.Errorf("not connected"))
	}

	gasPrice, err := client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, Classify("sign", fmt.Errorf("failed to get gas price: %w", err))
	}
	if bc.config.MaxGasPrice != nil && gasPrice.Cmp(bc.config.MaxGasPrice) > 0 {
		gasPrice = new(big.Int).Set(bc.config.MaxGasPrice)
	}

	auth, err := bind.NewKeyedTransactorWithChainID(bc.privateKey, bc.chainID)
	if err != nil {
		return nil, Rejected("sign", fmt.Errorf("failed to create transactor: %w", err))
	}
	auth.Context = ctx
	auth.GasPrice = gasPrice

	bc.nonceMu.Lock()
	auth.Nonce = new(big.Int).SetUint64(bc.pendingNonce)
	bc.pendingNonce++
	bc.nonceMu.Unlock()

	return auth, nil
}

// WaitForTransaction waits for tx to be mined and until it has the
// configured number of confirmations, the inclusion block counting as the
// first. A failed receipt is returned with a nil error; callers inspect
// receipt.Status.
func (bc *BaseClient) WaitForTransaction(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	client := bc.Client()
	if client == nil {
		return nil, Unavailable("wait", fmt.Errorf("not connected"))
	}

	receipt, err := bind.WaitMined(ctx, client, tx)
	if err != nil {
		return nil, fmt.Errorf("failed waiting for transaction %s: %w", tx.Hash().Hex(), err)
	}
	if receipt.Status == types.ReceiptStatusFailed || bc.config.BlockConfirmations <= 0 {
		return receipt, nil
	}

	poll := bc.config.ConfirmationPoll
	if poll <= 0 {
		poll = 2 * time.Second
	}
	target := confirmationTarget(receipt.BlockNumber.Uint64(), bc.config.BlockConfirmations)

	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return receipt, ctx.Err()
		case <-ticker.C:
			head, err := client.BlockNumber(ctx)
			if err != nil {
				continue
			}
			if head >= target {
				return receipt, nil
			}
		}
	}
}

// confirmationTarget returns the head height at which a receipt mined in
// block has confirmations confirmations.
func confirmationTarget(block uint64, confirmations int) uint64 {
	if confirmations <= 1 {
		return block
	}
	return block + uint64(confirmations-1)
}

// SyncNonce resets the local nonce from the node, used after a failed send
// so a burned nonce does not stall later transactions.
func (bc *BaseClient) SyncNonce(ctx context.Context) error {
	client := bc.Client()
	if client == nil {
		return Unavailable("sync nonce", fmt.Errorf("not connected"))
	}

	nonce, err := client.PendingNonceAt(ctx, bc.address)
	if err != nil {
		return Classify("sync nonce", fmt.Errorf("failed to get nonce: %w", err))
	}

	bc.nonceMu.Lock()
	bc.pendingNonce = nonce
	bc.nonceMu.Unlock()
	return nil
}
