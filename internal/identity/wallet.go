// Package identity unlocks the keystore account that signs staking
// transactions.
package identity

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// ErrNoWallet is returned when the keystore holds no usable account.
var ErrNoWallet = errors.New("no wallet in keystore")

// scrypt cost parameters for new keys; lowered in tests.
var (
	scryptN = keystore.StandardScryptN
	scryptP = keystore.StandardScryptP
)

// Wallet is one keystore account.
type Wallet struct {
	keystore *keystore.KeyStore
	account  accounts.Account
	dir      string

	privateKey *ecdsa.PrivateKey
}

func openKeystore(dir string) (*keystore.KeyStore, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create keystore directory: %w", err)
	}
	return keystore.NewKeyStore(dir, scryptN, scryptP), nil
}

// OpenWallet selects address from the keystore in dir, or the first
// account when address is empty.
func OpenWallet(dir, address string) (*Wallet, error) {
	ks, err := openKeystore(dir)
	if err != nil {
		return nil, err
	}

	all := ks.Accounts()
	if len(all) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoWallet, dir)
	}
	if address == "" {
		return &Wallet{keystore: ks, account: all[0], dir: dir}, nil
	}

	want := common.HexToAddress(address)
	for _, acct := range all {
		if acct.Address == want {
			return &Wallet{keystore: ks, account: acct, dir: dir}, nil
		}
	}
	return nil, fmt.Errorf("%w: %s not found in %s", ErrNoWallet, want.Hex(), dir)
}

// CreateWallet generates a new account in dir encrypted with password.
func CreateWallet(dir, password string) (*Wallet, error) {
	ks, err := openKeystore(dir)
	if err != nil {
		return nil, err
	}

	acct, err := ks.NewAccount(password)
	if err != nil {
		return nil, fmt.Errorf("failed to create wallet: %w", err)
	}
	return &Wallet{keystore: ks, account: acct, dir: dir}, nil
}

// ImportWallet stores a hex-encoded private key in dir encrypted with
// password.
func ImportWallet(dir, privKeyHex, password string) (*Wallet, error) {
	ks, err := openKeystore(dir)
	if err != nil {
		return nil, err
	}

	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(privKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key hex: %w", err)
	}

	acct, err := ks.ImportECDSA(privateKey, password)
	if err != nil {
		return nil, fmt.Errorf("failed to import key: %w", err)
	}
	return &Wallet{keystore: ks, account: acct, dir: dir}, nil
}

// Address returns the account address
func (w *Wallet) Address() common.Address {
	return w.account.Address
}

// KeystoreDir returns the path to the keystore directory
func (w *Wallet) KeystoreDir() string {
	return w.dir
}

// Unlock decrypts the private key with password. The key is cached until
// Lock.
func (w *Wallet) Unlock(password string) (*ecdsa.PrivateKey, error) {
	if w.privateKey != nil {
		return w.privateKey, nil
	}

	keyJSON, err := os.ReadFile(w.account.URL.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}

	key, err := keystore.DecryptKey(keyJSON, password)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt key: %w", err)
	}

	w.privateKey = key.PrivateKey
	return key.PrivateKey, nil
}

// Lock zeros and drops the cached private key.
func (w *Wallet) Lock() {
	if w.privateKey != nil {
		w.privateKey.D.SetUint64(0)
		w.privateKey = nil
	}
}
