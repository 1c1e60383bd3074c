package identity

import (
	"errors"
	"fmt"
	"runtime"
	"strings"

	"github.com/99designs/keyring"
)

const keyringServiceName = "lockstake"

// walletPasswordKey names the keyring item for one account.
func walletPasswordKey(address string) string {
	return "wallet-password:" + strings.ToLower(address)
}

// StoreWalletPassword stores the keystore password of address in the
// platform keyring. On macOS: Keychain. On Linux: Secret Service (GNOME
// Keyring / KDE Wallet). Returns the backend name on success.
func StoreWalletPassword(address, password string) (string, error) {
	ring, backend, err := openKeyring()
	if err != nil {
		return "", err
	}

	err = ring.Set(keyring.Item{
		Key:         walletPasswordKey(address),
		Data:        []byte(password),
		Label:       "lockstake wallet password",
		Description: "Keystore password for staking account " + address,
	})
	if err != nil {
		return "", fmt.Errorf("failed to store in %s: %w", backend, err)
	}

	return backend, nil
}

// RetrieveWalletPassword retrieves the password of address from the
// platform keyring. Returns ("", nil) if the keyring is available but no
// password is stored, and ("", error) if the keyring is not available.
func RetrieveWalletPassword(address string) (string, error) {
	ring, _, err := openKeyring()
	if err != nil {
		return "", err
	}

	item, err := ring.Get(walletPasswordKey(address))
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}

	return string(item.Data), nil
}

// DeleteWalletPassword removes the password of address from the platform keyring.
func DeleteWalletPassword(address string) error {
	ring, _, err := openKeyring()
	if err != nil {
		return err
	}
	err = ring.Remove(walletPasswordKey(address))
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return nil
	}
	return err
}

// platformKeyring names the keyring backends tried on one OS.
type platformKeyring struct {
	name     string
	backends []keyring.BackendType
}

var platformKeyrings = map[string]platformKeyring{
	"darwin": {"macOS Keychain", []keyring.BackendType{keyring.KeychainBackend}},
	"linux": {"Secret Service (GNOME Keyring / KDE Wallet)", []keyring.BackendType{
		keyring.SecretServiceBackend,
		keyring.KWalletBackend,
	}},
}

// openKeyring opens the keyring of the running OS and returns its name.
func openKeyring() (keyring.Keyring, string, error) {
	platform, ok := platformKeyrings[runtime.GOOS]
	if !ok {
		return nil, "", fmt.Errorf("no keyring backend available on %s", runtime.GOOS)
	}

	ring, err := keyring.Open(keyring.Config{
		ServiceName:                    keyringServiceName,
		AllowedBackends:                platform.backends,
		KeychainTrustApplication:       true,
		KeychainAccessibleWhenUnlocked: true,
		KWalletAppID:                   keyringServiceName,
		KWalletFolder:                  keyringServiceName,
		LibSecretCollectionName:        "login",
	})
	if err != nil {
		return nil, "", fmt.Errorf("failed to open %s: %w", platform.name, err)
	}
	return ring, platform.name, nil
}
