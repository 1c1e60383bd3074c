package identity

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/moltbunker/lockstake/internal/logging"
)

// PasswordSource lists where a keystore password may come from, tried in
// field order.
type PasswordSource struct {
	File       string
	UseKeyring bool
	// Prompt asks the user interactively. Nil disables prompting.
	Prompt func() (string, error)
}

// ErrNoPassword is returned when no source yields a password.
var ErrNoPassword = errors.New("no wallet password available")

// ResolvePassword returns the password for address from the first source
// that has one.
func ResolvePassword(src PasswordSource, address string) (string, error) {
	if src.File != "" {
		data, err := os.ReadFile(src.File)
		if err != nil {
			return "", fmt.Errorf("failed to read password file: %w", err)
		}
		return strings.TrimRight(string(data), "\r\n"), nil
	}

	if src.UseKeyring {
		password, err := RetrieveWalletPassword(address)
		switch {
		case err != nil:
			logging.Debug("keyring unavailable", logging.Component("identity"), logging.Err(err))
		case password != "":
			return password, nil
		}
	}

	if src.Prompt != nil {
		return src.Prompt()
	}
	return "", ErrNoPassword
}
