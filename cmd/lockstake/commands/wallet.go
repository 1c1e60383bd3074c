package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/moltbunker/lockstake/internal/identity"
	"github.com/spf13/cobra"
)

const (
	minPasswordLen = 8
	maxAttempts    = 3
)

// NewWalletCmd creates the wallet command group
func NewWalletCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "wallet",
		Short: "Manage the staking account keystore",
		Long: `Manage the Ethereum account that signs approve, deposit, claim and
withdraw transactions.

The account is stored as an encrypted keystore file (geth V3 format).
The keystore password can be kept in your platform keyring:
  macOS: Keychain
  Linux: GNOME Keyring / KDE Wallet

Examples:
  lockstake wallet create            # Generate a new account
  lockstake wallet import            # Import from a private key
  lockstake wallet show              # Show address and keystore path
  lockstake wallet forget-password   # Remove the stored password`,
	}

	cmd.AddCommand(newWalletCreateCmd())
	cmd.AddCommand(newWalletImportCmd())
	cmd.AddCommand(newWalletShowCmd())
	cmd.AddCommand(newWalletForgetPasswordCmd())

	return cmd
}

func keystoreDir() (string, bool) {
	cfg, err := loadConfig()
	if err != nil {
		return "", false
	}
	return cfg.Wallet.KeystoreDir, cfg.Wallet.UseKeyring
}

// storePasswordInKeyring stores the password for address, or prints how
// to configure one.
func storePasswordInKeyring(address, password string) {
	if backend, err := identity.StoreWalletPassword(address, password); err == nil {
		fmt.Printf("  Password saved to %s\n", backend)
		return
	}
	fmt.Println("  Could not store password in system keyring.")
	fmt.Println(Hint("Set wallet.password_file in config.yaml for unattended unlock."))
}

// readNewPassword asks for a password twice.
func readNewPassword() (string, error) {
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		fmt.Fprint(os.Stderr, "Enter wallet password: ")
		password, err := readPasswordNoEcho()
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		fmt.Fprintln(os.Stderr)

		if len(password) < minPasswordLen {
			Warning(fmt.Sprintf("Password must be at least %d characters. Try again.", minPasswordLen))
			continue
		}

		fmt.Fprint(os.Stderr, "Confirm wallet password: ")
		confirm, err := readPasswordNoEcho()
		if err != nil {
			return "", fmt.Errorf("failed to read confirmation: %w", err)
		}
		fmt.Fprintln(os.Stderr)

		if password != confirm {
			Warning("Passwords do not match. Try again.")
			continue
		}
		return password, nil
	}
	return "", fmt.Errorf("too many failed attempts")
}

func printWallet(w *identity.Wallet) {
	fmt.Println(StatusBox("Wallet", [][2]string{
		{"Address", w.Address().Hex()},
		{"Keystore", w.KeystoreDir()},
	}))
}

func newWalletCreateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create",
		Short: "Create a new account",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, useKeyring := keystoreDir()
			if dir == "" {
				return fmt.Errorf("no keystore directory configured")
			}

			password, err := readNewPassword()
			if err != nil {
				return err
			}
			w, err := identity.CreateWallet(dir, password)
			if err != nil {
				return err
			}

			fmt.Println()
			Success("Wallet created!")
			printWallet(w)
			if useKeyring {
				storePasswordInKeyring(w.Address().Hex(), password)
			}
			fmt.Println()
			Warning("Back up your keystore directory and remember your password.")
			fmt.Println(Hint("Set wallet.address in config.yaml if the keystore holds several accounts."))
			return nil
		},
	}
}

func newWalletImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import",
		Short: "Import an account from a private key",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, useKeyring := keystoreDir()
			if dir == "" {
				return fmt.Errorf("no keystore directory configured")
			}

			var privKeyHex string
			for attempt := 1; attempt <= maxAttempts; attempt++ {
				fmt.Fprint(os.Stderr, "Enter private key (hex, with or without 0x prefix): ")
				input, err := readPasswordNoEcho()
				if err != nil {
					return fmt.Errorf("failed to read private key: %w", err)
				}
				fmt.Fprintln(os.Stderr)

				input = strings.TrimPrefix(strings.TrimSpace(input), "0x")
				if len(input) != 64 {
					Warning(fmt.Sprintf("Private key must be 64 hex characters (32 bytes), got %d. Try again.", len(input)))
					continue
				}
				privKeyHex = input
				break
			}
			if privKeyHex == "" {
				return fmt.Errorf("too many failed attempts")
			}

			password, err := readNewPassword()
			if err != nil {
				return err
			}
			w, err := identity.ImportWallet(dir, privKeyHex, password)
			if err != nil {
				return err
			}

			fmt.Println()
			Success("Wallet imported!")
			printWallet(w)
			if useKeyring {
				storePasswordInKeyring(w.Address().Hex(), password)
			}
			return nil
		},
	}
}

func newWalletShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the account address and keystore path",
		Long:  "Display the configured account and keystore directory. No password needed.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			w, err := identity.OpenWallet(cfg.Wallet.KeystoreDir, cfg.Wallet.Address)
			if err != nil {
				Info(err.Error())
				fmt.Println(Hint("Create one with: lockstake wallet create"))
				return nil
			}

			pwStatus := "not stored (prompted on use)"
			switch {
			case cfg.Wallet.PasswordFile != "":
				pwStatus = "read from " + cfg.Wallet.PasswordFile
			case cfg.Wallet.UseKeyring:
				if pw, err := identity.RetrieveWalletPassword(w.Address().Hex()); err == nil && pw != "" {
					pwStatus = "stored in platform keyring"
				}
			}

			fmt.Println(StatusBox("Wallet", [][2]string{
				{"Address", w.Address().Hex()},
				{"Keystore", w.KeystoreDir()},
				{"Password", pwStatus},
			}))
			return nil
		},
	}
}

func newWalletForgetPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "forget-password",
		Short: "Remove the account password from the system keyring",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			w, err := identity.OpenWallet(cfg.Wallet.KeystoreDir, cfg.Wallet.Address)
			if err != nil {
				return err
			}
			if err := identity.DeleteWalletPassword(w.Address().Hex()); err != nil {
				return fmt.Errorf("failed to remove password: %w", err)
			}
			Success("Removed password from platform keyring")
			return nil
		},
	}
}
