package identity

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

func init() {
	scryptN = keystore.LightScryptN
	scryptP = keystore.LightScryptP
}

func TestOpenWallet_EmptyDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nonexistent", "keystore")

	_, err := OpenWallet(dir, "")
	if !errors.Is(err, ErrNoWallet) {
		t.Fatalf("OpenWallet on empty dir = %v, want ErrNoWallet", err)
	}

	// Directory should have been created
	info, err := os.Stat(dir)
	if err != nil {
		t.Fatalf("expected directory to be created: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0700 {
		t.Errorf("expected keystore dir permissions 0700, got %04o", perm)
	}
}

func TestCreateWallet_ThenOpen(t *testing.T) {
	dir := t.TempDir()

	created, err := CreateWallet(dir, "test-password-123")
	if err != nil {
		t.Fatalf("CreateWallet: %v", err)
	}
	if created.Address() == (common.Address{}) {
		t.Fatal("expected non-zero address")
	}
	if created.KeystoreDir() != dir {
		t.Errorf("KeystoreDir = %s, want %s", created.KeystoreDir(), dir)
	}

	opened, err := OpenWallet(dir, "")
	if err != nil {
		t.Fatalf("OpenWallet: %v", err)
	}
	if opened.Address() != created.Address() {
		t.Errorf("address mismatch: opened %s, created %s", opened.Address().Hex(), created.Address().Hex())
	}
}

func TestOpenWallet_SelectsAddress(t *testing.T) {
	dir := t.TempDir()

	if _, err := CreateWallet(dir, "password1234"); err != nil {
		t.Fatalf("CreateWallet: %v", err)
	}
	second, err := CreateWallet(dir, "password5678")
	if err != nil {
		t.Fatalf("CreateWallet: %v", err)
	}

	w, err := OpenWallet(dir, second.Address().Hex())
	if err != nil {
		t.Fatalf("OpenWallet: %v", err)
	}
	if w.Address() != second.Address() {
		t.Errorf("selected %s, want %s", w.Address().Hex(), second.Address().Hex())
	}

	_, err = OpenWallet(dir, "0x3333333333333333333333333333333333333333")
	if !errors.Is(err, ErrNoWallet) {
		t.Errorf("OpenWallet(unknown) = %v, want ErrNoWallet", err)
	}
}

func TestUnlock(t *testing.T) {
	dir := t.TempDir()
	password := "unlock-test-password"

	w, err := CreateWallet(dir, password)
	if err != nil {
		t.Fatalf("CreateWallet: %v", err)
	}

	if _, err := w.Unlock("wrong-password"); err == nil {
		t.Fatal("expected error with wrong password")
	}

	key, err := w.Unlock(password)
	if err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	if crypto.PubkeyToAddress(key.PublicKey) != w.Address() {
		t.Error("unlocked key does not match wallet address")
	}

	// cached until Lock
	again, err := w.Unlock("")
	if err != nil || again != key {
		t.Errorf("expected cached key, got %v (%v)", again, err)
	}

	w.Lock()
	if key.D.Sign() != 0 {
		t.Error("expected Lock to zero the cached key")
	}
	if _, err := w.Unlock(""); err == nil {
		t.Error("expected Unlock to decrypt again after Lock")
	}
}

func TestImportWallet_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	password := "roundtrip-password"

	orig, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}

	w, err := ImportWallet(dir, "0x"+common.Bytes2Hex(crypto.FromECDSA(orig)), password)
	if err != nil {
		t.Fatalf("ImportWallet: %v", err)
	}
	if w.Address() != crypto.PubkeyToAddress(orig.PublicKey) {
		t.Fatalf("imported address %s does not match key", w.Address().Hex())
	}

	opened, err := OpenWallet(dir, w.Address().Hex())
	if err != nil {
		t.Fatalf("OpenWallet: %v", err)
	}
	key, err := opened.Unlock(password)
	if err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	if !orig.Equal(key) {
		t.Error("unlocked key doesn't match original")
	}
}

func TestImportWallet_InvalidHex(t *testing.T) {
	if _, err := ImportWallet(t.TempDir(), "not-valid-hex", "password1234"); err == nil {
		t.Fatal("expected error with invalid hex key")
	}
}

func TestResolvePassword(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "password")
	if err := os.WriteFile(file, []byte("from-file\n"), 0600); err != nil {
		t.Fatal(err)
	}
	prompted := func() (string, error) { return "from-prompt", nil }

	tests := []struct {
		name    string
		src     PasswordSource
		want    string
		wantErr error
	}{
		{"file wins", PasswordSource{File: file, Prompt: prompted}, "from-file", nil},
		{"prompt", PasswordSource{Prompt: prompted}, "from-prompt", nil},
		{"nothing", PasswordSource{}, "", ErrNoPassword},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolvePassword(tt.src, "0x1111111111111111111111111111111111111111")
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("password = %q, want %q", got, tt.want)
			}
		})
	}

	if _, err := ResolvePassword(PasswordSource{File: filepath.Join(dir, "missing")}, ""); err == nil {
		t.Error("expected error for missing password file")
	}
}

func TestWalletPasswordKey(t *testing.T) {
	if got := walletPasswordKey("0xABCdef"); got != "wallet-password:0xabcdef" {
		t.Errorf("walletPasswordKey = %q", got)
	}
}

func TestPlatformKeyrings(t *testing.T) {
	for goos, p := range platformKeyrings {
		if p.name == "" || len(p.backends) == 0 {
			t.Errorf("%s: incomplete keyring entry %+v", goos, p)
		}
	}
	if _, ok := platformKeyrings["windows"]; ok {
		t.Error("windows has no configured keyring backend")
	}
}
