package walletsetup

import (
	"testing"

	"github.com/tyler-smith/go-bip39"
)

// testMnemonic is the canonical all-zero-entropy BIP-39 test vector.
const testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

func TestGenerateMnemonic_IsValid(t *testing.T) {
	mnemonic, err := GenerateMnemonic()
	if err != nil {
		t.Fatalf("GenerateMnemonic returned error: %v", err)
	}
	if !bip39.IsMnemonicValid(mnemonic) {
		t.Fatalf("generated mnemonic failed validation: %q", mnemonic)
	}
}

func TestNewWallet_RejectsInvalidMnemonic(t *testing.T) {
	_, err := NewWallet("not a real mnemonic at all", "", "signet", 0)
	if err == nil {
		t.Fatalf("expected error for invalid mnemonic")
	}
}

func TestNewWallet_RejectsUnsupportedNetwork(t *testing.T) {
	_, err := NewWallet(testMnemonic, "", "notanetwork", 0)
	if err == nil {
		t.Fatalf("expected error for unsupported network")
	}
}

func TestNewWallet_DerivesLabelsAndAddresses(t *testing.T) {
	wallet, err := NewWallet(testMnemonic, "", "testnet", 2)
	if err != nil {
		t.Fatalf("NewWallet returned error: %v", err)
	}

	if len(wallet.Labels) != 3 { // m=0 change label plus 2 requested
		t.Fatalf("expected 3 labels, got %d", len(wallet.Labels))
	}

	baseAddr, err := wallet.Address(0)
	if err != nil {
		t.Fatalf("Address(0) returned error: %v", err)
	}
	if baseAddr == "" {
		t.Fatalf("expected non-empty base address")
	}

	labeledAddr, err := wallet.Address(1)
	if err != nil {
		t.Fatalf("Address(1) returned error: %v", err)
	}
	if labeledAddr == baseAddr {
		t.Fatalf("labeled address should differ from the base address")
	}

	if _, err := wallet.Address(99); err == nil {
		t.Fatalf("expected error for an undrived label index")
	}
}

func TestWallet_SaveAndLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()

	wallet, err := NewWallet(testMnemonic, "", "signet", 1)
	if err != nil {
		t.Fatalf("NewWallet returned error: %v", err)
	}
	if err := wallet.SaveToFile(dir); err != nil {
		t.Fatalf("SaveToFile returned error: %v", err)
	}

	loaded, err := LoadFromFile(dir)
	if err != nil {
		t.Fatalf("LoadFromFile returned error: %v", err)
	}

	if loaded.ScanSecret != wallet.ScanSecret || loaded.SpendSecret != wallet.SpendSecret {
		t.Fatalf("loaded wallet key material does not match saved wallet")
	}
	if len(loaded.Labels) != len(wallet.Labels) {
		t.Fatalf("expected %d labels after reload, got %d", len(wallet.Labels), len(loaded.Labels))
	}
}
