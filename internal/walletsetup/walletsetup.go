// Package walletsetup implements C9: turning a BIP-39 mnemonic into the
// scan/spend keypair and label set a Deriver and Scanner need, plus the
// receiving addresses a user hands out.
//
// Grounded on the teacher's internal/manager/setup.go
// (createWalletInternal: validate mnemonic, bip39.NewSeed,
// hdkeychain.NewMaster, bip352.DeriveKeysFromMaster) and
// internal/wallet/scanner.go's generateLabels (the m=0 change-label
// convention) and internal/wallet/manager.go's GetAddress
// (bip352.CreateAddress). The teacher's chaincfg selection lived behind
// blindbit-lib's types.NetworkParams, which this repo does not have; the
// equivalent chaincfg.Params values are used directly here instead.
package walletsetup

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/setavenger/go-bip352"
	"github.com/tyler-smith/go-bip39"

	"github.com/setavenger/blindbit-scan-engine/internal/scanerr"
)

const walletFilename = "wallet.json"

// Wallet holds the derived key material and label set for one silent
// payments identity.
type Wallet struct {
	Network  string
	Mnemonic string

	ScanSecret  [32]byte
	SpendSecret [32]byte
	ScanPub     [33]byte
	SpendPub    [33]byte

	// Labels[0] is always the m=0 change label, per the teacher's
	// generateLabels convention; Labels[1:] are the requested receiving
	// labels.
	Labels []bip352.Label
}

// GenerateMnemonic produces a fresh 12-word BIP-39 mnemonic.
func GenerateMnemonic() (string, error) {
	entropy, err := bip39.NewEntropy(128)
	if err != nil {
		return "", fmt.Errorf("%w: failed to generate entropy: %v", scanerr.ErrKeyDerivation, err)
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return "", fmt.Errorf("%w: failed to generate mnemonic: %v", scanerr.ErrKeyDerivation, err)
	}
	return mnemonic, nil
}

// NewWallet derives scan/spend keys and labelCount receiving labels (plus
// the mandatory m=0 change label) from mnemonic on the given network
// ("mainnet", "testnet", "signet", or "regtest").
func NewWallet(mnemonic, passphrase, network string, labelCount uint32) (*Wallet, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, fmt.Errorf("%w: invalid mnemonic", scanerr.ErrKeyDerivation)
	}

	params, err := chainParams(network)
	if err != nil {
		return nil, err
	}

	seed := bip39.NewSeed(mnemonic, passphrase)
	master, err := hdkeychain.NewMaster(seed, params)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create master key: %v", scanerr.ErrKeyDerivation, err)
	}

	mainnet := network == "mainnet"
	scanSecret, spendSecret, err := bip352.DeriveKeysFromMaster(master, mainnet)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to derive BIP-352 keys: %v", scanerr.ErrKeyDerivation, err)
	}

	scanPub := bip352.PubKeyFromSecKey(&scanSecret)
	spendPub := bip352.PubKeyFromSecKey(&spendSecret)

	labels, err := generateLabels(scanSecret, labelCount)
	if err != nil {
		return nil, err
	}

	return &Wallet{
		Network:     network,
		Mnemonic:    mnemonic,
		ScanSecret:  scanSecret,
		SpendSecret: spendSecret,
		ScanPub:     *scanPub,
		SpendPub:    *spendPub,
		Labels:      labels,
	}, nil
}

func chainParams(network string) (*chaincfg.Params, error) {
	switch network {
	case "mainnet":
		return &chaincfg.MainNetParams, nil
	case "testnet":
		return &chaincfg.TestNet3Params, nil
	case "signet":
		return &chaincfg.SigNetParams, nil
	case "regtest":
		return &chaincfg.RegressionNetParams, nil
	default:
		return nil, fmt.Errorf("%w: unsupported network: %s", scanerr.ErrKeyDerivation, network)
	}
}

// generateLabels always derives the m=0 change label first, then
// labelCount additional receiving labels, matching the teacher's
// generateLabels ("we always need the change label m=0").
func generateLabels(scanSecret [32]byte, labelCount uint32) ([]bip352.Label, error) {
	total := labelCount + 1
	labels := make([]bip352.Label, 0, total)
	for m := uint32(0); m < total; m++ {
		label, err := bip352.CreateLabel(scanSecret, m)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to create label %d: %v", scanerr.ErrKeyDerivation, m, err)
		}
		labels = append(labels, label)
	}
	return labels, nil
}

// Address returns the bech32m silent payment address for label m. m=0
// returns the unlabeled base address (the m=0 change label is not applied
// to it); any other m must name a label already derived by NewWallet.
func (w *Wallet) Address(m uint32) (string, error) {
	mainnet := w.Network == "mainnet"

	if m == 0 {
		address, err := bip352.CreateAddress(&w.ScanPub, &w.SpendPub, mainnet, 0)
		if err != nil {
			return "", fmt.Errorf("%w: failed to create address: %v", scanerr.ErrKeyDerivation, err)
		}
		return address, nil
	}

	for _, label := range w.Labels {
		if label.M != m {
			continue
		}
		tweakedSpend, err := bip352.AddPublicKeys(&w.SpendPub, &label.PubKey)
		if err != nil {
			return "", fmt.Errorf("%w: failed to tweak spend key for label %d: %v", scanerr.ErrKeyDerivation, m, err)
		}
		address, err := bip352.CreateAddress(&w.ScanPub, tweakedSpend, mainnet, 0)
		if err != nil {
			return "", fmt.Errorf("%w: failed to create labeled address: %v", scanerr.ErrKeyDerivation, err)
		}
		return address, nil
	}
	return "", fmt.Errorf("%w: no label derived for m=%d", scanerr.ErrKeyDerivation, m)
}

// SaveToFile persists the wallet as JSON under datadir/wallet.json,
// grounded on the teacher's saveWalletConfig/LoadWallet round-trip
// (internal/manager/setup.go): a single JSON blob holding the mnemonic
// and derived keys, rewritten atomically.
func (w *Wallet) SaveToFile(datadir string) error {
	data, err := json.Marshal(w)
	if err != nil {
		return fmt.Errorf("%w: failed to serialize wallet: %v", scanerr.ErrKeyDerivation, err)
	}
	path := filepath.Join(datadir, walletFilename)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("%w: failed to write wallet file: %v", scanerr.ErrKeyDerivation, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("%w: failed to commit wallet file: %v", scanerr.ErrKeyDerivation, err)
	}
	return nil
}

// LoadFromFile loads a wallet previously written by SaveToFile.
func LoadFromFile(datadir string) (*Wallet, error) {
	path := filepath.Join(datadir, walletFilename)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read wallet file: %v", scanerr.ErrKeyDerivation, err)
	}
	var w Wallet
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: failed to parse wallet file: %v", scanerr.ErrKeyDerivation, err)
	}
	return &w, nil
}
