// Package filterprobe implements BIP-158 compact-block-filter matching
// (C4): deciding whether a block's candidate scripts or digested outpoints
// are even worth fetching full UTXO data for.
//
// Grounded directly on the teacher's matchFilter helper (duplicated in
// internal/scanner/scanner.go and internal/wallet/scanner.go): same
// reversal of the wire block hash into a chainhash.Hash, same
// builder.DeriveKey/gcs.FromNBytes/HashMatchAny pipeline from
// github.com/btcsuite/btcd/btcutil/gcs and .../gcs/builder.
package filterprobe

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil/gcs"
	"github.com/btcsuite/btcd/btcutil/gcs/builder"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/setavenger/go-bip352"

	"github.com/setavenger/blindbit-scan-engine/internal/scanerr"
	"github.com/setavenger/blindbit-scan-engine/internal/scantypes"
)

// ProbeOutputs reports whether any candidate script in scripts is present
// in the block's output filter. An empty candidate set short-circuits to
// false without touching the filter, per spec.md §4.2's empty-SecretIndex
// edge case.
func ProbeOutputs(blockHash scantypes.BlockHash, filter scantypes.FilterBytes, scripts []scantypes.CandidateScript) (bool, error) {
	if len(scripts) == 0 {
		return false, nil
	}
	values := make([][]byte, len(scripts))
	for i, s := range scripts {
		x := s.XOnlyKey()
		values[i] = x[:]
	}
	return matchFilter(filter, blockHash, values)
}

// ProbeInputs reports whether any digested local outpoint is present in
// the block's input (spent) filter. Mirrors ProbeOutputs; an empty digest
// set short-circuits to false.
func ProbeInputs(blockHash scantypes.BlockHash, filter scantypes.FilterBytes, digests [][8]byte) (bool, error) {
	if len(digests) == 0 {
		return false, nil
	}
	values := make([][]byte, len(digests))
	for i, d := range digests {
		cp := d
		values[i] = cp[:]
	}
	return matchFilter(filter, blockHash, values)
}

// matchFilter checks if any values match the GCS filter for the block
// identified by blockHash.
func matchFilter(nBytes []byte, blockHash scantypes.BlockHash, values [][]byte) (bool, error) {
	c := chainhash.Hash{}
	if err := c.SetBytes(bip352.ReverseBytesCopy(blockHash[:])); err != nil {
		return false, fmt.Errorf("%w: failed to set hash bytes: %v", scanerr.ErrDecode, err)
	}

	filter, err := gcs.FromNBytes(builder.DefaultP, builder.DefaultM, nBytes)
	if err != nil {
		return false, fmt.Errorf("%w: failed to create filter: %v", scanerr.ErrFilterError, err)
	}

	key := builder.DeriveKey(&c)
	isMatch, err := filter.HashMatchAny(key, values)
	if err != nil {
		return false, fmt.Errorf("%w: failed to match filter: %v", scanerr.ErrFilterError, err)
	}

	return isMatch, nil
}
