package filterprobe

import (
	"testing"

	"github.com/btcsuite/btcd/btcutil/gcs"
	"github.com/btcsuite/btcd/btcutil/gcs/builder"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/setavenger/go-bip352"

	"github.com/setavenger/blindbit-scan-engine/internal/scantypes"
)

func TestProbeOutputs_EmptyCandidatesShortCircuits(t *testing.T) {
	match, err := ProbeOutputs(scantypes.BlockHash{}, nil, nil)
	if err != nil {
		t.Fatalf("expected no error for an empty candidate set, got %v", err)
	}
	if match {
		t.Fatalf("expected no match for an empty candidate set")
	}
}

func TestProbeInputs_EmptyDigestsShortCircuits(t *testing.T) {
	match, err := ProbeInputs(scantypes.BlockHash{}, nil, nil)
	if err != nil {
		t.Fatalf("expected no error for an empty digest set, got %v", err)
	}
	if match {
		t.Fatalf("expected no match for an empty digest set")
	}
}

// buildFilter constructs a real BIP-158 GCS filter over data, keyed off
// blockHash the same way matchFilter derives its query key (reverse to a
// chainhash.Hash, then builder.DeriveKey), so a filter built here and a
// probe against it via ProbeOutputs/ProbeInputs exercise the identical
// gcs/builder pipeline the indexer and this package both run.
func buildFilter(t *testing.T, blockHash scantypes.BlockHash, data [][]byte) scantypes.FilterBytes {
	t.Helper()

	var c chainhash.Hash
	if err := c.SetBytes(bip352.ReverseBytesCopy(blockHash[:])); err != nil {
		t.Fatalf("failed to set hash bytes: %v", err)
	}

	key := builder.DeriveKey(&c)
	filter, err := gcs.NewFilter(builder.DefaultP, builder.DefaultM, key, data)
	if err != nil {
		t.Fatalf("failed to build GCS filter: %v", err)
	}
	return filter.NBytes()
}

func candidateScript(xonly byte) scantypes.CandidateScript {
	var cs scantypes.CandidateScript
	cs[0] = 0x51
	cs[1] = 0x20
	for i := 2; i < len(cs); i++ {
		cs[i] = xonly
	}
	return cs
}

func TestProbeOutputs_MatchesCandidateInsertedByXOnlyKey(t *testing.T) {
	blockHash := scantypes.BlockHash{0x11, 0x22, 0x33}
	target := candidateScript(0xAB)
	other := candidateScript(0xCD)

	x := target.XOnlyKey()
	filterBytes := buildFilter(t, blockHash, [][]byte{x[:]})

	match, err := ProbeOutputs(blockHash, filterBytes, []scantypes.CandidateScript{target})
	if err != nil {
		t.Fatalf("ProbeOutputs returned error: %v", err)
	}
	if !match {
		t.Fatalf("expected the inserted candidate's x-only key to match the filter")
	}

	noMatch, err := ProbeOutputs(blockHash, filterBytes, []scantypes.CandidateScript{other})
	if err != nil {
		t.Fatalf("ProbeOutputs returned error: %v", err)
	}
	if noMatch {
		t.Fatalf("expected an unrelated candidate not to match the filter")
	}
}

func TestProbeOutputs_FullScriptBytesDoNotMatchAnXOnlyKeyedFilter(t *testing.T) {
	// Regression guard: ProbeOutputs used to query with the full 34-byte
	// scriptPubKey instead of its 32-byte x-only key. A filter built
	// (correctly) over x-only keys must not be reachable by querying
	// with the wider script bytes, proving the two encodings are not
	// interchangeable and that the fix actually matters.
	blockHash := scantypes.BlockHash{0x44, 0x55}
	target := candidateScript(0xEF)
	x := target.XOnlyKey()
	filterBytes := buildFilter(t, blockHash, [][]byte{x[:]})

	miss, err := matchFilter(filterBytes, blockHash, [][]byte{target[:]})
	if err != nil {
		t.Fatalf("matchFilter returned error: %v", err)
	}
	if miss {
		t.Fatalf("querying with the full scriptPubKey should not match a filter built over x-only keys")
	}
}

func TestProbeInputs_MatchesDigestInFilter(t *testing.T) {
	blockHash := scantypes.BlockHash{0x66, 0x77}
	digest := [8]byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}
	other := [8]byte{0xff, 0xfe, 0xfd, 0xfc, 0xfb, 0xfa, 0xf9, 0xf8}

	filterBytes := buildFilter(t, blockHash, [][]byte{digest[:]})

	match, err := ProbeInputs(blockHash, filterBytes, [][8]byte{digest})
	if err != nil {
		t.Fatalf("ProbeInputs returned error: %v", err)
	}
	if !match {
		t.Fatalf("expected the inserted digest to match the filter")
	}

	noMatch, err := ProbeInputs(blockHash, filterBytes, [][8]byte{other})
	if err != nil {
		t.Fatalf("ProbeInputs returned error: %v", err)
	}
	if noMatch {
		t.Fatalf("expected an unrelated digest not to match the filter")
	}
}
