package keyderivation

import (
	"testing"

	"github.com/setavenger/blindbit-scan-engine/internal/scantypes"
)

func TestDeriveSecretIndex_EmptyTweaksReturnsEmptyIndex(t *testing.T) {
	d := Deriver{}

	index, stats := d.DeriveSecretIndex(nil)
	if len(index) != 0 {
		t.Fatalf("expected an empty index, got %d entries", len(index))
	}
	if stats.Skipped != 0 {
		t.Fatalf("expected 0 skipped, got %d", stats.Skipped)
	}
}

func TestDeriveSecretIndex_InvalidTweakIsSkippedNotFatal(t *testing.T) {
	d := Deriver{}

	// The all-zero byte string is not a valid compressed secp256k1 point,
	// so the ECDH step must fail; per the curve-arithmetic-skip policy
	// this is counted, not returned as an error.
	var badTweak scantypes.Tweak
	index, stats := d.DeriveSecretIndex([]scantypes.Tweak{badTweak})

	if len(index) != 0 {
		t.Fatalf("expected no candidate scripts from an invalid tweak, got %d", len(index))
	}
	if stats.Skipped != 1 {
		t.Fatalf("expected 1 skipped tweak, got %d", stats.Skipped)
	}
}
