package txmatcher

import (
	"testing"

	"github.com/setavenger/blindbit-scan-engine/internal/scantypes"
)

func p2trScript(xonly byte) []byte {
	spk := make([]byte, scantypes.CandidateScriptLen)
	spk[0] = 0x51
	spk[1] = 0x20
	spk[2] = xonly
	return spk
}

func candidateScript(xonly byte) scantypes.CandidateScript {
	var c scantypes.CandidateScript
	copy(c[:], p2trScript(xonly))
	return c
}

func TestFindOwned_MatchesWholeTransactionFromOneHit(t *testing.T) {
	txid := scantypes.Txid{0x01}
	secret := scantypes.SharedSecret{0xAA}

	secretIndex := scantypes.SecretIndex{
		candidateScript(0x10): {Secret: secret},
		candidateScript(0x20): {Secret: secret, Label: &scantypes.Label{M: 1}},
	}

	utxos := []scantypes.Utxo{
		{Txid: txid, Vout: 0, Amount: 1000, ScriptPubKey: p2trScript(0x10)},
		{Txid: txid, Vout: 1, Amount: 2000, ScriptPubKey: p2trScript(0x20)},
		{Txid: txid, Vout: 2, Amount: 3000, ScriptPubKey: p2trScript(0x99)}, // not in index
	}

	matches := FindOwned(utxos, secretIndex)
	if len(matches) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(matches))
	}

	var sawLabel bool
	for _, m := range matches {
		if m.Utxo.Vout == 2 {
			t.Fatalf("vout 2 should not have matched")
		}
		if m.Label != nil {
			sawLabel = true
			if m.Label.M != 1 {
				t.Fatalf("expected label M=1, got %d", m.Label.M)
			}
		}
	}
	if !sawLabel {
		t.Fatalf("expected one match to carry the label")
	}
}

func TestFindOwned_SkipsSpentOutputs(t *testing.T) {
	txid := scantypes.Txid{0x02}
	secret := scantypes.SharedSecret{0xBB}

	secretIndex := scantypes.SecretIndex{
		candidateScript(0x10): {Secret: secret},
	}

	utxos := []scantypes.Utxo{
		{Txid: txid, Vout: 0, Amount: 1000, ScriptPubKey: p2trScript(0x10), Spent: true},
	}

	matches := FindOwned(utxos, secretIndex)
	if len(matches) != 0 {
		t.Fatalf("expected spent output to be excluded, got %d matches", len(matches))
	}
}

func TestFindOwned_NoHitInGroupMatchesNothing(t *testing.T) {
	txid := scantypes.Txid{0x03}
	secretIndex := scantypes.SecretIndex{
		candidateScript(0x10): {Secret: scantypes.SharedSecret{0xCC}},
	}

	utxos := []scantypes.Utxo{
		{Txid: txid, Vout: 0, Amount: 1000, ScriptPubKey: p2trScript(0xFF)},
	}

	matches := FindOwned(utxos, secretIndex)
	if len(matches) != 0 {
		t.Fatalf("expected no matches, got %d", len(matches))
	}
}

func TestCollectOwnedOutputs(t *testing.T) {
	matches := []Match{
		{
			Utxo:        scantypes.Utxo{Txid: scantypes.Txid{0x04}, Vout: 0, Amount: 5000, ScriptPubKey: p2trScript(0x30)},
			TweakScalar: [32]byte{0x01},
		},
	}

	owned := CollectOwnedOutputs(100, matches)
	if len(owned) != 1 {
		t.Fatalf("expected 1 owned output, got %d", len(owned))
	}
	for op, out := range owned {
		if op.Vout != 0 {
			t.Fatalf("unexpected vout %d", op.Vout)
		}
		if out.BlockHeight != 100 {
			t.Fatalf("expected block height 100, got %d", out.BlockHeight)
		}
		if out.SpendStatus != scantypes.Unspent {
			t.Fatalf("expected Unspent status")
		}
	}
}
