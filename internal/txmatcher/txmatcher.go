// Package txmatcher implements transaction matching (C6): given a block's
// fetched UTXOs and the SecretIndex produced by internal/keyderivation,
// decide which UTXOs actually belong to the wallet.
//
// Grounded on spdk-core/src/scanner/logic.rs's find_owned_in_utxos and
// collect_found_outputs: group candidate outputs by txid, find the one
// shared secret that applies to the whole transaction (BIP-352 ties the
// ECDH input to the transaction, not the individual output), then match
// each P2TR output's x-only key against the SecretIndex built for that
// secret. The teacher's own scanner.go performs the equivalent grouping
// implicitly by handing whole-block UTXO lists to the (dropped)
// blindbit-scan package; this package reimplements that step directly
// against our own SecretIndex instead of pulling in that dependency.
package txmatcher

import (
	"github.com/setavenger/blindbit-scan-engine/internal/keyderivation"
	"github.com/setavenger/blindbit-scan-engine/internal/scantypes"
)

// Match is one confirmed hit: a UTXO this wallet owns, together with the
// label it was found under (nil for the unlabeled output; the m=0 change
// label is reported as Label{M: 0}) and the scalar tweak needed to spend it.
type Match struct {
	Utxo        scantypes.Utxo
	Label       *scantypes.Label
	TweakScalar [32]byte
}

// FindOwned groups utxos by transaction, and for each group that contains
// at least one scriptPubKey present in secretIndex, matches every
// non-spent P2TR output in that transaction against the index. Per
// BIP-352, all outputs of one transaction share the same ECDH input, so
// finding the secret via any one matching script is enough to test the
// rest of that transaction's outputs.
func FindOwned(utxos []scantypes.Utxo, secretIndex scantypes.SecretIndex) []Match {
	byTxid := make(map[scantypes.Txid][]scantypes.Utxo)
	for _, u := range utxos {
		byTxid[u.Txid] = append(byTxid[u.Txid], u)
	}

	var matches []Match
	for _, group := range byTxid {
		var secret *scantypes.SecretEntry
		for _, u := range group {
			if !u.IsP2TR() {
				continue
			}
			var spk scantypes.CandidateScript
			copy(spk[:], u.ScriptPubKey)
			if entry, ok := secretIndex[spk]; ok {
				s := entry
				secret = &s
				break
			}
		}
		if secret == nil {
			continue
		}

		for _, u := range group {
			if u.Spent || !u.IsP2TR() {
				continue
			}
			var spk scantypes.CandidateScript
			copy(spk[:], u.ScriptPubKey)
			entry, ok := secretIndex[spk]
			if !ok {
				continue
			}
			matches = append(matches, Match{
				Utxo:        u,
				Label:       entry.Label,
				TweakScalar: keyderivation.TweakScalar(entry.Secret),
			})
		}
	}

	return matches
}

// CollectOwnedOutputs converts matches found at a given height into the
// OwnedOutput records the Scanner will fold into its owned set, per
// spdk-core's collect_found_outputs.
func CollectOwnedOutputs(height uint32, matches []Match) map[scantypes.OutPoint]scantypes.OwnedOutput {
	out := make(map[scantypes.OutPoint]scantypes.OwnedOutput, len(matches))
	for _, m := range matches {
		op := scantypes.OutPoint{Txid: m.Utxo.Txid, Vout: m.Utxo.Vout}
		var spk scantypes.CandidateScript
		copy(spk[:], m.Utxo.ScriptPubKey)

		out[op] = scantypes.OwnedOutput{
			BlockHeight: height,
			TweakScalar: m.TweakScalar,
			Amount:      m.Utxo.Amount,
			Script:      spk,
			Label:       m.Label,
			SpendStatus: scantypes.Unspent,
		}
	}
	return out
}
