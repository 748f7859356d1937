// Package scantypes holds the data model shared by every scanning-engine
// component: tweaks and block bundles coming off the fetcher, candidate
// scripts and secrets coming out of key derivation, and the owned-output /
// cursor state the scanner accumulates across a run.
package scantypes

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// Tweak is a secp256k1 point published by the indexer for one block, in
// compressed 33-byte form. Per BIP-352, T = input_hash * A_sum.
type Tweak [33]byte

func (t Tweak) String() string { return hex.EncodeToString(t[:]) }

// BlockHash is a block identifier in the indexer's (big-endian/display)
// byte order, as returned on the wire.
type BlockHash [32]byte

func (b BlockHash) String() string { return hex.EncodeToString(b[:]) }

// Txid identifies a transaction, in display byte order.
type Txid [32]byte

func (t Txid) String() string { return hex.EncodeToString(t[:]) }

// OutPoint identifies one transaction output.
type OutPoint struct {
	Txid Txid
	Vout uint32
}

func (o OutPoint) String() string { return fmt.Sprintf("%s:%d", o.Txid, o.Vout) }

// ParseOutPoint reverses OutPoint.String, for sinks that persist an
// OutPoint as its map key and need to reconstruct it on load.
func ParseOutPoint(s string) (OutPoint, error) {
	var op OutPoint
	idx := strings.LastIndexByte(s, ':')
	if idx < 0 {
		return op, fmt.Errorf("scantypes: malformed outpoint %q", s)
	}
	txidHex, voutStr := s[:idx], s[idx+1:]

	txidBytes, err := hex.DecodeString(txidHex)
	if err != nil || len(txidBytes) != 32 {
		return op, fmt.Errorf("scantypes: malformed outpoint txid %q", txidHex)
	}
	copy(op.Txid[:], txidBytes)

	vout, err := strconv.ParseUint(voutStr, 10, 32)
	if err != nil {
		return op, fmt.Errorf("scantypes: malformed outpoint vout %q", voutStr)
	}
	op.Vout = uint32(vout)
	return op, nil
}

// CandidateScriptLen is the length of a P2TR scriptPubKey: OP_1 PUSH32 <x>.
const CandidateScriptLen = 34

// CandidateScript is a 34-byte P2TR scriptPubKey derived from a tweak.
type CandidateScript [CandidateScriptLen]byte

// XOnlyKey returns the 32-byte taproot output key embedded in the script.
func (c CandidateScript) XOnlyKey() [32]byte {
	var x [32]byte
	copy(x[:], c[2:])
	return x
}

// FilterBytes is the raw BIP-158 GCS filter payload for one block.
type FilterBytes []byte

// BlockBundle is everything the Fetcher gathers for one height. Immutable
// once produced; consumed exactly once by the Scanner.
type BlockBundle struct {
	Height        uint32
	BlockHash     BlockHash
	Tweaks        []Tweak
	OutputFilter  FilterBytes
	SpentFilter   FilterBytes
}

// SharedSecret is the ECDH point b_scan*T produced for one tweak.
type SharedSecret [33]byte

// SecretEntry pairs the ECDH shared secret that produced a candidate
// script with the label index it was derived under, if any.
type SecretEntry struct {
	Secret SharedSecret
	Label  *Label
}

// SecretIndex maps a candidate scriptPubKey to the shared secret (and,
// where applicable, label) that produced it. Keys are unique; a collision
// across tweaks in the same block silently replaces the earlier entry,
// which is safe since the secret is fully derivable from the key material
// already inserted.
type SecretIndex map[CandidateScript]SecretEntry

// Scripts returns the map's keys as a slice, suitable for filter probing.
func (s SecretIndex) Scripts() []CandidateScript {
	out := make([]CandidateScript, 0, len(s))
	for spk := range s {
		out = append(out, spk)
	}
	return out
}

// OutputSpendStatus is the lifecycle state of an OwnedOutput.
type OutputSpendStatus int

const (
	Unspent OutputSpendStatus = iota
	Spent
	Mined
)

func (s OutputSpendStatus) String() string {
	switch s {
	case Unspent:
		return "unspent"
	case Spent:
		return "spent"
	case Mined:
		return "mined"
	default:
		return "unknown"
	}
}

// Label tags an OwnedOutput with the BIP-352 label index it was found
// under, if any. A nil Label means the unlabeled (primary) output.
type Label struct {
	M uint32
}

// OwnedOutput is a confirmed silent-payment output belonging to this
// wallet.
type OwnedOutput struct {
	BlockHeight  uint32
	TweakScalar  [32]byte
	Amount       uint64
	Script       CandidateScript
	Label        *Label
	SpendStatus  OutputSpendStatus
	SpendTxid    Txid      // valid when SpendStatus == Spent
	MinedInBlock BlockHash // valid when SpendStatus == Mined
}

// Outpoint returns the OutPoint this output lives at. Callers must supply
// the txid separately as OwnedOutput does not carry it (the caller already
// has it as the map key in most call sites); this is a convenience used
// when round-tripping through a flat slice.
func (o OwnedOutput) Outpoint(txid Txid, vout uint32) OutPoint {
	return OutPoint{Txid: txid, Vout: vout}
}

// ScanCursor records a scan's progress. Current is the greatest height for
// which both outputs and inputs have been processed and persisted.
type ScanCursor struct {
	Start   uint32
	Current uint32
	End     uint32
}

// Utxo is one unspent-or-spent transaction output as served by the
// ChainSource for a given block height.
type Utxo struct {
	Txid         Txid
	Vout         uint32
	Amount       uint64
	ScriptPubKey []byte
	Spent        bool
}

// IsP2TR reports whether the scriptPubKey is a standard P2TR output:
// OP_1 (0x51) PUSH32 (0x20) <32 bytes>.
func (u Utxo) IsP2TR() bool {
	return len(u.ScriptPubKey) == CandidateScriptLen &&
		u.ScriptPubKey[0] == 0x51 && u.ScriptPubKey[1] == 0x20
}

// XOnlyKey returns the 32-byte taproot output key, valid only if IsP2TR.
func (u Utxo) XOnlyKey() [32]byte {
	var x [32]byte
	copy(x[:], u.ScriptPubKey[2:])
	return x
}
