// Package outpointdigest computes the 8-byte spent-filter digest for a
// local outpoint (C5): sha256(txid_LE || vout_LE || blockhash_LE)[:8].
//
// Grounded on the teacher's generateLocalOutpointHashes
// (internal/scanner/spentutxos.go): same little-endian reversal of txid
// and block hash via bip352.ReverseBytesCopy, same binary.Write of vout,
// same truncated sha256.
package outpointdigest

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"

	"github.com/setavenger/go-bip352"

	"github.com/setavenger/blindbit-scan-engine/internal/scantypes"
)

// Digest is the 8-byte truncated hash used to probe and look up entries
// in a block's spent-outpoints filter/index.
type Digest [8]byte

// Compute derives the digest for one outpoint against the given block.
func Compute(op scantypes.OutPoint, blockHash scantypes.BlockHash) Digest {
	blockHashLE := bip352.ReverseBytesCopy(blockHash[:])

	var buf bytes.Buffer
	buf.Write(bip352.ReverseBytesCopy(op.Txid[:]))
	binary.Write(&buf, binary.LittleEndian, op.Vout)

	full := sha256.Sum256(append(buf.Bytes(), blockHashLE...))
	var d Digest
	copy(d[:], full[:8])
	return d
}

// ComputeAll builds a digest-to-outpoint index for a set of unspent
// outpoints against one block, suitable both for filter probing (via the
// map's keys) and for the subsequent server-index lookup.
func ComputeAll(outpoints []scantypes.OutPoint, blockHash scantypes.BlockHash) map[Digest]scantypes.OutPoint {
	out := make(map[Digest]scantypes.OutPoint, len(outpoints))
	for _, op := range outpoints {
		out[Compute(op, blockHash)] = op
	}
	return out
}
