// Package progresssink implements ProgressSink (C2): the durable record
// of a scan's owned-output/input set and cursor, with an atomic flush
// barrier.
//
// Grounded on the teacher's internal/storage/plain.go (SavePlain/LoadPlain):
// same responsibility split (accumulate in memory, serialize to disk on
// demand), generalized from a whole-wallet blob into the incremental
// record_outputs/record_inputs/record_cursor/flush contract spec.md §4.7
// requires, and upgraded to a temp-file-then-rename write so a crash
// mid-flush cannot leave a half-written file — the scan's crash-safety
// requirement (§4.6 Flush cadence) needs that where the teacher's
// single-shot wallet save did not.
package progresssink

import (
	"github.com/setavenger/blindbit-scan-engine/internal/scantypes"
)

// Sink is the ProgressSink contract from spec.md §4.7.
type Sink interface {
	RecordOutputs(height uint32, blockHash scantypes.BlockHash, outputs map[scantypes.OutPoint]scantypes.OwnedOutput) error
	RecordInputs(height uint32, blockHash scantypes.BlockHash, spent map[scantypes.OutPoint]struct{}) error
	RecordCursor(cursor scantypes.ScanCursor) error
	Flush() error
}
