package scanner

import (
	"context"
	"sync"
	"testing"

	"github.com/setavenger/blindbit-scan-engine/internal/chainsource"
	"github.com/setavenger/blindbit-scan-engine/internal/keyderivation"
	"github.com/setavenger/blindbit-scan-engine/internal/scanerr"
	"github.com/setavenger/blindbit-scan-engine/internal/scantypes"
)

// mockChainSource is a canned ChainSource, in the spirit of the teacher's
// tests/mockclient.go MockBlindBitClient: fixed-height responses handed
// back without touching the network. Every per-height response is keyed
// by a map, so a test can leave a height unconfigured (nil tweaks, a
// serialized empty filter, no UTXOs — the Scanner then only exercises its cursor/flush
// bookkeeping, not key derivation's curve arithmetic) or wire in real
// BIP-352/BIP-158 fixtures for a height it cares about.
type mockChainSource struct {
	tip            uint32
	tweaksAt       map[uint32][]scantypes.Tweak
	outputFilterAt map[uint32]scantypes.FilterBytes
	spentFilterAt  map[uint32]scantypes.FilterBytes
	utxosAt        map[uint32][]scantypes.Utxo
	spentIndexAt   map[uint32][][8]byte
	blockHashAt    map[uint32]scantypes.BlockHash
}

func newMockChainSource(tip uint32) *mockChainSource {
	return &mockChainSource{
		tip:            tip,
		tweaksAt:       map[uint32][]scantypes.Tweak{},
		outputFilterAt: map[uint32]scantypes.FilterBytes{},
		spentFilterAt:  map[uint32]scantypes.FilterBytes{},
		utxosAt:        map[uint32][]scantypes.Utxo{},
		spentIndexAt:   map[uint32][][8]byte{},
		blockHashAt:    map[uint32]scantypes.BlockHash{},
	}
}

func (m *mockChainSource) blockHash(height uint32) scantypes.BlockHash {
	if bh, ok := m.blockHashAt[height]; ok {
		return bh
	}
	return scantypes.BlockHash{byte(height)}
}

func (m *mockChainSource) BlockHeight(ctx context.Context) (uint32, error) { return m.tip, nil }

func (m *mockChainSource) Tweaks(ctx context.Context, height uint32, dustLimit *uint64) ([]scantypes.Tweak, error) {
	return m.tweaksAt[height], nil
}

func (m *mockChainSource) TweakIndex(ctx context.Context, height uint32, dustLimit *uint64) ([]scantypes.Tweak, error) {
	return m.tweaksAt[height], nil
}

// emptyFilter is a serialized BIP-158 filter holding no elements (N=0).
var emptyFilter = scantypes.FilterBytes{0x00}

func (m *mockChainSource) FilterNewUTXOs(ctx context.Context, height uint32) (scantypes.BlockHash, scantypes.FilterBytes, error) {
	if f, ok := m.outputFilterAt[height]; ok {
		return m.blockHash(height), f, nil
	}
	return m.blockHash(height), emptyFilter, nil
}

func (m *mockChainSource) FilterSpent(ctx context.Context, height uint32) (scantypes.BlockHash, scantypes.FilterBytes, error) {
	if f, ok := m.spentFilterAt[height]; ok {
		return m.blockHash(height), f, nil
	}
	return m.blockHash(height), emptyFilter, nil
}

func (m *mockChainSource) Utxos(ctx context.Context, height uint32) ([]scantypes.Utxo, error) {
	return m.utxosAt[height], nil
}

func (m *mockChainSource) SpentIndex(ctx context.Context, height uint32) ([][8]byte, error) {
	return m.spentIndexAt[height], nil
}

func (m *mockChainSource) ForwardTx(ctx context.Context, txHex string) (scantypes.Txid, error) {
	return scantypes.Txid{}, nil
}

func (m *mockChainSource) Info(ctx context.Context) (chainsource.Info, error) {
	return chainsource.Info{StorageMode: chainsource.FullBasic, Network: "regtest"}, nil
}

var _ chainsource.ChainSource = (*mockChainSource)(nil)

// memorySink is an in-memory ProgressSink for tests, recording every call
// instead of persisting to disk or Postgres.
type memorySink struct {
	mu      sync.Mutex
	cursors []scantypes.ScanCursor
	flushes int
	owned   map[scantypes.OutPoint]scantypes.OwnedOutput
}

func newMemorySink() *memorySink {
	return &memorySink{owned: map[scantypes.OutPoint]scantypes.OwnedOutput{}}
}

func (s *memorySink) RecordOutputs(height uint32, blockHash scantypes.BlockHash, outputs map[scantypes.OutPoint]scantypes.OwnedOutput) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for op, out := range outputs {
		s.owned[op] = out
	}
	return nil
}

func (s *memorySink) RecordInputs(height uint32, blockHash scantypes.BlockHash, spent map[scantypes.OutPoint]struct{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for op := range spent {
		if out, ok := s.owned[op]; ok {
			out.SpendStatus = scantypes.Spent
			s.owned[op] = out
		}
	}
	return nil
}

func (s *memorySink) RecordCursor(cursor scantypes.ScanCursor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursors = append(s.cursors, cursor)
	return nil
}

func (s *memorySink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushes++
	return nil
}

func TestScanBlocks_RejectsInvalidRange(t *testing.T) {
	s := New(newMockChainSource(10), newMemorySink(), keyderivation.Deriver{}, nil)

	err := s.ScanBlocks(context.Background(), 10, 5, ScanOptions{})
	if err == nil {
		t.Fatalf("expected an error for start > end")
	}
	if !isInvalidRange(err) {
		t.Fatalf("expected ErrInvalidRange, got %v", err)
	}
}

func isInvalidRange(err error) bool {
	for err != nil {
		if err == scanerr.ErrInvalidRange {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

func TestScanBlocks_RecordsCursorThroughRange(t *testing.T) {
	src := newMockChainSource(20)
	sink := newMemorySink()
	s := New(src, sink, keyderivation.Deriver{}, nil)

	if err := s.ScanBlocks(context.Background(), 5, 9, ScanOptions{Parallelism: 4}); err != nil {
		t.Fatalf("ScanBlocks returned error: %v", err)
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()

	if len(sink.cursors) == 0 {
		t.Fatalf("expected at least one RecordCursor call")
	}
	last := sink.cursors[len(sink.cursors)-1]
	if last.Current != 9 {
		t.Fatalf("expected final cursor height 9, got %d", last.Current)
	}
	if sink.flushes == 0 {
		t.Fatalf("expected at least one flush (last-block cadence)")
	}
}

func TestScanBlocks_HonorsCancellation(t *testing.T) {
	src := newMockChainSource(100)
	sink := newMemorySink()
	s := New(src, sink, keyderivation.Deriver{}, nil)
	s.Cancel = &CancelFlag{}
	s.Cancel.Cancel()

	err := s.ScanBlocks(context.Background(), 0, 50, ScanOptions{})
	if err != scanerr.ErrCancelled {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}
}

func TestCancelFlag_SharedAcrossScanners(t *testing.T) {
	flag := &CancelFlag{}
	s1 := New(newMockChainSource(1), newMemorySink(), keyderivation.Deriver{}, nil)
	s2 := New(newMockChainSource(1), newMemorySink(), keyderivation.Deriver{}, nil)
	s1.Cancel = flag
	s2.Cancel = flag

	flag.Cancel()

	if err := s1.ScanBlocks(context.Background(), 0, 1, ScanOptions{}); err != scanerr.ErrCancelled {
		t.Fatalf("expected s1 to observe cancellation, got %v", err)
	}
	if err := s2.ScanBlocks(context.Background(), 0, 1, ScanOptions{}); err != scanerr.ErrCancelled {
		t.Fatalf("expected s2 to observe the same shared cancellation, got %v", err)
	}
}
