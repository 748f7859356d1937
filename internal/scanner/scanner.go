// Package scanner implements the Scanner (C8): the orchestrator that
// drives one block-height range through KeyDerivation, FilterProbe,
// TransactionMatcher, and OutpointDigest, committing owned-output/input
// changes to a ProgressSink with block-aligned, crash-safe flushes.
//
// Grounded on the teacher's internal/scanner/scanner.go (ScanBlock: fetch
// tweaks, precompute candidates, probe the output filter, fetch UTXOs
// only on a hit) and internal/scanner/scancontrol.go (Start/Stop/
// IsScanning's cooperative stop-channel idiom, generalized below into the
// shared cancellation flag spec.md §5 requires to be safe across multiple
// Scanner instances).
package scanner

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/setavenger/blindbit-scan-engine/internal/chainsource"
	"github.com/setavenger/blindbit-scan-engine/internal/fetcher"
	"github.com/setavenger/blindbit-scan-engine/internal/filterprobe"
	"github.com/setavenger/blindbit-scan-engine/internal/keyderivation"
	"github.com/setavenger/blindbit-scan-engine/internal/logging"
	"github.com/setavenger/blindbit-scan-engine/internal/outpointdigest"
	"github.com/setavenger/blindbit-scan-engine/internal/progresssink"
	"github.com/setavenger/blindbit-scan-engine/internal/scanerr"
	"github.com/setavenger/blindbit-scan-engine/internal/scantypes"
	"github.com/setavenger/blindbit-scan-engine/internal/txmatcher"
)

// flushInterval is T_flush from spec.md §4.6: the maximum wall-clock time
// between flushes even if no new output/input was found.
const flushInterval = 30 * time.Second

// CancelFlag is the single shared cancellation signal spec.md §5 requires
// to be safe across multiple Scanner instances (e.g. a continuous-scan
// loop reusing one flag across successive range scans).
type CancelFlag struct {
	flag atomic.Bool
}

// Cancel requests a clean stop at the next block boundary.
func (c *CancelFlag) Cancel() { c.flag.Store(true) }

// Requested reports whether cancellation has been requested.
func (c *CancelFlag) Requested() bool { return c.flag.Load() }

// Scanner drives one scan call. It carries no state between calls to
// ScanBlocks; the OwnedSet for a given call lives in that call's stack
// frame, seeded from ScanOptions.InitialOwned.
type Scanner struct {
	Source  chainsource.ChainSource
	Sink    progresssink.Sink
	Deriver keyderivation.Deriver
	Logger  *zerolog.Logger
	Cancel  *CancelFlag // optional; nil means never cancelled
}

// New builds a Scanner. If logger is nil, the shared package logger is
// used.
func New(src chainsource.ChainSource, sink progresssink.Sink, deriver keyderivation.Deriver, logger *zerolog.Logger) *Scanner {
	if logger == nil {
		logger = &logging.L
	}
	return &Scanner{Source: src, Sink: sink, Deriver: deriver, Logger: logger}
}

// ScanOptions mirrors fetcher.Options plus the scan-level knobs spec.md
// §4.6's public entry takes. InitialOwned seeds the in-memory OwnedSet
// with outpoints already recorded from a prior run (e.g. loaded from the
// ProgressSink by the caller before resuming); a fresh wallet passes nil.
type ScanOptions struct {
	DustLimit      *uint64
	WithCutThrough bool
	Parallelism    int
	InitialOwned   []scantypes.OutPoint
}

// ScanBlocks is the public entry point: scan_blocks(start, end,
// dust_limit, with_cutthrough) from spec.md §4.6. start and end are
// inclusive. Returns ErrInvalidRange if start > end.
//
// The OwnedSet (spec.md §3/§5) lives in memory for the duration of this
// call, seeded from opts.InitialOwned and mutated only here, between
// blocks — per spec.md §5's "no lock needed for the Scanner's own state"
// guarantee.
func (s *Scanner) ScanBlocks(ctx context.Context, start, end uint32, opts ScanOptions) error {
	if start > end {
		return fmt.Errorf("%w: start=%d > end=%d", scanerr.ErrInvalidRange, start, end)
	}

	s.Logger.Info().Uint32("start", start).Uint32("end", end).Msg("scanner: starting scan")

	if err := s.Sink.RecordCursor(scantypes.ScanCursor{Start: start, Current: start, End: end}); err != nil {
		return err
	}

	owned := make(map[scantypes.OutPoint]struct{}, len(opts.InitialOwned))
	for _, op := range opts.InitialOwned {
		owned[op] = struct{}{}
	}

	cancel := func() bool {
		return s.Cancel != nil && s.Cancel.Requested()
	}

	results := fetcher.Run(ctx, s.Source, start, end, fetcher.Options{
		DustLimit:      opts.DustLimit,
		WithCutThrough: opts.WithCutThrough,
		Parallelism:    opts.Parallelism,
	}, cancel)

	lastFlush := time.Now()
	var lastHeight uint32 = start

	for r := range results {
		if cancel() {
			s.Logger.Info().Uint32("height", r.Height).Msg("scanner: cancellation requested, draining and flushing")
			// The fetcher stops submitting once cancel() is true; reading
			// out what is already in flight lets its workers exit.
			for range results {
			}
			if err := s.Sink.Flush(); err != nil {
				return err
			}
			return scanerr.ErrCancelled
		}

		if r.Err != nil {
			s.Logger.Error().Err(r.Err).Uint32("height", r.Height).Msg("scanner: fetch failed, aborting scan")
			_ = s.Sink.Flush()
			return r.Err
		}

		changed, err := s.processBundle(r.Bundle, owned)
		if err != nil {
			return err
		}
		lastHeight = r.Height

		if err := s.Sink.RecordCursor(scantypes.ScanCursor{Start: start, Current: r.Height, End: end}); err != nil {
			return err
		}

		isLast := r.Height == end
		dueToCadence := changed || isLast || time.Since(lastFlush) >= flushInterval
		if dueToCadence {
			if err := s.Sink.Flush(); err != nil {
				return err
			}
			lastFlush = time.Now()
		}
	}

	if cancel() {
		s.Logger.Info().Uint32("height", lastHeight).Msg("scanner: cancellation requested, draining and flushing")
		if err := s.Sink.Flush(); err != nil {
			return err
		}
		return scanerr.ErrCancelled
	}

	s.Logger.Info().Uint32("last_height", lastHeight).Msg("scanner: scan complete")
	return nil
}

// processBundle runs one block bundle through Outputs, Inputs, and Commit,
// per spec.md §4.6's state machine. owned is the Scanner's in-memory
// OwnedSet, mutated in place: additions from this block are added before
// removals are looked up, satisfying the same-block create+spend
// invariant. Returns whether anything changed (a new output or spent
// input), which feeds the flush-cadence decision.
func (s *Scanner) processBundle(bundle scantypes.BlockBundle, owned map[scantypes.OutPoint]struct{}) (changed bool, err error) {
	// Outputs state.
	secretIndex, stats := s.Deriver.DeriveSecretIndex(bundle.Tweaks)
	if stats.Skipped > 0 {
		s.Logger.Debug().Int64("skipped", stats.Skipped).Uint32("height", bundle.Height).Msg("scanner: curve-arithmetic skips during derivation")
	}

	var foundOutputs map[scantypes.OutPoint]scantypes.OwnedOutput
	if len(secretIndex) > 0 {
		outputMatch, err := filterprobe.ProbeOutputs(bundle.BlockHash, bundle.OutputFilter, secretIndex.Scripts())
		if err != nil {
			return false, err
		}
		if outputMatch {
			utxos, err := s.Source.Utxos(context.Background(), bundle.Height)
			if err != nil {
				return false, err
			}
			matches := txmatcher.FindOwned(utxos, secretIndex)
			if len(matches) > 0 {
				foundOutputs = txmatcher.CollectOwnedOutputs(bundle.Height, matches)
			}
		}
	}

	// Outputs are committed before inputs are even looked up, per spec.md
	// §4.6's commit-ordering invariant (a same-block create+spend must
	// see the output added, then removed).
	if len(foundOutputs) > 0 {
		if err := s.Sink.RecordOutputs(bundle.Height, bundle.BlockHash, foundOutputs); err != nil {
			return false, err
		}
		for op := range foundOutputs {
			owned[op] = struct{}{}
		}
		changed = true
	}

	// Inputs state: probe against the full OwnedSet (seeded from prior
	// runs plus whatever this block just added above), not just this
	// block's new outputs — a spend can target an output owned from any
	// earlier height.
	candidateOutpoints := make([]scantypes.OutPoint, 0, len(owned))
	for op := range owned {
		candidateOutpoints = append(candidateOutpoints, op)
	}
	if len(candidateOutpoints) > 0 {
		digestMap := outpointdigest.ComputeAll(candidateOutpoints, bundle.BlockHash)
		digests := make([][8]byte, 0, len(digestMap))
		for d := range digestMap {
			digests = append(digests, [8]byte(d))
		}

		inputMatch, err := filterprobe.ProbeInputs(bundle.BlockHash, bundle.SpentFilter, digests)
		if err != nil {
			return changed, err
		}
		if inputMatch {
			spentDigests, err := s.Source.SpentIndex(context.Background(), bundle.Height)
			if err != nil {
				return changed, err
			}
			spent := make(map[scantypes.OutPoint]struct{})
			for _, sd := range spentDigests {
				if op, ok := digestMap[outpointdigest.Digest(sd)]; ok {
					spent[op] = struct{}{}
				}
			}
			if len(spent) > 0 {
				if err := s.Sink.RecordInputs(bundle.Height, bundle.BlockHash, spent); err != nil {
					return changed, err
				}
				for op := range spent {
					delete(owned, op)
				}
				changed = true
			}
		}
	}

	return changed, nil
}
