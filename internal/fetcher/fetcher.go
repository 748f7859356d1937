// Package fetcher implements the Fetcher (C7): a bounded-concurrency,
// per-height fetch pipeline over a ChainSource that emits BlockBundle
// results in strict submission order despite out-of-order completion.
//
// Grounded on the teacher's internal/wallet/sync.go SyncToTipWithProgress:
// the same shape of a semaphore-bounded fetch goroutine per height
// feeding a channel, paired with a height-keyed backlog map
// (dataCollector) that the consumer drains in order. This package lifts
// that logic out of the Scanner loop it was embedded in and generalizes
// it into a standalone, cancellable stream, per spec.md §4.5's Fetcher
// contract (emission order equals submission order, default P=200,
// cooperative cancellation that drains in-flight work).
package fetcher

import (
	"context"
	"sync"

	"github.com/setavenger/blindbit-scan-engine/internal/chainsource"
	"github.com/setavenger/blindbit-scan-engine/internal/logging"
	"github.com/setavenger/blindbit-scan-engine/internal/scantypes"
)

// DefaultParallelism is the default number of in-flight per-height
// fetches, per spec.md §4.5/§6 (`concurrent_filter_requests`, default
// 200).
const DefaultParallelism = 200

// Options configures one fetch run.
type Options struct {
	DustLimit      *uint64
	WithCutThrough bool
	Parallelism    int // 0 selects DefaultParallelism
}

// Result is one height's outcome: either a bundle or a fetch error.
// Exactly one height is ever emitted per submission, in height order.
type Result struct {
	Height uint32
	Bundle scantypes.BlockBundle
	Err    error
}

// Run fetches every height in [start, end] from src and streams results,
// in height order, on the returned channel. The channel is closed once
// the range is exhausted or ctx is cancelled and all in-flight work has
// drained. Callers should range over the channel and stop on the first
// Result.Err per spec.md §4.5's fatality policy (the Scanner decides).
//
// cancel, if non-nil, is polled before each new submission: once it
// returns true, no new height is started, but already-dispatched workers
// are allowed to finish and drain, per spec.md §4.5/§5's cancellation
// contract.
func Run(ctx context.Context, src chainsource.ChainSource, start, end uint32, opts Options, cancel func() bool) <-chan Result {
	out := make(chan Result, 1)

	parallelism := opts.Parallelism
	if parallelism <= 0 {
		parallelism = DefaultParallelism
	}

	go func() {
		defer close(out)

		type rawResult struct {
			height uint32
			bundle scantypes.BlockBundle
			err    error
		}

		sem := make(chan struct{}, parallelism)
		results := make(chan rawResult, parallelism)
		var wg sync.WaitGroup

		go func() {
			h := start
			for {
				if cancel != nil && cancel() {
					break
				}
				select {
				case <-ctx.Done():
					goto drain
				default:
				}

				sem <- struct{}{}
				wg.Add(1)
				go func(height uint32) {
					defer wg.Done()
					defer func() { <-sem }()
					bundle, err := fetchOne(ctx, src, height, opts)
					results <- rawResult{height: height, bundle: bundle, err: err}
				}(h)

				if h == end {
					break
				}
				h++
			}
		drain:
			wg.Wait()
			close(results)
		}()

		backlog := make(map[uint32]rawResult, parallelism)
		next := start
		for r := range results {
			if r.height != next {
				backlog[r.height] = r
				continue
			}
			emit(out, r.height, r.bundle, r.err)
			next++
			for {
				buffered, ok := backlog[next]
				if !ok {
					break
				}
				delete(backlog, next)
				emit(out, buffered.height, buffered.bundle, buffered.err)
				next++
			}
		}
	}()

	return out
}

func emit(out chan<- Result, height uint32, bundle scantypes.BlockBundle, err error) {
	out <- Result{Height: height, Bundle: bundle, Err: err}
}

// fetchOne issues the three ChainSource requests for one height and
// assembles a BlockBundle, per spec.md §4.5's responsibilities.
func fetchOne(ctx context.Context, src chainsource.ChainSource, height uint32, opts Options) (scantypes.BlockBundle, error) {
	var (
		tweaks []scantypes.Tweak
		err    error
	)
	if opts.WithCutThrough {
		tweaks, err = src.Tweaks(ctx, height, opts.DustLimit)
	} else {
		tweaks, err = src.TweakIndex(ctx, height, opts.DustLimit)
	}
	if err != nil {
		logging.L.Debug().Err(err).Uint32("height", height).Msg("fetcher: tweak fetch failed")
		return scantypes.BlockBundle{}, err
	}

	blockHash, outputFilter, err := src.FilterNewUTXOs(ctx, height)
	if err != nil {
		logging.L.Debug().Err(err).Uint32("height", height).Msg("fetcher: output filter fetch failed")
		return scantypes.BlockBundle{}, err
	}

	_, spentFilter, err := src.FilterSpent(ctx, height)
	if err != nil {
		logging.L.Debug().Err(err).Uint32("height", height).Msg("fetcher: spent filter fetch failed")
		return scantypes.BlockBundle{}, err
	}

	return scantypes.BlockBundle{
		Height:       height,
		BlockHash:    blockHash,
		Tweaks:       tweaks,
		OutputFilter: outputFilter,
		SpentFilter:  spentFilter,
	}, nil
}
