package scanner

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// pollInterval is how long the Watcher waits between tip checks once it has
// caught up, matching the teacher's scancontrol.go Start loop's 30s
// interruptible sleep between scan cycles.
const pollInterval = 30 * time.Second

// Watcher repeatedly scans from the last-seen height to the current chain
// tip, grounded on the teacher's internal/scanner/scancontrol.go
// Start/Stop/IsScanning: the same cooperative stop-channel idiom, a
// scanMu guarding the running flag, and a doneChan signaled on exit —
// generalized from one continuously-running Scanner method into a
// wrapper around repeated Scanner.ScanBlocks calls against C1's
// BlockHeight().
type Watcher struct {
	scanner *Scanner

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	doneChan chan struct{}

	lastHeight uint32
	onProgress func(height uint32)
}

// NewWatcher wraps a Scanner for continuous operation starting at
// birthHeight (the first height never yet scanned).
func NewWatcher(s *Scanner, birthHeight uint32) *Watcher {
	return &Watcher{scanner: s, lastHeight: birthHeight}
}

// SetProgressCallback installs a callback invoked after each completed
// range scan with the new high-water mark.
func (w *Watcher) SetProgressCallback(cb func(height uint32)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onProgress = cb
}

// Start begins polling for new blocks in a goroutine; it is an error to
// call Start while already running.
func (w *Watcher) Start(ctx context.Context, opts ScanOptions) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return fmt.Errorf("scanner: watcher already running")
	}
	w.running = true
	w.stopChan = make(chan struct{})
	w.doneChan = make(chan struct{})

	stopChan := w.stopChan
	doneChan := w.doneChan

	go func() {
		defer func() {
			w.mu.Lock()
			w.running = false
			w.mu.Unlock()
			close(doneChan)
		}()

		for {
			select {
			case <-stopChan:
				return
			default:
			}

			tip, err := w.scanner.Source.BlockHeight(ctx)
			if err != nil {
				w.scanner.Logger.Error().Err(err).Msg("watcher: failed to get chain tip")
			} else if tip >= w.lastHeight {
				err := w.scanner.ScanBlocks(ctx, w.lastHeight, tip, opts)
				if err != nil {
					w.scanner.Logger.Error().Err(err).Msg("watcher: scan cycle failed")
				} else {
					w.mu.Lock()
					w.lastHeight = tip + 1
					cb := w.onProgress
					w.mu.Unlock()
					if cb != nil {
						cb(tip)
					}
				}
			}

			select {
			case <-stopChan:
				return
			case <-time.After(pollInterval):
			}
		}
	}()

	return nil
}

// Stop signals the watcher to stop and returns immediately; use StopSync
// to block until it has actually exited.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running || w.stopChan == nil {
		return
	}
	select {
	case <-w.stopChan:
	default:
		close(w.stopChan)
	}
}

// StopSync signals the watcher to stop and waits up to 10s for it to
// exit cleanly, mirroring the teacher's StopSync timeout behavior.
func (w *Watcher) StopSync() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	doneChan := w.doneChan
	stopChan := w.stopChan
	w.mu.Unlock()

	if stopChan != nil {
		select {
		case <-stopChan:
		default:
			close(stopChan)
		}
	}

	select {
	case <-doneChan:
	case <-time.After(10 * time.Second):
		w.scanner.Logger.Warn().Msg("watcher: stop timeout")
	}
}

// IsRunning reports whether the watcher is currently polling/scanning.
func (w *Watcher) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// LastHeight returns the next height the watcher has not yet scanned.
func (w *Watcher) LastHeight() uint32 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastHeight
}
