package progresssink

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/setavenger/blindbit-scan-engine/internal/logging"
	"github.com/setavenger/blindbit-scan-engine/internal/scanerr"
	"github.com/setavenger/blindbit-scan-engine/internal/scantypes"
)

const progressFilename = "scan-progress.json"

// fileState is the on-disk shape persisted by FileSink, a plain JSON
// document in the same spirit as the teacher's whole-wallet blob but
// scoped to scan progress instead of key material.
type fileState struct {
	Cursor  scantypes.ScanCursor                       `json:"cursor"`
	Owned   map[string]scantypes.OwnedOutput           `json:"owned"`   // key: outpoint.String()
	Spent   map[string]struct{}                        `json:"spent"`   // key: outpoint.String(); not written: RecordInputs marks the Owned entry Spent instead
	Heights map[uint32]string                           `json:"heights"` // height -> block hash hex, for audit
}

// FileSink is a ProgressSink backed by a single JSON file under datadir,
// written atomically (temp file + rename) on Flush.
type FileSink struct {
	datadir string

	mu    sync.Mutex
	state fileState
}

// NewFileSink creates a sink rooted at datadir. If a progress file already
// exists there, it is loaded so a scan can resume.
func NewFileSink(datadir string) (*FileSink, error) {
	s := &FileSink{
		datadir: datadir,
		state: fileState{
			Owned:   make(map[string]scantypes.OwnedOutput),
			Spent:   make(map[string]struct{}),
			Heights: make(map[uint32]string),
		},
	}

	path := filepath.Join(datadir, progressFilename)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read progress file: %v", scanerr.ErrSinkError, err)
	}
	if err := json.Unmarshal(data, &s.state); err != nil {
		return nil, fmt.Errorf("%w: failed to parse progress file: %v", scanerr.ErrSinkError, err)
	}
	if s.state.Owned == nil {
		s.state.Owned = make(map[string]scantypes.OwnedOutput)
	}
	if s.state.Spent == nil {
		s.state.Spent = make(map[string]struct{})
	}
	if s.state.Heights == nil {
		s.state.Heights = make(map[uint32]string)
	}

	logging.L.Info().Str("datadir", datadir).Uint32("cursor", s.state.Cursor.Current).Msg("progresssink: resumed from file")
	return s, nil
}

func (s *FileSink) RecordOutputs(height uint32, blockHash scantypes.BlockHash, outputs map[scantypes.OutPoint]scantypes.OwnedOutput) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.Heights[height] = blockHash.String()
	for op, out := range outputs {
		s.state.Owned[op.String()] = out
	}
	return nil
}

func (s *FileSink) RecordInputs(height uint32, blockHash scantypes.BlockHash, spent map[scantypes.OutPoint]struct{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.Heights[height] = blockHash.String()
	for op := range spent {
		key := op.String()
		if owned, ok := s.state.Owned[key]; ok {
			owned.SpendStatus = scantypes.Spent
			s.state.Owned[key] = owned
		}
	}
	return nil
}

func (s *FileSink) RecordCursor(cursor scantypes.ScanCursor) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.Cursor = cursor
	return nil
}

// Cursor returns the last recorded scan cursor, for read-only status
// reporting.
func (s *FileSink) Cursor() scantypes.ScanCursor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Cursor
}

// OwnedCount returns the number of outputs currently tracked as owned,
// regardless of spend status.
func (s *FileSink) OwnedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.state.Owned)
}

// OwnedOutpoints returns every outpoint currently tracked as owned and
// not yet marked spent, for seeding a resumed Scanner's OwnedSet.
func (s *FileSink) OwnedOutpoints() ([]scantypes.OutPoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ops := make([]scantypes.OutPoint, 0, len(s.state.Owned))
	for key, out := range s.state.Owned {
		if out.SpendStatus == scantypes.Spent {
			continue
		}
		op, err := scantypes.ParseOutPoint(key)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", scanerr.ErrSinkError, err)
		}
		ops = append(ops, op)
	}
	return ops, nil
}

// Flush writes the current state to datadir/scan-progress.json via a
// temp-file-then-rename so a crash mid-write cannot corrupt the last
// good checkpoint.
func (s *FileSink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(s.state)
	if err != nil {
		return fmt.Errorf("%w: failed to serialize progress: %v", scanerr.ErrSinkError, err)
	}

	path := filepath.Join(s.datadir, progressFilename)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("%w: failed to write progress file: %v", scanerr.ErrSinkError, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("%w: failed to commit progress file: %v", scanerr.ErrSinkError, err)
	}

	logging.L.Debug().Str("datadir", s.datadir).Uint32("cursor", s.state.Cursor.Current).Msg("progresssink: flushed")
	return nil
}
