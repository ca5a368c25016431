package state

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/crajarshi/SwingTrading/internal/contracts"
	"github.com/crajarshi/SwingTrading/pkg/logger"
)

const (
	dirRuns      = "runs"
	dirSnapshots = "snapshots"
	dirArchive   = "archive"
	fileManifest = "manifest.json"
	fileIntents  = "intents.json"
	filePlaced   = "placements.json"
	fileOrderLog = "order_log.jsonl"
)

// FileStore keeps state as JSON files under one directory
//
//	<dir>/runs/<run_id>/{manifest,intents,placements}.json
//	<dir>/snapshots/<date>.json
//	<dir>/order_log.jsonl
//	<dir>/archive/<run_id>/
type FileStore struct {
	dir    string
	logger *logger.Logger

	mu sync.Mutex
}

// NewFileStore creates a file store rooted at dir
func NewFileStore(dir string, log *logger.Logger) (*FileStore, error) {
	for _, sub := range []string{dirRuns, dirSnapshots, dirArchive} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("create state dir: %w", err)
		}
	}
	return &FileStore{dir: dir, logger: log.WithField("module", "state")}, nil
}

// Dir returns the root directory
func (s *FileStore) Dir() string {
	return s.dir
}

func (s *FileStore) runPath(runID, name string) string {
	return filepath.Join(s.dir, dirRuns, runID, name)
}

// SaveManifest implements Store
func (s *FileStore) SaveManifest(ctx context.Context, m Manifest) error {
	return s.writeJSON(s.runPath(m.RunID, fileManifest), m)
}

// LoadManifest implements Store
func (s *FileStore) LoadManifest(ctx context.Context, runID string) (*Manifest, error) {
	var m Manifest
	if err := s.readJSON(s.runPath(runID, fileManifest), &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// SaveIntents implements Store
func (s *FileStore) SaveIntents(ctx context.Context, runID string, intents []contracts.OrderIntent) error {
	if intents == nil {
		intents = []contracts.OrderIntent{}
	}
	return s.writeJSON(s.runPath(runID, fileIntents), intents)
}

// LoadIntents implements Store
func (s *FileStore) LoadIntents(ctx context.Context, runID string) ([]contracts.OrderIntent, error) {
	var out []contracts.OrderIntent
	if err := s.readJSON(s.runPath(runID, fileIntents), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SavePlacements implements Store
func (s *FileStore) SavePlacements(ctx context.Context, runID string, recs []contracts.PlacementRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var existing []contracts.PlacementRecord
	if err := s.readJSON(s.runPath(runID, filePlaced), &existing); err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	return s.writeJSON(s.runPath(runID, filePlaced), mergePlacements(existing, recs))
}

// LoadPlacements implements Store
func (s *FileStore) LoadPlacements(ctx context.Context, runID string) ([]contracts.PlacementRecord, error) {
	var out []contracts.PlacementRecord
	if err := s.readJSON(s.runPath(runID, filePlaced), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// AppendOrderLog implements Store
func (s *FileStore) AppendOrderLog(ctx context.Context, entries ...contracts.OrderLogEntry) error {
	if len(entries) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(filepath.Join(s.dir, fileOrderLog), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open order log: %w", err)
	}
	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for _, e := range entries {
		if err := enc.Encode(e); err != nil {
			f.Close()
			return fmt.Errorf("encode order log entry: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("write order log: %w", err)
	}
	return f.Close()
}

// ReadOrderLog implements Store
func (s *FileStore) ReadOrderLog(ctx context.Context, runID string) ([]contracts.OrderLogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(filepath.Join(s.dir, fileOrderLog))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open order log: %w", err)
	}
	defer f.Close()

	var out []contracts.OrderLogEntry
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	line := 0
	for sc.Scan() {
		line++
		if len(strings.TrimSpace(sc.Text())) == 0 {
			continue
		}
		var e contracts.OrderLogEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			s.logger.WithError(err).WithField("line", line).Warn("Skipping corrupt order log line")
			continue
		}
		if runID == "" || e.RunID == runID {
			out = append(out, e)
		}
	}
	return out, sc.Err()
}

// SaveSnapshot implements Store
func (s *FileStore) SaveSnapshot(ctx context.Context, snap contracts.EquitySnapshot) error {
	return s.writeJSON(filepath.Join(s.dir, dirSnapshots, snap.Date+".json"), snap)
}

// LatestSnapshot implements Store
func (s *FileStore) LatestSnapshot(ctx context.Context, before string, maxAgeDays int) (*contracts.EquitySnapshot, error) {
	floor, err := snapshotWindow(before, maxAgeDays)
	if err != nil {
		return nil, fmt.Errorf("snapshot lookup: %w", err)
	}
	entries, err := os.ReadDir(filepath.Join(s.dir, dirSnapshots))
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}

	var dates []string
	for _, e := range entries {
		d := strings.TrimSuffix(e.Name(), ".json")
		if e.IsDir() || d == e.Name() {
			continue
		}
		if d < before && d >= floor {
			dates = append(dates, d)
		}
	}
	if len(dates) == 0 {
		return nil, ErrNotFound
	}
	sort.Strings(dates)

	var snap contracts.EquitySnapshot
	if err := s.readJSON(filepath.Join(s.dir, dirSnapshots, dates[len(dates)-1]+".json"), &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// ListRuns implements Store
func (s *FileStore) ListRuns(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.dir, dirRuns))
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}

// PurgeRuns implements Store
// Runs are moved under archive/, replacing an older archive of the same run.
func (s *FileStore) PurgeRuns(ctx context.Context, before string) ([]string, error) {
	runs, err := s.ListRuns(ctx)
	if err != nil {
		return nil, err
	}
	var purged []string
	for _, runID := range runs {
		if RunDate(runID) >= before {
			continue
		}
		dst := filepath.Join(s.dir, dirArchive, runID)
		if err := os.RemoveAll(dst); err != nil {
			return purged, fmt.Errorf("clear archive %s: %w", runID, err)
		}
		if err := os.Rename(filepath.Join(s.dir, dirRuns, runID), dst); err != nil {
			return purged, fmt.Errorf("archive run %s: %w", runID, err)
		}
		purged = append(purged, runID)
	}
	return purged, nil
}

// Close implements Store
func (s *FileStore) Close() error {
	return nil
}

func (s *FileStore) readJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// writeJSON writes through a temp file and rename so readers never see a partial file
func (s *FileStore) writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create %s: %w", filepath.Dir(path), err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	_, werr := tmp.Write(data)
	cerr := tmp.Close()
	if werr == nil {
		werr = cerr
	}
	if werr == nil {
		werr = os.Rename(tmpName, path)
	}
	if werr != nil {
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", path, werr)
	}
	return nil
}

var _ Store = (*FileStore)(nil)
