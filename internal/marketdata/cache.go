// Package marketdata supplies daily bars per symbol through an on-disk cache
// and a token-bucket admission gate.
package marketdata

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/crajarshi/SwingTrading/internal/contracts"
	"github.com/crajarshi/SwingTrading/pkg/logger"
)

const cacheExt = ".json"

// cacheFile is the on-disk shape of one symbol's cache entry
type cacheFile struct {
	Symbol    string          `json:"symbol"`
	UpdatedAt time.Time       `json:"updated_at"`
	Bars      []contracts.Bar `json:"bars"`
}

// CacheStats summarizes the cache directory
type CacheStats struct {
	Files     int   `json:"total_files"`
	Bars      int   `json:"total_bars"`
	SizeBytes int64 `json:"total_size_bytes"`
}

// BarCache stores one JSON file of bars per symbol
// ⭐ SSOT: bar files are read and written here only
type BarCache struct {
	dir    string
	logger *logger.Logger

	mu    sync.Mutex // guards locks
	locks map[string]*sync.Mutex
}

// NewBarCache creates the cache directory if needed
func NewBarCache(dir string, log *logger.Logger) (*BarCache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	return &BarCache{
		dir:    dir,
		logger: log.WithField("module", "bar_cache"),
		locks:  make(map[string]*sync.Mutex),
	}, nil
}

// Dir returns the cache directory
func (c *BarCache) Dir() string {
	return c.dir
}

// lockFor returns the per-symbol lock, creating it on first use
func (c *BarCache) lockFor(symbol string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.locks[symbol]
	if !ok {
		l = &sync.Mutex{}
		c.locks[symbol] = l
	}
	return l
}

func (c *BarCache) path(symbol string) string {
	return filepath.Join(c.dir, symbol+cacheExt)
}

// Read returns the cached bars for symbol, or nil when nothing usable is cached
// A corrupt entry is logged and treated as a miss.
func (c *BarCache) Read(symbol string) []contracts.Bar {
	l := c.lockFor(symbol)
	l.Lock()
	defer l.Unlock()
	return c.readLocked(symbol)
}

func (c *BarCache) readLocked(symbol string) []contracts.Bar {
	data, err := os.ReadFile(c.path(symbol))
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			c.logger.WithError(err).WithField("symbol", symbol).Warn("Failed to read bar cache")
		}
		return nil
	}

	var f cacheFile
	if err := json.Unmarshal(data, &f); err != nil {
		c.logger.WithError(err).WithField("symbol", symbol).Warn("Corrupt bar cache entry")
		return nil
	}
	return f.Bars
}

// Write atomically replaces the cache entry for symbol
// Empty input is ignored.
func (c *BarCache) Write(symbol string, bars []contracts.Bar) error {
	if len(bars) == 0 {
		return nil
	}
	l := c.lockFor(symbol)
	l.Lock()
	defer l.Unlock()
	return c.writeLocked(symbol, bars)
}

func (c *BarCache) writeLocked(symbol string, bars []contracts.Bar) error {
	data, err := json.Marshal(cacheFile{Symbol: symbol, UpdatedAt: time.Now().UTC(), Bars: bars})
	if err != nil {
		return fmt.Errorf("marshal bars for %s: %w", symbol, err)
	}

	tmp, err := os.CreateTemp(c.dir, symbol+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp cache file: %w", err)
	}
	tmpPath := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpPath) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("write temp cache file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp cache file: %w", err)
	}
	if err := os.Rename(tmpPath, c.path(symbol)); err != nil {
		cleanup()
		return fmt.Errorf("rename cache file: %w", err)
	}

	c.logger.WithFields(map[string]interface{}{
		"symbol": symbol,
		"bars":   len(bars),
	}).Debug("Cached bars")
	return nil
}

// IsCurrent reports whether the cached last bar is the given session
func (c *BarCache) IsCurrent(symbol, session string) bool {
	return contracts.LastDate(c.Read(symbol)) == session
}

// Merge combines cached bars with fresh ones, writes the result and returns it
// Duplicate dates keep the fresh bar; bars after session are dropped.
func (c *BarCache) Merge(symbol string, fresh []contracts.Bar, session string) ([]contracts.Bar, error) {
	l := c.lockFor(symbol)
	l.Lock()
	defer l.Unlock()

	merged := MergeBars(c.readLocked(symbol), fresh, session)
	if len(merged) == 0 {
		return nil, nil
	}
	if err := c.writeLocked(symbol, merged); err != nil {
		return merged, err
	}
	return merged, nil
}

// Clear removes one symbol's entry, or every entry when symbol is empty
func (c *BarCache) Clear(symbol string) (int, error) {
	if symbol != "" {
		return c.remove(symbol)
	}

	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return 0, fmt.Errorf("list cache dir: %w", err)
	}
	removed := 0
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, cacheExt) {
			continue
		}
		n, err := c.remove(strings.TrimSuffix(name, cacheExt))
		if err != nil {
			return removed, err
		}
		removed += n
	}
	c.logger.WithField("removed", removed).Info("Cleared bar cache")
	return removed, nil
}

func (c *BarCache) remove(symbol string) (int, error) {
	l := c.lockFor(symbol)
	l.Lock()
	defer l.Unlock()

	err := os.Remove(c.path(symbol))
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("remove cache entry %s: %w", symbol, err)
	}
	return 1, nil
}

// Stats counts cached files, bars and bytes
func (c *BarCache) Stats() (CacheStats, error) {
	var s CacheStats
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return s, fmt.Errorf("list cache dir: %w", err)
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, cacheExt) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		s.Files++
		s.SizeBytes += info.Size()
		s.Bars += len(c.Read(strings.TrimSuffix(name, cacheExt)))
	}
	return s, nil
}

// MergeBars de-duplicates by date (later input wins), sorts ascending and trims after session
func MergeBars(cached, fresh []contracts.Bar, session string) []contracts.Bar {
	byDate := make(map[string]contracts.Bar, len(cached)+len(fresh))
	for _, b := range cached {
		byDate[b.Date] = b
	}
	for _, b := range fresh {
		byDate[b.Date] = b
	}

	out := make([]contracts.Bar, 0, len(byDate))
	for d, b := range byDate {
		if session != "" && d > session {
			continue
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out
}
