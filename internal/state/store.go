// Package state persists run artifacts: intents, placements, the order log
// and equity snapshots.
package state

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/crajarshi/SwingTrading/internal/contracts"
	"github.com/crajarshi/SwingTrading/internal/strategyconfig"
	"github.com/crajarshi/SwingTrading/pkg/apperr"
	"github.com/crajarshi/SwingTrading/pkg/config"
	"github.com/crajarshi/SwingTrading/pkg/database"
	"github.com/crajarshi/SwingTrading/pkg/logger"
)

// ErrNotFound is returned when a run artifact does not exist
var ErrNotFound = errors.New("state: not found")

// Manifest describes one scan run
type Manifest struct {
	RunID      string                          `json:"run_id"`
	AsOf       string                          `json:"as_of"`
	CreatedAt  time.Time                       `json:"created_at"`
	Scanned    int                             `json:"scanned"`
	Candidates int                             `json:"candidates"`
	Rejections map[string]int                  `json:"rejections"`
	Regime     string                          `json:"regime,omitempty"`
	Build      *contracts.BuildSummary         `json:"build,omitempty"`
	Decision   strategyconfig.DecisionSnapshot `json:"decision"`
}

// Store persists run state
// ⭐ SSOT: every durable artifact is read and written through a Store
type Store interface {
	SaveManifest(ctx context.Context, m Manifest) error
	LoadManifest(ctx context.Context, runID string) (*Manifest, error)

	// SaveIntents replaces the run's intents
	SaveIntents(ctx context.Context, runID string, intents []contracts.OrderIntent) error
	LoadIntents(ctx context.Context, runID string) ([]contracts.OrderIntent, error)

	// SavePlacements upserts records by client order id
	SavePlacements(ctx context.Context, runID string, recs []contracts.PlacementRecord) error
	LoadPlacements(ctx context.Context, runID string) ([]contracts.PlacementRecord, error)

	AppendOrderLog(ctx context.Context, entries ...contracts.OrderLogEntry) error
	// ReadOrderLog returns entries for runID, or every entry when runID is empty
	ReadOrderLog(ctx context.Context, runID string) ([]contracts.OrderLogEntry, error)

	SaveSnapshot(ctx context.Context, s contracts.EquitySnapshot) error
	// LatestSnapshot returns the newest snapshot dated before date and no older than maxAgeDays
	LatestSnapshot(ctx context.Context, before string, maxAgeDays int) (*contracts.EquitySnapshot, error)

	// ListRuns returns run ids, oldest first
	ListRuns(ctx context.Context) ([]string, error)
	// PurgeRuns archives and removes runs dated before the given date
	PurgeRuns(ctx context.Context, before string) ([]string, error)

	Close() error
}

// Open creates the store selected by cfg.Storage.Backend
func Open(ctx context.Context, cfg *config.Config, log *logger.Logger) (Store, error) {
	switch cfg.Storage.Backend {
	case config.BackendFile, "":
		return NewFileStore(cfg.Storage.StateDir, log)
	case config.BackendPostgres:
		db, err := database.New(ctx, cfg)
		if err != nil {
			return nil, err
		}
		store, err := NewPostgresStore(ctx, db, log)
		if err != nil {
			db.Close()
			return nil, err
		}
		return store, nil
	default:
		return nil, apperr.Configf("state.Open", "unknown storage backend %q", cfg.Storage.Backend)
	}
}

// LoadOrEmpty is like a load call but treats ErrNotFound as an empty result
func LoadOrEmpty[T any](out []T, err error) ([]T, error) {
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}
	return out, nil
}

// RunDate returns the session date a run id belongs to
func RunDate(runID string) string {
	if len(runID) < len(contracts.DateLayout) {
		return runID
	}
	return runID[:len(contracts.DateLayout)]
}

// mergePlacements upserts incoming into existing by client order id, keeping order
func mergePlacements(existing, incoming []contracts.PlacementRecord) []contracts.PlacementRecord {
	idx := make(map[string]int, len(existing))
	out := append([]contracts.PlacementRecord(nil), existing...)
	for i, r := range out {
		idx[r.ClientOrderID] = i
	}
	for _, r := range incoming {
		if i, ok := idx[r.ClientOrderID]; ok {
			out[i] = r
			continue
		}
		idx[r.ClientOrderID] = len(out)
		out = append(out, r)
	}
	return out
}

// snapshotWindow returns the inclusive lower bound for a snapshot lookup
func snapshotWindow(before string, maxAgeDays int) (string, error) {
	t, err := time.Parse(contracts.DateLayout, before)
	if err != nil {
		return "", err
	}
	return t.AddDate(0, 0, -maxAgeDays).Format(contracts.DateLayout), nil
}
