package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/crajarshi/SwingTrading/internal/contracts"
	"github.com/crajarshi/SwingTrading/pkg/database"
	"github.com/crajarshi/SwingTrading/pkg/logger"
)

// migrations creates the swing schema; every statement is idempotent
var migrations = []string{
	`CREATE SCHEMA IF NOT EXISTS swing`,
	`CREATE TABLE IF NOT EXISTS swing.runs (
		run_id      TEXT PRIMARY KEY,
		as_of       DATE NOT NULL,
		manifest    JSONB NOT NULL,
		created_at  TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS swing.intents (
		run_id          TEXT NOT NULL,
		seq             INT NOT NULL,
		client_order_id TEXT NOT NULL,
		symbol          TEXT NOT NULL,
		intent          JSONB NOT NULL,
		PRIMARY KEY (run_id, client_order_id)
	)`,
	`CREATE TABLE IF NOT EXISTS swing.placements (
		run_id          TEXT NOT NULL,
		seq             BIGSERIAL,
		client_order_id TEXT NOT NULL,
		symbol          TEXT NOT NULL,
		record          JSONB NOT NULL,
		updated_at      TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (run_id, client_order_id)
	)`,
	`CREATE TABLE IF NOT EXISTS swing.order_log (
		event_id  TEXT PRIMARY KEY,
		seq       BIGSERIAL,
		run_id    TEXT NOT NULL,
		action    TEXT NOT NULL,
		logged_at TIMESTAMPTZ NOT NULL,
		entry     JSONB NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS order_log_run_idx ON swing.order_log (run_id, seq)`,
	`CREATE TABLE IF NOT EXISTS swing.equity_snapshots (
		snapshot_date DATE PRIMARY KEY,
		snapshot      JSONB NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS swing.archived_runs (
		run_id      TEXT PRIMARY KEY,
		manifest    JSONB,
		intents     JSONB,
		placements  JSONB,
		archived_at TIMESTAMPTZ NOT NULL
	)`,
}

// PostgresStore keeps state in the swing schema
type PostgresStore struct {
	db     *database.DB
	logger *logger.Logger
}

// NewPostgresStore migrates the schema and returns a store on db
func NewPostgresStore(ctx context.Context, db *database.DB, log *logger.Logger) (*PostgresStore, error) {
	if err := db.Migrate(ctx, migrations); err != nil {
		return nil, fmt.Errorf("failed to migrate state schema: %w", err)
	}
	return &PostgresStore{db: db, logger: log.WithField("module", "state")}, nil
}

// SaveManifest implements Store
func (s *PostgresStore) SaveManifest(ctx context.Context, m Manifest) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}
	query := `
		INSERT INTO swing.runs (run_id, as_of, manifest, created_at)
		VALUES ($1, $2::text::date, $3, $4)
		ON CONFLICT (run_id) DO UPDATE SET
			manifest = EXCLUDED.manifest,
			created_at = EXCLUDED.created_at
	`
	if _, err := s.db.Pool.Exec(ctx, query, m.RunID, RunDate(m.RunID), data, m.CreatedAt); err != nil {
		return fmt.Errorf("failed to save manifest: %w", err)
	}
	return nil
}

// LoadManifest implements Store
func (s *PostgresStore) LoadManifest(ctx context.Context, runID string) (*Manifest, error) {
	var data []byte
	err := s.db.Pool.QueryRow(ctx, `SELECT manifest FROM swing.runs WHERE run_id = $1`, runID).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to decode manifest: %w", err)
	}
	return &m, nil
}

// SaveIntents implements Store
func (s *PostgresStore) SaveIntents(ctx context.Context, runID string, intents []contracts.OrderIntent) error {
	tx, err := s.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// the run row marks the run as existing even when no intents survive
	if _, err := tx.Exec(ctx, `
		INSERT INTO swing.runs (run_id, as_of, manifest, created_at)
		VALUES ($1, $2::text::date, '{}'::jsonb, $3)
		ON CONFLICT (run_id) DO NOTHING
	`, runID, RunDate(runID), time.Now()); err != nil {
		return fmt.Errorf("failed to register run: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM swing.intents WHERE run_id = $1`, runID); err != nil {
		return fmt.Errorf("failed to clear intents: %w", err)
	}

	batch := &pgx.Batch{}
	for i, in := range intents {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode intent %s: %w", in.Symbol, err)
		}
		batch.Queue(`
			INSERT INTO swing.intents (run_id, seq, client_order_id, symbol, intent)
			VALUES ($1, $2, $3, $4, $5)
		`, runID, i, in.ClientOrderID, in.Symbol, data)
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("failed to save intents: %w", err)
		}
	}
	return tx.Commit(ctx)
}

// LoadIntents implements Store
func (s *PostgresStore) LoadIntents(ctx context.Context, runID string) ([]contracts.OrderIntent, error) {
	var exists bool
	if err := s.db.Pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM swing.runs WHERE run_id = $1)`, runID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("failed to check run: %w", err)
	}
	if !exists {
		return nil, ErrNotFound
	}

	rows, err := s.db.Pool.Query(ctx, `SELECT intent FROM swing.intents WHERE run_id = $1 ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query intents: %w", err)
	}
	return collectJSON[contracts.OrderIntent](rows)
}

// SavePlacements implements Store
func (s *PostgresStore) SavePlacements(ctx context.Context, runID string, recs []contracts.PlacementRecord) error {
	batch := &pgx.Batch{}
	now := time.Now()
	for _, r := range recs {
		data, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("failed to encode placement %s: %w", r.Symbol, err)
		}
		batch.Queue(`
			INSERT INTO swing.placements (run_id, client_order_id, symbol, record, updated_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (run_id, client_order_id) DO UPDATE SET
				record = EXCLUDED.record,
				updated_at = EXCLUDED.updated_at
		`, runID, r.ClientOrderID, r.Symbol, data, now)
	}
	if batch.Len() == 0 {
		return nil
	}
	if err := s.db.Pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to save placements: %w", err)
	}
	return nil
}

// LoadPlacements implements Store
func (s *PostgresStore) LoadPlacements(ctx context.Context, runID string) ([]contracts.PlacementRecord, error) {
	rows, err := s.db.Pool.Query(ctx, `SELECT record FROM swing.placements WHERE run_id = $1 ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query placements: %w", err)
	}
	out, err := collectJSON[contracts.PlacementRecord](rows)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, ErrNotFound
	}
	return out, nil
}

// AppendOrderLog implements Store
func (s *PostgresStore) AppendOrderLog(ctx context.Context, entries ...contracts.OrderLogEntry) error {
	batch := &pgx.Batch{}
	for _, e := range entries {
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("failed to encode order log entry: %w", err)
		}
		batch.Queue(`
			INSERT INTO swing.order_log (event_id, run_id, action, logged_at, entry)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (event_id) DO NOTHING
		`, e.EventID, e.RunID, e.Action, e.LoggedAt, data)
	}
	if batch.Len() == 0 {
		return nil
	}
	if err := s.db.Pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to append order log: %w", err)
	}
	return nil
}

// ReadOrderLog implements Store
func (s *PostgresStore) ReadOrderLog(ctx context.Context, runID string) ([]contracts.OrderLogEntry, error) {
	rows, err := s.db.Pool.Query(ctx, `
		SELECT entry FROM swing.order_log
		WHERE $1 = '' OR run_id = $1
		ORDER BY seq
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query order log: %w", err)
	}
	return collectJSON[contracts.OrderLogEntry](rows)
}

// SaveSnapshot implements Store
func (s *PostgresStore) SaveSnapshot(ctx context.Context, snap contracts.EquitySnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	query := `
		INSERT INTO swing.equity_snapshots (snapshot_date, snapshot)
		VALUES ($1::text::date, $2)
		ON CONFLICT (snapshot_date) DO UPDATE SET snapshot = EXCLUDED.snapshot
	`
	if _, err := s.db.Pool.Exec(ctx, query, snap.Date, data); err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

// LatestSnapshot implements Store
func (s *PostgresStore) LatestSnapshot(ctx context.Context, before string, maxAgeDays int) (*contracts.EquitySnapshot, error) {
	floor, err := snapshotWindow(before, maxAgeDays)
	if err != nil {
		return nil, fmt.Errorf("snapshot lookup: %w", err)
	}
	var data []byte
	err = s.db.Pool.QueryRow(ctx, `
		SELECT snapshot FROM swing.equity_snapshots
		WHERE snapshot_date < $1::text::date AND snapshot_date >= $2::text::date
		ORDER BY snapshot_date DESC
		LIMIT 1
	`, before, floor).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}
	var snap contracts.EquitySnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return &snap, nil
}

// ListRuns implements Store
func (s *PostgresStore) ListRuns(ctx context.Context) ([]string, error) {
	rows, err := s.db.Pool.Query(ctx, `SELECT run_id FROM swing.runs ORDER BY run_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	runs, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to scan runs: %w", err)
	}
	return runs, nil
}

// PurgeRuns implements Store
func (s *PostgresStore) PurgeRuns(ctx context.Context, before string) ([]string, error) {
	tx, err := s.db.Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `
		INSERT INTO swing.archived_runs (run_id, manifest, intents, placements, archived_at)
		SELECT r.run_id, r.manifest,
			(SELECT jsonb_agg(i.intent ORDER BY i.seq) FROM swing.intents i WHERE i.run_id = r.run_id),
			(SELECT jsonb_agg(p.record ORDER BY p.seq) FROM swing.placements p WHERE p.run_id = r.run_id),
			now()
		FROM swing.runs r
		WHERE r.as_of < $1::text::date
		ON CONFLICT (run_id) DO UPDATE SET
			manifest = EXCLUDED.manifest,
			intents = EXCLUDED.intents,
			placements = EXCLUDED.placements,
			archived_at = EXCLUDED.archived_at
		RETURNING run_id
	`, before)
	if err != nil {
		return nil, fmt.Errorf("failed to archive runs: %w", err)
	}
	purged, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to archive runs: %w", err)
	}

	for _, stmt := range []string{
		`DELETE FROM swing.intents WHERE run_id = ANY($1)`,
		`DELETE FROM swing.placements WHERE run_id = ANY($1)`,
		`DELETE FROM swing.runs WHERE run_id = ANY($1)`,
	} {
		if _, err := tx.Exec(ctx, stmt, purged); err != nil {
			return nil, fmt.Errorf("failed to purge runs: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit purge: %w", err)
	}
	sort.Strings(purged)
	return purged, nil
}

// Close implements Store
func (s *PostgresStore) Close() error {
	s.db.Close()
	return nil
}

func collectJSON[T any](rows pgx.Rows) ([]T, error) {
	raw, err := pgx.CollectRows(rows, pgx.RowTo[[]byte])
	if err != nil {
		return nil, fmt.Errorf("failed to scan rows: %w", err)
	}
	out := make([]T, 0, len(raw))
	for _, data := range raw {
		var v T
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("failed to decode row: %w", err)
		}
		out = append(out, v)
	}
	return out, nil
}

var _ Store = (*PostgresStore)(nil)
