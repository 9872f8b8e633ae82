// Package postgres provides a Postgres-backed chart-list store that mirrors
// the in-memory semantics and keeps one JSONB row per parent.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"chartcore/internal/infra/persistence/memory"
	"chartcore/pkg/chart"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
)

// Compile-time contract assertion ensuring the store satisfies chart.Store.
var _ chart.Store = (*Store)(nil)

const (
	defaultDriver = "pgx"
	defaultDSN    = "postgres://localhost/chartcore?sslmode=disable"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// Store persists chart lists to Postgres while reusing the in-memory
// implementation for transactions.
type Store struct {
	*memory.Store
	db  *sql.DB
	mu  sync.Mutex
	now func() time.Time
}

// NewStore opens a Postgres-backed store using dsn (falls back to defaultDSN),
// ensures the chart_lists table exists and hydrates the in-memory lists.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := ensureTable(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	snapshot, err := loadSnapshot(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	mem := memory.NewStore()
	mem.ImportState(snapshot)
	return &Store{Store: mem, db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

// RunInTransaction applies fn in memory, then upserts the parent's row.
func (s *Store) RunInTransaction(ctx context.Context, parentID string, fn func(chart.Transaction) error) ([]chart.Chart, error) {
	charts, err := s.Store.RunInTransaction(ctx, parentID, fn)
	if err != nil {
		return nil, err
	}
	if err := s.persist(ctx, parentID); err != nil {
		return nil, err
	}
	return charts, nil
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

func ensureTable(ctx context.Context, db *sql.DB) error {
	ddl := `CREATE TABLE IF NOT EXISTS chart_lists (
		parent_id TEXT PRIMARY KEY,
		payload JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("ensure chart_lists table: %w", err)
	}
	return nil
}

func loadSnapshot(ctx context.Context, db *sql.DB) (memory.Snapshot, error) {
	rows, err := db.QueryContext(ctx, `SELECT parent_id, payload FROM chart_lists`)
	if err != nil {
		return memory.Snapshot{}, fmt.Errorf("select chart_lists: %w", err)
	}
	defer func() { _ = rows.Close() }()

	snapshot := memory.Snapshot{Lists: map[string][]chart.Chart{}}
	for rows.Next() {
		var parentID string
		var payload []byte
		if err := rows.Scan(&parentID, &payload); err != nil {
			return memory.Snapshot{}, fmt.Errorf("scan chart_lists: %w", err)
		}
		if len(payload) == 0 {
			continue
		}
		var list []chart.Chart
		if err := json.Unmarshal(payload, &list); err != nil {
			return memory.Snapshot{}, fmt.Errorf("decode %s: %w", parentID, err)
		}
		snapshot.Lists[parentID] = list
	}
	if err := rows.Err(); err != nil {
		return memory.Snapshot{}, fmt.Errorf("iterate chart_lists: %w", err)
	}
	return snapshot, nil
}

func (s *Store) persist(ctx context.Context, parentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	charts, err := s.Store.Load(ctx, parentID)
	if err != nil {
		return err
	}
	data, err := json.Marshal(charts)
	if err != nil {
		return fmt.Errorf("encode %s: %w", parentID, err)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if _, err := tx.ExecContext(ctx, `INSERT INTO chart_lists(parent_id,payload,updated_at) VALUES($1,$2,$3)
		ON CONFLICT(parent_id) DO UPDATE SET payload=EXCLUDED.payload, updated_at=EXCLUDED.updated_at`,
		parentID, data, s.now()); err != nil {
		return fmt.Errorf("upsert %s: %w", parentID, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	committed = true
	return nil
}

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
