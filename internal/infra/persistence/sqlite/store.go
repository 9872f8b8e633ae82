// Package sqlite provides a SQLite-backed chart-list store that keeps the
// in-memory transactional semantics and writes the committed list of a parent
// to a single row after every successful transaction.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"chartcore/internal/infra/persistence/memory"
	"chartcore/pkg/chart"

	_ "modernc.org/sqlite" // pure go sqlite driver
)

var _ chart.Store = (*Store)(nil)

const defaultPath = "chartcore.db"

// Store persists chart lists to a SQLite table as JSON payloads.
type Store struct {
	*memory.Store
	db   *sql.DB
	mu   sync.Mutex
	path string
	now  func() time.Time
}

// NewStore opens (creating if needed) the database at path and hydrates the
// in-memory lists from it.
func NewStore(path string) (*Store, error) {
	if path == "" {
		path = defaultPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS chart_lists (
		parent_id TEXT PRIMARY KEY,
		payload BLOB NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create chart_lists table: %w", err)
	}
	s := &Store{Store: memory.NewStore(), db: db, path: path, now: func() time.Time { return time.Now().UTC() }}
	if err := s.load(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) load(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, `SELECT parent_id, payload FROM chart_lists`)
	if err != nil {
		return fmt.Errorf("select chart_lists: %w", err)
	}
	defer func() { _ = rows.Close() }()
	snapshot := memory.Snapshot{Lists: map[string][]chart.Chart{}}
	for rows.Next() {
		var parentID string
		var payload []byte
		if err := rows.Scan(&parentID, &payload); err != nil {
			return fmt.Errorf("scan: %w", err)
		}
		var list []chart.Chart
		if err := json.Unmarshal(payload, &list); err != nil {
			return fmt.Errorf("decode %s: %w", parentID, err)
		}
		snapshot.Lists[parentID] = list
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate chart_lists: %w", err)
	}
	s.ImportState(snapshot)
	return nil
}

// persist writes the latest in-memory list rather than the list committed by
// the caller, so concurrent transactions cannot leave an older list on disk.
func (s *Store) persist(ctx context.Context, parentID string) (retErr error) {
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
		return err
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	if _, err = tx.ExecContext(ctx, `INSERT INTO chart_lists(parent_id,payload,updated_at) VALUES(?,?,?)
		ON CONFLICT(parent_id) DO UPDATE SET payload=excluded.payload, updated_at=excluded.updated_at`,
		parentID, data, s.now()); err != nil {
		return fmt.Errorf("upsert %s: %w", parentID, err)
	}
	return tx.Commit()
}

// RunInTransaction applies fn in memory, then writes the parent's list to SQLite.
func (s *Store) RunInTransaction(ctx context.Context, parentID string, fn func(chart.Transaction) error) ([]chart.Chart, error) {
	charts, err := s.Store.RunInTransaction(ctx, parentID, fn)
	if err != nil {
		return nil, err
	}
	if err := s.persist(ctx, parentID); err != nil {
		return nil, fmt.Errorf("persist %s: %w", parentID, err)
	}
	return charts, nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Path returns the configured database path.
func (s *Store) Path() string { return s.path }
