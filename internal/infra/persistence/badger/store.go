// Package badger provides an embedded key-value chart-list store on top of
// BadgerDB. Each parent's list is stored under its own key and rewritten after
// every successful transaction.
package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/dgraph-io/badger/v4"

	"chartcore/internal/infra/persistence/memory"
	"chartcore/pkg/chart"
)

var _ chart.Store = (*Store)(nil)

const keyPrefix = "chart_lists/"

// Config configures the badger store.
type Config struct {
	// Dir is the database directory. Required unless InMemory is set.
	Dir        string
	InMemory   bool
	SyncWrites bool
	Logger     *slog.Logger
}

type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...any) {
	l.logger.Error(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Warningf(format string, args ...any) {
	l.logger.Warn(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Infof(format string, args ...any) {
	l.logger.Info(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Debugf(format string, args ...any) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

// Store persists chart lists in badger while reusing the in-memory store for
// transactions.
type Store struct {
	*memory.Store
	db *badger.DB
	mu sync.Mutex
}

// Open opens the database described by cfg and hydrates every stored list.
func Open(cfg Config) (*Store, error) {
	if !cfg.InMemory && cfg.Dir == "" {
		return nil, errors.New("badger dir is required for a persistent store")
	}
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
			return nil, fmt.Errorf("create badger dir %s: %w", cfg.Dir, err)
		}
		opts = badger.DefaultOptions(cfg.Dir)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	snapshot, err := loadSnapshot(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	mem := memory.NewStore()
	mem.ImportState(snapshot)
	return &Store{Store: mem, db: db}, nil
}

func loadSnapshot(db *badger.DB) (memory.Snapshot, error) {
	snapshot := memory.Snapshot{Lists: map[string][]chart.Chart{}}
	err := db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(keyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			parentID := strings.TrimPrefix(string(item.Key()), keyPrefix)
			err := item.Value(func(val []byte) error {
				var list []chart.Chart
				if err := json.Unmarshal(val, &list); err != nil {
					return fmt.Errorf("decode %s: %w", parentID, err)
				}
				snapshot.Lists[parentID] = list
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return memory.Snapshot{}, err
	}
	return snapshot, nil
}

// RunInTransaction applies fn in memory, then writes the parent's list.
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

func (s *Store) persist(ctx context.Context, parentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	charts, err := s.Store.Load(ctx, parentID)
	if err != nil {
		return err
	}
	data, err := json.Marshal(charts)
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(keyPrefix+parentID), data)
	})
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }
