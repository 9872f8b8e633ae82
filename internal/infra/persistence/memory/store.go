// Package memory provides an in-memory implementation of the chart-list
// store used for tests, the CLI's ephemeral mode, and as the transactional
// core of the SQL and badger backends.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"chartcore/pkg/chart"
)

// Compile-time contract assertion ensuring memory.Store adheres to chart.Store.
var _ chart.Store = (*Store)(nil)

// Snapshot captures a point-in-time clone of every chart list.
type Snapshot struct {
	Lists map[string][]chart.Chart `json:"lists"`
}

// Store provides an in-memory transactional chart-list store.
type Store struct {
	mu    sync.RWMutex
	lists map[string][]chart.Chart

	watchMu  sync.Mutex
	watchers map[string]map[int]func([]chart.Chart)
	nextID   int
}

// NewStore constructs an empty in-memory store.
func NewStore() *Store {
	return &Store{
		lists:    make(map[string][]chart.Chart),
		watchers: make(map[string]map[int]func([]chart.Chart)),
	}
}

// ExportState clones the current store state for external persistence.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := Snapshot{Lists: make(map[string][]chart.Chart, len(s.lists))}
	for parent, list := range s.lists {
		out.Lists[parent] = chart.CloneAll(list)
	}
	return out
}

// ImportState replaces the store state with the provided snapshot.
func (s *Store) ImportState(snapshot Snapshot) {
	lists := make(map[string][]chart.Chart, len(snapshot.Lists))
	for parent, list := range snapshot.Lists {
		lists[parent] = chart.CloneAll(list)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lists = lists
}

// Parents returns the ids of every parent holding a list, sorted.
func (s *Store) Parents() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.lists))
	for parent := range s.lists {
		out = append(out, parent)
	}
	sort.Strings(out)
	return out
}

// Load returns a deep copy of the latest committed list. Unknown parents
// yield an empty list.
func (s *Store) Load(_ context.Context, parentID string) ([]chart.Chart, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := chart.CloneAll(s.lists[parentID])
	if list == nil {
		list = []chart.Chart{}
	}
	return list, nil
}

// RunInTransaction executes fn against a copy of the parent's list and commits
// it if fn returns nil and the resulting ids are unique. Watchers are notified
// after the lock is released.
func (s *Store) RunInTransaction(ctx context.Context, parentID string, fn func(chart.Transaction) error) ([]chart.Chart, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out, err := s.commit(parentID, fn)
	if err != nil {
		return nil, err
	}
	s.notify(parentID, out)
	return out, nil
}

func (s *Store) commit(parentID string, fn func(chart.Transaction) error) ([]chart.Chart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx := &transaction{parentID: parentID, charts: chart.CloneAll(s.lists[parentID])}
	if err := fn(tx); err != nil {
		return nil, err
	}
	if err := chart.CheckUnique(tx.charts); err != nil {
		return nil, err
	}
	committed := tx.charts
	if committed == nil {
		committed = []chart.Chart{}
	}
	s.lists[parentID] = committed
	return chart.CloneAll(committed), nil
}

// Watch registers fn to receive every committed list for parentID.
func (s *Store) Watch(parentID string, fn func([]chart.Chart)) func() {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	id := s.nextID
	s.nextID++
	if s.watchers[parentID] == nil {
		s.watchers[parentID] = make(map[int]func([]chart.Chart))
	}
	s.watchers[parentID][id] = fn
	return func() {
		s.watchMu.Lock()
		defer s.watchMu.Unlock()
		delete(s.watchers[parentID], id)
	}
}

func (s *Store) notify(parentID string, charts []chart.Chart) {
	s.watchMu.Lock()
	fns := make([]func([]chart.Chart), 0, len(s.watchers[parentID]))
	for _, fn := range s.watchers[parentID] {
		fns = append(fns, fn)
	}
	s.watchMu.Unlock()
	for _, fn := range fns {
		fn(chart.CloneAll(charts))
	}
}

type transaction struct {
	parentID string
	charts   []chart.Chart
}

func (tx *transaction) ParentID() string { return tx.parentID }

func (tx *transaction) Charts() []chart.Chart {
	out := chart.CloneAll(tx.charts)
	if out == nil {
		out = []chart.Chart{}
	}
	return out
}

func (tx *transaction) index(id string) int {
	for i, c := range tx.charts {
		if c.ID() == id {
			return i
		}
	}
	return -1
}

func (tx *transaction) Find(id string) (chart.Chart, bool) {
	if i := tx.index(id); i >= 0 {
		return tx.charts[i].Clone(), true
	}
	return chart.Chart{}, false
}

func (tx *transaction) Put(c chart.Chart) error {
	if c.ID() == "" {
		return chart.ErrMissingID
	}
	if i := tx.index(c.ID()); i >= 0 {
		tx.charts[i] = c.Clone()
		return nil
	}
	tx.charts = append(tx.charts, c.Clone())
	return nil
}

func (tx *transaction) InsertAfter(afterID string, c chart.Chart) error {
	if c.ID() == "" {
		return chart.ErrMissingID
	}
	if tx.index(c.ID()) >= 0 {
		return fmt.Errorf("%w: %s", chart.ErrDuplicateID, c.ID())
	}
	i := tx.index(afterID)
	if i < 0 {
		return chart.NotFoundError{ParentID: tx.parentID, ID: afterID}
	}
	out := make([]chart.Chart, 0, len(tx.charts)+1)
	out = append(out, tx.charts[:i+1]...)
	out = append(out, c.Clone())
	out = append(out, tx.charts[i+1:]...)
	tx.charts = out
	return nil
}

func (tx *transaction) Delete(id string) error {
	i := tx.index(id)
	if i < 0 {
		return chart.NotFoundError{ParentID: tx.parentID, ID: id}
	}
	tx.charts = append(tx.charts[:i], tx.charts[i+1:]...)
	return nil
}

func (tx *transaction) Replace(charts []chart.Chart) {
	tx.charts = chart.CloneAll(charts)
}
