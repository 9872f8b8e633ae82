// Package dataset describes the tabular dataset charts are authored against:
// its columns, their kinds, and the unique values that populate filter and
// legend choices.
package dataset

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Kind classifies a column.
type Kind string

const (
	KindNumeric     Kind = "numeric"
	KindCategorical Kind = "categorical"
)

// Column is one dataset column.
type Column struct {
	Name string `json:"name" yaml:"name"`
	Kind Kind   `json:"kind" yaml:"kind"`
}

// Row is one sample row keyed by column name.
type Row = map[string]any

// Provider exposes column metadata and unique values for one dataset.
type Provider interface {
	// Ref identifies the dataset to the compute service.
	Ref() string
	Columns(ctx context.Context) ([]Column, error)
	UniqueValues(ctx context.Context, column string) ([]string, error)
}

// Static is an in-memory Provider. Unique values come from a precomputed
// table when one is available for the column and are otherwise derived from
// the sample rows once and cached.
type Static struct {
	ref         string
	columns     []Column
	rows        []Row
	precomputed map[string][]string

	group singleflight.Group
	mu    sync.RWMutex
	cache map[string][]string
}

// NewStatic builds a provider over the given columns, sample rows and optional
// server-side unique value lists.
func NewStatic(ref string, columns []Column, rows []Row, precomputed map[string][]string) *Static {
	return &Static{
		ref:         ref,
		columns:     append([]Column(nil), columns...),
		rows:        rows,
		precomputed: precomputed,
		cache:       make(map[string][]string),
	}
}

// Ref implements Provider.
func (s *Static) Ref() string { return s.ref }

// Columns implements Provider.
func (s *Static) Columns(context.Context) ([]Column, error) {
	return append([]Column(nil), s.columns...), nil
}

// UniqueValues implements Provider. Concurrent derivations for the same column
// share one scan of the sample rows.
func (s *Static) UniqueValues(ctx context.Context, column string) ([]string, error) {
	if !s.hasColumn(column) {
		return nil, fmt.Errorf("unknown column %q", column)
	}
	if values, ok := s.precomputed[column]; ok {
		return append([]string(nil), values...), nil
	}
	s.mu.RLock()
	cached, ok := s.cache[column]
	s.mu.RUnlock()
	if ok {
		return append([]string(nil), cached...), nil
	}
	ch := s.group.DoChan(column, func() (any, error) {
		values := deriveUnique(s.rows, column)
		s.mu.Lock()
		s.cache[column] = values
		s.mu.Unlock()
		return values, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return append([]string(nil), res.Val.([]string)...), nil
	}
}

func (s *Static) hasColumn(name string) bool {
	for _, c := range s.columns {
		if c.Name == name {
			return true
		}
	}
	return false
}

func deriveUnique(rows []Row, column string) []string {
	seen := make(map[string]struct{})
	for _, row := range rows {
		v, ok := row[column]
		if !ok || v == nil {
			continue
		}
		seen[fmt.Sprint(v)] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for v := range seen {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// ColumnsOfKind returns the names of the provider's columns with the given kind.
func ColumnsOfKind(ctx context.Context, p Provider, kind Kind) ([]string, error) {
	cols, err := p.Columns(ctx)
	if err != nil {
		return nil, fmt.Errorf("list columns: %w", err)
	}
	var out []string
	for _, c := range cols {
		if c.Kind == kind {
			out = append(out, c.Name)
		}
	}
	return out, nil
}

// FilterColumns returns the categorical columns that have more than one
// unique value. A single-valued column cannot meaningfully filter anything.
func FilterColumns(ctx context.Context, p Provider) ([]string, error) {
	names, err := ColumnsOfKind(ctx, p, KindCategorical)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, name := range names {
		values, err := p.UniqueValues(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("unique values for %s: %w", name, err)
		}
		if len(values) > 1 {
			out = append(out, name)
		}
	}
	return out, nil
}

// LegendColumns returns the columns eligible to segregate series. The rule is
// the same as for filters.
func LegendColumns(ctx context.Context, p Provider) ([]string, error) {
	return FilterColumns(ctx, p)
}
