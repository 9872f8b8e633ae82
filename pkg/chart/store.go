package chart

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrChartNotFound is matched by NotFoundError via errors.Is.
	ErrChartNotFound = errors.New("chart not found")
	// ErrDuplicateID is returned when a commit would leave two charts with the same id.
	ErrDuplicateID = errors.New("duplicate chart id")
)

// CheckUnique returns ErrDuplicateID if two charts in the list share an id.
func CheckUnique(charts []Chart) error {
	seen := make(map[string]struct{}, len(charts))
	for _, c := range charts {
		if c.id == "" {
			return ErrMissingID
		}
		if _, dup := seen[c.id]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateID, c.id)
		}
		seen[c.id] = struct{}{}
	}
	return nil
}

// NotFoundError reports a chart id missing from a parent's list.
type NotFoundError struct {
	ParentID string
	ID       string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("chart %s not found in %s", e.ID, e.ParentID)
}

// Is lets errors.Is match ErrChartNotFound.
func (e NotFoundError) Is(target error) bool { return target == ErrChartNotFound }

// Transaction exposes a mutable copy of one parent's chart list. Changes are
// committed only if the transaction function returns nil.
type Transaction interface {
	// ParentID returns the owner of the list.
	ParentID() string
	// Charts returns a deep copy of the list in order.
	Charts() []Chart
	// Find returns a copy of the chart with the given id.
	Find(id string) (Chart, bool)
	// Put replaces the chart with the same id, or appends it when absent.
	Put(Chart) error
	// InsertAfter places c directly after the chart with id afterID.
	InsertAfter(afterID string, c Chart) error
	// Delete removes the chart with the given id.
	Delete(id string) error
	// Replace swaps the whole list.
	Replace([]Chart)
}

// Store is the authoritative chart-list holder, keyed by a parent identifier.
//
// Load always reflects the latest committed write, including writes made by
// other parts of the application while a caller was suspended. Writes are
// full-list replacements computed inside RunInTransaction from a snapshot
// read under the same lock.
type Store interface {
	Load(ctx context.Context, parentID string) ([]Chart, error)
	RunInTransaction(ctx context.Context, parentID string, fn func(Transaction) error) ([]Chart, error)
	Watch(parentID string, fn func([]Chart)) (cancel func())
}
