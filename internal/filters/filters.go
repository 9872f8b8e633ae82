// Package filters derives filter-set changes for charts and traces: cleanup
// when axes change, pruning when the dataset changes, and the global
// add/remove helpers used in advanced mode.
package filters

import (
	"chartcore/pkg/chart"
)

// ChangedAxes returns the axis values a patch sets, in x then y order.
// Empty values are skipped since they cannot collide with a filter key.
func ChangedAxes(p chart.Patch) []string {
	var out []string
	if p.XAxis != nil && *p.XAxis != "" {
		out = append(out, *p.XAxis)
	}
	if p.YAxis != nil && *p.YAxis != "" {
		out = append(out, *p.YAxis)
	}
	return out
}

// StripChangedAxes removes every filter keyed by an axis value the patch sets,
// from the legacy filter map and from every trace's filter map. Other keys are
// left untouched. The returned chart is a copy.
func StripChangedAxes(c chart.Chart, p chart.Patch) chart.Chart {
	return StripColumns(c, ChangedAxes(p)...)
}

// StripColumns removes the given filter keys from c and all of its traces.
func StripColumns(c chart.Chart, columns ...string) chart.Chart {
	out := c.Clone()
	if len(columns) == 0 {
		return out
	}
	for _, col := range columns {
		delete(out.Filters, col)
		for i := range out.Traces {
			delete(out.Traces[i].Filters, col)
		}
	}
	return out
}

// PruneUnavailable removes filter keys that are not in available from every
// chart and trace. It reports whether anything changed so callers can skip a
// store write.
func PruneUnavailable(charts []chart.Chart, available []string) ([]chart.Chart, bool) {
	allowed := make(map[string]struct{}, len(available))
	for _, col := range available {
		allowed[col] = struct{}{}
	}
	out := make([]chart.Chart, len(charts))
	changed := false
	for i, c := range charts {
		var stale []string
		for col := range c.Filters {
			if _, ok := allowed[col]; !ok {
				stale = append(stale, col)
			}
		}
		for _, t := range c.Traces {
			for col := range t.Filters {
				if _, ok := allowed[col]; !ok {
					stale = append(stale, col)
				}
			}
		}
		if len(stale) > 0 {
			changed = true
		}
		out[i] = StripColumns(c, stale...)
	}
	return out, changed
}

// AddGlobal writes column into every trace's filter map seeded with all of
// values, so a newly added global filter starts fully selected.
func AddGlobal(c chart.Chart, column string, values []string) chart.Chart {
	out := c.Clone()
	for i := range out.Traces {
		if out.Traces[i].Filters == nil {
			out.Traces[i].Filters = chart.Filters{}
		}
		out.Traces[i].Filters[column] = append([]string{}, values...)
	}
	return out
}

// RemoveGlobal deletes column from every trace's filter map.
func RemoveGlobal(c chart.Chart, column string) chart.Chart {
	out := c.Clone()
	for i := range out.Traces {
		delete(out.Traces[i].Filters, column)
	}
	return out
}

// GlobalColumns returns the filter columns present on every trace, sorted.
func GlobalColumns(c chart.Chart) []string {
	if len(c.Traces) == 0 {
		return nil
	}
	var out []string
	for _, col := range c.Traces[0].Filters.Columns() {
		shared := true
		for _, t := range c.Traces[1:] {
			if _, ok := t.Filters[col]; !ok {
				shared = false
				break
			}
		}
		if shared {
			out = append(out, col)
		}
	}
	return out
}

// Union merges filter maps, taking for each column the union of permitted
// values in first-seen order.
func Union(sets ...chart.Filters) chart.Filters {
	out := chart.Filters{}
	seen := map[string]map[string]struct{}{}
	for _, set := range sets {
		for _, col := range set.Columns() {
			if _, ok := seen[col]; !ok {
				seen[col] = map[string]struct{}{}
				out[col] = []string{}
			}
			for _, v := range set[col] {
				if _, dup := seen[col][v]; dup {
					continue
				}
				seen[col][v] = struct{}{}
				out[col] = append(out[col], v)
			}
		}
	}
	return out
}
