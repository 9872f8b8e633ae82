// Package traces implements add, remove and update of the traces of an
// advanced-mode chart. Every structural change invalidates the chart's render.
// Limits such as MaxTraces and last-trace protection are enforced by callers.
package traces

import (
	"strconv"

	"chartcore/pkg/chart"
)

// MaxTraces is the per-chart trace limit enforced by callers.
const MaxTraces = 5

// Patch is a partial trace update; nil fields are left unchanged.
type Patch struct {
	YAxis       *string
	Name        *string
	Color       *string
	Aggregation *chart.Aggregation
	Filters     chart.Filters
}

// Placeholder returns the default name of the trace at position i.
func Placeholder(i int) string { return "Trace " + strconv.Itoa(i+1) }

// Add appends a new trace. Its color follows the palette cycle by position and
// its name defaults to yAxis, or to a positional placeholder when yAxis is empty.
func Add(c chart.Chart, yAxis string) chart.Chart {
	out := chart.Migrate(c.Clone())
	pos := len(out.Traces)
	name := yAxis
	if name == "" {
		name = Placeholder(pos)
	}
	out.Traces = append(out.Traces, chart.Trace{
		ID:          chart.NewID(),
		YAxis:       yAxis,
		Name:        name,
		Color:       chart.PaletteColor(pos),
		Aggregation: chart.AggregationSum,
		Filters:     chart.Filters{},
	})
	out.Render = out.Render.Invalidate()
	return out
}

// Remove drops the trace at index. Out-of-range indexes are a no-op.
func Remove(c chart.Chart, index int) chart.Chart {
	if index < 0 || index >= len(c.Traces) {
		return c
	}
	out := c.Clone()
	out.Traces = append(out.Traces[:index], out.Traces[index+1:]...)
	out.Render = out.Render.Invalidate()
	return out
}

// Update merges p into the trace at index. Out-of-range indexes are a no-op.
func Update(c chart.Chart, index int, p Patch) chart.Chart {
	if index < 0 || index >= len(c.Traces) {
		return c
	}
	out := c.Clone()
	t := &out.Traces[index]
	if p.YAxis != nil {
		t.YAxis = *p.YAxis
	}
	if p.Name != nil {
		t.Name = *p.Name
	}
	if p.Color != nil {
		t.Color = *p.Color
	}
	if p.Aggregation != nil {
		t.Aggregation = *p.Aggregation
	}
	if p.Filters != nil {
		t.Filters = p.Filters.Clone()
	}
	out.Render = out.Render.Invalidate()
	return out
}

// IndexOf returns the position of the trace with the given id, or -1. An
// empty id never matches.
func IndexOf(c chart.Chart, traceID string) int {
	if traceID == "" {
		return -1
	}
	for i, t := range c.Traces {
		if t.ID == traceID {
			return i
		}
	}
	return -1
}
