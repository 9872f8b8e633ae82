package chart

import (
	"strconv"

	"github.com/google/uuid"
)

var migratedTraceNamespace = uuid.MustParse("7c1f3f0e-5b8e-4c59-9a43-2f0d6a1b9e41")

// migratedTraceID derives a stable trace id so that migrating the same chart
// twice yields identical traces.
func migratedTraceID(chartID string, position int) string {
	return uuid.NewSHA1(migratedTraceNamespace, []byte(chartID+"/"+strconv.Itoa(position))).String()
}

// Migrate returns c with a traces read-model derived from the legacy
// single-series fields. Charts that already carry traces are returned
// unchanged and IsAdvancedMode is never touched.
func Migrate(c Chart) Chart {
	if len(c.Traces) > 0 {
		return c
	}
	out := c
	if c.YAxis == "" {
		out.Traces = []Trace{}
		return out
	}
	out.Traces = []Trace{{
		ID:          migratedTraceID(c.id, 0),
		YAxis:       c.YAxis,
		Name:        c.YAxis,
		Color:       PaletteColor(0),
		Aggregation: AggregationSum,
		Filters:     c.Filters.Clone(),
	}}
	return out
}

// ToggleMode switches between simple and advanced mode.
//
// Simple to advanced keeps the migrated traces, creating one empty trace when
// there is nothing to migrate. Advanced to simple copies the y axis and
// filters of the first trace into the legacy fields; later traces stay in the
// traces slice but are ignored while the chart is in simple mode.
func ToggleMode(c Chart) Chart {
	out := Migrate(c.Clone())
	out.Render = out.Render.Invalidate()
	if !c.IsAdvancedMode {
		out.IsAdvancedMode = true
		if len(out.Traces) == 0 {
			out.Traces = []Trace{{
				ID:          NewID(),
				Color:       PaletteColor(0),
				Aggregation: AggregationSum,
				Filters:     Filters{},
			}}
		}
		return out
	}
	out.IsAdvancedMode = false
	if len(out.Traces) > 0 {
		first := out.Traces[0]
		out.YAxis = first.YAxis
		out.Filters = first.Filters.Clone()
	}
	return out
}
