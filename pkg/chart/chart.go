// Package chart defines the chart and trace model shared by every chartcore
// component, together with the pure construction and migration helpers and
// the persistence contract implemented by the chart-list stores.
package chart

import (
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// Type enumerates the supported visual chart types.
type Type string

const (
	TypeLine       Type = "line"
	TypeBar        Type = "bar"
	TypeStackedBar Type = "stacked_bar"
	TypeArea       Type = "area"
	TypeScatter    Type = "scatter"
	TypePie        Type = "pie"
)

// Valid reports whether t is one of the known chart types.
func (t Type) Valid() bool {
	switch t {
	case TypeLine, TypeBar, TypeStackedBar, TypeArea, TypeScatter, TypePie:
		return true
	}
	return false
}

// Aggregation enumerates how y values are combined per x bucket.
type Aggregation string

const (
	AggregationSum   Aggregation = "sum"
	AggregationMean  Aggregation = "mean"
	AggregationCount Aggregation = "count"
	AggregationMin   Aggregation = "min"
	AggregationMax   Aggregation = "max"
)

// Valid reports whether a is one of the known aggregations.
func (a Aggregation) Valid() bool {
	switch a {
	case AggregationSum, AggregationMean, AggregationCount, AggregationMin, AggregationMax:
		return true
	}
	return false
}

// DualAxisMode selects how a second y axis is drawn.
type DualAxisMode string

const (
	DualAxisDual   DualAxisMode = "dual"
	DualAxisSingle DualAxisMode = "single"
)

// LegendAggregate is the legend sentinel meaning "no segregation".
const LegendAggregate = "aggregate"

// Palette is the fixed trace color cycle.
var Palette = [...]string{
	"#1f77b4",
	"#ff7f0e",
	"#2ca02c",
	"#d62728",
	"#9467bd",
	"#8c564b",
	"#e377c2",
	"#7f7f7f",
	"#bcbd22",
	"#17becf",
}

// PaletteColor returns the palette entry for position i, wrapping around.
func PaletteColor(i int) string {
	if i < 0 {
		i = -i
	}
	return Palette[i%len(Palette)]
}

// Filters maps a column name to the ordered list of permitted categorical values.
type Filters map[string][]string

// Clone returns a deep copy. A nil receiver yields an empty, non-nil map.
func (f Filters) Clone() Filters {
	out := make(Filters, len(f))
	for k, v := range f {
		out[k] = append([]string(nil), v...)
	}
	return out
}

// Columns returns the filtered column names in ascending order.
func (f Filters) Columns() []string {
	out := make([]string, 0, len(f))
	for k := range f {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Trace is one series of an advanced-mode chart.
type Trace struct {
	ID          string      `json:"id,omitempty"`
	YAxis       string      `json:"yAxis"`
	Name        string      `json:"name"`
	Color       string      `json:"color"`
	Aggregation Aggregation `json:"aggregation"`
	Filters     Filters     `json:"filters"`
}

// Clone returns a deep copy of the trace.
func (t Trace) Clone() Trace {
	cp := t
	cp.Filters = t.Filters.Clone()
	return cp
}

// Chart is one user-configured chart over the shared dataset.
//
// The id is assigned once by New (or restored by JSON decoding) and has no
// setter; every copy of a Chart carries the same id.
type Chart struct {
	id string

	Title          string
	Type           Type
	XAxis          string
	YAxis          string
	SecondYAxis    string
	DualAxisMode   DualAxisMode
	Aggregation    Aggregation
	LegendField    string
	Filters        Filters
	Traces         []Trace
	IsAdvancedMode bool
	ShowNote       bool

	Render RenderState
}

// ErrMissingID is returned when a chart is constructed or stored without an id.
var ErrMissingID = errors.New("chart id required")

// New constructs a chart with the supplied caller-assigned id and defaults.
func New(id string) (Chart, error) {
	if id == "" {
		return Chart{}, ErrMissingID
	}
	return Chart{
		id:           id,
		Type:         TypeLine,
		DualAxisMode: DualAxisDual,
		Aggregation:  AggregationSum,
		Filters:      Filters{},
		Render:       Dirty(),
	}, nil
}

// MustNew is New for fixtures and tests; it panics on an empty id.
func MustNew(id string) Chart {
	c, err := New(id)
	if err != nil {
		panic(fmt.Errorf("chart: %w", err))
	}
	return c
}

// NewID returns a fresh random chart or trace identifier.
func NewID() string {
	return uuid.NewString()
}

// ID returns the stable chart identifier.
func (c Chart) ID() string { return c.id }

// HasSecondYAxis reports whether the chart is in dual-axis mode.
func (c Chart) HasSecondYAxis() bool { return c.SecondYAxis != "" }

// Clone returns a deep copy of the chart, including its render payload.
func (c Chart) Clone() Chart {
	cp := c
	cp.Filters = c.Filters.Clone()
	if c.Traces != nil {
		cp.Traces = make([]Trace, len(c.Traces))
		for i, t := range c.Traces {
			cp.Traces[i] = t.Clone()
		}
	}
	cp.Render = c.Render.clone()
	return cp
}

// CloneAll deep-copies a chart list.
func CloneAll(charts []Chart) []Chart {
	if charts == nil {
		return nil
	}
	out := make([]Chart, len(charts))
	for i, c := range charts {
		out[i] = c.Clone()
	}
	return out
}

// WithID returns a deep copy of c carrying a different id. It exists for
// duplication only; the source chart keeps its own id.
func (c Chart) WithID(id string) (Chart, error) {
	if id == "" {
		return Chart{}, ErrMissingID
	}
	cp := c.Clone()
	cp.id = id
	return cp, nil
}
