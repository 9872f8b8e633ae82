// Package compute defines the request sent to the external chart-computation
// service for one chart, and clients that deliver it.
package compute

import (
	"context"

	"chartcore/internal/filters"
	"chartcore/pkg/chart"
)

// Trace is one series in a compute request.
type Trace struct {
	XColumn     string            `json:"x_column"`
	YColumn     string            `json:"y_column"`
	Name        string            `json:"name"`
	ChartType   chart.Type        `json:"chart_type"`
	Aggregation chart.Aggregation `json:"aggregation"`
	Color       string            `json:"color,omitempty"`
	Filters     chart.Filters     `json:"filters,omitempty"`
}

// Request is the body of one compute call.
type Request struct {
	DataRef      string             `json:"file_id"`
	ChartType    chart.Type         `json:"chart_type"`
	Traces       []Trace            `json:"traces"`
	Title        string             `json:"title"`
	Filters      chart.Filters      `json:"filters,omitempty"`
	DualAxisMode chart.DualAxisMode `json:"dual_axis_mode,omitempty"`
	SecondYAxis  string             `json:"second_y_axis,omitempty"`
	LegendField  string             `json:"legend_field,omitempty"`
}

// Response is the body returned by the compute service. The "data" entry of
// ChartConfig holds the materialized rows.
type Response struct {
	ChartConfig chart.Config `json:"chart_config"`
}

// Client performs one compute call.
type Client interface {
	Compute(ctx context.Context, req Request) (Response, error)
}

// Func adapts a function to Client.
type Func func(ctx context.Context, req Request) (Response, error)

// Compute implements Client.
func (f Func) Compute(ctx context.Context, req Request) (Response, error) { return f(ctx, req) }

// WireType maps a chart type to the type sent on the wire. Stacking is a
// presentation concern, so stacked bars are computed as bars.
func WireType(t chart.Type) chart.Type {
	if t == chart.TypeStackedBar {
		return chart.TypeBar
	}
	return t
}

// BuildRequest builds the compute request for a valid chart.
//
// In advanced mode every trace carries its own filters. In simple mode a
// single trace is sent for the legacy axes and the filters of the chart and
// all of its traces are merged into one top-level map, taking the union of
// permitted values per column.
func BuildRequest(c chart.Chart, dataRef string) Request {
	c = chart.Migrate(c)
	typ := WireType(c.Type)
	req := Request{
		DataRef:     dataRef,
		ChartType:   typ,
		Title:       c.Title,
		LegendField: c.LegendField,
	}
	if c.HasSecondYAxis() {
		req.SecondYAxis = c.SecondYAxis
		req.DualAxisMode = c.DualAxisMode
	}
	if c.IsAdvancedMode {
		req.Traces = make([]Trace, 0, len(c.Traces))
		for _, t := range c.Traces {
			name := t.Name
			if name == "" {
				name = t.YAxis
			}
			agg := t.Aggregation
			if agg == "" {
				agg = chart.AggregationSum
			}
			req.Traces = append(req.Traces, Trace{
				XColumn:     c.XAxis,
				YColumn:     t.YAxis,
				Name:        name,
				ChartType:   typ,
				Aggregation: agg,
				Color:       t.Color,
				Filters:     t.Filters.Clone(),
			})
		}
		return req
	}
	req.Traces = []Trace{{
		XColumn:     c.XAxis,
		YColumn:     c.YAxis,
		Name:        c.YAxis,
		ChartType:   typ,
		Aggregation: c.Aggregation,
		Color:       chart.PaletteColor(0),
	}}
	sets := make([]chart.Filters, 0, len(c.Traces)+1)
	sets = append(sets, c.Filters)
	for _, t := range c.Traces {
		sets = append(sets, t.Filters)
	}
	if merged := filters.Union(sets...); len(merged) > 0 {
		req.Filters = merged
	}
	return req
}
