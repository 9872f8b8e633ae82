package chart

import (
	"encoding/json"
	"time"
)

// chartJSON is the stored representation. Field names follow the camelCase
// layout of previously persisted chart lists so older lists keep decoding.
type chartJSON struct {
	ID             string       `json:"id"`
	Title          string       `json:"title"`
	Type           Type         `json:"type"`
	XAxis          string       `json:"xAxis"`
	YAxis          string       `json:"yAxis"`
	SecondYAxis    string       `json:"secondYAxis,omitempty"`
	DualAxisMode   DualAxisMode `json:"dualAxisMode,omitempty"`
	Aggregation    Aggregation  `json:"aggregation,omitempty"`
	LegendField    string       `json:"legendField,omitempty"`
	Filters        Filters      `json:"filters"`
	Traces         []Trace      `json:"traces,omitempty"`
	IsAdvancedMode bool         `json:"isAdvancedMode"`
	ShowNote       bool         `json:"showNote"`

	ChartRendered  bool       `json:"chartRendered"`
	ChartLoading   bool       `json:"chartLoading"`
	ChartConfig    Config     `json:"chartConfig,omitempty"`
	FilteredData   []Row      `json:"filteredData,omitempty"`
	LastUpdateTime *time.Time `json:"lastUpdateTime,omitempty"`
	RenderError    string     `json:"renderError,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (c Chart) MarshalJSON() ([]byte, error) {
	out := chartJSON{
		ID:             c.id,
		Title:          c.Title,
		Type:           c.Type,
		XAxis:          c.XAxis,
		YAxis:          c.YAxis,
		SecondYAxis:    c.SecondYAxis,
		DualAxisMode:   c.DualAxisMode,
		Aggregation:    c.Aggregation,
		LegendField:    c.LegendField,
		Filters:        c.Filters,
		Traces:         c.Traces,
		IsAdvancedMode: c.IsAdvancedMode,
		ShowNote:       c.ShowNote,
		ChartRendered:  c.Render.IsRendered(),
		ChartLoading:   c.Render.IsLoading(),
		ChartConfig:    c.Render.Config(),
		FilteredData:   c.Render.Data(),
		RenderError:    c.Render.Reason(),
	}
	if out.Filters == nil {
		out.Filters = Filters{}
	}
	if at := c.Render.LastUpdate(); !at.IsZero() {
		out.LastUpdateTime = &at
	}
	return json.Marshal(out)
}

// UnmarshalJSON implements json.Unmarshaler. A persisted loading flag decodes
// as dirty because no render survives a reload, and a rendered flag without a
// config decodes as dirty because there is nothing to show.
func (c *Chart) UnmarshalJSON(data []byte) error {
	var in chartJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	if in.ID == "" {
		return ErrMissingID
	}
	var at time.Time
	if in.LastUpdateTime != nil {
		at = *in.LastUpdateTime
	}
	var state RenderState
	switch {
	case in.ChartRendered && in.ChartConfig != nil:
		cfg := in.ChartConfig
		if _, ok := cfg["data"]; !ok && len(in.FilteredData) > 0 {
			cfg["data"] = in.FilteredData
		}
		state = Rendered(cfg, at)
	case in.RenderError != "":
		prev := RenderState{at: at}
		if in.ChartConfig != nil {
			prev = Rendered(in.ChartConfig, at)
		}
		state = prev.Fail(in.RenderError)
	default:
		state = RenderState{at: at}.Invalidate()
	}
	filters := in.Filters
	if filters == nil {
		filters = Filters{}
	}
	*c = Chart{
		id:             in.ID,
		Title:          in.Title,
		Type:           in.Type,
		XAxis:          in.XAxis,
		YAxis:          in.YAxis,
		SecondYAxis:    in.SecondYAxis,
		DualAxisMode:   in.DualAxisMode,
		Aggregation:    in.Aggregation,
		LegendField:    in.LegendField,
		Filters:        filters,
		Traces:         traceIdentities(in.ID, in.Traces),
		IsAdvancedMode: in.IsAdvancedMode,
		ShowNote:       in.ShowNote,
		Render:         state,
	}
	if c.Aggregation == "" {
		c.Aggregation = AggregationSum
	}
	return nil
}

// traceIdentities gives every id-less trace of an older stored list the same
// deterministic id Migrate would derive for its position.
func traceIdentities(chartID string, traces []Trace) []Trace {
	for i := range traces {
		if traces[i].ID == "" {
			traces[i].ID = migratedTraceID(chartID, i)
		}
	}
	return traces
}
