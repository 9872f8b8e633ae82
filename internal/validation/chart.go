// Package validation holds the pure well-formedness and compatibility rules
// applied to charts before they are persisted or rendered.
package validation

import (
	"fmt"

	"chartcore/pkg/chart"
)

// Status is the externally visible render status of a chart. It extends the
// stored render phase with StatusUnconfigured for charts that fail validation.
type Status string

const (
	StatusUnconfigured Status = "unconfigured"
	StatusDirty        Status = Status(chart.PhaseDirty)
	StatusRendering    Status = Status(chart.PhaseRendering)
	StatusRendered     Status = Status(chart.PhaseRendered)
	StatusFailed       Status = Status(chart.PhaseFailed)
)

// Problem describes one reason a chart cannot be rendered.
type Problem struct {
	Field   string
	Message string
}

func (e Problem) Error() string { return e.Field + ": " + e.Message }

// Problems lists everything that keeps c from being renderable, in field
// order. The chart is migrated first so that advanced-mode checks see the
// traces read-model.
func Problems(c chart.Chart) []Problem {
	c = chart.Migrate(c)
	var errs []Problem
	if c.XAxis == "" {
		errs = append(errs, Problem{Field: "xAxis", Message: "required"})
	}
	if !c.IsAdvancedMode {
		if c.YAxis == "" {
			errs = append(errs, Problem{Field: "yAxis", Message: "required"})
		}
		return errs
	}
	if len(c.Traces) == 0 {
		return append(errs, Problem{Field: "traces", Message: "at least one trace required"})
	}
	for i, t := range c.Traces {
		if t.YAxis == "" {
			errs = append(errs, Problem{Field: fmt.Sprintf("traces[%d].yAxis", i), Message: "required"})
		}
	}
	return errs
}

// Validate reports whether c can be sent to the compute service.
func Validate(c chart.Chart) bool {
	if c.XAxis == "" {
		return false
	}
	if !c.IsAdvancedMode {
		return c.YAxis != ""
	}
	c = chart.Migrate(c)
	if len(c.Traces) == 0 {
		return false
	}
	for _, t := range c.Traces {
		if t.YAxis == "" {
			return false
		}
	}
	return true
}

// StatusOf derives the status of c from validation and its stored phase.
func StatusOf(c chart.Chart) Status {
	if !Validate(c) {
		return StatusUnconfigured
	}
	return Status(c.Render.Phase())
}

// LegendActive reports whether field segregates series, i.e. it is set and
// is not the aggregate sentinel.
func LegendActive(field string) bool {
	return field != "" && field != chart.LegendAggregate
}

// CoerceTypeForLegend returns patch adjusted so that applying it to c never
// yields a pie chart with an active legend. The effective legend and type are
// resolved by overlaying patch onto c; when both would conflict the type is
// forced to line.
func CoerceTypeForLegend(c chart.Chart, patch chart.Patch) chart.Patch {
	legend := c.LegendField
	if patch.LegendField != nil {
		legend = *patch.LegendField
	}
	typ := c.Type
	if patch.Type != nil {
		typ = *patch.Type
	}
	if LegendActive(legend) && typ == chart.TypePie {
		patch.Type = chart.Ptr(chart.TypeLine)
	}
	return patch
}
