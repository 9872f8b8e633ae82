package chart

import (
	"fmt"
	"time"

	"github.com/tiendc/go-deepcopy"
)

// Phase is the render lifecycle stage stored on a chart. A chart that fails
// validation is reported as unconfigured by the validation package regardless
// of its stored phase.
type Phase string

const (
	PhaseDirty     Phase = "dirty"
	PhaseRendering Phase = "rendering"
	PhaseRendered  Phase = "rendered"
	PhaseFailed    Phase = "failed"
)

// Config is the opaque chart_config returned by the compute service.
type Config map[string]any

// Row is one materialized data row.
type Row = map[string]any

// Rows extracts the "data" rows of the config. Rows that are not objects are skipped.
func (c Config) Rows() []Row {
	switch data := c["data"].(type) {
	case []Row:
		return data
	case []any:
		out := make([]Row, 0, len(data))
		for _, item := range data {
			if row, ok := item.(map[string]any); ok {
				out = append(out, row)
			}
		}
		return out
	default:
		return nil
	}
}

// RenderState is the explicit render variant of a chart. Values are built
// through Dirty, Rendered and the transition methods, so a rendered state
// always carries a config. Rendering and failed states keep the last good
// config, if any, until a structural edit invalidates it.
type RenderState struct {
	phase  Phase
	config Config
	data   []Row
	reason string
	at     time.Time
}

// Dirty is the state of a valid chart that has not been rendered.
func Dirty() RenderState { return RenderState{phase: PhaseDirty} }

// Rendered is the state of a chart whose compute call succeeded at the given time.
func Rendered(cfg Config, at time.Time) RenderState {
	if cfg == nil {
		cfg = Config{}
	}
	return RenderState{phase: PhaseRendered, config: cfg, data: cfg.Rows(), at: at}
}

// Rendering is the state of a chart whose compute call is in flight.
func Rendering(lastUpdate time.Time) RenderState {
	return RenderState{phase: PhaseRendering, at: lastUpdate}
}

// Failed is the state of a chart whose last compute call failed.
func Failed(reason string, lastUpdate time.Time) RenderState {
	return RenderState{phase: PhaseFailed, reason: reason, at: lastUpdate}
}

// Invalidate moves any state back to dirty, keeping the last render time.
func (s RenderState) Invalidate() RenderState {
	return RenderState{phase: PhaseDirty, at: s.at}
}

// Start marks a render as in flight, keeping the previous result.
func (s RenderState) Start() RenderState {
	return RenderState{phase: PhaseRendering, config: s.config, data: s.data, at: s.at}
}

// Succeed records a successful render.
func (s RenderState) Succeed(cfg Config, at time.Time) RenderState {
	return Rendered(cfg, at)
}

// Fail records a failed render, keeping the last good result and its time.
func (s RenderState) Fail(reason string) RenderState {
	return RenderState{phase: PhaseFailed, config: s.config, data: s.data, reason: reason, at: s.at}
}

// Phase returns the stored phase; the zero value is dirty.
func (s RenderState) Phase() Phase {
	if s.phase == "" {
		return PhaseDirty
	}
	return s.phase
}

// IsRendered mirrors the legacy chartRendered flag.
func (s RenderState) IsRendered() bool { return s.phase == PhaseRendered }

// IsLoading mirrors the legacy chartLoading flag.
func (s RenderState) IsLoading() bool { return s.phase == PhaseRendering }

// Config returns the last successful compute result, nil if there is none.
func (s RenderState) Config() Config { return s.config }

// Data returns the filtered rows of the last successful result.
func (s RenderState) Data() []Row { return s.data }

// Reason returns the failure message of a failed render.
func (s RenderState) Reason() string { return s.reason }

// LastUpdate returns the time of the last successful render, zero if none.
func (s RenderState) LastUpdate() time.Time { return s.at }

func (s RenderState) clone() RenderState {
	cp := s
	if s.config != nil {
		var cfg Config
		if err := deepcopy.Copy(&cfg, s.config); err != nil {
			panic(fmt.Errorf("chart: clone render config: %w", err))
		}
		cp.config = cfg
		cp.data = cfg.Rows()
	}
	return cp
}
