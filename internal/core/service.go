// Package core exposes the chart-authoring operations of a widget: list
// edits, trace and filter management, debounced text edits and rendering,
// each applied as one transaction against the chart-list store.
package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"time"

	"chartcore/internal/dataset"
	"chartcore/internal/edits"
	"chartcore/internal/filters"
	"chartcore/internal/render"
	"chartcore/internal/traces"
	"chartcore/internal/validation"
	"chartcore/pkg/chart"
)

var (
	// ErrTraceLimit is returned when a chart already holds traces.MaxTraces traces.
	ErrTraceLimit = errors.New("trace limit reached")
	// ErrLastTrace is returned when removing the only trace of a chart.
	ErrLastTrace = errors.New("cannot remove the last trace")
	// ErrTraceNotFound is returned for unknown trace ids.
	ErrTraceNotFound = errors.New("trace not found")
	// ErrNoDataset is returned by operations that need a dataset provider.
	ErrNoDataset = errors.New("dataset provider not configured")
	// ErrNoRenderer is returned by render operations when none is configured.
	ErrNoRenderer = errors.New("renderer not configured")
)

// Renderer runs render batches; *render.Orchestrator implements it.
type Renderer interface {
	RenderAll(ctx context.Context, parentID string) (render.Summary, error)
	RenderChart(ctx context.Context, parentID, chartID string) (render.Summary, error)
}

// Options configures a Service. Zero values select defaults.
type Options struct {
	Logger   *slog.Logger
	Metrics  MetricsRecorder
	Dataset  dataset.Provider
	Renderer Renderer
	Edits    edits.Options
	NewID    func() string
}

// Service exposes transactional chart operations for every parent.
type Service struct {
	store    chart.Store
	provider dataset.Provider
	renderer Renderer
	edits    *edits.Debouncer
	logger   *slog.Logger
	metrics  MetricsRecorder
	newID    func() string
}

// NewService constructs a service backed by the supplied store.
func NewService(store chart.Store, opts Options) *Service {
	s := &Service{
		store:    store,
		provider: opts.Dataset,
		renderer: opts.Renderer,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		newID:    opts.NewID,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.metrics == nil {
		s.metrics = noopMetrics{}
	}
	if s.newID == nil {
		s.newID = chart.NewID
	}
	editOpts := opts.Edits
	if editOpts.Logger == nil {
		editOpts.Logger = s.logger
	}
	s.edits = edits.New(s.commitEdit, editOpts)
	return s
}

// Store returns the underlying chart-list store.
func (s *Service) Store() chart.Store { return s.store }

// Close cancels pending debounced edits without committing them. Call
// FlushEdits first to keep them.
func (s *Service) Close() { s.edits.Stop() }

// observe wraps an operation with timing, metrics and a debug log line.
func (s *Service) observe(ctx context.Context, op, parentID string, fn func() error) error {
	start := time.Now()
	err := fn()
	s.metrics.Observe(ctx, op, err == nil, time.Since(start))
	if err != nil {
		s.logger.DebugContext(ctx, "chart operation failed", slog.String("operation", op), slog.String("parent_id", parentID), slog.Any("error", err))
	}
	return err
}

// mutate runs fn on one chart inside a transaction and stores the result.
func (s *Service) mutate(ctx context.Context, op, parentID, chartID string, fn func(chart.Chart) (chart.Chart, error)) (chart.Chart, error) {
	var out chart.Chart
	err := s.observe(ctx, op, parentID, func() error {
		_, err := s.store.RunInTransaction(ctx, parentID, func(tx chart.Transaction) error {
			c, ok := tx.Find(chartID)
			if !ok {
				return chart.NotFoundError{ParentID: parentID, ID: chartID}
			}
			next, err := fn(c)
			if err != nil {
				return err
			}
			out = next
			return tx.Put(next)
		})
		return err
	})
	if err != nil {
		return chart.Chart{}, err
	}
	return out, nil
}

// Charts returns the stored list with pending debounced edits overlaid, which
// is what an editing surface shows.
func (s *Service) Charts(ctx context.Context, parentID string) ([]chart.Chart, error) {
	list, err := s.store.Load(ctx, parentID)
	if err != nil {
		return nil, fmt.Errorf("load charts: %w", err)
	}
	for i := range list {
		list[i] = s.overlay(parentID, list[i])
	}
	return list, nil
}

// Chart returns one chart with pending edits overlaid.
func (s *Service) Chart(ctx context.Context, parentID, chartID string) (chart.Chart, error) {
	list, err := s.Charts(ctx, parentID)
	if err != nil {
		return chart.Chart{}, err
	}
	for _, c := range list {
		if c.ID() == chartID {
			return c, nil
		}
	}
	return chart.Chart{}, chart.NotFoundError{ParentID: parentID, ID: chartID}
}

func (s *Service) overlay(parentID string, c chart.Chart) chart.Chart {
	if v, ok := s.edits.Pending(edits.Key{ParentID: parentID, ChartID: c.ID(), Field: edits.FieldTitle}); ok {
		c.Title = v
	}
	for i, t := range c.Traces {
		if v, ok := s.edits.Pending(edits.Key{ParentID: parentID, ChartID: c.ID(), Field: edits.FieldTraceName, TraceID: t.ID}); ok {
			c.Traces[i].Name = v
		}
	}
	return c
}

// CreateChart appends a chart with a fresh id and default title "Chart N".
// The optional patch runs through the same pipeline as UpdateChart.
func (s *Service) CreateChart(ctx context.Context, parentID string, patch chart.Patch) (chart.Chart, error) {
	var out chart.Chart
	err := s.observe(ctx, "create_chart", parentID, func() error {
		_, err := s.store.RunInTransaction(ctx, parentID, func(tx chart.Transaction) error {
			c, err := chart.New(s.newID())
			if err != nil {
				return err
			}
			c.Title = defaultTitle(len(tx.Charts()))
			out = applyPatch(c, patch)
			return tx.Put(out)
		})
		return err
	})
	if err != nil {
		return chart.Chart{}, err
	}
	return out, nil
}

// UpdateChart applies patch to a chart. The pipeline is: coerce the type for
// the effective legend, strip filters keyed by changed axes, apply the patch,
// and invalidate the render if the patch is structural.
func (s *Service) UpdateChart(ctx context.Context, parentID, chartID string, patch chart.Patch) (chart.Chart, error) {
	if patch.Title != nil {
		s.edits.Cancel(edits.Key{ParentID: parentID, ChartID: chartID, Field: edits.FieldTitle})
	}
	return s.mutate(ctx, "update_chart", parentID, chartID, func(c chart.Chart) (chart.Chart, error) {
		return applyPatch(c, patch), nil
	})
}

func applyPatch(c chart.Chart, patch chart.Patch) chart.Chart {
	patch = validation.CoerceTypeForLegend(c, patch)
	out := filters.StripChangedAxes(c, patch)
	out = patch.Apply(out)
	if !out.IsAdvancedMode {
		out = syncFirstTrace(out, patch)
	}
	if patch.Structural() {
		out.Render = out.Render.Invalidate()
	}
	return out
}

// syncFirstTrace mirrors simple-mode y axis and filter edits into the first
// trace, which simple-mode requests merge filters from.
func syncFirstTrace(c chart.Chart, patch chart.Patch) chart.Chart {
	if len(c.Traces) == 0 || (patch.YAxis == nil && patch.Filters == nil) {
		return c
	}
	first := c.Traces[0]
	if patch.YAxis != nil {
		if first.Name == "" || first.Name == first.YAxis {
			first.Name = c.YAxis
		}
		first.YAxis = c.YAxis
	}
	if patch.Filters != nil {
		first.Filters = c.Filters.Clone()
	}
	c.Traces[0] = first
	return c
}

// DuplicateChart copies a chart under a fresh id directly after the source.
// The copy starts dirty and is titled "<title> (copy)".
func (s *Service) DuplicateChart(ctx context.Context, parentID, chartID string) (chart.Chart, error) {
	var out chart.Chart
	err := s.observe(ctx, "duplicate_chart", parentID, func() error {
		_, err := s.store.RunInTransaction(ctx, parentID, func(tx chart.Transaction) error {
			src, ok := tx.Find(chartID)
			if !ok {
				return chart.NotFoundError{ParentID: parentID, ID: chartID}
			}
			src = s.overlay(parentID, src)
			cp, err := src.WithID(s.newID())
			if err != nil {
				return err
			}
			cp.Title = src.Title + " (copy)"
			cp.Render = cp.Render.Invalidate()
			out = cp
			return tx.InsertAfter(chartID, cp)
		})
		return err
	})
	if err != nil {
		return chart.Chart{}, err
	}
	return out, nil
}

var defaultTitlePattern = regexp.MustCompile(`^Chart \d+$`)

func defaultTitle(i int) string { return "Chart " + strconv.Itoa(i+1) }

// DeleteChart removes a chart and renumbers default "Chart N" titles so they
// follow list position. Custom titles and ids are never touched. Pending
// edits of the deleted chart are discarded.
func (s *Service) DeleteChart(ctx context.Context, parentID, chartID string) error {
	return s.observe(ctx, "delete_chart", parentID, func() error {
		_, err := s.store.RunInTransaction(ctx, parentID, func(tx chart.Transaction) error {
			if err := tx.Delete(chartID); err != nil {
				return err
			}
			list := tx.Charts()
			for i, c := range list {
				if defaultTitlePattern.MatchString(c.Title) {
					list[i].Title = defaultTitle(i)
				}
			}
			tx.Replace(list)
			return nil
		})
		if err == nil {
			s.edits.CancelChart(chartID)
		}
		return err
	})
}

// ToggleMode switches a chart between simple and advanced mode.
func (s *Service) ToggleMode(ctx context.Context, parentID, chartID string) (chart.Chart, error) {
	return s.mutate(ctx, "toggle_mode", parentID, chartID, func(c chart.Chart) (chart.Chart, error) {
		return chart.ToggleMode(c), nil
	})
}

// AddTrace appends a trace, refusing beyond traces.MaxTraces.
func (s *Service) AddTrace(ctx context.Context, parentID, chartID, yAxis string) (chart.Chart, error) {
	return s.mutate(ctx, "add_trace", parentID, chartID, func(c chart.Chart) (chart.Chart, error) {
		if len(chart.Migrate(c).Traces) >= traces.MaxTraces {
			return c, fmt.Errorf("%w: %d", ErrTraceLimit, traces.MaxTraces)
		}
		return traces.Add(c, yAxis), nil
	})
}

// RemoveTrace removes a trace by id. The last trace of a chart is kept.
func (s *Service) RemoveTrace(ctx context.Context, parentID, chartID, traceID string) (chart.Chart, error) {
	out, err := s.mutate(ctx, "remove_trace", parentID, chartID, func(c chart.Chart) (chart.Chart, error) {
		i := traces.IndexOf(c, traceID)
		if i < 0 {
			return c, fmt.Errorf("%w: %s", ErrTraceNotFound, traceID)
		}
		if len(c.Traces) == 1 {
			return c, ErrLastTrace
		}
		return traces.Remove(c, i), nil
	})
	if err == nil {
		s.edits.Cancel(edits.Key{ParentID: parentID, ChartID: chartID, Field: edits.FieldTraceName, TraceID: traceID})
	}
	return out, err
}

// UpdateTrace merges p into the trace with traceID.
func (s *Service) UpdateTrace(ctx context.Context, parentID, chartID, traceID string, p traces.Patch) (chart.Chart, error) {
	if p.Name != nil {
		s.edits.Cancel(edits.Key{ParentID: parentID, ChartID: chartID, Field: edits.FieldTraceName, TraceID: traceID})
	}
	return s.mutate(ctx, "update_trace", parentID, chartID, func(c chart.Chart) (chart.Chart, error) {
		i := traces.IndexOf(c, traceID)
		if i < 0 {
			return c, fmt.Errorf("%w: %s", ErrTraceNotFound, traceID)
		}
		return traces.Update(c, i, p), nil
	})
}

// AddGlobalFilter adds column to every trace of a chart with all of its
// currently known unique values selected.
func (s *Service) AddGlobalFilter(ctx context.Context, parentID, chartID, column string) (chart.Chart, error) {
	if s.provider == nil {
		return chart.Chart{}, ErrNoDataset
	}
	values, err := s.provider.UniqueValues(ctx, column)
	if err != nil {
		return chart.Chart{}, fmt.Errorf("unique values for %s: %w", column, err)
	}
	return s.mutate(ctx, "add_global_filter", parentID, chartID, func(c chart.Chart) (chart.Chart, error) {
		out := filters.AddGlobal(c, column, values)
		out.Render = out.Render.Invalidate()
		return out, nil
	})
}

// RemoveGlobalFilter removes column from every trace of a chart.
func (s *Service) RemoveGlobalFilter(ctx context.Context, parentID, chartID, column string) (chart.Chart, error) {
	return s.mutate(ctx, "remove_global_filter", parentID, chartID, func(c chart.Chart) (chart.Chart, error) {
		out := filters.RemoveGlobal(c, column)
		out.Render = out.Render.Invalidate()
		return out, nil
	})
}

// PruneFilters drops, across all charts of parentID, filter keys that are no
// longer filter-eligible columns of the dataset. It reports whether anything
// was written.
func (s *Service) PruneFilters(ctx context.Context, parentID string) (bool, error) {
	if s.provider == nil {
		return false, ErrNoDataset
	}
	var changed bool
	err := s.observe(ctx, "prune_filters", parentID, func() error {
		available, err := dataset.FilterColumns(ctx, s.provider)
		if err != nil {
			return err
		}
		_, err = s.store.RunInTransaction(ctx, parentID, func(tx chart.Transaction) error {
			var pruned []chart.Chart
			pruned, changed = filters.PruneUnavailable(tx.Charts(), available)
			if changed {
				tx.Replace(pruned)
			}
			return nil
		})
		return err
	})
	return changed, err
}

// SetTitle shows title immediately through Charts and persists it once edits
// to the same chart title have been quiet for the debounce delay.
func (s *Service) SetTitle(parentID, chartID, title string) {
	s.edits.Schedule(edits.Key{ParentID: parentID, ChartID: chartID, Field: edits.FieldTitle}, title)
}

// RenameTrace is the debounced counterpart of UpdateTrace for trace names.
// It reports false, scheduling nothing, for an empty trace id.
func (s *Service) RenameTrace(parentID, chartID, traceID, name string) bool {
	if traceID == "" {
		return false
	}
	return s.edits.Schedule(edits.Key{ParentID: parentID, ChartID: chartID, Field: edits.FieldTraceName, TraceID: traceID}, name)
}

// FlushEdits persists every pending debounced edit now.
func (s *Service) FlushEdits(ctx context.Context) error { return s.edits.Flush(ctx) }

// PendingEdits returns the number of edits waiting for their timer.
func (s *Service) PendingEdits() int { return s.edits.Len() }

// commitEdit writes one debounced edit. A chart or trace deleted in the
// meantime makes the edit a no-op.
func (s *Service) commitEdit(ctx context.Context, key edits.Key, value string) error {
	var op string
	var fn func(chart.Chart) (chart.Chart, error)
	switch key.Field {
	case edits.FieldTitle:
		op = "set_title"
		fn = func(c chart.Chart) (chart.Chart, error) {
			c.Title = value
			return c, nil
		}
	case edits.FieldTraceName:
		op = "rename_trace"
		fn = func(c chart.Chart) (chart.Chart, error) {
			i := traces.IndexOf(c, key.TraceID)
			if i < 0 {
				return c, fmt.Errorf("%w: %s", ErrTraceNotFound, key.TraceID)
			}
			return traces.Update(c, i, traces.Patch{Name: &value}), nil
		}
	default:
		return fmt.Errorf("unknown edit field %q", key.Field)
	}
	_, err := s.mutate(ctx, op, key.ParentID, key.ChartID, fn)
	if errors.Is(err, chart.ErrChartNotFound) || errors.Is(err, ErrTraceNotFound) {
		s.logger.DebugContext(ctx, "debounced edit dropped; target deleted", slog.String("key", key.String()))
		return nil
	}
	return err
}

// Render flushes pending edits and renders every chart of parentID.
func (s *Service) Render(ctx context.Context, parentID string) (render.Summary, error) {
	if s.renderer == nil {
		return render.Summary{}, ErrNoRenderer
	}
	if err := s.FlushEdits(ctx); err != nil {
		return render.Summary{}, fmt.Errorf("flush edits: %w", err)
	}
	var sum render.Summary
	err := s.observe(ctx, "render", parentID, func() error {
		var err error
		sum, err = s.renderer.RenderAll(ctx, parentID)
		return err
	})
	return sum, err
}

// RenderChart flushes pending edits and renders one chart.
func (s *Service) RenderChart(ctx context.Context, parentID, chartID string) (render.Summary, error) {
	if s.renderer == nil {
		return render.Summary{}, ErrNoRenderer
	}
	if err := s.FlushEdits(ctx); err != nil {
		return render.Summary{}, fmt.Errorf("flush edits: %w", err)
	}
	var sum render.Summary
	err := s.observe(ctx, "render_chart", parentID, func() error {
		var err error
		sum, err = s.renderer.RenderChart(ctx, parentID, chartID)
		return err
	})
	return sum, err
}

// Reload is the post-load hook: it prunes filters that the (re)loaded
// dataset no longer supports and then renders every chart.
func (s *Service) Reload(ctx context.Context, parentID string) (render.Summary, error) {
	if _, err := s.PruneFilters(ctx, parentID); err != nil && !errors.Is(err, ErrNoDataset) {
		return render.Summary{}, err
	}
	return s.Render(ctx, parentID)
}

// Status returns the validation status of every chart of parentID, in order.
func (s *Service) Status(ctx context.Context, parentID string) ([]validation.Status, error) {
	list, err := s.store.Load(ctx, parentID)
	if err != nil {
		return nil, err
	}
	out := make([]validation.Status, len(list))
	for i, c := range list {
		out[i] = validation.StatusOf(c)
	}
	return out, nil
}

// Migrate stores the migrated form of every chart of parentID and returns
// how many charts gained a traces read-model.
func (s *Service) Migrate(ctx context.Context, parentID string) (int, error) {
	n := 0
	err := s.observe(ctx, "migrate", parentID, func() error {
		_, err := s.store.RunInTransaction(ctx, parentID, func(tx chart.Transaction) error {
			n = 0
			list := tx.Charts()
			for i, c := range list {
				m := chart.Migrate(c)
				if len(m.Traces) != len(c.Traces) {
					n++
				}
				list[i] = m
			}
			tx.Replace(list)
			return nil
		})
		return err
	})
	return n, err
}
