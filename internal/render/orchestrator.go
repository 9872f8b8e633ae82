// Package render drives batches of charts through the external compute
// service and reconciles the results into the authoritative chart list by
// stable chart id.
package render

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"chartcore/internal/compute"
	"chartcore/internal/validation"
	"chartcore/pkg/chart"
)

const (
	// DefaultMinInterval spaces accepted batches.
	DefaultMinInterval = time.Second
	// DefaultConcurrency bounds in-flight compute calls per batch.
	DefaultConcurrency = 8

	tracerName = "chartcore/render"
)

// Options configures an Orchestrator. Zero values select defaults.
type Options struct {
	// MinInterval spaces batch starts; a negative value disables spacing.
	MinInterval time.Duration
	Concurrency int
	// DataRef maps a parent to the dataset reference sent as file_id. The
	// parent id itself is used when nil.
	DataRef        func(parentID string) string
	Logger         *slog.Logger
	Notifier       Notifier
	Archive        *Archive
	Registerer     prometheus.Registerer
	TracerProvider trace.TracerProvider
	Now            func() time.Time
}

// Summary reports what one batch did.
type Summary struct {
	ParentID string
	// Skipped is set when the guard rejected the call; nothing else is set then.
	Skipped    bool
	Requested  int
	Rendered   int
	Failed     int
	Invalid    int
	Dropped    int
	Duplicates int
	Archived   int
}

// Orchestrator runs render batches for chart lists held in a chart.Store.
type Orchestrator struct {
	store    chart.Store
	client   compute.Client
	guard    *guard
	limit    int
	dataRef  func(string) string
	logger   *slog.Logger
	notifier Notifier
	archive  *Archive
	metrics  *metrics
	tracer   trace.Tracer
	now      func() time.Time
}

// New constructs an orchestrator over store and client.
func New(store chart.Store, client compute.Client, opts Options) *Orchestrator {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	minInterval := opts.MinInterval
	if minInterval == 0 {
		minInterval = DefaultMinInterval
	}
	limit := opts.Concurrency
	if limit <= 0 {
		limit = DefaultConcurrency
	}
	dataRef := opts.DataRef
	if dataRef == nil {
		dataRef = func(parentID string) string { return parentID }
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = discardNotifier{}
	}
	tp := opts.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &Orchestrator{
		store:    store,
		client:   client,
		guard:    newGuard(minInterval, now),
		limit:    limit,
		dataRef:  dataRef,
		logger:   logger,
		notifier: notifier,
		archive:  opts.Archive,
		metrics:  newMetrics(opts.Registerer),
		tracer:   tp.Tracer(tracerName),
		now:      now,
	}
}

// Busy reports whether a batch is in flight.
func (o *Orchestrator) Busy() bool { return o.guard.busy() }

// RenderAll renders every chart of parentID.
func (o *Orchestrator) RenderAll(ctx context.Context, parentID string) (Summary, error) {
	return o.run(ctx, parentID, "")
}

// RenderChart renders a single chart. It shares the batch guard with RenderAll.
func (o *Orchestrator) RenderChart(ctx context.Context, parentID, chartID string) (Summary, error) {
	if chartID == "" {
		return Summary{}, chart.ErrMissingID
	}
	return o.run(ctx, parentID, chartID)
}

type job struct {
	chartID string
	req     compute.Request
}

type result struct {
	chartID string
	cfg     chart.Config
	err     error
}

func (o *Orchestrator) run(ctx context.Context, parentID, only string) (Summary, error) {
	if !o.guard.acquire() {
		o.logger.DebugContext(ctx, "render batch rejected", slog.String("parent_id", parentID))
		o.metrics.batches.WithLabelValues(outcomeSkipped).Inc()
		return Summary{ParentID: parentID, Skipped: true}, nil
	}
	defer o.guard.release()

	ctx, span := o.tracer.Start(ctx, "render.batch", trace.WithAttributes(
		attribute.String("parent_id", parentID),
	))
	defer span.End()

	sum, err := o.batch(ctx, parentID, only)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.metrics.batches.WithLabelValues(outcomeError).Inc()
		return sum, err
	}
	span.SetAttributes(
		attribute.Int("charts.requested", sum.Requested),
		attribute.Int("charts.rendered", sum.Rendered),
		attribute.Int("charts.failed", sum.Failed),
	)
	o.metrics.batches.WithLabelValues(outcomeCompleted).Inc()
	o.logger.InfoContext(ctx, "render batch completed",
		slog.String("parent_id", parentID),
		slog.Int("requested", sum.Requested),
		slog.Int("rendered", sum.Rendered),
		slog.Int("failed", sum.Failed),
		slog.Int("invalid", sum.Invalid),
		slog.Int("dropped", sum.Dropped),
	)
	return sum, nil
}

func (o *Orchestrator) batch(ctx context.Context, parentID, only string) (Summary, error) {
	sum := Summary{ParentID: parentID}
	jobs, invalid, err := o.prepare(ctx, parentID, only)
	if err != nil {
		return sum, err
	}
	sum.Invalid = invalid
	sum.Requested = len(jobs)
	o.metrics.charts.WithLabelValues(string(validation.StatusUnconfigured)).Add(float64(invalid))

	results := o.fanOut(ctx, parentID, jobs)

	// Results must land even if the caller gave up, otherwise charts would
	// stay in the rendering phase.
	rctx := context.WithoutCancel(ctx)
	committed, err := o.reconcile(rctx, parentID, results, &sum)
	if err != nil {
		return sum, err
	}
	o.archiveResults(rctx, parentID, committed, results, &sum)
	return sum, nil
}

// prepare reads the latest list, marks valid charts as rendering and invalid
// ones as dirty, and builds one request per valid chart.
func (o *Orchestrator) prepare(ctx context.Context, parentID, only string) ([]job, int, error) {
	var jobs []job
	invalid := 0
	_, err := o.store.RunInTransaction(ctx, parentID, func(tx chart.Transaction) error {
		jobs, invalid = nil, 0
		charts := tx.Charts()
		if only != "" {
			c, ok := tx.Find(only)
			if !ok {
				return chart.NotFoundError{ParentID: parentID, ID: only}
			}
			charts = []chart.Chart{c}
		}
		for _, c := range charts {
			if !validation.Validate(c) {
				invalid++
				c.Render = c.Render.Invalidate()
			} else {
				c.Render = c.Render.Start()
				jobs = append(jobs, job{chartID: c.ID(), req: compute.BuildRequest(c, o.dataRef(parentID))})
			}
			if err := tx.Put(c); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, 0, fmt.Errorf("prepare render batch: %w", err)
	}
	return jobs, invalid, nil
}

// fanOut issues one compute call per job. Calls never fail the group; each
// error is captured in that job's result.
func (o *Orchestrator) fanOut(ctx context.Context, parentID string, jobs []job) []result {
	results := make([]result, len(jobs))
	var g errgroup.Group
	g.SetLimit(o.limit)
	for i, j := range jobs {
		g.Go(func() error {
			results[i] = o.computeOne(ctx, parentID, j)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (o *Orchestrator) computeOne(ctx context.Context, parentID string, j job) result {
	ctx, span := o.tracer.Start(ctx, "render.compute", trace.WithAttributes(
		attribute.String("parent_id", parentID),
		attribute.String("chart_id", j.chartID),
	))
	defer span.End()
	start := time.Now()
	resp, err := o.client.Compute(ctx, j.req)
	o.metrics.compute.Observe(time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return result{chartID: j.chartID, err: err}
	}
	return result{chartID: j.chartID, cfg: resp.ChartConfig}
}

// reconcile merges results into a fresh read of the list by chart id. Results
// for charts deleted during the batch are dropped, and the merged list is
// deduplicated before it is written back.
func (o *Orchestrator) reconcile(ctx context.Context, parentID string, results []result, sum *Summary) ([]chart.Chart, error) {
	var dropped, duplicates []string
	rendered, failed := 0, 0
	committed, err := o.store.RunInTransaction(ctx, parentID, func(tx chart.Transaction) error {
		dropped, duplicates = nil, nil
		rendered, failed = 0, 0
		fresh := tx.Charts()
		pos := make(map[string]int, len(fresh))
		for i, c := range fresh {
			if _, seen := pos[c.ID()]; !seen {
				pos[c.ID()] = i
			}
		}
		at := o.now()
		for _, r := range results {
			i, ok := pos[r.chartID]
			if !ok {
				dropped = append(dropped, r.chartID)
				continue
			}
			c := fresh[i]
			if r.err != nil {
				c.Render = c.Render.Fail(r.err.Error())
				failed++
			} else {
				c.Render = chart.Rendered(r.cfg, at)
				rendered++
			}
			fresh[i] = c
		}
		var list []chart.Chart
		list, duplicates = Dedup(fresh)
		tx.Replace(list)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reconcile render batch: %w", err)
	}

	sum.Rendered, sum.Failed = rendered, failed
	sum.Dropped, sum.Duplicates = len(dropped), len(duplicates)
	o.metrics.charts.WithLabelValues(string(validation.StatusRendered)).Add(float64(rendered))
	o.metrics.charts.WithLabelValues(string(validation.StatusFailed)).Add(float64(failed))
	o.metrics.dropped.Add(float64(len(dropped)))
	o.metrics.duplicates.Add(float64(len(duplicates)))

	for _, r := range results {
		if r.err == nil {
			continue
		}
		o.logger.WarnContext(ctx, "chart render failed",
			slog.String("parent_id", parentID),
			slog.String("chart_id", r.chartID),
			slog.Any("error", r.err),
		)
		o.notifier.Notify(ctx, Notice{Kind: NoticeComputeFailed, ParentID: parentID, ChartID: r.chartID, Message: r.err.Error()})
	}
	for _, id := range dropped {
		o.logger.ErrorContext(ctx, "render result has no matching chart; dropped",
			slog.String("parent_id", parentID),
			slog.String("chart_id", id),
		)
		o.notifier.Notify(ctx, Notice{Kind: NoticeResultDropped, ParentID: parentID, ChartID: id, Message: "chart deleted during render"})
	}
	for _, id := range duplicates {
		o.logger.ErrorContext(ctx, "duplicate chart id removed before commit",
			slog.String("parent_id", parentID),
			slog.String("chart_id", id),
		)
		o.notifier.Notify(ctx, Notice{Kind: NoticeDuplicateRepaired, ParentID: parentID, ChartID: id, Message: "duplicate chart id removed"})
	}
	return committed, nil
}

// archiveResults stores the committed config of every successfully rendered
// chart. Failures are logged only.
func (o *Orchestrator) archiveResults(ctx context.Context, parentID string, committed []chart.Chart, results []result, sum *Summary) {
	if o.archive == nil {
		return
	}
	byID := make(map[string]chart.Chart, len(committed))
	for _, c := range committed {
		byID[c.ID()] = c
	}
	for _, r := range results {
		if r.err != nil {
			continue
		}
		c, ok := byID[r.chartID]
		if !ok || !c.Render.IsRendered() {
			continue
		}
		if _, err := o.archive.Save(ctx, parentID, c.ID(), c.Render.Config(), c.Render.LastUpdate()); err != nil {
			o.logger.WarnContext(ctx, "archive render failed",
				slog.String("parent_id", parentID),
				slog.String("chart_id", c.ID()),
				slog.Any("error", err),
			)
			continue
		}
		sum.Archived++
	}
}

// Dedup keeps the first chart for every id and returns the ids whose later
// occurrences were removed.
func Dedup(charts []chart.Chart) ([]chart.Chart, []string) {
	seen := make(map[string]struct{}, len(charts))
	out := make([]chart.Chart, 0, len(charts))
	var removed []string
	for _, c := range charts {
		if _, dup := seen[c.ID()]; dup {
			removed = append(removed, c.ID())
			continue
		}
		seen[c.ID()] = struct{}{}
		out = append(out, c)
	}
	return out, removed
}
