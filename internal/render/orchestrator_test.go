package render

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"chartcore/internal/compute"
	blobmemory "chartcore/internal/infra/blob/memory"
	"chartcore/internal/infra/persistence/memory"
	"chartcore/internal/validation"
	"chartcore/pkg/chart"
)

const parent = "widget-1"

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func simpleChart(id, x, y string) chart.Chart {
	c := chart.MustNew(id)
	c.Title = "Chart " + id
	c.Type = chart.TypeBar
	c.XAxis = x
	c.YAxis = y
	return c
}

func seed(t *testing.T, store chart.Store, charts ...chart.Chart) {
	t.Helper()
	_, err := store.RunInTransaction(context.Background(), parent, func(tx chart.Transaction) error {
		tx.Replace(charts)
		return nil
	})
	require.NoError(t, err)
}

func load(t *testing.T, store chart.Store) map[string]chart.Chart {
	t.Helper()
	list, err := store.Load(context.Background(), parent)
	require.NoError(t, err)
	out := make(map[string]chart.Chart, len(list))
	for _, c := range list {
		out[c.ID()] = c
	}
	return out
}

func rowsFor(req compute.Request) compute.Response {
	return compute.Response{ChartConfig: chart.Config{
		"data": []any{map[string]any{req.Traces[0].XColumn: "east", req.Traces[0].YColumn: 10.0}},
	}}
}

func okClient() compute.Client {
	return compute.Func(func(_ context.Context, req compute.Request) (compute.Response, error) {
		return rowsFor(req), nil
	})
}

func TestRenderAllBasic(t *testing.T) {
	store := memory.NewStore()
	seed(t, store, simpleChart("1", "region", "sales"))
	clock := newFakeClock()
	o := New(store, okClient(), Options{Now: clock.Now})

	sum, err := o.RenderAll(context.Background(), parent)
	require.NoError(t, err)
	require.False(t, sum.Skipped)
	require.Equal(t, 1, sum.Requested)
	require.Equal(t, 1, sum.Rendered)

	got := load(t, store)["1"]
	require.Equal(t, "1", got.ID())
	require.True(t, got.Render.IsRendered())
	require.False(t, got.Render.IsLoading())
	require.Equal(t, []chart.Row{{"region": "east", "sales": 10.0}}, got.Render.Data())
	require.Equal(t, clock.Now(), got.Render.LastUpdate())
	require.Equal(t, validation.StatusRendered, validation.StatusOf(got))
}

func TestRenderAllSendsWireRequest(t *testing.T) {
	store := memory.NewStore()
	c := simpleChart("1", "region", "sales")
	c.Type = chart.TypeStackedBar
	seed(t, store, c)
	var got compute.Request
	client := compute.Func(func(_ context.Context, req compute.Request) (compute.Response, error) {
		got = req
		return rowsFor(req), nil
	})
	o := New(store, client, Options{DataRef: func(p string) string { return "file-" + p }})

	_, err := o.RenderAll(context.Background(), parent)
	require.NoError(t, err)
	require.Equal(t, "file-"+parent, got.DataRef)
	require.Equal(t, chart.TypeBar, got.ChartType)
	require.Len(t, got.Traces, 1)
	require.Equal(t, "sales", got.Traces[0].YColumn)
}

func TestRenderAllRejectsOverlappingBatch(t *testing.T) {
	store := memory.NewStore()
	seed(t, store, simpleChart("1", "region", "sales"))
	started := make(chan struct{})
	release := make(chan struct{})
	client := compute.Func(func(_ context.Context, req compute.Request) (compute.Response, error) {
		close(started)
		<-release
		return rowsFor(req), nil
	})
	clock := newFakeClock()
	reg := prometheus.NewRegistry()
	o := New(store, client, Options{Now: clock.Now, Registerer: reg})

	type outcome struct {
		sum Summary
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		sum, err := o.RenderAll(context.Background(), parent)
		done <- outcome{sum, err}
	}()
	<-started
	require.True(t, o.Busy())

	before := load(t, store)
	require.True(t, before["1"].Render.IsLoading())

	clock.Advance(300 * time.Millisecond)
	sum, err := o.RenderAll(context.Background(), parent)
	require.NoError(t, err)
	require.True(t, sum.Skipped)
	require.Equal(t, before, load(t, store))

	close(release)
	first := <-done
	require.NoError(t, first.err)
	require.Equal(t, 1, first.sum.Rendered)
	require.Equal(t, 1.0, promtest.ToFloat64(o.metrics.batches.WithLabelValues(outcomeSkipped)))
	require.Equal(t, 1.0, promtest.ToFloat64(o.metrics.batches.WithLabelValues(outcomeCompleted)))
}

func TestRenderAllEnforcesMinimumInterval(t *testing.T) {
	store := memory.NewStore()
	seed(t, store, simpleChart("1", "region", "sales"))
	var calls atomic.Int32
	client := compute.Func(func(_ context.Context, req compute.Request) (compute.Response, error) {
		calls.Add(1)
		return rowsFor(req), nil
	})
	clock := newFakeClock()
	o := New(store, client, Options{Now: clock.Now, MinInterval: time.Second})

	_, err := o.RenderAll(context.Background(), parent)
	require.NoError(t, err)

	clock.Advance(300 * time.Millisecond)
	sum, err := o.RenderAll(context.Background(), parent)
	require.NoError(t, err)
	require.True(t, sum.Skipped)

	clock.Advance(800 * time.Millisecond)
	sum, err = o.RenderAll(context.Background(), parent)
	require.NoError(t, err)
	require.False(t, sum.Skipped)
	require.Equal(t, int32(2), calls.Load())
}

func TestRenderAllIsolatesFailures(t *testing.T) {
	store := memory.NewStore()
	seed(t, store, simpleChart("1", "region", "sales"), simpleChart("2", "region", "cost"))
	client := compute.Func(func(_ context.Context, req compute.Request) (compute.Response, error) {
		if req.Traces[0].YColumn == "cost" {
			return compute.Response{}, errors.New("service unavailable")
		}
		return rowsFor(req), nil
	})
	notes := NewMemoryNotifier()
	o := New(store, client, Options{Notifier: notes})

	sum, err := o.RenderAll(context.Background(), parent)
	require.NoError(t, err)
	require.Equal(t, 1, sum.Rendered)
	require.Equal(t, 1, sum.Failed)

	got := load(t, store)
	require.Len(t, got, 2)
	require.True(t, got["1"].Render.IsRendered())
	require.False(t, got["2"].Render.IsRendered())
	require.False(t, got["2"].Render.IsLoading())
	require.Equal(t, chart.PhaseFailed, got["2"].Render.Phase())
	require.Equal(t, "service unavailable", got["2"].Render.Reason())
	require.Equal(t, "cost", got["2"].YAxis)

	failed := notes.OfKind(NoticeComputeFailed)
	require.Len(t, failed, 1)
	require.Equal(t, "2", failed[0].ChartID)
}

func TestRenderAllSkipsInvalidCharts(t *testing.T) {
	store := memory.NewStore()
	unconfigured := chart.MustNew("2")
	seed(t, store, simpleChart("1", "region", "sales"), unconfigured)
	var calls atomic.Int32
	client := compute.Func(func(_ context.Context, req compute.Request) (compute.Response, error) {
		calls.Add(1)
		return rowsFor(req), nil
	})
	o := New(store, client, Options{})

	sum, err := o.RenderAll(context.Background(), parent)
	require.NoError(t, err)
	require.Equal(t, 1, sum.Invalid)
	require.Equal(t, int32(1), calls.Load())
	got := load(t, store)
	require.Equal(t, chart.PhaseDirty, got["2"].Render.Phase())
	require.Equal(t, validation.StatusUnconfigured, validation.StatusOf(got["2"]))
}

func TestRenderAllDropsResultsForDeletedCharts(t *testing.T) {
	store := memory.NewStore()
	seed(t, store, simpleChart("1", "region", "sales"), simpleChart("2", "region", "cost"), simpleChart("3", "region", "units"))
	client := compute.Func(func(ctx context.Context, req compute.Request) (compute.Response, error) {
		if req.Traces[0].YColumn == "cost" {
			_, err := store.RunInTransaction(ctx, parent, func(tx chart.Transaction) error {
				return tx.Delete("2")
			})
			if err != nil {
				return compute.Response{}, err
			}
		}
		return rowsFor(req), nil
	})
	notes := NewMemoryNotifier()
	reg := prometheus.NewRegistry()
	o := New(store, client, Options{Notifier: notes, Registerer: reg, Concurrency: 1})

	sum, err := o.RenderAll(context.Background(), parent)
	require.NoError(t, err)
	require.Equal(t, 1, sum.Dropped)

	list, err := store.Load(context.Background(), parent)
	require.NoError(t, err)
	ids := make([]string, 0, len(list))
	for _, c := range list {
		ids = append(ids, c.ID())
		require.True(t, c.Render.IsRendered())
	}
	require.Equal(t, []string{"1", "3"}, ids)
	require.Len(t, notes.OfKind(NoticeResultDropped), 1)
	require.Equal(t, 1.0, promtest.ToFloat64(o.metrics.dropped))
}

func TestRenderAllKeepsConcurrentEdits(t *testing.T) {
	store := memory.NewStore()
	seed(t, store, simpleChart("1", "region", "sales"))
	client := compute.Func(func(ctx context.Context, req compute.Request) (compute.Response, error) {
		_, err := store.RunInTransaction(ctx, parent, func(tx chart.Transaction) error {
			c, _ := tx.Find("1")
			c.Title = "Renamed while rendering"
			c.ShowNote = true
			return tx.Put(c)
		})
		if err != nil {
			return compute.Response{}, err
		}
		return rowsFor(req), nil
	})
	o := New(store, client, Options{})

	_, err := o.RenderAll(context.Background(), parent)
	require.NoError(t, err)
	got := load(t, store)["1"]
	require.Equal(t, "Renamed while rendering", got.Title)
	require.True(t, got.ShowNote)
	require.True(t, got.Render.IsRendered())
}

// dupStore injects a duplicate chart into the list seen by the second
// transaction of a batch, which is the reconciliation pass.
type dupStore struct {
	*memory.Store
	txs atomic.Int32
}

type dupTx struct {
	chart.Transaction
}

func (tx dupTx) Charts() []chart.Chart {
	list := tx.Transaction.Charts()
	if len(list) == 0 {
		return list
	}
	dup := list[0].Clone()
	dup.Title = "stale duplicate"
	return append(list, dup)
}

func (s *dupStore) RunInTransaction(ctx context.Context, parentID string, fn func(chart.Transaction) error) ([]chart.Chart, error) {
	n := s.txs.Add(1)
	return s.Store.RunInTransaction(ctx, parentID, func(tx chart.Transaction) error {
		if n == 2 {
			return fn(dupTx{tx})
		}
		return fn(tx)
	})
}

func TestRenderAllRepairsDuplicateIDs(t *testing.T) {
	inner := memory.NewStore()
	seed(t, inner, simpleChart("1", "region", "sales"), simpleChart("2", "region", "cost"))
	store := &dupStore{Store: inner}
	notes := NewMemoryNotifier()
	o := New(store, okClient(), Options{Notifier: notes, Registerer: prometheus.NewRegistry()})

	sum, err := o.RenderAll(context.Background(), parent)
	require.NoError(t, err)
	require.Equal(t, 1, sum.Duplicates)

	list, err := inner.Load(context.Background(), parent)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, "1", list[0].ID())
	require.Equal(t, "Chart 1", list[0].Title)
	require.True(t, list[0].Render.IsRendered())
	require.Len(t, notes.OfKind(NoticeDuplicateRepaired), 1)
	require.Equal(t, 1.0, promtest.ToFloat64(o.metrics.duplicates))
}

func TestRenderChartRendersOnlyTarget(t *testing.T) {
	store := memory.NewStore()
	seed(t, store, simpleChart("1", "region", "sales"), simpleChart("2", "region", "cost"))
	o := New(store, okClient(), Options{})

	sum, err := o.RenderChart(context.Background(), parent, "2")
	require.NoError(t, err)
	require.Equal(t, 1, sum.Requested)
	got := load(t, store)
	require.Equal(t, chart.PhaseDirty, got["1"].Render.Phase())
	require.True(t, got["2"].Render.IsRendered())
}

func TestRenderChartUnknownID(t *testing.T) {
	store := memory.NewStore()
	seed(t, store, simpleChart("1", "region", "sales"))
	o := New(store, okClient(), Options{})

	_, err := o.RenderChart(context.Background(), parent, "missing")
	require.ErrorIs(t, err, chart.ErrChartNotFound)
	require.False(t, o.Busy())

	_, err = o.RenderChart(context.Background(), parent, "")
	require.ErrorIs(t, err, chart.ErrMissingID)
}

func TestRenderPreservesIdentity(t *testing.T) {
	store := memory.NewStore()
	seed(t, store, simpleChart("a", "region", "sales"), simpleChart("b", "region", "cost"), chart.MustNew("c"))
	client := compute.Func(func(_ context.Context, req compute.Request) (compute.Response, error) {
		if req.Traces[0].YColumn == "cost" {
			return compute.Response{}, errors.New("boom")
		}
		return rowsFor(req), nil
	})
	clock := newFakeClock()
	o := New(store, client, Options{Now: clock.Now})

	for i := 0; i < 3; i++ {
		_, err := o.RenderAll(context.Background(), parent)
		require.NoError(t, err)
		clock.Advance(2 * time.Second)
		list, err := store.Load(context.Background(), parent)
		require.NoError(t, err)
		require.Len(t, list, 3)
		require.Equal(t, "a", list[0].ID())
		require.Equal(t, "b", list[1].ID())
		require.Equal(t, "c", list[2].ID())
	}
}

func TestRenderAllCancelledContextStillSettles(t *testing.T) {
	store := memory.NewStore()
	seed(t, store, simpleChart("1", "region", "sales"))
	ctx, cancel := context.WithCancel(context.Background())
	client := compute.Func(func(ctx context.Context, _ compute.Request) (compute.Response, error) {
		cancel()
		return compute.Response{}, ctx.Err()
	})
	o := New(store, client, Options{})

	sum, err := o.RenderAll(ctx, parent)
	require.NoError(t, err)
	require.Equal(t, 1, sum.Failed)
	got := load(t, store)["1"]
	require.False(t, got.Render.IsLoading())
	require.Equal(t, chart.PhaseFailed, got.Render.Phase())
}

func TestRenderAllArchivesSuccessfulRenders(t *testing.T) {
	store := memory.NewStore()
	seed(t, store, simpleChart("1", "region", "sales"), simpleChart("2", "region", "cost"))
	client := compute.Func(func(_ context.Context, req compute.Request) (compute.Response, error) {
		if req.Traces[0].YColumn == "cost" {
			return compute.Response{}, errors.New("boom")
		}
		return rowsFor(req), nil
	})
	archive := NewArchive(blobmemory.New())
	clock := newFakeClock()
	o := New(store, client, Options{Archive: archive, Now: clock.Now})

	sum, err := o.RenderAll(context.Background(), parent)
	require.NoError(t, err)
	require.Equal(t, 1, sum.Archived)

	history, err := archive.History(context.Background(), parent, "1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Equal(t, Key(parent, "1", clock.Now()), history[0].Key)

	cfg, _, err := archive.Latest(context.Background(), parent, "1")
	require.NoError(t, err)
	require.Len(t, cfg.Rows(), 1)

	_, _, err = archive.Latest(context.Background(), parent, "2")
	require.ErrorIs(t, err, ErrNoArchive)
}

func TestRenderAllRecordsSpans(t *testing.T) {
	store := memory.NewStore()
	seed(t, store, simpleChart("1", "region", "sales"), simpleChart("2", "region", "cost"))
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	defer func() { _ = tp.Shutdown(context.Background()) }()
	o := New(store, okClient(), Options{TracerProvider: tp})

	_, err := o.RenderAll(context.Background(), parent)
	require.NoError(t, err)

	names := map[string]int{}
	for _, s := range recorder.Ended() {
		names[s.Name()]++
	}
	require.Equal(t, 1, names["render.batch"])
	require.Equal(t, 2, names["render.compute"])
}

func TestDedupKeepsFirstOccurrence(t *testing.T) {
	a := chart.MustNew("a")
	a.Title = "first"
	b := chart.MustNew("b")
	a2 := chart.MustNew("a")
	a2.Title = "second"
	out, removed := Dedup([]chart.Chart{a, b, a2})
	require.Len(t, out, 2)
	require.Equal(t, "first", out[0].Title)
	require.Equal(t, []string{"a"}, removed)
}
