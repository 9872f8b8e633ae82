package core

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"chartcore/internal/dataset"
	"chartcore/internal/edits"
	"chartcore/internal/infra/persistence/memory"
	"chartcore/internal/render"
	"chartcore/pkg/chart"
)

const parent = "widget-1"

type manualTimer struct {
	mu      *sync.Mutex
	f       func()
	stopped bool
}

func (t *manualTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	was := !t.stopped
	t.stopped = true
	return was
}

// manualClock hands out timers that only fire through fire().
type manualClock struct {
	mu     sync.Mutex
	timers []*manualTimer
}

func (c *manualClock) AfterFunc(_ time.Duration, f func()) edits.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &manualTimer{mu: &c.mu, f: f}
	c.timers = append(c.timers, t)
	return t
}

func (c *manualClock) fire() {
	c.mu.Lock()
	var due []*manualTimer
	for _, t := range c.timers {
		if !t.stopped {
			t.stopped = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()
	for _, t := range due {
		t.f()
	}
}

type fakeRenderer struct {
	mu    sync.Mutex
	calls []string
	sum   render.Summary
	err   error
}

func (f *fakeRenderer) RenderAll(_ context.Context, parentID string) (render.Summary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, parentID)
	return f.sum, f.err
}

func (f *fakeRenderer) RenderChart(_ context.Context, parentID, chartID string) (render.Summary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, parentID+"/"+chartID)
	return f.sum, f.err
}

func sequentialIDs() func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return "chart-" + string(rune('a'+n-1))
	}
}

func testProvider() *dataset.Static {
	return dataset.NewStatic("sales.csv",
		[]dataset.Column{
			{Name: "region", Kind: dataset.KindCategorical},
			{Name: "channel", Kind: dataset.KindCategorical},
			{Name: "country", Kind: dataset.KindCategorical},
			{Name: "sales", Kind: dataset.KindNumeric},
			{Name: "cost", Kind: dataset.KindNumeric},
		},
		[]dataset.Row{
			{"region": "east", "channel": "web", "country": "NZ", "sales": 10, "cost": 4},
			{"region": "west", "channel": "retail", "country": "NZ", "sales": 7, "cost": 3},
		},
		nil,
	)
}

type fixture struct {
	svc      *Service
	store    *memory.Store
	clock    *manualClock
	renderer *fakeRenderer
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	store := memory.NewStore()
	clock := &manualClock{}
	renderer := &fakeRenderer{}
	svc := NewService(store, Options{
		Dataset:  testProvider(),
		Renderer: renderer,
		Edits:    edits.Options{AfterFunc: clock.AfterFunc},
		NewID:    sequentialIDs(),
	})
	t.Cleanup(svc.Close)
	return fixture{svc: svc, store: store, clock: clock, renderer: renderer}
}

func (f fixture) create(t *testing.T, patch chart.Patch) chart.Chart {
	t.Helper()
	c, err := f.svc.CreateChart(context.Background(), parent, patch)
	require.NoError(t, err)
	return c
}

func (f fixture) stored(t *testing.T) []chart.Chart {
	t.Helper()
	list, err := f.store.Load(context.Background(), parent)
	require.NoError(t, err)
	return list
}

func (f fixture) storedByID(t *testing.T, id string) chart.Chart {
	t.Helper()
	for _, c := range f.stored(t) {
		if c.ID() == id {
			return c
		}
	}
	t.Fatalf("chart %s not stored", id)
	return chart.Chart{}
}

func (f fixture) markRendered(t *testing.T, id string) {
	t.Helper()
	_, err := f.store.RunInTransaction(context.Background(), parent, func(tx chart.Transaction) error {
		c, _ := tx.Find(id)
		c.Render = chart.Rendered(chart.Config{"data": []any{}}, time.Unix(100, 0))
		return tx.Put(c)
	})
	require.NoError(t, err)
}

func editKeyTitle(chartID string) edits.Key {
	return edits.Key{ParentID: parent, ChartID: chartID, Field: edits.FieldTitle}
}
