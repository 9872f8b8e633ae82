package filters

import (
	"reflect"
	"testing"

	"chartcore/pkg/chart"
)

func fixture() chart.Chart {
	c := chart.MustNew("c1")
	c.XAxis = "region"
	c.YAxis = "sales"
	c.Filters = chart.Filters{"A": {"a1"}, "B": {"b1"}}
	c.Traces = []chart.Trace{
		{ID: "t0", YAxis: "sales", Filters: chart.Filters{"A": {"a1"}, "B": {"b1", "b2"}}},
		{ID: "t1", YAxis: "units", Filters: chart.Filters{"A": {"a2"}}},
	}
	return c
}

func TestStripChangedAxesRemovesKeyEverywhere(t *testing.T) {
	c := fixture()
	out := StripChangedAxes(c, chart.Patch{XAxis: chart.Ptr("A")})

	if _, ok := out.Filters["A"]; ok {
		t.Fatalf("legacy filter A should be removed")
	}
	if !reflect.DeepEqual(out.Filters["B"], []string{"b1"}) {
		t.Fatalf("legacy filter B should be untouched, got %v", out.Filters)
	}
	for _, tr := range out.Traces {
		if _, ok := tr.Filters["A"]; ok {
			t.Fatalf("trace %s still filters on A", tr.ID)
		}
	}
	if !reflect.DeepEqual(out.Traces[0].Filters["B"], []string{"b1", "b2"}) {
		t.Fatalf("trace filter B should be untouched")
	}
	if _, ok := c.Filters["A"]; !ok {
		t.Fatalf("input chart must not be mutated")
	}
}

func TestStripChangedAxesBothAxes(t *testing.T) {
	out := StripChangedAxes(fixture(), chart.Patch{XAxis: chart.Ptr("A"), YAxis: chart.Ptr("B")})
	if len(out.Filters) != 0 {
		t.Fatalf("expected no legacy filters, got %v", out.Filters)
	}
	if len(out.Traces[0].Filters) != 0 || len(out.Traces[1].Filters) != 0 {
		t.Fatalf("expected no trace filters")
	}
}

func TestStripChangedAxesIgnoresUnrelatedPatches(t *testing.T) {
	c := fixture()
	out := StripChangedAxes(c, chart.Patch{Title: chart.Ptr("x"), XAxis: chart.Ptr("")})
	if !reflect.DeepEqual(out.Filters, c.Filters) {
		t.Fatalf("unexpected change %v", out.Filters)
	}
}

func TestPruneUnavailable(t *testing.T) {
	other := chart.MustNew("c2")
	other.Filters = chart.Filters{"B": {"b1"}}
	out, changed := PruneUnavailable([]chart.Chart{fixture(), other}, []string{"B"})
	if !changed {
		t.Fatalf("expected a change")
	}
	if _, ok := out[0].Filters["A"]; ok {
		t.Fatalf("A should be pruned from legacy filters")
	}
	if _, ok := out[0].Traces[1].Filters["A"]; ok {
		t.Fatalf("A should be pruned from traces")
	}
	if !reflect.DeepEqual(out[1].Filters, chart.Filters{"B": {"b1"}}) {
		t.Fatalf("second chart should be unchanged, got %v", out[1].Filters)
	}
	if out[0].ID() != "c1" || out[1].ID() != "c2" {
		t.Fatalf("ids must survive pruning")
	}

	_, changed = PruneUnavailable(out, []string{"B"})
	if changed {
		t.Fatalf("second prune should be a no-op")
	}
}

func TestAddAndRemoveGlobal(t *testing.T) {
	c := fixture()
	values := []string{"web", "store"}
	out := AddGlobal(c, "channel", values)
	for _, tr := range out.Traces {
		if !reflect.DeepEqual(tr.Filters["channel"], values) {
			t.Fatalf("trace %s not seeded with all values: %v", tr.ID, tr.Filters)
		}
	}
	values[0] = "mutated"
	if out.Traces[0].Filters["channel"][0] != "web" {
		t.Fatalf("seeded values must be copied")
	}
	if got := GlobalColumns(out); !reflect.DeepEqual(got, []string{"A", "channel"}) {
		t.Fatalf("unexpected global columns %v", got)
	}

	out = RemoveGlobal(out, "channel")
	for _, tr := range out.Traces {
		if _, ok := tr.Filters["channel"]; ok {
			t.Fatalf("trace %s still has channel", tr.ID)
		}
	}
}

func TestAddGlobalOnNilTraceFilters(t *testing.T) {
	c := chart.MustNew("c1")
	c.Traces = []chart.Trace{{ID: "t0"}}
	out := AddGlobal(c, "channel", []string{"web"})
	if len(out.Traces[0].Filters["channel"]) != 1 {
		t.Fatalf("expected filter seeded on nil map")
	}
}

func TestUnion(t *testing.T) {
	got := Union(
		chart.Filters{"region": {"east", "west"}},
		chart.Filters{"region": {"west", "north"}, "channel": {"web"}},
		nil,
	)
	want := chart.Filters{"region": {"east", "west", "north"}, "channel": {"web"}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	if len(Union()) != 0 {
		t.Fatalf("empty union should be empty")
	}
}
