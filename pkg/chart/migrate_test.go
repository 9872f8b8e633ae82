package chart

import (
	"reflect"
	"testing"
)

func TestMigrateUnconfiguredChart(t *testing.T) {
	c := MustNew("c1")
	c.IsAdvancedMode = true
	m := Migrate(c)
	if m.Traces == nil || len(m.Traces) != 0 {
		t.Fatalf("expected empty non-nil traces, got %#v", m.Traces)
	}
	if !m.IsAdvancedMode {
		t.Fatalf("advanced flag must be preserved")
	}
}

func TestMigrateSynthesizesSingleTrace(t *testing.T) {
	c := MustNew("c1")
	c.XAxis = "region"
	c.YAxis = "sales"
	c.Aggregation = AggregationMean
	c.Filters = Filters{"channel": {"web"}}

	m := Migrate(c)
	if len(m.Traces) != 1 {
		t.Fatalf("expected one trace, got %d", len(m.Traces))
	}
	tr := m.Traces[0]
	if tr.YAxis != "sales" || tr.Name != "sales" || tr.Color != Palette[0] || tr.Aggregation != AggregationSum {
		t.Fatalf("unexpected trace %+v", tr)
	}
	if !reflect.DeepEqual(tr.Filters, Filters{"channel": {"web"}}) {
		t.Fatalf("unexpected trace filters %v", tr.Filters)
	}
	if m.IsAdvancedMode {
		t.Fatalf("migration must not force advanced mode")
	}
	tr.Filters["channel"][0] = "store"
	if c.Filters["channel"][0] != "web" {
		t.Fatalf("migrated filters must not alias the legacy map")
	}
}

func TestMigrateIsIdempotentAndPure(t *testing.T) {
	fixtures := []Chart{MustNew("a"), MustNew("b"), MustNew("c")}
	fixtures[1].YAxis = "sales"
	fixtures[2].Traces = []Trace{{ID: "t", YAxis: "units"}}
	for _, c := range fixtures {
		once := Migrate(c)
		twice := Migrate(once)
		if !reflect.DeepEqual(once, twice) {
			t.Fatalf("migrate not idempotent for %s:\n%#v\n%#v", c.ID(), once, twice)
		}
		if again := Migrate(c); !reflect.DeepEqual(once, again) {
			t.Fatalf("migrate not deterministic for %s", c.ID())
		}
	}
}

func TestMigrateKeepsExistingTraces(t *testing.T) {
	c := MustNew("c1")
	c.YAxis = "legacy"
	c.Traces = []Trace{{ID: "t0", YAxis: "modern"}}
	if got := Migrate(c); got.Traces[0].YAxis != "modern" || len(got.Traces) != 1 {
		t.Fatalf("existing traces must be returned unchanged, got %+v", got.Traces)
	}
}

func TestToggleModeSimpleToAdvancedCreatesEmptyTrace(t *testing.T) {
	c := MustNew("c1")
	adv := ToggleMode(c)
	if !adv.IsAdvancedMode || len(adv.Traces) != 1 {
		t.Fatalf("expected advanced mode with one trace, got %+v", adv)
	}
	tr := adv.Traces[0]
	if tr.YAxis != "" || tr.Color != Palette[0] || tr.ID == "" || tr.Filters == nil {
		t.Fatalf("unexpected empty trace %+v", tr)
	}
}

func TestToggleModeRoundTripKeepsFirstTrace(t *testing.T) {
	c := MustNew("c1")
	c.IsAdvancedMode = true
	c.XAxis = "month"
	c.Traces = []Trace{
		{ID: "t0", YAxis: "sales", Filters: Filters{"region": {"east"}}},
		{ID: "t1", YAxis: "units", Filters: Filters{"region": {"west"}}},
	}

	simple := ToggleMode(c)
	if simple.IsAdvancedMode {
		t.Fatalf("expected simple mode")
	}
	if simple.YAxis != "sales" || !reflect.DeepEqual(simple.Filters, Filters{"region": {"east"}}) {
		t.Fatalf("simple view must come from the first trace: %+v", simple)
	}

	back := ToggleMode(simple)
	if !back.IsAdvancedMode {
		t.Fatalf("expected advanced mode")
	}
	if back.Traces[0].YAxis != "sales" || !reflect.DeepEqual(back.Traces[0].Filters, Filters{"region": {"east"}}) {
		t.Fatalf("first trace lost in round trip: %+v", back.Traces[0])
	}
}

func TestToggleModeInvalidatesRender(t *testing.T) {
	c := MustNew("c1")
	c.YAxis = "sales"
	c.Render = Rendered(Config{}, c.Render.LastUpdate())
	if ToggleMode(c).Render.IsRendered() {
		t.Fatalf("mode switch must invalidate the render")
	}
}
