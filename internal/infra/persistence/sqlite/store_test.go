package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"chartcore/pkg/chart"
)

func openStore(t *testing.T, path string) *Store {
	t.Helper()
	store, err := NewStore(path)
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLiteStorePersistAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "charts.db")
	store := openStore(t, path)
	ctx := context.Background()

	_, err := store.RunInTransaction(ctx, "p1", func(tx chart.Transaction) error {
		c := chart.MustNew("a")
		c.Title = "Sales"
		c.XAxis, c.YAxis = "region", "sales"
		c.Render = chart.Rendered(chart.Config{"data": []chart.Row{{"region": "east"}}}, time.Unix(100, 0).UTC())
		if err := tx.Put(c); err != nil {
			return err
		}
		return tx.Put(chart.MustNew("b"))
	})
	if err != nil {
		t.Fatalf("transaction: %v", err)
	}
	if store.Path() != path {
		t.Fatalf("unexpected path %s", store.Path())
	}

	reloaded := openStore(t, path)
	charts, err := reloaded.Load(ctx, "p1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(charts) != 2 || charts[0].ID() != "a" || charts[1].ID() != "b" {
		t.Fatalf("unexpected charts after reload: %v", charts)
	}
	if charts[0].Title != "Sales" || !charts[0].Render.IsRendered() || len(charts[0].Render.Data()) != 1 {
		t.Fatalf("chart fields lost on reload: %+v", charts[0])
	}
}

func TestSQLiteStoreFailedTransactionNotPersisted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "charts.db")
	store := openStore(t, path)
	ctx := context.Background()
	boom := errors.New("boom")
	if _, err := store.RunInTransaction(ctx, "p", func(tx chart.Transaction) error {
		_ = tx.Put(chart.MustNew("a"))
		return boom
	}); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	var count int
	if err := store.DB().QueryRow(`SELECT COUNT(*) FROM chart_lists`).Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected no rows, got %d", count)
	}
}

func TestSQLiteStoreUpsertsSingleRowPerParent(t *testing.T) {
	store := openStore(t, filepath.Join(t.TempDir(), "charts.db"))
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		if _, err := store.RunInTransaction(ctx, "p", func(tx chart.Transaction) error {
			return tx.Put(chart.MustNew(id))
		}); err != nil {
			t.Fatalf("transaction: %v", err)
		}
	}
	var count int
	if err := store.DB().QueryRow(`SELECT COUNT(*) FROM chart_lists WHERE parent_id = ?`, "p").Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected one row per parent, got %d", count)
	}
}

func TestSQLiteStoreRejectsCorruptPayload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "charts.db")
	store := openStore(t, path)
	if _, err := store.DB().Exec(`INSERT INTO chart_lists(parent_id,payload,updated_at) VALUES(?,?,?)`, "p", []byte("{"), time.Now()); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := NewStore(path); err == nil {
		t.Fatalf("expected decode error on corrupt payload")
	}
}
