// Package testutil fakes the slice of Postgres the chart_lists store talks
// to, so store tests run without a server.
package testutil

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"
)

// Stage names a point in the driver where a failure can be injected.
type Stage string

const (
	StagePing   Stage = "ping"
	StageBegin  Stage = "begin"
	StageExec   Stage = "exec"
	StageCommit Stage = "commit"
	StageQuery  Stage = "query"
	StageRows   Stage = "rows"
)

// ListRow is one stored chart_lists row.
type ListRow struct {
	Payload   []byte
	UpdatedAt time.Time
}

// FakeDB holds chart_lists rows keyed by parent id.
type FakeDB struct {
	mu         sync.Mutex
	statements []string
	lists      map[string]ListRow
	failures   map[Stage]error
}

// Open returns a sql.DB whose connections all share one FakeDB.
func Open() (*sql.DB, *FakeDB) {
	fake := &FakeDB{lists: map[string]ListRow{}, failures: map[Stage]error{}}
	return sql.OpenDB(connector{fake}), fake
}

// FailAt makes every later call at stage return err. A nil err clears it.
func (f *FakeDB) FailAt(stage Stage, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.failures, stage)
		return
	}
	f.failures[stage] = err
}

// Statements returns every statement executed so far, failed ones included.
func (f *FakeDB) Statements() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.statements...)
}

// List returns the stored row of parentID.
func (f *FakeDB) List(parentID string) (ListRow, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.lists[parentID]
	return row, ok
}

// Len reports how many parents have a stored row.
func (f *FakeDB) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.lists)
}

// Seed stores payload for parentID as if a previous process had written it.
func (f *FakeDB) Seed(parentID string, payload []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lists[parentID] = ListRow{Payload: payload}
}

func (f *FakeDB) failure(stage Stage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.failures[stage]
}

type connector struct{ db *FakeDB }

func (c connector) Connect(context.Context) (driver.Conn, error) { return &conn{db: c.db}, nil }
func (c connector) Driver() driver.Driver                        { return fakeDriver{c.db} }

type fakeDriver struct{ db *FakeDB }

func (d fakeDriver) Open(string) (driver.Conn, error) { return &conn{db: d.db}, nil }

type conn struct{ db *FakeDB }

func (c *conn) Prepare(query string) (driver.Stmt, error) {
	return nil, fmt.Errorf("prepare unsupported: %s", query)
}

func (c *conn) Close() error { return nil }

func (c *conn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

func (c *conn) Ping(context.Context) error { return c.db.failure(StagePing) }

func (c *conn) BeginTx(context.Context, driver.TxOptions) (driver.Tx, error) {
	if err := c.db.failure(StageBegin); err != nil {
		return nil, err
	}
	return tx{db: c.db}, nil
}

func (c *conn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	if err := c.db.failure(StageExec); err != nil {
		c.db.record(query)
		return nil, err
	}
	c.db.record(query)
	switch statementKind(query) {
	case "CREATE":
		return driver.RowsAffected(0), nil
	case "INSERT":
		return c.upsert(args)
	}
	return nil, fmt.Errorf("unsupported statement: %s", query)
}

func (c *conn) upsert(args []driver.NamedValue) (driver.Result, error) {
	if len(args) != 3 {
		return nil, fmt.Errorf("upsert wants 3 args, got %d", len(args))
	}
	parentID, ok := args[0].Value.(string)
	if !ok {
		return nil, errors.New("parent_id must be text")
	}
	payload, ok := args[1].Value.([]byte)
	if !ok {
		return nil, errors.New("payload must be bytes")
	}
	at, _ := args[2].Value.(time.Time)
	c.db.mu.Lock()
	c.db.lists[parentID] = ListRow{Payload: append([]byte(nil), payload...), UpdatedAt: at}
	c.db.mu.Unlock()
	return driver.RowsAffected(1), nil
}

func (c *conn) QueryContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Rows, error) {
	if err := c.db.failure(StageQuery); err != nil {
		return nil, err
	}
	if statementKind(query) != "SELECT" {
		return nil, fmt.Errorf("unsupported query: %s", query)
	}
	c.db.mu.Lock()
	defer c.db.mu.Unlock()
	ids := make([]string, 0, len(c.db.lists))
	for id := range c.db.lists {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := &rows{err: c.db.failures[StageRows]}
	for _, id := range ids {
		out.values = append(out.values, []driver.Value{id, c.db.lists[id].Payload})
	}
	return out, nil
}

func (f *FakeDB) record(query string) {
	f.mu.Lock()
	f.statements = append(f.statements, query)
	f.mu.Unlock()
}

func statementKind(query string) string {
	fields := strings.Fields(query)
	if len(fields) == 0 {
		return ""
	}
	return strings.ToUpper(fields[0])
}

type tx struct{ db *FakeDB }

func (t tx) Commit() error   { return t.db.failure(StageCommit) }
func (t tx) Rollback() error { return nil }

type rows struct {
	values [][]driver.Value
	next   int
	err    error
}

func (r *rows) Columns() []string { return []string{"parent_id", "payload"} }
func (r *rows) Close() error      { return nil }

func (r *rows) Next(dest []driver.Value) error {
	if r.next >= len(r.values) {
		if r.err != nil {
			return r.err
		}
		return io.EOF
	}
	copy(dest, r.values[r.next])
	r.next++
	return nil
}
