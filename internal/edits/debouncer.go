// Package edits defers durable writes of free-text fields behind per-field
// quiescence timers while keeping the latest value visible immediately.
package edits

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultDelay is the quiescence window before an edit is committed.
const DefaultDelay = 1500 * time.Millisecond

// Field names the debounced attribute.
type Field string

const (
	FieldTitle     Field = "title"
	FieldTraceName Field = "trace_name"
)

// Key identifies one debounced field by stable ids, never by list position.
type Key struct {
	ParentID string
	ChartID  string
	Field    Field
	TraceID  string
}

// String renders [parentID:]chartID/field[/traceID].
func (k Key) String() string {
	s := k.ChartID + "/" + string(k.Field)
	if k.ParentID != "" {
		s = k.ParentID + ":" + s
	}
	if k.TraceID != "" {
		s += "/" + k.TraceID
	}
	return s
}

// CommitFunc writes value durably. It is called without internal locks held.
type CommitFunc func(ctx context.Context, key Key, value string) error

// Timer is the subset of *time.Timer the debouncer needs.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f after d.
type AfterFunc func(d time.Duration, f func()) Timer

func stdAfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// Options configures a Debouncer.
type Options struct {
	Delay     time.Duration
	AfterFunc AfterFunc
	Logger    *slog.Logger
}

type pendingEdit struct {
	value string
	timer Timer
	gen   uint64
}

// Debouncer keeps one timer per key. Scheduling the same key again restarts
// its timer; different keys never interact.
type Debouncer struct {
	commit    CommitFunc
	delay     time.Duration
	afterFunc AfterFunc
	logger    *slog.Logger

	mu      sync.Mutex
	pending map[Key]*pendingEdit
	gen     uint64
	stopped bool
}

// New constructs a debouncer that hands quiesced edits to commit.
func New(commit CommitFunc, opts Options) *Debouncer {
	d := &Debouncer{
		commit:    commit,
		delay:     opts.Delay,
		afterFunc: opts.AfterFunc,
		logger:    opts.Logger,
		pending:   make(map[Key]*pendingEdit),
	}
	if d.delay <= 0 {
		d.delay = DefaultDelay
	}
	if d.afterFunc == nil {
		d.afterFunc = stdAfterFunc
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	return d
}

// Schedule records value as the pending edit for key and (re)starts its
// timer. It reports false after Stop.
func (d *Debouncer) Schedule(key Key, value string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return false
	}
	if p, ok := d.pending[key]; ok {
		p.timer.Stop()
	}
	d.gen++
	gen := d.gen
	p := &pendingEdit{value: value, gen: gen}
	p.timer = d.afterFunc(d.delay, func() { d.fire(key, gen) })
	d.pending[key] = p
	return true
}

// Pending returns the not yet committed value for key.
func (d *Debouncer) Pending(key Key) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.pending[key]
	if !ok {
		return "", false
	}
	return p.value, true
}

// Len returns the number of pending edits.
func (d *Debouncer) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// Cancel discards the pending edit for key.
func (d *Debouncer) Cancel(key Key) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.pending[key]
	if !ok {
		return false
	}
	p.timer.Stop()
	delete(d.pending, key)
	return true
}

// CancelChart discards every pending edit of chartID, including trace names.
func (d *Debouncer) CancelChart(chartID string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for k, p := range d.pending {
		if k.ChartID == chartID {
			p.timer.Stop()
			delete(d.pending, k)
			n++
		}
	}
	return n
}

// Flush commits every pending edit now, in no particular order, and returns
// the first commit error.
func (d *Debouncer) Flush(ctx context.Context) error {
	d.mu.Lock()
	batch := make(map[Key]string, len(d.pending))
	for k, p := range d.pending {
		p.timer.Stop()
		batch[k] = p.value
	}
	d.pending = make(map[Key]*pendingEdit)
	d.mu.Unlock()

	var first error
	for k, v := range batch {
		if err := d.commit(ctx, k, v); err != nil {
			d.logger.WarnContext(ctx, "debounced edit not committed", slog.String("key", k.String()), slog.Any("error", err))
			if first == nil {
				first = err
			}
		}
	}
	return first
}

// Stop cancels every pending edit and rejects further scheduling.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	for k, p := range d.pending {
		p.timer.Stop()
		delete(d.pending, k)
	}
}

func (d *Debouncer) fire(key Key, gen uint64) {
	d.mu.Lock()
	p, ok := d.pending[key]
	if !ok || p.gen != gen {
		// Superseded or cancelled after the timer had already fired.
		d.mu.Unlock()
		return
	}
	delete(d.pending, key)
	d.mu.Unlock()

	ctx := context.Background()
	if err := d.commit(ctx, key, p.value); err != nil {
		d.logger.WarnContext(ctx, "debounced edit not committed", slog.String("key", key.String()), slog.Any("error", err))
	}
}
