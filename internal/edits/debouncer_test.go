package edits

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeTimer struct {
	s       *fakeScheduler
	d       time.Duration
	f       func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	was := !t.stopped
	t.stopped = true
	return was
}

// fakeScheduler records timers; fireAll runs every live one.
type fakeScheduler struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (s *fakeScheduler) AfterFunc(d time.Duration, f func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &fakeTimer{s: s, d: d, f: f}
	s.timers = append(s.timers, t)
	return t
}

func (s *fakeScheduler) live() []*fakeTimer {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*fakeTimer
	for _, t := range s.timers {
		if !t.stopped {
			out = append(out, t)
		}
	}
	return out
}

func (s *fakeScheduler) fireAll() {
	for _, t := range s.live() {
		t.s.mu.Lock()
		t.stopped = true
		t.s.mu.Unlock()
		t.f()
	}
}

type recorder struct {
	mu      sync.Mutex
	commits map[Key][]string
	err     error
}

func (r *recorder) commit(_ context.Context, k Key, v string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.commits == nil {
		r.commits = map[Key][]string{}
	}
	r.commits[k] = append(r.commits[k], v)
	return r.err
}

func (r *recorder) get(k Key) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.commits[k]...)
}

func TestKeyString(t *testing.T) {
	require.Equal(t, "c1/title", Key{ChartID: "c1", Field: FieldTitle}.String())
	require.Equal(t, "c1/trace_name/t1", Key{ChartID: "c1", Field: FieldTraceName, TraceID: "t1"}.String())
	require.Equal(t, "p1:c1/title", Key{ParentID: "p1", ChartID: "c1", Field: FieldTitle}.String())
}

func TestScheduleRestartsTimerForSameKey(t *testing.T) {
	sched := &fakeScheduler{}
	rec := &recorder{}
	d := New(rec.commit, Options{AfterFunc: sched.AfterFunc})
	key := Key{ChartID: "c1", Field: FieldTitle}

	require.True(t, d.Schedule(key, "S"))
	require.True(t, d.Schedule(key, "Sa"))
	require.True(t, d.Schedule(key, "Sales"))

	v, ok := d.Pending(key)
	require.True(t, ok)
	require.Equal(t, "Sales", v)
	require.Len(t, sched.live(), 1)
	require.Equal(t, DefaultDelay, sched.live()[0].d)

	sched.fireAll()
	require.Equal(t, []string{"Sales"}, rec.get(key))
	_, ok = d.Pending(key)
	require.False(t, ok)
}

func TestIndependentKeys(t *testing.T) {
	sched := &fakeScheduler{}
	rec := &recorder{}
	d := New(rec.commit, Options{AfterFunc: sched.AfterFunc, Delay: time.Second})
	title := Key{ChartID: "c1", Field: FieldTitle}
	other := Key{ChartID: "c2", Field: FieldTitle}
	trace := Key{ChartID: "c1", Field: FieldTraceName, TraceID: "t1"}

	d.Schedule(title, "A")
	d.Schedule(other, "B")
	d.Schedule(trace, "C")
	require.Equal(t, 3, d.Len())
	require.Len(t, sched.live(), 3)

	sched.fireAll()
	require.Equal(t, []string{"A"}, rec.get(title))
	require.Equal(t, []string{"B"}, rec.get(other))
	require.Equal(t, []string{"C"}, rec.get(trace))
}

func TestStaleTimerIsIgnored(t *testing.T) {
	sched := &fakeScheduler{}
	rec := &recorder{}
	d := New(rec.commit, Options{AfterFunc: sched.AfterFunc})
	key := Key{ChartID: "c1", Field: FieldTitle}

	d.Schedule(key, "old")
	stale := sched.live()[0]
	d.Schedule(key, "new")

	// A timer that already fired races with the restart.
	stale.f()
	require.Empty(t, rec.get(key))

	sched.fireAll()
	require.Equal(t, []string{"new"}, rec.get(key))
}

func TestCancelAndCancelChart(t *testing.T) {
	sched := &fakeScheduler{}
	rec := &recorder{}
	d := New(rec.commit, Options{AfterFunc: sched.AfterFunc})
	title := Key{ChartID: "c1", Field: FieldTitle}
	trace := Key{ChartID: "c1", Field: FieldTraceName, TraceID: "t1"}
	keep := Key{ChartID: "c2", Field: FieldTitle}

	d.Schedule(title, "A")
	d.Schedule(trace, "B")
	d.Schedule(keep, "C")

	require.True(t, d.Cancel(title))
	require.False(t, d.Cancel(title))
	require.Equal(t, 1, d.CancelChart("c1"))

	sched.fireAll()
	require.Empty(t, rec.get(title))
	require.Empty(t, rec.get(trace))
	require.Equal(t, []string{"C"}, rec.get(keep))
}

func TestFlushCommitsImmediately(t *testing.T) {
	sched := &fakeScheduler{}
	rec := &recorder{err: errors.New("store down")}
	d := New(rec.commit, Options{AfterFunc: sched.AfterFunc})
	key := Key{ChartID: "c1", Field: FieldTitle}
	d.Schedule(key, "A")

	err := d.Flush(context.Background())
	require.EqualError(t, err, "store down")
	require.Equal(t, []string{"A"}, rec.get(key))
	require.Equal(t, 0, d.Len())
	require.Empty(t, sched.live())
}

func TestStopRejectsSchedule(t *testing.T) {
	sched := &fakeScheduler{}
	rec := &recorder{}
	d := New(rec.commit, Options{AfterFunc: sched.AfterFunc})
	key := Key{ChartID: "c1", Field: FieldTitle}
	d.Schedule(key, "A")

	d.Stop()
	require.False(t, d.Schedule(key, "B"))
	sched.fireAll()
	require.Empty(t, rec.get(key))
}

func TestRealTimerCommits(t *testing.T) {
	done := make(chan string, 1)
	d := New(func(_ context.Context, _ Key, v string) error {
		done <- v
		return nil
	}, Options{Delay: 10 * time.Millisecond})
	d.Schedule(Key{ChartID: "c1", Field: FieldTitle}, "Revenue")

	select {
	case v := <-done:
		require.Equal(t, "Revenue", v)
	case <-time.After(2 * time.Second):
		t.Fatal("commit not called")
	}
}
