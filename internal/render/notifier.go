package render

import (
	"context"
	"log/slog"
	"sync"
)

// NoticeKind classifies a non-blocking notification raised during a batch.
type NoticeKind string

const (
	// NoticeComputeFailed reports a chart whose compute call failed.
	NoticeComputeFailed NoticeKind = "compute_failed"
	// NoticeResultDropped reports a result whose chart was deleted mid-flight.
	NoticeResultDropped NoticeKind = "result_dropped"
	// NoticeDuplicateRepaired reports a duplicate id removed before commit.
	NoticeDuplicateRepaired NoticeKind = "duplicate_repaired"
)

// Notice is one user-facing or diagnostic notification.
type Notice struct {
	Kind     NoticeKind
	ParentID string
	ChartID  string
	Message  string
}

// Notifier receives notices. Implementations must not block the batch.
type Notifier interface {
	Notify(ctx context.Context, n Notice)
}

// MemoryNotifier collects notices in memory.
type MemoryNotifier struct {
	mu      sync.Mutex
	notices []Notice
}

// NewMemoryNotifier constructs an empty collector.
func NewMemoryNotifier() *MemoryNotifier { return &MemoryNotifier{} }

// Notify implements Notifier.
func (m *MemoryNotifier) Notify(_ context.Context, n Notice) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notices = append(m.notices, n)
}

// Notices returns a copy of everything received so far.
func (m *MemoryNotifier) Notices() []Notice {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Notice(nil), m.notices...)
}

// OfKind returns the received notices of one kind.
func (m *MemoryNotifier) OfKind(kind NoticeKind) []Notice {
	var out []Notice
	for _, n := range m.Notices() {
		if n.Kind == kind {
			out = append(out, n)
		}
	}
	return out
}

// LogNotifier writes notices to a structured logger.
type LogNotifier struct {
	Logger *slog.Logger
}

// Notify implements Notifier.
func (l LogNotifier) Notify(ctx context.Context, n Notice) {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	level := slog.LevelWarn
	if n.Kind != NoticeComputeFailed {
		level = slog.LevelError
	}
	logger.Log(ctx, level, "render notice",
		slog.String("kind", string(n.Kind)),
		slog.String("parent_id", n.ParentID),
		slog.String("chart_id", n.ChartID),
		slog.String("message", n.Message),
	)
}

type discardNotifier struct{}

func (discardNotifier) Notify(context.Context, Notice) {}
