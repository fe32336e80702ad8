package schedule

import (
	"context"
	"time"

	"momentra/internal/storage"
)

// Busy is one occupied span: either a committed task (TaskID > 0) or a
// provisional entry from the current batch (TaskID == 0).
type Busy struct {
	TaskID int64
	Title  string
	Span   Interval
}

// Ledger accumulates the provisional spans of one request. It is private to
// the request and never persisted.
type Ledger []Busy

// Add records a span so later candidates in the same batch see it.
func (l *Ledger) Add(taskID int64, title string, span Interval) {
	*l = append(*l, Busy{TaskID: taskID, Title: title, Span: span.Normalize()})
}

// Detector answers "does this interval collide with a blocking span". It is
// the single conflict authority for generation, edits, and acceptance.
type Detector struct {
	store storage.Store
}

func NewDetector(st storage.Store) *Detector {
	return &Detector{store: st}
}

// FindConflict returns the first blocking span overlapping iv, checking the
// committed store and then the ledger. excludeTaskID skips one committed task
// so edits do not collide with themselves. A nil result means the interval
// is free.
func (d *Detector) FindConflict(ctx context.Context, userID string, iv Interval, ledger Ledger, excludeTaskID int64) (*Busy, error) {
	iv = iv.Normalize()

	tasks, err := d.store.ListBlockingTasks(ctx, userID, iv.Start, iv.End, excludeTaskID)
	if err != nil {
		return nil, err
	}
	for _, t := range tasks {
		span := Interval{Start: t.Start, End: t.End}.Normalize()
		if iv.Overlaps(span) {
			return &Busy{TaskID: t.ID, Title: t.Title, Span: span}, nil
		}
	}

	for _, b := range ledger {
		if iv.Overlaps(b.Span) {
			hit := b
			return &hit, nil
		}
	}
	return nil, nil
}

// BlockingSpans returns the merged busy set for one user within [from, to),
// combining committed blocking tasks with the ledger.
func (d *Detector) BlockingSpans(ctx context.Context, userID string, from, to time.Time, ledger Ledger) ([]Interval, error) {
	window := Interval{Start: from, End: to}
	tasks, err := d.store.ListBlockingTasks(ctx, userID, from, to, 0)
	if err != nil {
		return nil, err
	}
	ivs := make([]Interval, 0, len(tasks)+len(ledger))
	for _, t := range tasks {
		ivs = append(ivs, Interval{Start: t.Start, End: t.End}.Normalize())
	}
	for _, b := range ledger {
		if b.Span.Overlaps(window) {
			ivs = append(ivs, b.Span)
		}
	}
	return Merge(ivs), nil
}
