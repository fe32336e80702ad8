package schedule

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"momentra/internal/storage"
	logx "momentra/pkg/logx"
)

func testDetector(t *testing.T) (*Detector, storage.Store) {
	t.Helper()
	st, err := storage.Open(storage.Config{Path: filepath.Join(t.TempDir(), "test.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return NewDetector(st), st
}

func addTask(t *testing.T, st storage.Store, title, start, end string, blocking bool) storage.Task {
	t.Helper()
	task, err := st.CreateTask(context.Background(), storage.Task{
		UserID:     "alice",
		Title:      title,
		Start:      ts(t, start),
		End:        ts(t, end),
		IsBlocking: blocking,
	})
	if err != nil {
		t.Fatalf("CreateTask(%s): %v", title, err)
	}
	return task
}

func TestFindConflictAgainstCommitted(t *testing.T) {
	det, st := testDetector(t)
	ctx := context.Background()

	first := addTask(t, st, "Standup", "2026-03-02T10:00:00", "2026-03-02T11:00:00", true)
	addTask(t, st, "Review", "2026-03-02T11:00:00", "2026-03-02T12:00:00", true)

	hit, err := det.FindConflict(ctx, "alice", iv(t, "2026-03-02T10:30:00", "2026-03-02T11:15:00"), nil, 0)
	if err != nil {
		t.Fatalf("FindConflict: %v", err)
	}
	if hit == nil || hit.TaskID != first.ID {
		t.Fatalf("expected conflict with task %d, got %+v", first.ID, hit)
	}
	if hit.Title != "Standup" {
		t.Fatalf("conflict must carry the title, got %q", hit.Title)
	}

	// Free slot between nothing and nothing.
	hit, err = det.FindConflict(ctx, "alice", iv(t, "2026-03-02T13:00:00", "2026-03-02T14:00:00"), nil, 0)
	if err != nil {
		t.Fatalf("FindConflict: %v", err)
	}
	if hit != nil {
		t.Fatalf("expected no conflict, got %+v", hit)
	}

	// Excluding the task itself clears the conflict (self-edit).
	hit, err = det.FindConflict(ctx, "alice", iv(t, "2026-03-02T10:00:00", "2026-03-02T11:00:00"), nil, first.ID)
	if err != nil {
		t.Fatalf("FindConflict: %v", err)
	}
	if hit != nil {
		t.Fatalf("self-edit must not conflict with itself, got %+v", hit)
	}
}

func TestNonBlockingNeverConflicts(t *testing.T) {
	det, st := testDetector(t)
	ctx := context.Background()

	// A five-day lodging span tolerates anything inside it.
	addTask(t, st, "Airbnb in Lisbon", "2026-03-02T15:00:00", "2026-03-07T11:00:00", false)

	hit, err := det.FindConflict(ctx, "alice", iv(t, "2026-03-04T19:00:00", "2026-03-04T21:00:00"), nil, 0)
	if err != nil {
		t.Fatalf("FindConflict: %v", err)
	}
	if hit != nil {
		t.Fatalf("non-blocking task must never conflict, got %+v", hit)
	}
}

func TestFindConflictAgainstLedger(t *testing.T) {
	det, _ := testDetector(t)
	ctx := context.Background()

	var ledger Ledger
	ledger.Add(0, "Gym", iv(t, "2026-03-02T18:00:00", "2026-03-02T19:00:00"))

	hit, err := det.FindConflict(ctx, "alice", iv(t, "2026-03-02T18:30:00", "2026-03-02T19:30:00"), ledger, 0)
	if err != nil {
		t.Fatalf("FindConflict: %v", err)
	}
	if hit == nil || hit.Title != "Gym" || hit.TaskID != 0 {
		t.Fatalf("expected ledger conflict, got %+v", hit)
	}
}

func TestFindConflictDefaultsMissingEnd(t *testing.T) {
	det, st := testDetector(t)
	ctx := context.Background()

	addTask(t, st, "Call", "2026-03-02T14:00:00", "2026-03-02T14:45:00", true)

	// End-less probe interval is treated as 30 minutes long.
	probe := NewInterval(ts(t, "2026-03-02T14:40:00"), nil)
	hit, err := det.FindConflict(ctx, "alice", probe, nil, 0)
	if err != nil {
		t.Fatalf("FindConflict: %v", err)
	}
	if hit == nil {
		t.Fatal("expected conflict from defaulted 30-minute interval")
	}

	probe = NewInterval(ts(t, "2026-03-02T14:45:00"), nil)
	hit, err = det.FindConflict(ctx, "alice", probe, nil, 0)
	if err != nil {
		t.Fatalf("FindConflict: %v", err)
	}
	if hit != nil {
		t.Fatalf("probe starting at the task's end must not conflict, got %+v", hit)
	}
}

func TestSuggestFindsGap(t *testing.T) {
	det, st := testDetector(t)
	ctx := context.Background()

	addTask(t, st, "Morning block", "2026-03-02T09:00:00", "2026-03-02T10:30:00", true)
	addTask(t, st, "Afternoon block", "2026-03-02T13:00:00", "2026-03-02T17:00:00", true)

	p := SuggestParams{
		Duration:  time.Hour,
		Buffer:    15 * time.Minute,
		WorkStart: 9,
		WorkEnd:   18,
	}
	got, err := det.Suggest(ctx, "alice", ts(t, "2026-03-02T10:00:00"), p, nil)
	if err != nil {
		t.Fatalf("Suggest: %v", err)
	}
	if got == nil {
		t.Fatal("expected a suggestion")
	}
	// 10:45 is the first point clearing the morning block plus buffer, and
	// [10:45, 11:45) plus the buffer stays clear of the afternoon block.
	if want := ts(t, "2026-03-02T10:45:00"); !got.Start.Equal(want) {
		t.Fatalf("suggested start = %v, want %v", got.Start, want)
	}
	if want := ts(t, "2026-03-02T11:45:00"); !got.End.Equal(want) {
		t.Fatalf("suggested end = %v, want %v", got.End, want)
	}
}

func TestSuggestFullyBookedDayPushesAfter(t *testing.T) {
	det, st := testDetector(t)
	ctx := context.Background()

	addTask(t, st, "All day", "2026-03-02T09:00:00", "2026-03-02T17:00:00", true)

	p := SuggestParams{
		Duration:  30 * time.Minute,
		Buffer:    15 * time.Minute,
		WorkStart: 9,
		WorkEnd:   17,
	}
	got, err := det.Suggest(ctx, "alice", ts(t, "2026-03-02T10:00:00"), p, nil)
	if err != nil {
		t.Fatalf("Suggest: %v", err)
	}
	if got == nil {
		t.Fatal("expected a post-schedule suggestion")
	}
	if got.Start.Before(ts(t, "2026-03-02T17:15:00")) {
		t.Fatalf("suggestion must clear the booked block plus buffer, got %v", got.Start)
	}
	busy := iv(t, "2026-03-02T09:00:00", "2026-03-02T17:00:00")
	if got.Expand(p.Buffer).Overlaps(busy) {
		t.Fatalf("buffer-expanded suggestion overlaps the busy block: %+v", got)
	}
}

func TestSuggestHonorsLedger(t *testing.T) {
	det, _ := testDetector(t)
	ctx := context.Background()

	var ledger Ledger
	ledger.Add(0, "Pending dinner", iv(t, "2026-03-02T19:00:00", "2026-03-02T20:00:00"))

	p := SuggestParams{Duration: time.Hour, Buffer: 15 * time.Minute, WorkStart: 9, WorkEnd: 18}
	got, err := det.Suggest(ctx, "alice", ts(t, "2026-03-02T19:00:00"), p, ledger)
	if err != nil {
		t.Fatalf("Suggest: %v", err)
	}
	if got == nil {
		t.Fatal("expected a suggestion")
	}
	if got.Expand(p.Buffer).Overlaps(ledger[0].Span) {
		t.Fatalf("suggestion collides with ledger entry: %+v", got)
	}
}

func TestSuggestNoRoomReturnsNil(t *testing.T) {
	det, st := testDetector(t)
	ctx := context.Background()

	// Occupy the whole day so no slot plus buffer can fit.
	addTask(t, st, "Everything", "2026-03-02T00:00:00", "2026-03-03T00:00:00", true)

	p := SuggestParams{Duration: time.Hour, Buffer: 15 * time.Minute, WorkStart: 9, WorkEnd: 18}
	got, err := det.Suggest(ctx, "alice", ts(t, "2026-03-02T12:00:00"), p, nil)
	if err != nil {
		t.Fatalf("Suggest: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil for a fully occupied day, got %+v", got)
	}
}
