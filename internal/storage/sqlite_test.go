package storage

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	logx "momentra/pkg/logx"
)

func openTestStore(t *testing.T) Store {
	t.Helper()
	st, err := Open(Config{
		Path:        filepath.Join(t.TempDir(), "momentra.db"),
		BusyTimeout: 2 * time.Second,
	}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func mustTime(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := ParseNaiveUTC(s)
	if err != nil {
		t.Fatalf("ParseNaiveUTC(%q): %v", s, err)
	}
	return ts
}

func TestJobLifecycle(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	job, err := st.CreateJob(ctx, "alice", "lunch tomorrow at noon", "2026-03-01T08:30:00")
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if job.ID == 0 || job.Status != JobCreated {
		t.Fatalf("unexpected job: %+v", job)
	}

	got, err := st.GetJob(ctx, "alice", job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.RawText != job.RawText || got.UserLocalTime != "2026-03-01T08:30:00" {
		t.Fatalf("round trip mismatch: %+v", got)
	}

	// Another user must not see the job.
	if _, err := st.GetJob(ctx, "mallory", job.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for wrong user, got %v", err)
	}

	if err := st.UpdateJobStatus(ctx, job.ID, JobParsed); err != nil {
		t.Fatalf("UpdateJobStatus: %v", err)
	}
	got, err = st.GetJob(ctx, "alice", job.ID)
	if err != nil {
		t.Fatalf("GetJob after update: %v", err)
	}
	if got.Status != JobParsed {
		t.Fatalf("expected status %q, got %q", JobParsed, got.Status)
	}

	if err := st.UpdateJobStatus(ctx, 9999, JobAccepted); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing job, got %v", err)
	}
}

func TestReplaceCandidatesIsAtomic(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	job, err := st.CreateJob(ctx, "alice", "gym at 6pm", "")
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	start := mustTime(t, "2026-03-02T18:00:00")
	end := start.Add(time.Hour)
	first, err := st.ReplaceCandidates(ctx, job.ID, []Candidate{{
		Description: "Create task: Gym",
		Kind:        KindCreateTask,
		Confidence:  0.9,
		CreateTask:  &CreateTaskBody{Title: "Gym", Start: &start, End: &end},
	}})
	if err != nil {
		t.Fatalf("ReplaceCandidates: %v", err)
	}
	if len(first) != 1 || first[0].ID == 0 {
		t.Fatalf("unexpected candidates: %+v", first)
	}

	// Re-parsing must drop the old set entirely.
	second, err := st.ReplaceCandidates(ctx, job.ID, []Candidate{
		{
			Description: "Ambiguous time",
			Kind:        KindAmbiguity,
			Ambiguity: &AmbiguityBody{
				Type:    "time",
				Message: "Did you mean 6:00 AM or 6:00 PM?",
				Options: []Option{{Label: "6:00 AM", Value: json.RawMessage(`"2026-03-02T06:00:00"`)}},
			},
		},
		{
			Description: "Show my tasks",
			Kind:        KindCommand,
			Command:     &CommandBody{Type: "list_tasks", Params: json.RawMessage(`{}`)},
		},
	})
	if err != nil {
		t.Fatalf("ReplaceCandidates (second): %v", err)
	}
	if len(second) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(second))
	}

	listed, err := st.ListCandidates(ctx, job.ID)
	if err != nil {
		t.Fatalf("ListCandidates: %v", err)
	}
	if len(listed) != 2 {
		t.Fatalf("stale candidates survived re-parse: %+v", listed)
	}
	if listed[0].Kind != KindAmbiguity || listed[0].Ambiguity == nil {
		t.Fatalf("ambiguity body lost: %+v", listed[0])
	}
	if listed[0].Ambiguity.Message != "Did you mean 6:00 AM or 6:00 PM?" {
		t.Fatalf("unexpected ambiguity message: %q", listed[0].Ambiguity.Message)
	}
	if listed[1].Kind != KindCommand || listed[1].Command == nil || listed[1].Command.Type != "list_tasks" {
		t.Fatalf("command body lost: %+v", listed[1])
	}

	if _, err := st.GetCandidate(ctx, first[0].ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected first-generation candidate to be gone, got %v", err)
	}
}

func TestCandidateCreateTaskRoundTrip(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	job, err := st.CreateJob(ctx, "bob", "dentist friday 10am", "")
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	start := mustTime(t, "2026-03-06T10:00:00")
	end := start.Add(30 * time.Minute)
	cands, err := st.ReplaceCandidates(ctx, job.ID, []Candidate{{
		Description: "Create task: Dentist",
		Kind:        KindCreateTask,
		Confidence:  0.85,
		CreateTask:  &CreateTaskBody{Title: "Dentist", Start: &start, End: &end, Description: "checkup"},
	}})
	if err != nil {
		t.Fatalf("ReplaceCandidates: %v", err)
	}

	got, err := st.GetCandidate(ctx, cands[0].ID)
	if err != nil {
		t.Fatalf("GetCandidate: %v", err)
	}
	body := got.CreateTask
	if body == nil || body.Title != "Dentist" || body.Description != "checkup" {
		t.Fatalf("body mismatch: %+v", body)
	}
	if body.Start == nil || !body.Start.Equal(start) {
		t.Fatalf("start mismatch: %v", body.Start)
	}
	if body.End == nil || !body.End.Equal(end) {
		t.Fatalf("end mismatch: %v", body.End)
	}

	// Edit the candidate in place.
	newStart := start.Add(2 * time.Hour)
	got.CreateTask.Start = &newStart
	got.CreateTask.Title = "Dentist (moved)"
	if err := st.UpdateCandidate(ctx, got); err != nil {
		t.Fatalf("UpdateCandidate: %v", err)
	}
	got, err = st.GetCandidate(ctx, got.ID)
	if err != nil {
		t.Fatalf("GetCandidate after update: %v", err)
	}
	if got.CreateTask.Title != "Dentist (moved)" || !got.CreateTask.Start.Equal(newStart) {
		t.Fatalf("update not persisted: %+v", got.CreateTask)
	}

	if err := st.DeleteCandidate(ctx, got.ID); err != nil {
		t.Fatalf("DeleteCandidate: %v", err)
	}
	if err := st.DeleteCandidate(ctx, got.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on double delete, got %v", err)
	}
}

func TestTaskQueries(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	mk := func(title, start, end string, blocking bool) Task {
		t.Helper()
		task, err := st.CreateTask(ctx, Task{
			UserID:     "alice",
			Title:      title,
			Start:      mustTime(t, start),
			End:        mustTime(t, end),
			IsBlocking: blocking,
		})
		if err != nil {
			t.Fatalf("CreateTask(%s): %v", title, err)
		}
		return task
	}

	meeting := mk("Meeting", "2026-03-02T10:00:00", "2026-03-02T11:00:00", true)
	mk("Hotel stay", "2026-03-01T15:00:00", "2026-03-04T11:00:00", false)
	lunch := mk("Lunch", "2026-03-02T12:00:00", "2026-03-02T13:00:00", true)
	mk("Old task", "2026-01-10T09:00:00", "2026-01-10T10:00:00", true)

	all, err := st.ListTasks(ctx, "alice", nil, nil)
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("expected 4 tasks, got %d", len(all))
	}

	from := mustTime(t, "2026-03-02T00:00:00")
	to := mustTime(t, "2026-03-03T00:00:00")
	day, err := st.ListTasks(ctx, "alice", &from, &to)
	if err != nil {
		t.Fatalf("ListTasks(range): %v", err)
	}
	// The multi-day hotel stay overlaps the window and must be included.
	if len(day) != 3 {
		t.Fatalf("expected 3 tasks in window, got %d: %+v", len(day), day)
	}

	blocking, err := st.ListBlockingTasks(ctx, "alice",
		mustTime(t, "2026-03-02T10:30:00"), mustTime(t, "2026-03-02T12:30:00"), 0)
	if err != nil {
		t.Fatalf("ListBlockingTasks: %v", err)
	}
	if len(blocking) != 2 {
		t.Fatalf("expected 2 blocking overlaps, got %d", len(blocking))
	}

	// Excluding a task id (self-edit) removes it from the overlap set.
	blocking, err = st.ListBlockingTasks(ctx, "alice",
		mustTime(t, "2026-03-02T10:30:00"), mustTime(t, "2026-03-02T12:30:00"), meeting.ID)
	if err != nil {
		t.Fatalf("ListBlockingTasks(exclude): %v", err)
	}
	if len(blocking) != 1 || blocking[0].ID != lunch.ID {
		t.Fatalf("expected only lunch, got %+v", blocking)
	}

	// Touching endpoints do not overlap.
	blocking, err = st.ListBlockingTasks(ctx, "alice",
		mustTime(t, "2026-03-02T11:00:00"), mustTime(t, "2026-03-02T12:00:00"), 0)
	if err != nil {
		t.Fatalf("ListBlockingTasks(touching): %v", err)
	}
	if len(blocking) != 0 {
		t.Fatalf("touching endpoints must not overlap: %+v", blocking)
	}

	purged, err := st.PurgeTasksBefore(ctx, mustTime(t, "2026-02-01T00:00:00"))
	if err != nil {
		t.Fatalf("PurgeTasksBefore: %v", err)
	}
	if purged != 1 {
		t.Fatalf("expected 1 purged task, got %d", purged)
	}
	if _, err := st.GetTask(ctx, "alice", meeting.ID); err != nil {
		t.Fatalf("recent task must survive purge: %v", err)
	}
}

func TestTaskUpdateAndDeleteScopedByUser(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	task, err := st.CreateTask(ctx, Task{
		UserID: "alice",
		Title:  "Review",
		Start:  mustTime(t, "2026-03-05T09:00:00"),
		End:    mustTime(t, "2026-03-05T09:30:00"),
	})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	task.UserID = "mallory"
	task.Title = "Hijacked"
	if err := st.UpdateTask(ctx, task); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for wrong user update, got %v", err)
	}
	if err := st.DeleteTask(ctx, "mallory", task.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for wrong user delete, got %v", err)
	}

	task.UserID = "alice"
	task.End = task.End.Add(time.Hour)
	if err := st.UpdateTask(ctx, task); err != nil {
		t.Fatalf("UpdateTask: %v", err)
	}
	got, err := st.GetTask(ctx, "alice", task.ID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if !got.End.Equal(task.End) {
		t.Fatalf("end not updated: %v", got.End)
	}

	if err := st.DeleteTask(ctx, "alice", task.ID); err != nil {
		t.Fatalf("DeleteTask: %v", err)
	}
}

func TestPreferencesLazyCreate(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	def := Preferences{BufferMinutes: 15, WorkStartHour: 9, WorkEndHour: 18, DefaultDurationMinutes: 60}

	p, err := st.GetPreferences(ctx, "alice", def)
	if err != nil {
		t.Fatalf("GetPreferences: %v", err)
	}
	if p.UserID != "alice" || p.BufferMinutes != 15 || p.DefaultDurationMinutes != 60 {
		t.Fatalf("defaults not applied: %+v", p)
	}

	p.BufferMinutes = 30
	p.PersonalContext = "prefers mornings"
	if err := st.PutPreferences(ctx, p); err != nil {
		t.Fatalf("PutPreferences: %v", err)
	}

	again, err := st.GetPreferences(ctx, "alice", def)
	if err != nil {
		t.Fatalf("GetPreferences (second): %v", err)
	}
	if again.BufferMinutes != 30 || again.PersonalContext != "prefers mornings" {
		t.Fatalf("stored preferences not returned: %+v", again)
	}
}

func TestNaiveTimeRoundTrip(t *testing.T) {
	in := "2026-03-02T18:00:00"
	ts, err := ParseNaiveUTC(in)
	if err != nil {
		t.Fatalf("ParseNaiveUTC: %v", err)
	}
	if got := FormatNaiveUTC(ts); got != in {
		t.Fatalf("round trip: got %q, want %q", got, in)
	}

	// Zulu suffix and fractional seconds are tolerated on input.
	withZ, err := ParseNaiveUTC("2026-03-02T18:00:00Z")
	if err != nil {
		t.Fatalf("ParseNaiveUTC(Z): %v", err)
	}
	if !withZ.Equal(ts) {
		t.Fatalf("Z-suffixed parse drifted: %v vs %v", withZ, ts)
	}
	frac, err := ParseNaiveUTC("2026-03-02T18:00:00.123456")
	if err != nil {
		t.Fatalf("ParseNaiveUTC(frac): %v", err)
	}
	if frac.Hour() != 18 || frac.Minute() != 0 {
		t.Fatalf("fractional parse drifted: %v", frac)
	}
}
