package extract

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

// Friday morning UTC.
const ref = "2026-01-16T09:00:00Z"

func mustUTC(t *testing.T, s string) time.Time {
	t.Helper()
	v, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	return v.UTC()
}

func TestExtractDeclinesWithoutTemporalCue(t *testing.T) {
	t.Parallel()
	for _, text := range []string{
		"",
		"buy milk",
		"remember to call mom",
		"dentist feb 20", // month names alone are not a cue
	} {
		if got := Extract(text, ref); got != nil {
			t.Fatalf("Extract(%q) = %+v, want nil", text, got)
		}
	}
}

func TestExtractConcreteTime(t *testing.T) {
	t.Parallel()
	res := Extract("Gym at 5pm", ref)
	if res == nil || len(res.Tasks) != 1 {
		t.Fatalf("expected one task, got %+v", res)
	}
	task := res.Tasks[0]
	if task.Title != "Gym" {
		t.Fatalf("title = %q", task.Title)
	}
	if want := mustUTC(t, "2026-01-16T17:00:00Z"); task.Start == nil || !task.Start.Equal(want) {
		t.Fatalf("start = %v, want %v", task.Start, want)
	}
	if task.End != nil {
		t.Fatalf("no end expected, got %v", task.End)
	}
	if task.Confidence < 0.9 {
		t.Fatalf("fast path must be high confidence, got %v", task.Confidence)
	}
	if task.Description != "Gym at 5pm" {
		t.Fatalf("description must carry the raw text, got %q", task.Description)
	}
}

func TestExtractConvertsOffsetToUTC(t *testing.T) {
	t.Parallel()
	res := Extract("Gym at 5pm", "2026-03-02T08:00:00-05:00")
	if res == nil || len(res.Tasks) != 1 {
		t.Fatalf("expected one task, got %+v", res)
	}
	if want := mustUTC(t, "2026-03-02T22:00:00Z"); !res.Tasks[0].Start.Equal(want) {
		t.Fatalf("start = %v, want %v", res.Tasks[0].Start, want)
	}
}

func TestExtractTimeRange(t *testing.T) {
	t.Parallel()
	res := Extract("Team sync 17:00-18:00 tomorrow", ref)
	if res == nil || len(res.Tasks) != 1 {
		t.Fatalf("expected one task, got %+v", res)
	}
	task := res.Tasks[0]
	if task.Title != "Team Sync" {
		t.Fatalf("title = %q", task.Title)
	}
	if want := mustUTC(t, "2026-01-17T17:00:00Z"); !task.Start.Equal(want) {
		t.Fatalf("start = %v", task.Start)
	}
	if want := mustUTC(t, "2026-01-17T18:00:00Z"); task.End == nil || !task.End.Equal(want) {
		t.Fatalf("end = %v", task.End)
	}
}

func TestExtractRangeCrossingMidnight(t *testing.T) {
	t.Parallel()
	res := Extract("Party 11pm to 1am today", ref)
	if res == nil || len(res.Tasks) != 1 {
		t.Fatalf("expected one task, got %+v", res)
	}
	task := res.Tasks[0]
	if !task.End.After(*task.Start) {
		t.Fatalf("end must roll to the next day: start %v end %v", task.Start, task.End)
	}
	if got := task.End.Sub(*task.Start); got != 2*time.Hour {
		t.Fatalf("span = %v, want 2h", got)
	}
}

func TestExtractWeekdays(t *testing.T) {
	t.Parallel()
	// Reference is a Friday; a plain weekday name means its next occurrence,
	// "next" pushes one further week out.
	cases := []struct {
		text string
		want string
	}{
		{"Lunch at 12pm monday", "2026-01-19T12:00:00Z"},
		{"Lunch at 12pm friday", "2026-01-23T12:00:00Z"},
		{"Lunch at 12pm this friday", "2026-01-23T12:00:00Z"},
		{"Lunch at 12pm next friday", "2026-01-30T12:00:00Z"},
		{"Lunch at 12pm coming tuesday", "2026-01-20T12:00:00Z"},
	}
	for _, tc := range cases {
		res := Extract(tc.text, ref)
		if res == nil || len(res.Tasks) != 1 {
			t.Fatalf("Extract(%q): %+v", tc.text, res)
		}
		if want := mustUTC(t, tc.want); !res.Tasks[0].Start.Equal(want) {
			t.Fatalf("Extract(%q) start = %v, want %v", tc.text, res.Tasks[0].Start, want)
		}
		if res.Tasks[0].Title != "Lunch" {
			t.Fatalf("Extract(%q) title = %q", tc.text, res.Tasks[0].Title)
		}
	}
}

func TestExtractMonthDay(t *testing.T) {
	t.Parallel()
	res := Extract("Dentist on feb 20 at 3pm", ref)
	if res == nil || len(res.Tasks) != 1 {
		t.Fatalf("expected one task, got %+v", res)
	}
	if want := mustUTC(t, "2026-02-20T15:00:00Z"); !res.Tasks[0].Start.Equal(want) {
		t.Fatalf("start = %v, want %v", res.Tasks[0].Start, want)
	}

	// A date already past rolls into next year.
	res = Extract("Anniversary on jan 2 at 7pm", ref)
	if res == nil || len(res.Tasks) != 1 {
		t.Fatalf("expected one task, got %+v", res)
	}
	if want := mustUTC(t, "2027-01-02T19:00:00Z"); !res.Tasks[0].Start.Equal(want) {
		t.Fatalf("rolled start = %v, want %v", res.Tasks[0].Start, want)
	}
}

func TestExtractExplicitDuration(t *testing.T) {
	t.Parallel()
	res := Extract("Deep work tomorrow at 9am for 2 hours", ref)
	if res == nil || len(res.Tasks) != 1 {
		t.Fatalf("expected one task, got %+v", res)
	}
	task := res.Tasks[0]
	if task.Title != "Deep Work" {
		t.Fatalf("title = %q", task.Title)
	}
	if task.End == nil || task.End.Sub(*task.Start) != 2*time.Hour {
		t.Fatalf("duration not applied: %v .. %v", task.Start, task.End)
	}

	res = Extract("Standup at 9am for 15 min", ref)
	if res == nil || len(res.Tasks) != 1 {
		t.Fatalf("expected one task, got %+v", res)
	}
	if res.Tasks[0].End.Sub(*res.Tasks[0].Start) != 15*time.Minute {
		t.Fatalf("minute duration not applied: %+v", res.Tasks[0])
	}
}

func TestExtractBareHourAmbiguity(t *testing.T) {
	t.Parallel()
	res := Extract("Dinner at 8", ref)
	if res == nil {
		t.Fatal("bare hour must resolve locally, not defer")
	}
	if len(res.Tasks) != 0 || len(res.Ambiguities) != 1 {
		t.Fatalf("expected a single ambiguity, got %+v", res)
	}
	amb := res.Ambiguities[0]
	if amb.Title != "Dinner" {
		t.Fatalf("title = %q", amb.Title)
	}
	if len(amb.Options) != 2 {
		t.Fatalf("expected two options, got %+v", amb.Options)
	}
	if amb.Options[0].Label != "8 AM" || amb.Options[1].Label != "8 PM" {
		t.Fatalf("labels = %q, %q", amb.Options[0].Label, amb.Options[1].Label)
	}

	var am, pm struct {
		StartTime string `json:"start_time"`
	}
	if err := json.Unmarshal([]byte(amb.Options[0].Value), &am); err != nil {
		t.Fatalf("AM option value: %v", err)
	}
	if err := json.Unmarshal([]byte(amb.Options[1].Value), &pm); err != nil {
		t.Fatalf("PM option value: %v", err)
	}
	amT := mustUTC(t, am.StartTime)
	pmT := mustUTC(t, pm.StartTime)
	if pmT.Sub(amT) != 12*time.Hour {
		t.Fatalf("options must be exactly 12 hours apart: %v vs %v", amT, pmT)
	}
}

func TestExtractBareHourOutOfRangeDefers(t *testing.T) {
	t.Parallel()
	if got := Extract("Meet at 25", ref); got != nil {
		t.Fatalf("nonsense hour must defer, got %+v", got)
	}
}

func TestExtractDateOnlyFastPath(t *testing.T) {
	t.Parallel()
	res := Extract("Dentist tomorrow", ref)
	if res == nil || len(res.Tasks) != 1 {
		t.Fatalf("expected the title-only fast path, got %+v", res)
	}
	task := res.Tasks[0]
	if task.Title != "Dentist" {
		t.Fatalf("title = %q", task.Title)
	}
	if want := mustUTC(t, "2026-01-17T09:00:00Z"); !task.Start.Equal(want) {
		t.Fatalf("start = %v, want 09:00 local default", task.Start)
	}
	if task.End != nil {
		t.Fatalf("no end expected, got %v", task.End)
	}
}

func TestExtractEmptyTitleAmbiguity(t *testing.T) {
	t.Parallel()
	res := Extract("tomorrow at 5pm", ref)
	if res == nil || len(res.Ambiguities) != 1 {
		t.Fatalf("expected a missing-title ambiguity, got %+v", res)
	}
	amb := res.Ambiguities[0]
	if amb.Type != "missing_title" {
		t.Fatalf("type = %q", amb.Type)
	}
	var labels []string
	for _, o := range amb.Options {
		labels = append(labels, o.Label)
	}
	joined := strings.Join(labels, "|")
	for _, want := range []string{"Block out time", "Keep anyway", "Discard"} {
		if !strings.Contains(joined, want) {
			t.Fatalf("missing option %q in %v", want, labels)
		}
	}
}

func TestExtractStripsNoiseWords(t *testing.T) {
	t.Parallel()
	res := Extract("schedule a meeting at 3pm", ref)
	if res == nil || len(res.Tasks) != 1 {
		t.Fatalf("expected one task, got %+v", res)
	}
	if res.Tasks[0].Title != "Meeting" {
		t.Fatalf("title = %q, want noise stripped", res.Tasks[0].Title)
	}
}

func TestExtractTitleCaseMultiByte(t *testing.T) {
	t.Parallel()
	res := Extract("étude session at 3pm", ref)
	if res == nil || len(res.Tasks) != 1 {
		t.Fatalf("expected one task, got %+v", res)
	}
	if res.Tasks[0].Title != "Étude Session" {
		t.Fatalf("title = %q, want leading rune upcased intact", res.Tasks[0].Title)
	}
}
