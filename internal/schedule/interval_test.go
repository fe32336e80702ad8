package schedule

import (
	"testing"
	"time"
)

func ts(t *testing.T, s string) time.Time {
	t.Helper()
	v, err := time.Parse("2006-01-02T15:04:05", s)
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	return v.UTC()
}

func iv(t *testing.T, start, end string) Interval {
	t.Helper()
	return Interval{Start: ts(t, start), End: ts(t, end)}
}

func TestOverlaps(t *testing.T) {
	cases := []struct {
		name string
		a, b Interval
		want bool
	}{
		{"disjoint", iv(t, "2026-03-02T10:00:00", "2026-03-02T11:00:00"), iv(t, "2026-03-02T12:00:00", "2026-03-02T13:00:00"), false},
		{"touching endpoints", iv(t, "2026-03-02T10:00:00", "2026-03-02T11:00:00"), iv(t, "2026-03-02T11:00:00", "2026-03-02T12:00:00"), false},
		{"partial", iv(t, "2026-03-02T10:00:00", "2026-03-02T11:00:00"), iv(t, "2026-03-02T10:30:00", "2026-03-02T11:15:00"), true},
		{"contained", iv(t, "2026-03-02T09:00:00", "2026-03-02T17:00:00"), iv(t, "2026-03-02T12:00:00", "2026-03-02T12:30:00"), true},
		{"same start", iv(t, "2026-03-02T10:00:00", "2026-03-02T10:30:00"), iv(t, "2026-03-02T10:00:00", "2026-03-02T11:00:00"), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.a.Overlaps(tc.b); got != tc.want {
				t.Fatalf("Overlaps(a,b) = %v, want %v", got, tc.want)
			}
			// Symmetry must hold for every pair.
			if got := tc.b.Overlaps(tc.a); got != tc.want {
				t.Fatalf("Overlaps(b,a) = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestOverlapsSelf(t *testing.T) {
	a := iv(t, "2026-03-02T10:00:00", "2026-03-02T11:00:00")
	if !a.Overlaps(a) {
		t.Fatal("positive-duration interval must overlap itself")
	}
	empty := iv(t, "2026-03-02T10:00:00", "2026-03-02T10:00:00")
	if empty.Overlaps(empty) {
		t.Fatal("zero-duration interval must not overlap itself")
	}
}

func TestNewIntervalDefaultsEnd(t *testing.T) {
	start := ts(t, "2026-03-02T10:00:00")

	got := NewInterval(start, nil)
	if want := start.Add(30 * time.Minute); !got.End.Equal(want) {
		t.Fatalf("missing end: got %v, want %v", got.End, want)
	}

	inverted := start.Add(-time.Hour)
	got = NewInterval(start, &inverted)
	if want := start.Add(30 * time.Minute); !got.End.Equal(want) {
		t.Fatalf("inverted end: got %v, want %v", got.End, want)
	}

	end := start.Add(2 * time.Hour)
	got = NewInterval(start, &end)
	if !got.End.Equal(end) {
		t.Fatalf("explicit end dropped: got %v", got.End)
	}
}

func TestMerge(t *testing.T) {
	in := []Interval{
		iv(t, "2026-03-02T13:00:00", "2026-03-02T14:00:00"),
		iv(t, "2026-03-02T09:00:00", "2026-03-02T10:30:00"),
		iv(t, "2026-03-02T10:00:00", "2026-03-02T11:00:00"),
		iv(t, "2026-03-02T11:00:00", "2026-03-02T12:00:00"), // adjacent, merges
	}
	got := Merge(in)
	if len(got) != 2 {
		t.Fatalf("expected 2 merged intervals, got %d: %+v", len(got), got)
	}
	if !got[0].Start.Equal(ts(t, "2026-03-02T09:00:00")) || !got[0].End.Equal(ts(t, "2026-03-02T12:00:00")) {
		t.Fatalf("first merged interval wrong: %+v", got[0])
	}
	if !got[1].Start.Equal(ts(t, "2026-03-02T13:00:00")) {
		t.Fatalf("second merged interval wrong: %+v", got[1])
	}

	if Merge(nil) != nil {
		t.Fatal("Merge(nil) must be nil")
	}
}
