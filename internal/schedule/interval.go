// Package schedule holds the interval math shared by candidate generation,
// candidate and task edits, and batch acceptance. Every conflict decision in
// the system goes through this package so the overlap rule cannot drift
// between call sites.
package schedule

import (
	"sort"
	"time"
)

// fallbackDuration is assumed when an interval's end is missing or precedes
// its start.
const fallbackDuration = 30 * time.Minute

// Interval is a half-open [Start, End) time span in UTC.
type Interval struct {
	Start time.Time
	End   time.Time
}

// NewInterval builds a normalized interval from a start and an optional end.
// A nil or inverted end is replaced by start plus fallbackDuration.
func NewInterval(start time.Time, end *time.Time) Interval {
	iv := Interval{Start: start.UTC()}
	if end == nil || !end.After(start) {
		iv.End = iv.Start.Add(fallbackDuration)
	} else {
		iv.End = end.UTC()
	}
	return iv
}

// Normalize repairs a zero or inverted end in place.
func (iv Interval) Normalize() Interval {
	if !iv.End.After(iv.Start) {
		iv.End = iv.Start.Add(fallbackDuration)
	}
	return iv
}

// Overlaps reports whether two half-open intervals intersect. Touching
// endpoints do not overlap.
func (iv Interval) Overlaps(other Interval) bool {
	return iv.Start.Before(other.End) && other.Start.Before(iv.End)
}

// Expand widens the interval by pad on both sides.
func (iv Interval) Expand(pad time.Duration) Interval {
	return Interval{Start: iv.Start.Add(-pad), End: iv.End.Add(pad)}
}

// Duration returns End minus Start.
func (iv Interval) Duration() time.Duration {
	return iv.End.Sub(iv.Start)
}

// Merge collapses overlapping or adjacent intervals into a sorted, disjoint
// set. The input is not modified.
func Merge(ivs []Interval) []Interval {
	if len(ivs) == 0 {
		return nil
	}
	sorted := make([]Interval, len(ivs))
	copy(sorted, ivs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start.Before(sorted[j].Start) })

	out := []Interval{sorted[0]}
	for _, iv := range sorted[1:] {
		last := &out[len(out)-1]
		if !iv.Start.After(last.End) {
			if iv.End.After(last.End) {
				last.End = iv.End
			}
			continue
		}
		out = append(out, iv)
	}
	return out
}
