package schedule

import (
	"context"
	"math"
	"time"
)

// Scoring weights for slot candidates, in minutes of equivalent distance.
// Earlier-than-desired slots are discouraged (push later when possible) and
// slots outside working hours even more so.
const (
	beforeDesiredPenalty = 60
	outsideWorkPenalty   = 180
)

// SuggestParams carries the per-user tunables of a slot search.
type SuggestParams struct {
	Duration  time.Duration
	Buffer    time.Duration
	WorkStart int // hour of day, inclusive
	WorkEnd   int // hour of day, exclusive
}

// Suggest searches the desired start's day for the nearest free slot of the
// given duration, honoring the buffer around existing events. It is a local
// greedy search within the day and returns nil when the day has no room.
func (d *Detector) Suggest(ctx context.Context, userID string, desired time.Time, p SuggestParams, ledger Ledger) (*Interval, error) {
	desired = desired.UTC()
	if p.Duration <= 0 {
		p.Duration = fallbackDuration
	}

	dayStart := time.Date(desired.Year(), desired.Month(), desired.Day(), 0, 0, 0, 0, time.UTC)
	dayEnd := dayStart.Add(24 * time.Hour)

	busy, err := d.BlockingSpans(ctx, userID, dayStart, dayEnd, ledger)
	if err != nil {
		return nil, err
	}

	workStart := dayStart.Add(time.Duration(p.WorkStart) * time.Hour)
	workEnd := dayStart.Add(time.Duration(p.WorkEnd) * time.Hour)

	points := []time.Time{
		roundUpQuarter(desired),
		roundUpQuarter(desired).Add(15 * time.Minute),
		workStart,
	}
	for _, b := range busy {
		points = append(points, b.End.Add(p.Buffer))
	}

	var best *Interval
	bestScore := math.MaxFloat64
	for _, start := range points {
		slot := Interval{Start: start, End: start.Add(p.Duration)}
		if slot.Start.Before(dayStart) || slot.End.After(dayEnd) {
			continue
		}
		if collides(slot.Expand(p.Buffer), busy) {
			continue
		}

		score := math.Abs(slot.Start.Sub(desired).Minutes())
		if slot.Start.Before(desired) {
			score += beforeDesiredPenalty
		}
		if slot.Start.Before(workStart) || slot.End.After(workEnd) {
			score += outsideWorkPenalty
		}
		if score < bestScore {
			bestScore = score
			s := slot
			best = &s
		}
	}
	return best, nil
}

func collides(iv Interval, busy []Interval) bool {
	for _, b := range busy {
		if iv.Overlaps(b) {
			return true
		}
	}
	return false
}

// roundUpQuarter snaps t forward to the next quarter-hour boundary.
func roundUpQuarter(t time.Time) time.Time {
	t = t.Truncate(time.Minute)
	rem := t.Minute() % 15
	if rem == 0 {
		return t
	}
	return t.Add(time.Duration(15-rem) * time.Minute)
}
