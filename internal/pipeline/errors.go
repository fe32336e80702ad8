package pipeline

import (
	"fmt"
	"time"

	"momentra/internal/schedule"
	"momentra/internal/storage"
)

// ErrNotFound reports that a referenced job, candidate, or task does not
// exist or belongs to another user. Terminal for the caller.
var ErrNotFound = storage.ErrNotFound

// ConflictError carries the structured detail of an interval collision so
// callers can render resolution choices instead of pattern-matching a
// message string.
type ConflictError struct {
	TaskID     int64
	Title      string
	Start      time.Time
	End        time.Time
	Suggestion *schedule.Interval
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("time conflict with %q (%s to %s)",
		e.Title,
		e.Start.Format("2006-01-02 15:04"),
		e.End.Format("15:04"))
}

func newConflictError(hit *schedule.Busy, suggestion *schedule.Interval) *ConflictError {
	return &ConflictError{
		TaskID:     hit.TaskID,
		Title:      hit.Title,
		Start:      hit.Span.Start,
		End:        hit.Span.End,
		Suggestion: suggestion,
	}
}
