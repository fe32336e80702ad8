package pipeline

import (
	"encoding/json"
	"fmt"

	"momentra/internal/schedule"
	"momentra/internal/storage"
)

// Timestamps inside option values travel with the Z suffix; the boundary
// convention is "UTC with Z on the wire, naive UTC at rest".
const wireLayout = "2006-01-02T15:04:05Z"

// optionBag is the self-describing value the client echoes back verbatim
// when an option is chosen. Zero-valued fields stay off the wire.
type optionBag struct {
	Title           string `json:"title,omitempty"`
	StartTime       string `json:"start_time,omitempty"`
	EndTime         string `json:"end_time,omitempty"`
	ReplaceTaskID   int64  `json:"replace_task_id,omitempty"`
	IgnoreConflicts bool   `json:"ignore_conflicts,omitempty"`
	Discard         bool   `json:"discard,omitempty"`
}

func (b optionBag) raw() json.RawMessage {
	out, _ := json.Marshal(b)
	return out
}

// conflictOptions builds the fixed resolution set for a proposed interval
// that collides with hit: suggested slot (when found), replace existing,
// discard new, or keep both with overlap allowed.
func conflictOptions(title string, iv schedule.Interval, hit *schedule.Busy, suggestion *schedule.Interval) []storage.Option {
	var opts []storage.Option
	if suggestion != nil {
		opts = append(opts, storage.Option{
			Label: fmt.Sprintf("Suggested time: %s", suggestion.Start.Format("Mon 15:04")),
			Value: optionBag{
				Title:     title,
				StartTime: suggestion.Start.Format(wireLayout),
				EndTime:   suggestion.End.Format(wireLayout),
			}.raw(),
		})
	}
	opts = append(opts,
		storage.Option{
			Label: fmt.Sprintf("Replace '%s'", hit.Title),
			Value: optionBag{
				Title:         title,
				StartTime:     iv.Start.Format(wireLayout),
				EndTime:       iv.End.Format(wireLayout),
				ReplaceTaskID: hit.TaskID,
			}.raw(),
		},
		storage.Option{
			Label: "Keep existing, discard this",
			Value: optionBag{Discard: true}.raw(),
		},
		storage.Option{
			Label: "Keep both (allow overlap)",
			Value: optionBag{
				Title:           title,
				StartTime:       iv.Start.Format(wireLayout),
				EndTime:         iv.End.Format(wireLayout),
				IgnoreConflicts: true,
			}.raw(),
		},
	)
	return opts
}

// conflictCandidate rewrites a proposal into a pending conflict ambiguity.
func conflictCandidate(jobID int64, title string, iv schedule.Interval, hit *schedule.Busy, suggestion *schedule.Interval) storage.Candidate {
	msg := fmt.Sprintf("'%s' (%s to %s) overlaps '%s' (%s to %s).",
		title, iv.Start.Format("15:04"), iv.End.Format("15:04"),
		hit.Title, hit.Span.Start.Format("15:04"), hit.Span.End.Format("15:04"))
	return storage.Candidate{
		JobID:       jobID,
		Description: fmt.Sprintf("Ambiguity: %s", msg),
		Kind:        storage.KindAmbiguity,
		Ambiguity: &storage.AmbiguityBody{
			Type:    "conflict",
			Message: msg,
			Options: conflictOptions(title, iv, hit, suggestion),
		},
	}
}

// missingTimeCandidate covers proposals that arrived without a start time.
func missingTimeCandidate(jobID int64, title string) storage.Candidate {
	msg := fmt.Sprintf("When should '%s' happen?", title)
	return storage.Candidate{
		JobID:       jobID,
		Description: fmt.Sprintf("Ambiguity: %s", msg),
		Kind:        storage.KindAmbiguity,
		Ambiguity:   &storage.AmbiguityBody{Type: "missing_time", Message: msg},
	}
}
