package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"momentra/internal/intent"
	"momentra/internal/schedule"
	"momentra/internal/storage"
	logx "momentra/pkg/logx"
)

// backgroundKeywords mark logistical spans (lodging, travel windows) that
// tolerate overlap. "flight" is deliberately absent: a flight occupies the
// user and must block.
var backgroundKeywords = []string{
	"stay", "hotel", "airbnb", "trip", "vacation", "rent", "check-in", "check-out",
}

func isBackground(title string) bool {
	lower := strings.ToLower(title)
	for _, kw := range backgroundKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// buildCandidates turns one parse result into the job's candidate set,
// annotating conflicting proposals as ambiguities. Proposals are checked
// against committed tasks and against earlier proposals in this same result
// (the provisional ledger), so two new tasks cannot silently overlap each
// other.
func (s *Service) buildCandidates(ctx context.Context, job storage.Job, prefs storage.Preferences, res *intent.ParseResult) ([]storage.Candidate, error) {
	var out []storage.Candidate
	var ledger schedule.Ledger

	for _, task := range res.Tasks {
		title := strings.TrimSpace(task.Title)
		if title == "" {
			title = "New Task"
		}
		if task.Start == nil {
			out = append(out, missingTimeCandidate(job.ID, title))
			continue
		}

		start := task.Start.UTC()
		end := start.Add(prefs.DefaultDuration())
		if task.End != nil && task.End.After(start) {
			end = task.End.UTC()
		}
		iv := schedule.Interval{Start: start, End: end}
		blocking := !isBackground(title)

		if blocking {
			hit, err := s.detector.FindConflict(ctx, job.UserID, iv, ledger, 0)
			if err != nil {
				return nil, err
			}
			if hit != nil {
				sugg := s.suggestFor(ctx, job.UserID, prefs, start, iv.Duration(), ledger)
				out = append(out, conflictCandidate(job.ID, title, iv, hit, sugg))
				continue
			}
			ledger.Add(0, title, iv)
		}

		out = append(out, storage.Candidate{
			JobID:       job.ID,
			Description: title,
			Kind:        storage.KindCreateTask,
			Confidence:  task.Confidence,
			CreateTask: &storage.CreateTaskBody{
				Title:       title,
				Start:       &start,
				End:         &end,
				Description: task.Description,
			},
		})
	}

	for _, cmd := range res.Commands {
		params := json.RawMessage(`{}`)
		// A malformed payload degrades to an empty parameter set.
		if trimmed := strings.TrimSpace(cmd.Payload); trimmed != "" && json.Valid([]byte(trimmed)) {
			params = json.RawMessage(trimmed)
		}
		out = append(out, storage.Candidate{
			JobID:       job.ID,
			Description: fmt.Sprintf("Command: %s", cmd.Type),
			Kind:        storage.KindCommand,
			Confidence:  1.0,
			Command:     &storage.CommandBody{Type: cmd.Type, Params: params},
		})
	}

	for _, amb := range res.Ambiguities {
		opts := make([]storage.Option, 0, len(amb.Options))
		for _, o := range amb.Options {
			val := json.RawMessage(o.Value)
			if !json.Valid(val) {
				val, _ = json.Marshal(o.Value)
			}
			opts = append(opts, storage.Option{Label: o.Label, Value: val})
		}
		out = append(out, storage.Candidate{
			JobID:       job.ID,
			Description: fmt.Sprintf("Ambiguity: %s", amb.Message),
			Kind:        storage.KindAmbiguity,
			Ambiguity: &storage.AmbiguityBody{
				Type:    amb.Type,
				Message: amb.Message,
				Options: opts,
			},
		})
	}

	return out, nil
}

// suggestFor runs the slot search with the user's tunables. Suggestion
// failures are not fatal: the conflict options simply omit the alternative.
func (s *Service) suggestFor(ctx context.Context, userID string, prefs storage.Preferences, desired time.Time, duration time.Duration, ledger schedule.Ledger) *schedule.Interval {
	p := schedule.SuggestParams{
		Duration:  duration,
		Buffer:    time.Duration(prefs.BufferMinutes) * time.Minute,
		WorkStart: prefs.WorkStartHour,
		WorkEnd:   prefs.WorkEndHour,
	}
	sugg, err := s.detector.Suggest(ctx, userID, desired, p, ledger)
	if err != nil {
		s.log.Warn("slot suggestion failed", logx.Err(err), logx.String("user", userID))
		return nil
	}
	return sugg
}
