package pipeline

import (
	"context"
	"strings"

	"momentra/internal/schedule"
	"momentra/internal/storage"
	logx "momentra/pkg/logx"
)

// AcceptResult reports one acceptance batch: the tasks committed this round
// and whether candidates are still pending on the job.
type AcceptResult struct {
	Job     storage.Job
	Created []storage.Task
	Pending []storage.Candidate
}

// AcceptCandidates promotes the selected candidates into durable tasks.
//
// Promotion is first-committed-wins: tasks created earlier in the batch are
// never rolled back when a later candidate turns out to conflict with them;
// the later candidate is demoted to a conflict ambiguity and stays pending.
// After the batch, every remaining pending proposal on the job is re-checked
// against what was just committed, because a candidate that was clean before
// the batch can be in conflict after it. The job ends ACCEPTED only with an
// empty pending set, otherwise it returns to PARSED.
func (s *Service) AcceptCandidates(ctx context.Context, userID string, jobID int64, selectedIDs []int64, ignoreConflicts bool) (*AcceptResult, error) {
	unlock := s.locks.lock(userID)
	defer unlock()

	job, err := s.store.GetJob(ctx, userID, jobID)
	if err != nil {
		return nil, err
	}

	// An empty selection is a no-op: no tasks, no status change.
	if len(selectedIDs) == 0 {
		pending, err := s.store.ListCandidates(ctx, jobID)
		if err != nil {
			return nil, err
		}
		return &AcceptResult{Job: job, Pending: pending}, nil
	}

	prefs, err := s.preferences(ctx, userID)
	if err != nil {
		return nil, err
	}

	cands, err := s.store.ListCandidates(ctx, jobID)
	if err != nil {
		return nil, err
	}
	byID := make(map[int64]storage.Candidate, len(cands))
	for _, c := range cands {
		byID[c.ID] = c
	}

	var created []storage.Task
	for _, id := range selectedIDs {
		cand, ok := byID[id]
		if !ok {
			continue // unknown or already-consumed id, skip silently
		}
		switch cand.Kind {
		case storage.KindCreateTask:
			task, err := s.promote(ctx, job, prefs, cand, ignoreConflicts)
			if err != nil {
				return nil, err
			}
			if task != nil {
				created = append(created, *task)
			}
		case storage.KindCommand:
			// Commands are consumed on acceptance; execution belongs to the
			// caller, which reads the command body before accepting.
			if err := s.store.DeleteCandidate(ctx, cand.ID); err != nil {
				return nil, err
			}
		case storage.KindAmbiguity:
			// Ambiguities cannot be accepted directly; resolve via edit.
		}
	}

	// Post-batch sweep: what this batch committed may invalidate proposals
	// that were not part of the selection.
	pending, err := s.recheckPending(ctx, job, prefs)
	if err != nil {
		return nil, err
	}

	status := storage.JobAccepted
	if len(pending) > 0 {
		status = storage.JobParsed
	}
	if err := s.store.UpdateJobStatus(ctx, jobID, status); err != nil {
		return nil, err
	}
	job.Status = status

	s.log.Info("acceptance batch finished",
		logx.Int64("job", jobID),
		logx.Int("created", len(created)),
		logx.Int("pending", len(pending)),
		logx.String("status", string(status)))
	return &AcceptResult{Job: job, Created: created, Pending: pending}, nil
}

// promote commits one CREATE_TASK candidate, or demotes it in place when it
// conflicts. A nil task with nil error means the candidate stayed pending.
func (s *Service) promote(ctx context.Context, job storage.Job, prefs storage.Preferences, cand storage.Candidate, ignoreConflicts bool) (*storage.Task, error) {
	body := cand.CreateTask
	if body == nil || body.Start == nil {
		title := "New Task"
		if body != nil && strings.TrimSpace(body.Title) != "" {
			title = body.Title
		}
		demoted := missingTimeCandidate(job.ID, title)
		demoted.ID = cand.ID
		return nil, s.store.UpdateCandidate(ctx, demoted)
	}

	iv, _ := candidateInterval(body, prefs)
	blocking := !isBackground(body.Title)

	if blocking && !ignoreConflicts {
		hit, err := s.detector.FindConflict(ctx, job.UserID, iv, nil, 0)
		if err != nil {
			return nil, err
		}
		if hit != nil {
			sugg := s.suggestFor(ctx, job.UserID, prefs, iv.Start, iv.Duration(), nil)
			demoted := conflictCandidate(job.ID, body.Title, iv, hit, sugg)
			demoted.ID = cand.ID
			return nil, s.store.UpdateCandidate(ctx, demoted)
		}
	}

	task, err := s.store.CreateTask(ctx, storage.Task{
		UserID:      job.UserID,
		SourceJobID: job.ID,
		Title:       body.Title,
		Start:       iv.Start,
		End:         iv.End,
		Description: body.Description,
		IsBlocking:  blocking,
	})
	if err != nil {
		return nil, err
	}
	if err := s.store.DeleteCandidate(ctx, cand.ID); err != nil {
		return nil, err
	}
	return &task, nil
}

// recheckPending re-validates every remaining CREATE_TASK proposal on the
// job against the committed store and demotes the now-conflicting ones.
func (s *Service) recheckPending(ctx context.Context, job storage.Job, prefs storage.Preferences) ([]storage.Candidate, error) {
	pending, err := s.store.ListCandidates(ctx, job.ID)
	if err != nil {
		return nil, err
	}
	for i, cand := range pending {
		if cand.Kind != storage.KindCreateTask {
			continue
		}
		iv, ok := candidateInterval(cand.CreateTask, prefs)
		if !ok || isBackground(cand.CreateTask.Title) {
			continue
		}

		hit, err := s.detector.FindConflict(ctx, job.UserID, iv, nil, 0)
		if err != nil {
			return nil, err
		}
		if hit == nil {
			continue
		}
		sugg := s.suggestFor(ctx, job.UserID, prefs, iv.Start, iv.Duration(), nil)
		demoted := conflictCandidate(job.ID, cand.CreateTask.Title, iv, hit, sugg)
		demoted.ID = cand.ID
		if err := s.store.UpdateCandidate(ctx, demoted); err != nil {
			return nil, err
		}
		pending[i] = demoted
	}
	return pending, nil
}

// candidateInterval derives the checked interval of a proposal, filling a
// missing end from the preference.
func candidateInterval(body *storage.CreateTaskBody, prefs storage.Preferences) (schedule.Interval, bool) {
	if body == nil || body.Start == nil {
		return schedule.Interval{}, false
	}
	start := body.Start.UTC()
	end := start.Add(prefs.DefaultDuration())
	if body.End != nil && body.End.After(start) {
		end = body.End.UTC()
	}
	return schedule.Interval{Start: start, End: end}, true
}
