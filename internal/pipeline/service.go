// Package pipeline implements the intent-to-task flow: job intake, the
// deterministic fast path with model fallback, candidate generation with
// conflict annotation, and the acceptance batch that turns candidates into
// durable tasks.
package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"momentra/internal/config"
	"momentra/internal/extract"
	"momentra/internal/intent"
	"momentra/internal/schedule"
	"momentra/internal/storage"
	logx "momentra/pkg/logx"
)

// Service owns one user-facing operation set. All mutations for a given
// user are serialized through per-user locks so an acceptance batch reads a
// consistent snapshot of committed tasks while it commits new ones.
type Service struct {
	store       storage.Store
	adapter     intent.Adapter
	detector    *schedule.Detector
	defaults    config.DefaultsConfig
	temperature float64
	log         logx.Logger

	locks keyedLocks
}

func New(st storage.Store, adapter intent.Adapter, defaults config.DefaultsConfig, temperature float64, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		store:       st,
		adapter:     adapter,
		detector:    schedule.NewDetector(st),
		defaults:    defaults.Normalized(),
		temperature: temperature,
		log:         log.With(logx.String("component", "pipeline")),
	}
}

// keyedLocks hands out one mutex per user id.
type keyedLocks struct {
	mu sync.Mutex
	m  map[string]*sync.Mutex
}

func (k *keyedLocks) lock(userID string) func() {
	k.mu.Lock()
	if k.m == nil {
		k.m = make(map[string]*sync.Mutex)
	}
	l, ok := k.m[userID]
	if !ok {
		l = &sync.Mutex{}
		k.m[userID] = l
	}
	k.mu.Unlock()

	l.Lock()
	return l.Unlock
}

func (s *Service) preferences(ctx context.Context, userID string) (storage.Preferences, error) {
	def := storage.Preferences{
		BufferMinutes:          s.defaults.BufferMinutes,
		WorkStartHour:          s.defaults.WorkStartHour,
		WorkEndHour:            s.defaults.WorkEndHour,
		DefaultDurationMinutes: s.defaults.DefaultDurationMinutes,
	}
	return s.store.GetPreferences(ctx, userID, def)
}

// Preferences returns the user's tunables, creating them on first use.
func (s *Service) Preferences(ctx context.Context, userID string) (storage.Preferences, error) {
	return s.preferences(ctx, userID)
}

// UpdatePreferences persists the user's tunables.
func (s *Service) UpdatePreferences(ctx context.Context, p storage.Preferences) error {
	return s.store.PutPreferences(ctx, p)
}

// CreateJob records a raw-text submission for later parsing.
func (s *Service) CreateJob(ctx context.Context, userID, rawText, userLocalTime string) (storage.Job, error) {
	job, err := s.store.CreateJob(ctx, userID, rawText, userLocalTime)
	if err != nil {
		return storage.Job{}, err
	}
	s.log.Debug("job created", logx.Int64("job", job.ID), logx.String("user", userID))
	return job, nil
}

// JobDetails is a job with its current candidate set.
type JobDetails struct {
	Job        storage.Job
	Candidates []storage.Candidate
}

// GetJob returns the job and its candidates.
func (s *Service) GetJob(ctx context.Context, userID string, jobID int64) (*JobDetails, error) {
	job, err := s.store.GetJob(ctx, userID, jobID)
	if err != nil {
		return nil, err
	}
	cands, err := s.store.ListCandidates(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return &JobDetails{Job: job, Candidates: cands}, nil
}

// ParseJob interprets the job's raw text into candidates, replacing any
// prior set. The deterministic extractor runs first; only when it declines
// is the language model consulted. An adapter failure never fails the job:
// it degrades to a single error ambiguity so the user can retry or enter
// the task manually.
func (s *Service) ParseJob(ctx context.Context, userID string, jobID int64) (*JobDetails, error) {
	unlock := s.locks.lock(userID)
	defer unlock()

	job, err := s.store.GetJob(ctx, userID, jobID)
	if err != nil {
		return nil, err
	}
	prefs, err := s.preferences(ctx, userID)
	if err != nil {
		return nil, err
	}

	res := extract.Extract(job.RawText, job.UserLocalTime)
	if res != nil {
		s.log.Debug("fast path hit", logx.Int64("job", jobID))
	} else {
		res, err = s.adapter.Parse(ctx, job.RawText, job.UserLocalTime, s.temperature, prefs.PersonalContext)
		if err != nil {
			if ctx.Err() != nil {
				// Cancellation abandons the call and leaves the job as-is
				// for retry.
				return nil, ctx.Err()
			}
			s.log.Warn("intent adapter failed", logx.Int64("job", jobID), logx.Err(err))
			res = adapterFailureResult()
		}
	}

	cands, err := s.buildCandidates(ctx, job, prefs, res)
	if err != nil {
		return nil, s.failJob(ctx, jobID, err)
	}
	cands, err = s.store.ReplaceCandidates(ctx, jobID, cands)
	if err != nil {
		return nil, s.failJob(ctx, jobID, err)
	}
	if err := s.store.UpdateJobStatus(ctx, jobID, storage.JobParsed); err != nil {
		return nil, err
	}
	job.Status = storage.JobParsed

	s.log.Info("job parsed",
		logx.Int64("job", jobID),
		logx.String("user", userID),
		logx.Int("candidates", len(cands)))
	return &JobDetails{Job: job, Candidates: cands}, nil
}

// failJob marks the job failed and returns the original cause. A failed
// status write is only logged; the cause matters more to the caller.
func (s *Service) failJob(ctx context.Context, jobID int64, cause error) error {
	if err := s.store.UpdateJobStatus(ctx, jobID, storage.JobFailed); err != nil {
		s.log.Warn("could not mark job failed", logx.Int64("job", jobID), logx.Err(err))
	}
	return cause
}

func adapterFailureResult() *intent.ParseResult {
	return &intent.ParseResult{
		Reasoning: "adapter failure",
		Ambiguities: []intent.Ambiguity{{
			Type:    "error",
			Message: "I couldn't interpret that right now. Try rephrasing, or add the task manually.",
		}},
	}
}

// CandidatePatch is a partial edit of a proposal. Setting Start (directly or
// by echoing an option value) flips an ambiguity back into a proposal.
type CandidatePatch struct {
	Title       *string
	Start       *time.Time
	End         *time.Time
	Description *string
}

// UpdateCandidate applies a patch and re-runs the conflict check against
// committed tasks and sibling proposals, unless ignoreConflicts is set. On
// conflict the candidate is demoted to an ambiguity in place and a
// ConflictError describing the collision is returned alongside it.
func (s *Service) UpdateCandidate(ctx context.Context, userID string, candidateID int64, patch CandidatePatch, ignoreConflicts bool) (storage.Candidate, error) {
	unlock := s.locks.lock(userID)
	defer unlock()

	cand, job, err := s.ownedCandidate(ctx, userID, candidateID)
	if err != nil {
		return storage.Candidate{}, err
	}
	prefs, err := s.preferences(ctx, userID)
	if err != nil {
		return storage.Candidate{}, err
	}

	body := cand.CreateTask
	if body == nil {
		body = &storage.CreateTaskBody{}
	}
	if patch.Title != nil {
		body.Title = *patch.Title
	}
	if patch.Start != nil {
		t := patch.Start.UTC()
		body.Start = &t
	}
	if patch.End != nil {
		t := patch.End.UTC()
		body.End = &t
	}
	if patch.Description != nil {
		body.Description = *patch.Description
	}

	if body.Start == nil {
		demoted := missingTimeCandidate(job.ID, body.Title)
		demoted.ID = cand.ID
		if err := s.store.UpdateCandidate(ctx, demoted); err != nil {
			return storage.Candidate{}, err
		}
		return demoted, nil
	}

	iv, _ := candidateInterval(body, prefs)
	if !ignoreConflicts && !isBackground(body.Title) {
		ledger, err := s.siblingLedger(ctx, job.ID, cand.ID, prefs)
		if err != nil {
			return storage.Candidate{}, err
		}
		hit, err := s.detector.FindConflict(ctx, userID, iv, ledger, 0)
		if err != nil {
			return storage.Candidate{}, err
		}
		if hit != nil {
			sugg := s.suggestFor(ctx, userID, prefs, iv.Start, iv.Duration(), ledger)
			demoted := conflictCandidate(job.ID, body.Title, iv, hit, sugg)
			demoted.ID = cand.ID
			if err := s.store.UpdateCandidate(ctx, demoted); err != nil {
				return storage.Candidate{}, err
			}
			return demoted, newConflictError(hit, sugg)
		}
	}

	updated := storage.Candidate{
		ID:          cand.ID,
		JobID:       job.ID,
		Description: body.Title,
		Kind:        storage.KindCreateTask,
		Confidence:  cand.Confidence,
		CreateTask:  body,
	}
	if err := s.store.UpdateCandidate(ctx, updated); err != nil {
		return storage.Candidate{}, err
	}
	return updated, nil
}

// DeleteCandidate discards one proposal.
func (s *Service) DeleteCandidate(ctx context.Context, userID string, candidateID int64) error {
	unlock := s.locks.lock(userID)
	defer unlock()

	if _, _, err := s.ownedCandidate(ctx, userID, candidateID); err != nil {
		return err
	}
	return s.store.DeleteCandidate(ctx, candidateID)
}

// siblingLedger collects the other pending blocking proposals of the job so
// an edit cannot silently overlap one of them.
func (s *Service) siblingLedger(ctx context.Context, jobID, excludeCandidateID int64, prefs storage.Preferences) (schedule.Ledger, error) {
	cands, err := s.store.ListCandidates(ctx, jobID)
	if err != nil {
		return nil, err
	}
	var ledger schedule.Ledger
	for _, c := range cands {
		if c.ID == excludeCandidateID || c.Kind != storage.KindCreateTask {
			continue
		}
		iv, ok := candidateInterval(c.CreateTask, prefs)
		if !ok || isBackground(c.CreateTask.Title) {
			continue
		}
		ledger.Add(0, c.CreateTask.Title, iv)
	}
	return ledger, nil
}

// ownedCandidate loads a candidate and verifies the job behind it belongs
// to the caller.
func (s *Service) ownedCandidate(ctx context.Context, userID string, candidateID int64) (storage.Candidate, storage.Job, error) {
	cand, err := s.store.GetCandidate(ctx, candidateID)
	if err != nil {
		return storage.Candidate{}, storage.Job{}, err
	}
	job, err := s.store.GetJob(ctx, userID, cand.JobID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return storage.Candidate{}, storage.Job{}, ErrNotFound
		}
		return storage.Candidate{}, storage.Job{}, err
	}
	return cand, job, nil
}

// ListTasks returns the user's tasks, optionally restricted to a window.
func (s *Service) ListTasks(ctx context.Context, userID string, from, to *time.Time) ([]storage.Task, error) {
	return s.store.ListTasks(ctx, userID, from, to)
}

// TaskPatch is a partial edit of a committed task.
type TaskPatch struct {
	Title       *string
	Start       *time.Time
	End         *time.Time
	Description *string
	IsBlocking  *bool
}

// UpdateTask applies a patch to a committed task. Without ignoreConflicts a
// collision with another blocking task aborts the edit and surfaces as a
// ConflictError, never a silent overwrite.
func (s *Service) UpdateTask(ctx context.Context, userID string, taskID int64, patch TaskPatch, ignoreConflicts bool) (storage.Task, error) {
	unlock := s.locks.lock(userID)
	defer unlock()

	task, err := s.store.GetTask(ctx, userID, taskID)
	if err != nil {
		return storage.Task{}, err
	}
	if patch.Title != nil {
		task.Title = *patch.Title
		task.IsBlocking = !isBackground(task.Title)
	}
	if patch.Start != nil {
		task.Start = patch.Start.UTC()
	}
	if patch.End != nil {
		task.End = patch.End.UTC()
	}
	if patch.Description != nil {
		task.Description = *patch.Description
	}
	if patch.IsBlocking != nil {
		task.IsBlocking = *patch.IsBlocking
	}
	iv := schedule.Interval{Start: task.Start, End: task.End}.Normalize()
	task.Start, task.End = iv.Start, iv.End

	if task.IsBlocking && !ignoreConflicts {
		hit, err := s.detector.FindConflict(ctx, userID, iv, nil, task.ID)
		if err != nil {
			return storage.Task{}, err
		}
		if hit != nil {
			prefs, err := s.preferences(ctx, userID)
			if err != nil {
				return storage.Task{}, err
			}
			sugg := s.suggestFor(ctx, userID, prefs, iv.Start, iv.Duration(), nil)
			return storage.Task{}, newConflictError(hit, sugg)
		}
	}

	if err := s.store.UpdateTask(ctx, task); err != nil {
		return storage.Task{}, err
	}
	return task, nil
}

// DeleteTask removes a committed task.
func (s *Service) DeleteTask(ctx context.Context, userID string, taskID int64) error {
	unlock := s.locks.lock(userID)
	defer unlock()
	return s.store.DeleteTask(ctx, userID, taskID)
}

// Transcribe converts voice input to text through the adapter.
func (s *Service) Transcribe(ctx context.Context, data []byte, mimeType string) (string, error) {
	return s.adapter.TranscribeAudio(ctx, data, mimeType)
}
