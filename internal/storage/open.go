package storage

import (
	"context"
	"time"

	logx "momentra/pkg/logx"
)

// Store is the persistence API used by the pipeline and retention services.
type Store interface {
	// Jobs
	CreateJob(ctx context.Context, userID, rawText, userLocalTime string) (Job, error)
	GetJob(ctx context.Context, userID string, id int64) (Job, error)
	UpdateJobStatus(ctx context.Context, id int64, status JobStatus) error

	// Candidates
	ReplaceCandidates(ctx context.Context, jobID int64, cands []Candidate) ([]Candidate, error)
	ListCandidates(ctx context.Context, jobID int64) ([]Candidate, error)
	GetCandidate(ctx context.Context, id int64) (Candidate, error)
	UpdateCandidate(ctx context.Context, c Candidate) error
	DeleteCandidate(ctx context.Context, id int64) error

	// Tasks
	CreateTask(ctx context.Context, t Task) (Task, error)
	GetTask(ctx context.Context, userID string, id int64) (Task, error)
	UpdateTask(ctx context.Context, t Task) error
	DeleteTask(ctx context.Context, userID string, id int64) error
	ListTasks(ctx context.Context, userID string, from, to *time.Time) ([]Task, error)
	// ListBlockingTasks returns blocking tasks overlapping [from, to),
	// optionally excluding one task id (for self-excluding edit checks).
	ListBlockingTasks(ctx context.Context, userID string, from, to time.Time, excludeID int64) ([]Task, error)
	PurgeTasksBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// Preferences
	GetPreferences(ctx context.Context, userID string, def Preferences) (Preferences, error)
	PutPreferences(ctx context.Context, p Preferences) error

	Close() error
}

// Open initializes the SQLite store at cfg.Path.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	return openSQLite(cfg, log)
}
