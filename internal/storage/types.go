package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotFound is returned when a job/candidate/task does not exist or is
// owned by a different user. Callers treat it as terminal.
var ErrNotFound = errors.New("not found")

// Config configures storage.
type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means default
}

// naiveLayout is the persisted timestamp format: UTC with no offset marker.
const naiveLayout = "2006-01-02T15:04:05"

// FormatNaiveUTC renders t as a naive-UTC string for persistence.
func FormatNaiveUTC(t time.Time) string {
	return t.UTC().Format(naiveLayout)
}

// ParseNaiveUTC reads a persisted naive-UTC string back into a UTC time.
// A trailing "Z" or fractional seconds from older rows are tolerated.
func ParseNaiveUTC(s string) (time.Time, error) {
	s = strings.TrimSpace(strings.TrimSuffix(s, "Z"))
	if i := strings.IndexByte(s, '.'); i >= 0 {
		s = s[:i]
	}
	t, err := time.ParseInLocation(naiveLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad timestamp %q: %w", s, err)
	}
	return t, nil
}

// JobStatus is the lifecycle of one raw-text submission.
type JobStatus string

const (
	JobCreated  JobStatus = "created"
	JobParsed   JobStatus = "parsed"
	JobAccepted JobStatus = "accepted"
	JobFailed   JobStatus = "failed"
)

// Job is one user submission of raw text awaiting interpretation.
// UserLocalTime is the submitter's local clock (ISO 8601 with offset),
// kept verbatim for the extractor and the intent adapter.
type Job struct {
	ID            int64
	UserID        string
	RawText       string
	UserLocalTime string
	Status        JobStatus
	CreatedAt     time.Time
}

// CandidateKind tags the shape of a candidate's body.
type CandidateKind string

const (
	KindCreateTask CandidateKind = "CREATE_TASK"
	KindCommand    CandidateKind = "COMMAND"
	KindAmbiguity  CandidateKind = "AMBIGUITY"
)

// Candidate is a proposed action extracted from a job, pending confirmation.
//
// Exactly one of CreateTask/Command/Ambiguity is non-nil and must match Kind.
// Keeping the body as a small tagged union (instead of a loose parameter map)
// couples kind and payload shape at compile time.
type Candidate struct {
	ID          int64
	JobID       int64
	Description string
	Kind        CandidateKind
	Confidence  float64

	CreateTask *CreateTaskBody
	Command    *CommandBody
	Ambiguity  *AmbiguityBody
}

// CreateTaskBody is the payload of a CREATE_TASK candidate.
// Start/End are UTC; either may be absent until the user resolves them.
type CreateTaskBody struct {
	Title       string     `json:"title"`
	Start       *time.Time `json:"start_time,omitempty"`
	End         *time.Time `json:"end_time,omitempty"`
	Description string     `json:"description,omitempty"`
}

// createTaskJSON is the persisted shape of CreateTaskBody: timestamps as
// naive-UTC strings, per the storage convention.
type createTaskJSON struct {
	Title       string  `json:"title"`
	Start       *string `json:"start_time,omitempty"`
	End         *string `json:"end_time,omitempty"`
	Description string  `json:"description,omitempty"`
}

func (b CreateTaskBody) MarshalJSON() ([]byte, error) {
	out := createTaskJSON{Title: b.Title, Description: b.Description}
	if b.Start != nil {
		s := FormatNaiveUTC(*b.Start)
		out.Start = &s
	}
	if b.End != nil {
		s := FormatNaiveUTC(*b.End)
		out.End = &s
	}
	return json.Marshal(out)
}

func (b *CreateTaskBody) UnmarshalJSON(data []byte) error {
	var in createTaskJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*b = CreateTaskBody{Title: in.Title, Description: in.Description}
	if in.Start != nil {
		t, err := ParseBoundaryTime(*in.Start)
		if err != nil {
			return err
		}
		b.Start = &t
	}
	if in.End != nil {
		t, err := ParseBoundaryTime(*in.End)
		if err != nil {
			return err
		}
		b.End = &t
	}
	return nil
}

// ParseBoundaryTime accepts both the persisted naive-UTC form and
// offset-bearing ISO 8601 coming across the boundary; aware values are
// converted to UTC and stripped.
func ParseBoundaryTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	return ParseNaiveUTC(s)
}

// CommandBody is the payload of a COMMAND candidate. Params is the decoded
// payload; a malformed payload becomes an empty set, never an error.
type CommandBody struct {
	Type   string          `json:"type"`
	Params json.RawMessage `json:"params,omitempty"`
}

// AmbiguityBody is the payload of an AMBIGUITY candidate.
type AmbiguityBody struct {
	Type    string   `json:"type"`
	Message string   `json:"message"`
	Options []Option `json:"options,omitempty"`
}

// Option is one way out of an ambiguity. Value is a self-describing JSON bag
// the client echoes back verbatim when the option is chosen.
type Option struct {
	Label string          `json:"label"`
	Value json.RawMessage `json:"value"`
}

// Body returns the active body as an any for encoding, or nil when the
// candidate is malformed.
func (c Candidate) Body() any {
	switch c.Kind {
	case KindCreateTask:
		if c.CreateTask != nil {
			return c.CreateTask
		}
	case KindCommand:
		if c.Command != nil {
			return c.Command
		}
	case KindAmbiguity:
		if c.Ambiguity != nil {
			return c.Ambiguity
		}
	}
	return nil
}

// Validate checks that Kind and the populated body agree.
func (c Candidate) Validate() error {
	if c.Body() == nil {
		return fmt.Errorf("candidate %d: kind %q has no matching body", c.ID, c.Kind)
	}
	return nil
}

// Task is a committed calendar block. Start/End are UTC and End is always
// concrete by the time a task is persisted.
type Task struct {
	ID          int64
	UserID      string
	SourceJobID int64 // 0 when the task wasn't born from a job
	Title       string
	Start       time.Time
	End         time.Time
	Description string
	IsBlocking  bool
	CreatedAt   time.Time
}

// Preferences are the per-user tunables the pipeline consumes.
// PersonalContext is free text forwarded only to the intent adapter.
type Preferences struct {
	UserID                 string
	BufferMinutes          int
	WorkStartHour          int
	WorkEndHour            int
	DefaultDurationMinutes int
	PersonalContext        string
}

// DefaultDuration returns the default event duration as a time.Duration.
func (p Preferences) DefaultDuration() time.Duration {
	if p.DefaultDurationMinutes <= 0 {
		return time.Hour
	}
	return time.Duration(p.DefaultDurationMinutes) * time.Minute
}
