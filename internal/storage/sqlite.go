package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	logx "momentra/pkg/logx"

	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")
	_, _ = db.Exec("PRAGMA foreign_keys = ON")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ---- Jobs ----

func (s *sqliteStore) CreateJob(ctx context.Context, userID, rawText, userLocalTime string) (Job, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs(user_id, raw_text, user_local_time, status, created_at)
		 VALUES(?,?,?,?,?)`,
		userID, rawText, nullStr(userLocalTime), string(JobCreated), FormatNaiveUTC(now),
	)
	if err != nil {
		return Job{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Job{}, err
	}
	return Job{ID: id, UserID: userID, RawText: rawText, UserLocalTime: userLocalTime, Status: JobCreated, CreatedAt: now}, nil
}

func (s *sqliteStore) GetJob(ctx context.Context, userID string, id int64) (Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, raw_text, COALESCE(user_local_time,''), status, created_at
		 FROM jobs WHERE id = ? AND user_id = ?`, id, userID)
	return scanJob(row)
}

func (s *sqliteStore) UpdateJobStatus(ctx context.Context, id int64, status JobStatus) error {
	res, err := s.db.ExecContext(ctx, `UPDATE jobs SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return err
	}
	return oneRowOrNotFound(res)
}

func scanJob(row *sql.Row) (Job, error) {
	var j Job
	var status, created string
	err := row.Scan(&j.ID, &j.UserID, &j.RawText, &j.UserLocalTime, &status, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return Job{}, ErrNotFound
	}
	if err != nil {
		return Job{}, err
	}
	j.Status = JobStatus(status)
	if j.CreatedAt, err = ParseNaiveUTC(created); err != nil {
		return Job{}, err
	}
	return j, nil
}

// ---- Candidates ----

func encodeCandidateParams(c Candidate) (string, error) {
	body := c.Body()
	if body == nil {
		return "", fmt.Errorf("candidate kind %q has no matching body", c.Kind)
	}
	b, err := json.Marshal(body)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeCandidateParams(c *Candidate, params string) error {
	raw := []byte(params)
	switch c.Kind {
	case KindCreateTask:
		var b CreateTaskBody
		if err := json.Unmarshal(raw, &b); err != nil {
			return err
		}
		c.CreateTask = &b
	case KindCommand:
		var b CommandBody
		if err := json.Unmarshal(raw, &b); err != nil {
			return err
		}
		c.Command = &b
	case KindAmbiguity:
		var b AmbiguityBody
		if err := json.Unmarshal(raw, &b); err != nil {
			return err
		}
		c.Ambiguity = &b
	default:
		return fmt.Errorf("unknown candidate kind %q", c.Kind)
	}
	return nil
}

// ReplaceCandidates deletes every existing candidate of the job and inserts
// the given set in order, in one transaction. Re-parsing a job must never
// leave stale candidates behind.
func (s *sqliteStore) ReplaceCandidates(ctx context.Context, jobID int64, cands []Candidate) ([]Candidate, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM candidates WHERE job_id = ?`, jobID); err != nil {
		return nil, err
	}

	out := make([]Candidate, 0, len(cands))
	for _, c := range cands {
		c.JobID = jobID
		params, err := encodeCandidateParams(c)
		if err != nil {
			return nil, err
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO candidates(job_id, description, kind, params, confidence)
			 VALUES(?,?,?,?,?)`,
			jobID, c.Description, string(c.Kind), params, c.Confidence,
		)
		if err != nil {
			return nil, err
		}
		if c.ID, err = res.LastInsertId(); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *sqliteStore) ListCandidates(ctx context.Context, jobID int64) ([]Candidate, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, job_id, description, kind, params, confidence
		 FROM candidates WHERE job_id = ? ORDER BY id`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Candidate
	for rows.Next() {
		var c Candidate
		var kind, params string
		if err := rows.Scan(&c.ID, &c.JobID, &c.Description, &kind, &params, &c.Confidence); err != nil {
			return nil, err
		}
		c.Kind = CandidateKind(kind)
		if err := decodeCandidateParams(&c, params); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *sqliteStore) GetCandidate(ctx context.Context, id int64) (Candidate, error) {
	var c Candidate
	var kind, params string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, job_id, description, kind, params, confidence
		 FROM candidates WHERE id = ?`, id).
		Scan(&c.ID, &c.JobID, &c.Description, &kind, &params, &c.Confidence)
	if errors.Is(err, sql.ErrNoRows) {
		return Candidate{}, ErrNotFound
	}
	if err != nil {
		return Candidate{}, err
	}
	c.Kind = CandidateKind(kind)
	if err := decodeCandidateParams(&c, params); err != nil {
		return Candidate{}, err
	}
	return c, nil
}

func (s *sqliteStore) UpdateCandidate(ctx context.Context, c Candidate) error {
	params, err := encodeCandidateParams(c)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE candidates SET description = ?, kind = ?, params = ?, confidence = ? WHERE id = ?`,
		c.Description, string(c.Kind), params, c.Confidence, c.ID,
	)
	if err != nil {
		return err
	}
	return oneRowOrNotFound(res)
}

func (s *sqliteStore) DeleteCandidate(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM candidates WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return oneRowOrNotFound(res)
}

// ---- Tasks ----

func (s *sqliteStore) CreateTask(ctx context.Context, t Task) (Task, error) {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks(user_id, source_job_id, title, start_time, end_time, description, is_blocking, created_at)
		 VALUES(?,?,?,?,?,?,?,?)`,
		t.UserID, nullInt64(t.SourceJobID), t.Title,
		FormatNaiveUTC(t.Start), FormatNaiveUTC(t.End),
		t.Description, boolToInt(t.IsBlocking), FormatNaiveUTC(t.CreatedAt),
	)
	if err != nil {
		return Task{}, err
	}
	if t.ID, err = res.LastInsertId(); err != nil {
		return Task{}, err
	}
	t.Start = t.Start.UTC()
	t.End = t.End.UTC()
	return t, nil
}

const taskSelect = `SELECT id, user_id, COALESCE(source_job_id, 0), title, start_time, end_time, description, is_blocking, created_at FROM tasks`

func (s *sqliteStore) GetTask(ctx context.Context, userID string, id int64) (Task, error) {
	rows, err := s.db.QueryContext(ctx, taskSelect+` WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return Task{}, err
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return Task{}, err
		}
		return Task{}, ErrNotFound
	}
	return scanTask(rows)
}

func (s *sqliteStore) UpdateTask(ctx context.Context, t Task) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET title = ?, start_time = ?, end_time = ?, description = ?, is_blocking = ?
		 WHERE id = ? AND user_id = ?`,
		t.Title, FormatNaiveUTC(t.Start), FormatNaiveUTC(t.End),
		t.Description, boolToInt(t.IsBlocking), t.ID, t.UserID,
	)
	if err != nil {
		return err
	}
	return oneRowOrNotFound(res)
}

func (s *sqliteStore) DeleteTask(ctx context.Context, userID string, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return err
	}
	return oneRowOrNotFound(res)
}

func (s *sqliteStore) ListTasks(ctx context.Context, userID string, from, to *time.Time) ([]Task, error) {
	q := taskSelect + ` WHERE user_id = ?`
	args := []any{userID}
	if from != nil {
		q += ` AND end_time > ?`
		args = append(args, FormatNaiveUTC(*from))
	}
	if to != nil {
		q += ` AND start_time < ?`
		args = append(args, FormatNaiveUTC(*to))
	}
	q += ` ORDER BY start_time, id`
	return s.queryTasks(ctx, q, args...)
}

func (s *sqliteStore) ListBlockingTasks(ctx context.Context, userID string, from, to time.Time, excludeID int64) ([]Task, error) {
	q := taskSelect + ` WHERE user_id = ? AND is_blocking = 1 AND end_time > ? AND start_time < ?`
	args := []any{userID, FormatNaiveUTC(from), FormatNaiveUTC(to)}
	if excludeID > 0 {
		q += ` AND id != ?`
		args = append(args, excludeID)
	}
	q += ` ORDER BY start_time, id`
	return s.queryTasks(ctx, q, args...)
}

func (s *sqliteStore) PurgeTasksBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE end_time < ?`, FormatNaiveUTC(cutoff))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *sqliteStore) queryTasks(ctx context.Context, q string, args ...any) ([]Task, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanTask(rows *sql.Rows) (Task, error) {
	var t Task
	var start, end, created string
	var blocking int
	err := rows.Scan(&t.ID, &t.UserID, &t.SourceJobID, &t.Title, &start, &end, &t.Description, &blocking, &created)
	if err != nil {
		return Task{}, err
	}
	if t.Start, err = ParseNaiveUTC(start); err != nil {
		return Task{}, err
	}
	if t.End, err = ParseNaiveUTC(end); err != nil {
		return Task{}, err
	}
	if t.CreatedAt, err = ParseNaiveUTC(created); err != nil {
		return Task{}, err
	}
	t.IsBlocking = blocking != 0
	return t, nil
}

// ---- Preferences ----

// GetPreferences returns the user's record, creating it from def on first use.
func (s *sqliteStore) GetPreferences(ctx context.Context, userID string, def Preferences) (Preferences, error) {
	var p Preferences
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, buffer_minutes, work_start_hour, work_end_hour, default_duration_minutes, personal_context
		 FROM preferences WHERE user_id = ?`, userID).
		Scan(&p.UserID, &p.BufferMinutes, &p.WorkStartHour, &p.WorkEndHour, &p.DefaultDurationMinutes, &p.PersonalContext)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Preferences{}, err
	}

	def.UserID = userID
	if err := s.PutPreferences(ctx, def); err != nil {
		return Preferences{}, err
	}
	return def, nil
}

func (s *sqliteStore) PutPreferences(ctx context.Context, p Preferences) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO preferences(user_id, buffer_minutes, work_start_hour, work_end_hour, default_duration_minutes, personal_context)
		 VALUES(?,?,?,?,?,?)
		 ON CONFLICT(user_id) DO UPDATE SET
		   buffer_minutes=excluded.buffer_minutes,
		   work_start_hour=excluded.work_start_hour,
		   work_end_hour=excluded.work_end_hour,
		   default_duration_minutes=excluded.default_duration_minutes,
		   personal_context=excluded.personal_context`,
		p.UserID, p.BufferMinutes, p.WorkStartHour, p.WorkEndHour, p.DefaultDurationMinutes, p.PersonalContext,
	)
	return err
}

// ---- helpers ----

func oneRowOrNotFound(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func nullInt64(v int64) any {
	if v == 0 {
		return nil
	}
	return v
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
