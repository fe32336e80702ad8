package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"momentra/internal/pipeline"
	"momentra/internal/storage"
)

// CLI dispatches one verb against a constructed App. Output goes to out;
// errors bubble up to main for exit-code handling.
type CLI struct {
	app  *App
	user string
	out  io.Writer
}

func NewCLI(app *App, user string, out io.Writer) *CLI {
	return &CLI{app: app, user: user, out: out}
}

const usageText = `usage: momentra [-config path] [-user id] <command> [args]

commands:
  add <text>              submit free text and parse it into candidates
  parse <job>             re-parse a job (replaces its candidates)
  show <job>              print a job and its candidates
  accept <job> <cand...>  promote candidates into tasks (-force allows overlap)
  resolve <cand>          edit a candidate (-title/-start/-end/-force)
  drop <cand>             discard a candidate
  tasks                   list tasks (-from/-to RFC 3339 bounds)
  edit-task <task>        edit a task (-title/-start/-end/-blocking/-force)
  rm-task <task>          delete a task
  prefs                   show preferences (-buffer/-work-start/-work-end/-duration/-context to set)
  purge                   run the retention purge once
  serve                   run resident (config watch + retention schedule)
`

func (c *CLI) Run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		fmt.Fprint(c.out, usageText)
		return errors.New("missing command")
	}
	verb, rest := args[0], args[1:]
	switch verb {
	case "add":
		return c.add(ctx, rest)
	case "parse":
		return c.parse(ctx, rest)
	case "show":
		return c.show(ctx, rest)
	case "accept":
		return c.accept(ctx, rest)
	case "resolve":
		return c.resolve(ctx, rest)
	case "drop":
		return c.drop(ctx, rest)
	case "tasks":
		return c.tasks(ctx, rest)
	case "edit-task":
		return c.editTask(ctx, rest)
	case "rm-task":
		return c.rmTask(ctx, rest)
	case "prefs":
		return c.prefs(ctx, rest)
	case "purge":
		return c.purge(ctx)
	case "serve":
		return c.serve(ctx)
	case "help", "-h", "--help":
		fmt.Fprint(c.out, usageText)
		return nil
	default:
		fmt.Fprint(c.out, usageText)
		return fmt.Errorf("unknown command %q", verb)
	}
}

func (c *CLI) add(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("add", flag.ContinueOnError)
	localTime := fs.String("at", time.Now().Format(time.RFC3339), "submitter's local time, RFC 3339")
	if err := fs.Parse(args); err != nil {
		return err
	}
	text := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if text == "" {
		return errors.New("add: text is required")
	}

	pipe := c.app.Pipeline()
	job, err := pipe.CreateJob(ctx, c.user, text, *localTime)
	if err != nil {
		return err
	}
	details, err := pipe.ParseJob(ctx, c.user, job.ID)
	if err != nil {
		return err
	}
	c.printJob(details)
	return nil
}

func (c *CLI) parse(ctx context.Context, args []string) error {
	jobID, err := parseID("job", args)
	if err != nil {
		return err
	}
	details, err := c.app.Pipeline().ParseJob(ctx, c.user, jobID)
	if err != nil {
		return err
	}
	c.printJob(details)
	return nil
}

func (c *CLI) show(ctx context.Context, args []string) error {
	jobID, err := parseID("job", args)
	if err != nil {
		return err
	}
	details, err := c.app.Pipeline().GetJob(ctx, c.user, jobID)
	if err != nil {
		return err
	}
	c.printJob(details)
	return nil
}

func (c *CLI) accept(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("accept", flag.ContinueOnError)
	force := fs.Bool("force", false, "allow overlapping tasks")
	if err := fs.Parse(args); err != nil {
		return err
	}
	rest := fs.Args()
	if len(rest) < 2 {
		return errors.New("accept: need a job id and at least one candidate id")
	}
	jobID, err := strconv.ParseInt(rest[0], 10, 64)
	if err != nil {
		return fmt.Errorf("accept: bad job id %q", rest[0])
	}
	var ids []int64
	for _, s := range rest[1:] {
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return fmt.Errorf("accept: bad candidate id %q", s)
		}
		ids = append(ids, id)
	}

	res, err := c.app.Pipeline().AcceptCandidates(ctx, c.user, jobID, ids, *force)
	if err != nil {
		return err
	}
	for _, task := range res.Created {
		fmt.Fprintf(c.out, "created task %d: %s  %s - %s\n",
			task.ID, task.Title, task.Start.Format(time.RFC3339), task.End.Format(time.RFC3339))
	}
	fmt.Fprintf(c.out, "job %d is %s (%d pending)\n", res.Job.ID, res.Job.Status, len(res.Pending))
	for _, cand := range res.Pending {
		c.printCandidate(cand)
	}
	return nil
}

func (c *CLI) resolve(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("resolve", flag.ContinueOnError)
	title := fs.String("title", "", "new title")
	start := fs.String("start", "", "new start, RFC 3339")
	end := fs.String("end", "", "new end, RFC 3339")
	desc := fs.String("desc", "", "new description")
	force := fs.Bool("force", false, "skip the conflict check")
	if err := fs.Parse(args); err != nil {
		return err
	}
	candID, err := parseID("candidate", fs.Args())
	if err != nil {
		return err
	}

	var patch pipeline.CandidatePatch
	if *title != "" {
		patch.Title = title
	}
	if *desc != "" {
		patch.Description = desc
	}
	if patch.Start, err = parseTimeFlag("start", *start); err != nil {
		return err
	}
	if patch.End, err = parseTimeFlag("end", *end); err != nil {
		return err
	}

	cand, err := c.app.Pipeline().UpdateCandidate(ctx, c.user, candID, patch, *force)
	var conflict *pipeline.ConflictError
	if errors.As(err, &conflict) {
		c.printConflict(conflict)
		c.printCandidate(cand)
		return nil
	}
	if err != nil {
		return err
	}
	c.printCandidate(cand)
	return nil
}

func (c *CLI) drop(ctx context.Context, args []string) error {
	candID, err := parseID("candidate", args)
	if err != nil {
		return err
	}
	if err := c.app.Pipeline().DeleteCandidate(ctx, c.user, candID); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "dropped candidate %d\n", candID)
	return nil
}

func (c *CLI) tasks(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("tasks", flag.ContinueOnError)
	from := fs.String("from", "", "window start, RFC 3339")
	to := fs.String("to", "", "window end, RFC 3339")
	if err := fs.Parse(args); err != nil {
		return err
	}
	fromT, err := parseTimeFlag("from", *from)
	if err != nil {
		return err
	}
	toT, err := parseTimeFlag("to", *to)
	if err != nil {
		return err
	}

	tasks, err := c.app.Pipeline().ListTasks(ctx, c.user, fromT, toT)
	if err != nil {
		return err
	}
	for _, task := range tasks {
		marker := " "
		if !task.IsBlocking {
			marker = "~" // background span
		}
		fmt.Fprintf(c.out, "%s %4d  %s - %s  %s\n",
			marker, task.ID,
			task.Start.Format("2006-01-02 15:04"),
			task.End.Format("2006-01-02 15:04"),
			task.Title)
	}
	return nil
}

func (c *CLI) editTask(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("edit-task", flag.ContinueOnError)
	title := fs.String("title", "", "new title")
	start := fs.String("start", "", "new start, RFC 3339")
	end := fs.String("end", "", "new end, RFC 3339")
	desc := fs.String("desc", "", "new description")
	blocking := fs.String("blocking", "", "true or false")
	force := fs.Bool("force", false, "skip the conflict check")
	if err := fs.Parse(args); err != nil {
		return err
	}
	taskID, err := parseID("task", fs.Args())
	if err != nil {
		return err
	}

	var patch pipeline.TaskPatch
	if *title != "" {
		patch.Title = title
	}
	if *desc != "" {
		patch.Description = desc
	}
	if patch.Start, err = parseTimeFlag("start", *start); err != nil {
		return err
	}
	if patch.End, err = parseTimeFlag("end", *end); err != nil {
		return err
	}
	if *blocking != "" {
		b, err := strconv.ParseBool(*blocking)
		if err != nil {
			return fmt.Errorf("edit-task: bad -blocking value %q", *blocking)
		}
		patch.IsBlocking = &b
	}

	task, err := c.app.Pipeline().UpdateTask(ctx, c.user, taskID, patch, *force)
	var conflict *pipeline.ConflictError
	if errors.As(err, &conflict) {
		c.printConflict(conflict)
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "task %d: %s  %s - %s\n",
		task.ID, task.Title, task.Start.Format(time.RFC3339), task.End.Format(time.RFC3339))
	return nil
}

func (c *CLI) rmTask(ctx context.Context, args []string) error {
	taskID, err := parseID("task", args)
	if err != nil {
		return err
	}
	if err := c.app.Pipeline().DeleteTask(ctx, c.user, taskID); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "deleted task %d\n", taskID)
	return nil
}

func (c *CLI) prefs(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("prefs", flag.ContinueOnError)
	buffer := fs.Int("buffer", -1, "buffer minutes between events")
	workStart := fs.Int("work-start", -1, "working day start hour")
	workEnd := fs.Int("work-end", -1, "working day end hour")
	duration := fs.Int("duration", -1, "default event duration, minutes")
	personal := fs.String("context", "", "personal context for the model")
	if err := fs.Parse(args); err != nil {
		return err
	}

	pipe := c.app.Pipeline()
	p, err := pipe.Preferences(ctx, c.user)
	if err != nil {
		return err
	}

	dirty := false
	if *buffer >= 0 {
		p.BufferMinutes, dirty = *buffer, true
	}
	if *workStart >= 0 {
		p.WorkStartHour, dirty = *workStart, true
	}
	if *workEnd >= 0 {
		p.WorkEndHour, dirty = *workEnd, true
	}
	if *duration > 0 {
		p.DefaultDurationMinutes, dirty = *duration, true
	}
	if *personal != "" {
		p.PersonalContext, dirty = *personal, true
	}
	if dirty {
		if err := pipe.UpdatePreferences(ctx, p); err != nil {
			return err
		}
	}

	fmt.Fprintf(c.out, "user %s: buffer %dm, work %02d:00-%02d:00, default duration %dm\n",
		p.UserID, p.BufferMinutes, p.WorkStartHour, p.WorkEndHour, p.DefaultDurationMinutes)
	if p.PersonalContext != "" {
		fmt.Fprintf(c.out, "context: %s\n", p.PersonalContext)
	}
	return nil
}

func (c *CLI) purge(ctx context.Context) error {
	ret := c.app.Retention()
	if ret == nil {
		return errors.New("purge: retention is not enabled in config")
	}
	n, err := ret.RunOnce(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "purged %d tasks\n", n)
	return nil
}

func (c *CLI) serve(ctx context.Context) error {
	if err := c.app.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return nil
}

// ---- output helpers ----

func (c *CLI) printJob(d *pipeline.JobDetails) {
	fmt.Fprintf(c.out, "job %d [%s]: %s\n", d.Job.ID, d.Job.Status, d.Job.RawText)
	for _, cand := range d.Candidates {
		c.printCandidate(cand)
	}
}

func (c *CLI) printCandidate(cand storage.Candidate) {
	switch cand.Kind {
	case storage.KindCreateTask:
		body := cand.CreateTask
		span := "(no time)"
		if body.Start != nil {
			end := "?"
			if body.End != nil {
				end = body.End.Format("15:04")
			}
			span = fmt.Sprintf("%s - %s", body.Start.Format("2006-01-02 15:04"), end)
		}
		fmt.Fprintf(c.out, "  %4d  task  %s  %s (%.0f%%)\n", cand.ID, span, body.Title, cand.Confidence*100)
	case storage.KindCommand:
		fmt.Fprintf(c.out, "  %4d  command  %s %s\n", cand.ID, cand.Command.Type, compactJSON(cand.Command.Params))
	case storage.KindAmbiguity:
		fmt.Fprintf(c.out, "  %4d  ambiguity [%s]  %s\n", cand.ID, cand.Ambiguity.Type, cand.Ambiguity.Message)
		for i, opt := range cand.Ambiguity.Options {
			fmt.Fprintf(c.out, "          %d) %s  %s\n", i+1, opt.Label, compactJSON(opt.Value))
		}
	}
}

func (c *CLI) printConflict(e *pipeline.ConflictError) {
	fmt.Fprintf(c.out, "conflict: %s\n", e.Error())
	if e.Suggestion != nil {
		fmt.Fprintf(c.out, "suggested: %s - %s\n",
			e.Suggestion.Start.Format(time.RFC3339), e.Suggestion.End.Format(time.RFC3339))
	}
}

func compactJSON(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}

func parseID(what string, args []string) (int64, error) {
	if len(args) != 1 {
		return 0, fmt.Errorf("%s id is required", what)
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("bad %s id %q", what, args[0])
	}
	return id, nil
}

func parseTimeFlag(name, v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	t, err := storage.ParseBoundaryTime(v)
	if err != nil {
		return nil, fmt.Errorf("bad -%s value %q: expect RFC 3339", name, v)
	}
	return &t, nil
}
