// Package extract is the deterministic fast path: a rule-based parser that
// turns unambiguous date/time expressions into structured results without a
// model call. It declines (returns nil) on anything it cannot resolve with
// certainty.
package extract

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"momentra/internal/intent"
)

const (
	reasoningFastPath  = "fast-path (deterministic pattern)"
	reasoningAmbiguity = "fast-path (local ambiguity resolution)"

	defaultConfidence = 0.98
	titleOnlyHour     = 9
)

// cueRe gates the whole parser: without one of these temporal cues the input
// is handed to the language model untouched.
var cueRe = regexp.MustCompile(`at\s\d|\d\s?am|\d\s?pm|\d:\d|tomorrow|today|monday|tuesday|wednesday|thursday|friday|saturday|sunday`)

var dateRe = regexp.MustCompile(`tomorrow|today|(?:(?:this|next|coming|on)\s)?(monday|tuesday|wednesday|thursday|friday|saturday|sunday)|on\s([a-z]{3,}\s\d{1,2})`)

// timeRe matches, in priority order: a range ("5pm to 6pm", "17:00-18:00"),
// a time introduced by "at", or a bare time carrying am/pm.
var timeRe = regexp.MustCompile(`(\d{1,2}(?::\d{2})?\s?(?:am|pm)?)\s?(?:to|-|until)\s?(\d{1,2}(?::\d{2})?\s?(?:am|pm)?)|at\s(\d{1,2}(?::\d{2})?\s?(?:am|pm)?)|(\d{1,2}:\d{2}\s?(?:am|pm)?|\d{1,2}\s?(?:am|pm))`)

var durationRe = regexp.MustCompile(`for\s(\d+)\s?(hours?|hrs?|minutes?|mins?)`)

var (
	noiseLeadRe  = regexp.MustCompile(`^(schedule|set|add|a|an|the|at|on|for|this|next|coming)\s+`)
	noiseTrailRe = regexp.MustCompile(`\s+(schedule|set|add|a|an|the|at|on|for|this|next|coming)$`)
)

var weekdays = []string{"monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday"}

var months = map[string]time.Month{
	"jan": time.January, "january": time.January,
	"feb": time.February, "february": time.February,
	"mar": time.March, "march": time.March,
	"apr": time.April, "april": time.April,
	"may": time.May,
	"jun": time.June, "june": time.June,
	"jul": time.July, "july": time.July,
	"aug": time.August, "august": time.August,
	"sep": time.September, "sept": time.September, "september": time.September,
	"oct": time.October, "october": time.October,
	"nov": time.November, "november": time.November,
	"dec": time.December, "december": time.December,
}

// Extract parses text against the reference local time (ISO 8601 with
// offset; empty falls back to the process clock). A nil result means
// "defer to the language model". The function is pure and never fails:
// anything unexpected degrades to nil.
func Extract(text, userLocalTime string) *intent.ParseResult {
	original := text
	lower := strings.ToLower(strings.TrimSpace(text))
	if lower == "" || !cueRe.MatchString(lower) {
		return nil
	}

	base := time.Now()
	if userLocalTime != "" {
		if t, err := time.Parse(time.RFC3339, strings.TrimSpace(userLocalTime)); err == nil {
			base = t
		}
	}

	targetDate := base
	dateHit := false
	if m := dateRe.FindString(lower); m != "" {
		dateHit = true
		targetDate = resolveDate(base, m)
		lower = strings.TrimSpace(strings.Replace(lower, m, "", 1))
	}

	tm := timeRe.FindStringSubmatch(lower)
	if tm == nil {
		if !dateHit {
			return nil
		}
		return titleOnlyResult(original, lower, targetDate)
	}

	startStr := firstNonEmpty(tm[1], tm[3], tm[4])
	endStr := tm[2]

	// Drop the time phrase and any explicit duration, then peel noise words
	// off both ends of what remains.
	working := strings.TrimSpace(strings.Replace(lower, tm[0], " ", 1))
	var dur time.Duration
	if dm := durationRe.FindStringSubmatch(working); dm != nil {
		n, _ := strconv.Atoi(dm[1])
		if strings.HasPrefix(dm[2], "min") {
			dur = time.Duration(n) * time.Minute
		} else {
			dur = time.Duration(n) * time.Hour
		}
		working = strings.TrimSpace(strings.Replace(working, dm[0], "", 1))
	}
	title := titleCase(stripNoise(working))

	// A bare 1-12 with no am/pm or colon is resolvable locally: offer both
	// readings instead of guessing or deferring.
	if !strings.Contains(startStr, ":") && !strings.Contains(startStr, "am") && !strings.Contains(startStr, "pm") {
		hour, err := strconv.Atoi(strings.TrimSpace(startStr))
		if err != nil || hour < 1 || hour > 12 {
			return nil
		}
		return amPMAmbiguity(title, hour, targetDate)
	}

	startH, startM, ok := parseClock(startStr)
	if !ok {
		return nil
	}
	start := dateAt(targetDate, startH, startM)

	var end *time.Time
	if endStr != "" {
		endH, endM, ok := parseClock(endStr)
		if !ok {
			return nil
		}
		e := dateAt(targetDate, endH, endM)
		if !e.After(start) {
			e = e.Add(24 * time.Hour)
		}
		end = &e
	} else if dur > 0 {
		e := start.Add(dur)
		end = &e
	}

	if title == "" {
		return missingTitleAmbiguity(start, end)
	}

	startUTC := start.UTC()
	var endUTC *time.Time
	if end != nil {
		e := end.UTC()
		endUTC = &e
	}
	return &intent.ParseResult{
		Reasoning: reasoningFastPath,
		Tasks: []intent.ProposedTask{{
			Title:       title,
			Start:       &startUTC,
			End:         endUTC,
			Description: original,
			Confidence:  defaultConfidence,
		}},
	}
}

// resolveDate turns a matched date phrase into a concrete date carrying the
// base time's clock and zone.
func resolveDate(base time.Time, phrase string) time.Time {
	switch {
	case strings.Contains(phrase, "tomorrow"):
		return base.AddDate(0, 0, 1)
	case strings.Contains(phrase, "today"):
		return base
	}

	day := phrase
	for _, mod := range []string{"this ", "next ", "on ", "coming "} {
		day = strings.Replace(day, mod, "", 1)
	}
	day = strings.TrimSpace(day)

	for i, name := range weekdays {
		if day != name {
			continue
		}
		// Monday-indexed weekday arithmetic.
		current := (int(base.Weekday()) + 6) % 7
		ahead := i - current
		if ahead <= 0 {
			ahead += 7
		}
		if strings.Contains(phrase, "next") {
			ahead += 7
		}
		return base.AddDate(0, 0, ahead)
	}

	// "Month Day" form, e.g. "feb 20". Rolls to next year when already past.
	if t, ok := parseMonthDay(base, day); ok {
		return t
	}
	return base
}

func parseMonthDay(base time.Time, s string) (time.Time, bool) {
	fields := strings.Fields(s)
	if len(fields) != 2 {
		return time.Time{}, false
	}
	month, ok := months[fields[0]]
	if !ok {
		return time.Time{}, false
	}
	day, err := strconv.Atoi(fields[1])
	if err != nil || day < 1 || day > 31 {
		return time.Time{}, false
	}
	t := time.Date(base.Year(), month, day, base.Hour(), base.Minute(), 0, 0, base.Location())
	if t.Before(base.AddDate(0, 0, -1)) {
		t = t.AddDate(1, 0, 0)
	}
	return t, true
}

// parseClock reads "5pm", "5:30 pm", "17:00", "8am" into a 24-hour clock.
func parseClock(s string) (hour, minute int, ok bool) {
	s = strings.TrimSpace(strings.ToLower(s))
	meridiem := ""
	for _, suf := range []string{"am", "pm"} {
		if strings.HasSuffix(s, suf) {
			meridiem = suf
			s = strings.TrimSpace(strings.TrimSuffix(s, suf))
			break
		}
	}
	hh, mm, _ := strings.Cut(s, ":")
	hour, err := strconv.Atoi(hh)
	if err != nil {
		return 0, 0, false
	}
	if mm != "" {
		if minute, err = strconv.Atoi(mm); err != nil || minute > 59 {
			return 0, 0, false
		}
	}
	switch meridiem {
	case "am":
		if hour == 12 {
			hour = 0
		}
	case "pm":
		if hour < 12 {
			hour += 12
		}
	}
	if hour > 23 {
		return 0, 0, false
	}
	return hour, minute, true
}

func dateAt(date time.Time, hour, minute int) time.Time {
	return time.Date(date.Year(), date.Month(), date.Day(), hour, minute, 0, 0, date.Location())
}

func titleOnlyResult(original, remainder string, targetDate time.Time) *intent.ParseResult {
	start := dateAt(targetDate, titleOnlyHour, 0)
	title := titleCase(stripNoise(remainder))
	if title == "" {
		return missingTitleAmbiguity(start, nil)
	}
	startUTC := start.UTC()
	return &intent.ParseResult{
		Reasoning: reasoningFastPath,
		Tasks: []intent.ProposedTask{{
			Title:       title,
			Start:       &startUTC,
			Description: original,
			Confidence:  defaultConfidence,
		}},
	}
}

func amPMAmbiguity(title string, hour int, targetDate time.Time) *intent.ParseResult {
	if title == "" {
		title = "New Activity"
	}
	amHour, pmHour := hour, hour+12
	if hour == 12 {
		amHour, pmHour = 0, 12
	}
	am := dateAt(targetDate, amHour, 0).UTC()
	pm := dateAt(targetDate, pmHour, 0).UTC()

	return &intent.ParseResult{
		Reasoning: reasoningAmbiguity,
		Ambiguities: []intent.Ambiguity{{
			Title:   title,
			Type:    "missing_time",
			Message: fmt.Sprintf("Is '%s' at %d AM or %d PM?", title, hour, hour),
			Options: []intent.Option{
				{Label: fmt.Sprintf("%d AM", hour), Value: optionValue(title, am, nil)},
				{Label: fmt.Sprintf("%d PM", hour), Value: optionValue(title, pm, nil)},
			},
		}},
	}
}

func missingTitleAmbiguity(start time.Time, end *time.Time) *intent.ParseResult {
	s := start.UTC()
	var e *time.Time
	if end != nil {
		u := end.UTC()
		e = &u
	}
	return &intent.ParseResult{
		Reasoning: reasoningAmbiguity,
		Ambiguities: []intent.Ambiguity{{
			Title:   "Untitled",
			Type:    "missing_title",
			Message: "I found a time but no activity name. What should this block be?",
			Options: []intent.Option{
				{Label: "Block out time", Value: optionValue("Busy", s, e)},
				{Label: "Keep anyway", Value: optionValue("New Task", s, e)},
				{Label: "Discard", Value: `{"discard":true}`},
			},
		}},
	}
}

func optionValue(title string, start time.Time, end *time.Time) string {
	v := map[string]string{
		"title":      title,
		"start_time": start.Format("2006-01-02T15:04:05Z"),
	}
	if end != nil {
		v["end_time"] = end.Format("2006-01-02T15:04:05Z")
	}
	b, _ := json.Marshal(v)
	return string(b)
}

func stripNoise(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	for {
		next := noiseLeadRe.ReplaceAllString(s, "")
		next = noiseTrailRe.ReplaceAllString(next, "")
		if next == s {
			return s
		}
		s = next
	}
}

func titleCase(s string) string {
	fields := strings.Fields(s)
	for i, f := range fields {
		r, size := utf8.DecodeRuneInString(f)
		fields[i] = string(unicode.ToUpper(r)) + f[size:]
	}
	return strings.Join(fields, " ")
}

func firstNonEmpty(ss ...string) string {
	for _, s := range ss {
		if s != "" {
			return s
		}
	}
	return ""
}
