package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"golang.org/x/time/rate"
	"google.golang.org/genai"

	logx "momentra/pkg/logx"
)

// GeminiConfig configures the Gemini-backed adapter.
type GeminiConfig struct {
	Model      string
	APIKey     string
	RatePerMin int
	Timeout    time.Duration
}

const (
	defaultModel   = "gemini-2.0-flash"
	defaultTimeout = 30 * time.Second
)

// GeminiAdapter implements Adapter against the Gemini API with a structured
// JSON response schema, so model output is validated server-side instead of
// being fished out of prose.
type GeminiAdapter struct {
	client  *genai.Client
	model   string
	limiter *rate.Limiter
	timeout time.Duration
	log     logx.Logger
}

func NewGemini(ctx context.Context, cfg GeminiConfig, log logx.Logger) (*GeminiAdapter, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini: api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RatePerMin > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RatePerMin)), 1)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: cfg.APIKey})
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &GeminiAdapter{
		client:  client,
		model:   cfg.Model,
		limiter: limiter,
		timeout: cfg.Timeout,
		log:     log.With(logx.String("component", "intent.gemini")),
	}, nil
}

// wire shapes mirror the response schema handed to the model.
type wireTask struct {
	Title       string  `json:"title"`
	StartTime   string  `json:"start_time,omitempty"`
	EndTime     string  `json:"end_time,omitempty"`
	Description string  `json:"description,omitempty"`
	Confidence  float64 `json:"confidence"`
}

type wireCommand struct {
	Type    string `json:"type"`
	Payload string `json:"payload,omitempty"`
}

type wireOption struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

type wireAmbiguity struct {
	Title   string       `json:"title,omitempty"`
	Type    string       `json:"type"`
	Message string       `json:"message"`
	Options []wireOption `json:"options,omitempty"`
}

type wireResult struct {
	Reasoning   string          `json:"reasoning"`
	Tasks       []wireTask      `json:"tasks"`
	Commands    []wireCommand   `json:"commands"`
	Ambiguities []wireAmbiguity `json:"ambiguities"`
}

func responseSchema() *genai.Schema {
	optionSchema := &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"label": {Type: genai.TypeString},
			"value": {Type: genai.TypeString, Description: "JSON-stringified parameters echoed back on selection"},
		},
		Required: []string{"label", "value"},
	}
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"reasoning": {Type: genai.TypeString, Description: "Step-by-step logic for the extraction"},
			"tasks": {
				Type: genai.TypeArray,
				Items: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"title":       {Type: genai.TypeString},
						"start_time":  {Type: genai.TypeString, Description: "UTC ISO 8601 with Z suffix, omit if unknown"},
						"end_time":    {Type: genai.TypeString, Description: "UTC ISO 8601 with Z suffix, omit if unknown"},
						"description": {Type: genai.TypeString},
						"confidence":  {Type: genai.TypeNumber, Description: "0.0 to 1.0"},
					},
					Required: []string{"title", "confidence"},
				},
			},
			"commands": {
				Type: genai.TypeArray,
				Items: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"type":    {Type: genai.TypeString},
						"payload": {Type: genai.TypeString, Description: "JSON-stringified parameters"},
					},
					Required: []string{"type"},
				},
			},
			"ambiguities": {
				Type: genai.TypeArray,
				Items: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"title":   {Type: genai.TypeString},
						"type":    {Type: genai.TypeString, Description: "missing_time, unclear_intent, or conflict"},
						"message": {Type: genai.TypeString, Description: "Question for the user"},
						"options": {Type: genai.TypeArray, Items: optionSchema},
					},
					Required: []string{"type", "message"},
				},
			},
		},
		Required: []string{"reasoning", "tasks", "commands", "ambiguities"},
	}
}

func systemPrompt(userLocalTime, personalContext string) string {
	var b strings.Builder
	b.WriteString("You are a calendar assistant turning free text into structured tasks.\n")
	if userLocalTime != "" {
		fmt.Fprintf(&b, "The user's current local time is %s. Resolve every relative expression (tomorrow, next tuesday) against it and output absolute UTC timestamps with a Z suffix.\n", userLocalTime)
	} else {
		b.WriteString("Output absolute UTC timestamps with a Z suffix.\n")
	}
	b.WriteString("If AM/PM is missing (e.g. \"at 8\"), emit an ambiguity asking which was meant instead of a task. ")
	b.WriteString("If the date is vague or your confidence in a guessed time is below 0.9, emit an ambiguity instead of a task. ")
	b.WriteString("Non-scheduling instructions (clear my day, show tasks) become commands with a JSON-stringified payload.\n")
	if personalContext != "" {
		fmt.Fprintf(&b, "Personal context about the user: %s\n", personalContext)
	}
	return b.String()
}

// Parse sends the text to Gemini and decodes its structured answer.
func (a *GeminiAdapter) Parse(ctx context.Context, text, userLocalTime string, temperature float64, personalContext string) (*ParseResult, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	start := time.Now()
	resp, err := a.client.Models.GenerateContent(ctx, a.model,
		[]*genai.Content{genai.NewContentFromText(text, genai.RoleUser)},
		&genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(systemPrompt(userLocalTime, personalContext), genai.RoleUser),
			Temperature:       genai.Ptr(float32(temperature)),
			ResponseMIMEType:  "application/json",
			ResponseSchema:    responseSchema(),
		},
	)
	if err != nil {
		return nil, fmt.Errorf("gemini: generate: %w", err)
	}

	raw := resp.Text()
	var wire wireResult
	if err := json.Unmarshal([]byte(raw), &wire); err != nil {
		return nil, fmt.Errorf("gemini: malformed response: %w", err)
	}
	a.log.Debug("model call finished",
		logx.Duration("elapsed", time.Since(start)),
		logx.Int("tasks", len(wire.Tasks)),
		logx.Int("ambiguities", len(wire.Ambiguities)))
	return decodeWire(wire)
}

func decodeWire(w wireResult) (*ParseResult, error) {
	out := &ParseResult{Reasoning: w.Reasoning}
	for _, t := range w.Tasks {
		task := ProposedTask{
			Title:       t.Title,
			Description: t.Description,
			Confidence:  t.Confidence,
		}
		if ts, ok := parseWireTime(t.StartTime); ok {
			task.Start = &ts
		}
		if ts, ok := parseWireTime(t.EndTime); ok {
			task.End = &ts
		}
		out.Tasks = append(out.Tasks, task)
	}
	for _, c := range w.Commands {
		out.Commands = append(out.Commands, Command{Type: c.Type, Payload: c.Payload})
	}
	for _, amb := range w.Ambiguities {
		conv := Ambiguity{Title: amb.Title, Type: amb.Type, Message: amb.Message}
		for _, o := range amb.Options {
			conv.Options = append(conv.Options, Option{Label: o.Label, Value: o.Value})
		}
		out.Ambiguities = append(out.Ambiguities, conv)
	}
	return out, nil
}

// parseWireTime reads adapter timestamps: RFC 3339, tolerating a missing
// offset (treated as UTC).
func parseWireTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), true
	}
	if t, err := time.Parse("2006-01-02T15:04:05", s); err == nil {
		return t.UTC(), true
	}
	return time.Time{}, false
}

// TranscribeAudio converts a voice note to text.
func (a *GeminiAdapter) TranscribeAudio(ctx context.Context, data []byte, mimeType string) (string, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return "", err
	}
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	parts := []*genai.Part{
		genai.NewPartFromBytes(data, mimeType),
		genai.NewPartFromText("Transcribe this audio verbatim. Return only the transcription."),
	}
	resp, err := a.client.Models.GenerateContent(ctx, a.model,
		[]*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}, nil)
	if err != nil {
		return "", fmt.Errorf("gemini: transcribe: %w", err)
	}
	return strings.TrimSpace(resp.Text()), nil
}
