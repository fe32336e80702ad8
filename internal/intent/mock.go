package intent

import (
	"context"
	"errors"

	logx "momentra/pkg/logx"
)

// MockAdapter stands in when no API key is configured. Every input becomes
// a single untimed draft task carrying the raw text, which downstream turns
// into a "when should this happen" ambiguity, so the product stays usable
// offline.
type MockAdapter struct {
	log logx.Logger
}

func NewMock(log logx.Logger) *MockAdapter {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &MockAdapter{log: log.With(logx.String("component", "intent.mock"))}
}

func (m *MockAdapter) Parse(ctx context.Context, text, userLocalTime string, temperature float64, personalContext string) (*ParseResult, error) {
	m.log.Debug("mock parse", logx.Int("len", len(text)))
	return &ParseResult{
		Reasoning: "offline mock (no model configured)",
		Tasks: []ProposedTask{{
			Title:       "Draft Task",
			Description: text,
			Confidence:  0,
		}},
	}, nil
}

func (m *MockAdapter) TranscribeAudio(ctx context.Context, data []byte, mimeType string) (string, error) {
	return "", errors.New("audio transcription requires a configured model")
}
