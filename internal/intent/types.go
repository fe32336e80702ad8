// Package intent defines the boundary to the external text-understanding
// service and the structured result both it and the local fast path produce.
package intent

import (
	"context"
	"time"
)

// ParseResult is the structured interpretation of one free-text submission.
// Exactly the shape the language model is asked to return; the local fast
// path produces the same shape so downstream code has a single input type.
type ParseResult struct {
	Reasoning   string
	Tasks       []ProposedTask
	Commands    []Command
	Ambiguities []Ambiguity
}

// ProposedTask is one scheduling proposal. Start/End are UTC when present;
// a missing Start means the proposal needs disambiguation, a missing End is
// filled from the user's default-duration preference downstream.
type ProposedTask struct {
	Title       string
	Start       *time.Time
	End         *time.Time
	Description string
	Confidence  float64
}

// Command is a non-scheduling instruction ("show my tasks"). Payload is a
// JSON string; malformed payloads are tolerated downstream.
type Command struct {
	Type    string
	Payload string
}

// Ambiguity asks the user to pick between interpretations.
type Ambiguity struct {
	Title   string
	Type    string
	Message string
	Options []Option
}

// Option is one resolution choice. Value is a self-describing JSON string
// the client echoes back verbatim when chosen.
type Option struct {
	Label string
	Value string
}

// Adapter is the external language-model boundary. Parse blocks for the
// duration of one model call; cancelling ctx abandons the call.
type Adapter interface {
	Parse(ctx context.Context, text, userLocalTime string, temperature float64, personalContext string) (*ParseResult, error)
	TranscribeAudio(ctx context.Context, data []byte, mimeType string) (string, error)
}
