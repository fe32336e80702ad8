// Package storage persists the scheduling domain: jobs, their extracted
// candidates, committed tasks, and per-user preferences.
//
// Timestamp convention: every persisted timestamp is naive UTC (no offset).
// Values are normalized to UTC on the way in and parsed back as UTC on the
// way out; attaching "Z"/offset notation is the caller boundary's job.
package storage
