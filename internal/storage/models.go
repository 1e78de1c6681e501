package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Audit is one finished analysis kept for later retrieval.
type Audit struct {
	ID           string
	SessionID    string
	Domain       string
	Status       string // "completed" or "failed"
	PackJSON     string // aggregated patch pack as JSON
	ErrorMessage string
	TotalCards   int
	DurationMs   int64
	CreatedAt    time.Time
}

// Stats summarizes stored audits.
type Stats struct {
	TotalAudits int
	TotalCards  int
}
