package queue

import (
	"errors"
	"fmt"
	"time"
)

// Status is the lifecycle state of a queue entry.
type Status string

const (
	StatusWaiting    Status = "waiting"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusTimeout    Status = "timeout"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether the status is a final state.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusTimeout, StatusCancelled:
		return true
	}
	return false
}

// Entry is one analysis request tracked by the Manager.
type Entry struct {
	ID           string    `json:"id"`
	SessionID    string    `json:"session_id"`
	Status       Status    `json:"status"`
	Position     int       `json:"position"`
	CreatedAt    time.Time `json:"created_at"`
	StartedAt    time.Time `json:"started_at,omitzero"`
	CompletedAt  time.Time `json:"completed_at,omitzero"`
	ErrorMessage string    `json:"error_message,omitempty"`
}

// Quota tracks analyses consumed for one UTC calendar day.
type Quota struct {
	Date  string `json:"date"` // YYYY-MM-DD
	Used  int    `json:"used"`
	Limit int    `json:"limit"`
}

// Remaining returns how many analyses are left today.
func (q Quota) Remaining() int {
	if q.Limit-q.Used < 0 {
		return 0
	}
	return q.Limit - q.Used
}

// Exhausted reports whether today's quota is used up.
func (q Quota) Exhausted() bool {
	return q.Used >= q.Limit
}

// ChargePolicy selects when a finished analysis consumes quota.
type ChargePolicy int

const (
	// ChargeOnCompletion consumes quota for every finished analysis,
	// successful or not. The generator was called either way.
	ChargeOnCompletion ChargePolicy = iota
	// ChargeOnSuccess consumes quota only for successful analyses.
	ChargeOnSuccess
)

// ErrQuotaExhausted is returned by Enqueue when today's quota is used up.
var ErrQuotaExhausted = errors.New("daily quota exhausted")

// ErrNotActive is returned by Complete when the given id is not the
// currently processing entry.
var ErrNotActive = errors.New("entry is not the active entry")

// AlreadyQueuedError is returned by Enqueue when the session already owns a
// waiting or processing entry. It carries that entry so callers can treat
// the call as a status fetch instead of a hard failure.
type AlreadyQueuedError struct {
	Entry Entry
}

func (e *AlreadyQueuedError) Error() string {
	if e.Entry.Status == StatusProcessing {
		return "session already has an analysis in progress"
	}
	return fmt.Sprintf("session already has an analysis queued at position %d", e.Entry.Position)
}

// Info is a snapshot of the queue and quota state.
type Info struct {
	QueueLength   int           `json:"queue_length"`
	Processing    bool          `json:"is_processing"`
	EstimatedWait time.Duration `json:"-"`
	Quota         QuotaInfo     `json:"daily_quota"`
}

// QuotaInfo is the caller-facing quota snapshot.
type QuotaInfo struct {
	Date      string    `json:"date"`
	Used      int       `json:"used"`
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	Exhausted bool      `json:"is_exhausted"`
	ResetsAt  time.Time `json:"resets_at"`
}

// ETA is an estimated wait for a queue position.
type ETA struct {
	Wait      time.Duration `json:"-"`
	Seconds   int           `json:"wait_seconds"`
	Formatted string        `json:"wait_formatted"`
}
