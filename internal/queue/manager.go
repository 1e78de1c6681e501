// Package queue serializes access to the downstream analysis capacity.
//
// One global in-flight slot, a FIFO wait list with one live entry per
// session, a daily quota, and timeout reclamation for wedged analyses. All
// state lives behind a single mutex: position numbering, quota charging,
// and slot occupancy must be observed and mutated together.
package queue

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	defaultTimeout     = 180 * time.Second
	defaultAvgDuration = 90 * time.Second
	defaultRetention   = 5 * time.Minute
	defaultDailyLimit  = 6
)

// Options configures a Manager. Zero fields take the defaults above; Now
// defaults to time.Now and exists so tests can control the clock.
type Options struct {
	Now         func() time.Time
	Timeout     time.Duration // max wall-clock time for a processing entry
	AvgDuration time.Duration // assumed analysis duration for ETA math
	Retention   time.Duration // how long terminal entries stay pollable
	DailyLimit  int
	Charge      ChargePolicy
}

// Manager is the admission controller.
type Manager struct {
	mu        sync.Mutex
	waiting   []*Entry
	active    *Entry
	completed map[string]*Entry // entry id -> terminal entry
	sessions  map[string]string // session id -> live or recent entry id
	quota     Quota
	opts      Options
	logger    *slog.Logger
}

// NewManager creates a Manager with the given options.
func NewManager(opts Options) *Manager {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.AvgDuration <= 0 {
		opts.AvgDuration = defaultAvgDuration
	}
	if opts.Retention <= 0 {
		opts.Retention = defaultRetention
	}
	if opts.DailyLimit <= 0 {
		opts.DailyLimit = defaultDailyLimit
	}
	m := &Manager{
		completed: make(map[string]*Entry),
		sessions:  make(map[string]string),
		opts:      opts,
		logger:    slog.Default(),
	}
	m.quota = Quota{Date: m.today(), Limit: opts.DailyLimit}
	return m
}

func (m *Manager) today() string {
	return m.opts.Now().UTC().Format("2006-01-02")
}

// resetQuotaIfNewDay rolls the quota over when the UTC day has changed.
// Detection is lazy, on the next call that cares about quota.
func (m *Manager) resetQuotaIfNewDay() {
	today := m.today()
	if m.quota.Date != today {
		m.logger.Info("new day detected, resetting quota", "old", m.quota.Date, "new", today)
		m.quota = Quota{Date: today, Limit: m.opts.DailyLimit}
	}
}

// cleanupStale times out a wedged active entry and purges old terminal
// entries. Caller must hold the mutex.
func (m *Manager) cleanupStale() {
	now := m.opts.Now().UTC()

	if m.active != nil && !m.active.StartedAt.IsZero() {
		elapsed := now.Sub(m.active.StartedAt)
		if elapsed > m.opts.Timeout {
			m.logger.Warn("active entry timed out", "entry_id", m.active.ID, "elapsed", elapsed)
			m.active.Status = StatusTimeout
			m.active.CompletedAt = now
			m.active.ErrorMessage = "analysis timed out"
			m.completed[m.active.ID] = m.active
			delete(m.sessions, m.active.SessionID)
			m.active = nil
		}
	}

	threshold := now.Add(-m.opts.Retention)
	for id, e := range m.completed {
		if !e.CompletedAt.IsZero() && e.CompletedAt.Before(threshold) {
			delete(m.completed, id)
		}
	}
}

func (m *Manager) updatePositions() {
	for i, e := range m.waiting {
		e.Position = i + 1
	}
}

// liveEntry returns the session's waiting or processing entry, if any.
// Caller must hold the mutex.
func (m *Manager) liveEntry(sessionID string) *Entry {
	id, ok := m.sessions[sessionID]
	if !ok {
		return nil
	}
	if m.active != nil && m.active.ID == id {
		return m.active
	}
	for _, e := range m.waiting {
		if e.ID == id {
			return e
		}
	}
	return nil
}

// Enqueue appends a new waiting entry for the session. When the session
// already owns a live entry, that entry is returned together with an
// *AlreadyQueuedError so the caller can present it as a status fetch.
func (m *Manager) Enqueue(sessionID string) (Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.resetQuotaIfNewDay()
	m.cleanupStale()

	if m.quota.Exhausted() {
		return Entry{}, fmt.Errorf("%w (%d/%d), resets at midnight UTC",
			ErrQuotaExhausted, m.quota.Used, m.quota.Limit)
	}

	if live := m.liveEntry(sessionID); live != nil {
		return *live, &AlreadyQueuedError{Entry: *live}
	}
	// Stale mapping from a terminal entry; the session may queue again.
	delete(m.sessions, sessionID)

	e := &Entry{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Status:    StatusWaiting,
		CreatedAt: m.opts.Now().UTC(),
	}
	m.waiting = append(m.waiting, e)
	m.sessions[sessionID] = e.ID
	m.updatePositions()

	m.logger.Info("enqueued", "entry_id", e.ID, "session_id", sessionID, "position", e.Position)
	return *e, nil
}

// Next pops the head of the queue and marks it processing. It returns false
// when an entry is already processing or the queue is empty.
func (m *Manager) Next() (Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cleanupStale()

	if m.active != nil || len(m.waiting) == 0 {
		return Entry{}, false
	}

	e := m.waiting[0]
	m.waiting = m.waiting[1:]
	e.Status = StatusProcessing
	e.StartedAt = m.opts.Now().UTC()
	e.Position = 0
	m.active = e
	m.updatePositions()

	m.logger.Info("processing started", "entry_id", e.ID)
	return *e, true
}

// Complete finishes the currently processing entry, charges the quota per
// the configured policy, and frees the in-flight slot. errMsg is recorded
// on the entry when non-empty.
func (m *Manager) Complete(id string, success bool, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.resetQuotaIfNewDay()

	if m.active == nil || m.active.ID != id {
		return fmt.Errorf("complete %s: %w", id, ErrNotActive)
	}

	e := m.active
	if success {
		e.Status = StatusCompleted
	} else {
		e.Status = StatusFailed
	}
	e.CompletedAt = m.opts.Now().UTC()
	e.ErrorMessage = errMsg

	if m.opts.Charge == ChargeOnCompletion || success {
		m.quota.Used++
	}

	m.completed[id] = e
	delete(m.sessions, e.SessionID)
	m.active = nil

	m.logger.Info("completed", "entry_id", id, "success", success,
		"quota_used", m.quota.Used, "quota_limit", m.quota.Limit)
	return nil
}

// Cancel removes a still-waiting entry owned by the session. Processing
// entries cannot be cancelled, only timed out.
func (m *Manager) Cancel(id, sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cleanupStale()

	if m.active != nil && m.active.ID == id {
		return false
	}

	for i, e := range m.waiting {
		if e.ID == id && e.SessionID == sessionID {
			e.Status = StatusCancelled
			e.CompletedAt = m.opts.Now().UTC()
			e.Position = 0
			m.waiting = append(m.waiting[:i], m.waiting[i+1:]...)
			m.completed[id] = e
			delete(m.sessions, sessionID)
			m.updatePositions()
			m.logger.Info("cancelled", "entry_id", id)
			return true
		}
	}
	return false
}

// Status returns the entry with the given id, whether waiting, processing,
// or recently finished.
func (m *Manager) Status(id string) (Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cleanupStale()
	return m.statusLocked(id)
}

func (m *Manager) statusLocked(id string) (Entry, bool) {
	if m.active != nil && m.active.ID == id {
		return *m.active, true
	}
	for _, e := range m.waiting {
		if e.ID == id {
			return *e, true
		}
	}
	if e, ok := m.completed[id]; ok {
		return *e, true
	}
	return Entry{}, false
}

// SessionStatus returns the entry currently associated with the session.
func (m *Manager) SessionStatus(sessionID string) (Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cleanupStale()

	id, ok := m.sessions[sessionID]
	if !ok {
		return Entry{}, false
	}
	return m.statusLocked(id)
}

// Info returns a queue and quota snapshot, independent of any entry.
func (m *Manager) Info() Info {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.resetQuotaIfNewDay()
	m.cleanupStale()

	day, _ := time.Parse("2006-01-02", m.quota.Date)
	return Info{
		QueueLength:   len(m.waiting),
		Processing:    m.active != nil,
		EstimatedWait: time.Duration(len(m.waiting)) * m.opts.AvgDuration,
		Quota: QuotaInfo{
			Date:      m.quota.Date,
			Used:      m.quota.Used,
			Limit:     m.quota.Limit,
			Remaining: m.quota.Remaining(),
			Exhausted: m.quota.Exhausted(),
			ResetsAt:  day.AddDate(0, 0, 1),
		},
	}
}

// PositionETA estimates the wait for a queue position: the in-flight
// entry's remaining time (estimated against the average duration) plus one
// average duration per entry ahead in line.
func (m *Manager) PositionETA(position int) ETA {
	m.mu.Lock()
	defer m.mu.Unlock()

	if position <= 0 {
		return ETA{Formatted: "Now"}
	}

	var base time.Duration
	if m.active != nil && !m.active.StartedAt.IsZero() {
		elapsed := m.opts.Now().UTC().Sub(m.active.StartedAt)
		if remaining := m.opts.AvgDuration - elapsed; remaining > 0 {
			base = remaining
		}
	}

	total := base + time.Duration(position-1)*m.opts.AvgDuration
	return ETA{
		Wait:      total,
		Seconds:   int(total.Seconds()),
		Formatted: formatWait(total),
	}
}

func formatWait(d time.Duration) string {
	total := int(d.Seconds())
	minutes := total / 60
	seconds := total % 60
	if minutes > 0 {
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}
