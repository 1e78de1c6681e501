// Package audit orchestrates one admitted analysis end to end: admission
// through the queue, condensation of oversized documents, the council
// workflow, completion accounting, and persistence of the deliverable.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kalambet/specgap/internal/chunker"
	"github.com/kalambet/specgap/internal/council"
	"github.com/kalambet/specgap/internal/queue"
	"github.com/kalambet/specgap/internal/storage"
)

const condensePurpose = "multi-agent council analysis"

// Coarse stage names exposed to callers polling an audit.
const (
	StageQueued = "queued"
	StageDone   = "done"
	StageFailed = "failed"
)

// Sink accepts finished deliverables for later retrieval. Persistence
// failures are non-fatal: the service logs and moves on.
type Sink interface {
	SaveAudit(a storage.Audit) error
}

// Options wires a Service.
type Options struct {
	Queue     *queue.Manager
	Condenser *chunker.Condenser
	Generator council.Generator
	Council   council.Options
	Sink      Sink // optional

	MaxContextChars int           // condensation target; 0 = 100000
	Timeout         time.Duration // per-audit processing budget; 0 = 180s
	PollInterval    time.Duration // queue poll cadence; 0 = 500ms
	Retention       time.Duration // finished results kept pollable; 0 = 5m
	Now             func() time.Time
}

// Status is the caller-facing view of one audit.
type Status struct {
	Entry queue.Entry        `json:"entry"`
	Stage string             `json:"stage"`
	Pack  *council.PatchPack `json:"patch_pack,omitempty"`
	Error string             `json:"error,omitempty"`
}

type submission struct {
	document string
	domain   string
}

type outcome struct {
	pack       *council.PatchPack
	err        string
	finishedAt time.Time
}

// Service owns submitted audits and runs the one admitted audit at a time.
type Service struct {
	queue     *queue.Manager
	condenser *chunker.Condenser
	workflow  *council.Workflow
	sink      Sink

	maxContext int
	timeout    time.Duration
	poll       time.Duration
	retention  time.Duration
	now        func() time.Time
	logger     *slog.Logger

	mu       sync.Mutex
	pending  map[string]submission // entry id -> parked document payload
	stages   map[string]council.Stage
	outcomes map[string]outcome
}

// NewService creates a Service. The council workflow is constructed here so
// the service can observe stage transitions of the running audit.
func NewService(opts Options) *Service {
	s := &Service{
		queue:      opts.Queue,
		condenser:  opts.Condenser,
		sink:       opts.Sink,
		maxContext: opts.MaxContextChars,
		timeout:    opts.Timeout,
		poll:       opts.PollInterval,
		retention:  opts.Retention,
		now:        opts.Now,
		logger:     slog.Default(),
		pending:    make(map[string]submission),
		stages:     make(map[string]council.Stage),
		outcomes:   make(map[string]outcome),
	}
	if s.maxContext <= 0 {
		s.maxContext = 100000
	}
	if s.timeout <= 0 {
		s.timeout = 180 * time.Second
	}
	if s.poll <= 0 {
		s.poll = 500 * time.Millisecond
	}
	if s.retention <= 0 {
		s.retention = 5 * time.Minute
	}
	if s.now == nil {
		s.now = time.Now
	}

	councilOpts := opts.Council
	councilOpts.OnStage = s.trackStage
	s.workflow = council.New(opts.Generator, councilOpts)
	return s
}

// trackStage records the workflow stage of the running audit. Only one
// audit holds the in-flight slot, so the stages map has at most one entry
// while this fires.
func (s *Service) trackStage(stage council.Stage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range s.stages {
		s.stages[id] = stage
	}
}

// Submit requests admission for a new audit. When the session already owns
// a live entry, that entry is returned with a *queue.AlreadyQueuedError so
// callers can present it as a status fetch.
func (s *Service) Submit(sessionID, document, domain string) (queue.Entry, queue.ETA, error) {
	entry, err := s.queue.Enqueue(sessionID)
	if err != nil {
		return entry, s.queue.PositionETA(entry.Position), err
	}

	s.mu.Lock()
	s.pending[entry.ID] = submission{document: document, domain: domain}
	s.mu.Unlock()

	return entry, s.queue.PositionETA(entry.Position), nil
}

// Cancel withdraws a still-waiting audit owned by the session.
func (s *Service) Cancel(entryID, sessionID string) bool {
	ok := s.queue.Cancel(entryID, sessionID)
	if ok {
		s.mu.Lock()
		delete(s.pending, entryID)
		s.mu.Unlock()
	}
	return ok
}

// sweepOutcomes drops finished results older than the retention window,
// mirroring the queue's purge of its own terminal entries. Without this the
// outcomes map would keep every patch pack the service ever produced.
func (s *Service) sweepOutcomes() {
	threshold := s.now().Add(-s.retention)

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, out := range s.outcomes {
		if out.finishedAt.Before(threshold) {
			delete(s.outcomes, id)
			delete(s.stages, id)
			delete(s.pending, id)
		}
	}
}

// Status reports an audit's queue position, coarse stage, and, once
// finished, the deliverable or error.
func (s *Service) Status(entryID string) (Status, bool) {
	s.sweepOutcomes()
	entry, ok := s.queue.Status(entryID)
	if !ok {
		// The queue has purged the entry; drop our leftovers too.
		s.mu.Lock()
		delete(s.outcomes, entryID)
		delete(s.stages, entryID)
		delete(s.pending, entryID)
		s.mu.Unlock()
		return Status{}, false
	}

	st := Status{Entry: entry, Error: entry.ErrorMessage}

	switch {
	case entry.Status == queue.StatusWaiting:
		st.Stage = StageQueued
	case entry.Status == queue.StatusProcessing:
		s.mu.Lock()
		stage := s.stages[entryID]
		s.mu.Unlock()
		if stage == "" {
			stage = council.StageDrafting
		}
		st.Stage = string(stage)
	case entry.Status == queue.StatusCompleted:
		st.Stage = StageDone
	default:
		st.Stage = StageFailed
	}

	s.mu.Lock()
	if out, ok := s.outcomes[entryID]; ok {
		st.Pack = out.pack
		if out.err != "" {
			st.Error = out.err
		}
	}
	s.mu.Unlock()

	return st, true
}

// SessionStatus is Status keyed by session instead of entry id.
func (s *Service) SessionStatus(sessionID string) (Status, bool) {
	entry, ok := s.queue.SessionStatus(sessionID)
	if !ok {
		return Status{}, false
	}
	return s.Status(entry.ID)
}

// Run polls the queue for admitted audits until ctx is cancelled.
func (s *Service) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		if done := s.RunOnce(ctx); done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(s.poll):
		}
	}
}

// RunOnce admits and processes a single audit if one is waiting. Returns
// true when an audit was processed.
func (s *Service) RunOnce(ctx context.Context) bool {
	s.sweepOutcomes()

	entry, ok := s.queue.Next()
	if !ok {
		return false
	}
	s.process(ctx, entry)
	return true
}

// process runs one admitted audit to completion. Per-reviewer failures are
// already absorbed by the workflow; the recover here is the last line of
// defense that turns an escaped panic into the entry's error message
// instead of a dead slot.
func (s *Service) process(ctx context.Context, entry queue.Entry) {
	start := time.Now()

	s.mu.Lock()
	sub, hasPayload := s.pending[entry.ID]
	delete(s.pending, entry.ID)
	s.stages[entry.ID] = council.StageDrafting
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.stages, entry.ID)
		s.mu.Unlock()

		if r := recover(); r != nil {
			msg := fmt.Sprintf("internal error: %v", r)
			s.logger.Error("audit panicked", "entry_id", entry.ID, "panic", r)
			s.recordFailure(entry, sub.domain, msg, start)
		}
	}()

	if !hasPayload {
		s.recordFailure(entry, "", "submission payload missing", start)
		return
	}

	runCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	s.logger.Info("audit started", "entry_id", entry.ID, "session_id", entry.SessionID,
		"domain", sub.domain, "chars", len(sub.document))

	condensed := s.condenser.Condense(runCtx, sub.document, s.maxContext, condensePurpose)

	state := s.workflow.Run(runCtx, council.Input{Context: condensed, Domain: sub.domain})

	pack := state.Pack
	s.mu.Lock()
	s.outcomes[entry.ID] = outcome{pack: &pack, finishedAt: s.now()}
	s.mu.Unlock()

	// Partial results beat a hard failure: the audit succeeds as long as
	// the workflow ran, even with per-reviewer errors recorded.
	if err := s.queue.Complete(entry.ID, true, ""); err != nil {
		// Most likely reclaimed as timed out while we were still running.
		s.logger.Warn("complete rejected", "entry_id", entry.ID, "error", err)
	}

	s.persist(entry, sub.domain, &pack, "", time.Since(start))
	s.logger.Info("audit finished", "entry_id", entry.ID,
		"cards", pack.Summary.TotalCards, "duration", time.Since(start))
}

func (s *Service) recordFailure(entry queue.Entry, domain, msg string, start time.Time) {
	s.mu.Lock()
	s.outcomes[entry.ID] = outcome{err: msg, finishedAt: s.now()}
	s.mu.Unlock()

	if err := s.queue.Complete(entry.ID, false, msg); err != nil {
		s.logger.Warn("complete rejected", "entry_id", entry.ID, "error", err)
	}
	s.persist(entry, domain, nil, msg, time.Since(start))
}

// persist hands the finished audit to the sink. Failures are logged and
// swallowed: losing the history record must not fail the audit.
func (s *Service) persist(entry queue.Entry, domain string, pack *council.PatchPack, errMsg string, took time.Duration) {
	if s.sink == nil {
		return
	}

	a := storage.Audit{
		ID:           entry.ID,
		SessionID:    entry.SessionID,
		Domain:       domain,
		Status:       "completed",
		ErrorMessage: errMsg,
		DurationMs:   took.Milliseconds(),
		CreatedAt:    time.Now().UTC(),
	}
	if errMsg != "" {
		a.Status = "failed"
	}
	if pack != nil {
		a.TotalCards = pack.Summary.TotalCards
		if data, err := json.Marshal(pack); err == nil {
			a.PackJSON = string(data)
		}
	}

	if err := s.sink.SaveAudit(a); err != nil {
		s.logger.Warn("persisting audit failed", "entry_id", entry.ID, "error", err)
	}
}
