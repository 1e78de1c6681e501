// Package council runs the multi-round consensus workflow: independent
// drafts, cross-review, verdicts, aggregation. Each stage fans out to every
// persona in parallel and joins before the next stage starts. A single
// flaky reviewer must not sink a whole audit, so every stage degrades
// (carry forward prior data, empty card lists, error annotations) instead
// of aborting.
package council

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kalambet/specgap/internal/safeparse"
)

// Stage names a coarse workflow phase, reported through OnStage.
type Stage string

const (
	StageDrafting    Stage = "drafting"
	StageCrossReview Stage = "cross-reviewing"
	StageVerdict     Stage = "deciding"
	StageAggregating Stage = "aggregating"
)

// Round indices select the generator API key for a stage.
const (
	roundDraft = iota
	roundCrossReview
	roundVerdict
)

// Generator is the external text-generation collaborator. The round index
// lets the implementation rotate API keys per round.
type Generator interface {
	GenerateForRound(ctx context.Context, round int, prompt string) (string, error)
}

// Input seeds a council session.
type Input struct {
	Context string // condensed document text
	Domain  string
}

// Verdict is one persona's final-round output.
type Verdict struct {
	Cards []map[string]any
	Err   string // non-empty when the call or extraction failed
}

// State is the workflow's working memory. It is owned exclusively by one
// workflow execution and never shared across concurrent audits.
type State struct {
	Context string
	Domain  string

	Round1Drafts map[string]string
	Round2Drafts map[string]string
	Verdicts     map[string]Verdict
	Pack         PatchPack

	// Errors records first-round failures per persona. Later rounds
	// degrade to carried-forward data instead of recording new errors.
	Errors map[string]string
}

// Options tunes a Workflow. Zero fields take defaults; Sleep exists so
// tests can skip real backoff waits.
type Options struct {
	Personas        []Persona
	MaxRetries      int
	RetryDelay      time.Duration // grows with attempt number
	RateLimitDelay  time.Duration // fixed cool-down after quota/rate failures
	MaxContextChars int
	OnStage         func(Stage)
	Sleep           func(ctx context.Context, d time.Duration) error
}

// Workflow is the fixed 4-stage consensus engine.
type Workflow struct {
	gen    Generator
	opts   Options
	logger *slog.Logger
}

// New creates a Workflow around the given generator.
func New(gen Generator, opts Options) *Workflow {
	if len(opts.Personas) == 0 {
		opts.Personas = DefaultPersonas()
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 15 * time.Second
	}
	if opts.RateLimitDelay <= 0 {
		opts.RateLimitDelay = 60 * time.Second
	}
	if opts.MaxContextChars <= 0 {
		opts.MaxContextChars = 100000
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepCtx
	}
	return &Workflow{gen: gen, opts: opts, logger: slog.Default()}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// Run executes all four stages in order and returns the final state. The
// stage order is deterministic; the only non-determinism is the content the
// generator returns.
func (w *Workflow) Run(ctx context.Context, in Input) *State {
	state := &State{
		Context:      in.Context,
		Domain:       in.Domain,
		Round1Drafts: make(map[string]string),
		Round2Drafts: make(map[string]string),
		Verdicts:     make(map[string]Verdict),
		Errors:       make(map[string]string),
	}
	if state.Domain == "" {
		state.Domain = "Software Engineering"
	}

	w.stage(StageDrafting)
	w.runDraftRound(ctx, state)

	w.stage(StageCrossReview)
	w.runCrossReviewRound(ctx, state)

	w.stage(StageVerdict)
	w.runVerdictRound(ctx, state)

	w.stage(StageAggregating)
	state.Pack = buildPatchPack(w.opts.Personas, state.Verdicts)

	w.logger.Info("patch pack generated",
		"total_cards", state.Pack.Summary.TotalCards, "by_agent", state.Pack.Summary.ByAgent)
	return state
}

func (w *Workflow) stage(s Stage) {
	w.logger.Info("council stage", "stage", string(s))
	if w.opts.OnStage != nil {
		w.opts.OnStage(s)
	}
}

// fanOut runs one generator call per persona concurrently and joins. The
// stage never proceeds with partial results: every persona has either an
// output or an error once fanOut returns.
func (w *Workflow) fanOut(ctx context.Context, round int, prompts map[string]string) (map[string]string, map[string]error) {
	outputs := make([]string, len(w.opts.Personas))
	failures := make([]error, len(w.opts.Personas))

	g, gCtx := errgroup.WithContext(ctx)
	for i, p := range w.opts.Personas {
		i, p := i, p
		g.Go(func() error {
			out, err := w.callWithRetry(gCtx, round, p.Name, prompts[p.Name])
			outputs[i] = out
			failures[i] = err
			return nil
		})
	}
	g.Wait()

	outMap := make(map[string]string, len(w.opts.Personas))
	errMap := make(map[string]error, len(w.opts.Personas))
	for i, p := range w.opts.Personas {
		outMap[p.Name] = outputs[i]
		if failures[i] != nil {
			errMap[p.Name] = failures[i]
		}
	}
	return outMap, errMap
}

// callWithRetry issues one persona call with local retries. The delay grows
// with the attempt number; quota/rate-limit failures add a longer fixed
// cool-down. Retries are local to this one call and never reset peers.
func (w *Workflow) callWithRetry(ctx context.Context, round int, persona, prompt string) (string, error) {
	var lastErr error
	for attempt := 0; attempt < w.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := w.opts.RetryDelay * time.Duration(attempt+1)
			w.logger.Info("retrying persona call", "persona", persona, "attempt", attempt+1, "delay", delay)
			if err := w.opts.Sleep(ctx, delay); err != nil {
				return "", err
			}
		}

		out, err := w.gen.GenerateForRound(ctx, round, prompt)
		if err == nil {
			w.logger.Info("persona call completed", "persona", persona, "round", round, "chars", len(out))
			return strings.TrimSpace(out), nil
		}

		lastErr = err
		w.logger.Warn("persona call failed", "persona", persona, "round", round, "attempt", attempt+1, "error", err)

		if isRateLimited(err) && attempt < w.opts.MaxRetries-1 {
			w.logger.Info("rate limited, cooling down", "persona", persona, "delay", w.opts.RateLimitDelay)
			if serr := w.opts.Sleep(ctx, w.opts.RateLimitDelay); serr != nil {
				return "", serr
			}
		}
	}
	w.logger.Error("all retries exhausted", "persona", persona, "round", round, "error", lastErr)
	return "", lastErr
}

func isRateLimited(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "quota") || strings.Contains(msg, "rate")
}

// runDraftRound fans out the independent first drafts. Only this round
// sees the document context. A failed persona gets an error placeholder
// draft plus an entry in the error map; its peers are unaffected.
func (w *Workflow) runDraftRound(ctx context.Context, state *State) {
	docContext := truncateContext(state.Context, w.opts.MaxContextChars)

	prompts := make(map[string]string, len(w.opts.Personas))
	for _, p := range w.opts.Personas {
		prompts[p.Name] = draftPrompt(p, state.Domain, docContext)
	}

	outputs, failures := w.fanOut(ctx, roundDraft, prompts)
	for _, p := range w.opts.Personas {
		if err, ok := failures[p.Name]; ok {
			state.Round1Drafts[p.Name] = "Error: " + err.Error()
			state.Errors[p.Name] = err.Error()
			continue
		}
		state.Round1Drafts[p.Name] = outputs[p.Name]
	}
}

// runCrossReviewRound fans out refinement calls built from each persona's
// own draft plus its peers' drafts. A failed persona keeps its round-1
// draft rather than losing it.
func (w *Workflow) runCrossReviewRound(ctx context.Context, state *State) {
	prompts := make(map[string]string, len(w.opts.Personas))
	for _, p := range w.opts.Personas {
		peers := peerContext(p, w.opts.Personas, state.Round1Drafts)
		prompts[p.Name] = crossReviewPrompt(p, state.Domain, state.Round1Drafts[p.Name], peers)
	}

	outputs, failures := w.fanOut(ctx, roundCrossReview, prompts)
	for _, p := range w.opts.Personas {
		if _, ok := failures[p.Name]; ok {
			state.Round2Drafts[p.Name] = state.Round1Drafts[p.Name]
			continue
		}
		state.Round2Drafts[p.Name] = outputs[p.Name]
	}
}

// runVerdictRound fans out the flashcard-generation calls and extracts
// each raw response. A persona whose call or extraction fails contributes
// an empty card list plus its error, never a workflow abort.
func (w *Workflow) runVerdictRound(ctx context.Context, state *State) {
	prompts := make(map[string]string, len(w.opts.Personas))
	for _, p := range w.opts.Personas {
		peers := peerContext(p, w.opts.Personas, state.Round2Drafts)
		prompts[p.Name] = verdictPrompt(p, state.Domain, state.Round2Drafts[p.Name], peers)
	}

	outputs, failures := w.fanOut(ctx, roundVerdict, prompts)
	for _, p := range w.opts.Personas {
		if err, ok := failures[p.Name]; ok {
			state.Verdicts[p.Name] = Verdict{Err: err.Error()}
			continue
		}
		state.Verdicts[p.Name] = parseVerdict(outputs[p.Name], p.Name)
	}
}

// parseVerdict runs the structured-output extractor over one persona's raw
// verdict text.
func parseVerdict(raw, persona string) Verdict {
	res := safeparse.Parse(raw, "flashcards")
	if res.Failed() {
		slog.Warn("verdict extraction failed", "persona", persona, "error", res.ErrorMessage)
		return Verdict{Err: res.ErrorMessage}
	}

	var cards []map[string]any
	if list, ok := res.Data["flashcards"].([]any); ok {
		for _, item := range list {
			if m, ok := item.(map[string]any); ok {
				cards = append(cards, m)
			}
		}
	}
	slog.Info("verdict parsed", "persona", persona, "cards", len(cards), "warning", res.Warning)
	return Verdict{Cards: cards}
}
