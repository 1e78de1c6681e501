// Package chunker splits oversized document text into overlapping segments
// and condenses them back into a bounded-size extract. A 200-page contract
// would otherwise be truncated at the context limit, losing most of it.
package chunker

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	// DefaultMaxChunkChars keeps each chunk safely inside one generator call.
	DefaultMaxChunkChars = 25000
	// DefaultOverlapChars preserves cross-boundary context between chunks.
	DefaultOverlapChars = 500

	// paraSearchWindow is how far back from a boundary we look for a
	// paragraph break; minChunkChars rejects breaks that would leave a
	// trivially small chunk.
	paraSearchWindow = 2000
	minChunkChars    = 1000

	condenseBatchSize = 3
)

// Split divides text into chunks of at most maxChars characters, snapping
// boundaries to paragraph breaks where possible and overlapping adjacent
// chunks by overlap characters. Text that already fits is returned as a
// single chunk.
func Split(text string, maxChars, overlap int) []string {
	if maxChars <= 0 {
		maxChars = DefaultMaxChunkChars
	}
	if overlap < 0 || overlap >= maxChars {
		overlap = DefaultOverlapChars
	}
	if text == "" {
		return nil
	}
	if len(text) <= maxChars {
		return []string{text}
	}

	var chunks []string
	start := 0

	for start < len(text) {
		end := start + maxChars
		if end < len(text) {
			searchStart := end - paraSearchWindow
			if searchStart < start {
				searchStart = start
			}
			if idx := strings.LastIndex(text[searchStart:end], "\n\n"); idx >= 0 {
				boundary := searchStart + idx
				if boundary > start+minChunkChars {
					end = boundary + 2
				}
			}
		} else {
			end = len(text)
		}

		if chunk := strings.TrimSpace(text[start:end]); chunk != "" {
			chunks = append(chunks, chunk)
		}

		if end >= len(text) {
			break
		}
		next := end - overlap
		if next <= start {
			// Overlap would stall the walk; advance without it.
			next = end
		}
		start = next
	}

	return chunks
}

// Generator is the external text-generation collaborator the condenser
// uses for per-chunk extraction.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Condenser compresses oversized documents via map-reduce extraction:
// split into chunks, extract key content from each chunk through the
// generator, merge the extractions.
type Condenser struct {
	gen        Generator // nil disables extraction; SmartTruncate is used instead
	maxChunk   int
	overlap    int
	batchDelay time.Duration
	logger     *slog.Logger
}

// NewCondenser creates a Condenser. batchDelay spaces out extraction
// batches to stay under the generator's call-rate limit.
func NewCondenser(gen Generator, batchDelay time.Duration) *Condenser {
	return &Condenser{
		gen:        gen,
		maxChunk:   DefaultMaxChunkChars,
		overlap:    DefaultOverlapChars,
		batchDelay: batchDelay,
		logger:     slog.Default(),
	}
}

// Condense returns text reduced to at most maxOutput characters. Text that
// already fits is returned unchanged. Each chunk extraction degrades to a
// raw head+tail excerpt on failure rather than dropping the chunk; with no
// generator at all the deterministic SmartTruncate fallback is used.
func (c *Condenser) Condense(ctx context.Context, text string, maxOutput int, purpose string) string {
	if maxOutput <= 0 || len(text) <= maxOutput {
		return text
	}

	if c.gen == nil {
		c.logger.Warn("generator unavailable for condensation, using smart truncation")
		return SmartTruncate(text, maxOutput)
	}

	chunks := Split(text, c.maxChunk, c.overlap)
	if len(chunks) <= 1 {
		return text[:maxOutput]
	}

	c.logger.Info("condensing large document",
		"chars", len(text), "chunks", len(chunks), "target", maxOutput)

	extractions := make([]string, len(chunks))
	for i := 0; i < len(chunks); i += condenseBatchSize {
		if i > 0 && c.batchDelay > 0 {
			select {
			case <-ctx.Done():
				return SmartTruncate(text, maxOutput)
			case <-time.After(c.batchDelay):
			}
		}

		end := i + condenseBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}

		g, gCtx := errgroup.WithContext(ctx)
		for j := i; j < end; j++ {
			j := j
			g.Go(func() error {
				extractions[j] = c.extractChunk(gCtx, chunks[j], j, len(chunks), purpose)
				return nil
			})
		}
		g.Wait()
	}

	var sections []string
	for i, s := range extractions {
		if s == "" {
			continue
		}
		sections = append(sections, fmt.Sprintf("=== Section %d/%d ===\n%s", i+1, len(extractions), s))
	}
	condensed := strings.Join(sections, "\n\n")

	if len(condensed) > maxOutput {
		condensed = condensed[:maxOutput] + "\n\n[Document condensed from original via map-reduce extraction]"
	}

	c.logger.Info("document condensed", "from", len(text), "to", len(condensed))
	return condensed
}

// extractChunk asks the generator for a structured extraction of one chunk.
// On failure it returns a head+tail excerpt so the chunk still contributes.
func (c *Condenser) extractChunk(ctx context.Context, chunk string, idx, total int, purpose string) string {
	prompt := fmt.Sprintf(
		"You are a document analyst preparing content for %s.\n"+
			"This is section %d of %d from a large document.\n\n"+
			"TASK: Extract and preserve ALL of the following from this section:\n"+
			"- Specific requirements, obligations, and commitments\n"+
			"- Financial terms, dates, deadlines, and SLAs\n"+
			"- Legal clauses, liability terms, and penalties\n"+
			"- Technical specifications and architecture decisions\n"+
			"- Any ambiguous or concerning language\n\n"+
			"Preserve EXACT QUOTES for important clauses. Be thorough. Do not summarize.\n"+
			"Output a structured extraction, NOT a summary.\n\n"+
			"--- SECTION %d/%d ---\n%s",
		purpose, idx+1, total, idx+1, total, chunk)

	out, err := c.gen.Generate(ctx, prompt)
	if err != nil {
		c.logger.Warn("chunk extraction failed", "chunk", idx+1, "error", err)
		head := chunk
		if len(head) > 3000 {
			head = head[:3000]
		}
		tail := chunk
		if len(tail) > 1000 {
			tail = tail[len(tail)-1000:]
		}
		return head + "\n...[extraction failed]...\n" + tail
	}
	return strings.TrimSpace(out)
}

// SmartTruncate keeps 50% of the budget from the head (definitions and
// context), 20% from the middle, and 30% from the tail (conclusions and
// signatures), which carry most of a contract's information density.
func SmartTruncate(text string, maxChars int) string {
	if len(text) <= maxChars {
		return text
	}

	headSize := maxChars * 50 / 100
	midSize := maxChars * 20 / 100
	tailSize := maxChars * 30 / 100

	midStart := (len(text) - midSize) / 2

	head := text[:headSize]
	middle := text[midStart : midStart+midSize]
	tail := text[len(text)-tailSize:]

	return head +
		fmt.Sprintf("\n\n[...%d characters omitted (beginning section)...]\n\n", len(text)-maxChars) +
		middle +
		"\n\n[...omitted (middle section)...]\n\n" +
		tail
}
