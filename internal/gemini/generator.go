package gemini

import "context"

// Generator binds a Client to its key ring. It satisfies the narrow
// generator interfaces declared by the chunker and council packages.
type Generator struct {
	Client *Client
	Keys   Keys
}

// Generate issues a prompt using the primary key.
func (g *Generator) Generate(ctx context.Context, prompt string) (string, error) {
	return g.Client.GenerateContent(ctx, g.Keys.Primary, prompt)
}

// GenerateForRound issues a prompt using the key assigned to the given
// zero-based council round.
func (g *Generator) GenerateForRound(ctx context.Context, round int, prompt string) (string, error) {
	return g.Client.GenerateContent(ctx, g.Keys.ForRound(round), prompt)
}
