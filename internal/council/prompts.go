package council

import (
	"fmt"
	"strings"
)

// draftPrompt asks a persona for its independent first-round analysis of
// the document context.
func draftPrompt(p Persona, domain, context string) string {
	return fmt.Sprintf(
		"Role: You are %s. Focus: %s\n"+
			"Domain: %s\n"+
			"Task: Analyze the provided documents (Contract + Tech Spec).\n"+
			"Output: A list of initial findings (Risks/Gaps).\n"+
			"Format: JSON.\n\n"+
			"=== DOCUMENTS ===\n%s",
		p.Role, p.Focus, domain, context)
}

// crossReviewPrompt asks a persona to refine its draft against peer
// feedback. No document text: later rounds debate the analyses, they do
// not re-read the source.
func crossReviewPrompt(p Persona, domain, ownDraft, peerDrafts string) string {
	return fmt.Sprintf(
		"Role: You are %s.\n"+
			"Domain: %s\n"+
			"Task: Review your initial findings against the opinions of your peers.\n\n"+
			"[YOUR PREVIOUS DRAFT]:\n%s\n\n"+
			"[PEER FEEDBACK]:\n%s\n\n"+
			"Instruction:\n"+
			"- If a peer found a risk you missed, verify it and add it.\n"+
			"- If a peer contradicts you, debate it (or refine your stance).\n"+
			"Output: Updated Draft 2.",
		p.Role, domain, ownDraft, peerDrafts)
}

// verdictPrompt asks a persona to convert its refined analysis into
// discrete, user-actionable flashcards.
func verdictPrompt(p Persona, domain, ownDraft, peerDrafts string) string {
	return fmt.Sprintf(
		"Role: You are %s.\n"+
			"Domain: %s\n"+
			"Task: Finalize your \"Flashcards\" for the user based on your analysis.\n\n"+
			"[YOUR ANALYSIS FROM PREVIOUS ROUNDS]:\n%s\n\n"+
			"[PEER INSIGHTS]:\n%s\n\n"+
			"Instruction: Convert your findings into binary choices for the user "+
			"(Swipe Right to Fix, Left to Ignore). Create 3-5 actionable flashcards.\n\n"+
			"CRITICAL: You MUST output ONLY valid JSON. No explanations, no markdown, "+
			"just the JSON object.\n\n"+
			"REQUIRED OUTPUT FORMAT:\n"+
			`{"flashcards": [{"id": "...", "card_type": "Risk|Gap|Opportunity", `+
			`"title": "...", "description": "...", "fix_action": "...", `+
			`"severity": "Low|Medium|High|Critical", "swipe_right_payload": "..."}]}`,
		p.Role, domain, ownDraft, peerDrafts)
}

// peerContext concatenates the other personas' drafts into the peer-review
// block for one persona.
func peerContext(self Persona, personas []Persona, drafts map[string]string) string {
	var parts []string
	for _, p := range personas {
		if p.Name == self.Name {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s Analysis:\n%s", capitalize(p.Name), drafts[p.Name]))
	}
	return strings.Join(parts, "\n\n")
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// truncateContext bounds first-round document context, marking how much
// was cut.
func truncateContext(context string, maxChars int) string {
	if maxChars <= 0 || len(context) <= maxChars {
		return context
	}
	return context[:maxChars] + fmt.Sprintf("\n\n[...truncated %d characters...]", len(context)-maxChars)
}
