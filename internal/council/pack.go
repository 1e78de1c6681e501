package council

import "fmt"

// Flashcard is one discrete, user-actionable decision item.
type Flashcard struct {
	ID                string `json:"id"`
	CardType          string `json:"card_type"`
	Title             string `json:"title"`
	Description       string `json:"description"`
	FixAction         string `json:"fix_action"`
	Severity          string `json:"severity"`
	SwipeRightPayload string `json:"swipe_right_payload"`
	SourceAgent       string `json:"source_agent"`
}

// PackSummary counts cards per contributing persona.
type PackSummary struct {
	TotalCards int            `json:"total_cards"`
	ByAgent    map[string]int `json:"by_agent"`
}

// PatchPack is the aggregated deliverable of a council session.
type PatchPack struct {
	Flashcards []Flashcard `json:"flashcards"`
	Summary    PackSummary `json:"summary"`
}

// buildPatchPack merges all personas' verdict cards into one ordered list.
// Persona order is the roster order, so output is deterministic for a given
// set of verdicts. Missing optional fields get safe defaults; every card is
// tagged with its source persona.
func buildPatchPack(personas []Persona, verdicts map[string]Verdict) PatchPack {
	pack := PatchPack{
		Flashcards: []Flashcard{},
		Summary:    PackSummary{ByAgent: make(map[string]int)},
	}

	for _, p := range personas {
		v := verdicts[p.Name]
		pack.Summary.ByAgent[p.Name] = len(v.Cards)

		for _, raw := range v.Cards {
			card := Flashcard{
				ID:                stringField(raw, "id", fmt.Sprintf("%s_%d", p.Name, len(pack.Flashcards))),
				CardType:          stringField(raw, "card_type", "Risk"),
				Title:             stringField(raw, "title", "Untitled"),
				Description:       stringField(raw, "description", ""),
				FixAction:         stringField(raw, "fix_action", ""),
				Severity:          stringField(raw, "severity", "Medium"),
				SwipeRightPayload: stringField(raw, "swipe_right_payload", ""),
				SourceAgent:       p.Name,
			}
			if card.SwipeRightPayload == "" {
				card.SwipeRightPayload = card.FixAction
			}
			pack.Flashcards = append(pack.Flashcards, card)
		}
	}

	pack.Summary.TotalCards = len(pack.Flashcards)
	return pack
}

func stringField(m map[string]any, key, fallback string) string {
	if v, ok := m[key].(string); ok && v != "" {
		return v
	}
	return fallback
}
