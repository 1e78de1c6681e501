package council

import "testing"

func TestBuildPatchPack_FillsDefaults(t *testing.T) {
	personas := DefaultPersonas()
	verdicts := map[string]Verdict{
		"legal": {Cards: []map[string]any{
			{"description": "no id, type, title or severity"},
		}},
	}

	pack := buildPatchPack(personas, verdicts)
	if len(pack.Flashcards) != 1 {
		t.Fatalf("got %d cards, want 1", len(pack.Flashcards))
	}

	card := pack.Flashcards[0]
	if card.ID != "legal_0" {
		t.Errorf("id = %q, want legal_0", card.ID)
	}
	if card.CardType != "Risk" {
		t.Errorf("card_type = %q, want Risk", card.CardType)
	}
	if card.Title != "Untitled" {
		t.Errorf("title = %q, want Untitled", card.Title)
	}
	if card.Severity != "Medium" {
		t.Errorf("severity = %q, want Medium", card.Severity)
	}
	if card.SourceAgent != "legal" {
		t.Errorf("source_agent = %q, want legal", card.SourceAgent)
	}
}

func TestBuildPatchPack_SwipePayloadFallsBackToFixAction(t *testing.T) {
	personas := DefaultPersonas()
	verdicts := map[string]Verdict{
		"finance": {Cards: []map[string]any{
			{"title": "Late fees", "fix_action": "Cap late fees at 2%"},
		}},
	}

	pack := buildPatchPack(personas, verdicts)
	if got := pack.Flashcards[0].SwipeRightPayload; got != "Cap late fees at 2%" {
		t.Errorf("swipe payload = %q, want the fix action", got)
	}
}

func TestBuildPatchPack_RosterOrderIsDeterministic(t *testing.T) {
	personas := DefaultPersonas()
	verdicts := map[string]Verdict{
		"finance":  {Cards: []map[string]any{{"title": "F"}}},
		"legal":    {Cards: []map[string]any{{"title": "L"}}},
		"business": {Cards: []map[string]any{{"title": "B"}}},
	}

	pack := buildPatchPack(personas, verdicts)
	want := []string{"L", "B", "F"}
	for i, title := range want {
		if pack.Flashcards[i].Title != title {
			t.Errorf("card %d title = %q, want %q", i, pack.Flashcards[i].Title, title)
		}
	}
}

func TestBuildPatchPack_GeneratedIDsAreUniqueAcrossPersonas(t *testing.T) {
	personas := DefaultPersonas()
	verdicts := map[string]Verdict{
		"legal":    {Cards: []map[string]any{{"title": "a"}, {"title": "b"}}},
		"business": {Cards: []map[string]any{{"title": "c"}}},
	}

	pack := buildPatchPack(personas, verdicts)
	seen := map[string]bool{}
	for _, card := range pack.Flashcards {
		if seen[card.ID] {
			t.Errorf("duplicate card id %q", card.ID)
		}
		seen[card.ID] = true
	}
}

func TestBuildPatchPack_SummaryCounts(t *testing.T) {
	personas := DefaultPersonas()
	verdicts := map[string]Verdict{
		"legal":    {Cards: []map[string]any{{"title": "a"}, {"title": "b"}}},
		"business": {Err: "never answered"},
		"finance":  {Cards: []map[string]any{{"title": "c"}}},
	}

	pack := buildPatchPack(personas, verdicts)
	if pack.Summary.TotalCards != 3 {
		t.Errorf("total = %d, want 3", pack.Summary.TotalCards)
	}
	if pack.Summary.ByAgent["legal"] != 2 {
		t.Errorf("legal count = %d, want 2", pack.Summary.ByAgent["legal"])
	}
	if pack.Summary.ByAgent["business"] != 0 {
		t.Errorf("business count = %d, want 0", pack.Summary.ByAgent["business"])
	}
}

func TestBuildPatchPack_EmptyVerdicts(t *testing.T) {
	pack := buildPatchPack(DefaultPersonas(), map[string]Verdict{})
	if pack.Flashcards == nil {
		t.Error("flashcards is nil, want empty slice for JSON shape")
	}
	if pack.Summary.TotalCards != 0 {
		t.Errorf("total = %d, want 0", pack.Summary.TotalCards)
	}
}
