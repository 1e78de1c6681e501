package safeparse

import (
	"strings"
	"testing"
)

func TestParse_CleanJSON(t *testing.T) {
	res := Parse(`{"flashcards": [{"title": "Missing SLA"}]}`)
	if res.Failed() {
		t.Fatalf("Parse failed: %s", res.ErrorMessage)
	}
	cards, ok := res.Data["flashcards"].([]any)
	if !ok || len(cards) != 1 {
		t.Errorf("flashcards = %v, want one card", res.Data["flashcards"])
	}
}

func TestParse_FencedBlock(t *testing.T) {
	raw := "Here is my analysis:\n```json\n{\"verdict\": \"risky\"}\n```\nLet me know."
	res := Parse(raw)
	if res.Failed() {
		t.Fatalf("Parse failed: %s", res.ErrorMessage)
	}
	if res.Data["verdict"] != "risky" {
		t.Errorf("verdict = %v, want risky", res.Data["verdict"])
	}
}

func TestParse_FenceWithoutLanguageTag(t *testing.T) {
	raw := "```\n{\"ok\": true}\n```"
	res := Parse(raw)
	if res.Failed() {
		t.Fatalf("Parse failed: %s", res.ErrorMessage)
	}
	if res.Data["ok"] != true {
		t.Errorf("ok = %v, want true", res.Data["ok"])
	}
}

func TestParse_EmbeddedObjectWithPreamble(t *testing.T) {
	raw := `Sure! The result is {"cards": []} as requested.`
	res := Parse(raw)
	if res.Failed() {
		t.Fatalf("Parse failed: %s", res.ErrorMessage)
	}
	if _, ok := res.Data["cards"]; !ok {
		t.Error("cards key missing")
	}
}

func TestParse_TrailingCommaRepaired(t *testing.T) {
	raw := `{"items": [1, 2, 3,], "done": true,}`
	res := Parse(raw)
	if res.Failed() {
		t.Fatalf("Parse failed: %s", res.ErrorMessage)
	}
	if res.Data["done"] != true {
		t.Errorf("done = %v, want true", res.Data["done"])
	}
}

func TestParse_ControlCharactersStripped(t *testing.T) {
	raw := "{\"title\": \"clause\x01 7.2\",}"
	res := Parse(raw)
	if res.Failed() {
		t.Fatalf("Parse failed: %s", res.ErrorMessage)
	}
	if res.Data["title"] != "clause 7.2" {
		t.Errorf("title = %q, want %q", res.Data["title"], "clause 7.2")
	}
}

func TestParse_SingleQuotesRepaired(t *testing.T) {
	raw := `{'severity': 'High',}`
	res := Parse(raw)
	if res.Failed() {
		t.Fatalf("Parse failed: %s", res.ErrorMessage)
	}
	if res.Data["severity"] != "High" {
		t.Errorf("severity = %v, want High", res.Data["severity"])
	}
}

func TestParse_MixedQuotesNotRepaired(t *testing.T) {
	// A single quote inside a double-quoted string must survive; the
	// quote swap only fires when no double quote is present at all.
	raw := `{"note": "don't sign this"}`
	res := Parse(raw)
	if res.Failed() {
		t.Fatalf("Parse failed: %s", res.ErrorMessage)
	}
	if res.Data["note"] != "don't sign this" {
		t.Errorf("note = %q", res.Data["note"])
	}
}

func TestParse_ArrayWrappedAsItems(t *testing.T) {
	res := Parse(`[{"a": 1}, {"b": 2}]`)
	if res.Failed() {
		t.Fatalf("Parse failed: %s", res.ErrorMessage)
	}
	items, ok := res.Data["items"].([]any)
	if !ok {
		t.Fatalf("items = %T, want []any", res.Data["items"])
	}
	if len(items) != 2 {
		t.Errorf("len(items) = %d, want 2", len(items))
	}
}

func TestParse_GarbageFails(t *testing.T) {
	res := Parse("I could not produce a verdict, sorry.")
	if !res.Failed() {
		t.Fatal("Parse succeeded on prose with no JSON")
	}
	if res.ErrorMessage == "" {
		t.Error("failure Result has no error message")
	}
	if res.Raw == "" {
		t.Error("failure Result has no raw diagnostic")
	}
}

func TestParse_EmptyInput(t *testing.T) {
	for _, raw := range []string{"", "   ", "\n\t"} {
		res := Parse(raw)
		if !res.Failed() {
			t.Errorf("Parse(%q) succeeded, want failure", raw)
		}
	}
}

func TestParse_RawDiagnosticTruncated(t *testing.T) {
	raw := "not json " + strings.Repeat("x", 5000)
	res := Parse(raw)
	if !res.Failed() {
		t.Fatal("Parse succeeded on garbage")
	}
	if len(res.Raw) != maxRawDiagnostic {
		t.Errorf("raw diagnostic length = %d, want %d", len(res.Raw), maxRawDiagnostic)
	}
}

func TestParse_MissingExpectedKeysWarns(t *testing.T) {
	res := Parse(`{"other": 1}`, "flashcards")
	if res.Failed() {
		t.Fatalf("Parse failed: %s", res.ErrorMessage)
	}
	if !strings.Contains(res.Warning, "flashcards") {
		t.Errorf("warning = %q, want it to name the missing key", res.Warning)
	}
}

func TestParse_PresentExpectedKeysNoWarning(t *testing.T) {
	res := Parse(`{"flashcards": []}`, "flashcards")
	if res.Failed() {
		t.Fatalf("Parse failed: %s", res.ErrorMessage)
	}
	if res.Warning != "" {
		t.Errorf("warning = %q, want empty", res.Warning)
	}
}

func TestExtractJSON_ScalarRejected(t *testing.T) {
	// Bare scalars parse as JSON but are almost always preamble text.
	if _, ok := ExtractJSON("42"); ok {
		t.Error("ExtractJSON accepted a bare number")
	}
	if _, ok := ExtractJSON(`"hello"`); ok {
		t.Error("ExtractJSON accepted a bare string")
	}
}

func TestExtractJSON_PrefersDirectParse(t *testing.T) {
	v, ok := ExtractJSON(`{"k": "v"}`)
	if !ok {
		t.Fatal("ExtractJSON failed on clean input")
	}
	m, ok := v.(map[string]any)
	if !ok || m["k"] != "v" {
		t.Errorf("got %v", v)
	}
}

func TestParse_NeverPanics(t *testing.T) {
	inputs := []string{
		"{{{{",
		"}{",
		"```json\n```",
		"[",
		strings.Repeat("{", 10000),
		"{\"a\": \x00}",
		"null",
	}
	for _, in := range inputs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					t.Errorf("Parse(%.20q) panicked: %v", in, r)
				}
			}()
			Parse(in)
		}()
	}
}
