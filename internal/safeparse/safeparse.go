// Package safeparse turns sloppy generator output into a usable record.
//
// The generator wraps JSON in markdown fences, adds preamble text, leaves
// trailing commas, or emits control characters from OCR'd source documents.
// A bare json.Unmarshal would fail and lose the whole reviewer verdict, so
// extraction tries several strategies and always returns a Result instead
// of an error.
package safeparse

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
)

// maxRawDiagnostic bounds how much unparsable text a failure Result carries.
const maxRawDiagnostic = 2000

var (
	fenceRe        = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(.*?)\\n?\\s*```")
	trailingComma  = regexp.MustCompile(`,\s*([}\]])`)
	controlCharsRe = regexp.MustCompile(`[\x00-\x08\x0b\x0c\x0e-\x1f]`)
)

// Result is the uniform return shape of Parse. Exactly one of Data or
// ErrorMessage is meaningful: Data is nil if and only if parsing failed.
type Result struct {
	Data         map[string]any
	ErrorMessage string // non-empty on failure
	Raw          string // truncated raw text, set on failure for diagnostics
	Warning      string // non-fatal: expected keys missing from a good parse
}

// Failed reports whether extraction failed outright. A Result with a
// Warning set is not a failure.
func (r Result) Failed() bool {
	return r.Data == nil
}

// ExtractJSON pulls a JSON value out of raw text. Strategies, in order:
// direct parse, fenced code blocks, outermost bracket pair, repaired
// outermost bracket pair. Returns false when every strategy fails.
func ExtractJSON(raw string) (any, bool) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return nil, false
	}

	if v, ok := tryUnmarshal(text); ok {
		return v, true
	}

	for _, m := range fenceRe.FindAllStringSubmatch(text, -1) {
		if v, ok := tryUnmarshal(strings.TrimSpace(m[1])); ok {
			return v, true
		}
	}

	for _, pair := range [][2]string{{"{", "}"}, {"[", "]"}} {
		start := strings.Index(text, pair[0])
		end := strings.LastIndex(text, pair[1])
		if start == -1 || end <= start {
			continue
		}
		candidate := text[start : end+1]
		if v, ok := tryUnmarshal(candidate); ok {
			return v, true
		}
		if v, ok := tryUnmarshal(repair(candidate)); ok {
			return v, true
		}
	}

	return nil, false
}

func tryUnmarshal(text string) (any, bool) {
	var v any
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		return nil, false
	}
	// Only object and array shapes are useful; a bare string or number
	// parsing "successfully" is almost always preamble text.
	switch v.(type) {
	case map[string]any, []any:
		return v, true
	}
	return nil, false
}

// repair fixes the common generator JSON defects: trailing commas before a
// closing bracket, control characters, and single quotes — the latter only
// when no double quote is present, since mixed quoting cannot be repaired
// mechanically.
func repair(text string) string {
	text = trailingComma.ReplaceAllString(text, "$1")
	text = controlCharsRe.ReplaceAllString(text, "")
	if !strings.Contains(text, `"`) && strings.Contains(text, "'") {
		text = strings.ReplaceAll(text, "'", `"`)
	}
	return text
}

// Parse extracts a keyed record from raw generator output. It never
// panics and never returns an error: failures come back as a Result with
// ErrorMessage set and a truncated copy of the raw text. A bare top-level
// array is wrapped under an "items" key so callers see one shape. When
// expectedKeys are given, missing keys produce a non-fatal Warning — an
// incomplete parse is not a failed parse.
func Parse(raw string, expectedKeys ...string) Result {
	if strings.TrimSpace(raw) == "" {
		return Result{
			ErrorMessage: "empty generator response",
		}
	}

	v, ok := ExtractJSON(raw)
	if !ok {
		slog.Warn("failed to extract JSON from generator response", "chars", len(raw))
		return Result{
			ErrorMessage: "failed to extract valid JSON from generator response",
			Raw:          truncate(raw, maxRawDiagnostic),
		}
	}

	var data map[string]any
	switch t := v.(type) {
	case []any:
		data = map[string]any{"items": t}
	case map[string]any:
		data = t
	}

	var warning string
	if len(expectedKeys) > 0 {
		var missing []string
		for _, k := range expectedKeys {
			if _, ok := data[k]; !ok {
				missing = append(missing, k)
			}
		}
		if len(missing) > 0 {
			warning = fmt.Sprintf("missing expected keys: %s", strings.Join(missing, ", "))
			slog.Warn("parsed JSON missing keys", "missing", missing)
		}
	}

	return Result{Data: data, Warning: warning}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
