package gemini

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func generateHandler(t *testing.T, status int, body string) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if !strings.HasSuffix(r.URL.Path, ":generateContent") {
			t.Errorf("path = %s, want :generateContent suffix", r.URL.Path)
		}
		w.WriteHeader(status)
		w.Write([]byte(body))
	}
}

func candidateBody(texts ...string) string {
	parts := make([]map[string]string, len(texts))
	for i, s := range texts {
		parts[i] = map[string]string{"text": s}
	}
	b, _ := json.Marshal(map[string]any{
		"candidates": []any{map[string]any{"content": map[string]any{"parts": parts}}},
	})
	return string(b)
}

func TestGenerateContent_Success(t *testing.T) {
	var gotKey string
	var gotPrompt string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("x-goog-api-key")
		var req generateRequest
		json.NewDecoder(r.Body).Decode(&req)
		if len(req.Contents) == 1 && len(req.Contents[0].Parts) == 1 {
			gotPrompt = req.Contents[0].Parts[0].Text
		}
		w.Write([]byte(candidateBody("part one, ", "part two")))
	}))
	defer srv.Close()

	c := New(srv.URL, "gemini-2.5-flash")
	out, err := c.GenerateContent(context.Background(), "key-123", "analyze this")
	if err != nil {
		t.Fatalf("GenerateContent: %v", err)
	}
	if out != "part one, part two" {
		t.Errorf("output = %q, want concatenated parts", out)
	}
	if gotKey != "key-123" {
		t.Errorf("api key header = %q, want key-123", gotKey)
	}
	if gotPrompt != "analyze this" {
		t.Errorf("prompt = %q", gotPrompt)
	}
}

func TestGenerateContent_ErrorCarriesBody(t *testing.T) {
	srv := httptest.NewServer(generateHandler(t, http.StatusTooManyRequests,
		`{"error": {"message": "Resource has been exhausted: quota"}}`))
	defer srv.Close()

	c := New(srv.URL, "gemini-2.5-flash")
	_, err := c.GenerateContent(context.Background(), "k", "p")
	if err == nil {
		t.Fatal("expected error on 429")
	}
	// Rate-limit detection downstream keys off the body text.
	if !strings.Contains(err.Error(), "quota") {
		t.Errorf("error %q does not carry the response body", err)
	}
	if !strings.Contains(err.Error(), "429") {
		t.Errorf("error %q does not carry the status code", err)
	}
}

func TestGenerateContent_EmptyCandidates(t *testing.T) {
	srv := httptest.NewServer(generateHandler(t, http.StatusOK, `{"candidates": []}`))
	defer srv.Close()

	c := New(srv.URL, "gemini-2.5-flash")
	_, err := c.GenerateContent(context.Background(), "k", "p")
	if err == nil || !strings.Contains(err.Error(), "empty response") {
		t.Errorf("err = %v, want empty response error", err)
	}
}

func TestGenerateContent_BlankTextIsError(t *testing.T) {
	srv := httptest.NewServer(generateHandler(t, http.StatusOK, candidateBody("   ")))
	defer srv.Close()

	c := New(srv.URL, "gemini-2.5-flash")
	_, err := c.GenerateContent(context.Background(), "k", "p")
	if err == nil {
		t.Fatal("expected error for whitespace-only response")
	}
}

func TestKeys_ForRound(t *testing.T) {
	k := Keys{Primary: "primary", Rounds: [3]string{"r1", "", "r3"}}

	cases := []struct {
		round int
		want  string
	}{
		{0, "r1"},
		{1, "primary"}, // unset round key falls back
		{2, "r3"},
		{3, "primary"}, // out of range falls back
		{-1, "primary"},
	}
	for _, tc := range cases {
		if got := k.ForRound(tc.round); got != tc.want {
			t.Errorf("ForRound(%d) = %q, want %q", tc.round, got, tc.want)
		}
	}
}

func TestGenerator_RoutesRoundKeys(t *testing.T) {
	usedKeys := make(chan string, 10)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		usedKeys <- r.Header.Get("x-goog-api-key")
		w.Write([]byte(candidateBody("ok")))
	}))
	defer srv.Close()

	g := &Generator{
		Client: New(srv.URL, "gemini-2.5-flash"),
		Keys:   Keys{Primary: "primary", Rounds: [3]string{"r1", "r2", "r3"}},
	}

	if _, err := g.GenerateForRound(context.Background(), 1, "p"); err != nil {
		t.Fatalf("GenerateForRound: %v", err)
	}
	if key := <-usedKeys; key != "r2" {
		t.Errorf("round 1 used key %q, want r2", key)
	}

	if _, err := g.Generate(context.Background(), "p"); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if key := <-usedKeys; key != "primary" {
		t.Errorf("Generate used key %q, want primary", key)
	}
}
