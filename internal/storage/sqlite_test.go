package storage

import (
	"errors"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestMigrationsApplied(t *testing.T) {
	s := openTestStore(t)

	versions, err := s.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	if len(versions) == 0 {
		t.Fatal("no migrations applied")
	}
	if versions[0] != 1 {
		t.Errorf("first migration = %d, want 1", versions[0])
	}
}

func TestSaveAndGetAudit(t *testing.T) {
	s := openTestStore(t)

	created := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	a := Audit{
		ID:         "audit-1",
		SessionID:  "alice",
		Domain:     "Fintech",
		Status:     "completed",
		PackJSON:   `{"flashcards":[]}`,
		TotalCards: 4,
		DurationMs: 95000,
		CreatedAt:  created,
	}
	if err := s.SaveAudit(a); err != nil {
		t.Fatalf("SaveAudit: %v", err)
	}

	got, err := s.GetAudit("audit-1")
	if err != nil {
		t.Fatalf("GetAudit: %v", err)
	}
	if got.SessionID != "alice" || got.Domain != "Fintech" {
		t.Errorf("got %+v", got)
	}
	if got.TotalCards != 4 {
		t.Errorf("total cards = %d, want 4", got.TotalCards)
	}
	if !got.CreatedAt.Equal(created) {
		t.Errorf("created at = %s, want %s", got.CreatedAt, created)
	}
}

func TestSaveAudit_DefaultsStatus(t *testing.T) {
	s := openTestStore(t)

	if err := s.SaveAudit(Audit{ID: "a1", SessionID: "s", CreatedAt: time.Now()}); err != nil {
		t.Fatalf("SaveAudit: %v", err)
	}
	got, err := s.GetAudit("a1")
	if err != nil {
		t.Fatalf("GetAudit: %v", err)
	}
	if got.Status != "completed" {
		t.Errorf("status = %q, want completed", got.Status)
	}
}

func TestGetAudit_NotFound(t *testing.T) {
	s := openTestStore(t)

	_, err := s.GetAudit("missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestListAudits_NewestFirstAndLimited(t *testing.T) {
	s := openTestStore(t)

	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		a := Audit{
			ID:        string(rune('a' + i)),
			SessionID: "s",
			CreatedAt: base.Add(time.Duration(i) * time.Hour),
		}
		if err := s.SaveAudit(a); err != nil {
			t.Fatalf("SaveAudit %d: %v", i, err)
		}
	}

	got, err := s.ListAudits(3)
	if err != nil {
		t.Fatalf("ListAudits: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d audits, want 3", len(got))
	}
	if got[0].ID != "e" || got[2].ID != "c" {
		t.Errorf("order = %s, %s, %s, want e, d, c", got[0].ID, got[1].ID, got[2].ID)
	}
}

func TestStatistics(t *testing.T) {
	s := openTestStore(t)

	st, err := s.Statistics()
	if err != nil {
		t.Fatalf("Statistics on empty store: %v", err)
	}
	if st.TotalAudits != 0 || st.TotalCards != 0 {
		t.Errorf("empty stats = %+v, want zeros", st)
	}

	s.SaveAudit(Audit{ID: "a1", SessionID: "s", TotalCards: 3, CreatedAt: time.Now()})
	s.SaveAudit(Audit{ID: "a2", SessionID: "s", TotalCards: 5, CreatedAt: time.Now()})

	st, err = s.Statistics()
	if err != nil {
		t.Fatalf("Statistics: %v", err)
	}
	if st.TotalAudits != 2 {
		t.Errorf("total audits = %d, want 2", st.TotalAudits)
	}
	if st.TotalCards != 8 {
		t.Errorf("total cards = %d, want 8", st.TotalCards)
	}
}
