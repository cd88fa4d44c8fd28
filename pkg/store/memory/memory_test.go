package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/voxmetra/voxmetra/pkg/store"
	"github.com/voxmetra/voxmetra/pkg/store/memory"
	"github.com/voxmetra/voxmetra/pkg/types"
)

func TestLoadProgress_UnknownUserReturnsFreshDocument(t *testing.T) {
	t.Parallel()
	s := memory.New()

	p, err := s.LoadProgress(context.Background(), "u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.UserID != "u1" {
		t.Errorf("UserID = %q, want %q", p.UserID, "u1")
	}
	if p.Revision != 0 {
		t.Errorf("Revision = %d, want 0", p.Revision)
	}
	if p.WeeklyProgress == nil {
		t.Error("WeeklyProgress map should be initialised")
	}
}

func TestSaveProgress_RoundTripIncrementsRevision(t *testing.T) {
	t.Parallel()
	s := memory.New()
	ctx := context.Background()

	p, _ := s.LoadProgress(ctx, "u1")
	p.SessionCount = 1
	p.WeeklyProgress["2026-35"] = types.WeeklyAggregate{TotalSessions: 1, ClarityScore: 80}

	if err := s.SaveProgress(ctx, p, p.Revision); err != nil {
		t.Fatalf("first save: %v", err)
	}

	got, err := s.LoadProgress(ctx, "u1")
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got.Revision != 1 {
		t.Errorf("Revision = %d, want 1", got.Revision)
	}
	if got.SessionCount != 1 {
		t.Errorf("SessionCount = %d, want 1", got.SessionCount)
	}
	if got.Week("2026-35").ClarityScore != 80 {
		t.Errorf("weekly clarity = %.0f, want 80", got.Week("2026-35").ClarityScore)
	}
}

func TestSaveProgress_StaleRevisionRejected(t *testing.T) {
	t.Parallel()
	s := memory.New()
	ctx := context.Background()

	p, _ := s.LoadProgress(ctx, "u1")
	if err := s.SaveProgress(ctx, p, 0); err != nil {
		t.Fatalf("first save: %v", err)
	}

	// A second writer with the same base revision must be rejected.
	err := s.SaveProgress(ctx, p, 0)
	if !errors.Is(err, store.ErrRevisionMismatch) {
		t.Fatalf("expected ErrRevisionMismatch, got %v", err)
	}

	// Reloading and retrying with the fresh revision succeeds.
	p2, _ := s.LoadProgress(ctx, "u1")
	if err := s.SaveProgress(ctx, p2, p2.Revision); err != nil {
		t.Fatalf("retry after reload: %v", err)
	}
}

func TestSaveProgress_ReturnedDocumentIsIsolated(t *testing.T) {
	t.Parallel()
	s := memory.New()
	ctx := context.Background()

	p, _ := s.LoadProgress(ctx, "u1")
	p.Achievements = []types.Achievement{{ID: "sessions_5"}}
	if err := s.SaveProgress(ctx, p, 0); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, _ := s.LoadProgress(ctx, "u1")
	got.Achievements[0].ID = "mutated"
	got.WeeklyProgress["2026-01"] = types.WeeklyAggregate{TotalSessions: 99}

	again, _ := s.LoadProgress(ctx, "u1")
	if again.Achievements[0].ID != "sessions_5" {
		t.Error("caller mutation leaked into stored achievements")
	}
	if _, ok := again.WeeklyProgress["2026-01"]; ok {
		t.Error("caller mutation leaked into stored weekly map")
	}
}

func TestSessions_SaveGetAndNotFound(t *testing.T) {
	t.Parallel()
	s := memory.New()
	ctx := context.Background()

	wpm := 150.0
	rec := &types.SessionRecord{
		SessionID: "sess-1",
		UserID:    "u1",
		CreatedAt: time.Now(),
		Metrics: types.SpeechMetrics{
			Transcript:     "hello world",
			WordCount:      2,
			WordsPerMinute: &wpm,
		},
	}
	if err := s.SaveSession(ctx, rec); err != nil {
		t.Fatalf("save session: %v", err)
	}

	got, err := s.GetSession(ctx, "sess-1")
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if got.Metrics.Transcript != "hello world" {
		t.Errorf("transcript = %q", got.Metrics.Transcript)
	}
	if got.Metrics.WordsPerMinute == nil || *got.Metrics.WordsPerMinute != 150 {
		t.Error("words per minute not preserved")
	}

	if _, err := s.GetSession(ctx, "nope"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestRecentSessions_NewestFirstAndLimited(t *testing.T) {
	t.Parallel()
	s := memory.New()
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		err := s.SaveSession(ctx, &types.SessionRecord{SessionID: id, UserID: "u1"})
		if err != nil {
			t.Fatalf("save %s: %v", id, err)
		}
	}
	// Another user's session must not appear.
	_ = s.SaveSession(ctx, &types.SessionRecord{SessionID: "x", UserID: "u2"})

	got, err := s.RecentSessions(ctx, "u1", 2)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].SessionID != "c" || got[1].SessionID != "b" {
		t.Errorf("order = [%s %s], want [c b]", got[0].SessionID, got[1].SessionID)
	}
}

func TestSaveSession_SameIDReplaces(t *testing.T) {
	t.Parallel()
	s := memory.New()
	ctx := context.Background()

	_ = s.SaveSession(ctx, &types.SessionRecord{SessionID: "a", UserID: "u1", Language: "en"})
	_ = s.SaveSession(ctx, &types.SessionRecord{SessionID: "a", UserID: "u1", Language: "de"})

	got, err := s.GetSession(ctx, "a")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Language != "de" {
		t.Errorf("Language = %q, want %q", got.Language, "de")
	}

	recent, _ := s.RecentSessions(ctx, "u1", 10)
	if len(recent) != 1 {
		t.Errorf("replaced session should not duplicate in recency list, got %d", len(recent))
	}
}
