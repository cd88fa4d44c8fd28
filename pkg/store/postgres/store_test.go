package postgres_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/voxmetra/voxmetra/pkg/store"
	"github.com/voxmetra/voxmetra/pkg/store/postgres"
	"github.com/voxmetra/voxmetra/pkg/types"
)

const testEmbeddingDim = 4

// testDSN returns the test database DSN from the environment, or skips the
// test if VOXMETRA_TEST_POSTGRES_DSN is not set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("VOXMETRA_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("VOXMETRA_TEST_POSTGRES_DSN not set — skipping PostgreSQL integration tests")
	}
	return dsn
}

// newTestStore creates a fresh [postgres.Store] with a clean schema.
func newTestStore(t *testing.T) *postgres.Store {
	t.Helper()
	dsn := testDSN(t)
	ctx := context.Background()

	// Use a bare pool to drop the tables left by an earlier run.
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	t.Cleanup(pool.Close)
	for _, stmt := range []string{
		"DROP TABLE IF EXISTS transcript_index CASCADE",
		"DROP TABLE IF EXISTS sessions CASCADE",
		"DROP TABLE IF EXISTS user_progress CASCADE",
	} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			t.Fatalf("drop schema: %v", err)
		}
	}

	st, err := postgres.New(ctx, dsn, testEmbeddingDim)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestProgress_RoundTripAndRevision(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	p, err := st.LoadProgress(ctx, "u1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if p.Revision != 0 {
		t.Fatalf("fresh revision = %d, want 0", p.Revision)
	}

	p.SessionCount = 3
	p.WeeklyProgress["2026-35"] = types.WeeklyAggregate{WordsPerMinute: 145, TotalSessions: 3}
	if err := st.SaveProgress(ctx, p, 0); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := st.LoadProgress(ctx, "u1")
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got.Revision != 1 {
		t.Errorf("revision = %d, want 1", got.Revision)
	}
	if got.Week("2026-35").WordsPerMinute != 145 {
		t.Errorf("weekly wpm = %.0f, want 145", got.Week("2026-35").WordsPerMinute)
	}
}

func TestSaveProgress_Conflict(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	p, _ := st.LoadProgress(ctx, "u1")
	if err := st.SaveProgress(ctx, p, 0); err != nil {
		t.Fatalf("first save: %v", err)
	}
	if err := st.SaveProgress(ctx, p, 0); !errors.Is(err, store.ErrRevisionMismatch) {
		t.Errorf("duplicate first write: expected ErrRevisionMismatch, got %v", err)
	}

	p2, _ := st.LoadProgress(ctx, "u1")
	if err := st.SaveProgress(ctx, p2, p2.Revision); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if err := st.SaveProgress(ctx, p2, p2.Revision); !errors.Is(err, store.ErrRevisionMismatch) {
		t.Errorf("stale update: expected ErrRevisionMismatch, got %v", err)
	}
}

func TestSessions_SaveGetRecent(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	for i, id := range []string{"old", "new"} {
		rec := &types.SessionRecord{
			SessionID: id,
			UserID:    "u1",
			CreatedAt: base.Add(time.Duration(i) * time.Hour),
			Metrics:   types.SpeechMetrics{Transcript: "hello", WordCount: 1},
		}
		if err := st.SaveSession(ctx, rec); err != nil {
			t.Fatalf("save %s: %v", id, err)
		}
	}

	got, err := st.GetSession(ctx, "old")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Metrics.Transcript != "hello" {
		t.Errorf("transcript = %q", got.Metrics.Transcript)
	}

	if _, err := st.GetSession(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	recent, err := st.RecentSessions(ctx, "u1", 1)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(recent) != 1 || recent[0].SessionID != "new" {
		t.Errorf("recent = %+v, want [new]", recent)
	}
}

func TestTranscriptIndex_SimilarOrdering(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	idx := st.Index()
	if idx == nil {
		t.Fatal("Index() returned nil with embedding dimensions set")
	}

	entries := []store.TranscriptEntry{
		{SessionID: "s1", UserID: "u1", Transcript: "talked about pacing", Embedding: []float32{1, 0, 0, 0}, CreatedAt: time.Now()},
		{SessionID: "s2", UserID: "u1", Transcript: "talked about fillers", Embedding: []float32{0, 1, 0, 0}, CreatedAt: time.Now()},
		{SessionID: "s3", UserID: "u2", Transcript: "another user", Embedding: []float32{1, 0, 0, 0}, CreatedAt: time.Now()},
	}
	for _, e := range entries {
		if err := idx.IndexTranscript(ctx, e); err != nil {
			t.Fatalf("index %s: %v", e.SessionID, err)
		}
	}

	hits, err := idx.Similar(ctx, []float32{1, 0, 0, 0}, 10, "u1")
	if err != nil {
		t.Fatalf("similar: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("len(hits) = %d, want 2 (user filter)", len(hits))
	}
	if hits[0].SessionID != "s1" {
		t.Errorf("closest hit = %s, want s1", hits[0].SessionID)
	}
	if hits[0].Distance > hits[1].Distance {
		t.Error("hits not ordered by ascending distance")
	}
}
