package progress_test

import (
	"testing"
	"time"

	"github.com/voxmetra/voxmetra/internal/progress"
	"github.com/voxmetra/voxmetra/pkg/types"
)

func TestCache_HitAndMiss(t *testing.T) {
	t.Parallel()

	c := progress.NewCache(time.Minute)

	if _, _, ok := c.Get("u1"); ok {
		t.Fatal("hit on empty cache")
	}

	c.Put(&types.UserProgress{UserID: "u1", SessionCount: 3})
	got, expired, ok := c.Get("u1")
	if !ok || expired {
		t.Fatalf("Get = (expired=%v, ok=%v), want fresh hit", expired, ok)
	}
	if got.SessionCount != 3 {
		t.Errorf("SessionCount = %d, want 3", got.SessionCount)
	}
}

func TestCache_CopiesAreIsolated(t *testing.T) {
	t.Parallel()

	c := progress.NewCache(time.Minute)
	doc := &types.UserProgress{UserID: "u1", RecordedSessions: []string{"s1"}}
	c.Put(doc)

	// Mutating either the original or a returned copy must not leak into
	// the cached document.
	doc.RecordedSessions[0] = "mutated"
	got, _, _ := c.Get("u1")
	if got.RecordedSessions[0] != "s1" {
		t.Error("cache shares state with the stored document")
	}

	got.SessionCount = 99
	again, _, _ := c.Get("u1")
	if again.SessionCount != 0 {
		t.Error("cache shares state with a returned copy")
	}
}

func TestCache_Expiry(t *testing.T) {
	t.Parallel()

	c := progress.NewCache(10 * time.Millisecond)
	c.Put(&types.UserProgress{UserID: "u1"})

	time.Sleep(30 * time.Millisecond)

	got, expired, ok := c.Get("u1")
	if !ok || !expired {
		t.Fatalf("Get = (expired=%v, ok=%v), want stale hit", expired, ok)
	}
	if got == nil {
		t.Error("stale hit returned no document")
	}
}

func TestCache_Invalidate(t *testing.T) {
	t.Parallel()

	c := progress.NewCache(time.Minute)
	c.Put(&types.UserProgress{UserID: "u1"})
	c.Invalidate("u1")

	if _, _, ok := c.Get("u1"); ok {
		t.Error("hit after Invalidate")
	}
}
