// Package memory provides an in-process [store.ProgressStore] implementation.
//
// All documents live in maps guarded by a single RWMutex, and every read and
// write deep-copies the document so callers can never mutate stored state
// through a shared pointer. Intended for tests and demo deployments; nothing
// survives a restart.
package memory

import (
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/voxmetra/voxmetra/pkg/store"
	"github.com/voxmetra/voxmetra/pkg/types"
)

// Compile-time interface check.
var _ store.ProgressStore = (*Store)(nil)

// Store is an in-memory ProgressStore. Safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	progress map[string]*types.UserProgress  // keyed by user id
	sessions map[string]*types.SessionRecord // keyed by session id
	byUser   map[string][]string             // user id → session ids, oldest first
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		progress: make(map[string]*types.UserProgress),
		sessions: make(map[string]*types.SessionRecord),
		byUser:   make(map[string][]string),
	}
}

// LoadProgress implements [store.ProgressStore]. Users without a document get
// a fresh zero-valued one with Revision 0.
func (s *Store) LoadProgress(_ context.Context, userID string) (*types.UserProgress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.progress[userID]
	if !ok {
		return &types.UserProgress{
			UserID:         userID,
			WeeklyProgress: make(map[string]types.WeeklyAggregate),
		}, nil
	}
	return cloneProgress(p), nil
}

// SaveProgress implements [store.ProgressStore] with an optimistic
// concurrency check on the document revision.
func (s *Store) SaveProgress(_ context.Context, progress *types.UserProgress, expectedRevision int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var current int64
	if p, ok := s.progress[progress.UserID]; ok {
		current = p.Revision
	}
	if current != expectedRevision {
		return store.ErrRevisionMismatch
	}

	saved := cloneProgress(progress)
	saved.Revision = expectedRevision + 1
	s.progress[progress.UserID] = saved
	return nil
}

// SaveSession implements [store.ProgressStore].
func (s *Store) SaveSession(_ context.Context, rec *types.SessionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, existed := s.sessions[rec.SessionID]
	s.sessions[rec.SessionID] = cloneSession(rec)
	if !existed {
		s.byUser[rec.UserID] = append(s.byUser[rec.UserID], rec.SessionID)
	}
	return nil
}

// GetSession implements [store.ProgressStore].
func (s *Store) GetSession(_ context.Context, sessionID string) (*types.SessionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.sessions[sessionID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneSession(rec), nil
}

// RecentSessions implements [store.ProgressStore]. Results come back newest
// first.
func (s *Store) RecentSessions(_ context.Context, userID string, limit int) ([]types.SessionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.byUser[userID]
	out := make([]types.SessionRecord, 0, min(limit, len(ids)))
	for i := len(ids) - 1; i >= 0 && len(out) < limit; i-- {
		if rec, ok := s.sessions[ids[i]]; ok {
			out = append(out, *cloneSession(rec))
		}
	}
	return out, nil
}

// Close implements [store.ProgressStore]. It is a no-op.
func (s *Store) Close() error { return nil }

// cloneProgress deep-copies a progress document.
func cloneProgress(p *types.UserProgress) *types.UserProgress {
	c := *p
	c.WeeklyProgress = maps.Clone(p.WeeklyProgress)
	if c.WeeklyProgress == nil {
		c.WeeklyProgress = make(map[string]types.WeeklyAggregate)
	}
	c.Achievements = slices.Clone(p.Achievements)
	c.RecordedSessions = slices.Clone(p.RecordedSessions)
	return &c
}

// cloneSession deep-copies a session record, including the metric slices.
func cloneSession(rec *types.SessionRecord) *types.SessionRecord {
	c := *rec
	c.Metrics.FillerWords.Occurrences = slices.Clone(rec.Metrics.FillerWords.Occurrences)
	c.Metrics.Pauses = slices.Clone(rec.Metrics.Pauses)
	c.Metrics.RapidWords = slices.Clone(rec.Metrics.RapidWords)
	if rec.Metrics.WordsPerMinute != nil {
		wpm := *rec.Metrics.WordsPerMinute
		c.Metrics.WordsPerMinute = &wpm
	}
	c.Feedback = slices.Clone(rec.Feedback)
	return &c
}
