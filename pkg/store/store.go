// Package store defines the persistence interfaces for voxmetra progress and
// session documents.
//
// The primary abstraction is [ProgressStore]: per-user longitudinal progress
// documents with optimistic-concurrency writes, plus completed session
// records. Backends live in subpackages:
//
//   - postgres — pgx connection pool; also owns the semantic transcript
//     index ([TranscriptIndex]) backed by pgvector.
//   - sqlite — embedded database for single-host deployments.
//   - memory — in-process store for tests and demos.
//
// Every implementation must be safe for concurrent use.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/voxmetra/voxmetra/pkg/types"
)

// ErrNotFound is returned when a requested document does not exist.
var ErrNotFound = errors.New("store: not found")

// ErrRevisionMismatch is returned by SaveProgress when the stored document's
// revision no longer matches the caller's expected revision, meaning a
// concurrent aggregation committed first. The caller should reload and retry.
var ErrRevisionMismatch = errors.New("store: revision mismatch")

// ProgressStore persists user progress documents and completed session records.
type ProgressStore interface {
	// LoadProgress returns the progress document for userID. When the user
	// has no document yet, it returns a fresh zero-valued document with
	// Revision 0 — never ErrNotFound — so aggregation always has a base to
	// fold into.
	LoadProgress(ctx context.Context, userID string) (*types.UserProgress, error)

	// SaveProgress writes the progress document conditionally: the write
	// succeeds only when the stored revision still equals expectedRevision
	// (0 for a first write). On success the stored document's Revision
	// becomes expectedRevision+1. Returns [ErrRevisionMismatch] when a
	// concurrent writer got there first.
	SaveProgress(ctx context.Context, progress *types.UserProgress, expectedRevision int64) error

	// SaveSession persists one completed session record. Saving the same
	// session id twice replaces the earlier record.
	SaveSession(ctx context.Context, rec *types.SessionRecord) error

	// GetSession returns the session record with the given id, or
	// [ErrNotFound].
	GetSession(ctx context.Context, sessionID string) (*types.SessionRecord, error)

	// RecentSessions returns up to limit of the user's most recent session
	// records, newest first.
	RecentSessions(ctx context.Context, userID string, limit int) ([]types.SessionRecord, error)

	// Close releases any resources held by the store.
	Close() error
}

// TranscriptEntry is one session transcript prepared for semantic indexing,
// carrying its pre-computed embedding.
type TranscriptEntry struct {
	SessionID  string
	UserID     string
	Transcript string
	Embedding  []float32
	CreatedAt  time.Time
}

// SimilarSession is one semantic-search hit over indexed transcripts.
type SimilarSession struct {
	SessionID  string
	UserID     string
	Transcript string

	// Distance is the cosine distance to the query embedding; smaller is
	// more similar.
	Distance  float64
	CreatedAt time.Time
}

// TranscriptIndex is the optional semantic index over session transcripts.
// Only the postgres backend implements it; deployments without it simply skip
// the similar-sessions feature.
type TranscriptIndex interface {
	// IndexTranscript upserts one transcript entry. An entry with the same
	// session id replaces the earlier one.
	IndexTranscript(ctx context.Context, entry TranscriptEntry) error

	// Similar returns the topK indexed transcripts closest to the query
	// embedding, most similar first. A non-empty userID restricts the search
	// to that user's sessions.
	Similar(ctx context.Context, embedding []float32, topK int, userID string) ([]SimilarSession, error)
}
