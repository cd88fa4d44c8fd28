// Package postgres provides the PostgreSQL-backed [store.ProgressStore] and
// the pgvector semantic transcript index.
//
// Both share a single [pgxpool.Pool]. The pgvector extension is only required
// when the transcript index is enabled (embeddingDimensions > 0); [Migrate]
// installs it via CREATE EXTENSION IF NOT EXISTS.
//
// Usage:
//
//	st, err := postgres.New(ctx, dsn, 1536)
//	if err != nil { … }
//	defer st.Close()
//
//	p, _ := st.LoadProgress(ctx, userID)
//	_ = st.SaveProgress(ctx, p, p.Revision)
//	_ = st.Index().IndexTranscript(ctx, entry)
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/voxmetra/voxmetra/pkg/store"
	"github.com/voxmetra/voxmetra/pkg/types"
)

// Compile-time interface checks.
var (
	_ store.ProgressStore   = (*Store)(nil)
	_ store.TranscriptIndex = (*TranscriptIndexImpl)(nil)
)

// Store is the PostgreSQL-backed progress store. All operations are safe for
// concurrent use.
type Store struct {
	pool  *pgxpool.Pool
	index *TranscriptIndexImpl
}

// New creates a Store, establishes a connection pool to the database at dsn,
// and runs [Migrate] to ensure all required tables exist.
//
// embeddingDimensions sizes the transcript index vector column and must match
// the configured embedding model (e.g., 1536 for OpenAI text-embedding-3-small).
// Pass 0 to disable the index entirely; [Store.Index] then returns nil and the
// pgvector extension is not required.
func New(ctx context.Context, dsn string, embeddingDimensions int) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	if embeddingDimensions > 0 {
		// Register pgvector types on every new connection so that vector
		// columns can be scanned into and inserted from pgvector.Vector values.
		cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
			return pgxvec.RegisterTypes(ctx, conn)
		}
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	if err := Migrate(ctx, pool, embeddingDimensions); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}

	s := &Store{pool: pool}
	if embeddingDimensions > 0 {
		s.index = &TranscriptIndexImpl{pool: pool}
	}
	return s, nil
}

// Index returns the semantic transcript index, or nil when the store was
// created with embeddingDimensions == 0.
func (s *Store) Index() *TranscriptIndexImpl { return s.index }

// Ping checks database connectivity; used by the readiness probe.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// LoadProgress implements [store.ProgressStore].
func (s *Store) LoadProgress(ctx context.Context, userID string) (*types.UserProgress, error) {
	var doc []byte
	err := s.pool.QueryRow(ctx,
		`SELECT doc FROM user_progress WHERE user_id = $1`, userID,
	).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return &types.UserProgress{
			UserID:         userID,
			WeeklyProgress: make(map[string]types.WeeklyAggregate),
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres store: load progress: %w", err)
	}

	var p types.UserProgress
	if err := json.Unmarshal(doc, &p); err != nil {
		return nil, fmt.Errorf("postgres store: decode progress: %w", err)
	}
	if p.WeeklyProgress == nil {
		p.WeeklyProgress = make(map[string]types.WeeklyAggregate)
	}
	return &p, nil
}

// SaveProgress implements [store.ProgressStore] with a conditional write on
// the revision column.
func (s *Store) SaveProgress(ctx context.Context, progress *types.UserProgress, expectedRevision int64) error {
	saved := *progress
	saved.Revision = expectedRevision + 1
	doc, err := json.Marshal(&saved)
	if err != nil {
		return fmt.Errorf("postgres store: encode progress: %w", err)
	}

	var tag int64
	if expectedRevision == 0 {
		// First write: stored revisions are always >= 1, so an existing row
		// means a concurrent first write committed before us.
		ct, err := s.pool.Exec(ctx,
			`INSERT INTO user_progress (user_id, doc, revision) VALUES ($1, $2, $3)
			 ON CONFLICT (user_id) DO NOTHING`,
			saved.UserID, doc, saved.Revision,
		)
		if err != nil {
			return fmt.Errorf("postgres store: save progress: %w", err)
		}
		tag = ct.RowsAffected()
	} else {
		ct, err := s.pool.Exec(ctx,
			`UPDATE user_progress SET doc = $1, revision = $2
			 WHERE user_id = $3 AND revision = $4`,
			doc, saved.Revision, saved.UserID, expectedRevision,
		)
		if err != nil {
			return fmt.Errorf("postgres store: save progress: %w", err)
		}
		tag = ct.RowsAffected()
	}

	if tag == 0 {
		return store.ErrRevisionMismatch
	}
	return nil
}

// SaveSession implements [store.ProgressStore].
func (s *Store) SaveSession(ctx context.Context, rec *types.SessionRecord) error {
	doc, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("postgres store: encode session: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO sessions (session_id, user_id, created_at, doc)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (session_id) DO UPDATE SET
		     user_id    = EXCLUDED.user_id,
		     created_at = EXCLUDED.created_at,
		     doc        = EXCLUDED.doc`,
		rec.SessionID, rec.UserID, rec.CreatedAt, doc,
	)
	if err != nil {
		return fmt.Errorf("postgres store: save session: %w", err)
	}
	return nil
}

// GetSession implements [store.ProgressStore].
func (s *Store) GetSession(ctx context.Context, sessionID string) (*types.SessionRecord, error) {
	var doc []byte
	err := s.pool.QueryRow(ctx,
		`SELECT doc FROM sessions WHERE session_id = $1`, sessionID,
	).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres store: get session: %w", err)
	}

	var rec types.SessionRecord
	if err := json.Unmarshal(doc, &rec); err != nil {
		return nil, fmt.Errorf("postgres store: decode session: %w", err)
	}
	return &rec, nil
}

// RecentSessions implements [store.ProgressStore].
func (s *Store) RecentSessions(ctx context.Context, userID string, limit int) ([]types.SessionRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT doc FROM sessions WHERE user_id = $1
		 ORDER BY created_at DESC LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres store: recent sessions: %w", err)
	}

	recs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (types.SessionRecord, error) {
		var doc []byte
		if err := row.Scan(&doc); err != nil {
			return types.SessionRecord{}, err
		}
		var rec types.SessionRecord
		if err := json.Unmarshal(doc, &rec); err != nil {
			return types.SessionRecord{}, err
		}
		return rec, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan sessions: %w", err)
	}
	if recs == nil {
		recs = []types.SessionRecord{}
	}
	return recs, nil
}

// Close implements [store.ProgressStore]. It releases all pooled connections.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
